// Package domain contains the canonical payment webhook event model.
package domain

import (
	"context"
	"errors"
	"net/http"
	"time"
)

// CheckoutEvent is a provider-neutral view of a completed checkout. The
// session id doubles as the crediting idempotency key.
type CheckoutEvent struct {
	Provider      string
	EventID       string
	EventType     string
	SessionID     string
	Mode          string
	PaymentStatus string
	AmountTotal   int64
	Currency      string
	UserID        string
	Credits       int64
	OccurredAt    time.Time
	RawPayload    []byte
}

// Paid reports whether the checkout completed with a settled payment.
func (e CheckoutEvent) Paid() bool { return e.PaymentStatus == "paid" }

// Adapter verifies and parses provider webhook deliveries.
type Adapter interface {
	Provider() string
	Verify(ctx context.Context, payload []byte, headers http.Header) error
	Parse(ctx context.Context, payload []byte) (*CheckoutEvent, error)
}

// WebhookResult tells the HTTP layer how the delivery was settled. Every
// variant maps to a 2xx response; only verification and storage failures
// surface as errors.
type WebhookResult struct {
	Status string `json:"status"` // credited, duplicate, ignored
}

const (
	StatusCredited  = "credited"
	StatusDuplicate = "duplicate"
	StatusIgnored   = "ignored"
)

type Service interface {
	HandleWebhook(ctx context.Context, payload []byte, headers http.Header) (WebhookResult, error)
}

var (
	ErrInvalidSignature = errors.New("invalid_signature")
	ErrInvalidPayload   = errors.New("invalid_payload")
	ErrInvalidEvent     = errors.New("invalid_event")
	ErrEventIgnored     = errors.New("event_ignored")
)
