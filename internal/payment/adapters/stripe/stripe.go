package stripe

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	paymentdomain "github.com/huddlehq/metering/internal/payment/domain"
)

// Adapter verifies Stripe webhook signatures and maps checkout completions
// onto the canonical checkout event.
type Adapter struct {
	webhookSecret string
}

func NewAdapter(webhookSecret string) (*Adapter, error) {
	webhookSecret = strings.TrimSpace(webhookSecret)
	if webhookSecret == "" {
		return nil, errors.New("stripe webhook secret is required")
	}
	return &Adapter{webhookSecret: webhookSecret}, nil
}

func (a *Adapter) Provider() string { return "stripe" }

// Verify checks the t/v1 HMAC-SHA256 scheme of the Stripe-Signature header
// against the raw payload.
func (a *Adapter) Verify(ctx context.Context, payload []byte, headers http.Header) error {
	_ = ctx
	sigHeader := strings.TrimSpace(headers.Get("Stripe-Signature"))
	if sigHeader == "" {
		return paymentdomain.ErrInvalidSignature
	}

	timestamp, signatures, err := parseSignatureHeader(sigHeader)
	if err != nil {
		return paymentdomain.ErrInvalidSignature
	}

	signedPayload := fmt.Sprintf("%s.%s", timestamp, string(payload))
	mac := hmac.New(sha256.New, []byte(a.webhookSecret))
	_, _ = mac.Write([]byte(signedPayload))
	expected := hex.EncodeToString(mac.Sum(nil))

	for _, signature := range signatures {
		if hmac.Equal([]byte(signature), []byte(expected)) {
			return nil
		}
	}

	return paymentdomain.ErrInvalidSignature
}

func (a *Adapter) Parse(ctx context.Context, payload []byte) (*paymentdomain.CheckoutEvent, error) {
	_ = ctx
	var event stripeEvent
	if err := json.Unmarshal(payload, &event); err != nil {
		return nil, paymentdomain.ErrInvalidPayload
	}
	if strings.TrimSpace(event.ID) == "" {
		return nil, paymentdomain.ErrInvalidEvent
	}

	switch strings.TrimSpace(event.Type) {
	case "checkout.session.completed":
		return a.parseCheckoutSession(event, payload)
	default:
		return nil, paymentdomain.ErrEventIgnored
	}
}

type stripeEvent struct {
	ID      string          `json:"id"`
	Type    string          `json:"type"`
	Created int64           `json:"created"`
	Data    stripeEventData `json:"data"`
}

type stripeEventData struct {
	Object json.RawMessage `json:"object"`
}

type stripeCheckoutSession struct {
	ID            string         `json:"id"`
	Mode          string         `json:"mode"`
	PaymentStatus string         `json:"payment_status"`
	AmountTotal   int64          `json:"amount_total"`
	Currency      string         `json:"currency"`
	Created       int64          `json:"created"`
	Metadata      map[string]any `json:"metadata"`
}

func (a *Adapter) parseCheckoutSession(event stripeEvent, payload []byte) (*paymentdomain.CheckoutEvent, error) {
	var session stripeCheckoutSession
	if err := json.Unmarshal(event.Data.Object, &session); err != nil {
		return nil, paymentdomain.ErrInvalidPayload
	}
	if strings.TrimSpace(session.ID) == "" {
		return nil, paymentdomain.ErrInvalidEvent
	}

	userID := readMetadataValue(session.Metadata, "user_id")
	credits := readMetadataInt(session.Metadata, "credits")

	return &paymentdomain.CheckoutEvent{
		Provider:      a.Provider(),
		EventID:       event.ID,
		EventType:     event.Type,
		SessionID:     session.ID,
		Mode:          strings.TrimSpace(session.Mode),
		PaymentStatus: strings.ToLower(strings.TrimSpace(session.PaymentStatus)),
		AmountTotal:   session.AmountTotal,
		Currency:      strings.ToUpper(strings.TrimSpace(session.Currency)),
		UserID:        userID,
		Credits:       credits,
		OccurredAt:    timestamp(session.Created, event.Created),
		RawPayload:    payload,
	}, nil
}

func parseSignatureHeader(header string) (string, []string, error) {
	parts := strings.Split(header, ",")
	var timestamp string
	signatures := []string{}
	for _, part := range parts {
		piece := strings.TrimSpace(part)
		if piece == "" {
			continue
		}
		keyValue := strings.SplitN(piece, "=", 2)
		if len(keyValue) != 2 {
			continue
		}
		key := strings.TrimSpace(keyValue[0])
		value := strings.TrimSpace(keyValue[1])
		if key == "t" {
			timestamp = value
		}
		if key == "v1" {
			signatures = append(signatures, value)
		}
	}
	if timestamp == "" || len(signatures) == 0 {
		return "", nil, errors.New("invalid_signature")
	}
	return timestamp, signatures, nil
}

func timestamp(primary int64, fallback int64) time.Time {
	value := primary
	if value == 0 {
		value = fallback
	}
	if value == 0 {
		return time.Now().UTC()
	}
	return time.Unix(value, 0).UTC()
}

func readMetadataValue(metadata map[string]any, key string) string {
	if metadata == nil {
		return ""
	}
	value, ok := metadata[key]
	if !ok {
		return ""
	}
	switch cast := value.(type) {
	case string:
		return strings.TrimSpace(cast)
	case float64:
		if cast == 0 {
			return ""
		}
		return strconv.FormatInt(int64(cast), 10)
	case json.Number:
		return cast.String()
	}
	return ""
}

func readMetadataInt(metadata map[string]any, key string) int64 {
	raw := readMetadataValue(metadata, key)
	if raw == "" {
		return 0
	}
	parsed, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0
	}
	return parsed
}
