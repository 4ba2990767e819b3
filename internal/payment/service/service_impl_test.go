package service

import (
	"context"
	"errors"
	"net/http"
	"testing"

	creditsdomain "github.com/huddlehq/metering/internal/credits/domain"
	paymentdomain "github.com/huddlehq/metering/internal/payment/domain"
	"go.uber.org/zap"
)

type adapterStub struct {
	verifyErr error
	parseErr  error
	event     *paymentdomain.CheckoutEvent
}

func (a *adapterStub) Provider() string { return "stripe" }

func (a *adapterStub) Verify(ctx context.Context, payload []byte, headers http.Header) error {
	return a.verifyErr
}

func (a *adapterStub) Parse(ctx context.Context, payload []byte) (*paymentdomain.CheckoutEvent, error) {
	if a.parseErr != nil {
		return nil, a.parseErr
	}
	return a.event, nil
}

type creditsStub struct {
	calls  int
	last   creditsdomain.AddCreditsRequest
	result creditsdomain.AddCreditsResult
	err    error
}

func (c *creditsStub) AddCredits(ctx context.Context, req creditsdomain.AddCreditsRequest) (creditsdomain.AddCreditsResult, error) {
	c.calls++
	c.last = req
	return c.result, c.err
}

func (c *creditsStub) Balance(ctx context.Context, userID string) (int64, error) {
	return 0, nil
}

func (c *creditsStub) ListTransactions(ctx context.Context, userID string, limit int) ([]creditsdomain.CreditTransaction, error) {
	return nil, nil
}

func paidEvent() *paymentdomain.CheckoutEvent {
	return &paymentdomain.CheckoutEvent{
		Provider:      "stripe",
		EventID:       "evt_1",
		EventType:     "checkout.session.completed",
		SessionID:     "cs_1",
		Mode:          "payment",
		PaymentStatus: "paid",
		AmountTotal:   1999,
		Currency:      "USD",
		UserID:        "user-1",
		Credits:       500,
	}
}

func newTestService(adapter paymentdomain.Adapter, credits creditsdomain.Service) paymentdomain.Service {
	return NewService(ServiceParam{
		Log:        zap.NewNop(),
		Adapter:    adapter,
		CreditsSvc: credits,
	})
}

func TestHandleWebhookCredits(t *testing.T) {
	credits := &creditsStub{result: creditsdomain.AddCreditsResult{Balance: 500}}
	service := newTestService(&adapterStub{event: paidEvent()}, credits)

	result, err := service.HandleWebhook(context.Background(), []byte("{}"), http.Header{})
	if err != nil {
		t.Fatalf("handle webhook: %v", err)
	}
	if result.Status != paymentdomain.StatusCredited {
		t.Fatalf("expected credited, got %s", result.Status)
	}
	if credits.calls != 1 {
		t.Fatalf("expected 1 credit grant, got %d", credits.calls)
	}
	if credits.last.UserID != "user-1" || credits.last.Amount != 500 || credits.last.SessionID != "cs_1" {
		t.Fatalf("unexpected grant request: %+v", credits.last)
	}
	if credits.last.Metadata["source"] != "stripe" {
		t.Fatalf("expected stripe source metadata, got %v", credits.last.Metadata["source"])
	}
}

func TestHandleWebhookDuplicate(t *testing.T) {
	credits := &creditsStub{result: creditsdomain.AddCreditsResult{Duplicate: true, Balance: 500}}
	service := newTestService(&adapterStub{event: paidEvent()}, credits)

	result, err := service.HandleWebhook(context.Background(), []byte("{}"), http.Header{})
	if err != nil {
		t.Fatalf("handle webhook: %v", err)
	}
	if result.Status != paymentdomain.StatusDuplicate {
		t.Fatalf("expected duplicate, got %s", result.Status)
	}
}

func TestHandleWebhookInvalidSignature(t *testing.T) {
	credits := &creditsStub{}
	service := newTestService(&adapterStub{verifyErr: paymentdomain.ErrInvalidSignature}, credits)

	_, err := service.HandleWebhook(context.Background(), []byte("{}"), http.Header{})
	if !errors.Is(err, paymentdomain.ErrInvalidSignature) {
		t.Fatalf("expected signature error, got %v", err)
	}
	if credits.calls != 0 {
		t.Fatalf("unverified delivery must not grant credits")
	}
}

func TestHandleWebhookIgnoresUnpaid(t *testing.T) {
	event := paidEvent()
	event.PaymentStatus = "unpaid"
	credits := &creditsStub{}
	service := newTestService(&adapterStub{event: event}, credits)

	result, err := service.HandleWebhook(context.Background(), []byte("{}"), http.Header{})
	if err != nil {
		t.Fatalf("handle webhook: %v", err)
	}
	if result.Status != paymentdomain.StatusIgnored {
		t.Fatalf("expected ignored, got %s", result.Status)
	}
	if credits.calls != 0 {
		t.Fatalf("unpaid session must not grant credits")
	}
}

func TestHandleWebhookIgnoresOtherEvents(t *testing.T) {
	credits := &creditsStub{}
	service := newTestService(&adapterStub{parseErr: paymentdomain.ErrEventIgnored}, credits)

	result, err := service.HandleWebhook(context.Background(), []byte("{}"), http.Header{})
	if err != nil {
		t.Fatalf("handle webhook: %v", err)
	}
	if result.Status != paymentdomain.StatusIgnored {
		t.Fatalf("expected ignored, got %s", result.Status)
	}
}

func TestHandleWebhookAcknowledgesBadMetadata(t *testing.T) {
	event := paidEvent()
	event.UserID = ""
	credits := &creditsStub{err: creditsdomain.ErrInvalidUser}
	service := newTestService(&adapterStub{event: event}, credits)

	result, err := service.HandleWebhook(context.Background(), []byte("{}"), http.Header{})
	if err != nil {
		t.Fatalf("handle webhook: %v", err)
	}
	if result.Status != paymentdomain.StatusIgnored {
		t.Fatalf("expected ignored for bad metadata, got %s", result.Status)
	}
}

func TestHandleWebhookPropagatesStoreFailure(t *testing.T) {
	storeErr := errors.New("database is down")
	credits := &creditsStub{err: storeErr}
	service := newTestService(&adapterStub{event: paidEvent()}, credits)

	_, err := service.HandleWebhook(context.Background(), []byte("{}"), http.Header{})
	if !errors.Is(err, storeErr) {
		t.Fatalf("expected store failure to propagate, got %v", err)
	}
}
