package service

import (
	"context"
	"errors"
	"net/http"

	creditsdomain "github.com/huddlehq/metering/internal/credits/domain"
	obsmetrics "github.com/huddlehq/metering/internal/observability/metrics"
	paymentdomain "github.com/huddlehq/metering/internal/payment/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

type ServiceParam struct {
	fx.In

	Log        *zap.Logger
	Adapter    paymentdomain.Adapter
	CreditsSvc creditsdomain.Service
	Metrics    *obsmetrics.Metrics `optional:"true"`
}

type Service struct {
	log        *zap.Logger
	adapter    paymentdomain.Adapter
	creditsSvc creditsdomain.Service
	metrics    *obsmetrics.Metrics
}

func NewService(p ServiceParam) paymentdomain.Service {
	return &Service{
		log:        p.Log.Named("payment.service"),
		adapter:    p.Adapter,
		creditsSvc: p.CreditsSvc,
		metrics:    p.Metrics,
	}
}

// HandleWebhook settles one provider delivery. Malformed or irrelevant
// events are acknowledged as ignored so the provider stops retrying; only
// signature and storage failures propagate.
func (s *Service) HandleWebhook(ctx context.Context, payload []byte, headers http.Header) (paymentdomain.WebhookResult, error) {
	if err := s.adapter.Verify(ctx, payload, headers); err != nil {
		return paymentdomain.WebhookResult{}, err
	}

	event, err := s.adapter.Parse(ctx, payload)
	if err != nil {
		if errors.Is(err, paymentdomain.ErrEventIgnored) {
			return paymentdomain.WebhookResult{Status: paymentdomain.StatusIgnored}, nil
		}
		s.log.Warn("discarding malformed payment event", zap.Error(err))
		return paymentdomain.WebhookResult{Status: paymentdomain.StatusIgnored}, nil
	}

	if s.metrics != nil {
		s.metrics.RecordPaymentEvent(ctx, event.Provider, event.EventType)
	}

	log := s.log.With(
		zap.String("provider", event.Provider),
		zap.String("event_id", event.EventID),
		zap.String("session_id", event.SessionID),
	)

	if !event.Paid() {
		log.Info("skipping unpaid checkout session",
			zap.String("payment_status", event.PaymentStatus),
		)
		return paymentdomain.WebhookResult{Status: paymentdomain.StatusIgnored}, nil
	}

	result, err := s.creditsSvc.AddCredits(ctx, creditsdomain.AddCreditsRequest{
		UserID:    event.UserID,
		Amount:    event.Credits,
		SessionID: event.SessionID,
		Metadata: map[string]any{
			"source":       event.Provider,
			"session_id":   event.SessionID,
			"mode":         event.Mode,
			"amount_total": event.AmountTotal,
			"currency":     event.Currency,
		},
	})
	if err != nil {
		switch {
		case errors.Is(err, creditsdomain.ErrInvalidUser),
			errors.Is(err, creditsdomain.ErrInvalidAmount),
			errors.Is(err, creditsdomain.ErrInvalidSession):
			// Malformed upstream metadata. Already logged by the ledger; a
			// retry would carry the same payload, so acknowledge it.
			return paymentdomain.WebhookResult{Status: paymentdomain.StatusIgnored}, nil
		default:
			return paymentdomain.WebhookResult{}, err
		}
	}

	if result.Duplicate {
		return paymentdomain.WebhookResult{Status: paymentdomain.StatusDuplicate}, nil
	}

	log.Info("checkout session credited",
		zap.String("user_id", event.UserID),
		zap.Int64("credits", event.Credits),
	)
	return paymentdomain.WebhookResult{Status: paymentdomain.StatusCredited}, nil
}
