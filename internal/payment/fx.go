package payment

import (
	"github.com/huddlehq/metering/internal/config"
	"github.com/huddlehq/metering/internal/payment/adapters/stripe"
	paymentdomain "github.com/huddlehq/metering/internal/payment/domain"
	"github.com/huddlehq/metering/internal/payment/service"
	"go.uber.org/fx"
)

var Module = fx.Module("payment.service",
	fx.Provide(
		newStripeAdapter,
		service.NewService,
	),
)

func newStripeAdapter(cfg config.Config) (paymentdomain.Adapter, error) {
	return stripe.NewAdapter(cfg.StripeWebhookSecret)
}
