package credits

import (
	"github.com/huddlehq/metering/internal/credits/service"
	"go.uber.org/fx"
)

var Module = fx.Module("credits.service",
	fx.Provide(service.NewService),
)
