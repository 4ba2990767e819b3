package media

import (
	"github.com/huddlehq/metering/internal/media/service"
	"go.uber.org/fx"
)

var Module = fx.Module("media.service",
	fx.Provide(service.NewService),
)
