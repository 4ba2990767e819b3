package profile

import (
	"github.com/huddlehq/metering/internal/cache"
	"github.com/huddlehq/metering/internal/profile/service"
	"go.uber.org/fx"
)

var Module = fx.Module("profile.service",
	fx.Provide(
		cache.NewTierCache,
		service.NewService,
	),
)
