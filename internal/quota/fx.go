package quota

import (
	quotadomain "github.com/huddlehq/metering/internal/quota/domain"
	"github.com/huddlehq/metering/internal/quota/service"
	usagedomain "github.com/huddlehq/metering/internal/usage/domain"
	"go.uber.org/fx"
)

var Module = fx.Module("quota.service",
	fx.Provide(
		service.NewService,
		func(svc quotadomain.Service) usagedomain.AlertChecker { return svc },
	),
)
