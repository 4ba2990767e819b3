package scheduler

import (
	"context"

	"github.com/huddlehq/metering/internal/config"
	"go.uber.org/fx"
)

var Module = fx.Module("scheduler",
	fx.Provide(New),
	fx.Invoke(register),
)

func register(lc fx.Lifecycle, cfg config.Config, s *Scheduler) {
	if !cfg.Scheduler.Enabled {
		return
	}
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			_ = ctx
			s.Start()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			_ = ctx
			s.Stop()
			return nil
		},
	})
}
