package scheduler

import (
	"context"
	"time"

	"github.com/huddlehq/metering/internal/config"
	"github.com/huddlehq/metering/internal/ratelimit"
	usagedomain "github.com/huddlehq/metering/internal/usage/domain"
	"go.uber.org/zap"
)

const leaderLockKey = "metering:scheduler:cycle-reset"

// Scheduler periodically resets usage rows whose billing cycle has closed.
// When redis is configured, a SET NX lease keeps concurrent replicas from
// racing on the same batch.
type Scheduler struct {
	log      *zap.Logger
	usageSvc usagedomain.Service
	locker   *ratelimit.Locker

	interval  time.Duration
	batchSize int
	stop      chan struct{}
	done      chan struct{}
}

func New(cfg config.Config, log *zap.Logger, usageSvc usagedomain.Service, locker *ratelimit.Locker) *Scheduler {
	interval := cfg.Scheduler.RunInterval
	if interval <= 0 {
		interval = time.Minute
	}
	return &Scheduler{
		log:       log.Named("scheduler"),
		usageSvc:  usageSvc,
		locker:    locker,
		interval:  interval,
		batchSize: cfg.Scheduler.BatchSize,
		stop:      make(chan struct{}),
		done:      make(chan struct{}),
	}
}

func (s *Scheduler) Start() {
	go s.run()
}

func (s *Scheduler) Stop() {
	close(s.stop)
	<-s.done
}

func (s *Scheduler) run() {
	defer close(s.done)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stop:
			return
		case <-ticker.C:
			s.RunOnce(context.Background())
		}
	}
}

// RunOnce performs a single reset sweep. Exposed so tests and operators can
// trigger a sweep without the ticker.
func (s *Scheduler) RunOnce(ctx context.Context) {
	if s.locker != nil {
		token, acquired, err := s.locker.TryLock(ctx, leaderLockKey, s.interval)
		if err != nil {
			s.log.Warn("leader lock unavailable", zap.Error(err))
			return
		}
		if !acquired {
			return
		}
		defer func() {
			if err := s.locker.Release(ctx, leaderLockKey, token); err != nil {
				s.log.Warn("leader lock release failed", zap.Error(err))
			}
		}()
	}

	reset, err := s.usageSvc.ResetExpired(ctx, s.batchSize)
	if err != nil {
		s.log.Error("cycle reset sweep failed", zap.Error(err))
		return
	}
	if reset > 0 {
		s.log.Info("cycle reset sweep complete", zap.Int("reset", reset))
	}
}
