package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/huddlehq/metering/internal/clock"
	"github.com/huddlehq/metering/internal/config"
	obsmetrics "github.com/huddlehq/metering/internal/observability/metrics"
	profiledomain "github.com/huddlehq/metering/internal/profile/domain"
	"github.com/huddlehq/metering/internal/tier"
	usagedomain "github.com/huddlehq/metering/internal/usage/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// CycleLength is the rolling billing window opened on first use and on reset.
const CycleLength = 30 * 24 * time.Hour

type ServiceParam struct {
	fx.In

	DB           *gorm.DB
	Log          *zap.Logger
	GenID        *snowflake.Node
	Clock        clock.Clock
	Config       config.Config
	ProfileSvc   profiledomain.Service
	AlertChecker usagedomain.AlertChecker `optional:"true"`
	Metrics      *obsmetrics.Metrics      `optional:"true"`
}

type Service struct {
	db          *gorm.DB
	log         *zap.Logger
	genID       *snowflake.Node
	clock       clock.Clock
	readTimeout time.Duration

	profileSvc   profiledomain.Service
	alertChecker usagedomain.AlertChecker
	metrics      *obsmetrics.Metrics
}

func NewService(p ServiceParam) usagedomain.Service {
	return &Service{
		db:           p.DB,
		log:          p.Log.Named("usage.service"),
		genID:        p.GenID,
		clock:        p.Clock,
		readTimeout:  p.Config.ReadTimeout,
		profileSvc:   p.ProfileSvc,
		alertChecker: p.AlertChecker,
		metrics:      p.Metrics,
	}
}

func (s *Service) Record(ctx context.Context, req usagedomain.RecordRequest) (*usagedomain.UserUsage, error) {
	userID := strings.TrimSpace(req.UserID)
	if userID == "" {
		return nil, usagedomain.ErrInvalidUser
	}
	if err := validateDelta(req.Delta); err != nil {
		s.log.Warn("rejecting usage event",
			zap.String("user_id", userID),
			zap.Error(err),
		)
		return nil, err
	}

	now := s.clock.Now()

	// Single upsert so concurrent events for the same user never lose
	// increments. The cycle window in the VALUES clause only lands when the
	// row is created.
	result := s.db.WithContext(ctx).Exec(`
		INSERT INTO user_usage (
			id, user_id, video_minutes, audio_minutes, messages_sent, storage_gb,
			current_cycle_start, current_cycle_end, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (user_id) DO UPDATE SET
			video_minutes = user_usage.video_minutes + excluded.video_minutes,
			audio_minutes = user_usage.audio_minutes + excluded.audio_minutes,
			messages_sent = user_usage.messages_sent + excluded.messages_sent,
			storage_gb = user_usage.storage_gb + excluded.storage_gb,
			updated_at = excluded.updated_at`,
		s.genID.Generate(),
		userID,
		req.Delta.VideoMinutes,
		req.Delta.AudioMinutes,
		req.Delta.MessagesSent,
		req.Delta.StorageGB,
		now,
		now.Add(CycleLength),
		now,
		now,
	)
	if result.Error != nil {
		return nil, result.Error
	}

	usage, err := s.fetch(ctx, userID)
	if err != nil {
		return nil, err
	}
	if usage == nil {
		return nil, usagedomain.ErrUsageNotFound
	}

	s.recordEventMetrics(ctx, req.Delta)

	if s.alertChecker != nil {
		if alertErr := s.alertChecker.CheckAlerts(ctx, userID, *usage); alertErr != nil {
			// Alerting is best effort; the accumulate already committed.
			s.log.Warn("usage alert check failed",
				zap.String("user_id", userID),
				zap.Error(alertErr),
			)
		}
	}

	return usage, nil
}

func (s *Service) Get(ctx context.Context, userID string) (*usagedomain.UserUsage, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return nil, usagedomain.ErrInvalidUser
	}

	ctx, cancel := s.boundRead(ctx)
	defer cancel()

	return s.fetch(ctx, userID)
}

func (s *Service) Summary(ctx context.Context, userID string) (*usagedomain.Summary, error) {
	usage, err := s.Get(ctx, userID)
	if err != nil {
		if errors.Is(err, usagedomain.ErrInvalidUser) {
			return nil, err
		}
		// Degraded read: report "no usage yet" instead of failing the caller.
		s.log.Warn("usage summary read failed",
			zap.String("user_id", userID),
			zap.Error(err),
		)
		return nil, nil
	}
	if usage == nil {
		return nil, nil
	}

	profile := s.profileSvc.Get(ctx, userID)
	if profile == nil {
		return nil, nil
	}

	userTier := tier.Normalize(profile.Tier)
	limits := tier.LimitsFor(userTier)

	unlimited := false
	dims := make(map[tier.Dimension]usagedomain.DimensionSummary, len(tier.Dimensions))
	for _, d := range tier.Dimensions {
		limit := limits.Limit(d)
		if limit == tier.Unlimited {
			unlimited = true
		}
		used := usage.Value(d)
		percent := 0.0
		if limit > 0 {
			percent = used / limit * 100
		}
		dims[d] = usagedomain.DimensionSummary{
			Used:    used,
			Limit:   limit,
			Percent: percent,
		}
	}

	return &usagedomain.Summary{
		UserID:      usage.UserID,
		Tier:        userTier,
		IsUnlimited: unlimited,
		Dimensions:  dims,
		CycleStart:  usage.CurrentCycleStart,
		CycleEnd:    usage.CurrentCycleEnd,
	}, nil
}

func (s *Service) ResetCycle(ctx context.Context, userID string) error {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return usagedomain.ErrInvalidUser
	}

	now := s.clock.Now()
	result := s.db.WithContext(ctx).Exec(`
		UPDATE user_usage SET
			video_minutes = 0,
			audio_minutes = 0,
			messages_sent = 0,
			storage_gb = 0,
			current_cycle_start = ?,
			current_cycle_end = ?,
			last_reset_at = ?,
			updated_at = ?
		WHERE user_id = ?`,
		now,
		now.Add(CycleLength),
		now,
		now,
		userID,
	)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return usagedomain.ErrUsageNotFound
	}

	if s.metrics != nil {
		s.metrics.RecordCycleReset(ctx, "manual")
	}
	s.log.Info("usage cycle reset", zap.String("user_id", userID))
	return nil
}

func (s *Service) ResetExpired(ctx context.Context, batchSize int) (int, error) {
	if batchSize <= 0 {
		batchSize = 100
	}

	now := s.clock.Now()
	var userIDs []string
	err := s.db.WithContext(ctx).
		Model(&usagedomain.UserUsage{}).
		Where("current_cycle_end <= ?", now).
		Order("current_cycle_end").
		Limit(batchSize).
		Pluck("user_id", &userIDs).Error
	if err != nil {
		return 0, err
	}

	reset := 0
	for _, userID := range userIDs {
		if err := s.ResetCycle(ctx, userID); err != nil {
			if errors.Is(err, usagedomain.ErrUsageNotFound) {
				continue
			}
			return reset, err
		}
		if s.metrics != nil {
			s.metrics.RecordCycleReset(ctx, "expired")
		}
		reset++
	}
	return reset, nil
}

func (s *Service) fetch(ctx context.Context, userID string) (*usagedomain.UserUsage, error) {
	var usage usagedomain.UserUsage
	err := s.db.WithContext(ctx).
		Where("user_id = ?", userID).
		First(&usage).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &usage, nil
}

func (s *Service) recordEventMetrics(ctx context.Context, delta usagedomain.Delta) {
	if s.metrics == nil {
		return
	}
	if delta.VideoMinutes > 0 {
		s.metrics.RecordUsageEvent(ctx, string(tier.VideoMinutes))
	}
	if delta.AudioMinutes > 0 {
		s.metrics.RecordUsageEvent(ctx, string(tier.AudioMinutes))
	}
	if delta.MessagesSent > 0 {
		s.metrics.RecordUsageEvent(ctx, string(tier.Messages))
	}
	if delta.StorageGB > 0 {
		s.metrics.RecordUsageEvent(ctx, string(tier.StorageGB))
	}
}

func (s *Service) boundRead(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.readTimeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, s.readTimeout)
}

func validateDelta(delta usagedomain.Delta) error {
	if delta.VideoMinutes < 0 || delta.AudioMinutes < 0 || delta.MessagesSent < 0 || delta.StorageGB < 0 {
		return usagedomain.ErrInvalidValue
	}
	return nil
}
