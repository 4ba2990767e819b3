package service

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/huddlehq/metering/internal/clock"
	"github.com/huddlehq/metering/internal/config"
	obsmetrics "github.com/huddlehq/metering/internal/observability/metrics"
	profiledomain "github.com/huddlehq/metering/internal/profile/domain"
	quotadomain "github.com/huddlehq/metering/internal/quota/domain"
	"github.com/huddlehq/metering/internal/tier"
	usagedomain "github.com/huddlehq/metering/internal/usage/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Thresholds are checked highest first so a single invocation records the
// most severe crossing and nothing below it.
var alertThresholds = []float64{1.0, 0.9, 0.8}

type ServiceParam struct {
	fx.In

	DB         *gorm.DB
	Log        *zap.Logger
	GenID      *snowflake.Node
	Clock      clock.Clock
	Config     config.Config
	ProfileSvc profiledomain.Service
	Metrics    *obsmetrics.Metrics `optional:"true"`
}

type Service struct {
	db          *gorm.DB
	log         *zap.Logger
	genID       *snowflake.Node
	clock       clock.Clock
	readTimeout time.Duration
	profileSvc  profiledomain.Service
	metrics     *obsmetrics.Metrics
}

func NewService(p ServiceParam) quotadomain.Service {
	return &Service{
		db:          p.DB,
		log:         p.Log.Named("quota.service"),
		genID:       p.GenID,
		clock:       p.Clock,
		readTimeout: p.Config.ReadTimeout,
		profileSvc:  p.ProfileSvc,
		metrics:     p.Metrics,
	}
}

func (s *Service) Validate(ctx context.Context, req quotadomain.ValidateRequest) (quotadomain.ValidateResult, error) {
	userID := strings.TrimSpace(req.UserID)
	if userID == "" {
		return quotadomain.ValidateResult{}, quotadomain.ErrInvalidUser
	}
	dimension, ok := ParseDimension(req.Dimension)
	if !ok {
		return quotadomain.ValidateResult{}, quotadomain.ErrInvalidDimension
	}
	if req.Amount < 0 {
		return quotadomain.ValidateResult{}, quotadomain.ErrInvalidAmount
	}

	userTier, _ := s.profileSvc.TierFor(ctx, userID)
	limit := tier.LimitsFor(userTier).Limit(dimension)
	if limit == tier.Unlimited {
		return quotadomain.ValidateResult{Allowed: true}, nil
	}

	current := 0.0
	usage, err := s.fetchUsage(ctx, userID)
	if err != nil {
		// Degrade to the zero baseline. Validation is advisory; the caller
		// proceeds as if no usage were recorded yet.
		s.log.Warn("usage read failed during validation",
			zap.String("user_id", userID),
			zap.Error(err),
		)
	} else if usage != nil {
		current = usage.Value(dimension)
	}

	if current+req.Amount > limit {
		if s.metrics != nil {
			s.metrics.RecordQuotaDenial(ctx, string(dimension), string(userTier))
		}
		return quotadomain.ValidateResult{
			Allowed: false,
			Reason: fmt.Sprintf("%s quota exceeded: current usage %s of %s, requested %s",
				dimension,
				formatAmount(current),
				formatAmount(limit),
				formatAmount(req.Amount),
			),
		}, nil
	}

	return quotadomain.ValidateResult{Allowed: true}, nil
}

func (s *Service) CheckAlerts(ctx context.Context, userID string, usage usagedomain.UserUsage) error {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return quotadomain.ErrInvalidUser
	}

	userTier, _ := s.profileSvc.TierFor(ctx, userID)
	limits := tier.LimitsFor(userTier)
	for _, d := range tier.Dimensions {
		if limits.Limit(d) == tier.Unlimited {
			return nil
		}
	}

	for _, threshold := range alertThresholds {
		for _, d := range tier.Dimensions {
			limit := limits.Limit(d)
			if usage.Value(d) < limit*threshold {
				continue
			}
			return s.recordAlert(ctx, userID, userTier, d, threshold, usage)
		}
	}
	return nil
}

func (s *Service) recordAlert(
	ctx context.Context,
	userID string,
	userTier tier.Tier,
	dimension tier.Dimension,
	threshold float64,
	usage usagedomain.UserUsage,
) error {
	percent := int(threshold * 100)
	alert := quotadomain.UsageAlert{
		ID:         s.genID.Generate(),
		UserID:     userID,
		Tier:       string(userTier),
		Dimension:  string(dimension),
		Threshold:  percent,
		Snapshot:   datatypes.JSONMap(usage.Snapshot()),
		CycleStart: usage.CurrentCycleStart,
		CreatedAt:  s.clock.Now(),
	}

	// The unique index on (user_id, dimension, threshold, cycle_start) keeps
	// repeated invocations at the same level from stacking duplicate rows.
	result := s.db.WithContext(ctx).Exec(`
		INSERT INTO usage_alerts (
			id, user_id, tier, dimension, threshold, snapshot, cycle_start, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (user_id, dimension, threshold, cycle_start) DO NOTHING`,
		alert.ID,
		alert.UserID,
		alert.Tier,
		alert.Dimension,
		alert.Threshold,
		alert.Snapshot,
		alert.CycleStart,
		alert.CreatedAt,
	)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return nil
	}

	if s.metrics != nil {
		s.metrics.RecordUsageAlert(ctx, string(dimension), strconv.Itoa(percent))
	}
	s.log.Info("usage alert recorded",
		zap.String("user_id", userID),
		zap.String("dimension", string(dimension)),
		zap.Int("threshold_percent", percent),
	)
	return nil
}

func (s *Service) fetchUsage(ctx context.Context, userID string) (*usagedomain.UserUsage, error) {
	if s.readTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.readTimeout)
		defer cancel()
	}

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

// ParseDimension maps the wire-level usage type onto a metered dimension.
// Singular aliases match what clients send on the action endpoint.
func ParseDimension(value string) (tier.Dimension, bool) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "video", "video_minutes":
		return tier.VideoMinutes, true
	case "audio", "audio_minutes":
		return tier.AudioMinutes, true
	case "message", "messages":
		return tier.Messages, true
	case "data", "storage", "storage_gb":
		return tier.StorageGB, true
	default:
		return "", false
	}
}

func formatAmount(value float64) string {
	return strconv.FormatFloat(value, 'f', -1, 64)
}
