package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/huddlehq/metering/internal/cache"
	"github.com/huddlehq/metering/internal/config"
	profiledomain "github.com/huddlehq/metering/internal/profile/domain"
	"github.com/huddlehq/metering/internal/tier"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type ServiceParam struct {
	fx.In

	DB        *gorm.DB
	Log       *zap.Logger
	Config    config.Config
	TierCache cache.TierCache `optional:"true"`
}

type Service struct {
	db          *gorm.DB
	log         *zap.Logger
	readTimeout time.Duration
	tierCache   cache.TierCache
}

func NewService(p ServiceParam) profiledomain.Service {
	return &Service{
		db:          p.DB,
		log:         p.Log.Named("profile.service"),
		readTimeout: p.Config.ReadTimeout,
		tierCache:   p.TierCache,
	}
}

func (s *Service) Get(ctx context.Context, userID string) *profiledomain.UserProfile {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return nil
	}

	ctx, cancel := s.boundRead(ctx)
	defer cancel()

	var profile profiledomain.UserProfile
	err := s.db.WithContext(ctx).
		Where("user_id = ?", userID).
		First(&profile).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil
		}
		// Degrade on store failure. The caller treats a nil profile as "no
		// usage yet" rather than failing the read path.
		s.log.Warn("profile lookup failed",
			zap.String("user_id", userID),
			zap.Error(err),
		)
		return nil
	}
	return &profile
}

func (s *Service) TierFor(ctx context.Context, userID string) (tier.Tier, bool) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return tier.Personal, false
	}

	if s.tierCache != nil {
		if cached, ok := s.tierCache.GetTier(userID); ok {
			return cached, true
		}
	}

	profile := s.Get(ctx, userID)
	if profile == nil {
		return tier.Personal, false
	}

	resolved := tier.Normalize(profile.Tier)
	if s.tierCache != nil {
		s.tierCache.SetTier(userID, resolved)
	}
	return resolved, true
}

func (s *Service) boundRead(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.readTimeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, s.readTimeout)
}
