package cache

import (
	"strings"
	"time"

	"github.com/huddlehq/metering/internal/tier"
)

const defaultTierTTL = 45 * time.Second

// TierCache stores hot-path tier lookups for quota checks.
type TierCache interface {
	GetTier(userID string) (tier.Tier, bool)
	SetTier(userID string, t tier.Tier)
	Invalidate(userID string)
}

type tierCache struct {
	tiers Cache[string, tier.Tier]
	ttl   time.Duration
}

// NewTierCache returns an in-memory cache tuned for profile tier reads.
func NewTierCache() TierCache {
	return &tierCache{
		tiers: NewTTLCache[string, tier.Tier](),
		ttl:   defaultTierTTL,
	}
}

func (c *tierCache) GetTier(userID string) (tier.Tier, bool) {
	return c.tiers.Get(cacheKey(userID))
}

func (c *tierCache) SetTier(userID string, t tier.Tier) {
	if t == "" {
		return
	}
	c.tiers.Set(cacheKey(userID), t, c.ttl)
}

func (c *tierCache) Invalidate(userID string) {
	c.tiers.Delete(cacheKey(userID))
}

func cacheKey(parts ...string) string {
	values := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed == "" {
			continue
		}
		values = append(values, strings.ToLower(trimmed))
	}
	return strings.Join(values, "|")
}
