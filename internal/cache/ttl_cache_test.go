package cache

import (
	"testing"
	"time"

	"github.com/huddlehq/metering/internal/tier"
)

func TestTTLCacheExpiry(t *testing.T) {
	c := NewTTLCache[string, int]()

	c.Set("a", 1, 10*time.Millisecond)
	if got, ok := c.Get("a"); !ok || got != 1 {
		t.Fatalf("expected fresh entry, got %d ok=%v", got, ok)
	}

	time.Sleep(20 * time.Millisecond)
	if _, ok := c.Get("a"); ok {
		t.Fatalf("expected entry to expire")
	}
}

func TestTTLCacheZeroTTLIsNoop(t *testing.T) {
	c := NewTTLCache[string, int]()
	c.Set("a", 1, 0)
	if _, ok := c.Get("a"); ok {
		t.Fatalf("zero ttl must not store")
	}
}

func TestTierCacheNormalizesKeys(t *testing.T) {
	c := NewTierCache()
	c.SetTier("User-1", tier.Team)

	if got, ok := c.GetTier("  user-1 "); !ok || got != tier.Team {
		t.Fatalf("expected key-insensitive hit, got %s ok=%v", got, ok)
	}

	c.Invalidate("USER-1")
	if _, ok := c.GetTier("user-1"); ok {
		t.Fatalf("expected invalidated entry")
	}
}
