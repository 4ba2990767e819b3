package tier

import "strings"

// Tier identifies a subscription plan.
type Tier string

const (
	Trial      Tier = "trial"
	Personal   Tier = "personal"
	Team       Tier = "team"
	Enterprise Tier = "enterprise"
)

// Dimension identifies a metered usage dimension.
type Dimension string

const (
	VideoMinutes Dimension = "video_minutes"
	AudioMinutes Dimension = "audio_minutes"
	Messages     Dimension = "messages"
	StorageGB    Dimension = "storage_gb"
)

// Dimensions lists every metered dimension in a stable order.
var Dimensions = []Dimension{VideoMinutes, AudioMinutes, Messages, StorageGB}

// Unlimited marks a dimension with no cap.
const Unlimited = -1

// Limits holds the per-cycle caps for one tier. A value of Unlimited means
// the dimension is never capped.
type Limits struct {
	VideoMinutes int64
	AudioMinutes int64
	Messages     int64
	StorageGB    float64
}

// Limit returns the cap for the given dimension as a float64 so storage and
// counter dimensions share one comparison path.
func (l Limits) Limit(d Dimension) float64 {
	switch d {
	case VideoMinutes:
		return float64(l.VideoMinutes)
	case AudioMinutes:
		return float64(l.AudioMinutes)
	case Messages:
		return float64(l.Messages)
	case StorageGB:
		return l.StorageGB
	default:
		return 0
	}
}

var catalog = map[Tier]Limits{
	Trial: {
		VideoMinutes: 5000,
		AudioMinutes: 10000,
		Messages:     100000,
		StorageGB:    10,
	},
	Personal: {
		VideoMinutes: 5000,
		AudioMinutes: 10000,
		Messages:     100000,
		StorageGB:    10,
	},
	Team: {
		VideoMinutes: 50000,
		AudioMinutes: 100000,
		Messages:     1000000,
		StorageGB:    100,
	},
	Enterprise: {
		VideoMinutes: Unlimited,
		AudioMinutes: Unlimited,
		Messages:     Unlimited,
		StorageGB:    Unlimited,
	},
}

// Normalize maps an arbitrary tier string onto a known tier. Unknown or empty
// values fall back to Personal so quota checks always have a defined cap.
func Normalize(value string) Tier {
	t := Tier(strings.ToLower(strings.TrimSpace(value)))
	if _, ok := catalog[t]; ok {
		return t
	}
	return Personal
}

// LimitsFor returns the caps for the given tier, falling back to Personal
// for unknown tiers.
func LimitsFor(t Tier) Limits {
	if limits, ok := catalog[t]; ok {
		return limits
	}
	return catalog[Personal]
}

// IsValid reports whether the string names a known tier.
func IsValid(value string) bool {
	_, ok := catalog[Tier(strings.ToLower(strings.TrimSpace(value)))]
	return ok
}
