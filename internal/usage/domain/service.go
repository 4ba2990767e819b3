package domain

import (
	"context"
	"errors"
	"time"

	"github.com/huddlehq/metering/internal/tier"
)

// Delta carries non-negative usage increments. Zero-valued fields are valid
// no-ops for that dimension.
type Delta struct {
	VideoMinutes int64   `json:"video_minutes"`
	AudioMinutes int64   `json:"audio_minutes"`
	MessagesSent int64   `json:"messages_sent"`
	StorageGB    float64 `json:"storage_gb"`
}

// IsZero reports whether the delta carries no increments at all.
func (d Delta) IsZero() bool {
	return d.VideoMinutes == 0 && d.AudioMinutes == 0 && d.MessagesSent == 0 && d.StorageGB == 0
}

type RecordRequest struct {
	UserID string `json:"user_id"`
	Delta  Delta  `json:"delta"`
}

// DimensionSummary is the read view for one metered dimension.
type DimensionSummary struct {
	Used    float64 `json:"used"`
	Limit   float64 `json:"limit"`
	Percent float64 `json:"percent"`
}

// Summary is the read-only usage projection for one user.
type Summary struct {
	UserID      string                             `json:"user_id"`
	Tier        tier.Tier                          `json:"tier"`
	IsUnlimited bool                               `json:"is_unlimited"`
	Dimensions  map[tier.Dimension]DimensionSummary `json:"dimensions"`
	CycleStart  time.Time                          `json:"cycle_start"`
	CycleEnd    time.Time                          `json:"cycle_end"`
}

type Service interface {
	// Record atomically accumulates the deltas, creating the row with a
	// fresh 30-day cycle window on first use. Returns the post-update row.
	Record(ctx context.Context, req RecordRequest) (*UserUsage, error)

	// Get returns the usage row, or nil when absent.
	Get(ctx context.Context, userID string) (*UserUsage, error)

	// Summary returns nil when the usage row or the profile is missing.
	Summary(ctx context.Context, userID string) (*Summary, error)

	// ResetCycle zeroes the counters and opens a new 30-day window.
	ResetCycle(ctx context.Context, userID string) error

	// ResetExpired resets rows whose cycle window has closed and returns how
	// many were reset.
	ResetExpired(ctx context.Context, batchSize int) (int, error)
}

// AlertChecker is invoked after an accumulate commits, with post-update
// values. Implemented by the quota service.
type AlertChecker interface {
	CheckAlerts(ctx context.Context, userID string, usage UserUsage) error
}

var (
	ErrInvalidUser   = errors.New("invalid_user")
	ErrInvalidValue  = errors.New("invalid_value")
	ErrUsageNotFound = errors.New("usage_not_found")
)
