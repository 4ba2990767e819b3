// Package domain contains the read-only view of user profiles. Profiles are
// owned by the auth subsystem; this service only consumes the tier column.
package domain

import (
	"context"
	"time"

	"github.com/huddlehq/metering/internal/tier"
)

// UserProfile mirrors the profile row this service reads.
type UserProfile struct {
	UserID    string    `gorm:"primaryKey"`
	Tier      string    `gorm:"type:text;not null;default:personal"`
	CreatedAt time.Time `gorm:"not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt time.Time `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (UserProfile) TableName() string { return "user_profiles" }

type Service interface {
	// Get returns the profile, or nil when absent. Store failures degrade to
	// nil with a warning so read paths never hang or fail the caller.
	Get(ctx context.Context, userID string) *UserProfile

	// TierFor resolves the user's tier. The second return reports whether a
	// profile row exists; when it does not, or the store is unreachable, the
	// tier falls back to personal.
	TierFor(ctx context.Context, userID string) (tier.Tier, bool)
}
