// Package domain contains persistence models for per-user usage accumulation.
package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/huddlehq/metering/internal/tier"
)

// UserUsage stores one row per user: four cumulative counters plus the
// current 30-day cycle window. Counters only move forward until an explicit
// cycle reset.
type UserUsage struct {
	ID                snowflake.ID `gorm:"primaryKey"`
	UserID            string       `gorm:"type:text;not null;uniqueIndex"`
	VideoMinutes      int64        `gorm:"not null;default:0"`
	AudioMinutes      int64        `gorm:"not null;default:0"`
	MessagesSent      int64        `gorm:"not null;default:0"`
	StorageGB         float64      `gorm:"not null;default:0"`
	CurrentCycleStart time.Time    `gorm:"not null"`
	CurrentCycleEnd   time.Time    `gorm:"not null"`
	LastResetAt       *time.Time
	CreatedAt         time.Time `gorm:"not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt         time.Time `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (UserUsage) TableName() string { return "user_usage" }

// Value returns the counter for the given dimension as a float64 so counter
// and storage dimensions share one comparison path.
func (u UserUsage) Value(d tier.Dimension) float64 {
	switch d {
	case tier.VideoMinutes:
		return float64(u.VideoMinutes)
	case tier.AudioMinutes:
		return float64(u.AudioMinutes)
	case tier.Messages:
		return float64(u.MessagesSent)
	case tier.StorageGB:
		return u.StorageGB
	default:
		return 0
	}
}

// Snapshot returns the four counters keyed by dimension, used for alert rows.
func (u UserUsage) Snapshot() map[string]any {
	return map[string]any{
		string(tier.VideoMinutes): u.VideoMinutes,
		string(tier.AudioMinutes): u.AudioMinutes,
		string(tier.Messages):     u.MessagesSent,
		string(tier.StorageGB):    u.StorageGB,
	}
}
