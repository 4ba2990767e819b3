// Package domain contains quota validation results and alert persistence
// models.
package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	usagedomain "github.com/huddlehq/metering/internal/usage/domain"
	"gorm.io/datatypes"
)

// UsageAlert records a threshold crossing on one quota dimension. Rows are
// append-only; the snapshot preserves all four counters at alert time.
type UsageAlert struct {
	ID         snowflake.ID      `gorm:"primaryKey"`
	UserID     string            `gorm:"type:text;not null"`
	Tier       string            `gorm:"type:text;not null"`
	Dimension  string            `gorm:"type:text;not null"`
	Threshold  int               `gorm:"not null"` // percent: 80, 90, 100
	Snapshot   datatypes.JSONMap `gorm:"type:jsonb"`
	CycleStart time.Time         `gorm:"not null"`
	CreatedAt  time.Time         `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (UsageAlert) TableName() string { return "usage_alerts" }

// ValidateRequest is an advisory pre-flight check for one metered action.
type ValidateRequest struct {
	UserID    string  `json:"user_id"`
	Dimension string  `json:"dimension"`
	Amount    float64 `json:"amount"`
}

// ValidateResult reports whether the requested amount fits the tier limit.
// A denial is a value, never an error.
type ValidateResult struct {
	Allowed bool   `json:"allowed"`
	Reason  string `json:"reason,omitempty"`
}

type Service interface {
	// Validate compares prospective usage against the tier limit. Enterprise
	// is always allowed; a user with no usage row is always allowed.
	Validate(ctx context.Context, req ValidateRequest) (ValidateResult, error)

	// CheckAlerts records at most one alert for the highest threshold any
	// dimension has crossed.
	CheckAlerts(ctx context.Context, userID string, usage usagedomain.UserUsage) error
}

var (
	ErrInvalidUser      = errors.New("invalid_user")
	ErrInvalidDimension = errors.New("invalid_dimension")
	ErrInvalidAmount    = errors.New("invalid_amount")
)
