// Package domain contains the credits ledger models. Transactions are
// append-only; the balance is only ever mutated through AddCredits.
package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

// TypePurchase marks a credit grant originating from a completed payment.
const TypePurchase = "purchase"

// CreditTransaction is one balance-affecting ledger row. At most one row may
// exist per (user_id, type, session_id).
type CreditTransaction struct {
	ID        snowflake.ID      `gorm:"primaryKey"`
	UserID    string            `gorm:"type:text;not null"`
	Type      string            `gorm:"type:text;not null"`
	Amount    int64             `gorm:"not null"`
	SessionID string            `gorm:"type:text"`
	Metadata  datatypes.JSONMap `gorm:"type:jsonb"`
	CreatedAt time.Time         `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (CreditTransaction) TableName() string { return "credit_transactions" }

// CreditBalance is the materialized per-user balance.
type CreditBalance struct {
	UserID    string    `gorm:"primaryKey"`
	Balance   int64     `gorm:"not null;default:0"`
	UpdatedAt time.Time `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (CreditBalance) TableName() string { return "credit_balances" }

type AddCreditsRequest struct {
	UserID    string         `json:"user_id"`
	Amount    int64          `json:"amount"`
	SessionID string         `json:"session_id"`
	Metadata  map[string]any `json:"metadata"`
}

type AddCreditsResult struct {
	Duplicate bool  `json:"duplicate"`
	Balance   int64 `json:"balance"`
}

type Service interface {
	// AddCredits appends one ledger row and increments the balance in a
	// single transaction. A retry with the same session reports Duplicate
	// and leaves the balance untouched.
	AddCredits(ctx context.Context, req AddCreditsRequest) (AddCreditsResult, error)

	// Balance returns the user's balance, zero when no row exists.
	Balance(ctx context.Context, userID string) (int64, error)

	// ListTransactions returns the most recent ledger rows, newest first.
	ListTransactions(ctx context.Context, userID string, limit int) ([]CreditTransaction, error)
}

var (
	ErrInvalidUser    = errors.New("invalid_user")
	ErrInvalidAmount  = errors.New("invalid_amount")
	ErrInvalidSession = errors.New("invalid_session")
)
