package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/huddlehq/metering/internal/clock"
	"github.com/huddlehq/metering/internal/config"
	creditsdomain "github.com/huddlehq/metering/internal/credits/domain"
	obsmetrics "github.com/huddlehq/metering/internal/observability/metrics"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

const defaultTransactionLimit = 20

type ServiceParam struct {
	fx.In

	DB      *gorm.DB
	Log     *zap.Logger
	GenID   *snowflake.Node
	Clock   clock.Clock
	Config  config.Config
	Metrics *obsmetrics.Metrics `optional:"true"`
}

type Service struct {
	db          *gorm.DB
	log         *zap.Logger
	genID       *snowflake.Node
	clock       clock.Clock
	readTimeout time.Duration
	metrics     *obsmetrics.Metrics
}

func NewService(p ServiceParam) creditsdomain.Service {
	return &Service{
		db:          p.DB,
		log:         p.Log.Named("credits.service"),
		genID:       p.GenID,
		clock:       p.Clock,
		readTimeout: p.Config.ReadTimeout,
		metrics:     p.Metrics,
	}
}

func (s *Service) AddCredits(ctx context.Context, req creditsdomain.AddCreditsRequest) (creditsdomain.AddCreditsResult, error) {
	userID := strings.TrimSpace(req.UserID)
	sessionID := strings.TrimSpace(req.SessionID)

	if userID == "" {
		s.log.Warn("rejecting credit grant without user", zap.String("session_id", sessionID))
		return creditsdomain.AddCreditsResult{}, creditsdomain.ErrInvalidUser
	}
	if sessionID == "" {
		s.log.Warn("rejecting credit grant without session", zap.String("user_id", userID))
		return creditsdomain.AddCreditsResult{}, creditsdomain.ErrInvalidSession
	}
	if req.Amount <= 0 {
		s.log.Warn("rejecting non-positive credit grant",
			zap.String("user_id", userID),
			zap.Int64("amount", req.Amount),
		)
		return creditsdomain.AddCreditsResult{}, creditsdomain.ErrInvalidAmount
	}

	now := s.clock.Now()
	tx := creditsdomain.CreditTransaction{
		ID:        s.genID.Generate(),
		UserID:    userID,
		Type:      creditsdomain.TypePurchase,
		Amount:    req.Amount,
		SessionID: sessionID,
		CreatedAt: now,
	}
	if req.Metadata != nil {
		tx.Metadata = datatypes.JSONMap(req.Metadata)
	}

	duplicate := false
	err := s.db.WithContext(ctx).Transaction(func(conn *gorm.DB) error {
		// The unique (user_id, type, session_id) index is the idempotency
		// guard. A conflicting insert affects zero rows and must not touch
		// the balance.
		result := conn.Exec(`
			INSERT INTO credit_transactions (
				id, user_id, type, amount, session_id, metadata, created_at
			) VALUES (?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT (user_id, type, session_id) DO NOTHING`,
			tx.ID,
			tx.UserID,
			tx.Type,
			tx.Amount,
			tx.SessionID,
			tx.Metadata,
			tx.CreatedAt,
		)
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			duplicate = true
			return nil
		}

		return conn.Exec(`
			INSERT INTO credit_balances (user_id, balance, updated_at)
			VALUES (?, ?, ?)
			ON CONFLICT (user_id) DO UPDATE SET
				balance = credit_balances.balance + excluded.balance,
				updated_at = excluded.updated_at`,
			userID,
			req.Amount,
			now,
		).Error
	})
	if err != nil {
		return creditsdomain.AddCreditsResult{}, err
	}

	balance, balanceErr := s.Balance(ctx, userID)
	if balanceErr != nil {
		balance = 0
	}

	if duplicate {
		s.log.Info("duplicate credit grant ignored",
			zap.String("user_id", userID),
			zap.String("session_id", sessionID),
		)
		return creditsdomain.AddCreditsResult{Duplicate: true, Balance: balance}, nil
	}

	if s.metrics != nil {
		source := "unknown"
		if req.Metadata != nil {
			if v, ok := req.Metadata["source"].(string); ok && v != "" {
				source = v
			}
		}
		s.metrics.RecordCreditGrant(ctx, source)
	}
	s.log.Info("credits granted",
		zap.String("user_id", userID),
		zap.String("session_id", sessionID),
		zap.Int64("amount", req.Amount),
	)
	return creditsdomain.AddCreditsResult{Balance: balance}, nil
}

func (s *Service) Balance(ctx context.Context, userID string) (int64, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return 0, creditsdomain.ErrInvalidUser
	}

	ctx, cancel := s.boundRead(ctx)
	defer cancel()

	var balance creditsdomain.CreditBalance
	err := s.db.WithContext(ctx).
		Where("user_id = ?", userID).
		First(&balance).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return 0, nil
		}
		s.log.Warn("balance read failed",
			zap.String("user_id", userID),
			zap.Error(err),
		)
		return 0, nil
	}
	return balance.Balance, nil
}

func (s *Service) ListTransactions(ctx context.Context, userID string, limit int) ([]creditsdomain.CreditTransaction, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return nil, creditsdomain.ErrInvalidUser
	}
	if limit <= 0 {
		limit = defaultTransactionLimit
	}

	ctx, cancel := s.boundRead(ctx)
	defer cancel()

	var transactions []creditsdomain.CreditTransaction
	err := s.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("created_at DESC").
		Limit(limit).
		Find(&transactions).Error
	if err != nil {
		s.log.Warn("transaction list read failed",
			zap.String("user_id", userID),
			zap.Error(err),
		)
		return nil, nil
	}
	return transactions, nil
}

func (s *Service) boundRead(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.readTimeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, s.readTimeout)
}
