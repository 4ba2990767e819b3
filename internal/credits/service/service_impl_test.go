package service

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/huddlehq/metering/internal/clock"
	"github.com/huddlehq/metering/internal/config"
	creditsdomain "github.com/huddlehq/metering/internal/credits/domain"
	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

func TestAddCreditsIdempotent(t *testing.T) {
	service, db := setupCreditsService(t)
	ctx := context.Background()

	req := creditsdomain.AddCreditsRequest{
		UserID:    "user-1",
		Amount:    500,
		SessionID: "cs_test_1",
		Metadata:  map[string]any{"source": "stripe"},
	}

	first, err := service.AddCredits(ctx, req)
	if err != nil {
		t.Fatalf("add first: %v", err)
	}
	if first.Duplicate {
		t.Fatalf("first grant flagged duplicate")
	}
	if first.Balance != 500 {
		t.Fatalf("expected balance 500, got %d", first.Balance)
	}

	second, err := service.AddCredits(ctx, req)
	if err != nil {
		t.Fatalf("add second: %v", err)
	}
	if !second.Duplicate {
		t.Fatalf("expected duplicate on retry")
	}
	if second.Balance != 500 {
		t.Fatalf("duplicate moved the balance: %d", second.Balance)
	}

	if count := countTransactions(t, db, "user-1"); count != 1 {
		t.Fatalf("expected 1 ledger row, got %d", count)
	}
}

func TestAddCreditsConcurrentSameSession(t *testing.T) {
	service, db := setupCreditsService(t)
	ctx := context.Background()

	req := creditsdomain.AddCreditsRequest{
		UserID:    "user-1",
		Amount:    250,
		SessionID: "cs_concurrent",
	}

	var wg sync.WaitGroup
	errs := make(chan error, 10)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := service.AddCredits(ctx, req)
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		if err != nil {
			t.Fatalf("add concurrent: %v", err)
		}
	}

	if count := countTransactions(t, db, "user-1"); count != 1 {
		t.Fatalf("expected 1 ledger row after concurrent grants, got %d", count)
	}
	balance, err := service.Balance(ctx, "user-1")
	if err != nil {
		t.Fatalf("balance: %v", err)
	}
	if balance != 250 {
		t.Fatalf("expected balance 250, got %d", balance)
	}
}

func TestAddCreditsDistinctSessionsAccumulate(t *testing.T) {
	service, _ := setupCreditsService(t)
	ctx := context.Background()

	for i, session := range []string{"cs_a", "cs_b", "cs_c"} {
		result, err := service.AddCredits(ctx, creditsdomain.AddCreditsRequest{
			UserID:    "user-1",
			Amount:    100,
			SessionID: session,
		})
		if err != nil {
			t.Fatalf("add %s: %v", session, err)
		}
		if want := int64(100 * (i + 1)); result.Balance != want {
			t.Fatalf("expected balance %d after %s, got %d", want, session, result.Balance)
		}
	}
}

func TestAddCreditsRejectsBadInput(t *testing.T) {
	service, db := setupCreditsService(t)
	ctx := context.Background()

	cases := []struct {
		name string
		req  creditsdomain.AddCreditsRequest
		want error
	}{
		{"missing user", creditsdomain.AddCreditsRequest{Amount: 10, SessionID: "cs"}, creditsdomain.ErrInvalidUser},
		{"missing session", creditsdomain.AddCreditsRequest{UserID: "u", Amount: 10}, creditsdomain.ErrInvalidSession},
		{"zero amount", creditsdomain.AddCreditsRequest{UserID: "u", Amount: 0, SessionID: "cs"}, creditsdomain.ErrInvalidAmount},
		{"negative amount", creditsdomain.AddCreditsRequest{UserID: "u", Amount: -5, SessionID: "cs"}, creditsdomain.ErrInvalidAmount},
	}
	for _, tt := range cases {
		if _, err := service.AddCredits(ctx, tt.req); err != tt.want {
			t.Fatalf("%s: expected %v, got %v", tt.name, tt.want, err)
		}
	}

	var count int
	if err := db.Raw(`SELECT COUNT(1) FROM credit_transactions`).Scan(&count).Error; err != nil {
		t.Fatalf("count: %v", err)
	}
	if count != 0 {
		t.Fatalf("rejected grants must not write, got %d rows", count)
	}
}

func TestBalanceZeroWithoutRow(t *testing.T) {
	service, _ := setupCreditsService(t)

	balance, err := service.Balance(context.Background(), "ghost")
	if err != nil {
		t.Fatalf("balance: %v", err)
	}
	if balance != 0 {
		t.Fatalf("expected zero balance, got %d", balance)
	}
}

func TestListTransactionsNewestFirst(t *testing.T) {
	service, db := setupCreditsService(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if err := db.Exec(`INSERT INTO credit_transactions (
			id, user_id, type, amount, session_id, created_at
		) VALUES (?, ?, ?, ?, ?, ?)`,
			i+1,
			"user-1",
			creditsdomain.TypePurchase,
			100,
			fmt.Sprintf("cs_%d", i),
			time.Date(2025, 6, 1, i, 0, 0, 0, time.UTC),
		).Error; err != nil {
			t.Fatalf("seed transaction: %v", err)
		}
	}

	transactions, err := service.ListTransactions(ctx, "user-1", 2)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(transactions) != 2 {
		t.Fatalf("expected 2 rows, got %d", len(transactions))
	}
	if transactions[0].SessionID != "cs_2" || transactions[1].SessionID != "cs_1" {
		t.Fatalf("expected newest first, got %s then %s", transactions[0].SessionID, transactions[1].SessionID)
	}
}

func setupCreditsService(t *testing.T) (creditsdomain.Service, *gorm.DB) {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared&_loc=auto", t.Name())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("db handle: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	sqlDB.SetMaxIdleConns(1)
	_ = db.Exec("PRAGMA busy_timeout = 5000").Error
	_ = db.Exec("PRAGMA journal_mode = WAL").Error
	prepareCreditsSchema(t, db)

	node, err := snowflake.NewNode(1)
	if err != nil {
		t.Fatalf("new node: %v", err)
	}

	service := NewService(ServiceParam{
		DB:     db,
		Log:    zap.NewNop(),
		GenID:  node,
		Clock:  clock.NewFakeClock(time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)),
		Config: config.Config{ReadTimeout: time.Second},
	})

	return service, db
}

func prepareCreditsSchema(t *testing.T, db *gorm.DB) {
	t.Helper()
	if err := db.Exec(`CREATE TABLE credit_transactions (
		id BIGINT PRIMARY KEY,
		user_id TEXT NOT NULL,
		type TEXT NOT NULL,
		amount BIGINT NOT NULL,
		session_id TEXT,
		metadata JSON,
		created_at DATETIME NOT NULL
	)`).Error; err != nil {
		t.Fatalf("create credit_transactions: %v", err)
	}
	// Mirrors the index shipped in migrations/000001_init.up.sql. The
	// definition must stay in sync or the ON CONFLICT target in AddCredits
	// stops matching and every grant errors.
	if err := db.Exec(`CREATE UNIQUE INDEX IF NOT EXISTS idx_credit_tx_session
		ON credit_transactions (user_id, type, session_id)`).Error; err != nil {
		t.Fatalf("create ledger index: %v", err)
	}
	if err := db.Exec(`CREATE TABLE credit_balances (
		user_id TEXT PRIMARY KEY,
		balance BIGINT NOT NULL DEFAULT 0,
		updated_at DATETIME NOT NULL
	)`).Error; err != nil {
		t.Fatalf("create credit_balances: %v", err)
	}
}

func countTransactions(t *testing.T, db *gorm.DB, userID string) int {
	t.Helper()
	var count int
	if err := db.Raw(`SELECT COUNT(1) FROM credit_transactions WHERE user_id = ?`, userID).Scan(&count).Error; err != nil {
		t.Fatalf("count transactions: %v", err)
	}
	return count
}
