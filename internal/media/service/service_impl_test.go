package service

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/huddlehq/metering/internal/clock"
	"github.com/huddlehq/metering/internal/config"
	mediadomain "github.com/huddlehq/metering/internal/media/domain"
	usagedomain "github.com/huddlehq/metering/internal/usage/domain"
	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

type usageStub struct {
	calls []usagedomain.RecordRequest
	err   error
}

func (u *usageStub) Record(ctx context.Context, req usagedomain.RecordRequest) (*usagedomain.UserUsage, error) {
	u.calls = append(u.calls, req)
	if u.err != nil {
		return nil, u.err
	}
	return &usagedomain.UserUsage{UserID: req.UserID}, nil
}

func (u *usageStub) Get(ctx context.Context, userID string) (*usagedomain.UserUsage, error) {
	return nil, nil
}

func (u *usageStub) Summary(ctx context.Context, userID string) (*usagedomain.Summary, error) {
	return nil, nil
}

func (u *usageStub) ResetCycle(ctx context.Context, userID string) error { return nil }

func (u *usageStub) ResetExpired(ctx context.Context, batchSize int) (int, error) { return 0, nil }

func TestHandleWebhookRoomFinishedVideo(t *testing.T) {
	usage := &usageStub{}
	service, db := setupMediaService(t, "", usage)

	payload := []byte(`{
		"event": "room_finished",
		"id": "ev_1",
		"room": {"name": "standup", "kind": "video", "duration_seconds": 610},
		"participant": {"identity": "user-1"}
	}`)

	result, err := service.HandleWebhook(context.Background(), payload, http.Header{})
	if err != nil {
		t.Fatalf("handle webhook: %v", err)
	}
	if result.Status != mediadomain.StatusProcessed {
		t.Fatalf("expected processed, got %s", result.Status)
	}

	if len(usage.calls) != 1 {
		t.Fatalf("expected 1 usage record, got %d", len(usage.calls))
	}
	// 610 seconds rounds up to 11 minutes.
	if usage.calls[0].Delta.VideoMinutes != 11 || usage.calls[0].Delta.AudioMinutes != 0 {
		t.Fatalf("unexpected delta: %+v", usage.calls[0].Delta)
	}
	if usage.calls[0].UserID != "user-1" {
		t.Fatalf("unexpected user: %s", usage.calls[0].UserID)
	}

	assertJournal(t, db, "room_finished", true)
}

func TestHandleWebhookRoomFinishedAudio(t *testing.T) {
	usage := &usageStub{}
	service, _ := setupMediaService(t, "", usage)

	payload := []byte(`{
		"event": "room_finished",
		"room": {"name": "huddle", "kind": "audio", "duration_seconds": 60},
		"participant": {"identity": "user-1"}
	}`)

	if _, err := service.HandleWebhook(context.Background(), payload, http.Header{}); err != nil {
		t.Fatalf("handle webhook: %v", err)
	}
	if len(usage.calls) != 1 || usage.calls[0].Delta.AudioMinutes != 1 {
		t.Fatalf("expected 1 audio minute, got %+v", usage.calls)
	}
}

func TestHandleWebhookDataTransferred(t *testing.T) {
	usage := &usageStub{}
	service, _ := setupMediaService(t, "", usage)

	payload := []byte(`{
		"event": "data_transferred",
		"participant": {"identity": "user-1"},
		"bytes": 536870912
	}`)

	if _, err := service.HandleWebhook(context.Background(), payload, http.Header{}); err != nil {
		t.Fatalf("handle webhook: %v", err)
	}
	if len(usage.calls) != 1 || usage.calls[0].Delta.StorageGB != 0.5 {
		t.Fatalf("expected 0.5 GB, got %+v", usage.calls)
	}
}

func TestHandleWebhookMessageSentDefaultsToOne(t *testing.T) {
	usage := &usageStub{}
	service, _ := setupMediaService(t, "", usage)

	payload := []byte(`{
		"event": "message_sent",
		"participant": {"identity": "user-1"}
	}`)

	if _, err := service.HandleWebhook(context.Background(), payload, http.Header{}); err != nil {
		t.Fatalf("handle webhook: %v", err)
	}
	if len(usage.calls) != 1 || usage.calls[0].Delta.MessagesSent != 1 {
		t.Fatalf("expected 1 message, got %+v", usage.calls)
	}
}

func TestHandleWebhookUnknownEventJournaled(t *testing.T) {
	usage := &usageStub{}
	service, db := setupMediaService(t, "", usage)

	payload := []byte(`{"event": "participant_joined", "participant": {"identity": "user-1"}}`)

	result, err := service.HandleWebhook(context.Background(), payload, http.Header{})
	if err != nil {
		t.Fatalf("handle webhook: %v", err)
	}
	if result.Status != mediadomain.StatusIgnored {
		t.Fatalf("expected ignored, got %s", result.Status)
	}
	if len(usage.calls) != 0 {
		t.Fatalf("unmetered event must not record usage")
	}
	assertJournal(t, db, "participant_joined", true)
}

func TestHandleWebhookMissingIdentityStaysUnprocessed(t *testing.T) {
	usage := &usageStub{}
	service, db := setupMediaService(t, "", usage)

	payload := []byte(`{
		"event": "room_finished",
		"room": {"name": "standup", "kind": "video", "duration_seconds": 120}
	}`)

	result, err := service.HandleWebhook(context.Background(), payload, http.Header{})
	if err != nil {
		t.Fatalf("handle webhook: %v", err)
	}
	if result.Status != mediadomain.StatusIgnored {
		t.Fatalf("expected ignored, got %s", result.Status)
	}
	assertJournal(t, db, "room_finished", false)
}

func TestHandleWebhookStoreFailureLeavesRowUnprocessed(t *testing.T) {
	storeErr := errors.New("database is down")
	usage := &usageStub{err: storeErr}
	service, db := setupMediaService(t, "", usage)

	payload := []byte(`{
		"event": "message_sent",
		"participant": {"identity": "user-1"}
	}`)

	if _, err := service.HandleWebhook(context.Background(), payload, http.Header{}); !errors.Is(err, storeErr) {
		t.Fatalf("expected store failure to propagate, got %v", err)
	}
	assertJournal(t, db, "message_sent", false)
}

func TestHandleWebhookRejectsBadPayload(t *testing.T) {
	usage := &usageStub{}
	service, _ := setupMediaService(t, "", usage)

	if _, err := service.HandleWebhook(context.Background(), []byte("not json"), http.Header{}); !errors.Is(err, mediadomain.ErrInvalidPayload) {
		t.Fatalf("expected ErrInvalidPayload, got %v", err)
	}
	if _, err := service.HandleWebhook(context.Background(), []byte(`{"event": ""}`), http.Header{}); !errors.Is(err, mediadomain.ErrInvalidPayload) {
		t.Fatalf("expected ErrInvalidPayload for empty event, got %v", err)
	}
}

func TestHandleWebhookVerifiesSignature(t *testing.T) {
	secret := "media_secret"
	usage := &usageStub{}
	service, _ := setupMediaService(t, secret, usage)

	payload := []byte(`{"event": "message_sent", "participant": {"identity": "user-1"}}`)

	headers := http.Header{}
	if _, err := service.HandleWebhook(context.Background(), payload, headers); !errors.Is(err, mediadomain.ErrInvalidSignature) {
		t.Fatalf("expected missing signature error, got %v", err)
	}

	mac := hmac.New(sha256.New, []byte(secret))
	_, _ = mac.Write(payload)
	headers.Set("X-Media-Signature", hex.EncodeToString(mac.Sum(nil)))

	result, err := service.HandleWebhook(context.Background(), payload, headers)
	if err != nil {
		t.Fatalf("handle webhook: %v", err)
	}
	if result.Status != mediadomain.StatusProcessed {
		t.Fatalf("expected processed, got %s", result.Status)
	}
}

func setupMediaService(t *testing.T, secret string, usageSvc usagedomain.Service) (mediadomain.Service, *gorm.DB) {
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

	if err := db.Exec(`CREATE TABLE livekit_webhook_logs (
		id BIGINT PRIMARY KEY,
		event TEXT NOT NULL,
		room_name TEXT,
		user_id TEXT,
		payload JSON,
		processed BOOLEAN NOT NULL DEFAULT FALSE,
		created_at DATETIME NOT NULL,
		processed_at DATETIME
	)`).Error; err != nil {
		t.Fatalf("create livekit_webhook_logs: %v", err)
	}

	node, err := snowflake.NewNode(1)
	if err != nil {
		t.Fatalf("new node: %v", err)
	}

	service := NewService(ServiceParam{
		DB:       db,
		Log:      zap.NewNop(),
		GenID:    node,
		Clock:    clock.NewFakeClock(time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)),
		Config:   config.Config{MediaWebhookSecret: secret},
		UsageSvc: usageSvc,
	})

	return service, db
}

func assertJournal(t *testing.T, db *gorm.DB, event string, processed bool) {
	t.Helper()
	var log mediadomain.WebhookLog
	if err := db.Where("event = ?", event).First(&log).Error; err != nil {
		t.Fatalf("read journal row for %s: %v", event, err)
	}
	if log.Processed != processed {
		t.Fatalf("expected processed=%v for %s, got %v", processed, event, log.Processed)
	}
	if processed && log.ProcessedAt == nil {
		t.Fatalf("processed row missing processed_at")
	}
}
