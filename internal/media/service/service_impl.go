package service

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/huddlehq/metering/internal/clock"
	"github.com/huddlehq/metering/internal/config"
	mediadomain "github.com/huddlehq/metering/internal/media/domain"
	usagedomain "github.com/huddlehq/metering/internal/usage/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

const bytesPerGB = 1024 * 1024 * 1024

type ServiceParam struct {
	fx.In

	DB       *gorm.DB
	Log      *zap.Logger
	GenID    *snowflake.Node
	Clock    clock.Clock
	Config   config.Config
	UsageSvc usagedomain.Service
}

type Service struct {
	db            *gorm.DB
	log           *zap.Logger
	genID         *snowflake.Node
	clock         clock.Clock
	webhookSecret string
	usageSvc      usagedomain.Service
}

func NewService(p ServiceParam) mediadomain.Service {
	return &Service{
		db:            p.DB,
		log:           p.Log.Named("media.service"),
		genID:         p.GenID,
		clock:         p.Clock,
		webhookSecret: strings.TrimSpace(p.Config.MediaWebhookSecret),
		usageSvc:      p.UsageSvc,
	}
}

// HandleWebhook journals the raw event, accumulates usage, and finalizes the
// journal row. A failed accumulate leaves the row unprocessed so upstream
// re-delivery can retry it.
func (s *Service) HandleWebhook(ctx context.Context, payload []byte, headers http.Header) (mediadomain.WebhookResult, error) {
	if err := s.verify(payload, headers); err != nil {
		return mediadomain.WebhookResult{}, err
	}

	var event mediadomain.Event
	if err := json.Unmarshal(payload, &event); err != nil {
		return mediadomain.WebhookResult{}, mediadomain.ErrInvalidPayload
	}
	if strings.TrimSpace(event.Event) == "" {
		return mediadomain.WebhookResult{}, mediadomain.ErrInvalidPayload
	}

	logEntry, err := s.journal(ctx, event, payload)
	if err != nil {
		return mediadomain.WebhookResult{}, err
	}

	userID := ""
	if event.Participant != nil {
		userID = strings.TrimSpace(event.Participant.Identity)
	}

	delta, ok := deltaForEvent(event)
	if !ok {
		// Nothing to meter for this event type; the journal row is complete.
		if err := s.finalize(ctx, logEntry.ID); err != nil {
			return mediadomain.WebhookResult{}, err
		}
		return mediadomain.WebhookResult{Status: mediadomain.StatusIgnored}, nil
	}

	if userID == "" {
		s.log.Warn("media event without participant identity",
			zap.String("event", event.Event),
			zap.String("room", logEntry.RoomName),
		)
		return mediadomain.WebhookResult{Status: mediadomain.StatusIgnored}, nil
	}

	if _, err := s.usageSvc.Record(ctx, usagedomain.RecordRequest{UserID: userID, Delta: delta}); err != nil {
		if errors.Is(err, usagedomain.ErrInvalidUser) || errors.Is(err, usagedomain.ErrInvalidValue) {
			s.log.Warn("discarding unmeterable media event",
				zap.String("event", event.Event),
				zap.String("user_id", userID),
				zap.Error(err),
			)
			return mediadomain.WebhookResult{Status: mediadomain.StatusIgnored}, nil
		}
		// Store failure: the journal row stays unprocessed for re-delivery.
		return mediadomain.WebhookResult{}, err
	}

	if err := s.finalize(ctx, logEntry.ID); err != nil {
		return mediadomain.WebhookResult{}, err
	}
	return mediadomain.WebhookResult{Status: mediadomain.StatusProcessed}, nil
}

func (s *Service) verify(payload []byte, headers http.Header) error {
	if s.webhookSecret == "" {
		return nil
	}
	signature := strings.TrimSpace(headers.Get("X-Media-Signature"))
	if signature == "" {
		return mediadomain.ErrInvalidSignature
	}

	mac := hmac.New(sha256.New, []byte(s.webhookSecret))
	_, _ = mac.Write(payload)
	expected := hex.EncodeToString(mac.Sum(nil))
	if !hmac.Equal([]byte(signature), []byte(expected)) {
		return mediadomain.ErrInvalidSignature
	}
	return nil
}

func (s *Service) journal(ctx context.Context, event mediadomain.Event, payload []byte) (*mediadomain.WebhookLog, error) {
	var raw map[string]any
	_ = json.Unmarshal(payload, &raw)

	roomName := ""
	if event.Room != nil {
		roomName = strings.TrimSpace(event.Room.Name)
	}
	userID := ""
	if event.Participant != nil {
		userID = strings.TrimSpace(event.Participant.Identity)
	}

	entry := mediadomain.WebhookLog{
		ID:        s.genID.Generate(),
		Event:     strings.TrimSpace(event.Event),
		RoomName:  roomName,
		UserID:    userID,
		Payload:   datatypes.JSONMap(raw),
		Processed: false,
		CreatedAt: s.clock.Now(),
	}
	if err := s.db.WithContext(ctx).Create(&entry).Error; err != nil {
		return nil, err
	}
	return &entry, nil
}

func (s *Service) finalize(ctx context.Context, id snowflake.ID) error {
	now := s.clock.Now()
	return s.db.WithContext(ctx).
		Model(&mediadomain.WebhookLog{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"processed":    true,
			"processed_at": now,
		}).Error
}

func deltaForEvent(event mediadomain.Event) (usagedomain.Delta, bool) {
	switch event.Event {
	case mediadomain.EventRoomFinished:
		if event.Room == nil || event.Room.DurationSeconds <= 0 {
			return usagedomain.Delta{}, false
		}
		minutes := (event.Room.DurationSeconds + 59) / 60
		if strings.EqualFold(event.Room.Kind, "audio") {
			return usagedomain.Delta{AudioMinutes: minutes}, true
		}
		return usagedomain.Delta{VideoMinutes: minutes}, true
	case mediadomain.EventDataTransferred:
		if event.Bytes <= 0 {
			return usagedomain.Delta{}, false
		}
		return usagedomain.Delta{StorageGB: float64(event.Bytes) / bytesPerGB}, true
	case mediadomain.EventMessageSent:
		count := event.Count
		if count <= 0 {
			count = 1
		}
		return usagedomain.Delta{MessagesSent: count}, true
	default:
		return usagedomain.Delta{}, false
	}
}
