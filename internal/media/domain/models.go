// Package domain contains the realtime-media webhook models. Every delivery
// is journaled to livekit_webhook_logs before any counter moves; the row is
// finalized only after the accumulate commits.
package domain

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

// WebhookLog is the append-only audit row for one raw metering event.
type WebhookLog struct {
	ID          snowflake.ID      `gorm:"primaryKey"`
	Event       string            `gorm:"type:text;not null"`
	RoomName    string            `gorm:"type:text"`
	UserID      string            `gorm:"type:text"`
	Payload     datatypes.JSONMap `gorm:"type:jsonb"`
	Processed   bool              `gorm:"not null;default:false"`
	CreatedAt   time.Time         `gorm:"not null;default:CURRENT_TIMESTAMP"`
	ProcessedAt *time.Time
}

// TableName sets the database table name.
func (WebhookLog) TableName() string { return "livekit_webhook_logs" }

// Event is the wire shape of one media webhook delivery.
type Event struct {
	Event       string       `json:"event"`
	ID          string       `json:"id"`
	Room        *Room        `json:"room,omitempty"`
	Participant *Participant `json:"participant,omitempty"`
	Bytes       int64        `json:"bytes,omitempty"`
	Count       int64        `json:"count,omitempty"`
	CreatedAt   int64        `json:"created_at,omitempty"`
}

type Room struct {
	Name            string `json:"name"`
	Kind            string `json:"kind"` // video or audio
	DurationSeconds int64  `json:"duration_seconds"`
}

type Participant struct {
	Identity string `json:"identity"`
}

const (
	EventRoomFinished    = "room_finished"
	EventDataTransferred = "data_transferred"
	EventMessageSent     = "message_sent"
)

// WebhookResult tells the HTTP layer how the delivery was settled.
type WebhookResult struct {
	Status string `json:"status"` // processed, ignored
}

const (
	StatusProcessed = "processed"
	StatusIgnored   = "ignored"
)

type Service interface {
	HandleWebhook(ctx context.Context, payload []byte, headers http.Header) (WebhookResult, error)
}

var (
	ErrInvalidSignature = errors.New("invalid_signature")
	ErrInvalidPayload   = errors.New("invalid_payload")
)
