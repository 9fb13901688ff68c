package domain

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

type Service interface {
	// IngestWebhook verifies and applies one provider delivery. Only
	// configuration and signature failures are returned; everything after
	// verification is acknowledged.
	IngestWebhook(ctx context.Context, payload []byte, headers http.Header) error
}

type Adapter interface {
	Verify(ctx context.Context, payload []byte, headers http.Header) error
	Parse(ctx context.Context, payload []byte) (Event, error)
}

type Repository interface {
	// InsertEvent records the event unless it was already received.
	InsertEvent(ctx context.Context, db *gorm.DB, event *EventRecord) (bool, error)
	FindEvent(ctx context.Context, db *gorm.DB, provider, providerEventID string) (*EventRecord, error)
	// Claim marks the event processed only if nobody else has.
	Claim(ctx context.Context, db *gorm.DB, id snowflake.ID, processedAt time.Time) (bool, error)
}

var (
	ErrWebhookSecretMissing = errors.New("webhook_secret_missing")
	ErrInvalidSignature     = errors.New("invalid_signature")
	ErrInvalidPayload       = errors.New("invalid_payload")
	ErrInvalidEvent         = errors.New("invalid_event")
	ErrUserUnresolved       = errors.New("payment_user_unresolved")
	ErrTokensUnresolved     = errors.New("payment_tokens_unresolved")
)
