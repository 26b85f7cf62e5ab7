// Package domain defines the billing-event ledger and the canonical event
// form shared by every webhook provider adapter.
package domain

import (
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/google/uuid"
)

// ProcessingStatus records what the engine did with a received event.
type ProcessingStatus string

const (
	ProcessingReceived   ProcessingStatus = "RECEIVED"
	ProcessingApplied    ProcessingStatus = "APPLIED"
	ProcessingOutOfOrder ProcessingStatus = "IGNORED_OUT_OF_ORDER"
	ProcessingDuplicate  ProcessingStatus = "DUPLICATE"
)

var (
	ErrInvalidSignature = errors.New("invalid_webhook_signature")
	ErrMalformedEvent   = errors.New("malformed_subscription_event")
	ErrMissingSubject   = errors.New("subscription_event_missing_subject")
	// ErrDuplicateEvent stays inside the processor transaction; callers see an
	// idempotent success, never this error.
	ErrDuplicateEvent = errors.New("duplicate_subscription_event")
)

// Event is one ledger row. The ledger is append-only history; account state
// is owned by the accounts table and only ever derived from applied events.
type Event struct {
	ID               snowflake.ID     `gorm:"primaryKey"`
	EventID          string           `gorm:"type:varchar(191);not null;uniqueIndex:idx_subscription_events_event_id"`
	Provider         string           `gorm:"type:varchar(32);not null"`
	EventType        string           `gorm:"type:varchar(64);not null"`
	AccountID        uuid.UUID        `gorm:"type:uuid;not null;index"`
	Plan             string           `gorm:"type:text;not null"`
	Status           string           `gorm:"type:varchar(16);not null"`
	ExpiresAt        *time.Time       `gorm:""`
	EventAt          time.Time        `gorm:"not null"`
	ProcessingStatus ProcessingStatus `gorm:"type:varchar(32);not null"`
	Payload          string           `gorm:"type:text;not null"`
	CreatedAt        time.Time        `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (Event) TableName() string { return "subscription_events" }

// CanonicalEvent is a provider-agnostic billing event after parsing and
// validation. EventAt orders events; EventID deduplicates them.
type CanonicalEvent struct {
	EventID   string
	Provider  string
	EventType string
	AccountID uuid.UUID
	Plan      string
	Status    string
	ExpiresAt *time.Time
	EventAt   time.Time
	Payload   string
}

// Result reports the outcome of ingesting one event.
type Result struct {
	EventID          string           `json:"event_id"`
	ProcessingStatus ProcessingStatus `json:"processing_status"`
	Plan             string           `json:"plan"`
	Status           string           `json:"status"`
	Idempotent       bool             `json:"idempotent"`
}
