// Package domain contains the account aggregate: the single owner of current
// subscription state. The event ledger records history but never owns state.
package domain

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Status is the subscription lifecycle status stored on the account.
type Status string

const (
	StatusActive   Status = "ACTIVE"
	StatusExpired  Status = "EXPIRED"
	StatusCanceled Status = "CANCELED"
	StatusGrace    Status = "GRACE"
)

var ErrNotFound = errors.New("account_not_found")

// Account is one mobile-app user as seen by the entitlements engine.
//
// Invariant: an ACTIVE paid plan always carries a non-nil expiry.
// SubscriptionExpiresAt is nil only while the plan is free.
type Account struct {
	ID                      uuid.UUID  `gorm:"type:uuid;primaryKey"`
	Plan                    string     `gorm:"type:text;not null;default:GO_FREE"`
	SubscriptionStatus      *string    `gorm:"type:text"`
	SubscriptionExpiresAt   *time.Time `gorm:""`
	LastSubscriptionEventAt *time.Time `gorm:""`
	FirstUpgradeUsed        bool       `gorm:"not null;default:false"`
	AIImageLifetimeUsed     int        `gorm:"column:ai_image_lifetime_used;not null;default:0"`
	CreatedAt               time.Time  `gorm:"not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt               time.Time  `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (Account) TableName() string { return "accounts" }

// SubscriptionUpdate is the state applied to an account by a billing event.
type SubscriptionUpdate struct {
	Plan      string
	Status    Status
	ExpiresAt *time.Time
	EventAt   time.Time
}

// Repository persists accounts. Implementations take the executing *gorm.DB
// so callers control transaction scope.
type Repository interface {
	Find(ctx context.Context, db *gorm.DB, id uuid.UUID) (*Account, error)
	// FindForUpdate locks the account row for the duration of the enclosing
	// transaction, serializing concurrent webhook deliveries for one subject.
	FindForUpdate(ctx context.Context, tx *gorm.DB, id uuid.UUID) (*Account, error)
	// ConsumeLifetime executes the single conditional increment
	// "set used = used + 1 where used < ceiling" and reports whether a row
	// was affected. The ceiling is enforced by the database, never by a
	// read-then-write in the application.
	ConsumeLifetime(ctx context.Context, db *gorm.DB, id uuid.UUID, ceiling int) (bool, error)
	ApplySubscription(ctx context.Context, tx *gorm.DB, account *Account, update SubscriptionUpdate, firstUpgrade bool) error
	// Downgrade moves the account to toPlan only while the row still holds
	// fromPlan with an expiry before expiredBefore. A webhook applied between
	// the caller's read and this write leaves the row untouched; false means
	// the caller's view is stale and must be re-read.
	Downgrade(ctx context.Context, db *gorm.DB, id uuid.UUID, fromPlan string, expiredBefore time.Time, toPlan string, status Status) (bool, error)
}
