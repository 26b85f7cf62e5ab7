package repository

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	accountdomain "github.com/gosuraksha/entitlements/internal/account/domain"
	"github.com/gosuraksha/entitlements/internal/clock"
	"gorm.io/gorm"
)

type repo struct {
	clock clock.Clock
}

func Provide(clk clock.Clock) accountdomain.Repository {
	if clk == nil {
		clk = clock.System()
	}
	return &repo{clock: clk}
}

func (r *repo) Find(ctx context.Context, db *gorm.DB, id uuid.UUID) (*accountdomain.Account, error) {
	var account accountdomain.Account
	err := db.WithContext(ctx).
		Where("id = ?", id).
		First(&account).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, accountdomain.ErrNotFound
		}
		return nil, err
	}
	return &account, nil
}

func (r *repo) FindForUpdate(ctx context.Context, tx *gorm.DB, id uuid.UUID) (*accountdomain.Account, error) {
	query := `SELECT id, plan, subscription_status, subscription_expires_at,
		 last_subscription_event_at, first_upgrade_used, ai_image_lifetime_used,
		 created_at, updated_at
	 FROM accounts
	 WHERE id = ?`
	// sqlite serializes writers on its own and rejects FOR UPDATE.
	if !strings.EqualFold(tx.Dialector.Name(), "sqlite") {
		query += " FOR UPDATE"
	}

	var account accountdomain.Account
	err := tx.WithContext(ctx).Raw(query, id).Scan(&account).Error
	if err != nil {
		return nil, err
	}
	if account.ID == uuid.Nil {
		return nil, accountdomain.ErrNotFound
	}
	return &account, nil
}

func (r *repo) ConsumeLifetime(ctx context.Context, db *gorm.DB, id uuid.UUID, ceiling int) (bool, error) {
	result := db.WithContext(ctx).Exec(
		`UPDATE accounts
		 SET ai_image_lifetime_used = ai_image_lifetime_used + 1,
		     updated_at = ?
		 WHERE id = ?
		   AND ai_image_lifetime_used < ?`,
		r.clock.Now().UTC(),
		id,
		ceiling,
	)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

func (r *repo) ApplySubscription(ctx context.Context, tx *gorm.DB, account *accountdomain.Account, update accountdomain.SubscriptionUpdate, firstUpgrade bool) error {
	now := r.clock.Now().UTC()
	status := string(update.Status)
	err := tx.WithContext(ctx).Exec(
		`UPDATE accounts
		 SET plan = ?,
		     subscription_status = ?,
		     subscription_expires_at = ?,
		     last_subscription_event_at = ?,
		     first_upgrade_used = ?,
		     updated_at = ?
		 WHERE id = ?`,
		update.Plan,
		status,
		update.ExpiresAt,
		update.EventAt,
		account.FirstUpgradeUsed || firstUpgrade,
		now,
		account.ID,
	).Error
	if err != nil {
		return err
	}

	account.Plan = update.Plan
	account.SubscriptionStatus = &status
	account.SubscriptionExpiresAt = update.ExpiresAt
	eventAt := update.EventAt
	account.LastSubscriptionEventAt = &eventAt
	if firstUpgrade {
		account.FirstUpgradeUsed = true
	}
	account.UpdatedAt = now
	return nil
}

func (r *repo) Downgrade(ctx context.Context, db *gorm.DB, id uuid.UUID, fromPlan string, expiredBefore time.Time, toPlan string, status accountdomain.Status) (bool, error) {
	// The plan and expiry guards make the write a no-op when a newer
	// subscription event committed after the caller read the row.
	result := db.WithContext(ctx).Exec(
		`UPDATE accounts
		 SET plan = ?,
		     subscription_status = ?,
		     updated_at = ?
		 WHERE id = ?
		   AND plan = ?
		   AND subscription_expires_at IS NOT NULL
		   AND subscription_expires_at < ?`,
		toPlan,
		string(status),
		r.clock.Now().UTC(),
		id,
		fromPlan,
		expiredBefore.UTC(),
	)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}
