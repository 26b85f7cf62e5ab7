package service

import (
	"context"
	"time"

	"github.com/google/uuid"
	accountdomain "github.com/gosuraksha/entitlements/internal/account/domain"
	"github.com/gosuraksha/entitlements/internal/audit"
	"github.com/gosuraksha/entitlements/internal/clock"
	"github.com/gosuraksha/entitlements/internal/observability/metrics"
	"github.com/gosuraksha/entitlements/internal/plan"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type ResolverParams struct {
	fx.In

	DB       *gorm.DB
	Log      *zap.Logger
	Accounts accountdomain.Repository
	Audit    *audit.Service
	Metrics  *metrics.Metrics
	Clock    clock.Clock
}

// Resolver answers "what plan does this account hold right now". There is no
// expiry sweeper; expired paid plans are downgraded the first time anyone
// reads the account after the expiry instant.
type Resolver struct {
	db       *gorm.DB
	log      *zap.Logger
	accounts accountdomain.Repository
	audit    *audit.Service
	metrics  *metrics.Metrics
	clock    clock.Clock
}

func NewResolver(p ResolverParams) *Resolver {
	return &Resolver{
		db:       p.DB,
		log:      p.Log.Named("subscription.resolver"),
		accounts: p.Accounts,
		audit:    p.Audit,
		metrics:  p.Metrics,
		clock:    p.Clock,
	}
}

// Expired reports whether the stored paid plan has lapsed at the given
// instant. GRACE counts the same as ACTIVE: grace ends at the stored expiry.
func Expired(account *accountdomain.Account, now time.Time) bool {
	if !plan.Paid(plan.Normalize(account.Plan)) {
		return false
	}
	if account.SubscriptionExpiresAt == nil {
		return false
	}
	return account.SubscriptionExpiresAt.Before(now)
}

// Load fetches the account and settles any lapsed paid plan before returning
// it, so callers always observe effective state.
func (r *Resolver) Load(ctx context.Context, id uuid.UUID) (*accountdomain.Account, error) {
	account, err := r.accounts.Find(ctx, r.db, id)
	if err != nil {
		return nil, err
	}
	if err := r.Refresh(ctx, account); err != nil {
		return nil, err
	}
	return account, nil
}

// Refresh persists the downgrade to the free plan when the paid plan has
// lapsed, and updates the in-memory account to match.
func (r *Resolver) Refresh(ctx context.Context, account *accountdomain.Account) error {
	now := r.clock.Now()
	if !Expired(account, now) {
		return nil
	}

	applied, err := r.accounts.Downgrade(ctx, r.db, account.ID, account.Plan, now, string(plan.TierFree), accountdomain.StatusExpired)
	if err != nil {
		return err
	}
	if !applied {
		// A newer subscription event committed after our read; it owns the
		// row now. Reload so the caller observes the committed state.
		fresh, err := r.accounts.Find(ctx, r.db, account.ID)
		if err != nil {
			return err
		}
		*account = *fresh
		return nil
	}

	accountID := account.ID
	r.metrics.LazyDowngrade(ctx)
	r.audit.Record(ctx, &accountID, audit.EventSubscriptionAutoDowngrade, "expired paid plan downgraded on read")
	r.log.Info("expired plan downgraded on read",
		zap.String("account_id", accountID.String()),
		zap.String("from_plan", account.Plan),
	)

	account.Plan = string(plan.TierFree)
	expired := string(accountdomain.StatusExpired)
	account.SubscriptionStatus = &expired
	return nil
}
