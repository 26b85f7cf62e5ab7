// Package quota decides, under concurrent requests from the same subject,
// whether an action is allowed under the subject's plan-defined ceilings.
// Quota truth lives only in the shared counter store and the account row;
// nothing here keeps process-local counters.
package quota

import (
	"context"
	"fmt"
	"time"

	accountdomain "github.com/gosuraksha/entitlements/internal/account/domain"
	"github.com/gosuraksha/entitlements/internal/audit"
	"github.com/gosuraksha/entitlements/internal/clock"
	"github.com/gosuraksha/entitlements/internal/counterstore"
	"github.com/gosuraksha/entitlements/internal/observability/metrics"
	"github.com/gosuraksha/entitlements/internal/plan"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	cooldownNamespace = "plan-limit:cooldown"
	cooldownTTL       = 60 * time.Second
)

type Params struct {
	fx.In

	DB       *gorm.DB
	Log      *zap.Logger
	Store    *counterstore.Store
	Accounts accountdomain.Repository
	Policy   *plan.Policy
	Audit    *audit.Service
	Metrics  *metrics.Metrics
	Clock    clock.Clock
}

type Enforcer struct {
	db       *gorm.DB
	log      *zap.Logger
	store    *counterstore.Store
	accounts accountdomain.Repository
	policy   *plan.Policy
	audit    *audit.Service
	metrics  *metrics.Metrics
	clock    clock.Clock
}

func NewEnforcer(p Params) *Enforcer {
	return &Enforcer{
		db:       p.DB,
		log:      p.Log.Named("quota"),
		store:    p.Store,
		accounts: p.Accounts,
		policy:   p.Policy,
		audit:    p.Audit,
		metrics:  p.Metrics,
		clock:    p.Clock,
	}
}

// Enforce admits or denies one action for (account, kind). It returns nil on
// allow, *ExceededError on denial, and a counterstore.ErrUnavailable-wrapped
// error when the counter store is unreachable — the caller must fail closed.
//
// The account is expected to have passed the lazy downgrade resolver already,
// so the stored plan is never stale here.
func (e *Enforcer) Enforce(ctx context.Context, account *accountdomain.Account, kind plan.LimitKind) error {
	tier := plan.Normalize(account.Plan)
	if plan.Exempt(tier) {
		return nil
	}

	cfg, ok := plan.ConfigFor(kind)
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownLimitKind, kind)
	}

	ceiling, limited := e.policy.LimitFor(tier, kind)
	if !limited {
		return nil
	}

	subject := account.ID.String()
	cooldownPart := string(cfg.Feature)

	// Anti-hot-loop: once a subject is known to be over-limit, deny without
	// touching the counters again until the cooldown lapses.
	active, err := e.store.IsCooldownActive(ctx, cooldownNamespace, subject, cooldownPart)
	if err != nil {
		e.log.Error("cooldown check failed", zap.String("limit_type", string(kind)), zap.Error(err))
		return err
	}
	if active {
		e.metrics.QuotaCooldownHit(ctx, string(kind))
		return e.deny(ctx, account, tier, kind, cfg, ceiling, "limit_cooldown_active")
	}

	if cfg.Window == plan.WindowLifetime {
		return e.consumeLifetime(ctx, account, tier, kind, cfg, ceiling)
	}

	allowed, err := e.store.FixedBucketAllow(ctx, cfg.Namespace, ceiling, cfg.Window, subject)
	if err != nil {
		e.log.Error("quota check failed", zap.String("limit_type", string(kind)), zap.Error(err))
		return err
	}
	if !allowed {
		if err := e.setCooldown(ctx, subject, cooldownPart, kind); err != nil {
			return err
		}
		return e.deny(ctx, account, tier, kind, cfg, ceiling, "plan_limit_exceeded")
	}

	e.metrics.QuotaAllowed(ctx, string(kind))
	return nil
}

func (e *Enforcer) setCooldown(ctx context.Context, subject, cooldownPart string, kind plan.LimitKind) error {
	if _, err := e.store.AcquireCooldown(ctx, cooldownNamespace, cooldownTTL, subject, cooldownPart); err != nil {
		e.log.Error("cooldown set failed", zap.String("limit_type", string(kind)), zap.Error(err))
		return err
	}
	return nil
}

func (e *Enforcer) deny(ctx context.Context, account *accountdomain.Account, tier plan.Tier, kind plan.LimitKind, cfg plan.KindConfig, ceiling int, reason string) error {
	now := e.clock.Now()
	upgrade := plan.Recommend(cfg.Feature, account.FirstUpgradeUsed, account.CreatedAt, now)

	accountID := account.ID
	e.audit.Record(ctx, &accountID, audit.EventPlanLimitExceeded, fmt.Sprintf(
		"plan=%s feature=%s limit_type=%s limit=%d reason=%s",
		tier, cfg.Feature, kind, ceiling, reason,
	))
	e.metrics.QuotaDenied(ctx, string(kind))
	e.log.Info("plan limit exceeded",
		zap.String("account_id", accountID.String()),
		zap.String("plan", string(tier)),
		zap.String("limit_type", string(kind)),
		zap.Int("limit", ceiling),
		zap.String("reason", reason),
	)

	return &ExceededError{
		Plan:      tier,
		LimitType: kind,
		Window:    string(cfg.Window),
		Limit:     ceiling,
		Reason:    reason,
		Upgrade:   upgrade,
	}
}
