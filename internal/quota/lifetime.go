package quota

import (
	"context"

	accountdomain "github.com/gosuraksha/entitlements/internal/account/domain"
	"github.com/gosuraksha/entitlements/internal/plan"
	"go.uber.org/zap"
)

// consumeLifetime enforces limits that must never reset. The counter lives on
// the account row behind a conditional update, not in the cache, because it
// has to survive cache eviction and restarts. Zero rows affected means the
// ceiling was reached by this or a concurrent call.
func (e *Enforcer) consumeLifetime(ctx context.Context, account *accountdomain.Account, tier plan.Tier, kind plan.LimitKind, cfg plan.KindConfig, ceiling int) error {
	consumed, err := e.accounts.ConsumeLifetime(ctx, e.db, account.ID, ceiling)
	if err != nil {
		e.log.Error("lifetime counter update failed",
			zap.String("limit_type", string(kind)),
			zap.Error(err),
		)
		return err
	}

	if !consumed {
		// Cooldown here protects the transactional store from being hammered
		// by a subject that is permanently over this limit.
		if err := e.setCooldown(ctx, account.ID.String(), string(cfg.Feature), kind); err != nil {
			return err
		}
		return e.deny(ctx, account, tier, kind, cfg, ceiling, "plan_limit_exceeded")
	}

	// Keep the in-memory aggregate usable for same-request reuse.
	account.AIImageLifetimeUsed++
	e.metrics.QuotaAllowed(ctx, string(kind))
	return nil
}
