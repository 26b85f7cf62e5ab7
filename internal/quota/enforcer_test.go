package quota

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	accountdomain "github.com/gosuraksha/entitlements/internal/account/domain"
	"github.com/gosuraksha/entitlements/internal/clock"
	"github.com/gosuraksha/entitlements/internal/config"
	"github.com/gosuraksha/entitlements/internal/counterstore"
	"github.com/gosuraksha/entitlements/internal/observability/metrics"
	"github.com/gosuraksha/entitlements/internal/plan"
	redis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
)

func newRedisStore(t *testing.T) (*counterstore.Store, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return counterstore.New(client, clock.NewFakeClock(time.Date(2025, 6, 18, 12, 0, 0, 0, time.UTC))), mr
}

func newTestEnforcer(t *testing.T, policy config.PlanPolicy, store *counterstore.Store) *Enforcer {
	t.Helper()
	return NewEnforcer(Params{
		Log:     zap.NewNop(),
		Store:   store,
		Policy:  plan.NewPolicy(config.NewStaticPlanPolicyHolder(policy)),
		Metrics: metrics.Noop(),
		Clock:   clock.NewFakeClock(time.Date(2025, 6, 18, 12, 0, 0, 0, time.UTC)),
	})
}

func testAccount(rawPlan string) *accountdomain.Account {
	return &accountdomain.Account{
		ID:        uuid.New(),
		Plan:      rawPlan,
		CreatedAt: time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC),
	}
}

func TestEnforceExemptTiers(t *testing.T) {
	// Exempt tiers never touch the counter store; a nil store proves it.
	e := newTestEnforcer(t, config.DefaultPlanPolicy(), nil)

	assert.NoError(t, e.Enforce(context.Background(), testAccount("GO_PRO"), plan.LimitThreatDaily))
	assert.NoError(t, e.Enforce(context.Background(), testAccount("GO_ULTRA"), plan.LimitThreatDaily))
	// Provider aliases normalize before the exemption check.
	assert.NoError(t, e.Enforce(context.Background(), testAccount("premium"), plan.LimitThreatDaily))
}

func TestEnforceUnknownKind(t *testing.T) {
	e := newTestEnforcer(t, config.DefaultPlanPolicy(), nil)

	err := e.Enforce(context.Background(), testAccount("GO_FREE"), plan.LimitKind("NOT_A_KIND"))
	assert.ErrorIs(t, err, ErrUnknownLimitKind)
}

func TestEnforceUnlimitedDimension(t *testing.T) {
	policy := config.PlanPolicy{
		Limits: map[string]map[string]int{
			"GO_FREE":    {"THREAT_DAILY": 3},
			"FAMILY_PRO": {"THREAT_DAILY": config.Unlimited},
		},
	}
	e := newTestEnforcer(t, policy, nil)

	// Metered tier with an unlimited dimension skips the counters entirely.
	assert.NoError(t, e.Enforce(context.Background(), testAccount("FAMILY_PRO"), plan.LimitThreatDaily))
}

func TestEnforceDenialArmsCooldown(t *testing.T) {
	policy := config.PlanPolicy{
		Limits: map[string]map[string]int{
			"GO_FREE": {"THREAT_DAILY": 1},
		},
	}
	store, _ := newRedisStore(t)
	e := newTestEnforcer(t, policy, store)
	account := testAccount("GO_FREE")

	assert.NoError(t, e.Enforce(context.Background(), account, plan.LimitThreatDaily))

	err := e.Enforce(context.Background(), account, plan.LimitThreatDaily)
	exceeded, ok := AsExceeded(err)
	assert.True(t, ok)
	assert.Equal(t, "plan_limit_exceeded", exceeded.Reason)
	assert.Equal(t, 1, exceeded.Limit)
	assert.Equal(t, plan.TierPro, exceeded.Upgrade.RecommendedPlan)

	// The denial armed the cooldown: later checks deny on the existence
	// check alone, before any counter work.
	err = e.Enforce(context.Background(), account, plan.LimitThreatDaily)
	exceeded, ok = AsExceeded(err)
	assert.True(t, ok)
	assert.Equal(t, "limit_cooldown_active", exceeded.Reason)
}

func TestEnforceCooldownIsPerFeature(t *testing.T) {
	policy := config.PlanPolicy{
		Limits: map[string]map[string]int{
			"GO_FREE": {"THREAT_DAILY": 1, "QR_WEEKLY": 3},
		},
	}
	store, _ := newRedisStore(t)
	e := newTestEnforcer(t, policy, store)
	account := testAccount("GO_FREE")

	assert.NoError(t, e.Enforce(context.Background(), account, plan.LimitThreatDaily))
	err := e.Enforce(context.Background(), account, plan.LimitThreatDaily)
	_, ok := AsExceeded(err)
	assert.True(t, ok)

	// An armed threat-scan cooldown does not bleed into other dimensions.
	assert.NoError(t, e.Enforce(context.Background(), account, plan.LimitQRWeekly))
}

func TestEnforceFailsClosedWithoutStore(t *testing.T) {
	e := newTestEnforcer(t, config.DefaultPlanPolicy(), nil)

	err := e.Enforce(context.Background(), testAccount("GO_FREE"), plan.LimitThreatDaily)
	assert.ErrorIs(t, err, counterstore.ErrUnavailable)

	// The lifetime path fails closed the same way.
	err = e.Enforce(context.Background(), testAccount("GO_FREE"), plan.LimitAIImageLifetime)
	assert.ErrorIs(t, err, counterstore.ErrUnavailable)
}
