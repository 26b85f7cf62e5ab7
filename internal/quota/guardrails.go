package quota

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/gosuraksha/entitlements/internal/counterstore"
	"github.com/gosuraksha/entitlements/internal/plan"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Guardrail namespaces are keyed per feature, separate from the plan-limit
// counters so a guardrail block never consumes plan quota.
const (
	emailCooldownNamespace  = "email-scan:cooldown"
	emailDuplicateNamespace = "email-scan:duplicate"
	emailUserRateNamespace  = "email-scan:rate:user"
	emailIPRateNamespace    = "email-scan:rate:ip"
	aiInsightRateNamespace  = "ai-insight:rate:ip"
	breachCacheNamespace    = "email-scan:breach-cache"
)

// GuardrailError is a denial from the abuse guardrails, distinct from plan
// limits: it carries no upgrade guidance because upgrading does not lift it.
type GuardrailError struct {
	Reason string
}

func (e *GuardrailError) Error() string {
	return "guardrail_limit"
}

type GuardrailParams struct {
	fx.In

	Log    *zap.Logger
	Store  *counterstore.Store
	Policy *plan.Policy
}

// Guardrails applies the per-feature abuse limits that sit in front of the
// expensive scan backends: scan cooldowns, duplicate-scan blocks, and
// per-user / per-IP sliding windows. All parameters come from the global
// section of the plan policy tables.
type Guardrails struct {
	log    *zap.Logger
	store  *counterstore.Store
	policy *plan.Policy
}

func NewGuardrails(p GuardrailParams) *Guardrails {
	return &Guardrails{
		log:    p.Log.Named("guardrails"),
		store:  p.Store,
		policy: p.Policy,
	}
}

// AllowEmailScan admits one email breach scan for (account, email, ip).
// Checks run cheapest first; each acquires its own budget, so a denial on a
// later check can leave earlier budgets consumed. That matches the
// abuse-control intent: a blocked caller should not probe for free.
func (g *Guardrails) AllowEmailScan(ctx context.Context, accountID, email, clientIP string) error {
	email = strings.ToLower(strings.TrimSpace(email))

	cooldown := g.globalSeconds("EMAIL_GLOBAL_COOLDOWN_SECONDS", 60)
	ok, err := g.store.AcquireCooldown(ctx, emailCooldownNamespace, cooldown, accountID)
	if err != nil {
		return err
	}
	if !ok {
		return g.deny("email_scan_cooldown_active", accountID)
	}

	dupBlock := g.globalSeconds("EMAIL_DUPLICATE_SCAN_BLOCK_SECONDS", 120)
	ok, err = g.store.AcquireCooldown(ctx, emailDuplicateNamespace, dupBlock, accountID, email)
	if err != nil {
		return err
	}
	if !ok {
		return g.deny("duplicate_email_scan_blocked", accountID)
	}

	window := g.globalSeconds("EMAIL_RATE_WINDOW_SECONDS", 60)
	userLimit := g.globalLimit("EMAIL_RATE_LIMIT_USER", 8)
	allowed, err := g.store.SlidingWindowAllow(ctx, emailUserRateNamespace, userLimit, window, accountID)
	if err != nil {
		return err
	}
	if !allowed {
		return g.deny("email_scan_user_rate_exceeded", accountID)
	}

	if clientIP != "" {
		ipLimit := g.globalLimit("EMAIL_RATE_LIMIT_IP", 20)
		allowed, err = g.store.SlidingWindowAllow(ctx, emailIPRateNamespace, ipLimit, window, clientIP)
		if err != nil {
			return err
		}
		if !allowed {
			return g.deny("email_scan_ip_rate_exceeded", accountID)
		}
	}

	return nil
}

// AllowAIInsight rate-limits the AI insight endpoint per client IP.
func (g *Guardrails) AllowAIInsight(ctx context.Context, clientIP string) error {
	window := g.globalSeconds("AI_INSIGHT_RATE_WINDOW_SECONDS", 60)
	limit := g.globalLimit("AI_INSIGHT_RATE_LIMIT_IP", 20)

	allowed, err := g.store.SlidingWindowAllow(ctx, aiInsightRateNamespace, limit, window, clientIP)
	if err != nil {
		return err
	}
	if !allowed {
		return g.deny("ai_insight_rate_exceeded", clientIP)
	}
	return nil
}

// CachedBreachResult returns the cached breach scan for an email, if any.
// A cache hit bypasses the guardrails entirely: serving cached data is free.
func (g *Guardrails) CachedBreachResult(ctx context.Context, email string) (json.RawMessage, bool, error) {
	var raw json.RawMessage
	found, err := g.store.GetJSON(ctx, breachCacheNamespace, &raw, strings.ToLower(strings.TrimSpace(email)))
	if err != nil {
		return nil, false, err
	}
	return raw, found, nil
}

// StoreBreachResult caches a completed breach scan result.
func (g *Guardrails) StoreBreachResult(ctx context.Context, email string, result json.RawMessage) error {
	ttl := g.globalSeconds("BREACH_EMAIL_CACHE_TTL_SECONDS", 300)
	return g.store.SetJSON(ctx, breachCacheNamespace, result, ttl, strings.ToLower(strings.TrimSpace(email)))
}

func (g *Guardrails) deny(reason, subject string) error {
	g.log.Info("guardrail denied",
		zap.String("reason", reason),
		zap.String("subject", subject),
	)
	return &GuardrailError{Reason: reason}
}

func (g *Guardrails) globalSeconds(name string, def int) time.Duration {
	return time.Duration(g.globalLimit(name, def)) * time.Second
}

func (g *Guardrails) globalLimit(name string, def int) int {
	if value, ok := g.policy.GlobalLimit(name); ok {
		return value
	}
	return def
}
