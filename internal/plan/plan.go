// Package plan is the single canonical source of plan tiers, alias
// normalization, feature grants, and limit-kind metadata. Every quota check
// resolves plans through here; divergent tier-normalization paths are a bug
// surface and must not be reintroduced.
package plan

import (
	"sort"
	"strings"

	"github.com/gosuraksha/entitlements/internal/config"
	"github.com/gosuraksha/entitlements/internal/counterstore"
)

// Tier is a subscription plan tier.
type Tier string

const (
	TierFree        Tier = "GO_FREE"
	TierPro         Tier = "GO_PRO"
	TierUltra       Tier = "GO_ULTRA"
	TierFamilyBasic Tier = "FAMILY_BASIC"
	TierFamilyPro   Tier = "FAMILY_PRO"
)

var aliases = map[string]Tier{
	"FREE":         TierFree,
	"GO FREE":      TierFree,
	"GO_FREE":      TierFree,
	"GOFREE":       TierFree,
	"PAID":         TierPro,
	"PRO":          TierPro,
	"GO PRO":       TierPro,
	"GO_PRO":       TierPro,
	"GOPRO":        TierPro,
	"PREMIUM":      TierPro,
	"ULTRA":        TierUltra,
	"GO ULTRA":     TierUltra,
	"GO_ULTRA":     TierUltra,
	"GOULTRA":      TierUltra,
	"ENTERPRISE":   TierUltra,
	"FAMILY_BASIC": TierFamilyBasic,
	"FAMILY_PRO":   TierFamilyPro,
}

// Normalize maps any raw plan string (store product names, provider aliases,
// legacy values) to a canonical tier. Unknown values fall back to free.
func Normalize(raw string) Tier {
	trimmed := strings.ToUpper(strings.TrimSpace(raw))
	if trimmed == "" {
		return TierFree
	}
	if tier, ok := aliases[trimmed]; ok {
		return tier
	}
	return TierFree
}

// Paid reports whether the tier grants paid entitlements and therefore must
// carry an expiry while active.
func Paid(t Tier) bool {
	return t != TierFree
}

// Exempt reports whether the tier bypasses usage quotas entirely.
func Exempt(t Tier) bool {
	return t == TierPro || t == TierUltra
}

// Feature is a named capability gated by plan.
type Feature string

const (
	FeatureEmailBreachCount      Feature = "EMAIL_BREACH_COUNT"
	FeatureEmailBreachDetails    Feature = "EMAIL_BREACH_DETAILS"
	FeatureOCRScan               Feature = "OCR_SCAN"
	FeatureAIExplain             Feature = "AI_EXPLAIN"
	FeatureRiskInsights          Feature = "RISK_INSIGHTS"
	FeatureCyberCardAccess       Feature = "CYBER_CARD_ACCESS"
	FeatureQRUnlimited           Feature = "QR_UNLIMITED"
	FeatureTrustedContactLimit   Feature = "TRUSTED_CONTACT_LIMIT"
	FeatureFamilyAlerts          Feature = "FAMILY_ALERTS"
	FeaturePrioritySOS           Feature = "PRIORITY_SOS"
	FeatureUltraPriorityPipeline Feature = "ULTRA_PRIORITY_PIPELINE"
	FeatureThreatScan            Feature = "THREAT_SCAN"
	FeaturePasswordScan          Feature = "PASSWORD_SCAN"
	FeatureAIImageScan           Feature = "AI_IMAGE_SCAN"
)

var proFeatures = map[Feature]struct{}{
	FeatureEmailBreachCount:    {},
	FeatureEmailBreachDetails:  {},
	FeatureOCRScan:             {},
	FeatureAIExplain:           {},
	FeatureRiskInsights:        {},
	FeatureCyberCardAccess:     {},
	FeatureQRUnlimited:         {},
	FeatureTrustedContactLimit: {},
	FeaturePrioritySOS:         {},
}

var tierFeatures = map[Tier]map[Feature]struct{}{
	TierFree: {
		FeatureEmailBreachCount:    {},
		FeatureTrustedContactLimit: {},
	},
	TierPro: proFeatures,
	TierUltra: merge(proFeatures, map[Feature]struct{}{
		FeatureUltraPriorityPipeline: {},
	}),
	TierFamilyBasic: {
		FeatureEmailBreachCount:    {},
		FeatureTrustedContactLimit: {},
		FeatureFamilyAlerts:        {},
	},
	TierFamilyPro: {
		FeatureEmailBreachCount:    {},
		FeatureTrustedContactLimit: {},
		FeatureFamilyAlerts:        {},
	},
}

func merge(sets ...map[Feature]struct{}) map[Feature]struct{} {
	out := make(map[Feature]struct{})
	for _, set := range sets {
		for f := range set {
			out[f] = struct{}{}
		}
	}
	return out
}

// HasFeature reports whether the tier grants the feature.
func HasFeature(t Tier, f Feature) bool {
	_, ok := tierFeatures[t][f]
	return ok
}

// Features returns the tier's feature grants in stable order.
func Features(t Tier) []Feature {
	set := tierFeatures[t]
	out := make([]Feature, 0, len(set))
	for f := range set {
		out = append(out, f)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// LimitKind is a named quota dimension.
type LimitKind string

const (
	LimitThreatDaily          LimitKind = "THREAT_DAILY"
	LimitEmailMonthly         LimitKind = "EMAIL_MONTHLY"
	LimitPasswordMonthly      LimitKind = "PASSWORD_MONTHLY"
	LimitQRWeekly             LimitKind = "QR_WEEKLY"
	LimitAIImageLifetime      LimitKind = "AI_IMAGE_LIFETIME"
	LimitAnalyzeDailyThreat   LimitKind = "ANALYZE_DAILY_THREAT"
	LimitAnalyzeDailyEmail    LimitKind = "ANALYZE_DAILY_EMAIL"
	LimitAnalyzeDailyPassword LimitKind = "ANALYZE_DAILY_PASSWORD"

	// LimitTrustedContactMax is a structural ceiling, not a metered rate:
	// the app compares it against the subject's current contact count, so it
	// never enters the counter store and cannot be passed to Enforce.
	LimitTrustedContactMax LimitKind = "TRUSTED_CONTACT_MAX"
)

// WindowLifetime marks limits that never reset and live on the account row
// rather than in the counter store.
const WindowLifetime counterstore.Window = "lifetime"

// KindConfig describes how one limit kind is enforced.
type KindConfig struct {
	Window    counterstore.Window
	Namespace string
	Feature   Feature
}

var kindConfigs = map[LimitKind]KindConfig{
	LimitThreatDaily: {
		Window:    counterstore.WindowDaily,
		Namespace: "plan-limit:threat:daily",
		Feature:   FeatureThreatScan,
	},
	LimitEmailMonthly: {
		Window:    counterstore.WindowMonthly,
		Namespace: "plan-limit:email:monthly",
		Feature:   FeatureEmailBreachCount,
	},
	LimitPasswordMonthly: {
		Window:    counterstore.WindowMonthly,
		Namespace: "plan-limit:password:monthly",
		Feature:   FeaturePasswordScan,
	},
	LimitQRWeekly: {
		Window:    counterstore.WindowWeekly,
		Namespace: "plan-limit:qr:weekly",
		Feature:   FeatureQRUnlimited,
	},
	LimitAIImageLifetime: {
		Window:  WindowLifetime,
		Feature: FeatureAIImageScan,
	},
	LimitAnalyzeDailyThreat: {
		Window:    counterstore.WindowDaily,
		Namespace: "plan-limit:analyze:threat:daily",
		Feature:   FeatureAIExplain,
	},
	LimitAnalyzeDailyEmail: {
		Window:    counterstore.WindowDaily,
		Namespace: "plan-limit:analyze:email:daily",
		Feature:   FeatureAIExplain,
	},
	LimitAnalyzeDailyPassword: {
		Window:    counterstore.WindowDaily,
		Namespace: "plan-limit:analyze:password:daily",
		Feature:   FeatureAIExplain,
	},
}

// Kinds returns all known limit kinds in stable order.
func Kinds() []LimitKind {
	out := make([]LimitKind, 0, len(kindConfigs))
	for kind := range kindConfigs {
		out = append(out, kind)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// ConfigFor returns the enforcement config for a limit kind.
func ConfigFor(kind LimitKind) (KindConfig, bool) {
	cfg, ok := kindConfigs[kind]
	return cfg, ok
}

// ParseLimitKind validates a caller-supplied limit kind string.
func ParseLimitKind(raw string) (LimitKind, bool) {
	kind := LimitKind(strings.ToUpper(strings.TrimSpace(raw)))
	_, ok := kindConfigs[kind]
	return kind, ok
}

// Policy answers "what is the numeric ceiling for (plan, limit kind)" from the
// hot-reloadable policy tables.
type Policy struct {
	holder *config.PlanPolicyHolder
}

func NewPolicy(holder *config.PlanPolicyHolder) *Policy {
	return &Policy{holder: holder}
}

// LimitFor returns the ceiling for (tier, kind). ok=false means the plan is
// not limited on this dimension.
func (p *Policy) LimitFor(tier Tier, kind LimitKind) (int, bool) {
	policy := p.holder.Get()
	limits, found := policy.Limits[string(tier)]
	if !found {
		limits = policy.Limits[string(TierFree)]
	}
	ceiling, found := limits[string(kind)]
	if !found || ceiling == config.Unlimited {
		return 0, false
	}
	return ceiling, true
}

// GlobalLimit returns a global guardrail parameter (cooldown seconds, window
// sizes) shared by all plans.
func (p *Policy) GlobalLimit(name string) (int, bool) {
	value, ok := p.holder.Get().Global[name]
	return value, ok
}
