package plan

import (
	"testing"

	"github.com/gosuraksha/entitlements/internal/config"
	"github.com/gosuraksha/entitlements/internal/counterstore"
	"github.com/stretchr/testify/assert"
)

func TestNormalize(t *testing.T) {
	tests := []struct {
		raw  string
		want Tier
	}{
		{"GO_PRO", TierPro},
		{"go pro", TierPro},
		{"  PREMIUM ", TierPro},
		{"PAID", TierPro},
		{"ENTERPRISE", TierUltra},
		{"goultra", TierUltra},
		{"FAMILY_BASIC", TierFamilyBasic},
		{"FAMILY_PRO", TierFamilyPro},
		{"", TierFree},
		{"something_else", TierFree},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Normalize(tt.raw), "raw=%q", tt.raw)
	}
}

func TestExempt(t *testing.T) {
	assert.True(t, Exempt(TierPro))
	assert.True(t, Exempt(TierUltra))
	assert.False(t, Exempt(TierFree))
	// Family plans are paid but still metered.
	assert.False(t, Exempt(TierFamilyBasic))
	assert.False(t, Exempt(TierFamilyPro))
}

func TestHasFeature(t *testing.T) {
	assert.True(t, HasFeature(TierPro, FeatureOCRScan))
	assert.False(t, HasFeature(TierFree, FeatureOCRScan))
	assert.True(t, HasFeature(TierUltra, FeatureUltraPriorityPipeline))
	assert.False(t, HasFeature(TierPro, FeatureUltraPriorityPipeline))
	assert.True(t, HasFeature(TierFamilyBasic, FeatureFamilyAlerts))
}

func TestParseLimitKind(t *testing.T) {
	kind, ok := ParseLimitKind(" threat_daily ")
	assert.True(t, ok)
	assert.Equal(t, LimitThreatDaily, kind)

	kind, ok = ParseLimitKind("analyze_daily_threat")
	assert.True(t, ok)
	assert.Equal(t, LimitAnalyzeDailyThreat, kind)

	_, ok = ParseLimitKind("NOT_A_LIMIT")
	assert.False(t, ok)

	// Structural ceiling, not a metered kind.
	_, ok = ParseLimitKind("TRUSTED_CONTACT_MAX")
	assert.False(t, ok)
}

func TestAnalyzeKindsAreMetered(t *testing.T) {
	policy := NewPolicy(config.NewStaticPlanPolicyHolder(config.DefaultPlanPolicy()))

	for _, kind := range []LimitKind{LimitAnalyzeDailyThreat, LimitAnalyzeDailyEmail, LimitAnalyzeDailyPassword} {
		cfg, ok := ConfigFor(kind)
		assert.True(t, ok, "kind=%s", kind)
		assert.Equal(t, counterstore.WindowDaily, cfg.Window, "kind=%s", kind)
		assert.NotEmpty(t, cfg.Namespace, "kind=%s", kind)

		ceiling, limited := policy.LimitFor(TierFree, kind)
		assert.True(t, limited, "kind=%s", kind)
		assert.Equal(t, 3, ceiling, "kind=%s", kind)
	}
}

func TestTrustedContactCeiling(t *testing.T) {
	policy := NewPolicy(config.NewStaticPlanPolicyHolder(config.DefaultPlanPolicy()))

	ceiling, limited := policy.LimitFor(TierFree, LimitTrustedContactMax)
	assert.True(t, limited)
	assert.Equal(t, 1, ceiling)

	ceiling, limited = policy.LimitFor(TierFamilyPro, LimitTrustedContactMax)
	assert.True(t, limited)
	assert.Equal(t, 6, ceiling)
}

func TestLimitFor(t *testing.T) {
	policy := NewPolicy(config.NewStaticPlanPolicyHolder(config.DefaultPlanPolicy()))

	ceiling, limited := policy.LimitFor(TierFree, LimitThreatDaily)
	assert.True(t, limited)
	assert.Equal(t, 3, ceiling)

	ceiling, limited = policy.LimitFor(TierFree, LimitAIImageLifetime)
	assert.True(t, limited)
	assert.Equal(t, 1, ceiling)

	_, limited = policy.LimitFor(TierPro, LimitThreatDaily)
	assert.False(t, limited)

	// Unknown tiers fall back to the free tables, never to unlimited.
	ceiling, limited = policy.LimitFor(Tier("MYSTERY"), LimitThreatDaily)
	assert.True(t, limited)
	assert.Equal(t, 3, ceiling)
}

func TestGlobalLimit(t *testing.T) {
	policy := NewPolicy(config.NewStaticPlanPolicyHolder(config.DefaultPlanPolicy()))

	cooldown, ok := policy.GlobalLimit("EMAIL_GLOBAL_COOLDOWN_SECONDS")
	assert.True(t, ok)
	assert.Equal(t, 60, cooldown)

	_, ok = policy.GlobalLimit("NOT_CONFIGURED")
	assert.False(t, ok)
}
