package config

import (
	"errors"
	"log"
	"strings"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

// Unlimited marks a limit entry as not enforced for that plan.
const Unlimited = -1

// PlanPolicy is the feature->plan policy table: per-plan numeric ceilings and
// global guardrail parameters. Values are overridable through plans.yml.
type PlanPolicy struct {
	Limits map[string]map[string]int `mapstructure:"limits"`
	Global map[string]int            `mapstructure:"global"`
}

// DefaultPlanPolicy returns the compiled-in policy tables.
func DefaultPlanPolicy() PlanPolicy {
	return PlanPolicy{
		Limits: map[string]map[string]int{
			"GO_FREE": {
				"TRUSTED_CONTACT_MAX":    1,
				"THREAT_DAILY":           3,
				"EMAIL_MONTHLY":          3,
				"PASSWORD_MONTHLY":       3,
				"QR_WEEKLY":              3,
				"AI_IMAGE_LIFETIME":      1,
				"ANALYZE_DAILY_THREAT":   3,
				"ANALYZE_DAILY_EMAIL":    3,
				"ANALYZE_DAILY_PASSWORD": 3,
			},
			"GO_PRO": {
				"TRUSTED_CONTACT_MAX":    1,
				"THREAT_DAILY":           Unlimited,
				"EMAIL_MONTHLY":          Unlimited,
				"PASSWORD_MONTHLY":       Unlimited,
				"QR_WEEKLY":              Unlimited,
				"AI_IMAGE_LIFETIME":      Unlimited,
				"ANALYZE_DAILY_THREAT":   100,
				"ANALYZE_DAILY_EMAIL":    20,
				"ANALYZE_DAILY_PASSWORD": 20,
			},
			"GO_ULTRA": {
				"TRUSTED_CONTACT_MAX":    1,
				"THREAT_DAILY":           Unlimited,
				"EMAIL_MONTHLY":          Unlimited,
				"PASSWORD_MONTHLY":       Unlimited,
				"QR_WEEKLY":              Unlimited,
				"AI_IMAGE_LIFETIME":      Unlimited,
				"ANALYZE_DAILY_THREAT":   100,
				"ANALYZE_DAILY_EMAIL":    20,
				"ANALYZE_DAILY_PASSWORD": 20,
			},
			"FAMILY_BASIC": {
				"TRUSTED_CONTACT_MAX":    3,
				"THREAT_DAILY":           3,
				"EMAIL_MONTHLY":          3,
				"PASSWORD_MONTHLY":       3,
				"QR_WEEKLY":              3,
				"AI_IMAGE_LIFETIME":      1,
				"ANALYZE_DAILY_THREAT":   10,
				"ANALYZE_DAILY_EMAIL":    3,
				"ANALYZE_DAILY_PASSWORD": 3,
			},
			"FAMILY_PRO": {
				"TRUSTED_CONTACT_MAX":    6,
				"THREAT_DAILY":           3,
				"EMAIL_MONTHLY":          3,
				"PASSWORD_MONTHLY":       3,
				"QR_WEEKLY":              3,
				"AI_IMAGE_LIFETIME":      1,
				"ANALYZE_DAILY_THREAT":   10,
				"ANALYZE_DAILY_EMAIL":    3,
				"ANALYZE_DAILY_PASSWORD": 3,
			},
		},
		Global: map[string]int{
			"EMAIL_MAX_LENGTH":                   254,
			"EMAIL_GLOBAL_COOLDOWN_SECONDS":      60,
			"EMAIL_DUPLICATE_SCAN_BLOCK_SECONDS": 120,
			"EMAIL_RATE_WINDOW_SECONDS":          60,
			"EMAIL_RATE_LIMIT_USER":              8,
			"EMAIL_RATE_LIMIT_IP":                20,
			"AI_INSIGHT_RATE_WINDOW_SECONDS":     60,
			"AI_INSIGHT_RATE_LIMIT_IP":           20,
			"BREACH_EMAIL_CACHE_TTL_SECONDS":     300,
		},
	}
}

// PlanPolicyHolder serves the current policy table and hot-reloads it when
// the underlying plans.yml changes.
type PlanPolicyHolder struct {
	current atomic.Value // holds PlanPolicy
}

func NewPlanPolicyHolder() (*PlanPolicyHolder, error) {
	v := viper.New()

	v.SetConfigName("plans")
	v.SetConfigType("yml")
	v.AddConfigPath("/var/lib/gosuraksha/config")
	v.AddConfigPath("/etc/gosuraksha")
	v.AddConfigPath(".")

	v.SetEnvPrefix("GOSURAKSHA")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	defaults := DefaultPlanPolicy()
	v.SetDefault("plans.limits", defaults.Limits)
	v.SetDefault("plans.global", defaults.Global)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
	}

	var policy PlanPolicy
	if err := v.UnmarshalKey("plans", &policy); err != nil {
		return nil, err
	}
	if err := validatePlanPolicy(policy); err != nil {
		return nil, err
	}

	holder := &PlanPolicyHolder{}
	holder.current.Store(policy)

	v.WatchConfig()
	v.OnConfigChange(func(e fsnotify.Event) {
		var updated PlanPolicy
		if err := v.UnmarshalKey("plans", &updated); err != nil {
			log.Printf("[plan-policy] reload failed: %v", err)
			return
		}
		if err := validatePlanPolicy(updated); err != nil {
			log.Printf("[plan-policy] invalid config ignored: %v", err)
			return
		}
		holder.current.Store(updated)
		log.Printf("[plan-policy] reloaded from %s", e.Name)
	})

	return holder, nil
}

// NewStaticPlanPolicyHolder wraps a fixed policy table, used by tests.
func NewStaticPlanPolicyHolder(policy PlanPolicy) *PlanPolicyHolder {
	holder := &PlanPolicyHolder{}
	holder.current.Store(policy)
	return holder
}

func (h *PlanPolicyHolder) Get() PlanPolicy {
	return h.current.Load().(PlanPolicy)
}

func validatePlanPolicy(policy PlanPolicy) error {
	if len(policy.Limits) == 0 {
		return errors.New("plans.limits cannot be empty")
	}
	if _, ok := policy.Limits["GO_FREE"]; !ok {
		return errors.New("plans.limits must define GO_FREE")
	}
	return nil
}
