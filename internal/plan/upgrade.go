package plan

import "time"

// Upgrade is the guidance attached to quota denials: which plan removes the
// limit and whether the account still qualifies for the first-purchase offer.
type Upgrade struct {
	RecommendedPlan Tier     `json:"recommended_plan"`
	Benefits        []string `json:"benefits"`
	Discount        Discount `json:"discount_eligibility"`
}

type Discount struct {
	Eligible      bool       `json:"eligible"`
	WindowDays    int        `json:"window_days"`
	Reason        string     `json:"reason,omitempty"`
	DiscountUntil *time.Time `json:"discount_until,omitempty"`
}

const discountWindowDays = 30

type recommendation struct {
	plan     Tier
	benefits []string
}

var featureUpgrades = map[Feature]recommendation{
	FeatureThreatScan: {
		plan:     TierPro,
		benefits: []string{"Higher threat scan limits", "Priority protection features"},
	},
	FeaturePasswordScan: {
		plan:     TierPro,
		benefits: []string{"Higher password scan limits", "Expanded security diagnostics"},
	},
	FeatureAIImageScan: {
		plan:     TierPro,
		benefits: []string{"More AI image scans", "Extended deepfake protection"},
	},
	FeatureEmailBreachCount: {
		plan:     TierPro,
		benefits: []string{"Higher email breach scan limits", "Extended breach visibility"},
	},
	FeatureQRUnlimited: {
		plan:     TierPro,
		benefits: []string{"Unlimited QR scans", "Unlimited QR scam reports"},
	},
	FeatureOCRScan: {
		plan:     TierPro,
		benefits: []string{"OCR scam detection", "Screenshot analysis", "Higher scan limits"},
	},
	FeatureAIExplain: {
		plan:     TierPro,
		benefits: []string{"Human-readable security explanations", "Attack intent analysis", "Clear next steps"},
	},
	FeatureRiskInsights: {
		plan:     TierPro,
		benefits: []string{"Behavioral scam patterns", "Risk timeline analysis", "Personalized security recommendations"},
	},
	FeatureCyberCardAccess: {
		plan:     TierPro,
		benefits: []string{"Monthly Cyber Card score", "Historical cyber score tracking"},
	},
	FeatureFamilyAlerts: {
		plan:     TierFamilyPro,
		benefits: []string{"Family security alerts", "Family-level risk visibility"},
	},
	FeatureUltraPriorityPipeline: {
		plan:     TierUltra,
		benefits: []string{"Priority protection pipeline", "Fastest incident handling"},
	},
}

// Recommend builds upgrade guidance for the feature behind a denied limit.
func Recommend(feature Feature, firstUpgradeUsed bool, createdAt time.Time, now time.Time) Upgrade {
	rec, ok := featureUpgrades[feature]
	if !ok {
		rec = recommendation{
			plan:     TierPro,
			benefits: []string{"Higher usage limits"},
		}
	}
	return Upgrade{
		RecommendedPlan: rec.plan,
		Benefits:        rec.benefits,
		Discount:        discountFor(firstUpgradeUsed, createdAt, now),
	}
}

func discountFor(firstUpgradeUsed bool, createdAt time.Time, now time.Time) Discount {
	if firstUpgradeUsed {
		return Discount{
			Eligible:   false,
			WindowDays: discountWindowDays,
			Reason:     "first_upgrade_already_used",
		}
	}
	if createdAt.IsZero() {
		return Discount{
			Eligible:   false,
			WindowDays: discountWindowDays,
			Reason:     "created_at_unavailable",
		}
	}

	until := createdAt.UTC().Add(discountWindowDays * 24 * time.Hour)
	if now.UTC().After(until) {
		return Discount{
			Eligible:   false,
			WindowDays: discountWindowDays,
			Reason:     "discount_window_elapsed",
		}
	}
	return Discount{
		Eligible:      true,
		WindowDays:    discountWindowDays,
		DiscountUntil: &until,
	}
}
