package licensing

import (
	"strings"
	"time"

	"github.com/licensefox/licensefox/app/models"
	"github.com/licensefox/licensefox/internal/pkg/env"
)

// TierPolicy holds the quotas and features granted to one tier. Nil quota
// values mean unlimited.
type TierPolicy struct {
	MaxStores         *int
	MaxProducts       *int
	MaxOrdersPerMonth *int
	Features          []string
}

// Policy is the configuration table driving license issuance: per-tier
// quotas and feature sets, the trial length, the paid billing interval and
// the post-expiry grace window.
type Policy struct {
	Tiers           map[string]TierPolicy
	TrialDuration   time.Duration
	BillingInterval string
	GraceWindow     time.Duration
}

var allFeatures = []string{
	"multi_store",
	"api_access",
	"custom_domain",
	"priority_support",
	"white_label",
}

var trialFeatures = []string{
	"api_access",
}

// DefaultPolicy returns the built-in tier table: a constrained trial and
// unlimited paid tiers.
func DefaultPolicy() *Policy {
	one := 1
	ten := 10
	fifty := 50
	return &Policy{
		Tiers: map[string]TierPolicy{
			models.LicenseTierTrial: {
				MaxStores:         &one,
				MaxProducts:       &ten,
				MaxOrdersPerMonth: &fifty,
				Features:          trialFeatures,
			},
			models.LicenseTierStandard: {
				Features: allFeatures,
			},
			models.LicenseTierEnterprise: {
				Features: allFeatures,
			},
		},
		TrialDuration:   14 * 24 * time.Hour,
		BillingInterval: models.BillingIntervalYear,
		GraceWindow:     7 * 24 * time.Hour,
	}
}

// PolicyFromEnv returns the default policy with the durations and interval
// overridden from environment configuration.
func PolicyFromEnv() *Policy {
	p := DefaultPolicy()
	if days := env.GetEnvInt("TRIAL_DURATION_DAYS", 14); days > 0 {
		p.TrialDuration = time.Duration(days) * 24 * time.Hour
	}
	if days := env.GetEnvInt("GRACE_PERIOD_DAYS", 7); days >= 0 {
		p.GraceWindow = time.Duration(days) * 24 * time.Hour
	}
	switch strings.ToLower(strings.TrimSpace(env.GetEnv("BILLING_INTERVAL", models.BillingIntervalYear))) {
	case models.BillingIntervalMonth:
		p.BillingInterval = models.BillingIntervalMonth
	default:
		p.BillingInterval = models.BillingIntervalYear
	}
	return p
}

// AddInterval advances t by one billing interval using calendar arithmetic,
// so an annual renewal lands on the same day next year.
func (p *Policy) AddInterval(t time.Time) time.Time {
	if p.BillingInterval == models.BillingIntervalMonth {
		return t.AddDate(0, 1, 0)
	}
	return t.AddDate(1, 0, 0)
}

// TierFor resolves a tier name to its policy entry.
func (p *Policy) TierFor(tier string) (TierPolicy, bool) {
	tp, ok := p.Tiers[strings.ToLower(strings.TrimSpace(tier))]
	return tp, ok
}
