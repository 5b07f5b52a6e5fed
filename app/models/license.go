package models

import (
	"strings"
	"time"
)

// Payment provider constants used across license-related models.
const (
	PaymentProviderStripe   = "stripe"
	PaymentProviderRazorpay = "razorpay"
)

const (
	LicenseTierTrial      = "trial"
	LicenseTierStandard   = "standard"
	LicenseTierEnterprise = "enterprise"
)

const (
	LicenseStatusPendingActivation = "pending_activation"
	LicenseStatusActive            = "active"
	LicenseStatusGracePeriod       = "grace_period"
	LicenseStatusExpired           = "expired"
	LicenseStatusSuspended         = "suspended"
	LicenseStatusRevoked           = "revoked"
)

// License is the issued credential controlling product access. The key is
// globally unique; ValidUntil == nil means unlimited validity. Quota fields
// use nil for "unlimited".
type License struct {
	ID                uint       `gorm:"primaryKey" json:"id"`
	LicenseKey        string     `gorm:"type:varchar(64);not null;index:ux_licenses_key,unique" json:"license_key"`
	Tier              string     `gorm:"type:varchar(20);not null;index" json:"tier"`
	Status            string     `gorm:"type:varchar(32);not null;default:'pending_activation';index" json:"status"`
	CustomerEmail     string     `gorm:"type:varchar(200);not null;index" json:"customer_email"`
	CustomerName      string     `gorm:"type:varchar(200);default:''" json:"customer_name"`
	CustomerCompany   string     `gorm:"type:varchar(200);default:''" json:"customer_company"`
	Domain            string     `gorm:"type:varchar(255);default:''" json:"domain"`
	ValidFrom         time.Time  `gorm:"type:timestamp;not null" json:"valid_from"`
	ValidUntil        *time.Time `gorm:"type:timestamp;default:null" json:"valid_until,omitempty"`
	MaxStores         *int       `gorm:"default:null" json:"max_stores,omitempty"`
	MaxProducts       *int       `gorm:"default:null" json:"max_products,omitempty"`
	MaxOrdersPerMonth *int       `gorm:"default:null" json:"max_orders_per_month,omitempty"`
	FeaturesJSON      string     `gorm:"type:text" json:"features_json"`
	AutoRenew         bool       `gorm:"default:true" json:"auto_renew"`
	Provider          string     `gorm:"type:varchar(20);not null" json:"provider"`
	ValidationCount   int64      `gorm:"not null;default:0" json:"validation_count"`
	CreatedAt         time.Time  `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt         time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}

// MaskedKey returns the license key with the unique suffix hidden, keeping
// the tier prefix and the last four characters for recognizability.
func (l *License) MaskedKey() string {
	key := strings.TrimSpace(l.LicenseKey)
	idx := strings.Index(key, "-")
	if idx < 0 || len(key) < idx+6 {
		return "****"
	}
	return key[:idx+1] + "****" + key[len(key)-4:]
}

// TemporalStatus computes the time-derived lifecycle state for the license.
// Administrative states (suspended, revoked) are sticky and returned as-is;
// for everything else the validity window plus the grace window decides.
func (l *License) TemporalStatus(now time.Time, grace time.Duration) string {
	switch l.Status {
	case LicenseStatusSuspended, LicenseStatusRevoked, LicenseStatusPendingActivation:
		return l.Status
	}
	if l.ValidUntil == nil {
		return LicenseStatusActive
	}
	if now.Before(*l.ValidUntil) {
		return LicenseStatusActive
	}
	if now.Before(l.ValidUntil.Add(grace)) {
		return LicenseStatusGracePeriod
	}
	return LicenseStatusExpired
}

// IsUsable reports whether the license currently grants access, counting the
// grace period as still usable.
func (l *License) IsUsable(now time.Time, grace time.Duration) bool {
	switch l.TemporalStatus(now, grace) {
	case LicenseStatusActive, LicenseStatusGracePeriod:
		return true
	default:
		return false
	}
}
