package models

import "time"

const (
	BillingIntervalMonth = "month"
	BillingIntervalYear  = "year"
)

const (
	SubscriptionStatusTrialing  = "trialing"
	SubscriptionStatusActive    = "active"
	SubscriptionStatusPastDue   = "past_due"
	SubscriptionStatusCancelled = "cancelled"
	SubscriptionStatusExpired   = "expired"
	SubscriptionStatusPaused    = "paused"
)

// Subscription mirrors the provider-side recurring billing relationship that
// funds a license. At most one row exists per external subscription; the
// (provider, provider_subscription_id) pair carries that constraint.
type Subscription struct {
	ID                     uint       `gorm:"primaryKey" json:"id"`
	LicenseID              uint       `gorm:"not null;index" json:"license_id"`
	Provider               string     `gorm:"type:varchar(20);not null;index:ux_subscriptions_provider_subid,unique,priority:1" json:"provider"`
	ProviderSubscriptionID string     `gorm:"type:varchar(191);not null;index:ux_subscriptions_provider_subid,unique,priority:2" json:"provider_subscription_id"`
	ProviderCustomerID     string     `gorm:"type:varchar(191);default:''" json:"provider_customer_id"`
	Status                 string     `gorm:"type:varchar(32);not null;default:'active';index" json:"status"`
	Amount                 float64    `gorm:"type:decimal(10,2);not null;default:0" json:"amount"`
	Currency               string     `gorm:"type:varchar(3);not null;default:'USD'" json:"currency"`
	BillingInterval        string     `gorm:"type:varchar(16);not null;default:'year'" json:"billing_interval"`
	CurrentPeriodStart     *time.Time `gorm:"type:timestamp;default:null" json:"current_period_start,omitempty"`
	CurrentPeriodEnd       *time.Time `gorm:"type:timestamp;default:null" json:"current_period_end,omitempty"`
	NextPaymentAt          *time.Time `gorm:"type:timestamp;default:null" json:"next_payment_at,omitempty"`
	AutoRenew              bool       `gorm:"default:true" json:"auto_renew"`
	PaymentCount           int        `gorm:"not null;default:0" json:"payment_count"`
	LastPaymentAt          *time.Time `gorm:"type:timestamp;default:null" json:"last_payment_at,omitempty"`
	CancelledAt            *time.Time `gorm:"type:timestamp;default:null" json:"cancelled_at,omitempty"`
	FailureReason          string     `gorm:"type:text" json:"failure_reason"`
	CreatedAt              time.Time  `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt              time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}

// IsTerminal reports whether the subscription row can never become active
// again; a resubscription creates a new row instead.
func (s *Subscription) IsTerminal() bool {
	return s.Status == SubscriptionStatusCancelled || s.Status == SubscriptionStatusExpired
}
