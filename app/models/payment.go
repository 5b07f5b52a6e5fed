package models

import "time"

const (
	PaymentStatusPending    = "pending"
	PaymentStatusProcessing = "processing"
	PaymentStatusSucceeded  = "succeeded"
	PaymentStatusFailed     = "failed"
	PaymentStatusRefunded   = "refunded"
)

const (
	PaymentTypeSubscription = "subscription"
	PaymentTypeOneTime      = "one_time"
)

// Payment is one immutable financial event. The (provider,
// provider_payment_id) pair is the system's primary idempotency anchor:
// a redelivered webhook attempts the same insert and loses the race.
// Rows are append-only; a refund is a new row referencing the charge row
// via RefundedPaymentID.
type Payment struct {
	ID                uint       `gorm:"primaryKey" json:"id"`
	SubscriptionID    uint       `gorm:"index" json:"subscription_id"`
	LicenseID         uint       `gorm:"not null;index" json:"license_id"`
	Provider          string     `gorm:"type:varchar(20);not null;index:ux_payments_provider_payment,unique,priority:1" json:"provider"`
	ProviderPaymentID string     `gorm:"type:varchar(191);not null;index:ux_payments_provider_payment,unique,priority:2" json:"provider_payment_id"`
	ProviderOrderID   string     `gorm:"type:varchar(191);default:'';index" json:"provider_order_id"`
	ProviderInvoiceID string     `gorm:"type:varchar(191);default:''" json:"provider_invoice_id"`
	Status            string     `gorm:"type:varchar(20);not null;default:'pending'" json:"status"`
	Amount            float64    `gorm:"type:decimal(10,2);not null;default:0" json:"amount"`
	Currency          string     `gorm:"type:varchar(3);not null;default:'USD'" json:"currency"`
	PaidAt            *time.Time `gorm:"type:timestamp;default:null" json:"paid_at,omitempty"`
	ReceiptURL        string     `gorm:"type:varchar(512);default:''" json:"receipt_url"`
	InvoiceURL        string     `gorm:"type:varchar(512);default:''" json:"invoice_url"`
	PaymentType       string     `gorm:"type:varchar(20);not null;default:'subscription'" json:"payment_type"`
	PeriodStart       *time.Time `gorm:"type:timestamp;default:null" json:"period_start,omitempty"`
	PeriodEnd         *time.Time `gorm:"type:timestamp;default:null" json:"period_end,omitempty"`
	CardBrand         string     `gorm:"type:varchar(20);default:''" json:"card_brand"`
	CardLast4         string     `gorm:"type:varchar(4);default:''" json:"card_last4"`
	RefundedPaymentID *uint      `gorm:"default:null" json:"refunded_payment_id,omitempty"`
	CreatedAt         time.Time  `gorm:"autoCreateTime" json:"created_at"`
}
