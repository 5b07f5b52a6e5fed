package repository

import (
	"time"

	"github.com/licensefox/licensefox/app/models"
	"gorm.io/gorm"
)

// LicenseRepository defines the interface for license-related database operations
type LicenseRepository interface {
	Create(license *models.License) error
	GetByID(id uint) (*models.License, error)
	GetByKey(key string) (*models.License, error)
	ExistsKey(key string) (bool, error)
	Update(license *models.License) error
	UpdateStatus(id uint, status string) error
	Delete(id uint) error
	List(offset, limit int) ([]models.License, error)
	Count() (int64, error)
	ListDueForStatusSweep(now time.Time) ([]models.License, error)
}

// SubscriptionRepository defines the interface for the subscription ledger.
// Create uses an insert-or-ignore on (provider, provider_subscription_id) so
// concurrent duplicate deliveries resolve through the database constraint.
type SubscriptionRepository interface {
	Create(sub *models.Subscription) (created bool, err error)
	GetByID(id uint) (*models.Subscription, error)
	GetByProviderSubscriptionID(provider, providerSubscriptionID string) (*models.Subscription, error)
	GetByLicenseID(licenseID uint) (*models.Subscription, error)
	AdvancePeriod(id uint, newStart, newEnd time.Time) error
	IncrementPaymentCount(id uint, paidAt time.Time) error
	RecordFailure(id uint, reason string) error
	SetAutoRenew(id uint, autoRenew bool, cancelledAt *time.Time) error
	MarkCancelled(id uint, at time.Time) error
	Update(sub *models.Subscription) error
	Delete(id uint) error
}

// PaymentRepository defines the interface for the append-only payment ledger.
// There are intentionally no update or delete operations; corrections are
// new rows.
type PaymentRepository interface {
	Create(payment *models.Payment) (created bool, err error)
	GetByProviderPaymentID(provider, providerPaymentID string) (*models.Payment, error)
	ListBySubscription(subscriptionID uint) ([]models.Payment, error)
	CountSucceededBySubscription(subscriptionID uint) (int64, error)
}

// WebhookEventRepository persists raw webhook deliveries with dedupe metadata
type WebhookEventRepository interface {
	CreateIfNotExists(event *models.WebhookEvent) (created bool, stored *models.WebhookEvent, err error)
	MarkProcessed(id uint, processingError string) error
}

// Repositories struct holds all repository instances
type Repositories struct {
	License      LicenseRepository
	Subscription SubscriptionRepository
	Payment      PaymentRepository
	WebhookEvent WebhookEventRepository
}

// NewRepositories creates a new instance of all repositories
func NewRepositories(db *gorm.DB) *Repositories {
	return &Repositories{
		License:      NewLicenseRepository(db),
		Subscription: NewSubscriptionRepository(db),
		Payment:      NewPaymentRepository(db),
		WebhookEvent: NewWebhookEventRepository(db),
	}
}
