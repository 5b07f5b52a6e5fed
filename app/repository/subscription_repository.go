package repository

import (
	"fmt"
	"time"

	"github.com/licensefox/licensefox/app/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ErrStalePeriod is returned when a period advance would move the period end
// backwards, which happens when events arrive out of order.
var ErrStalePeriod = fmt.Errorf("subscription period advance is older than the stored period")

// subscriptionRepository implements the SubscriptionRepository interface
type subscriptionRepository struct {
	db *gorm.DB
}

// NewSubscriptionRepository creates a new subscription repository instance
func NewSubscriptionRepository(db *gorm.DB) SubscriptionRepository {
	return &subscriptionRepository{db: db}
}

// Create inserts a subscription, ignoring the insert when a row for the same
// (provider, provider_subscription_id) already exists. The returned flag
// tells the caller whether this delivery won the race; either way the stored
// row is loaded back into sub.
func (r *subscriptionRepository) Create(sub *models.Subscription) (bool, error) {
	tx := r.db.Clauses(clause.OnConflict{
		Columns: []clause.Column{
			{Name: "provider"},
			{Name: "provider_subscription_id"},
		},
		DoNothing: true,
	}).Create(sub)
	if tx.Error != nil {
		return false, tx.Error
	}

	created := tx.RowsAffected > 0
	err := r.db.Where("provider = ? AND provider_subscription_id = ?", sub.Provider, sub.ProviderSubscriptionID).
		First(sub).Error
	if err != nil {
		return false, err
	}
	return created, nil
}

// GetByID retrieves a subscription by its ID
func (r *subscriptionRepository) GetByID(id uint) (*models.Subscription, error) {
	var sub models.Subscription
	err := r.db.First(&sub, id).Error
	if err != nil {
		return nil, err
	}
	return &sub, nil
}

// GetByProviderSubscriptionID retrieves the row for an external subscription
func (r *subscriptionRepository) GetByProviderSubscriptionID(provider, providerSubscriptionID string) (*models.Subscription, error) {
	var sub models.Subscription
	err := r.db.Where("provider = ? AND provider_subscription_id = ?", provider, providerSubscriptionID).
		First(&sub).Error
	if err != nil {
		return nil, err
	}
	return &sub, nil
}

// GetByLicenseID retrieves the subscription funding a license
func (r *subscriptionRepository) GetByLicenseID(licenseID uint) (*models.Subscription, error) {
	var sub models.Subscription
	err := r.db.Where("license_id = ?", licenseID).Order("created_at DESC").First(&sub).Error
	if err != nil {
		return nil, err
	}
	return &sub, nil
}

// AdvancePeriod moves the billing period forward. The WHERE guard keeps the
// period end monotonic so a stale event processed late cannot roll it back.
func (r *subscriptionRepository) AdvancePeriod(id uint, newStart, newEnd time.Time) error {
	tx := r.db.Model(&models.Subscription{}).
		Where("id = ? AND (current_period_end IS NULL OR current_period_end <= ?)", id, newEnd).
		Updates(map[string]interface{}{
			"current_period_start": newStart,
			"current_period_end":   newEnd,
			"next_payment_at":      newEnd,
			"status":               models.SubscriptionStatusActive,
			"failure_reason":       "",
		})
	if tx.Error != nil {
		return tx.Error
	}
	if tx.RowsAffected == 0 {
		return ErrStalePeriod
	}
	return nil
}

// IncrementPaymentCount bumps the payment counter in a single SQL expression.
// Reading and writing the counter from the application would lose increments
// under concurrent deliveries.
func (r *subscriptionRepository) IncrementPaymentCount(id uint, paidAt time.Time) error {
	return r.db.Model(&models.Subscription{}).Where("id = ?", id).
		Updates(map[string]interface{}{
			"payment_count":   gorm.Expr("payment_count + 1"),
			"last_payment_at": paidAt,
		}).Error
}

// RecordFailure marks the subscription past due and stores the reason
func (r *subscriptionRepository) RecordFailure(id uint, reason string) error {
	return r.db.Model(&models.Subscription{}).Where("id = ?", id).
		Updates(map[string]interface{}{
			"status":         models.SubscriptionStatusPastDue,
			"failure_reason": reason,
		}).Error
}

// SetAutoRenew flips the renewal flag, optionally stamping the soft-cancel time
func (r *subscriptionRepository) SetAutoRenew(id uint, autoRenew bool, cancelledAt *time.Time) error {
	updates := map[string]interface{}{"auto_renew": autoRenew}
	if cancelledAt != nil {
		updates["cancelled_at"] = cancelledAt
	}
	return r.db.Model(&models.Subscription{}).Where("id = ?", id).Updates(updates).Error
}

// MarkCancelled terminates the subscription row immediately
func (r *subscriptionRepository) MarkCancelled(id uint, at time.Time) error {
	return r.db.Model(&models.Subscription{}).Where("id = ?", id).
		Updates(map[string]interface{}{
			"status":       models.SubscriptionStatusCancelled,
			"auto_renew":   false,
			"cancelled_at": at,
		}).Error
}

// Update saves a modified subscription
func (r *subscriptionRepository) Update(sub *models.Subscription) error {
	return r.db.Save(sub).Error
}

// Delete removes a subscription row. Only issuance rollback uses this: a row
// created by a delivery that then lost the payment-ledger race.
func (r *subscriptionRepository) Delete(id uint) error {
	return r.db.Delete(&models.Subscription{}, id).Error
}
