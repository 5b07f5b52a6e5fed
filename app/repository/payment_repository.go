package repository

import (
	"github.com/licensefox/licensefox/app/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// paymentRepository implements the PaymentRepository interface
type paymentRepository struct {
	db *gorm.DB
}

// NewPaymentRepository creates a new payment repository instance
func NewPaymentRepository(db *gorm.DB) PaymentRepository {
	return &paymentRepository{db: db}
}

// Create appends a payment row. A duplicate (provider, provider_payment_id)
// insert is ignored and reported via the created flag; the stored row is
// loaded back into payment so callers see the original charge.
func (r *paymentRepository) Create(payment *models.Payment) (bool, error) {
	tx := r.db.Clauses(clause.OnConflict{
		Columns: []clause.Column{
			{Name: "provider"},
			{Name: "provider_payment_id"},
		},
		DoNothing: true,
	}).Create(payment)
	if tx.Error != nil {
		return false, tx.Error
	}

	created := tx.RowsAffected > 0
	err := r.db.Where("provider = ? AND provider_payment_id = ?", payment.Provider, payment.ProviderPaymentID).
		First(payment).Error
	if err != nil {
		return false, err
	}
	return created, nil
}

// GetByProviderPaymentID retrieves a payment by its external identifier
func (r *paymentRepository) GetByProviderPaymentID(provider, providerPaymentID string) (*models.Payment, error) {
	var payment models.Payment
	err := r.db.Where("provider = ? AND provider_payment_id = ?", provider, providerPaymentID).
		First(&payment).Error
	if err != nil {
		return nil, err
	}
	return &payment, nil
}

// ListBySubscription returns all payments for a subscription, oldest first
func (r *paymentRepository) ListBySubscription(subscriptionID uint) ([]models.Payment, error) {
	var payments []models.Payment
	err := r.db.Where("subscription_id = ?", subscriptionID).Order("created_at ASC").Find(&payments).Error
	return payments, err
}

// CountSucceededBySubscription counts succeeded charges for a subscription
func (r *paymentRepository) CountSucceededBySubscription(subscriptionID uint) (int64, error) {
	var count int64
	err := r.db.Model(&models.Payment{}).
		Where("subscription_id = ? AND status = ?", subscriptionID, models.PaymentStatusSucceeded).
		Count(&count).Error
	return count, err
}
