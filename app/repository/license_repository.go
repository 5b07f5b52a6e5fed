package repository

import (
	"errors"
	"strings"
	"time"

	"github.com/licensefox/licensefox/app/models"
	"gorm.io/gorm"
)

// licenseRepository implements the LicenseRepository interface
type licenseRepository struct {
	db *gorm.DB
}

// NewLicenseRepository creates a new license repository instance
func NewLicenseRepository(db *gorm.DB) LicenseRepository {
	return &licenseRepository{db: db}
}

// Create inserts a new license
func (r *licenseRepository) Create(license *models.License) error {
	return r.db.Create(license).Error
}

// GetByID retrieves a license by its ID
func (r *licenseRepository) GetByID(id uint) (*models.License, error) {
	var license models.License
	err := r.db.First(&license, id).Error
	if err != nil {
		return nil, err
	}
	return &license, nil
}

// GetByKey retrieves a license by its key
func (r *licenseRepository) GetByKey(key string) (*models.License, error) {
	var license models.License
	err := r.db.Where("license_key = ?", strings.TrimSpace(key)).First(&license).Error
	if err != nil {
		return nil, err
	}
	return &license, nil
}

// ExistsKey reports whether a license key is already taken
func (r *licenseRepository) ExistsKey(key string) (bool, error) {
	var license models.License
	err := r.db.Select("id").Where("license_key = ?", key).First(&license).Error
	if err == nil {
		return true, nil
	}
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return false, nil
	}
	return false, err
}

// Update saves a modified license
func (r *licenseRepository) Update(license *models.License) error {
	return r.db.Save(license).Error
}

// UpdateStatus writes only the status column
func (r *licenseRepository) UpdateStatus(id uint, status string) error {
	return r.db.Model(&models.License{}).Where("id = ?", id).Update("status", status).Error
}

// Delete removes a license row. Only issuance rollback uses this: a license
// created by a delivery that then lost the payment-ledger race.
func (r *licenseRepository) Delete(id uint) error {
	return r.db.Delete(&models.License{}, id).Error
}

// List returns licenses ordered by creation time, newest first
func (r *licenseRepository) List(offset, limit int) ([]models.License, error) {
	var licenses []models.License
	err := r.db.Order("created_at DESC").Offset(offset).Limit(limit).Find(&licenses).Error
	return licenses, err
}

// Count returns the total number of licenses
func (r *licenseRepository) Count() (int64, error) {
	var count int64
	err := r.db.Model(&models.License{}).Count(&count).Error
	return count, err
}

// ListDueForStatusSweep returns licenses whose stored status may lag behind
// their temporal state: active or grace_period rows with a validity bound in
// the past.
func (r *licenseRepository) ListDueForStatusSweep(now time.Time) ([]models.License, error) {
	var licenses []models.License
	err := r.db.
		Where("status IN ? AND valid_until IS NOT NULL AND valid_until < ?",
			[]string{models.LicenseStatusActive, models.LicenseStatusGracePeriod}, now).
		Find(&licenses).Error
	return licenses, err
}
