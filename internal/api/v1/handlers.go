package apiv1

import (
	"context"
	"errors"
	"log"
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"
	"gorm.io/gorm"

	"github.com/licensefox/licensefox/app/controllers"
	"github.com/licensefox/licensefox/app/models"
	"github.com/licensefox/licensefox/app/repository"
	"github.com/licensefox/licensefox/internal/pkg/billing"
	"github.com/licensefox/licensefox/internal/pkg/database"
	"github.com/licensefox/licensefox/internal/pkg/licensing"
	"github.com/licensefox/licensefox/internal/pkg/metrics/counter"
	"github.com/licensefox/licensefox/internal/pkg/statistics"
)

// APIServer carries the JSON API handlers
type APIServer struct{}

// NewAPIServer creates a new API server instance
func NewAPIServer() *APIServer {
	return &APIServer{}
}

// GetPing handles the ping endpoint
func (s *APIServer) GetPing(c *fiber.Ctx) error {
	return c.Status(fiber.StatusOK).JSON(fiber.Map{"ping": "pong"})
}

// GetLicense returns the public validity view of a license by its full key.
// The key itself is the credential here, so the response only ever echoes
// the masked form.
func (s *APIServer) GetLicense(c *fiber.Ctx) error {
	key := c.Params("key")
	repo := repository.GetGlobalFactory().GetLicenseRepository()
	license, err := repo.GetByKey(key)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "license_not_found"})
		}
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "lookup_failed"})
	}

	// Buffered in Redis, flushed to the licenses table in batches.
	if err := counter.AddLicenseValidation(license.ID); err != nil {
		log.Printf("[API] failed to count validation for license %d: %v", license.ID, err)
	}

	policy := licensing.PolicyFromEnv()
	now := time.Now()
	return c.Status(fiber.StatusOK).JSON(fiber.Map{
		"license_key": license.MaskedKey(),
		"tier":        license.Tier,
		"status":      license.TemporalStatus(now, policy.GraceWindow),
		"valid":       license.IsUsable(now, policy.GraceWindow),
		"valid_from":  license.ValidFrom,
		"valid_until": license.ValidUntil,
		"domain":      license.Domain,
	})
}

// ListLicenses returns a license page for the admin surface
func (s *APIServer) ListLicenses(c *fiber.Ctx) error {
	offset := c.QueryInt("offset", 0)
	limit := c.QueryInt("limit", 50)
	if limit <= 0 || limit > 200 {
		limit = 50
	}

	repo := repository.GetGlobalFactory().GetLicenseRepository()
	licenses, err := repo.List(offset, limit)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "list_failed"})
	}
	total, err := repo.Count()
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "list_failed"})
	}
	return c.Status(fiber.StatusOK).JSON(fiber.Map{"licenses": licenses, "total": total})
}

// SuspendLicense moves a license into the suspended administrative state
func (s *APIServer) SuspendLicense(c *fiber.Ctx) error {
	return s.setAdministrativeStatus(c, models.LicenseStatusSuspended)
}

// RevokeLicense moves a license into the terminal revoked state
func (s *APIServer) RevokeLicense(c *fiber.Ctx) error {
	return s.setAdministrativeStatus(c, models.LicenseStatusRevoked)
}

// ResumeLicense lifts a suspension; the stored status returns to whatever
// the validity window dictates.
func (s *APIServer) ResumeLicense(c *fiber.Ctx) error {
	id, err := licenseIDParam(c)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid_license_id"})
	}

	repo := repository.GetGlobalFactory().GetLicenseRepository()
	license, err := repo.GetByID(id)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "license_not_found"})
		}
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "lookup_failed"})
	}
	if license.Status != models.LicenseStatusSuspended {
		return c.Status(fiber.StatusConflict).JSON(fiber.Map{"error": "license_not_suspended"})
	}

	policy := licensing.PolicyFromEnv()
	license.Status = models.LicenseStatusActive
	restored := license.TemporalStatus(time.Now(), policy.GraceWindow)
	if err := repo.UpdateStatus(license.ID, restored); err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "update_failed"})
	}
	return c.Status(fiber.StatusOK).JSON(fiber.Map{"ok": true, "status": restored})
}

// CancelSubscription cancels the subscription funding a license, either at
// period end (soft) or immediately.
func (s *APIServer) CancelSubscription(c *fiber.Ctx) error {
	id, err := strconv.ParseUint(c.Params("id"), 10, 32)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid_subscription_id"})
	}
	atPeriodEnd := c.QueryBool("at_period_end", true)

	svc := billing.NewServiceFromDB(database.GetDB(), controllers.GetProviderRegistry())
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	if err := svc.CancelSubscription(ctx, uint(id), atPeriodEnd); err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "subscription_not_found"})
		}
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "cancel_failed", "message": err.Error()})
	}
	return c.Status(fiber.StatusOK).JSON(fiber.Map{"ok": true, "at_period_end": atPeriodEnd})
}

// GetStats returns cached aggregate numbers for the admin dashboard
func (s *APIServer) GetStats(c *fiber.Ctx) error {
	statistics.UpdateCacheIfNeeded()
	stats := statistics.GetStatisticsData()
	return c.Status(fiber.StatusOK).JSON(fiber.Map{
		"total_licenses":  stats.TotalLicenses,
		"active_licenses": stats.ActiveLicenses,
		"today_licenses":  stats.TodayLicenses,
		"total_revenue":   stats.TotalRevenue,
	})
}

func (s *APIServer) setAdministrativeStatus(c *fiber.Ctx, status string) error {
	id, err := licenseIDParam(c)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid_license_id"})
	}

	repo := repository.GetGlobalFactory().GetLicenseRepository()
	if _, err := repo.GetByID(id); err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "license_not_found"})
		}
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "lookup_failed"})
	}
	if err := repo.UpdateStatus(id, status); err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "update_failed"})
	}
	return c.Status(fiber.StatusOK).JSON(fiber.Map{"ok": true, "status": status})
}

func licenseIDParam(c *fiber.Ctx) (uint, error) {
	id, err := strconv.ParseUint(c.Params("id"), 10, 32)
	if err != nil || id == 0 {
		return 0, errors.New("invalid id")
	}
	return uint(id), nil
}
