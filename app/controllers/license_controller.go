package controllers

import (
	"errors"
	"strings"

	"github.com/gofiber/fiber/v2"
	"gorm.io/gorm"

	"github.com/licensefox/licensefox/app/repository"
	"github.com/licensefox/licensefox/internal/pkg/env"
	"github.com/licensefox/licensefox/internal/pkg/security"
)

// HandleLicenseClaim resolves a signed claim token from a purchase mail to
// the full license key. The token is the only credential; the email inside
// it must still match the license record.
func HandleLicenseClaim(c *fiber.Ctx) error {
	token := c.Query("token")
	if token == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "missing_token"})
	}

	secret := env.GetEnv("CLAIM_TOKEN_SECRET", "")
	claims, err := security.VerifyClaimToken(token, secret)
	if err != nil {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "invalid_token"})
	}

	repo := repository.GetGlobalFactory().GetLicenseRepository()
	license, err := repo.GetByID(claims.LicenseID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "license_not_found"})
		}
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "lookup_failed"})
	}

	if !strings.EqualFold(license.CustomerEmail, claims.Email) {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "invalid_token"})
	}

	return c.Status(fiber.StatusOK).JSON(fiber.Map{
		"license_key": license.LicenseKey,
		"tier":        license.Tier,
		"status":      license.Status,
		"valid_until": license.ValidUntil,
	})
}
