package controllers

import (
	"context"
	"errors"
	"log"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"gorm.io/gorm"

	"github.com/licensefox/licensefox/app/repository"
	"github.com/licensefox/licensefox/internal/pkg/checkout"
	"github.com/licensefox/licensefox/internal/pkg/payments"
)

var validate = validator.New()

// CheckoutCreateRequest is the inbound body for starting a purchase. Trials
// are issued without a provider, so only paid tiers are accepted here.
type CheckoutCreateRequest struct {
	Tier    string `json:"tier" validate:"required,oneof=standard enterprise"`
	Email   string `json:"email" validate:"required,email"`
	Name    string `json:"name" validate:"max=200"`
	Company string `json:"company" validate:"max=200"`
	Domain  string `json:"domain" validate:"max=255"`
}

// CheckoutVerifyRequest is the synchronous confirmation body for providers
// whose client SDK hands the buyer a signed payment result.
type CheckoutVerifyRequest struct {
	OrderID   string `json:"order_id" validate:"required"`
	PaymentID string `json:"payment_id" validate:"required"`
	Signature string `json:"signature" validate:"required"`
}

// HandleCreateCheckout starts a provider checkout and stashes the purchase
// metadata under the provider's order id so the settlement webhook can issue
// the license without browser state.
func HandleCreateCheckout(c *fiber.Ctx) error {
	provider, err := GetProviderRegistry().ForName(c.Params("provider"))
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "unknown_provider"})
	}

	var req CheckoutCreateRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid_body"})
	}
	if err := validate.Struct(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "validation_failed", "message": err.Error()})
	}

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	session, err := provider.CreateCheckout(ctx, payments.CheckoutRequest{
		Tier:    strings.ToLower(req.Tier),
		Email:   strings.TrimSpace(req.Email),
		Name:    strings.TrimSpace(req.Name),
		Company: strings.TrimSpace(req.Company),
		Domain:  strings.TrimSpace(req.Domain),
	})
	if err != nil {
		log.Printf("checkout creation failed on %s: %v", provider.Name(), err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "checkout_failed"})
	}

	if err := checkout.StorePending(&checkout.PendingOrder{
		Provider:  provider.Name(),
		OrderID:   session.OrderID,
		Tier:      strings.ToLower(req.Tier),
		Email:     strings.TrimSpace(req.Email),
		Name:      strings.TrimSpace(req.Name),
		Company:   strings.TrimSpace(req.Company),
		Domain:    strings.TrimSpace(req.Domain),
		CreatedAt: time.Now(),
	}, checkout.DefaultTTL); err != nil {
		log.Printf("could not stash pending checkout %s/%s: %v", provider.Name(), session.OrderID, err)
	}

	return c.Status(fiber.StatusOK).JSON(session)
}

// HandleVerifyCheckout is the synchronous issuance path: the client posts
// the provider's payment result, the signature is checked, and the purchase
// runs through the same handler as the webhook. Both transports converge on
// the payment ledger's uniqueness, so at most one license is ever issued per
// external payment.
func HandleVerifyCheckout(c *fiber.Ctx) error {
	provider, err := GetProviderRegistry().ForName(c.Params("provider"))
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "unknown_provider"})
	}

	var req CheckoutVerifyRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid_body"})
	}
	if err := validate.Struct(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "validation_failed", "message": err.Error()})
	}

	if !provider.VerifyPaymentSignature(req.OrderID, req.PaymentID, req.Signature) {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid_signature"})
	}

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	info, err := provider.GetPayment(ctx, req.PaymentID)
	if err != nil {
		log.Printf("payment lookup failed on %s for %s: %v", provider.Name(), req.PaymentID, err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "payment_lookup_failed"})
	}
	if !isSettledPaymentStatus(info.Status) {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "payment_not_settled", "status": info.Status})
	}

	ev := &payments.Event{
		Provider:        provider.Name(),
		Kind:            payments.EventCheckoutCompleted,
		ProviderEventID: "verify:" + req.PaymentID,
		RawType:         "client.payment.verified",
		PaymentID:       info.PaymentID,
		OrderID:         req.OrderID,
		AmountMinor:     info.AmountMinor,
		Currency:        info.Currency,
		Email:           info.Email,
		CardBrand:       info.CardBrand,
		CardLast4:       info.CardLast4,
		ReceiptURL:      info.ReceiptURL,
	}

	svc := newBillingService()
	outcome, err := svc.HandleCheckoutCompleted(ctx, ev)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "issuance_failed"})
	}

	resp := fiber.Map{"ok": true, "status": outcome.Status}
	licenseID := outcome.LicenseID
	if licenseID == 0 {
		// Duplicate confirmation: surface the already-issued license.
		if payment, err := repository.GetGlobalFactory().GetPaymentRepository().
			GetByProviderPaymentID(provider.Name(), req.PaymentID); err == nil {
			licenseID = payment.LicenseID
		}
	}
	if licenseID != 0 {
		license, err := repository.GetGlobalFactory().GetLicenseRepository().GetByID(licenseID)
		if err == nil {
			resp["license_key"] = license.LicenseKey
			resp["tier"] = license.Tier
			resp["valid_until"] = license.ValidUntil
		} else if !errors.Is(err, gorm.ErrRecordNotFound) {
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "license_lookup_failed"})
		}
	}
	return c.Status(fiber.StatusOK).JSON(resp)
}

func isSettledPaymentStatus(status string) bool {
	switch strings.ToLower(strings.TrimSpace(status)) {
	case "captured", "authorized", "succeeded":
		return true
	default:
		return false
	}
}
