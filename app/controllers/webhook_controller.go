package controllers

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/licensefox/licensefox/app/models"
	"github.com/licensefox/licensefox/internal/pkg/billing"
	"github.com/licensefox/licensefox/internal/pkg/database"
	"github.com/licensefox/licensefox/internal/pkg/payments"
)

var (
	providerRegistry     *payments.Registry
	providerRegistryOnce sync.Once
)

// GetProviderRegistry returns the process-wide provider registry, built from
// environment configuration on first use.
func GetProviderRegistry() *payments.Registry {
	providerRegistryOnce.Do(func() {
		providerRegistry = payments.NewRegistry(
			payments.NewStripeProviderFromEnv(),
			payments.NewRazorpayProviderFromEnv(),
		)
	})
	return providerRegistry
}

// SetProviderRegistry swaps the registry; used by tests.
func SetProviderRegistry(r *payments.Registry) {
	providerRegistryOnce.Do(func() {})
	providerRegistry = r
}

var newBillingService = func() *billing.Service {
	return billing.NewServiceFromDB(database.GetDB(), GetProviderRegistry())
}

// SetBillingService pins the webhook handler to a prebuilt service; used by
// tests.
func SetBillingService(svc *billing.Service) {
	newBillingService = func() *billing.Service { return svc }
}

// HandleProviderWebhook is the single server-to-server entry point for both
// providers: POST /webhook/:provider. Signature verification happens on the
// raw body before anything else; duplicates are detected via the webhook
// event table and answered 200 without reprocessing.
func HandleProviderWebhook(c *fiber.Ctx) error {
	provider, err := GetProviderRegistry().ForName(c.Params("provider"))
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "unknown_provider"})
	}

	rawBody := append([]byte(nil), c.BodyRaw()...)
	signature := strings.TrimSpace(c.Get(signatureHeaderName(provider.Name())))
	if !provider.VerifyWebhookSignature(rawBody, signature) {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid_signature"})
	}

	ev, err := provider.ParseWebhookEvent(rawBody)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid_payload"})
	}
	if ev.ProviderEventID == "" {
		ev.ProviderEventID = strings.TrimSpace(c.Get("X-Razorpay-Event-Id"))
	}

	svc := newBillingService()
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	created, stored, err := svc.RecordWebhookEvent(ctx, ev.Provider, ev.ProviderEventID, ev.RawType, rawBody, true)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "webhook_persist_failed"})
	}
	if !created && stored.ProcessedAt != nil && stored.ProcessingError == "" {
		// Only a cleanly processed delivery is a duplicate. A stored row
		// without a processing stamp, or with a recorded error, means a prior
		// attempt died; the retry runs through the idempotent handlers again.
		return c.Status(fiber.StatusOK).JSON(fiber.Map{"ok": true, "duplicate": true})
	}

	outcome, dispatchErr := billing.NewRouter(svc).Dispatch(ctx, ev)
	_ = svc.MarkWebhookProcessed(ctx, stored.ID, dispatchErr)
	if dispatchErr != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "event_processing_failed"})
	}

	return c.Status(fiber.StatusOK).JSON(fiber.Map{"ok": true, "status": outcome.Status})
}

func signatureHeaderName(provider string) string {
	switch provider {
	case models.PaymentProviderStripe:
		return "Stripe-Signature"
	case models.PaymentProviderRazorpay:
		return "X-Razorpay-Signature"
	default:
		return "X-Webhook-Signature"
	}
}
