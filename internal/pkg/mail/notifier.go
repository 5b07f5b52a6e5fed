package mail

import (
	"fmt"
	"log"
	"time"

	"github.com/licensefox/licensefox/app/models"
	"github.com/licensefox/licensefox/internal/pkg/env"
	"github.com/licensefox/licensefox/internal/pkg/security"
)

// Notifier receives license lifecycle transitions. Implementations must be
// safe to call after the triggering database writes committed; a failed
// notification never rolls anything back.
type Notifier interface {
	PurchaseConfirmed(license *models.License, sub *models.Subscription) error
	LicenseRenewed(license *models.License, payment *models.Payment) error
	PaymentFailed(license *models.License, sub *models.Subscription, reason string) error
	SubscriptionCancelled(license *models.License, sub *models.Subscription, atPeriodEnd bool) error
}

// SMTPNotifier renders small text mails and sends them via SendMail.
type SMTPNotifier struct{}

// NewSMTPNotifier creates the production notifier.
func NewSMTPNotifier() *SMTPNotifier {
	return &SMTPNotifier{}
}

func (n *SMTPNotifier) PurchaseConfirmed(license *models.License, sub *models.Subscription) error {
	subject := "Your license is ready"
	body := fmt.Sprintf(
		"<p>Hello %s,</p><p>thank you for your purchase. Your %s license key is:</p><p><b>%s</b></p><p>Valid until: %s</p>",
		displayName(license), license.Tier, license.LicenseKey, formatValidity(license),
	)
	if link := claimLink(license); link != "" {
		body += fmt.Sprintf("<p>You can look up your key anytime via this link (valid for 30 days):<br><a href=\"%s\">%s</a></p>", link, link)
	}
	return SendMail(license.CustomerEmail, subject, body)
}

// claimLink builds a signed self-service lookup link for the license key.
// Returns empty when no signing secret is configured.
func claimLink(license *models.License) string {
	secret := env.GetEnv("CLAIM_TOKEN_SECRET", "")
	if secret == "" {
		return ""
	}
	token, err := security.GenerateClaimToken(license.ID, license.CustomerEmail, 30*24*time.Hour, secret)
	if err != nil {
		log.Printf("[Mail] failed to generate claim token for license %d: %v", license.ID, err)
		return ""
	}
	return fmt.Sprintf("%s/license/claim?token=%s", env.GetEnv("PUBLIC_DOMAIN", "http://localhost:4000"), token)
}

func (n *SMTPNotifier) LicenseRenewed(license *models.License, payment *models.Payment) error {
	subject := "Your license has been renewed"
	body := fmt.Sprintf(
		"<p>Hello %s,</p><p>we received your payment of %.2f %s. Your license %s is now valid until %s.</p>",
		displayName(license), payment.Amount, payment.Currency, license.MaskedKey(), formatValidity(license),
	)
	return SendMail(license.CustomerEmail, subject, body)
}

func (n *SMTPNotifier) PaymentFailed(license *models.License, sub *models.Subscription, reason string) error {
	subject := "Payment failed"
	if reason == "" {
		reason = "the payment could not be processed"
	}
	body := fmt.Sprintf(
		"<p>Hello %s,</p><p>the renewal payment for your license %s failed: %s.</p><p>Your provider will retry automatically. Please check your payment method.</p>",
		displayName(license), license.MaskedKey(), reason,
	)
	return SendMail(license.CustomerEmail, subject, body)
}

func (n *SMTPNotifier) SubscriptionCancelled(license *models.License, sub *models.Subscription, atPeriodEnd bool) error {
	subject := "Subscription cancelled"
	var body string
	if atPeriodEnd && sub.CurrentPeriodEnd != nil {
		body = fmt.Sprintf(
			"<p>Hello %s,</p><p>your subscription will not renew. Your license %s stays usable until %s.</p>",
			displayName(license), license.MaskedKey(), sub.CurrentPeriodEnd.Format("2006-01-02"),
		)
	} else {
		body = fmt.Sprintf(
			"<p>Hello %s,</p><p>your subscription has been cancelled and your license %s is no longer active.</p>",
			displayName(license), license.MaskedKey(),
		)
	}
	return SendMail(license.CustomerEmail, subject, body)
}

// AsyncNotifier dispatches each notification in its own goroutine and only
// logs failures. Webhook handlers use this so email delivery can never delay
// or fail the HTTP response.
type AsyncNotifier struct {
	inner Notifier
}

// Async wraps a notifier in fire-and-forget dispatch.
func Async(inner Notifier) *AsyncNotifier {
	return &AsyncNotifier{inner: inner}
}

func (a *AsyncNotifier) PurchaseConfirmed(license *models.License, sub *models.Subscription) error {
	a.dispatch("purchase_confirmed", func() error { return a.inner.PurchaseConfirmed(license, sub) })
	return nil
}

func (a *AsyncNotifier) LicenseRenewed(license *models.License, payment *models.Payment) error {
	a.dispatch("license_renewed", func() error { return a.inner.LicenseRenewed(license, payment) })
	return nil
}

func (a *AsyncNotifier) PaymentFailed(license *models.License, sub *models.Subscription, reason string) error {
	a.dispatch("payment_failed", func() error { return a.inner.PaymentFailed(license, sub, reason) })
	return nil
}

func (a *AsyncNotifier) SubscriptionCancelled(license *models.License, sub *models.Subscription, atPeriodEnd bool) error {
	a.dispatch("subscription_cancelled", func() error { return a.inner.SubscriptionCancelled(license, sub, atPeriodEnd) })
	return nil
}

func (a *AsyncNotifier) dispatch(kind string, send func() error) {
	go func() {
		defer func() {
			if r := recover(); r != nil {
				log.Printf("notification %s panicked: %v", kind, r)
			}
		}()
		if err := send(); err != nil {
			log.Printf("notification %s failed: %v", kind, err)
		}
	}()
}

func displayName(license *models.License) string {
	if license.CustomerName != "" {
		return license.CustomerName
	}
	return license.CustomerEmail
}

func formatValidity(license *models.License) string {
	if license.ValidUntil == nil {
		return "unlimited"
	}
	return license.ValidUntil.Format(time.DateOnly)
}
