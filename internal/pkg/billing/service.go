package billing

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"gorm.io/gorm"

	"github.com/licensefox/licensefox/app/models"
	"github.com/licensefox/licensefox/app/repository"
	"github.com/licensefox/licensefox/internal/pkg/checkout"
	"github.com/licensefox/licensefox/internal/pkg/licensing"
	"github.com/licensefox/licensefox/internal/pkg/mail"
	"github.com/licensefox/licensefox/internal/pkg/payments"
)

// Outcome classifies how an event was absorbed. Everything except a
// transient error acknowledges the delivery so the provider stops retrying.
type Outcome struct {
	Status    string // handled, duplicate, ignored
	LicenseID uint
}

const (
	OutcomeHandled   = "handled"
	OutcomeDuplicate = "duplicate"
	OutcomeIgnored   = "ignored"
)

var (
	outcomeHandled   = &Outcome{Status: OutcomeHandled}
	outcomeDuplicate = &Outcome{Status: OutcomeDuplicate}
	outcomeIgnored   = &Outcome{Status: OutcomeIgnored}
)

// Service reconciles verified provider events into license, subscription and
// payment state. Handlers are stateless; correctness under concurrent or
// duplicated delivery rests on the storage-layer uniqueness constraints, not
// on locks. All database writes happen before any notification is attempted.
type Service struct {
	licenses      repository.LicenseRepository
	subscriptions repository.SubscriptionRepository
	paymentLedger repository.PaymentRepository
	webhookEvents repository.WebhookEventRepository
	lifecycle     *licensing.Service
	notifier      mail.Notifier
	providers     *payments.Registry
}

// NewService wires the event service from its collaborators.
func NewService(
	repos *repository.Repositories,
	lifecycle *licensing.Service,
	notifier mail.Notifier,
	providers *payments.Registry,
) *Service {
	return &Service{
		licenses:      repos.License,
		subscriptions: repos.Subscription,
		paymentLedger: repos.Payment,
		webhookEvents: repos.WebhookEvent,
		lifecycle:     lifecycle,
		notifier:      notifier,
		providers:     providers,
	}
}

// NewServiceFromDB wires the event service from a GORM DB handle using the
// environment policy, the SMTP notifier and the default provider registry.
func NewServiceFromDB(db *gorm.DB, providers *payments.Registry) *Service {
	repos := repository.NewRepositories(db)
	return NewService(
		repos,
		licensing.NewService(repos.License, licensing.PolicyFromEnv()),
		mail.Async(mail.NewSMTPNotifier()),
		providers,
	)
}

// Providers exposes the registry for the HTTP layer.
func (s *Service) Providers() *payments.Registry {
	return s.providers
}

// Lifecycle exposes the license lifecycle service.
func (s *Service) Lifecycle() *licensing.Service {
	return s.lifecycle
}

// RecordWebhookEvent persists a raw delivery idempotently; the created flag
// is false for redeliveries of an already recorded event id.
func (s *Service) RecordWebhookEvent(ctx context.Context, provider, providerEventID, eventType string, payload []byte, signatureValid bool) (bool, *models.WebhookEvent, error) {
	_ = ctx
	eventID := strings.TrimSpace(providerEventID)
	if eventID == "" {
		// Some providers omit a delivery id; the payload hash still dedupes
		// byte-identical redeliveries.
		sum := sha256.Sum256(payload)
		eventID = "hash:" + hex.EncodeToString(sum[:])
	}

	event := &models.WebhookEvent{
		Provider:        strings.ToLower(strings.TrimSpace(provider)),
		ProviderEventID: eventID,
		EventType:       strings.TrimSpace(eventType),
		PayloadJSON:     string(payload),
		SignatureValid:  signatureValid,
	}
	if event.Provider == "" {
		return false, nil, errors.New("provider is required")
	}
	return s.webhookEvents.CreateIfNotExists(event)
}

// MarkWebhookProcessed stamps a stored delivery with the processing result.
func (s *Service) MarkWebhookProcessed(ctx context.Context, webhookEventID uint, processingErr error) error {
	_ = ctx
	if webhookEventID == 0 {
		return errors.New("webhook event id is required")
	}
	errMsg := ""
	if processingErr != nil {
		errMsg = processingErr.Error()
	}
	return s.webhookEvents.MarkProcessed(webhookEventID, errMsg)
}

// HandleCheckoutCompleted issues a license, creates the subscription row and
// records the first payment for a completed purchase. Purchase metadata
// missing from the event is resolved from the pending checkout store via the
// provider's order id.
func (s *Service) HandleCheckoutCompleted(ctx context.Context, ev *payments.Event) (*Outcome, error) {
	if ev.PaymentID == "" {
		log.Printf("checkout event %s/%s carries no payment id, dropping", ev.Provider, ev.ProviderEventID)
		return outcomeIgnored, nil
	}

	// Both issuance paths (webhook and client verification) land here and
	// converge on the payment ledger's uniqueness; an existing row means the
	// purchase is already settled.
	if _, err := s.paymentLedger.GetByProviderPaymentID(ev.Provider, ev.PaymentID); err == nil {
		return outcomeDuplicate, nil
	} else if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}

	s.resolvePendingMetadata(ev)
	if ev.Tier == "" {
		log.Printf("checkout event %s/%s has no tier metadata, dropping", ev.Provider, ev.ProviderEventID)
		return outcomeIgnored, nil
	}
	if ev.Email == "" {
		log.Printf("checkout event %s/%s has no customer email, dropping", ev.Provider, ev.ProviderEventID)
		return outcomeIgnored, nil
	}

	license, err := s.lifecycle.IssueLicense(ctx, licensing.IssueInput{
		Tier:     ev.Tier,
		Email:    ev.Email,
		Name:     ev.Name,
		Company:  ev.Company,
		Domain:   ev.Domain,
		Provider: ev.Provider,
	})
	if err != nil {
		if licensing.IsSemantic(err) {
			log.Printf("checkout event %s/%s rejected: %v", ev.Provider, ev.ProviderEventID, err)
			return outcomeIgnored, nil
		}
		return nil, err
	}

	sub, subCreated, err := s.createSubscriptionForPurchase(ev, license)
	if err != nil {
		return nil, err
	}
	if !subCreated && ev.SubscriptionID != "" {
		// A concurrent delivery of the same purchase won the subscription
		// insert; its license is the one that counts.
		log.Printf("subscription %s/%s already exists, treating checkout as processed", ev.Provider, ev.SubscriptionID)
		s.discardLicense(license.ID)
		return outcomeDuplicate, nil
	}

	payment, created, err := s.recordPayment(ev, license.ID, sub, models.PaymentStatusSucceeded)
	if err != nil {
		return nil, err
	}
	if !created {
		// The payment ledger is the final arbiter between the webhook and
		// client-verification paths. Losing the insert means another delivery
		// already issued for this payment; this delivery's rows have to go.
		if subCreated {
			if err := s.subscriptions.Delete(sub.ID); err != nil {
				log.Printf("could not remove superseded subscription id=%d: %v", sub.ID, err)
			}
		}
		s.discardLicense(license.ID)
		return outcomeDuplicate, nil
	}

	// The first Succeeded payment already references the subscription, so the
	// counter starts at one.
	if err := s.subscriptions.IncrementPaymentCount(sub.ID, *payment.PaidAt); err != nil {
		return nil, err
	}

	if ev.OrderID != "" {
		if err := checkout.DeletePending(ev.Provider, ev.OrderID); err != nil {
			log.Printf("could not delete pending checkout %s/%s: %v", ev.Provider, ev.OrderID, err)
		}
	}

	_ = s.notifier.PurchaseConfirmed(license, sub)
	return &Outcome{Status: OutcomeHandled, LicenseID: license.ID}, nil
}

// HandleRenewal processes a recurring charge (invoice paid or subscription
// charged). The payment insert is the idempotency anchor: only the delivery
// that created the row extends the license, advances the period and bumps
// the payment counter.
func (s *Service) HandleRenewal(ctx context.Context, ev *payments.Event) (*Outcome, error) {
	sub, outcome, err := s.lookupSubscription(ev)
	if sub == nil {
		return outcome, err
	}

	payment, created, err := s.recordPayment(ev, sub.LicenseID, sub, models.PaymentStatusSucceeded)
	if err != nil {
		return nil, err
	}
	if !created {
		return outcomeDuplicate, nil
	}

	license, err := s.lifecycle.ExtendLicense(ctx, sub.LicenseID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			log.Printf("renewal for %s/%s references missing license id=%d, dropping", ev.Provider, ev.SubscriptionID, sub.LicenseID)
			return outcomeIgnored, nil
		}
		return nil, err
	}

	newStart, newEnd := s.renewalPeriod(ev, sub)
	if err := s.subscriptions.AdvancePeriod(sub.ID, newStart, newEnd); err != nil {
		if errors.Is(err, repository.ErrStalePeriod) {
			// Out-of-order delivery: a later renewal already advanced the
			// period. The payment row and counter still count.
			log.Printf("stale period on %s/%s, keeping stored period", ev.Provider, ev.SubscriptionID)
		} else {
			return nil, err
		}
	}

	paidAt := time.Now()
	if ev.PaidAt != nil {
		paidAt = *ev.PaidAt
	}
	if err := s.subscriptions.IncrementPaymentCount(sub.ID, paidAt); err != nil {
		return nil, err
	}

	_ = s.notifier.LicenseRenewed(license, payment)
	return &Outcome{Status: OutcomeHandled, LicenseID: license.ID}, nil
}

// HandlePaymentFailed marks the subscription past due. The license keeps its
// current validity; it only degrades through the grace window if no
// successful retry arrives.
func (s *Service) HandlePaymentFailed(ctx context.Context, ev *payments.Event) (*Outcome, error) {
	_ = ctx
	sub, outcome, err := s.lookupSubscription(ev)
	if sub == nil {
		return outcome, err
	}

	reason := ev.FailureReason
	if reason == "" {
		reason = "payment declined"
	}
	if err := s.subscriptions.RecordFailure(sub.ID, reason); err != nil {
		return nil, err
	}

	if license, err := s.licenses.GetByID(sub.LicenseID); err == nil {
		_ = s.notifier.PaymentFailed(license, sub, reason)
	} else {
		log.Printf("payment failure on %s/%s: license id=%d not found for notification", ev.Provider, ev.SubscriptionID, sub.LicenseID)
	}
	return outcomeHandled, nil
}

// HandleSubscriptionCancelled applies a provider-initiated cancellation.
// With cancel-at-period-end the subscription stays active without renewal
// and the license later falls to expired on its own; otherwise the row is
// terminated immediately.
func (s *Service) HandleSubscriptionCancelled(ctx context.Context, ev *payments.Event) (*Outcome, error) {
	_ = ctx
	sub, outcome, err := s.lookupSubscription(ev)
	if sub == nil {
		return outcome, err
	}
	if sub.IsTerminal() {
		return outcomeDuplicate, nil
	}

	now := time.Now()
	if ev.CancelAtPeriodEnd {
		if err := s.subscriptions.SetAutoRenew(sub.ID, false, &now); err != nil {
			return nil, err
		}
	} else {
		if err := s.subscriptions.MarkCancelled(sub.ID, now); err != nil {
			return nil, err
		}
	}

	license, err := s.licenses.GetByID(sub.LicenseID)
	if err == nil {
		if license.AutoRenew {
			license.AutoRenew = false
			if err := s.licenses.Update(license); err != nil {
				return nil, err
			}
		}
		_ = s.notifier.SubscriptionCancelled(license, sub, ev.CancelAtPeriodEnd)
	} else {
		log.Printf("cancellation on %s/%s: license id=%d not found", ev.Provider, ev.SubscriptionID, sub.LicenseID)
	}
	return outcomeHandled, nil
}

// CancelSubscription is the merchant-side cancellation entry point (admin
// API): it updates the ledger and instructs the provider.
func (s *Service) CancelSubscription(ctx context.Context, subscriptionID uint, atPeriodEnd bool) error {
	sub, err := s.subscriptions.GetByID(subscriptionID)
	if err != nil {
		return err
	}
	if sub.IsTerminal() {
		return fmt.Errorf("subscription %d is already %s", sub.ID, sub.Status)
	}

	now := time.Now()
	if atPeriodEnd {
		if err := s.subscriptions.SetAutoRenew(sub.ID, false, &now); err != nil {
			return err
		}
	} else {
		if err := s.subscriptions.MarkCancelled(sub.ID, now); err != nil {
			return err
		}
	}

	provider, err := s.providers.ForName(sub.Provider)
	if err != nil {
		return err
	}
	if err := provider.CancelSubscription(ctx, sub.ProviderSubscriptionID, atPeriodEnd); err != nil {
		return fmt.Errorf("provider cancellation failed: %w", err)
	}
	return nil
}

// discardLicense rolls back a license issued by a delivery that turned out
// to be a duplicate. Nothing references the row at this point.
func (s *Service) discardLicense(id uint) {
	if err := s.licenses.Delete(id); err != nil {
		log.Printf("could not remove superseded license id=%d: %v", id, err)
	}
}

func (s *Service) createSubscriptionForPurchase(ev *payments.Event, license *models.License) (*models.Subscription, bool, error) {
	providerSubID := ev.SubscriptionID
	if providerSubID == "" {
		// One-time purchases have no provider subscription; key the row by
		// the order so later events can still find it.
		providerSubID = "order:" + ev.OrderID
	}

	amount := payments.FromMinorUnits(ev.AmountMinor, ev.Currency)
	currency := ev.Currency
	if currency == "" {
		currency = "USD"
	}

	now := time.Now()
	periodStart := now
	if ev.PeriodStart != nil {
		periodStart = *ev.PeriodStart
	}
	var periodEnd time.Time
	if ev.PeriodEnd != nil {
		periodEnd = *ev.PeriodEnd
	} else if license.ValidUntil != nil {
		periodEnd = *license.ValidUntil
	} else {
		periodEnd = s.lifecycle.Policy().AddInterval(periodStart)
	}

	sub := &models.Subscription{
		LicenseID:              license.ID,
		Provider:               ev.Provider,
		ProviderSubscriptionID: providerSubID,
		ProviderCustomerID:     ev.CustomerID,
		Status:                 models.SubscriptionStatusActive,
		Amount:                 amount,
		Currency:               currency,
		BillingInterval:        s.lifecycle.Policy().BillingInterval,
		CurrentPeriodStart:     &periodStart,
		CurrentPeriodEnd:       &periodEnd,
		NextPaymentAt:          &periodEnd,
		AutoRenew:              license.AutoRenew,
	}
	created, err := s.subscriptions.Create(sub)
	if err != nil {
		return nil, false, err
	}
	return sub, created, nil
}

func (s *Service) recordPayment(ev *payments.Event, licenseID uint, sub *models.Subscription, status string) (*models.Payment, bool, error) {
	paidAt := ev.PaidAt
	if paidAt == nil {
		now := time.Now()
		paidAt = &now
	}

	payment := &models.Payment{
		LicenseID:         licenseID,
		Provider:          ev.Provider,
		ProviderPaymentID: ev.PaymentID,
		ProviderOrderID:   ev.OrderID,
		ProviderInvoiceID: ev.InvoiceID,
		Status:            status,
		Amount:            payments.FromMinorUnits(ev.AmountMinor, ev.Currency),
		Currency:          ev.Currency,
		PaidAt:            paidAt,
		ReceiptURL:        ev.ReceiptURL,
		InvoiceURL:        ev.InvoiceURL,
		PaymentType:       models.PaymentTypeSubscription,
		PeriodStart:       ev.PeriodStart,
		PeriodEnd:         ev.PeriodEnd,
		CardBrand:         ev.CardBrand,
		CardLast4:         ev.CardLast4,
	}
	if sub != nil {
		payment.SubscriptionID = sub.ID
	}
	if ev.SubscriptionID == "" {
		payment.PaymentType = models.PaymentTypeOneTime
	}

	created, err := s.paymentLedger.Create(payment)
	if err != nil {
		return nil, false, err
	}
	return payment, created, nil
}

// lookupSubscription resolves the event's provider subscription id. A
// missing reference is a data problem retrying cannot fix: it is logged and
// acknowledged, never surfaced as a webhook failure.
func (s *Service) lookupSubscription(ev *payments.Event) (*models.Subscription, *Outcome, error) {
	if ev.SubscriptionID == "" {
		log.Printf("%s event %s carries no subscription id, dropping", ev.Provider, ev.RawType)
		return nil, outcomeIgnored, nil
	}
	sub, err := s.subscriptions.GetByProviderSubscriptionID(ev.Provider, ev.SubscriptionID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			log.Printf("%s event %s references unknown subscription %s, dropping", ev.Provider, ev.RawType, ev.SubscriptionID)
			return nil, outcomeIgnored, nil
		}
		return nil, nil, err
	}
	return sub, nil, nil
}

// renewalPeriod prefers the period the provider reports; without one the new
// period is derived from the stored period end plus one interval, never from
// the current wall clock.
func (s *Service) renewalPeriod(ev *payments.Event, sub *models.Subscription) (time.Time, time.Time) {
	if ev.PeriodStart != nil && ev.PeriodEnd != nil {
		return *ev.PeriodStart, *ev.PeriodEnd
	}
	if sub.CurrentPeriodEnd != nil {
		start := *sub.CurrentPeriodEnd
		return start, s.lifecycle.Policy().AddInterval(start)
	}
	start := time.Now()
	return start, s.lifecycle.Policy().AddInterval(start)
}

func (s *Service) resolvePendingMetadata(ev *payments.Event) {
	if ev.OrderID == "" || (ev.Tier != "" && ev.Email != "") {
		return
	}
	pending, err := checkout.GetPending(ev.Provider, ev.OrderID)
	if err != nil {
		if !errors.Is(err, checkout.ErrNotFound) {
			log.Printf("pending checkout lookup failed for %s/%s: %v", ev.Provider, ev.OrderID, err)
		}
		return
	}
	if ev.Tier == "" {
		ev.Tier = pending.Tier
	}
	if ev.Email == "" {
		ev.Email = pending.Email
	}
	if ev.Name == "" {
		ev.Name = pending.Name
	}
	if ev.Company == "" {
		ev.Company = pending.Company
	}
	if ev.Domain == "" {
		ev.Domain = pending.Domain
	}
}
