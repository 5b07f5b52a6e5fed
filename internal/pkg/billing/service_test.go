package billing

import (
	"context"
	"testing"
	"time"

	"gorm.io/gorm"

	"github.com/licensefox/licensefox/app/models"
	"github.com/licensefox/licensefox/app/repository"
	"github.com/licensefox/licensefox/internal/pkg/licensing"
	"github.com/licensefox/licensefox/internal/pkg/payments"
)

// In-memory fakes mirroring the repository uniqueness semantics, so handler
// idempotency can be exercised without a database.

type fakeLicenseRepo struct {
	byID   map[uint]*models.License
	nextID uint
}

func newFakeLicenseRepo() *fakeLicenseRepo {
	return &fakeLicenseRepo{byID: make(map[uint]*models.License), nextID: 1}
}

func (f *fakeLicenseRepo) Create(l *models.License) error {
	l.ID = f.nextID
	f.nextID++
	clone := *l
	f.byID[l.ID] = &clone
	return nil
}

func (f *fakeLicenseRepo) GetByID(id uint) (*models.License, error) {
	l, ok := f.byID[id]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	clone := *l
	return &clone, nil
}

func (f *fakeLicenseRepo) GetByKey(key string) (*models.License, error) {
	for _, l := range f.byID {
		if l.LicenseKey == key {
			clone := *l
			return &clone, nil
		}
	}
	return nil, gorm.ErrRecordNotFound
}

func (f *fakeLicenseRepo) ExistsKey(key string) (bool, error) {
	_, err := f.GetByKey(key)
	if err != nil {
		return false, nil
	}
	return true, nil
}

func (f *fakeLicenseRepo) Update(l *models.License) error {
	if _, ok := f.byID[l.ID]; !ok {
		return gorm.ErrRecordNotFound
	}
	clone := *l
	f.byID[l.ID] = &clone
	return nil
}

func (f *fakeLicenseRepo) UpdateStatus(id uint, status string) error {
	l, ok := f.byID[id]
	if !ok {
		return gorm.ErrRecordNotFound
	}
	l.Status = status
	return nil
}

func (f *fakeLicenseRepo) Delete(id uint) error {
	delete(f.byID, id)
	return nil
}

func (f *fakeLicenseRepo) List(offset, limit int) ([]models.License, error) { return nil, nil }
func (f *fakeLicenseRepo) Count() (int64, error)                            { return int64(len(f.byID)), nil }
func (f *fakeLicenseRepo) ListDueForStatusSweep(now time.Time) ([]models.License, error) {
	return nil, nil
}

type fakeSubscriptionRepo struct {
	byID     map[uint]*models.Subscription
	nextID   uint
	failures []string
}

func newFakeSubscriptionRepo() *fakeSubscriptionRepo {
	return &fakeSubscriptionRepo{byID: make(map[uint]*models.Subscription), nextID: 1}
}

func (f *fakeSubscriptionRepo) Create(sub *models.Subscription) (bool, error) {
	for _, existing := range f.byID {
		if existing.Provider == sub.Provider && existing.ProviderSubscriptionID == sub.ProviderSubscriptionID {
			*sub = *existing
			return false, nil
		}
	}
	sub.ID = f.nextID
	f.nextID++
	clone := *sub
	f.byID[sub.ID] = &clone
	return true, nil
}

func (f *fakeSubscriptionRepo) GetByID(id uint) (*models.Subscription, error) {
	s, ok := f.byID[id]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	clone := *s
	return &clone, nil
}

func (f *fakeSubscriptionRepo) GetByProviderSubscriptionID(provider, providerSubscriptionID string) (*models.Subscription, error) {
	for _, s := range f.byID {
		if s.Provider == provider && s.ProviderSubscriptionID == providerSubscriptionID {
			clone := *s
			return &clone, nil
		}
	}
	return nil, gorm.ErrRecordNotFound
}

func (f *fakeSubscriptionRepo) GetByLicenseID(licenseID uint) (*models.Subscription, error) {
	for _, s := range f.byID {
		if s.LicenseID == licenseID {
			clone := *s
			return &clone, nil
		}
	}
	return nil, gorm.ErrRecordNotFound
}

func (f *fakeSubscriptionRepo) AdvancePeriod(id uint, newStart, newEnd time.Time) error {
	s, ok := f.byID[id]
	if !ok {
		return gorm.ErrRecordNotFound
	}
	if s.CurrentPeriodEnd != nil && s.CurrentPeriodEnd.After(newEnd) {
		return repository.ErrStalePeriod
	}
	s.CurrentPeriodStart = &newStart
	s.CurrentPeriodEnd = &newEnd
	s.NextPaymentAt = &newEnd
	return nil
}

func (f *fakeSubscriptionRepo) IncrementPaymentCount(id uint, paidAt time.Time) error {
	s, ok := f.byID[id]
	if !ok {
		return gorm.ErrRecordNotFound
	}
	s.PaymentCount++
	s.LastPaymentAt = &paidAt
	return nil
}

func (f *fakeSubscriptionRepo) RecordFailure(id uint, reason string) error {
	s, ok := f.byID[id]
	if !ok {
		return gorm.ErrRecordNotFound
	}
	s.Status = models.SubscriptionStatusPastDue
	s.FailureReason = reason
	f.failures = append(f.failures, reason)
	return nil
}

func (f *fakeSubscriptionRepo) SetAutoRenew(id uint, autoRenew bool, cancelledAt *time.Time) error {
	s, ok := f.byID[id]
	if !ok {
		return gorm.ErrRecordNotFound
	}
	s.AutoRenew = autoRenew
	s.CancelledAt = cancelledAt
	return nil
}

func (f *fakeSubscriptionRepo) MarkCancelled(id uint, at time.Time) error {
	s, ok := f.byID[id]
	if !ok {
		return gorm.ErrRecordNotFound
	}
	s.Status = models.SubscriptionStatusCancelled
	s.AutoRenew = false
	s.CancelledAt = &at
	return nil
}

func (f *fakeSubscriptionRepo) Update(sub *models.Subscription) error {
	if _, ok := f.byID[sub.ID]; !ok {
		return gorm.ErrRecordNotFound
	}
	clone := *sub
	f.byID[sub.ID] = &clone
	return nil
}

func (f *fakeSubscriptionRepo) Delete(id uint) error {
	delete(f.byID, id)
	return nil
}

type fakePaymentRepo struct {
	byID   map[uint]*models.Payment
	nextID uint

	// missNextLookup makes the next GetByProviderPaymentID miss even when
	// the row exists, emulating a read that falls into the gap before a
	// concurrent delivery's insert commits.
	missNextLookup bool
}

func newFakePaymentRepo() *fakePaymentRepo {
	return &fakePaymentRepo{byID: make(map[uint]*models.Payment), nextID: 1}
}

func (f *fakePaymentRepo) Create(p *models.Payment) (bool, error) {
	for _, existing := range f.byID {
		if existing.Provider == p.Provider && existing.ProviderPaymentID == p.ProviderPaymentID {
			return false, nil
		}
	}
	p.ID = f.nextID
	f.nextID++
	clone := *p
	f.byID[p.ID] = &clone
	return true, nil
}

func (f *fakePaymentRepo) GetByProviderPaymentID(provider, providerPaymentID string) (*models.Payment, error) {
	if f.missNextLookup {
		f.missNextLookup = false
		return nil, gorm.ErrRecordNotFound
	}
	for _, p := range f.byID {
		if p.Provider == provider && p.ProviderPaymentID == providerPaymentID {
			clone := *p
			return &clone, nil
		}
	}
	return nil, gorm.ErrRecordNotFound
}

func (f *fakePaymentRepo) ListBySubscription(subscriptionID uint) ([]models.Payment, error) {
	var out []models.Payment
	for _, p := range f.byID {
		if p.SubscriptionID == subscriptionID {
			out = append(out, *p)
		}
	}
	return out, nil
}

func (f *fakePaymentRepo) CountSucceededBySubscription(subscriptionID uint) (int64, error) {
	var n int64
	for _, p := range f.byID {
		if p.SubscriptionID == subscriptionID && p.Status == models.PaymentStatusSucceeded {
			n++
		}
	}
	return n, nil
}

type fakeWebhookEventRepo struct {
	byKey  map[string]*models.WebhookEvent
	nextID uint
}

func newFakeWebhookEventRepo() *fakeWebhookEventRepo {
	return &fakeWebhookEventRepo{byKey: make(map[string]*models.WebhookEvent), nextID: 1}
}

func (f *fakeWebhookEventRepo) CreateIfNotExists(event *models.WebhookEvent) (bool, *models.WebhookEvent, error) {
	key := event.Provider + "/" + event.ProviderEventID
	if existing, ok := f.byKey[key]; ok {
		clone := *existing
		return false, &clone, nil
	}
	event.ID = f.nextID
	f.nextID++
	clone := *event
	f.byKey[key] = &clone
	return true, event, nil
}

func (f *fakeWebhookEventRepo) MarkProcessed(id uint, processingError string) error {
	for _, e := range f.byKey {
		if e.ID == id {
			now := time.Now()
			e.ProcessedAt = &now
			e.ProcessingError = processingError
			return nil
		}
	}
	return gorm.ErrRecordNotFound
}

// recordingNotifier counts outbound notifications per kind.
type recordingNotifier struct {
	purchases     int
	renewals      int
	failures      int
	cancellations int
}

func (n *recordingNotifier) PurchaseConfirmed(*models.License, *models.Subscription) error {
	n.purchases++
	return nil
}

func (n *recordingNotifier) LicenseRenewed(*models.License, *models.Payment) error {
	n.renewals++
	return nil
}

func (n *recordingNotifier) PaymentFailed(*models.License, *models.Subscription, string) error {
	n.failures++
	return nil
}

func (n *recordingNotifier) SubscriptionCancelled(*models.License, *models.Subscription, bool) error {
	n.cancellations++
	return nil
}

type billingFixture struct {
	svc      *Service
	licenses *fakeLicenseRepo
	subs     *fakeSubscriptionRepo
	payments *fakePaymentRepo
	events   *fakeWebhookEventRepo
	notifier *recordingNotifier
}

func newBillingFixture() *billingFixture {
	licenses := newFakeLicenseRepo()
	subs := newFakeSubscriptionRepo()
	paymentLedger := newFakePaymentRepo()
	events := newFakeWebhookEventRepo()
	notifier := &recordingNotifier{}

	repos := &repository.Repositories{
		License:      licenses,
		Subscription: subs,
		Payment:      paymentLedger,
		WebhookEvent: events,
	}
	svc := NewService(repos, licensing.NewService(licenses, licensing.DefaultPolicy()), notifier, payments.NewRegistry())

	return &billingFixture{
		svc:      svc,
		licenses: licenses,
		subs:     subs,
		payments: paymentLedger,
		events:   events,
		notifier: notifier,
	}
}

func checkoutEvent() *payments.Event {
	return &payments.Event{
		Provider:        "stripe",
		Kind:            payments.EventCheckoutCompleted,
		ProviderEventID: "evt_checkout_1",
		RawType:         "checkout.session.completed",
		SubscriptionID:  "sub_1",
		CustomerID:      "cus_1",
		PaymentID:       "pi_1",
		OrderID:         "cs_1",
		AmountMinor:     9900,
		Currency:        "USD",
		Tier:            "standard",
		Email:           "jane@example.com",
		Name:            "Jane",
	}
}

func TestHandleCheckoutCompleted_IssuesLicense(t *testing.T) {
	f := newBillingFixture()

	outcome, err := f.svc.HandleCheckoutCompleted(context.Background(), checkoutEvent())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if outcome.Status != OutcomeHandled {
		t.Fatalf("expected handled, got %q", outcome.Status)
	}
	if outcome.LicenseID == 0 {
		t.Fatalf("expected a license id in the outcome")
	}

	license, err := f.licenses.GetByID(outcome.LicenseID)
	if err != nil {
		t.Fatalf("license not stored: %v", err)
	}
	if license.Tier != "standard" || license.Status != models.LicenseStatusActive {
		t.Fatalf("unexpected license: %+v", license)
	}

	sub, err := f.subs.GetByProviderSubscriptionID("stripe", "sub_1")
	if err != nil {
		t.Fatalf("subscription not stored: %v", err)
	}
	if sub.LicenseID != license.ID {
		t.Fatalf("subscription not linked to license")
	}
	if sub.Amount != 99.00 {
		t.Fatalf("expected decimal amount 99.00, got %v", sub.Amount)
	}
	if sub.PaymentCount != 1 {
		t.Fatalf("first payment must be counted at issuance, got %d", sub.PaymentCount)
	}
	if n, _ := f.payments.CountSucceededBySubscription(sub.ID); n != int64(sub.PaymentCount) {
		t.Fatalf("payment counter %d diverges from %d succeeded rows", sub.PaymentCount, n)
	}

	payment, err := f.payments.GetByProviderPaymentID("stripe", "pi_1")
	if err != nil {
		t.Fatalf("payment not stored: %v", err)
	}
	if payment.Status != models.PaymentStatusSucceeded {
		t.Fatalf("unexpected payment status %q", payment.Status)
	}

	if f.notifier.purchases != 1 {
		t.Fatalf("expected 1 purchase notification, got %d", f.notifier.purchases)
	}
}

func TestHandleCheckoutCompleted_RedeliveryIsDuplicate(t *testing.T) {
	f := newBillingFixture()

	if _, err := f.svc.HandleCheckoutCompleted(context.Background(), checkoutEvent()); err != nil {
		t.Fatalf("first delivery failed: %v", err)
	}

	outcome, err := f.svc.HandleCheckoutCompleted(context.Background(), checkoutEvent())
	if err != nil {
		t.Fatalf("redelivery failed: %v", err)
	}
	if outcome.Status != OutcomeDuplicate {
		t.Fatalf("expected duplicate, got %q", outcome.Status)
	}

	if n, _ := f.licenses.Count(); n != 1 {
		t.Fatalf("expected exactly one license, got %d", n)
	}
	if len(f.payments.byID) != 1 {
		t.Fatalf("expected exactly one payment row, got %d", len(f.payments.byID))
	}
	if f.notifier.purchases != 1 {
		t.Fatalf("expected no second purchase notification, got %d", f.notifier.purchases)
	}
}

func TestHandleCheckoutCompleted_SubscriptionRaceDiscardsLoserLicense(t *testing.T) {
	f := newBillingFixture()

	if _, err := f.svc.HandleCheckoutCompleted(context.Background(), checkoutEvent()); err != nil {
		t.Fatalf("first delivery failed: %v", err)
	}

	// Same provider subscription, different payment id: passes the ledger
	// pre-check, loses the subscription insert.
	ev := checkoutEvent()
	ev.ProviderEventID = "evt_checkout_2"
	ev.PaymentID = "pi_1b"

	outcome, err := f.svc.HandleCheckoutCompleted(context.Background(), ev)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if outcome.Status != OutcomeDuplicate {
		t.Fatalf("expected duplicate, got %q", outcome.Status)
	}
	if n, _ := f.licenses.Count(); n != 1 {
		t.Fatalf("losing delivery must not leave a license behind, got %d", n)
	}
	if len(f.subs.byID) != 1 {
		t.Fatalf("expected exactly one subscription, got %d", len(f.subs.byID))
	}
}

func TestHandleCheckoutCompleted_PaymentRaceDiscardsLoserRows(t *testing.T) {
	f := newBillingFixture()

	if _, err := f.svc.HandleCheckoutCompleted(context.Background(), checkoutEvent()); err != nil {
		t.Fatalf("webhook delivery failed: %v", err)
	}

	// Client verification for the same payment, interleaved so its ledger
	// pre-check ran before the webhook's insert became visible. The payment
	// insert itself still loses, and the verify path's license and order-keyed
	// subscription must both be rolled back.
	ev := checkoutEvent()
	ev.ProviderEventID = "verify:pi_1"
	ev.RawType = "client.payment.verified"
	ev.SubscriptionID = ""
	ev.OrderID = "cs_verify_1"
	f.payments.missNextLookup = true

	outcome, err := f.svc.HandleCheckoutCompleted(context.Background(), ev)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if outcome.Status != OutcomeDuplicate {
		t.Fatalf("expected duplicate, got %q", outcome.Status)
	}
	if n, _ := f.licenses.Count(); n != 1 {
		t.Fatalf("expected exactly one license after the race, got %d", n)
	}
	if len(f.subs.byID) != 1 {
		t.Fatalf("expected exactly one subscription after the race, got %d", len(f.subs.byID))
	}
	if len(f.payments.byID) != 1 {
		t.Fatalf("expected exactly one payment row, got %d", len(f.payments.byID))
	}
	if f.notifier.purchases != 1 {
		t.Fatalf("expected a single purchase notification, got %d", f.notifier.purchases)
	}
}

func TestHandleCheckoutCompleted_MissingMetadataIsIgnored(t *testing.T) {
	f := newBillingFixture()

	ev := checkoutEvent()
	ev.Tier = ""
	ev.OrderID = "" // no pending stash either

	outcome, err := f.svc.HandleCheckoutCompleted(context.Background(), ev)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if outcome.Status != OutcomeIgnored {
		t.Fatalf("expected ignored, got %q", outcome.Status)
	}
	if n, _ := f.licenses.Count(); n != 0 {
		t.Fatalf("expected no license for unresolvable checkout")
	}
}

func TestHandleCheckoutCompleted_UnknownTierAcknowledged(t *testing.T) {
	f := newBillingFixture()

	ev := checkoutEvent()
	ev.Tier = "platinum"
	ev.OrderID = ""

	outcome, err := f.svc.HandleCheckoutCompleted(context.Background(), ev)
	if err != nil {
		t.Fatalf("semantic rejection must not surface as an error: %v", err)
	}
	if outcome.Status != OutcomeIgnored {
		t.Fatalf("expected ignored, got %q", outcome.Status)
	}
}

func renewalEvent(paymentID string, start, end time.Time) *payments.Event {
	return &payments.Event{
		Provider:        "stripe",
		Kind:            payments.EventInvoicePaid,
		ProviderEventID: "evt_renewal_" + paymentID,
		RawType:         "invoice.paid",
		SubscriptionID:  "sub_1",
		PaymentID:       paymentID,
		InvoiceID:       "in_" + paymentID,
		AmountMinor:     9900,
		Currency:        "USD",
		PeriodStart:     &start,
		PeriodEnd:       &end,
	}
}

func TestHandleRenewal_ExtendsAndCounts(t *testing.T) {
	f := newBillingFixture()

	if _, err := f.svc.HandleCheckoutCompleted(context.Background(), checkoutEvent()); err != nil {
		t.Fatalf("setup purchase failed: %v", err)
	}
	sub, _ := f.subs.GetByProviderSubscriptionID("stripe", "sub_1")
	license, _ := f.licenses.GetByID(sub.LicenseID)
	boundBefore := *license.ValidUntil

	start := *sub.CurrentPeriodEnd
	end := start.AddDate(1, 0, 0)
	outcome, err := f.svc.HandleRenewal(context.Background(), renewalEvent("pi_2", start, end))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if outcome.Status != OutcomeHandled {
		t.Fatalf("expected handled, got %q", outcome.Status)
	}

	license, _ = f.licenses.GetByID(sub.LicenseID)
	wantBound := boundBefore.AddDate(1, 0, 0)
	if license.ValidUntil == nil || !license.ValidUntil.Equal(wantBound) {
		t.Fatalf("expected validity %v, got %v", wantBound, license.ValidUntil)
	}

	sub, _ = f.subs.GetByProviderSubscriptionID("stripe", "sub_1")
	if sub.PaymentCount != 2 {
		t.Fatalf("expected payment count 2 after the renewal, got %d", sub.PaymentCount)
	}
	if sub.CurrentPeriodEnd == nil || !sub.CurrentPeriodEnd.Equal(end) {
		t.Fatalf("expected advanced period end %v, got %v", end, sub.CurrentPeriodEnd)
	}
	if f.notifier.renewals != 1 {
		t.Fatalf("expected 1 renewal notification, got %d", f.notifier.renewals)
	}
}

func TestHandleRenewal_RedeliveryIsDuplicate(t *testing.T) {
	f := newBillingFixture()

	if _, err := f.svc.HandleCheckoutCompleted(context.Background(), checkoutEvent()); err != nil {
		t.Fatalf("setup purchase failed: %v", err)
	}
	sub, _ := f.subs.GetByProviderSubscriptionID("stripe", "sub_1")
	start := *sub.CurrentPeriodEnd
	end := start.AddDate(1, 0, 0)

	if _, err := f.svc.HandleRenewal(context.Background(), renewalEvent("pi_2", start, end)); err != nil {
		t.Fatalf("first renewal failed: %v", err)
	}
	outcome, err := f.svc.HandleRenewal(context.Background(), renewalEvent("pi_2", start, end))
	if err != nil {
		t.Fatalf("redelivery failed: %v", err)
	}
	if outcome.Status != OutcomeDuplicate {
		t.Fatalf("expected duplicate, got %q", outcome.Status)
	}

	sub, _ = f.subs.GetByProviderSubscriptionID("stripe", "sub_1")
	if sub.PaymentCount != 2 {
		t.Fatalf("redelivery must not double-count, got %d", sub.PaymentCount)
	}
	if f.notifier.renewals != 1 {
		t.Fatalf("expected 1 renewal notification, got %d", f.notifier.renewals)
	}
}

func TestHandleRenewal_OutOfOrderKeepsLaterPeriod(t *testing.T) {
	f := newBillingFixture()

	if _, err := f.svc.HandleCheckoutCompleted(context.Background(), checkoutEvent()); err != nil {
		t.Fatalf("setup purchase failed: %v", err)
	}
	sub, _ := f.subs.GetByProviderSubscriptionID("stripe", "sub_1")
	start := *sub.CurrentPeriodEnd
	laterEnd := start.AddDate(2, 0, 0)

	// A later renewal already advanced the period.
	if _, err := f.svc.HandleRenewal(context.Background(), renewalEvent("pi_3", start.AddDate(1, 0, 0), laterEnd)); err != nil {
		t.Fatalf("later renewal failed: %v", err)
	}

	// The delayed earlier renewal still counts its payment but must not
	// regress the period.
	earlierEnd := start.AddDate(1, 0, 0)
	outcome, err := f.svc.HandleRenewal(context.Background(), renewalEvent("pi_2", start, earlierEnd))
	if err != nil {
		t.Fatalf("out-of-order renewal failed: %v", err)
	}
	if outcome.Status != OutcomeHandled {
		t.Fatalf("expected handled, got %q", outcome.Status)
	}

	sub, _ = f.subs.GetByProviderSubscriptionID("stripe", "sub_1")
	if sub.CurrentPeriodEnd == nil || !sub.CurrentPeriodEnd.Equal(laterEnd) {
		t.Fatalf("period regressed to %v, want %v", sub.CurrentPeriodEnd, laterEnd)
	}
	if sub.PaymentCount != 3 {
		t.Fatalf("expected initial payment plus both renewals counted, got %d", sub.PaymentCount)
	}
}

func TestHandleRenewal_UnknownSubscriptionIgnored(t *testing.T) {
	f := newBillingFixture()

	start := time.Now()
	outcome, err := f.svc.HandleRenewal(context.Background(), renewalEvent("pi_9", start, start.AddDate(1, 0, 0)))
	if err != nil {
		t.Fatalf("unknown subscription must be acknowledged, got error: %v", err)
	}
	if outcome.Status != OutcomeIgnored {
		t.Fatalf("expected ignored, got %q", outcome.Status)
	}
}

func TestHandlePaymentFailed(t *testing.T) {
	f := newBillingFixture()

	if _, err := f.svc.HandleCheckoutCompleted(context.Background(), checkoutEvent()); err != nil {
		t.Fatalf("setup purchase failed: %v", err)
	}

	ev := &payments.Event{
		Provider:       "stripe",
		Kind:           payments.EventPaymentFailed,
		RawType:        "invoice.payment_failed",
		SubscriptionID: "sub_1",
		FailureReason:  "card_declined",
	}
	outcome, err := f.svc.HandlePaymentFailed(context.Background(), ev)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if outcome.Status != OutcomeHandled {
		t.Fatalf("expected handled, got %q", outcome.Status)
	}

	sub, _ := f.subs.GetByProviderSubscriptionID("stripe", "sub_1")
	if sub.Status != models.SubscriptionStatusPastDue {
		t.Fatalf("expected past_due, got %q", sub.Status)
	}
	if sub.FailureReason != "card_declined" {
		t.Fatalf("unexpected failure reason %q", sub.FailureReason)
	}
	// the license keeps its validity until the sweep degrades it
	license, _ := f.licenses.GetByID(sub.LicenseID)
	if license.Status != models.LicenseStatusActive {
		t.Fatalf("payment failure must not immediately touch the license, got %q", license.Status)
	}
	if f.notifier.failures != 1 {
		t.Fatalf("expected 1 failure notification, got %d", f.notifier.failures)
	}
}

func cancellationEvent(atPeriodEnd bool) *payments.Event {
	return &payments.Event{
		Provider:          "stripe",
		Kind:              payments.EventSubscriptionCancelled,
		RawType:           "customer.subscription.deleted",
		SubscriptionID:    "sub_1",
		CancelAtPeriodEnd: atPeriodEnd,
	}
}

func TestHandleSubscriptionCancelled_SoftCancel(t *testing.T) {
	f := newBillingFixture()

	if _, err := f.svc.HandleCheckoutCompleted(context.Background(), checkoutEvent()); err != nil {
		t.Fatalf("setup purchase failed: %v", err)
	}

	outcome, err := f.svc.HandleSubscriptionCancelled(context.Background(), cancellationEvent(true))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if outcome.Status != OutcomeHandled {
		t.Fatalf("expected handled, got %q", outcome.Status)
	}

	sub, _ := f.subs.GetByProviderSubscriptionID("stripe", "sub_1")
	if sub.AutoRenew {
		t.Fatalf("soft cancel must disable auto-renew")
	}
	if sub.Status == models.SubscriptionStatusCancelled {
		t.Fatalf("soft cancel must not terminate the subscription yet")
	}
	license, _ := f.licenses.GetByID(sub.LicenseID)
	if license.AutoRenew {
		t.Fatalf("license auto-renew should follow the cancellation")
	}
	if license.Status != models.LicenseStatusActive {
		t.Fatalf("license stays usable until the period ends, got %q", license.Status)
	}
	if f.notifier.cancellations != 1 {
		t.Fatalf("expected 1 cancellation notification, got %d", f.notifier.cancellations)
	}
}

func TestHandleSubscriptionCancelled_HardCancel(t *testing.T) {
	f := newBillingFixture()

	if _, err := f.svc.HandleCheckoutCompleted(context.Background(), checkoutEvent()); err != nil {
		t.Fatalf("setup purchase failed: %v", err)
	}

	outcome, err := f.svc.HandleSubscriptionCancelled(context.Background(), cancellationEvent(false))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if outcome.Status != OutcomeHandled {
		t.Fatalf("expected handled, got %q", outcome.Status)
	}

	sub, _ := f.subs.GetByProviderSubscriptionID("stripe", "sub_1")
	if sub.Status != models.SubscriptionStatusCancelled {
		t.Fatalf("expected cancelled, got %q", sub.Status)
	}
	if sub.CancelledAt == nil {
		t.Fatalf("expected cancellation timestamp")
	}
}

func TestHandleSubscriptionCancelled_TerminalIsDuplicate(t *testing.T) {
	f := newBillingFixture()

	if _, err := f.svc.HandleCheckoutCompleted(context.Background(), checkoutEvent()); err != nil {
		t.Fatalf("setup purchase failed: %v", err)
	}
	if _, err := f.svc.HandleSubscriptionCancelled(context.Background(), cancellationEvent(false)); err != nil {
		t.Fatalf("first cancellation failed: %v", err)
	}

	outcome, err := f.svc.HandleSubscriptionCancelled(context.Background(), cancellationEvent(false))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if outcome.Status != OutcomeDuplicate {
		t.Fatalf("expected duplicate, got %q", outcome.Status)
	}
	if f.notifier.cancellations != 1 {
		t.Fatalf("expected no second cancellation notification, got %d", f.notifier.cancellations)
	}
}

func TestRecordWebhookEvent_Dedupes(t *testing.T) {
	f := newBillingFixture()
	ctx := context.Background()

	created, stored, err := f.svc.RecordWebhookEvent(ctx, "stripe", "evt_1", "invoice.paid", []byte(`{}`), true)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !created || stored.ID == 0 {
		t.Fatalf("expected first delivery to create a row")
	}

	created, _, err = f.svc.RecordWebhookEvent(ctx, "stripe", "evt_1", "invoice.paid", []byte(`{}`), true)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if created {
		t.Fatalf("expected redelivery to be deduped")
	}
}

func TestRecordWebhookEvent_HashFallback(t *testing.T) {
	f := newBillingFixture()
	ctx := context.Background()
	payload := []byte(`{"event":"order.paid"}`)

	created, stored, err := f.svc.RecordWebhookEvent(ctx, "razorpay", "", "order.paid", payload, true)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !created {
		t.Fatalf("expected first delivery to create a row")
	}
	if stored.ProviderEventID == "" {
		t.Fatalf("expected a synthesized event id")
	}

	created, _, err = f.svc.RecordWebhookEvent(ctx, "razorpay", "", "order.paid", payload, true)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if created {
		t.Fatalf("expected byte-identical redelivery to be deduped")
	}
}

func TestRouterDispatch(t *testing.T) {
	f := newBillingFixture()
	router := NewRouter(f.svc)
	ctx := context.Background()

	outcome, err := router.Dispatch(ctx, checkoutEvent())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if outcome.Status != OutcomeHandled {
		t.Fatalf("expected handled, got %q", outcome.Status)
	}

	// unmapped kinds are acknowledged, not failed
	outcome, err = router.Dispatch(ctx, &payments.Event{
		Provider: "stripe",
		Kind:     payments.EventUnhandled,
		RawType:  "charge.refund.updated",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if outcome.Status != OutcomeIgnored {
		t.Fatalf("expected ignored, got %q", outcome.Status)
	}

	// razorpay renewals arrive as subscription.charged
	if _, ok := router.routes[routeKey{provider: "razorpay", kind: payments.EventSubscriptionCharged}]; !ok {
		t.Fatalf("expected razorpay subscription.charged route")
	}
}
