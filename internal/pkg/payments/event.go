package payments

import "time"

// EventKind is the internal classification of a provider webhook event.
// Providers name these differently; the adapters map their raw event types
// onto this enum so the router can stay provider-neutral.
type EventKind string

const (
	EventCheckoutCompleted     EventKind = "checkout_completed"
	EventInvoicePaid           EventKind = "invoice_paid"
	EventPaymentFailed         EventKind = "payment_failed"
	EventSubscriptionCancelled EventKind = "subscription_cancelled"
	EventSubscriptionCharged   EventKind = "subscription_charged"
	EventUnhandled             EventKind = "unhandled"
)

// Event is the provider-neutral webhook DTO owned by this system. Only the
// fields the lifecycle engine needs are carried; everything else in the
// provider payload is ignored so upstream SDK changes stay inside the
// adapters. Amounts are in provider minor units until they cross into the
// ledger.
type Event struct {
	Provider        string
	Kind            EventKind
	ProviderEventID string
	RawType         string

	SubscriptionID string
	CustomerID     string
	PaymentID      string
	OrderID        string
	InvoiceID      string

	AmountMinor int64
	Currency    string
	PeriodStart *time.Time
	PeriodEnd   *time.Time
	PaidAt      *time.Time

	CardBrand  string
	CardLast4  string
	ReceiptURL string
	InvoiceURL string

	CancelAtPeriodEnd bool
	FailureReason     string

	// Checkout metadata the merchant attached at session/order creation.
	Tier    string
	Email   string
	Name    string
	Company string
	Domain  string
}
