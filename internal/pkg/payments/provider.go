package payments

import (
	"context"
	"errors"
	"strings"
	"time"
)

// ErrUnknownProvider is returned when a request names a provider this
// deployment does not serve.
var ErrUnknownProvider = errors.New("unknown payment provider")

// CheckoutRequest carries everything a provider needs to start a purchase.
type CheckoutRequest struct {
	Tier            string
	Email           string
	Name            string
	Company         string
	Domain          string
	AmountMinor     int64
	Currency        string
	BillingInterval string
}

// CheckoutSession is the provider-specific continuation of a checkout.
// Stripe-style providers return a redirect URL; Razorpay-style providers
// return an order id plus the params the client SDK needs.
type CheckoutSession struct {
	Provider string                 `json:"provider"`
	OrderID  string                 `json:"order_id,omitempty"`
	URL      string                 `json:"url,omitempty"`
	Params   map[string]interface{} `json:"params,omitempty"`
}

// PaymentInfo is the narrow view of a provider-side payment used by the
// verification path.
type PaymentInfo struct {
	PaymentID   string
	OrderID     string
	Status      string
	AmountMinor int64
	Currency    string
	Email       string
	CardBrand   string
	CardLast4   string
	ReceiptURL  string
	CreatedAt   time.Time
}

// Provider is the uniform capability surface over a payment provider.
// Signature checks operate on the raw, unparsed request body.
type Provider interface {
	Name() string
	CreateCheckout(ctx context.Context, req CheckoutRequest) (*CheckoutSession, error)
	VerifyWebhookSignature(payload []byte, signatureHeader string) bool
	VerifyPaymentSignature(orderID, paymentID, signature string) bool
	GetPrice(ctx context.Context, tier string) (amount float64, currency string, err error)
	CancelSubscription(ctx context.Context, providerSubscriptionID string, atPeriodEnd bool) error
	GetPayment(ctx context.Context, paymentID string) (*PaymentInfo, error)
	ParseWebhookEvent(payload []byte) (*Event, error)
}

// Registry resolves providers by their URL/name token.
type Registry struct {
	providers map[string]Provider
}

// NewRegistry builds a registry over the given providers.
func NewRegistry(providers ...Provider) *Registry {
	r := &Registry{providers: make(map[string]Provider, len(providers))}
	for _, p := range providers {
		r.providers[strings.ToLower(p.Name())] = p
	}
	return r
}

// ForName returns the provider registered under name.
func (r *Registry) ForName(name string) (Provider, error) {
	p, ok := r.providers[strings.ToLower(strings.TrimSpace(name))]
	if !ok {
		return nil, ErrUnknownProvider
	}
	return p, nil
}
