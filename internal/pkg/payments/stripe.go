package payments

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	stripe "github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/checkout/session"
	"github.com/stripe/stripe-go/v82/paymentintent"
	"github.com/stripe/stripe-go/v82/price"
	"github.com/stripe/stripe-go/v82/subscription"
	"github.com/stripe/stripe-go/v82/webhook"

	"github.com/licensefox/licensefox/internal/pkg/env"
)

// StripeProvider implements Provider using the Stripe API. The SDK is only
// used for outbound calls and signature checks; webhook payloads are parsed
// with narrow local DTOs so the rest of the system never touches the SDK
// object graph.
type StripeProvider struct {
	apiKey        string
	webhookSecret string
	successURL    string
	cancelURL     string
	priceIDs      map[string]string // tier -> Stripe price ID
}

// NewStripeProvider creates a StripeProvider with explicit configuration.
func NewStripeProvider(apiKey, webhookSecret, successURL, cancelURL string, priceIDs map[string]string) *StripeProvider {
	stripe.Key = apiKey
	return &StripeProvider{
		apiKey:        apiKey,
		webhookSecret: webhookSecret,
		successURL:    successURL,
		cancelURL:     cancelURL,
		priceIDs:      priceIDs,
	}
}

// NewStripeProviderFromEnv builds the adapter from environment configuration.
func NewStripeProviderFromEnv() *StripeProvider {
	base := strings.TrimRight(env.GetEnv("PUBLIC_DOMAIN", ""), "/")
	successURL := strings.TrimSpace(env.GetEnv("STRIPE_SUCCESS_URL", ""))
	if successURL == "" && base != "" {
		successURL = base + "/checkout/success?session_id={CHECKOUT_SESSION_ID}"
	}
	cancelURL := strings.TrimSpace(env.GetEnv("STRIPE_CANCEL_URL", ""))
	if cancelURL == "" && base != "" {
		cancelURL = base + "/checkout/cancelled"
	}

	return NewStripeProvider(
		strings.TrimSpace(env.GetEnv("STRIPE_SECRET_KEY", "")),
		strings.TrimSpace(env.GetEnv("STRIPE_WEBHOOK_SECRET", "")),
		successURL,
		cancelURL,
		map[string]string{
			"standard":   strings.TrimSpace(env.GetEnv("STRIPE_PRICE_STANDARD", "")),
			"enterprise": strings.TrimSpace(env.GetEnv("STRIPE_PRICE_ENTERPRISE", "")),
		},
	)
}

func (p *StripeProvider) Name() string { return "stripe" }

// CreateCheckout starts a hosted checkout session for a subscription of the
// requested tier. The purchase metadata rides along on the session so the
// completion webhook can issue the license without any browser state.
func (p *StripeProvider) CreateCheckout(_ context.Context, req CheckoutRequest) (*CheckoutSession, error) {
	priceID, ok := p.priceIDs[strings.ToLower(strings.TrimSpace(req.Tier))]
	if !ok || priceID == "" {
		return nil, fmt.Errorf("no stripe price configured for tier %q", req.Tier)
	}

	params := &stripe.CheckoutSessionParams{
		Mode: stripe.String(string(stripe.CheckoutSessionModeSubscription)),
		LineItems: []*stripe.CheckoutSessionLineItemParams{
			{Price: stripe.String(priceID), Quantity: stripe.Int64(1)},
		},
		CustomerEmail: stripe.String(req.Email),
		SuccessURL:    stripe.String(p.successURL),
		CancelURL:     stripe.String(p.cancelURL),
	}
	params.AddMetadata("tier", req.Tier)
	params.AddMetadata("name", req.Name)
	params.AddMetadata("company", req.Company)
	params.AddMetadata("domain", req.Domain)

	s, err := session.New(params)
	if err != nil {
		return nil, fmt.Errorf("stripe checkout session create failed: %w", err)
	}
	return &CheckoutSession{Provider: p.Name(), OrderID: s.ID, URL: s.URL}, nil
}

// VerifyWebhookSignature checks the Stripe-Signature header against the raw
// request body.
func (p *StripeProvider) VerifyWebhookSignature(payload []byte, signatureHeader string) bool {
	if strings.TrimSpace(signatureHeader) == "" || p.webhookSecret == "" {
		return false
	}
	return webhook.ValidatePayload(payload, signatureHeader, p.webhookSecret) == nil
}

// VerifyPaymentSignature is not part of the Stripe flow; confirmation always
// arrives via webhook.
func (p *StripeProvider) VerifyPaymentSignature(_, _, _ string) bool {
	return false
}

// GetPrice resolves the configured price object for a tier and normalizes it
// to decimal currency.
func (p *StripeProvider) GetPrice(_ context.Context, tier string) (float64, string, error) {
	priceID, ok := p.priceIDs[strings.ToLower(strings.TrimSpace(tier))]
	if !ok || priceID == "" {
		return 0, "", fmt.Errorf("no stripe price configured for tier %q", tier)
	}
	pr, err := price.Get(priceID, nil)
	if err != nil {
		return 0, "", fmt.Errorf("stripe price lookup failed: %w", err)
	}
	currency := strings.ToUpper(string(pr.Currency))
	return FromMinorUnits(pr.UnitAmount, currency), currency, nil
}

// CancelSubscription cancels a Stripe subscription, either at period end or
// immediately.
func (p *StripeProvider) CancelSubscription(_ context.Context, providerSubscriptionID string, atPeriodEnd bool) error {
	if atPeriodEnd {
		_, err := subscription.Update(providerSubscriptionID, &stripe.SubscriptionParams{
			CancelAtPeriodEnd: stripe.Bool(true),
		})
		if err != nil {
			return fmt.Errorf("stripe subscription update failed: %w", err)
		}
		return nil
	}
	_, err := subscription.Cancel(providerSubscriptionID, &stripe.SubscriptionCancelParams{})
	if err != nil {
		return fmt.Errorf("stripe subscription cancel failed: %w", err)
	}
	return nil
}

// GetPayment fetches a payment intent with its latest charge expanded.
func (p *StripeProvider) GetPayment(_ context.Context, paymentID string) (*PaymentInfo, error) {
	params := &stripe.PaymentIntentParams{}
	params.AddExpand("latest_charge")

	pi, err := paymentintent.Get(paymentID, params)
	if err != nil {
		return nil, fmt.Errorf("stripe payment intent lookup failed: %w", err)
	}

	info := &PaymentInfo{
		PaymentID:   pi.ID,
		Status:      string(pi.Status),
		AmountMinor: pi.Amount,
		Currency:    strings.ToUpper(string(pi.Currency)),
		CreatedAt:   time.Unix(pi.Created, 0),
	}
	if pi.LatestCharge != nil {
		info.ReceiptURL = pi.LatestCharge.ReceiptURL
		if pi.LatestCharge.BillingDetails != nil {
			info.Email = pi.LatestCharge.BillingDetails.Email
		}
		if pi.LatestCharge.PaymentMethodDetails != nil && pi.LatestCharge.PaymentMethodDetails.Card != nil {
			info.CardBrand = string(pi.LatestCharge.PaymentMethodDetails.Card.Brand)
			info.CardLast4 = pi.LatestCharge.PaymentMethodDetails.Card.Last4
		}
	}
	return info, nil
}

// Narrow payload shapes for the event kinds we handle. Anything not listed
// here is deliberately ignored.
type stripeEventEnvelope struct {
	ID   string `json:"id"`
	Type string `json:"type"`
	Data struct {
		Object json.RawMessage `json:"object"`
	} `json:"data"`
}

type stripeCheckoutSessionObject struct {
	ID              string `json:"id"`
	Customer        string `json:"customer"`
	Subscription    string `json:"subscription"`
	PaymentIntent   string `json:"payment_intent"`
	AmountTotal     int64  `json:"amount_total"`
	Currency        string `json:"currency"`
	CustomerDetails struct {
		Email string `json:"email"`
		Name  string `json:"name"`
	} `json:"customer_details"`
	Metadata map[string]string `json:"metadata"`
}

type stripeInvoiceObject struct {
	ID                string `json:"id"`
	Customer          string `json:"customer"`
	Subscription      string `json:"subscription"`
	PaymentIntent     string `json:"payment_intent"`
	AmountPaid        int64  `json:"amount_paid"`
	AmountDue         int64  `json:"amount_due"`
	Currency          string `json:"currency"`
	HostedInvoiceURL  string `json:"hosted_invoice_url"`
	StatusTransitions struct {
		PaidAt int64 `json:"paid_at"`
	} `json:"status_transitions"`
	Lines struct {
		Data []struct {
			Period struct {
				Start int64 `json:"start"`
				End   int64 `json:"end"`
			} `json:"period"`
		} `json:"data"`
	} `json:"lines"`
	LastPaymentError struct {
		Message string `json:"message"`
	} `json:"last_payment_error"`
}

type stripeSubscriptionObject struct {
	ID                string `json:"id"`
	Customer          string `json:"customer"`
	CancelAtPeriodEnd bool   `json:"cancel_at_period_end"`
	CurrentPeriodEnd  int64  `json:"current_period_end"`
}

// ParseWebhookEvent maps a raw Stripe event onto the internal Event DTO.
func (p *StripeProvider) ParseWebhookEvent(payload []byte) (*Event, error) {
	var envlp stripeEventEnvelope
	if err := json.Unmarshal(payload, &envlp); err != nil {
		return nil, fmt.Errorf("unparsable stripe event: %w", err)
	}
	if envlp.ID == "" {
		return nil, errors.New("stripe event missing id")
	}

	ev := &Event{
		Provider:        p.Name(),
		ProviderEventID: envlp.ID,
		RawType:         envlp.Type,
		Kind:            EventUnhandled,
	}

	switch envlp.Type {
	case "checkout.session.completed":
		var obj stripeCheckoutSessionObject
		if err := json.Unmarshal(envlp.Data.Object, &obj); err != nil {
			return nil, fmt.Errorf("unparsable checkout session object: %w", err)
		}
		ev.Kind = EventCheckoutCompleted
		ev.OrderID = obj.ID
		ev.CustomerID = obj.Customer
		ev.SubscriptionID = obj.Subscription
		ev.PaymentID = obj.PaymentIntent
		if ev.PaymentID == "" {
			// Subscription-mode sessions carry no payment intent; the
			// session id still uniquely identifies the purchase.
			ev.PaymentID = obj.ID
		}
		ev.AmountMinor = obj.AmountTotal
		ev.Currency = strings.ToUpper(obj.Currency)
		ev.Email = obj.CustomerDetails.Email
		ev.Name = obj.CustomerDetails.Name
		ev.Tier = obj.Metadata["tier"]
		if v := obj.Metadata["name"]; v != "" {
			ev.Name = v
		}
		ev.Company = obj.Metadata["company"]
		ev.Domain = obj.Metadata["domain"]

	case "invoice.paid", "invoice.payment_succeeded":
		obj, err := parseStripeInvoice(envlp.Data.Object)
		if err != nil {
			return nil, err
		}
		ev.Kind = EventInvoicePaid
		applyStripeInvoice(ev, obj)
		if obj.StatusTransitions.PaidAt > 0 {
			t := time.Unix(obj.StatusTransitions.PaidAt, 0)
			ev.PaidAt = &t
		}

	case "invoice.payment_failed":
		obj, err := parseStripeInvoice(envlp.Data.Object)
		if err != nil {
			return nil, err
		}
		ev.Kind = EventPaymentFailed
		applyStripeInvoice(ev, obj)
		ev.AmountMinor = obj.AmountDue
		ev.FailureReason = obj.LastPaymentError.Message

	case "customer.subscription.deleted":
		var obj stripeSubscriptionObject
		if err := json.Unmarshal(envlp.Data.Object, &obj); err != nil {
			return nil, fmt.Errorf("unparsable subscription object: %w", err)
		}
		ev.Kind = EventSubscriptionCancelled
		ev.SubscriptionID = obj.ID
		ev.CustomerID = obj.Customer
		ev.CancelAtPeriodEnd = obj.CancelAtPeriodEnd
		if obj.CurrentPeriodEnd > 0 {
			t := time.Unix(obj.CurrentPeriodEnd, 0)
			ev.PeriodEnd = &t
		}
	}

	return ev, nil
}

func parseStripeInvoice(raw json.RawMessage) (*stripeInvoiceObject, error) {
	var obj stripeInvoiceObject
	if err := json.Unmarshal(raw, &obj); err != nil {
		return nil, fmt.Errorf("unparsable invoice object: %w", err)
	}
	return &obj, nil
}

func applyStripeInvoice(ev *Event, obj *stripeInvoiceObject) {
	ev.InvoiceID = obj.ID
	ev.PaymentID = obj.PaymentIntent
	if ev.PaymentID == "" {
		ev.PaymentID = obj.ID
	}
	ev.CustomerID = obj.Customer
	ev.SubscriptionID = obj.Subscription
	ev.AmountMinor = obj.AmountPaid
	ev.Currency = strings.ToUpper(obj.Currency)
	ev.InvoiceURL = obj.HostedInvoiceURL
	if len(obj.Lines.Data) > 0 {
		period := obj.Lines.Data[0].Period
		if period.Start > 0 {
			t := time.Unix(period.Start, 0)
			ev.PeriodStart = &t
		}
		if period.End > 0 {
			t := time.Unix(period.End, 0)
			ev.PeriodEnd = &t
		}
	}
}
