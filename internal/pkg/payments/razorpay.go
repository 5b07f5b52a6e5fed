package payments

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/licensefox/licensefox/internal/pkg/env"
)

const defaultRazorpayAPIBaseURL = "https://api.razorpay.com/v1"

// RazorpayProvider implements Provider against the Razorpay REST API.
// Razorpay has no hosted redirect checkout for this flow: CreateCheckout
// returns an order id plus the params the client-side SDK needs, and the
// client confirms the payment synchronously via the verify endpoint.
type RazorpayProvider struct {
	KeyID         string
	KeySecret     string
	WebhookSecret string
	APIBaseURL    string

	priceTable map[string]razorpayPrice

	HTTPClient *http.Client
}

type razorpayPrice struct {
	AmountMinor int64
	Currency    string
}

// NewRazorpayProviderFromEnv builds the adapter from environment configuration.
// Tier prices are configured in minor units (paise/cents).
func NewRazorpayProviderFromEnv() *RazorpayProvider {
	currency := strings.ToUpper(strings.TrimSpace(env.GetEnv("RAZORPAY_CURRENCY", "INR")))
	return &RazorpayProvider{
		KeyID:         strings.TrimSpace(env.GetEnv("RAZORPAY_KEY_ID", "")),
		KeySecret:     strings.TrimSpace(env.GetEnv("RAZORPAY_KEY_SECRET", "")),
		WebhookSecret: strings.TrimSpace(env.GetEnv("RAZORPAY_WEBHOOK_SECRET", "")),
		APIBaseURL:    strings.TrimSpace(env.GetEnv("RAZORPAY_API_BASE_URL", defaultRazorpayAPIBaseURL)),
		priceTable: map[string]razorpayPrice{
			"standard":   {AmountMinor: env.GetEnvInt64("RAZORPAY_PRICE_STANDARD", 0), Currency: currency},
			"enterprise": {AmountMinor: env.GetEnvInt64("RAZORPAY_PRICE_ENTERPRISE", 0), Currency: currency},
		},
		HTTPClient: &http.Client{
			Timeout: 15 * time.Second,
		},
	}
}

func (p *RazorpayProvider) Name() string { return "razorpay" }

type razorpayOrderResponse struct {
	ID       string `json:"id"`
	Amount   int64  `json:"amount"`
	Currency string `json:"currency"`
	Receipt  string `json:"receipt"`
	Status   string `json:"status"`
}

// CreateCheckout creates a Razorpay order and returns the params the
// frontend SDK needs to collect the payment.
func (p *RazorpayProvider) CreateCheckout(ctx context.Context, req CheckoutRequest) (*CheckoutSession, error) {
	pr, ok := p.priceTable[strings.ToLower(strings.TrimSpace(req.Tier))]
	if !ok || pr.AmountMinor <= 0 {
		return nil, fmt.Errorf("no razorpay price configured for tier %q", req.Tier)
	}

	body := map[string]interface{}{
		"amount":   pr.AmountMinor,
		"currency": pr.Currency,
		"receipt":  "lf_" + uuid.NewString()[:18],
		"notes": map[string]string{
			"tier":    req.Tier,
			"email":   req.Email,
			"name":    req.Name,
			"company": req.Company,
			"domain":  req.Domain,
		},
	}

	var order razorpayOrderResponse
	if err := p.call(ctx, http.MethodPost, "/orders", body, &order); err != nil {
		return nil, fmt.Errorf("razorpay order create failed: %w", err)
	}
	if strings.TrimSpace(order.ID) == "" {
		return nil, errors.New("razorpay order create returned empty id")
	}

	return &CheckoutSession{
		Provider: p.Name(),
		OrderID:  order.ID,
		Params: map[string]interface{}{
			"key":      p.KeyID,
			"order_id": order.ID,
			"amount":   order.Amount,
			"currency": order.Currency,
		},
	}, nil
}

// VerifyWebhookSignature checks X-Razorpay-Signature (hex HMAC-SHA256 of the
// raw body with the webhook secret).
func (p *RazorpayProvider) VerifyWebhookSignature(payload []byte, signatureHeader string) bool {
	return VerifyHMACSHA256Hex(payload, signatureHeader, p.WebhookSecret)
}

// VerifyPaymentSignature checks the client-supplied signature for the
// synchronous confirmation path: HMAC-SHA256 over "orderID|paymentID" with
// the key secret.
func (p *RazorpayProvider) VerifyPaymentSignature(orderID, paymentID, signature string) bool {
	if strings.TrimSpace(orderID) == "" || strings.TrimSpace(paymentID) == "" {
		return false
	}
	return VerifyHMACSHA256Hex([]byte(orderID+"|"+paymentID), signature, p.KeySecret)
}

// GetPrice returns the configured tier price in decimal currency.
func (p *RazorpayProvider) GetPrice(_ context.Context, tier string) (float64, string, error) {
	pr, ok := p.priceTable[strings.ToLower(strings.TrimSpace(tier))]
	if !ok || pr.AmountMinor <= 0 {
		return 0, "", fmt.Errorf("no razorpay price configured for tier %q", tier)
	}
	return FromMinorUnits(pr.AmountMinor, pr.Currency), pr.Currency, nil
}

// CancelSubscription cancels a Razorpay subscription. Razorpay flips the
// flag relative to our API: cancel_at_cycle_end=1 keeps the subscription
// running until the period closes.
func (p *RazorpayProvider) CancelSubscription(ctx context.Context, providerSubscriptionID string, atPeriodEnd bool) error {
	cycleEnd := 0
	if atPeriodEnd {
		cycleEnd = 1
	}
	body := map[string]interface{}{"cancel_at_cycle_end": cycleEnd}
	var out struct {
		ID     string `json:"id"`
		Status string `json:"status"`
	}
	if err := p.call(ctx, http.MethodPost, "/subscriptions/"+providerSubscriptionID+"/cancel", body, &out); err != nil {
		return fmt.Errorf("razorpay subscription cancel failed: %w", err)
	}
	return nil
}

type razorpayPaymentResponse struct {
	ID        string `json:"id"`
	OrderID   string `json:"order_id"`
	Status    string `json:"status"`
	Amount    int64  `json:"amount"`
	Currency  string `json:"currency"`
	Email     string `json:"email"`
	Method    string `json:"method"`
	CreatedAt int64  `json:"created_at"`
	Card      struct {
		Network string `json:"network"`
		Last4   string `json:"last4"`
	} `json:"card"`
}

// GetPayment fetches a payment by id.
func (p *RazorpayProvider) GetPayment(ctx context.Context, paymentID string) (*PaymentInfo, error) {
	var out razorpayPaymentResponse
	if err := p.call(ctx, http.MethodGet, "/payments/"+paymentID, nil, &out); err != nil {
		return nil, fmt.Errorf("razorpay payment lookup failed: %w", err)
	}
	if strings.TrimSpace(out.ID) == "" {
		return nil, errors.New("razorpay payment response missing id")
	}
	return &PaymentInfo{
		PaymentID:   out.ID,
		OrderID:     out.OrderID,
		Status:      out.Status,
		AmountMinor: out.Amount,
		Currency:    strings.ToUpper(out.Currency),
		Email:       out.Email,
		CardBrand:   out.Card.Network,
		CardLast4:   out.Card.Last4,
		CreatedAt:   time.Unix(out.CreatedAt, 0),
	}, nil
}

// Narrow payload shapes for the Razorpay webhook kinds we handle.
type razorpayEventEnvelope struct {
	Event   string `json:"event"`
	Payload struct {
		Payment struct {
			Entity razorpayPaymentEntity `json:"entity"`
		} `json:"payment"`
		Subscription struct {
			Entity razorpaySubscriptionEntity `json:"entity"`
		} `json:"subscription"`
		Order struct {
			Entity struct {
				ID    string            `json:"id"`
				Notes map[string]string `json:"notes"`
			} `json:"entity"`
		} `json:"order"`
	} `json:"payload"`
}

type razorpayPaymentEntity struct {
	ID               string            `json:"id"`
	OrderID          string            `json:"order_id"`
	Status           string            `json:"status"`
	Amount           int64             `json:"amount"`
	Currency         string            `json:"currency"`
	Email            string            `json:"email"`
	ErrorDescription string            `json:"error_description"`
	CreatedAt        int64             `json:"created_at"`
	Notes            map[string]string `json:"notes"`
	Card             struct {
		Network string `json:"network"`
		Last4   string `json:"last4"`
	} `json:"card"`
}

type razorpaySubscriptionEntity struct {
	ID           string `json:"id"`
	CustomerID   string `json:"customer_id"`
	Status       string `json:"status"`
	CurrentStart int64  `json:"current_start"`
	CurrentEnd   int64  `json:"current_end"`
	EndedAt      int64  `json:"ended_at"`
}

// ParseWebhookEvent maps a raw Razorpay event onto the internal Event DTO.
// Razorpay deliveries carry no event id in the body; the X-Razorpay-Event-Id
// header is attached by the caller before dedupe.
func (p *RazorpayProvider) ParseWebhookEvent(payload []byte) (*Event, error) {
	var envlp razorpayEventEnvelope
	if err := json.Unmarshal(payload, &envlp); err != nil {
		return nil, fmt.Errorf("unparsable razorpay event: %w", err)
	}
	if strings.TrimSpace(envlp.Event) == "" {
		return nil, errors.New("razorpay event missing event name")
	}

	ev := &Event{
		Provider: p.Name(),
		RawType:  envlp.Event,
		Kind:     EventUnhandled,
	}

	pay := envlp.Payload.Payment.Entity
	sub := envlp.Payload.Subscription.Entity

	switch envlp.Event {
	case "order.paid":
		ev.Kind = EventCheckoutCompleted
		applyRazorpayPayment(ev, &pay)
		if len(envlp.Payload.Order.Entity.Notes) > 0 {
			applyRazorpayNotes(ev, envlp.Payload.Order.Entity.Notes)
		}
		if envlp.Payload.Order.Entity.ID != "" {
			ev.OrderID = envlp.Payload.Order.Entity.ID
		}

	case "subscription.charged":
		ev.Kind = EventSubscriptionCharged
		applyRazorpayPayment(ev, &pay)
		ev.SubscriptionID = sub.ID
		ev.CustomerID = sub.CustomerID
		applyRazorpayPeriod(ev, &sub)

	case "payment.failed":
		ev.Kind = EventPaymentFailed
		applyRazorpayPayment(ev, &pay)
		ev.SubscriptionID = sub.ID
		ev.FailureReason = pay.ErrorDescription

	case "subscription.cancelled", "subscription.completed":
		ev.Kind = EventSubscriptionCancelled
		ev.SubscriptionID = sub.ID
		ev.CustomerID = sub.CustomerID
		applyRazorpayPeriod(ev, &sub)
	}

	return ev, nil
}

func applyRazorpayPayment(ev *Event, pay *razorpayPaymentEntity) {
	ev.PaymentID = pay.ID
	ev.OrderID = pay.OrderID
	ev.AmountMinor = pay.Amount
	ev.Currency = strings.ToUpper(pay.Currency)
	ev.Email = pay.Email
	ev.CardBrand = pay.Card.Network
	ev.CardLast4 = pay.Card.Last4
	if pay.CreatedAt > 0 {
		t := time.Unix(pay.CreatedAt, 0)
		ev.PaidAt = &t
	}
	applyRazorpayNotes(ev, pay.Notes)
}

func applyRazorpayNotes(ev *Event, notes map[string]string) {
	if notes == nil {
		return
	}
	if v := notes["tier"]; v != "" {
		ev.Tier = v
	}
	if v := notes["email"]; v != "" && ev.Email == "" {
		ev.Email = v
	}
	if v := notes["name"]; v != "" {
		ev.Name = v
	}
	if v := notes["company"]; v != "" {
		ev.Company = v
	}
	if v := notes["domain"]; v != "" {
		ev.Domain = v
	}
}

func applyRazorpayPeriod(ev *Event, sub *razorpaySubscriptionEntity) {
	if sub.CurrentStart > 0 {
		t := time.Unix(sub.CurrentStart, 0)
		ev.PeriodStart = &t
	}
	if sub.CurrentEnd > 0 {
		t := time.Unix(sub.CurrentEnd, 0)
		ev.PeriodEnd = &t
	}
}

func (p *RazorpayProvider) call(ctx context.Context, method, path string, body interface{}, out interface{}) error {
	if strings.TrimSpace(p.KeyID) == "" || strings.TrimSpace(p.KeySecret) == "" {
		return errors.New("RAZORPAY_KEY_ID/RAZORPAY_KEY_SECRET are not configured")
	}

	var reader io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(buf)
	}

	req, err := http.NewRequestWithContext(ctx, method, strings.TrimRight(p.APIBaseURL, "/")+path, reader)
	if err != nil {
		return err
	}
	req.SetBasicAuth(p.KeyID, p.KeySecret)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := p.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("razorpay request failed: status=%d body=%s", resp.StatusCode, string(respBody))
	}
	if out == nil {
		return nil
	}
	return json.Unmarshal(respBody, out)
}
