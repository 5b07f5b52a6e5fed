package billing

import (
	"context"
	"log"

	"github.com/licensefox/licensefox/app/models"
	"github.com/licensefox/licensefox/internal/pkg/payments"
)

// HandlerFunc applies one verified, normalized event.
type HandlerFunc func(ctx context.Context, ev *payments.Event) (*Outcome, error)

type routeKey struct {
	provider string
	kind     payments.EventKind
}

// Router maps (provider, event kind) pairs to exactly one handler. Kinds
// without a mapping fall through to a single acknowledge-and-log branch so
// providers stop retrying events this system does not care about.
type Router struct {
	routes map[routeKey]HandlerFunc
}

// NewRouter builds the exhaustive route table over the service handlers.
func NewRouter(svc *Service) *Router {
	r := &Router{routes: make(map[routeKey]HandlerFunc)}

	for _, provider := range []string{models.PaymentProviderStripe, models.PaymentProviderRazorpay} {
		r.register(provider, payments.EventCheckoutCompleted, svc.HandleCheckoutCompleted)
		r.register(provider, payments.EventPaymentFailed, svc.HandlePaymentFailed)
		r.register(provider, payments.EventSubscriptionCancelled, svc.HandleSubscriptionCancelled)
	}
	// Stripe bills through invoices; Razorpay reports recurring charges on
	// the subscription itself. Both are renewals.
	r.register(models.PaymentProviderStripe, payments.EventInvoicePaid, svc.HandleRenewal)
	r.register(models.PaymentProviderRazorpay, payments.EventSubscriptionCharged, svc.HandleRenewal)

	return r
}

func (r *Router) register(provider string, kind payments.EventKind, h HandlerFunc) {
	r.routes[routeKey{provider: provider, kind: kind}] = h
}

// Dispatch routes one event to its handler. Unmapped kinds are acknowledged
// after logging; they are not business failures.
func (r *Router) Dispatch(ctx context.Context, ev *payments.Event) (*Outcome, error) {
	h, ok := r.routes[routeKey{provider: ev.Provider, kind: ev.Kind}]
	if !ok {
		log.Printf("unhandled %s event type %q (%s), acknowledging", ev.Provider, ev.RawType, ev.Kind)
		return outcomeIgnored, nil
	}
	return h(ctx, ev)
}
