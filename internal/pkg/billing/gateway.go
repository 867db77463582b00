package billing

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// Gateway is the capability interface every payment provider adapter
// implements. Adapters own signature verification and status-vocabulary
// mapping; callers only ever see canonical events and typed errors.
type Gateway interface {
	Name() Provider

	// CreateCheckout opens a hosted checkout session and returns the
	// redirect URL. One-shot: checkout flows are not resumable.
	CreateCheckout(ctx context.Context, params CheckoutParams) (*CheckoutResult, error)

	// CancelSubscription cancels the provider-side subscription. Canceling
	// an already-canceled subscription is not an error.
	CancelSubscription(ctx context.Context, externalID string) error

	// CreatePortal opens a provider billing-portal session.
	CreatePortal(ctx context.Context, customerID, returnURL string) (*PortalResult, error)

	// HandleWebhook verifies authenticity before any parsing and normalizes
	// the payload into a canonical event. Verification failure yields
	// OK=false and must cause zero state mutation downstream.
	HandleWebhook(rawBody []byte, sig SignatureMaterial) WebhookResult

	// TestConnection performs a cheap authenticated call to confirm the
	// configured credentials work.
	TestConnection(ctx context.Context) error
}

// Registry is the closed mapping from provider to adapter, built at startup
// from enabled gateway credentials. The provider set is fixed; Replace swaps
// adapters when an admin changes credentials, it never widens the set.
type Registry struct {
	mu       sync.RWMutex
	gateways map[Provider]Gateway
}

// NewRegistry builds a registry from the given adapters. A nil adapter is
// skipped so callers can wire only the providers that are configured.
func NewRegistry(gws ...Gateway) *Registry {
	r := &Registry{}
	r.Replace(gws...)
	return r
}

// Replace swaps the full adapter set.
func (r *Registry) Replace(gws ...Gateway) {
	m := make(map[Provider]Gateway, len(gws))
	for _, gw := range gws {
		if gw == nil {
			continue
		}
		m[gw.Name()] = gw
	}
	r.mu.Lock()
	r.gateways = m
	r.mu.Unlock()
}

// Get resolves a provider to its adapter. Unknown or unconfigured providers
// yield a typed not-found error.
func (r *Registry) Get(p Provider) (Gateway, error) {
	r.mu.RLock()
	gw, ok := r.gateways[p]
	r.mu.RUnlock()
	if !ok {
		return nil, NotFoundError(fmt.Sprintf("payment gateway %q is not enabled", p))
	}
	return gw, nil
}

// Providers lists the enabled providers in stable order.
func (r *Registry) Providers() []Provider {
	r.mu.RLock()
	out := make([]Provider, 0, len(r.gateways))
	for p := range r.gateways {
		out = append(out, p)
	}
	r.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
