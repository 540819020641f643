package external

import (
	"context"

	"homegrid/internal/types"
)

// BillingService abstracts the payment provider operations driven by user
// action: customer creation, hosted checkout, and the self-serve portal.
// Implementations translate between domain types and vendor-specific APIs.
type BillingService interface {
	// EnsureCustomer retrieves or creates a provider customer for the given
	// agency. Returns the provider customer ID. Uses search-first logic to
	// prevent duplicates.
	EnsureCustomer(ctx context.Context, agencyID string, email string) (string, error)

	// CreateCheckoutSession generates a hosted checkout URL for the given
	// plan. agencyID is set as client_reference_id for webhook correlation.
	CreateCheckoutSession(ctx context.Context, agencyID string, plan types.PlanTier, urls types.RedirectURLs) (checkoutURL string, sessionID string, err error)

	// CreatePortalSession generates a billing portal URL for self-serve
	// subscription management.
	CreatePortalSession(ctx context.Context, agencyID string, returnURL string) (portalURL string, err error)

	// GetSubscription retrieves the agency's current provider subscription,
	// or nil if the customer has none.
	GetSubscription(ctx context.Context, agencyID string) (*types.ProviderSubscription, error)
}

// SubscriptionFetcher is the slice of the provider API the webhook state
// machine needs: reading a subscription object fresh by ID so handlers write
// provider truth rather than trusting event payloads.
type SubscriptionFetcher interface {
	GetSubscriptionByID(ctx context.Context, subscriptionID string) (*types.ProviderSubscription, error)
}

// WebhookVerifier abstracts provider webhook signature checking.
type WebhookVerifier interface {
	// Verify validates a webhook payload against the provided signature
	// header and signing secret. Returns nil on success.
	Verify(payload []byte, header string, secret string) error
}

// Stripe event type constants prevent magic strings in webhook handlers.
const (
	EventStripePaymentSucceeded = "invoice.payment_succeeded"
	EventStripePaymentFailed    = "invoice.payment_failed"
	EventStripeSubUpdated       = "customer.subscription.updated"
	EventStripeSubDeleted       = "customer.subscription.deleted"
)
