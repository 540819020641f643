// Package handlers contains the HTTP handler implementations for the
// HomeGrid API.
//
// This file implements the Stripe webhook handler: the single ingestion
// point through which provider billing events drive the subscription state
// machine. The route is NOT behind auth middleware; security is provided by
// verifying the Stripe-Signature header using HMAC-SHA256.
package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"homegrid/internal/billing"
	"homegrid/internal/core"
	"homegrid/internal/external"
	"homegrid/internal/types"
)

// maxWebhookBodySize caps Stripe webhook payloads at 64 KB. Provider events
// are small; the limit protects against abuse.
const maxWebhookBodySize = 64 * 1024

// AgencyBillingWriter is the subset of the agency repository the webhook
// state machine needs. Every write is an absolute-state, field-scoped update
// guarded by the event timestamp.
type AgencyBillingWriter interface {
	// GetByStripeCustomerID resolves the agency owning a provider customer.
	GetByStripeCustomerID(ctx context.Context, customerID string) (*types.Agency, error)

	// ApplyBillingState writes the full billing state (status, plan, limit,
	// subscription ref, visibility). Returns false when the event was stale.
	ApplyBillingState(ctx context.Context, agencyID string, state types.BillingState, eventTimestamp time.Time) (bool, error)

	// MarkPaymentFailed degrades status to past_due without touching
	// visibility or plan.
	MarkPaymentFailed(ctx context.Context, agencyID string, eventTimestamp time.Time) (bool, error)

	// UpdatePlan rewrites plan and limit without touching status.
	UpdatePlan(ctx context.Context, agencyID string, plan types.PlanTier, propertyLimit int, eventTimestamp time.Time) (bool, error)
}

// UserRefUpdater propagates provider references to the owning user record.
type UserRefUpdater interface {
	UpdateStripeRefs(ctx context.Context, userID, customerID, subscriptionID string) error
}

// WebhookMetrics counts processed events by type and outcome.
type WebhookMetrics interface {
	IncWebhookEvent(eventType, outcome string)
}

// StripeWebhookHandler handles asynchronous billing events from Stripe.
// It is unauthenticated (no bearer token) but verifies the provider signature.
type StripeWebhookHandler struct {
	verifier external.WebhookVerifier
	fetcher  external.SubscriptionFetcher
	agencies AgencyBillingWriter
	users    UserRefUpdater
	catalog  *billing.Catalog
	metrics  WebhookMetrics
	secret   string
	logger   *slog.Logger
}

// NewStripeWebhookHandler creates a StripeWebhookHandler with the provided
// dependencies. metrics may be nil.
func NewStripeWebhookHandler(
	verifier external.WebhookVerifier,
	fetcher external.SubscriptionFetcher,
	agencies AgencyBillingWriter,
	users UserRefUpdater,
	catalog *billing.Catalog,
	metrics WebhookMetrics,
	secret string,
	logger *slog.Logger,
) *StripeWebhookHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &StripeWebhookHandler{
		verifier: verifier,
		fetcher:  fetcher,
		agencies: agencies,
		users:    users,
		catalog:  catalog,
		metrics:  metrics,
		secret:   secret,
		logger:   logger,
	}
}

// RegisterRoutes mounts the Stripe webhook endpoint. Separate from
// BillingHandler.RegisterRoutes because webhook routes are public.
func (h *StripeWebhookHandler) RegisterRoutes(r chi.Router) {
	r.Post("/webhooks/stripe", h.Handle)
}

// Handle processes incoming Stripe webhook events:
//  1. Reads the body (64 KB cap) and the Stripe-Signature header.
//  2. Verifies the signature against the webhook signing secret.
//  3. Parses the event envelope and dispatches on event type; unknown types
//     are acknowledged without processing so the provider never retries
//     events this system intentionally ignores.
//  4. Returns 2xx only after the resulting state is durably persisted.
//     Processing failures surface as 5xx so the provider redelivers; events
//     whose customer resolves to no agency are logged and acknowledged,
//     since redelivery cannot fix an orphan.
func (h *StripeWebhookHandler) Handle(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxWebhookBodySize)
	payload, err := io.ReadAll(r.Body)
	if err != nil {
		h.logger.WarnContext(r.Context(), "failed to read webhook body", "error", err)
		core.Error(w, r, types.NewAppError(types.ErrCodeValidationInvalidBody,
			"failed to read request body", err))
		return
	}

	sigHeader := r.Header.Get("Stripe-Signature")
	if sigHeader == "" || h.secret == "" {
		h.logger.WarnContext(r.Context(), "webhook credentials missing",
			"has_signature", sigHeader != "",
			"has_secret", h.secret != "",
		)
		core.Error(w, r, types.NewAppError(types.ErrCodeWebhookCredentialsMissing,
			"missing webhook signature or signing secret", nil))
		return
	}

	if err := h.verifier.Verify(payload, sigHeader, h.secret); err != nil {
		h.logger.WarnContext(r.Context(), "webhook signature verification failed", "error", err)
		core.Error(w, r, types.NewAppError(types.ErrCodeWebhookSignatureInvalid,
			"webhook signature verification failed", err))
		return
	}

	var event stripeWebhookEvent
	if err := json.Unmarshal(payload, &event); err != nil {
		h.logger.ErrorContext(r.Context(), "failed to parse webhook event", "error", err)
		core.Error(w, r, types.NewAppError(types.ErrCodeValidationInvalidBody,
			"invalid webhook event JSON", err))
		return
	}

	h.logger.InfoContext(r.Context(), "processing stripe webhook event",
		"event_id", event.ID,
		"event_type", event.Type,
	)

	if err := h.routeEvent(r.Context(), &event); err != nil {
		h.logger.ErrorContext(r.Context(), "webhook event processing failed",
			"event_id", event.ID,
			"event_type", event.Type,
			"error", err,
		)
		h.count(event.Type, "failed")
		// A non-2xx response makes the provider redeliver the event later,
		// which is the recovery path for transient persistence failures.
		core.Error(w, r, asAppError(err))
		return
	}

	w.WriteHeader(http.StatusOK)
}

// routeEvent dispatches the event to its handler. The orphanedEventError
// sentinel from a handler downgrades to an acknowledged no-op.
func (h *StripeWebhookHandler) routeEvent(ctx context.Context, event *stripeWebhookEvent) error {
	var err error
	switch event.Type {
	case external.EventStripePaymentSucceeded:
		err = h.handlePaymentSucceeded(ctx, event)
	case external.EventStripePaymentFailed:
		err = h.handlePaymentFailed(ctx, event)
	case external.EventStripeSubDeleted:
		err = h.handleSubscriptionDeleted(ctx, event)
	case external.EventStripeSubUpdated:
		err = h.handleSubscriptionUpdated(ctx, event)
	default:
		h.logger.InfoContext(ctx, "ignoring unhandled webhook event type",
			"event_type", event.Type,
		)
		h.count(event.Type, "ignored")
		return nil
	}

	if err != nil {
		var orphan *orphanedEventError
		if errors.As(err, &orphan) {
			// The agency may have been deleted after the provider queued the
			// event. Redelivery cannot fix that, so acknowledge and move on.
			h.logger.ErrorContext(ctx, "webhook event orphaned: no agency for customer",
				"event_id", event.ID,
				"event_type", event.Type,
				"customer_id", orphan.customerID,
			)
			h.count(event.Type, "orphaned")
			return nil
		}
		return err
	}

	h.count(event.Type, "applied")
	return nil
}

// handlePaymentSucceeded processes invoice.payment_succeeded: the agency
// becomes fully live. The subscription is fetched fresh from the provider so
// the written plan reflects current provider truth, then the absolute state
// {active, plan, limit, subscription ref, visible} is applied and the
// provider references are propagated to the owning user.
func (h *StripeWebhookHandler) handlePaymentSucceeded(ctx context.Context, event *stripeWebhookEvent) error {
	invoice, err := event.invoiceObject()
	if err != nil {
		return fmt.Errorf("%s: %w", event.Type, err)
	}
	if invoice.Subscription == "" {
		// One-off invoices carry no subscription and cannot drive the
		// subscription state machine.
		h.logger.InfoContext(ctx, "invoice event without subscription, skipping",
			"event_id", event.ID,
		)
		return nil
	}

	sub, err := h.fetcher.GetSubscriptionByID(ctx, invoice.Subscription)
	if err != nil {
		return fmt.Errorf("%s: fetch subscription %s: %w", event.Type, invoice.Subscription, err)
	}

	agency, err := h.resolveAgency(ctx, sub.CustomerID)
	if err != nil {
		return err
	}

	state, known := billing.ActiveState(*sub, h.catalog)
	if !known {
		h.logger.WarnContext(ctx, "unknown price id, falling back to basic plan",
			"event_id", event.ID,
			"price_id", sub.PriceID,
			"agency_id", agency.ID,
		)
	}

	if _, err := h.agencies.ApplyBillingState(ctx, agency.ID, state, event.eventTimestamp()); err != nil {
		return fmt.Errorf("%s: apply billing state: %w", event.Type, err)
	}

	if err := h.users.UpdateStripeRefs(ctx, agency.OwnerUserID, sub.CustomerID, sub.ID); err != nil {
		// The agency state is already correct; a failed user-ref propagation
		// is repaired by the next successful payment event.
		h.logger.ErrorContext(ctx, "failed to propagate billing refs to user",
			"event_id", event.ID,
			"user_id", agency.OwnerUserID,
			"error", err,
		)
	}

	h.logger.InfoContext(ctx, "payment succeeded applied",
		"event_id", event.ID,
		"agency_id", agency.ID,
		"plan", state.Plan,
	)
	return nil
}

// handlePaymentFailed processes invoice.payment_failed: billing status
// degrades to past_due. Visibility and quota are untouched; a failed payment
// starts a grace period rather than immediately revoking access.
func (h *StripeWebhookHandler) handlePaymentFailed(ctx context.Context, event *stripeWebhookEvent) error {
	invoice, err := event.invoiceObject()
	if err != nil {
		return fmt.Errorf("%s: %w", event.Type, err)
	}

	customerID := invoice.Customer
	if customerID == "" && invoice.Subscription != "" {
		sub, err := h.fetcher.GetSubscriptionByID(ctx, invoice.Subscription)
		if err != nil {
			return fmt.Errorf("%s: fetch subscription %s: %w", event.Type, invoice.Subscription, err)
		}
		customerID = sub.CustomerID
	}
	if customerID == "" {
		return fmt.Errorf("%s: event %s carries no customer reference", event.Type, event.ID)
	}

	agency, err := h.resolveAgency(ctx, customerID)
	if err != nil {
		return err
	}

	if _, err := h.agencies.MarkPaymentFailed(ctx, agency.ID, event.eventTimestamp()); err != nil {
		return fmt.Errorf("%s: mark payment failed: %w", event.Type, err)
	}

	h.logger.WarnContext(ctx, "payment failure recorded",
		"event_id", event.ID,
		"agency_id", agency.ID,
	)
	return nil
}

// handleSubscriptionDeleted processes customer.subscription.deleted: the
// agency is demoted to the basic tier floor and its listings are hidden,
// regardless of the plan that was active.
func (h *StripeWebhookHandler) handleSubscriptionDeleted(ctx context.Context, event *stripeWebhookEvent) error {
	sub, err := event.subscriptionObject()
	if err != nil {
		return fmt.Errorf("%s: %w", event.Type, err)
	}
	if sub.Customer == "" {
		return fmt.Errorf("%s: event %s carries no customer reference", event.Type, event.ID)
	}

	agency, err := h.resolveAgency(ctx, sub.Customer)
	if err != nil {
		return err
	}

	state := billing.CanceledState(h.catalog)
	if _, err := h.agencies.ApplyBillingState(ctx, agency.ID, state, event.eventTimestamp()); err != nil {
		return fmt.Errorf("%s: apply cancellation: %w", event.Type, err)
	}

	h.logger.InfoContext(ctx, "subscription cancellation applied",
		"event_id", event.ID,
		"agency_id", agency.ID,
	)
	return nil
}

// handleSubscriptionUpdated processes customer.subscription.updated: plan
// and limit follow the subscription's current price. Status is deliberately
// left untouched; plan changes and status changes arrive as separate event
// types and must not be conflated.
func (h *StripeWebhookHandler) handleSubscriptionUpdated(ctx context.Context, event *stripeWebhookEvent) error {
	evSub, err := event.subscriptionObject()
	if err != nil {
		return fmt.Errorf("%s: %w", event.Type, err)
	}
	if evSub.ID == "" {
		return fmt.Errorf("%s: event %s carries no subscription id", event.Type, event.ID)
	}

	// Re-read the subscription so the applied plan is what the provider
	// reports now, not what this possibly delayed event claimed.
	sub, err := h.fetcher.GetSubscriptionByID(ctx, evSub.ID)
	if err != nil {
		return fmt.Errorf("%s: fetch subscription %s: %w", event.Type, evSub.ID, err)
	}

	agency, err := h.resolveAgency(ctx, sub.CustomerID)
	if err != nil {
		return err
	}

	def, known := h.catalog.ResolvePrice(sub.PriceID)
	if !known {
		h.logger.WarnContext(ctx, "unknown price id, falling back to basic plan",
			"event_id", event.ID,
			"price_id", sub.PriceID,
			"agency_id", agency.ID,
		)
	}

	if _, err := h.agencies.UpdatePlan(ctx, agency.ID, def.Tier, def.PropertyLimit, event.eventTimestamp()); err != nil {
		return fmt.Errorf("%s: update plan: %w", event.Type, err)
	}

	h.logger.InfoContext(ctx, "plan change applied",
		"event_id", event.ID,
		"agency_id", agency.ID,
		"plan", def.Tier,
	)
	return nil
}

// resolveAgency maps a provider customer to the local agency, converting a
// not-found result into the orphan sentinel.
func (h *StripeWebhookHandler) resolveAgency(ctx context.Context, customerID string) (*types.Agency, error) {
	agency, err := h.agencies.GetByStripeCustomerID(ctx, customerID)
	if err != nil {
		var appErr *types.AppError
		if errors.As(err, &appErr) && appErr.Code == types.ErrCodeNotFoundAgency {
			return nil, &orphanedEventError{customerID: customerID}
		}
		return nil, err
	}
	return agency, nil
}

func (h *StripeWebhookHandler) count(eventType, outcome string) {
	if h.metrics != nil {
		h.metrics.IncWebhookEvent(eventType, outcome)
	}
}
