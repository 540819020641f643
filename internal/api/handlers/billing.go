// This file implements the billing handler: the user-driven side of the
// subscription lifecycle (checkout, portal, subscription view). State
// changes themselves only ever arrive through the webhook.
package handlers

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"homegrid/internal/core"
	"homegrid/internal/external"
	"homegrid/internal/types"
)

// BillingAgencyReader provides the agency read needed by the billing views.
type BillingAgencyReader interface {
	GetByID(ctx context.Context, id string) (*types.Agency, error)
}

// --- Request/Response Models ---

// CheckoutRequest is the request body for POST /v1/billing/checkout.
type CheckoutRequest struct {
	Plan types.PlanTier `json:"plan" validate:"required,oneof=basic professional enterprise"`
}

// CheckoutResponse carries the hosted checkout session.
type CheckoutResponse struct {
	CheckoutURL string `json:"checkout_url"`
	SessionID   string `json:"session_id"`
}

// PortalResponse carries the billing portal session.
type PortalResponse struct {
	PortalURL string `json:"portal_url"`
}

// SubscriptionResponse is the agency's billing state plus, when available,
// what the provider currently reports.
type SubscriptionResponse struct {
	Status        types.SubscriptionStatus    `json:"status"`
	Plan          types.PlanTier              `json:"plan"`
	PropertyLimit int                         `json:"property_limit"`
	IsActive      bool                        `json:"is_active"`
	Provider      *types.ProviderSubscription `json:"provider,omitempty"`
}

// BillingHandler implements the billing endpoints.
type BillingHandler struct {
	agencies     BillingAgencyReader
	billingSvc   external.BillingService
	dashboardURL string
	validator    *core.Validator
	logger       *slog.Logger
}

// NewBillingHandler creates a BillingHandler with the provided dependencies.
func NewBillingHandler(agencies BillingAgencyReader, billingSvc external.BillingService, dashboardURL string, v *core.Validator, l *slog.Logger) *BillingHandler {
	if l == nil {
		l = slog.Default()
	}
	return &BillingHandler{
		agencies:     agencies,
		billingSvc:   billingSvc,
		dashboardURL: dashboardURL,
		validator:    v,
		logger:       l,
	}
}

// RegisterRoutes mounts the billing routes.
func (h *BillingHandler) RegisterRoutes(r chi.Router) {
	r.Route("/billing", func(r chi.Router) {
		r.Get("/subscription", h.GetSubscription)
		r.Post("/checkout", h.CreateCheckout)
		r.Post("/portal", h.CreatePortal)
	})
}

// GetSubscription handles GET /v1/billing/subscription. The local cached
// state is authoritative for the response; the provider view is attached
// best-effort for support and debugging.
func (h *BillingHandler) GetSubscription(w http.ResponseWriter, r *http.Request) {
	actor, ok := core.RequireActor(w, r)
	if !ok {
		return
	}

	agency, err := h.agencies.GetByID(r.Context(), actor.AgencyID)
	if err != nil {
		core.Error(w, r, err)
		return
	}

	resp := SubscriptionResponse{
		Status:        agency.SubscriptionStatus,
		Plan:          agency.SubscriptionPlan,
		PropertyLimit: agency.PropertyLimit,
		IsActive:      agency.IsActive,
	}

	if agency.StripeCustomerID != "" {
		sub, err := h.billingSvc.GetSubscription(r.Context(), agency.ID)
		if err != nil {
			h.logger.WarnContext(r.Context(), "failed to fetch provider subscription",
				"agency_id", agency.ID,
				"error", err,
			)
		} else {
			resp.Provider = sub
		}
	}

	core.JSON(w, r, http.StatusOK, core.APIResponse{Data: resp})
}

// CreateCheckout handles POST /v1/billing/checkout: ensures the provider
// customer exists, then creates a hosted checkout session for the requested
// plan.
func (h *BillingHandler) CreateCheckout(w http.ResponseWriter, r *http.Request) {
	actor, ok := core.RequireActor(w, r)
	if !ok {
		return
	}

	var req CheckoutRequest
	if err := core.DecodeJSON(w, r, &req); err != nil {
		core.Error(w, r, err)
		return
	}
	if err := h.validator.ValidateStruct(req); err != nil {
		core.Error(w, r, err)
		return
	}

	agency, err := h.agencies.GetByID(r.Context(), actor.AgencyID)
	if err != nil {
		core.Error(w, r, err)
		return
	}

	if agency.StripeCustomerID == "" {
		if _, err := h.billingSvc.EnsureCustomer(r.Context(), agency.ID, ""); err != nil {
			core.Error(w, r, err)
			return
		}
	}

	urls := types.RedirectURLs{
		Success: h.dashboardURL + "/billing/success",
		Cancel:  h.dashboardURL + "/billing/cancel",
	}
	checkoutURL, sessionID, err := h.billingSvc.CreateCheckoutSession(r.Context(), agency.ID, req.Plan, urls)
	if err != nil {
		core.Error(w, r, err)
		return
	}

	h.logger.InfoContext(r.Context(), "checkout session created",
		"agency_id", agency.ID,
		"plan", req.Plan,
		"session_id", sessionID,
	)
	core.JSON(w, r, http.StatusOK, core.APIResponse{Data: CheckoutResponse{
		CheckoutURL: checkoutURL,
		SessionID:   sessionID,
	}})
}

// CreatePortal handles POST /v1/billing/portal.
func (h *BillingHandler) CreatePortal(w http.ResponseWriter, r *http.Request) {
	actor, ok := core.RequireActor(w, r)
	if !ok {
		return
	}

	portalURL, err := h.billingSvc.CreatePortalSession(r.Context(), actor.AgencyID, h.dashboardURL+"/billing")
	if err != nil {
		core.Error(w, r, err)
		return
	}
	core.JSON(w, r, http.StatusOK, core.APIResponse{Data: PortalResponse{PortalURL: portalURL}})
}
