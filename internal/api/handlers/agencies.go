// This file implements the agency handler: signup and profile retrieval for
// the billable tenant that owns listings.
package handlers

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"homegrid/internal/billing"
	"homegrid/internal/core"
	"homegrid/internal/types"
)

// AgencyRepo defines the data access contract for agency operations.
type AgencyRepo interface {
	Create(ctx context.Context, agency *types.Agency) error
	GetByID(ctx context.Context, id string) (*types.Agency, error)
}

// AgencyUserRepo provides the user repository methods needed during signup.
type AgencyUserRepo interface {
	GetByID(ctx context.Context, id string) (*types.User, error)
	Create(ctx context.Context, user *types.User) error
}

// AgencyBillingService abstracts the billing operations used during signup.
type AgencyBillingService interface {
	// EnsureCustomer creates/retrieves a provider customer for the agency.
	// Best effort during signup; checkout retries it.
	EnsureCustomer(ctx context.Context, agencyID string, email string) (string, error)
}

// --- Request/Response Models ---

// CreateAgencyRequest is the request body for POST /v1/agencies.
type CreateAgencyRequest struct {
	Name       string `json:"name" validate:"required,max=200"`
	OwnerEmail string `json:"owner_email" validate:"required,email"`
}

// AgencyResponse is the public view of an agency.
type AgencyResponse struct {
	ID                 string                   `json:"id"`
	Name               string                   `json:"name"`
	SubscriptionStatus types.SubscriptionStatus `json:"subscription_status"`
	SubscriptionPlan   types.PlanTier           `json:"subscription_plan"`
	PropertyLimit      int                      `json:"property_limit"`
	PropertyCount      int                      `json:"property_count"`
	IsActive           bool                     `json:"is_active"`
	CreatedAt          time.Time                `json:"created_at"`
}

func toAgencyResponse(a *types.Agency) AgencyResponse {
	return AgencyResponse{
		ID:                 a.ID,
		Name:               a.Name,
		SubscriptionStatus: a.SubscriptionStatus,
		SubscriptionPlan:   a.SubscriptionPlan,
		PropertyLimit:      a.PropertyLimit,
		PropertyCount:      a.PropertyCount,
		IsActive:           a.IsActive,
		CreatedAt:          a.CreatedAt,
	}
}

// AgencyHandler implements the agency endpoints.
type AgencyHandler struct {
	repo       AgencyRepo
	userRepo   AgencyUserRepo
	billingSvc AgencyBillingService
	validator  *core.Validator
	logger     *slog.Logger
}

// NewAgencyHandler creates an AgencyHandler with the provided dependencies.
func NewAgencyHandler(repo AgencyRepo, userRepo AgencyUserRepo, billingSvc AgencyBillingService, v *core.Validator, l *slog.Logger) *AgencyHandler {
	if l == nil {
		l = slog.Default()
	}
	return &AgencyHandler{
		repo:       repo,
		userRepo:   userRepo,
		billingSvc: billingSvc,
		validator:  v,
		logger:     l,
	}
}

// RegisterRoutes mounts the agency routes.
func (h *AgencyHandler) RegisterRoutes(r chi.Router) {
	r.Route("/agencies", func(r chi.Router) {
		r.Post("/", h.Create)
		r.Get("/{id}", h.Get)
		r.Get("/{id}/usage", h.GetUsage)
	})
}

// Create handles POST /v1/agencies.
//
// A new agency starts unsubscribed: pending status on the basic tier with
// the basic property limit, zero listings, and not publicly visible. Only a
// successful payment event flips it live.
func (h *AgencyHandler) Create(w http.ResponseWriter, r *http.Request) {
	actor, ok := core.RequireActor(w, r)
	if !ok {
		return
	}

	var req CreateAgencyRequest
	if err := core.DecodeJSON(w, r, &req); err != nil {
		core.Error(w, r, err)
		return
	}
	if err := h.validator.ValidateStruct(req); err != nil {
		core.Error(w, r, err)
		return
	}

	now := time.Now().UTC()

	// Make sure the owning user record exists before the FK insert.
	if _, err := h.userRepo.GetByID(r.Context(), actor.UserID); err != nil {
		var appErr *types.AppError
		if !errors.As(err, &appErr) || appErr.Code != types.ErrCodeNotFoundUser {
			core.Error(w, r, err)
			return
		}
		user := &types.User{
			ID:        actor.UserID,
			Email:     req.OwnerEmail,
			CreatedAt: now,
			UpdatedAt: now,
		}
		if err := h.userRepo.Create(r.Context(), user); err != nil {
			core.Error(w, r, err)
			return
		}
	}

	agency := &types.Agency{
		ID:                 "agc_" + uuid.New().String(),
		OwnerUserID:        actor.UserID,
		Name:               req.Name,
		SubscriptionStatus: types.SubStatusPending,
		SubscriptionPlan:   types.PlanBasic,
		PropertyLimit:      billing.BasicPropertyLimit,
		PropertyCount:      0,
		IsActive:           false,
		CreatedAt:          now,
		UpdatedAt:          now,
	}

	if err := h.repo.Create(r.Context(), agency); err != nil {
		core.Error(w, r, err)
		return
	}

	// Best-effort provider customer creation; checkout retries if this fails.
	if h.billingSvc != nil {
		if _, err := h.billingSvc.EnsureCustomer(r.Context(), agency.ID, req.OwnerEmail); err != nil {
			h.logger.WarnContext(r.Context(), "best-effort stripe customer creation failed",
				"agency_id", agency.ID,
				"error", err,
			)
		}
	}

	core.JSON(w, r, http.StatusCreated, core.APIResponse{Data: toAgencyResponse(agency)})
}

// Get handles GET /v1/agencies/{id}.
func (h *AgencyHandler) Get(w http.ResponseWriter, r *http.Request) {
	if _, ok := core.RequireActor(w, r); !ok {
		return
	}

	agency, err := h.repo.GetByID(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		core.Error(w, r, err)
		return
	}
	core.JSON(w, r, http.StatusOK, core.APIResponse{Data: toAgencyResponse(agency)})
}

// GetUsage handles GET /v1/agencies/{id}/usage: the cached quota counter
// against the plan limit.
func (h *AgencyHandler) GetUsage(w http.ResponseWriter, r *http.Request) {
	if _, ok := core.RequireActor(w, r); !ok {
		return
	}

	agency, err := h.repo.GetByID(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		core.Error(w, r, err)
		return
	}
	usage := types.QuotaUsage{
		PropertyCount: agency.PropertyCount,
		PropertyLimit: agency.PropertyLimit,
	}
	core.JSON(w, r, http.StatusOK, core.APIResponse{Data: usage})
}
