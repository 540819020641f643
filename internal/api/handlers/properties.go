// This file implements the property handler. Creation is quota-gated: the
// listing insert and the agency counter increment commit in one transaction
// through the billing ledger, and agencies at their plan limit get a 429
// with upgrade guidance.
package handlers

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"homegrid/internal/core"
	"homegrid/internal/types"
)

// defaultPropertyPageSize bounds list responses when no limit is given.
const (
	defaultPropertyPageSize = 20
	maxPropertyPageSize     = 100
)

// PropertyLedger is the transactional create/delete surface backed by the
// billing ledger.
type PropertyLedger interface {
	CreateProperty(ctx context.Context, prop *types.Property) (*types.Property, error)
	DeleteProperty(ctx context.Context, agencyID, propertyID string) error
}

// PropertyReader provides the read-only property queries.
type PropertyReader interface {
	GetByID(ctx context.Context, agencyID, id string) (*types.Property, error)
	ListByAgency(ctx context.Context, agencyID string, limit int, cursor string) ([]*types.Property, *types.PageInfo, error)
}

// --- Request/Response Models ---

// CreatePropertyRequest is the request body for POST /v1/properties.
type CreatePropertyRequest struct {
	Title       string `json:"title" validate:"required,max=300"`
	Description string `json:"description" validate:"max=10000"`
	City        string `json:"city" validate:"required,max=120"`
	Address     string `json:"address" validate:"max=300"`
	PriceCents  int64  `json:"price_cents" validate:"gte=0"`
}

// PropertyListResponse wraps a page of properties.
type PropertyListResponse struct {
	Properties []*types.Property `json:"properties"`
	PageInfo   types.PageInfo    `json:"page_info"`
}

// PropertyHandler implements the property endpoints.
type PropertyHandler struct {
	ledger    PropertyLedger
	reader    PropertyReader
	validator *core.Validator
	logger    *slog.Logger
}

// NewPropertyHandler creates a PropertyHandler with the provided dependencies.
func NewPropertyHandler(ledger PropertyLedger, reader PropertyReader, v *core.Validator, l *slog.Logger) *PropertyHandler {
	if l == nil {
		l = slog.Default()
	}
	return &PropertyHandler{
		ledger:    ledger,
		reader:    reader,
		validator: v,
		logger:    l,
	}
}

// RegisterRoutes mounts the property routes.
func (h *PropertyHandler) RegisterRoutes(r chi.Router) {
	r.Route("/properties", func(r chi.Router) {
		r.Post("/", h.Create)
		r.Get("/", h.List)
		r.Route("/{id}", func(r chi.Router) {
			r.Get("/", h.Get)
			r.Delete("/", h.Delete)
		})
	})
}

// Create handles POST /v1/properties.
//
// The ledger reserves one unit of the agency's quota and inserts the listing
// atomically. At the plan limit it returns quota_exceeded, which maps to
// 429 with the current usage and an upgrade link in the error details.
func (h *PropertyHandler) Create(w http.ResponseWriter, r *http.Request) {
	actor, ok := core.RequireActor(w, r)
	if !ok {
		return
	}

	var req CreatePropertyRequest
	if err := core.DecodeJSON(w, r, &req); err != nil {
		core.Error(w, r, err)
		return
	}
	if err := h.validator.ValidateStruct(req); err != nil {
		core.Error(w, r, err)
		return
	}

	prop := &types.Property{
		AgencyID:    actor.AgencyID,
		Title:       req.Title,
		Description: req.Description,
		City:        req.City,
		Address:     req.Address,
		PriceCents:  req.PriceCents,
		Status:      types.PropertyStatusDraft,
	}

	created, err := h.ledger.CreateProperty(r.Context(), prop)
	if err != nil {
		core.Error(w, r, err)
		return
	}

	h.logger.InfoContext(r.Context(), "property created",
		"property_id", created.ID,
		"agency_id", actor.AgencyID,
	)
	core.JSON(w, r, http.StatusCreated, core.APIResponse{Data: created})
}

// Get handles GET /v1/properties/{id}, scoped to the actor's agency.
func (h *PropertyHandler) Get(w http.ResponseWriter, r *http.Request) {
	actor, ok := core.RequireActor(w, r)
	if !ok {
		return
	}

	prop, err := h.reader.GetByID(r.Context(), actor.AgencyID, chi.URLParam(r, "id"))
	if err != nil {
		core.Error(w, r, err)
		return
	}
	core.JSON(w, r, http.StatusOK, core.APIResponse{Data: prop})
}

// List handles GET /v1/properties with cursor pagination.
func (h *PropertyHandler) List(w http.ResponseWriter, r *http.Request) {
	actor, ok := core.RequireActor(w, r)
	if !ok {
		return
	}

	limit := defaultPropertyPageSize
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 1 {
			core.Error(w, r, types.NewAppError(types.ErrCodeValidationInvalidField,
				"limit must be a positive integer", nil))
			return
		}
		if parsed > maxPropertyPageSize {
			parsed = maxPropertyPageSize
		}
		limit = parsed
	}

	props, page, err := h.reader.ListByAgency(r.Context(), actor.AgencyID, limit, r.URL.Query().Get("cursor"))
	if err != nil {
		core.Error(w, r, err)
		return
	}
	if props == nil {
		props = []*types.Property{}
	}
	core.JSON(w, r, http.StatusOK, core.APIResponse{Data: PropertyListResponse{
		Properties: props,
		PageInfo:   *page,
	}})
}

// Delete handles DELETE /v1/properties/{id}.
//
// The soft delete and the counter decrement commit together, so released
// quota is immediately reusable and repeat deletes are not double-counted.
func (h *PropertyHandler) Delete(w http.ResponseWriter, r *http.Request) {
	actor, ok := core.RequireActor(w, r)
	if !ok {
		return
	}

	propertyID := chi.URLParam(r, "id")
	if err := h.ledger.DeleteProperty(r.Context(), actor.AgencyID, propertyID); err != nil {
		core.Error(w, r, err)
		return
	}

	h.logger.InfoContext(r.Context(), "property deleted",
		"property_id", propertyID,
		"agency_id", actor.AgencyID,
	)
	w.WriteHeader(http.StatusNoContent)
}
