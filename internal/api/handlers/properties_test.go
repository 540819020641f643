package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"homegrid/internal/core"
	"homegrid/internal/types"
)

// =============================================================================
// Mock Implementations
// =============================================================================

// mockPropertyLedger implements PropertyLedger for testing.
type mockPropertyLedger struct {
	createFn func(ctx context.Context, prop *types.Property) (*types.Property, error)
	deleteFn func(ctx context.Context, agencyID, propertyID string) error
}

func (m *mockPropertyLedger) CreateProperty(ctx context.Context, prop *types.Property) (*types.Property, error) {
	if m.createFn != nil {
		return m.createFn(ctx, prop)
	}
	prop.ID = "prop_test_1"
	return prop, nil
}

func (m *mockPropertyLedger) DeleteProperty(ctx context.Context, agencyID, propertyID string) error {
	if m.deleteFn != nil {
		return m.deleteFn(ctx, agencyID, propertyID)
	}
	return nil
}

// mockPropertyReader implements PropertyReader for testing.
type mockPropertyReader struct {
	getByIDFn func(ctx context.Context, agencyID, id string) (*types.Property, error)
	listFn    func(ctx context.Context, agencyID string, limit int, cursor string) ([]*types.Property, *types.PageInfo, error)
}

func (m *mockPropertyReader) GetByID(ctx context.Context, agencyID, id string) (*types.Property, error) {
	if m.getByIDFn != nil {
		return m.getByIDFn(ctx, agencyID, id)
	}
	return &types.Property{ID: id, AgencyID: agencyID, Title: "Test listing"}, nil
}

func (m *mockPropertyReader) ListByAgency(ctx context.Context, agencyID string, limit int, cursor string) ([]*types.Property, *types.PageInfo, error) {
	if m.listFn != nil {
		return m.listFn(ctx, agencyID, limit, cursor)
	}
	return nil, &types.PageInfo{}, nil
}

var (
	_ PropertyLedger = (*mockPropertyLedger)(nil)
	_ PropertyReader = (*mockPropertyReader)(nil)
)

func newTestPropertyHandler(ledger *mockPropertyLedger, reader *mockPropertyReader) *PropertyHandler {
	return NewPropertyHandler(ledger, reader, core.NewValidator(nil), nil)
}

// =============================================================================
// Create Tests
// =============================================================================

func TestPropertyHandler_Create_Success(t *testing.T) {
	var captured *types.Property
	ledger := &mockPropertyLedger{
		createFn: func(ctx context.Context, prop *types.Property) (*types.Property, error) {
			captured = prop
			prop.ID = "prop_test_1"
			return prop, nil
		},
	}
	h := newTestPropertyHandler(ledger, &mockPropertyReader{})

	req := makeRequest("POST", "/v1/properties", CreatePropertyRequest{
		Title:      "Sunny flat near the park",
		City:       "Lisbon",
		PriceCents: 32500000,
	}, contextWithActor("usr_1", "agc_1"))
	rr := httptest.NewRecorder()

	h.Create(rr, req)

	if rr.Code != http.StatusCreated {
		t.Fatalf("expected status 201, got %d: %s", rr.Code, rr.Body.String())
	}
	if captured.AgencyID != "agc_1" {
		t.Errorf("expected agency taken from the actor, got %q", captured.AgencyID)
	}
	if captured.Status != types.PropertyStatusDraft {
		t.Errorf("expected draft status, got %s", captured.Status)
	}
}

func TestPropertyHandler_Create_QuotaExceededMapsTo429(t *testing.T) {
	ledger := &mockPropertyLedger{
		createFn: func(ctx context.Context, prop *types.Property) (*types.Property, error) {
			return nil, types.NewAppErrorWithDetails(types.ErrCodeQuotaExceeded,
				"property limit reached (20 of 20)", nil,
				map[string]any{
					"property_count": 20,
					"property_limit": 20,
					"upgrade_url":    "https://dashboard.example.com/billing/upgrade",
				})
		},
	}
	h := newTestPropertyHandler(ledger, &mockPropertyReader{})

	req := makeRequest("POST", "/v1/properties", CreatePropertyRequest{
		Title: "One over the limit",
		City:  "Porto",
	}, contextWithActor("usr_1", "agc_1"))
	rr := httptest.NewRecorder()

	h.Create(rr, req)

	if rr.Code != http.StatusTooManyRequests {
		t.Fatalf("expected status 429, got %d: %s", rr.Code, rr.Body.String())
	}

	var resp core.APIErrorResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to decode error response: %v", err)
	}
	if resp.Error.Code != string(types.ErrCodeQuotaExceeded) {
		t.Errorf("expected quota_exceeded code, got %q", resp.Error.Code)
	}
	if resp.Error.Details["upgrade_url"] != "https://dashboard.example.com/billing/upgrade" {
		t.Errorf("expected upgrade link in details, got %v", resp.Error.Details)
	}
}

func TestPropertyHandler_Create_Unauthenticated(t *testing.T) {
	h := newTestPropertyHandler(&mockPropertyLedger{}, &mockPropertyReader{})

	req := makeRequest("POST", "/v1/properties", CreatePropertyRequest{Title: "x", City: "y"}, nil)
	rr := httptest.NewRecorder()

	h.Create(rr, req)

	if rr.Code != http.StatusUnauthorized {
		t.Errorf("expected status 401, got %d", rr.Code)
	}
}

func TestPropertyHandler_Create_ValidationFailure(t *testing.T) {
	h := newTestPropertyHandler(&mockPropertyLedger{}, &mockPropertyReader{})

	req := makeRequest("POST", "/v1/properties", CreatePropertyRequest{
		Title: "",
		City:  "",
	}, contextWithActor("usr_1", "agc_1"))
	rr := httptest.NewRecorder()

	h.Create(rr, req)

	if rr.Code != http.StatusBadRequest {
		t.Errorf("expected status 400, got %d: %s", rr.Code, rr.Body.String())
	}
}

// =============================================================================
// List Tests
// =============================================================================

func TestPropertyHandler_List_DefaultLimit(t *testing.T) {
	var gotLimit int
	reader := &mockPropertyReader{
		listFn: func(ctx context.Context, agencyID string, limit int, cursor string) ([]*types.Property, *types.PageInfo, error) {
			gotLimit = limit
			return nil, &types.PageInfo{}, nil
		},
	}
	h := newTestPropertyHandler(&mockPropertyLedger{}, reader)

	req := makeRequest("GET", "/v1/properties", nil, contextWithActor("usr_1", "agc_1"))
	rr := httptest.NewRecorder()

	h.List(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rr.Code)
	}
	if gotLimit != defaultPropertyPageSize {
		t.Errorf("expected default limit %d, got %d", defaultPropertyPageSize, gotLimit)
	}

	var resp struct {
		Data PropertyListResponse `json:"data"`
	}
	parseJSONResponse(t, rr, &resp)
	if resp.Data.Properties == nil {
		t.Errorf("expected empty slice, not null, in response")
	}
}

func TestPropertyHandler_List_LimitCappedAtMax(t *testing.T) {
	var gotLimit int
	var gotCursor string
	reader := &mockPropertyReader{
		listFn: func(ctx context.Context, agencyID string, limit int, cursor string) ([]*types.Property, *types.PageInfo, error) {
			gotLimit = limit
			gotCursor = cursor
			return nil, &types.PageInfo{}, nil
		},
	}
	h := newTestPropertyHandler(&mockPropertyLedger{}, reader)

	req := makeRequest("GET", "/v1/properties?limit=500&cursor=prop_42", nil, contextWithActor("usr_1", "agc_1"))
	rr := httptest.NewRecorder()

	h.List(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rr.Code)
	}
	if gotLimit != maxPropertyPageSize {
		t.Errorf("expected limit capped at %d, got %d", maxPropertyPageSize, gotLimit)
	}
	if gotCursor != "prop_42" {
		t.Errorf("expected cursor threaded through, got %q", gotCursor)
	}
}

func TestPropertyHandler_List_InvalidLimit(t *testing.T) {
	h := newTestPropertyHandler(&mockPropertyLedger{}, &mockPropertyReader{})

	req := makeRequest("GET", "/v1/properties?limit=abc", nil, contextWithActor("usr_1", "agc_1"))
	rr := httptest.NewRecorder()

	h.List(rr, req)

	if rr.Code != http.StatusBadRequest {
		t.Errorf("expected status 400, got %d", rr.Code)
	}
}

// =============================================================================
// Get / Delete Tests
// =============================================================================

func TestPropertyHandler_Get_ScopedToActorAgency(t *testing.T) {
	var gotAgencyID string
	reader := &mockPropertyReader{
		getByIDFn: func(ctx context.Context, agencyID, id string) (*types.Property, error) {
			gotAgencyID = agencyID
			return &types.Property{ID: id, AgencyID: agencyID}, nil
		},
	}
	h := newTestPropertyHandler(&mockPropertyLedger{}, reader)

	req := withURLParam(makeRequest("GET", "/v1/properties/prop_1", nil, contextWithActor("usr_1", "agc_1")), "id", "prop_1")
	rr := httptest.NewRecorder()

	h.Get(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rr.Code)
	}
	if gotAgencyID != "agc_1" {
		t.Errorf("expected lookup scoped to the actor's agency, got %q", gotAgencyID)
	}
}

func TestPropertyHandler_Delete_Success(t *testing.T) {
	var gotAgencyID, gotPropertyID string
	ledger := &mockPropertyLedger{
		deleteFn: func(ctx context.Context, agencyID, propertyID string) error {
			gotAgencyID, gotPropertyID = agencyID, propertyID
			return nil
		},
	}
	h := newTestPropertyHandler(ledger, &mockPropertyReader{})

	req := withURLParam(makeRequest("DELETE", "/v1/properties/prop_1", nil, contextWithActor("usr_1", "agc_1")), "id", "prop_1")
	rr := httptest.NewRecorder()

	h.Delete(rr, req)

	if rr.Code != http.StatusNoContent {
		t.Fatalf("expected status 204, got %d: %s", rr.Code, rr.Body.String())
	}
	if gotAgencyID != "agc_1" || gotPropertyID != "prop_1" {
		t.Errorf("unexpected delete args: %q/%q", gotAgencyID, gotPropertyID)
	}
}

func TestPropertyHandler_Delete_NotFound(t *testing.T) {
	ledger := &mockPropertyLedger{
		deleteFn: func(ctx context.Context, agencyID, propertyID string) error {
			return types.NewAppError(types.ErrCodeNotFoundProperty, "property not found", nil)
		},
	}
	h := newTestPropertyHandler(ledger, &mockPropertyReader{})

	req := withURLParam(makeRequest("DELETE", "/v1/properties/prop_gone", nil, contextWithActor("usr_1", "agc_1")), "id", "prop_gone")
	rr := httptest.NewRecorder()

	h.Delete(rr, req)

	if rr.Code != http.StatusNotFound {
		t.Errorf("expected status 404, got %d", rr.Code)
	}
	assertErrorCode(t, rr, types.ErrCodeNotFoundProperty)
}
