package core

import (
	"bytes"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"homegrid/internal/types"
)

// --- JSON helper tests ---

func TestJSON_Success(t *testing.T) {
	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodGet, "/", nil)

	data := APIResponse{Data: map[string]string{"name": "test"}}
	JSON(w, r, http.StatusOK, data)

	resp := w.Result()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("expected status 200, got %d", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "application/json" {
		t.Errorf("expected Content-Type application/json, got %q", ct)
	}

	var body APIResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	dataMap, ok := body.Data.(map[string]interface{})
	if !ok {
		t.Fatalf("expected data to be a map, got %T", body.Data)
	}
	if dataMap["name"] != "test" {
		t.Errorf("expected name=test, got %v", dataMap["name"])
	}
}

func TestJSON_MarshalFailure(t *testing.T) {
	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r = r.WithContext(types.WithRequestID(r.Context(), "req-marshal-fail"))

	// Channels cannot be marshalled to JSON.
	unmarshalable := make(chan int)
	JSON(w, r, http.StatusOK, unmarshalable)

	resp := w.Result()
	if resp.StatusCode != http.StatusInternalServerError {
		t.Errorf("expected status 500, got %d", resp.StatusCode)
	}

	var errResp APIErrorResponse
	if err := json.NewDecoder(resp.Body).Decode(&errResp); err != nil {
		t.Fatalf("failed to decode fallback error: %v", err)
	}
	if errResp.Error.Code != string(types.ErrCodeInternalUnexpected) {
		t.Errorf("expected code %s, got %s", types.ErrCodeInternalUnexpected, errResp.Error.Code)
	}
	if errResp.Error.RequestID != "req-marshal-fail" {
		t.Errorf("expected request_id req-marshal-fail, got %s", errResp.Error.RequestID)
	}
}

// --- Error helper tests ---

func TestError_AppErrorMapping(t *testing.T) {
	tests := []struct {
		name       string
		code       types.ErrorCode
		wantStatus int
	}{
		{"validation", types.ErrCodeValidationInvalidBody, http.StatusBadRequest},
		{"webhook credentials", types.ErrCodeWebhookCredentialsMissing, http.StatusBadRequest},
		{"auth", types.ErrCodeAuthTokenMissing, http.StatusUnauthorized},
		{"not found", types.ErrCodeNotFoundProperty, http.StatusNotFound},
		{"conflict", types.ErrCodeConflictDuplicate, http.StatusConflict},
		{"quota", types.ErrCodeQuotaExceeded, http.StatusTooManyRequests},
		{"internal", types.ErrCodeInternalDB, http.StatusInternalServerError},
		{"upstream", types.ErrCodeUpstreamStripe, http.StatusBadGateway},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			r := httptest.NewRequest(http.MethodGet, "/", nil)

			Error(w, r, types.NewAppError(tt.code, "boom", nil))

			if w.Code != tt.wantStatus {
				t.Errorf("expected status %d, got %d", tt.wantStatus, w.Code)
			}
			var errResp APIErrorResponse
			if err := json.Unmarshal(w.Body.Bytes(), &errResp); err != nil {
				t.Fatalf("failed to decode error response: %v", err)
			}
			if errResp.Error.Code != string(tt.code) {
				t.Errorf("expected code %s, got %s", tt.code, errResp.Error.Code)
			}
		})
	}
}

func TestError_WrappedAppError(t *testing.T) {
	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodGet, "/", nil)

	inner := types.NewAppError(types.ErrCodeNotFoundAgency, "agency not found", nil)
	Error(w, r, errors.Join(errors.New("while loading the profile"), inner))

	if w.Code != http.StatusNotFound {
		t.Errorf("expected status 404, got %d", w.Code)
	}
}

func TestError_GenericErrorDoesNotLeak(t *testing.T) {
	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodGet, "/", nil)

	Error(w, r, errors.New("pq: password authentication failed for user postgres"))

	if w.Code != http.StatusInternalServerError {
		t.Errorf("expected status 500, got %d", w.Code)
	}
	if strings.Contains(w.Body.String(), "postgres") {
		t.Errorf("internal error detail leaked to the client: %s", w.Body.String())
	}
}

// --- DecodeJSON tests ---

func TestDecodeJSON_Success(t *testing.T) {
	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"name":"test"}`))

	var dst struct {
		Name string `json:"name"`
	}
	if err := DecodeJSON(w, r, &dst); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if dst.Name != "test" {
		t.Errorf("expected name=test, got %q", dst.Name)
	}
}

func TestDecodeJSON_UnknownField(t *testing.T) {
	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"name":"test","bogus":1}`))

	var dst struct {
		Name string `json:"name"`
	}
	err := DecodeJSON(w, r, &dst)
	assertDecodeError(t, err, types.ErrCodeValidationInvalidBody)
}

func TestDecodeJSON_EmptyBody(t *testing.T) {
	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodPost, "/", bytes.NewReader(nil))

	var dst struct{}
	err := DecodeJSON(w, r, &dst)
	assertDecodeError(t, err, types.ErrCodeValidationInvalidBody)
}

func TestDecodeJSON_TrailingValue(t *testing.T) {
	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{}{}`))

	var dst struct{}
	err := DecodeJSON(w, r, &dst)
	assertDecodeError(t, err, types.ErrCodeValidationInvalidBody)
}

func TestDecodeJSON_WrongFieldType(t *testing.T) {
	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"name":123}`))

	var dst struct {
		Name string `json:"name"`
	}
	err := DecodeJSON(w, r, &dst)
	assertDecodeError(t, err, types.ErrCodeValidationInvalidField)
}

func assertDecodeError(t *testing.T, err error, want types.ErrorCode) {
	t.Helper()
	if err == nil {
		t.Fatal("expected an error")
	}
	var appErr *types.AppError
	if !errors.As(err, &appErr) {
		t.Fatalf("expected *types.AppError, got %T", err)
	}
	if appErr.Code != want {
		t.Errorf("expected code %s, got %s", want, appErr.Code)
	}
}
