package external

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	stripe "github.com/stripe/stripe-go/v82"

	"homegrid/internal/types"
)

// stripeAPIBase is the default Stripe API base URL.
// Overridable in tests via StripeClientConfig.BaseURL.
const stripeAPIBase = "https://api.stripe.com"

// AgencyBillingLookup provides the minimal data access StripeClient needs to
// resolve an agency into its provider customer ID and billing email. This
// avoids pulling in the full agency repository.
type AgencyBillingLookup interface {
	// GetBillingInfo returns the stripe_customer_id and the owner's email
	// for the given agency. Returns ("", email, nil) if the agency exists
	// but has no customer yet.
	GetBillingInfo(ctx context.Context, agencyID string) (stripeCustomerID string, email string, err error)

	// SetStripeCustomerID records the provider customer ID for the agency.
	SetStripeCustomerID(ctx context.Context, agencyID string, customerID string) error
}

// PlanPriceResolver maps a plan tier to its provider price ID. Satisfied by
// the billing plan catalog.
type PlanPriceResolver interface {
	ResolveTier(tier types.PlanTier) types.PlanDefinition
}

// StripeClientConfig holds the configuration for creating a StripeClient.
type StripeClientConfig struct {
	SecretKey string
	BaseURL   string // override for testing; defaults to stripeAPIBase
	Logger    *slog.Logger
}

// StripeClient implements BillingService and SubscriptionFetcher by making
// direct HTTP calls to the Stripe REST API through BaseClient, so every
// request gets the platform's resilience behavior and tests can use httptest.
type StripeClient struct {
	base         *BaseClient
	secretKey    string
	baseURL      string
	agencyLookup AgencyBillingLookup
	prices       PlanPriceResolver
	logger       *slog.Logger
}

// NewStripeClient creates a new StripeClient.
func NewStripeClient(httpClient *http.Client, agencyLookup AgencyBillingLookup, prices PlanPriceResolver, cfg StripeClientConfig) *StripeClient {
	base := NewBaseClient(
		httpClient,
		"stripe",
		RetryPolicy{
			MaxRetries: 2,
			MinWait:    500 * time.Millisecond,
			MaxWait:    5 * time.Second,
		},
		"HomeGrid/1.0",
	)
	return NewStripeClientWithBase(base, agencyLookup, prices, cfg)
}

// NewStripeClientWithBase creates a StripeClient with a pre-configured
// BaseClient. Useful for tests that need to control retry and breaker setup.
func NewStripeClientWithBase(base *BaseClient, agencyLookup AgencyBillingLookup, prices PlanPriceResolver, cfg StripeClientConfig) *StripeClient {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = stripeAPIBase
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &StripeClient{
		base:         base,
		secretKey:    cfg.SecretKey,
		baseURL:      strings.TrimSuffix(baseURL, "/"),
		agencyLookup: agencyLookup,
		prices:       prices,
		logger:       logger,
	}
}

// EnsureCustomer retrieves or creates a Stripe customer for the agency.
// Search-first to prevent duplicate customers:
//  1. Query the Stripe customer search API for a metadata['agency_id'] match.
//  2. If found, record and return the existing customer ID.
//  3. Otherwise create a new customer tagged with agency_id metadata.
//  4. Record the customer ID locally.
func (s *StripeClient) EnsureCustomer(ctx context.Context, agencyID string, email string) (string, error) {
	if email == "" {
		var err error
		_, email, err = s.agencyLookup.GetBillingInfo(ctx, agencyID)
		if err != nil {
			return "", err
		}
	}

	params := url.Values{}
	params.Set("query", fmt.Sprintf("metadata['agency_id']:'%s'", agencyID))

	searchResp, err := s.doGet(ctx, "/v1/customers/search", params)
	if err != nil {
		return "", s.wrapStripeError("EnsureCustomer.search", err)
	}
	defer searchResp.Body.Close()

	if searchResp.StatusCode != http.StatusOK {
		return "", s.handleErrorResponse(searchResp, "EnsureCustomer.search")
	}

	var searchResult stripeSearchResult
	if err := json.NewDecoder(searchResp.Body).Decode(&searchResult); err != nil {
		return "", types.NewAppError(types.ErrCodeInternalUnexpected,
			"failed to decode stripe customer search response", err)
	}

	if len(searchResult.Data) > 0 {
		customerID := searchResult.Data[0].ID
		if dbErr := s.agencyLookup.SetStripeCustomerID(ctx, agencyID, customerID); dbErr != nil {
			s.logger.WarnContext(ctx, "failed to record stripe customer id",
				"agency_id", agencyID,
				"customer_id", customerID,
				"error", dbErr,
			)
		}
		return customerID, nil
	}

	createParams := url.Values{}
	createParams.Set("email", email)
	createParams.Set("metadata[agency_id]", agencyID)

	createResp, err := s.doPost(ctx, "/v1/customers", createParams)
	if err != nil {
		return "", s.wrapStripeError("EnsureCustomer.create", err)
	}
	defer createResp.Body.Close()

	if createResp.StatusCode != http.StatusOK {
		return "", s.handleErrorResponse(createResp, "EnsureCustomer.create")
	}

	var customer stripeCustomer
	if err := json.NewDecoder(createResp.Body).Decode(&customer); err != nil {
		return "", types.NewAppError(types.ErrCodeInternalUnexpected,
			"failed to decode stripe customer creation response", err)
	}

	if dbErr := s.agencyLookup.SetStripeCustomerID(ctx, agencyID, customer.ID); dbErr != nil {
		s.logger.WarnContext(ctx, "failed to record stripe customer id after creation",
			"agency_id", agencyID,
			"customer_id", customer.ID,
			"error", dbErr,
		)
	}
	return customer.ID, nil
}

// CreateCheckoutSession generates a Stripe Checkout session URL for a
// subscription on the given plan. The agency ID rides along as
// client_reference_id and metadata for webhook correlation.
func (s *StripeClient) CreateCheckoutSession(ctx context.Context, agencyID string, plan types.PlanTier, urls types.RedirectURLs) (string, string, error) {
	customerID, _, err := s.resolveCustomerID(ctx, agencyID)
	if err != nil {
		return "", "", err
	}

	def := s.prices.ResolveTier(plan)

	params := url.Values{}
	params.Set("customer", customerID)
	params.Set("mode", "subscription")
	params.Set("client_reference_id", agencyID)
	params.Set("success_url", urls.Success)
	params.Set("cancel_url", urls.Cancel)
	params.Set("metadata[agency_id]", agencyID)
	params.Set("metadata[plan]", string(def.Tier))
	params.Set("line_items[0][price]", def.PriceID)
	params.Set("line_items[0][quantity]", "1")

	resp, err := s.doPost(ctx, "/v1/checkout/sessions", params)
	if err != nil {
		return "", "", s.wrapStripeError("CreateCheckoutSession", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", "", s.handleErrorResponse(resp, "CreateCheckoutSession")
	}

	var session stripeCheckoutSession
	if err := json.NewDecoder(resp.Body).Decode(&session); err != nil {
		return "", "", types.NewAppError(types.ErrCodeInternalUnexpected,
			"failed to decode stripe checkout session response", err)
	}
	return session.URL, session.ID, nil
}

// CreatePortalSession generates a Stripe Billing Portal URL.
func (s *StripeClient) CreatePortalSession(ctx context.Context, agencyID string, returnURL string) (string, error) {
	customerID, _, err := s.resolveCustomerID(ctx, agencyID)
	if err != nil {
		return "", err
	}

	params := url.Values{}
	params.Set("customer", customerID)
	params.Set("return_url", returnURL)

	resp, err := s.doPost(ctx, "/v1/billing_portal/sessions", params)
	if err != nil {
		return "", s.wrapStripeError("CreatePortalSession", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", s.handleErrorResponse(resp, "CreatePortalSession")
	}

	var session stripePortalSession
	if err := json.NewDecoder(resp.Body).Decode(&session); err != nil {
		return "", types.NewAppError(types.ErrCodeInternalUnexpected,
			"failed to decode stripe portal session response", err)
	}
	return session.URL, nil
}

// GetSubscription retrieves the agency's current subscription, or nil when
// the customer has none.
func (s *StripeClient) GetSubscription(ctx context.Context, agencyID string) (*types.ProviderSubscription, error) {
	customerID, _, err := s.resolveCustomerID(ctx, agencyID)
	if err != nil {
		return nil, err
	}

	params := url.Values{}
	params.Set("customer", customerID)
	params.Set("limit", "1")

	resp, err := s.doGet(ctx, "/v1/subscriptions", params)
	if err != nil {
		return nil, s.wrapStripeError("GetSubscription", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, s.handleErrorResponse(resp, "GetSubscription")
	}

	var listResp stripeSubscriptionList
	if err := json.NewDecoder(resp.Body).Decode(&listResp); err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalUnexpected,
			"failed to decode stripe subscriptions response", err)
	}
	if len(listResp.Data) == 0 {
		return nil, nil
	}
	return mapStripeSubscription(&listResp.Data[0]), nil
}

// GetSubscriptionByID fetches a subscription object fresh from Stripe. The
// webhook state machine uses this so processed state always reflects what the
// provider reports at handling time, not what the event payload claimed.
func (s *StripeClient) GetSubscriptionByID(ctx context.Context, subscriptionID string) (*types.ProviderSubscription, error) {
	resp, err := s.doGet(ctx, "/v1/subscriptions/"+subscriptionID, nil)
	if err != nil {
		return nil, s.wrapStripeError("GetSubscriptionByID", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, s.handleErrorResponse(resp, "GetSubscriptionByID")
	}

	var sub stripeSubscription
	if err := json.NewDecoder(resp.Body).Decode(&sub); err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalUnexpected,
			"failed to decode stripe subscription response", err)
	}
	return mapStripeSubscription(&sub), nil
}

// ---------------------------------------------------------------------------
// HTTP Helpers
// ---------------------------------------------------------------------------

// doGet performs an authenticated GET request to the Stripe API.
func (s *StripeClient) doGet(ctx context.Context, path string, params url.Values) (*http.Response, error) {
	reqURL := s.baseURL + path
	if len(params) > 0 {
		reqURL += "?" + params.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, err
	}
	s.setAuthHeaders(req)
	return s.base.Do(req)
}

// doPost performs an authenticated POST request with a form-encoded body.
func (s *StripeClient) doPost(ctx context.Context, path string, params url.Values) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+path, strings.NewReader(params.Encode()))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	s.setAuthHeaders(req)
	return s.base.Do(req)
}

func (s *StripeClient) setAuthHeaders(req *http.Request) {
	req.Header.Set("Authorization", "Bearer "+s.secretKey)
	req.Header.Set("Stripe-Version", stripe.APIVersion)
}

// resolveCustomerID fetches the agency's Stripe customer ID from the database.
func (s *StripeClient) resolveCustomerID(ctx context.Context, agencyID string) (string, string, error) {
	customerID, email, err := s.agencyLookup.GetBillingInfo(ctx, agencyID)
	if err != nil {
		return "", "", err
	}
	if customerID == "" {
		return "", "", types.NewAppError(
			types.ErrCodeNotFoundAgency,
			fmt.Sprintf("agency %s has no stripe customer; call EnsureCustomer first", agencyID),
			nil,
		)
	}
	return customerID, email, nil
}

// ---------------------------------------------------------------------------
// Error Handling
// ---------------------------------------------------------------------------

// stripeErrorResponse is the JSON error body returned by the Stripe API.
type stripeErrorResponse struct {
	Error stripeErrorBody `json:"error"`
}

type stripeErrorBody struct {
	Type    string `json:"type"`
	Code    string `json:"code"`
	Message string `json:"message"`
	Param   string `json:"param"`
}

// handleErrorResponse reads a Stripe error response and maps it to an AppError.
func (s *StripeClient) handleErrorResponse(resp *http.Response, operation string) error {
	body, readErr := io.ReadAll(resp.Body)
	if readErr != nil {
		return types.NewAppError(types.ErrCodeUpstreamStripe,
			fmt.Sprintf("%s: stripe returned status %d and response body was unreadable", operation, resp.StatusCode),
			readErr)
	}

	var stripeErr stripeErrorResponse
	if jsonErr := json.Unmarshal(body, &stripeErr); jsonErr != nil {
		return types.NewAppError(types.ErrCodeUpstreamStripe,
			fmt.Sprintf("%s: stripe returned status %d with non-JSON body", operation, resp.StatusCode),
			jsonErr)
	}

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return types.NewAppError(types.ErrCodeUpstreamRateLimited,
			fmt.Sprintf("%s: stripe rate limit exceeded", operation), nil)
	case resp.StatusCode >= 500:
		return types.NewAppError(types.ErrCodeUpstreamUnavailable,
			fmt.Sprintf("%s: stripe server error: %s", operation, stripeErr.Error.Message), nil)
	default:
		return types.NewAppError(types.ErrCodeUpstreamStripe,
			fmt.Sprintf("%s: stripe error (%d): %s", operation, resp.StatusCode, stripeErr.Error.Message), nil)
	}
}

// wrapStripeError wraps a BaseClient transport error with operation context.
// AppErrors from BaseClient pass through untouched since they already carry
// the right upstream code.
func (s *StripeClient) wrapStripeError(operation string, err error) error {
	if _, ok := err.(*types.AppError); ok {
		return err
	}
	return types.NewAppError(types.ErrCodeUpstreamStripe,
		fmt.Sprintf("%s: stripe request failed: %v", operation, err), err)
}

// ---------------------------------------------------------------------------
// Stripe Response Types
// ---------------------------------------------------------------------------

type stripeCustomer struct {
	ID       string            `json:"id"`
	Email    string            `json:"email"`
	Metadata map[string]string `json:"metadata"`
}

type stripeSearchResult struct {
	Data    []stripeCustomer `json:"data"`
	HasMore bool             `json:"has_more"`
}

type stripeCheckoutSession struct {
	ID  string `json:"id"`
	URL string `json:"url"`
}

type stripePortalSession struct {
	ID  string `json:"id"`
	URL string `json:"url"`
}

type stripeSubscription struct {
	ID       string                  `json:"id"`
	Customer string                  `json:"customer"`
	Status   string                  `json:"status"`
	Items    stripeSubscriptionItems `json:"items"`
}

type stripeSubscriptionItems struct {
	Data []stripeSubscriptionItem `json:"data"`
}

type stripeSubscriptionItem struct {
	Price stripePrice `json:"price"`
}

type stripePrice struct {
	ID string `json:"id"`
}

type stripeSubscriptionList struct {
	Data    []stripeSubscription `json:"data"`
	HasMore bool                 `json:"has_more"`
}

// mapStripeSubscription converts a Stripe subscription to the minimal domain
// view the state machine needs.
func mapStripeSubscription(sub *stripeSubscription) *types.ProviderSubscription {
	out := &types.ProviderSubscription{
		ID:         sub.ID,
		CustomerID: sub.Customer,
		Status:     sub.Status,
	}
	if len(sub.Items.Data) > 0 {
		out.PriceID = sub.Items.Data[0].Price.ID
	}
	return out
}

// ---------------------------------------------------------------------------
// Webhook Verification
// ---------------------------------------------------------------------------

// StripeVerifier implements WebhookVerifier using stripe-go's webhook
// signature verification: HMAC-SHA256 with timestamp tolerance.
type StripeVerifier struct{}

// Verify validates a Stripe webhook payload against the signature header and
// signing secret.
func (v *StripeVerifier) Verify(payload []byte, header string, secret string) error {
	return stripe.ValidatePayload(payload, header, secret)
}
