// Package types defines the shared domain model for the HomeGrid platform:
// agencies, properties, billing state, and the error taxonomy. It has no
// dependencies on other internal packages so every layer can import it.
package types

import "time"

// ---------------------------------------------------------------------------
// Billing Enums
// ---------------------------------------------------------------------------

// SubscriptionStatus is the locally cached billing status of an agency.
type SubscriptionStatus string

const (
	SubStatusPending  SubscriptionStatus = "pending"
	SubStatusActive   SubscriptionStatus = "active"
	SubStatusPastDue  SubscriptionStatus = "past_due"
	SubStatusCanceled SubscriptionStatus = "canceled"
)

// PlanTier is a named billing tier with an associated property quota.
type PlanTier string

const (
	PlanBasic        PlanTier = "basic"
	PlanProfessional PlanTier = "professional"
	PlanEnterprise   PlanTier = "enterprise"
)

// PropertyStatus is the lifecycle state of a listing.
type PropertyStatus string

const (
	PropertyStatusDraft     PropertyStatus = "draft"
	PropertyStatusPublished PropertyStatus = "published"
	PropertyStatusSold      PropertyStatus = "sold"
)

// ---------------------------------------------------------------------------
// Entities
// ---------------------------------------------------------------------------

// Agency is the billable tenant owning listings. Billing fields are mutated
// exclusively by the webhook state machine; property_count is mutated
// exclusively by the property creation/deletion path. The two write paths use
// field-scoped updates so they never clobber each other.
type Agency struct {
	ID          string `json:"id"`
	OwnerUserID string `json:"owner_user_id"`
	Name        string `json:"name"`

	SubscriptionStatus    SubscriptionStatus `json:"subscription_status"`
	SubscriptionPlan      PlanTier           `json:"subscription_plan"`
	StripeCustomerID      string             `json:"stripe_customer_id,omitempty"`
	StripeSubscriptionID  string             `json:"stripe_subscription_id,omitempty"`
	SubscriptionUpdatedAt *time.Time         `json:"subscription_updated_at,omitempty"`

	PropertyLimit int `json:"property_limit"`
	PropertyCount int `json:"property_count"`

	// IsActive controls whether the agency's listings are publicly
	// discoverable. True only while SubscriptionStatus == active.
	IsActive bool `json:"is_active"`

	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
	DeletedAt *time.Time `json:"deleted_at,omitempty"`
}

// Property is a listing owned by exactly one agency. AgencyID is immutable
// after creation. Every successful creation corresponds to exactly one
// increment of the owning agency's property_count, and every deletion to one
// decrement.
type Property struct {
	ID          string         `json:"id"`
	AgencyID    string         `json:"agency_id"`
	Title       string         `json:"title"`
	Description string         `json:"description,omitempty"`
	City        string         `json:"city"`
	Address     string         `json:"address,omitempty"`
	PriceCents  int64          `json:"price_cents"`
	Status      PropertyStatus `json:"status"`
	CreatedAt   time.Time      `json:"created_at"`
	UpdatedAt   time.Time      `json:"updated_at"`
	DeletedAt   *time.Time     `json:"deleted_at,omitempty"`
}

// User is the account owning an agency. The webhook state machine propagates
// the provider customer/subscription references here on successful payment.
type User struct {
	ID                   string    `json:"id"`
	Email                string    `json:"email"`
	StripeCustomerID     string    `json:"stripe_customer_id,omitempty"`
	StripeSubscriptionID string    `json:"stripe_subscription_id,omitempty"`
	CreatedAt            time.Time `json:"created_at"`
	UpdatedAt            time.Time `json:"updated_at"`
}

// ---------------------------------------------------------------------------
// Billing State Machine Values
// ---------------------------------------------------------------------------

// BillingState is the absolute agency billing state computed by a webhook
// handler from the provider's current subscription object. Handlers never
// apply deltas; applying the same state twice yields the same end state.
type BillingState struct {
	Status               SubscriptionStatus
	Plan                 PlanTier
	PropertyLimit        int
	StripeSubscriptionID string
	IsActive             bool
}

// PlanDefinition maps an external price identifier to a plan tier and its
// property quota. The three catalog entries are fixed at deploy time; price
// IDs come from process configuration.
type PlanDefinition struct {
	PriceID       string
	Tier          PlanTier
	PropertyLimit int
}

// ProviderSubscription is the minimal view of a payment-provider subscription
// object needed by the webhook state machine.
type ProviderSubscription struct {
	ID         string
	CustomerID string
	Status     string
	PriceID    string
}

// ---------------------------------------------------------------------------
// Quota
// ---------------------------------------------------------------------------

// QuotaUsage is a snapshot of an agency's cached property counter against its
// plan limit.
type QuotaUsage struct {
	PropertyCount int `json:"property_count"`
	PropertyLimit int `json:"property_limit"`
}

// Remaining returns how many more properties the agency may create.
func (u QuotaUsage) Remaining() int {
	if r := u.PropertyLimit - u.PropertyCount; r > 0 {
		return r
	}
	return 0
}

// QuotaCounter pairs an agency with its cached property counter. The
// reconciliation auditor compares it against the true row count.
type QuotaCounter struct {
	AgencyID      string
	PropertyCount int
}

// DriftReport is produced by the reconciliation auditor for an agency whose
// cached property counter diverges from the true row count.
type DriftReport struct {
	AgencyID    string `json:"agency_id"`
	CachedCount int    `json:"cached_count"`
	ActualCount int    `json:"actual_count"`
}

// Drift returns cached minus actual; positive values mean the cached counter
// overstates real usage (capacity is being wasted).
func (d DriftReport) Drift() int {
	return d.CachedCount - d.ActualCount
}

// ---------------------------------------------------------------------------
// Pagination
// ---------------------------------------------------------------------------

// PageInfo carries cursor pagination metadata for list responses.
type PageInfo struct {
	HasMore    bool   `json:"has_more"`
	NextCursor string `json:"next_cursor,omitempty"`
}

// RedirectURLs guides the user after a hosted checkout or portal session.
type RedirectURLs struct {
	Success string
	Cancel  string
}
