package db

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"

	"homegrid/internal/types"
)

// AgencyRepository provides data access for the agencies table, including the
// billing-state columns written by the webhook state machine and the quota
// counter written by the property lifecycle.
//
// Key invariants:
//   - ApplyBillingState uses optimistic locking via subscription_updated_at to
//     handle out-of-order provider webhooks.
//   - ReserveProperty performs a conditional increment so the quota ceiling
//     holds under concurrent creation without row locks held across requests.
type AgencyRepository struct {
	db     DBTX
	logger *slog.Logger
}

// NewAgencyRepository creates a new AgencyRepository backed by the given
// database connection (pool or transaction).
func NewAgencyRepository(db DBTX, logger *slog.Logger) *AgencyRepository {
	if logger == nil {
		logger = slog.Default()
	}
	return &AgencyRepository{db: db, logger: logger}
}

// WithTx returns a copy of the repository bound to the given transaction.
func (r *AgencyRepository) WithTx(tx DBTX) *AgencyRepository {
	return &AgencyRepository{db: tx, logger: r.logger}
}

// agencyColumns defines the standard set of columns selected for agency
// queries. Used consistently across all query methods to avoid column drift.
const agencyColumns = `a.id, a.owner_user_id, a.name,
	a.subscription_status, a.subscription_plan,
	a.stripe_customer_id, a.stripe_subscription_id, a.subscription_updated_at,
	a.property_limit, a.property_count, a.is_active,
	a.created_at, a.updated_at, a.deleted_at`

// scanAgency scans a single agency row into a types.Agency struct. The
// columns must match the order defined in agencyColumns.
func scanAgency(row pgx.Row) (*types.Agency, error) {
	var a types.Agency
	var stripeCustomerID, stripeSubscriptionID *string

	err := row.Scan(
		&a.ID,
		&a.OwnerUserID,
		&a.Name,
		&a.SubscriptionStatus,
		&a.SubscriptionPlan,
		&stripeCustomerID,
		&stripeSubscriptionID,
		&a.SubscriptionUpdatedAt,
		&a.PropertyLimit,
		&a.PropertyCount,
		&a.IsActive,
		&a.CreatedAt,
		&a.UpdatedAt,
		&a.DeletedAt,
	)
	if err != nil {
		return nil, err
	}
	if stripeCustomerID != nil {
		a.StripeCustomerID = *stripeCustomerID
	}
	if stripeSubscriptionID != nil {
		a.StripeSubscriptionID = *stripeSubscriptionID
	}
	return &a, nil
}

// Create inserts a new agency record. The caller must set the ID (prefixed
// UUID, e.g. "agc_...") and the initial billing defaults before calling.
func (r *AgencyRepository) Create(ctx context.Context, agency *types.Agency) error {
	_, err := r.db.Exec(ctx,
		`INSERT INTO agencies (id, owner_user_id, name,
		 subscription_status, subscription_plan,
		 stripe_customer_id, stripe_subscription_id,
		 property_limit, property_count, is_active,
		 created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10,
		 COALESCE($11, NOW()), COALESCE($12, NOW()))`,
		agency.ID,
		agency.OwnerUserID,
		agency.Name,
		agency.SubscriptionStatus,
		agency.SubscriptionPlan,
		nilIfEmpty(agency.StripeCustomerID),
		nilIfEmpty(agency.StripeSubscriptionID),
		agency.PropertyLimit,
		agency.PropertyCount,
		agency.IsActive,
		nilIfZeroTime(agency.CreatedAt),
		nilIfZeroTime(agency.UpdatedAt),
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to create agency", err)
	}
	return nil
}

// GetByID retrieves an agency by its ID. Excludes soft-deleted agencies.
// Returns ErrCodeNotFoundAgency if no active agency is found.
func (r *AgencyRepository) GetByID(ctx context.Context, id string) (*types.Agency, error) {
	row := r.db.QueryRow(ctx,
		`SELECT `+agencyColumns+`
		 FROM agencies a
		 WHERE a.id = $1 AND a.deleted_at IS NULL`,
		id,
	)

	agency, err := scanAgency(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, types.NewAppError(types.ErrCodeNotFoundAgency, "agency not found", nil)
		}
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to retrieve agency", err)
	}
	return agency, nil
}

// GetByStripeCustomerID resolves the agency owning a provider customer
// reference. Webhook handlers call this first; a not-found result marks the
// event as orphaned (acknowledged but not applied).
func (r *AgencyRepository) GetByStripeCustomerID(ctx context.Context, customerID string) (*types.Agency, error) {
	row := r.db.QueryRow(ctx,
		`SELECT `+agencyColumns+`
		 FROM agencies a
		 WHERE a.stripe_customer_id = $1 AND a.deleted_at IS NULL`,
		customerID,
	)

	agency, err := scanAgency(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, types.NewAppError(types.ErrCodeNotFoundAgency, "no agency for stripe customer", nil)
		}
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to retrieve agency by customer", err)
	}
	return agency, nil
}

// GetBillingInfo returns the agency's provider customer reference and the
// owner's email, joining the owning user record. customerID is empty when the
// agency has not been through checkout yet.
func (r *AgencyRepository) GetBillingInfo(ctx context.Context, agencyID string) (string, string, error) {
	var customerID *string
	var email string
	err := r.db.QueryRow(ctx,
		`SELECT a.stripe_customer_id, u.email
		 FROM agencies a
		 JOIN users u ON u.id = a.owner_user_id
		 WHERE a.id = $1 AND a.deleted_at IS NULL`,
		agencyID,
	).Scan(&customerID, &email)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", "", types.NewAppError(types.ErrCodeNotFoundAgency, "agency not found", nil)
		}
		return "", "", types.NewAppError(types.ErrCodeInternalDB, "failed to retrieve billing info", err)
	}
	if customerID == nil {
		return "", email, nil
	}
	return *customerID, email, nil
}

// SetStripeCustomerID records the provider customer reference after lazy
// customer creation during checkout. It never overwrites an existing value.
func (r *AgencyRepository) SetStripeCustomerID(ctx context.Context, agencyID, customerID string) error {
	tag, err := r.db.Exec(ctx,
		`UPDATE agencies
		 SET stripe_customer_id = $1,
		     updated_at = NOW()
		 WHERE id = $2
		   AND deleted_at IS NULL
		   AND (stripe_customer_id IS NULL OR stripe_customer_id = $1)`,
		customerID,
		agencyID,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to set stripe customer id", err)
	}
	if tag.RowsAffected() == 0 {
		return types.NewAppError(types.ErrCodeConflictDuplicate,
			"agency already linked to a different stripe customer", nil)
	}
	return nil
}

// ApplyBillingState atomically writes the absolute billing state computed by
// a webhook handler: status, plan, limit, subscription reference, and the
// visibility flag, in a single UPDATE.
//
// Invariants enforced:
//  1. Absolute writes only. The caller passes the full target state derived
//     from the provider's subscription object; no deltas are applied, so
//     replaying the same event is a no-op in effect.
//  2. Optimistic locking. The UPDATE only applies if eventTimestamp is not
//     older than the stored subscription_updated_at; strictly older events
//     are silently ignored and reported via the returned bool. Equal
//     timestamps re-apply: provider checkout bursts emit distinct events
//     within the same epoch second, and absolute writes keep the
//     re-application idempotent.
//
// Returns true when the state was written, false when the event was stale.
func (r *AgencyRepository) ApplyBillingState(
	ctx context.Context,
	agencyID string,
	state types.BillingState,
	eventTimestamp time.Time,
) (bool, error) {
	tag, err := r.db.Exec(ctx,
		`UPDATE agencies
		 SET subscription_status = $1,
		     subscription_plan = $2,
		     property_limit = $3,
		     stripe_subscription_id = $4,
		     is_active = $5,
		     subscription_updated_at = $6,
		     updated_at = NOW()
		 WHERE id = $7
		   AND deleted_at IS NULL
		   AND (subscription_updated_at IS NULL OR subscription_updated_at <= $6)`,
		state.Status,
		state.Plan,
		state.PropertyLimit,
		nilIfEmpty(state.StripeSubscriptionID),
		state.IsActive,
		eventTimestamp,
		agencyID,
	)
	if err != nil {
		return false, types.NewAppError(types.ErrCodeInternalDB, "failed to apply billing state", err)
	}

	if tag.RowsAffected() == 0 {
		// Event is strictly older than what we already have. Idempotent no-op.
		r.logger.Info("stale subscription event ignored (optimistic lock)",
			slog.String("agency_id", agencyID),
			slog.Time("event_timestamp", eventTimestamp),
		)
		return false, nil
	}
	return true, nil
}

// MarkPaymentFailed degrades the billing status to past_due without touching
// the plan, limit, or visibility flag. A failed payment starts a grace
// period; visibility is only revoked by an explicit cancellation event.
// Returns true when the state was written, false when the event was stale.
func (r *AgencyRepository) MarkPaymentFailed(ctx context.Context, agencyID string, eventTimestamp time.Time) (bool, error) {
	tag, err := r.db.Exec(ctx,
		`UPDATE agencies
		 SET subscription_status = $1,
		     subscription_updated_at = $2,
		     updated_at = NOW()
		 WHERE id = $3
		   AND deleted_at IS NULL
		   AND (subscription_updated_at IS NULL OR subscription_updated_at <= $2)`,
		types.SubStatusPastDue,
		eventTimestamp,
		agencyID,
	)
	if err != nil {
		return false, types.NewAppError(types.ErrCodeInternalDB, "failed to mark payment failed", err)
	}
	if tag.RowsAffected() == 0 {
		r.logger.Info("stale payment failure event ignored (optimistic lock)",
			slog.String("agency_id", agencyID),
			slog.Time("event_timestamp", eventTimestamp),
		)
		return false, nil
	}
	return true, nil
}

// UpdatePlan rewrites the plan tier and property limit without touching the
// billing status or visibility flag. Plan changes and status changes arrive
// as separate provider events and must not be conflated.
// Returns true when the state was written, false when the event was stale.
func (r *AgencyRepository) UpdatePlan(ctx context.Context, agencyID string, plan types.PlanTier, propertyLimit int, eventTimestamp time.Time) (bool, error) {
	tag, err := r.db.Exec(ctx,
		`UPDATE agencies
		 SET subscription_plan = $1,
		     property_limit = $2,
		     subscription_updated_at = $3,
		     updated_at = NOW()
		 WHERE id = $4
		   AND deleted_at IS NULL
		   AND (subscription_updated_at IS NULL OR subscription_updated_at <= $3)`,
		plan,
		propertyLimit,
		eventTimestamp,
		agencyID,
	)
	if err != nil {
		return false, types.NewAppError(types.ErrCodeInternalDB, "failed to update plan", err)
	}
	if tag.RowsAffected() == 0 {
		r.logger.Info("stale plan change event ignored (optimistic lock)",
			slog.String("agency_id", agencyID),
			slog.Time("event_timestamp", eventTimestamp),
		)
		return false, nil
	}
	return true, nil
}

// ReserveProperty attempts to consume one unit of the agency's property quota
// with a single conditional increment. The WHERE clause guarantees the cached
// counter never exceeds the plan limit even under concurrent callers; losers
// of the race see zero rows affected and are rejected.
//
// Returns the post-increment usage and reserved=true on success. When the
// agency is at its limit, returns the current usage and reserved=false with a
// nil error; callers decide how to surface the rejection. Runs inside the
// same transaction as the property INSERT when used via WithTx.
func (r *AgencyRepository) ReserveProperty(ctx context.Context, agencyID string) (types.QuotaUsage, bool, error) {
	var usage types.QuotaUsage
	err := r.db.QueryRow(ctx,
		`UPDATE agencies
		 SET property_count = property_count + 1,
		     updated_at = NOW()
		 WHERE id = $1
		   AND deleted_at IS NULL
		   AND property_count < property_limit
		 RETURNING property_count, property_limit`,
		agencyID,
	).Scan(&usage.PropertyCount, &usage.PropertyLimit)
	if err == nil {
		return usage, true, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return types.QuotaUsage{}, false, types.NewAppError(types.ErrCodeInternalDB, "failed to reserve property quota", err)
	}

	// Zero rows: either the agency does not exist or it is at its limit.
	// Re-read to distinguish the two.
	err = r.db.QueryRow(ctx,
		`SELECT property_count, property_limit
		 FROM agencies
		 WHERE id = $1 AND deleted_at IS NULL`,
		agencyID,
	).Scan(&usage.PropertyCount, &usage.PropertyLimit)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return types.QuotaUsage{}, false, types.NewAppError(types.ErrCodeNotFoundAgency, "agency not found", nil)
		}
		return types.QuotaUsage{}, false, types.NewAppError(types.ErrCodeInternalDB, "failed to read property quota", err)
	}
	return usage, false, nil
}

// ReleaseProperty returns one unit of quota after a property deletion. The
// counter is floored at zero so a double release can never underflow it.
func (r *AgencyRepository) ReleaseProperty(ctx context.Context, agencyID string) error {
	tag, err := r.db.Exec(ctx,
		`UPDATE agencies
		 SET property_count = property_count - 1,
		     updated_at = NOW()
		 WHERE id = $1
		   AND deleted_at IS NULL
		   AND property_count > 0`,
		agencyID,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to release property quota", err)
	}
	if tag.RowsAffected() == 0 {
		r.logger.Warn("property quota release skipped (counter already zero or agency missing)",
			slog.String("agency_id", agencyID),
		)
	}
	return nil
}

// ListQuotaCounters returns every live agency's cached property counter for
// the reconciliation auditor.
func (r *AgencyRepository) ListQuotaCounters(ctx context.Context) ([]types.QuotaCounter, error) {
	rows, err := r.db.Query(ctx,
		`SELECT id, property_count
		 FROM agencies
		 WHERE deleted_at IS NULL
		 ORDER BY id`,
	)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to list quota counters", err)
	}
	defer rows.Close()

	var counters []types.QuotaCounter
	for rows.Next() {
		var c types.QuotaCounter
		if err := rows.Scan(&c.AgencyID, &c.PropertyCount); err != nil {
			return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to scan quota counter", err)
		}
		counters = append(counters, c)
	}
	if err := rows.Err(); err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to iterate quota counters", err)
	}
	return counters, nil
}

// SetPropertyCount overwrites the cached counter with an audited true count.
// Only the reconciliation auditor calls this, and only in fix mode.
func (r *AgencyRepository) SetPropertyCount(ctx context.Context, agencyID string, count int) error {
	tag, err := r.db.Exec(ctx,
		`UPDATE agencies
		 SET property_count = $1,
		     updated_at = NOW()
		 WHERE id = $2 AND deleted_at IS NULL`,
		count,
		agencyID,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to set property count", err)
	}
	if tag.RowsAffected() == 0 {
		return types.NewAppError(types.ErrCodeNotFoundAgency, "agency not found", nil)
	}
	return nil
}
