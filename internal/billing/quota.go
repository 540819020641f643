package billing

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"homegrid/internal/types"
)

// LedgerDB defines the database operations needed by the property Ledger.
// Using an interface allows clean testing without database dependencies.
//
// The transactional flow for creation is:
//  1. BeginTx starts a transaction.
//  2. ReserveProperty conditionally increments the agency's quota counter.
//  3. If the reservation won, CreateProperty inserts the listing row.
//  4. Commit / Rollback finalizes; a failed insert rolls the counter back too.
//
// Deletion mirrors it: SoftDeleteProperty then ReleaseProperty, in one
// transaction, so counter and rows can never diverge on either path.
type LedgerDB interface {
	// BeginTx starts a new database transaction. The returned LedgerTx must
	// be committed or rolled back by the caller.
	BeginTx(ctx context.Context) (LedgerTx, error)
}

// LedgerTx defines the transactional operations for a single property
// creation or deletion. All methods operate within the transaction started
// by LedgerDB.BeginTx.
type LedgerTx interface {
	// ReserveProperty conditionally increments the agency's property counter,
	// refusing when the counter has reached the plan limit. Returns the
	// resulting usage and whether the reservation succeeded.
	ReserveProperty(ctx context.Context, agencyID string) (types.QuotaUsage, bool, error)

	// CreateProperty inserts the listing row.
	CreateProperty(ctx context.Context, prop *types.Property) error

	// SoftDeleteProperty marks the listing deleted, returning true when a
	// live row was affected.
	SoftDeleteProperty(ctx context.Context, agencyID, id string) (bool, error)

	// ReleaseProperty decrements the agency's property counter, floored at zero.
	ReleaseProperty(ctx context.Context, agencyID string) error

	// Commit commits the transaction.
	Commit(ctx context.Context) error

	// Rollback aborts the transaction. Safe to call after Commit.
	Rollback(ctx context.Context) error
}

// QuotaMetrics is the slice of the metrics surface the ledger reports to.
type QuotaMetrics interface {
	IncQuotaRejection()
}

// Ledger enforces the property quota: every successful creation corresponds
// to exactly one counter increment and every deletion to exactly one
// decrement, with both sides of each pair committed atomically.
type Ledger struct {
	db           LedgerDB
	metrics      QuotaMetrics
	dashboardURL string
	logger       *slog.Logger
}

// NewLedger creates a property Ledger. dashboardURL seeds the upgrade link
// included in quota rejection details; metrics may be nil.
func NewLedger(db LedgerDB, metrics QuotaMetrics, dashboardURL string, logger *slog.Logger) *Ledger {
	if logger == nil {
		logger = slog.Default()
	}
	return &Ledger{db: db, metrics: metrics, dashboardURL: dashboardURL, logger: logger}
}

// CreateProperty atomically reserves one unit of the agency's quota and
// inserts the listing. When the agency is at its plan limit the request is
// rejected with ErrCodeQuotaExceeded carrying the current usage and an
// upgrade link; nothing is written in that case.
func (l *Ledger) CreateProperty(ctx context.Context, prop *types.Property) (*types.Property, error) {
	if prop.ID == "" {
		prop.ID = "prop_" + uuid.New().String()
	}
	if prop.Status == "" {
		prop.Status = types.PropertyStatusDraft
	}

	tx, err := l.db.BeginTx(ctx)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to begin property transaction", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	usage, reserved, err := tx.ReserveProperty(ctx, prop.AgencyID)
	if err != nil {
		return nil, err
	}
	if !reserved {
		if l.metrics != nil {
			l.metrics.IncQuotaRejection()
		}
		l.logger.Info("property creation rejected: quota exceeded",
			slog.String("agency_id", prop.AgencyID),
			slog.Int("property_count", usage.PropertyCount),
			slog.Int("property_limit", usage.PropertyLimit),
		)
		return nil, types.NewAppErrorWithDetails(
			types.ErrCodeQuotaExceeded,
			fmt.Sprintf("property limit reached (%d of %d)", usage.PropertyCount, usage.PropertyLimit),
			nil,
			map[string]any{
				"property_count": usage.PropertyCount,
				"property_limit": usage.PropertyLimit,
				"upgrade_url":    l.dashboardURL + "/billing/upgrade",
			},
		)
	}

	if err := tx.CreateProperty(ctx, prop); err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to commit property creation", err)
	}

	return prop, nil
}

// DeleteProperty soft-deletes the listing and returns its quota unit in the
// same transaction. Deleting an already-deleted or unknown property returns
// ErrCodeNotFoundProperty without touching the counter.
func (l *Ledger) DeleteProperty(ctx context.Context, agencyID, propertyID string) error {
	tx, err := l.db.BeginTx(ctx)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to begin property transaction", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	deleted, err := tx.SoftDeleteProperty(ctx, agencyID, propertyID)
	if err != nil {
		return err
	}
	if !deleted {
		return types.NewAppError(types.ErrCodeNotFoundProperty, "property not found", nil)
	}

	if err := tx.ReleaseProperty(ctx, agencyID); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to commit property deletion", err)
	}
	return nil
}
