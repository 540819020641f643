package db

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"

	"homegrid/internal/types"
)

// PropertyRepository provides data access for the properties table. Creation
// and deletion must run in the same transaction as the owning agency's quota
// counter mutation; use WithTx to bind the repository to that transaction.
type PropertyRepository struct {
	db DBTX
}

// NewPropertyRepository creates a new PropertyRepository backed by the given
// database connection (pool or transaction).
func NewPropertyRepository(db DBTX) *PropertyRepository {
	return &PropertyRepository{db: db}
}

// WithTx returns a copy of the repository bound to the given transaction.
func (r *PropertyRepository) WithTx(tx DBTX) *PropertyRepository {
	return &PropertyRepository{db: tx}
}

const propertyColumns = `p.id, p.agency_id, p.title, p.description, p.city,
	p.address, p.price_cents, p.status, p.created_at, p.updated_at, p.deleted_at`

func scanProperty(row pgx.Row) (*types.Property, error) {
	var p types.Property
	err := row.Scan(
		&p.ID,
		&p.AgencyID,
		&p.Title,
		&p.Description,
		&p.City,
		&p.Address,
		&p.PriceCents,
		&p.Status,
		&p.CreatedAt,
		&p.UpdatedAt,
		&p.DeletedAt,
	)
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// Create inserts a new property record. The caller must set the ID (prefixed
// UUID, e.g. "prop_...") and AgencyID before calling.
func (r *PropertyRepository) Create(ctx context.Context, prop *types.Property) error {
	_, err := r.db.Exec(ctx,
		`INSERT INTO properties (id, agency_id, title, description, city,
		 address, price_cents, status, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, COALESCE($9, NOW()), COALESCE($10, NOW()))`,
		prop.ID,
		prop.AgencyID,
		prop.Title,
		prop.Description,
		prop.City,
		prop.Address,
		prop.PriceCents,
		prop.Status,
		nilIfZeroTime(prop.CreatedAt),
		nilIfZeroTime(prop.UpdatedAt),
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to create property", err)
	}
	return nil
}

// GetByID retrieves a property scoped to the owning agency. Excludes
// soft-deleted properties.
func (r *PropertyRepository) GetByID(ctx context.Context, agencyID, id string) (*types.Property, error) {
	row := r.db.QueryRow(ctx,
		`SELECT `+propertyColumns+`
		 FROM properties p
		 WHERE p.id = $1 AND p.agency_id = $2 AND p.deleted_at IS NULL`,
		id,
		agencyID,
	)

	prop, err := scanProperty(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, types.NewAppError(types.ErrCodeNotFoundProperty, "property not found", nil)
		}
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to retrieve property", err)
	}
	return prop, nil
}

// SoftDelete marks a property deleted. Returns true if a live row was
// deleted; the caller releases quota only in that case, so repeated deletes
// of the same property decrement the counter exactly once.
func (r *PropertyRepository) SoftDelete(ctx context.Context, agencyID, id string) (bool, error) {
	tag, err := r.db.Exec(ctx,
		`UPDATE properties
		 SET deleted_at = NOW(),
		     updated_at = NOW()
		 WHERE id = $1 AND agency_id = $2 AND deleted_at IS NULL`,
		id,
		agencyID,
	)
	if err != nil {
		return false, types.NewAppError(types.ErrCodeInternalDB, "failed to delete property", err)
	}
	return tag.RowsAffected() > 0, nil
}

// ListByAgency returns a page of the agency's live properties ordered by
// newest first. It fetches limit+1 rows to compute has_more; the cursor is
// the ID of the last property on the previous page.
func (r *PropertyRepository) ListByAgency(ctx context.Context, agencyID string, limit int, cursor string) ([]*types.Property, *types.PageInfo, error) {
	rows, err := r.db.Query(ctx,
		`SELECT `+propertyColumns+`
		 FROM properties p
		 WHERE p.agency_id = $1
		   AND p.deleted_at IS NULL
		   AND ($2 = '' OR p.id < $2)
		 ORDER BY p.id DESC
		 LIMIT $3`,
		agencyID,
		cursor,
		limit+1,
	)
	if err != nil {
		return nil, nil, types.NewAppError(types.ErrCodeInternalDB, "failed to list properties", err)
	}
	defer rows.Close()

	var props []*types.Property
	for rows.Next() {
		prop, err := scanProperty(rows)
		if err != nil {
			return nil, nil, types.NewAppError(types.ErrCodeInternalDB, "failed to scan property", err)
		}
		props = append(props, prop)
	}
	if err := rows.Err(); err != nil {
		return nil, nil, types.NewAppError(types.ErrCodeInternalDB, "failed to iterate properties", err)
	}

	page := &types.PageInfo{}
	if len(props) > limit {
		props = props[:limit]
		page.HasMore = true
		page.NextCursor = props[len(props)-1].ID
	}
	return props, page, nil
}

// CountByAgency returns the true number of live properties for an agency.
// The reconciliation auditor compares this against the cached counter.
func (r *PropertyRepository) CountByAgency(ctx context.Context, agencyID string) (int, error) {
	var count int
	err := r.db.QueryRow(ctx,
		`SELECT COUNT(*)
		 FROM properties
		 WHERE agency_id = $1 AND deleted_at IS NULL`,
		agencyID,
	).Scan(&count)
	if err != nil {
		return 0, types.NewAppError(types.ErrCodeInternalDB, "failed to count properties", err)
	}
	return count, nil
}
