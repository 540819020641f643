package db

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"

	"homegrid/internal/types"
)

// UserRepository provides data access for the users table.
type UserRepository struct {
	db DBTX
}

// NewUserRepository creates a new UserRepository backed by the given database
// connection (pool or transaction).
func NewUserRepository(db DBTX) *UserRepository {
	return &UserRepository{db: db}
}

const userColumns = `u.id, u.email, u.stripe_customer_id, u.stripe_subscription_id,
	u.created_at, u.updated_at`

func scanUser(row pgx.Row) (*types.User, error) {
	var u types.User
	var customerID, subscriptionID *string

	err := row.Scan(
		&u.ID,
		&u.Email,
		&customerID,
		&subscriptionID,
		&u.CreatedAt,
		&u.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if customerID != nil {
		u.StripeCustomerID = *customerID
	}
	if subscriptionID != nil {
		u.StripeSubscriptionID = *subscriptionID
	}
	return &u, nil
}

// Create inserts a new user record. The caller must set the ID (prefixed
// UUID, e.g. "usr_...") before calling.
func (r *UserRepository) Create(ctx context.Context, user *types.User) error {
	_, err := r.db.Exec(ctx,
		`INSERT INTO users (id, email, created_at, updated_at)
		 VALUES ($1, $2, COALESCE($3, NOW()), COALESCE($4, NOW()))`,
		user.ID,
		user.Email,
		nilIfZeroTime(user.CreatedAt),
		nilIfZeroTime(user.UpdatedAt),
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to create user", err)
	}
	return nil
}

// GetByID retrieves a user by ID.
func (r *UserRepository) GetByID(ctx context.Context, id string) (*types.User, error) {
	row := r.db.QueryRow(ctx,
		`SELECT `+userColumns+`
		 FROM users u
		 WHERE u.id = $1`,
		id,
	)

	user, err := scanUser(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, types.NewAppError(types.ErrCodeNotFoundUser, "user not found", nil)
		}
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to retrieve user", err)
	}
	return user, nil
}

// UpdateStripeRefs propagates provider customer and subscription references to
// the user row. Called by the webhook state machine on successful payment so
// the user record mirrors the agency's billing identity.
func (r *UserRepository) UpdateStripeRefs(ctx context.Context, userID, customerID, subscriptionID string) error {
	tag, err := r.db.Exec(ctx,
		`UPDATE users
		 SET stripe_customer_id = $1,
		     stripe_subscription_id = $2,
		     updated_at = NOW()
		 WHERE id = $3`,
		nilIfEmpty(customerID),
		nilIfEmpty(subscriptionID),
		userID,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to update user billing refs", err)
	}
	if tag.RowsAffected() == 0 {
		return types.NewAppError(types.ErrCodeNotFoundUser, "user not found", nil)
	}
	return nil
}
