package db

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"homegrid/internal/types"
)

// --- Mock DBTX ---

type mockDBTX struct {
	mock.Mock
}

func (m *mockDBTX) Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error) {
	args := m.Called(ctx, sql, arguments)
	return args.Get(0).(pgconn.CommandTag), args.Error(1)
}

func (m *mockDBTX) Query(ctx context.Context, sql string, arguments ...any) (pgx.Rows, error) {
	args := m.Called(ctx, sql, arguments)
	if r := args.Get(0); r != nil {
		return r.(pgx.Rows), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *mockDBTX) QueryRow(ctx context.Context, sql string, arguments ...any) pgx.Row {
	args := m.Called(ctx, sql, arguments)
	return args.Get(0).(pgx.Row)
}

// --- Mock Row ---

type mockRow struct {
	scanErr error
	scanFn  func(dest ...any) error
}

func (r *mockRow) Scan(dest ...any) error {
	if r.scanFn != nil {
		return r.scanFn(dest...)
	}
	return r.scanErr
}

// --- AgencyRepository Tests ---

func TestAgencyRepository_ApplyBillingState_Applied(t *testing.T) {
	dbtx := new(mockDBTX)
	repo := NewAgencyRepository(dbtx, nil)

	dbtx.On("Exec", mock.Anything, mock.AnythingOfType("string"), mock.Anything).
		Return(pgconn.NewCommandTag("UPDATE 1"), nil)

	applied, err := repo.ApplyBillingState(context.Background(), "agc_1", types.BillingState{
		Status:               types.SubStatusActive,
		Plan:                 types.PlanProfessional,
		PropertyLimit:        75,
		StripeSubscriptionID: "sub_123",
		IsActive:             true,
	}, time.Now().UTC())

	require.NoError(t, err)
	assert.True(t, applied)
	dbtx.AssertExpectations(t)
}

func TestAgencyRepository_ApplyBillingState_StaleEventIgnored(t *testing.T) {
	dbtx := new(mockDBTX)
	repo := NewAgencyRepository(dbtx, nil)

	// Zero rows: the stored subscription_updated_at is newer than the event.
	dbtx.On("Exec", mock.Anything, mock.AnythingOfType("string"), mock.Anything).
		Return(pgconn.NewCommandTag("UPDATE 0"), nil)

	applied, err := repo.ApplyBillingState(context.Background(), "agc_1", types.BillingState{
		Status: types.SubStatusActive,
		Plan:   types.PlanBasic,
	}, time.Now().Add(-time.Hour).UTC())

	require.NoError(t, err)
	assert.False(t, applied)
}

func TestAgencyRepository_ApplyBillingState_DBError(t *testing.T) {
	dbtx := new(mockDBTX)
	repo := NewAgencyRepository(dbtx, nil)

	dbtx.On("Exec", mock.Anything, mock.AnythingOfType("string"), mock.Anything).
		Return(pgconn.CommandTag{}, errors.New("connection reset"))

	_, err := repo.ApplyBillingState(context.Background(), "agc_1", types.BillingState{}, time.Now())
	require.Error(t, err)

	var appErr *types.AppError
	require.True(t, errors.As(err, &appErr))
	assert.Equal(t, types.ErrCodeInternalDB, appErr.Code)
}

func TestAgencyRepository_MarkPaymentFailed(t *testing.T) {
	dbtx := new(mockDBTX)
	repo := NewAgencyRepository(dbtx, nil)

	var gotArgs []any
	dbtx.On("Exec", mock.Anything, mock.AnythingOfType("string"), mock.Anything).
		Run(func(args mock.Arguments) {
			gotArgs = args.Get(2).([]any)
		}).
		Return(pgconn.NewCommandTag("UPDATE 1"), nil)

	applied, err := repo.MarkPaymentFailed(context.Background(), "agc_1", time.Now().UTC())
	require.NoError(t, err)
	assert.True(t, applied)

	// Only the status is written; plan and visibility stay untouched.
	require.Len(t, gotArgs, 3)
	assert.Equal(t, types.SubStatusPastDue, gotArgs[0])
	assert.Equal(t, "agc_1", gotArgs[2])
}

func TestAgencyRepository_UpdatePlan_Stale(t *testing.T) {
	dbtx := new(mockDBTX)
	repo := NewAgencyRepository(dbtx, nil)

	dbtx.On("Exec", mock.Anything, mock.AnythingOfType("string"), mock.Anything).
		Return(pgconn.NewCommandTag("UPDATE 0"), nil)

	applied, err := repo.UpdatePlan(context.Background(), "agc_1", types.PlanEnterprise, 200, time.Now())
	require.NoError(t, err)
	assert.False(t, applied)
}

func TestAgencyRepository_ReserveProperty_Success(t *testing.T) {
	dbtx := new(mockDBTX)
	repo := NewAgencyRepository(dbtx, nil)

	dbtx.On("QueryRow", mock.Anything, mock.AnythingOfType("string"), mock.Anything).
		Return(&mockRow{
			scanFn: func(dest ...any) error {
				*(dest[0].(*int)) = 5
				*(dest[1].(*int)) = 20
				return nil
			},
		}).Once()

	usage, reserved, err := repo.ReserveProperty(context.Background(), "agc_1")
	require.NoError(t, err)
	assert.True(t, reserved)
	assert.Equal(t, 5, usage.PropertyCount)
	assert.Equal(t, 20, usage.PropertyLimit)
}

func TestAgencyRepository_ReserveProperty_AtLimit(t *testing.T) {
	dbtx := new(mockDBTX)
	repo := NewAgencyRepository(dbtx, nil)

	// Conditional increment matches no rows.
	dbtx.On("QueryRow", mock.Anything, mock.AnythingOfType("string"), mock.Anything).
		Return(&mockRow{scanErr: pgx.ErrNoRows}).Once()
	// The follow-up read shows the agency sitting at its limit.
	dbtx.On("QueryRow", mock.Anything, mock.AnythingOfType("string"), mock.Anything).
		Return(&mockRow{
			scanFn: func(dest ...any) error {
				*(dest[0].(*int)) = 20
				*(dest[1].(*int)) = 20
				return nil
			},
		}).Once()

	usage, reserved, err := repo.ReserveProperty(context.Background(), "agc_1")
	require.NoError(t, err)
	assert.False(t, reserved)
	assert.Equal(t, 20, usage.PropertyCount)
	assert.Equal(t, 20, usage.PropertyLimit)
}

func TestAgencyRepository_ReserveProperty_AgencyNotFound(t *testing.T) {
	dbtx := new(mockDBTX)
	repo := NewAgencyRepository(dbtx, nil)

	dbtx.On("QueryRow", mock.Anything, mock.AnythingOfType("string"), mock.Anything).
		Return(&mockRow{scanErr: pgx.ErrNoRows}).Twice()

	_, _, err := repo.ReserveProperty(context.Background(), "agc_missing")
	require.Error(t, err)

	var appErr *types.AppError
	require.True(t, errors.As(err, &appErr))
	assert.Equal(t, types.ErrCodeNotFoundAgency, appErr.Code)
}

func TestAgencyRepository_ReleaseProperty_FlooredAtZero(t *testing.T) {
	dbtx := new(mockDBTX)
	repo := NewAgencyRepository(dbtx, nil)

	// Counter already zero: no rows affected, but not an error.
	dbtx.On("Exec", mock.Anything, mock.AnythingOfType("string"), mock.Anything).
		Return(pgconn.NewCommandTag("UPDATE 0"), nil)

	err := repo.ReleaseProperty(context.Background(), "agc_1")
	require.NoError(t, err)
}

func TestAgencyRepository_GetByStripeCustomerID_NotFound(t *testing.T) {
	dbtx := new(mockDBTX)
	repo := NewAgencyRepository(dbtx, nil)

	dbtx.On("QueryRow", mock.Anything, mock.AnythingOfType("string"), mock.Anything).
		Return(&mockRow{scanErr: pgx.ErrNoRows})

	_, err := repo.GetByStripeCustomerID(context.Background(), "cus_unknown")
	require.Error(t, err)

	var appErr *types.AppError
	require.True(t, errors.As(err, &appErr))
	assert.Equal(t, types.ErrCodeNotFoundAgency, appErr.Code)
}

func TestAgencyRepository_SetStripeCustomerID_Conflict(t *testing.T) {
	dbtx := new(mockDBTX)
	repo := NewAgencyRepository(dbtx, nil)

	// Zero rows: the agency is already linked to a different customer.
	dbtx.On("Exec", mock.Anything, mock.AnythingOfType("string"), mock.Anything).
		Return(pgconn.NewCommandTag("UPDATE 0"), nil)

	err := repo.SetStripeCustomerID(context.Background(), "agc_1", "cus_other")
	require.Error(t, err)

	var appErr *types.AppError
	require.True(t, errors.As(err, &appErr))
	assert.Equal(t, types.ErrCodeConflictDuplicate, appErr.Code)
}

func TestAgencyRepository_GetBillingInfo_NoCustomerYet(t *testing.T) {
	dbtx := new(mockDBTX)
	repo := NewAgencyRepository(dbtx, nil)

	dbtx.On("QueryRow", mock.Anything, mock.AnythingOfType("string"), mock.Anything).
		Return(&mockRow{
			scanFn: func(dest ...any) error {
				*(dest[0].(**string)) = nil
				*(dest[1].(*string)) = "owner@example.com"
				return nil
			},
		})

	customerID, email, err := repo.GetBillingInfo(context.Background(), "agc_1")
	require.NoError(t, err)
	assert.Empty(t, customerID)
	assert.Equal(t, "owner@example.com", email)
}
