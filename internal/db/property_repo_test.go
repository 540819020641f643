package db

import (
	"context"
	"errors"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"homegrid/internal/types"
)

func TestPropertyRepository_SoftDelete_Deleted(t *testing.T) {
	dbtx := new(mockDBTX)
	repo := NewPropertyRepository(dbtx)

	dbtx.On("Exec", mock.Anything, mock.AnythingOfType("string"), mock.Anything).
		Return(pgconn.NewCommandTag("UPDATE 1"), nil)

	deleted, err := repo.SoftDelete(context.Background(), "agc_1", "prop_1")
	require.NoError(t, err)
	assert.True(t, deleted)
}

func TestPropertyRepository_SoftDelete_AlreadyGone(t *testing.T) {
	dbtx := new(mockDBTX)
	repo := NewPropertyRepository(dbtx)

	// Already soft-deleted or never existed: no rows, no error. The caller
	// must not release quota for this.
	dbtx.On("Exec", mock.Anything, mock.AnythingOfType("string"), mock.Anything).
		Return(pgconn.NewCommandTag("UPDATE 0"), nil)

	deleted, err := repo.SoftDelete(context.Background(), "agc_1", "prop_gone")
	require.NoError(t, err)
	assert.False(t, deleted)
}

func TestPropertyRepository_GetByID_NotFound(t *testing.T) {
	dbtx := new(mockDBTX)
	repo := NewPropertyRepository(dbtx)

	dbtx.On("QueryRow", mock.Anything, mock.AnythingOfType("string"), mock.Anything).
		Return(&mockRow{scanErr: pgx.ErrNoRows})

	_, err := repo.GetByID(context.Background(), "agc_1", "prop_missing")
	require.Error(t, err)

	var appErr *types.AppError
	require.True(t, errors.As(err, &appErr))
	assert.Equal(t, types.ErrCodeNotFoundProperty, appErr.Code)
}

func TestPropertyRepository_GetByID_ScopedToAgency(t *testing.T) {
	dbtx := new(mockDBTX)
	repo := NewPropertyRepository(dbtx)

	var gotArgs []any
	dbtx.On("QueryRow", mock.Anything, mock.AnythingOfType("string"), mock.Anything).
		Run(func(args mock.Arguments) {
			gotArgs = args.Get(2).([]any)
		}).
		Return(&mockRow{scanErr: pgx.ErrNoRows})

	_, _ = repo.GetByID(context.Background(), "agc_other", "prop_1")

	// The owning agency is part of the lookup key, not a post-filter.
	require.Len(t, gotArgs, 2)
	assert.Equal(t, "prop_1", gotArgs[0])
	assert.Equal(t, "agc_other", gotArgs[1])
}

func TestPropertyRepository_CountByAgency(t *testing.T) {
	dbtx := new(mockDBTX)
	repo := NewPropertyRepository(dbtx)

	dbtx.On("QueryRow", mock.Anything, mock.AnythingOfType("string"), mock.Anything).
		Return(&mockRow{
			scanFn: func(dest ...any) error {
				*(dest[0].(*int)) = 17
				return nil
			},
		})

	count, err := repo.CountByAgency(context.Background(), "agc_1")
	require.NoError(t, err)
	assert.Equal(t, 17, count)
}
