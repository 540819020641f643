package db

import (
	"context"
	"log/slog"

	"github.com/jackc/pgx/v5"

	"homegrid/internal/billing"
	"homegrid/internal/types"
)

// LedgerDBImpl implements billing.LedgerDB over a pgx pool, binding the
// agency and property repositories to a shared transaction so the quota
// counter and the listing rows commit or roll back together.
type LedgerDBImpl struct {
	pool       TxBeginner
	agencies   *AgencyRepository
	properties *PropertyRepository
}

// NewLedgerDBImpl creates the transactional store used by the property ledger.
func NewLedgerDBImpl(pool TxBeginner, logger *slog.Logger) *LedgerDBImpl {
	return &LedgerDBImpl{
		pool:       pool,
		agencies:   NewAgencyRepository(nil, logger),
		properties: NewPropertyRepository(nil),
	}
}

// BeginTx starts a transaction and returns repositories bound to it.
func (l *LedgerDBImpl) BeginTx(ctx context.Context) (billing.LedgerTx, error) {
	tx, err := l.pool.Begin(ctx)
	if err != nil {
		return nil, err
	}
	return &ledgerTx{
		tx:         tx,
		agencies:   l.agencies.WithTx(tx),
		properties: l.properties.WithTx(tx),
	}, nil
}

type ledgerTx struct {
	tx         pgx.Tx
	agencies   *AgencyRepository
	properties *PropertyRepository
}

func (t *ledgerTx) ReserveProperty(ctx context.Context, agencyID string) (types.QuotaUsage, bool, error) {
	return t.agencies.ReserveProperty(ctx, agencyID)
}

func (t *ledgerTx) CreateProperty(ctx context.Context, prop *types.Property) error {
	return t.properties.Create(ctx, prop)
}

func (t *ledgerTx) SoftDeleteProperty(ctx context.Context, agencyID, id string) (bool, error) {
	return t.properties.SoftDelete(ctx, agencyID, id)
}

func (t *ledgerTx) ReleaseProperty(ctx context.Context, agencyID string) error {
	return t.agencies.ReleaseProperty(ctx, agencyID)
}

func (t *ledgerTx) Commit(ctx context.Context) error {
	return t.tx.Commit(ctx)
}

func (t *ledgerTx) Rollback(ctx context.Context) error {
	return t.tx.Rollback(ctx)
}
