package db

import (
	"context"
	"log/slog"

	"homegrid/internal/types"
)

// AuditorDBImpl implements billing.AuditorDB by composing the agency and
// property repositories over a single connection source.
type AuditorDBImpl struct {
	agencies   *AgencyRepository
	properties *PropertyRepository
}

// NewAuditorDBImpl creates the store used by the reconciliation auditor.
func NewAuditorDBImpl(db DBTX, logger *slog.Logger) *AuditorDBImpl {
	return &AuditorDBImpl{
		agencies:   NewAgencyRepository(db, logger),
		properties: NewPropertyRepository(db),
	}
}

func (a *AuditorDBImpl) ListQuotaCounters(ctx context.Context) ([]types.QuotaCounter, error) {
	return a.agencies.ListQuotaCounters(ctx)
}

func (a *AuditorDBImpl) CountProperties(ctx context.Context, agencyID string) (int, error) {
	return a.properties.CountByAgency(ctx, agencyID)
}

func (a *AuditorDBImpl) SetPropertyCount(ctx context.Context, agencyID string, count int) error {
	return a.agencies.SetPropertyCount(ctx, agencyID, count)
}
