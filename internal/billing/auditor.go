package billing

import (
	"context"
	"log/slog"
	"sort"

	"golang.org/x/sync/errgroup"

	"homegrid/internal/types"
)

// AuditorDB defines the database operations needed by the reconciliation
// Auditor.
type AuditorDB interface {
	// ListQuotaCounters returns every live agency's cached property counter.
	ListQuotaCounters(ctx context.Context) ([]types.QuotaCounter, error)

	// CountProperties returns the true number of live listings for an agency.
	CountProperties(ctx context.Context, agencyID string) (int, error)

	// SetPropertyCount overwrites the cached counter with the audited count.
	SetPropertyCount(ctx context.Context, agencyID string, count int) error
}

// Auditor detects drift between cached property counters and true row
// counts. The transactional create/delete path should keep them equal;
// the auditor is the safety net that catches anything that slips through
// (manual data surgery, bugs, restored backups).
type Auditor struct {
	db          AuditorDB
	concurrency int
	logger      *slog.Logger
}

// NewAuditor creates a reconciliation Auditor. concurrency bounds the number
// of per-agency count queries in flight; values below 1 are clamped to 1.
func NewAuditor(db AuditorDB, concurrency int, logger *slog.Logger) *Auditor {
	if concurrency < 1 {
		concurrency = 1
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Auditor{db: db, concurrency: concurrency, logger: logger}
}

// Scan compares every agency's cached counter against the true listing count
// and returns a report for each mismatch, ordered by agency ID. Scan never
// mutates anything; pass the reports to Fix to repair drift.
func (a *Auditor) Scan(ctx context.Context) ([]types.DriftReport, error) {
	counters, err := a.db.ListQuotaCounters(ctx)
	if err != nil {
		return nil, err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(a.concurrency)

	reports := make([]types.DriftReport, len(counters))
	drifted := make([]bool, len(counters))

	for i, counter := range counters {
		i, counter := i, counter
		g.Go(func() error {
			actual, err := a.db.CountProperties(gctx, counter.AgencyID)
			if err != nil {
				return err
			}
			if actual != counter.PropertyCount {
				reports[i] = types.DriftReport{
					AgencyID:    counter.AgencyID,
					CachedCount: counter.PropertyCount,
					ActualCount: actual,
				}
				drifted[i] = true
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	var out []types.DriftReport
	for i, hit := range drifted {
		if hit {
			out = append(out, reports[i])
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].AgencyID < out[j].AgencyID })

	for _, r := range out {
		a.logger.Warn("property counter drift detected",
			slog.String("agency_id", r.AgencyID),
			slog.Int("cached_count", r.CachedCount),
			slog.Int("actual_count", r.ActualCount),
		)
	}
	return out, nil
}

// Fix overwrites each drifted agency's cached counter with the audited true
// count. Fixes are applied sequentially; a failure stops the pass and returns
// how many agencies were repaired before it.
func (a *Auditor) Fix(ctx context.Context, reports []types.DriftReport) (int, error) {
	fixed := 0
	for _, r := range reports {
		if err := a.db.SetPropertyCount(ctx, r.AgencyID, r.ActualCount); err != nil {
			return fixed, err
		}
		fixed++
		a.logger.Info("property counter repaired",
			slog.String("agency_id", r.AgencyID),
			slog.Int("old_count", r.CachedCount),
			slog.Int("new_count", r.ActualCount),
		)
	}
	return fixed, nil
}
