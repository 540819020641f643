// Package main implements the reconcile CLI tool for the HomeGrid platform.
//
// The transactional property path keeps each agency's cached property counter
// in lockstep with its live listing rows; this tool is the safety net. It
// scans every agency, compares the cached counter against the true row
// count, and reports any drift. By default it only reports; pass -fix to
// overwrite drifted counters with the audited counts.
//
// Usage:
//
//	go run ./cmd/ops/reconcile
//	go run ./cmd/ops/reconcile -fix
//	go run ./cmd/ops/reconcile -concurrency=16
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"time"

	"homegrid/internal/billing"
	"homegrid/internal/config"
	"homegrid/internal/db"
)

func main() {
	fix := flag.Bool("fix", false, "repair drifted counters instead of only reporting them")
	concurrency := flag.Int("concurrency", 8, "number of per-agency count queries in flight")
	timeout := flag.Duration("timeout", 5*time.Minute, "overall deadline for the reconciliation pass")
	flag.Parse()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))

	if err := run(logger, *fix, *concurrency, *timeout); err != nil {
		logger.Error("reconciliation failed", "error", err)
		os.Exit(1)
	}
}

func run(logger *slog.Logger, fix bool, concurrency int, timeout time.Duration) error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	pool, err := db.NewPool(ctx, cfg.Database)
	if err != nil {
		return fmt.Errorf("connecting database: %w", err)
	}
	defer pool.Close()

	auditor := billing.NewAuditor(db.NewAuditorDBImpl(pool, logger), concurrency, logger)

	reports, err := auditor.Scan(ctx)
	if err != nil {
		return fmt.Errorf("scanning for drift: %w", err)
	}

	if len(reports) == 0 {
		logger.Info("no counter drift detected")
		return nil
	}

	for _, r := range reports {
		fmt.Printf("agency=%s cached=%d actual=%d drift=%+d\n",
			r.AgencyID, r.CachedCount, r.ActualCount, r.Drift())
	}

	if !fix {
		logger.Info("drift detected; re-run with -fix to repair",
			"drifted_agencies", len(reports),
		)
		return nil
	}

	fixed, err := auditor.Fix(ctx, reports)
	if err != nil {
		return fmt.Errorf("repairing counters (fixed %d of %d): %w", fixed, len(reports), err)
	}
	logger.Info("counters repaired", "fixed", fixed)
	return nil
}
