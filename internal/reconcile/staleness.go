package reconcile

import (
	"context"
	"errors"
	"fmt"
	"iter"

	"github.com/dray-io/vacuum/internal/dispatch"
	"github.com/dray-io/vacuum/internal/logging"
	"github.com/dray-io/vacuum/internal/materialize"
	"github.com/dray-io/vacuum/internal/metrics"
	"github.com/dray-io/vacuum/internal/search"
	"github.com/dray-io/vacuum/internal/store"
)

// StalenessConfig configures a StalenessReconciler.
type StalenessConfig struct {
	Logger  *logging.Logger
	Metrics *metrics.VacuumMetrics
}

// StalenessResult summarizes a staleness check.
type StalenessResult struct {
	Checked   int
	Missing   int
	OutOfDate int
	Misplaced int

	// Skipped counts records and reprocessed descendants that could not be
	// materialized.
	Skipped int

	// Rejected counts documents the index refused in a bulk request, and
	// LowestRejected is the lowest commit sequence among them.
	Rejected       int
	LowestRejected int64
}

// Repairs returns the number of scheduled repairs.
func (r StalenessResult) Repairs() int {
	return r.Missing + r.OutOfDate + r.Misplaced
}

// StalenessReconciler classifies store records against the index and hands
// repairs to a Dispatcher. It never writes to the index itself.
type StalenessReconciler struct {
	index      search.Index
	mat        *materialize.Materializer
	dispatcher *dispatch.Dispatcher
	partitions search.Partitions
	cfg        StalenessConfig
}

// NewStalenessReconciler creates a StalenessReconciler.
func NewStalenessReconciler(index search.Index, mat *materialize.Materializer, d *dispatch.Dispatcher, partitions search.Partitions, cfg StalenessConfig) *StalenessReconciler {
	if cfg.Logger == nil {
		cfg.Logger = logging.Nop()
	}
	return &StalenessReconciler{
		index:      index,
		mat:        mat,
		dispatcher: d,
		partitions: partitions,
		cfg:        cfg,
	}
}

// Run checks every page. Whatever happens, the dispatcher is flushed and
// joined before Run returns, and a failed bulk write fails the check.
// Documents rejected individually do not fail the check; they are counted in
// the result so the caller can hold its checkpoint back.
func (r *StalenessReconciler) Run(ctx context.Context, pages iter.Seq2[[]store.Record, error]) (StalenessResult, error) {
	var res StalenessResult
	runErr := r.run(ctx, pages, &res)

	var flushErr error
	if runErr == nil {
		flushErr = r.dispatcher.Flush(ctx)
	}
	joinErr := r.dispatcher.Join()

	stats := r.dispatcher.Stats()
	res.Skipped += stats.Skipped
	res.Rejected = stats.FailedItems
	res.LowestRejected = stats.LowestRejected

	if err := errors.Join(runErr, flushErr, joinErr); err != nil {
		return res, err
	}
	return res, nil
}

func (r *StalenessReconciler) run(ctx context.Context, pages iter.Seq2[[]store.Record, error], res *StalenessResult) error {
	for page, err := range pages {
		if err != nil {
			return fmt.Errorf("reconcile: page store: %w", err)
		}
		if err := r.checkPage(ctx, page, res); err != nil {
			return err
		}
	}
	return nil
}

func (r *StalenessReconciler) checkPage(ctx context.Context, page []store.Record, res *StalenessResult) error {
	ids := make([]string, len(page))
	for i, rec := range page {
		ids[i] = rec.ID
	}
	docs, err := r.index.SearchByIDs(ctx, r.partitions.ForIDs(ids), ids)
	if err != nil {
		return fmt.Errorf("reconcile: search %d ids: %w", len(ids), err)
	}
	byID := latestByID(docs)

	for _, rec := range page {
		res.Checked++
		doc, found := byID[rec.ID]
		class := Classify(rec, doc, found)
		if class == Consistent {
			continue
		}
		if err := r.repair(ctx, rec, class, res); err != nil {
			return err
		}
	}
	return nil
}

func (r *StalenessReconciler) repair(ctx context.Context, rec store.Record, class Classification, res *StalenessResult) error {
	obj, err := r.mat.MaterializeRecord(ctx, rec)
	if err != nil {
		reason := ""
		switch {
		case errors.Is(err, materialize.ErrNotFound):
			reason = metrics.SkipNotFound
		case errors.Is(err, materialize.ErrMalformedRecord):
			reason = metrics.SkipMalformed
		default:
			return fmt.Errorf("reconcile: materialize %s: %w", rec.ID, err)
		}
		res.Skipped++
		r.cfg.Metrics.RecordSkipped(reason)
		r.cfg.Logger.Warnf("skipping object", map[string]any{
			"id":     rec.ID,
			"reason": reason,
			"error":  err,
		})
		return nil
	}

	switch class {
	case Missing:
		res.Missing++
		r.cfg.Metrics.RecordRepair(metrics.RepairMissing)
		return r.dispatcher.Index(ctx, obj)
	case OutOfDate:
		res.OutOfDate++
		r.cfg.Metrics.RecordRepair(metrics.RepairOutOfDate)
		return r.dispatcher.Index(ctx, obj)
	case Misplaced:
		res.Misplaced++
		r.cfg.Metrics.RecordRepair(metrics.RepairMisplaced)
		r.cfg.Logger.Debugf("object misplaced, reprocessing subtree", map[string]any{
			"id":     rec.ID,
			"parent": rec.ParentID,
		})
		return r.dispatcher.Reprocess(ctx, obj)
	}
	return nil
}
