package reconcile

import (
	"context"
	"fmt"
	"iter"

	"github.com/dray-io/vacuum/internal/logging"
	"github.com/dray-io/vacuum/internal/metrics"
	"github.com/dray-io/vacuum/internal/scan"
	"github.com/dray-io/vacuum/internal/search"
	"github.com/dray-io/vacuum/internal/store"
)

// DefaultProgressEvery is the number of checked ids between progress logs.
const DefaultProgressEvery = 10000

// OrphanConfig configures an OrphanReconciler.
type OrphanConfig struct {
	// ConfirmBeforeDelete runs a second existence check on the orphans of a
	// page right before deleting them. Ids that reappeared are kept.
	ConfirmBeforeDelete bool

	// ProgressEvery is the number of checked ids between progress logs.
	// Default: 10000.
	ProgressEvery int

	Logger  *logging.Logger
	Metrics *metrics.VacuumMetrics
}

// OrphanResult summarizes an orphan check.
type OrphanResult struct {
	Checked    int
	Orphans    []string
	Deleted    int
	Mismatches int

	// Rescued counts orphans that reappeared in the store before deletion.
	Rescued int
}

// OrphanReconciler deletes index documents whose object is gone from the
// store. A page of ids is never deleted from before the existence check of
// that whole page has returned.
type OrphanReconciler struct {
	store store.Store
	index search.Index
	cfg   OrphanConfig
}

// NewOrphanReconciler creates an OrphanReconciler.
func NewOrphanReconciler(st store.Store, index search.Index, cfg OrphanConfig) *OrphanReconciler {
	if cfg.ProgressEvery <= 0 {
		cfg.ProgressEvery = DefaultProgressEvery
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.Nop()
	}
	return &OrphanReconciler{store: st, index: index, cfg: cfg}
}

// Run checks every page and returns the accumulated result. The first store
// or delete error ends the check.
func (r *OrphanReconciler) Run(ctx context.Context, pages iter.Seq2[scan.IndexPage, error]) (OrphanResult, error) {
	var res OrphanResult
	nextProgress := r.cfg.ProgressEvery

	for page, err := range pages {
		if err != nil {
			return res, fmt.Errorf("reconcile: scroll index: %w", err)
		}
		orphans, deleted, rescued, err := r.checkPage(ctx, page)
		if err != nil {
			return res, err
		}
		res.Rescued += rescued

		res.Checked += len(page.IDs)
		res.Orphans = append(res.Orphans, orphans...)
		res.Deleted += deleted
		if deleted != len(orphans) {
			res.Mismatches++
		}

		if res.Checked >= nextProgress {
			r.cfg.Logger.Infof("orphan check progress", map[string]any{
				"checked": res.Checked,
				"orphans": len(res.Orphans),
			})
			for nextProgress <= res.Checked {
				nextProgress += r.cfg.ProgressEvery
			}
		}
	}
	return res, nil
}

// checkPage deletes the orphans of one page and returns them with the number
// of documents the index reported deleted.
func (r *OrphanReconciler) checkPage(ctx context.Context, page scan.IndexPage) ([]string, int, int, error) {
	orphans, err := r.missingFromStore(ctx, page.IDs)
	if err != nil {
		return nil, 0, 0, err
	}
	rescued := 0
	if len(orphans) > 0 && r.cfg.ConfirmBeforeDelete {
		confirmed, err := r.missingFromStore(ctx, orphans)
		if err != nil {
			return nil, 0, 0, err
		}
		rescued = len(orphans) - len(confirmed)
		orphans = confirmed
	}
	if len(orphans) == 0 {
		return nil, 0, rescued, nil
	}

	deleted, err := r.index.DeleteByIDs(ctx, page.Partition, orphans)
	if err != nil {
		return nil, 0, rescued, fmt.Errorf("reconcile: delete %d orphans from %s: %w", len(orphans), page.Partition, err)
	}
	r.cfg.Metrics.RecordOrphansDeleted(deleted)
	if deleted != len(orphans) {
		r.cfg.Metrics.RecordDeleteMismatch()
		r.cfg.Logger.Warnf("deleted count does not match orphan count", map[string]any{
			"partition": page.Partition,
			"orphans":   len(orphans),
			"deleted":   deleted,
		})
	}
	return orphans, deleted, rescued, nil
}

func (r *OrphanReconciler) missingFromStore(ctx context.Context, ids []string) ([]string, error) {
	found, err := r.store.ExistsByIDs(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("reconcile: check existence of %d ids: %w", len(ids), err)
	}
	var missing []string
	for _, id := range ids {
		if _, ok := found[id]; !ok {
			missing = append(missing, id)
		}
	}
	return missing, nil
}
