package vacuum

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/dray-io/vacuum/internal/checkpoint"
	"github.com/dray-io/vacuum/internal/dispatch"
	"github.com/dray-io/vacuum/internal/logging"
	"github.com/dray-io/vacuum/internal/materialize"
	"github.com/dray-io/vacuum/internal/metrics"
	"github.com/dray-io/vacuum/internal/reconcile"
	"github.com/dray-io/vacuum/internal/report"
	"github.com/dray-io/vacuum/internal/scan"
	"github.com/dray-io/vacuum/internal/search"
	"github.com/dray-io/vacuum/internal/store"
)

// scopePass holds the state of one pass over one scope.
type scopePass struct {
	v       *Vacuum
	scopeID string
	ordered bool
	store   store.Store
	log     *logging.Logger

	stage      string
	partitions search.Partitions
	after      int64
}

// runScope runs one pass over scopeID. Errors and panics are contained
// here and returned as *ScopeError; ErrLeaseHeld means the scope was skipped.
func (v *Vacuum) runScope(ctx context.Context, scopeID string, ordered bool) (summary report.Summary, err error) {
	passID := uuid.NewString()
	log := v.deps.Logger.WithCorrelationID(passID).With(map[string]any{"scope": scopeID})
	ctx = logging.WithLoggerCtx(logging.WithPassIDCtx(ctx, passID), log)

	p := &scopePass{
		v:       v,
		scopeID: scopeID,
		ordered: ordered,
		store:   store.WithScopeLock(v.deps.Store),
		log:     log,
		stage:   StageSetup,
	}
	summary = report.Summary{
		PassID:    passID,
		ScopeID:   scopeID,
		Ordered:   ordered,
		StartedAt: time.Now().UTC(),
	}

	defer func() {
		if r := recover(); r != nil {
			err = &ScopeError{ScopeID: scopeID, Stage: p.stage, Err: &panicError{value: r}}
		}
		if errors.Is(err, ErrLeaseHeld) {
			v.deps.Metrics.RecordScopePass(metrics.ResultSkipped)
			return
		}
		p.finish(ctx, &summary, err)
	}()

	if v.deps.Leases != nil {
		res, err := v.deps.Leases.Acquire(ctx, scopeID, passID)
		if err != nil {
			return summary, p.fail(err)
		}
		if !res.Acquired {
			log.Infof("Scope is leased by another process, skipping", map[string]any{
				"holder": res.Lease.HolderID,
			})
			return summary, ErrLeaseHeld
		}
		defer func() {
			if err := v.deps.Leases.Release(context.WithoutCancel(ctx), scopeID); err != nil {
				log.Warnf("Failed to release scope lease", map[string]any{"error": err.Error()})
			}
		}()
	}

	if err := p.setup(ctx); err != nil {
		return summary, err
	}
	log.Infof("Vacuuming scope", map[string]any{
		"partitions": len(p.partitions.Names()),
		"ordered":    ordered,
		"after":      p.after,
	})

	seq, err := p.check(ctx, &summary)
	if err != nil {
		return summary, err
	}

	if err := p.checkpoint(ctx, seq); err != nil {
		return summary, err
	}
	summary.LastCommitSeq = seq

	if v.cfg.DropOrphanSubIndexes {
		p.stage = StageCleanup
		summary.DroppedSubIndexes = p.dropOrphanSubIndexes(ctx)
	}
	return summary, nil
}

func (p *scopePass) fail(err error) error {
	return &ScopeError{ScopeID: p.scopeID, Stage: p.stage, Err: err}
}

// setup prepares the store and index for the pass and loads the checkpoint.
func (p *scopePass) setup(ctx context.Context) error {
	p.stage = StageSetup
	deps := p.v.deps

	if err := p.store.EnsureScanIndex(ctx); err != nil && !errors.Is(err, store.ErrAlreadyExists) {
		return p.fail(fmt.Errorf("ensure scan index: %w", err))
	}

	parts, err := deps.Index.Partitions(ctx, p.scopeID)
	if err != nil {
		return p.fail(fmt.Errorf("resolve partitions: %w", err))
	}
	p.partitions, err = p.liveSubIndexes(ctx, parts)
	if err != nil {
		return p.fail(err)
	}

	for _, name := range p.partitions.Names() {
		err := deps.Index.EnsurePartitionAid(ctx, name)
		if err != nil && !errors.Is(err, search.ErrAlreadyExists) {
			p.log.Warnf("Failed to install partition aid", map[string]any{
				"partition": name,
				"error":     err.Error(),
			})
		}
	}

	if !p.ordered {
		return nil
	}
	cp, ok, err := deps.Checkpoints.Load(ctx, p.scopeID)
	if err != nil {
		return p.fail(fmt.Errorf("load checkpoint: %w", err))
	}
	if ok {
		p.after = cp.LastCommitSeq
	}
	return nil
}

// liveSubIndexes drops the sub-indexes whose owner is gone from parts.
func (p *scopePass) liveSubIndexes(ctx context.Context, parts search.Partitions) (search.Partitions, error) {
	if len(parts.Sub) == 0 {
		return parts, nil
	}
	live, err := p.liveOwners(ctx, parts.Sub)
	if err != nil {
		return parts, err
	}
	kept := make([]search.SubIndex, 0, len(parts.Sub))
	for _, sub := range parts.Sub {
		if _, ok := live[sub.OwnerID]; ok {
			kept = append(kept, sub)
		}
	}
	parts.Sub = kept
	return parts, nil
}

func (p *scopePass) liveOwners(ctx context.Context, subs []search.SubIndex) (map[string]struct{}, error) {
	owners := make([]string, 0, len(subs))
	for _, sub := range subs {
		owners = append(owners, sub.OwnerID)
	}
	live, err := p.store.ExistsByIDs(ctx, owners)
	if err != nil {
		return nil, fmt.Errorf("check sub-index owners: %w", err)
	}
	return live, nil
}

// check runs the orphan and staleness checks concurrently and returns the
// commit sequence reached by the staleness check.
func (p *scopePass) check(ctx context.Context, summary *report.Summary) (int64, error) {
	deps, cfg := p.v.deps, p.v.cfg

	mat := materialize.New(p.store, deps.HotCache, materialize.Config{ScopeCacheSize: cfg.ScopeCacheSize})
	primary := scan.NewPrimaryScanner(p.store, p.scopeID, p.ordered, p.after, cfg.PageSize)
	indexScan := scan.NewIndexScanner(deps.Index, p.partitions.Names(), scan.IndexConfig{
		PageSize: cfg.PageSize,
		Logger:   p.log,
		Metrics:  deps.Metrics,
	})
	dispatcher := dispatch.New(deps.Index, p.store, mat, p.partitions, dispatch.Config{
		BatchSize:   cfg.BulkSize,
		MaxInFlight: cfg.MaxInFlight,
		PageSize:    cfg.PageSize,
		Logger:      p.log,
		Metrics:     deps.Metrics,
	})
	orphans := reconcile.NewOrphanReconciler(p.store, deps.Index, reconcile.OrphanConfig{
		ConfirmBeforeDelete: cfg.ConfirmBeforeDelete,
		Logger:              p.log,
		Metrics:             deps.Metrics,
	})
	staleness := reconcile.NewStalenessReconciler(deps.Index, mat, dispatcher, p.partitions, reconcile.StalenessConfig{
		Logger:  p.log,
		Metrics: deps.Metrics,
	})

	var (
		orphanRes reconcile.OrphanResult
		staleRes  reconcile.StalenessResult
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(p.guard(StageOrphan, metrics.CheckOrphan, func() error {
		var err error
		orphanRes, err = orphans.Run(gctx, indexScan.Pages(gctx))
		return err
	}))
	g.Go(p.guard(StageStaleness, metrics.CheckStaleness, func() error {
		var err error
		staleRes, err = staleness.Run(gctx, primary.Pages(gctx))
		return err
	}))
	err := g.Wait()

	// Orphans have no row any more.
	for _, id := range orphanRes.Orphans {
		deps.HotCache.Invalidate(id)
	}

	summary.Orphaned = len(orphanRes.Orphans)
	summary.Missing = staleRes.Missing
	summary.OutOfDate = staleRes.OutOfDate
	summary.Misplaced = staleRes.Misplaced
	summary.Skipped = staleRes.Skipped
	summary.Rejected = staleRes.Rejected
	summary.DegradedPartitions = len(indexScan.Degraded())

	if err != nil {
		return 0, err
	}
	seq, _ := primary.Position()
	if staleRes.Rejected > 0 && staleRes.LowestRejected-1 < seq {
		p.log.Warnf("Holding checkpoint back for rejected documents", map[string]any{
			"rejected":     staleRes.Rejected,
			"scanned_seq":  seq,
			"resume_after": staleRes.LowestRejected - 1,
		})
		seq = staleRes.LowestRejected - 1
	}
	return seq, nil
}

// guard runs one check, timing it and turning errors and panics into
// *ScopeError for stage.
func (p *scopePass) guard(stage, check string, fn func() error) func() error {
	return func() (err error) {
		start := time.Now()
		defer func() {
			if r := recover(); r != nil {
				err = &panicError{value: r}
			}
			p.v.deps.Metrics.ObserveDuration(check, time.Since(start))
			if err != nil {
				err = &ScopeError{ScopeID: p.scopeID, Stage: stage, Err: err}
			}
		}()
		return fn()
	}
}

// checkpoint saves seq. Only ordered passes checkpoint.
func (p *scopePass) checkpoint(ctx context.Context, seq int64) error {
	if !p.ordered || seq <= 0 {
		return nil
	}
	p.stage = StageCheckpoint
	err := p.v.deps.Checkpoints.Save(ctx, checkpoint.Checkpoint{
		ScopeID:       p.scopeID,
		LastCommitSeq: seq,
	})
	if err != nil {
		return p.fail(fmt.Errorf("save checkpoint: %w", err))
	}
	p.v.deps.Metrics.RecordCheckpoint(p.scopeID, seq)
	return nil
}

// dropOrphanSubIndexes drops every installed sub-index whose owner no longer
// exists and returns how many were dropped. Failures are logged only.
func (p *scopePass) dropOrphanSubIndexes(ctx context.Context) int {
	installed, err := p.v.deps.Index.InstalledSubIndexes(ctx, p.scopeID)
	if err != nil {
		p.log.Warnf("Failed to list sub-indexes", map[string]any{"error": err.Error()})
		return 0
	}
	if len(installed) == 0 {
		return 0
	}
	live, err := p.liveOwners(ctx, installed)
	if err != nil {
		p.log.Warnf("Failed to check sub-index owners", map[string]any{"error": err.Error()})
		return 0
	}

	dropped := 0
	for _, sub := range installed {
		if _, ok := live[sub.OwnerID]; ok {
			continue
		}
		if err := p.v.deps.Index.DropIndex(ctx, sub.Index); err != nil {
			p.log.Warnf("Failed to drop orphan sub-index", map[string]any{
				"index": sub.Index,
				"owner": sub.OwnerID,
				"error": err.Error(),
			})
			continue
		}
		p.log.Infof("Dropped orphan sub-index", map[string]any{
			"index": sub.Index,
			"owner": sub.OwnerID,
		})
		dropped++
	}
	return dropped
}

// finish records the outcome of the pass and reports its summary.
func (p *scopePass) finish(ctx context.Context, summary *report.Summary, err error) {
	deps := p.v.deps
	summary.FinishedAt = time.Now().UTC()
	deps.Metrics.ObserveDuration(metrics.CheckPass, summary.Duration())

	if err != nil {
		summary.Failed = true
		summary.Error = err.Error()
		stage := p.stage
		var scopeErr *ScopeError
		if errors.As(err, &scopeErr) {
			stage = scopeErr.Stage
		}
		p.log.Errorf("Scope pass failed", map[string]any{
			"stage": stage,
			"error": err.Error(),
		})
		deps.Metrics.RecordScopePass(metrics.ResultFailure)
	} else {
		deps.Metrics.RecordScopePass(metrics.ResultSuccess)
	}

	if rerr := deps.Reporter.Report(context.WithoutCancel(ctx), *summary); rerr != nil {
		p.log.Warnf("Failed to report pass summary", map[string]any{"error": rerr.Error()})
	}
}
