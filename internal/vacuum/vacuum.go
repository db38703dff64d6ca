// Package vacuum runs reconciliation passes over every scope of the store.
//
// A scope pass goes SETUP, then the orphan and staleness checks
// concurrently, then CHECKPOINT. Failures are contained at the scope
// boundary: a failed scope is logged and counted, and the other scopes carry
// on.
package vacuum

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/dray-io/vacuum/internal/checkpoint"
	"github.com/dray-io/vacuum/internal/lease"
	"github.com/dray-io/vacuum/internal/logging"
	"github.com/dray-io/vacuum/internal/materialize"
	"github.com/dray-io/vacuum/internal/metrics"
	"github.com/dray-io/vacuum/internal/report"
	"github.com/dray-io/vacuum/internal/search"
	"github.com/dray-io/vacuum/internal/store"
)

// DefaultSleep is the pause between continuous passes.
const DefaultSleep = 600 * time.Second

// Deps are the collaborators of a Vacuum. Leases, HotCache and Heartbeat are
// optional.
type Deps struct {
	Store       store.Store
	Index       search.Index
	Checkpoints checkpoint.Store
	Reporter    report.Reporter
	Metrics     *metrics.VacuumMetrics
	Leases      *lease.Manager
	HotCache    *materialize.HotCache
	Logger      *logging.Logger

	// Heartbeat is called after every pass of Run and Start.
	Heartbeat func()
}

// Config controls a Vacuum.
type Config struct {
	// Continuous makes Run loop until its context is cancelled.
	Continuous bool

	// Sleep is the pause between continuous passes. Default: 600s.
	Sleep time.Duration

	// PageSize is the page size of both scanners. Default: 1000.
	PageSize int

	// BulkSize and MaxInFlight configure the repair dispatcher.
	BulkSize    int
	MaxInFlight int

	// ScopeConcurrency bounds how many scopes are vacuumed at once. Default: 1.
	ScopeConcurrency int

	// ConfirmBeforeDelete re-checks orphans right before deleting them.
	ConfirmBeforeDelete bool

	// DropOrphanSubIndexes drops sub-indexes whose owner no longer exists.
	DropOrphanSubIndexes bool

	// ScopeCacheSize bounds the per-pass row cache of the materializer.
	ScopeCacheSize int
}

// RunResult summarizes one RunOnce.
type RunResult struct {
	Summaries []report.Summary
	Failed    []*ScopeError
	Skipped   []string
}

// Vacuum reconciles the index of every scope with the store.
type Vacuum struct {
	deps Deps
	cfg  Config

	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
	doneCh  chan struct{}
}

// New creates a Vacuum.
func New(deps Deps, cfg Config) (*Vacuum, error) {
	if deps.Store == nil {
		return nil, errors.New("vacuum: store is required")
	}
	if deps.Index == nil {
		return nil, errors.New("vacuum: index is required")
	}
	if deps.Checkpoints == nil {
		deps.Checkpoints = checkpoint.NewMemoryStore()
	}
	if deps.Logger == nil {
		deps.Logger = logging.Nop()
	}
	if deps.Reporter == nil {
		deps.Reporter = report.NewLogReporter(deps.Logger)
	}
	if deps.HotCache == nil {
		deps.HotCache = materialize.NewHotCache(materialize.DefaultHotCacheSize)
	}
	if cfg.Sleep <= 0 {
		cfg.Sleep = DefaultSleep
	}
	if cfg.PageSize <= 0 {
		cfg.PageSize = store.DefaultPageSize
	}
	if cfg.ScopeConcurrency <= 0 {
		cfg.ScopeConcurrency = 1
	}
	return &Vacuum{deps: deps, cfg: cfg}, nil
}

// RunOnce vacuums every scope once. Ordered paging, and so checkpointing,
// is only used when exactly one scope exists.
//
// Scope failures are reported in the result, not as the error; the error is
// reserved for failures to enumerate scopes and for ctx cancellation.
func (v *Vacuum) RunOnce(ctx context.Context) (RunResult, error) {
	scopes, err := v.scopes(ctx)
	if err != nil {
		return RunResult{}, err
	}
	ordered := len(scopes) == 1
	v.deps.Logger.Infof("Starting vacuum pass", map[string]any{
		"scopes":  len(scopes),
		"ordered": ordered,
	})

	var (
		mu  sync.Mutex
		res RunResult
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(v.cfg.ScopeConcurrency)
	for _, scopeID := range scopes {
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			summary, err := v.runScope(gctx, scopeID, ordered)
			mu.Lock()
			defer mu.Unlock()
			var scopeErr *ScopeError
			switch {
			case errors.Is(err, ErrLeaseHeld):
				res.Skipped = append(res.Skipped, scopeID)
			case errors.As(err, &scopeErr):
				res.Failed = append(res.Failed, scopeErr)
				res.Summaries = append(res.Summaries, summary)
			default:
				res.Summaries = append(res.Summaries, summary)
			}
			return nil
		})
	}
	_ = g.Wait()
	return res, ctx.Err()
}

// scopes lists the scopes to vacuum, without sentinels.
func (v *Vacuum) scopes(ctx context.Context) ([]string, error) {
	all, err := v.deps.Store.ListScopes(ctx)
	if err != nil {
		return nil, fmt.Errorf("vacuum: list scopes: %w", err)
	}
	scopes := make([]string, 0, len(all))
	for _, id := range all {
		if !store.IsSentinel(id) {
			scopes = append(scopes, id)
		}
	}
	return scopes, nil
}

// Run calls RunOnce, and keeps calling it every Sleep while Continuous,
// until ctx is cancelled.
func (v *Vacuum) Run(ctx context.Context) error {
	return v.loop(ctx, v.cfg.Continuous)
}

func (v *Vacuum) loop(ctx context.Context, continuous bool) error {
	for {
		res, err := v.RunOnce(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			v.deps.Logger.Errorf("Vacuum pass failed", map[string]any{"error": err.Error()})
		} else {
			v.deps.Logger.Infof("Vacuum pass finished", map[string]any{
				"scopes":  len(res.Summaries),
				"failed":  len(res.Failed),
				"skipped": len(res.Skipped),
			})
		}
		if v.deps.Heartbeat != nil {
			v.deps.Heartbeat()
		}
		if !continuous {
			return err
		}

		timer := time.NewTimer(v.cfg.Sleep)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil
		case <-timer.C:
		}
	}
}

// Start runs continuous passes in the background until Stop.
func (v *Vacuum) Start() {
	v.mu.Lock()
	if v.running {
		v.mu.Unlock()
		return
	}
	v.running = true
	v.stopCh = make(chan struct{})
	v.doneCh = make(chan struct{})
	v.mu.Unlock()

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		<-v.stopCh
		cancel()
	}()
	go func() {
		defer close(v.doneCh)
		_ = v.loop(ctx, true)
	}()
}

// Stop cancels the background passes and waits for them to return.
func (v *Vacuum) Stop() {
	v.mu.Lock()
	if !v.running {
		v.mu.Unlock()
		return
	}
	close(v.stopCh)
	v.mu.Unlock()

	<-v.doneCh

	v.mu.Lock()
	v.running = false
	v.mu.Unlock()
}
