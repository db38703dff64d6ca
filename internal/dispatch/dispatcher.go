// Package dispatch batches index repairs into bulk writes.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/dray-io/vacuum/internal/logging"
	"github.com/dray-io/vacuum/internal/materialize"
	"github.com/dray-io/vacuum/internal/metrics"
	"github.com/dray-io/vacuum/internal/search"
	"github.com/dray-io/vacuum/internal/store"
)

// Defaults.
const (
	DefaultBatchSize   = 10
	DefaultMaxInFlight = 2
)

// Config configures a Dispatcher.
type Config struct {
	// BatchSize is the number of documents per bulk request. Default: 10.
	BatchSize int

	// MaxInFlight bounds concurrent bulk requests. Default: 2.
	MaxInFlight int

	// PageSize bounds subtree paging during Reprocess. Default: 1000.
	PageSize int

	Logger  *logging.Logger
	Metrics *metrics.VacuumMetrics
}

// Stats summarizes the work of a Dispatcher.
type Stats struct {
	Batches     int
	Indexed     int
	FailedItems int
	Reprocessed int
	Skipped     int

	// LowestRejected is the lowest commit sequence among the documents the
	// index rejected. Only meaningful when FailedItems > 0.
	LowestRejected int64
}

// Dispatcher buffers index requests and writes them with bulk requests.
//
// A full batch is handed to its own goroutine and never touched again. Flush
// sends the partial batch; Join waits for every in-flight bulk request. Both
// must be called before a pass is reported finished.
type Dispatcher struct {
	index      search.Index
	store      store.Store
	mat        *materialize.Materializer
	partitions search.Partitions
	cfg        Config

	mu      sync.Mutex
	pending []search.IndexRequest
	slot    map[string]int
	errs    []error
	stats   Stats

	sem chan struct{}
	wg  sync.WaitGroup
}

// New creates a Dispatcher writing into partitions.
func New(index search.Index, st store.Store, mat *materialize.Materializer, partitions search.Partitions, cfg Config) *Dispatcher {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultBatchSize
	}
	if cfg.MaxInFlight <= 0 {
		cfg.MaxInFlight = DefaultMaxInFlight
	}
	if cfg.PageSize <= 0 {
		cfg.PageSize = store.DefaultPageSize
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.Nop()
	}
	return &Dispatcher{
		index:      index,
		store:      st,
		mat:        mat,
		partitions: partitions,
		cfg:        cfg,
		slot:       make(map[string]int),
		sem:        make(chan struct{}, cfg.MaxInFlight),
	}
}

// Index schedules obj for indexing.
func (d *Dispatcher) Index(ctx context.Context, obj *materialize.Object) error {
	req := search.IndexRequest{
		Partition: d.partitions.Route(obj.ID),
		ID:        obj.ID,
		Version:   obj.CommitSeq,
		ParentID:  obj.ParentID,
		Body:      obj.Body(),
	}

	d.mu.Lock()
	if i, ok := d.slot[obj.ID]; ok {
		d.pending[i] = req
		d.mu.Unlock()
		return nil
	}
	d.slot[obj.ID] = len(d.pending)
	d.pending = append(d.pending, req)
	var batch []search.IndexRequest
	if len(d.pending) >= d.cfg.BatchSize {
		batch = d.takeLocked()
	}
	d.mu.Unlock()

	if batch == nil {
		return nil
	}
	return d.send(ctx, batch)
}

// Reprocess schedules obj and every descendant. Descendants are
// materialized again so their ancestry-derived fields are recomputed.
func (d *Dispatcher) Reprocess(ctx context.Context, obj *materialize.Object) error {
	if err := d.Index(ctx, obj); err != nil {
		return err
	}

	frontier := []string{obj.ID}
	for len(frontier) > 0 {
		var next []string
		for start := 0; start < len(frontier); start += d.cfg.PageSize {
			batch := frontier[start:min(start+d.cfg.PageSize, len(frontier))]
			afterID := ""
			for {
				page, err := d.store.PageByParentIDs(ctx, batch, afterID, d.cfg.PageSize)
				if err != nil {
					return fmt.Errorf("dispatch: reprocess %s: %w", obj.ID, err)
				}
				if len(page) == 0 {
					break
				}
				afterID = page[len(page)-1].ID

				for _, rec := range page {
					next = append(next, rec.ID)
					if err := d.reprocessChild(ctx, rec); err != nil {
						return err
					}
				}
				if len(page) < d.cfg.PageSize {
					break
				}
			}
		}
		frontier = next
	}
	return nil
}

func (d *Dispatcher) reprocessChild(ctx context.Context, rec store.Record) error {
	child, err := d.mat.MaterializeRecord(ctx, rec)
	if err != nil {
		reason := ""
		switch {
		case errors.Is(err, materialize.ErrNotFound):
			reason = metrics.SkipNotFound
		case errors.Is(err, materialize.ErrMalformedRecord):
			reason = metrics.SkipMalformed
		default:
			return fmt.Errorf("dispatch: materialize %s: %w", rec.ID, err)
		}
		d.mu.Lock()
		d.stats.Skipped++
		d.mu.Unlock()
		d.cfg.Metrics.RecordSkipped(reason)
		d.cfg.Logger.Warnf("could not reprocess descendant", map[string]any{"id": rec.ID, "error": err})
		return nil
	}

	d.mu.Lock()
	d.stats.Reprocessed++
	d.mu.Unlock()
	return d.Index(ctx, child)
}

// Flush sends the partial batch, if any.
func (d *Dispatcher) Flush(ctx context.Context) error {
	d.mu.Lock()
	batch := d.takeLocked()
	d.mu.Unlock()
	if len(batch) == 0 {
		return nil
	}
	return d.send(ctx, batch)
}

// Join waits for every in-flight bulk request and returns their errors.
func (d *Dispatcher) Join() error {
	d.wg.Wait()

	d.mu.Lock()
	defer d.mu.Unlock()
	err := errors.Join(d.errs...)
	d.errs = nil
	return err
}

// Stats returns a snapshot of the dispatcher counters.
func (d *Dispatcher) Stats() Stats {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.stats
}

// Pending returns the number of buffered requests.
func (d *Dispatcher) Pending() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.pending)
}

func (d *Dispatcher) takeLocked() []search.IndexRequest {
	if len(d.pending) == 0 {
		return nil
	}
	batch := d.pending
	d.pending = nil
	clear(d.slot)
	return batch
}

// send waits for an in-flight slot and writes batch in the background.
func (d *Dispatcher) send(ctx context.Context, batch []search.IndexRequest) error {
	select {
	case d.sem <- struct{}{}:
	case <-ctx.Done():
		return fmt.Errorf("dispatch: %d documents not sent: %w", len(batch), ctx.Err())
	}

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		defer func() { <-d.sem }()
		d.write(ctx, batch)
	}()
	return nil
}

func (d *Dispatcher) write(ctx context.Context, batch []search.IndexRequest) {
	res, err := d.index.BulkIndex(ctx, batch)
	d.cfg.Metrics.RecordBulk(err, len(res.Failed))

	d.mu.Lock()
	defer d.mu.Unlock()
	d.stats.Batches++
	if err != nil {
		d.errs = append(d.errs, fmt.Errorf("dispatch: bulk index %d documents: %w", len(batch), err))
		d.cfg.Logger.Warnf("bulk index failed", map[string]any{"documents": len(batch), "error": err})
		return
	}
	d.stats.Indexed += res.Indexed
	if len(res.Failed) == 0 {
		return
	}
	versions := make(map[string]int64, len(batch))
	for _, req := range batch {
		versions[req.ID] = req.Version
	}
	for _, f := range res.Failed {
		// An id missing from the batch maps to 0.
		v := versions[f.ID]
		if d.stats.FailedItems == 0 || v < d.stats.LowestRejected {
			d.stats.LowestRejected = v
		}
		d.stats.FailedItems++
		d.cfg.Logger.Warnf("document rejected by index", map[string]any{
			"id":     f.ID,
			"status": f.Status,
			"reason": f.Reason,
		})
	}
}
