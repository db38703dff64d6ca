package scan

import (
	"context"
	"errors"
	"iter"
	"sync"
	"time"

	"github.com/dray-io/vacuum/internal/logging"
	"github.com/dray-io/vacuum/internal/metrics"
	"github.com/dray-io/vacuum/internal/search"
)

// IndexPage is one page of ids scrolled from a partition.
type IndexPage struct {
	Partition string
	IDs       []string
}

// IndexConfig configures an IndexScanner.
type IndexConfig struct {
	// PageSize is the scroll page size. Default: 1000.
	PageSize int

	// InitialKeepAlive is the keep-alive of a new scroll. Default: 15m.
	InitialKeepAlive time.Duration

	// RenewKeepAlive is the keep-alive requested with every page. Default: 5m.
	RenewKeepAlive time.Duration

	Logger  *logging.Logger
	Metrics *metrics.VacuumMetrics
}

// IndexScanner scrolls every id of a list of partitions, one partition at a
// time.
//
// A partition that does not exist is skipped. A transient failure of a
// scroll continuation ends that partition early; the partition is reported
// as degraded and the scan moves on to the next one. Any other continuation
// error ends the scan.
type IndexScanner struct {
	index      search.Index
	partitions []string
	cfg        IndexConfig

	mu       sync.Mutex
	degraded []string
	scanned  int
}

// NewIndexScanner creates a scanner over partitions.
func NewIndexScanner(index search.Index, partitions []string, cfg IndexConfig) *IndexScanner {
	if cfg.PageSize <= 0 {
		cfg.PageSize = search.DefaultScrollSize
	}
	if cfg.InitialKeepAlive <= 0 {
		cfg.InitialKeepAlive = search.DefaultInitialKeepAlive
	}
	if cfg.RenewKeepAlive <= 0 {
		cfg.RenewKeepAlive = search.DefaultRenewKeepAlive
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.Nop()
	}
	return &IndexScanner{index: index, partitions: partitions, cfg: cfg}
}

// Degraded returns the partitions whose scroll ended early.
func (s *IndexScanner) Degraded() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.degraded...)
}

// Scanned returns the number of ids yielded so far.
func (s *IndexScanner) Scanned() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.scanned
}

// Pages yields non-empty pages of ids. Errors opening a scroll, other than a
// missing partition, end the sequence.
func (s *IndexScanner) Pages(ctx context.Context) iter.Seq2[IndexPage, error] {
	return func(yield func(IndexPage, error) bool) {
		for _, partition := range s.partitions {
			if !s.scrollPartition(ctx, partition, yield) {
				return
			}
		}
	}
}

// scrollPartition returns false when the whole scan must stop.
func (s *IndexScanner) scrollPartition(ctx context.Context, partition string, yield func(IndexPage, error) bool) bool {
	page, err := s.index.OpenScroll(ctx, partition, s.cfg.PageSize, s.cfg.InitialKeepAlive)
	if err != nil {
		if errors.Is(err, search.ErrIndexNotFound) {
			s.cfg.Logger.Warnf("partition not found, skipping", map[string]any{"partition": partition})
			return true
		}
		yield(IndexPage{}, err)
		return false
	}

	scrollID := page.ScrollID
	defer func() { s.clear(ctx, scrollID, partition) }()

	for len(page.IDs) > 0 {
		s.mu.Lock()
		s.scanned += len(page.IDs)
		s.mu.Unlock()

		if !yield(IndexPage{Partition: partition, IDs: page.IDs}, nil) {
			return false
		}
		if err := ctx.Err(); err != nil {
			yield(IndexPage{}, err)
			return false
		}

		page, err = s.index.ContinueScroll(ctx, scrollID, s.cfg.RenewKeepAlive)
		if err != nil {
			if ctx.Err() != nil {
				yield(IndexPage{}, ctx.Err())
				return false
			}
			if !search.IsTransient(err) {
				yield(IndexPage{}, err)
				return false
			}
			s.markDegraded(partition, err)
			return true
		}
		if page.ScrollID != "" {
			scrollID = page.ScrollID
		}
	}
	return true
}

func (s *IndexScanner) markDegraded(partition string, err error) {
	s.mu.Lock()
	s.degraded = append(s.degraded, partition)
	s.mu.Unlock()

	s.cfg.Metrics.RecordDegradedPartition()
	s.cfg.Logger.Warnf("scroll ended early, partition will be retried next pass", map[string]any{
		"partition": partition,
		"error":     err,
	})
}

func (s *IndexScanner) clear(ctx context.Context, scrollID, partition string) {
	if scrollID == "" {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()
	if err := s.index.ClearScroll(ctx, scrollID); err != nil {
		s.cfg.Logger.Debugf("failed to clear scroll", map[string]any{"partition": partition, "error": err})
	}
}
