package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"

	"github.com/dray-io/vacuum/internal/checkpoint"
	"github.com/dray-io/vacuum/internal/config"
	"github.com/dray-io/vacuum/internal/lease"
	"github.com/dray-io/vacuum/internal/logging"
	"github.com/dray-io/vacuum/internal/metadata"
	"github.com/dray-io/vacuum/internal/metadata/oxia"
	"github.com/dray-io/vacuum/internal/metrics"
	"github.com/dray-io/vacuum/internal/report"
	"github.com/dray-io/vacuum/internal/search/elastic"
	"github.com/dray-io/vacuum/internal/store/postgres"
)

// backends are the external systems a command talks to. Fields are nil when
// the configuration does not call for them.
type backends struct {
	store       *postgres.Store
	index       *elastic.Client
	meta        metadata.MetadataStore
	checkpoints checkpoint.Store
	leases      *lease.Manager
	reporter    report.Reporter

	closers []func() error
}

// need selects which backends to open.
type need struct {
	store    bool
	index    bool
	leases   bool
	reporter bool
}

// openBackends opens what n selects. On error every backend opened so far
// is closed again.
func openBackends(ctx context.Context, cfg *config.Config, logger *logging.Logger, reg prometheus.Registerer, n need) (*backends, error) {
	b := &backends{}
	if err := b.open(ctx, cfg, logger, reg, n); err != nil {
		_ = b.Close()
		return nil, err
	}
	return b, nil
}

func (b *backends) open(ctx context.Context, cfg *config.Config, logger *logging.Logger, reg prometheus.Registerer, n need) error {

	if n.store {
		st, err := postgres.New(ctx, postgres.Config{
			DSN:      cfg.Store.DSN,
			Table:    cfg.Store.Table,
			MaxConns: cfg.Store.MaxConns,
		})
		if err != nil {
			return fmt.Errorf("failed to open store: %w", err)
		}
		b.store = st
		b.closers = append(b.closers, func() error { st.Close(); return nil })
	}

	if n.index {
		idx, err := elastic.New(elastic.Config{
			Addresses:   cfg.Search.Addresses,
			Username:    cfg.Search.Username,
			Password:    cfg.Search.Password,
			APIKey:      cfg.Search.APIKey,
			IndexPrefix: cfg.Search.IndexPrefix,
		})
		if err != nil {
			return fmt.Errorf("failed to create search client: %w", err)
		}
		b.index = idx
	}

	useOxia := cfg.Checkpoint.Backend == config.CheckpointOxia || (n.leases && cfg.Lease.Enabled)
	if useOxia {
		ox, err := oxia.New(ctx, oxia.Config{
			ServiceAddress: cfg.Checkpoint.OxiaEndpoint,
			Namespace:      cfg.Checkpoint.OxiaNamespace,
			SessionTimeout: time.Duration(cfg.Lease.SessionTimeoutSeconds) * time.Second,
		})
		if err != nil {
			return fmt.Errorf("failed to connect to oxia: %w", err)
		}
		b.meta = metadata.NewInstrumentedStore(ox, metrics.NewMetadataMetricsWithRegistry(reg))
		b.closers = append(b.closers, b.meta.Close)
	}

	switch cfg.Checkpoint.Backend {
	case config.CheckpointOxia:
		b.checkpoints = checkpoint.NewMetadataStore(b.meta)
	case config.CheckpointRedis:
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Checkpoint.RedisAddr,
			Password: cfg.Checkpoint.RedisPassword,
			DB:       cfg.Checkpoint.RedisDB,
		})
		b.closers = append(b.closers, client.Close)
		b.checkpoints = checkpoint.NewRedisStore(client, cfg.Checkpoint.RedisHash)
	default:
		b.checkpoints = checkpoint.NewMemoryStore()
	}

	if n.leases && cfg.Lease.Enabled {
		b.leases = lease.NewManager(b.meta, "")
		logger.Infof("Scope leases enabled", map[string]any{"holder": b.leases.HolderID()})
	}

	if n.reporter {
		reporters := report.Multi{report.NewLogReporter(logger)}
		if len(cfg.Report.KafkaBrokers) > 0 {
			client, err := report.NewKafkaClient(cfg.Report.KafkaBrokers, cfg.Report.ClientID)
			if err != nil {
				return fmt.Errorf("failed to create kafka client: %w", err)
			}
			b.closers = append(b.closers, func() error { client.Close(); return nil })
			reporters = append(reporters, report.NewKafkaReporter(client, cfg.Report.KafkaTopic))
		}
		b.reporter = reporters
	}
	return nil
}

// Close releases every backend in reverse order of opening.
func (b *backends) Close() error {
	if b == nil {
		return nil
	}
	var errs []error
	for i := len(b.closers) - 1; i >= 0; i-- {
		if err := b.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	b.closers = nil
	return errors.Join(errs...)
}
