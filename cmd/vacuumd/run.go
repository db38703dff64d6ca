package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/dray-io/vacuum/internal/config"
	"github.com/dray-io/vacuum/internal/health"
	"github.com/dray-io/vacuum/internal/logging"
	"github.com/dray-io/vacuum/internal/materialize"
	"github.com/dray-io/vacuum/internal/metrics"
	"github.com/dray-io/vacuum/internal/store"
	"github.com/dray-io/vacuum/internal/vacuum"
)

// RunOptions holds flags for the run command.
type RunOptions struct {
	*RootOptions
	Continuous bool
	Sleep      time.Duration
}

// NewRunCommand creates the run command.
func NewRunCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &RunOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Vacuum every scope",
		Long: `Vacuum every scope of the store once, or repeatedly with --continuous.

Each scope pass deletes index documents whose object is gone and reindexes
objects that are missing, out of date or misplaced in the index.

Example:
  vacuumd run --config /etc/vacuumd.yaml
  vacuumd run --continuous --sleep 10m`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runVacuum(cmd, opts)
		},
	}

	cmd.Flags().BoolVar(&opts.Continuous, "continuous", false, "keep vacuuming until interrupted")
	cmd.Flags().DurationVar(&opts.Sleep, "sleep", 0, "pause between continuous passes (default from config)")

	return cmd
}

func runVacuum(cmd *cobra.Command, opts *RunOptions) error {
	cfg, logger, err := opts.load()
	if err != nil {
		return err
	}
	if cmd.Flags().Changed("continuous") {
		cfg.Vacuum.Continuous = opts.Continuous
	}
	sleep := cfg.Vacuum.Sleep()
	if opts.Sleep > 0 {
		sleep = opts.Sleep
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	b, err := openBackends(ctx, cfg, logger, prometheus.DefaultRegisterer, need{
		store:    true,
		index:    true,
		leases:   true,
		reporter: true,
	})
	if err != nil {
		return err
	}
	defer func() {
		if err := b.Close(); err != nil {
			logger.Warnf("failed to close backends", map[string]any{"error": err.Error()})
		}
	}()

	probes := newHealthChecker(b)
	defer probes.SetShuttingDown()
	if cfg.Observability.MetricsAddr != "" {
		srv := metrics.NewServer(cfg.Observability.MetricsAddr).WithLogger(logger)
		srv.RegisterHandler("/healthz", probes.LivenessHandler())
		srv.RegisterHandler("/readyz", probes.ReadinessHandler())
		if err := srv.Start(); err != nil {
			return fmt.Errorf("failed to start metrics server: %w", err)
		}
		defer srv.Close()
		logger.Infof("metrics server listening", map[string]any{"addr": srv.Addr()})
	}

	v, err := vacuum.New(vacuum.Deps{
		Store:       b.store,
		Index:       b.index,
		Checkpoints: b.checkpoints,
		Reporter:    b.reporter,
		Metrics:     metrics.NewVacuumMetrics(),
		Leases:      b.leases,
		HotCache:    materialize.NewHotCache(cfg.Vacuum.HotCacheSize),
		Logger:      logger,
		Heartbeat:   func() { probes.Heartbeat(vacuumWorker) },
	}, vacuumConfig(cfg.Vacuum, sleep))
	if err != nil {
		return err
	}

	if cfg.Vacuum.Continuous {
		logger.Infof("vacuuming continuously", map[string]any{"sleep": sleep.String()})
		probes.RegisterWorker(vacuumWorker)
		err := v.Run(ctx)
		probes.UnregisterWorker(vacuumWorker)
		releaseLeases(b, logger)
		return err
	}

	res, err := v.RunOnce(ctx)
	releaseLeases(b, logger)
	if err != nil {
		return err
	}
	if len(res.Failed) > 0 {
		return &ExitError{
			Code: ExitScopeFailed,
			Err:  fmt.Errorf("%d of %d scope passes failed", len(res.Failed), len(res.Summaries)),
		}
	}
	return nil
}

func vacuumConfig(c config.VacuumConfig, sleep time.Duration) vacuum.Config {
	return vacuum.Config{
		Continuous:           c.Continuous,
		Sleep:                sleep,
		PageSize:             c.PageSize,
		BulkSize:             c.BulkSize,
		MaxInFlight:          c.MaxInFlight,
		ScopeConcurrency:     c.ScopeConcurrency,
		ConfirmBeforeDelete:  c.ConfirmBeforeDelete,
		DropOrphanSubIndexes: c.DropOrphanSubIndexes,
		ScopeCacheSize:       c.ScopeCacheSize,
	}
}

// vacuumWorker names the pass loop in /healthz.
const vacuumWorker = "vacuum"

// newHealthChecker probes every backend b opened.
func newHealthChecker(b *backends) *health.Checker {
	c := health.NewChecker()
	if b.store != nil {
		c.RegisterReadinessCheck(health.NewPingChecker("object_store", b.store))
	}
	if b.index != nil {
		c.RegisterReadinessCheck(health.NewPingChecker("search_index", b.index))
	}
	if b.meta != nil {
		c.RegisterReadinessCheck(health.NewMetadataChecker(b.meta))
	}
	return c
}

func releaseLeases(b *backends, logger *logging.Logger) {
	if b.leases == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := b.leases.ReleaseAll(ctx); err != nil {
		logger.Warnf("failed to release scope leases", map[string]any{"error": err.Error()})
	}
}

// scopeList returns the scopes of st without sentinels.
func scopeList(ctx context.Context, st store.Store) ([]string, error) {
	all, err := st.ListScopes(ctx)
	if err != nil {
		return nil, err
	}
	scopes := make([]string, 0, len(all))
	for _, id := range all {
		if !store.IsSentinel(id) {
			scopes = append(scopes, id)
		}
	}
	return scopes, nil
}
