// Package metrics provides Prometheus metrics for observability.
//
// This package exposes metrics for reconciliation passes:
//   - Orphans deleted and short deletes
//   - Repairs scheduled by kind (missing, out_of_date, misplaced)
//   - Objects skipped by reason (not_found, malformed)
//   - Bulk index requests and rejected items
//   - Scope pass results, check durations and checkpoints
//   - Metadata store operation latency
//
// Metrics are exposed via a dedicated HTTP server on /metrics in Prometheus format.
//
// Usage:
//
//	vacuumMetrics := metrics.NewVacuumMetrics()
//	orchestrator := vacuum.New(vacuum.Deps{..., Metrics: vacuumMetrics}, cfg)
//
//	metricsServer := metrics.NewServer(":9090")
//	metricsServer.Start()
package metrics
