package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Repair kind label values.
const (
	RepairMissing   = "missing"
	RepairOutOfDate = "out_of_date"
	RepairMisplaced = "misplaced"
)

// Skip reason label values.
const (
	SkipNotFound  = "not_found"
	SkipMalformed = "malformed"
)

// Result label values.
const (
	ResultSuccess = "success"
	ResultFailure = "failure"
	ResultSkipped = "skipped"
)

// Check label values.
const (
	CheckOrphan    = "orphan"
	CheckStaleness = "staleness"
	CheckPass      = "pass"
)

// DefaultPassDurationBuckets cover passes from a second to several hours.
var DefaultPassDurationBuckets = []float64{1, 5, 15, 30, 60, 120, 300, 600, 1800, 3600, 7200, 14400}

// VacuumMetrics holds metrics related to reconciliation passes.
//
// All Record methods are safe to call on a nil receiver.
type VacuumMetrics struct {
	// OrphansDeleted counts ids removed from the index because the store has no row.
	OrphansDeleted prometheus.Counter

	// DeleteMismatch counts delete calls that removed fewer ids than requested.
	DeleteMismatch prometheus.Counter

	// RepairsScheduled counts repairs handed to the dispatcher.
	// Labels: kind (missing, out_of_date, misplaced)
	RepairsScheduled *prometheus.CounterVec

	// Skipped counts objects that could not be materialized.
	// Labels: reason (not_found, malformed)
	Skipped *prometheus.CounterVec

	// DegradedPartitions counts partition scrolls terminated early.
	DegradedPartitions prometheus.Counter

	// BulkRequests counts bulk index requests.
	// Labels: result (success, failure)
	BulkRequests *prometheus.CounterVec

	// BulkItemFailures counts documents rejected inside successful bulk requests.
	BulkItemFailures prometheus.Counter

	// ScopePasses counts finished scope passes.
	// Labels: result (success, failure, skipped)
	ScopePasses *prometheus.CounterVec

	// PassDuration tracks check and pass durations.
	// Labels: check (orphan, staleness, pass)
	PassDuration *prometheus.HistogramVec

	// CheckpointCommitSeq is the last committed checkpoint per scope.
	CheckpointCommitSeq *prometheus.GaugeVec
}

// NewVacuumMetrics creates and registers vacuum metrics.
// Uses promauto for automatic registration with the default registry.
func NewVacuumMetrics() *VacuumMetrics {
	return newVacuumMetrics(promauto.With(prometheus.DefaultRegisterer))
}

// NewVacuumMetricsWithRegistry creates vacuum metrics registered with a custom registry.
// Useful for testing to avoid conflicts with the default registry.
func NewVacuumMetricsWithRegistry(reg prometheus.Registerer) *VacuumMetrics {
	return newVacuumMetrics(promauto.With(reg))
}

func newVacuumMetrics(f promauto.Factory) *VacuumMetrics {
	return &VacuumMetrics{
		OrphansDeleted: f.NewCounter(prometheus.CounterOpts{
			Namespace: "vacuum",
			Name:      "orphans_deleted_total",
			Help:      "Total number of orphaned documents deleted from the index.",
		}),
		DeleteMismatch: f.NewCounter(prometheus.CounterOpts{
			Namespace: "vacuum",
			Name:      "delete_mismatch_total",
			Help:      "Total number of delete requests that removed fewer documents than requested.",
		}),
		RepairsScheduled: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "vacuum",
			Name:      "repairs_scheduled_total",
			Help:      "Total number of repairs scheduled, broken down by kind.",
		}, []string{"kind"}),
		Skipped: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "vacuum",
			Name:      "skipped_total",
			Help:      "Total number of objects skipped during repair, broken down by reason.",
		}, []string{"reason"}),
		DegradedPartitions: f.NewCounter(prometheus.CounterOpts{
			Namespace: "vacuum",
			Name:      "degraded_partitions_total",
			Help:      "Total number of partition scrolls terminated early by a transport failure.",
		}),
		BulkRequests: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "vacuum",
			Name:      "bulk_requests_total",
			Help:      "Total number of bulk index requests, broken down by result.",
		}, []string{"result"}),
		BulkItemFailures: f.NewCounter(prometheus.CounterOpts{
			Namespace: "vacuum",
			Name:      "bulk_item_failures_total",
			Help:      "Total number of documents rejected by bulk index requests.",
		}),
		ScopePasses: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "vacuum",
			Name:      "scope_passes_total",
			Help:      "Total number of scope passes, broken down by result.",
		}, []string{"result"}),
		PassDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "vacuum",
			Name:      "pass_duration_seconds",
			Help:      "Duration of reconciliation checks and scope passes in seconds.",
			Buckets:   DefaultPassDurationBuckets,
		}, []string{"check"}),
		CheckpointCommitSeq: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "vacuum",
			Name:      "checkpoint_commit_seq",
			Help:      "Last checkpointed commit sequence per scope.",
		}, []string{"scope"}),
	}
}

// RecordOrphansDeleted adds n deleted orphans.
func (m *VacuumMetrics) RecordOrphansDeleted(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.OrphansDeleted.Add(float64(n))
}

// RecordDeleteMismatch counts one short delete.
func (m *VacuumMetrics) RecordDeleteMismatch() {
	if m == nil {
		return
	}
	m.DeleteMismatch.Inc()
}

// RecordRepair counts one scheduled repair.
func (m *VacuumMetrics) RecordRepair(kind string) {
	if m == nil {
		return
	}
	m.RepairsScheduled.WithLabelValues(kind).Inc()
}

// RecordSkipped counts one skipped object.
func (m *VacuumMetrics) RecordSkipped(reason string) {
	if m == nil {
		return
	}
	m.Skipped.WithLabelValues(reason).Inc()
}

// RecordDegradedPartition counts one partition scroll ended early.
func (m *VacuumMetrics) RecordDegradedPartition() {
	if m == nil {
		return
	}
	m.DegradedPartitions.Inc()
}

// RecordBulk counts a bulk request and its rejected items.
func (m *VacuumMetrics) RecordBulk(err error, failedItems int) {
	if m == nil {
		return
	}
	if err != nil {
		m.BulkRequests.WithLabelValues(ResultFailure).Inc()
		return
	}
	m.BulkRequests.WithLabelValues(ResultSuccess).Inc()
	if failedItems > 0 {
		m.BulkItemFailures.Add(float64(failedItems))
	}
}

// RecordScopePass counts a finished scope pass.
func (m *VacuumMetrics) RecordScopePass(result string) {
	if m == nil {
		return
	}
	m.ScopePasses.WithLabelValues(result).Inc()
}

// ObserveDuration records how long a check took.
func (m *VacuumMetrics) ObserveDuration(check string, d time.Duration) {
	if m == nil {
		return
	}
	m.PassDuration.WithLabelValues(check).Observe(d.Seconds())
}

// RecordCheckpoint sets the checkpoint gauge of a scope.
func (m *VacuumMetrics) RecordCheckpoint(scopeID string, seq int64) {
	if m == nil {
		return
	}
	m.CheckpointCommitSeq.WithLabelValues(scopeID).Set(float64(seq))
}
