package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Status label values.
const (
	StatusSuccess = "success"
	StatusFailure = "failure"
)

// Metadata store operation label values.
const (
	OpGet          = "get"
	OpPut          = "put"
	OpDelete       = "delete"
	OpList         = "list"
	OpPutEphemeral = "put_ephemeral"
)

// DefaultMetadataLatencyBuckets are latency buckets for metadata operations,
// which are typically sub-millisecond to tens of milliseconds.
var DefaultMetadataLatencyBuckets = []float64{
	0.0001, // 0.1ms
	0.0005, // 0.5ms
	0.001,  // 1ms
	0.005,  // 5ms
	0.01,   // 10ms
	0.025,  // 25ms
	0.05,   // 50ms
	0.1,    // 100ms
	0.25,   // 250ms
	0.5,    // 500ms
	1.0,    // 1s
	5.0,    // 5s
}

// MetadataMetrics holds metrics for metadata store operations.
type MetadataMetrics struct {
	// LatencyHistogram tracks operation latency.
	// Labels: operation (get, put, delete, list, put_ephemeral), status (success, failure)
	LatencyHistogram *prometheus.HistogramVec

	// RequestsTotal counts operations by type and status.
	RequestsTotal *prometheus.CounterVec
}

// NewMetadataMetrics creates metadata metrics registered with the default registry.
func NewMetadataMetrics() *MetadataMetrics {
	return newMetadataMetrics(promauto.With(prometheus.DefaultRegisterer))
}

// NewMetadataMetricsWithRegistry creates metadata metrics registered with reg.
func NewMetadataMetricsWithRegistry(reg prometheus.Registerer) *MetadataMetrics {
	return newMetadataMetrics(promauto.With(reg))
}

func newMetadataMetrics(f promauto.Factory) *MetadataMetrics {
	return &MetadataMetrics{
		LatencyHistogram: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "vacuum",
				Subsystem: "metadata",
				Name:      "operation_latency_seconds",
				Help:      "Metadata store operation latency in seconds by operation and status.",
				Buckets:   DefaultMetadataLatencyBuckets,
			},
			[]string{"operation", "status"},
		),
		RequestsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "vacuum",
				Subsystem: "metadata",
				Name:      "operations_total",
				Help:      "Total number of metadata store operations by operation and status.",
			},
			[]string{"operation", "status"},
		),
	}
}

// RecordOperation records the latency and outcome of one operation.
func (m *MetadataMetrics) RecordOperation(operation string, durationSeconds float64, success bool) {
	if m == nil {
		return
	}
	status := StatusFailure
	if success {
		status = StatusSuccess
	}
	m.LatencyHistogram.WithLabelValues(operation, status).Observe(durationSeconds)
	m.RequestsTotal.WithLabelValues(operation, status).Inc()
}
