package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestMetadataMetrics_RecordOperation(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetadataMetricsWithRegistry(reg)

	m.RecordOperation(OpGet, 0.001, true)
	m.RecordOperation(OpGet, 0.002, true)
	m.RecordOperation(OpPut, 0.003, false)
	m.RecordOperation(OpPutEphemeral, 0.004, true)

	tests := []struct {
		operation string
		status    string
		want      float64
	}{
		{OpGet, StatusSuccess, 2},
		{OpPut, StatusFailure, 1},
		{OpPut, StatusSuccess, 0},
		{OpPutEphemeral, StatusSuccess, 1},
	}
	for _, tt := range tests {
		got := testutil.ToFloat64(m.RequestsTotal.WithLabelValues(tt.operation, tt.status))
		if got != tt.want {
			t.Errorf("%s/%s = %v, want %v", tt.operation, tt.status, got, tt.want)
		}
	}

	families := gather(t, reg)
	hist := families["vacuum_metadata_operation_latency_seconds"]
	if hist == nil {
		t.Fatal("latency histogram not registered")
	}
	var samples uint64
	for _, metric := range hist.GetMetric() {
		samples += metric.GetHistogram().GetSampleCount()
	}
	if samples != 4 {
		t.Errorf("latency samples = %d, want 4", samples)
	}
}

func TestMetadataMetrics_NilReceiver(t *testing.T) {
	var m *MetadataMetrics
	m.RecordOperation(OpList, 0.1, true)
}
