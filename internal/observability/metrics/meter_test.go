package metrics

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

func collect(t *testing.T, reader *sdkmetric.ManualReader) map[string]metricdata.Aggregation {
	t.Helper()
	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))

	out := make(map[string]metricdata.Aggregation)
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			out[m.Name] = m.Data
		}
	}
	return out
}

func sum(t *testing.T, data metricdata.Aggregation) int64 {
	t.Helper()
	s, ok := data.(metricdata.Sum[int64])
	require.True(t, ok, "expected int64 sum, got %T", data)
	var total int64
	for _, dp := range s.DataPoints {
		total += dp.Value
	}
	return total
}

// TestPurpose: Validates that sync outcomes reach the configured meter provider.
// Scope: Unit Test
// Expected: runs counts every outcome; failures and conflicts count only their own events.
// Test Case ID: MET-01
func TestSyncMetrics_Record(t *testing.T) {
	prev := otel.GetMeterProvider()
	t.Cleanup(func() { otel.SetMeterProvider(prev) })

	reader := sdkmetric.NewManualReader()
	m, err := New(context.Background(), Config{Enabled: true, Reader: reader}, "usagesync-test")
	require.NoError(t, err)
	t.Cleanup(func() { _ = m.Shutdown(context.Background()) })
	s, err := NewSyncMetrics(m)
	require.NoError(t, err)

	ctx := context.Background()
	s.RecordSuccess(ctx, "acme", 3, 12*time.Millisecond)
	s.RecordFailure(ctx, "acme", "query_failure", time.Millisecond)
	s.RecordConflict(ctx, "acme")

	got := collect(t, reader)
	assert.Equal(t, int64(2), sum(t, got["usagesync.runs"]))
	assert.Equal(t, int64(1), sum(t, got["usagesync.failures"]))
	assert.Equal(t, int64(1), sum(t, got["usagesync.conflicts"]))
	assert.Contains(t, got, "usagesync.duration")
	assert.Contains(t, got, "usagesync.app_count")
}

// TestPurpose: Validates that disabled metrics are safe to record into.
// Scope: Unit Test
// Expected: No error and no panic from the noop instruments.
// Test Case ID: MET-02
func TestSyncMetrics_Disabled(t *testing.T) {
	m, err := New(context.Background(), Config{Enabled: false}, "usagesync-test")
	require.NoError(t, err)
	s, err := NewSyncMetrics(m)
	require.NoError(t, err)

	assert.NoError(t, m.Shutdown(context.Background()))
	assert.NotPanics(t, func() {
		s.RecordSuccess(context.Background(), "acme", 1, time.Millisecond)
		NoopSyncMetrics().RecordConflict(context.Background(), "acme")
	})
}
