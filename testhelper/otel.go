package testhelper

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

var (
	//nolint:gochecknoglobals
	readerOnce sync.Once

	//nolint:gochecknoglobals
	reader *metric.ManualReader
)

// MetricReader installs, once per test binary, a global meter provider backed
// by a manual reader and returns the reader. Instruments created through the
// global meter before the call are delegated to it.
func MetricReader() *metric.ManualReader {
	readerOnce.Do(func() {
		reader = metric.NewManualReader()
		otel.SetMeterProvider(metric.NewMeterProvider(metric.WithReader(reader)))
	})

	return reader
}

// SumInt64 collects the reader and returns the value of the int64 sum called
// name for the data point carrying every attribute in attrs.
func SumInt64(t *testing.T, r *metric.ManualReader, name string, attrs ...attribute.KeyValue) int64 {
	t.Helper()

	var rm metricdata.ResourceMetrics

	require.NoError(t, r.Collect(context.Background(), &rm))

	var total int64

	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if m.Name != name {
				continue
			}

			sum, ok := m.Data.(metricdata.Sum[int64])
			require.True(t, ok, "metric %s is a %T", name, m.Data)

			for _, dp := range sum.DataPoints {
				if hasAttributes(dp.Attributes, attrs) {
					total += dp.Value
				}
			}
		}
	}

	return total
}

// HistogramCount collects the reader and returns the number of recordings of
// the float64 histogram called name carrying every attribute in attrs.
func HistogramCount(t *testing.T, r *metric.ManualReader, name string, attrs ...attribute.KeyValue) uint64 {
	t.Helper()

	var rm metricdata.ResourceMetrics

	require.NoError(t, r.Collect(context.Background(), &rm))

	var total uint64

	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if m.Name != name {
				continue
			}

			hist, ok := m.Data.(metricdata.Histogram[float64])
			require.True(t, ok, "metric %s is a %T", name, m.Data)

			for _, dp := range hist.DataPoints {
				if hasAttributes(dp.Attributes, attrs) {
					total += dp.Count
				}
			}
		}
	}

	return total
}

func hasAttributes(set attribute.Set, attrs []attribute.KeyValue) bool {
	for _, kv := range attrs {
		v, ok := set.Value(kv.Key)
		if !ok || v.Emit() != kv.Value.Emit() {
			return false
		}
	}

	return true
}
