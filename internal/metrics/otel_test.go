package metrics

import (
	"context"
	"path/filepath"
	"testing"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/ca-srg/lastmsg/internal/types"
)

const gaugeName = "lastmsg.searches.total"

// setupOTel resets global state, installs a manual reader and registers the gauge.
func setupOTel(t *testing.T, withStore bool) (*metric.ManualReader, *Store) {
	t.Helper()
	ResetForTesting()
	ResetOTelForTesting()
	t.Cleanup(func() {
		ResetForTesting()
		ResetOTelForTesting()
	})

	var store *Store
	if withStore {
		var err error
		store, err = NewStoreWithPath(filepath.Join(t.TempDir(), "test_stats.db"))
		if err != nil {
			t.Fatalf("Failed to create store: %v", err)
		}
		SetStoreForTesting(store)
	}

	reader := metric.NewManualReader()
	provider := metric.NewMeterProvider(metric.WithReader(reader))
	otel.SetMeterProvider(provider)
	t.Cleanup(func() { _ = provider.Shutdown(context.Background()) })

	if err := InitOTelMetrics(); err != nil {
		t.Fatalf("InitOTelMetrics failed: %v", err)
	}
	return reader, store
}

func collect(t *testing.T, reader *metric.ManualReader) metricdata.ResourceMetrics {
	t.Helper()
	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Failed to collect metrics: %v", err)
	}
	return rm
}

func TestOTelMetricsAfterIncrement(t *testing.T) {
	reader, store := setupOTel(t, true)

	verifyMetricValues(t, collect(t, reader), map[string]int64{
		"slack":   0,
		"archive": 0,
		"s3":      0,
	})

	_ = store.Increment(types.SourceSlack, OutcomeFound)
	_ = store.Increment(types.SourceSlack, OutcomeFound)
	_ = store.Increment(types.SourceArchive, OutcomeNotFound)

	verifyMetricValues(t, collect(t, reader), map[string]int64{
		"slack/found":       2,
		"archive/not_found": 1,
	})

	_ = store.Increment(types.SourceS3, OutcomeFailed)

	verifyMetricValues(t, collect(t, reader), map[string]int64{
		"slack/found":       2,
		"archive/not_found": 1,
		"s3/failed":         1,
	})
}

func TestOTelMetricDescription(t *testing.T) {
	reader, _ := setupOTel(t, true)
	rm := collect(t, reader)

	for _, scopeMetrics := range rm.ScopeMetrics {
		if scopeMetrics.Scope.Name != "lastmsg/metrics" {
			continue
		}
		for _, m := range scopeMetrics.Metrics {
			if m.Name == gaugeName {
				if m.Description != "Cumulative searches by source and outcome" {
					t.Errorf("Unexpected description: %s", m.Description)
				}
				if m.Unit != "{searches}" {
					t.Errorf("Unexpected unit: %s", m.Unit)
				}
				return
			}
		}
	}

	t.Errorf("Metric '%s' not found", gaugeName)
}

func TestOTelMetricsWithoutStore(t *testing.T) {
	reader, _ := setupOTel(t, false)

	verifyMetricValues(t, collect(t, reader), map[string]int64{
		"slack":   0,
		"archive": 0,
		"s3":      0,
	})
}

// verifyMetricValues checks gauge points keyed by "source" or "source/outcome".
func verifyMetricValues(t *testing.T, rm metricdata.ResourceMetrics, expected map[string]int64) {
	t.Helper()

	for _, scopeMetrics := range rm.ScopeMetrics {
		for _, m := range scopeMetrics.Metrics {
			if m.Name != gaugeName {
				continue
			}
			gauge, ok := m.Data.(metricdata.Gauge[int64])
			if !ok {
				t.Fatalf("Expected Gauge[int64], got %T", m.Data)
			}

			results := make(map[string]int64)
			for _, dp := range gauge.DataPoints {
				var source, outcome string
				for _, attr := range dp.Attributes.ToSlice() {
					switch string(attr.Key) {
					case "source":
						source = attr.Value.AsString()
					case "outcome":
						outcome = attr.Value.AsString()
					}
				}
				key := source
				if outcome != "" {
					key += "/" + outcome
				}
				results[key] = dp.Value
			}

			if len(results) != len(expected) {
				t.Errorf("Expected %d data points, got %d: %v", len(expected), len(results), results)
			}
			for key, want := range expected {
				if got, ok := results[key]; !ok || got != want {
					t.Errorf("%s: expected %d, got %d", key, want, got)
				}
			}
			return
		}
	}

	t.Errorf("Metric '%s' not found", gaugeName)
}
