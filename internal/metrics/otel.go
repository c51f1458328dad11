package metrics

import (
	"context"
	"log"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

var (
	otelMetricsOnce       sync.Once
	otelRegistrationError error
)

// InitOTelMetrics registers an observable gauge that reports the cumulative search
// totals from SQLite. Call it after observability.Init.
func InitOTelMetrics() error {
	otelMetricsOnce.Do(func() {
		meter := otel.Meter("lastmsg/metrics")

		_, err := meter.Int64ObservableGauge(
			"lastmsg.searches.total",
			metric.WithDescription("Cumulative searches by source and outcome"),
			metric.WithUnit("{searches}"),
			metric.WithInt64Callback(searchCallback),
		)
		if err != nil {
			log.Printf("metrics: failed to create search gauge: %v", err)
			otelRegistrationError = err
			return
		}
	})
	return otelRegistrationError
}

func searchCallback(_ context.Context, observer metric.Int64Observer) error {
	stats := GetStats()
	if len(stats) == 0 {
		// Report zeros so dashboards see every source from the first export.
		for _, source := range Sources {
			observer.Observe(0, metric.WithAttributes(
				attribute.String("source", string(source)),
			))
		}
		return nil
	}

	for key, count := range stats {
		observer.Observe(count, metric.WithAttributes(
			attribute.String("source", string(key.Source)),
			attribute.String("outcome", string(key.Outcome)),
		))
	}

	return nil
}

// ResetOTelForTesting resets the OTel initialization state for testing purposes.
func ResetOTelForTesting() {
	otelMetricsOnce = sync.Once{}
	otelRegistrationError = nil
}
