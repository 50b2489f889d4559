// Package prometheus exposes the OpenTelemetry metrics in Prometheus format.
package prometheus

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/sdk/resource"

	promclient "github.com/prometheus/client_golang/prometheus"
	prometheus "go.opentelemetry.io/otel/exporters/prometheus"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
)

// SetupPrometheusMetrics installs a global meter provider backed by a
// Prometheus exporter and returns the registry to serve at /metrics.
func SetupPrometheusMetrics(res *resource.Resource) (promclient.Gatherer, func(context.Context) error, error) {
	registry := promclient.NewRegistry()

	prometheusExporter, err := prometheus.New(
		prometheus.WithRegisterer(registry),
	)
	if err != nil {
		return nil, nil, err
	}

	meterProvider := sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(prometheusExporter),
	)

	otel.SetMeterProvider(meterProvider)

	return registry, meterProvider.Shutdown, nil
}
