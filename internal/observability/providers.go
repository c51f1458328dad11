package observability

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"net/url"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	otlpmetricgrpc "go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	otlpmetrichttp "go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	otlptracegrpc "go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	otlptracehttp "go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/propagation"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

const (
	tracesPath  = "/v1/traces"
	metricsPath = "/v1/metrics"

	defaultShutdownTimeout = 5 * time.Second
)

// ShutdownFunc flushes and stops the installed providers.
type ShutdownFunc func(context.Context) error

// endpoint is the collector address for one signal.
type endpoint struct {
	grpc     bool
	url      string // http/protobuf: full signal URL
	host     string // grpc: host:port
	insecure bool
}

func resolveEndpoint(cfg *Config, signalPath string) (endpoint, error) {
	switch cfg.ExporterProtocol {
	case defaultExporterProtocol:
		parsed, err := url.Parse(cfg.ExporterEndpoint)
		if err != nil {
			return endpoint{}, fmt.Errorf("observability: invalid OTLP HTTP endpoint: %w", err)
		}
		if parsed.Scheme != "http" && parsed.Scheme != "https" {
			return endpoint{}, fmt.Errorf("observability: OTLP exporter endpoint must include http or https scheme when using http/protobuf protocol")
		}
		if parsed.Host == "" {
			return endpoint{}, fmt.Errorf("observability: OTLP exporter endpoint must include a host when using http/protobuf protocol")
		}
		u, err := normalizeOTLPHTTPPath(cfg.ExporterEndpoint, signalPath)
		if err != nil {
			return endpoint{}, fmt.Errorf("observability: invalid OTLP HTTP endpoint: %w", err)
		}
		return endpoint{url: u, insecure: strings.HasPrefix(u, "http://")}, nil
	case protocolGRPC:
		host, insecure, err := parseGRPCEndpoint(cfg.ExporterEndpoint)
		if err != nil {
			return endpoint{}, fmt.Errorf("observability: invalid OTLP gRPC endpoint: %w", err)
		}
		return endpoint{grpc: true, host: host, insecure: insecure}, nil
	default:
		return endpoint{}, fmt.Errorf("observability: unsupported OTLP exporter protocol %q", cfg.ExporterProtocol)
	}
}

// normalizeOTLPHTTPPath appends the signal path (e.g. /v1/metrics) to an OTLP HTTP
// endpoint unless it already ends with it. Query parameters and fragments are kept.
func normalizeOTLPHTTPPath(raw string, suffix string) (string, error) {
	if strings.TrimSpace(raw) == "" {
		return "", fmt.Errorf("endpoint cannot be empty")
	}

	normalizedSuffix := "/" + strings.Trim(strings.TrimSpace(suffix), "/")

	parsed, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("parse endpoint: %w", err)
	}

	trimmedPath := strings.TrimSuffix(parsed.Path, "/")
	switch {
	case trimmedPath == "":
		parsed.Path = normalizedSuffix
	case strings.HasSuffix(trimmedPath, normalizedSuffix):
		parsed.Path = trimmedPath
	default:
		parsed.Path = trimmedPath + normalizedSuffix
	}

	return parsed.String(), nil
}

// parseGRPCEndpoint returns host:port and whether TLS is off. Without a scheme the
// endpoint must be host:port and the connection is insecure.
func parseGRPCEndpoint(raw string) (string, bool, error) {
	ep := strings.TrimSpace(raw)
	if ep == "" {
		return "", false, fmt.Errorf("endpoint cannot be empty")
	}
	if !strings.Contains(ep, "://") {
		if _, _, err := net.SplitHostPort(ep); err != nil {
			return "", false, fmt.Errorf("endpoint should be host:port: %w", err)
		}
		return ep, true, nil
	}

	parsed, err := url.Parse(ep)
	if err != nil {
		return "", false, err
	}
	if parsed.Host == "" {
		return "", false, fmt.Errorf("endpoint must include host")
	}
	switch parsed.Scheme {
	case "http", "grpc":
		return parsed.Host, true, nil
	case "https", "grpcs":
		return parsed.Host, false, nil
	default:
		return "", false, fmt.Errorf("unsupported scheme %q", parsed.Scheme)
	}
}

// NewOTLPTraceExporter builds the span exporter for the configured protocol.
func NewOTLPTraceExporter(ctx context.Context, cfg *Config) (sdktrace.SpanExporter, error) {
	ep, err := resolveEndpoint(cfg, tracesPath)
	if err != nil {
		return nil, err
	}
	if ep.grpc {
		opts := []otlptracegrpc.Option{otlptracegrpc.WithEndpoint(ep.host)}
		if ep.insecure {
			opts = append(opts, otlptracegrpc.WithInsecure())
		}
		return otlptracegrpc.New(ctx, opts...)
	}
	opts := []otlptracehttp.Option{otlptracehttp.WithEndpointURL(ep.url)}
	if ep.insecure {
		opts = append(opts, otlptracehttp.WithInsecure())
	}
	return otlptracehttp.New(ctx, opts...)
}

// NewOTLPMetricExporter builds the metric exporter for the configured protocol.
func NewOTLPMetricExporter(ctx context.Context, cfg *Config) (sdkmetric.Exporter, error) {
	ep, err := resolveEndpoint(cfg, metricsPath)
	if err != nil {
		return nil, err
	}
	if ep.grpc {
		opts := []otlpmetricgrpc.Option{otlpmetricgrpc.WithEndpoint(ep.host)}
		if ep.insecure {
			opts = append(opts, otlpmetricgrpc.WithInsecure())
		}
		return otlpmetricgrpc.New(ctx, opts...)
	}
	opts := []otlpmetrichttp.Option{otlpmetrichttp.WithEndpointURL(ep.url)}
	if ep.insecure {
		opts = append(opts, otlpmetrichttp.WithInsecure())
	}
	return otlpmetrichttp.New(ctx, opts...)
}

// NewProviders builds tracer and meter providers sharing one resource. With telemetry
// disabled the tracer never samples and the meter has no reader; the exporters are
// ignored and may be nil.
func NewProviders(ctx context.Context, cfg *Config, spans sdktrace.SpanExporter, metrics sdkmetric.Exporter) (*sdktrace.TracerProvider, *sdkmetric.MeterProvider, error) {
	if cfg == nil {
		return nil, nil, fmt.Errorf("observability: providers require a config")
	}
	if !cfg.Enabled {
		tp := sdktrace.NewTracerProvider(sdktrace.WithSampler(sdktrace.NeverSample()))
		return tp, sdkmetric.NewMeterProvider(), nil
	}
	if spans == nil || metrics == nil {
		return nil, nil, fmt.Errorf("observability: exporters cannot be nil when OpenTelemetry is enabled")
	}

	res, err := newResource(ctx, cfg)
	if err != nil {
		return nil, nil, fmt.Errorf("observability: failed to build resource information: %w", err)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithSampler(samplerFromConfig(cfg)),
		sdktrace.WithResource(res),
		sdktrace.WithBatcher(spans),
	)
	mp := sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(metrics, sdkmetric.WithInterval(cfg.MetricExportInterval))),
	)
	return tp, mp, nil
}

// install creates exporters when enabled and sets the global providers and propagator.
func install(ctx context.Context, cfg *Config) (ShutdownFunc, error) {
	var (
		spans   sdktrace.SpanExporter
		metrics sdkmetric.Exporter
		err     error
	)
	if cfg.Enabled {
		if spans, err = NewOTLPTraceExporter(ctx, cfg); err != nil {
			return nil, fmt.Errorf("observability: failed to create OTLP trace exporter: %w", err)
		}
		if metrics, err = NewOTLPMetricExporter(ctx, cfg); err != nil {
			_ = spans.Shutdown(ctx)
			return nil, fmt.Errorf("observability: failed to create OTLP metric exporter: %w", err)
		}
	}

	tp, mp, err := NewProviders(ctx, cfg, spans, metrics)
	if err != nil {
		return nil, err
	}

	otel.SetTracerProvider(tp)
	otel.SetMeterProvider(mp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	return NewShutdownFunc(tp, mp), nil
}

// samplerFromConfig maps OTEL_TRACES_SAMPLER names onto SDK samplers.
func samplerFromConfig(cfg *Config) sdktrace.Sampler {
	switch cfg.TracesSampler {
	case "always_off":
		return sdktrace.NeverSample()
	case "traceidratio":
		return sdktrace.TraceIDRatioBased(cfg.TracesSamplerArg)
	case "parentbased_always_on":
		return sdktrace.ParentBased(sdktrace.AlwaysSample())
	case "parentbased_always_off":
		return sdktrace.ParentBased(sdktrace.NeverSample())
	case "parentbased_traceidratio":
		return sdktrace.ParentBased(sdktrace.TraceIDRatioBased(cfg.TracesSamplerArg))
	default:
		return sdktrace.AlwaysSample()
	}
}

func newResource(ctx context.Context, cfg *Config) (*resource.Resource, error) {
	attributes := []attribute.KeyValue{
		attribute.String(resourceServiceNameKey, cfg.ServiceName),
	}
	for key, value := range cfg.ResourceAttributes {
		if strings.EqualFold(key, resourceServiceNameKey) {
			continue
		}
		attributes = append(attributes, attribute.String(key, value))
	}

	return resource.New(
		ctx,
		resource.WithFromEnv(),
		resource.WithProcess(),
		resource.WithHost(),
		resource.WithTelemetrySDK(),
		resource.WithAttributes(attributes...),
	)
}

// NewShutdownFunc flushes the tracer before the meter so that the last search spans are
// exported even when the meter shutdown times out.
func NewShutdownFunc(tp *sdktrace.TracerProvider, mp *sdkmetric.MeterProvider) ShutdownFunc {
	return func(ctx context.Context) error {
		if ctx == nil {
			ctx = context.Background()
		}
		if _, ok := ctx.Deadline(); !ok {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, defaultShutdownTimeout)
			defer cancel()
		}

		var errs []error
		if tp != nil {
			if err := tp.Shutdown(ctx); err != nil {
				log.Printf("observability: failed to shutdown tracer provider: %v", err)
				errs = append(errs, fmt.Errorf("tracer provider: %w", err))
			}
		}
		if mp != nil {
			if err := mp.Shutdown(ctx); err != nil {
				log.Printf("observability: failed to shutdown meter provider: %v", err)
				errs = append(errs, fmt.Errorf("meter provider: %w", err))
			}
		}
		return errors.Join(errs...)
	}
}
