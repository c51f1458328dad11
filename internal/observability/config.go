package observability

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/ca-srg/lastmsg/internal/types"
)

const (
	defaultServiceName      = "lastmsg"
	defaultExporterProtocol = "http/protobuf"
	protocolGRPC            = "grpc"
	resourceServiceNameKey  = "service.name"
	resourceSourceKey       = "lastmsg.source"

	defaultSampler        = "always_on"
	defaultMetricInterval = 60 * time.Second
)

// knownSamplers are the OTEL_TRACES_SAMPLER values samplerFromConfig understands.
var knownSamplers = map[string]bool{
	"always_on":                true,
	"always_off":               true,
	"traceidratio":             true,
	"parentbased_always_on":    true,
	"parentbased_always_off":   true,
	"parentbased_traceidratio": true,
}

// Config is the OpenTelemetry setup of one lastmsg command.
type Config struct {
	Enabled              bool
	ServiceName          string
	ExporterEndpoint     string
	ExporterProtocol     string
	ResourceAttributes   map[string]string
	TracesSampler        string
	TracesSamplerArg     float64
	MetricExportInterval time.Duration
}

// LoadConfig derives the telemetry setup from the root config. The resource always
// carries service.name, and lastmsg.source when a source is configured; explicit
// OTEL_RESOURCE_ATTRIBUTES entries take precedence over both.
func LoadConfig(cfg *types.Config) (*Config, error) {
	if cfg == nil {
		return nil, fmt.Errorf("observability: nil root configuration provided")
	}

	attrs, err := parseResourceAttributes(cfg.OTelResourceAttributes)
	if err != nil {
		return nil, fmt.Errorf("observability: failed to parse resource attributes: %w", err)
	}

	c := &Config{
		Enabled:              cfg.OTelEnabled,
		ServiceName:          orDefault(cfg.OTelServiceName, defaultServiceName),
		ExporterEndpoint:     strings.TrimSpace(cfg.OTelExporterOTLPEndpoint),
		ExporterProtocol:     strings.ToLower(orDefault(cfg.OTelExporterOTLPProtocol, defaultExporterProtocol)),
		ResourceAttributes:   attrs,
		TracesSampler:        strings.ToLower(orDefault(cfg.OTelTracesSampler, defaultSampler)),
		TracesSamplerArg:     cfg.OTelTracesSamplerArg,
		MetricExportInterval: time.Duration(cfg.OTelMetricExportInterval) * time.Millisecond,
	}
	if c.MetricExportInterval <= 0 {
		c.MetricExportInterval = defaultMetricInterval
	}

	setIfAbsent(attrs, resourceServiceNameKey, c.ServiceName)
	if source := strings.ToLower(strings.TrimSpace(cfg.SourceStr)); source != "" {
		setIfAbsent(attrs, resourceSourceKey, source)
	}

	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

// Validate checks the sampler and, when telemetry is enabled, that the endpoint resolves
// for both signals.
func (c *Config) Validate() error {
	if c == nil {
		return fmt.Errorf("observability: config is nil")
	}

	if !knownSamplers[c.TracesSampler] {
		return fmt.Errorf("observability: unsupported traces sampler %q", c.TracesSampler)
	}
	if strings.HasSuffix(c.TracesSampler, "traceidratio") && (c.TracesSamplerArg <= 0 || c.TracesSamplerArg > 1) {
		return fmt.Errorf("observability: traces sampler argument must be between 0 and 1 when sampler is %s", c.TracesSampler)
	}

	if !c.Enabled {
		return nil
	}
	if c.ExporterEndpoint == "" {
		return fmt.Errorf("observability: OTLP exporter endpoint is required when OpenTelemetry is enabled")
	}
	for _, signal := range []string{tracesPath, metricsPath} {
		if _, err := resolveEndpoint(c, signal); err != nil {
			return err
		}
	}
	return nil
}

// parseResourceAttributes reads the OTEL_RESOURCE_ATTRIBUTES format: comma separated
// key=value pairs with percent-encoded values.
func parseResourceAttributes(input string) (map[string]string, error) {
	attrs := make(map[string]string)
	for _, pair := range strings.Split(input, ",") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}

		key, value, ok := strings.Cut(pair, "=")
		key = strings.TrimSpace(key)
		if !ok {
			return nil, fmt.Errorf("invalid resource attribute %q", pair)
		}
		if key == "" {
			return nil, fmt.Errorf("resource attribute key cannot be empty")
		}

		decoded, err := url.PathUnescape(strings.TrimSpace(value))
		if err != nil {
			return nil, fmt.Errorf("resource attribute %s: %w", key, err)
		}
		attrs[key] = decoded
	}
	return attrs, nil
}

func setIfAbsent(m map[string]string, key, value string) {
	if _, ok := m[key]; !ok && value != "" {
		m[key] = value
	}
}

func orDefault(s, def string) string {
	if s = strings.TrimSpace(s); s != "" {
		return s
	}
	return def
}

// Init installs tracing and metrics for a lastmsg command. When OpenTelemetry is
// disabled the providers are still installed so that search spans and instruments
// resolve, but nothing is exported.
func Init(ctx context.Context, rootCfg *types.Config) (ShutdownFunc, error) {
	noop := func(context.Context) error { return nil }

	otelCfg, err := LoadConfig(rootCfg)
	if err != nil {
		return noop, err
	}
	if ctx == nil {
		ctx = context.Background()
	}

	shutdown, err := install(ctx, otelCfg)
	if err != nil {
		return noop, err
	}
	return shutdown, nil
}
