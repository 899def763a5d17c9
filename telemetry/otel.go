package telemetry

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/propagation"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.37.0"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	promclient "github.com/prometheus/client_golang/prometheus"
)

const instrumentationName = "github.com/yairfalse/arbiter"

const (
	traceBatchTimeout  = 5 * time.Second
	metricPushInterval = 10 * time.Second
)

// Global telemetry handles
var (
	Tracer = otel.Tracer(instrumentationName)
	Meter  = otel.Meter(instrumentationName)

	// PrometheusRegistry receives every OTEL instrument for textfile export
	PrometheusRegistry *promclient.Registry

	HistoryWrites   metric.Int64Counter
	HistoryRevision metric.Int64Gauge
	JournalEntries  metric.Int64Counter
	DirectoryLookup metric.Int64Counter
)

// Config for OTEL initialization
type Config struct {
	ServiceName    string
	ServiceVersion string
	Environment    string
	OTELEndpoint   string // host:port of an OTLP collector; empty keeps telemetry local
	Insecure       bool
}

func (c Config) pushEnabled() bool {
	return c.OTELEndpoint != ""
}

// shutdownFunc flushes and stops one provider.
type shutdownFunc func(context.Context) error

// InitOTEL installs the global meter provider, and a tracer provider when a
// collector endpoint is configured. The returned function flushes both.
func InitOTEL(ctx context.Context, cfg Config) (func(context.Context) error, error) {
	if cfg.ServiceName == "" {
		cfg.ServiceName = "arbiter"
	}

	res, err := resource.Merge(
		resource.Default(),
		resource.NewWithAttributes(
			semconv.SchemaURL,
			semconv.ServiceName(cfg.ServiceName),
			semconv.ServiceVersion(cfg.ServiceVersion),
			attribute.String("environment", cfg.Environment),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("build otel resource: %w", err)
	}

	var shutdowns []shutdownFunc
	stopAll := func(ctx context.Context) error {
		var errs []error
		for i := len(shutdowns) - 1; i >= 0; i-- {
			errs = append(errs, shutdowns[i](ctx))
		}
		return errors.Join(errs...)
	}

	if cfg.pushEnabled() {
		stop, err := startTracing(ctx, cfg, res)
		if err != nil {
			return nil, fmt.Errorf("start tracing: %w", err)
		}
		shutdowns = append(shutdowns, stop)
	}

	stop, err := startMetrics(ctx, cfg, res)
	if err != nil {
		_ = stopAll(ctx)
		return nil, fmt.Errorf("start metrics: %w", err)
	}
	shutdowns = append(shutdowns, stop)

	if err := registerInstruments(); err != nil {
		_ = stopAll(ctx)
		return nil, err
	}

	return stopAll, nil
}

// collectorDialOptions are shared by the trace and metric OTLP exporters.
func collectorDialOptions(cfg Config) []grpc.DialOption {
	if !cfg.Insecure {
		return nil
	}
	return []grpc.DialOption{grpc.WithTransportCredentials(insecure.NewCredentials())}
}

func startTracing(ctx context.Context, cfg Config, res *resource.Resource) (shutdownFunc, error) {
	opts := []otlptracegrpc.Option{otlptracegrpc.WithEndpoint(cfg.OTELEndpoint)}
	for _, d := range collectorDialOptions(cfg) {
		opts = append(opts, otlptracegrpc.WithDialOption(d))
	}

	exporter, err := otlptracegrpc.New(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("create trace exporter: %w", err)
	}

	provider := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter, sdktrace.WithBatchTimeout(traceBatchTimeout)),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
	)
	otel.SetTracerProvider(provider)
	otel.SetTextMapPropagator(propagation.TraceContext{})
	Tracer = provider.Tracer(instrumentationName)

	return provider.Shutdown, nil
}

// startMetrics always wires a Prometheus reader into a private registry so a
// one-shot CLI run can dump its metrics; the OTLP reader is added on top.
func startMetrics(ctx context.Context, cfg Config, res *resource.Resource) (shutdownFunc, error) {
	registry := promclient.NewRegistry()
	promReader, err := prometheus.New(prometheus.WithRegisterer(registry))
	if err != nil {
		return nil, fmt.Errorf("create prometheus exporter: %w", err)
	}

	opts := []sdkmetric.Option{
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(promReader),
	}

	if cfg.pushEnabled() {
		metricOpts := []otlpmetricgrpc.Option{otlpmetricgrpc.WithEndpoint(cfg.OTELEndpoint)}
		for _, d := range collectorDialOptions(cfg) {
			metricOpts = append(metricOpts, otlpmetricgrpc.WithDialOption(d))
		}
		exporter, err := otlpmetricgrpc.New(ctx, metricOpts...)
		if err != nil {
			return nil, fmt.Errorf("create otlp metric exporter: %w", err)
		}
		opts = append(opts, sdkmetric.WithReader(
			sdkmetric.NewPeriodicReader(exporter, sdkmetric.WithInterval(metricPushInterval)),
		))
	}

	provider := sdkmetric.NewMeterProvider(opts...)
	otel.SetMeterProvider(provider)
	Meter = provider.Meter(instrumentationName)
	PrometheusRegistry = registry

	return provider.Shutdown, nil
}

// registerInstruments creates the pipeline-wide instruments on Meter. Names use
// the classic Prometheus charset; the exporter appends _total to counters.
func registerInstruments() error {
	counters := []struct {
		target *metric.Int64Counter
		name   string
		desc   string
	}{
		{&HistoryWrites, "arbiter_history_writes", "Runs written to history"},
		{&JournalEntries, "arbiter_journal_entries", "Journal entries appended, by type"},
		{&DirectoryLookup, "arbiter_directory_lookups", "Directory lookups, by resolution method"},
	}

	for _, c := range counters {
		counter, err := Meter.Int64Counter(c.name, metric.WithDescription(c.desc))
		if err != nil {
			return fmt.Errorf("create %s: %w", c.name, err)
		}
		*c.target = counter
	}

	gauge, err := Meter.Int64Gauge("arbiter_history_revision",
		metric.WithDescription("Latest history revision"),
	)
	if err != nil {
		return fmt.Errorf("create arbiter_history_revision: %w", err)
	}
	HistoryRevision = gauge

	return nil
}
