package emitter

import (
	"context"
	"fmt"
	"sync"

	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/yairfalse/arbiter/reconciler"
)

// MetricsEmitter records runs as OTEL metrics, exported in Prometheus format.
type MetricsEmitter struct {
	meter metric.Meter

	runsTotal    metric.Int64Counter
	actionsTotal metric.Int64Counter
	changesTotal metric.Int64Counter
	runDuration  metric.Float64Histogram
	groupsGauge  metric.Int64ObservableGauge
	usersGauge   metric.Int64ObservableGauge
	adhocGauge   metric.Int64ObservableGauge
	compliance   metric.Float64ObservableGauge

	// Latest run per source for the observable gauges
	mu     sync.RWMutex
	latest map[string]*reconciler.RunResult
}

// NewMetricsEmitter creates a metrics emitter; a nil provider uses the global one.
func NewMetricsEmitter(provider metric.MeterProvider) (*MetricsEmitter, error) {
	if provider == nil {
		provider = otel.GetMeterProvider()
	}

	e := &MetricsEmitter{
		meter:  provider.Meter("arbiter"),
		latest: make(map[string]*reconciler.RunResult),
	}

	if err := e.initMetrics(); err != nil {
		return nil, fmt.Errorf("init metrics: %w", err)
	}

	return e, nil
}

func (e *MetricsEmitter) initMetrics() error {
	var err error

	e.runsTotal, err = e.meter.Int64Counter(
		"arbiter_runs",
		metric.WithDescription("Total analysis runs"),
	)
	if err != nil {
		return fmt.Errorf("create runs counter: %w", err)
	}

	e.actionsTotal, err = e.meter.Int64Counter(
		"arbiter_actions",
		metric.WithDescription("Remediation actions planned, by type and priority"),
	)
	if err != nil {
		return fmt.Errorf("create actions counter: %w", err)
	}

	e.changesTotal, err = e.meter.Int64Counter(
		"arbiter_group_changes",
		metric.WithDescription("Peer group changes detected between runs"),
	)
	if err != nil {
		return fmt.Errorf("create group changes counter: %w", err)
	}

	e.runDuration, err = e.meter.Float64Histogram(
		"arbiter_run_duration",
		metric.WithDescription("Time taken by one analysis run"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return fmt.Errorf("create run duration histogram: %w", err)
	}

	e.groupsGauge, err = e.meter.Int64ObservableGauge(
		"arbiter_groups",
		metric.WithDescription("Peer groups in the latest run"),
		metric.WithInt64Callback(e.observeInt(func(r *reconciler.RunResult) int64 {
			return int64(r.Analysis.Summary.TotalGroups)
		})),
	)
	if err != nil {
		return fmt.Errorf("create groups gauge: %w", err)
	}

	e.usersGauge, err = e.meter.Int64ObservableGauge(
		"arbiter_users",
		metric.WithDescription("Users in the latest run"),
		metric.WithInt64Callback(e.observeInt(func(r *reconciler.RunResult) int64 {
			return int64(r.Analysis.Summary.TotalUsers)
		})),
	)
	if err != nil {
		return fmt.Errorf("create users gauge: %w", err)
	}

	e.adhocGauge, err = e.meter.Int64ObservableGauge(
		"arbiter_groups_adhoc",
		metric.WithDescription("Peer groups with ad-hoc roles in the latest run"),
		metric.WithInt64Callback(e.observeInt(func(r *reconciler.RunResult) int64 {
			return int64(r.Analysis.Summary.GroupsWithAdhoc)
		})),
	)
	if err != nil {
		return fmt.Errorf("create adhoc gauge: %w", err)
	}

	e.compliance, err = e.meter.Float64ObservableGauge(
		"arbiter_compliance_rate",
		metric.WithDescription("Percentage of peer groups with standard roles only"),
		metric.WithUnit("%"),
		metric.WithFloat64Callback(e.observeCompliance),
	)
	if err != nil {
		return fmt.Errorf("create compliance gauge: %w", err)
	}

	return nil
}

// Emit records the run as metrics.
func (e *MetricsEmitter) Emit(ctx context.Context, result *reconciler.RunResult) error {
	source := attribute.String("source", result.Source)

	e.runsTotal.Add(ctx, 1, metric.WithAttributes(source))
	e.runDuration.Record(ctx, result.Duration().Seconds(), metric.WithAttributes(source))

	for _, a := range result.Actions {
		e.actionsTotal.Add(ctx, 1, metric.WithAttributes(
			source,
			attribute.String("type", string(a.ActionType)),
			attribute.String("priority", string(a.Priority)),
		))
	}

	e.emitDrift(ctx, result)

	if result.Analysis != nil {
		e.mu.Lock()
		e.latest[result.Source] = result
		e.mu.Unlock()
	}

	log.Debug().
		Str("run_id", result.ID).
		Str("source", result.Source).
		Int("actions", len(result.Actions)).
		Msg("run metrics recorded")

	return nil
}

// observeInt builds a gauge callback reporting one value per source.
func (e *MetricsEmitter) observeInt(value func(*reconciler.RunResult) int64) metric.Int64Callback {
	return func(_ context.Context, o metric.Int64Observer) error {
		e.mu.RLock()
		defer e.mu.RUnlock()

		for source, r := range e.latest {
			o.Observe(value(r), metric.WithAttributes(attribute.String("source", source)))
		}
		return nil
	}
}

// observeCompliance is the callback for the compliance_rate gauge.
func (e *MetricsEmitter) observeCompliance(_ context.Context, o metric.Float64Observer) error {
	e.mu.RLock()
	defer e.mu.RUnlock()

	for source, r := range e.latest {
		o.Observe(r.Analysis.Summary.ComplianceRate, metric.WithAttributes(attribute.String("source", source)))
	}
	return nil
}

// Close is a no-op for the metrics emitter.
func (e *MetricsEmitter) Close() error {
	return nil
}
