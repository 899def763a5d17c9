package emitter

import (
	"context"

	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/yairfalse/arbiter/reconciler"
)

// emitDrift counts and logs peer-group changes since the previous run.
// The first run of a source has no drift.
func (e *MetricsEmitter) emitDrift(ctx context.Context, result *reconciler.RunResult) {
	for _, diff := range result.Drift {
		e.changesTotal.Add(ctx, 1, metric.WithAttributes(
			attribute.String("source", result.Source),
			attribute.String("change_type", string(diff.Type)),
			attribute.String("severity", diff.Severity()),
		))

		logEvent := log.Info().
			Str("run_id", result.ID).
			Str("department", diff.Department).
			Str("title", diff.Title).
			Str("change", string(diff.Type))

		if len(diff.Added) > 0 {
			logEvent = logEvent.Strs("added", diff.Added)
		}
		if len(diff.Removed) > 0 {
			logEvent = logEvent.Strs("removed", diff.Removed)
		}

		logEvent.Msg("peer group changed")
	}
}
