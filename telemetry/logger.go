package telemetry

import (
	"context"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// TraceHook stamps log entries made with a span context with its IDs, and
// marks the span failed on error-level entries.
type TraceHook struct{}

func (TraceHook) Run(e *zerolog.Event, level zerolog.Level, msg string) {
	ctx := e.GetCtx()
	if ctx == nil {
		return
	}

	span := trace.SpanFromContext(ctx)
	sc := span.SpanContext()
	if !sc.IsValid() {
		return
	}

	e.Str("trace_id", sc.TraceID().String()).Str("span_id", sc.SpanID().String())
	if level >= zerolog.ErrorLevel {
		span.SetStatus(codes.Error, msg)
	}
}

// Logger is a component-scoped zerolog logger.
type Logger struct {
	zerolog.Logger
}

// NewLogger derives a component logger from the global logger, so output and
// level follow whatever the CLI configured.
func NewLogger(component string) *Logger {
	return &Logger{
		Logger: log.Logger.With().Str("component", component).Logger().Hook(TraceHook{}),
	}
}

// WithContext binds ctx so entries carry the active span's IDs.
func (l *Logger) WithContext(ctx context.Context) *zerolog.Logger {
	logger := l.Logger.With().Ctx(ctx).Logger()
	return &logger
}

// LogStageStart logs the start of a pipeline stage at debug level.
func (l *Logger) LogStageStart(ctx context.Context, stage string, attrs ...attribute.KeyValue) {
	fields := make(map[string]interface{}, len(attrs))
	for _, attr := range attrs {
		fields[string(attr.Key)] = attr.Value.AsInterface()
	}
	l.WithContext(ctx).Debug().Str("stage", stage).Fields(fields).Msg("stage started")
}

// LogStageEnd logs a finished stage; a non-nil err is logged at error level.
func (l *Logger) LogStageEnd(ctx context.Context, stage string, err error) {
	logger := l.WithContext(ctx)
	if err != nil {
		logger.Error().Err(err).Str("stage", stage).Msg("stage failed")
		return
	}
	logger.Debug().Str("stage", stage).Msg("stage completed")
}

// LogCompaction logs the start of a history compaction.
func (l *Logger) LogCompaction(ctx context.Context, keepRuns, currentRev int64) {
	l.WithContext(ctx).Info().
		Int64("keep_runs", keepRuns).
		Int64("current_revision", currentRev).
		Msg("compacting run history")
}

// LogCompactionComplete logs how many keys a compaction removed.
func (l *Logger) LogCompactionComplete(ctx context.Context, deletedCount int, took time.Duration) {
	l.WithContext(ctx).Info().
		Int("deleted_keys", deletedCount).
		Dur("took", took).
		Msg("run history compacted")
}

// LogRebuildComplete logs the peer-group index rebuild on open.
func (l *Logger) LogRebuildComplete(ctx context.Context, groupCount int, took time.Duration) {
	l.WithContext(ctx).Debug().
		Int("groups_indexed", groupCount).
		Dur("took", took).
		Msg("group index rebuilt")
}

func (l *Logger) LogStorageError(ctx context.Context, operation string, err error) {
	l.WithContext(ctx).Error().Err(err).Str("operation", operation).Msg("history operation failed")
}

// LogSkippedRow warns about an input row (1-based) left out of a run.
func (l *Logger) LogSkippedRow(ctx context.Context, row int, reason string) {
	l.WithContext(ctx).Warn().Int("row", row).Str("reason", reason).Msg("skipping row")
}
