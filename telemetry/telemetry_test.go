package telemetry

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	dto "github.com/prometheus/client_model/go"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func contextWithSpan(t *testing.T) context.Context {
	t.Helper()
	exporter := tracetest.NewInMemoryExporter()
	provider := trace.NewTracerProvider(trace.WithSyncer(exporter))
	ctx, span := provider.Tracer("test").Start(context.Background(), "test-span")
	t.Cleanup(func() { span.End() })
	return ctx
}

func decodeLine(t *testing.T, buf *bytes.Buffer) map[string]interface{} {
	t.Helper()
	var fields map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &fields))
	return fields
}

func TestTraceHook_Run(t *testing.T) {
	tests := []struct {
		name        string
		ctx         func(t *testing.T) context.Context
		expectTrace bool
	}{
		{
			name:        "context without span",
			ctx:         func(*testing.T) context.Context { return context.Background() },
			expectTrace: false,
		},
		{
			name:        "context with valid span",
			ctx:         contextWithSpan,
			expectTrace: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			logger := zerolog.New(&buf).Hook(TraceHook{})

			logger.Info().Ctx(tt.ctx(t)).Msg("hello")

			fields := decodeLine(t, &buf)
			_, hasTrace := fields["trace_id"]
			_, hasSpan := fields["span_id"]
			assert.Equal(t, tt.expectTrace, hasTrace)
			assert.Equal(t, tt.expectTrace, hasSpan)
		})
	}
}

func TestLogger_WithContext(t *testing.T) {
	var buf bytes.Buffer
	l := &Logger{Logger: zerolog.New(&buf).With().Str("component", "test").Logger().Hook(TraceHook{})}

	l.WithContext(contextWithSpan(t)).Info().Msg("traced")

	fields := decodeLine(t, &buf)
	assert.Equal(t, "test", fields["component"])
	assert.NotEmpty(t, fields["trace_id"])
}

func TestLogger_LogStageStart(t *testing.T) {
	var buf bytes.Buffer
	l := &Logger{Logger: zerolog.New(&buf).Level(zerolog.DebugLevel)}

	l.LogStageStart(context.Background(), "analyze",
		attribute.String("source", "access_review"),
		attribute.Int64("rows", 12),
		attribute.Float64("threshold", 70),
		attribute.Bool("quiet", true),
	)

	fields := decodeLine(t, &buf)
	assert.Equal(t, "analyze", fields["stage"])
	assert.Equal(t, "access_review", fields["source"])
	assert.Equal(t, float64(12), fields["rows"])
	assert.Equal(t, float64(70), fields["threshold"])
	assert.Equal(t, true, fields["quiet"])
}

func TestLogger_LogStageEnd(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		wantLevel string
		wantMsg   string
	}{
		{"success", nil, "debug", "stage completed"},
		{"failure", errors.New("boom"), "error", "stage failed"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			l := &Logger{Logger: zerolog.New(&buf).Level(zerolog.DebugLevel)}

			l.LogStageEnd(context.Background(), "reconciler.run", tt.err)

			fields := decodeLine(t, &buf)
			assert.Equal(t, tt.wantLevel, fields["level"])
			assert.Equal(t, tt.wantMsg, fields["message"])
			assert.Equal(t, "reconciler.run", fields["stage"])
		})
	}
}

func TestLogger_LogSkippedRow(t *testing.T) {
	var buf bytes.Buffer
	l := &Logger{Logger: zerolog.New(&buf)}

	l.LogSkippedRow(context.Background(), 7, "missing username")

	fields := decodeLine(t, &buf)
	assert.Equal(t, "warn", fields["level"])
	assert.Equal(t, float64(7), fields["row"])
	assert.Equal(t, "missing username", fields["reason"])
}

func TestInitOTEL_WithoutEndpoint(t *testing.T) {
	shutdown, err := InitOTEL(context.Background(), Config{ServiceVersion: "test"})
	require.NoError(t, err)
	defer func() { _ = shutdown(context.Background()) }()

	require.NotNil(t, PrometheusRegistry)
	require.NotNil(t, HistoryWrites)

	RecordHistoryWrite(context.Background(), 3)
	RecordJournalEntry(context.Background(), "loaded")
	RecordDirectoryLookup(context.Background(), "primary")

	families, err := PrometheusRegistry.Gather()
	require.NoError(t, err)

	assert.True(t, hasFamily(families, "arbiter_history_writes"))
	assert.True(t, hasFamily(families, "arbiter_journal_entries"))
}

func hasFamily(families []*dto.MetricFamily, prefix string) bool {
	for _, mf := range families {
		if strings.HasPrefix(mf.GetName(), prefix) {
			return true
		}
	}
	return false
}
