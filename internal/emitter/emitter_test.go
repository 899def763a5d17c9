package emitter

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	promclient "github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	otelprom "go.opentelemetry.io/otel/exporters/prometheus"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/yairfalse/arbiter/analyzer"
	"github.com/yairfalse/arbiter/reconciler"
	"github.com/yairfalse/arbiter/types"
)

// mockEmitter implements Emitter for testing.
type mockEmitter struct {
	emitCalls  int
	closeCalls int
	emitErr    error
	closeErr   error
}

func (m *mockEmitter) Emit(_ context.Context, _ *reconciler.RunResult) error {
	m.emitCalls++
	return m.emitErr
}

func (m *mockEmitter) Close() error {
	m.closeCalls++
	return m.closeErr
}

func sampleResult() *reconciler.RunResult {
	start := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	return &reconciler.RunResult{
		ID:         "run-1",
		Source:     "defi_los",
		StartedAt:  start,
		FinishedAt: start.Add(1500 * time.Millisecond),
		Rows:       12,
		Analysis: &analyzer.Result{
			Threshold: 70,
			Summary: analyzer.Summary{
				TotalGroups:        4,
				GroupsWithAdhoc:    1,
				GroupsStandardOnly: 3,
				TotalUsers:         12,
				ComplianceRate:     75,
			},
		},
		Actions: []types.RemediationAction{
			{ActionType: types.ActionGrantAccess, Priority: types.PriorityHigh},
			{ActionType: types.ActionReviewAccess, Priority: types.PriorityMedium},
			{ActionType: types.ActionReviewAccess, Priority: types.PriorityMedium},
		},
		Counts: reconciler.ActionCounts{Total: 3, Grant: 1, Review: 2},
		Drift: []reconciler.Diff{
			{Type: reconciler.DiffAdhocChanged, Department: "IT", Title: "Eng", Added: []string{"Prod"}},
		},
	}
}

func TestMultiEmitter_Emit(t *testing.T) {
	e1 := &mockEmitter{}
	e2 := &mockEmitter{}
	multi := NewMultiEmitter(e1, e2)

	require.NoError(t, multi.Emit(context.Background(), sampleResult()))
	assert.Equal(t, 1, e1.emitCalls)
	assert.Equal(t, 1, e2.emitCalls)
}

func TestMultiEmitter_Emit_Error(t *testing.T) {
	e1 := &mockEmitter{emitErr: errors.New("emit failed")}
	e2 := &mockEmitter{}
	multi := NewMultiEmitter(e1, e2)

	err := multi.Emit(context.Background(), sampleResult())

	assert.EqualError(t, err, "emit failed")
	assert.Equal(t, 1, e1.emitCalls)
	assert.Equal(t, 0, e2.emitCalls, "should stop at first error")
}

func TestMultiEmitter_Close(t *testing.T) {
	e1 := &mockEmitter{closeErr: errors.New("close 1")}
	e2 := &mockEmitter{closeErr: errors.New("close 2")}
	multi := NewMultiEmitter(e1, e2)

	err := multi.Close()

	require.Error(t, err)
	assert.Contains(t, err.Error(), "close 1")
	assert.Contains(t, err.Error(), "close 2")
	assert.Equal(t, 1, e1.closeCalls)
	assert.Equal(t, 1, e2.closeCalls, "all emitters are closed")
}

func TestLogEmitter(t *testing.T) {
	var buf bytes.Buffer
	logger := zerolog.New(&buf)

	e := NewLogEmitter(&logger)
	require.NoError(t, e.Emit(context.Background(), sampleResult()))
	require.NoError(t, e.Close())

	out := buf.String()
	assert.Contains(t, out, `"run_id":"run-1"`)
	assert.Contains(t, out, `"groups_with_adhoc":1`)
	assert.Contains(t, out, `"review_actions":2`)
	assert.Contains(t, out, `"component":"emitter"`)
}

func collect(t *testing.T, reader *sdkmetric.ManualReader) map[string]metricdata.Metrics {
	t.Helper()

	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))

	out := make(map[string]metricdata.Metrics)
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			out[m.Name] = m
		}
	}
	return out
}

func TestMetricsEmitter_Emit(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))

	e, err := NewMetricsEmitter(provider)
	require.NoError(t, err)
	require.NoError(t, e.Emit(context.Background(), sampleResult()))

	metrics := collect(t, reader)

	runs, ok := metrics["arbiter_runs"].Data.(metricdata.Sum[int64])
	require.True(t, ok)
	require.Len(t, runs.DataPoints, 1)
	assert.Equal(t, int64(1), runs.DataPoints[0].Value)

	actions, ok := metrics["arbiter_actions"].Data.(metricdata.Sum[int64])
	require.True(t, ok)
	var total int64
	for _, dp := range actions.DataPoints {
		total += dp.Value
	}
	assert.Equal(t, int64(3), total)
	assert.Len(t, actions.DataPoints, 2, "one series per type and priority")

	changes, ok := metrics["arbiter_group_changes"].Data.(metricdata.Sum[int64])
	require.True(t, ok)
	require.Len(t, changes.DataPoints, 1)

	groups, ok := metrics["arbiter_groups"].Data.(metricdata.Gauge[int64])
	require.True(t, ok)
	require.Len(t, groups.DataPoints, 1)
	assert.Equal(t, int64(4), groups.DataPoints[0].Value)

	compliance, ok := metrics["arbiter_compliance_rate"].Data.(metricdata.Gauge[float64])
	require.True(t, ok)
	require.Len(t, compliance.DataPoints, 1)
	assert.InDelta(t, 75.0, compliance.DataPoints[0].Value, 0.001)

	duration, ok := metrics["arbiter_run_duration"].Data.(metricdata.Histogram[float64])
	require.True(t, ok)
	require.Len(t, duration.DataPoints, 1)
	assert.InDelta(t, 1.5, duration.DataPoints[0].Sum, 0.001)
}

func TestMetricsEmitter_LatestRunPerSource(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))

	e, err := NewMetricsEmitter(provider)
	require.NoError(t, err)

	first := sampleResult()
	second := sampleResult()
	second.ID = "run-2"
	second.Analysis.Summary.TotalGroups = 9
	other := sampleResult()
	other.Source = "great_plains"

	for _, r := range []*reconciler.RunResult{first, second, other} {
		require.NoError(t, e.Emit(context.Background(), r))
	}

	groups := collect(t, reader)["arbiter_groups"].Data.(metricdata.Gauge[int64])
	require.Len(t, groups.DataPoints, 2)

	values := map[string]int64{}
	for _, dp := range groups.DataPoints {
		source, _ := dp.Attributes.Value("source")
		values[source.AsString()] = dp.Value
	}
	assert.Equal(t, int64(9), values["defi_los"])
	assert.Equal(t, int64(4), values["great_plains"])
}

func TestWriteTextfile(t *testing.T) {
	registry := promclient.NewRegistry()
	exporter, err := otelprom.New(otelprom.WithRegisterer(registry))
	require.NoError(t, err)
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(exporter))

	e, err := NewMetricsEmitter(provider)
	require.NoError(t, err)
	require.NoError(t, e.Emit(context.Background(), sampleResult()))

	path := filepath.Join(t.TempDir(), "arbiter.prom")
	require.NoError(t, WriteTextfile(path, registry))

	content, err := os.ReadFile(path)
	require.NoError(t, err)
	text := string(content)
	assert.True(t, strings.Contains(text, "arbiter_runs"), "runs counter exported")
	assert.True(t, strings.Contains(text, `source="defi_los"`))

	// textfile collectors only parse the classic exposition format
	assert.False(t, strings.Contains(text, `{"arbiter`), "metric names must not need quoting")
	for _, family := range []string{"\narbiter_runs_total{", "\narbiter_groups{", "\narbiter_run_duration_seconds_sum{"} {
		assert.Contains(t, text, family)
	}
}

func TestWriteTextfile_NoRegistry(t *testing.T) {
	path := filepath.Join(t.TempDir(), "x.prom")
	err := WriteTextfile(path, nil)
	assert.ErrorIs(t, err, ErrNoRegistry)
}
