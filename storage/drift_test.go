package storage

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStoreDriftEvents(t *testing.T) {
	history, err := NewHistory(t.TempDir())
	require.NoError(t, err)
	defer func() { _ = history.Close() }()

	ctx := context.Background()
	base := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)

	events := []DriftEvent{
		{Department: "IT", Title: "Engineer", DriftType: "new_group", RunID: "r2", Severity: "low", Timestamp: base},
		{Department: "HR", Title: "Partner", DriftType: "adhoc_changed", RunID: "r2", Severity: "medium",
			Added: []string{"Payroll"}, Timestamp: base},
		{Department: "Ops", Title: "Lead", DriftType: "removed_group", RunID: "r3", Severity: "low",
			Timestamp: base.Add(time.Hour)},
	}
	require.NoError(t, history.StoreDriftEvents(ctx, events))

	all, err := history.QueryDriftSince(ctx, time.Time{})
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, "IT", all[0].Department)
	assert.Equal(t, []string{"Payroll"}, all[1].Added)

	later, err := history.QueryDriftSince(ctx, base.Add(time.Minute))
	require.NoError(t, err)
	require.Len(t, later, 1)
	assert.Equal(t, "removed_group", later[0].DriftType)
}

func TestStoreDriftEvents_Validation(t *testing.T) {
	history, err := NewHistory(t.TempDir())
	require.NoError(t, err)
	defer func() { _ = history.Close() }()

	tests := []struct {
		name  string
		event DriftEvent
	}{
		{"missing run id", DriftEvent{DriftType: "new_group", Severity: "low"}},
		{"missing type", DriftEvent{RunID: "r", Severity: "low"}},
		{"missing severity", DriftEvent{RunID: "r", DriftType: "new_group"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := history.StoreDriftEvents(context.Background(), []DriftEvent{tt.event})
			assert.Error(t, err)
		})
	}

	assert.NoError(t, history.StoreDriftEvents(context.Background(), nil))
}

func TestQueryDriftSince_Cancelled(t *testing.T) {
	history, err := NewHistory(t.TempDir())
	require.NoError(t, err)
	defer func() { _ = history.Close() }()

	require.NoError(t, history.StoreDriftEvents(context.Background(), []DriftEvent{
		{DriftType: "new_group", RunID: "r", Severity: "low"},
	}))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err = history.QueryDriftSince(ctx, time.Time{})
	assert.ErrorIs(t, err, context.Canceled)
}
