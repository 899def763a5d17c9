package analyzer

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yairfalse/arbiter/types"
)

func salesRows() []types.RawAccessRow {
	return []types.RawAccessRow{
		{Username: "alice", Department: "Sales", Title: "Rep", AssignedRoles: "CRM,Email"},
		{Username: "bob", Department: "Sales", Title: "Rep", AssignedRoles: "CRM,Email"},
		{Username: "carol", Department: "Sales", Title: "Rep", AssignedRoles: "Email"},
	}
}

func TestNew_ThresholdValidation(t *testing.T) {
	tests := []struct {
		name      string
		threshold int
		wantErr   bool
	}{
		{name: "zero uses default", threshold: 0},
		{name: "lower bound", threshold: 1},
		{name: "upper bound", threshold: 100},
		{name: "negative", threshold: -5, wantErr: true},
		{name: "above range", threshold: 101, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a, err := New(Config{Threshold: tt.threshold})
			if tt.wantErr {
				var cfgErr *ConfigError
				require.Error(t, err)
				assert.True(t, errors.As(err, &cfgErr))
				assert.Equal(t, "threshold", cfgErr.Param)
				return
			}
			require.NoError(t, err)
			if tt.threshold == 0 {
				assert.Equal(t, DefaultThreshold, a.Threshold())
			}
		})
	}
}

func TestNew_NegativeParallelism(t *testing.T) {
	_, err := New(Config{Threshold: 70, Parallelism: -1})
	var cfgErr *ConfigError
	require.ErrorAs(t, err, &cfgErr)
	assert.Equal(t, "parallelism", cfgErr.Param)
}

func TestAnalyze_SalesScenario(t *testing.T) {
	a, err := New(Config{Threshold: 70})
	require.NoError(t, err)

	result, err := a.Analyze(context.Background(), salesRows())
	require.NoError(t, err)
	require.Len(t, result.Groups, 1)

	g := result.Groups[0]
	assert.Equal(t, "Sales", g.Department)
	assert.Equal(t, "Rep", g.Title)
	assert.Equal(t, 3, g.TotalUsers)

	require.Len(t, g.StandardRoles, 1)
	assert.Equal(t, "Email", g.StandardRoles[0].Role)
	assert.Equal(t, 3, g.StandardRoles[0].Count)
	assert.InDelta(t, 100.0, g.StandardRoles[0].Percentage, 0.001)

	require.Len(t, g.AdhocRoles, 1)
	assert.Equal(t, "CRM", g.AdhocRoles[0].Role)
	assert.Equal(t, 2, g.AdhocRoles[0].Count)
	assert.InDelta(t, 66.667, g.AdhocRoles[0].Percentage, 0.001)
	assert.True(t, g.HasAdhocAssignments)

	assert.Equal(t, Summary{
		TotalGroups:        1,
		GroupsWithAdhoc:    1,
		GroupsStandardOnly: 0,
		TotalStandardRoles: 1,
		TotalAdhocRoles:    1,
		TotalUsers:         3,
		ComplianceRate:     0,
	}, result.Summary)
}

func TestAnalyze_EmptyInput(t *testing.T) {
	a, err := New(Config{Threshold: 70})
	require.NoError(t, err)

	result, err := a.Analyze(context.Background(), nil)
	require.NoError(t, err)

	assert.True(t, result.IsEmpty())
	assert.Equal(t, Summary{}, result.Summary)
	assert.Equal(t, 0.0, result.Summary.ComplianceRate)
}

func TestAnalyze_GroupsSortedByDepartmentThenTitle(t *testing.T) {
	rows := []types.RawAccessRow{
		{Username: "u1", Department: "Sales", Title: "Rep", AssignedRoles: "CRM"},
		{Username: "u2", Department: "Finance", Title: "Manager", AssignedRoles: "Ledger"},
		{Username: "u3", Department: "Finance", Title: "Analyst", AssignedRoles: "Ledger"},
		{Username: "u4", Department: "Collections", Title: "Collector", AssignedRoles: "Dialer"},
	}

	a, err := New(Config{Threshold: 70})
	require.NoError(t, err)

	result, err := a.Analyze(context.Background(), rows)
	require.NoError(t, err)

	var keys []string
	for _, g := range result.Groups {
		keys = append(keys, g.Key().String())
	}
	assert.Equal(t, []string{"Collections/Collector", "Finance/Analyst", "Finance/Manager", "Sales/Rep"}, keys)
}

func TestAnalyze_SummaryPartitionsGroups(t *testing.T) {
	rows := []types.RawAccessRow{
		{Username: "a", Department: "Ops", Title: "Tech", AssignedRoles: "Shell"},
		{Username: "b", Department: "Ops", Title: "Tech", AssignedRoles: "Shell"},
		{Username: "c", Department: "Ops", Title: "Lead", AssignedRoles: "Shell,Admin"},
		{Username: "d", Department: "Ops", Title: "Lead", AssignedRoles: "Shell"},
		{Username: "e", Department: "Ops", Title: "Lead", AssignedRoles: "Shell"},
		{Username: "f", Department: "HR", Title: "Clerk", AssignedRoles: ""},
	}

	a, err := New(Config{Threshold: 70})
	require.NoError(t, err)

	result, err := a.Analyze(context.Background(), rows)
	require.NoError(t, err)

	s := result.Summary
	assert.Equal(t, 3, s.TotalGroups)
	assert.Equal(t, s.TotalGroups, s.GroupsStandardOnly+s.GroupsWithAdhoc)
	assert.Equal(t, 1, s.GroupsWithAdhoc)
	assert.Equal(t, 6, s.TotalUsers)
	assert.InDelta(t, 66.667, s.ComplianceRate, 0.001)
}

func TestAnalyze_NoRolesIsClassifiedLikeAnyRole(t *testing.T) {
	rows := []types.RawAccessRow{
		{Username: "f", Department: "HR", Title: "Clerk", AssignedRoles: " , "},
	}

	a, err := New(Config{Threshold: 70})
	require.NoError(t, err)

	result, err := a.Analyze(context.Background(), rows)
	require.NoError(t, err)
	require.Len(t, result.Groups, 1)
	require.Len(t, result.Groups[0].StandardRoles, 1)
	assert.Equal(t, types.NoRolesSentinel, result.Groups[0].StandardRoles[0].Role)
}

func TestAnalyze_ParallelMatchesSerial(t *testing.T) {
	var rows []types.RawAccessRow
	for d := 0; d < 5; d++ {
		for u := 0; u < 12; u++ {
			roles := "Base"
			if u%3 == 0 {
				roles += ",Extra"
			}
			if u%5 == 0 {
				roles += ",Rare"
			}
			rows = append(rows, types.RawAccessRow{
				Username:      fmt.Sprintf("user%02d", u),
				Department:    fmt.Sprintf("Dept%d", d),
				Title:         "Staff",
				AssignedRoles: roles,
			})
		}
	}

	serial, err := New(Config{Threshold: 30})
	require.NoError(t, err)
	parallel, err := New(Config{Threshold: 30, Parallelism: 4})
	require.NoError(t, err)

	want, err := serial.Analyze(context.Background(), rows)
	require.NoError(t, err)
	got, err := parallel.Analyze(context.Background(), rows)
	require.NoError(t, err)

	assert.Equal(t, want.Summary, got.Summary)
	require.Len(t, got.Groups, len(want.Groups))
	for i := range want.Groups {
		assert.Equal(t, want.Groups[i].RoleAnalysis, got.Groups[i].RoleAnalysis)
	}
}

func TestAnalyze_CancelledContext(t *testing.T) {
	a, err := New(Config{Threshold: 70})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	result, err := a.Analyze(ctx, salesRows())
	assert.ErrorIs(t, err, context.Canceled)
	assert.Nil(t, result)
}

func TestAnalyze_Deterministic(t *testing.T) {
	a, err := New(Config{Threshold: 50})
	require.NoError(t, err)

	first, err := a.Analyze(context.Background(), salesRows())
	require.NoError(t, err)
	second, err := a.Analyze(context.Background(), salesRows())
	require.NoError(t, err)

	assert.Equal(t, first.Summary, second.Summary)
	assert.Equal(t, first.Groups[0].RoleAnalysis, second.Groups[0].RoleAnalysis)
}
