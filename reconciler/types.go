package reconciler

import (
	"context"
	"time"

	"github.com/yairfalse/arbiter/analyzer"
	"github.com/yairfalse/arbiter/policy"
	"github.com/yairfalse/arbiter/storage"
	"github.com/yairfalse/arbiter/types"
	"github.com/yairfalse/arbiter/wal"
)

// Planner turns classified peer groups into remediation actions
type Planner interface {
	Plan(groups []analyzer.GroupAnalysis) []types.RemediationAction
}

// Comparator identifies how peer groups changed between two runs
type Comparator interface {
	Compare(previous, current []storage.GroupSnapshot) []Diff
}

// Reviewer annotates actions with policy flags
type Reviewer interface {
	Review(ctx context.Context, actions []types.RemediationAction, threshold int) ([]types.RemediationAction, policy.ReviewStats)
}

// Journal is the append-only run log
type Journal interface {
	Append(ctx context.Context, entryType wal.EntryType, runID string, data interface{}) error
	AppendError(ctx context.Context, entryType wal.EntryType, runID string, data interface{}, err error) error
}

// History stores finished runs and group drift
type History interface {
	RecordRun(ctx context.Context, run *storage.RunRecord) (int64, error)
	LatestRun(source string) (*storage.RunRecord, error)
	StoreDriftEvents(ctx context.Context, events []storage.DriftEvent) error
}

// Emitter publishes a finished run
type Emitter interface {
	Emit(ctx context.Context, result *RunResult) error
}

// Diff represents a change to one peer group since the previous run
type Diff struct {
	Type       DiffType `json:"type"`
	Department string   `json:"department"`
	Title      string   `json:"title"`
	Added      []string `json:"added,omitempty"`
	Removed    []string `json:"removed,omitempty"`
	Reason     string   `json:"reason"`
}

// DiffType categorizes a group change
type DiffType string

const (
	DiffNewGroup        DiffType = "new_group"        // Group absent from the previous run
	DiffRemovedGroup    DiffType = "removed_group"    // Group no longer present
	DiffStandardChanged DiffType = "standard_changed" // Standard role set differs
	DiffAdhocChanged    DiffType = "adhoc_changed"    // Ad-hoc role set differs
)

// Severity ranks how much attention a diff deserves
func (d Diff) Severity() string {
	switch d.Type {
	case DiffStandardChanged:
		return "medium"
	case DiffAdhocChanged:
		if len(d.Added) > 0 {
			return "high"
		}
		return "low"
	default:
		return "low"
	}
}

// RunInput is one batch of access rows to analyze
type RunInput struct {
	Source    string
	Rows      []types.RawAccessRow
	Threshold int // 0 uses the engine's analyzer default
}

// RunResult contains the outcome of one run
type RunResult struct {
	ID            string                    `json:"id" yaml:"id"`
	Source        string                    `json:"source" yaml:"source"`
	Revision      int64                     `json:"revision,omitempty" yaml:"revision,omitempty"`
	StartedAt     time.Time                 `json:"started_at" yaml:"started_at"`
	FinishedAt    time.Time                 `json:"finished_at" yaml:"finished_at"`
	Rows          int                       `json:"rows" yaml:"rows"`
	Analysis      *analyzer.Result          `json:"analysis" yaml:"analysis"`
	Actions       []types.RemediationAction `json:"actions" yaml:"actions"`
	Counts        ActionCounts              `json:"counts" yaml:"counts"`
	Review        *policy.ReviewStats       `json:"review,omitempty" yaml:"review,omitempty"`
	PreviousRunID string                    `json:"previous_run_id,omitempty" yaml:"previous_run_id,omitempty"`
	Drift         []Diff                    `json:"drift,omitempty" yaml:"drift,omitempty"`
}

// Duration returns how long the run took
func (r *RunResult) Duration() time.Duration {
	return r.FinishedAt.Sub(r.StartedAt)
}

// NeedsAttention reports whether any peer group carries ad-hoc roles
func (r *RunResult) NeedsAttention() bool {
	return r.Analysis != nil && r.Analysis.Summary.GroupsWithAdhoc > 0
}

// EngineOptions configure engine behavior
type EngineOptions struct {
	Analyzer  analyzer.Config
	KeepRuns  int64 // Compact history after each run when > 0
	SkipDrift bool
}
