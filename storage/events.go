package storage

import (
	"fmt"
	"time"

	"github.com/yairfalse/arbiter/analyzer"
)

// RunRecord is the stored outcome of one analysis run
type RunRecord struct {
	ID         string           `json:"id"`
	Revision   int64            `json:"revision"`
	Source     string           `json:"source"`
	Threshold  int              `json:"threshold"`
	StartedAt  time.Time        `json:"started_at"`
	FinishedAt time.Time        `json:"finished_at"`
	Rows       int              `json:"rows"`
	Summary    analyzer.Summary `json:"summary"`
	Actions    map[string]int   `json:"actions,omitempty"`
	Groups     []GroupSnapshot  `json:"groups"`
}

// Duration returns how long the run took
func (r *RunRecord) Duration() time.Duration {
	return r.FinishedAt.Sub(r.StartedAt)
}

// GroupSnapshot is a peer group's classification as of one run
type GroupSnapshot struct {
	Department    string   `json:"department"`
	Title         string   `json:"title"`
	RunID         string   `json:"run_id"`
	Revision      int64    `json:"revision"`
	TotalUsers    int      `json:"total_users"`
	StandardRoles []string `json:"standard_roles"`
	AdhocRoles    []string `json:"adhoc_roles"`
}

// Key returns the snapshot's peer key
func (g GroupSnapshot) Key() analyzer.GroupKey {
	return analyzer.GroupKey{Department: g.Department, Title: g.Title}
}

// SnapshotGroups flattens classified groups into storable snapshots
func SnapshotGroups(groups []analyzer.GroupAnalysis) []GroupSnapshot {
	out := make([]GroupSnapshot, 0, len(groups))
	for _, g := range groups {
		out = append(out, GroupSnapshot{
			Department:    g.Department,
			Title:         g.Title,
			TotalUsers:    g.TotalUsers,
			StandardRoles: roleNames(g.StandardRoles),
			AdhocRoles:    roleNames(g.AdhocRoles),
		})
	}
	return out
}

func roleNames(roles []analyzer.RoleClassification) []string {
	names := make([]string, 0, len(roles))
	for _, r := range roles {
		names = append(names, r.Role)
	}
	return names
}

// DriftEvent records how a peer group changed between two runs
type DriftEvent struct {
	Department string    `json:"department"`
	Title      string    `json:"title"`
	DriftType  string    `json:"drift_type"` // new_group, removed_group, standard_changed, adhoc_changed
	RunID      string    `json:"run_id"`
	PreviousID string    `json:"previous_id,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
	Added      []string  `json:"added,omitempty"`
	Removed    []string  `json:"removed,omitempty"`
	Severity   string    `json:"severity"` // low, medium, high
}

// validateRun validates a RunRecord before storage
func validateRun(r *RunRecord) error {
	if r == nil {
		return fmt.Errorf("run record cannot be nil")
	}
	if r.ID == "" {
		return fmt.Errorf("run id cannot be empty")
	}
	return nil
}

// validateDriftEvent validates a DriftEvent before storage
func validateDriftEvent(e DriftEvent) error {
	if e.RunID == "" {
		return fmt.Errorf("drift event run_id cannot be empty")
	}
	if e.DriftType == "" {
		return fmt.Errorf("drift event drift_type cannot be empty")
	}
	if e.Severity == "" {
		return fmt.Errorf("drift event severity cannot be empty")
	}
	return nil
}
