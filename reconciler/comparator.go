package reconciler

import (
	"fmt"
	"sort"

	"github.com/yairfalse/arbiter/analyzer"
	"github.com/yairfalse/arbiter/storage"
)

// SimpleComparator compares peer-group snapshots by role sets
type SimpleComparator struct{}

// NewSimpleComparator creates a new simple comparator
func NewSimpleComparator() *SimpleComparator {
	return &SimpleComparator{}
}

// Compare lists new, removed and drifted groups in peer-key order
func (c *SimpleComparator) Compare(previous, current []storage.GroupSnapshot) []Diff {
	previousMap := buildGroupMap(previous)
	currentMap := buildGroupMap(current)

	var diffs []Diff
	diffs = append(diffs, c.findNewGroups(previousMap, currentMap)...)
	diffs = append(diffs, c.findRemovedGroups(previousMap, currentMap)...)
	diffs = append(diffs, c.findDriftedGroups(previousMap, currentMap)...)

	sort.SliceStable(diffs, func(i, j int) bool {
		a := analyzer.GroupKey{Department: diffs[i].Department, Title: diffs[i].Title}
		b := analyzer.GroupKey{Department: diffs[j].Department, Title: diffs[j].Title}
		return a.Less(b)
	})
	return diffs
}

// findNewGroups finds groups present now but not in the previous run
func (c *SimpleComparator) findNewGroups(previousMap, currentMap map[analyzer.GroupKey]storage.GroupSnapshot) []Diff {
	var diffs []Diff
	for key, snap := range currentMap {
		if _, exists := previousMap[key]; !exists {
			diffs = append(diffs, Diff{
				Type:       DiffNewGroup,
				Department: key.Department,
				Title:      key.Title,
				Added:      append(append([]string(nil), snap.StandardRoles...), snap.AdhocRoles...),
				Reason:     fmt.Sprintf("Peer group first seen with %d users", snap.TotalUsers),
			})
		}
	}
	return diffs
}

// findRemovedGroups finds groups from the previous run that are gone
func (c *SimpleComparator) findRemovedGroups(previousMap, currentMap map[analyzer.GroupKey]storage.GroupSnapshot) []Diff {
	var diffs []Diff
	for key := range previousMap {
		if _, exists := currentMap[key]; !exists {
			diffs = append(diffs, Diff{
				Type:       DiffRemovedGroup,
				Department: key.Department,
				Title:      key.Title,
				Reason:     "Peer group no longer present in the export",
			})
		}
	}
	return diffs
}

// findDriftedGroups finds groups present in both runs whose role sets differ
func (c *SimpleComparator) findDriftedGroups(previousMap, currentMap map[analyzer.GroupKey]storage.GroupSnapshot) []Diff {
	var diffs []Diff
	for key, prev := range previousMap {
		cur, exists := currentMap[key]
		if !exists {
			continue
		}

		if added, removed := setDiff(prev.StandardRoles, cur.StandardRoles); len(added)+len(removed) > 0 {
			diffs = append(diffs, Diff{
				Type:       DiffStandardChanged,
				Department: key.Department,
				Title:      key.Title,
				Added:      added,
				Removed:    removed,
				Reason:     "Standard role set changed",
			})
		}
		if added, removed := setDiff(prev.AdhocRoles, cur.AdhocRoles); len(added)+len(removed) > 0 {
			diffs = append(diffs, Diff{
				Type:       DiffAdhocChanged,
				Department: key.Department,
				Title:      key.Title,
				Added:      added,
				Removed:    removed,
				Reason:     "Ad-hoc role set changed",
			})
		}
	}
	return diffs
}

// buildGroupMap creates a map of snapshots keyed by peer key
func buildGroupMap(groups []storage.GroupSnapshot) map[analyzer.GroupKey]storage.GroupSnapshot {
	groupMap := make(map[analyzer.GroupKey]storage.GroupSnapshot, len(groups))
	for _, g := range groups {
		groupMap[g.Key()] = g
	}
	return groupMap
}

// setDiff returns sorted members only in after (added) and only in before (removed)
func setDiff(before, after []string) (added, removed []string) {
	inBefore := make(map[string]bool, len(before))
	for _, r := range before {
		inBefore[r] = true
	}
	inAfter := make(map[string]bool, len(after))
	for _, r := range after {
		inAfter[r] = true
		if !inBefore[r] {
			added = append(added, r)
		}
	}
	for _, r := range before {
		if !inAfter[r] {
			removed = append(removed, r)
		}
	}
	sort.Strings(added)
	sort.Strings(removed)
	return added, removed
}
