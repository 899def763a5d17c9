package analyzer

import (
	"sort"

	"github.com/yairfalse/arbiter/types"
)

// RoleClassification describes how widely a role is held within a peer group
type RoleClassification struct {
	Role       string  `json:"role" yaml:"role"`
	Count      int     `json:"count" yaml:"count"`
	TotalUsers int     `json:"total_users" yaml:"total_users"`
	Percentage float64 `json:"percentage" yaml:"percentage"`
	IsStandard bool    `json:"is_standard" yaml:"is_standard"`
}

// GroupAnalysis is the classified view of one peer group
type GroupAnalysis struct {
	Department          string                   `json:"department" yaml:"department"`
	Title               string                   `json:"title" yaml:"title"`
	TotalUsers          int                      `json:"total_users" yaml:"total_users"`
	RoleAnalysis        []RoleClassification     `json:"role_analysis" yaml:"role_analysis"`
	StandardRoles       []RoleClassification     `json:"standard_roles" yaml:"standard_roles"`
	AdhocRoles          []RoleClassification     `json:"adhoc_roles" yaml:"adhoc_roles"`
	HasAdhocAssignments bool                     `json:"has_adhoc_assignments" yaml:"has_adhoc_assignments"`
	Users               []types.UserAccessRecord `json:"users" yaml:"users"`
}

// HeldByAtLeast reports whether the role is held by at least pct percent of
// the group. The comparison is exact; Percentage is for display only.
func (rc RoleClassification) HeldByAtLeast(pct int) bool {
	return rc.Count*100 >= pct*rc.TotalUsers
}

// Key returns the group's peer key
func (g GroupAnalysis) Key() GroupKey {
	return GroupKey{Department: g.Department, Title: g.Title}
}

// Classify splits a group's roles into standard and ad-hoc at threshold percent.
// A role held by exactly threshold percent of the group is standard.
func Classify(group *PeerGroup, threshold int) GroupAnalysis {
	total := group.TotalUsers()

	all := make([]RoleClassification, 0, len(group.roleOrder))
	for _, role := range group.roleOrder {
		count := group.roleCounts[role]
		if count == 0 {
			continue
		}

		rc := RoleClassification{
			Role:       role,
			Count:      count,
			TotalUsers: total,
			Percentage: float64(count) / float64(total) * 100,
		}
		rc.IsStandard = rc.HeldByAtLeast(threshold)
		all = append(all, rc)
	}

	sortByPercentage(all)

	var standard, adhoc []RoleClassification
	for _, rc := range all {
		if rc.IsStandard {
			standard = append(standard, rc)
		} else {
			adhoc = append(adhoc, rc)
		}
	}

	return GroupAnalysis{
		Department:          group.Key.Department,
		Title:               group.Key.Title,
		TotalUsers:          total,
		RoleAnalysis:        all,
		StandardRoles:       standard,
		AdhocRoles:          adhoc,
		HasAdhocAssignments: len(adhoc) > 0,
		Users:               group.Members(),
	}
}

// sortByPercentage orders descending, keeping encounter order for ties
func sortByPercentage(roles []RoleClassification) {
	sort.SliceStable(roles, func(i, j int) bool {
		return roles[i].Percentage > roles[j].Percentage
	})
}
