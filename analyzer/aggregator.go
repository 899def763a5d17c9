package analyzer

import (
	"sort"

	"github.com/yairfalse/arbiter/types"
)

// GroupKey identifies a peer group
type GroupKey struct {
	Department string `json:"department"`
	Title      string `json:"title"`
}

// Less orders groups by department, then title
func (k GroupKey) Less(other GroupKey) bool {
	if k.Department != other.Department {
		return k.Department < other.Department
	}
	return k.Title < other.Title
}

// String renders the key as department/title
func (k GroupKey) String() string {
	return k.Department + "/" + k.Title
}

// PeerGroup holds the members of one (department, title) group and how many of them hold each role.
// A group only exists once it has a member, so TotalUsers is never zero.
type PeerGroup struct {
	Key GroupKey

	members    map[string]types.UserAccessRecord
	userOrder  []string
	counted    map[string]map[string]struct{}
	roleCounts map[string]int
	roleOrder  []string
}

// newPeerGroup creates a group seeded with its first member
func newPeerGroup(first types.UserAccessRecord) *PeerGroup {
	g := &PeerGroup{
		Key:        GroupKey{Department: first.Department, Title: first.Title},
		members:    make(map[string]types.UserAccessRecord),
		counted:    make(map[string]map[string]struct{}),
		roleCounts: make(map[string]int),
	}
	g.add(first)
	return g
}

// add merges a record into the group, counting each (user, role) pair once
func (g *PeerGroup) add(rec types.UserAccessRecord) {
	existing, isMember := g.members[rec.Username]
	if !isMember {
		g.userOrder = append(g.userOrder, rec.Username)
		g.counted[rec.Username] = make(map[string]struct{})
		g.members[rec.Username] = rec
	} else {
		merged := append(existing.Roles(), rec.Roles()...)
		g.members[rec.Username] = types.NewUserAccessRecord(rec.Username, rec.Department, rec.Title, merged)
	}

	seen := g.counted[rec.Username]
	for _, role := range rec.Roles() {
		if _, done := seen[role]; done {
			continue
		}
		seen[role] = struct{}{}

		if _, known := g.roleCounts[role]; !known {
			g.roleOrder = append(g.roleOrder, role)
		}
		g.roleCounts[role]++
	}
}

// TotalUsers returns the number of distinct members
func (g *PeerGroup) TotalUsers() int {
	return len(g.userOrder)
}

// RoleCount returns how many distinct members hold role
func (g *PeerGroup) RoleCount(role string) int {
	return g.roleCounts[role]
}

// Roles returns every role held in the group in first-encounter order
func (g *PeerGroup) Roles() []string {
	out := make([]string, len(g.roleOrder))
	copy(out, g.roleOrder)
	return out
}

// Members returns the member records sorted by username
func (g *PeerGroup) Members() []types.UserAccessRecord {
	names := make([]string, len(g.userOrder))
	copy(names, g.userOrder)
	sort.Strings(names)

	out := make([]types.UserAccessRecord, 0, len(names))
	for _, name := range names {
		out = append(out, g.members[name])
	}
	return out
}

// Aggregate builds peer groups from normalized records, in first-encounter order
func Aggregate(records []types.UserAccessRecord) []*PeerGroup {
	var groups []*PeerGroup
	byKey := make(map[GroupKey]*PeerGroup)

	for _, rec := range records {
		key := GroupKey{Department: rec.Department, Title: rec.Title}
		if g, ok := byKey[key]; ok {
			g.add(rec)
			continue
		}

		g := newPeerGroup(rec)
		byKey[key] = g
		groups = append(groups, g)
	}

	return groups
}
