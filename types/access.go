package types

import (
	"encoding/json"
	"sort"
	"strings"
)

// NoRolesSentinel is the single role recorded for a user with no assignments
const NoRolesSentinel = "no roles"

// DefaultRoleDelimiter separates roles inside AssignedRoles
const DefaultRoleDelimiter = ","

// RawAccessRow is one input line as exported by a source system
type RawAccessRow struct {
	Username      string `json:"username"`
	Department    string `json:"department"`
	Title         string `json:"title"`
	AssignedRoles string `json:"assigned_roles"`
}

// PeerKey returns the department and title the row is compared within
func (r RawAccessRow) PeerKey() (string, string) {
	return r.Department, r.Title
}

// UserAccessRecord is the consolidated role set of one user in one peer group.
// Records are built once by the normalizer and never mutated afterwards.
type UserAccessRecord struct {
	Username   string
	Department string
	Title      string
	roles      []string
	index      map[string]struct{}
}

// NewUserAccessRecord builds a record from roles in encounter order.
// Duplicates are dropped and an empty list becomes the no-roles sentinel.
func NewUserAccessRecord(username, department, title string, roles []string) UserAccessRecord {
	rec := UserAccessRecord{
		Username:   username,
		Department: department,
		Title:      title,
		index:      make(map[string]struct{}, len(roles)),
	}

	for _, role := range roles {
		if _, seen := rec.index[role]; seen {
			continue
		}
		rec.index[role] = struct{}{}
		rec.roles = append(rec.roles, role)
	}

	if len(rec.roles) == 0 {
		rec.roles = []string{NoRolesSentinel}
		rec.index[NoRolesSentinel] = struct{}{}
	}

	return rec
}

// Roles returns a copy of the role set in first-encounter order
func (u UserAccessRecord) Roles() []string {
	out := make([]string, len(u.roles))
	copy(out, u.roles)
	return out
}

// SortedRoles returns the role set in lexical order
func (u UserAccessRecord) SortedRoles() []string {
	out := u.Roles()
	sort.Strings(out)
	return out
}

// HasRole reports whether the user holds the role
func (u UserAccessRecord) HasRole(role string) bool {
	_, ok := u.index[role]
	return ok
}

// HasNoRoles reports whether the record carries only the sentinel
func (u UserAccessRecord) HasNoRoles() bool {
	return len(u.roles) == 1 && u.roles[0] == NoRolesSentinel
}

// MarshalJSON exposes the role set alongside the identity fields
func (u UserAccessRecord) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Username   string   `json:"username"`
		Department string   `json:"department"`
		Title      string   `json:"title"`
		Roles      []string `json:"roles"`
	}{u.Username, u.Department, u.Title, u.SortedRoles()})
}

// MarshalYAML mirrors MarshalJSON for yaml.v3
func (u UserAccessRecord) MarshalYAML() (interface{}, error) {
	return map[string]interface{}{
		"username":   u.Username,
		"department": u.Department,
		"title":      u.Title,
		"roles":      u.SortedRoles(),
	}, nil
}

// SplitRoles splits a delimited role list, trimming pieces and dropping empties
func SplitRoles(assigned, delimiter string) []string {
	if delimiter == "" {
		delimiter = DefaultRoleDelimiter
	}

	var roles []string
	for _, piece := range strings.Split(assigned, delimiter) {
		if role := strings.TrimSpace(piece); role != "" {
			roles = append(roles, role)
		}
	}
	return roles
}
