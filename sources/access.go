package sources

import (
	"github.com/yairfalse/arbiter/directory"
	"github.com/yairfalse/arbiter/internal/filter"
	"github.com/yairfalse/arbiter/types"
)

// Column names of the normalised access review export
const (
	ColumnUsername      = "username"
	ColumnDepartment    = "department"
	ColumnTitle         = "title"
	ColumnAssignedRoles = "assigned_roles"
)

// AccessReviewColumns is the header of an already-normalised export
var AccessReviewColumns = []string{ColumnUsername, ColumnDepartment, ColumnTitle, ColumnAssignedRoles}

// AccessReview reads exports that already carry department and title
type AccessReview struct{}

func (AccessReview) Name() string { return "access_review" }

func (AccessReview) Description() string {
	return "normalised username, department, title, assigned_roles export; no directory lookups"
}

func (AccessReview) RequiredColumns() []string { return AccessReviewColumns }

func (AccessReview) Filter([]string) *filter.Filter { return nil }

func (AccessReview) Skip(row Row) bool { return row.Get(ColumnUsername) == "" }

func (AccessReview) Identifiers(row Row, _ []string) (string, string) {
	return row.Get(ColumnUsername), ""
}

func (AccessReview) Lookup(string, string) []directory.Step { return nil }

func (AccessReview) PeerKey(row Row, _ Identity) (string, string) {
	return row.Get(ColumnDepartment), row.Get(ColumnTitle)
}

func (AccessReview) ExtractRoles(row Row, _ []string) []string {
	return types.SplitRoles(row.Get(ColumnAssignedRoles), types.DefaultRoleDelimiter)
}
