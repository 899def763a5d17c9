package sources

import (
	"strings"

	"github.com/yairfalse/arbiter/directory"
	"github.com/yairfalse/arbiter/internal/filter"
	"github.com/yairfalse/arbiter/types"
)

const (
	ColumnDatascanUser  = "User Name"
	ColumnDatascanRoles = "User Role(s)"
	datascanDepartment  = "Datascan"
)

// DatascanPermissionColumns hold an X where the role grants the permission
var DatascanPermissionColumns = []string{"View", "Add/Edit", "Delete"}

// DatascanFillColumns are merged cells in the workbook and must be forward-filled
var DatascanFillColumns = []string{ColumnDatascanUser, ColumnDatascanRoles}

// Datascan reads the permission matrix workbook: one row per user, role and feature
type Datascan struct{}

func (Datascan) Name() string { return "datascan" }

func (Datascan) Description() string {
	return "Datascan permission workbook; rows without an X marker dropped, display name lookup"
}

func (Datascan) RequiredColumns() []string {
	return []string{ColumnDatascanUser, ColumnDatascanRoles}
}

func (Datascan) Filter([]string) *filter.Filter { return nil }

// Skip drops rows without a user or without any granted permission
func (Datascan) Skip(row Row) bool {
	if row.Get(ColumnDatascanUser) == "" {
		return true
	}
	for _, col := range DatascanPermissionColumns {
		if strings.EqualFold(row.Get(col), "x") {
			return false
		}
	}
	return true
}

func (Datascan) Identifiers(row Row, _ []string) (string, string) {
	return strings.Join(strings.Fields(row.Get(ColumnDatascanUser)), " "), ""
}

// Lookup tries the display name, then the name as an email, then first and last word
func (Datascan) Lookup(primary, _ string) []directory.Step {
	steps := []directory.Step{
		{Method: directory.MethodDisplayName, Query: directory.ByDisplayName{Name: primary}},
	}
	if strings.Contains(primary, "@") {
		steps = append(steps, directory.Step{Method: directory.MethodEmail, Query: directory.ByEmail{Address: primary}})
	}
	if parts := strings.Fields(primary); len(parts) >= 2 {
		steps = append(steps, directory.Step{
			Method: directory.MethodNameComponents,
			Query:  directory.ByNameComponents{Given: parts[0], Surname: parts[len(parts)-1]},
		})
	}
	return steps
}

func (Datascan) PeerKey(_ Row, id Identity) (string, string) {
	return entryPeerKey(id, datascanDepartment, id.Username())
}

func (Datascan) ExtractRoles(row Row, _ []string) []string {
	return types.SplitRoles(row.Get(ColumnDatascanRoles), types.DefaultRoleDelimiter)
}
