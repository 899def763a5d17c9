package sources

import (
	"github.com/yairfalse/arbiter/directory"
	"github.com/yairfalse/arbiter/internal/filter"
)

const columnSecurityRoleID = "SECURITYROLEID"

// GreatPlains reads the ERP security export, where username holds a full name
type GreatPlains struct{}

func (GreatPlains) Name() string { return "great_plains" }

func (GreatPlains) Description() string {
	return "Great Plains ERP export; full name lookup by displayName then given name and surname"
}

func (GreatPlains) RequiredColumns() []string {
	return []string{ColumnUsername, columnSecurityRoleID}
}

func (GreatPlains) Filter([]string) *filter.Filter { return nil }

func (GreatPlains) Skip(row Row) bool { return row.Get(ColumnUsername) == "" }

func (GreatPlains) Identifiers(row Row, _ []string) (string, string) {
	return row.Get(ColumnUsername), ""
}

func (GreatPlains) Lookup(primary, _ string) []directory.Step {
	steps := []directory.Step{
		{Method: directory.MethodDisplayName, Query: directory.ByDisplayName{Name: primary}},
	}
	if given, surname, ok := directory.SplitFullName(primary); ok {
		steps = append(steps, directory.Step{
			Method: directory.MethodNameComponents,
			Query:  directory.ByNameComponents{Given: given, Surname: surname},
		})
	}
	return steps
}

// PeerKey falls back to the export's own department and title columns
func (GreatPlains) PeerKey(row Row, id Identity) (string, string) {
	return entryPeerKey(id, row.Get(ColumnDepartment), row.Get(ColumnTitle))
}

func (GreatPlains) ExtractRoles(row Row, _ []string) []string {
	if role := row.Get(columnSecurityRoleID); role != "" {
		return []string{role}
	}
	return nil
}
