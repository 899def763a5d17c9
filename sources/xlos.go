package sources

import (
	"github.com/yairfalse/arbiter/directory"
	"github.com/yairfalse/arbiter/internal/filter"
	"github.com/yairfalse/arbiter/types"
)

const (
	columnXLOSUserID   = "UserId"
	columnXLOSEmail    = "Email"
	columnXLOSFullName = "FullName"
	columnXLOSStatus   = "Status"
	xlosDepartment     = "Defi XLOS"
)

// DefiXLOS reads the XLOS user export
type DefiXLOS struct{}

func (DefiXLOS) Name() string { return "defi_xlos" }

func (DefiXLOS) Description() string {
	return "Defi XLOS export; UserId lookup with Email fallback, disabled users excluded"
}

func (DefiXLOS) RequiredColumns() []string { return []string{columnXLOSUserID} }

func (DefiXLOS) Filter([]string) *filter.Filter {
	return filter.New(nil, map[string][]string{columnXLOSStatus: {"Disabled"}})
}

func (DefiXLOS) Skip(row Row) bool { return row.Get(columnXLOSUserID) == "" }

func (DefiXLOS) Identifiers(row Row, _ []string) (string, string) {
	return row.Get(columnXLOSUserID), row.Get(columnXLOSEmail)
}

func (DefiXLOS) Lookup(primary, backup string) []directory.Step {
	return primaryThenBackup(primary, backup)
}

func (DefiXLOS) PeerKey(row Row, id Identity) (string, string) {
	return entryPeerKey(id, xlosDepartment, firstNonEmpty(row.Get(columnXLOSFullName), id.Username()))
}

// ExtractRoles reads Role or Roles when the export carries one
func (DefiXLOS) ExtractRoles(row Row, _ []string) []string {
	for _, col := range []string{"Role", "Roles"} {
		if row.Has(col) {
			return types.SplitRoles(row.Get(col), types.DefaultRoleDelimiter)
		}
	}
	return nil
}
