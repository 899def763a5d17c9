package sources

import (
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/yairfalse/arbiter/directory"
	"github.com/yairfalse/arbiter/internal/filter"
)

const (
	columnApplicationUserID = "Application User ID"
	columnUserStatusCode    = "User Status Code"
	columnMasterRoleDesc    = "Master Role Desc"
	servicingDepartment     = "Defi Servicing"
)

// DefiServicing reads the loan servicing user export
type DefiServicing struct{}

func (DefiServicing) Name() string { return "defi_servicing" }

func (DefiServicing) Description() string {
	return "Defi Servicing export; SFSE prefix stripped, deleted and disabled users excluded"
}

func (DefiServicing) RequiredColumns() []string {
	return []string{columnApplicationUserID, columnMasterRoleDesc}
}

func (DefiServicing) Filter([]string) *filter.Filter {
	return filter.New(nil, map[string][]string{columnUserStatusCode: {"DELETED", "DISABLED"}})
}

func (DefiServicing) Skip(row Row) bool { return row.Get(columnApplicationUserID) == "" }

// Identifiers strips the SFSE. or SFSE prefix from the application user ID
func (DefiServicing) Identifiers(row Row, _ []string) (string, string) {
	raw := row.Get(columnApplicationUserID)

	switch {
	case strings.HasPrefix(raw, "SFSE."):
		return raw[len("SFSE."):], ""
	case strings.HasPrefix(raw, "SFSE"):
		return raw[len("SFSE"):], ""
	default:
		log.Debug().
			Str("user_id", raw).
			Msg("application user ID has no SFSE prefix")
		return raw, ""
	}
}

func (DefiServicing) Lookup(primary, _ string) []directory.Step {
	return primaryThenBackup(primary, "")
}

func (DefiServicing) PeerKey(_ Row, id Identity) (string, string) {
	return entryPeerKey(id, servicingDepartment, id.Username())
}

func (DefiServicing) ExtractRoles(row Row, _ []string) []string {
	if role := row.Get(columnMasterRoleDesc); role != "" {
		return []string{role}
	}
	return nil
}
