package sources

import (
	"strings"

	"github.com/rs/zerolog/log"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/yairfalse/arbiter/directory"
	"github.com/yairfalse/arbiter/internal/filter"
)

const (
	columnLOSUserName = "User Name"
	losEmailIndex     = 9  // column J
	losActiveIndex    = 10 // column K
	losDepartment     = "Defi LOS"
	fundingMailbox    = "sfs.funding"
)

// losMetadataColumns are the non-role columns of the wide export
var losMetadataColumns = map[string]bool{
	"user name": true, "first name": true, "last name": true, "phone number": true,
	"cell phone number": true, "extension": true, "fax number": true, "employee id": true,
	"region": true, "email": true, "active?": true, "lastlogin?": true,
}

var truthyCells = map[string]bool{"yes": true, "y": true, "true": true, "1": true}

// DefiLOS reads the loan origination export: one row per user, one column per role
type DefiLOS struct{}

func (DefiLOS) Name() string { return "defi_los" }

func (DefiLOS) Description() string {
	return "Defi LOS wide export; role columns marked yes, active users only, email fallback lookup"
}

func (DefiLOS) RequiredColumns() []string { return []string{columnLOSUserName} }

// Filter keeps rows whose Active column (K) is yes
func (DefiLOS) Filter(headers []string) *filter.Filter {
	if len(headers) <= losActiveIndex {
		log.Warn().
			Int("columns", len(headers)).
			Msg("active column missing, no filtering applied")
		return nil
	}
	return filter.New(map[string][]string{headers[losActiveIndex]: {"yes"}}, nil).CaseInsensitive()
}

func (DefiLOS) Skip(row Row) bool { return row.Get(columnLOSUserName) == "" }

// Identifiers returns the user name and the local part of the email in column J
func (DefiLOS) Identifiers(row Row, headers []string) (string, string) {
	primary := row.Get(columnLOSUserName)

	var backup string
	if local, _, ok := strings.Cut(losEmail(row, headers), "@"); ok {
		backup = strings.TrimSpace(local)
	}
	return primary, backup
}

func (DefiLOS) Lookup(primary, backup string) []directory.Step {
	return primaryThenBackup(primary, backup)
}

// Drop discards unresolved users of the shared funding mailbox
func (DefiLOS) Drop(row Row, headers []string, id Identity) bool {
	if id.Method() != directory.MethodFailed {
		return false
	}
	if strings.Contains(strings.ToLower(losEmail(row, headers)), fundingMailbox) {
		log.Info().
			Str("username", id.Primary).
			Msg("dropping unresolved funding mailbox user")
		return true
	}
	return false
}

func (DefiLOS) PeerKey(_ Row, id Identity) (string, string) {
	username := id.Username()
	if e, ok := id.Entry(); ok {
		return firstNonEmpty(e.Department, losDepartment), firstNonEmpty(e.Title, e.FullName, username)
	}
	return losDepartment, username
}

// ExtractRoles returns the cleaned names of every role column marked truthy
func (DefiLOS) ExtractRoles(row Row, headers []string) []string {
	var roles []string
	for i, h := range headers {
		if losMetadataColumns[headerKey(h)] {
			continue
		}
		if truthyCells[strings.ToLower(row.At(i))] {
			roles = append(roles, CleanRoleName(h))
		}
	}
	return roles
}

func losEmail(row Row, headers []string) string {
	if len(headers) <= losEmailIndex {
		return ""
	}
	return row.At(losEmailIndex)
}

// CleanRoleName turns a role column header into a readable role name
func CleanRoleName(header string) string {
	caser := cases.Title(language.Und)

	words := strings.Fields(strings.ReplaceAll(header, "?", ""))
	for i, w := range words {
		switch lw := strings.ToLower(w); lw {
		case "admin", "mgr", "sr", "jr", "ii", "iii", "iv":
			words[i] = strings.ToUpper(w)
		case "administrator":
			words[i] = "Admin"
		case "representative":
			words[i] = "Rep"
		default:
			words[i] = caser.String(lw)
		}
	}
	return strings.Join(words, " ")
}

// primaryThenBackup looks up the account name, then the backup as an email
// address or, when it has no @, as another account name
func primaryThenBackup(primary, backup string) []directory.Step {
	steps := []directory.Step{
		{Method: directory.MethodPrimary, Query: directory.ByAccountName{Name: primary}},
	}
	if backup == "" {
		return steps
	}

	var q directory.Query = directory.ByEmail{Address: backup}
	if !strings.Contains(backup, "@") {
		q = directory.ByAccountName{Name: backup}
	}
	return append(steps, directory.Step{Method: directory.MethodBackup, Query: q})
}
