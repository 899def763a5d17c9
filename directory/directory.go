// Package directory resolves source-system identifiers to directory entries.
//
// Lookups run an ordered plan of queries against a Client and stop at the first
// meaningful entry. Results are memoized in a run-scoped Cache that callers own
// and pass in explicitly.
package directory

import (
	"context"
	"fmt"
	"strings"

	"github.com/go-ldap/ldap/v3"
)

// Entry is what the directory knows about one person
type Entry struct {
	Email       string `json:"email"`
	FullName    string `json:"full_name"`
	Department  string `json:"department"`
	Title       string `json:"title"`
	IsActive    bool   `json:"is_active"`
	AccountName string `json:"account_name"`
	GivenName   string `json:"given_name"`
	Surname     string `json:"surname"`
}

// Meaningful reports whether the entry carries anything worth using
func (e Entry) Meaningful() bool {
	return e.Email != "" || e.FullName != "" || e.Department != ""
}

// Client searches a directory
type Client interface {
	// Search returns the first matching entry, or false when nothing matched.
	Search(ctx context.Context, q Query) (Entry, bool, error)
}

// Query is one of the supported lookup strategies.
// The set is closed: only this package can add strategies.
type Query interface {
	// Filter renders the query as an escaped LDAP filter.
	Filter() string
	// Key identifies the query for caching.
	Key() string
	isQuery()
}

// ByAccountName matches sAMAccountName
type ByAccountName struct{ Name string }

// ByEmail matches mail
type ByEmail struct{ Address string }

// ByDisplayName matches displayName
type ByDisplayName struct{ Name string }

// ByNameComponents matches givenName and sn together
type ByNameComponents struct{ Given, Surname string }

func (q ByAccountName) Filter() string {
	return fmt.Sprintf("(sAMAccountName=%s)", ldap.EscapeFilter(q.Name))
}
func (q ByAccountName) Key() string { return "account:" + normalizeKey(q.Name) }
func (ByAccountName) isQuery()      {}

func (q ByEmail) Filter() string {
	return fmt.Sprintf("(mail=%s)", ldap.EscapeFilter(q.Address))
}
func (q ByEmail) Key() string { return "mail:" + normalizeKey(q.Address) }
func (ByEmail) isQuery()      {}

func (q ByDisplayName) Filter() string {
	return fmt.Sprintf("(displayName=%s)", ldap.EscapeFilter(q.Name))
}
func (q ByDisplayName) Key() string { return "display:" + normalizeKey(q.Name) }
func (ByDisplayName) isQuery()      {}

func (q ByNameComponents) Filter() string {
	return fmt.Sprintf("(&(givenName=%s)(sn=%s))", ldap.EscapeFilter(q.Given), ldap.EscapeFilter(q.Surname))
}
func (q ByNameComponents) Key() string {
	return "name:" + normalizeKey(q.Given) + "|" + normalizeKey(q.Surname)
}
func (ByNameComponents) isQuery() {}

// SplitFullName splits "First Rest Of Name" into given name and surname
func SplitFullName(full string) (string, string, bool) {
	parts := strings.Fields(full)
	if len(parts) < 2 {
		return "", "", false
	}
	return parts[0], strings.Join(parts[1:], " "), true
}

// normalizeKey collapses whitespace and case so equivalent identifiers share a cache slot
func normalizeKey(s string) string {
	return strings.ToLower(strings.Join(strings.Fields(s), " "))
}
