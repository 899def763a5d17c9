package directory

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/go-ldap/ldap/v3"
	"github.com/rs/zerolog/log"
)

// accountDisabled is the ACCOUNTDISABLE bit of userAccountControl
const accountDisabled = 0x2

// searchAttributes are requested on every search
var searchAttributes = []string{
	"mail", "displayName", "department", "userAccountControl",
	"sAMAccountName", "title", "givenName", "sn",
}

// LDAPConfig holds connection settings for an Active Directory style server
type LDAPConfig struct {
	Server   string
	Username string
	Password string
	BaseDN   string
	Timeout  time.Duration
}

// searcher is the part of *ldap.Conn the client needs
type searcher interface {
	Search(req *ldap.SearchRequest) (*ldap.SearchResult, error)
}

// LDAPClient implements Client over a bound LDAP connection
type LDAPClient struct {
	baseDN string
	conn   searcher
	closer func()
}

// DialLDAP connects and binds with the configured service account
func DialLDAP(cfg LDAPConfig) (*LDAPClient, error) {
	if cfg.Server == "" || cfg.BaseDN == "" {
		return nil, fmt.Errorf("ldap: server and base DN are required")
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	conn, err := ldap.DialURL(serverURL(cfg.Server), ldap.DialWithDialer(&net.Dialer{Timeout: timeout}))
	if err != nil {
		return nil, fmt.Errorf("ldap: dial %s: %w", cfg.Server, err)
	}
	conn.SetTimeout(timeout)

	if err := conn.Bind(cfg.Username, cfg.Password); err != nil {
		conn.Close()
		return nil, fmt.Errorf("ldap: bind as %s: %w", cfg.Username, err)
	}

	log.Info().
		Str("server", cfg.Server).
		Str("base_dn", cfg.BaseDN).
		Msg("connected to directory")

	return &LDAPClient{
		baseDN: cfg.BaseDN,
		conn:   conn,
		closer: func() { conn.Close() },
	}, nil
}

// newLDAPClient wraps an existing searcher
func newLDAPClient(baseDN string, conn searcher) *LDAPClient {
	return &LDAPClient{baseDN: baseDN, conn: conn, closer: func() {}}
}

// Search runs the query's filter under the base DN
func (c *LDAPClient) Search(ctx context.Context, q Query) (Entry, bool, error) {
	if err := ctx.Err(); err != nil {
		return Entry{}, false, err
	}

	req := ldap.NewSearchRequest(
		c.baseDN,
		ldap.ScopeWholeSubtree,
		ldap.NeverDerefAliases,
		0, 0, false,
		q.Filter(),
		searchAttributes,
		nil,
	)

	res, err := c.conn.Search(req)
	if err != nil {
		return Entry{}, false, fmt.Errorf("ldap search %s: %w", q.Filter(), err)
	}

	if len(res.Entries) == 0 {
		return Entry{}, false, nil
	}
	if len(res.Entries) > 1 {
		log.Warn().
			Str("filter", q.Filter()).
			Int("matches", len(res.Entries)).
			Msg("multiple directory entries matched, using the first")
	}

	return entryFromLDAP(res.Entries[0]), true, nil
}

// Close releases the connection
func (c *LDAPClient) Close() error {
	c.closer()
	return nil
}

func entryFromLDAP(e *ldap.Entry) Entry {
	given := e.GetAttributeValue("givenName")
	surname := e.GetAttributeValue("sn")

	fullName := e.GetAttributeValue("displayName")
	if fullName == "" {
		fullName = strings.TrimSpace(given + " " + surname)
	}

	return Entry{
		Email:       e.GetAttributeValue("mail"),
		FullName:    fullName,
		Department:  e.GetAttributeValue("department"),
		Title:       e.GetAttributeValue("title"),
		IsActive:    isActive(e.GetAttributeValue("userAccountControl")),
		AccountName: e.GetAttributeValue("sAMAccountName"),
		GivenName:   given,
		Surname:     surname,
	}
}

// isActive treats an unreadable userAccountControl as active
func isActive(uac string) bool {
	flags, err := strconv.Atoi(strings.TrimSpace(uac))
	if err != nil {
		return true
	}
	return flags&accountDisabled == 0
}

// serverURL adds an ldap:// scheme to bare host names
func serverURL(server string) string {
	if strings.Contains(server, "://") {
		return server
	}
	return "ldap://" + server
}
