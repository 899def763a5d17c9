package directory

import (
	"context"
	"errors"
	"testing"

	"github.com/go-ldap/ldap/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var jane = Entry{
	Email:       "jane.doe@example.com",
	FullName:    "Jane Doe",
	Department:  "Collections",
	Title:       "Collector",
	IsActive:    true,
	AccountName: "jdoe",
	GivenName:   "Jane",
	Surname:     "Doe",
}

// countingClient wraps a client and records the filters it was asked for
type countingClient struct {
	inner   Client
	filters []string
	errs    map[string]error
}

func (c *countingClient) Search(ctx context.Context, q Query) (Entry, bool, error) {
	c.filters = append(c.filters, q.Filter())
	if err, ok := c.errs[q.Filter()]; ok {
		return Entry{}, false, err
	}
	return c.inner.Search(ctx, q)
}

func TestQuery_Filters(t *testing.T) {
	tests := []struct {
		name  string
		query Query
		want  string
	}{
		{name: "account", query: ByAccountName{Name: "jdoe"}, want: "(sAMAccountName=jdoe)"},
		{name: "email", query: ByEmail{Address: "jane@example.com"}, want: "(mail=jane@example.com)"},
		{name: "display", query: ByDisplayName{Name: "Jane Doe"}, want: "(displayName=Jane Doe)"},
		{name: "components", query: ByNameComponents{Given: "Jane", Surname: "Doe"}, want: "(&(givenName=Jane)(sn=Doe))"},
		{name: "escapes", query: ByDisplayName{Name: "Jane (Admin)*"}, want: `(displayName=Jane \28Admin\29\2a)`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.query.Filter())
		})
	}
}

func TestSplitFullName(t *testing.T) {
	given, surname, ok := SplitFullName("  Mary Ann  van Dyke ")
	require.True(t, ok)
	assert.Equal(t, "Mary", given)
	assert.Equal(t, "Ann van Dyke", surname)

	_, _, ok = SplitFullName("Cher")
	assert.False(t, ok)
}

func TestEntry_Meaningful(t *testing.T) {
	assert.False(t, Entry{}.Meaningful())
	assert.False(t, Entry{Title: "Clerk", IsActive: true}.Meaningful())
	assert.True(t, Entry{Department: "Ops"}.Meaningful())
}

func TestMethodOf(t *testing.T) {
	tests := []struct {
		outcome Outcome
		want    Method
	}{
		{outcome: Found{Entry: jane, Via: MethodBackup}, want: MethodBackup},
		{outcome: NotFound{Tried: 2}, want: MethodFailed},
		{outcome: Errored{Err: errors.New("boom")}, want: MethodError},
		{outcome: Skipped{Reason: "off"}, want: MethodSkipped},
	}

	for _, tt := range tests {
		t.Run(string(tt.want), func(t *testing.T) {
			assert.Equal(t, tt.want, MethodOf(tt.outcome))
		})
	}
}

func TestResolver_FirstMeaningfulStepWins(t *testing.T) {
	client := &countingClient{inner: NewMemoryClient([]Entry{jane})}
	r := NewResolver(client, NewCache())

	outcome := r.Resolve(context.Background(), []Step{
		{Method: MethodPrimary, Query: ByAccountName{Name: "missing"}},
		{Method: MethodDisplayName, Query: ByDisplayName{Name: "jane  DOE"}},
		{Method: MethodNameComponents, Query: ByNameComponents{Given: "Jane", Surname: "Doe"}},
	})

	entry, ok := EntryOf(outcome)
	require.True(t, ok)
	assert.Equal(t, "Collections", entry.Department)
	assert.Equal(t, MethodDisplayName, MethodOf(outcome))
	assert.Len(t, client.filters, 2)
}

func TestResolver_CachesOutcomes(t *testing.T) {
	client := &countingClient{inner: NewMemoryClient([]Entry{jane})}
	cache := NewCache()
	r := NewResolver(client, cache)

	steps := []Step{{Method: MethodPrimary, Query: ByAccountName{Name: "jdoe"}}}
	r.Resolve(context.Background(), steps)
	r.Resolve(context.Background(), []Step{{Method: MethodPrimary, Query: ByAccountName{Name: " JDOE "}}})

	assert.Len(t, client.filters, 1)
	assert.Equal(t, 1, cache.Len())
	assert.InDelta(t, 50.0, cache.HitRate(), 0.001)

	stats := r.Stats()
	assert.Equal(t, 2, stats.Total)
	assert.Equal(t, 2, stats.ByMethod[MethodPrimary])
}

func TestResolver_ErrorFallsThroughToNextStep(t *testing.T) {
	client := &countingClient{
		inner: NewMemoryClient([]Entry{jane}),
		errs:  map[string]error{"(sAMAccountName=jdoe)": errors.New("timeout")},
	}
	r := NewResolver(client, nil)

	outcome := r.Resolve(context.Background(), []Step{
		{Method: MethodPrimary, Query: ByAccountName{Name: "jdoe"}},
		{Method: MethodBackup, Query: ByEmail{Address: "jane.doe@example.com"}},
	})

	assert.Equal(t, MethodBackup, MethodOf(outcome))
}

func TestResolver_TrailingErrorIsErrored(t *testing.T) {
	client := &countingClient{
		inner: NewMemoryClient(nil),
		errs:  map[string]error{"(mail=x@example.com)": errors.New("server down")},
	}
	cache := NewCache()
	r := NewResolver(client, cache)

	outcome := r.Resolve(context.Background(), []Step{
		{Method: MethodPrimary, Query: ByAccountName{Name: "x"}},
		{Method: MethodBackup, Query: ByEmail{Address: "x@example.com"}},
	})

	errored, ok := outcome.(Errored)
	require.True(t, ok)
	assert.EqualError(t, errored.Err, "server down")
	assert.Equal(t, 0, cache.Len())
}

func TestResolver_NotFoundAndSkipped(t *testing.T) {
	r := NewResolver(NewMemoryClient(nil), nil)
	outcome := r.Resolve(context.Background(), []Step{{Method: MethodPrimary, Query: ByAccountName{Name: "ghost"}}})
	assert.Equal(t, NotFound{Tried: 1}, outcome)

	assert.IsType(t, Skipped{}, r.Resolve(context.Background(), nil))

	offline := NewResolver(nil, nil)
	assert.Equal(t, MethodSkipped, MethodOf(offline.Resolve(context.Background(), []Step{{Method: MethodPrimary, Query: ByAccountName{Name: "jdoe"}}})))
}

func TestResolver_IgnoresEntriesWithoutContent(t *testing.T) {
	empty := Entry{AccountName: "blank", IsActive: true}
	r := NewResolver(NewMemoryClient([]Entry{empty}), nil)

	outcome := r.Resolve(context.Background(), []Step{{Method: MethodPrimary, Query: ByAccountName{Name: "blank"}}})
	assert.Equal(t, MethodFailed, MethodOf(outcome))
}

func TestStats_SuccessRate(t *testing.T) {
	s := NewStats()
	assert.Equal(t, 0.0, s.SuccessRate())

	s.Record(Found{Via: MethodPrimary})
	s.Record(Found{Via: MethodNameComponents})
	s.Record(NotFound{})
	s.Record(Skipped{})

	assert.Equal(t, 2, s.Successful())
	assert.InDelta(t, 50.0, s.SuccessRate(), 0.001)
}

type fakeSearcher struct {
	result *ldap.SearchResult
	err    error
	req    *ldap.SearchRequest
}

func (f *fakeSearcher) Search(req *ldap.SearchRequest) (*ldap.SearchResult, error) {
	f.req = req
	return f.result, f.err
}

func TestLDAPClient_Search(t *testing.T) {
	fake := &fakeSearcher{result: &ldap.SearchResult{Entries: []*ldap.Entry{
		ldap.NewEntry("CN=Jane Doe,OU=Users,DC=example,DC=com", map[string][]string{
			"mail":               {"jane.doe@example.com"},
			"givenName":          {"Jane"},
			"sn":                 {"Doe"},
			"department":         {"Collections"},
			"title":              {"Collector"},
			"sAMAccountName":     {"jdoe"},
			"userAccountControl": {"514"},
		}),
	}}}
	client := newLDAPClient("DC=example,DC=com", fake)

	entry, ok, err := client.Search(context.Background(), ByAccountName{Name: "jdoe"})
	require.NoError(t, err)
	require.True(t, ok)

	assert.Equal(t, "(sAMAccountName=jdoe)", fake.req.Filter)
	assert.Equal(t, "DC=example,DC=com", fake.req.BaseDN)
	assert.Equal(t, "Jane Doe", entry.FullName)
	assert.Equal(t, "Collections", entry.Department)
	assert.False(t, entry.IsActive)
}

func TestLDAPClient_SearchNoMatchAndError(t *testing.T) {
	client := newLDAPClient("DC=example,DC=com", &fakeSearcher{result: &ldap.SearchResult{}})
	_, ok, err := client.Search(context.Background(), ByEmail{Address: "nobody@example.com"})
	require.NoError(t, err)
	assert.False(t, ok)

	failing := newLDAPClient("DC=example,DC=com", &fakeSearcher{err: errors.New("connection reset")})
	_, _, err = failing.Search(context.Background(), ByEmail{Address: "nobody@example.com"})
	assert.ErrorContains(t, err, "connection reset")
}

func TestIsActive(t *testing.T) {
	assert.True(t, isActive("512"))
	assert.False(t, isActive("514"))
	assert.True(t, isActive(""))
}

func TestServerURL(t *testing.T) {
	assert.Equal(t, "ldap://dc01.example.com", serverURL("dc01.example.com"))
	assert.Equal(t, "ldaps://dc01.example.com:636", serverURL("ldaps://dc01.example.com:636"))
}
