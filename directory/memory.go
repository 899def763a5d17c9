package directory

import (
	"context"
)

// MemoryClient answers queries from a fixed set of entries, e.g. a directory export
type MemoryClient struct {
	entries []Entry
}

// NewMemoryClient creates a client over entries
func NewMemoryClient(entries []Entry) *MemoryClient {
	return &MemoryClient{entries: entries}
}

// Search matches case-insensitively on the field the query targets
func (m *MemoryClient) Search(ctx context.Context, q Query) (Entry, bool, error) {
	if err := ctx.Err(); err != nil {
		return Entry{}, false, err
	}

	for _, e := range m.entries {
		if matches(e, q) {
			return e, true, nil
		}
	}
	return Entry{}, false, nil
}

func matches(e Entry, q Query) bool {
	switch v := q.(type) {
	case ByAccountName:
		return normalizeKey(e.AccountName) == normalizeKey(v.Name)
	case ByEmail:
		return normalizeKey(e.Email) == normalizeKey(v.Address)
	case ByDisplayName:
		return normalizeKey(e.FullName) == normalizeKey(v.Name)
	case ByNameComponents:
		return normalizeKey(e.GivenName) == normalizeKey(v.Given) &&
			normalizeKey(e.Surname) == normalizeKey(v.Surname)
	default:
		return false
	}
}
