// Package sources turns line-of-business exports into access review rows.
//
// Each source system is a Strategy: it knows which columns identify a user,
// which rows to drop, how to look the user up in the directory, and where the
// roles live. Extract runs a strategy over a Table.
package sources

import (
	"errors"
	"fmt"
	"sort"

	"github.com/yairfalse/arbiter/directory"
	"github.com/yairfalse/arbiter/internal/filter"
)

var (
	// ErrUnknownStrategy is returned by Registry.Get for unregistered names
	ErrUnknownStrategy = errors.New("unknown source strategy")
	// ErrMissingColumns is returned when a table lacks required columns
	ErrMissingColumns = errors.New("missing required columns")
)

// Identity is what Extract learned about one row's user
type Identity struct {
	Primary string
	Backup  string
	Outcome directory.Outcome
}

// Entry returns the directory entry when the lookup succeeded
func (id Identity) Entry() (directory.Entry, bool) {
	if id.Outcome == nil {
		return directory.Entry{}, false
	}
	return directory.EntryOf(id.Outcome)
}

// Method returns how the identity was resolved
func (id Identity) Method() directory.Method {
	if id.Outcome == nil {
		return directory.MethodSkipped
	}
	return directory.MethodOf(id.Outcome)
}

// Username is the identifier that resolved, falling back to the primary
func (id Identity) Username() string {
	if id.Method() == directory.MethodBackup && id.Backup != "" {
		return id.Backup
	}
	return id.Primary
}

// Strategy describes one source system's export
type Strategy interface {
	Name() string
	Description() string

	// RequiredColumns must all be present in the header line
	RequiredColumns() []string

	// Filter selects rows before any lookups; nil keeps everything
	Filter(headers []string) *filter.Filter

	// Skip drops a row after filtering
	Skip(row Row) bool

	// Identifiers returns the primary and optional backup lookup identifiers
	Identifiers(row Row, headers []string) (primary, backup string)

	// Lookup returns the ordered directory queries for a user
	Lookup(primary, backup string) []directory.Step

	// PeerKey returns the department and title used for peer grouping
	PeerKey(row Row, id Identity) (department, title string)

	// ExtractRoles returns the roles the row grants
	ExtractRoles(row Row, headers []string) []string
}

// Dropper is implemented by strategies that discard users after lookup
type Dropper interface {
	Drop(row Row, headers []string, id Identity) bool
}

// Registry holds strategies by name.
// Register panics on duplicate names to catch wiring mistakes at startup.
type Registry struct {
	strategies map[string]Strategy
}

// NewRegistry returns an empty registry
func NewRegistry() *Registry {
	return &Registry{strategies: make(map[string]Strategy)}
}

// Register adds a strategy. Panics if the name is already taken.
func (r *Registry) Register(s Strategy) {
	if _, exists := r.strategies[s.Name()]; exists {
		panic(fmt.Sprintf("duplicate source strategy: %q", s.Name()))
	}
	r.strategies[s.Name()] = s
}

// Get returns the named strategy
func (r *Registry) Get(name string) (Strategy, error) {
	s, ok := r.strategies[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q (available: %v)", ErrUnknownStrategy, name, r.Names())
	}
	return s, nil
}

// Names returns registered names in sorted order
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.strategies))
	for n := range r.strategies {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// DefaultRegistry returns a registry with every built-in strategy
func DefaultRegistry() *Registry {
	r := NewRegistry()
	r.Register(AccessReview{})
	r.Register(GreatPlains{})
	r.Register(DefiLOS{})
	r.Register(DefiServicing{})
	r.Register(DefiXLOS{})
	r.Register(Datascan{})
	r.Register(AWSIAM{})
	return r
}

// firstNonEmpty returns the first non-blank value
func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

// entryPeerKey prefers directory values and falls back to the given defaults
func entryPeerKey(id Identity, department, title string) (string, string) {
	if e, ok := id.Entry(); ok {
		return firstNonEmpty(e.Department, department), firstNonEmpty(e.Title, title)
	}
	return department, title
}
