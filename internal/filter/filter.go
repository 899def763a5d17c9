// Package filter provides column-value filtering for source exports.
package filter

import (
	"fmt"
	"strings"
)

// Record is anything that exposes column values by name
type Record interface {
	Get(column string) string
}

// Filter keeps or drops records by column value.
type Filter struct {
	include map[string][]string
	exclude map[string][]string
	fold    bool
}

// New creates a new Filter. Include columns must ALL match one of their values;
// any exclude match drops the record.
func New(include, exclude map[string][]string) *Filter {
	return &Filter{
		include: include,
		exclude: exclude,
	}
}

// CaseInsensitive makes value comparisons ignore case
func (f *Filter) CaseInsensitive() *Filter {
	f.fold = true
	return f
}

// Match returns true if the record passes the filter.
func (f *Filter) Match(r Record) bool {
	if f == nil {
		return true
	}

	// Check include columns (whitelist) - ALL must match
	for col, values := range f.include {
		if !f.anyEqual(r.Get(col), values) {
			return false
		}
	}

	// Check exclude columns (blacklist) - ANY match excludes
	for col, values := range f.exclude {
		if f.anyEqual(r.Get(col), values) {
			return false
		}
	}

	return true
}

func (f *Filter) anyEqual(got string, values []string) bool {
	got = strings.TrimSpace(got)
	for _, v := range values {
		if got == v || (f.fold && strings.EqualFold(got, v)) {
			return true
		}
	}
	return false
}

// Select returns only records that pass the filter.
func Select[T Record](f *Filter, records []T) []T {
	if f.IsEmpty() {
		return records
	}

	kept := make([]T, 0, len(records))
	for _, r := range records {
		if f.Match(r) {
			kept = append(kept, r)
		}
	}
	return kept
}

// IsEmpty returns true if no filters are configured.
func (f *Filter) IsEmpty() bool {
	return f == nil || (len(f.include) == 0 && len(f.exclude) == 0)
}

// Merge combines two filters; either may be nil
func Merge(a, b *Filter) *Filter {
	if a.IsEmpty() {
		return b
	}
	if b.IsEmpty() {
		return a
	}

	merged := &Filter{
		include: make(map[string][]string),
		exclude: make(map[string][]string),
		fold:    a.fold || b.fold,
	}
	for _, src := range []*Filter{a, b} {
		for k, v := range src.include {
			merged.include[k] = append(merged.include[k], v...)
		}
		for k, v := range src.exclude {
			merged.exclude[k] = append(merged.exclude[k], v...)
		}
	}
	return merged
}

// ParsePairs turns ["Status=Active", "Region=West"] into a column map
func ParsePairs(pairs []string) (map[string][]string, error) {
	if len(pairs) == 0 {
		return nil, nil
	}

	out := make(map[string][]string, len(pairs))
	for _, p := range pairs {
		col, val, ok := strings.Cut(p, "=")
		col = strings.TrimSpace(col)
		if !ok || col == "" {
			return nil, fmt.Errorf("invalid filter %q, want column=value", p)
		}
		out[col] = append(out[col], strings.TrimSpace(val))
	}
	return out, nil
}
