package sources

import (
	"strings"
)

// Row is one data line of a source export
type Row struct {
	// Number is the 1-based line number in the source, header included
	Number int
	values []string
	index  map[string]int
}

// Get returns the trimmed value of a column, matched case-insensitively
func (r Row) Get(column string) string {
	i, ok := r.index[headerKey(column)]
	if !ok {
		return ""
	}
	return r.At(i)
}

// Has reports whether the row's table has the column
func (r Row) Has(column string) bool {
	_, ok := r.index[headerKey(column)]
	return ok
}

// At returns the trimmed value at a column position
func (r Row) At(i int) string {
	if i < 0 || i >= len(r.values) {
		return ""
	}
	return strings.TrimSpace(r.values[i])
}

// Empty reports whether every cell is blank
func (r Row) Empty() bool {
	for _, v := range r.values {
		if strings.TrimSpace(v) != "" {
			return false
		}
	}
	return true
}

// Table is a parsed export: a header line and its rows
type Table struct {
	Headers []string
	Rows    []Row
	index   map[string]int
}

// NewTable builds a table. Header names are trimmed and a leading BOM is dropped;
// the first occurrence of a duplicated header wins.
func NewTable(headers []string, records [][]string) *Table {
	clean := make([]string, len(headers))
	index := make(map[string]int, len(headers))
	for i, h := range headers {
		h = strings.TrimSpace(strings.TrimPrefix(h, "\ufeff"))
		clean[i] = h
		key := headerKey(h)
		if _, dup := index[key]; !dup {
			index[key] = i
		}
	}

	t := &Table{Headers: clean, index: index, Rows: make([]Row, 0, len(records))}
	for i, rec := range records {
		t.Rows = append(t.Rows, Row{Number: i + 2, values: rec, index: index})
	}
	return t
}

// Column returns the header at a position
func (t *Table) Column(i int) (string, bool) {
	if i < 0 || i >= len(t.Headers) {
		return "", false
	}
	return t.Headers[i], true
}

// HasColumn reports whether a header exists, case-insensitively
func (t *Table) HasColumn(name string) bool {
	_, ok := t.index[headerKey(name)]
	return ok
}

// Missing returns required columns the table lacks
func (t *Table) Missing(required []string) []string {
	var missing []string
	for _, c := range required {
		if !t.HasColumn(c) {
			missing = append(missing, c)
		}
	}
	return missing
}

func headerKey(h string) string {
	return strings.ToLower(strings.TrimSpace(h))
}
