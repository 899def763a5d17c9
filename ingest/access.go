package ingest

import (
	"encoding/csv"
	"fmt"
	"io"
	"strings"
	"unicode"

	"github.com/rs/zerolog/log"

	"github.com/yairfalse/arbiter/sources"
	"github.com/yairfalse/arbiter/types"
)

// ErrMissingColumns is returned when the access export lacks a required column
var ErrMissingColumns = sources.ErrMissingColumns

// LoadStats counts what LoadAccessRows kept and skipped
type LoadStats struct {
	Read    int `json:"read"`
	Loaded  int `json:"loaded"`
	Skipped int `json:"skipped"`
}

// LoadAccessRows converts a normalised export into access rows.
// Rows missing username, department or title are skipped; an empty
// assigned_roles cell is kept and means the user has no roles.
func LoadAccessRows(table *sources.Table) ([]types.RawAccessRow, LoadStats, error) {
	if missing := table.Missing(sources.AccessReviewColumns); len(missing) > 0 {
		return nil, LoadStats{}, fmt.Errorf("%w: %s", ErrMissingColumns, describeMissing(missing, table.Headers))
	}

	stats := LoadStats{Read: len(table.Rows)}
	rows := make([]types.RawAccessRow, 0, len(table.Rows))

	for _, r := range table.Rows {
		row := types.RawAccessRow{
			Username:      r.Get(sources.ColumnUsername),
			Department:    r.Get(sources.ColumnDepartment),
			Title:         r.Get(sources.ColumnTitle),
			AssignedRoles: r.Get(sources.ColumnAssignedRoles),
		}

		if absent := absentFields(row); len(absent) > 0 {
			stats.Skipped++
			log.Warn().
				Int("line", r.Number).
				Strs("missing", absent).
				Msg("skipping row")
			continue
		}

		rows = append(rows, row)
	}

	stats.Loaded = len(rows)
	return rows, stats, nil
}

// WriteAccessRows writes rows in the normalised export format
func WriteAccessRows(w io.Writer, rows []types.RawAccessRow) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(sources.AccessReviewColumns); err != nil {
		return fmt.Errorf("write header: %w", err)
	}

	for _, r := range rows {
		if err := cw.Write([]string{r.Username, r.Department, r.Title, r.AssignedRoles}); err != nil {
			return fmt.Errorf("write row: %w", err)
		}
	}

	cw.Flush()
	return cw.Error()
}

func absentFields(row types.RawAccessRow) []string {
	var absent []string
	if row.Username == "" {
		absent = append(absent, sources.ColumnUsername)
	}
	if row.Department == "" {
		absent = append(absent, sources.ColumnDepartment)
	}
	if row.Title == "" {
		absent = append(absent, sources.ColumnTitle)
	}
	return absent
}

// describeMissing lists missing columns, pointing at headers that look like them
func describeMissing(missing, headers []string) string {
	parts := make([]string, 0, len(missing))
	for _, m := range missing {
		part := m
		for _, h := range headers {
			if squash(h) == squash(m) {
				part = fmt.Sprintf("%s (found %q)", m, h)
				break
			}
		}
		parts = append(parts, part)
	}
	return strings.Join(parts, ", ")
}

// squash keeps only lower-case letters and digits
func squash(s string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(s) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(r)
		}
	}
	return b.String()
}
