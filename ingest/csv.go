// Package ingest reads source exports into tables and access review rows.
package ingest

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/encoding/charmap"

	"github.com/yairfalse/arbiter/sources"
)

// candidateDelimiters are tried in order; ties go to the earlier one
var candidateDelimiters = []rune{',', ';', '\t', '|'}

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// ReadCSV parses a delimited export. The first record is the header line.
func ReadCSV(r io.Reader) (*sources.Table, error) {
	raw, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read csv: %w", err)
	}

	data, err := decode(raw)
	if err != nil {
		return nil, err
	}

	reader := csv.NewReader(bytes.NewReader(data))
	reader.Comma = SniffDelimiter(data)
	reader.FieldsPerRecord = -1
	reader.LazyQuotes = true

	records, err := reader.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("parse csv: %w", err)
	}
	if len(records) == 0 {
		return nil, fmt.Errorf("parse csv: no header line")
	}

	return sources.NewTable(records[0], records[1:]), nil
}

// ReadCSVFile opens and parses a delimited export
func ReadCSVFile(path string) (*sources.Table, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	defer func() { _ = f.Close() }()

	return ReadCSV(f)
}

// ReadFile picks the Excel or CSV reader by file extension
func ReadFile(path, sheet string, fill []string) (*sources.Table, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".xlsx", ".xlsm":
		return ReadExcelFile(path, sheet, fill)
	default:
		return ReadCSVFile(path)
	}
}

// decode strips a UTF-8 BOM and converts Latin-1 input to UTF-8
func decode(raw []byte) ([]byte, error) {
	raw = bytes.TrimPrefix(raw, utf8BOM)
	if utf8.Valid(raw) {
		return raw, nil
	}

	out, err := charmap.ISO8859_1.NewDecoder().Bytes(raw)
	if err != nil {
		return nil, fmt.Errorf("decode latin-1: %w", err)
	}
	return out, nil
}

// SniffDelimiter picks the candidate that occurs most often, outside quotes,
// in the header line. Comma wins when none occurs.
func SniffDelimiter(data []byte) rune {
	header := data
	if i := bytes.IndexByte(data, '\n'); i >= 0 {
		header = data[:i]
	}

	counts := make(map[rune]int, len(candidateDelimiters))
	inQuotes := false
	for _, r := range string(header) {
		if r == '"' {
			inQuotes = !inQuotes
			continue
		}
		if !inQuotes {
			counts[r]++
		}
	}

	best, bestCount := ',', 0
	for _, d := range candidateDelimiters {
		if counts[d] > bestCount {
			best, bestCount = d, counts[d]
		}
	}
	return best
}

// WriteTable writes a table back out as comma-separated CSV
func WriteTable(w io.Writer, table *sources.Table) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(table.Headers); err != nil {
		return fmt.Errorf("write header: %w", err)
	}

	rec := make([]string, len(table.Headers))
	for _, row := range table.Rows {
		for i := range rec {
			rec[i] = row.At(i)
		}
		if err := cw.Write(rec); err != nil {
			return fmt.Errorf("write row %d: %w", row.Number, err)
		}
	}

	cw.Flush()
	return cw.Error()
}
