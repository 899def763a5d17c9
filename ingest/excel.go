package ingest

import (
	"fmt"
	"io"
	"strings"

	"github.com/xuri/excelize/v2"

	"github.com/yairfalse/arbiter/sources"
)

// ReadExcel parses one worksheet; an empty sheet name means the first sheet.
// Blank cells in the fill columns take the value above them, which undoes
// vertically merged cells. Fully blank rows are dropped.
func ReadExcel(r io.Reader, sheet string, fill []string) (*sources.Table, error) {
	f, err := excelize.OpenReader(r)
	if err != nil {
		return nil, fmt.Errorf("open workbook: %w", err)
	}
	defer func() { _ = f.Close() }()

	return readSheet(f, sheet, fill)
}

// ReadExcelFile opens a workbook from disk
func ReadExcelFile(path, sheet string, fill []string) (*sources.Table, error) {
	f, err := excelize.OpenFile(path)
	if err != nil {
		return nil, fmt.Errorf("open workbook %s: %w", path, err)
	}
	defer func() { _ = f.Close() }()

	return readSheet(f, sheet, fill)
}

func readSheet(f *excelize.File, sheet string, fill []string) (*sources.Table, error) {
	if sheet == "" {
		sheets := f.GetSheetList()
		if len(sheets) == 0 {
			return nil, fmt.Errorf("workbook has no sheets")
		}
		sheet = sheets[0]
	}

	rows, err := f.GetRows(sheet)
	if err != nil {
		return nil, fmt.Errorf("read sheet %q: %w", sheet, err)
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("sheet %q: no header line", sheet)
	}

	headers := make([]string, len(rows[0]))
	for i, h := range rows[0] {
		headers[i] = strings.TrimSpace(h)
	}

	fillIdx := fillColumns(headers, fill)
	last := make(map[int]string, len(fillIdx))

	records := make([][]string, 0, len(rows)-1)
	for _, row := range rows[1:] {
		if blank(row) {
			continue
		}

		rec := make([]string, len(headers))
		copy(rec, row)

		for _, i := range fillIdx {
			if strings.TrimSpace(rec[i]) == "" {
				rec[i] = last[i]
			} else {
				last[i] = rec[i]
			}
		}
		records = append(records, rec)
	}

	return sources.NewTable(headers, records), nil
}

func fillColumns(headers, fill []string) []int {
	var idx []int
	for _, want := range fill {
		for i, h := range headers {
			if strings.EqualFold(h, want) {
				idx = append(idx, i)
				break
			}
		}
	}
	return idx
}

func blank(row []string) bool {
	for _, v := range row {
		if strings.TrimSpace(v) != "" {
			return false
		}
	}
	return true
}
