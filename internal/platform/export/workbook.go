// Package export renders tabular reports as xlsx workbooks.
package export

import (
	"bytes"
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/xuri/excelize/v2"
)

const (
	minColWidth = 10
	maxColWidth = 50
)

// Sheet is one worksheet: a bold, filterable header row followed by rows.
// Cell values may be strings or numbers.
type Sheet struct {
	Title  string
	Header []string
	Rows   [][]interface{}
}

// Workbook builds an xlsx file from sheets. The first sheet replaces the
// default "Sheet1".
func Workbook(sheets ...Sheet) (*excelize.File, error) {
	if len(sheets) == 0 {
		return nil, fmt.Errorf("workbook needs at least one sheet")
	}

	f := excelize.NewFile()
	bold, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("header style: %w", err)
	}

	for i, s := range sheets {
		name := sheetName(s.Title, i)
		if i == 0 {
			if err := f.SetSheetName("Sheet1", name); err != nil {
				f.Close()
				return nil, fmt.Errorf("rename sheet: %w", err)
			}
		} else if _, err := f.NewSheet(name); err != nil {
			f.Close()
			return nil, fmt.Errorf("new sheet %s: %w", name, err)
		}

		if err := writeSheet(f, name, s, bold); err != nil {
			f.Close()
			return nil, err
		}
	}
	return f, nil
}

func writeSheet(f *excelize.File, name string, s Sheet, bold int) error {
	if len(s.Header) == 0 {
		return nil
	}
	header := make([]interface{}, len(s.Header))
	for i, h := range s.Header {
		header[i] = h
	}
	if err := f.SetSheetRow(name, "A1", &header); err != nil {
		return fmt.Errorf("write header: %w", err)
	}

	widths := make([]int, len(s.Header))
	for i, h := range s.Header {
		widths[i] = utf8.RuneCountInString(h) + 2
	}

	for r, row := range s.Rows {
		cell, err := excelize.CoordinatesToCellName(1, r+2)
		if err != nil {
			return err
		}
		row := row
		if err := f.SetSheetRow(name, cell, &row); err != nil {
			return fmt.Errorf("write row %d: %w", r+2, err)
		}
		for c, v := range row {
			if c >= len(widths) {
				break
			}
			if n := utf8.RuneCountInString(fmt.Sprint(v)); n > widths[c] {
				widths[c] = n
			}
		}
	}

	last, err := excelize.ColumnNumberToName(len(s.Header))
	if err != nil {
		return err
	}
	if err := f.SetCellStyle(name, "A1", last+"1", bold); err != nil {
		return fmt.Errorf("style header: %w", err)
	}
	if err := f.AutoFilter(name, "A1:"+last+"1", nil); err != nil {
		return fmt.Errorf("auto filter: %w", err)
	}

	for c, w := range widths {
		col, _ := excelize.ColumnNumberToName(c + 1)
		_ = f.SetColWidth(name, col, col, float64(clamp(w, minColWidth, maxColWidth)))
	}
	return nil
}

// Bytes serializes the workbook.
func Bytes(f *excelize.File) ([]byte, error) {
	var buf bytes.Buffer
	if _, err := f.WriteTo(&buf); err != nil {
		return nil, fmt.Errorf("write workbook: %w", err)
	}
	return buf.Bytes(), nil
}

var invalidSheetChars = regexp.MustCompile(`[\\/?*\[\]:]`)

// sheetName makes a title acceptable to Excel: no reserved characters,
// at most 31 runes, never empty.
func sheetName(title string, idx int) string {
	name := strings.TrimSpace(invalidSheetChars.ReplaceAllString(title, " "))
	if name == "" {
		name = fmt.Sprintf("Sheet%d", idx+1)
	}
	if utf8.RuneCountInString(name) > 31 {
		name = string([]rune(name)[:31])
	}
	return name
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
