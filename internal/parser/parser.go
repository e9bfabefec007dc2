// Package parser converts spreadsheet binaries into header-keyed rows.
package parser

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/sheetviz/backend/internal/models"
)

// Result is the outcome of decoding one workbook.
type Result struct {
	Sheets   []models.SheetData
	Metadata models.Metadata
}

// Decoder turns workbook binaries into SheetData.
type Decoder struct {
	registry *Registry
}

// NewDecoder creates a decoder backed by the global reader registry.
func NewDecoder() *Decoder {
	return NewDecoderWithRegistry(GetGlobalRegistry())
}

// NewDecoderWithRegistry creates a decoder with a specific registry.
func NewDecoderWithRegistry(r *Registry) *Decoder {
	return &Decoder{registry: r}
}

// DecodeFile decodes the workbook at path. FileType is taken from its extension.
func (d *Decoder) DecodeFile(path string, tabs []string) (*Result, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, NewDecodeError("", err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, NewDecodeError("", err)
	}

	res, err := d.Decode(f, info.Size(), tabs)
	if err != nil {
		return nil, err
	}
	res.Metadata.FileType = strings.ToLower(filepath.Ext(path))
	return res, nil
}

// Decode reads every requested tab (all tabs when tabs is empty). Any failure
// aborts the whole decode; there is no partial result.
func (d *Decoder) Decode(r io.ReaderAt, size int64, tabs []string) (res *Result, err error) {
	defer func() {
		if p := recover(); p != nil {
			res = nil
			err = &DecodeError{Cause: fmt.Sprintf("workbook reader panicked: %v", p)}
		}
	}()

	header := make([]byte, headerSize)
	n, err := r.ReadAt(header, 0)
	if err != nil && !errors.Is(err, io.EOF) {
		return nil, NewDecodeError("", err)
	}

	reader, err := d.registry.FindReader(header[:n])
	if err != nil {
		return nil, NewDecodeError("", err)
	}

	wb, err := reader.Open(r, size)
	if err != nil {
		return nil, NewDecodeError("", err)
	}
	defer wb.Close()

	names, err := selectSheets(wb.SheetNames(), tabs)
	if err != nil {
		return nil, NewDecodeError("", err)
	}

	res = &Result{
		Sheets: make([]models.SheetData, 0, len(names)),
		Metadata: models.Metadata{
			TotalSheets: len(names),
		},
	}

	for _, name := range names {
		grid, err := wb.Rows(name)
		if err != nil {
			return nil, NewDecodeError(name, err)
		}

		sheet, ok := BuildSheet(name, grid)
		if !ok {
			continue
		}
		res.Sheets = append(res.Sheets, sheet)
		res.Metadata.TotalRows += sheet.RowCount
		if len(sheet.Columns) > res.Metadata.TotalColumns {
			res.Metadata.TotalColumns = len(sheet.Columns)
		}
	}

	return res, nil
}

// BuildSheet converts a grid whose first row is the header into SheetData.
// Cells under an empty header are dropped; missing cells become nil. It
// returns false when the tab has no data rows below the header.
func BuildSheet(name string, grid [][]any) (models.SheetData, bool) {
	if len(grid) < 2 {
		return models.SheetData{}, false
	}

	header := grid[0]
	columns := make([]string, len(header))
	for i, h := range header {
		columns[i] = headerText(h)
	}

	rows := make([]models.Row, 0, len(grid)-1)
	for _, cells := range grid[1:] {
		row := make(models.Row, len(columns))
		for i, col := range columns {
			if col == "" {
				continue
			}
			var v any
			if i < len(cells) {
				v = cells[i]
			}
			row[col] = v
		}
		rows = append(rows, row)
	}

	return models.SheetData{
		Name:     name,
		Columns:  columns,
		Rows:     rows,
		RowCount: len(rows),
	}, true
}

func selectSheets(all, tabs []string) ([]string, error) {
	if len(tabs) == 0 {
		return all, nil
	}

	wanted := make(map[string]bool, len(tabs))
	for _, t := range tabs {
		wanted[t] = true
	}

	var names []string
	for _, name := range all {
		if wanted[name] {
			names = append(names, name)
			delete(wanted, name)
		}
	}
	for missing := range wanted {
		return nil, fmt.Errorf("sheet %q not found in workbook", missing)
	}
	return names, nil
}

func headerText(v any) string {
	switch h := v.(type) {
	case nil:
		return ""
	case string:
		return h
	case float64:
		return strconv.FormatFloat(h, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(h)
	case time.Time:
		return h.Format(time.RFC3339)
	default:
		return fmt.Sprint(h)
	}
}
