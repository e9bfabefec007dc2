package parser

import (
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/xuri/excelize/v2"
)

// XLSXReader reads Office Open XML workbooks (.xlsx, .xlsm).
type XLSXReader struct{}

func NewXLSXReader() *XLSXReader {
	return &XLSXReader{}
}

func (r *XLSXReader) Name() string {
	return "xlsx"
}

func (r *XLSXReader) CanRead(header []byte) bool {
	return hasMagic(header, zipMagic)
}

func (r *XLSXReader) Open(ra io.ReaderAt, size int64) (Workbook, error) {
	f, err := excelize.OpenReader(io.NewSectionReader(ra, 0, size))
	if err != nil {
		return nil, fmt.Errorf("open xlsx: %w", err)
	}
	return &xlsxWorkbook{f: f}, nil
}

type xlsxWorkbook struct {
	f *excelize.File
}

func (w *xlsxWorkbook) SheetNames() []string {
	return w.f.GetSheetList()
}

func (w *xlsxWorkbook) Close() error {
	return w.f.Close()
}

// Rows reads raw cell values and types them the way the workbook stores them.
func (w *xlsxWorkbook) Rows(sheet string) ([][]any, error) {
	raw, err := w.f.GetRows(sheet, excelize.Options{RawCellValue: true})
	if err != nil {
		return nil, err
	}

	grid := make([][]any, len(raw))
	for rowIdx, cells := range raw {
		row := make([]any, len(cells))
		for colIdx, text := range cells {
			v, err := w.cellValue(sheet, colIdx, rowIdx, text)
			if err != nil {
				return nil, err
			}
			row[colIdx] = v
		}
		grid[rowIdx] = row
	}
	return grid, nil
}

func (w *xlsxWorkbook) cellValue(sheet string, colIdx, rowIdx int, text string) (any, error) {
	cell, err := excelize.CoordinatesToCellName(colIdx+1, rowIdx+1)
	if err != nil {
		return nil, err
	}
	typ, err := w.f.GetCellType(sheet, cell)
	if err != nil {
		return nil, err
	}

	switch typ {
	case excelize.CellTypeBool:
		return text == "1" || strings.EqualFold(text, "true"), nil
	case excelize.CellTypeDate:
		if ts, ok := parseISODate(text); ok {
			return ts, nil
		}
		return text, nil
	case excelize.CellTypeNumber, excelize.CellTypeUnset:
		// Numeric cells carry no type attribute; an empty unset cell is missing.
		if text == "" {
			return nil, nil
		}
		if n, err := strconv.ParseFloat(text, 64); err == nil {
			return n, nil
		}
		return text, nil
	default:
		return text, nil
	}
}

var isoLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02T15:04:05",
	"2006-01-02",
}

func parseISODate(s string) (time.Time, bool) {
	for _, layout := range isoLayouts {
		if ts, err := time.Parse(layout, s); err == nil {
			return ts, true
		}
	}
	return time.Time{}, false
}
