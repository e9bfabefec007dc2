package parser

import (
	"fmt"
	"io"
	"math"
	"strconv"

	"github.com/extrame/xls"
)

// maxBIFFColumns is the column limit of a BIFF8 worksheet (IV).
const maxBIFFColumns = 256

// formulaPlaceholder is what extrame/xls reports for every FORMULA record.
// The cached result is not exposed, so such cells decode as missing.
const formulaPlaceholder = "FormulaCol"

// BIFFReader reads legacy Excel 97-2003 workbooks (.xls). Encrypted OOXML
// packages share the OLE container and are rejected before BIFF parsing.
type BIFFReader struct{}

func NewBIFFReader() *BIFFReader {
	return &BIFFReader{}
}

func (r *BIFFReader) Name() string {
	return "xls"
}

func (r *BIFFReader) CanRead(header []byte) bool {
	return hasMagic(header, oleMagic)
}

func (r *BIFFReader) Open(ra io.ReaderAt, size int64) (Workbook, error) {
	if err := inspectCompound(ra, size); err != nil {
		return nil, err
	}

	wb, err := xls.OpenReader(io.NewSectionReader(ra, 0, size), "utf-8")
	if err != nil {
		return nil, fmt.Errorf("open xls: %w", err)
	}
	if wb == nil {
		return nil, ErrUnsupportedFormat
	}
	return newBIFFWorkbook(wb), nil
}

type biffWorkbook struct {
	wb     *xls.WorkBook
	names  []string
	sheets map[string]int
}

func newBIFFWorkbook(wb *xls.WorkBook) *biffWorkbook {
	w := &biffWorkbook{
		wb:     wb,
		sheets: make(map[string]int, wb.NumSheets()),
	}
	for i := 0; i < wb.NumSheets(); i++ {
		name := wb.GetSheet(i).Name
		if _, dup := w.sheets[name]; dup {
			continue
		}
		w.sheets[name] = i
		w.names = append(w.names, name)
	}
	return w
}

func (w *biffWorkbook) SheetNames() []string {
	return w.names
}

func (w *biffWorkbook) Close() error {
	return nil
}

// Rows returns rows 0..MaxRow. Rows the sheet never defines come back empty
// and trailing empty cells are trimmed, matching the xlsx reader.
func (w *biffWorkbook) Rows(sheet string) ([][]any, error) {
	idx, ok := w.sheets[sheet]
	if !ok {
		return nil, fmt.Errorf("sheet %q not found in workbook", sheet)
	}
	ws := w.wb.GetSheet(idx)
	if ws == nil {
		return nil, fmt.Errorf("sheet %q not found in workbook", sheet)
	}

	var grid [][]any
	for i := 0; i <= int(ws.MaxRow); i++ {
		row := sheetRow(ws, i)
		if row == nil {
			grid = append(grid, []any{})
			continue
		}

		width := row.LastCol()
		if width <= 0 || width > maxBIFFColumns {
			width = maxBIFFColumns
		}
		cells := make([]any, width)
		last := -1
		for c := 0; c < width; c++ {
			cells[c] = biffValue(row.Col(c))
			if cells[c] != nil {
				last = c
			}
		}
		grid = append(grid, cells[:last+1])
	}
	return grid, nil
}

// sheetRow returns nil for rows the sheet does not define; extrame/xls panics
// on those instead.
func sheetRow(ws *xls.WorkSheet, i int) (row *xls.Row) {
	defer func() {
		if recover() != nil {
			row = nil
		}
	}()
	return ws.Row(i)
}

// biffValue types the text extrame/xls renders for a cell. Numbers come back
// as float64 and cells with a user date format as RFC 3339 timestamps.
func biffValue(text string) any {
	if text == "" || text == formulaPlaceholder {
		return nil
	}
	if n, err := strconv.ParseFloat(text, 64); err == nil && !math.IsNaN(n) && !math.IsInf(n, 0) {
		return n
	}
	if ts, ok := parseISODate(text); ok {
		return ts
	}
	return text
}
