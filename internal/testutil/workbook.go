package testutil

import (
	"bytes"
	"testing"

	"github.com/xuri/excelize/v2"
)

// Sheet is one tab for BuildWorkbook. Rows[0] is the header.
type Sheet struct {
	Name string
	Rows [][]any
}

// BuildWorkbook returns the bytes of an .xlsx file containing sheets in order.
func BuildWorkbook(t testing.TB, sheets ...Sheet) []byte {
	t.Helper()

	f := excelize.NewFile()
	defer f.Close()

	for i, sheet := range sheets {
		if i == 0 {
			if err := f.SetSheetName("Sheet1", sheet.Name); err != nil {
				t.Fatalf("rename sheet: %v", err)
			}
		} else if _, err := f.NewSheet(sheet.Name); err != nil {
			t.Fatalf("new sheet: %v", err)
		}
		for r, row := range sheet.Rows {
			cell, err := excelize.CoordinatesToCellName(1, r+1)
			if err != nil {
				t.Fatalf("cell name: %v", err)
			}
			if err := f.SetSheetRow(sheet.Name, cell, &row); err != nil {
				t.Fatalf("set row: %v", err)
			}
		}
	}

	var buf bytes.Buffer
	if err := f.Write(&buf); err != nil {
		t.Fatalf("write workbook: %v", err)
	}
	return buf.Bytes()
}
