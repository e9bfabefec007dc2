package models

// Row maps a header to the cell value beneath it. Missing cells are present with a nil value.
type Row map[string]any

// SheetData is one decoded tab of a workbook.
type SheetData struct {
	Name     string   `json:"name" msgpack:"name"`
	Columns  []string `json:"columns" msgpack:"columns"`
	Rows     []Row    `json:"rows" msgpack:"rows"`
	RowCount int      `json:"rowCount" msgpack:"rowCount"`
}
