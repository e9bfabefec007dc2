package parser

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/sheetviz/backend/internal/models"
	"github.com/sheetviz/backend/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func decodeBytes(t *testing.T, data []byte, tabs ...string) (*Result, error) {
	t.Helper()
	return NewDecoder().Decode(bytes.NewReader(data), int64(len(data)), tabs)
}

func TestDecoder_Decode_HeadersAndAggregates(t *testing.T) {
	data := testutil.BuildWorkbook(t,
		testutil.Sheet{Name: "A", Rows: [][]any{
			{"x", "y"},
			{1, 2},
			{3},
		}},
		testutil.Sheet{Name: "B", Rows: [][]any{
			{"p", "q", "r"},
			{"one", "two", "three"},
		}},
	)

	res, err := decodeBytes(t, data)
	require.NoError(t, err)
	require.Len(t, res.Sheets, 2)

	a := res.Sheets[0]
	assert.Equal(t, "A", a.Name)
	assert.Equal(t, []string{"x", "y"}, a.Columns)
	assert.Equal(t, []models.Row{
		{"x": 1.0, "y": 2.0},
		{"x": 3.0, "y": nil},
	}, a.Rows)
	assert.Equal(t, 2, a.RowCount)

	b := res.Sheets[1]
	assert.Equal(t, "B", b.Name)
	assert.Equal(t, 1, b.RowCount)
	assert.Equal(t, models.Row{"p": "one", "q": "two", "r": "three"}, b.Rows[0])

	assert.Equal(t, 3, res.Metadata.TotalRows)
	assert.Equal(t, 3, res.Metadata.TotalColumns)
	assert.Equal(t, 2, res.Metadata.TotalSheets)
}

func TestDecoder_Decode_SkipsTabsWithoutDataRows(t *testing.T) {
	data := testutil.BuildWorkbook(t,
		testutil.Sheet{Name: "Data", Rows: [][]any{{"k"}, {"v"}}},
		testutil.Sheet{Name: "Empty"},
		testutil.Sheet{Name: "HeaderOnly", Rows: [][]any{{"a", "b", "c", "d"}}},
	)

	res, err := decodeBytes(t, data)
	require.NoError(t, err)

	require.Len(t, res.Sheets, 1)
	assert.Equal(t, "Data", res.Sheets[0].Name)
	assert.Equal(t, 1, res.Metadata.TotalRows)
	assert.Equal(t, 1, res.Metadata.TotalColumns, "skipped tabs must not widen totalColumns")
	assert.Equal(t, 3, res.Metadata.TotalSheets)
}

func TestDecoder_Decode_DropsEmptyHeaderColumns(t *testing.T) {
	data := testutil.BuildWorkbook(t, testutil.Sheet{Name: "S", Rows: [][]any{
		{"a", nil, "c"},
		{1, 2, 3},
	}})

	res, err := decodeBytes(t, data)
	require.NoError(t, err)
	require.Len(t, res.Sheets, 1)

	assert.Equal(t, []string{"a", "", "c"}, res.Sheets[0].Columns)
	assert.Equal(t, models.Row{"a": 1.0, "c": 3.0}, res.Sheets[0].Rows[0])
	assert.Equal(t, 3, res.Metadata.TotalColumns)
}

func TestDecoder_Decode_PassesValuesThrough(t *testing.T) {
	data := testutil.BuildWorkbook(t, testutil.Sheet{Name: "S", Rows: [][]any{
		{"zero", "flag", "off", "text", "ratio"},
		{0, true, false, "hello", 0.25},
	}})

	res, err := decodeBytes(t, data)
	require.NoError(t, err)

	row := res.Sheets[0].Rows[0]
	assert.Equal(t, 0.0, row["zero"])
	assert.Equal(t, true, row["flag"])
	assert.Equal(t, false, row["off"])
	assert.Equal(t, "hello", row["text"])
	assert.Equal(t, 0.25, row["ratio"])
}

func TestDecoder_Decode_SelectedTabs(t *testing.T) {
	data := testutil.BuildWorkbook(t,
		testutil.Sheet{Name: "One", Rows: [][]any{{"h"}, {"1"}}},
		testutil.Sheet{Name: "Two", Rows: [][]any{{"h"}, {"2"}}},
	)

	res, err := decodeBytes(t, data, "Two")
	require.NoError(t, err)
	require.Len(t, res.Sheets, 1)
	assert.Equal(t, "Two", res.Sheets[0].Name)
	assert.Equal(t, 1, res.Metadata.TotalSheets)

	_, err = decodeBytes(t, data, "Missing")
	var de *DecodeError
	require.ErrorAs(t, err, &de)
	assert.Contains(t, de.Error(), "Missing")
}

func TestDecoder_Decode_Failures(t *testing.T) {
	tests := []struct {
		name    string
		data    []byte
		wantErr error
	}{
		{name: "plain text", data: []byte("name,age\nbob,3\n"), wantErr: ErrUnsupportedFormat},
		{name: "empty file", data: []byte{}, wantErr: ErrUnsupportedFormat},
		{name: "truncated zip", data: append([]byte{'P', 'K', 0x03, 0x04}, bytes.Repeat([]byte{0x01}, 64)...)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := decodeBytes(t, tt.data)
			assert.Nil(t, res)

			var de *DecodeError
			require.ErrorAs(t, err, &de)
			assert.NotEmpty(t, de.Cause)
			if tt.wantErr != nil {
				assert.True(t, errors.Is(err, tt.wantErr))
			}
		})
	}
}

func TestDecoder_DecodeFile(t *testing.T) {
	data := testutil.BuildWorkbook(t, testutil.Sheet{Name: "S", Rows: [][]any{{"h"}, {"v"}}})
	path := filepath.Join(t.TempDir(), "excelFile-123.XLSX")
	require.NoError(t, os.WriteFile(path, data, 0644))

	res, err := NewDecoder().DecodeFile(path, nil)
	require.NoError(t, err)
	assert.Equal(t, ".xlsx", res.Metadata.FileType)

	_, err = NewDecoder().DecodeFile(filepath.Join(t.TempDir(), "missing.xlsx"), nil)
	var de *DecodeError
	assert.ErrorAs(t, err, &de)
}

func TestBuildSheet(t *testing.T) {
	t.Run("no rows", func(t *testing.T) {
		_, ok := BuildSheet("S", nil)
		assert.False(t, ok)
	})

	t.Run("header only", func(t *testing.T) {
		_, ok := BuildSheet("S", [][]any{{"a", "b"}})
		assert.False(t, ok)
	})

	t.Run("short and long rows", func(t *testing.T) {
		sheet, ok := BuildSheet("S", [][]any{
			{"a", nil, "c"},
			{1.0, 2.0, 3.0, 4.0},
			{},
		})
		require.True(t, ok)
		assert.Equal(t, []string{"a", "", "c"}, sheet.Columns)
		assert.Equal(t, []models.Row{
			{"a": 1.0, "c": 3.0},
			{"a": nil, "c": nil},
		}, sheet.Rows)
		assert.Equal(t, 2, sheet.RowCount)
	})

	t.Run("numeric header", func(t *testing.T) {
		sheet, ok := BuildSheet("S", [][]any{{2024.0, true}, {"x", "y"}})
		require.True(t, ok)
		assert.Equal(t, []string{"2024", "true"}, sheet.Columns)
		assert.Equal(t, models.Row{"2024": "x", "true": "y"}, sheet.Rows[0])
	})
}

func TestRegistry_FindReader(t *testing.T) {
	r := NewRegistry()

	wr, err := r.FindReader([]byte{'P', 'K', 0x03, 0x04, 0, 0, 0, 0})
	require.NoError(t, err)
	assert.Equal(t, "xlsx", wr.Name())

	wr, err = r.FindReader([]byte{0xD0, 0xCF, 0x11, 0xE0, 0xA1, 0xB1, 0x1A, 0xE1})
	require.NoError(t, err)
	assert.Equal(t, "xls", wr.Name())

	_, err = r.FindReader([]byte("hello"))
	assert.ErrorIs(t, err, ErrUnsupportedFormat)

	_, ok := r.GetReaderByName("XLSX")
	assert.True(t, ok)
}

func TestDecoder_DecodeFile_LegacyWorkbook(t *testing.T) {
	res, err := NewDecoder().DecodeFile(filepath.Join("testdata", "table.xls"), nil)
	require.NoError(t, err)

	assert.Equal(t, ".xls", res.Metadata.FileType)
	assert.Equal(t, 1, res.Metadata.TotalSheets)
	assert.Equal(t, 11, res.Metadata.TotalRows)
	assert.Equal(t, 3, res.Metadata.TotalColumns)

	require.Len(t, res.Sheets, 1)
	sheet := res.Sheets[0]
	assert.Equal(t, "Table", sheet.Name)
	assert.Equal(t, []string{"Code", "Name", "Description"}, sheet.Columns)
	require.Equal(t, 11, sheet.RowCount)
	assert.Equal(t, models.Row{"Code": "code1", "Name": "name1", "Description": "description1"}, sheet.Rows[0])
	assert.Equal(t, models.Row{"Code": "code11", "Name": "name11", "Description": "description11"}, sheet.Rows[10])
}

func TestDecoder_Decode_LegacyWorkbookTabs(t *testing.T) {
	data, err := os.ReadFile(filepath.Join("testdata", "table.xls"))
	require.NoError(t, err)

	res, err := decodeBytes(t, data, "Table")
	require.NoError(t, err)
	require.Len(t, res.Sheets, 1)

	_, err = decodeBytes(t, data, "Missing")
	var de *DecodeError
	require.ErrorAs(t, err, &de)
	assert.Contains(t, de.Error(), "Missing")
}

func TestDecoder_Decode_CorruptCompoundFile(t *testing.T) {
	data := append([]byte{0xD0, 0xCF, 0x11, 0xE0, 0xA1, 0xB1, 0x1A, 0xE1}, bytes.Repeat([]byte{0x00}, 64)...)

	res, err := decodeBytes(t, data)
	assert.Nil(t, res)
	var de *DecodeError
	require.ErrorAs(t, err, &de)
	assert.NotEmpty(t, de.Cause)
}

func TestBIFFValue(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want any
	}{
		{name: "empty", in: "", want: nil},
		{name: "formula", in: formulaPlaceholder, want: nil},
		{name: "integer", in: "42", want: 42.0},
		{name: "fraction", in: "-0.5", want: -0.5},
		{name: "nan text", in: "NaN", want: "NaN"},
		{name: "date", in: "2024-03-01T00:00:00Z", want: time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)},
		{name: "text", in: "code1", want: "code1"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, biffValue(tt.in))
		})
	}
}
