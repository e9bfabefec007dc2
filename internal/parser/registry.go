package parser

import (
	"bytes"
	"io"
	"strings"
)

// Workbook is an opened spreadsheet container.
type Workbook interface {
	// SheetNames returns the tab names in workbook order.
	SheetNames() []string
	// Rows returns every row of a tab as decoded cell values. Missing cells are nil.
	Rows(sheet string) ([][]any, error)
	Close() error
}

// WorkbookReader opens one kind of spreadsheet container.
type WorkbookReader interface {
	// Name returns the unique name of the reader.
	Name() string
	// CanRead reports whether the leading bytes of a file belong to this container.
	CanRead(header []byte) bool
	// Open opens the workbook.
	Open(r io.ReaderAt, size int64) (Workbook, error)
}

var (
	zipMagic = []byte{'P', 'K', 0x03, 0x04}
	oleMagic = []byte{0xD0, 0xCF, 0x11, 0xE0, 0xA1, 0xB1, 0x1A, 0xE1}
)

// headerSize is the number of leading bytes handed to CanRead.
const headerSize = 8

// Registry holds the available workbook readers and picks one by content.
type Registry struct {
	readers []WorkbookReader
}

// Global registry instance
var globalRegistry = NewRegistry()

func NewRegistry() *Registry {
	r := &Registry{}
	r.Register(NewXLSXReader())
	r.Register(NewBIFFReader())
	return r
}

// GetGlobalRegistry returns the singleton registry.
func GetGlobalRegistry() *Registry {
	return globalRegistry
}

// Register adds a new reader to the registry.
func (r *Registry) Register(wr WorkbookReader) {
	r.readers = append(r.readers, wr)
}

// FindReader detects the correct reader for a file from its leading bytes.
func (r *Registry) FindReader(header []byte) (WorkbookReader, error) {
	for _, wr := range r.readers {
		if wr.CanRead(header) {
			return wr, nil
		}
	}
	return nil, ErrUnsupportedFormat
}

// GetReaderByName returns a reader by its name.
func (r *Registry) GetReaderByName(name string) (WorkbookReader, bool) {
	name = strings.ToLower(name)
	for _, wr := range r.readers {
		if strings.ToLower(wr.Name()) == name {
			return wr, true
		}
	}
	return nil, false
}

func hasMagic(header, magic []byte) bool {
	return len(header) >= len(magic) && bytes.Equal(header[:len(magic)], magic)
}
