package parser

import (
	"errors"
	"fmt"
)

var (
	// ErrUnsupportedFormat indicates the binary is not a workbook container we can read.
	ErrUnsupportedFormat = errors.New("unsupported spreadsheet format")
	// ErrEncryptedWorkbook indicates a password protected workbook.
	ErrEncryptedWorkbook = errors.New("workbook is password protected")
)

// DecodeError is returned when a workbook cannot be converted. It carries a
// human readable cause that is stored on the file record.
type DecodeError struct {
	Sheet string
	Cause string
	Err   error
}

func (e *DecodeError) Error() string {
	if e.Sheet != "" {
		return fmt.Sprintf("sheet %q: %s", e.Sheet, e.Cause)
	}
	return e.Cause
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}

// NewDecodeError wraps err as a DecodeError for the given sheet ("" for the whole workbook).
func NewDecodeError(sheet string, err error) *DecodeError {
	var de *DecodeError
	if errors.As(err, &de) {
		return de
	}
	return &DecodeError{
		Sheet: sheet,
		Cause: err.Error(),
		Err:   err,
	}
}
