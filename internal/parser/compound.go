package parser

import (
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/richardlehane/mscfb"
)

// inspectCompound walks the stream names of an OLE compound file. Excel uses
// the container both for BIFF workbooks and for encrypted OOXML packages; only
// the former can be decoded. It returns nil when a workbook stream is present.
func inspectCompound(ra io.ReaderAt, size int64) error {
	doc, err := mscfb.New(io.NewSectionReader(ra, 0, size))
	if err != nil {
		return fmt.Errorf("open compound file: %w", err)
	}

	found := false
	for {
		entry, err := doc.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return fmt.Errorf("read compound file: %w", err)
		}
		switch strings.ToLower(entry.Name) {
		case "encryptedpackage", "encryptioninfo":
			return ErrEncryptedWorkbook
		case "workbook", "book":
			found = true
		}
	}
	if !found {
		return ErrUnsupportedFormat
	}
	return nil
}
