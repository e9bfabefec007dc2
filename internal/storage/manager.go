package storage

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
)

// ErrTooLarge is returned by Save when the stream exceeds the size limit.
var ErrTooLarge = errors.New("file exceeds size limit")

// Store defines the interface for temporary upload binaries. A binary lives
// only until its upload has been decoded.
type Store interface {
	Save(originalName string, r io.Reader, limit int64) (*StoredFile, error)
	Path(name string) string
	Remove(name string) error
	Sweep(maxAge time.Duration) (int, error)
}

// StoredFile describes a binary written to disk.
type StoredFile struct {
	Name string // generated file name, unique per upload
	Path string
	Size int64
}

// LocalStore implements Store using the local filesystem.
type LocalStore struct {
	uploadDir string
}

// NewLocalStore creates a new LocalStore.
func NewLocalStore(uploadDir string) (*LocalStore, error) {
	if err := os.MkdirAll(uploadDir, 0755); err != nil {
		return nil, fmt.Errorf("creating upload directory: %w", err)
	}

	return &LocalStore{uploadDir: uploadDir}, nil
}

// Dir returns the directory binaries are written to.
func (s *LocalStore) Dir() string {
	return s.uploadDir
}

// Save writes r under a unique name that keeps the original extension. A
// limit of zero or less disables the size check.
func (s *LocalStore) Save(originalName string, r io.Reader, limit int64) (*StoredFile, error) {
	name := uuid.New().String() + strings.ToLower(filepath.Ext(originalName))
	path := filepath.Join(s.uploadDir, name)

	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("creating file: %w", err)
	}
	defer f.Close()

	src := r
	if limit > 0 {
		src = io.LimitReader(r, limit+1)
	}
	size, err := io.Copy(f, src)
	if err != nil {
		os.Remove(path)
		return nil, fmt.Errorf("writing file: %w", err)
	}
	if limit > 0 && size > limit {
		os.Remove(path)
		return nil, ErrTooLarge
	}

	return &StoredFile{Name: name, Path: path, Size: size}, nil
}

// Path returns the absolute path for a stored name.
func (s *LocalStore) Path(name string) string {
	return filepath.Join(s.uploadDir, filepath.Base(name))
}

// Remove deletes a binary. Removing a missing file is not an error.
func (s *LocalStore) Remove(name string) error {
	if err := os.Remove(s.Path(name)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("deleting file: %w", err)
	}
	return nil
}

// Sweep deletes binaries older than maxAge and returns how many were removed.
func (s *LocalStore) Sweep(maxAge time.Duration) (int, error) {
	entries, err := os.ReadDir(s.uploadDir)
	if err != nil {
		return 0, fmt.Errorf("reading upload directory: %w", err)
	}

	cutoff := time.Now().Add(-maxAge)
	removed := 0
	var errs []error
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		if info.ModTime().After(cutoff) {
			continue
		}
		if err := s.Remove(entry.Name()); err != nil {
			errs = append(errs, err)
			continue
		}
		removed++
	}
	return removed, errors.Join(errs...)
}
