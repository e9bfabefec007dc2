// Package upload accepts workbook uploads and decodes them in the background.
package upload

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sheetviz/backend/internal/models"
	"github.com/sheetviz/backend/internal/parser"
	"github.com/sheetviz/backend/internal/storage"
	"github.com/sheetviz/backend/internal/store"
)

var (
	// ErrUnsupportedMediaType is returned for uploads that are not Excel workbooks.
	ErrUnsupportedMediaType = errors.New("only Excel files are allowed")
	// ErrPayloadTooLarge is returned for uploads above the size limit.
	ErrPayloadTooLarge = errors.New("file too large")
)

// DefaultAllowedTypes are the accepted upload content types.
var DefaultAllowedTypes = []string{
	"application/vnd.openxmlformats-officedocument.spreadsheetml.sheet",
	"application/vnd.ms-excel",
}

// DefaultMaxUploadBytes is the upload size limit when none is configured.
const DefaultMaxUploadBytes = 10 << 20

// Decoder turns a stored binary into sheets.
type Decoder interface {
	DecodeFile(path string, tabs []string) (*parser.Result, error)
}

// Config controls upload validation.
type Config struct {
	MaxUploadBytes int64
	AllowedTypes   []string
}

// SubmitRequest is one received upload.
type SubmitRequest struct {
	OwnerID      string
	OriginalName string
	ContentType  string
	Size         int64 // -1 when unknown
	Body         io.Reader
}

// Manager runs the upload pipeline: validate, store the binary, create the
// record, then decode and finalize on the executor.
type Manager struct {
	records store.RecordStore
	files   storage.Store
	decoder Decoder
	exec    *Executor
	cfg     Config
	now     func() time.Time
}

// NewManager creates a new upload manager.
func NewManager(records store.RecordStore, files storage.Store, decoder Decoder, exec *Executor, cfg Config) *Manager {
	if cfg.MaxUploadBytes <= 0 {
		cfg.MaxUploadBytes = DefaultMaxUploadBytes
	}
	if len(cfg.AllowedTypes) == 0 {
		cfg.AllowedTypes = DefaultAllowedTypes
	}
	return &Manager{
		records: records,
		files:   files,
		decoder: decoder,
		exec:    exec,
		cfg:     cfg,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// MaxUploadBytes returns the configured size limit.
func (m *Manager) MaxUploadBytes() int64 {
	return m.cfg.MaxUploadBytes
}

// Stats returns the executor counters.
func (m *Manager) Stats() ExecutorStats {
	return m.exec.Stats()
}

// Shutdown waits for in-flight decodes.
func (m *Manager) Shutdown(ctx context.Context) error {
	return m.exec.Shutdown(ctx)
}

// Submit validates and accepts an upload. It returns as soon as the record
// exists in processing status; the decode happens later. Validation failures
// and ErrBusy leave no record and no binary behind.
func (m *Manager) Submit(ctx context.Context, req SubmitRequest) (*models.FileRecord, error) {
	if !m.allowedType(req.ContentType) {
		return nil, ErrUnsupportedMediaType
	}
	if req.Size > m.cfg.MaxUploadBytes {
		return nil, ErrPayloadTooLarge
	}

	slot, err := m.exec.Reserve()
	if err != nil {
		return nil, err
	}

	stored, err := m.files.Save(req.OriginalName, req.Body, m.cfg.MaxUploadBytes)
	if err != nil {
		slot.Release()
		if errors.Is(err, storage.ErrTooLarge) {
			return nil, ErrPayloadTooLarge
		}
		return nil, fmt.Errorf("saving upload: %w", err)
	}

	rec := models.NewFileRecord(uuid.New().String(), req.OwnerID, req.OriginalName, stored.Name, stored.Size)
	rec.UploadedAt = m.now()
	if _, err := m.records.Create(ctx, rec); err != nil {
		slot.Release()
		m.removeBinary(rec.ID, stored.Name)
		return nil, fmt.Errorf("creating record: %w", err)
	}

	fileID, storedName := rec.ID, stored.Name
	if err := slot.Submit(func(ctx context.Context) error {
		return m.decodeAndFinalize(ctx, fileID, storedName)
	}); err != nil {
		// The executor shut down between Reserve and Submit.
		m.removeBinary(fileID, storedName)
		m.finalize(ctx, fileID, store.Patch{Status: models.FileStatusError, ErrorMessage: "server shutting down"})
		return nil, err
	}

	slog.Info("upload accepted", "file_id", fileID, "owner_id", req.OwnerID, "name", req.OriginalName, "size", stored.Size)
	return rec, nil
}

// decodeAndFinalize decodes the stored binary and records the outcome. The
// binary is removed on every path.
func (m *Manager) decodeAndFinalize(ctx context.Context, fileID, storedName string) error {
	defer m.removeBinary(fileID, storedName)

	start := m.now()
	res, err := m.decode(m.files.Path(storedName))

	var patch store.Patch
	switch {
	case err != nil:
		slog.Warn("decode failed", "file_id", fileID, "err", err)
		patch = store.Patch{Status: models.FileStatusError, ErrorMessage: err.Error()}
	case len(res.Sheets) == 0:
		slog.Warn("workbook has no data rows", "file_id", fileID)
		patch = store.Patch{Status: models.FileStatusError, ErrorMessage: "workbook contains no data rows"}
	default:
		md := res.Metadata
		md.ProcessedAt = m.now()
		patch = store.Patch{Status: models.FileStatusCompleted, Sheets: res.Sheets, Metadata: &md}
	}

	if err := m.finalize(ctx, fileID, patch); err != nil {
		return err
	}

	if patch.Status == models.FileStatusCompleted {
		slog.Info("decode complete", "file_id", fileID,
			"sheets", len(patch.Sheets), "rows", patch.Metadata.TotalRows,
			"duration", m.now().Sub(start))
	}
	return nil
}

// finalize writes the terminal status. Failures are logged and the record
// stays in processing.
func (m *Manager) finalize(ctx context.Context, fileID string, patch store.Patch) error {
	if err := m.records.UpdateStatus(context.WithoutCancel(ctx), fileID, patch); err != nil {
		slog.Error("finalize failed, record left in processing", "file_id", fileID, "status", patch.Status, "err", err)
		return err
	}
	return nil
}

func (m *Manager) decode(path string) (res *parser.Result, err error) {
	defer func() {
		if p := recover(); p != nil {
			res = nil
			err = &parser.DecodeError{Cause: fmt.Sprintf("decoder panicked: %v", p)}
		}
	}()
	return m.decoder.DecodeFile(path, nil)
}

func (m *Manager) removeBinary(fileID, storedName string) {
	if err := m.files.Remove(storedName); err != nil {
		slog.Warn("failed to remove temp upload", "file_id", fileID, "stored_name", storedName, "err", err)
	}
}

func (m *Manager) allowedType(contentType string) bool {
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return false
	}
	for _, allowed := range m.cfg.AllowedTypes {
		if strings.EqualFold(mediaType, allowed) {
			return true
		}
	}
	return false
}
