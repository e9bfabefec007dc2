// interfaces.go - Handler interface definitions for clean separation of concerns
package api

import (
	"context"

	"github.com/labstack/echo/v4"
	"github.com/sheetviz/backend/internal/models"
	"github.com/sheetviz/backend/internal/upload"
)

// FileHandler handles workbook upload and file record operations
type FileHandler interface {
	HandleUpload(c echo.Context) error
	HandleStatus(c echo.Context) error
	HandleListFiles(c echo.Context) error
	HandleGetData(c echo.Context) error
	HandleDeleteFile(c echo.Context) error
	HandleAddChart(c echo.Context) error
}

// HealthHandler handles health check operations
type HealthHandler interface {
	HandleHealth(c echo.Context) error
}

// Uploader accepts uploads into the decode pipeline.
// This allows mocking in tests
type Uploader interface {
	Submit(ctx context.Context, req upload.SubmitRequest) (*models.FileRecord, error)
	MaxUploadBytes() int64
}

// RecordReader is the part of the record store the handlers use.
type RecordReader interface {
	GetByID(ctx context.Context, id, ownerID string) (*models.FileRecord, error)
	GetStatus(ctx context.Context, id, ownerID string) (*models.FileRecord, error)
	ListByOwner(ctx context.Context, ownerID string, limit int) ([]*models.FileRecord, error)
	DeleteByID(ctx context.Context, id, ownerID string) (bool, error)
	AddChart(ctx context.Context, id, ownerID string, chart models.Chart) error
}
