// handlers_files.go - File record query, delete and chart handlers
package api

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/sheetviz/backend/internal/auth"
	"github.com/sheetviz/backend/internal/models"
	"github.com/vmihailenco/msgpack/v5"
)

// recentFilesLimit caps the file list.
const recentFilesLimit = 20

// MIMEApplicationMsgpack is the negotiated binary representation of file data.
const MIMEApplicationMsgpack = "application/msgpack"

// HandleStatus returns the processing status of one file without its sheets.
func (h *FileHandlerImpl) HandleStatus(c echo.Context) error {
	id := c.Param("fileId")
	if id == "" {
		return NewValidationError("fileId")
	}

	rec, err := h.records.GetStatus(c.Request().Context(), id, auth.UserFrom(c).ID)
	if err != nil {
		return fromStoreError(err, "check status", id)
	}

	return c.JSON(http.StatusOK, statusResponse{
		ID:           rec.ID,
		Status:       string(rec.Status),
		ErrorMessage: rec.ErrorMessage,
		Metadata:     rec.Metadata,
		OriginalName: rec.OriginalName,
		UploadDate:   rec.UploadedAt,
	})
}

// HandleListFiles returns the caller's most recent files, newest first.
func (h *FileHandlerImpl) HandleListFiles(c echo.Context) error {
	recs, err := h.records.ListByOwner(c.Request().Context(), auth.UserFrom(c).ID, recentFilesLimit)
	if err != nil {
		return fromStoreError(err, "fetch files", "")
	}

	files := make([]fileSummary, 0, len(recs))
	for _, rec := range recs {
		files = append(files, summarize(rec))
	}
	return c.JSON(http.StatusOK, files)
}

// HandleGetData returns the decoded sheets of a completed file. Clients that
// send Accept: application/msgpack get the same document in MessagePack.
func (h *FileHandlerImpl) HandleGetData(c echo.Context) error {
	id := c.Param("fileId")
	if id == "" {
		return NewValidationError("fileId")
	}

	rec, err := h.records.GetByID(c.Request().Context(), id, auth.UserFrom(c).ID)
	if err != nil {
		return fromStoreError(err, "fetch file data", id)
	}
	if rec.Status != models.FileStatusCompleted {
		return NewFileNotReadyError(string(rec.Status))
	}

	resp := dataResponse{
		ID:       rec.ID,
		Name:     rec.OriginalName,
		Sheets:   rec.Sheets,
		Metadata: rec.Metadata,
	}

	if acceptsMsgpack(c.Request().Header.Get(echo.HeaderAccept)) {
		data, err := msgpack.Marshal(resp)
		if err != nil {
			return NewInternalError("failed to encode msgpack", err)
		}
		return c.Blob(http.StatusOK, MIMEApplicationMsgpack, data)
	}
	return c.JSON(http.StatusOK, resp)
}

// HandleDeleteFile removes a file record owned by the caller.
func (h *FileHandlerImpl) HandleDeleteFile(c echo.Context) error {
	id := c.Param("fileId")
	if id == "" {
		return NewValidationError("fileId")
	}

	deleted, err := h.records.DeleteByID(c.Request().Context(), id, auth.UserFrom(c).ID)
	if err != nil {
		return fromStoreError(err, "delete file", id)
	}
	if !deleted {
		return NewNotFoundError("file", id)
	}

	return c.JSON(http.StatusOK, map[string]string{"message": "File deleted successfully"})
}

// HandleAddChart saves a chart definition on a completed file.
func (h *FileHandlerImpl) HandleAddChart(c echo.Context) error {
	id := c.Param("fileId")
	if id == "" {
		return NewValidationError("fileId")
	}

	var req addChartRequest
	if err := c.Bind(&req); err != nil {
		return NewBadRequestError("invalid request body", err)
	}
	if err := req.validate(); err != nil {
		return err
	}

	chart := models.Chart{
		ID:        uuid.New().String(),
		Type:      req.Type,
		Title:     req.Title,
		Sheet:     req.Sheet,
		XAxis:     req.XAxis,
		YAxis:     req.YAxis,
		CreatedAt: time.Now().UTC(),
	}
	if err := h.records.AddChart(c.Request().Context(), id, auth.UserFrom(c).ID, chart); err != nil {
		return fromStoreError(err, "save chart", id)
	}

	return c.JSON(http.StatusCreated, chart)
}

func summarize(rec *models.FileRecord) fileSummary {
	s := fileSummary{
		ID:         rec.ID,
		Name:       rec.OriginalName,
		UploadDate: rec.UploadedAt.UTC().Format(time.DateOnly),
		Size:       fmt.Sprintf("%.1f MB", float64(rec.Size)/(1024*1024)),
		Type:       "excel",
		Status:     string(rec.Status),
		Charts:     len(rec.Charts),
	}
	if rec.Metadata != nil {
		s.TotalRows = rec.Metadata.TotalRows
		s.TotalSheets = rec.Metadata.TotalSheets
	}
	return s
}

func acceptsMsgpack(accept string) bool {
	for _, part := range strings.Split(accept, ",") {
		mediaType, _, _ := strings.Cut(strings.TrimSpace(part), ";")
		switch strings.ToLower(strings.TrimSpace(mediaType)) {
		case MIMEApplicationMsgpack, "application/x-msgpack":
			return true
		}
	}
	return false
}

// Request/Response types

type statusResponse struct {
	ID           string           `json:"id"`
	Status       string           `json:"status"`
	ErrorMessage string           `json:"errorMessage,omitempty"`
	Metadata     *models.Metadata `json:"metadata,omitempty"`
	OriginalName string           `json:"originalName"`
	UploadDate   time.Time        `json:"uploadDate"`
}

type fileSummary struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	UploadDate  string `json:"uploadDate"`
	Size        string `json:"size"`
	Type        string `json:"type"`
	Status      string `json:"status"`
	Charts      int    `json:"charts"`
	TotalRows   int    `json:"totalRows"`
	TotalSheets int    `json:"totalSheets"`
}

type dataResponse struct {
	ID       string             `json:"id" msgpack:"id"`
	Name     string             `json:"name" msgpack:"name"`
	Sheets   []models.SheetData `json:"sheets" msgpack:"sheets"`
	Metadata *models.Metadata   `json:"metadata" msgpack:"metadata"`
}

type addChartRequest struct {
	Type  string `json:"type"`
	Title string `json:"title"`
	Sheet string `json:"sheet"`
	XAxis string `json:"xAxis"`
	YAxis string `json:"yAxis"`
}

func (r *addChartRequest) validate() error {
	if r.Type == "" {
		return NewValidationError("type")
	}
	if r.Title == "" {
		return NewValidationError("title")
	}
	if r.XAxis == "" {
		return NewValidationError("xAxis")
	}
	if r.YAxis == "" {
		return NewValidationError("yAxis")
	}
	return nil
}
