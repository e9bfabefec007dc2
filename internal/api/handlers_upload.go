// handlers_upload.go - Workbook upload handler
package api

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/sheetviz/backend/internal/auth"
	"github.com/sheetviz/backend/internal/upload"
)

// DefaultUploadField is the multipart field carrying the workbook.
const DefaultUploadField = "excelFile"

// FileHandlerImpl implements the FileHandler interface
type FileHandlerImpl struct {
	uploader    Uploader
	records     RecordReader
	uploadField string
}

// NewFileHandler creates a new file handler instance
func NewFileHandler(uploader Uploader, records RecordReader, uploadField string) FileHandler {
	if uploadField == "" {
		uploadField = DefaultUploadField
	}
	return &FileHandlerImpl{
		uploader:    uploader,
		records:     records,
		uploadField: uploadField,
	}
}

// HandleUpload accepts a multipart workbook, creates its record and queues
// the decode. It responds before decoding starts.
func (h *FileHandlerImpl) HandleUpload(c echo.Context) error {
	user := auth.UserFrom(c)

	file, err := c.FormFile(h.uploadField)
	if err != nil {
		return NewBadRequestError("No file uploaded", err)
	}

	src, err := file.Open()
	if err != nil {
		return NewInternalError("failed to open uploaded file", err)
	}
	defer src.Close()

	rec, err := h.uploader.Submit(c.Request().Context(), upload.SubmitRequest{
		OwnerID:      user.ID,
		OriginalName: file.Filename,
		ContentType:  file.Header.Get(echo.HeaderContentType),
		Size:         file.Size,
		Body:         src,
	})
	if err != nil {
		return fromUploadError(err, h.uploader.MaxUploadBytes())
	}

	return c.JSON(http.StatusOK, uploadResponse{
		Message: "File uploaded successfully",
		FileID:  rec.ID,
		Status:  string(rec.Status),
	})
}

// Request/Response types

type uploadResponse struct {
	Message string `json:"message"`
	FileID  string `json:"fileId"`
	Status  string `json:"status"`
}
