// errors.go - Structured error handling for API responses
package api

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"
	"github.com/sheetviz/backend/internal/store"
	"github.com/sheetviz/backend/internal/upload"
)

// retryAfterSeconds is sent with every retryable 503.
const retryAfterSeconds = 5

// APIError represents a structured API error response
type APIError struct {
	Status    int    `json:"-"`
	Code      string `json:"code"`
	Message   string `json:"message"`
	Details   string `json:"details,omitempty"`
	State     string `json:"status,omitempty"`
	Retryable bool   `json:"retryable,omitempty"`
}

// Error implements the error interface
func (e *APIError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Error constructors for consistent error handling

// NewBadRequestError creates a 400 Bad Request error
func NewBadRequestError(message string, cause error) *APIError {
	err := &APIError{
		Status:  http.StatusBadRequest,
		Code:    "BAD_REQUEST",
		Message: message,
	}
	if cause != nil {
		err.Details = cause.Error()
	}
	return err
}

// NewValidationError creates a 400 validation error for a specific field
func NewValidationError(field string) *APIError {
	return &APIError{
		Status:  http.StatusBadRequest,
		Code:    "VALIDATION_ERROR",
		Message: fmt.Sprintf("validation failed for field: %s", field),
	}
}

// NewFileNotReadyError creates a 400 for data requested before decoding finished
func NewFileNotReadyError(status string) *APIError {
	return &APIError{
		Status:  http.StatusBadRequest,
		Code:    "FILE_NOT_READY",
		Message: "File not ready",
		State:   status,
	}
}

// NewNotFoundError creates a 404 Not Found error
func NewNotFoundError(resource string, id string) *APIError {
	return &APIError{
		Status:  http.StatusNotFound,
		Code:    "NOT_FOUND",
		Message: fmt.Sprintf("%s not found: %s", resource, id),
	}
}

// NewConflictError creates a 409 Conflict error
func NewConflictError(message string) *APIError {
	return &APIError{
		Status:  http.StatusConflict,
		Code:    "CONFLICT",
		Message: message,
	}
}

// NewPayloadTooLargeError creates a 413 error
func NewPayloadTooLargeError(limit int64) *APIError {
	return &APIError{
		Status:  http.StatusRequestEntityTooLarge,
		Code:    "FILE_TOO_LARGE",
		Message: fmt.Sprintf("File too large. Maximum size is %d MB", limit>>20),
	}
}

// NewUnsupportedMediaTypeError creates a 415 error
func NewUnsupportedMediaTypeError() *APIError {
	return &APIError{
		Status:  http.StatusUnsupportedMediaType,
		Code:    "UNSUPPORTED_MEDIA_TYPE",
		Message: "Only Excel files are allowed",
	}
}

// NewInternalError creates a 500 Internal Server Error
func NewInternalError(message string, cause error) *APIError {
	err := &APIError{
		Status:  http.StatusInternalServerError,
		Code:    "INTERNAL_ERROR",
		Message: message,
	}
	if cause != nil {
		err.Details = cause.Error()
	}
	return err
}

// NewServiceUnavailableError creates a retryable 503 Service Unavailable error
func NewServiceUnavailableError(message string) *APIError {
	return &APIError{
		Status:    http.StatusServiceUnavailable,
		Code:      "SERVICE_UNAVAILABLE",
		Message:   message,
		State:     "service_unavailable",
		Retryable: true,
	}
}

// fromStoreError maps a store failure onto the client-visible taxonomy.
func fromStoreError(err error, action, fileID string) *APIError {
	switch {
	case errors.Is(err, store.ErrNotFound):
		return NewNotFoundError("file", fileID)
	case errors.Is(err, store.ErrUnavailable):
		slog.Warn("store unavailable", "action", action, "file_id", fileID, "err", err)
		return NewServiceUnavailableError("Database temporarily unavailable. Please try again.")
	case errors.Is(err, store.ErrNotReady):
		return NewConflictError("File processing is not complete")
	default:
		slog.Error("store failure", "action", action, "file_id", fileID, "err", err)
		return NewInternalError(fmt.Sprintf("failed to %s", action), err)
	}
}

// fromUploadError maps a pipeline admission failure onto the taxonomy.
func fromUploadError(err error, limit int64) *APIError {
	switch {
	case errors.Is(err, upload.ErrUnsupportedMediaType):
		return NewUnsupportedMediaTypeError()
	case errors.Is(err, upload.ErrPayloadTooLarge):
		return NewPayloadTooLargeError(limit)
	case errors.Is(err, upload.ErrBusy), errors.Is(err, upload.ErrClosed):
		return NewServiceUnavailableError("Server is busy processing uploads. Please try again.")
	default:
		return fromStoreError(err, "upload file", "")
	}
}

// NewErrorHandler returns an echo error handler. When includeDetails is set,
// unexpected errors carry their text in details.
// Usage: e.HTTPErrorHandler = api.NewErrorHandler(false)
func NewErrorHandler(includeDetails bool) echo.HTTPErrorHandler {
	return func(err error, c echo.Context) {
		if c.Response().Committed {
			return
		}

		var apiErr *APIError
		var httpErr *echo.HTTPError

		switch {
		case errors.As(err, &apiErr):
		case errors.As(err, &httpErr):
			apiErr = fromHTTPError(httpErr)
		default:
			apiErr = &APIError{
				Status:  http.StatusInternalServerError,
				Code:    "UNKNOWN_ERROR",
				Message: "An unexpected error occurred",
			}
			if includeDetails {
				apiErr.Details = err.Error()
			}
			slog.Error("unhandled error", "method", c.Request().Method, "path", c.Path(), "err", err)
		}

		_ = RespondWithError(c, apiErr)
	}
}

// ErrorHandler is the handler installed by default.
var ErrorHandler = NewErrorHandler(false)

func fromHTTPError(e *echo.HTTPError) *APIError {
	msg := fmt.Sprintf("%v", e.Message)
	switch e.Code {
	case http.StatusRequestEntityTooLarge:
		return &APIError{Status: e.Code, Code: "FILE_TOO_LARGE", Message: "File too large"}
	case http.StatusNotFound:
		return &APIError{Status: e.Code, Code: "NOT_FOUND", Message: msg}
	case http.StatusMethodNotAllowed:
		return &APIError{Status: e.Code, Code: "METHOD_NOT_ALLOWED", Message: msg}
	case http.StatusServiceUnavailable:
		return NewServiceUnavailableError(msg)
	}
	return &APIError{Status: e.Code, Code: "HTTP_ERROR", Message: msg}
}

// RespondWithError writes err as the JSON error envelope. HEAD requests get
// the status only.
func RespondWithError(c echo.Context, err *APIError) error {
	if err.Retryable {
		c.Response().Header().Set("Retry-After", strconv.Itoa(retryAfterSeconds))
	}
	if c.Request().Method == http.MethodHead {
		return c.NoContent(err.Status)
	}
	return c.JSON(err.Status, err)
}
