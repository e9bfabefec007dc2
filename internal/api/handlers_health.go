// handlers_health.go - Health check handlers
package api

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/sheetviz/backend/internal/upload"
)

// HealthHandlerImpl implements the HealthHandler interface
type HealthHandlerImpl struct {
	version string
	ready   func() bool
	stats   func() upload.ExecutorStats
}

// NewHealthHandler creates a new health handler. stats may be nil.
func NewHealthHandler(version string, ready func() bool, stats func() upload.ExecutorStats) HealthHandler {
	return &HealthHandlerImpl{
		version: version,
		ready:   ready,
		stats:   stats,
	}
}

// HandleHealth reports 200 while the record store is reachable and 503 otherwise.
func (h *HealthHandlerImpl) HandleHealth(c echo.Context) error {
	resp := healthResponse{
		Status:   "healthy",
		Database: "connected",
		Version:  h.version,
	}
	if h.stats != nil {
		stats := h.stats()
		resp.Decoder = &stats
	}

	code := http.StatusOK
	if !h.ready() {
		code = http.StatusServiceUnavailable
		resp.Status = "unhealthy"
		resp.Database = "disconnected"
	}
	return c.JSON(code, resp)
}

type healthResponse struct {
	Status   string                `json:"status"`
	Database string                `json:"database"`
	Version  string                `json:"version,omitempty"`
	Decoder  *upload.ExecutorStats `json:"decoder,omitempty"`
}
