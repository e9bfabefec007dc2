// routes.go - Route registration helpers
// This file provides a clean way to register all API routes
package api

import (
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/sheetviz/backend/internal/upload"
)

// Dependencies holds all handler dependencies
type Dependencies struct {
	Uploader    Uploader
	Records     RecordReader
	Ready       func() bool
	Stats       func() upload.ExecutorStats
	Auth        echo.MiddlewareFunc
	UploadField string
	Version     string
}

// Handlers holds all handler instances
type Handlers struct {
	Health HealthHandler
	Files  FileHandler
}

// NewHandlers creates all handler instances
func NewHandlers(deps *Dependencies) *Handlers {
	return &Handlers{
		Health: NewHealthHandler(deps.Version, deps.Ready, deps.Stats),
		Files:  NewFileHandler(deps.Uploader, deps.Records, deps.UploadField),
	}
}

// RegisterRoutes registers all API routes with the Echo instance.
// Every /api/excel route passes the readiness gate, then authentication.
func RegisterRoutes(e *echo.Echo, handlers *Handlers, deps *Dependencies) {
	e.GET("/api/health", handlers.Health.HandleHealth)

	excel := e.Group("/api/excel", RequireReady(deps.Ready))
	if deps.Auth != nil {
		excel.Use(deps.Auth)
	}
	excel.POST("/upload", handlers.Files.HandleUpload)
	excel.GET("/status/:fileId", handlers.Files.HandleStatus)
	excel.GET("/files", handlers.Files.HandleListFiles)
	excel.GET("/data/:fileId", handlers.Files.HandleGetData)
	excel.DELETE("/file/:fileId", handlers.Files.HandleDeleteFile)
	excel.POST("/file/:fileId/charts", handlers.Files.HandleAddChart)
}

// MiddlewareConfig selects the common middleware.
type MiddlewareConfig struct {
	AllowOrigins   []string
	BodyLimit      string
	RequestLogging bool
	Gzip           bool
	ShowDetails    bool
}

// SetupMiddleware configures common middleware
func SetupMiddleware(e *echo.Echo, cfg MiddlewareConfig) {
	e.HTTPErrorHandler = NewErrorHandler(cfg.ShowDetails)

	e.Use(middleware.LoggerWithConfig(middleware.LoggerConfig{
		Skipper: func(c echo.Context) bool {
			if !cfg.RequestLogging {
				return true
			}
			path := c.Request().URL.Path
			return strings.Contains(path, "/status/") || path == "/api/health"
		},
	}))

	e.Use(middleware.RecoverWithConfig(middleware.RecoverConfig{
		StackSize: 1024 * 4,
	}))

	if cfg.Gzip {
		e.Use(middleware.GzipWithConfig(middleware.GzipConfig{
			Skipper: func(c echo.Context) bool {
				return c.Request().Header.Get(echo.HeaderAccept) == MIMEApplicationMsgpack
			},
		}))
	}

	if cfg.BodyLimit != "" {
		e.Use(middleware.BodyLimit(cfg.BodyLimit))
	}

	origins := cfg.AllowOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins: origins,
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions},
		AllowHeaders: []string{echo.HeaderOrigin, echo.HeaderContentType, echo.HeaderAccept, echo.HeaderAuthorization},
	}))
}
