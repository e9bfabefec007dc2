// Package web serves a prebuilt single-page frontend next to the API.
package web

import (
	"errors"
	"io"
	"io/fs"
	"net/http"
	"os"
	"path"
	"strings"

	"github.com/labstack/echo/v4"
)

// ErrNoIndex is returned when the frontend directory has no index.html.
var ErrNoIndex = errors.New("frontend has no index.html")

// DirFS opens dir as a frontend filesystem. It fails if dir holds no index.html.
func DirFS(dir string) (fs.FS, error) {
	info, err := os.Stat(dir)
	if err != nil {
		return nil, err
	}
	if !info.IsDir() {
		return nil, &fs.PathError{Op: "open", Path: dir, Err: fs.ErrInvalid}
	}
	fsys := os.DirFS(dir)
	if !HasIndex(fsys) {
		return nil, ErrNoIndex
	}
	return fsys, nil
}

// HasIndex reports whether fsys carries an index.html at its root.
func HasIndex(fsys fs.FS) bool {
	info, err := fs.Stat(fsys, "index.html")
	return err == nil && !info.IsDir()
}

// RegisterStaticRoutes registers the frontend static file routes with Echo.
// The API routes should be registered before calling this function.
// Unknown paths outside /api fall back to index.html for client-side routing.
func RegisterStaticRoutes(e *echo.Echo, staticFS fs.FS) {
	fileServer := http.FileServer(http.FS(staticFS))

	e.GET("/*", func(c echo.Context) error {
		requestPath := path.Clean("/" + c.Request().URL.Path)

		if requestPath == "/api" || strings.HasPrefix(requestPath, "/api/") {
			return echo.ErrNotFound
		}

		name := strings.TrimPrefix(requestPath, "/")
		if name == "" {
			return serveIndexHTML(c, staticFS)
		}

		stat, err := fs.Stat(staticFS, name)
		if err != nil {
			// likely a frontend route
			return serveIndexHTML(c, staticFS)
		}

		if stat.IsDir() {
			if _, err := fs.Stat(staticFS, path.Join(name, "index.html")); err != nil {
				return serveIndexHTML(c, staticFS)
			}
		}

		fileServer.ServeHTTP(c.Response(), c.Request())
		return nil
	})
}

// serveIndexHTML serves the main index.html for SPA routing
func serveIndexHTML(c echo.Context, staticFS fs.FS) error {
	indexFile, err := staticFS.Open("index.html")
	if err != nil {
		return echo.NewHTTPError(http.StatusNotFound, "index.html not found")
	}
	defer indexFile.Close()

	content, err := io.ReadAll(indexFile)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to read index.html")
	}

	return c.HTMLBlob(http.StatusOK, content)
}
