package web

import (
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"testing/fstest"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newFrontend() fstest.MapFS {
	return fstest.MapFS{
		"index.html":      {Data: []byte("<html>app</html>")},
		"assets/app.js":   {Data: []byte("console.log('app')")},
		"docs/index.html": {Data: []byte("<html>docs</html>")},
		"images/.keep":    {Data: []byte{}},
	}
}

func serve(t *testing.T, e *echo.Echo, target string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, target, nil)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

func TestRegisterStaticRoutes(t *testing.T) {
	e := echo.New()
	e.GET("/api/health", func(c echo.Context) error {
		return c.String(http.StatusOK, "ok")
	})
	RegisterStaticRoutes(e, newFrontend())

	t.Run("root serves index", func(t *testing.T) {
		rec := serve(t, e, "/")
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Contains(t, rec.Body.String(), "app")
	})

	t.Run("asset served as is", func(t *testing.T) {
		rec := serve(t, e, "/assets/app.js")
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Contains(t, rec.Body.String(), "console.log")
	})

	t.Run("client route falls back to index", func(t *testing.T) {
		rec := serve(t, e, "/files/abc/charts")
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Contains(t, rec.Body.String(), "<html>app</html>")
	})

	t.Run("directory without index falls back", func(t *testing.T) {
		rec := serve(t, e, "/images")
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Contains(t, rec.Body.String(), "<html>app</html>")
	})

	t.Run("api routes are not shadowed", func(t *testing.T) {
		rec := serve(t, e, "/api/health")
		assert.Equal(t, "ok", rec.Body.String())
	})

	t.Run("unknown api path is 404", func(t *testing.T) {
		rec := serve(t, e, "/api/nope")
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})
}

func TestDirFS(t *testing.T) {
	dir := t.TempDir()

	_, err := DirFS(dir)
	assert.ErrorIs(t, err, ErrNoIndex)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "index.html"), []byte("<html></html>"), 0644))
	fsys, err := DirFS(dir)
	require.NoError(t, err)
	assert.True(t, HasIndex(fsys))

	_, err = DirFS(filepath.Join(dir, "missing"))
	assert.Error(t, err)
}
