// manager_test.go - Tests for storage layer
package storage

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func createTestStore(t *testing.T) *LocalStore {
	store, err := NewLocalStore(t.TempDir())
	if err != nil {
		t.Fatalf("Failed to create store: %v", err)
	}
	return store
}

func TestNewLocalStore(t *testing.T) {
	t.Run("creates upload directory", func(t *testing.T) {
		uploadDir := filepath.Join(t.TempDir(), "uploads", "tmp")

		store, err := NewLocalStore(uploadDir)
		require.NoError(t, err)
		assert.Equal(t, uploadDir, store.Dir())

		_, err = os.Stat(uploadDir)
		assert.NoError(t, err)
	})
}

func TestLocalStore_Save(t *testing.T) {
	t.Run("saves file from reader", func(t *testing.T) {
		store := createTestStore(t)

		content := "PK fake workbook"
		stored, err := store.Save("Report.XLSX", strings.NewReader(content), 1024)
		require.NoError(t, err)

		assert.True(t, strings.HasSuffix(stored.Name, ".xlsx"))
		assert.Equal(t, int64(len(content)), stored.Size)
		assert.Equal(t, store.Path(stored.Name), stored.Path)

		data, err := os.ReadFile(stored.Path)
		require.NoError(t, err)
		assert.Equal(t, content, string(data))
	})

	t.Run("names are unique", func(t *testing.T) {
		store := createTestStore(t)

		a, err := store.Save("same.xlsx", strings.NewReader("a"), 0)
		require.NoError(t, err)
		b, err := store.Save("same.xlsx", strings.NewReader("b"), 0)
		require.NoError(t, err)
		assert.NotEqual(t, a.Name, b.Name)
	})

	t.Run("rejects oversized stream and leaves nothing behind", func(t *testing.T) {
		store := createTestStore(t)

		_, err := store.Save("big.xlsx", strings.NewReader(strings.Repeat("x", 11)), 10)
		assert.ErrorIs(t, err, ErrTooLarge)

		entries, err := os.ReadDir(store.Dir())
		require.NoError(t, err)
		assert.Empty(t, entries)
	})

	t.Run("accepts stream exactly at the limit", func(t *testing.T) {
		store := createTestStore(t)

		stored, err := store.Save("ok.xlsx", strings.NewReader(strings.Repeat("x", 10)), 10)
		require.NoError(t, err)
		assert.Equal(t, int64(10), stored.Size)
	})
}

func TestLocalStore_Remove(t *testing.T) {
	store := createTestStore(t)

	stored, err := store.Save("a.xlsx", strings.NewReader("data"), 0)
	require.NoError(t, err)

	require.NoError(t, store.Remove(stored.Name))
	_, err = os.Stat(stored.Path)
	assert.True(t, os.IsNotExist(err))

	assert.NoError(t, store.Remove(stored.Name), "second remove should be a no-op")
}

func TestLocalStore_PathStaysInsideDir(t *testing.T) {
	store := createTestStore(t)
	assert.Equal(t, filepath.Join(store.Dir(), "passwd"), store.Path("../../etc/passwd"))
}

func TestLocalStore_Sweep(t *testing.T) {
	store := createTestStore(t)

	old, err := store.Save("old.xlsx", strings.NewReader("old"), 0)
	require.NoError(t, err)
	fresh, err := store.Save("fresh.xlsx", strings.NewReader("fresh"), 0)
	require.NoError(t, err)

	past := time.Now().Add(-2 * time.Hour)
	require.NoError(t, os.Chtimes(old.Path, past, past))

	removed, err := store.Sweep(time.Hour)
	require.NoError(t, err)
	assert.Equal(t, 1, removed)

	_, err = os.Stat(old.Path)
	assert.True(t, os.IsNotExist(err))
	_, err = os.Stat(fresh.Path)
	assert.NoError(t, err)
}

func TestJanitor(t *testing.T) {
	store := createTestStore(t)
	stale, err := store.Save("stale.xlsx", strings.NewReader("x"), 0)
	require.NoError(t, err)
	past := time.Now().Add(-time.Hour)
	require.NoError(t, os.Chtimes(stale.Path, past, past))

	_, err = NewJanitor(store, "not a schedule", time.Minute)
	assert.Error(t, err)

	j, err := NewJanitor(store, "@every 1h", time.Minute)
	require.NoError(t, err)
	j.Start()
	defer j.Stop()

	j.RunOnce()
	_, err = os.Stat(stale.Path)
	assert.True(t, os.IsNotExist(err))
}
