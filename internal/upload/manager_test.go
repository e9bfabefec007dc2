package upload

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/sheetviz/backend/internal/models"
	"github.com/sheetviz/backend/internal/parser"
	"github.com/sheetviz/backend/internal/storage"
	"github.com/sheetviz/backend/internal/store"
	"github.com/sheetviz/backend/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const xlsxType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

type decoderFunc func(path string, tabs []string) (*parser.Result, error)

func (f decoderFunc) DecodeFile(path string, tabs []string) (*parser.Result, error) {
	return f(path, tabs)
}

type fixture struct {
	mgr   *Manager
	store *testutil.MockStore
	files *storage.LocalStore
}

func newFixture(t *testing.T, decoder Decoder, workers, queue int) *fixture {
	t.Helper()
	files, err := storage.NewLocalStore(t.TempDir())
	require.NoError(t, err)
	ms := testutil.NewMockStore()
	if decoder == nil {
		decoder = parser.NewDecoder()
	}
	exec := NewExecutor(workers, queue)
	t.Cleanup(func() { _ = exec.Shutdown(context.Background()) })

	mgr := NewManager(ms, files, decoder, exec, Config{MaxUploadBytes: 1 << 20})
	return &fixture{mgr: mgr, store: ms, files: files}
}

func (f *fixture) waitFinalized(t *testing.T, id string) *models.FileRecord {
	t.Helper()
	timeout := time.After(5 * time.Second)
	for {
		select {
		case got := <-f.store.Updated():
			if got != id {
				continue
			}
			rec, err := f.store.MemoryStore.GetByID(context.Background(), id, "owner-1")
			require.NoError(t, err)
			return rec
		case <-timeout:
			t.Fatalf("record %s was not finalized", id)
			return nil
		}
	}
}

func (f *fixture) tempFiles(t *testing.T) []os.DirEntry {
	t.Helper()
	entries, err := os.ReadDir(f.files.Dir())
	require.NoError(t, err)
	return entries
}

func submit(f *fixture, name, contentType string, data []byte) (*models.FileRecord, error) {
	return f.mgr.Submit(context.Background(), SubmitRequest{
		OwnerID:      "owner-1",
		OriginalName: name,
		ContentType:  contentType,
		Size:         int64(len(data)),
		Body:         bytes.NewReader(data),
	})
}

func TestManager_Submit_DecodesAndCompletes(t *testing.T) {
	f := newFixture(t, nil, 2, 2)
	data := testutil.BuildWorkbook(t, testutil.Sheet{
		Name: "Sales",
		Rows: [][]any{{"Region", "Total"}, {"North", 10}, {"South", 20}},
	})

	rec, err := submit(f, "sales.xlsx", xlsxType, data)
	require.NoError(t, err)
	assert.Equal(t, models.FileStatusProcessing, rec.Status)
	assert.Equal(t, int64(len(data)), rec.Size)

	done := f.waitFinalized(t, rec.ID)
	assert.Equal(t, models.FileStatusCompleted, done.Status)
	require.Len(t, done.Sheets, 1)
	assert.Equal(t, []string{"Region", "Total"}, done.Sheets[0].Columns)
	require.NotNil(t, done.Metadata)
	assert.Equal(t, 2, done.Metadata.TotalRows)
	assert.Equal(t, ".xlsx", done.Metadata.FileType)
	assert.False(t, done.Metadata.ProcessedAt.IsZero())

	assert.Eventually(t, func() bool { return len(f.tempFiles(t)) == 0 }, time.Second, 10*time.Millisecond)
}

func TestManager_Submit_DecodeFailureIsStored(t *testing.T) {
	f := newFixture(t, nil, 1, 1)

	rec, err := submit(f, "broken.xlsx", xlsxType, []byte("this is not a workbook"))
	require.NoError(t, err)

	done := f.waitFinalized(t, rec.ID)
	assert.Equal(t, models.FileStatusError, done.Status)
	assert.NotEmpty(t, done.ErrorMessage)
	assert.Nil(t, done.Metadata)
	assert.Empty(t, done.Sheets)
	assert.Eventually(t, func() bool { return len(f.tempFiles(t)) == 0 }, time.Second, 10*time.Millisecond)
}

func TestManager_Submit_EmptyWorkbookIsAnError(t *testing.T) {
	f := newFixture(t, nil, 1, 1)
	data := testutil.BuildWorkbook(t, testutil.Sheet{Name: "Only", Rows: [][]any{{"Header"}}})

	rec, err := submit(f, "empty.xlsx", xlsxType, data)
	require.NoError(t, err)

	done := f.waitFinalized(t, rec.ID)
	assert.Equal(t, models.FileStatusError, done.Status)
	assert.Equal(t, "workbook contains no data rows", done.ErrorMessage)
}

func TestManager_Submit_DecoderPanicIsStored(t *testing.T) {
	f := newFixture(t, decoderFunc(func(string, []string) (*parser.Result, error) {
		panic("boom")
	}), 1, 1)

	rec, err := submit(f, "a.xlsx", xlsxType, []byte("PK"))
	require.NoError(t, err)

	done := f.waitFinalized(t, rec.ID)
	assert.Equal(t, models.FileStatusError, done.Status)
	assert.Contains(t, done.ErrorMessage, "boom")
}

func TestManager_Submit_RejectionsWriteNothing(t *testing.T) {
	tests := []struct {
		name        string
		contentType string
		size        int64
		body        string
		wantErr     error
	}{
		{"csv content type", "text/csv", 10, "a,b", ErrUnsupportedMediaType},
		{"empty content type", "", 10, "x", ErrUnsupportedMediaType},
		{"declared too large", xlsxType, (1 << 20) + 1, "x", ErrPayloadTooLarge},
		{"streamed too large", xlsxType, -1, strings.Repeat("x", (1<<20)+1), ErrPayloadTooLarge},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, nil, 1, 1)

			rec, err := f.mgr.Submit(context.Background(), SubmitRequest{
				OwnerID:      "owner-1",
				OriginalName: "file.xlsx",
				ContentType:  tt.contentType,
				Size:         tt.size,
				Body:         strings.NewReader(tt.body),
			})
			assert.Nil(t, rec)
			assert.ErrorIs(t, err, tt.wantErr)
			assert.Equal(t, 0, f.store.Writes())
			assert.Empty(t, f.tempFiles(t))
		})
	}
}

func TestManager_Submit_AcceptsMimeParameters(t *testing.T) {
	f := newFixture(t, decoderFunc(func(string, []string) (*parser.Result, error) {
		return nil, &parser.DecodeError{Cause: "stub"}
	}), 1, 1)

	_, err := submit(f, "legacy.xls", "Application/VND.ms-excel; charset=binary", []byte("x"))
	assert.NoError(t, err)
}

func TestManager_Submit_BusyWhenQueueFull(t *testing.T) {
	release := make(chan struct{})
	f := newFixture(t, decoderFunc(func(string, []string) (*parser.Result, error) {
		<-release
		return nil, &parser.DecodeError{Cause: "stub"}
	}), 1, 0)
	defer close(release)

	first, err := submit(f, "a.xlsx", xlsxType, []byte("a"))
	require.NoError(t, err)
	require.NotNil(t, first)

	_, err = submit(f, "b.xlsx", xlsxType, []byte("b"))
	assert.ErrorIs(t, err, ErrBusy)
	assert.Equal(t, 1, f.store.Calls("Create"))
	assert.Len(t, f.tempFiles(t), 1)
}

func TestManager_Submit_CreateFailureCleansUp(t *testing.T) {
	f := newFixture(t, nil, 1, 0)
	f.store.FailOn("Create", fmt.Errorf("%w: timeout", store.ErrUnavailable))

	_, err := submit(f, "a.xlsx", xlsxType, []byte("a"))
	assert.ErrorIs(t, err, store.ErrUnavailable)
	assert.Empty(t, f.tempFiles(t))

	// The slot was released, so the next upload is admitted.
	f.store.FailOn("Create", nil)
	_, err = submit(f, "b.xlsx", xlsxType, []byte("b"))
	assert.NoError(t, err)
}

func TestManager_FinalizeFailureLeavesProcessing(t *testing.T) {
	f := newFixture(t, nil, 1, 1)
	f.store.FailOn("UpdateStatus", errors.New("write failed"))

	rec, err := submit(f, "a.xlsx", xlsxType, []byte("junk"))
	require.NoError(t, err)

	got := f.waitFinalized(t, rec.ID)
	assert.Equal(t, models.FileStatusProcessing, got.Status)
	assert.Eventually(t, func() bool { return len(f.tempFiles(t)) == 0 }, time.Second, 10*time.Millisecond)
	assert.Eventually(t, func() bool { return f.mgr.Stats().Failed == 1 }, time.Second, 10*time.Millisecond)
}
