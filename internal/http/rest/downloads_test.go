package rest

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/italolelis/downloadd/internal/record"
	"github.com/italolelis/downloadd/internal/storage"
	"github.com/italolelis/downloadd/internal/storage/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// mockEngine implements DownloadEngine for handler tests.
type mockEngine struct {
	kicks      int
	deleteFunc func(ctx context.Context, id string) error
	deletedID  string
}

func (m *mockEngine) Kick() { m.kicks++ }

func (m *mockEngine) Delete(ctx context.Context, id string) error {
	m.deletedID = id

	if m.deleteFunc != nil {
		return m.deleteFunc(ctx, id)
	}

	return nil
}

func newTestHandler(t *testing.T) (*DownloadsHandler, storage.DownloadRepository, *mockEngine) {
	t.Helper()

	db, err := sqlite.InitDB(filepath.Join(t.TempDir(), "downloads.db"))
	require.NoError(t, err)

	t.Cleanup(func() { db.Close() })

	repo := sqlite.NewDownloadRepository(db)
	eng := &mockEngine{}

	return NewDownloadsHandler(repo, eng, nil), repo, eng
}

func TestEnqueueDownload(t *testing.T) {
	handler, repo, eng := newTestHandler(t)
	router := handler.Routes()

	body, err := json.Marshal(map[string]string{
		"uri":         "http://example.com/file.bin",
		"destination": "cache",
	})
	require.NoError(t, err)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/downloads", bytes.NewReader(body)))

	require.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, 1, eng.kicks)

	var resp map[string]string

	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.NotEmpty(t, resp["id"])

	d, err := repo.Get(context.Background(), resp["id"])
	require.NoError(t, err)

	assert.Equal(t, "http://example.com/file.bin", d.URI)
	assert.Equal(t, record.DestinationCachePartition, d.Destination)
	assert.Equal(t, record.StatusPending, d.Status)
}

func TestEnqueueValidation(t *testing.T) {
	handler, _, eng := newTestHandler(t)
	router := handler.Routes()

	tests := []struct {
		name string
		body string
	}{
		{"not json", "not json at all"},
		{"relative uri", `{"uri": "/just/a/path"}`},
		{"unsupported scheme", `{"uri": "ftp://example.com/file"}`},
		{"bad destination", `{"uri": "http://example.com/file", "destination": "floppy"}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/downloads", bytes.NewBufferString(tt.body)))

			assert.Equal(t, http.StatusBadRequest, rec.Code)
		})
	}

	assert.Zero(t, eng.kicks)
}

func TestGetDownload(t *testing.T) {
	handler, repo, _ := newTestHandler(t)
	router := handler.Routes()

	id, err := repo.Insert(context.Background(), "http://example.com/file.bin", record.DestinationExternal)
	require.NoError(t, err)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/downloads/"+id, nil))

	require.Equal(t, http.StatusOK, rec.Code)

	var resp downloadResponse

	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, id, resp.ID)
	assert.Equal(t, "http://example.com/file.bin", resp.URI)
	assert.Equal(t, "external", resp.Destination)
	assert.Equal(t, record.StatusPending, resp.Status)
	assert.Equal(t, int64(record.TotalBytesUnknown), resp.TotalBytes)
}

func TestGetDownloadNotFound(t *testing.T) {
	handler, _, _ := newTestHandler(t)
	router := handler.Routes()

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/downloads/unknown", nil))

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestListDownloads(t *testing.T) {
	handler, repo, _ := newTestHandler(t)
	router := handler.Routes()

	_, err := repo.Insert(context.Background(), "http://example.com/a", record.DestinationExternal)
	require.NoError(t, err)

	_, err = repo.Insert(context.Background(), "http://example.com/b", record.DestinationExternal)
	require.NoError(t, err)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/downloads", nil))

	require.Equal(t, http.StatusOK, rec.Code)

	var resp []downloadResponse

	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Len(t, resp, 2)
}

func TestDeleteDownload(t *testing.T) {
	handler, repo, eng := newTestHandler(t)
	router := handler.Routes()

	id, err := repo.Insert(context.Background(), "http://example.com/file.bin", record.DestinationExternal)
	require.NoError(t, err)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodDelete, "/downloads/"+id, nil))

	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, id, eng.deletedID)
}

func TestDeleteDownloadNotFound(t *testing.T) {
	handler, _, eng := newTestHandler(t)
	eng.deleteFunc = func(ctx context.Context, id string) error {
		return storage.ErrNotFound
	}

	router := handler.Routes()

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodDelete, "/downloads/unknown", nil))

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestRunTriggersDispatch(t *testing.T) {
	handler, _, eng := newTestHandler(t)
	router := handler.Routes()

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/downloads/run", nil))

	assert.Equal(t, http.StatusAccepted, rec.Code)
	assert.Equal(t, 1, eng.kicks)
}
