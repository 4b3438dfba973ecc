package cleanup

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/italolelis/downloadd/internal/record"
	"github.com/italolelis/downloadd/internal/storage"
	"github.com/italolelis/downloadd/internal/storage/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func seedDownload(t *testing.T, db *sql.DB, repo storage.DownloadRepository, status int, age time.Duration, filePath string) string {
	t.Helper()

	ctx := context.Background()

	id, err := repo.Insert(ctx, "http://example.com/file.bin", record.DestinationExternal)
	require.NoError(t, err)

	update := storage.Update{Status: storage.Int(status)}
	if filePath != "" {
		update.FilePath = storage.String(filePath)
	}

	require.NoError(t, repo.Update(ctx, id, update))

	at := time.Now().Add(-age).UnixMilli()
	_, err = db.ExecContext(ctx, `UPDATE downloads SET created_at = ?, updated_at = ? WHERE id = ?`, at, at, id)
	require.NoError(t, err)

	return id
}

func TestPurgeFailedRemovesOnlyStaleFailures(t *testing.T) {
	dir := t.TempDir()

	db, err := sqlite.InitDB(filepath.Join(dir, "downloads.db"))
	require.NoError(t, err)

	t.Cleanup(func() { db.Close() })

	repo := sqlite.NewDownloadRepository(db)
	ctx := context.Background()

	staleFile := filepath.Join(dir, "stale.bin")
	require.NoError(t, os.WriteFile(staleFile, []byte("partial"), 0644))

	staleFailed := seedDownload(t, db, repo, 404, 48*time.Hour, staleFile)
	freshFailed := seedDownload(t, db, repo, 500, time.Hour, "")
	succeeded := seedDownload(t, db, repo, record.StatusSuccess, 48*time.Hour, "")
	paused := seedDownload(t, db, repo, record.StatusRunningPaused, 48*time.Hour, "")

	require.NoError(t, PurgeFailed(ctx, repo, 24*time.Hour, time.Now()))

	_, err = repo.Get(ctx, staleFailed)
	assert.ErrorIs(t, err, storage.ErrNotFound)
	assert.NoFileExists(t, staleFile)

	for _, id := range []string{freshFailed, succeeded, paused} {
		_, err := repo.Get(ctx, id)
		assert.NoError(t, err)
	}
}

func TestPurgeFailedKeysOnFailureTime(t *testing.T) {
	dir := t.TempDir()

	db, err := sqlite.InitDB(filepath.Join(dir, "downloads.db"))
	require.NoError(t, err)

	t.Cleanup(func() { db.Close() })

	repo := sqlite.NewDownloadRepository(db)
	ctx := context.Background()

	// Enqueued two days ago but failed only an hour ago: the retention clock
	// starts at the failure, so the row survives the sweep.
	id := seedDownload(t, db, repo, 404, time.Hour, "")

	_, err = db.ExecContext(ctx, `UPDATE downloads SET created_at = ? WHERE id = ?`,
		time.Now().Add(-48*time.Hour).UnixMilli(), id)
	require.NoError(t, err)

	require.NoError(t, PurgeFailed(ctx, repo, 24*time.Hour, time.Now()))

	_, err = repo.Get(ctx, id)
	assert.NoError(t, err)
}

func TestPurgeFailedMissingFileIsFine(t *testing.T) {
	dir := t.TempDir()

	db, err := sqlite.InitDB(filepath.Join(dir, "downloads.db"))
	require.NoError(t, err)

	t.Cleanup(func() { db.Close() })

	repo := sqlite.NewDownloadRepository(db)
	ctx := context.Background()

	// The file path points nowhere; the row must still be purged.
	id := seedDownload(t, db, repo, 404, 48*time.Hour, filepath.Join(dir, "never-written.bin"))

	require.NoError(t, PurgeFailed(ctx, repo, 24*time.Hour, time.Now()))

	_, err = repo.Get(ctx, id)
	assert.ErrorIs(t, err, storage.ErrNotFound)
}
