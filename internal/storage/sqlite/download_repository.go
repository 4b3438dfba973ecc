package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/italolelis/downloadd/internal/record"
	"github.com/italolelis/downloadd/internal/storage"
)

// DownloadRepository stores download rows in SQLite.
type DownloadRepository struct {
	db *sql.DB
}

func NewDownloadRepository(dbConn *sql.DB) *DownloadRepository {
	return &DownloadRepository{db: dbConn}
}

const downloadColumns = `id, uri, destination, status, bytes_so_far, total_bytes, etag, next_attempt_not_before, file_path, created_at, updated_at`

func (r *DownloadRepository) Insert(ctx context.Context, uri string, dest record.Destination) (string, error) {
	id := uuid.New().String()
	now := time.Now().UnixMilli()

	_, err := r.db.ExecContext(ctx,
		`INSERT INTO downloads (id, uri, destination, status, created_at, updated_at) VALUES (?, ?, ?, ?, ?, ?)`,
		id, uri, int(dest), record.StatusPending, now, now,
	)
	if err != nil {
		return "", fmt.Errorf("failed to insert download: %w", err)
	}

	return id, nil
}

func (r *DownloadRepository) Get(ctx context.Context, id string) (*record.Download, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+downloadColumns+` FROM downloads WHERE id = ?`, id)

	d, err := scanDownload(row)
	if err == sql.ErrNoRows {
		return nil, storage.ErrNotFound
	}

	if err != nil {
		return nil, err
	}

	return d, nil
}

func (r *DownloadRepository) GetAll(ctx context.Context) ([]*record.Download, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+downloadColumns+` FROM downloads ORDER BY created_at`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return collectDownloads(rows)
}

// GetActionable returns non-terminal downloads, oldest first.
func (r *DownloadRepository) GetActionable(ctx context.Context, limit int) ([]*record.Download, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+downloadColumns+` FROM downloads
		WHERE status IN (?, ?, ?)
		ORDER BY created_at
		LIMIT ?`,
		record.StatusPending, record.StatusRunning, record.StatusRunningPaused, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return collectDownloads(rows)
}

// Update writes only the provided fields and stamps updated_at. An empty
// update is a no-op.
func (r *DownloadRepository) Update(ctx context.Context, id string, u storage.Update) error {
	var (
		sets []string
		args []any
	)

	appendSet := func(col string, v any) {
		sets = append(sets, col+" = ?")
		args = append(args, v)
	}

	if u.URI != nil {
		appendSet("uri", *u.URI)
	}

	if u.Status != nil {
		appendSet("status", *u.Status)
	}

	if u.BytesSoFar != nil {
		appendSet("bytes_so_far", *u.BytesSoFar)
	}

	if u.TotalBytes != nil {
		appendSet("total_bytes", *u.TotalBytes)
	}

	if u.ETag != nil {
		appendSet("etag", *u.ETag)
	}

	if u.NextAttemptNotBefore != nil {
		appendSet("next_attempt_not_before", u.NextAttemptNotBefore.UnixMilli())
	}

	if u.FilePath != nil {
		appendSet("file_path", *u.FilePath)
	}

	if len(sets) == 0 {
		return nil
	}

	appendSet("updated_at", time.Now().UnixMilli())

	args = append(args, id)

	res, err := r.db.ExecContext(ctx,
		`UPDATE downloads SET `+strings.Join(sets, ", ")+` WHERE id = ?`, args...)
	if err != nil {
		return fmt.Errorf("failed to update download: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}

	if affected == 0 {
		return storage.ErrNotFound
	}

	return nil
}

func (r *DownloadRepository) Delete(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM downloads WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete download: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}

	if affected == 0 {
		return storage.ErrNotFound
	}

	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanDownload(row rowScanner) (*record.Download, error) {
	var (
		d         record.Download
		dest      int
		notBefore int64
		createdAt int64
		updatedAt int64
	)

	if err := row.Scan(&d.ID, &d.URI, &dest, &d.Status, &d.BytesSoFar, &d.TotalBytes,
		&d.ETag, &notBefore, &d.FilePath, &createdAt, &updatedAt); err != nil {
		return nil, err
	}

	d.Destination = record.Destination(dest)

	if notBefore > 0 {
		d.NextAttemptNotBefore = time.UnixMilli(notBefore)
	}

	d.CreatedAt = time.UnixMilli(createdAt)

	if updatedAt > 0 {
		d.UpdatedAt = time.UnixMilli(updatedAt)
	}

	return &d, nil
}

func collectDownloads(rows *sql.Rows) ([]*record.Download, error) {
	var downloads []*record.Download

	for rows.Next() {
		d, err := scanDownload(rows)
		if err != nil {
			return nil, err
		}

		downloads = append(downloads, d)
	}

	return downloads, rows.Err()
}
