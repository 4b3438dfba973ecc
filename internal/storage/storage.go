package storage

import (
	"context"
	"errors"
	"time"

	"github.com/italolelis/downloadd/internal/record"
)

// ErrNotFound is returned when a download id has no row.
var ErrNotFound = errors.New("download not found")

// Update carries the engine-owned fields of a download row. Nil fields are
// left untouched; the engine never writes outside this set.
type Update struct {
	URI                  *string
	Status               *int
	BytesSoFar           *int64
	TotalBytes           *int64
	ETag                 *string
	NextAttemptNotBefore *time.Time
	FilePath             *string
}

// DownloadReadRepository exposes read access to download rows.
type DownloadReadRepository interface {
	Get(ctx context.Context, id string) (*record.Download, error)
	GetAll(ctx context.Context) ([]*record.Download, error)
	// GetActionable returns non-terminal downloads, oldest first. Gating by
	// NextAttemptNotBefore is the engine's job since it owns the clock.
	GetActionable(ctx context.Context, limit int) ([]*record.Download, error)
}

// DownloadWriteRepository exposes the narrow mutation surface the enqueue
// path and the engine are allowed to use.
type DownloadWriteRepository interface {
	Insert(ctx context.Context, uri string, dest record.Destination) (string, error)
	Update(ctx context.Context, id string, u Update) error
	Delete(ctx context.Context, id string) error
}

// DownloadRepository combines both sides for consumers that need them all.
type DownloadRepository interface {
	DownloadReadRepository
	DownloadWriteRepository
}

// Pointer helpers for building sparse updates.

func String(s string) *string     { return &s }
func Int(i int) *int              { return &i }
func Int64(i int64) *int64        { return &i }
func Time(t time.Time) *time.Time { return &t }
