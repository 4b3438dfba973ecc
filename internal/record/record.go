package record

import (
	"net/http"
	"time"
)

// Destination selects where a download is written on the local filesystem.
type Destination int

const (
	DestinationExternal Destination = iota
	DestinationCachePartition
)

// Download statuses. Informational statuses occupy the 19x range so that any
// terminal HTTP error code can be stored in the same column.
const (
	StatusPending       = 190
	StatusRunning       = 192
	StatusRunningPaused = 193
	StatusSuccess       = http.StatusOK
)

// TotalBytesUnknown is stored until a response advertises a content length.
const TotalBytesUnknown = -1

// Download is the unit of work tracked by the engine. It is created by the
// store on enqueue and mutated exclusively by the engine afterwards.
type Download struct {
	ID          string
	URI         string
	Destination Destination
	Status      int
	BytesSoFar  int64
	TotalBytes  int64
	ETag        string

	// NextAttemptNotBefore gates retry scheduling; the engine must not start
	// a new attempt before this instant. Zero means immediately eligible.
	NextAttemptNotBefore time.Time

	// FilePath is set once the first attempt starts writing and is stable for
	// the life of the record.
	FilePath string

	CreatedAt time.Time

	// UpdatedAt tracks the last row mutation; retention sweeps key on it so a
	// long-running download isn't purged the moment it finally fails.
	UpdatedAt time.Time
}

// IsTerminal reports whether no further attempts will be scheduled. It is the
// complement of the informational set so that every stored response code,
// including odd sub-400 ones like 204, lands in exactly one of the two.
func IsTerminal(status int) bool {
	return !IsInformational(status)
}

// IsInformational reports whether the download is still in flight or waiting.
func IsInformational(status int) bool {
	return status == StatusPending || status == StatusRunning || status == StatusRunningPaused
}

// Eligible reports whether the download may start an attempt at the given time.
func (d *Download) Eligible(now time.Time) bool {
	if !IsInformational(d.Status) {
		return false
	}

	return !now.Before(d.NextAttemptNotBefore)
}

// Complete reports whether every expected byte has been written.
func (d *Download) Complete() bool {
	return d.TotalBytes != TotalBytesUnknown && d.BytesSoFar == d.TotalBytes
}
