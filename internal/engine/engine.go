package engine

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/italolelis/downloadd/internal/logctx"
	"github.com/italolelis/downloadd/internal/record"
	"github.com/italolelis/downloadd/internal/storage"
	"github.com/italolelis/downloadd/internal/system"
	"github.com/italolelis/downloadd/internal/telemetry"
	"golang.org/x/sync/errgroup"
)

const (
	dirPerm = 0755

	// scanLimit bounds how many actionable rows one trigger pass considers.
	scanLimit = 500
)

// Engine drives every download through its state machine: it scans the store
// for eligible records, runs at most one attempt per record at a time, applies
// the classified outcome, and schedules retries. Connectivity loss aborts
// in-flight attempts and pauses without penalty.
type Engine struct {
	repo        storage.DownloadRepository
	fetcher     *FetchExecutor
	scheduler   *RetryScheduler
	facade      system.Facade
	tel         *telemetry.Telemetry
	downloadDir string
	cacheDir    string
	maxParallel int

	mu       sync.Mutex
	inFlight map[string]context.CancelFunc

	wake chan struct{}

	// Event channels are never closed; outcome application may still emit
	// while the rest of the process is shutting down. Sends never block, so
	// an absent consumer only loses events.
	OnDownloadFinished chan *record.Download
	OnDownloadFailed   chan *record.Download
}

func New(
	repo storage.DownloadRepository,
	facade system.Facade,
	fetcher *FetchExecutor,
	scheduler *RetryScheduler,
	tel *telemetry.Telemetry,
	downloadDir string,
	cacheDir string,
	maxParallel int,
) *Engine {
	return &Engine{
		repo:        repo,
		facade:      facade,
		fetcher:     fetcher,
		scheduler:   scheduler,
		tel:         tel,
		downloadDir: downloadDir,
		cacheDir:    cacheDir,
		maxParallel: maxParallel,
		inFlight:    make(map[string]context.CancelFunc),
		wake:        make(chan struct{}, 1),

		OnDownloadFinished: make(chan *record.Download, 16),
		OnDownloadFailed:   make(chan *record.Download, 16),
	}
}

// Kick asks the watch loop to run a dispatch pass soon. Safe from any
// goroutine; extra kicks coalesce.
func (e *Engine) Kick() {
	select {
	case e.wake <- struct{}{}:
	default:
	}
}

// Watch re-evaluates eligible downloads on every wake-up, poll tick, and
// connectivity transition until the context ends.
//
// Connectivity events are consumed on their own goroutine. A dispatch pass
// blocks until every attempt it started has finished, so handling the events
// in the dispatch loop would leave a disconnect unread exactly when it matters
// most: while a long transfer is in flight.
func (e *Engine) Watch(ctx context.Context, pollInterval time.Duration) {
	logger := logctx.LoggerFromContext(ctx)

	events, unsubscribe := e.facade.Subscribe()
	ticker := time.NewTicker(pollInterval)

	go func() {
		defer unsubscribe()

		for {
			select {
			case <-ctx.Done():
				return
			case connected := <-events:
				if connected {
					e.Kick()
				} else {
					e.abortInFlight()
				}
			}
		}
	}()

	go func() {
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				logger.Info("shutting down download engine")

				return
			case <-e.wake:
				e.dispatch(ctx)
			case <-ticker.C:
				e.dispatch(ctx)
			}
		}
	}()
}

func (e *Engine) dispatch(ctx context.Context) {
	if err := e.RunEligible(ctx); err != nil {
		logctx.LoggerFromContext(ctx).Error("dispatch pass failed", "err", err)
	}
}

// RunEligible scans for downloads whose attempt gate has passed and runs one
// attempt for each, bounded by maxParallel. Calling it when nothing is
// eligible is a no-op. It returns once every dispatched attempt has had its
// outcome applied.
func (e *Engine) RunEligible(ctx context.Context) error {
	logger := logctx.LoggerFromContext(ctx)

	downloads, err := e.repo.GetActionable(ctx, scanLimit)
	if err != nil {
		return fmt.Errorf("failed to scan actionable downloads: %w", err)
	}

	now := e.facade.Now()

	var eligible []*record.Download

	for _, d := range downloads {
		if d.Eligible(now) {
			eligible = append(eligible, d)
		}
	}

	if len(eligible) == 0 {
		return nil
	}

	if !e.facade.IsConnected() {
		// Pause immediately and without backoff penalty; a reconnect makes
		// these records eligible again at once.
		for _, d := range eligible {
			e.pause(ctx, d.ID, now)
		}

		return nil
	}

	logger.Debug("dispatching eligible downloads", "count", len(eligible))

	wg, ctx := errgroup.WithContext(ctx)

	sem := make(chan struct{}, e.maxParallel)

	for i := range eligible {
		d := eligible[i]

		attemptCtx, cancel := context.WithCancel(ctx)
		if !e.claim(d.ID, cancel) {
			// A previous attempt for this record is still in flight or its
			// outcome is still being applied.
			cancel()

			continue
		}

		sem <- struct{}{}

		wg.Go(func() error {
			defer func() { <-sem }()
			defer e.release(d.ID)

			e.runAttempt(attemptCtx, d)

			return nil
		})
	}

	return wg.Wait()
}

// runAttempt owns one full attempt cycle for one record: RUNNING transition,
// fetch, outcome application. Attempt-level failures never escape it.
func (e *Engine) runAttempt(ctx context.Context, d *record.Download) {
	logger := logctx.LoggerFromContext(ctx).With("download_id", d.ID)
	ctx = logctx.WithLogger(ctx, logger)

	if err := e.prepareAttempt(ctx, d); err != nil {
		logger.Error("failed to prepare attempt", "err", err)

		return
	}

	plan := PlanAttempt(d)

	base := plan.RangeStart

	onProgress := func(written int64) {
		total := base + written

		logger.Debug("download progress", "uri", d.URI, "downloaded", humanize.Bytes(uint64(total)))

		if err := e.repo.Update(ctx, d.ID, storage.Update{BytesSoFar: storage.Int64(total)}); err != nil {
			logger.Error("failed to persist progress", "err", err)
		}
	}

	var result AttemptResult

	_ = e.tel.InstrumentAttempt(ctx, func(ctx context.Context) error {
		result = e.fetcher.Attempt(ctx, d.URI, d.FilePath, plan, onProgress)

		if result.Outcome.Kind == OutcomeFatal {
			return fmt.Errorf("download failed with status %d", result.Outcome.Code)
		}

		return nil
	})

	// The attempt context may already be cancelled (connectivity loss); the
	// outcome still has to reach the store.
	e.applyOutcome(context.WithoutCancel(ctx), d, plan, result)
}

// prepareAttempt derives the destination path on the first attempt, guards
// against a partial file that no longer matches the recorded progress, and
// moves the record to RUNNING.
func (e *Engine) prepareAttempt(ctx context.Context, d *record.Download) error {
	update := storage.Update{Status: storage.Int(record.StatusRunning)}

	if d.FilePath == "" {
		filePath, err := e.destinationPath(d)
		if err != nil {
			return err
		}

		d.FilePath = filePath
		update.FilePath = storage.String(filePath)
	}

	if d.BytesSoFar > 0 && !trustedPartial(d) {
		// The bytes on disk no longer line up with what we recorded, or we
		// never got a validator for them. Resuming would corrupt the file.
		d.BytesSoFar = 0
		d.ETag = ""
		update.BytesSoFar = storage.Int64(0)
		update.ETag = storage.String("")
	}

	d.Status = record.StatusRunning

	return e.repo.Update(ctx, d.ID, update)
}

func trustedPartial(d *record.Download) bool {
	if d.ETag == "" {
		return false
	}

	info, err := os.Stat(d.FilePath)
	if err != nil {
		return false
	}

	return info.Size() == d.BytesSoFar
}

// applyOutcome performs the status transition for the attempt's outcome and
// persists every field the attempt learned.
func (e *Engine) applyOutcome(ctx context.Context, d *record.Download, plan Plan, result AttemptResult) {
	logger := logctx.LoggerFromContext(ctx)
	now := e.facade.Now()
	o := result.Outcome

	update := storage.Update{}

	e.tel.RecordBytesDownloaded(o.BytesThisAttempt)
	e.tel.RecordStateTransition(o.Kind.String())

	if result.ETag != "" && d.ETag == "" {
		d.ETag = result.ETag
		update.ETag = storage.String(result.ETag)
	}

	if result.TotalBytes != record.TotalBytesUnknown {
		update.TotalBytes = storage.Int64(result.TotalBytes)
	}

	switch o.Kind {
	case OutcomeSuccess:
		bytes := plan.RangeStart + o.BytesThisAttempt

		update.Status = storage.Int(record.StatusSuccess)
		update.BytesSoFar = storage.Int64(bytes)

		if result.TotalBytes == record.TotalBytesUnknown {
			update.TotalBytes = storage.Int64(bytes)
		}

		logger.Info("download complete", "uri", d.URI, "size", humanize.Bytes(uint64(bytes)))
		e.emit(e.OnDownloadFinished, d)
	case OutcomeFatal:
		update.Status = storage.Int(o.Code)

		logger.Warn("download failed permanently", "uri", d.URI, "status", o.Code)
		e.emit(e.OnDownloadFailed, d)
	case OutcomeRedirect:
		next, _ := e.scheduler.NextEligible(now, o)

		update.URI = storage.String(o.Location)
		update.Status = storage.Int(record.StatusRunningPaused)
		update.NextAttemptNotBefore = storage.Time(next)

		logger.Info("download redirected", "uri", d.URI, "location", o.Location)
	case OutcomeRetryAfter:
		next, _ := e.scheduler.NextEligible(now, o)

		update.Status = storage.Int(record.StatusRunningPaused)
		update.NextAttemptNotBefore = storage.Time(next)

		logger.Info("server asked to back off", "uri", d.URI, "retry_at", next)
	case OutcomeInterrupted:
		bytes := plan.RangeStart + o.BytesThisAttempt

		if o.IntegrityFailure {
			// Partial bytes can't be trusted anymore; restart from scratch.
			bytes = 0
			d.ETag = ""
			update.ETag = storage.String("")
		}

		update.Status = storage.Int(record.StatusRunningPaused)
		update.BytesSoFar = storage.Int64(bytes)

		if !e.facade.IsConnected() {
			// Connectivity pauses carry no backoff penalty.
			update.NextAttemptNotBefore = storage.Time(now)
		} else {
			next, _ := e.scheduler.NextEligible(now, o)
			update.NextAttemptNotBefore = storage.Time(next)
		}

		logger.Info("download interrupted", "uri", d.URI, "bytes_so_far", bytes)
	}

	if err := e.repo.Update(ctx, d.ID, update); err != nil {
		// The record's last durable status stands; the next trigger pass will
		// safely re-attempt from it.
		logger.Error("failed to record attempt outcome", "err", err)
	}
}

func (e *Engine) pause(ctx context.Context, id string, notBefore time.Time) {
	err := e.repo.Update(ctx, id, storage.Update{
		Status:               storage.Int(record.StatusRunningPaused),
		NextAttemptNotBefore: storage.Time(notBefore),
	})
	if err != nil {
		logctx.LoggerFromContext(ctx).Error("failed to pause download", "download_id", id, "err", err)
	}
}

// Delete cancels any in-flight attempt, removes the partial or complete file,
// and drops the row.
func (e *Engine) Delete(ctx context.Context, id string) error {
	d, err := e.repo.Get(ctx, id)
	if err != nil {
		return err
	}

	e.mu.Lock()
	if cancel, ok := e.inFlight[id]; ok {
		cancel()
	}
	e.mu.Unlock()

	if d.FilePath != "" {
		if err := os.Remove(d.FilePath); err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("failed to remove download file: %w", err)
		}
	}

	return e.repo.Delete(ctx, id)
}

// claim registers an in-flight attempt for the record; false means one is
// already running.
func (e *Engine) claim(id string, cancel context.CancelFunc) bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	if _, ok := e.inFlight[id]; ok {
		return false
	}

	e.inFlight[id] = cancel

	return true
}

// release is called only after the attempt's outcome has been applied, which
// keeps outcome application strictly ordered per record.
func (e *Engine) release(id string) {
	e.mu.Lock()
	cancel := e.inFlight[id]
	delete(e.inFlight, id)
	e.mu.Unlock()

	if cancel != nil {
		cancel()
	}
}

// abortInFlight cancels every running attempt; each one resolves as an
// interrupted outcome and, with connectivity down, pauses without penalty.
func (e *Engine) abortInFlight() {
	e.mu.Lock()
	cancels := make([]context.CancelFunc, 0, len(e.inFlight))

	for _, cancel := range e.inFlight {
		cancels = append(cancels, cancel)
	}
	e.mu.Unlock()

	for _, cancel := range cancels {
		cancel()
	}
}

func (e *Engine) emit(ch chan *record.Download, d *record.Download) {
	select {
	case ch <- d:
	default:
	}
}

// destinationPath derives a stable local path for the download based on its
// destination and URI, unique per record id.
func (e *Engine) destinationPath(d *record.Download) (string, error) {
	baseDir := e.downloadDir
	if d.Destination == record.DestinationCachePartition {
		baseDir = e.cacheDir
	}

	if err := os.MkdirAll(baseDir, dirPerm); err != nil {
		return "", fmt.Errorf("failed to create destination directory: %w", err)
	}

	name := d.ID

	if u, err := url.Parse(d.URI); err == nil {
		if base := path.Base(u.Path); base != "" && base != "." && base != "/" {
			name = d.ID + "-" + base
		}
	}

	return filepath.Join(baseDir, name), nil
}
