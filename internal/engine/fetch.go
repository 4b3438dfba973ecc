package engine

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/italolelis/downloadd/internal/engine/progress"
	"github.com/italolelis/downloadd/internal/logctx"
	"github.com/italolelis/downloadd/internal/record"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

const (
	filePerm = 0644

	// progressInterval is how many bytes go by between progress callbacks.
	progressInterval = 256 * 1024
)

// AttemptResult is the classified outcome of one attempt plus whatever the
// response taught us about the resource.
type AttemptResult struct {
	Outcome Outcome

	// ETag is the validator from the response, empty when absent.
	ETag string

	// TotalBytes is the full resource length learned from the response, or
	// record.TotalBytesUnknown.
	TotalBytes int64
}

// FetchExecutor issues one HTTP request per attempt and streams the body to
// the destination file. Redirects are never followed by the transport; the
// state machine resolves them through the retry scheduler instead.
type FetchExecutor struct {
	client    *http.Client
	userAgent string
}

func NewFetchExecutor(userAgent string) *FetchExecutor {
	return &FetchExecutor{
		client: &http.Client{
			Transport: otelhttp.NewTransport(http.DefaultTransport),
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
		userAgent: userAgent,
	}
}

// Attempt runs a single request/response cycle for the download. All failures
// are absorbed into the returned outcome; Attempt never returns an error.
// onProgress receives the cumulative bytes written this attempt; every byte
// reported has already hit the file.
func (e *FetchExecutor) Attempt(ctx context.Context, uri, filePath string, plan Plan, onProgress func(written int64)) AttemptResult {
	logger := logctx.LoggerFromContext(ctx)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, uri, nil)
	if err != nil {
		// A URI the client library can't even form a request for will never
		// start working on retry.
		return AttemptResult{Outcome: Outcome{Kind: OutcomeFatal, Code: http.StatusBadRequest}, TotalBytes: record.TotalBytesUnknown}
	}

	req.Header.Set("User-Agent", e.userAgent)

	if plan.IsResume() {
		req.Header.Set("Range", fmt.Sprintf("bytes=%d-", plan.RangeStart))
		req.Header.Set("If-Match", plan.IfMatch)
	}

	resp, err := e.client.Do(req)
	if err != nil {
		logger.Debug("attempt failed before response", "uri", uri, "err", err)

		return AttemptResult{Outcome: Outcome{Kind: OutcomeInterrupted}, TotalBytes: record.TotalBytesUnknown}
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK:
		if plan.IsResume() {
			// The server ignored our Range request; appending a full body
			// would corrupt the file.
			logger.Warn("server ignored range request", "uri", uri)

			return AttemptResult{
				Outcome:    Outcome{Kind: OutcomeInterrupted, IntegrityFailure: true},
				TotalBytes: record.TotalBytesUnknown,
			}
		}

		return e.stream(ctx, resp, filePath, 0, resp.ContentLength, onProgress)
	case resp.StatusCode == http.StatusPartialContent:
		return e.streamPartial(ctx, resp, filePath, plan, onProgress)
	case resp.StatusCode >= 300 && resp.StatusCode < 400:
		return classifyRedirect(resp)
	case resp.StatusCode >= 500:
		return classifyRetryAfter(resp)
	default:
		return AttemptResult{
			Outcome:    Outcome{Kind: OutcomeFatal, Code: resp.StatusCode},
			TotalBytes: record.TotalBytesUnknown,
		}
	}
}

func (e *FetchExecutor) streamPartial(ctx context.Context, resp *http.Response, filePath string, plan Plan, onProgress func(int64)) AttemptResult {
	logger := logctx.LoggerFromContext(ctx)

	if !plan.IsResume() {
		// Partial content for a full request means the server is confused;
		// nothing about the file can be trusted.
		return AttemptResult{
			Outcome:    Outcome{Kind: OutcomeInterrupted, IntegrityFailure: true},
			TotalBytes: record.TotalBytesUnknown,
		}
	}

	start, total, err := parseContentRange(resp.Header.Get("Content-Range"))
	if err != nil || start != plan.RangeStart {
		if err == nil {
			err = &RangeMismatchError{Requested: plan.RangeStart, Got: start}
		}

		logger.Warn("resume rejected", "err", err)

		return AttemptResult{
			Outcome:    Outcome{Kind: OutcomeInterrupted, IntegrityFailure: true},
			TotalBytes: record.TotalBytesUnknown,
		}
	}

	if total == record.TotalBytesUnknown && resp.ContentLength >= 0 {
		total = start + resp.ContentLength
	}

	return e.stream(ctx, resp, filePath, start, total, onProgress)
}

// stream appends the response body at the given offset and flushes before
// reporting the outcome, so acknowledged bytes survive a crash.
func (e *FetchExecutor) stream(ctx context.Context, resp *http.Response, filePath string, offset, total int64, onProgress func(int64)) AttemptResult {
	logger := logctx.LoggerFromContext(ctx)

	flags := os.O_CREATE | os.O_WRONLY | os.O_TRUNC
	if offset > 0 {
		flags = os.O_CREATE | os.O_WRONLY | os.O_APPEND
	}

	if total == record.TotalBytesUnknown && resp.ContentLength >= 0 {
		total = resp.ContentLength
	}

	result := AttemptResult{
		ETag:       resp.Header.Get("ETag"),
		TotalBytes: total,
	}

	out, err := os.OpenFile(filePath, flags, filePerm)
	if err != nil {
		logger.Error("failed to open destination file", "file_path", filePath, "err", err)

		result.Outcome = Outcome{Kind: OutcomeInterrupted}

		return result
	}

	pw := progress.NewWriter(out, progressInterval, func(written int64) {
		// The chunk is already in the file; flush before acknowledging so the
		// caller never records bytes the disk hasn't seen.
		_ = out.Sync()
		onProgress(written)
	})

	written, copyErr := io.Copy(pw, resp.Body)

	syncErr := out.Sync()
	closeErr := out.Close()

	result.Outcome = Outcome{Kind: OutcomeInterrupted, BytesThisAttempt: written}

	switch {
	case copyErr != nil:
		logger.Debug("transfer interrupted", "file_path", filePath, "written", written, "err", copyErr)
	case syncErr != nil || closeErr != nil:
		logger.Warn("failed to flush destination file", "file_path", filePath, "sync_err", syncErr, "close_err", closeErr)
	case total != record.TotalBytesUnknown && offset+written < total:
		// Clean EOF short of the advertised length: the server hung up early.
		logger.Debug("short body", "file_path", filePath, "written", written, "total", total)
	default:
		result.Outcome = Outcome{Kind: OutcomeSuccess, BytesThisAttempt: written}
	}

	return result
}

func classifyRedirect(resp *http.Response) AttemptResult {
	loc := resp.Header.Get("Location")
	if loc == "" {
		return AttemptResult{
			Outcome:    Outcome{Kind: OutcomeFatal, Code: resp.StatusCode},
			TotalBytes: record.TotalBytesUnknown,
		}
	}

	target, err := resp.Request.URL.Parse(loc)
	if err != nil {
		return AttemptResult{
			Outcome:    Outcome{Kind: OutcomeFatal, Code: resp.StatusCode},
			TotalBytes: record.TotalBytesUnknown,
		}
	}

	return AttemptResult{
		Outcome:    Outcome{Kind: OutcomeRedirect, Location: target.String()},
		TotalBytes: record.TotalBytesUnknown,
	}
}

func classifyRetryAfter(resp *http.Response) AttemptResult {
	result := AttemptResult{
		Outcome:    Outcome{Kind: OutcomeRetryAfter},
		TotalBytes: record.TotalBytesUnknown,
	}

	if header := resp.Header.Get("Retry-After"); header != "" {
		if seconds, err := strconv.Atoi(header); err == nil && seconds >= 0 {
			result.Outcome.RetryAfter = time.Duration(seconds) * time.Second
			result.Outcome.HasRetryAfter = true
		}
	}

	return result
}

func parseContentRange(header string) (start, total int64, err error) {
	if header == "" {
		return 0, 0, fmt.Errorf("missing Content-Range header")
	}

	var end int64

	if _, err := fmt.Sscanf(header, "bytes %d-%d/%d", &start, &end, &total); err == nil {
		return start, total, nil
	}

	if _, err := fmt.Sscanf(header, "bytes %d-%d/*", &start, &end); err == nil {
		return start, record.TotalBytesUnknown, nil
	}

	return 0, 0, fmt.Errorf("malformed Content-Range header %q", header)
}
