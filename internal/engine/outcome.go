package engine

import (
	"fmt"
	"time"
)

// OutcomeKind classifies the result of a single download attempt. Every
// attempt-level failure is absorbed into this taxonomy before it reaches the
// state machine; nothing below this layer is allowed to propagate an error up.
type OutcomeKind int

const (
	// OutcomeSuccess means the full body was consumed and flushed.
	OutcomeSuccess OutcomeKind = iota
	// OutcomeFatal means a non-retryable response; Code carries the status.
	OutcomeFatal
	// OutcomeInterrupted means the transfer stopped early; BytesThisAttempt
	// bytes were written and flushed before it did.
	OutcomeInterrupted
	// OutcomeRetryAfter means the server asked us to back off.
	OutcomeRetryAfter
	// OutcomeRedirect means the resource moved; Location carries the target.
	OutcomeRedirect
)

func (k OutcomeKind) String() string {
	switch k {
	case OutcomeSuccess:
		return "success"
	case OutcomeFatal:
		return "fatal"
	case OutcomeInterrupted:
		return "interrupted"
	case OutcomeRetryAfter:
		return "retry_after"
	case OutcomeRedirect:
		return "redirect"
	default:
		return "unknown"
	}
}

// Outcome is the classified result of one attempt.
type Outcome struct {
	Kind OutcomeKind

	// Code is the terminal HTTP status for OutcomeFatal.
	Code int

	// BytesThisAttempt is the number of bytes written and flushed during an
	// OutcomeInterrupted attempt. Zero credited bytes plus IntegrityFailure
	// forces the next attempt to restart from scratch.
	BytesThisAttempt int64

	// RetryAfter is the server-advertised delay for OutcomeRetryAfter;
	// HasRetryAfter distinguishes an absent header from a zero value.
	RetryAfter    time.Duration
	HasRetryAfter bool

	// Location is the absolute redirect target for OutcomeRedirect.
	Location string

	// IntegrityFailure marks a range or validator mismatch on resume. The
	// partial file can no longer be trusted.
	IntegrityFailure bool
}

// RangeMismatchError reports a partial-content response whose range start does
// not line up with the bytes already on disk.
type RangeMismatchError struct {
	Requested int64
	Got       int64
}

func (e *RangeMismatchError) Error() string {
	return fmt.Sprintf("range mismatch: requested bytes=%d-, server sent %d", e.Requested, e.Got)
}
