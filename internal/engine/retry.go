package engine

import (
	"math/rand"
	"time"
)

const (
	// DefaultRetryDelay is applied when the server gives no guidance.
	DefaultRetryDelay = 61 * time.Second

	// MaxRetryAfterJitter desynchronizes many clients retrying the same
	// server after a shared Retry-After hint.
	MaxRetryAfterJitter = 30 * time.Second

	// MaxRetryAfter caps absurd server-advertised delays.
	MaxRetryAfter = 24 * time.Hour
)

// RetryScheduler computes when a paused download becomes eligible again.
type RetryScheduler struct {
	defaultDelay time.Duration
	maxJitter    time.Duration
	rand         *rand.Rand
}

// NewRetryScheduler creates a scheduler with the given default delay and
// jitter ceiling. The random source is seeded per scheduler so tests can
// reason about the jitter window rather than exact values.
func NewRetryScheduler(defaultDelay, maxJitter time.Duration) *RetryScheduler {
	if defaultDelay <= 0 {
		defaultDelay = DefaultRetryDelay
	}

	if maxJitter <= 0 {
		maxJitter = MaxRetryAfterJitter
	}

	return &RetryScheduler{
		defaultDelay: defaultDelay,
		maxJitter:    maxJitter,
		rand:         rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// NextEligible returns the earliest instant a new attempt may start after the
// given outcome, or ok=false when the outcome is terminal and nothing further
// should be scheduled.
func (s *RetryScheduler) NextEligible(now time.Time, o Outcome) (time.Time, bool) {
	switch o.Kind {
	case OutcomeRetryAfter:
		if !o.HasRetryAfter {
			return now.Add(s.defaultDelay), true
		}

		delay := o.RetryAfter
		if delay > MaxRetryAfter {
			delay = MaxRetryAfter
		}

		return now.Add(delay + s.jitter()), true
	case OutcomeInterrupted, OutcomeRedirect:
		// A redirect is resolved on the next eligible attempt rather than
		// immediately, so a misbehaving redirect chain can't tight-loop.
		return now.Add(s.defaultDelay), true
	default:
		return time.Time{}, false
	}
}

func (s *RetryScheduler) jitter() time.Duration {
	return time.Duration(s.rand.Int63n(int64(s.maxJitter)))
}
