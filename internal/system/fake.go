package system

import (
	"sync"
	"time"
)

// Fake is a deterministic Facade for tests: time only moves when advanced and
// connectivity only changes when set.
type Fake struct {
	*broadcaster

	mu        sync.Mutex
	now       time.Time
	connected bool
}

// NewFake starts at the given instant with connectivity up.
func NewFake(start time.Time) *Fake {
	return &Fake{
		broadcaster: newBroadcaster(),
		now:         start,
		connected:   true,
	}
}

func (f *Fake) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()

	return f.now
}

// Advance moves the fake clock forward.
func (f *Fake) Advance(d time.Duration) {
	f.mu.Lock()
	f.now = f.now.Add(d)
	f.mu.Unlock()
}

func (f *Fake) IsConnected() bool {
	f.mu.Lock()
	defer f.mu.Unlock()

	return f.connected
}

// SetConnected flips connectivity and notifies subscribers on transitions.
func (f *Fake) SetConnected(connected bool) {
	f.mu.Lock()
	changed := connected != f.connected
	f.connected = connected
	f.mu.Unlock()

	if changed {
		f.notify(connected)
	}
}

func (f *Fake) Subscribe() (<-chan bool, func()) {
	return f.subscribe()
}
