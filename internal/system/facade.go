package system

import (
	"context"
	"net"
	"sync"
	"time"

	"github.com/italolelis/downloadd/internal/logctx"
)

// Facade supplies wall-clock time and network reachability to the engine.
// It exists so retry math and connectivity behavior are deterministic under
// test; the engine never reaches for time.Now or the network stack directly.
type Facade interface {
	Now() time.Time
	IsConnected() bool
	// Subscribe returns a channel that receives the new connectivity state on
	// every transition, plus a cancel func that releases the subscription.
	Subscribe() (<-chan bool, func())
}

// broadcaster implements the subscribe/notify half of a Facade.
type broadcaster struct {
	mu   sync.Mutex
	subs map[chan bool]struct{}
}

func newBroadcaster() *broadcaster {
	return &broadcaster{subs: make(map[chan bool]struct{})}
}

func (b *broadcaster) subscribe() (<-chan bool, func()) {
	ch := make(chan bool, 1)

	b.mu.Lock()
	b.subs[ch] = struct{}{}
	b.mu.Unlock()

	return ch, func() {
		b.mu.Lock()
		delete(b.subs, ch)
		b.mu.Unlock()
	}
}

func (b *broadcaster) notify(connected bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for ch := range b.subs {
		// Drop-oldest so a slow subscriber only ever misses stale states.
		select {
		case ch <- connected:
		default:
			select {
			case <-ch:
			default:
			}
			ch <- connected
		}
	}
}

// RealFacade reports the actual wall clock and probes a TCP address to decide
// reachability, re-checking on an interval.
type RealFacade struct {
	*broadcaster

	probeAddr    string
	probeTimeout time.Duration

	mu        sync.Mutex
	connected bool
}

// NewRealFacade creates a facade probing the given "host:port" address.
func NewRealFacade(probeAddr string, probeTimeout time.Duration) *RealFacade {
	return &RealFacade{
		broadcaster:  newBroadcaster(),
		probeAddr:    probeAddr,
		probeTimeout: probeTimeout,
		connected:    true,
	}
}

func (f *RealFacade) Now() time.Time { return time.Now() }

func (f *RealFacade) IsConnected() bool {
	f.mu.Lock()
	defer f.mu.Unlock()

	return f.connected
}

func (f *RealFacade) Subscribe() (<-chan bool, func()) {
	return f.subscribe()
}

// Watch probes connectivity on the given interval until the context ends,
// notifying subscribers on every transition.
func (f *RealFacade) Watch(ctx context.Context, interval time.Duration) {
	logger := logctx.LoggerFromContext(ctx)

	ticker := time.NewTicker(interval)

	go func() {
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				logger.Info("connectivity watcher shutting down")

				return
			case <-ticker.C:
				connected := f.probe()

				f.mu.Lock()
				changed := connected != f.connected
				f.connected = connected
				f.mu.Unlock()

				if changed {
					logger.Info("connectivity changed", "connected", connected)
					f.notify(connected)
				}
			}
		}
	}()
}

func (f *RealFacade) probe() bool {
	conn, err := net.DialTimeout("tcp", f.probeAddr, f.probeTimeout)
	if err != nil {
		return false
	}

	_ = conn.Close()

	return true
}
