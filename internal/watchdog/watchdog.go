// Package watchdog implements a software liveness timer.
//
// The supervised loop calls Feed on every iteration. Healthy reports
// whether the most recent feed is recent enough: the watchdog is
// considered healthy while the time since the last feed is at most half
// of the configured timeout, which leaves the host a full half-period to
// react before a hard deadline would be missed.
//
// Thread Safety:
//   - Feed, Healthy and SinceLastFeed may be called from different
//     goroutines. Enable and Disable are expected to be called by the
//     owner of the supervised loop.
package watchdog

import (
	"sync/atomic"
	"time"

	"github.com/jonboulle/clockwork"
)

// DefaultTimeout is the timeout used by Enable when none is given.
const DefaultTimeout = 30 * time.Second

// Watchdog tracks the last time the supervised loop made progress.
type Watchdog struct {
	clock    clockwork.Clock
	enabled  atomic.Bool
	timeout  atomic.Int64 // nanoseconds
	lastFeed atomic.Int64 // unix nanoseconds
}

// New creates a disabled watchdog. A nil clock means the real clock.
func New(clock clockwork.Clock) *Watchdog {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Watchdog{clock: clock}
}

// Enable arms the watchdog with the given timeout and feeds it once.
// A non-positive timeout means DefaultTimeout.
func (w *Watchdog) Enable(timeout time.Duration) {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	w.timeout.Store(int64(timeout))
	w.lastFeed.Store(w.clock.Now().UnixNano())
	w.enabled.Store(true)
}

// Disable disarms the watchdog. A disabled watchdog is always healthy.
func (w *Watchdog) Disable() {
	w.enabled.Store(false)
}

// Enabled reports whether the watchdog is armed.
func (w *Watchdog) Enabled() bool {
	return w.enabled.Load()
}

// Timeout returns the configured timeout, or zero when never enabled.
func (w *Watchdog) Timeout() time.Duration {
	return time.Duration(w.timeout.Load())
}

// Feed records progress. It is a no-op while disabled.
func (w *Watchdog) Feed() {
	if !w.enabled.Load() {
		return
	}
	w.lastFeed.Store(w.clock.Now().UnixNano())
}

// SinceLastFeed returns the time elapsed since the last feed, or zero
// while disabled.
func (w *Watchdog) SinceLastFeed() time.Duration {
	if !w.enabled.Load() {
		return 0
	}
	return w.clock.Now().Sub(time.Unix(0, w.lastFeed.Load()))
}

// Healthy reports whether the watchdog is disabled or was fed within
// half of its timeout.
func (w *Watchdog) Healthy() bool {
	if !w.enabled.Load() {
		return true
	}
	return w.SinceLastFeed() <= w.Timeout()/2
}
