package diagnostics

import (
	"time"

	"golang.org/x/time/rate"
)

// DefaultInterval is the diagnostics emission period.
const DefaultInterval = 30 * time.Second

// Sample is what the manager observed on one tick.
type Sample struct {
	Now time.Time

	// LinkSince is when the link connected, zero if it is not connected.
	LinkSince time.Time
	// SessionSince is when the session connected, zero if it is not connected.
	SessionSince time.Time

	SignalStrength int
	QueueDepth     int
}

// Recorder accumulates Stats across ticks.
type Recorder struct {
	stats    Stats
	started  time.Time
	lastTick time.Time
	interval time.Duration
	limiter  *rate.Limiter
}

// NewRecorder creates a recorder that emits at most once per interval.
// A non-positive interval means DefaultInterval.
func NewRecorder(interval time.Duration) *Recorder {
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Recorder{
		stats:    ZeroStats(),
		interval: interval,
		limiter:  rate.NewLimiter(rate.Every(interval), 1),
	}
}

// Begin starts the uptime clock. The first emission becomes due one full
// interval after now.
func (r *Recorder) Begin(now time.Time) {
	r.started = now
	r.lastTick = now
	r.limiter = rate.NewLimiter(rate.Every(r.interval), 1)
	r.limiter.AllowN(now, 1)
}

// Tick folds one observation into the statistics.
func (r *Recorder) Tick(s Sample) {
	if r.lastTick.IsZero() {
		r.Begin(s.Now)
	}

	r.stats.LinkUptime += accrue(r.lastTick, s.LinkSince, s.Now)
	r.stats.SessionUptime += accrue(r.lastTick, s.SessionSince, s.Now)
	r.stats.TotalUptime = s.Now.Sub(r.started)
	r.stats.SignalStrength = s.SignalStrength
	r.stats.QueueDepth = s.QueueDepth

	if s.Now.After(r.lastTick) {
		r.lastTick = s.Now
	}
}

// accrue returns the connected time between the previous tick and now.
func accrue(prev, since, now time.Time) time.Duration {
	if since.IsZero() {
		return 0
	}
	from := prev
	if since.After(from) {
		from = since
	}
	if !now.After(from) {
		return 0
	}
	return now.Sub(from)
}

// Due reports whether a snapshot should be emitted at now. It returns true
// at most once per interval.
func (r *Recorder) Due(now time.Time) bool {
	return r.limiter.AllowN(now, 1)
}

// Snapshot returns a copy of the current statistics.
func (r *Recorder) Snapshot() Stats {
	return r.stats
}

// Reset zeroes every counter. The uptime clock keeps running from Begin.
func (r *Recorder) Reset() {
	r.stats = ZeroStats()
}

// LinkConnected records a link connection at now.
func (r *Recorder) LinkConnected(now time.Time) {
	r.stats.LastConnection = now
}

// SessionConnected records a session connection at now.
func (r *Recorder) SessionConnected(now time.Time) {
	r.stats.LastConnection = now
}

// LinkReconnect counts a link reconnect attempt.
func (r *Recorder) LinkReconnect() { r.stats.LinkReconnects++ }

// SessionReconnect counts a session reconnect attempt.
func (r *Recorder) SessionReconnect() { r.stats.SessionReconnects++ }

// LinkFailure counts a failed or lost link.
func (r *Recorder) LinkFailure() { r.stats.LinkFailures++ }

// SessionFailure counts a failed or lost session.
func (r *Recorder) SessionFailure() { r.stats.SessionFailures++ }

// MessageSent counts a delivered message.
func (r *Recorder) MessageSent() { r.stats.MessagesSent++ }

// MessageFailed counts a delivery failure.
func (r *Recorder) MessageFailed() { r.stats.MessagesFailed++ }

// MessageQueued counts a message placed on the outbound queue.
func (r *Recorder) MessageQueued() { r.stats.MessagesQueued++ }
