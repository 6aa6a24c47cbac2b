// Package diagnostics aggregates connection statistics for Linkkeeper.
//
// It provides:
//   - Stats: an immutable snapshot of counters and durations
//   - Recorder: per-tick accounting plus a throttle for periodic emission
//   - WriteReport: a human-readable console dump of the current state
//   - Exporter: a Prometheus collector serving the most recent snapshot
//
// # Accounting
//
// Per-layer uptime accrues only while that layer is connected. Each tick
// adds the time elapsed since the previous tick (or since the layer
// connected, whichever is later), so a long-lived connection is counted
// once rather than re-added on every tick.
//
// # Emission
//
// Recorder.Due reports true at most once per configured interval. The
// throttle is a golang.org/x/time/rate limiter with a burst of one that is
// fed the caller's clock, so tests driven by a fake clock are exact.
//
// Thread Safety:
//   - Recorder is not safe for concurrent use; it is owned by the
//     connectivity manager's update loop.
//   - Exporter is safe for concurrent use; Observe may race with scrapes.
package diagnostics
