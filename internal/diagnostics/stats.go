package diagnostics

import "time"

// NoSignal is the signal strength reported while the link is down.
const NoSignal = -100

// Stats is a snapshot of connection statistics.
type Stats struct {
	// LinkUptime is the accumulated time the link layer was connected.
	LinkUptime time.Duration
	// SessionUptime is the accumulated time the session layer was connected.
	SessionUptime time.Duration
	// TotalUptime is the time since the manager began.
	TotalUptime time.Duration

	LinkReconnects    uint64
	SessionReconnects uint64
	LinkFailures      uint64
	SessionFailures   uint64

	// SignalStrength is the last observed RSSI in dBm, NoSignal when down.
	SignalStrength int

	// LastConnection is when either layer last reached Connected.
	LastConnection time.Time

	MessagesSent   uint64
	MessagesFailed uint64
	MessagesQueued uint64

	// QueueDepth is the outbound queue length at the last tick.
	QueueDepth int
}

// ZeroStats returns an empty snapshot with the signal strength set to
// NoSignal.
func ZeroStats() Stats {
	return Stats{SignalStrength: NoSignal}
}
