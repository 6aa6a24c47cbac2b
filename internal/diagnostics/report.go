package diagnostics

import (
	"fmt"
	"io"
	"time"

	"github.com/fatih/color"
)

// Report is a point-in-time view of the supervisor for display.
type Report struct {
	DeviceID      string
	LinkState     string
	SessionState  string
	LastError     string
	Quality       int
	QueueCapacity int
	Watchdog      WatchdogStatus
	Stats         Stats
	HeapAlloc     uint64

	// InboundDropped counts messages the transport discarded because the
	// host did not drain them in time. Set by the host.
	InboundDropped uint64
}

// WatchdogStatus describes the liveness timer at report time.
type WatchdogStatus struct {
	Enabled       bool
	Healthy       bool
	Timeout       time.Duration
	SinceLastFeed time.Duration
}

// WriteReport renders r as a multi-line diagnostics dump.
// Colour is applied unless color.NoColor is set.
func WriteReport(w io.Writer, r Report) error {
	title := color.New(color.Bold, color.FgCyan)
	key := color.New(color.FgWhite)

	rw := &reportWriter{w: w}

	if r.DeviceID != "" {
		rw.printf("%s\n", title.Sprintf("Linkkeeper diagnostics (%s)", r.DeviceID))
	} else {
		rw.printf("%s\n", title.Sprint("Linkkeeper diagnostics"))
	}

	line := func(name, value string) {
		rw.printf("   %s %s\n", key.Sprintf("%-20s", name+":"), value)
	}

	line("Link State", stateColor(r.LinkState))
	line("Session State", stateColor(r.SessionState))
	line("Signal Strength", fmt.Sprintf("%d dBm", r.Stats.SignalStrength))
	line("Connection Quality", qualityColor(r.Quality))
	line("Link Uptime", r.Stats.LinkUptime.Truncate(time.Millisecond).String())
	line("Session Uptime", r.Stats.SessionUptime.Truncate(time.Millisecond).String())
	line("Total Uptime", r.Stats.TotalUptime.Truncate(time.Millisecond).String())
	line("Link Reconnects", fmt.Sprintf("%d", r.Stats.LinkReconnects))
	line("Session Reconnects", fmt.Sprintf("%d", r.Stats.SessionReconnects))
	line("Link Failures", fmt.Sprintf("%d", r.Stats.LinkFailures))
	line("Session Failures", fmt.Sprintf("%d", r.Stats.SessionFailures))
	line("Messages Sent", fmt.Sprintf("%d", r.Stats.MessagesSent))
	line("Messages Failed", fmt.Sprintf("%d", r.Stats.MessagesFailed))
	line("Messages Queued", fmt.Sprintf("%d/%d", r.Stats.QueueDepth, r.QueueCapacity))
	if r.InboundDropped > 0 {
		line("Inbound Dropped", fmt.Sprintf("%d", r.InboundDropped))
	}
	line("Last Error", errorColor(r.LastError))

	if r.Watchdog.Enabled {
		health := color.GreenString("healthy")
		if !r.Watchdog.Healthy {
			health = color.RedString("unhealthy")
		}
		line("Watchdog", fmt.Sprintf("%s (fed %s ago, timeout %s)",
			health, r.Watchdog.SinceLastFeed.Truncate(time.Millisecond), r.Watchdog.Timeout))
	} else {
		line("Watchdog", "disabled")
	}

	if r.HeapAlloc > 0 {
		line("Heap In Use", fmt.Sprintf("%d bytes", r.HeapAlloc))
	}

	return rw.err
}

// reportWriter keeps the first write error so WriteReport can print
// unconditionally.
type reportWriter struct {
	w   io.Writer
	err error
}

func (rw *reportWriter) printf(format string, args ...any) {
	if rw.err != nil {
		return
	}
	_, rw.err = fmt.Fprintf(rw.w, format, args...)
}

func stateColor(s string) string {
	switch s {
	case "CONNECTED":
		return color.GreenString(s)
	case "CONNECTING", "RECONNECTING":
		return color.YellowString(s)
	case "FAILED":
		return color.RedString(s)
	default:
		return s
	}
}

func qualityColor(q int) string {
	v := fmt.Sprintf("%d%%", q)
	switch {
	case q >= 80:
		return color.GreenString(v)
	case q >= 40:
		return color.YellowString(v)
	default:
		return color.RedString(v)
	}
}

func errorColor(e string) string {
	if e == "" || e == "NONE" {
		return "NONE"
	}
	return color.RedString(e)
}
