package influxdb

import (
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"

	"github.com/nerrad567/linkkeeper/internal/diagnostics"
)

// Measurement names.
const (
	measurementConnectivity = "connectivity"
	measurementTransition   = "transition"
)

// WriteStats writes one diagnostics snapshot as a "connectivity" point
// tagged with the device id.
func (c *Client) WriteStats(deviceID string, stats diagnostics.Stats, at time.Time) {
	if c.isClosed() {
		return
	}
	c.writer.WritePoint(statsPoint(deviceID, stats, at))
}

// WriteTransition records a link or session state change as a
// "transition" point tagged with the device id and layer.
func (c *Client) WriteTransition(deviceID, layer, from, to, errCode string, at time.Time) {
	if c.isClosed() {
		return
	}
	c.writer.WritePoint(transitionPoint(deviceID, layer, from, to, errCode, at))
}

func statsPoint(deviceID string, s diagnostics.Stats, at time.Time) *write.Point {
	fields := map[string]interface{}{
		"link_uptime_s":      s.LinkUptime.Seconds(),
		"session_uptime_s":   s.SessionUptime.Seconds(),
		"total_uptime_s":     s.TotalUptime.Seconds(),
		"link_reconnects":    s.LinkReconnects,
		"session_reconnects": s.SessionReconnects,
		"link_failures":      s.LinkFailures,
		"session_failures":   s.SessionFailures,
		"signal_strength":    s.SignalStrength,
		"messages_sent":      s.MessagesSent,
		"messages_failed":    s.MessagesFailed,
		"messages_queued":    s.MessagesQueued,
		"queue_depth":        s.QueueDepth,
	}
	if !s.LastConnection.IsZero() {
		fields["last_connection"] = s.LastConnection.Unix()
	}

	return write.NewPoint(
		measurementConnectivity,
		map[string]string{"device_id": deviceID},
		fields,
		at,
	)
}

func transitionPoint(deviceID, layer, from, to, errCode string, at time.Time) *write.Point {
	return write.NewPoint(
		measurementTransition,
		map[string]string{
			"device_id": deviceID,
			"layer":     layer,
		},
		map[string]interface{}{
			"from":  from,
			"to":    to,
			"error": errCode,
		},
		at,
	)
}
