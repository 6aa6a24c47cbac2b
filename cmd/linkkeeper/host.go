package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/nerrad567/linkkeeper/internal/connectivity"
	"github.com/nerrad567/linkkeeper/internal/diagnostics"
	"github.com/nerrad567/linkkeeper/internal/infrastructure/config"
	"github.com/nerrad567/linkkeeper/internal/infrastructure/logging"
	"github.com/nerrad567/linkkeeper/internal/infrastructure/mqtt"
	"github.com/nerrad567/linkkeeper/internal/journal"
)

// healthCheckTimeout bounds one round of sink health checks.
const healthCheckTimeout = 10 * time.Second

// Commands accepted on linkkeeper/<id>/command.
const (
	commandReport     = "report"
	commandResetStats = "reset_stats"
)

// healthChecker is implemented by the journal database and the InfluxDB sink.
type healthChecker interface {
	HealthCheck(ctx context.Context) error
}

// statsSink receives transitions and snapshots.
type statsSink interface {
	healthChecker
	WriteStats(deviceID string, stats diagnostics.Stats, at time.Time)
	WriteTransition(deviceID, layer, from, to, errCode string, at time.Time)
}

// brokerState is the transport state the host reads directly.
type brokerState interface {
	HasSubscription(topic string) bool
	SubscriptionCount() int
	Dropped() uint64
}

// host wires the supervisor callbacks to the configured sinks. All methods
// run on the loop goroutine.
type host struct {
	cfg    *config.Config
	log    *logging.Logger
	mgr    *connectivity.Manager
	topics mqtt.Topics
	broker brokerState

	// Optional sinks; nil when disabled.
	influx   statsSink
	journal  *journal.Writer
	db       healthChecker
	exporter *diagnostics.Exporter

	// Last reported state per layer.
	link    connectivity.State
	session connectivity.State
}

// loop ticks the supervisor until ctx is cancelled.
func (h *host) loop(ctx context.Context) {
	ticker := time.NewTicker(h.cfg.GetTickInterval())
	defer ticker.Stop()

	// A zero interval leaves health nil and its case never fires.
	var health <-chan time.Time
	if interval := h.cfg.GetHealthCheckInterval(); interval > 0 {
		t := time.NewTicker(interval)
		defer t.Stop()
		health = t.C
	}

	report := make(chan os.Signal, 1)
	signal.Notify(report, syscall.SIGUSR1)
	defer signal.Stop(report)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			h.mgr.Update()
		case <-health:
			if err := h.healthCheck(ctx); err != nil {
				h.log.Warn("health check failed", "error", err)
			}
		case <-report:
			h.writeReport()
		}
	}
}

// healthCheck verifies the sinks and, while the session is up, that every
// configured subscription is held by the broker connection.
func (h *host) healthCheck(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, healthCheckTimeout)
	defer cancel()

	if h.db != nil {
		if err := h.db.HealthCheck(ctx); err != nil {
			return fmt.Errorf("journal: %w", err)
		}
	}

	if h.influx != nil {
		if err := h.influx.HealthCheck(ctx); err != nil {
			return fmt.Errorf("influxdb: %w", err)
		}
	}

	if h.broker != nil && h.mgr.SessionState() == connectivity.StateConnected {
		want := len(h.cfg.Device.Subscriptions)
		if got := h.broker.SubscriptionCount(); got < want {
			return fmt.Errorf("mqtt: %d of %d subscriptions active", got, want)
		}
	}

	return nil
}

// report is the supervisor report plus transport counters.
func (h *host) report() diagnostics.Report {
	r := h.mgr.Report()
	if h.broker != nil {
		r.InboundDropped = h.broker.Dropped()
	}
	return r
}

func (h *host) writeReport() {
	if err := diagnostics.WriteReport(os.Stderr, h.report()); err != nil {
		h.log.Warn("writing diagnostics report", "error", err)
	}
}

// logUndelivered logs the messages still queued at shutdown and returns
// how many there were.
func (h *host) logUndelivered() int {
	pending := h.mgr.Pending()
	for _, e := range pending {
		h.log.Warn("message not delivered before shutdown",
			"topic", e.Topic,
			"bytes", len(e.Payload),
			"queued_at", e.EnqueuedAt,
			"attempts", e.Attempts,
		)
	}
	return len(pending)
}

func (h *host) onLink(state connectivity.State, errCode connectivity.ErrorCode) {
	from := h.link
	h.link = state
	h.record(journal.LayerLink, from, state, errCode, h.mgr.LinkRetryCount())
}

func (h *host) onSession(state connectivity.State, errCode connectivity.ErrorCode) {
	from := h.session
	h.session = state
	h.record(journal.LayerSession, from, state, errCode, h.mgr.SessionRetryCount())

	if state == connectivity.StateConnected {
		h.publishStatus(mqtt.StatusOnline, "")
		h.subscribe()
	}
}

// record forwards a transition to the sinks.
func (h *host) record(layer string, from, to connectivity.State, errCode connectivity.ErrorCode, retries int) {
	now := time.Now()
	if h.influx != nil {
		h.influx.WriteTransition(h.cfg.Device.ID, layer, from.String(), to.String(), errCode.String(), now)
	}
	if h.journal != nil {
		h.journal.Transition(layer, from.String(), to.String(), errCode.String(), retries, now)
	}
	h.observe()
}

// publishStatus publishes the retained device status.
func (h *host) publishStatus(status, reason string) {
	topic := h.cfg.Device.StatusTopic
	if topic == "" {
		return
	}
	payload := mqtt.StatusPayload(status, h.cfg.MQTT.Broker.ClientID, reason, time.Now())
	if _, err := h.mgr.Publish(topic, payload, 1, true); err != nil {
		h.log.Warn("publishing status failed", "topic", topic, "error", err)
	}
}

// subscribe requests the configured subscriptions. Topics the transport
// still tracks are restored by it on reconnect and skipped here.
func (h *host) subscribe() {
	qos := byte(h.cfg.MQTT.QoS) //nolint:gosec // validated to 0-2
	for _, topic := range h.cfg.Device.Subscriptions {
		if h.broker != nil && h.broker.HasSubscription(topic) {
			continue
		}
		h.mgr.Subscribe(topic, qos)
	}
}

func (h *host) onMessage(topic string, payload []byte) {
	if topic == h.topics.Command() {
		h.onCommand(strings.TrimSpace(string(payload)))
		return
	}

	filter := ""
	for _, f := range h.cfg.Device.Subscriptions {
		if mqtt.Match(f, topic) {
			filter = f
			break
		}
	}
	h.log.Info("message received", "topic", topic, "subscription", filter, "bytes", len(payload))
}

// onCommand handles a command addressed to this device.
func (h *host) onCommand(cmd string) {
	h.log.Info("command received", "command", cmd)

	switch cmd {
	case commandReport:
		now := time.Now()
		if _, err := h.mgr.Publish(h.topics.Stats(), statsPayload(h.mgr.Stats(), now), 0, false); err != nil {
			h.log.Warn("publishing stats failed", "error", err)
		}
		h.writeReport()
	case commandResetStats:
		h.mgr.ResetStats()
		h.observe()
	default:
		h.log.Warn("unknown command", "command", cmd)
	}
}

func (h *host) onDiagnostics(stats diagnostics.Stats) {
	now := time.Now()
	h.log.Info("diagnostics",
		"link_uptime", stats.LinkUptime,
		"session_uptime", stats.SessionUptime,
		"link_reconnects", stats.LinkReconnects,
		"session_reconnects", stats.SessionReconnects,
		"signal", stats.SignalStrength,
		"sent", stats.MessagesSent,
		"failed", stats.MessagesFailed,
		"queue", stats.QueueDepth,
	)

	if h.influx != nil {
		h.influx.WriteStats(h.cfg.Device.ID, stats, now)
	}
	if h.journal != nil {
		h.journal.Snapshot(stats, now)
	}
	if h.cfg.Device.PublishStats {
		if _, err := h.mgr.Publish(h.topics.Stats(), statsPayload(stats, now), 0, false); err != nil {
			h.log.Warn("publishing stats failed", "error", err)
		}
	}
	h.observe()
}

// observe refreshes the metrics exporter.
func (h *host) observe() {
	if h.exporter != nil {
		h.exporter.Observe(h.report())
	}
}

// statsMessage is the JSON form of a diagnostics snapshot.
type statsMessage struct {
	LinkUptime        float64 `json:"link_uptime_s"`
	SessionUptime     float64 `json:"session_uptime_s"`
	TotalUptime       float64 `json:"total_uptime_s"`
	LinkReconnects    uint64  `json:"link_reconnects"`
	SessionReconnects uint64  `json:"session_reconnects"`
	LinkFailures      uint64  `json:"link_failures"`
	SessionFailures   uint64  `json:"session_failures"`
	SignalStrength    int     `json:"signal_strength"`
	LastConnection    string  `json:"last_connection,omitempty"`
	MessagesSent      uint64  `json:"messages_sent"`
	MessagesFailed    uint64  `json:"messages_failed"`
	MessagesQueued    uint64  `json:"messages_queued"`
	QueueDepth        int     `json:"queue_depth"`
	Timestamp         string  `json:"timestamp"`
}

func statsPayload(s diagnostics.Stats, at time.Time) []byte {
	msg := statsMessage{
		LinkUptime:        s.LinkUptime.Seconds(),
		SessionUptime:     s.SessionUptime.Seconds(),
		TotalUptime:       s.TotalUptime.Seconds(),
		LinkReconnects:    s.LinkReconnects,
		SessionReconnects: s.SessionReconnects,
		LinkFailures:      s.LinkFailures,
		SessionFailures:   s.SessionFailures,
		SignalStrength:    s.SignalStrength,
		MessagesSent:      s.MessagesSent,
		MessagesFailed:    s.MessagesFailed,
		MessagesQueued:    s.MessagesQueued,
		QueueDepth:        s.QueueDepth,
		Timestamp:         at.UTC().Format(time.RFC3339),
	}
	if !s.LastConnection.IsZero() {
		msg.LastConnection = s.LastConnection.UTC().Format(time.RFC3339)
	}
	// Only plain values; Marshal cannot fail.
	b, _ := json.Marshal(msg)
	return b
}
