package connectivity

import (
	"fmt"
	"math/rand/v2"
	"runtime"
	"strings"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/nerrad567/linkkeeper/internal/diagnostics"
	"github.com/nerrad567/linkkeeper/internal/outbox"
	"github.com/nerrad567/linkkeeper/internal/watchdog"
)

// maxQueueCapacity bounds the outbound queue allocation.
const maxQueueCapacity = 4096

// Outcome reports what Publish did with a message.
type Outcome int

const (
	// OutcomeSent means the transport accepted the message.
	OutcomeSent Outcome = iota
	// OutcomeQueued means the message was placed on the outbound queue.
	OutcomeQueued
)

// String returns "sent" or "queued".
func (o Outcome) String() string {
	if o == OutcomeSent {
		return "sent"
	}
	return "queued"
}

// StateCallback is invoked on every layer state change with the error
// that caused it, ErrNone for non-failure transitions.
type StateCallback func(state State, err ErrorCode)

// MessageCallback is invoked for every inbound message.
type MessageCallback func(topic string, payload []byte)

// DiagnosticsCallback receives periodic statistics snapshots.
type DiagnosticsCallback func(stats diagnostics.Stats)

// Option configures a Manager.
type Option func(*Manager)

// WithClock sets the clock used for every timer. Tests pass a
// clockwork.FakeClock.
func WithClock(c clockwork.Clock) Option {
	return func(m *Manager) { m.clock = c }
}

// WithRand sets the jitter source for retry backoff.
func WithRand(r *rand.Rand) Option {
	return func(m *Manager) { m.rng = r }
}

// WithLogger sets the logger.
func WithLogger(l Logger) Option {
	return func(m *Manager) { m.log = l }
}

// Manager supervises the link and session layers of one device.
//
// All methods except IsHealthy must be called from the goroutine that
// drives Update. Callbacks run synchronously inside Update and must not
// block.
type Manager struct {
	cfg   Config
	clock clockwork.Clock
	rng   *rand.Rand
	log   Logger

	link    *linkController
	session *sessionController
	queue   *outbox.Queue
	wd      *watchdog.Watchdog
	rec     *diagnostics.Recorder

	started         bool
	lastError       ErrorCode
	lastHealthCheck time.Time

	onLink        StateCallback
	onSession     StateCallback
	onMessage     MessageCallback
	onDiagnostics DiagnosticsCallback
}

// New creates a manager for the given configuration and drivers. The
// configuration is validated by Begin.
func New(cfg Config, link LinkDriver, session SessionTransport, opts ...Option) *Manager {
	m := &Manager{
		cfg: cfg.withDefaults(),
		log: noopLogger{},
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.clock == nil {
		m.clock = clockwork.NewRealClock()
	}
	if m.log == nil {
		m.log = noopLogger{}
	}

	m.wd = watchdog.New(m.clock)
	m.rec = diagnostics.NewRecorder(m.cfg.DiagnosticsInterval)
	m.link = newLinkController(m.cfg, link, m.rng, m.rec, m.log)
	m.session = newSessionController(m.cfg, session, m.rng, m.rec, m.log)
	m.link.notify = m.linkChanged
	m.session.notify = m.sessionChanged

	return m
}

// Begin validates the configuration, allocates the outbound queue and
// arms the watchdog when enabled. Both layers start Idle.
func (m *Manager) Begin() error {
	if err := m.cfg.Validate(); err != nil {
		return err
	}
	if m.cfg.QueueCapacity > maxQueueCapacity {
		m.setError(ErrMemoryAllocation)
		return fmt.Errorf("%w: queue capacity %d exceeds %d", ErrInvalidConfig, m.cfg.QueueCapacity, maxQueueCapacity)
	}

	now := m.clock.Now()
	m.queue = outbox.New(m.cfg.QueueCapacity)
	m.link.state = StateIdle
	m.session.state = StateIdle
	m.link.clear()
	m.session.clear()
	m.rec.Begin(now)
	m.rec.Reset()
	m.lastHealthCheck = now
	m.started = true

	if m.cfg.EnableWatchdog {
		m.EnableWatchdog(m.cfg.WatchdogTimeout)
	}

	m.log.Info("connectivity manager started",
		"device_id", m.cfg.DeviceID,
		"ssid", m.cfg.SSID,
		"client_id", m.cfg.Credentials.ClientID,
		"queue_capacity", m.queue.Cap(),
		"watchdog", m.cfg.EnableWatchdog,
	)
	return nil
}

// End disconnects both layers, disables them and disarms the watchdog.
// Begin may be called again afterwards.
func (m *Manager) End() {
	if !m.started {
		return
	}
	m.session.stop(StateDisabled)
	m.link.stop(StateDisabled)
	m.wd.Disable()
	m.started = false
	m.log.Info("connectivity manager stopped")
}

// SetLinkCallback registers the link state-change callback.
func (m *Manager) SetLinkCallback(cb StateCallback) { m.onLink = cb }

// SetSessionCallback registers the session state-change callback.
func (m *Manager) SetSessionCallback(cb StateCallback) { m.onSession = cb }

// SetMessageCallback registers the inbound message callback.
func (m *Manager) SetMessageCallback(cb MessageCallback) { m.onMessage = cb }

// SetDiagnosticsCallback registers the periodic statistics callback.
func (m *Manager) SetDiagnosticsCallback(cb DiagnosticsCallback) { m.onDiagnostics = cb }

// SetLogger replaces the logger. A nil logger disables logging.
func (m *Manager) SetLogger(l Logger) {
	if l == nil {
		l = noopLogger{}
	}
	m.log = l
	m.link.log = l
	m.session.log = l
}

// ConnectLink requests a link association. It returns true if the link is
// already connected or an attempt was issued, false if one is already in
// progress.
func (m *Manager) ConnectLink() bool {
	if !m.started {
		return false
	}
	return m.link.connect(m.clock.Now())
}

// ConnectSession requests a broker session. It returns false while the
// link is not connected.
func (m *Manager) ConnectSession() bool {
	if !m.started {
		return false
	}
	return m.session.connect(m.clock.Now(), m.link.connected())
}

// Disconnect drops both layers and forces them to Idle. An in-flight
// low-level attempt is not cancelled.
func (m *Manager) Disconnect() {
	if !m.started {
		return
	}
	m.log.Info("disconnecting")
	m.session.stop(StateIdle)
	m.link.stop(StateIdle)
}

// Reset disconnects and clears retry counters, the outbound queue, the
// last error and the statistics.
func (m *Manager) Reset() {
	if !m.started {
		return
	}
	m.log.Info("resetting connectivity manager")
	m.Disconnect()
	m.link.clear()
	m.session.clear()
	m.queue.Clear()
	m.lastError = ErrNone
	m.rec.Reset()
}

// Publish delivers payload to topic when the session is connected and
// queues it otherwise. A delivery the transport rejects is counted as
// failed and queued for retry.
func (m *Manager) Publish(topic string, payload []byte, qos byte, retained bool) (Outcome, error) {
	if err := validateTopic(topic); err != nil {
		return OutcomeQueued, err
	}
	if qos > 2 {
		return OutcomeQueued, fmt.Errorf("%w: %d", ErrInvalidQoS, qos)
	}
	if !m.started {
		return OutcomeQueued, ErrNotStarted
	}

	if !m.session.connected() {
		m.log.Debug("session not connected, queueing message", "topic", topic)
		m.enqueue(topic, payload, qos, retained)
		return OutcomeQueued, nil
	}

	if err := m.session.transport.Publish(topic, payload, qos, retained); err != nil {
		m.rec.MessageFailed()
		m.log.Warn("publish failed, queueing for retry", "topic", topic, "error", err)
		m.enqueue(topic, payload, qos, retained)
		return OutcomeQueued, nil
	}

	m.rec.MessageSent()
	return OutcomeSent, nil
}

func (m *Manager) enqueue(topic string, payload []byte, qos byte, retained bool) {
	evicted, ok := m.queue.Enqueue(outbox.Entry{
		Topic:      topic,
		Payload:    payload,
		QoS:        qos,
		Retained:   retained,
		EnqueuedAt: m.clock.Now(),
	})
	if ok {
		m.log.Warn("outbound queue full, dropped oldest message",
			"topic", evicted.Topic,
			"queued_for", m.clock.Since(evicted.EnqueuedAt),
		)
	}
	m.rec.MessageQueued()
}

// validateTopic rejects topics that cannot be published to.
func validateTopic(topic string) error {
	if topic == "" {
		return fmt.Errorf("%w: empty", ErrInvalidTopic)
	}
	if strings.ContainsAny(topic, "+#\x00") {
		return fmt.Errorf("%w: %q contains a wildcard or NUL", ErrInvalidTopic, topic)
	}
	return nil
}

// Subscribe subscribes to topic. It returns false when the session is not
// connected or the transport rejects the request.
func (m *Manager) Subscribe(topic string, qos byte) bool {
	if !m.started || !m.session.connected() {
		m.log.Warn("cannot subscribe, session not connected", "topic", topic)
		return false
	}
	if err := m.session.transport.Subscribe(topic, qos); err != nil {
		m.log.Warn("subscribe failed", "topic", topic, "error", err)
		return false
	}
	m.log.Info("subscribed", "topic", topic, "qos", qos)
	return true
}

// Unsubscribe removes a subscription. It returns false when the session
// is not connected or the transport rejects the request.
func (m *Manager) Unsubscribe(topic string) bool {
	if !m.started || !m.session.connected() {
		return false
	}
	if err := m.session.transport.Unsubscribe(topic); err != nil {
		m.log.Warn("unsubscribe failed", "topic", topic, "error", err)
		return false
	}
	return true
}

// Update runs one supervisor tick. It must be called repeatedly by the
// host loop, ideally several times per second.
func (m *Manager) Update() {
	if !m.started {
		return
	}
	now := m.clock.Now()

	m.wd.Feed()
	m.link.advance(now)
	m.session.advance(now, m.link.connected())
	m.dispatch()
	m.drain()

	if m.cfg.HealthCheckInterval > 0 && now.Sub(m.lastHealthCheck) > m.cfg.HealthCheckInterval {
		m.healthCheck()
		m.lastHealthCheck = now
	}

	m.rec.Tick(diagnostics.Sample{
		Now:            now,
		LinkSince:      m.link.since(),
		SessionSince:   m.session.since(),
		SignalStrength: m.link.signal(),
		QueueDepth:     m.queue.Len(),
	})

	if m.cfg.EnableDiagnostics && m.onDiagnostics != nil && m.rec.Due(now) {
		m.onDiagnostics(m.rec.Snapshot())
	}
}

// dispatch hands inbound messages to the message callback.
func (m *Manager) dispatch() {
	if !m.session.connected() {
		return
	}
	for _, msg := range m.session.transport.Poll() {
		if m.onMessage != nil {
			m.onMessage(msg.Topic, msg.Payload)
		}
	}
}

// drain attempts delivery of one queued message.
func (m *Manager) drain() {
	if !m.session.connected() {
		return
	}
	t := m.session.transport
	e, res := m.queue.DrainOne(func(e outbox.Entry) bool {
		return t.Publish(e.Topic, e.Payload, e.QoS, e.Retained) == nil
	})

	switch res {
	case outbox.DrainDelivered:
		m.rec.MessageSent()
		m.log.Debug("queued message sent", "topic", e.Topic, "remaining", m.queue.Len())
	case outbox.DrainRetry:
		m.rec.MessageFailed()
		m.log.Debug("queued message retry", "topic", e.Topic, "attempt", e.Attempts, "max", outbox.MaxAttempts)
	case outbox.DrainDropped:
		m.rec.MessageFailed()
		m.log.Warn("queued message dropped after retries", "topic", e.Topic, "attempts", e.Attempts)
	}
}

// healthCheck logs a summary and flags overload and poor signal.
func (m *Manager) healthCheck() {
	quality := m.ConnectionQuality()
	m.log.Info("health check",
		"link", m.link.state.String(),
		"session", m.session.state.String(),
		"quality", quality,
		"queue", m.queue.Len(),
		"last_error", m.lastError.String(),
	)

	if m.queue.Full() {
		m.setError(ErrSystemOverload)
		m.log.Warn("outbound queue at capacity", "capacity", m.queue.Cap())
	}
	if m.IsFullyConnected() && quality < m.cfg.QualityThreshold {
		m.log.Warn("connection quality below threshold",
			"quality", quality,
			"threshold", m.cfg.QualityThreshold,
			"rssi", m.link.signal(),
		)
	}
}

func (m *Manager) linkChanged(from, to State, err ErrorCode) {
	m.setError(err)
	m.log.Info("link state changed", "from", from.String(), "to", to.String(), "error", err.String())
	if m.onLink != nil {
		m.onLink(to, err)
	}
}

func (m *Manager) sessionChanged(from, to State, err ErrorCode) {
	m.setError(err)
	m.log.Info("session state changed", "from", from.String(), "to", to.String(), "error", err.String())
	if m.onSession != nil {
		m.onSession(to, err)
	}
}

// setError records err as the last error unless it is ErrNone.
func (m *Manager) setError(err ErrorCode) {
	if err == ErrNone {
		return
	}
	m.lastError = err
}

// LinkState returns the link layer state.
func (m *Manager) LinkState() State { return m.link.state }

// SessionState returns the session layer state.
func (m *Manager) SessionState() State { return m.session.state }

// LinkRetryCount returns the link retries in the current failure episode.
func (m *Manager) LinkRetryCount() int { return m.link.retries }

// SessionRetryCount returns the session retries in the current failure episode.
func (m *Manager) SessionRetryCount() int { return m.session.retries }

// IsFullyConnected reports whether both layers are connected.
func (m *Manager) IsFullyConnected() bool {
	return m.link.connected() && m.session.connected()
}

// SignalStrength returns the link RSSI in dBm, or -100 when the link is
// not connected.
func (m *Manager) SignalStrength() int { return m.link.signal() }

// ConnectionQuality buckets the signal strength into a percentage. It is
// 0 unless both layers are connected.
func (m *Manager) ConnectionQuality() int {
	if !m.IsFullyConnected() {
		return 0
	}
	return Quality(m.link.signal())
}

// Quality maps an RSSI in dBm to a connection quality percentage.
func Quality(rssi int) int {
	switch {
	case rssi >= -50:
		return 100
	case rssi >= -60:
		return 80
	case rssi >= -70:
		return 60
	case rssi >= -80:
		return 40
	case rssi >= -90:
		return 20
	default:
		return 10
	}
}

// LastError returns the most recent failure classification.
func (m *Manager) LastError() ErrorCode { return m.lastError }

// QueueSize returns the number of queued outbound messages.
func (m *Manager) QueueSize() int {
	if m.queue == nil {
		return 0
	}
	return m.queue.Len()
}

// Pending returns a copy of the queued outbound messages, oldest first.
func (m *Manager) Pending() []outbox.Entry {
	if m.queue == nil {
		return nil
	}
	return m.queue.Entries()
}

// Stats returns a copy of the current statistics.
func (m *Manager) Stats() diagnostics.Stats { return m.rec.Snapshot() }

// ResetStats zeroes the statistics counters.
func (m *Manager) ResetStats() { m.rec.Reset() }

// Report returns a snapshot suitable for diagnostics.WriteReport.
func (m *Manager) Report() diagnostics.Report {
	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)

	capacity := 0
	if m.queue != nil {
		capacity = m.queue.Cap()
	}

	return diagnostics.Report{
		DeviceID:      m.cfg.DeviceID,
		LinkState:     m.link.state.String(),
		SessionState:  m.session.state.String(),
		LastError:     m.lastError.String(),
		Quality:       m.ConnectionQuality(),
		QueueCapacity: capacity,
		Watchdog: diagnostics.WatchdogStatus{
			Enabled:       m.wd.Enabled(),
			Healthy:       m.wd.Healthy(),
			Timeout:       m.wd.Timeout(),
			SinceLastFeed: m.wd.SinceLastFeed(),
		},
		Stats:     m.rec.Snapshot(),
		HeapAlloc: mem.HeapAlloc,
	}
}

// EnableWatchdog arms the liveness timer. Update feeds it on every tick.
func (m *Manager) EnableWatchdog(timeout time.Duration) {
	m.wd.Enable(timeout)
	m.log.Info("watchdog enabled", "timeout", m.wd.Timeout())
}

// FeedWatchdog records liveness outside of Update.
func (m *Manager) FeedWatchdog() { m.wd.Feed() }

// IsHealthy reports whether the watchdog is disabled or was fed within
// half its timeout. It is safe to call from any goroutine.
func (m *Manager) IsHealthy() bool { return m.wd.Healthy() }
