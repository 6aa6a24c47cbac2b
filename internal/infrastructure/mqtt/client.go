package mqtt

import (
	"context"
	"errors"
	"net"
	"os"
	"sync"
	"sync/atomic"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/nerrad567/linkkeeper/internal/connectivity"
	"github.com/nerrad567/linkkeeper/internal/infrastructure/config"
)

// defaultBufferSize is used when mqtt.buffer_size is unset.
const defaultBufferSize = 1024

// CONNACK return codes reported by paho outside the 1-5 refusal range.
const (
	returnAccepted     byte = 0x00
	returnNetworkError byte = 0xFE
)

// Transport wraps paho.mqtt.golang as a connectivity.SessionTransport.
//
// Connect issues an attempt and returns immediately; the outcome is picked
// up by IsConnected and StatusCode on later supervisor ticks. paho's own
// reconnection is disabled so that retries follow the session state machine.
//
// Thread Safety:
//   - All methods are safe for concurrent use from multiple goroutines.
//   - Subscriptions are restored on every successful connect.
type Transport struct {
	cfg         config.MQTTConfig
	statusTopic string
	bufferSize  int

	// newClient builds the paho client for an attempt. Replaced in tests.
	newClient func(*pahomqtt.ClientOptions) pahomqtt.Client

	mu        sync.Mutex
	client    pahomqtt.Client
	pending   pahomqtt.Token
	gen       uint64
	clientID  string
	connected bool
	status    int

	// subscriptions tracks active subscriptions for re-subscription on connect.
	subscriptions map[string]byte
	subMu         sync.RWMutex

	inbound []connectivity.Message
	inMu    sync.Mutex
	dropped atomic.Uint64

	// logger for error/panic logging (optional, set via SetLogger).
	logger   Logger
	loggerMu sync.RWMutex
}

// Logger interface for optional logging support.
// Compatible with logging.Logger and slog.Logger.
type Logger interface {
	Error(msg string, args ...any)
	Warn(msg string, args ...any)
}

// MessageHandler is the callback signature for received messages.
//
// Returns:
//   - error: Logged but does not affect message acknowledgment
type MessageHandler func(topic string, payload []byte) error

// New creates a Transport for the broker in cfg. When statusTopic is not
// empty a retained offline will is registered on it and a retained offline
// status is published on clean disconnect.
func New(cfg config.MQTTConfig, statusTopic string) *Transport {
	size := cfg.BufferSize
	if size <= 0 {
		size = defaultBufferSize
	}
	return &Transport{
		cfg:           cfg,
		statusTopic:   statusTopic,
		bufferSize:    size,
		newClient:     pahomqtt.NewClient,
		status:        connectivity.StatusDisconnected,
		subscriptions: make(map[string]byte),
	}
}

// Connect starts a connection attempt with creds. Any previous client is
// abandoned. The attempt runs in the background.
func (t *Transport) Connect(creds connectivity.Credentials) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.dropClient(0)

	t.gen++
	gen := t.gen

	opts := buildClientOptions(t.cfg, creds)
	if t.statusTopic != "" {
		configureLWT(opts, t.statusTopic, creds.ClientID)
	}
	opts.SetOnConnectHandler(func(_ pahomqtt.Client) {
		t.handleConnect(gen)
	})
	opts.SetConnectionLostHandler(func(_ pahomqtt.Client, err error) {
		t.handleConnectionLost(gen, err)
	})

	t.client = t.newClient(opts)
	t.clientID = creds.ClientID
	t.connected = false
	t.status = connectivity.StatusDisconnected
	t.pending = t.client.Connect()

	return nil
}

// IsConnected reports whether the last attempt completed and the
// connection is still up.
func (t *Transport) IsConnected() bool {
	return t.connectedClient() != nil
}

// StatusCode returns the result of the most recent attempt or drop, using
// the numbering of connectivity.Status*. An attempt that has not completed
// yet reports StatusConnectionTimeout: the supervisor only asks once its own
// deadline has passed.
func (t *Transport) StatusCode() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.resolve()
	if t.pending != nil {
		return connectivity.StatusConnectionTimeout
	}
	return t.status
}

// connectedClient returns the live client, or nil when not connected.
func (t *Transport) connectedClient() pahomqtt.Client {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.resolve()
	if !t.connected || t.client == nil || !t.client.IsConnected() {
		return nil
	}
	return t.client
}

// resolve folds a finished connect token into the transport state.
// Callers must hold t.mu.
func (t *Transport) resolve() {
	if t.pending == nil {
		return
	}
	select {
	case <-t.pending.Done():
	default:
		return
	}

	token := t.pending
	t.pending = nil

	rc := returnAccepted
	if token.Error() != nil {
		rc = returnNetworkError
	}
	if ct, ok := token.(*pahomqtt.ConnectToken); ok {
		rc = ct.ReturnCode()
	}

	t.status = statusFromConnect(rc, token.Error())
	t.connected = t.status == connectivity.StatusConnected
	if !t.connected {
		if logger := t.getLogger(); logger != nil {
			logger.Warn("MQTT connect attempt failed",
				"client_id", t.clientID,
				"status_code", t.status,
				"error", token.Error(),
			)
		}
	}
}

// statusFromConnect maps a finished attempt to a session status code.
// CONNACK refusal codes 1-5 share the connectivity numbering.
func statusFromConnect(rc byte, err error) int {
	switch {
	case rc >= 1 && rc <= 5:
		return int(rc)
	case rc == returnAccepted && err == nil:
		return connectivity.StatusConnected
	case isTimeout(err):
		return connectivity.StatusConnectionTimeout
	default:
		return connectivity.StatusConnectFailed
	}
}

func isTimeout(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, os.ErrDeadlineExceeded) || errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}

// handleConnect restores tracked subscriptions after a connect.
func (t *Transport) handleConnect(gen uint64) {
	t.mu.Lock()
	client := t.client
	current := gen == t.gen
	t.mu.Unlock()
	if !current || client == nil {
		return
	}

	t.subMu.RLock()
	defer t.subMu.RUnlock()
	for topic, qos := range t.subscriptions {
		// Not awaited: failures surface on the next explicit Subscribe.
		client.Subscribe(topic, qos, t.wrapHandler(t.deliver))
	}
}

// handleConnectionLost is called by paho when an established connection drops.
func (t *Transport) handleConnectionLost(gen uint64, err error) {
	t.mu.Lock()
	if gen != t.gen {
		t.mu.Unlock()
		return
	}
	t.connected = false
	t.status = connectivity.StatusConnectionLost
	t.mu.Unlock()

	if logger := t.getLogger(); logger != nil {
		logger.Warn("MQTT connection lost", "error", err)
	}
}

// Disconnect ends the session. When connected and a status topic is
// configured, a retained graceful offline status is published first.
func (t *Transport) Disconnect() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.resolve()

	if t.connected && t.statusTopic != "" && t.client != nil {
		payload := StatusPayload(StatusOffline, t.clientID, "graceful_shutdown", time.Now())
		token := t.client.Publish(t.statusTopic, 1, true, payload)
		token.WaitTimeout(defaultPublishTimeout)
	}

	t.dropClient(defaultDisconnectQuiesce)
	t.gen++
	t.connected = false
	t.status = connectivity.StatusDisconnected
}

// dropClient releases the current client. An attempt still in flight is
// disconnected once it resolves. Callers must hold t.mu.
func (t *Transport) dropClient(quiesce uint) {
	client, pending := t.client, t.pending
	t.client, t.pending = nil, nil
	if client == nil {
		return
	}
	if pending == nil {
		client.Disconnect(quiesce)
		return
	}
	go func() {
		<-pending.Done()
		client.Disconnect(0)
	}()
}

// Poll returns the messages received since the previous call, oldest first.
func (t *Transport) Poll() []connectivity.Message {
	t.inMu.Lock()
	defer t.inMu.Unlock()
	if len(t.inbound) == 0 {
		return nil
	}
	msgs := t.inbound
	t.inbound = nil
	return msgs
}

// Dropped returns how many inbound messages were discarded because the
// buffer was full.
func (t *Transport) Dropped() uint64 {
	return t.dropped.Load()
}

// deliver appends an inbound message to the buffer polled by the supervisor.
func (t *Transport) deliver(topic string, payload []byte) error {
	t.inMu.Lock()
	defer t.inMu.Unlock()
	if len(t.inbound) >= t.bufferSize {
		t.dropped.Add(1)
		return ErrInboundFull
	}
	t.inbound = append(t.inbound, connectivity.Message{
		Topic:   topic,
		Payload: append([]byte(nil), payload...),
	})
	return nil
}

// SetLogger sets a logger for error and panic logging.
// If not set, errors in handlers are silently ignored.
func (t *Transport) SetLogger(logger Logger) {
	t.loggerMu.Lock()
	t.logger = logger
	t.loggerMu.Unlock()
}

// getLogger returns the current logger (may be nil).
func (t *Transport) getLogger() Logger {
	t.loggerMu.RLock()
	defer t.loggerMu.RUnlock()
	return t.logger
}

// wrapHandler wraps a MessageHandler with panic recovery and optional logging.
func (t *Transport) wrapHandler(handler MessageHandler) pahomqtt.MessageHandler {
	return func(_ pahomqtt.Client, msg pahomqtt.Message) {
		defer func() {
			if r := recover(); r != nil {
				if logger := t.getLogger(); logger != nil {
					logger.Error("MQTT handler panic recovered",
						"topic", msg.Topic(),
						"panic", r,
					)
				}
			}
		}()

		if err := handler(msg.Topic(), msg.Payload()); err != nil {
			if logger := t.getLogger(); logger != nil {
				logger.Warn("MQTT handler returned error",
					"topic", msg.Topic(),
					"error", err,
				)
			}
		}
	}
}

var _ connectivity.SessionTransport = (*Transport)(nil)
