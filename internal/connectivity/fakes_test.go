package connectivity

import (
	"errors"
	"math/rand/v2"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
)

// fakeLink is a scriptable LinkDriver.
type fakeLink struct {
	clock clockwork.Clock

	status   LinkStatus
	rssi     int
	autoUp   bool
	beginErr error

	attempts    []time.Time
	disconnects int
}

func (f *fakeLink) Begin(ssid, password string) error {
	f.attempts = append(f.attempts, f.clock.Now())
	if f.autoUp {
		f.status = LinkUp
	} else if f.status == LinkIdle {
		f.status = LinkAssociating
	}
	return f.beginErr
}

func (f *fakeLink) Status() LinkStatus { return f.status }
func (f *fakeLink) RSSI() int          { return f.rssi }

func (f *fakeLink) Disconnect() error {
	f.disconnects++
	f.status = LinkIdle
	return nil
}

// fakeSession is a scriptable SessionTransport.
type fakeSession struct {
	connected  bool
	code       int
	autoUp     bool
	publishErr error
	subErr     error

	connects    int
	lastCreds   Credentials
	published   []Message
	subscribed  []string
	inbox       []Message
	disconnects int
}

var errRejected = errors.New("transport rejected")

func (f *fakeSession) Connect(creds Credentials) error {
	f.connects++
	f.lastCreds = creds
	if f.autoUp {
		f.connected = true
		f.code = StatusConnected
	}
	return nil
}

func (f *fakeSession) IsConnected() bool { return f.connected }
func (f *fakeSession) StatusCode() int   { return f.code }

func (f *fakeSession) Publish(topic string, payload []byte, qos byte, retained bool) error {
	if f.publishErr != nil {
		return f.publishErr
	}
	f.published = append(f.published, Message{Topic: topic, Payload: append([]byte(nil), payload...)})
	return nil
}

func (f *fakeSession) Subscribe(topic string, qos byte) error {
	if f.subErr != nil {
		return f.subErr
	}
	f.subscribed = append(f.subscribed, topic)
	return nil
}

func (f *fakeSession) Unsubscribe(topic string) error { return f.subErr }

func (f *fakeSession) Poll() []Message {
	msgs := f.inbox
	f.inbox = nil
	return msgs
}

func (f *fakeSession) Disconnect() {
	f.disconnects++
	f.connected = false
	f.code = StatusDisconnected
}

// transitionLog records state callbacks.
type transitionLog struct {
	states []State
	errs   []ErrorCode
}

func (l *transitionLog) record(s State, err ErrorCode) {
	l.states = append(l.states, s)
	l.errs = append(l.errs, err)
}

func (l *transitionLog) last() (State, ErrorCode) {
	if len(l.states) == 0 {
		return StateIdle, ErrNone
	}
	return l.states[len(l.states)-1], l.errs[len(l.errs)-1]
}

type harness struct {
	m       *Manager
	link    *fakeLink
	session *fakeSession
	clock   *clockwork.FakeClock

	linkLog    *transitionLog
	sessionLog *transitionLog
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.SSID = "lab-ap"
	cfg.Password = "secret"
	cfg.Credentials = Credentials{ClientID: "linkkeeper_desk-01"}
	cfg.EnableWatchdog = false
	return cfg
}

func newHarness(t *testing.T, cfg Config) *harness {
	t.Helper()

	clock := clockwork.NewFakeClockAt(time.Date(2026, 5, 4, 9, 0, 0, 0, time.UTC))
	h := &harness{
		link:       &fakeLink{clock: clock, rssi: -55},
		session:    &fakeSession{code: StatusDisconnected},
		clock:      clock,
		linkLog:    &transitionLog{},
		sessionLog: &transitionLog{},
	}
	h.m = New(cfg, h.link, h.session,
		WithClock(clock),
		WithRand(rand.New(rand.NewPCG(7, 11))),
	)
	h.m.SetLinkCallback(h.linkLog.record)
	h.m.SetSessionCallback(h.sessionLog.record)

	if err := h.m.Begin(); err != nil {
		t.Fatalf("Begin() error = %v", err)
	}
	return h
}

// tick advances the clock by d and runs one Update.
func (h *harness) tick(d time.Duration) {
	h.clock.Advance(d)
	h.m.Update()
}

// run ticks every step for the given duration.
func (h *harness) run(total, step time.Duration) {
	for elapsed := time.Duration(0); elapsed < total; elapsed += step {
		h.tick(step)
	}
}

// connectAll brings both layers to Connected.
func (h *harness) connectAll(t *testing.T) {
	t.Helper()
	h.link.autoUp = true
	h.session.autoUp = true

	h.m.ConnectLink()
	h.tick(100 * time.Millisecond)
	h.tick(100 * time.Millisecond)

	if !h.m.IsFullyConnected() {
		t.Fatalf("connectAll: link=%v session=%v, want both CONNECTED", h.m.LinkState(), h.m.SessionState())
	}
}
