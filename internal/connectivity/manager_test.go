package connectivity

import (
	"errors"
	"fmt"
	"math/rand/v2"
	"testing"
	"time"

	"github.com/nerrad567/linkkeeper/internal/backoff"
	"github.com/nerrad567/linkkeeper/internal/diagnostics"
)

// ============================================================================
// Lifecycle
// ============================================================================

func TestBegin_InvalidConfig(t *testing.T) {
	cfg := testConfig()
	cfg.SSID = ""

	m := New(cfg, &fakeLink{}, &fakeSession{})
	err := m.Begin()

	if !errors.Is(err, ErrInvalidConfig) {
		t.Fatalf("Begin() error = %v, want ErrInvalidConfig", err)
	}
	if m.ConnectLink() {
		t.Error("ConnectLink() = true on a manager that failed to begin")
	}
}

func TestBegin_QueueAllocationFailure(t *testing.T) {
	cfg := testConfig()
	cfg.QueueCapacity = maxQueueCapacity + 1

	m := New(cfg, &fakeLink{}, &fakeSession{})
	err := m.Begin()

	if !errors.Is(err, ErrInvalidConfig) {
		t.Fatalf("Begin() error = %v, want ErrInvalidConfig", err)
	}
	if got := m.LastError(); got != ErrMemoryAllocation {
		t.Errorf("LastError() = %v, want %v", got, ErrMemoryAllocation)
	}
}

func TestBegin_StartsIdle(t *testing.T) {
	h := newHarness(t, testConfig())

	if h.m.LinkState() != StateIdle || h.m.SessionState() != StateIdle {
		t.Errorf("states = %v/%v, want IDLE/IDLE", h.m.LinkState(), h.m.SessionState())
	}
	if got := h.m.SignalStrength(); got != diagnostics.NoSignal {
		t.Errorf("SignalStrength() = %d, want %d", got, diagnostics.NoSignal)
	}
	if got := h.m.ConnectionQuality(); got != 0 {
		t.Errorf("ConnectionQuality() = %d, want 0", got)
	}
}

func TestEnd_DisablesLayers(t *testing.T) {
	h := newHarness(t, testConfig())
	h.connectAll(t)

	h.m.End()

	if h.m.LinkState() != StateDisabled || h.m.SessionState() != StateDisabled {
		t.Errorf("states = %v/%v, want DISABLED/DISABLED", h.m.LinkState(), h.m.SessionState())
	}
	if h.session.disconnects == 0 || h.link.disconnects == 0 {
		t.Error("End() did not disconnect drivers")
	}
	if h.m.ConnectLink() {
		t.Error("ConnectLink() = true after End()")
	}

	h.tick(time.Minute)
	if h.m.LinkState() != StateDisabled {
		t.Errorf("Update() after End() changed link state to %v", h.m.LinkState())
	}

	if err := h.m.Begin(); err != nil {
		t.Fatalf("Begin() after End() error = %v", err)
	}
	if h.m.LinkState() != StateIdle {
		t.Errorf("LinkState() after re-Begin = %v, want IDLE", h.m.LinkState())
	}
}

// ============================================================================
// Link layer
// ============================================================================

func TestConnectLink_Semantics(t *testing.T) {
	h := newHarness(t, testConfig())

	if !h.m.ConnectLink() {
		t.Fatal("ConnectLink() from IDLE = false, want true")
	}
	if h.m.LinkState() != StateConnecting {
		t.Fatalf("LinkState() = %v, want CONNECTING", h.m.LinkState())
	}
	if h.m.ConnectLink() {
		t.Error("ConnectLink() while CONNECTING = true, want false")
	}
	if len(h.link.attempts) != 1 {
		t.Errorf("driver Begin called %d times, want 1", len(h.link.attempts))
	}

	h.link.status = LinkUp
	h.tick(time.Second)

	if h.m.LinkState() != StateConnected {
		t.Fatalf("LinkState() = %v, want CONNECTED", h.m.LinkState())
	}
	if !h.m.ConnectLink() {
		t.Error("ConnectLink() while CONNECTED = false, want true")
	}
	if got := h.m.Stats().LastConnection; !got.Equal(h.clock.Now()) {
		t.Errorf("LastConnection = %v, want %v", got, h.clock.Now())
	}
}

func TestLink_TimeoutClassification(t *testing.T) {
	tests := []struct {
		status LinkStatus
		want   ErrorCode
	}{
		{LinkNoNetwork, ErrLinkNoNetwork},
		{LinkRejected, ErrLinkAuthFailed},
		{LinkLost, ErrLinkConnectFailed},
		{LinkDown, ErrLinkConnectFailed},
		{LinkAssociating, ErrTimeout},
	}

	for _, tt := range tests {
		t.Run(tt.status.String(), func(t *testing.T) {
			h := newHarness(t, testConfig())
			h.link.status = tt.status
			h.m.ConnectLink()

			h.tick(30 * time.Second)
			if h.m.LinkState() != StateConnecting {
				t.Fatalf("LinkState() at exactly the timeout = %v, want CONNECTING", h.m.LinkState())
			}

			h.tick(time.Second)
			state, err := h.linkLog.last()
			if state != StateReconnecting || err != tt.want {
				t.Errorf("callback = (%v, %v), want (RECONNECTING, %v)", state, err, tt.want)
			}
			if h.m.LastError() != tt.want {
				t.Errorf("LastError() = %v, want %v", h.m.LastError(), tt.want)
			}
			if got := h.m.Stats().LinkFailures; got != 1 {
				t.Errorf("LinkFailures = %d, want 1", got)
			}
		})
	}
}

func TestLink_FailsThenRearmsAfterCooldown(t *testing.T) {
	cfg := testConfig()
	cfg.LinkRetryInterval = 5 * time.Second
	cfg.LinkMaxRetries = 3

	h := newHarness(t, cfg)
	h.link.status = LinkNoNetwork
	h.m.ConnectLink()

	var failedAt time.Time
	for i := 0; i < 3600 && h.m.LinkState() != StateFailed; i++ {
		h.tick(time.Second)
		failedAt = h.clock.Now()
	}

	if h.m.LinkState() != StateFailed {
		t.Fatalf("LinkState() = %v after an hour, want FAILED", h.m.LinkState())
	}
	if got := h.m.LinkRetryCount(); got != 3 {
		t.Errorf("LinkRetryCount() = %d, want 3", got)
	}
	if got := len(h.link.attempts); got != 4 {
		t.Errorf("attempts = %d, want 4 (initial + 3 retries)", got)
	}
	if got := h.m.Stats().LinkReconnects; got != 3 {
		t.Errorf("LinkReconnects = %d, want 3", got)
	}
	if _, err := h.linkLog.last(); err != ErrLinkConnectFailed {
		t.Errorf("FAILED callback error = %v, want %v", err, ErrLinkConnectFailed)
	}

	lastAttempt := h.link.attempts[len(h.link.attempts)-1]
	var rearmRetries = -1
	h.m.SetLinkCallback(func(s State, err ErrorCode) {
		if s == StateReconnecting && rearmRetries < 0 {
			rearmRetries = h.m.LinkRetryCount()
		}
	})

	for h.m.LinkState() == StateFailed {
		h.tick(time.Second)
		if h.clock.Since(failedAt) > time.Hour {
			t.Fatal("never re-armed")
		}
	}

	sinceAttempt := h.clock.Now().Sub(lastAttempt)
	if sinceAttempt <= DefaultCooldown || sinceAttempt > DefaultCooldown+time.Second {
		t.Errorf("re-armed %v after last attempt, want just over %v", sinceAttempt, DefaultCooldown)
	}
	if h.m.LinkState() != StateReconnecting {
		t.Errorf("LinkState() after cool-down = %v, want RECONNECTING", h.m.LinkState())
	}
	if rearmRetries != 0 {
		t.Errorf("retry counter on re-arm = %d, want 0", rearmRetries)
	}
}

func TestLink_RetryDelaysFollowBackoff(t *testing.T) {
	cfg := testConfig()
	cfg.LinkTimeout = 500 * time.Millisecond
	cfg.LinkRetryInterval = 5 * time.Second
	cfg.LinkMaxRetries = 6

	h := newHarness(t, cfg)
	h.link.status = LinkNoNetwork
	h.m.ConnectLink()

	h.run(10*time.Minute, 100*time.Millisecond)

	if len(h.link.attempts) < 6 {
		t.Fatalf("attempts = %d, want at least 6", len(h.link.attempts))
	}
	for k := 0; k < 5; k++ {
		gap := h.link.attempts[k+1].Sub(h.link.attempts[k])
		nominal := backoff.Nominal(cfg.LinkRetryInterval, cfg.BackoffCeiling, k)
		lo := nominal - nominal/10
		hi := nominal + nominal/10 + 200*time.Millisecond
		if gap < lo || gap > hi {
			t.Errorf("gap after attempt %d = %v, want within [%v, %v]", k, gap, lo, hi)
		}
	}
}

func TestLink_LossAndFlapRecovery(t *testing.T) {
	h := newHarness(t, testConfig())
	h.link.autoUp = true
	h.m.ConnectLink()
	h.tick(time.Second)

	h.link.status = LinkLost
	h.tick(time.Second)

	state, err := h.linkLog.last()
	if state != StateReconnecting || err != ErrLinkConnectFailed {
		t.Fatalf("callback = (%v, %v), want (RECONNECTING, WIFI_CONNECT_FAIL)", state, err)
	}

	// The retry delay is measured from the last attempt, which is already
	// two seconds old.
	h.tick(10 * time.Second)
	if h.m.LinkState() != StateConnecting {
		t.Fatalf("LinkState() = %v, want CONNECTING on retry", h.m.LinkState())
	}
	if got := h.m.LinkRetryCount(); got != 1 {
		t.Errorf("LinkRetryCount() during retry = %d, want 1", got)
	}

	h.tick(time.Second)
	if h.m.LinkState() != StateConnected {
		t.Fatalf("LinkState() = %v, want CONNECTED after reconnect", h.m.LinkState())
	}
	if got := h.m.LinkRetryCount(); got != 0 {
		t.Errorf("LinkRetryCount() after reconnect = %d, want 0", got)
	}
	if got := h.m.Stats().LinkReconnects; got != 1 {
		t.Errorf("LinkReconnects = %d, want 1", got)
	}
}

func TestLink_BeginErrorStillTimesOut(t *testing.T) {
	h := newHarness(t, testConfig())
	h.link.beginErr = errors.New("nmcli missing")

	if !h.m.ConnectLink() {
		t.Fatal("ConnectLink() = false")
	}
	h.run(32*time.Second, time.Second)

	if h.m.LinkState() != StateReconnecting && h.m.LinkState() != StateConnecting {
		t.Errorf("LinkState() = %v, want retry cycle", h.m.LinkState())
	}
	if h.m.Stats().LinkFailures == 0 {
		t.Error("failed driver Begin was never counted as a failure")
	}
}

// ============================================================================
// Session layer
// ============================================================================

func TestConnectSession_RequiresLink(t *testing.T) {
	h := newHarness(t, testConfig())

	if h.m.ConnectSession() {
		t.Error("ConnectSession() with link IDLE = true, want false")
	}
	if h.session.connects != 0 {
		t.Errorf("transport Connect called %d times, want 0", h.session.connects)
	}
}

func TestSession_AutoConnectsWhenLinkUp(t *testing.T) {
	cfg := testConfig()
	cfg.Credentials.Username = "desk"
	cfg.Credentials.Password = "pw"
	h := newHarness(t, cfg)

	h.link.autoUp = true
	h.m.ConnectLink()
	h.tick(time.Second)

	if h.m.SessionState() != StateConnecting {
		t.Fatalf("SessionState() = %v, want CONNECTING", h.m.SessionState())
	}
	if h.session.lastCreds != cfg.Credentials {
		t.Errorf("credentials = %+v, want %+v", h.session.lastCreds, cfg.Credentials)
	}

	h.session.connected = true
	h.tick(time.Second)

	if !h.m.IsFullyConnected() {
		t.Fatal("IsFullyConnected() = false")
	}
	if got := h.m.ConnectionQuality(); got != 80 {
		t.Errorf("ConnectionQuality() at -55 dBm = %d, want 80", got)
	}
}

func TestSession_TimeoutClassification(t *testing.T) {
	tests := []struct {
		code int
		want ErrorCode
	}{
		{StatusConnectionTimeout, ErrTimeout},
		{StatusBadCredentials, ErrSessionBadCredentials},
		{StatusUnauthorized, ErrSessionNotAuthorized},
		{StatusBadClientID, ErrSessionClientIDRejected},
		{42, ErrSessionConnectionRefused},
	}

	for _, tt := range tests {
		t.Run(fmt.Sprintf("code_%d", tt.code), func(t *testing.T) {
			h := newHarness(t, testConfig())
			h.link.autoUp = true
			h.m.ConnectLink()
			h.tick(time.Second)

			h.session.code = tt.code
			h.run(16*time.Second, time.Second)

			state, err := h.sessionLog.last()
			if state != StateReconnecting || err != tt.want {
				t.Errorf("callback = (%v, %v), want (RECONNECTING, %v)", state, err, tt.want)
			}
		})
	}
}

func TestSession_ExhaustedRecordsServerUnavailable(t *testing.T) {
	h := newHarness(t, testConfig())
	h.link.autoUp = true
	h.session.code = StatusConnectFailed
	h.m.ConnectLink()

	for i := 0; i < 600 && h.m.SessionState() != StateFailed; i++ {
		h.tick(time.Second)
	}

	if h.m.SessionState() != StateFailed {
		t.Fatalf("SessionState() = %v, want FAILED", h.m.SessionState())
	}
	if got := h.m.LastError(); got != ErrSessionServerUnavailable {
		t.Errorf("LastError() = %v, want %v", got, ErrSessionServerUnavailable)
	}
	if got := h.session.connects; got != 4 {
		t.Errorf("connects = %d, want 4", got)
	}
	if h.m.LinkState() != StateConnected {
		t.Errorf("session failure affected link: %v", h.m.LinkState())
	}
}

func TestSession_ForcedIdleOnLinkLoss(t *testing.T) {
	h := newHarness(t, testConfig())
	h.connectAll(t)
	before := len(h.sessionLog.states)

	h.link.status = LinkLost
	h.tick(100 * time.Millisecond)

	if h.m.SessionState() != StateIdle {
		t.Fatalf("SessionState() = %v, want IDLE on the tick the link is lost", h.m.SessionState())
	}
	got := h.sessionLog.states[before:]
	if len(got) != 1 || got[0] != StateIdle {
		t.Errorf("session transitions = %v, want exactly [IDLE]", got)
	}
	if h.session.disconnects == 0 {
		t.Error("transport not told to drop the stale session")
	}
}

func TestSession_NeverAheadOfLink(t *testing.T) {
	h := newHarness(t, testConfig())
	rng := rand.New(rand.NewPCG(3, 5))
	statuses := []LinkStatus{LinkUp, LinkUp, LinkUp, LinkLost, LinkNoNetwork, LinkAssociating}

	h.m.ConnectLink()
	for i := 0; i < 20000; i++ {
		if rng.IntN(10) == 0 {
			h.link.status = statuses[rng.IntN(len(statuses))]
		}
		if rng.IntN(8) == 0 {
			h.session.connected = rng.IntN(2) == 0
			h.session.code = rng.IntN(8) - 4
		}
		if rng.IntN(500) == 0 {
			h.m.ConnectLink()
		}
		h.tick(time.Duration(50+rng.IntN(2000)) * time.Millisecond)

		s := h.m.SessionState()
		if (s == StateConnecting || s == StateConnected) && h.m.LinkState() != StateConnected {
			t.Fatalf("tick %d: session %v while link %v", i, s, h.m.LinkState())
		}
	}
}

// ============================================================================
// Publishing and queue
// ============================================================================

func TestPublish_QueuedWhileDisconnectedThenDrained(t *testing.T) {
	h := newHarness(t, testConfig())

	outcome, err := h.m.Publish("a/b", []byte("x"), 0, false)
	if err != nil {
		t.Fatalf("Publish() error = %v", err)
	}
	if outcome != OutcomeQueued {
		t.Errorf("Publish() = %v, want queued", outcome)
	}
	if h.m.QueueSize() != 1 {
		t.Fatalf("QueueSize() = %d, want 1", h.m.QueueSize())
	}

	h.connectAll(t)

	if h.m.QueueSize() != 0 {
		t.Errorf("QueueSize() = %d after connected tick, want 0", h.m.QueueSize())
	}
	if len(h.session.published) != 1 || h.session.published[0].Topic != "a/b" || string(h.session.published[0].Payload) != "x" {
		t.Errorf("published = %+v, want [a/b x]", h.session.published)
	}
	stats := h.m.Stats()
	if stats.MessagesSent != 1 || stats.MessagesQueued != 1 {
		t.Errorf("sent/queued = %d/%d, want 1/1", stats.MessagesSent, stats.MessagesQueued)
	}
}

func TestPublish_SentWhenConnected(t *testing.T) {
	h := newHarness(t, testConfig())
	h.connectAll(t)

	outcome, err := h.m.Publish("desk/01/status", []byte(`{"present":true}`), 1, true)
	if err != nil || outcome != OutcomeSent {
		t.Fatalf("Publish() = (%v, %v), want (sent, nil)", outcome, err)
	}
	if h.m.QueueSize() != 0 {
		t.Errorf("QueueSize() = %d, want 0", h.m.QueueSize())
	}
}

func TestPublish_EvictsOldestWhenFull(t *testing.T) {
	h := newHarness(t, testConfig())

	for i := 0; i <= 10; i++ {
		h.clock.Advance(time.Second)
		if _, err := h.m.Publish(fmt.Sprintf("desk/msg/%d", i), []byte("p"), 0, false); err != nil {
			t.Fatalf("Publish(%d) error = %v", i, err)
		}
	}
	if h.m.QueueSize() != 10 {
		t.Fatalf("QueueSize() = %d, want 10", h.m.QueueSize())
	}

	h.connectAll(t)
	h.run(2*time.Second, 100*time.Millisecond)

	if len(h.session.published) != 10 {
		t.Fatalf("published %d messages, want 10", len(h.session.published))
	}
	for i, msg := range h.session.published {
		want := fmt.Sprintf("desk/msg/%d", i+1)
		if msg.Topic != want {
			t.Errorf("published[%d] = %q, want %q", i, msg.Topic, want)
		}
	}
}

func TestPublish_FailureQueuesForRetry(t *testing.T) {
	h := newHarness(t, testConfig())
	h.connectAll(t)
	h.session.publishErr = errRejected

	outcome, err := h.m.Publish("a/b", []byte("x"), 0, false)
	if err != nil || outcome != OutcomeQueued {
		t.Fatalf("Publish() = (%v, %v), want (queued, nil)", outcome, err)
	}
	stats := h.m.Stats()
	if stats.MessagesFailed != 1 || stats.MessagesQueued != 1 {
		t.Errorf("failed/queued = %d/%d, want 1/1", stats.MessagesFailed, stats.MessagesQueued)
	}
}

func TestDrain_DropsAfterThreeFailures(t *testing.T) {
	h := newHarness(t, testConfig())
	h.m.Publish("a/b", []byte("x"), 0, false)
	h.session.publishErr = errRejected

	h.connectAll(t) // first failed attempt happens on the connecting tick
	if h.m.QueueSize() != 1 {
		t.Fatalf("QueueSize() = %d after 1 failure, want 1", h.m.QueueSize())
	}
	h.tick(100 * time.Millisecond)
	if h.m.QueueSize() != 1 {
		t.Fatalf("QueueSize() = %d after 2 failures, want 1", h.m.QueueSize())
	}
	h.tick(100 * time.Millisecond)

	if h.m.QueueSize() != 0 {
		t.Errorf("QueueSize() = %d after 3 failures, want 0", h.m.QueueSize())
	}
	if got := h.m.Stats().MessagesFailed; got != 3 {
		t.Errorf("MessagesFailed = %d, want 3", got)
	}
}

func TestPublish_InvalidInput(t *testing.T) {
	h := newHarness(t, testConfig())

	tests := []struct {
		name  string
		topic string
		qos   byte
		want  error
	}{
		{"empty topic", "", 0, ErrInvalidTopic},
		{"single-level wildcard", "desk/+/status", 0, ErrInvalidTopic},
		{"multi-level wildcard", "desk/#", 0, ErrInvalidTopic},
		{"qos 3", "desk/01", 3, ErrInvalidQoS},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := h.m.Publish(tt.topic, nil, tt.qos, false)
			if !errors.Is(err, tt.want) {
				t.Errorf("Publish() error = %v, want %v", err, tt.want)
			}
		})
	}
	if h.m.QueueSize() != 0 {
		t.Errorf("invalid publishes were queued: %d", h.m.QueueSize())
	}
}

func TestPublish_BeforeBegin(t *testing.T) {
	m := New(testConfig(), &fakeLink{}, &fakeSession{})
	if _, err := m.Publish("a/b", nil, 0, false); !errors.Is(err, ErrNotStarted) {
		t.Errorf("Publish() error = %v, want ErrNotStarted", err)
	}
}

func TestSubscribe(t *testing.T) {
	h := newHarness(t, testConfig())

	if h.m.Subscribe("desk/01/cmd", 1) {
		t.Error("Subscribe() while disconnected = true")
	}
	if h.m.Unsubscribe("desk/01/cmd") {
		t.Error("Unsubscribe() while disconnected = true")
	}

	h.connectAll(t)

	if !h.m.Subscribe("desk/01/cmd", 1) {
		t.Error("Subscribe() while connected = false")
	}
	if !h.m.Unsubscribe("desk/01/cmd") {
		t.Error("Unsubscribe() while connected = false")
	}

	h.session.subErr = errRejected
	if h.m.Subscribe("desk/02/cmd", 1) {
		t.Error("Subscribe() = true when transport rejects")
	}
}

func TestUpdate_DispatchesInbound(t *testing.T) {
	h := newHarness(t, testConfig())

	var got []Message
	h.m.SetMessageCallback(func(topic string, payload []byte) {
		got = append(got, Message{Topic: topic, Payload: payload})
	})

	h.session.inbox = []Message{{Topic: "early", Payload: []byte("1")}}
	h.m.Update()
	if len(got) != 0 {
		t.Fatal("dispatched while session not connected")
	}

	h.connectAll(t)
	h.session.inbox = append(h.session.inbox, Message{Topic: "desk/01/cmd", Payload: []byte("on")})
	h.tick(100 * time.Millisecond)

	if len(got) == 0 || got[len(got)-1].Topic != "desk/01/cmd" {
		t.Errorf("dispatched = %+v, want desk/01/cmd last", got)
	}
}

// ============================================================================
// Disconnect and reset
// ============================================================================

func TestDisconnect(t *testing.T) {
	h := newHarness(t, testConfig())
	h.connectAll(t)

	h.m.Disconnect()

	if h.m.LinkState() != StateIdle || h.m.SessionState() != StateIdle {
		t.Errorf("states = %v/%v, want IDLE/IDLE", h.m.LinkState(), h.m.SessionState())
	}

	h.tick(time.Minute)
	if h.m.LinkState() != StateIdle {
		t.Errorf("link reconnected on its own after Disconnect(): %v", h.m.LinkState())
	}
}

func TestPending_ReturnsQueuedCopyInOrder(t *testing.T) {
	h := newHarness(t, testConfig())
	if got := h.m.Pending(); len(got) != 0 {
		t.Fatalf("Pending() = %d entries, want 0", len(got))
	}

	h.m.Publish("a/1", []byte("one"), 0, false)
	h.m.Publish("a/2", []byte("two"), 1, true)

	got := h.m.Pending()
	if len(got) != 2 || got[0].Topic != "a/1" || got[1].Topic != "a/2" {
		t.Fatalf("Pending() = %+v, want a/1 then a/2", got)
	}
	got[0].Topic = "mutated"
	if again := h.m.Pending(); again[0].Topic != "a/1" {
		t.Errorf("Pending()[0].Topic = %q after caller mutation, want %q", again[0].Topic, "a/1")
	}
}

func TestReset_ClearsEverything(t *testing.T) {
	h := newHarness(t, testConfig())
	h.link.status = LinkNoNetwork
	h.m.ConnectLink()
	h.run(2*time.Minute, time.Second)
	h.m.Publish("a/b", []byte("x"), 0, false)

	if h.m.LastError() == ErrNone || h.m.LinkRetryCount() == 0 {
		t.Fatal("setup did not produce an error episode")
	}

	h.m.Reset()

	if h.m.LastError() != ErrNone {
		t.Errorf("LastError() = %v, want NONE", h.m.LastError())
	}
	if h.m.LinkRetryCount() != 0 || h.m.SessionRetryCount() != 0 {
		t.Errorf("retry counts = %d/%d, want 0/0", h.m.LinkRetryCount(), h.m.SessionRetryCount())
	}
	if h.m.QueueSize() != 0 {
		t.Errorf("QueueSize() = %d, want 0", h.m.QueueSize())
	}
	if got := h.m.Stats(); got != diagnostics.ZeroStats() {
		t.Errorf("Stats() = %+v, want zero", got)
	}
	if h.m.LinkState() != StateIdle {
		t.Errorf("LinkState() = %v, want IDLE", h.m.LinkState())
	}
}

// ============================================================================
// Watchdog, health check and diagnostics
// ============================================================================

func TestWatchdog_FedByUpdate(t *testing.T) {
	cfg := testConfig()
	cfg.EnableWatchdog = true
	cfg.WatchdogTimeout = 30 * time.Second
	h := newHarness(t, cfg)

	if !h.m.IsHealthy() {
		t.Fatal("IsHealthy() = false right after Begin")
	}

	h.clock.Advance(16 * time.Second)
	if h.m.IsHealthy() {
		t.Error("IsHealthy() = true 16s after last feed with 30s timeout")
	}

	h.m.Update()
	if !h.m.IsHealthy() {
		t.Error("IsHealthy() = false after Update")
	}

	h.clock.Advance(15 * time.Second)
	if !h.m.IsHealthy() {
		t.Error("IsHealthy() = false at exactly half the timeout")
	}
}

func TestHealthCheck_RecordsOverload(t *testing.T) {
	h := newHarness(t, testConfig())
	for i := 0; i < 10; i++ {
		h.m.Publish("a/b", []byte("x"), 0, false)
	}

	h.tick(29 * time.Second)
	if h.m.LastError() == ErrSystemOverload {
		t.Fatal("overload recorded before the health check interval")
	}

	h.tick(2 * time.Second)
	if got := h.m.LastError(); got != ErrSystemOverload {
		t.Errorf("LastError() = %v, want %v", got, ErrSystemOverload)
	}
}

func TestDiagnostics_ThrottledToInterval(t *testing.T) {
	h := newHarness(t, testConfig())

	var snapshots []diagnostics.Stats
	h.m.SetDiagnosticsCallback(func(s diagnostics.Stats) { snapshots = append(snapshots, s) })

	h.run(95*time.Second, 100*time.Millisecond)

	if len(snapshots) != 3 {
		t.Errorf("diagnostics fired %d times in 95s, want 3", len(snapshots))
	}
}

func TestDiagnostics_Disabled(t *testing.T) {
	cfg := testConfig()
	cfg.EnableDiagnostics = false
	h := newHarness(t, cfg)

	fired := 0
	h.m.SetDiagnosticsCallback(func(diagnostics.Stats) { fired++ })
	h.run(2*time.Minute, time.Second)

	if fired != 0 {
		t.Errorf("diagnostics fired %d times while disabled", fired)
	}
}

func TestStats_UptimeAccruesWhileConnected(t *testing.T) {
	h := newHarness(t, testConfig())
	h.run(10*time.Second, time.Second)
	h.connectAll(t)

	h.run(20*time.Second, 250*time.Millisecond)

	s := h.m.Stats()
	if s.LinkUptime < 20*time.Second || s.LinkUptime > 20*time.Second+200*time.Millisecond {
		t.Errorf("LinkUptime = %v, want ~20.1s", s.LinkUptime)
	}
	if s.SessionUptime < 20*time.Second || s.SessionUptime > s.LinkUptime {
		t.Errorf("SessionUptime = %v, want ~20s and <= link", s.SessionUptime)
	}
	if s.TotalUptime < 30*time.Second {
		t.Errorf("TotalUptime = %v, want >= 30s", s.TotalUptime)
	}
	if s.SignalStrength != -55 {
		t.Errorf("SignalStrength = %d, want -55", s.SignalStrength)
	}
}

func TestReport(t *testing.T) {
	h := newHarness(t, testConfig())
	h.connectAll(t)

	r := h.m.Report()
	if r.LinkState != "CONNECTED" || r.SessionState != "CONNECTED" {
		t.Errorf("report states = %s/%s", r.LinkState, r.SessionState)
	}
	if r.DeviceID != "linkkeeper_desk-01" {
		t.Errorf("DeviceID = %q", r.DeviceID)
	}
	if r.QueueCapacity != 10 || r.Quality != 80 {
		t.Errorf("capacity/quality = %d/%d, want 10/80", r.QueueCapacity, r.Quality)
	}
}

func TestQuality(t *testing.T) {
	tests := []struct {
		rssi int
		want int
	}{
		{-30, 100},
		{-50, 100},
		{-51, 80},
		{-60, 80},
		{-65, 60},
		{-70, 60},
		{-80, 40},
		{-90, 20},
		{-91, 10},
		{-100, 10},
	}
	for _, tt := range tests {
		if got := Quality(tt.rssi); got != tt.want {
			t.Errorf("Quality(%d) = %d, want %d", tt.rssi, got, tt.want)
		}
	}
}

func TestMultipleManagersIndependent(t *testing.T) {
	a := newHarness(t, testConfig())
	b := newHarness(t, testConfig())

	a.connectAll(t)
	a.m.Publish("a/b", []byte("x"), 0, false)

	if b.m.LinkState() != StateIdle {
		t.Errorf("second manager link = %v, want IDLE", b.m.LinkState())
	}
	if len(b.session.published) != 0 {
		t.Error("publish on one manager reached the other's transport")
	}
}
