package connectivity

import (
	"math/rand/v2"
	"time"

	"github.com/nerrad567/linkkeeper/internal/backoff"
	"github.com/nerrad567/linkkeeper/internal/diagnostics"
)

// sessionController drives the broker session. It is gated on the link:
// whenever the link is not connected the session is held in Idle.
type sessionController struct {
	layer

	transport SessionTransport
	creds     Credentials
	base      time.Duration
	ceiling   time.Duration

	rng *rand.Rand
	rec *diagnostics.Recorder
	log Logger
}

func newSessionController(cfg Config, transport SessionTransport, rng *rand.Rand, rec *diagnostics.Recorder, log Logger) *sessionController {
	return &sessionController{
		layer: layer{
			timeout:    cfg.SessionTimeout,
			maxRetries: cfg.SessionMaxRetries,
			cooldown:   cfg.Cooldown,
		},
		transport: transport,
		creds:     cfg.Credentials,
		base:      cfg.SessionRetryInterval,
		ceiling:   cfg.BackoffCeiling,
		rng:       rng,
		rec:       rec,
		log:       log,
	}
}

// connect requests a session. It returns false when the link is down, an
// attempt is already in progress or the layer is disabled.
func (c *sessionController) connect(now time.Time, linkUp bool) bool {
	switch {
	case c.connected():
		return true
	case !linkUp:
		c.log.Debug("session connect refused, link not connected")
		return false
	case c.busy(), c.state == StateDisabled:
		return false
	}
	c.log.Info("connecting session", "client_id", c.creds.ClientID, "anonymous", c.creds.Anonymous())
	c.attempt(now)
	return true
}

func (c *sessionController) attempt(now time.Time) {
	c.attemptAt = now
	if err := c.transport.Connect(c.creds); err != nil {
		c.log.Warn("session attempt not issued", "error", err)
	}
	c.set(StateConnecting, ErrNone)
}

// advance runs one tick of the session state machine.
func (c *sessionController) advance(now time.Time, linkUp bool) {
	if c.state == StateDisabled {
		return
	}

	if !linkUp {
		if c.state != StateIdle {
			c.log.Info("link not connected, dropping session", "state", c.state.String())
			c.transport.Disconnect()
			c.set(StateIdle, ErrNone)
		}
		return
	}

	if c.state == StateIdle {
		c.connect(now, linkUp)
		return
	}

	t := step(c.layer, now, c.transport.IsConnected())

	switch t.action {
	case actConnected:
		c.retries = 0
		c.connectedAt = now
		c.rec.SessionConnected(now)
		c.set(StateConnected, ErrNone)

	case actTimedOut:
		code := c.transport.StatusCode()
		c.rec.SessionFailure()
		c.log.Warn("session attempt timed out", "status_code", code, "timeout", c.timeout)
		c.reconnect(classifySession(code))

	case actLost:
		code := c.transport.StatusCode()
		c.rec.SessionFailure()
		c.log.Warn("session lost", "status_code", code)
		c.reconnect(classifySession(code))

	case actRetry:
		c.retries++
		c.rec.SessionReconnect()
		c.log.Info("session reconnect attempt", "attempt", c.retries, "max", c.maxRetries)
		c.attempt(now)

	case actExhausted:
		c.log.Error("session reconnection failed, max retries reached", "retries", c.retries)
		c.set(StateFailed, ErrSessionServerUnavailable)

	case actRearm:
		c.retries = 0
		c.log.Info("re-arming session after extended failure")
		c.reconnect(ErrNone)
	}
}

func (c *sessionController) reconnect(err ErrorCode) {
	c.retryDelay = backoff.Delay(c.base, c.ceiling, c.retries, c.rng)
	c.set(StateReconnecting, err)
}

// stop drops any session and forces the layer to next.
func (c *sessionController) stop(next State) {
	c.transport.Disconnect()
	c.set(next, ErrNone)
}
