package connectivity

import (
	"math/rand/v2"
	"time"

	"github.com/nerrad567/linkkeeper/internal/backoff"
	"github.com/nerrad567/linkkeeper/internal/diagnostics"
)

// linkController drives the wireless association through a LinkDriver.
type linkController struct {
	layer

	driver   LinkDriver
	ssid     string
	password string
	base     time.Duration
	ceiling  time.Duration

	rng *rand.Rand
	rec *diagnostics.Recorder
	log Logger
}

func newLinkController(cfg Config, driver LinkDriver, rng *rand.Rand, rec *diagnostics.Recorder, log Logger) *linkController {
	return &linkController{
		layer: layer{
			timeout:    cfg.LinkTimeout,
			maxRetries: cfg.LinkMaxRetries,
			cooldown:   cfg.Cooldown,
		},
		driver:   driver,
		ssid:     cfg.SSID,
		password: cfg.Password,
		base:     cfg.LinkRetryInterval,
		ceiling:  cfg.BackoffCeiling,
		rng:      rng,
		rec:      rec,
		log:      log,
	}
}

// connect requests an association. It returns true when already
// connected and false when an attempt is in progress or the layer is
// disabled.
func (c *linkController) connect(now time.Time) bool {
	switch {
	case c.connected():
		return true
	case c.busy(), c.state == StateDisabled:
		return false
	}
	c.log.Info("connecting link", "ssid", c.ssid)
	c.attempt(now)
	return true
}

func (c *linkController) attempt(now time.Time) {
	c.attemptAt = now
	if err := c.driver.Begin(c.ssid, c.password); err != nil {
		// The attempt still times out and is classified on a later tick.
		c.log.Warn("link attempt not issued", "ssid", c.ssid, "error", err)
	}
	c.set(StateConnecting, ErrNone)
}

// advance runs one tick of the link state machine.
func (c *linkController) advance(now time.Time) {
	status := c.driver.Status()
	t := step(c.layer, now, status == LinkUp)

	switch t.action {
	case actConnected:
		c.retries = 0
		c.connectedAt = now
		c.rec.LinkConnected(now)
		c.set(StateConnected, ErrNone)

	case actTimedOut:
		c.rec.LinkFailure()
		c.log.Warn("link attempt timed out", "status", status.String(), "timeout", c.timeout)
		c.reconnect(classifyLink(status))

	case actLost:
		c.rec.LinkFailure()
		c.log.Warn("link lost", "status", status.String())
		c.reconnect(ErrLinkConnectFailed)

	case actRetry:
		c.retries++
		c.rec.LinkReconnect()
		c.log.Info("link reconnect attempt", "attempt", c.retries, "max", c.maxRetries)
		c.attempt(now)

	case actExhausted:
		c.log.Error("link reconnection failed, max retries reached", "retries", c.retries)
		c.set(StateFailed, ErrLinkConnectFailed)

	case actRearm:
		c.retries = 0
		c.log.Info("re-arming link after extended failure")
		c.reconnect(ErrNone)
	}
}

// reconnect enters Reconnecting with a freshly drawn backoff delay.
func (c *linkController) reconnect(err ErrorCode) {
	c.retryDelay = backoff.Delay(c.base, c.ceiling, c.retries, c.rng)
	c.set(StateReconnecting, err)
}

// signal returns the RSSI while associated, diagnostics.NoSignal otherwise.
func (c *linkController) signal() int {
	if !c.connected() {
		return diagnostics.NoSignal
	}
	return c.driver.RSSI()
}

// stop drops the association and forces the layer to next.
func (c *linkController) stop(next State) {
	if err := c.driver.Disconnect(); err != nil {
		c.log.Warn("link disconnect failed", "error", err)
	}
	c.set(next, ErrNone)
}
