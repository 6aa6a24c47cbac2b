package connectivity

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/nerrad567/linkkeeper/internal/backoff"
	"github.com/nerrad567/linkkeeper/internal/diagnostics"
	"github.com/nerrad567/linkkeeper/internal/outbox"
	"github.com/nerrad567/linkkeeper/internal/watchdog"
)

// DefaultCooldown is how long a Failed layer waits, measured from its last
// attempt, before re-arming.
const DefaultCooldown = 5 * time.Minute

// Config is the immutable configuration snapshot a Manager runs with.
type Config struct {
	// DeviceID labels logs and reports. It defaults to the client ID.
	DeviceID string

	// Link layer.
	SSID              string
	Password          string
	LinkTimeout       time.Duration
	LinkRetryInterval time.Duration
	LinkMaxRetries    int

	// Session layer.
	Credentials          Credentials
	SessionTimeout       time.Duration
	SessionRetryInterval time.Duration
	SessionMaxRetries    int

	// BackoffCeiling caps the retry delay of both layers.
	BackoffCeiling time.Duration
	// Cooldown is the Failed re-arm delay of both layers.
	Cooldown time.Duration

	QueueCapacity int

	EnableDiagnostics   bool
	DiagnosticsInterval time.Duration

	EnableWatchdog  bool
	WatchdogTimeout time.Duration

	HealthCheckInterval time.Duration
	// QualityThreshold is the connection quality percentage below which the
	// health check warns.
	QualityThreshold int
}

// Credentials identify the device to the broker. An empty Username means
// an anonymous session.
type Credentials struct {
	ClientID string
	Username string
	Password string
}

// Anonymous reports whether no username is configured.
func (c Credentials) Anonymous() bool {
	return c.Username == ""
}

// DefaultConfig returns the robust defaults used on deployed units.
func DefaultConfig() Config {
	return Config{
		LinkTimeout:          30 * time.Second,
		LinkRetryInterval:    10 * time.Second,
		LinkMaxRetries:       5,
		SessionTimeout:       15 * time.Second,
		SessionRetryInterval: 8 * time.Second,
		SessionMaxRetries:    3,
		BackoffCeiling:       backoff.DefaultCeiling,
		Cooldown:             DefaultCooldown,
		QueueCapacity:        outbox.DefaultCapacity,
		EnableDiagnostics:    true,
		DiagnosticsInterval:  diagnostics.DefaultInterval,
		EnableWatchdog:       true,
		WatchdogTimeout:      watchdog.DefaultTimeout,
		HealthCheckInterval:  30 * time.Second,
		QualityThreshold:     70,
	}
}

// Validate checks the snapshot. All problems are reported together,
// wrapped in ErrInvalidConfig.
func (c Config) Validate() error {
	var errs []string

	if c.SSID == "" {
		errs = append(errs, "SSID is required")
	}
	if c.Credentials.ClientID == "" {
		errs = append(errs, "client ID is required")
	}
	if c.LinkTimeout <= 0 {
		errs = append(errs, "link timeout must be positive")
	}
	if c.LinkRetryInterval <= 0 {
		errs = append(errs, "link retry interval must be positive")
	}
	if c.LinkMaxRetries < 0 {
		errs = append(errs, "link max retries must not be negative")
	}
	if c.SessionTimeout <= 0 {
		errs = append(errs, "session timeout must be positive")
	}
	if c.SessionRetryInterval <= 0 {
		errs = append(errs, "session retry interval must be positive")
	}
	if c.SessionMaxRetries < 0 {
		errs = append(errs, "session max retries must not be negative")
	}
	if c.BackoffCeiling < 0 {
		errs = append(errs, "backoff ceiling must not be negative")
	}
	if c.Cooldown < 0 {
		errs = append(errs, "cooldown must not be negative")
	}
	if c.QueueCapacity < 0 {
		errs = append(errs, "queue capacity must not be negative")
	}
	if c.HealthCheckInterval < 0 {
		errs = append(errs, "health check interval must not be negative")
	}
	if c.QualityThreshold < 0 || c.QualityThreshold > 100 {
		errs = append(errs, fmt.Sprintf("quality threshold %d out of range 0-100", c.QualityThreshold))
	}

	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, errors.New(strings.Join(errs, "; ")))
	}
	return nil
}

// withDefaults fills zero-valued optional durations.
func (c Config) withDefaults() Config {
	if c.DeviceID == "" {
		c.DeviceID = c.Credentials.ClientID
	}
	if c.BackoffCeiling == 0 {
		c.BackoffCeiling = backoff.DefaultCeiling
	}
	if c.Cooldown == 0 {
		c.Cooldown = DefaultCooldown
	}
	if c.QueueCapacity == 0 {
		c.QueueCapacity = outbox.DefaultCapacity
	}
	if c.DiagnosticsInterval <= 0 {
		c.DiagnosticsInterval = diagnostics.DefaultInterval
	}
	if c.WatchdogTimeout <= 0 {
		c.WatchdogTimeout = watchdog.DefaultTimeout
	}
	if c.HealthCheckInterval == 0 {
		c.HealthCheckInterval = 30 * time.Second
	}
	return c
}
