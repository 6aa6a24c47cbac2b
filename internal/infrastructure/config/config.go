package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// envPrefix is prepended to every environment override.
const envPrefix = "LINKKEEPER_"

// Config is the root configuration structure for Linkkeeper.
// All configuration is loaded from YAML and can be overridden by environment variables.
type Config struct {
	Device     DeviceConfig     `yaml:"device"`
	WiFi       WiFiConfig       `yaml:"wifi"`
	MQTT       MQTTConfig       `yaml:"mqtt"`
	Supervisor SupervisorConfig `yaml:"supervisor"`
	Logging    LoggingConfig    `yaml:"logging"`
	InfluxDB   InfluxDBConfig   `yaml:"influxdb"`
	Journal    JournalConfig    `yaml:"journal"`
	Metrics    MetricsConfig    `yaml:"metrics"`
}

// DeviceConfig identifies the unit and its own MQTT topics.
type DeviceConfig struct {
	ID string `yaml:"id"`

	// ClientIDPrefix is used when mqtt.broker.client_id is empty.
	ClientIDPrefix string `yaml:"client_id_prefix"`

	// StatusTopic receives a retained status message on every session connect.
	// Empty disables it.
	StatusTopic string `yaml:"status_topic"`

	// Subscriptions are subscribed to on every session connect.
	Subscriptions []string `yaml:"subscriptions"`

	// PublishStats publishes each diagnostics snapshot to
	// linkkeeper/<id>/stats.
	PublishStats bool `yaml:"publish_stats"`
}

// WiFiConfig contains wireless link settings.
type WiFiConfig struct {
	// Driver selects the link driver: "nmcli" or "static".
	Driver          string `yaml:"driver"`
	Interface       string `yaml:"interface"`
	SSID            string `yaml:"ssid"`
	Password        string `yaml:"password"`
	TimeoutMS       int    `yaml:"timeout_ms"`
	RetryIntervalMS int    `yaml:"retry_interval_ms"`
	MaxRetries      int    `yaml:"max_retries"`
}

// MQTTConfig contains MQTT broker connection settings.
type MQTTConfig struct {
	Broker          MQTTBrokerConfig `yaml:"broker"`
	Auth            MQTTAuthConfig   `yaml:"auth"`
	QoS             int              `yaml:"qos"`
	KeepAlive       int              `yaml:"keepalive"`
	TimeoutMS       int              `yaml:"timeout_ms"`
	RetryIntervalMS int              `yaml:"retry_interval_ms"`
	MaxRetries      int              `yaml:"max_retries"`

	// BufferSize is the number of inbound messages held between ticks.
	BufferSize int `yaml:"buffer_size"`
}

// MQTTBrokerConfig contains MQTT broker connection details.
type MQTTBrokerConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	TLS      bool   `yaml:"tls"`
	ClientID string `yaml:"client_id"`
}

// MQTTAuthConfig contains MQTT authentication credentials.
type MQTTAuthConfig struct {
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// SupervisorConfig tunes the connectivity supervisor.
type SupervisorConfig struct {
	TickMS                int  `yaml:"tick_ms"`
	BackoffCeilingMS      int  `yaml:"backoff_ceiling_ms"`
	CooldownMS            int  `yaml:"cooldown_ms"`
	QueueCapacity         int  `yaml:"queue_capacity"`
	HealthCheckIntervalMS int  `yaml:"health_check_interval_ms"`
	QualityThreshold      int  `yaml:"quality_threshold"`
	EnableDiagnostics     bool `yaml:"enable_diagnostics"`
	DiagnosticsIntervalMS int  `yaml:"diagnostics_interval_ms"`
	EnableWatchdog        bool `yaml:"enable_watchdog"`
	WatchdogTimeoutMS     int  `yaml:"watchdog_timeout_ms"`
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// InfluxDBConfig contains InfluxDB connection settings.
type InfluxDBConfig struct {
	Enabled       bool   `yaml:"enabled"`
	URL           string `yaml:"url"`
	Token         string `yaml:"token"`
	Org           string `yaml:"org"`
	Bucket        string `yaml:"bucket"`
	BatchSize     int    `yaml:"batch_size"`
	FlushInterval int    `yaml:"flush_interval"`
}

// JournalConfig contains SQLite event journal settings.
type JournalConfig struct {
	Enabled        bool   `yaml:"enabled"`
	Path           string `yaml:"path"`
	WALMode        bool   `yaml:"wal_mode"`
	BusyTimeout    int    `yaml:"busy_timeout"`
	RetentionHours int    `yaml:"retention_hours"`
	BufferSize     int    `yaml:"buffer_size"`
}

// MetricsConfig contains Prometheus exporter settings.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Listen  string `yaml:"listen"`
}

// Load reads configuration from a YAML file and applies environment variable overrides.
//
// The configuration loading order is:
//  1. Default values (hardcoded)
//  2. YAML file values (override defaults)
//  3. A .env file next to the config file or in the working directory
//  4. Environment variables (override file values)
//
// Environment variables follow the pattern: LINKKEEPER_SECTION_KEY
// For example: LINKKEEPER_WIFI_SSID, LINKKEEPER_MQTT_HOST
//
// Parameters:
//   - path: Path to the YAML configuration file
//
// Returns:
//   - *Config: Loaded and validated configuration
//   - error: If file cannot be read, parsed, or validation fails
func Load(path string) (*Config, error) {
	cfg := defaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	if err := loadDotEnv(filepath.Join(filepath.Dir(path), ".env"), ".env"); err != nil {
		return nil, err
	}

	if err := applyEnvOverrides(cfg); err != nil {
		return nil, err
	}

	if cfg.MQTT.Broker.ClientID == "" {
		cfg.MQTT.Broker.ClientID = GenerateClientID(cfg.Device.ClientIDPrefix, cfg.Device.ID)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// loadDotEnv loads the first existing file into the process environment.
// Variables already set are not overwritten.
func loadDotEnv(paths ...string) error {
	for _, p := range paths {
		err := godotenv.Load(p)
		if err == nil {
			return nil
		}
		if !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("loading %s: %w", p, err)
		}
	}
	return nil
}

// GenerateClientID builds a broker client ID from the prefix, the device
// ID and a random suffix so that two units sharing a device ID do not
// evict each other's sessions.
func GenerateClientID(prefix, deviceID string) string {
	suffix := strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
	if deviceID == "" {
		return prefix + suffix
	}
	return prefix + deviceID + "_" + suffix
}

// defaultConfig returns a Config with the defaults used on deployed units.
func defaultConfig() *Config {
	deviceID, err := os.Hostname()
	if err != nil || deviceID == "" {
		deviceID = "linkkeeper"
	}

	return &Config{
		Device: DeviceConfig{
			ID:             deviceID,
			ClientIDPrefix: "linkkeeper_",
		},
		WiFi: WiFiConfig{
			Driver:          "nmcli",
			Interface:       "wlan0",
			TimeoutMS:       30000,
			RetryIntervalMS: 10000,
			MaxRetries:      5,
		},
		MQTT: MQTTConfig{
			Broker: MQTTBrokerConfig{
				Host: "localhost",
				Port: 1883,
			},
			QoS:             1,
			KeepAlive:       60,
			TimeoutMS:       15000,
			RetryIntervalMS: 8000,
			MaxRetries:      3,
			BufferSize:      1024,
		},
		Supervisor: SupervisorConfig{
			TickMS:                100,
			BackoffCeilingMS:      60000,
			CooldownMS:            300000,
			QueueCapacity:         10,
			HealthCheckIntervalMS: 30000,
			QualityThreshold:      70,
			EnableDiagnostics:     true,
			DiagnosticsIntervalMS: 30000,
			EnableWatchdog:        true,
			WatchdogTimeoutMS:     30000,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
		InfluxDB: InfluxDBConfig{
			BatchSize:     100,
			FlushInterval: 10,
		},
		Journal: JournalConfig{
			Path:           "./data/linkkeeper.db",
			WALMode:        true,
			BusyTimeout:    5,
			RetentionHours: 168,
			BufferSize:     256,
		},
		Metrics: MetricsConfig{
			Listen: "127.0.0.1:9464",
		},
	}
}

// applyEnvOverrides applies environment variable overrides to the configuration.
// Environment variables follow the pattern: LINKKEEPER_SECTION_KEY
func applyEnvOverrides(cfg *Config) error {
	str := map[string]*string{
		"DEVICE_ID":      &cfg.Device.ID,
		"WIFI_DRIVER":    &cfg.WiFi.Driver,
		"WIFI_INTERFACE": &cfg.WiFi.Interface,
		"WIFI_SSID":      &cfg.WiFi.SSID,
		"WIFI_PASSWORD":  &cfg.WiFi.Password,
		"MQTT_HOST":      &cfg.MQTT.Broker.Host,
		"MQTT_CLIENT_ID": &cfg.MQTT.Broker.ClientID,
		"MQTT_USERNAME":  &cfg.MQTT.Auth.Username,
		"MQTT_PASSWORD":  &cfg.MQTT.Auth.Password,
		"INFLUXDB_URL":   &cfg.InfluxDB.URL,
		"INFLUXDB_TOKEN": &cfg.InfluxDB.Token,
		"JOURNAL_PATH":   &cfg.Journal.Path,
		"LOGGING_LEVEL":  &cfg.Logging.Level,
		"METRICS_LISTEN": &cfg.Metrics.Listen,
	}
	for key, dst := range str {
		if v := os.Getenv(envPrefix + key); v != "" {
			*dst = v
		}
	}

	if v := os.Getenv(envPrefix + "MQTT_PORT"); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("parsing %sMQTT_PORT: %w", envPrefix, err)
		}
		cfg.MQTT.Broker.Port = port
	}

	return nil
}

// Validate checks the configuration for errors.
//
// Returns:
//   - error: Description of validation failure, or nil if valid
func (c *Config) Validate() error {
	var errs []string

	if c.Device.ID == "" {
		errs = append(errs, "device.id is required")
	}

	// WiFi validation
	switch c.WiFi.Driver {
	case "nmcli":
		if c.WiFi.SSID == "" {
			errs = append(errs, "wifi.ssid is required (set LINKKEEPER_WIFI_SSID environment variable)")
		}
		if c.WiFi.Interface == "" {
			errs = append(errs, "wifi.interface is required")
		}
	case "static":
		// An empty interface means the link is managed and monitored
		// elsewhere and is treated as always up.
	default:
		errs = append(errs, fmt.Sprintf("wifi.driver %q must be nmcli or static", c.WiFi.Driver))
	}
	if c.WiFi.TimeoutMS <= 0 || c.WiFi.RetryIntervalMS <= 0 {
		errs = append(errs, "wifi.timeout_ms and wifi.retry_interval_ms must be positive")
	}
	if c.WiFi.MaxRetries < 0 {
		errs = append(errs, "wifi.max_retries must not be negative")
	}

	// MQTT validation
	if c.MQTT.Broker.Host == "" {
		errs = append(errs, "mqtt.broker.host is required")
	}
	if c.MQTT.Broker.Port < 1 || c.MQTT.Broker.Port > 65535 {
		errs = append(errs, "mqtt.broker.port must be between 1 and 65535")
	}
	if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
		errs = append(errs, "mqtt.qos must be 0, 1, or 2")
	}
	if c.MQTT.TimeoutMS <= 0 || c.MQTT.RetryIntervalMS <= 0 {
		errs = append(errs, "mqtt.timeout_ms and mqtt.retry_interval_ms must be positive")
	}
	if c.MQTT.MaxRetries < 0 {
		errs = append(errs, "mqtt.max_retries must not be negative")
	}
	if c.MQTT.BufferSize < 1 {
		errs = append(errs, "mqtt.buffer_size must be at least 1")
	}

	// Supervisor validation
	if c.Supervisor.TickMS <= 0 {
		errs = append(errs, "supervisor.tick_ms must be positive")
	}
	if c.Supervisor.QueueCapacity < 1 {
		errs = append(errs, "supervisor.queue_capacity must be at least 1")
	}
	if c.Supervisor.QualityThreshold < 0 || c.Supervisor.QualityThreshold > 100 {
		errs = append(errs, "supervisor.quality_threshold must be between 0 and 100")
	}
	if c.Supervisor.EnableWatchdog && c.Supervisor.WatchdogTimeoutMS < 2*c.Supervisor.TickMS {
		errs = append(errs, "supervisor.watchdog_timeout_ms must be at least twice supervisor.tick_ms")
	}

	// Sinks
	if c.InfluxDB.Enabled && (c.InfluxDB.URL == "" || c.InfluxDB.Bucket == "") {
		errs = append(errs, "influxdb.url and influxdb.bucket are required when influxdb is enabled")
	}
	if c.Journal.Enabled && c.Journal.Path == "" {
		errs = append(errs, "journal.path is required when the journal is enabled")
	}
	if c.Metrics.Enabled && c.Metrics.Listen == "" {
		errs = append(errs, "metrics.listen is required when metrics are enabled")
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}

	return nil
}

func ms(v int) time.Duration {
	return time.Duration(v) * time.Millisecond
}

// GetWiFiTimeout returns the link connect timeout as a Duration.
func (c *Config) GetWiFiTimeout() time.Duration { return ms(c.WiFi.TimeoutMS) }

// GetWiFiRetryInterval returns the link backoff base as a Duration.
func (c *Config) GetWiFiRetryInterval() time.Duration { return ms(c.WiFi.RetryIntervalMS) }

// GetMQTTTimeout returns the session connect timeout as a Duration.
func (c *Config) GetMQTTTimeout() time.Duration { return ms(c.MQTT.TimeoutMS) }

// GetMQTTRetryInterval returns the session backoff base as a Duration.
func (c *Config) GetMQTTRetryInterval() time.Duration { return ms(c.MQTT.RetryIntervalMS) }

// GetTickInterval returns the supervisor tick period as a Duration.
func (c *Config) GetTickInterval() time.Duration { return ms(c.Supervisor.TickMS) }

// GetBackoffCeiling returns the retry delay cap as a Duration.
func (c *Config) GetBackoffCeiling() time.Duration { return ms(c.Supervisor.BackoffCeilingMS) }

// GetCooldown returns the Failed re-arm delay as a Duration.
func (c *Config) GetCooldown() time.Duration { return ms(c.Supervisor.CooldownMS) }

// GetHealthCheckInterval returns the health check period as a Duration.
func (c *Config) GetHealthCheckInterval() time.Duration {
	return ms(c.Supervisor.HealthCheckIntervalMS)
}

// GetDiagnosticsInterval returns the diagnostics emission period as a Duration.
func (c *Config) GetDiagnosticsInterval() time.Duration {
	return ms(c.Supervisor.DiagnosticsIntervalMS)
}

// GetWatchdogTimeout returns the watchdog timeout as a Duration.
func (c *Config) GetWatchdogTimeout() time.Duration { return ms(c.Supervisor.WatchdogTimeoutMS) }

// GetRetention returns the journal retention window as a Duration.
func (c *Config) GetRetention() time.Duration {
	return time.Duration(c.Journal.RetentionHours) * time.Hour
}
