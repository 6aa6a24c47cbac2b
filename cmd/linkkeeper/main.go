// Linkkeeper - connectivity supervisor for networked field units.
//
// This is the main entry point. Linkkeeper keeps a wireless link and an
// MQTT broker session alive on top of it, queues outbound messages while
// either layer is down and reports connection health.
//
// Signals:
//   - SIGINT, SIGTERM: graceful shutdown
//   - SIGUSR1: write the diagnostics report to stderr
//
// A stalled supervisor loop is detected by the watchdog; the process then
// exits with status 3 so that the service manager restarts it.
package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/nerrad567/linkkeeper/migrations"

	"github.com/nerrad567/linkkeeper/internal/connectivity"
	"github.com/nerrad567/linkkeeper/internal/diagnostics"
	"github.com/nerrad567/linkkeeper/internal/infrastructure/config"
	"github.com/nerrad567/linkkeeper/internal/infrastructure/database"
	"github.com/nerrad567/linkkeeper/internal/infrastructure/influxdb"
	"github.com/nerrad567/linkkeeper/internal/infrastructure/logging"
	"github.com/nerrad567/linkkeeper/internal/infrastructure/mqtt"
	"github.com/nerrad567/linkkeeper/internal/infrastructure/netif"
	"github.com/nerrad567/linkkeeper/internal/journal"
)

// Version information - set at build time via ldflags
// Example: go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

// Default configuration file path
const defaultConfigPath = "configs/config.yaml"

// exitWatchdog is the process status used when the supervisor loop stalls.
const exitWatchdog = 3

// metricsShutdownTimeout bounds the metrics server shutdown.
const metricsShutdownTimeout = 5 * time.Second

// exit is replaced in tests.
var exit = os.Exit

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// run is the actual application logic, separated from main for testability.
// It returns nil on clean shutdown.
func run(ctx context.Context) error {
	log := logging.Default()
	log.Info("starting linkkeeper",
		"version", version,
		"commit", commit,
		"build_date", date,
	)

	configPath := getConfigPath()
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	log = logging.New(cfg.Logging, version)
	log.Info("configuration loaded",
		"path", configPath,
		"device_id", cfg.Device.ID,
		"level", cfg.Logging.Level,
		"format", cfg.Logging.Format,
	)

	link, err := newLinkDriver(cfg, log)
	if err != nil {
		return err
	}

	transport := mqtt.New(cfg.MQTT, cfg.Device.StatusTopic)
	transport.SetLogger(log)

	h := &host{
		cfg:     cfg,
		log:     log,
		topics:  mqtt.Topics{DeviceID: cfg.Device.ID},
		broker:  transport,
		link:    connectivity.StateIdle,
		session: connectivity.StateIdle,
	}

	// Connect to InfluxDB (optional)
	if cfg.InfluxDB.Enabled {
		influxClient, influxErr := influxdb.Connect(cfg.InfluxDB)
		if influxErr != nil {
			return fmt.Errorf("connecting to InfluxDB: %w", influxErr)
		}
		defer func() {
			log.Info("closing InfluxDB connection")
			if closeErr := influxClient.Close(); closeErr != nil {
				log.Error("error closing InfluxDB", "error", closeErr)
			}
		}()
		influxClient.SetOnError(func(err error) {
			log.Error("InfluxDB write error", "error", err)
		})
		h.influx = influxClient
		log.Info("InfluxDB connected", "url", cfg.InfluxDB.URL, "bucket", cfg.InfluxDB.Bucket)
	} else {
		log.Info("InfluxDB disabled")
	}

	// Open the event journal (optional)
	if cfg.Journal.Enabled {
		writer, db, closeJournal, journalErr := openJournal(ctx, cfg, log)
		if journalErr != nil {
			return journalErr
		}
		defer closeJournal()
		h.journal = writer
		h.db = db
	} else {
		log.Info("journal disabled")
	}

	// Serve metrics (optional)
	if cfg.Metrics.Enabled {
		h.exporter = diagnostics.NewExporter(cfg.Device.ID)
		_, stopMetrics, metricsErr := serveMetrics(cfg.Metrics.Listen, h.exporter, log)
		if metricsErr != nil {
			return metricsErr
		}
		defer stopMetrics()
	}

	mgr := connectivity.New(buildSupervisorConfig(cfg), link, transport, connectivity.WithLogger(log))
	h.mgr = mgr
	mgr.SetLinkCallback(h.onLink)
	mgr.SetSessionCallback(h.onSession)
	mgr.SetMessageCallback(h.onMessage)
	mgr.SetDiagnosticsCallback(h.onDiagnostics)

	if err := mgr.Begin(); err != nil {
		return fmt.Errorf("starting supervisor: %w", err)
	}
	defer mgr.End()

	// Verify the sinks before the loop starts
	if err := h.healthCheck(ctx); err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	log.Info("all health checks passed")

	mgr.ConnectLink()
	h.observe()

	if cfg.Supervisor.EnableWatchdog {
		go monitorWatchdog(ctx, mgr, cfg.GetWatchdogTimeout()/4, log)
	}

	log.Info("initialisation complete", "tick", cfg.GetTickInterval())
	h.loop(ctx)

	log.Info("shutdown signal received, cleaning up")
	h.logUndelivered()
	log.Info("linkkeeper stopped")
	return nil
}

// getConfigPath returns the configuration file path.
// Uses LINKKEEPER_CONFIG environment variable if set, otherwise default.
func getConfigPath() string {
	if path := os.Getenv("LINKKEEPER_CONFIG"); path != "" {
		return path
	}
	return defaultConfigPath
}

// buildSupervisorConfig converts the file configuration into the
// supervisor's snapshot.
func buildSupervisorConfig(cfg *config.Config) connectivity.Config {
	return connectivity.Config{
		DeviceID:          cfg.Device.ID,
		SSID:              supervisorSSID(cfg),
		Password:          cfg.WiFi.Password,
		LinkTimeout:       cfg.GetWiFiTimeout(),
		LinkRetryInterval: cfg.GetWiFiRetryInterval(),
		LinkMaxRetries:    cfg.WiFi.MaxRetries,
		Credentials: connectivity.Credentials{
			ClientID: cfg.MQTT.Broker.ClientID,
			Username: cfg.MQTT.Auth.Username,
			Password: cfg.MQTT.Auth.Password,
		},
		SessionTimeout:       cfg.GetMQTTTimeout(),
		SessionRetryInterval: cfg.GetMQTTRetryInterval(),
		SessionMaxRetries:    cfg.MQTT.MaxRetries,
		BackoffCeiling:       cfg.GetBackoffCeiling(),
		Cooldown:             cfg.GetCooldown(),
		QueueCapacity:        cfg.Supervisor.QueueCapacity,
		EnableDiagnostics:    cfg.Supervisor.EnableDiagnostics,
		DiagnosticsInterval:  cfg.GetDiagnosticsInterval(),
		EnableWatchdog:       cfg.Supervisor.EnableWatchdog,
		WatchdogTimeout:      cfg.GetWatchdogTimeout(),
		HealthCheckInterval:  cfg.GetHealthCheckInterval(),
		QualityThreshold:     cfg.Supervisor.QualityThreshold,
	}
}

// supervisorSSID returns the configured SSID. The static driver ignores
// it, so the interface name stands in when none is set.
func supervisorSSID(cfg *config.Config) string {
	if cfg.WiFi.SSID != "" || cfg.WiFi.Driver != "static" {
		return cfg.WiFi.SSID
	}
	if cfg.WiFi.Interface != "" {
		return cfg.WiFi.Interface
	}
	return "static"
}

// newLinkDriver builds the link driver selected by wifi.driver.
func newLinkDriver(cfg *config.Config, log *logging.Logger) (connectivity.LinkDriver, error) {
	switch cfg.WiFi.Driver {
	case "nmcli":
		return netif.New(cfg.WiFi.Interface, cfg.GetWiFiTimeout(), netif.WithLogger(log)), nil
	case "static":
		return netif.NewStatic(cfg.WiFi.Interface, netif.DefaultSysfsRoot, netif.DefaultStaticRSSI), nil
	default:
		return nil, fmt.Errorf("unknown wifi driver %q", cfg.WiFi.Driver)
	}
}

// openJournal opens the journal database, applies migrations, prunes rows
// past the retention window and starts the background writer. The
// returned function stops the writer and closes the database.
func openJournal(ctx context.Context, cfg *config.Config, log *logging.Logger) (*journal.Writer, *database.DB, func(), error) {
	db, err := database.Open(database.Config{
		Path:        cfg.Journal.Path,
		WALMode:     cfg.Journal.WALMode,
		BusyTimeout: time.Duration(cfg.Journal.BusyTimeout) * time.Second,
	})
	if err != nil {
		return nil, nil, nil, fmt.Errorf("opening journal: %w", err)
	}

	if err := db.Migrate(ctx); err != nil {
		_ = db.Close()
		return nil, nil, nil, fmt.Errorf("running journal migrations: %w", err)
	}

	repo := journal.NewSQLiteRepository(db.DB)
	if retention := cfg.GetRetention(); retention > 0 {
		removed, pruneErr := repo.Prune(ctx, time.Now().Add(-retention))
		if pruneErr != nil {
			log.Warn("journal prune failed", "error", pruneErr)
		} else if removed > 0 {
			log.Info("journal pruned", "rows", removed, "retention", retention)
			if cpErr := db.Checkpoint(ctx); cpErr != nil {
				log.Warn("journal checkpoint failed", "error", cpErr)
			}
		}
	}

	previousRun(ctx, repo, cfg.Device.ID, log)

	writer := journal.NewWriter(repo, cfg.Device.ID, cfg.Journal.BufferSize, log)
	log.Info("journal opened", "path", db.Path())

	closeFn := func() {
		writer.Close()
		stats := writer.Stats()
		log.Info("closing journal",
			"written", stats.Written,
			"dropped", stats.Dropped,
			"failed", stats.Failed,
		)
		if closeErr := db.Close(); closeErr != nil {
			log.Error("error closing journal", "error", closeErr)
		}
	}
	return writer, db, closeFn, nil
}

// previousRun logs the totals from the last snapshot the device recorded
// and returns it, or nil when there is none.
func previousRun(ctx context.Context, repo journal.Repository, deviceID string, log *logging.Logger) *journal.Snapshot {
	snap, err := repo.LatestSnapshot(ctx, deviceID)
	if err != nil {
		if !errors.Is(err, journal.ErrNotFound) {
			log.Warn("reading last snapshot failed", "error", err)
		}
		return nil
	}
	log.Info("previous run",
		"taken_at", snap.TakenAt,
		"link_reconnects", snap.Stats.LinkReconnects,
		"session_reconnects", snap.Stats.SessionReconnects,
		"messages_sent", snap.Stats.MessagesSent,
		"messages_failed", snap.Stats.MessagesFailed,
	)
	return snap
}

// serveMetrics starts the Prometheus endpoint and returns the bound
// address. The returned function shuts the server down.
func serveMetrics(addr string, exporter *diagnostics.Exporter, log *logging.Logger) (net.Addr, func(), error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, nil, fmt.Errorf("listening on %s: %w", addr, err)
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", exporter.Handler())

	srv := &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      10 * time.Second,
	}

	go func() {
		if serveErr := srv.Serve(ln); serveErr != nil && !errors.Is(serveErr, http.ErrServerClosed) {
			log.Error("metrics server error", "error", serveErr)
		}
	}()
	log.Info("metrics server listening", "addr", ln.Addr().String())

	return ln.Addr(), func() {
		ctx, cancel := context.WithTimeout(context.Background(), metricsShutdownTimeout)
		defer cancel()
		if shutdownErr := srv.Shutdown(ctx); shutdownErr != nil {
			log.Error("error stopping metrics server", "error", shutdownErr)
		}
	}, nil
}

// monitorWatchdog exits the process when the supervisor loop stops
// feeding the watchdog. It runs on its own goroutine so that it still
// fires when the loop is blocked.
func monitorWatchdog(ctx context.Context, mgr *connectivity.Manager, interval time.Duration, log *logging.Logger) {
	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if !mgr.IsHealthy() {
				log.Error("watchdog expired, restarting")
				exit(exitWatchdog)
				return
			}
		}
	}
}
