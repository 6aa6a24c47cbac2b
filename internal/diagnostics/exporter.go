package diagnostics

import (
	"net/http"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "linkkeeper"

// StateValue maps a layer state name to the numeric value exported in
// the state gauges. Unknown names map to -1.
var StateValue = map[string]float64{
	"IDLE":         0,
	"CONNECTING":   1,
	"CONNECTED":    2,
	"RECONNECTING": 3,
	"FAILED":       4,
	"DISABLED":     5,
}

// Exporter serves the most recently observed Report as Prometheus metrics.
type Exporter struct {
	current  atomic.Pointer[Report]
	registry *prometheus.Registry

	linkState     *prometheus.Desc
	sessionState  *prometheus.Desc
	quality       *prometheus.Desc
	signal        *prometheus.Desc
	uptime        *prometheus.Desc
	reconnects    *prometheus.Desc
	failures      *prometheus.Desc
	messages      *prometheus.Desc
	dropped       *prometheus.Desc
	queueDepth    *prometheus.Desc
	queueCapacity *prometheus.Desc
	healthy       *prometheus.Desc
}

// NewExporter creates an exporter with its own registry. deviceID is
// attached to every metric as a constant label.
func NewExporter(deviceID string) *Exporter {
	labels := prometheus.Labels{"device_id": deviceID}
	desc := func(name, help string, variable ...string) *prometheus.Desc {
		return prometheus.NewDesc(prometheus.BuildFQName(namespace, "", name), help, variable, labels)
	}

	e := &Exporter{
		registry:      prometheus.NewRegistry(),
		linkState:     desc("link_state", "Link layer state (0 idle, 1 connecting, 2 connected, 3 reconnecting, 4 failed, 5 disabled)."),
		sessionState:  desc("session_state", "Session layer state (0 idle, 1 connecting, 2 connected, 3 reconnecting, 4 failed, 5 disabled)."),
		quality:       desc("connection_quality_percent", "Bucketed connection quality."),
		signal:        desc("signal_strength_dbm", "Last observed link signal strength."),
		uptime:        desc("uptime_seconds", "Accumulated connected time per layer, and total uptime.", "layer"),
		reconnects:    desc("reconnects", "Reconnect attempts per layer since the last statistics reset.", "layer"),
		failures:      desc("failures", "Failures per layer since the last statistics reset.", "layer"),
		messages:      desc("messages", "Outbound messages by result since the last statistics reset.", "result"),
		dropped:       desc("inbound_dropped", "Inbound messages discarded because the receive buffer was full."),
		queueDepth:    desc("queue_depth", "Outbound queue length."),
		queueCapacity: desc("queue_capacity", "Outbound queue capacity."),
		healthy:       desc("watchdog_healthy", "1 when the watchdog considers the loop healthy."),
	}
	e.registry.MustRegister(e)
	return e
}

// Observe replaces the exported report.
func (e *Exporter) Observe(r Report) {
	e.current.Store(&r)
}

// Handler returns an HTTP handler serving the registry.
func (e *Exporter) Handler() http.Handler {
	return promhttp.HandlerFor(e.registry, promhttp.HandlerOpts{EnableOpenMetrics: true})
}

// Describe implements prometheus.Collector.
func (e *Exporter) Describe(ch chan<- *prometheus.Desc) {
	for _, d := range []*prometheus.Desc{
		e.linkState, e.sessionState, e.quality, e.signal, e.uptime,
		e.reconnects, e.failures, e.messages, e.dropped, e.queueDepth, e.queueCapacity, e.healthy,
	} {
		ch <- d
	}
}

// Collect implements prometheus.Collector. Nothing is emitted before the
// first Observe. Statistics can be reset at runtime, so every value is a
// gauge.
func (e *Exporter) Collect(ch chan<- prometheus.Metric) {
	r := e.current.Load()
	if r == nil {
		return
	}
	s := r.Stats

	gauge := func(d *prometheus.Desc, v float64, lv ...string) {
		ch <- prometheus.MustNewConstMetric(d, prometheus.GaugeValue, v, lv...)
	}
	count := func(d *prometheus.Desc, v uint64, lv ...string) {
		gauge(d, float64(v), lv...)
	}

	gauge(e.linkState, stateValue(r.LinkState))
	gauge(e.sessionState, stateValue(r.SessionState))
	gauge(e.quality, float64(r.Quality))
	gauge(e.signal, float64(s.SignalStrength))
	gauge(e.uptime, s.LinkUptime.Seconds(), "link")
	gauge(e.uptime, s.SessionUptime.Seconds(), "session")
	gauge(e.uptime, s.TotalUptime.Seconds(), "total")
	count(e.reconnects, s.LinkReconnects, "link")
	count(e.reconnects, s.SessionReconnects, "session")
	count(e.failures, s.LinkFailures, "link")
	count(e.failures, s.SessionFailures, "session")
	count(e.messages, s.MessagesSent, "sent")
	count(e.messages, s.MessagesFailed, "failed")
	count(e.messages, s.MessagesQueued, "queued")
	count(e.dropped, r.InboundDropped)
	gauge(e.queueDepth, float64(s.QueueDepth))
	gauge(e.queueCapacity, float64(r.QueueCapacity))

	healthy := 0.0
	if !r.Watchdog.Enabled || r.Watchdog.Healthy {
		healthy = 1
	}
	gauge(e.healthy, healthy)
}

func stateValue(name string) float64 {
	if v, ok := StateValue[name]; ok {
		return v
	}
	return -1
}
