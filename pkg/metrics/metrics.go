package metrics

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/common/expfmt"
)

const namespace = "livefn"

// Metrics holds the session's collectors. A nil *Metrics is valid and
// records nothing.
type Metrics struct {
	registry *prometheus.Registry

	invocations *prometheus.CounterVec
	duration    *prometheus.HistogramVec
	processes   *prometheus.GaugeVec
	starts      *prometheus.CounterVec
	transitions *prometheus.CounterVec
	peers       prometheus.Gauge
}

func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		invocations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "invocations_total",
			Help:      "Invocations handled locally, by function and outcome",
		}, []string{"function", "status", "kind"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "invocation_duration_seconds",
			Help:      "Time from receiving an invocation to resolving it",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 14),
		}, []string{"function"}),
		processes: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "processes_running",
			Help:      "Local function processes currently running",
		}, []string{"function"}),
		starts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "process_starts_total",
			Help:      "Local function processes started",
		}, []string{"function"}),
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "pipeline_transitions_total",
			Help:      "Build pipeline phase transitions",
		}, []string{"from", "to"}),
		peers: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "datagram_peers",
			Help:      "Registered datagram peers",
		}),
	}

	m.registry.MustRegister(m.invocations, m.duration, m.processes, m.starts, m.transitions, m.peers)
	return m
}

func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

func (m *Metrics) RecordInvocation(function, status, kind string, d time.Duration) {
	if m == nil {
		return
	}
	m.invocations.WithLabelValues(function, status, kind).Inc()
	m.duration.WithLabelValues(function).Observe(d.Seconds())
}

func (m *Metrics) ProcessStarted(function string) {
	if m == nil {
		return
	}
	m.starts.WithLabelValues(function).Inc()
	m.processes.WithLabelValues(function).Inc()
}

func (m *Metrics) ProcessStopped(function string) {
	if m == nil {
		return
	}
	m.processes.WithLabelValues(function).Dec()
}

func (m *Metrics) PipelineTransition(from, to string) {
	if m == nil {
		return
	}
	m.transitions.WithLabelValues(from, to).Inc()
}

// PeerCounter reports the number of registered datagram peers.
type PeerCounter interface {
	PeerCount() int
}

// Opts holds the configuration options for the metrics API
type Opts struct {
	Metrics        *Metrics
	AuthMiddleware func(http.Handler) http.Handler
	// Peers is sampled on every scrape. Optional.
	Peers PeerCounter
}

// MetricsAPI serves the registry in the Prometheus text format.
type MetricsAPI struct {
	opts   Opts
	Router chi.Router
}

func NewMetricsAPI(opts Opts) *MetricsAPI {
	if opts.Metrics == nil {
		opts.Metrics = New()
	}
	api := &MetricsAPI{
		opts:   opts,
		Router: chi.NewRouter(),
	}
	api.setupRoutes()
	return api
}

func (api *MetricsAPI) setupRoutes() {
	handler := http.HandlerFunc(api.handleMetrics)

	if api.opts.AuthMiddleware != nil {
		handler = api.opts.AuthMiddleware(handler).ServeHTTP
	}

	api.Router.Get("/", handler)
}

func (api *MetricsAPI) handleMetrics(w http.ResponseWriter, r *http.Request) {
	if api.opts.Peers != nil {
		api.opts.Metrics.peers.Set(float64(api.opts.Peers.PeerCount()))
	}

	metricFamilies, err := api.opts.Metrics.registry.Gather()
	if err != nil {
		http.Error(w, "Failed to gather metrics", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", string(expfmt.FmtText))

	encoder := expfmt.NewEncoder(w, expfmt.FmtText)
	for _, mf := range metricFamilies {
		if err := encoder.Encode(mf); err != nil {
			http.Error(w, "Failed to encode metrics", http.StatusInternalServerError)
			return
		}
	}
}
