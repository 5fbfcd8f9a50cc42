package telemetry

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/kvlat/kvlat/internal/bench"
	"github.com/kvlat/kvlat/internal/latency"
)

var (
	Registry = prometheus.NewRegistry()

	OpsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "kvlat",
			Name:      "ops_total",
			Help:      "Total number of benchmark operations.",
		},
		[]string{"backend", "phase", "op", "status"},
	)

	OpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "kvlat",
			Name:      "op_duration_seconds",
			Help:      "Latency of individual put/get operations.",
			// 500ns .. ~1s; in-memory gets sit at the bottom, synced disk
			// writes in the milliseconds.
			Buckets: prometheus.ExponentialBuckets(0.0000005, 2, 22),
		},
		[]string{"backend", "phase", "op"},
	)

	// ---- Process / build info ----
	buildInfo = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "kvlat",
			Name:      "build_info",
			Help:      "Build info (constant 1, labeled by version and git_sha).",
		},
		[]string{"version", "git_sha"},
	)

	startTime = time.Now()
	uptime    = prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Namespace: "kvlat",
			Name:      "uptime_seconds",
			Help:      "Process uptime in seconds.",
		},
		func() float64 { return time.Since(startTime).Seconds() },
	)
)

func init() {
	Registry.MustRegister(OpsTotal, OpDuration, buildInfo, uptime)
}

// MetricsHandler exposes /metrics. Mount it with mux.Handle("/metrics", telemetry.MetricsHandler()).
func MetricsHandler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
}

// SetBuildInfo should be called once at startup, e.g. with ldflags-provided values.
func SetBuildInfo(version, gitSHA string) {
	buildInfo.WithLabelValues(version, gitSHA).Set(1)
}

// Recorder feeds driver samples into the collectors above under a fixed
// backend label. It implements bench.Observer.
type Recorder struct {
	backend string
}

// NewRecorder creates a recorder labelled with the backend name.
func NewRecorder(backend string) *Recorder {
	return &Recorder{backend: backend}
}

func (r *Recorder) OnSample(phase bench.Phase, s latency.Sample) {
	OpsTotal.WithLabelValues(r.backend, string(phase), string(s.Op), "ok").Inc()
	OpDuration.WithLabelValues(r.backend, string(phase), string(s.Op)).Observe(s.Duration.Seconds())
}

func (r *Recorder) OnFailure(phase bench.Phase, op latency.OpKind, err error) {
	OpsTotal.WithLabelValues(r.backend, string(phase), string(op), "error").Inc()
}
