// Package metrics exposes Prometheus instrumentation for the scanner.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Config configures the recorder.
type Config struct {
	// Namespace is the metrics namespace (default: "scanner").
	Namespace string

	// Buckets are the histogram buckets for scan duration.
	// Default: prometheus.DefBuckets
	Buckets []float64

	// Registry is the Prometheus registry to use.
	// Default: prometheus.DefaultRegisterer
	Registry prometheus.Registerer
}

// Option configures the recorder.
type Option func(*Config)

// WithNamespace sets the metrics namespace.
func WithNamespace(namespace string) Option {
	return func(c *Config) {
		c.Namespace = namespace
	}
}

// WithBuckets sets the histogram buckets.
func WithBuckets(buckets []float64) Option {
	return func(c *Config) {
		c.Buckets = buckets
	}
}

// WithRegistry sets the Prometheus registry.
func WithRegistry(registry prometheus.Registerer) Option {
	return func(c *Config) {
		c.Registry = registry
	}
}

// Recorder holds the scanner metrics. A nil *Recorder records nothing.
type Recorder struct {
	selections   *prometheus.CounterVec
	scans        *prometheus.CounterVec
	scanDuration prometheus.Histogram
	stale        prometheus.Counter
	livePreviews prometheus.Gauge
	copies       *prometheus.CounterVec
}

// New registers the scanner metrics.
func New(opts ...Option) *Recorder {
	cfg := Config{
		Namespace: "scanner",
		Buckets:   prometheus.DefBuckets,
		Registry:  prometheus.DefaultRegisterer,
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	factory := promauto.With(cfg.Registry)

	return &Recorder{
		selections: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: cfg.Namespace,
			Name:      "selections_total",
			Help:      "Candidate files offered, by source and validation result",
		}, []string{"source", "result"}),

		scans: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: cfg.Namespace,
			Name:      "scans_total",
			Help:      "Completed scan requests by outcome",
		}, []string{"outcome"}),

		scanDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: cfg.Namespace,
			Name:      "scan_duration_seconds",
			Help:      "Time from scan request to response",
			Buckets:   cfg.Buckets,
		}),

		stale: factory.NewCounter(prometheus.CounterOpts{
			Namespace: cfg.Namespace,
			Name:      "stale_responses_total",
			Help:      "Scan responses discarded because the selection changed",
		}),

		livePreviews: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: cfg.Namespace,
			Name:      "live_previews",
			Help:      "Preview handles currently live",
		}),

		copies: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: cfg.Namespace,
			Name:      "clipboard_copies_total",
			Help:      "Clipboard copy attempts by result",
		}, []string{"result"}),
	}
}

// Selection counts a candidate. accepted is false for validation rejections.
func (r *Recorder) Selection(source string, accepted bool) {
	if r == nil {
		return
	}
	result := "accepted"
	if !accepted {
		result = "rejected"
	}
	r.selections.WithLabelValues(source, result).Inc()
}

// Scan records a finished scan.
func (r *Recorder) Scan(outcome string, d time.Duration) {
	if r == nil {
		return
	}
	r.scans.WithLabelValues(outcome).Inc()
	r.scanDuration.Observe(d.Seconds())
}

// Stale counts a discarded response.
func (r *Recorder) Stale() {
	if r == nil {
		return
	}
	r.stale.Inc()
}

// LivePreviews sets the live preview gauge.
func (r *Recorder) LivePreviews(n int) {
	if r == nil {
		return
	}
	r.livePreviews.Set(float64(n))
}

// Copy counts a clipboard write.
func (r *Recorder) Copy(err error) {
	if r == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	r.copies.WithLabelValues(result).Inc()
}
