// Package metrics records diff cache and report counters for the
// node-exporter textfile collector.
package metrics

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Recorder owns a private registry so independent runs and tests never
// share counters.
type Recorder struct {
	Registry *prometheus.Registry

	DiffLookups      *prometheus.CounterVec
	DiffComputations prometheus.Counter
	DiffErrors       prometheus.Counter
	DiffDuration     prometheus.Histogram
	Redactions       prometheus.Counter
	Outcomes         *prometheus.GaugeVec
	ReproducedRatio  prometheus.Gauge
	LastRun          prometheus.Gauge
}

// New creates a recorder with all collectors registered.
func New() *Recorder {
	reg := prometheus.NewRegistry()
	f := promauto.With(reg)
	return &Recorder{
		Registry: reg,
		DiffLookups: f.NewCounterVec(prometheus.CounterOpts{
			Name: "r13y_diff_cache_lookups_total",
			Help: "Diff cache lookups by result (memory, disk, computed).",
		}, []string{"result"}),
		DiffComputations: f.NewCounter(prometheus.CounterOpts{
			Name: "r13y_diff_computations_total",
			Help: "External diff tool invocations.",
		}),
		DiffErrors: f.NewCounter(prometheus.CounterOpts{
			Name: "r13y_diff_errors_total",
			Help: "Diff computations that failed.",
		}),
		DiffDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "r13y_diff_duration_seconds",
			Help:    "Wall time of external diff computations.",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 12), // 100ms to ~7min
		}),
		Redactions: f.NewCounter(prometheus.CounterOpts{
			Name: "r13y_diff_redactions_total",
			Help: "Secrets redacted from diff artifacts.",
		}),
		Outcomes: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "r13y_outcomes",
			Help: "Outcomes considered by the last report, by status.",
		}, []string{"status"}),
		ReproducedRatio: f.NewGauge(prometheus.GaugeOpts{
			Name: "r13y_reproduced_ratio",
			Help: "Reproducible outcomes divided by total considered (0 when none).",
		}),
		LastRun: f.NewGauge(prometheus.GaugeOpts{
			Name: "r13y_last_run_timestamp_seconds",
			Help: "Unix time of the last successful report.",
		}),
	}
}

// ObserveDiff records one external diff computation.
func (r *Recorder) ObserveDiff(elapsed time.Duration, err error) {
	if r == nil {
		return
	}
	r.DiffComputations.Inc()
	r.DiffDuration.Observe(elapsed.Seconds())
	if err != nil {
		r.DiffErrors.Inc()
	}
}

// Lookup records a cache lookup result.
func (r *Recorder) Lookup(result string) {
	if r == nil {
		return
	}
	r.DiffLookups.WithLabelValues(result).Inc()
}

// Redacted records redacted secrets.
func (r *Recorder) Redacted(n int) {
	if r == nil || n == 0 {
		return
	}
	r.Redactions.Add(float64(n))
}

// ObserveReport records the outcome counts of a finished report. counts is
// keyed by status name.
func (r *Recorder) ObserveReport(counts map[string]int, ratio float64, at time.Time) {
	if r == nil {
		return
	}
	for status, n := range counts {
		r.Outcomes.WithLabelValues(status).Set(float64(n))
	}
	r.ReproducedRatio.Set(ratio)
	r.LastRun.Set(float64(at.Unix()))
}

// WriteTextfile writes the registry in text exposition format. The write is
// atomic, as the textfile collector requires.
func (r *Recorder) WriteTextfile(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("creating metrics dir: %w", err)
	}
	if err := prometheus.WriteToTextfile(path, r.Registry); err != nil {
		return fmt.Errorf("writing metrics: %w", err)
	}
	return nil
}
