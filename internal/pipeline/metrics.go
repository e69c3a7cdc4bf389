package pipeline

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics are the counters of a run. They are kept in their own registry
// and written as a node-exporter textfile at the end of a batch job.
type Metrics struct {
	reg        *prometheus.Registry
	samples    *prometheus.CounterVec
	histograms prometheus.Counter
	skipped    prometheus.Counter
	duration   prometheus.Histogram
}

func NewMetrics() *Metrics {
	m := &Metrics{
		reg: prometheus.NewRegistry(),
		samples: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "vcbana_samples_total",
				Help: "Number of processed samples by result",
			},
			[]string{"result"},
		),
		histograms: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "vcbana_histograms_written_total",
			Help: "Number of histograms written to output files",
		}),
		skipped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "vcbana_nan_fills_skipped_total",
			Help: "Number of NaN values not filled into histograms",
		}),
		duration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "vcbana_sample_duration_seconds",
			Help:    "Time spent processing one sample",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 12),
		}),
	}
	m.reg.MustRegister(m.samples, m.histograms, m.skipped, m.duration)
	return m
}

func (m *Metrics) sample(ok bool, seconds float64) {
	if m == nil {
		return
	}
	result := "ok"
	if !ok {
		result = "failed"
	}
	m.samples.WithLabelValues(result).Inc()
	m.duration.Observe(seconds)
}

func (m *Metrics) written(n int, skipped int64) {
	if m == nil {
		return
	}
	m.histograms.Add(float64(n))
	m.skipped.Add(float64(skipped))
}

// Registry exposes the metrics for gathering.
func (m *Metrics) Registry() *prometheus.Registry { return m.reg }

// WriteTextfile writes the metrics in the Prometheus text format.
func (m *Metrics) WriteTextfile(path string) error {
	return prometheus.WriteToTextfile(path, m.reg)
}
