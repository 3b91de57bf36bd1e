package kustoingest

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics records the outcome of ingestion runs. A nil *Metrics records
// nothing. Each Metrics owns its registry, so runs do not share state.
type Metrics struct {
	registry *prometheus.Registry

	// WatermarkAttempts counts watermark queries issued.
	WatermarkAttempts prometheus.Counter
	// WatermarkLatency tracks the time spent resolving the watermark, retries included.
	WatermarkLatency prometheus.Histogram
	// Watermark is the resolved watermark as unix seconds, 0 when absent.
	Watermark prometheus.Gauge
	// Rows counts rows by filter stage: read, not_after_watermark, missing, kept.
	Rows *prometheus.CounterVec
	// PushedBytes counts bytes sent to the ingestion endpoint.
	PushedBytes prometheus.Counter
	// PushLatency tracks bulk push latency.
	PushLatency prometheus.Histogram
	// Errors counts failures by stage and error kind.
	Errors *prometheus.CounterVec
	// LastSuccess is the unix time of the last successful run.
	LastSuccess prometheus.Gauge
}

func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)
	return &Metrics{
		registry: reg,
		WatermarkAttempts: factory.NewCounter(prometheus.CounterOpts{
			Name: "kusto_ingest_watermark_attempts_total",
			Help: "Total number of watermark queries issued",
		}),
		WatermarkLatency: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "kusto_ingest_watermark_latency_seconds",
			Help:    "Time spent resolving the watermark in seconds",
			Buckets: []float64{0.05, 0.1, 0.5, 1, 5, 10, 30, 60},
		}),
		Watermark: factory.NewGauge(prometheus.GaugeOpts{
			Name: "kusto_ingest_watermark_timestamp_seconds",
			Help: "Resolved watermark as unix seconds",
		}),
		Rows: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "kusto_ingest_rows_total",
			Help: "Total number of rows by filter stage",
		}, []string{"stage"}),
		PushedBytes: factory.NewCounter(prometheus.CounterOpts{
			Name: "kusto_ingest_pushed_bytes_total",
			Help: "Total number of bytes sent to the ingestion endpoint",
		}),
		PushLatency: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "kusto_ingest_push_latency_seconds",
			Help:    "Latency of bulk pushes in seconds",
			Buckets: []float64{0.05, 0.1, 0.5, 1, 5, 10, 30, 60, 300},
		}),
		Errors: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "kusto_ingest_errors_total",
			Help: "Total number of errors by stage and kind",
		}, []string{"stage", "kind"}),
		LastSuccess: factory.NewGauge(prometheus.GaugeOpts{
			Name: "kusto_ingest_last_success_timestamp_seconds",
			Help: "Unix time of the last successful run",
		}),
	}
}

func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// WriteToTextfile writes the metrics in the text exposition format, for
// pickup by the node exporter textfile collector.
func (m *Metrics) WriteToTextfile(path string) error {
	if m == nil || path == "" {
		return nil
	}
	return prometheus.WriteToTextfile(path, m.registry)
}

func (m *Metrics) observeWatermark(attempts uint, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.WatermarkAttempts.Add(float64(attempts))
	m.WatermarkLatency.Observe(elapsed.Seconds())
}

func (m *Metrics) observeFilter(wm Watermark, stats FilterStats) {
	if m == nil {
		return
	}
	if wm.Valid {
		m.Watermark.Set(float64(wm.Time.Unix()))
	}
	m.Rows.WithLabelValues("read").Add(float64(stats.Read))
	m.Rows.WithLabelValues("not_after_watermark").Add(float64(stats.NotAfterWatermark))
	m.Rows.WithLabelValues("missing").Add(float64(stats.Missing))
	m.Rows.WithLabelValues("kept").Add(float64(stats.Kept))
}

func (m *Metrics) observePush(bytes int64, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.PushedBytes.Add(float64(bytes))
	m.PushLatency.Observe(elapsed.Seconds())
}

func (m *Metrics) observeError(stage string, err error) {
	if m == nil || err == nil {
		return
	}
	m.Errors.WithLabelValues(stage, Classify(err).String()).Inc()
}

func (m *Metrics) observeSuccess(at time.Time) {
	if m == nil {
		return
	}
	m.LastSuccess.Set(float64(at.Unix()))
}
