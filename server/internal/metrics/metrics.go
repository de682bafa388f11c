package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/missionkpi/missionkpi/pkg/breach"
	"github.com/missionkpi/missionkpi/pkg/kpi"
)

// Namespace prefixes every metric name.
const Namespace = "missionkpi"

// Prometheus metric labels
const (
	labelResult  = "result"
	labelKind    = "kind"
	labelDataset = "dataset"
)

// Ingest results.
const (
	ResultOK       = "ok"
	ResultEmpty    = "empty"
	ResultParseErr = "parse_error"
)

// Metrics owns a private registry so tests can build as many as they like.
type Metrics struct {
	reg *prometheus.Registry

	ingests         *prometheus.CounterVec
	recordsIngested prometheus.Counter
	ingestDuration  prometheus.Histogram
	breaches        *prometheus.CounterVec
	missions        *prometheus.GaugeVec
	avgResponse     *prometheus.GaugeVec
	lateRate        *prometheus.GaugeVec
}

// New creates the service metrics, registered on a fresh registry together
// with the Go and process collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	f := promauto.With(reg)

	return &Metrics{
		reg: reg,
		ingests: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "ingests_total",
			Help:      "Dataset uploads processed, labeled by result.",
		}, []string{labelResult}),
		recordsIngested: f.NewCounter(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "records_ingested_total",
			Help:      "Mission records aggregated across all uploads.",
		}),
		ingestDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: Namespace,
			Name:      "ingest_duration_seconds",
			Help:      "Time to parse, aggregate and evaluate one upload.",
			Buckets:   prometheus.ExponentialBuckets(0.0005, 2, 14), // 0.5ms to ~4s
		}),
		breaches: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "breaches_total",
			Help:      "Threshold breaches detected, labeled by kind.",
		}, []string{labelKind}),
		missions: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: Namespace,
			Name:      "snapshot_missions",
			Help:      "Missions in the latest snapshot of each dataset.",
		}, []string{labelDataset}),
		avgResponse: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: Namespace,
			Name:      "snapshot_avg_response_minutes",
			Help:      "Average response time in the latest snapshot of each dataset.",
		}, []string{labelDataset}),
		lateRate: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: Namespace,
			Name:      "snapshot_late_rate_percent",
			Help:      "Late mission rate in the latest snapshot of each dataset.",
		}, []string{labelDataset}),
	}
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry { return m.reg }

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{Registry: m.reg})
}

// IngestDone records one upload.
func (m *Metrics) IngestDone(result string, records int, took time.Duration) {
	m.ingests.WithLabelValues(result).Inc()
	m.recordsIngested.Add(float64(records))
	m.ingestDuration.Observe(took.Seconds())
}

// SnapshotStored updates the per-dataset gauges.
func (m *Metrics) SnapshotStored(dataset string, s *kpi.Snapshot) {
	m.missions.WithLabelValues(dataset).Set(float64(s.N))
	m.avgResponse.WithLabelValues(dataset).Set(s.AvgResponse)
	m.lateRate.WithLabelValues(dataset).Set(s.LateRate)
}

// DatasetEvicted drops the gauges of a dataset that left the store.
func (m *Metrics) DatasetEvicted(dataset string) {
	m.missions.DeleteLabelValues(dataset)
	m.avgResponse.DeleteLabelValues(dataset)
	m.lateRate.DeleteLabelValues(dataset)
}

// BreachDetected implements alerts.Recorder.
func (m *Metrics) BreachDetected(kind breach.Kind) {
	m.breaches.WithLabelValues(string(kind)).Inc()
}
