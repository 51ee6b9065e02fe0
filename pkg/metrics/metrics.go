package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var HistogramBuckets = []float64{
	// --- Fast responses (0 - 500ms) ---
	25, 50, 75, 100, 150, 200, 300, 400, 500,

	// --- Medium responses around 700ms (500ms - 2s) ---
	750, 1000, 1250, 1500, 1750, 2000,

	// --- Slow responses (2s - 15s) ---
	2500, 3000, 4000, 5000, 7500, 10000, 15000,

	// --- Extended range: covers 60000ms+ (15s - 75s) ---
	20000,  // 20s
	30000,  // 30s
	45000,  // 45s
	60000,  // 60s
	75000,  // 75s
	90000,  // 90s
	120000, // 120s
}

// Metric is a definition for the name, description, type, ID, and
// prometheus.Collector type (i.e. CounterVec, Summary, etc) of each metric
type Metric struct {
	MetricCollector prometheus.Collector
	ID              string
	Name            string
	Description     string
	Type            string
	Args            []string
}

// NewMetric associates prometheus.Collector based on Metric.Type
func NewMetric(m *Metric, subsystem string) prometheus.Collector {
	var metric prometheus.Collector
	switch m.Type {
	case "counter_vec":
		metric = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Subsystem: subsystem,
				Name:      m.Name,
				Help:      m.Description,
			},
			m.Args,
		)
	case "counter":
		metric = prometheus.NewCounter(
			prometheus.CounterOpts{
				Subsystem: subsystem,
				Name:      m.Name,
				Help:      m.Description,
			},
		)
	case "gauge_vec":
		metric = prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Subsystem: subsystem,
				Name:      m.Name,
				Help:      m.Description,
			},
			m.Args,
		)
	case "gauge":
		metric = prometheus.NewGauge(
			prometheus.GaugeOpts{
				Subsystem: subsystem,
				Name:      m.Name,
				Help:      m.Description,
			},
		)
	case "histogram_vec":
		metric = prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Subsystem: subsystem,
				Name:      m.Name,
				Help:      m.Description,
				Buckets:   HistogramBuckets,
			},
			m.Args,
		)
	case "histogram":
		metric = prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Subsystem: subsystem,
				Name:      m.Name,
				Help:      m.Description,
				Buckets:   HistogramBuckets,
			},
		)
	case "summary_vec":
		metric = prometheus.NewSummaryVec(
			prometheus.SummaryOpts{
				Subsystem: subsystem,
				Name:      m.Name,
				Help:      m.Description,
			},
			m.Args,
		)
	case "summary":
		metric = prometheus.NewSummary(
			prometheus.SummaryOpts{
				Subsystem: subsystem,
				Name:      m.Name,
				Help:      m.Description,
			},
		)
	}
	return metric
}

var MetricsReconcileEvents = &Metric{
	ID:          "reconcileEvents",
	Name:        "reconcile_events_total",
	Description: "Reconciled billing events, partitioned by provider, kind and outcome.",
	Type:        "counter_vec",
	Args:        []string{"provider", "kind", "outcome"},
}

var MetricsVerificationDuration = &Metric{
	ID:          "verifyDur",
	Name:        "verification_duration_ms",
	Description: "Provider verification latency in milliseconds.",
	Type:        "histogram_vec",
	Args:        []string{"provider", "result"},
}

var MetricsWebhookDeliveries = &Metric{
	ID:          "webhookDeliveries",
	Name:        "webhook_deliveries_total",
	Description: "Inbound webhook deliveries, partitioned by provider and disposition.",
	Type:        "counter_vec",
	Args:        []string{"provider", "disposition"},
}

var MetricsSweepProcessed = &Metric{
	ID:          "sweepProcessed",
	Name:        "sweep_processed_total",
	Description: "Subscriptions processed by periodic sweeps.",
	Type:        "counter_vec",
	Args:        []string{"sweep", "result"},
}

const businessSubsystem = "entitler"

var (
	businessOnce      sync.Once
	reconcileEvents   *prometheus.CounterVec
	verificationDur   *prometheus.HistogramVec
	webhookDeliveries *prometheus.CounterVec
	sweepProcessed    *prometheus.CounterVec
)

func registerBusiness() {
	businessOnce.Do(func() {
		reconcileEvents = mustRegister(MetricsReconcileEvents).(*prometheus.CounterVec)
		verificationDur = mustRegister(MetricsVerificationDuration).(*prometheus.HistogramVec)
		webhookDeliveries = mustRegister(MetricsWebhookDeliveries).(*prometheus.CounterVec)
		sweepProcessed = mustRegister(MetricsSweepProcessed).(*prometheus.CounterVec)
	})
}

func mustRegister(m *Metric) prometheus.Collector {
	c := NewMetric(m, businessSubsystem)
	if err := prometheus.Register(c); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			c = are.ExistingCollector
		} else {
			panic(err)
		}
	}
	m.MetricCollector = c
	return c
}

func ObserveReconcile(provider, kind, outcome string) {
	registerBusiness()
	reconcileEvents.WithLabelValues(provider, kind, outcome).Inc()
}

func ObserveVerification(provider, result string, start time.Time) {
	registerBusiness()
	verificationDur.WithLabelValues(provider, result).Observe(MillisecondsSince(start))
}

func ObserveWebhook(provider, disposition string) {
	registerBusiness()
	webhookDeliveries.WithLabelValues(provider, disposition).Inc()
}

func ObserveSweep(sweep, result string, n int) {
	registerBusiness()
	sweepProcessed.WithLabelValues(sweep, result).Add(float64(n))
}

const (
	RefererKey = "X-Referer"
)
