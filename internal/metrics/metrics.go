// Package metrics exposes Prometheus instrumentation for the pipeline.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "opportunity_finder"

// Signal stages counted by SignalsTotal.
const (
	StageCollected  = "collected"
	StageDuplicate  = "duplicate"
	StageFiltered   = "filtered"
	StageClassified = "classified"
	StageRejected   = "rejected"
	StageStaged     = "staged"
	StageExpired    = "expired"
)

// Metrics holds every collector. All methods are no-ops on a nil receiver.
type Metrics struct {
	registry *prometheus.Registry

	ScansTotal          *prometheus.CounterVec
	ScanDurationSeconds prometheus.Histogram
	SignalsTotal        *prometheus.CounterVec
	SourceItemsTotal    *prometheus.CounterVec
	ModelCallsTotal     *prometheus.CounterVec
	ModelLatencySeconds *prometheus.HistogramVec
	PromotionsTotal     *prometheus.CounterVec
	PendingSignals      prometheus.Gauge
	OpportunitiesScored prometheus.Counter
}

// New creates a Metrics registered on its own registry, together with Go and process collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	factory := promauto.With(reg)
	m := &Metrics{registry: reg}

	m.ScansTotal = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "scans_total",
		Help:      "Scans finished, by terminal status",
	}, []string{"status"})

	m.ScanDurationSeconds = factory.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "scan_duration_seconds",
		Help:      "Wall-clock duration of scans",
		Buckets:   prometheus.ExponentialBuckets(5, 2, 10),
	})

	m.SignalsTotal = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "signals_total",
		Help:      "Signals seen at each pipeline stage",
	}, []string{"stage"})

	m.SourceItemsTotal = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "source_items_total",
		Help:      "Items collected per source adapter, by outcome",
	}, []string{"source", "status"})

	m.ModelCallsTotal = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "model_calls_total",
		Help:      "Language-model calls, by operation and outcome",
	}, []string{"operation", "outcome"})

	m.ModelLatencySeconds = factory.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "model_latency_seconds",
		Help:      "Language-model call latency",
		Buckets:   prometheus.ExponentialBuckets(0.25, 2, 8),
	}, []string{"operation"})

	m.PromotionsTotal = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "promotions_total",
		Help:      "Staged signals promoted, by kind (matched or clustered)",
	}, []string{"kind"})

	m.PendingSignals = factory.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "pending_signals",
		Help:      "Signals waiting in staging after the last scan",
	})

	m.OpportunitiesScored = factory.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "opportunities_scored_total",
		Help:      "Opportunities scored",
	})

	return m
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

func (m *Metrics) ObserveScan(status string, d time.Duration) {
	if m == nil {
		return
	}
	m.ScansTotal.WithLabelValues(status).Inc()
	m.ScanDurationSeconds.Observe(d.Seconds())
}

func (m *Metrics) AddSignals(stage string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.SignalsTotal.WithLabelValues(stage).Add(float64(n))
}

func (m *Metrics) ObserveSource(source, status string, items int) {
	if m == nil {
		return
	}
	m.SourceItemsTotal.WithLabelValues(source, status).Add(float64(items))
}

func (m *Metrics) ObserveModelCall(operation, outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.ModelCallsTotal.WithLabelValues(operation, outcome).Inc()
	m.ModelLatencySeconds.WithLabelValues(operation).Observe(d.Seconds())
}

func (m *Metrics) AddPromotions(kind string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.PromotionsTotal.WithLabelValues(kind).Add(float64(n))
}

func (m *Metrics) SetPending(n int) {
	if m == nil {
		return
	}
	m.PendingSignals.Set(float64(n))
}

func (m *Metrics) AddScored(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.OpportunitiesScored.Add(float64(n))
}
