// Package metrics exposes Prometheus collectors for the discovery engine.
package metrics

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	citationsTotal     *prometheus.CounterVec
	contentsCreated    *prometheus.CounterVec
	heroesTotal        *prometheus.CounterVec
	feedItemsTotal     *prometheus.CounterVec
	auditRepairsTotal  *prometheus.CounterVec
	pageStateGauge     *prometheus.GaugeVec
	citationStateGauge *prometheus.GaugeVec
	heroStateGauge     *prometheus.GaugeVec
	feedStateGauge     *prometheus.GaugeVec
	contentCountGauge  *prometheus.GaugeVec
	processingWorkers  prometheus.Gauge

	once sync.Once
)

// Init initializes the Prometheus collectors. Safe to call repeatedly;
// the observe helpers call it themselves so recording never races setup.
func Init() {
	once.Do(func() {
		citationsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "discovery_citations_total",
				Help: "Citations processed, labeled by topic and outcome.",
			},
			[]string{"topic", "outcome"},
		)

		contentsCreated = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "discovery_contents_created_total",
				Help: "New content records persisted, labeled by topic.",
			},
			[]string{"topic"},
		)

		heroesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "discovery_heroes_total",
				Help: "Hero images resolved, labeled by source.",
			},
			[]string{"source"},
		)

		feedItemsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "discovery_feed_items_total",
				Help: "Feed queue items by delivery outcome.",
			},
			[]string{"topic", "outcome"},
		)

		auditRepairsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "discovery_audit_repairs_total",
				Help: "Repairs applied by the self-audit job, labeled by pass.",
			},
			[]string{"pass"},
		)

		pageStateGauge = promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "discovery_pages",
				Help: "Monitored pages by status.",
			},
			[]string{"topic", "status"},
		)

		citationStateGauge = promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "discovery_citations",
				Help: "Citations by derived state.",
			},
			[]string{"topic", "state"},
		)

		heroStateGauge = promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "discovery_heroes",
				Help: "Hero records by status.",
			},
			[]string{"topic", "status"},
		)

		feedStateGauge = promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "discovery_feed_items",
				Help: "Feed queue items by status.",
			},
			[]string{"topic", "status"},
		)

		contentCountGauge = promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "discovery_contents",
				Help: "Persisted content records.",
			},
			[]string{"topic"},
		)

		processingWorkers = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "discovery_processing_workers",
				Help: "Processing workers currently running.",
			},
		)
	})
}

// Handler returns an http.Handler exposing the metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveCitation counts one processed citation by outcome
// (saved, denied, verify_failed, scan_denied, error).
func ObserveCitation(topic, outcome string) {
	Init()
	citationsTotal.WithLabelValues(topic, outcome).Inc()
}

// ObserveContentCreated counts a newly persisted content record.
func ObserveContentCreated(topic string) {
	Init()
	contentsCreated.WithLabelValues(topic).Inc()
}

// ObserveHero counts a resolved hero image by source.
func ObserveHero(source string) {
	Init()
	heroesTotal.WithLabelValues(source).Inc()
}

// ObserveFeedItems counts delivered or failed feed items.
func ObserveFeedItems(topic, outcome string, n int) {
	Init()
	feedItemsTotal.WithLabelValues(topic, outcome).Add(float64(n))
}

// ObserveAuditRepairs counts repairs applied by one audit pass.
func ObserveAuditRepairs(pass string, n int) {
	Init()
	auditRepairsTotal.WithLabelValues(pass).Add(float64(n))
}

// IncProcessingWorkers tracks a processing worker starting.
func IncProcessingWorkers() {
	Init()
	processingWorkers.Inc()
}

// DecProcessingWorkers tracks a processing worker exiting.
func DecProcessingWorkers() {
	Init()
	processingWorkers.Dec()
}

// SetSnapshot publishes the per-topic state gauges from store counts.
func SetSnapshot(topic string, pages, citations, heroes, feed map[string]int, contents int) {
	Init()
	for status, n := range pages {
		pageStateGauge.WithLabelValues(topic, status).Set(float64(n))
	}
	for state, n := range citations {
		citationStateGauge.WithLabelValues(topic, state).Set(float64(n))
	}
	for status, n := range heroes {
		heroStateGauge.WithLabelValues(topic, status).Set(float64(n))
	}
	for status, n := range feed {
		feedStateGauge.WithLabelValues(topic, status).Set(float64(n))
	}
	contentCountGauge.WithLabelValues(topic).Set(float64(contents))
}
