// Package monitoring exports discovery metrics to Prometheus and raises
// webhook alerts when a cycle looks unhealthy.
package monitoring

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/sells-group/listing-radar/internal/discovery"
)

const namespace = "listing_radar"

// Metrics holds the engine's collectors. A nil *Metrics is a no-op.
type Metrics struct {
	registry *prometheus.Registry

	cycles        *prometheus.CounterVec
	cycleDuration *prometheus.HistogramVec
	pages         *prometheus.CounterVec
	candidates    *prometheus.CounterVec
	safetyHits    *prometheus.CounterVec
	priceDrops    prometheus.Counter
	quickChecks   *prometheus.CounterVec
	state         *prometheus.GaugeVec
	breakerState  prometheus.Gauge
}

// NewMetrics creates the collectors on a private registry that also carries
// the Go runtime and process collectors.
func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		cycles: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cycles_total",
			Help:      "Full scrape cycles by trigger and result.",
		}, []string{"trigger", "result"}),
		cycleDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "cycle_duration_seconds",
			Help:      "Wall time of full scrape cycles.",
			Buckets:   []float64{5, 15, 30, 60, 120, 300, 600, 1200},
		}, []string{"trigger"}),
		pages: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "pages_total",
			Help:      "Search result pages by category and status.",
		}, []string{"category", "status"}),
		candidates: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "candidates_total",
			Help:      "Classified candidates by category and outcome.",
		}, []string{"category", "outcome"}),
		safetyHits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "safety_limit_hits_total",
			Help:      "Categories that stopped at the page safety limit.",
		}, []string{"category"}),
		priceDrops: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "price_drops_total",
			Help:      "Price drops detected on re-scraped listings.",
		}),
		quickChecks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "quick_checks_total",
			Help:      "Quick checks by result.",
		}, []string{"result"}),
		state: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "scheduler_state",
			Help:      "1 for the scheduler's current state, 0 otherwise.",
		}, []string{"state"}),
		breakerState: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "extractor_breaker_state",
			Help:      "Extraction service breaker state (0 closed, 1 open, 2 half-open).",
		}),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.cycles,
		m.cycleDuration,
		m.pages,
		m.candidates,
		m.safetyHits,
		m.priceDrops,
		m.quickChecks,
		m.state,
		m.breakerState,
	)
	return m
}

// Registry exposes the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// ObserveCycle records a finished or aborted full scrape.
func (m *Metrics) ObserveCycle(r discovery.CycleReport) {
	if m == nil {
		return
	}
	result := "ok"
	if r.Aborted {
		result = "aborted"
	}
	trigger := string(r.Trigger)
	m.cycles.WithLabelValues(trigger, result).Inc()
	m.cycleDuration.WithLabelValues(trigger).Observe(r.Duration().Seconds())

	for _, c := range r.Categories {
		m.pages.WithLabelValues(c.Category, "fetched").Add(float64(c.PagesFetched))
		m.pages.WithLabelValues(c.Category, "failed").Add(float64(c.PagesFailed))
		for outcome, n := range c.Outcomes {
			m.candidates.WithLabelValues(c.Category, string(outcome)).Add(float64(n))
		}
		if c.HitSafetyLimit {
			m.safetyHits.WithLabelValues(c.Category).Inc()
		}
		m.priceDrops.Add(float64(c.PriceDrops))
	}
}

// QuickCheck counts one quick check result.
func (m *Metrics) QuickCheck(result string) {
	if m == nil {
		return
	}
	m.quickChecks.WithLabelValues(result).Inc()
}

// SetState marks current as the scheduler's state among all.
func (m *Metrics) SetState(current string, all ...string) {
	if m == nil {
		return
	}
	for _, s := range all {
		m.state.WithLabelValues(s).Set(0)
	}
	m.state.WithLabelValues(current).Set(1)
}

// SetBreakerState records the extraction breaker state.
func (m *Metrics) SetBreakerState(state float64) {
	if m == nil {
		return
	}
	m.breakerState.Set(state)
}
