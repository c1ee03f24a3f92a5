package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "clicko_discovery"

// Metrics holds the Prometheus counters, histograms, and gauges for agent discovery.
type Metrics struct {
	ResolveTotal     *prometheus.CounterVec // labels: status={ready,degraded}
	ResolveDuration  prometheus.Histogram
	ResolveSupersede prometheus.Counter
	PhaseTransitions *prometheus.CounterVec // labels: phase
	CandidatesServed prometheus.Histogram
	ResultCommitted  prometheus.Gauge

	// Directory metrics.
	DirectoryRequests *prometheus.CounterVec   // labels: mode, outcome={success,error,cancelled}
	DirectoryDuration *prometheus.HistogramVec // labels: mode
	FallbackServed    prometheus.Counter

	// Location metrics.
	LocationOutcomes *prometheus.CounterVec // labels: outcome={device,saved,manual,denied,timeout,error,none}

	// Geocoding metrics.
	GeocodeRequests    *prometheus.CounterVec   // labels: method={forward,reverse}, outcome={success,error,empty}
	GeocodeCache       *prometheus.CounterVec   // labels: method={forward,reverse}, result={hit,miss}
	GeocodeAPIDuration *prometheus.HistogramVec // labels: method={forward,reverse}
	GeocodeEnabled     prometheus.Gauge
}

// NewMetrics creates and registers all discovery metrics with the default Prometheus registry.
func NewMetrics() *Metrics {
	m := newMetrics()
	prometheus.MustRegister(
		m.ResolveTotal,
		m.ResolveDuration,
		m.ResolveSupersede,
		m.PhaseTransitions,
		m.CandidatesServed,
		m.ResultCommitted,
		m.DirectoryRequests,
		m.DirectoryDuration,
		m.FallbackServed,
		m.LocationOutcomes,
		m.GeocodeRequests,
		m.GeocodeCache,
		m.GeocodeAPIDuration,
		m.GeocodeEnabled,
	)
	return m
}

// NewMetricsForTesting creates unregistered Metrics to avoid
// "already registered" panics when called from multiple tests.
func NewMetricsForTesting() *Metrics {
	return newMetrics()
}

func newMetrics() *Metrics {
	return &Metrics{
		ResolveTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "resolve_total",
			Help:      "Committed discovery results by status.",
		}, []string{"status"}),
		ResolveDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "resolve_duration_seconds",
			Help:      "Duration of a complete locate-fetch-rank cycle.",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 15},
		}),
		ResolveSupersede: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "resolve_superseded_total",
			Help:      "Discovery results discarded because a newer request won.",
		}),
		PhaseTransitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "phase_transitions_total",
			Help:      "Discovery phase entries by phase.",
		}, []string{"phase"}),
		CandidatesServed: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "candidates_served",
			Help:      "Number of ranked candidates per committed result.",
			Buckets:   []float64{0, 1, 3, 5, 10, 20, 50, 100},
		}),
		ResultCommitted: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "result_committed",
			Help:      "1 once any discovery result has been committed, 0 before.",
		}),
		DirectoryRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "directory_requests_total",
			Help:      "Agent directory requests by query mode and outcome.",
		}, []string{"mode", "outcome"}),
		DirectoryDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "directory_duration_seconds",
			Help:      "Agent directory request duration in seconds.",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 15},
		}, []string{"mode"}),
		FallbackServed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "fallback_roster_served_total",
			Help:      "Times the synthetic fallback roster replaced directory data.",
		}),
		LocationOutcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "location_outcomes_total",
			Help:      "Location used per discovery request, by outcome.",
		}, []string{"outcome"}),
		GeocodeRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "geocode_requests_total",
			Help:      "Geocoding API requests by method and outcome.",
		}, []string{"method", "outcome"}),
		GeocodeCache: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "geocode_cache_total",
			Help:      "Geocoding cache lookups by method and result.",
		}, []string{"method", "result"}),
		GeocodeAPIDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "geocode_api_duration_seconds",
			Help:      "Mapbox API request duration in seconds.",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
		}, []string{"method"}),
		GeocodeEnabled: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "geocode_enabled",
			Help:      "1 when place lookups use a geocoder, 0 otherwise.",
		}),
	}
}
