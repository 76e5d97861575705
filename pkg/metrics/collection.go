package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type prometheusMetrics struct {
	queueSize         *prometheus.GaugeVec
	matchesCreated    *prometheus.CounterVec
	waitAtMatch       *prometheus.HistogramVec
	telemetryFailures *prometheus.CounterVec
	domainBusy        *prometheus.CounterVec
}

func setupPrometheusMetrics(registry *prometheus.Registry) *prometheusMetrics {
	factory := promauto.With(registry)

	return &prometheusMetrics{
		queueSize: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "matchmaker_queue_size",
			Help: "Number of players currently waiting in the match queue",
		}, []string{"domain"}),
		matchesCreated: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "matchmaker_matches_created_total",
			Help: "Number of matches created",
		}, []string{"domain", "game_mode"}),
		waitAtMatch: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "matchmaker_wait_at_match_seconds",
			Help:    "How long the waiting player had been queued when a match was made",
			Buckets: prometheus.ExponentialBuckets(0.5, 2, 8),
		}, []string{"domain"}),
		telemetryFailures: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "matchmaker_telemetry_failures_total",
			Help: "Number of telemetry notifications that failed",
		}, []string{"kind"}),
		domainBusy: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "matchmaker_domain_busy_total",
			Help: "Number of operations rejected because the domain lock was held elsewhere",
		}, []string{"domain"}),
	}
}

func (m *prometheusMetrics) SetQueueSize(domain string, size int) {
	m.queueSize.WithLabelValues(domain).Set(float64(size))
}

func (m *prometheusMetrics) IncMatchesCreated(domain, gameMode string) {
	m.matchesCreated.WithLabelValues(domain, gameMode).Inc()
}

func (m *prometheusMetrics) ObserveWaitAtMatch(domain string, wait time.Duration) {
	m.waitAtMatch.WithLabelValues(domain).Observe(wait.Seconds())
}

func (m *prometheusMetrics) IncTelemetryFailure(kind string) {
	m.telemetryFailures.WithLabelValues(kind).Inc()
}

func (m *prometheusMetrics) IncDomainBusy(domain string) {
	m.domainBusy.WithLabelValues(domain).Inc()
}
