package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPrometheusMetrics(t *testing.T) {
	registry := prometheus.NewRegistry()
	m := setupPrometheusMetrics(registry)

	m.SetQueueSize("global", 3)
	m.SetQueueSize("global", 2)
	m.IncMatchesCreated("global", "blitz")
	m.IncMatchesCreated("global", "blitz")
	m.ObserveWaitAtMatch("global", 4*time.Second)
	m.IncTelemetryFailure("game_created")
	m.IncDomainBusy("eu")

	assert.Equal(t, 2.0, testutil.ToFloat64(m.queueSize.WithLabelValues("global")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.matchesCreated.WithLabelValues("global", "blitz")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.telemetryFailures.WithLabelValues("game_created")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.domainBusy.WithLabelValues("eu")))

	count, err := testutil.GatherAndCount(registry, "matchmaker_wait_at_match_seconds")
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestNewMetrics_RegistersOnce(t *testing.T) {
	registry := prometheus.NewRegistry()
	_ = NewMetrics(registry)

	assert.Panics(t, func() { NewMetrics(registry) })
}

func TestNoop(t *testing.T) {
	var m QueueMetrics = Noop{}
	assert.NotPanics(t, func() {
		m.SetQueueSize("global", 1)
		m.IncMatchesCreated("global", "rapid")
		m.ObserveWaitAtMatch("global", time.Second)
		m.IncTelemetryFailure("x")
		m.IncDomainBusy("global")
	})
}
