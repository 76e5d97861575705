package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// QueueMetrics 매칭 큐 관측 지표
type QueueMetrics interface {
	SetQueueSize(domain string, size int)
	IncMatchesCreated(domain, gameMode string)
	ObserveWaitAtMatch(domain string, wait time.Duration)
	IncTelemetryFailure(kind string)
	IncDomainBusy(domain string)
}

// NewMetrics registry에 Prometheus 지표 등록
func NewMetrics(registry *prometheus.Registry) QueueMetrics {
	return setupPrometheusMetrics(registry)
}

// Noop 아무것도 기록하지 않는 구현 (테스트용)
type Noop struct{}

func (Noop) SetQueueSize(string, int)                 {}
func (Noop) IncMatchesCreated(string, string)         {}
func (Noop) ObserveWaitAtMatch(string, time.Duration) {}
func (Noop) IncTelemetryFailure(string)               {}
func (Noop) IncDomainBusy(string)                     {}
