package obs

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	domainOnce sync.Once

	// PromotionApplyTotal counts promotion applications by action kind and status.
	PromotionApplyTotal *prometheus.CounterVec
	// TaxRefreshTotal counts tax refresh outcomes by provider.
	TaxRefreshTotal *prometheus.CounterVec
	// DocumentSubmitTotal counts document submissions by action and result.
	DocumentSubmitTotal *prometheus.CounterVec
	// CollaboratorLatency records outbound collaborator call latency in milliseconds.
	CollaboratorLatency *prometheus.HistogramVec
	// SequenceOverflowTotal counts item sequence ids assigned past two digits.
	SequenceOverflowTotal prometheus.Counter
)

// MustRegisterDomainMetrics initialises and registers domain-specific Prometheus collectors.
func MustRegisterDomainMetrics(namespace string, reg prometheus.Registerer) {
	domainOnce.Do(func() {
		if reg == nil {
			reg = prometheus.DefaultRegisterer
		}
		PromotionApplyTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "promotion_apply_total",
			Help:      "Count of promotion applications by action kind and status.",
		}, []string{"action_kind", "status"})
		TaxRefreshTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tax_refresh_total",
			Help:      "Count of tax refresh outcomes.",
		}, []string{"provider", "result"})
		DocumentSubmitTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "document_submit_total",
			Help:      "Count of document submissions by action and outcome.",
		}, []string{"action", "result"})
		CollaboratorLatency = prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "collaborator_request_duration_ms",
			Help:      "Latency of collaborator requests in milliseconds.",
			Buckets:   []float64{10, 25, 50, 100, 250, 500, 1000, 2500, 5000},
		}, []string{"collaborator", "result"})
		SequenceOverflowTotal = prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sequence_overflow_total",
			Help:      "Number of item sequence ids that exceeded two digits.",
		})

		RegisterOrReuse(reg, &PromotionApplyTotal)
		RegisterOrReuse(reg, &TaxRefreshTotal)
		RegisterOrReuse(reg, &DocumentSubmitTotal)
		RegisterOrReuse(reg, &CollaboratorLatency)
		RegisterOrReuse(reg, &SequenceOverflowTotal)
	})
}
