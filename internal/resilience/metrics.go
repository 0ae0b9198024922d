package resilience

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/noah-isme/backend-erp/internal/obs"
)

// Breaker metrics are labelled by collaborator target.
var (
	BreakerState = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "breaker_state",
		Help: "Current collaborator breaker state: 0=closed,1=open,2=half-open",
	}, []string{"target"})
	BreakerTransitions = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "breaker_transition_total",
		Help: "Count of collaborator breaker state transitions",
	}, []string{"target", "from", "to"})
	BreakerOpenedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "breaker_open_total",
		Help: "Number of times a collaborator breaker opened",
	}, []string{"target"})
)

func init() {
	obs.RegisterOrReuse(prometheus.DefaultRegisterer, &BreakerState)
	obs.RegisterOrReuse(prometheus.DefaultRegisterer, &BreakerTransitions)
	obs.RegisterOrReuse(prometheus.DefaultRegisterer, &BreakerOpenedTotal)
}
