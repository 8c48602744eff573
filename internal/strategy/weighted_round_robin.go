package strategy

import (
	"net/http"
	"sync"

	"github.com/angeloszaimis/dispatch-balancer/internal/backend"
)

// weightedRoundRobinStrategy implements smooth weighted round-robin load balancing.
// Uses the Nginx algorithm: each backend accumulates its weight per selection cycle,
// the highest current value is chosen, then reduced by the sum of all weights.
//
// Accumulators live on the backends themselves. Only the backends passed in are
// touched, so an unhealthy backend keeps its value until it is healthy again.
type weightedRoundRobinStrategy struct {
	// a LoadBalancer already serializes selection; this covers callers that
	// use the strategy on its own
	mutex sync.Mutex
}

// NewWeightedRoundRobinStrategy creates a weighted round-robin strategy instance.
func NewWeightedRoundRobinStrategy() Strategy {
	return &weightedRoundRobinStrategy{}
}

// SelectBackend picks the backend with the highest accumulated weight.
// Ties go to the first backend in pool order.
func (w *weightedRoundRobinStrategy) SelectBackend(backends []*backend.Backend, _ *http.Request) *backend.Backend {
	if len(backends) == 0 {
		return nil
	}

	w.mutex.Lock()
	defer w.mutex.Unlock()

	totalWeight := 0
	best := 0
	var chosen *backend.Backend

	for _, b := range backends {
		current := b.AddCurrentWeight(b.Weight())
		totalWeight += b.Weight()

		// strict > keeps the earliest backend on ties
		if chosen == nil || current > best {
			chosen = b
			best = current
		}
	}

	chosen.AddCurrentWeight(-totalWeight)
	return chosen
}

func (w *weightedRoundRobinStrategy) Name() string {
	return NameWeightedRoundRobin
}
