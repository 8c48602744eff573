package loadbalancer

import (
	"errors"
	"net/http"
	"sync"

	"github.com/angeloszaimis/dispatch-balancer/internal/backend"
	"github.com/angeloszaimis/dispatch-balancer/internal/strategy"
)

// ErrNoHealthyBackends is returned when a selection finds nothing to route to.
// Callers answer the request with a 502.
var ErrNoHealthyBackends = errors.New("no healthy backends")

// LoadBalancer binds one strategy to one pool. Every selection takes a fresh
// healthy snapshot and runs the strategy under a single lock, so cursor and
// accumulator updates for the pool are serialised.
type LoadBalancer struct {
	pool     *backend.Pool
	strategy strategy.Strategy
	mutex    sync.Mutex
}

func NewLoadBalancer(pool *backend.Pool, strategy strategy.Strategy) *LoadBalancer {
	return &LoadBalancer{
		pool:     pool,
		strategy: strategy,
	}
}

// Select picks a backend for r, or returns ErrNoHealthyBackends.
func (lb *LoadBalancer) Select(r *http.Request) (*backend.Backend, error) {
	lb.mutex.Lock()
	defer lb.mutex.Unlock()

	healthy := lb.pool.SnapshotHealthy()
	if len(healthy) == 0 {
		return nil, ErrNoHealthyBackends
	}

	chosen := lb.strategy.SelectBackend(healthy, r)
	if chosen == nil {
		return nil, ErrNoHealthyBackends
	}

	return chosen, nil
}

func (lb *LoadBalancer) Pool() *backend.Pool {
	return lb.pool
}

func (lb *LoadBalancer) LoadBalancerStrategy() strategy.Strategy {
	return lb.strategy
}
