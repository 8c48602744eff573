package backend

import (
	"net/url"
	"sync"
	"sync/atomic"
)

// Backend represents one upstream server with its health status, static
// weight and the accumulator used by smooth weighted round robin.
type Backend struct {
	url       *url.URL
	weight    int
	mutex     sync.Mutex
	isHealthy bool

	currentWeight atomic.Int64
}

// URL returns the backend server URL.
func (b *Backend) URL() *url.URL {
	return b.url
}

// Address returns the backend URL as a string, used as its identity in logs
// and metrics.
func (b *Backend) Address() string {
	return b.url.String()
}

// Weight returns the configured weight. It is always at least 1.
func (b *Backend) Weight() int {
	return b.weight
}

// IsHealthy returns true if the most recent probe found the backend healthy.
func (b *Backend) IsHealthy() bool {
	b.mutex.Lock()
	defer b.mutex.Unlock()
	return b.isHealthy
}

// SetHealthy updates the backend's health status.
// Returns true if the status changed, false if it was already in that state.
func (b *Backend) SetHealthy(healthy bool) (changed bool) {
	b.mutex.Lock()
	defer b.mutex.Unlock()

	if b.isHealthy == healthy {
		return false
	}

	b.isHealthy = healthy
	return true
}

// CurrentWeight returns the smooth weighted round robin accumulator.
func (b *Backend) CurrentWeight() int {
	return int(b.currentWeight.Load())
}

// AddCurrentWeight shifts the accumulator by delta and returns the new value.
// Only the weighted round robin selector calls this, while holding the
// balancer lock.
func (b *Backend) AddCurrentWeight(delta int) int {
	return int(b.currentWeight.Add(int64(delta)))
}

func newBackend(u *url.URL, weight int) *Backend {
	if weight < 1 {
		weight = 1
	}

	return &Backend{
		url:       u,
		weight:    weight,
		isHealthy: true,
	}
}
