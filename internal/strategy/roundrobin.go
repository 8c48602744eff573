package strategy

import (
	"net/http"
	"sync"

	"github.com/angeloszaimis/dispatch-balancer/internal/backend"
)

// RoundRobin keeps a single cursor over whatever healthy slice it is handed.
// The cursor is reduced modulo the length seen at each call, so a change in
// the healthy set may skip or repeat a backend once.
type RoundRobin struct {
	mutex  sync.Mutex
	cursor int
}

// NewRoundRobinStrategy returns a round robin starting at the first backend.
func NewRoundRobinStrategy() *RoundRobin {
	return &RoundRobin{}
}

// SelectBackend returns the backend under the cursor and advances it, or nil
// when backends is empty.
func (rr *RoundRobin) SelectBackend(backends []*backend.Backend, _ *http.Request) *backend.Backend {
	if len(backends) == 0 {
		return nil
	}

	rr.mutex.Lock()
	defer rr.mutex.Unlock()

	n := len(backends)
	chosen := backends[rr.cursor%n]
	rr.cursor = (rr.cursor + 1) % n

	return chosen
}

// Cursor returns the position the next selection starts from.
func (rr *RoundRobin) Cursor() int {
	rr.mutex.Lock()
	defer rr.mutex.Unlock()
	return rr.cursor
}

// Name returns "round-robin".
func (rr *RoundRobin) Name() string {
	return NameRoundRobin
}
