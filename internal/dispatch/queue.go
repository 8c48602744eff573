package dispatch

import (
	"log/slog"
	"net/http"
	"sync"

	"github.com/angeloszaimis/dispatch-balancer/internal/backend"
	"github.com/angeloszaimis/dispatch-balancer/internal/metrics"
	"github.com/angeloszaimis/dispatch-balancer/internal/strategy"
)

// Queue releases envelopes strictly in arrival order. It is unbounded.
// Forwarding runs off the drain loop, but an envelope is only passed to the
// forwarder once the one dispatched before it has been handed off.
type Queue struct {
	mutex      sync.Mutex
	pending    []*Envelope
	draining   bool
	admitted   uint64
	dispatched uint64

	// handed-off signal of the most recently dispatched envelope
	lastHandOff <-chan struct{}

	pool      *backend.Pool
	selector  *strategy.RoundRobin
	forwarder Forwarder
	logger    *slog.Logger
	collector *metrics.Collector
}

// NewQueue returns the dispatcher used by the fifo strategy. collector may be
// nil.
func NewQueue(pool *backend.Pool, fwd Forwarder, logger *slog.Logger, collector *metrics.Collector) *Queue {
	return &Queue{
		pool:      pool,
		selector:  strategy.NewRoundRobinStrategy(),
		forwarder: fwd,
		logger:    logger.With(slog.String("component", "dispatch_queue")),
		collector: collector,
	}
}

func (q *Queue) Submit(env *Envelope) {
	q.Enqueue(env)
}

// Enqueue appends env at the tail and starts the drain loop if it is idle.
func (q *Queue) Enqueue(env *Envelope) {
	q.mutex.Lock()
	q.admitted++
	env.admit(q.admitted)
	q.pending = append(q.pending, env)
	depth := len(q.pending)

	start := !q.draining
	q.draining = true
	q.mutex.Unlock()

	q.logger.Debug("Request queued",
		slog.Uint64("seq", env.AdmissionSeq()),
		slog.Int("depth", depth))
	q.publishDepth(depth)

	if start {
		go q.drain()
	}
}

// Len returns the number of envelopes waiting for a backend.
func (q *Queue) Len() int {
	q.mutex.Lock()
	defer q.mutex.Unlock()
	return len(q.pending)
}

func (q *Queue) drain() {
	for {
		env, b, prev, depth, ok := q.next()
		if !ok {
			return
		}

		q.publishDepth(depth)

		if b == nil {
			q.logger.Warn("No healthy backends available",
				slog.Uint64("seq", env.AdmissionSeq()))
			env.reject(http.StatusBadGateway, noHealthyBackendsMessage)
			q.collector.Emit(metrics.MetricEvent{Type: metrics.EventRequestRejected})
			continue
		}

		q.collector.Emit(metrics.MetricEvent{
			Type:    metrics.EventBackendSelected,
			Backend: b.Address(),
		})

		q.logger.Debug("Request dequeued",
			slog.Uint64("seq", env.AdmissionSeq()),
			slog.Uint64("dispatch_seq", env.DispatchSeq()),
			slog.String("backend", b.Address()))

		go func() {
			if prev != nil {
				<-prev
			}
			forward(q.forwarder, b, env, q.logger, q.collector)
		}()
	}
}

// next pops the head and selects its backend as one step. prev is the
// hand-off signal the envelope has to wait for before it is forwarded. ok is
// false once the queue is empty, at which point the drain loop is marked idle.
func (q *Queue) next() (env *Envelope, b *backend.Backend, prev <-chan struct{}, depth int, ok bool) {
	q.mutex.Lock()
	defer q.mutex.Unlock()

	if len(q.pending) == 0 {
		q.draining = false
		q.pending = nil
		return nil, nil, nil, 0, false
	}

	env = q.pending[0]
	q.pending[0] = nil
	q.pending = q.pending[1:]

	b = q.selector.SelectBackend(q.pool.SnapshotHealthy(), env.Request())
	if b != nil {
		q.dispatched++
		env.markDispatched(q.dispatched)

		prev = q.lastHandOff
		q.lastHandOff = env.HandedOff()
	}

	return env, b, prev, len(q.pending), true
}

func (q *Queue) publishDepth(depth int) {
	q.collector.Emit(metrics.MetricEvent{
		Type:  metrics.EventQueueDepth,
		Depth: depth,
	})
}
