package dispatch

import (
	"log/slog"
	"net/http"
	"sync/atomic"

	"github.com/angeloszaimis/dispatch-balancer/internal/loadbalancer"
	"github.com/angeloszaimis/dispatch-balancer/internal/metrics"
)

// Direct selects a backend at submission time.
type Direct struct {
	balancer  *loadbalancer.LoadBalancer
	forwarder Forwarder
	logger    *slog.Logger
	collector *metrics.Collector

	admitted   atomic.Uint64
	dispatched atomic.Uint64
}

// NewDirect returns a dispatcher for the round-robin, weighted and header
// affinity strategies. collector may be nil.
func NewDirect(lb *loadbalancer.LoadBalancer, fwd Forwarder, logger *slog.Logger, collector *metrics.Collector) *Direct {
	return &Direct{
		balancer:  lb,
		forwarder: fwd,
		logger:    logger.With(slog.String("component", "dispatch")),
		collector: collector,
	}
}

func (d *Direct) Submit(env *Envelope) {
	env.admit(d.admitted.Add(1))

	b, err := d.balancer.Select(env.Request())
	if err != nil {
		d.logger.Warn("No healthy backends available",
			slog.Uint64("seq", env.AdmissionSeq()),
			slog.Any("err", err))
		env.reject(http.StatusBadGateway, noHealthyBackendsMessage)
		d.collector.Emit(metrics.MetricEvent{Type: metrics.EventRequestRejected})
		return
	}

	env.markDispatched(d.dispatched.Add(1))
	d.collector.Emit(metrics.MetricEvent{
		Type:    metrics.EventBackendSelected,
		Backend: b.Address(),
	})

	d.logger.Debug("Backend selected",
		slog.Uint64("seq", env.AdmissionSeq()),
		slog.String("backend", b.Address()))

	go forward(d.forwarder, b, env, d.logger, d.collector)
}
