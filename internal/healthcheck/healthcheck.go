package healthcheck

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/sourcegraph/conc"
	"github.com/sourcegraph/conc/panics"

	"github.com/angeloszaimis/dispatch-balancer/internal/backend"
	"github.com/angeloszaimis/dispatch-balancer/internal/metrics"
)

const DefaultInterval = 10 * time.Second

var (
	ErrUnhealthyStatus = errors.New("unhealthy status code")
	ErrProbePanicked   = errors.New("probe panicked")
)

// Monitor periodically probes every backend in a pool and updates its health
// flag. It never touches anything else.
type Monitor struct {
	pool      *backend.Pool
	prober    Prober
	interval  time.Duration
	logger    *slog.Logger
	collector *metrics.Collector
}

// NewMonitor creates a monitor. A non-positive interval falls back to
// DefaultInterval. collector may be nil.
func NewMonitor(
	pool *backend.Pool,
	prober Prober,
	interval time.Duration,
	logger *slog.Logger,
	collector *metrics.Collector,
) *Monitor {
	if interval <= 0 {
		interval = DefaultInterval
	}

	return &Monitor{
		pool:      pool,
		prober:    prober,
		interval:  interval,
		logger:    logger.With(slog.String("component", "healthcheck")),
		collector: collector,
	}
}

// Run probes the pool once per interval until ctx is cancelled. The first
// round starts one interval after Run is called; until then backends keep
// their initial healthy state.
func (m *Monitor) Run(ctx context.Context) {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	m.logger.Info("Health check started",
		slog.Duration("interval", m.interval),
		slog.Int("backends", m.pool.Len()))

	for {
		select {
		case <-ctx.Done():
			m.logger.Info("Health check stopped")
			return

		case <-ticker.C:
			m.Tick(ctx)
		}
	}
}

// Tick probes every backend concurrently and returns once all probes have
// finished. Each backend is updated as soon as its own probe completes.
func (m *Monitor) Tick(ctx context.Context) {
	var wg conc.WaitGroup

	for _, b := range m.pool.All() {
		wg.Go(func() {
			m.check(ctx, b)
		})
	}

	wg.Wait()
}

func (m *Monitor) check(ctx context.Context, b *backend.Backend) {
	var (
		status int
		err    error
		pc     panics.Catcher
	)

	pc.Try(func() {
		status, err = m.prober.Probe(ctx, b.URL())
	})

	if recovered := pc.Recovered(); recovered != nil {
		err = fmt.Errorf("%w: %v", ErrProbePanicked, recovered.Value)
	} else if err == nil && (status < 200 || status >= 300) {
		err = fmt.Errorf("%w: %d", ErrUnhealthyStatus, status)
	}

	// a shutdown mid-probe says nothing about the backend
	if ctx.Err() != nil {
		return
	}

	healthy := err == nil
	changed := b.SetHealthy(healthy)

	if !changed {
		m.logger.Debug("Health check performed",
			slog.String("server", b.Address()),
			slog.Bool("healthy", healthy))
		return
	}

	m.collector.Emit(metrics.MetricEvent{
		Type:    metrics.EventHealthChanged,
		Backend: b.Address(),
		Healthy: healthy,
	})

	if healthy {
		m.logger.Info("Server is back up",
			slog.String("server", b.Address()),
			slog.Int("status", status))
	} else {
		m.logger.Warn("Server is down",
			slog.String("server", b.Address()),
			slog.Any("err", err))
	}
}
