package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"os/signal"
	"syscall"

	"github.com/angeloszaimis/dispatch-balancer/config"
	"github.com/angeloszaimis/dispatch-balancer/internal/backend"
	"github.com/angeloszaimis/dispatch-balancer/internal/dispatch"
	"github.com/angeloszaimis/dispatch-balancer/internal/handler"
	"github.com/angeloszaimis/dispatch-balancer/internal/healthcheck"
	"github.com/angeloszaimis/dispatch-balancer/internal/httpserver"
	"github.com/angeloszaimis/dispatch-balancer/internal/loadbalancer"
	"github.com/angeloszaimis/dispatch-balancer/internal/metrics"
	"github.com/angeloszaimis/dispatch-balancer/internal/proxy"
	"github.com/angeloszaimis/dispatch-balancer/internal/ratelimit"
	"github.com/angeloszaimis/dispatch-balancer/internal/strategy"
	"github.com/angeloszaimis/dispatch-balancer/pkg/logger"
)

var (
	ErrUnknownStrategy = errors.New("unknown strategy")
	ErrUnknownBackend  = errors.New("affinity route references unknown backend")
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", slog.Any("err", err))
		os.Exit(1)
	}

	log := logger.New(logger.Options{
		Level:       cfg.Logging.Level,
		Environment: cfg.Server.Environment,
		AddSource:   true,
	})

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	pool, err := initializeBackends(cfg, log)
	if err != nil {
		log.Error("Failed to initialize backends", slog.Any("err", err))
		os.Exit(1)
	}

	collector := metrics.NewCollector(cfg.Metrics.BufferSize, log.With(slog.String("component", "metrics")))
	collector.Start(ctx)

	monitor := healthcheck.NewMonitor(pool,
		healthcheck.NewHTTPProber(cfg.HealthCheck.TimeoutDuration(), cfg.HealthCheck.Path),
		cfg.HealthCheck.IntervalDuration(),
		log,
		collector)
	go monitor.Run(ctx)

	forwarder := proxy.NewForwarder(pool, log, collector)

	dispatcher, err := createDispatcher(log, cfg, pool, forwarder, collector)
	if err != nil {
		log.Error("Failed to create dispatcher",
			slog.String("strategy", cfg.Strategy.Type),
			slog.Any("err", err))
		os.Exit(1)
	}

	loadBalancerHandler := handler.NewLoadBalancerHandler(log, dispatcher, collector)

	router := setupRouter(loadBalancerHandler, collector, cfg.Strategy.Type, newRateLimiter(cfg, log))

	srv, err := httpserver.New(cfg.Server.Address, router, httpserver.Timeouts{
		Read:  cfg.Server.ReadTimeoutDuration(),
		Write: cfg.Server.WriteTimeoutDuration(),
		Idle:  cfg.Server.IdleTimeoutDuration(),
	})
	if err != nil {
		log.Error("Failed to create server", slog.Any("err", err))
		os.Exit(1)
	}

	srvErrCh := make(chan error, 1)

	go func() {
		srvErrCh <- srv.Start()
	}()

	log.Info("Load balancer started",
		slog.String("address", cfg.Server.Address),
		slog.String("strategy", cfg.Strategy.Type),
		slog.Int("backends", pool.Len()),
		slog.Bool("rate_limit", cfg.RateLimit.Enabled))

	select {
	case <-ctx.Done():
		log.Info("Shutting down gracefully...")
		if err := srv.Shutdown(context.Background()); err != nil {
			log.Error("Error during shutdown", slog.Any("err", err))
		}
	case err := <-srvErrCh:
		if err != nil {
			log.Error("Error starting load balancer", slog.Any("err", err))
			os.Exit(1)
		}
	}
}

func initializeBackends(cfg *config.Config, log *slog.Logger) (*backend.Pool, error) {
	specs := make([]backend.Spec, 0, len(cfg.Backends))

	for _, bc := range cfg.Backends {
		u, err := url.Parse(bc.URL)
		if err != nil {
			return nil, fmt.Errorf("parse backend url %q: %w", bc.URL, err)
		}

		specs = append(specs, backend.Spec{URL: u, Weight: bc.Weight})
	}

	pool := backend.NewPool(specs)
	if pool.Len() == 0 {
		log.Warn("No backends configured, every request will be rejected")
	}

	return pool, nil
}

func createStrategy(log *slog.Logger, cfg *config.Config, pool *backend.Pool) (strategy.Strategy, error) {
	switch cfg.Strategy.Type {
	case config.StrategyRoundRobin:
		return strategy.NewRoundRobinStrategy(), nil
	case config.StrategyWeightedRoundRobin:
		return strategy.NewWeightedRoundRobinStrategy(), nil
	case config.StrategyHeaderAffinity:
		var routes []strategy.AffinityRoute
		for _, rc := range cfg.AffinityRoutes() {
			b, ok := pool.Lookup(rc.Backend)
			if !ok {
				return nil, fmt.Errorf("%w: %s", ErrUnknownBackend, rc.Backend)
			}
			routes = append(routes, strategy.AffinityRoute{Hint: rc.Hint, Backend: b})

			log.Info("Affinity route bound",
				slog.String("hint", rc.Hint),
				slog.String("backend", b.Address()))
		}
		return strategy.NewHeaderAffinityStrategy(cfg.Strategy.Affinity.Header, routes), nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownStrategy, cfg.Strategy.Type)
	}
}

// newRateLimiter returns nil when rate limiting is disabled. Clients are keyed
// on the peer address unless X-Forwarded-For is explicitly trusted.
func newRateLimiter(cfg *config.Config, log *slog.Logger) *ratelimit.Limiter {
	if !cfg.RateLimit.Enabled {
		return nil
	}

	var keyFunc ratelimit.KeyFunc
	if cfg.RateLimit.TrustForwardedFor {
		keyFunc = handler.ClientIP
	}

	return ratelimit.New(cfg.RateLimit.Requests, cfg.RateLimit.WindowDuration(), keyFunc, log)
}

// createDispatcher returns the FIFO queue for the fifo strategy and a direct
// dispatcher around a load balancer for every other one.
func createDispatcher(
	log *slog.Logger,
	cfg *config.Config,
	pool *backend.Pool,
	forwarder dispatch.Forwarder,
	collector *metrics.Collector,
) (dispatch.Dispatcher, error) {
	if cfg.Strategy.Type == config.StrategyFIFO {
		return dispatch.NewQueue(pool, forwarder, log, collector), nil
	}

	strat, err := createStrategy(log, cfg, pool)
	if err != nil {
		return nil, err
	}

	lb := loadbalancer.NewLoadBalancer(pool, strat)
	return dispatch.NewDirect(lb, forwarder, log, collector), nil
}
