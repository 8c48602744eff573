package main

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/angeloszaimis/dispatch-balancer/internal/metrics"
	"github.com/angeloszaimis/dispatch-balancer/internal/ratelimit"
)

// setupRouter serves /metrics locally and sends every other path through the
// balancer. limiter may be nil.
func setupRouter(loadBalancerHandler http.Handler, metricsCollector *metrics.Collector, strategy string, limiter *ratelimit.Limiter) *mux.Router {
	router := mux.NewRouter()

	router.HandleFunc("/metrics", metricsCollector.Handler(strategy)).Methods(http.MethodGet)

	balanced := loadBalancerHandler
	if limiter != nil {
		balanced = limiter.Middleware(balanced)
	}
	router.PathPrefix("/").Handler(balanced)

	return router
}
