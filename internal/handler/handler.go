package handler

import (
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/angeloszaimis/dispatch-balancer/internal/dispatch"
	"github.com/angeloszaimis/dispatch-balancer/internal/metrics"
)

type LoadBalancerHandler struct {
	logger           *slog.Logger
	dispatcher       dispatch.Dispatcher
	metricsCollector *metrics.Collector
}

func (lb *LoadBalancerHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	clientIP := ClientIP(r)

	lb.logger.Info("Received request",
		slog.String("from", clientIP),
		slog.String("method", r.Method),
		slog.String("path", r.URL.Path),
		slog.String("proto", r.Proto),
		slog.String("host", r.Host),
		slog.String("user_agent", r.UserAgent()))

	lb.metricsCollector.Emit(metrics.MetricEvent{Type: metrics.EventRequestReceived})

	start := time.Now()
	env := dispatch.NewEnvelope(w, r)
	lb.dispatcher.Submit(env)

	// the sink belongs to the dispatcher until the outcome is written
	<-env.Done()

	if env.Aborted() {
		lb.logger.Warn("Aborting client connection",
			slog.String("client", clientIP),
			slog.Uint64("seq", env.AdmissionSeq()))
		// net/http drops the connection without logging a stack trace
		panic(http.ErrAbortHandler)
	}

	lb.logger.Debug("Request finished",
		slog.String("client", clientIP),
		slog.Uint64("seq", env.AdmissionSeq()),
		slog.String("state", env.State().String()),
		slog.Duration("duration", time.Since(start)))
}

// ClientIP returns the first X-Forwarded-For entry, or the remote host when
// the header is absent.
func ClientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		return strings.TrimSpace(strings.Split(xff, ",")[0])
	}

	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func NewLoadBalancerHandler(logger *slog.Logger, dispatcher dispatch.Dispatcher, collector *metrics.Collector) *LoadBalancerHandler {
	return &LoadBalancerHandler{
		logger:           logger.With(slog.String("component", "handler")),
		dispatcher:       dispatcher,
		metricsCollector: collector,
	}
}
