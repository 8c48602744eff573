package proxy

import (
	"log/slog"
	"net/http"
	"net/http/httptrace"
	"net/http/httputil"
	"time"

	"github.com/angeloszaimis/dispatch-balancer/internal/backend"
	"github.com/angeloszaimis/dispatch-balancer/internal/dispatch"
	"github.com/angeloszaimis/dispatch-balancer/internal/metrics"
)

const BackendHeader = "X-Backend-Server"

// Forwarder relays envelopes through a reverse proxy built once per backend.
type Forwarder struct {
	proxies   map[*backend.Backend]*httputil.ReverseProxy
	logger    *slog.Logger
	collector *metrics.Collector
}

// NewForwarder builds a reverse proxy for every backend in the pool.
// collector may be nil.
func NewForwarder(pool *backend.Pool, logger *slog.Logger, collector *metrics.Collector) *Forwarder {
	f := &Forwarder{
		proxies:   make(map[*backend.Backend]*httputil.ReverseProxy, pool.Len()),
		logger:    logger.With(slog.String("component", "proxy")),
		collector: collector,
	}

	for _, b := range pool.All() {
		f.proxies[b] = f.newReverseProxy(b)
	}

	return f
}

// Forward writes the backend's response, or a 500 when the backend cannot be
// reached, into the envelope. The response is only inspected for logging and
// metrics.
func (f *Forwarder) Forward(b *backend.Backend, env *dispatch.Envelope) dispatch.Outcome {
	rp, ok := f.proxies[b]
	if !ok {
		rp = f.newReverseProxy(b)
	}

	r := env.Request()
	r = r.WithContext(httptrace.WithClientTrace(r.Context(), &httptrace.ClientTrace{
		WroteRequest: func(httptrace.WroteRequestInfo) {
			env.MarkHandedOff()
		},
	}))

	rec := &responseRecorder{ResponseWriter: env.ResponseWriter(), statusCode: http.StatusOK}
	rec.Header().Set(BackendHeader, b.Address())

	f.logger.Info("Forwarding to backend",
		slog.Uint64("seq", env.AdmissionSeq()),
		slog.String("backend", b.Address()),
		slog.String("method", r.Method),
		slog.String("path", r.URL.Path))

	start := time.Now()
	aborted := serve(rp, rec, r)
	duration := time.Since(start)

	if aborted || rec.err != nil {
		f.collector.Emit(metrics.MetricEvent{
			Type:     metrics.EventForwardFailed,
			Backend:  b.Address(),
			Duration: duration,
		})

		if aborted || rec.broken {
			f.logger.Warn("Backend response broke off",
				slog.Uint64("seq", env.AdmissionSeq()),
				slog.String("backend", b.Address()),
				slog.Int64("bytes", rec.bytes))
			env.Abort()
		}
		return dispatch.OutcomeTransportError
	}

	f.logger.Info("Response from backend",
		slog.Uint64("seq", env.AdmissionSeq()),
		slog.String("backend", b.Address()),
		slog.Int("status", rec.statusCode),
		slog.Int64("bytes", rec.bytes),
		slog.Duration("duration", duration))

	f.collector.Emit(metrics.MetricEvent{
		Type:       metrics.EventResponseCompleted,
		Backend:    b.Address(),
		Duration:   duration,
		StatusCode: rec.statusCode,
	})

	return dispatch.OutcomeSuccess
}

func (f *Forwarder) newReverseProxy(b *backend.Backend) *httputil.ReverseProxy {
	rp := httputil.NewSingleHostReverseProxy(b.URL())

	rp.ErrorHandler = func(w http.ResponseWriter, r *http.Request, err error) {
		f.logger.Error("Error proxying request",
			slog.String("backend", b.Address()),
			slog.String("path", r.URL.Path),
			slog.Any("err", err))

		rec, ok := w.(*responseRecorder)
		if ok {
			rec.err = err
			if rec.wroteHeader {
				rec.broken = true
				return
			}
		}

		http.Error(w, "Error proxying request", http.StatusInternalServerError)
	}

	return rp
}

// serve runs the reverse proxy and reports whether it aborted the response
// midway. Any other panic is passed on.
func serve(rp *httputil.ReverseProxy, w http.ResponseWriter, r *http.Request) (aborted bool) {
	defer func() {
		if v := recover(); v != nil {
			if v != http.ErrAbortHandler {
				panic(v)
			}
			aborted = true
		}
	}()

	rp.ServeHTTP(w, r)
	return false
}

type responseRecorder struct {
	http.ResponseWriter
	statusCode  int
	bytes       int64
	wroteHeader bool
	err         error

	// the error arrived after the response had started
	broken bool
}

func (r *responseRecorder) WriteHeader(code int) {
	if !r.wroteHeader {
		r.statusCode = code
		r.wroteHeader = true
	}
	r.ResponseWriter.WriteHeader(code)
}

func (r *responseRecorder) Write(p []byte) (int, error) {
	r.wroteHeader = true
	n, err := r.ResponseWriter.Write(p)
	r.bytes += int64(n)
	return n, err
}

// Unwrap lets http.ResponseController reach Flush on the client connection.
func (r *responseRecorder) Unwrap() http.ResponseWriter {
	return r.ResponseWriter
}
