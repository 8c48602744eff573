package dispatch

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/sourcegraph/conc/panics"

	"github.com/angeloszaimis/dispatch-balancer/internal/backend"
	"github.com/angeloszaimis/dispatch-balancer/internal/metrics"
)

// ErrForwardFailed marks an envelope whose forwarder already answered with a
// 500. It is terminal: nothing is retried or re-selected.
var ErrForwardFailed = errors.New("forward failed")

type Outcome int

const (
	OutcomeSuccess Outcome = iota
	OutcomeTransportError
)

func (o Outcome) String() string {
	if o == OutcomeSuccess {
		return "success"
	}
	return "transport_error"
}

// Err returns ErrForwardFailed for a transport error and nil otherwise.
func (o Outcome) Err() error {
	if o == OutcomeTransportError {
		return ErrForwardFailed
	}
	return nil
}

// Forwarder relays a dispatched envelope to its backend and writes the
// response into the envelope's sink. It is called exactly once per
// dispatched envelope and should call MarkHandedOff as soon as the request
// has been sent, so the FIFO queue can release the next envelope.
type Forwarder interface {
	Forward(b *backend.Backend, env *Envelope) Outcome
}

type ForwarderFunc func(b *backend.Backend, env *Envelope) Outcome

func (f ForwarderFunc) Forward(b *backend.Backend, env *Envelope) Outcome {
	return f(b, env)
}

// Dispatcher accepts an envelope synchronously; the outcome arrives later
// through the envelope.
type Dispatcher interface {
	Submit(env *Envelope)
}

const noHealthyBackendsMessage = "No healthy backends available to handle the request."

// forward runs fwd for a dispatched envelope and completes it. A panic is
// answered with a 500 only while nothing has been written; afterwards the
// envelope is aborted.
func forward(fwd Forwarder, b *backend.Backend, env *Envelope, logger *slog.Logger, collector *metrics.Collector) {
	defer env.complete()
	defer env.MarkHandedOff()

	var (
		outcome Outcome
		pc      panics.Catcher
	)

	pc.Try(func() {
		outcome = fwd.Forward(b, env)
	})

	if recovered := pc.Recovered(); recovered != nil {
		collector.Emit(metrics.MetricEvent{
			Type:    metrics.EventForwardFailed,
			Backend: b.Address(),
		})

		if recovered.Value == http.ErrAbortHandler || env.ResponseStarted() {
			logger.Warn("Response aborted",
				slog.String("backend", b.Address()),
				slog.Uint64("seq", env.AdmissionSeq()),
				slog.Any("panic", recovered.Value))
			env.Abort()
			return
		}

		logger.Error("Forwarder panicked",
			slog.String("backend", b.Address()),
			slog.Uint64("seq", env.AdmissionSeq()),
			slog.Any("panic", recovered.Value))
		http.Error(env.ResponseWriter(), "Error proxying request", http.StatusInternalServerError)
		return
	}

	if err := outcome.Err(); err != nil {
		logger.Warn("Request not delivered",
			slog.String("backend", b.Address()),
			slog.Uint64("seq", env.AdmissionSeq()),
			slog.Any("err", err))
	}
}
