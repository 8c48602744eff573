package dispatch

import (
	"net/http"
	"sync"
	"sync/atomic"
)

type State int32

const (
	StatePending State = iota
	StateDispatched
	StateRejected
)

func (s State) String() string {
	switch s {
	case StatePending:
		return "pending"
	case StateDispatched:
		return "dispatched"
	case StateRejected:
		return "rejected"
	default:
		return "unknown"
	}
}

// Envelope is one accepted request and its single-use response sink.
type Envelope struct {
	request *http.Request
	writer  *sink

	admissionSeq uint64
	dispatchSeq  atomic.Uint64
	state        atomic.Int32

	aborted atomic.Bool

	handedOff     chan struct{}
	handedOffOnce sync.Once

	done     chan struct{}
	doneOnce sync.Once
}

func NewEnvelope(w http.ResponseWriter, r *http.Request) *Envelope {
	return &Envelope{
		request:   r,
		writer:    &sink{ResponseWriter: w},
		handedOff: make(chan struct{}),
		done:      make(chan struct{}),
	}
}

func (e *Envelope) Request() *http.Request {
	return e.request
}

// ResponseWriter is the sink the forwarder writes to. It must not be used
// after Done is closed.
func (e *Envelope) ResponseWriter() http.ResponseWriter {
	return e.writer
}

// ResponseStarted reports whether anything has been written to the sink.
func (e *Envelope) ResponseStarted() bool {
	return e.writer.started.Load()
}

// Abort marks the response as broken after it has started. The accepting
// handler then drops the client connection instead of finishing the response.
func (e *Envelope) Abort() {
	e.aborted.Store(true)
}

func (e *Envelope) Aborted() bool {
	return e.aborted.Load()
}

// MarkHandedOff tells the dispatcher that the request has left for its
// backend. Queued envelopes behind this one may start forwarding from then
// on. Returning from Forward counts as handed off.
func (e *Envelope) MarkHandedOff() {
	e.handedOffOnce.Do(func() {
		close(e.handedOff)
	})
}

// HandedOff is closed once MarkHandedOff has been called.
func (e *Envelope) HandedOff() <-chan struct{} {
	return e.handedOff
}

// AdmissionSeq is the position the dispatcher accepted the envelope at,
// starting from 1.
func (e *Envelope) AdmissionSeq() uint64 {
	return e.admissionSeq
}

// DispatchSeq is the position the envelope was handed to a backend at, or 0
// if it never was.
func (e *Envelope) DispatchSeq() uint64 {
	return e.dispatchSeq.Load()
}

func (e *Envelope) State() State {
	return State(e.state.Load())
}

// Done is closed once the outcome has been written.
func (e *Envelope) Done() <-chan struct{} {
	return e.done
}

func (e *Envelope) admit(seq uint64) {
	e.admissionSeq = seq
}

func (e *Envelope) markDispatched(seq uint64) bool {
	if !e.state.CompareAndSwap(int32(StatePending), int32(StateDispatched)) {
		return false
	}

	e.dispatchSeq.Store(seq)
	return true
}

// reject writes the error response and completes the envelope. It is a no-op
// unless the envelope is still pending.
func (e *Envelope) reject(code int, message string) bool {
	if !e.state.CompareAndSwap(int32(StatePending), int32(StateRejected)) {
		return false
	}

	http.Error(e.writer, message, code)
	e.complete()
	return true
}

func (e *Envelope) complete() {
	e.doneOnce.Do(func() {
		close(e.done)
	})
}

// sink records whether the response has started so a failure can never
// write a second one.
type sink struct {
	http.ResponseWriter
	started atomic.Bool
}

func (s *sink) WriteHeader(code int) {
	s.started.Store(true)
	s.ResponseWriter.WriteHeader(code)
}

func (s *sink) Write(p []byte) (int, error) {
	s.started.Store(true)
	return s.ResponseWriter.Write(p)
}

// Unwrap lets http.ResponseController reach Flush and Hijack.
func (s *sink) Unwrap() http.ResponseWriter {
	return s.ResponseWriter
}
