// Package dispatch turns accepted requests into exactly one outcome each.
//
// Every request is wrapped in an Envelope that moves from Pending to either
// Dispatched or Rejected, never both. Two dispatchers exist:
//
//   - Direct selects a backend on the accepting goroutine through a
//     LoadBalancer and hands the envelope to the Forwarder.
//   - Queue appends envelopes to an unbounded FIFO; a single drain loop
//     pops them in arrival order and selects with round robin.
//
// When nothing healthy is available the envelope is rejected with a 502.
// Forwarding runs on its own goroutine; callers wait on Envelope.Done.
package dispatch
