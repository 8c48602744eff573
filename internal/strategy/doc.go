// Package strategy defines the backend selection interface and its variants:
//
//   - Round Robin: a single cursor over the healthy backends
//   - Weighted Round Robin: smooth weighted distribution (Nginx algorithm)
//   - Header Affinity: a request header hint pins a backend, otherwise round robin
//
// Strategies only ever see the healthy snapshot the caller passes in and
// return nil when it is empty. The queued FIFO mode reuses RoundRobin.
package strategy
