// Package backend holds the static backend pool and the live per-backend
// state: health flag, configured weight and the smooth weighted round robin
// accumulator. Backends are only created through NewPool.
package backend
