// Package ratelimit limits how many requests a single client may send through
// the balancer within a window. Clients are told to back off with a 429.
package ratelimit
