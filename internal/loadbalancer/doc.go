// Package loadbalancer pairs a backend pool with a selection strategy and
// serialises selections against it.
package loadbalancer
