package strategy

import (
	"net/http"

	"github.com/angeloszaimis/dispatch-balancer/internal/backend"
)

// Strategy picks zero or one backend from the healthy snapshot it is given.
// The request is only consulted by strategies that route on request data.
type Strategy interface {
	SelectBackend(backends []*backend.Backend, r *http.Request) *backend.Backend
	Name() string
}

const (
	NameRoundRobin         = "round-robin"
	NameWeightedRoundRobin = "weighted-round-robin"
	NameHeaderAffinity     = "header-affinity"

	// NameFIFO has no Strategy of its own; the dispatch queue drains with
	// RoundRobin.
	NameFIFO = "fifo"
)
