package strategy

import (
	"net/http"
	"strings"

	"github.com/angeloszaimis/dispatch-balancer/internal/backend"
)

// DefaultAffinityHeader is the request header inspected when none is configured.
const DefaultAffinityHeader = "X-Api-Type"

// AffinityRoute binds one hint value to the backend that serves it.
type AffinityRoute struct {
	Hint    string
	Backend *backend.Backend
}

// HeaderAffinity routes requests carrying a known hint straight to the bound
// backend and sends everything else through round robin.
type HeaderAffinity struct {
	header   string
	routes   map[string]*backend.Backend
	fallback *RoundRobin
}

// NewHeaderAffinityStrategy builds the hint table once. Hints are matched
// case-insensitively; routes with an empty hint or no backend are ignored and
// the first route wins when a hint repeats.
func NewHeaderAffinityStrategy(header string, routes []AffinityRoute) *HeaderAffinity {
	if header == "" {
		header = DefaultAffinityHeader
	}

	table := make(map[string]*backend.Backend, len(routes))
	for _, route := range routes {
		hint := normalizeHint(route.Hint)
		if hint == "" || route.Backend == nil {
			continue
		}
		if _, exists := table[hint]; !exists {
			table[hint] = route.Backend
		}
	}

	return &HeaderAffinity{
		header:   header,
		routes:   table,
		fallback: NewRoundRobinStrategy(),
	}
}

// SelectBackend returns the backend bound to the request's hint when it is
// among backends, and the next round robin pick otherwise.
func (h *HeaderAffinity) SelectBackend(backends []*backend.Backend, r *http.Request) *backend.Backend {
	if len(backends) == 0 {
		return nil
	}

	if pinned, ok := h.resolve(r); ok && contains(backends, pinned) {
		return pinned
	}

	return h.fallback.SelectBackend(backends, r)
}

// Header returns the name of the header carrying the hint.
func (h *HeaderAffinity) Header() string {
	return h.header
}

// Cursor exposes the fallback round robin position.
func (h *HeaderAffinity) Cursor() int {
	return h.fallback.Cursor()
}

// Name returns "header-affinity".
func (h *HeaderAffinity) Name() string {
	return NameHeaderAffinity
}

func (h *HeaderAffinity) resolve(r *http.Request) (*backend.Backend, bool) {
	if r == nil {
		return nil, false
	}

	hint := normalizeHint(r.Header.Get(h.header))
	if hint == "" {
		return nil, false
	}

	b, ok := h.routes[hint]
	return b, ok
}

func normalizeHint(hint string) string {
	return strings.ToLower(strings.TrimSpace(hint))
}

func contains(backends []*backend.Backend, target *backend.Backend) bool {
	for _, b := range backends {
		if b == target {
			return true
		}
	}
	return false
}
