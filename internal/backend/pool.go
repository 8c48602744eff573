package backend

import (
	"net/url"
	"strings"
)

// Spec is the static configuration of a single backend.
type Spec struct {
	URL    *url.URL
	Weight int
}

// Pool owns the ordered, fixed set of backends. Order is significant: round
// robin and weighted tie-breaks both follow it.
type Pool struct {
	backends  []*Backend
	byAddress map[string]*Backend
}

// NewPool creates one Backend per spec, preserving order. Specs without a URL
// are skipped. An empty pool is valid.
func NewPool(specs []Spec) *Pool {
	p := &Pool{
		backends:  make([]*Backend, 0, len(specs)),
		byAddress: make(map[string]*Backend, len(specs)),
	}

	for _, s := range specs {
		if s.URL == nil {
			continue
		}

		b := newBackend(s.URL, s.Weight)
		p.backends = append(p.backends, b)
		p.byAddress[NormalizeAddress(b.Address())] = b
	}

	return p
}

// All returns every configured backend regardless of health.
func (p *Pool) All() []*Backend {
	all := make([]*Backend, len(p.backends))
	copy(all, p.backends)
	return all
}

// SnapshotHealthy returns the backends currently marked healthy, in pool
// order. The returned slice is owned by the caller.
func (p *Pool) SnapshotHealthy() []*Backend {
	healthy := make([]*Backend, 0, len(p.backends))

	for _, b := range p.backends {
		if b.IsHealthy() {
			healthy = append(healthy, b)
		}
	}

	return healthy
}

// Lookup resolves a configured backend by its address. A trailing slash is
// ignored.
func (p *Pool) Lookup(address string) (*Backend, bool) {
	b, ok := p.byAddress[NormalizeAddress(address)]
	return b, ok
}

// Len returns the number of configured backends.
func (p *Pool) Len() int {
	return len(p.backends)
}

// NormalizeAddress lowercases scheme and host and drops trailing slashes, so
// that one backend matches however its URL was spelled.
func NormalizeAddress(address string) string {
	address = strings.TrimSpace(address)
	if u, err := url.Parse(address); err == nil && u.Host != "" {
		u.Scheme = strings.ToLower(u.Scheme)
		u.Host = strings.ToLower(u.Host)
		address = u.String()
	}

	return strings.TrimRight(address, "/")
}
