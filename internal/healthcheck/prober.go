package healthcheck

import (
	"context"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Prober issues one liveness request to a backend and reports the status
// code. The prober owns the timeout.
type Prober interface {
	Probe(ctx context.Context, target *url.URL) (statusCode int, err error)
}

// HTTPProber probes backends with a plain GET.
type HTTPProber struct {
	client *http.Client
	path   string
}

// NewHTTPProber returns a prober that requests path on each backend and gives
// up after timeout.
func NewHTTPProber(timeout time.Duration, path string) *HTTPProber {
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}

	return &HTTPProber{
		client: &http.Client{
			Timeout: timeout,
			Transport: &http.Transport{
				MaxIdleConns:        10,
				MaxIdleConnsPerHost: 2,
				IdleConnTimeout:     30 * time.Second,
				DisableCompression:  true,
			},
		},
		path: path,
	}
}

func (p *HTTPProber) Probe(ctx context.Context, target *url.URL) (int, error) {
	healthURL := target.ResolveReference(&url.URL{Path: p.path})

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, healthURL.String(), nil)
	if err != nil {
		return 0, err
	}
	req.Header.Set("User-Agent", "dispatch-balancer-healthcheck/1.0")

	res, err := p.client.Do(req)
	if err != nil {
		return 0, err
	}
	defer res.Body.Close()

	// keep the connection reusable
	_, _ = io.Copy(io.Discard, io.LimitReader(res.Body, 64<<10))

	return res.StatusCode, nil
}
