package ratelimit

import (
	"log/slog"
	"math"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

const (
	DefaultRequests = 10
	DefaultWindow   = 2 * time.Minute

	// clients idle for this many windows are forgotten
	idleWindows = 2
)

// KeyFunc maps a request to the client it is accounted against.
type KeyFunc func(r *http.Request) string

type client struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// Limiter hands every client a token bucket of size requests that refills
// completely over window.
type Limiter struct {
	mutex    sync.Mutex
	clients  map[string]*client
	requests int
	window   time.Duration
	limit    rate.Limit
	keyFunc  KeyFunc
	logger   *slog.Logger
	now      func() time.Time
	lastScan time.Time
}

// New returns a limiter allowing requests per window for each client.
// Non-positive values fall back to 10 requests per 2 minutes. A nil keyFunc
// keys on the connection's remote host.
func New(requests int, window time.Duration, keyFunc KeyFunc, logger *slog.Logger) *Limiter {
	if requests < 1 {
		requests = DefaultRequests
	}
	if window <= 0 {
		window = DefaultWindow
	}
	if keyFunc == nil {
		keyFunc = remoteHost
	}

	return &Limiter{
		clients:  make(map[string]*client),
		requests: requests,
		window:   window,
		limit:    rate.Every(window / time.Duration(requests)),
		keyFunc:  keyFunc,
		logger:   logger.With(slog.String("component", "ratelimit")),
		now:      time.Now,
	}
}

// Allow reports whether the client may send another request now.
func (l *Limiter) Allow(key string) bool {
	now := l.now()

	l.mutex.Lock()
	defer l.mutex.Unlock()

	l.evictIdle(now)

	c, ok := l.clients[key]
	if !ok {
		c = &client{limiter: rate.NewLimiter(l.limit, l.requests)}
		l.clients[key] = c
	}
	c.lastSeen = now

	return c.limiter.AllowN(now, 1)
}

// Clients returns the number of clients currently tracked.
func (l *Limiter) Clients() int {
	l.mutex.Lock()
	defer l.mutex.Unlock()
	return len(l.clients)
}

// Middleware rejects requests over the limit with 429 and a Retry-After
// header.
func (l *Limiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := l.keyFunc(r)

		w.Header().Set("X-RateLimit-Limit", strconv.Itoa(l.requests))

		if !l.Allow(key) {
			l.logger.Warn("Rate limit exceeded",
				slog.String("client", key),
				slog.String("method", r.Method),
				slog.String("path", r.URL.Path))

			w.Header().Set("Retry-After", strconv.Itoa(l.retryAfterSeconds()))
			http.Error(w, "Too many requests, please try again later.", http.StatusTooManyRequests)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// evictIdle drops clients whose bucket has long been full again. Scans run at
// most once per window.
func (l *Limiter) evictIdle(now time.Time) {
	if now.Sub(l.lastScan) < l.window {
		return
	}
	l.lastScan = now

	for key, c := range l.clients {
		if now.Sub(c.lastSeen) > idleWindows*l.window {
			delete(l.clients, key)
		}
	}
}

func (l *Limiter) retryAfterSeconds() int {
	interval := l.window / time.Duration(l.requests)
	return int(math.Max(1, math.Ceil(interval.Seconds())))
}

func remoteHost(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
