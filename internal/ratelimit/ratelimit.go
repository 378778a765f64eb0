// Package ratelimit puts a per-client request budget in front of the
// generation API. Liveness probes and metrics scrapes are exempt so
// orchestrators and Prometheus never compete with generation traffic for
// tokens.
package ratelimit

import (
	"encoding/json"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// defaultExemptPaths never consume rate tokens.
var defaultExemptPaths = []string{"/health", "/metrics"}

// Limiter is a token-bucket limiter keyed by client IP.
type Limiter struct {
	mu      sync.Mutex
	clients map[string]*tokenBucket

	rate     int           // tokens granted per interval
	burst    int           // bucket capacity
	interval time.Duration // refill interval
	maxKeys  int           // cap on tracked clients
	exempt   map[string]bool

	stop    chan struct{}
	counter prometheus.Counter // optional: incremented per rejection
}

type tokenBucket struct {
	tokens     int
	lastRefill time.Time
}

// Option configures a Limiter.
type Option func(*Limiter)

// WithCounter sets a Prometheus counter incremented on each rejection.
func WithCounter(c prometheus.Counter) Option {
	return func(l *Limiter) { l.counter = c }
}

// WithExemptPaths replaces the default exempt paths (/health, /metrics).
func WithExemptPaths(paths ...string) Option {
	return func(l *Limiter) {
		l.exempt = make(map[string]bool, len(paths))
		for _, p := range paths {
			l.exempt[p] = true
		}
	}
}

// New creates a limiter granting rate tokens per interval with the given
// burst capacity per client.
func New(rate, burst int, interval time.Duration, opts ...Option) *Limiter {
	l := &Limiter{
		clients:  make(map[string]*tokenBucket),
		rate:     rate,
		burst:    burst,
		interval: interval,
		maxKeys:  100000,
		exempt:   make(map[string]bool, len(defaultExemptPaths)),
		stop:     make(chan struct{}),
	}
	for _, p := range defaultExemptPaths {
		l.exempt[p] = true
	}
	for _, o := range opts {
		o(l)
	}
	go l.evictStale()
	return l
}

// Middleware rejects over-budget clients with 429, a Retry-After header,
// and the {"error": ...} body shape the rest of the API uses.
func (l *Limiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if l.exempt[r.URL.Path] {
			next.ServeHTTP(w, r)
			return
		}
		allowed, retryAfter := l.take(clientKey(r))
		if !allowed {
			if l.counter != nil {
				l.counter.Inc()
			}
			w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusTooManyRequests)
			_ = json.NewEncoder(w).Encode(map[string]string{"error": "rate limit exceeded"})
			return
		}
		next.ServeHTTP(w, r)
	})
}

func clientKey(r *http.Request) string {
	if ip := r.Header.Get("X-Real-IP"); ip != "" {
		return ip
	}
	return r.RemoteAddr
}

// take consumes one token for the key. When the bucket is empty it returns
// the whole seconds until the next refill (floor 1) for the Retry-After
// header — the same integer-seconds form the provider adapters parse from
// upstream 429s.
func (l *Limiter) take(key string) (bool, int) {
	now := time.Now()
	l.mu.Lock()
	defer l.mu.Unlock()

	b, ok := l.clients[key]
	if !ok {
		if len(l.clients) >= l.maxKeys {
			l.dropOldestLocked()
		}
		b = &tokenBucket{tokens: l.burst, lastRefill: now}
		l.clients[key] = b
	}

	if intervals := int(now.Sub(b.lastRefill) / l.interval); intervals > 0 {
		b.tokens += intervals * l.rate
		if b.tokens > l.burst {
			b.tokens = l.burst
		}
		b.lastRefill = b.lastRefill.Add(time.Duration(intervals) * l.interval)
	}

	if b.tokens > 0 {
		b.tokens--
		return true, 0
	}

	secs := int(b.lastRefill.Add(l.interval).Sub(now) / time.Second)
	if secs < 1 {
		secs = 1
	}
	return false, secs
}

// dropOldestLocked evicts the client whose bucket was refilled longest ago.
func (l *Limiter) dropOldestLocked() {
	var oldestKey string
	var oldest time.Time
	for k, b := range l.clients {
		if oldestKey == "" || b.lastRefill.Before(oldest) {
			oldestKey = k
			oldest = b.lastRefill
		}
	}
	if oldestKey != "" {
		delete(l.clients, oldestKey)
	}
}

// Stop ends the background eviction goroutine.
func (l *Limiter) Stop() {
	close(l.stop)
}

func (l *Limiter) evictStale() {
	ticker := time.NewTicker(5 * time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-l.stop:
			return
		case <-ticker.C:
			cutoff := time.Now().Add(-10 * time.Minute)
			l.mu.Lock()
			for k, b := range l.clients {
				if b.lastRefill.Before(cutoff) {
					delete(l.clients, k)
				}
			}
			l.mu.Unlock()
		}
	}
}
