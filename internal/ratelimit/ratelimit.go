// Package ratelimit throttles requests per client IP with a token bucket per
// key and least-recently-used eviction once the table is full.
package ratelimit

import (
	"container/list"
	"context"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

// Defaults applied when a Config field is zero
const (
	DefaultMaxKeys     = 10000
	DefaultIdleTimeout = 30 * time.Minute
)

// Config controls a Limiter
type Config struct {
	// RequestsPerSecond is the sustained rate per key
	RequestsPerSecond float64
	// Burst is the bucket size per key
	Burst int
	// MaxKeys bounds the number of tracked keys
	MaxKeys int
	// IdleTimeout is how long an unused key is kept by Sweep
	IdleTimeout time.Duration
}

type entry struct {
	key        string
	limiter    *rate.Limiter
	lastAccess time.Time
}

// Limiter is a keyed token-bucket limiter safe for concurrent use
type Limiter struct {
	cfg    Config
	now    func() time.Time
	logger zerolog.Logger

	mu      sync.Mutex
	entries map[string]*list.Element
	lru     *list.List
}

// New creates a Limiter. Zero MaxKeys and IdleTimeout take their defaults.
func New(cfg Config, logger zerolog.Logger) *Limiter {
	if cfg.MaxKeys <= 0 {
		cfg.MaxKeys = DefaultMaxKeys
	}
	if cfg.IdleTimeout <= 0 {
		cfg.IdleTimeout = DefaultIdleTimeout
	}
	if cfg.Burst <= 0 {
		cfg.Burst = 1
	}
	return &Limiter{
		cfg:     cfg,
		now:     time.Now,
		logger:  logger,
		entries: make(map[string]*list.Element),
		lru:     list.New(),
	}
}

// Allow reports whether one more request from key fits in its bucket
func (l *Limiter) Allow(key string) bool {
	now := l.now()

	l.mu.Lock()
	defer l.mu.Unlock()

	if elem, ok := l.entries[key]; ok {
		l.lru.MoveToFront(elem)
		e := elem.Value.(*entry)
		e.lastAccess = now
		return e.limiter.AllowN(now, 1)
	}

	if len(l.entries) >= l.cfg.MaxKeys {
		l.evictOldest()
	}

	e := &entry{
		key:        key,
		limiter:    rate.NewLimiter(rate.Limit(l.cfg.RequestsPerSecond), l.cfg.Burst),
		lastAccess: now,
	}
	l.entries[key] = l.lru.PushFront(e)
	return e.limiter.AllowN(now, 1)
}

// must hold l.mu
func (l *Limiter) evictOldest() {
	elem := l.lru.Back()
	if elem == nil {
		return
	}
	e := l.lru.Remove(elem).(*entry)
	delete(l.entries, e.key)
	l.logger.Debug().Str("key", e.key).Int("tracked", len(l.entries)).Msg("rate limiter evicted key")
}

// Sweep drops keys idle longer than IdleTimeout and returns how many were removed
func (l *Limiter) Sweep() int {
	cutoff := l.now().Add(-l.cfg.IdleTimeout)

	l.mu.Lock()
	defer l.mu.Unlock()

	removed := 0
	for elem := l.lru.Back(); elem != nil; {
		e := elem.Value.(*entry)
		if !e.lastAccess.Before(cutoff) {
			break
		}
		prev := elem.Prev()
		l.lru.Remove(elem)
		delete(l.entries, e.key)
		removed++
		elem = prev
	}
	return removed
}

// Len returns the number of tracked keys
func (l *Limiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.lru.Len()
}

// Run sweeps idle keys every interval until ctx is done
func (l *Limiter) Run(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if n := l.Sweep(); n > 0 {
				l.logger.Debug().Int("removed", n).Msg("rate limiter sweep")
			}
		}
	}
}

// Middleware rejects requests over the limit with 429. The key is the
// request's remote IP, so chi's RealIP middleware should run first when the
// server sits behind a proxy. onLimited may be nil.
func (l *Limiter) Middleware(onLimited func(*http.Request)) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !l.Allow(clientIP(r)) {
				if onLimited != nil {
					onLimited(r)
				}
				w.Header().Set("Retry-After", "1")
				http.Error(w, http.StatusText(http.StatusTooManyRequests), http.StatusTooManyRequests)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
