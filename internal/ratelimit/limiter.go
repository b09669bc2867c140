// Package ratelimit throttles intake requests per client with token buckets.
package ratelimit

import (
	"context"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"
	"golang.org/x/time/rate"
)

const shardCount = 32

type bucket struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

type shard struct {
	mu      sync.Mutex
	buckets map[string]*bucket
}

// Limiter grants each client Requests per Window with a burst of Requests.
// Buckets idle longer than the TTL are dropped by Sweep.
type Limiter struct {
	limit   rate.Limit
	burst   int
	idleTTL time.Duration
	shards  [shardCount]shard
	now     func() time.Time
}

func New(requests int, window, idleTTL time.Duration) *Limiter {
	if requests <= 0 {
		requests = 1
	}
	if window <= 0 {
		window = time.Minute
	}
	l := &Limiter{
		limit:   rate.Limit(float64(requests) / window.Seconds()),
		burst:   requests,
		idleTTL: idleTTL,
		now:     time.Now,
	}
	for i := range l.shards {
		l.shards[i].buckets = make(map[string]*bucket)
	}
	return l
}

func (l *Limiter) shard(client string) *shard {
	return &l.shards[xxhash.Sum64String(client)%shardCount]
}

// Allow takes one token from client's bucket.
func (l *Limiter) Allow(client string) bool {
	now := l.now()
	s := l.shard(client)

	s.mu.Lock()
	b, ok := s.buckets[client]
	if !ok {
		b = &bucket{limiter: rate.NewLimiter(l.limit, l.burst)}
		s.buckets[client] = b
	}
	b.lastSeen = now
	allowed := b.limiter.AllowN(now, 1)
	s.mu.Unlock()

	return allowed
}

// Sweep evicts buckets unused for longer than the idle TTL and returns how
// many were removed.
func (l *Limiter) Sweep() int {
	if l.idleTTL <= 0 {
		return 0
	}
	cutoff := l.now().Add(-l.idleTTL)
	removed := 0
	for i := range l.shards {
		s := &l.shards[i]
		s.mu.Lock()
		for k, b := range s.buckets {
			if b.lastSeen.Before(cutoff) {
				delete(s.buckets, k)
				removed++
			}
		}
		s.mu.Unlock()
	}
	return removed
}

// Len is the number of tracked clients.
func (l *Limiter) Len() int {
	n := 0
	for i := range l.shards {
		s := &l.shards[i]
		s.mu.Lock()
		n += len(s.buckets)
		s.mu.Unlock()
	}
	return n
}

// Run sweeps every interval until ctx is done.
func (l *Limiter) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			l.Sweep()
		}
	}
}

// ClientIP identifies the client of r: the first X-Forwarded-For hop when
// trustProxy is set, otherwise the connection's remote address.
func ClientIP(r *http.Request, trustProxy bool) string {
	if trustProxy {
		if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
			first, _, _ := strings.Cut(xff, ",")
			if ip := strings.TrimSpace(first); ip != "" {
				return ip
			}
		}
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// Middleware rejects requests over the limit by calling reject, which should
// write a 429 response.
func (l *Limiter) Middleware(trustProxy bool, reject http.HandlerFunc) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !l.Allow(ClientIP(r, trustProxy)) {
				reject(w, r)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
