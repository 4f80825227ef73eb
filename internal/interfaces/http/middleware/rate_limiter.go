package middleware

import (
	"context"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

type clientLimiter struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// IPRateLimiter holds a token bucket per client address.
type IPRateLimiter struct {
	limiters map[string]*clientLimiter
	mu       sync.Mutex
	rps      rate.Limit
	burst    int
	idleTTL  time.Duration
	now      func() time.Time

	trustProxyHeaders bool
}

// NewIPRateLimiter creates a limiter allowing rps requests per second per client
// with the given burst.
func NewIPRateLimiter(rps float64, burst int) *IPRateLimiter {
	if burst <= 0 {
		burst = 1
	}
	return &IPRateLimiter{
		limiters: make(map[string]*clientLimiter),
		rps:      rate.Limit(rps),
		burst:    burst,
		idleTTL:  5 * time.Minute,
		now:      time.Now,
	}
}

// TrustProxyHeaders makes the limiter key clients by forwarded headers instead of
// the connection address.
func (i *IPRateLimiter) TrustProxyHeaders(trust bool) *IPRateLimiter {
	i.trustProxyHeaders = trust
	return i
}

func (i *IPRateLimiter) Allow(client string) bool {
	i.mu.Lock()
	defer i.mu.Unlock()

	entry, exists := i.limiters[client]
	if !exists {
		entry = &clientLimiter{limiter: rate.NewLimiter(i.rps, i.burst)}
		i.limiters[client] = entry
	}
	entry.lastSeen = i.now()

	return entry.limiter.Allow()
}

// Prune drops limiters idle for longer than the TTL and returns how many were removed.
func (i *IPRateLimiter) Prune() int {
	i.mu.Lock()
	defer i.mu.Unlock()

	cutoff := i.now().Add(-i.idleTTL)
	removed := 0
	for client, entry := range i.limiters {
		if entry.lastSeen.Before(cutoff) {
			delete(i.limiters, client)
			removed++
		}
	}
	return removed
}

// RunCleanup prunes idle limiters until ctx is done.
func (i *IPRateLimiter) RunCleanup(ctx context.Context) {
	ticker := time.NewTicker(i.idleTTL)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			i.Prune()
		}
	}
}

// RateLimit middleware limits requests per client address. onReject may be nil.
func RateLimit(limiter *IPRateLimiter, onReject func()) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !limiter.Allow(clientIP(r, limiter.trustProxyHeaders)) {
				if onReject != nil {
					onReject()
				}
				w.Header().Set("Retry-After", "1")
				http.Error(w, "Rate limit exceeded. Please try again later.", http.StatusTooManyRequests)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// clientIP uses the connection address unless proxy headers are trusted, in
// which case the first hop of X-Forwarded-For wins.
func clientIP(r *http.Request, trustProxyHeaders bool) string {
	if trustProxyHeaders {
		if forwarded := r.Header.Get("X-Forwarded-For"); forwarded != "" {
			first, _, _ := strings.Cut(forwarded, ",")
			return strings.TrimSpace(first)
		}
		if realIP := r.Header.Get("X-Real-IP"); realIP != "" {
			return strings.TrimSpace(realIP)
		}
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
