package middleware

import (
	"context"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
)

// RealIP extracts the client's real IP address, preferring Cloudflare's
// CF-Connecting-IP header, then X-Forwarded-For, and falling back to RemoteAddr.
func RealIP(r *http.Request) string {
	if ip := r.Header.Get("CF-Connecting-IP"); ip != "" {
		return ip
	}
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		// First IP in the chain is the original client
		if i := strings.IndexByte(xff, ','); i > 0 {
			return strings.TrimSpace(xff[:i])
		}
		return strings.TrimSpace(xff)
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// Limiter decides whether a request identified by key may proceed.
type Limiter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) bool
}

type entry struct {
	count    int
	windowAt time.Time
}

// RateLimiter provides in-memory fixed window rate limiting for a single
// instance.
type RateLimiter struct {
	mu      sync.Mutex
	entries map[string]*entry
}

func NewRateLimiter() *RateLimiter {
	return &RateLimiter{
		entries: make(map[string]*entry),
	}
}

// Allow returns true if the key has not exceeded limit in the given window.
func (rl *RateLimiter) Allow(_ context.Context, key string, limit int, window time.Duration) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := time.Now()
	e, ok := rl.entries[key]
	if !ok || now.After(e.windowAt) {
		rl.entries[key] = &entry{count: 1, windowAt: now.Add(window)}
		return true
	}
	e.count++
	return e.count <= limit
}

// Cleanup removes expired entries.
func (rl *RateLimiter) Cleanup() {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := time.Now()
	for key, e := range rl.entries {
		if now.After(e.windowAt) {
			delete(rl.entries, key)
		}
	}
}

// RedisLimiter shares fixed window counters between instances through
// Redis. When Redis is unreachable requests are allowed.
type RedisLimiter struct {
	client *redis.Client
	prefix string
	logger *slog.Logger
}

func NewRedisLimiter(client *redis.Client, prefix string, logger *slog.Logger) *RedisLimiter {
	return &RedisLimiter{client: client, prefix: prefix, logger: logger}
}

func (rl *RedisLimiter) Allow(ctx context.Context, key string, limit int, window time.Duration) bool {
	k := rl.prefix + key
	n, err := rl.client.Incr(ctx, k).Result()
	if err != nil {
		rl.logger.Warn("rate limit counter unavailable", "key", k, "error", err)
		return true
	}
	if n == 1 {
		if err := rl.client.Expire(ctx, k, window).Err(); err != nil {
			rl.logger.Warn("rate limit expiry failed", "key", k, "error", err)
		}
	}
	return n <= int64(limit)
}

// RateLimit returns middleware that rate-limits requests by a key function.
func RateLimit(limiter Limiter, keyFunc func(*http.Request) string, limit int, window time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := keyFunc(r)
			if !limiter.Allow(r.Context(), key, limit, window) {
				writeError(w, http.StatusTooManyRequests, "Too many requests")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
