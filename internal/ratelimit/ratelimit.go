// Package ratelimit counts requests per client in Redis so every gateway
// replica enforces the same budget. A client's window opens with its first
// request and lasts one window length.
package ratelimit

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

// Limiter allows limit requests per key in each window.
type Limiter struct {
	rdb    *redis.Client
	limit  int
	window time.Duration
	prefix string
}

// Decision is the outcome of one Take.
type Decision struct {
	Allowed   bool
	Remaining int
	// Time until the window closes; set when not allowed
	RetryAfter time.Duration
}

// New returns a Limiter whose keys start with prefix ("rl:" when empty).
func New(rdb *redis.Client, limit int, window time.Duration, prefix string) *Limiter {
	if prefix == "" {
		prefix = "rl:"
	}
	return &Limiter{rdb: rdb, limit: limit, window: window, prefix: prefix}
}

// count increments the key and starts its expiry on the first hit. It
// returns the count and the milliseconds left in the window.
var count = redis.NewScript(`
local n = redis.call('INCR', KEYS[1])
if n == 1 then
  redis.call('PEXPIRE', KEYS[1], ARGV[1])
end
return {n, redis.call('PTTL', KEYS[1])}
`)

// Take counts one request for key in the current window. Without Redis or a
// positive limit every request is allowed.
func (l *Limiter) Take(ctx context.Context, key string) (Decision, error) {
	if l.rdb == nil || l.limit <= 0 || l.window <= 0 {
		return Decision{Allowed: true, Remaining: l.limit}, nil
	}
	res, err := count.Run(ctx, l.rdb, []string{l.prefix + key}, l.window.Milliseconds()).Int64Slice()
	if err != nil {
		return Decision{}, err
	}
	n := int(res[0])
	d := Decision{Allowed: n <= l.limit, Remaining: l.limit - n}
	if d.Remaining < 0 {
		d.Remaining = 0
	}
	if !d.Allowed {
		d.RetryAfter = time.Duration(res[1]) * time.Millisecond
		if d.RetryAfter < 0 {
			d.RetryAfter = l.window
		}
	}
	return d, nil
}

// Allow reports whether key may make another request now.
func (l *Limiter) Allow(ctx context.Context, key string) (bool, error) {
	d, err := l.Take(ctx, key)
	return d.Allowed, err
}

// ClientIP keys buckets by the caller's address.
func ClientIP(c *gin.Context) string { return c.ClientIP() }

// Middleware limits requests per keyFunc and reports the budget in
// X-RateLimit-* headers. When Redis fails the request goes through; onReject,
// if set, runs for every rejected request.
func (l *Limiter) Middleware(keyFunc func(*gin.Context) string, onReject func(*gin.Context)) gin.HandlerFunc {
	return func(c *gin.Context) {
		key := keyFunc(c)
		d, err := l.Take(c.Request.Context(), key)
		if err != nil {
			log.Ctx(c.Request.Context()).Warn().Err(err).Str("key", key).Msg("rate limiter unavailable")
			c.Next()
			return
		}
		c.Header("X-RateLimit-Limit", strconv.Itoa(l.limit))
		c.Header("X-RateLimit-Remaining", strconv.Itoa(d.Remaining))
		if !d.Allowed {
			secs := int((d.RetryAfter + time.Second - 1) / time.Second)
			c.Header("Retry-After", strconv.Itoa(secs))
			if onReject != nil {
				onReject(c)
			}
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": gin.H{"code": "rate_limited", "message": "too many requests"}})
			return
		}
		c.Next()
	}
}
