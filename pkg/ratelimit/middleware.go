package ratelimit

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"

	"ibex/pkg/metrics"
)

type RateLimitConfig struct {
	RPS             float64
	Burst           int
	CleanupInterval time.Duration
	MaxAge          time.Duration
}

func DefaultConfig() RateLimitConfig {
	return RateLimitConfig{
		RPS:             10.0,
		Burst:           20,
		CleanupInterval: 5 * time.Minute,
		MaxAge:          10 * time.Minute,
	}
}

type clientEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// limiterPool keeps one token bucket per client key and sweeps out entries
// that have gone quiet.
type limiterPool struct {
	mu      sync.Mutex
	clients map[string]*clientEntry
	cfg     RateLimitConfig
}

func newLimiterPool(cfg RateLimitConfig) *limiterPool {
	p := &limiterPool{
		clients: make(map[string]*clientEntry),
		cfg:     cfg,
	}
	go p.sweep()
	return p
}

func (p *limiterPool) get(key string) *rate.Limiter {
	p.mu.Lock()
	defer p.mu.Unlock()

	entry, ok := p.clients[key]
	if !ok {
		entry = &clientEntry{
			limiter: rate.NewLimiter(rate.Limit(p.cfg.RPS), p.cfg.Burst),
		}
		p.clients[key] = entry
	}
	entry.lastSeen = time.Now()
	return entry.limiter
}

func (p *limiterPool) sweep() {
	ticker := time.NewTicker(p.cfg.CleanupInterval)
	defer ticker.Stop()

	for range ticker.C {
		cutoff := time.Now().Add(-p.cfg.MaxAge)
		p.mu.Lock()
		for key, entry := range p.clients {
			if entry.lastSeen.Before(cutoff) {
				delete(p.clients, key)
			}
		}
		p.mu.Unlock()
	}
}

// RateLimitMiddleware applies a per-client-IP token bucket ahead of the
// handler chain.
func RateLimitMiddleware(config RateLimitConfig) gin.HandlerFunc {
	pool := newLimiterPool(config)
	limitHeader := strconv.Itoa(int(config.RPS))

	return func(c *gin.Context) {
		key := c.ClientIP()
		if key == "" {
			key = c.RemoteIP()
		}

		limiter := pool.get(key)
		c.Header("X-RateLimit-Limit", limitHeader)

		if !limiter.Allow() {
			metrics.RateLimitRequestsTotal.WithLabelValues("limited").Inc()
			c.Header("X-RateLimit-Remaining", "0")
			c.Header("Retry-After", "1")
			c.JSON(http.StatusTooManyRequests, gin.H{
				"error":      "rate limit exceeded",
				"error_code": "RATE_LIMIT_EXCEEDED",
			})
			c.Abort()
			return
		}

		metrics.RateLimitRequestsTotal.WithLabelValues("allowed").Inc()
		remaining := limiter.Burst() - int(limiter.Tokens())
		if remaining < 0 {
			remaining = 0
		}
		c.Header("X-RateLimit-Remaining", strconv.Itoa(remaining))

		c.Next()
	}
}
