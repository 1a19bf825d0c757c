package middlewares

import (
	"fmt"
	"net/http"
	"sync"
	"time"

	"bitbucket.org/gigvora/support_backend/config"
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"
)

// RateLimiter counts requests per client IP in fixed Redis windows. While
// Redis is not connected an in-process token bucket with the same average
// rate takes over.
type RateLimiter struct {
	client func() *redis.Client
	prefix string
	limit  int64
	window time.Duration

	mu    sync.Mutex
	local map[string]*rate.Limiter
}

func NewRateLimiter(client func() *redis.Client, prefix string, limit int64, window time.Duration) *RateLimiter {
	if limit <= 0 {
		limit = 600
	}
	if window <= 0 {
		window = time.Minute
	}
	return &RateLimiter{
		client: client,
		prefix: prefix,
		limit:  limit,
		window: window,
		local:  make(map[string]*rate.Limiter),
	}
}

func (rl *RateLimiter) localLimiter(key string) *rate.Limiter {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	if l, ok := rl.local[key]; ok {
		return l
	}
	every := rl.window / time.Duration(rl.limit)
	l := rate.NewLimiter(rate.Every(every), int(rl.limit))
	rl.local[key] = l
	return l
}

func (rl *RateLimiter) tooMany(c *gin.Context) {
	c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
		"error": fmt.Sprintf("Rate limit exceeded. Try again in %d seconds", int(rl.window.Seconds())),
	})
}

// RateLimitMiddleware rejects a client once it exceeds limit requests per window.
func (rl *RateLimiter) RateLimitMiddleware(c *gin.Context) {
	key := rl.prefix + c.ClientIP()

	var client *redis.Client
	if rl.client != nil {
		client = rl.client()
	}
	if client == nil {
		if !rl.localLimiter(key).Allow() {
			rl.tooMany(c)
			return
		}
		c.Next()
		return
	}

	count, err := client.Incr(c.Request.Context(), key).Result()
	if err != nil {
		config.GetLogger().WithFields(logrus.Fields{
			"field": "RateLimitMiddleware",
		}).Warn("redis rate limit unavailable; using local limiter: " + err.Error())
		if !rl.localLimiter(key).Allow() {
			rl.tooMany(c)
			return
		}
		c.Next()
		return
	}
	if count == 1 {
		if err := client.Expire(c.Request.Context(), key, rl.window).Err(); err != nil {
			c.AbortWithError(http.StatusInternalServerError, err)
			return
		}
	}

	if count > rl.limit {
		rl.tooMany(c)
		return
	}
	c.Next()
}
