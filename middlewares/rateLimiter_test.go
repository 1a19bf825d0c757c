package middlewares

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
)

func TestRateLimiterFallsBackToLocalLimiter(t *testing.T) {
	gin.SetMode(gin.TestMode)
	noRedis := func() *redis.Client { return nil }
	rl := NewRateLimiter(noRedis, "ratelimit:test:", 3, time.Hour)

	r := gin.New()
	r.POST("/webhooks/chatwoot", rl.RateLimitMiddleware, func(c *gin.Context) {
		c.Status(http.StatusOK)
	})

	send := func(ip string) int {
		req := httptest.NewRequest(http.MethodPost, "/webhooks/chatwoot", nil)
		req.RemoteAddr = ip + ":4711"
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)
		return w.Code
	}

	for i := 0; i < 3; i++ {
		if code := send("10.0.0.1"); code != http.StatusOK {
			t.Fatalf("request %d: status = %d", i, code)
		}
	}
	if code := send("10.0.0.1"); code != http.StatusTooManyRequests {
		t.Fatalf("over limit: status = %d, want 429", code)
	}
	if code := send("10.0.0.2"); code != http.StatusOK {
		t.Fatalf("other client throttled: status = %d", code)
	}
}

func TestNewRateLimiterDefaults(t *testing.T) {
	rl := NewRateLimiter(nil, "p:", 0, 0)
	if rl.limit != 600 || rl.window != time.Minute {
		t.Fatalf("defaults = %d per %s", rl.limit, rl.window)
	}
}
