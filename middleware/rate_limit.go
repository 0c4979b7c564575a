package middleware

import (
	"net/http"
	"strconv"
	"time"

	"github.com/AnTengye/sigscan/pkg/logger"
	"github.com/gin-gonic/gin"
	"github.com/patrickmn/go-cache"
)

// RateLimiter counts requests per client in fixed windows. Each client's
// window starts with its first request and expires on its own.
type RateLimiter struct {
	counters *cache.Cache
	rate     int
	window   time.Duration
}

func NewRateLimiter(rate int, window time.Duration) *RateLimiter {
	return &RateLimiter{
		counters: cache.New(window, 2*window),
		rate:     rate,
		window:   window,
	}
}

// Allow records a request for key and reports whether it is within the
// limit, plus the number of requests left in the window.
func (l *RateLimiter) Allow(key string) (bool, int) {
	if err := l.counters.Add(key, 1, l.window); err == nil {
		return l.rate >= 1, l.rate - 1
	}
	count, err := l.counters.IncrementInt(key, 1)
	if err != nil {
		// The window expired between Add and IncrementInt.
		l.counters.Set(key, 1, l.window)
		count = 1
	}
	return count <= l.rate, l.rate - count
}

// RateLimit limits requests per client IP. A rate below 1 disables it.
func RateLimit(rate int, window time.Duration) gin.HandlerFunc {
	if rate < 1 {
		return func(c *gin.Context) { c.Next() }
	}
	limiter := NewRateLimiter(rate, window)

	return func(c *gin.Context) {
		clientIP := c.ClientIP()

		allowed, remaining := limiter.Allow(clientIP)
		if !allowed {
			logger.Warn(c.Request.Context(), "rate limit exceeded", "client_ip", clientIP)

			c.Header("Retry-After", strconv.Itoa(int(window.Seconds())))
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"error": "Rate limit exceeded. Please try again later.",
			})
			return
		}

		c.Header("X-RateLimit-Remaining", strconv.Itoa(remaining))
		c.Next()
	}
}
