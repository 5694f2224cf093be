package middleware

import (
	"net/http"
	"sync"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"
)

// limiters hands out one token bucket per user.
type limiters struct {
	mu    sync.Mutex
	rps   rate.Limit
	burst int
	users map[int64]*rate.Limiter
}

func (l *limiters) get(userID int64) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()
	lim, ok := l.users[userID]
	if !ok {
		lim = rate.NewLimiter(l.rps, l.burst)
		l.users[userID] = lim
	}
	return lim
}

// RateLimit must run after Auth. A non-positive rps disables it.
func RateLimit(rps float64, burst int) gin.HandlerFunc {
	if rps <= 0 {
		return func(c *gin.Context) { c.Next() }
	}
	if burst <= 0 {
		burst = 1
	}
	l := &limiters{rps: rate.Limit(rps), burst: burst, users: make(map[int64]*rate.Limiter)}
	return func(c *gin.Context) {
		if !l.get(UserID(c)).Allow() {
			c.JSON(http.StatusTooManyRequests, gin.H{
				"error":       "rate limit exceeded",
				"retry_after": "1s",
			})
			c.Abort()
			return
		}
		c.Next()
	}
}
