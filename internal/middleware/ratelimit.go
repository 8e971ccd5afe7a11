package middleware

import (
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stemsi/testengine/internal/response"
	"golang.org/x/time/rate"
)

// RateLimiter is a per-client token bucket. Clients are keyed by the
// authenticated user when claims are present, else by IP.
type RateLimiter struct {
	mu       sync.Mutex
	visitors map[string]*visitor
	limit    rate.Limit
	burst    int
}

type visitor struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// NewRateLimiter creates a RateLimiter allowing perSecond requests with the given burst.
func NewRateLimiter(perSecond float64, burst int) *RateLimiter {
	return &RateLimiter{
		visitors: make(map[string]*visitor),
		limit:    rate.Limit(perSecond),
		burst:    burst,
	}
}

// Middleware returns a Gin middleware that rate-limits requests per client.
func (rl *RateLimiter) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		res := rl.limiterFor(clientKey(c)).Reserve()
		if delay := res.Delay(); !res.OK() || delay > 0 {
			res.Cancel()
			response.AbortRetryLater(c, delay)
			return
		}
		c.Next()
	}
}

// AllowUser spends one token from the user's bucket, for work that arrives
// outside a request such as WebSocket messages.
func (rl *RateLimiter) AllowUser(userID int) bool {
	return rl.limiterFor(userKey(userID)).Allow()
}

func (rl *RateLimiter) limiterFor(key string) *rate.Limiter {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	v, ok := rl.visitors[key]
	if !ok {
		v = &visitor{limiter: rate.NewLimiter(rl.limit, rl.burst)}
		rl.visitors[key] = v
	}
	v.lastSeen = time.Now()
	return v.limiter
}

// Cleanup drops clients idle for longer than idle. Returns how many were removed.
func (rl *RateLimiter) Cleanup(idle time.Duration) int {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	removed := 0
	for key, v := range rl.visitors {
		if time.Since(v.lastSeen) > idle {
			delete(rl.visitors, key)
			removed++
		}
	}
	return removed
}

func clientKey(c *gin.Context) string {
	if claims := GetClaims(c); claims != nil {
		return userKey(claims.UserID)
	}
	return "ip:" + c.ClientIP()
}

func userKey(id int) string {
	return "user:" + strconv.Itoa(id)
}
