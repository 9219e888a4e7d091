package http

import (
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"
)

// RateLimiter enforces a per-user fixed-window request counter over
// redis. A nil client disables limiting.
type RateLimiter struct {
	client *redis.Client
	limit  int
	window time.Duration
}

// NewRateLimiter constructs a RateLimiter.
func NewRateLimiter(client *redis.Client, limit int, window time.Duration) *RateLimiter {
	return &RateLimiter{client: client, limit: limit, window: window}
}

// Middleware returns a gin middleware applying the limit to the keyed
// action for the authenticated user.
func (r *RateLimiter) Middleware(action string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if r == nil || r.client == nil {
			c.Next()
			return
		}

		userID := c.GetUint64("userID")
		if userID == 0 {
			c.Next()
			return
		}

		key := fmt.Sprintf("rl:%s:%d", action, userID)
		ctx := c.Request.Context()

		count, errIncr := r.client.Incr(ctx, key).Result()
		if errIncr != nil {
			// Redis being down must not take chat down with it.
			log.WithError(errIncr).Warn("rate limiter unavailable")
			c.Next()
			return
		}
		// ExpireNX on every request heals counters that lost their TTL,
		// e.g. when a crash landed between Incr and Expire; a key
		// without a TTL would otherwise block the user forever.
		if errExpire := r.client.ExpireNX(ctx, key, r.window).Err(); errExpire != nil {
			log.WithError(errExpire).Warn("rate limiter expire failed")
		}
		if count > int64(r.limit) {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": "rate limit exceeded, slow down"})
			return
		}

		c.Next()
	}
}
