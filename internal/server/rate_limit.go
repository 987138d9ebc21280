package server

import (
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/smallbiznis/gamestore/internal/observability/logger"
	"go.uber.org/zap"
)

// CheckoutRateLimit throttles checkout attempts per user with the Redis token bucket.
func (s *Server) CheckoutRateLimit() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !s.guard.Enabled() {
			c.Next()
			return
		}

		ctx := c.Request.Context()
		userID := userIDFrom(c)
		result, err := s.guard.AllowCheckout(ctx, userID)
		if err != nil {
			// fail open, the ownership constraint still protects purchases
			logger.FromContext(ctx).Warn("checkout rate limit check failed", zap.Error(err))
			c.Next()
			return
		}

		c.Header("X-RateLimit-Remaining", strconv.Itoa(result.Remaining))
		if !result.Allowed {
			logger.FromContext(ctx).Warn("checkout rate limit exceeded",
				zap.String("endpoint", c.FullPath()),
			)
			c.Header("Retry-After", strconv.Itoa(retryAfterSeconds(result.RetryAfter.Seconds())))
			AbortWithError(c, ErrRateLimited)
			return
		}
		c.Next()
	}
}

func retryAfterSeconds(seconds float64) int {
	if seconds < 1 {
		return 1
	}
	return int(seconds + 0.5)
}
