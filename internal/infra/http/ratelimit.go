package http

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"keystone/internal/domain"
)

const (
	routeValidate    = "validate"
	routeLeaseVerify = "leases:verify"
	routeActivate    = "activate"
	routeDeactivate  = "deactivate"
	routeHeartbeat   = "heartbeat"
)

// rateLimited buckets client-facing routes by caller IP. A limiter error
// fails open unless configured otherwise.
func (s *Server) rateLimited(routeID string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if s.deps.Limiter == nil || s.rateLimitRequests <= 0 {
			c.Next()
			return
		}
		key := routeID + ":ip:" + c.ClientIP()
		decision, err := s.deps.Limiter.Allow(c.Request.Context(), key, s.rateLimitRequests, s.rateLimitWindow)
		if err != nil {
			if s.rateLimitFailClosed {
				writeErrorCode(c, http.StatusTooManyRequests, "RATE_LIMIT_UNAVAILABLE", "rate limiter unavailable")
				c.Abort()
			}
			return
		}
		writeRateLimitHeaders(c, decision)
		if !decision.Allowed {
			writeErrorCode(c, http.StatusTooManyRequests, "RATE_LIMITED", "rate limit exceeded")
			c.Abort()
			return
		}
		c.Next()
	}
}

func writeRateLimitHeaders(c *gin.Context, decision domain.RateLimitDecision) {
	if decision.Limit > 0 {
		c.Header("RateLimit-Limit", strconv.Itoa(decision.Limit))
	}
	if decision.Remaining >= 0 {
		c.Header("RateLimit-Remaining", strconv.Itoa(decision.Remaining))
	}
	if !decision.ResetAt.IsZero() {
		c.Header("RateLimit-Reset", strconv.FormatInt(decision.ResetAt.Unix(), 10))
		if !decision.Allowed {
			retryAfter := int64(time.Until(decision.ResetAt).Seconds())
			if retryAfter < 0 {
				retryAfter = 0
			}
			c.Header("Retry-After", strconv.FormatInt(retryAfter, 10))
		}
	}
}
