package middleware

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/lyzr/workflows/internal/ratelimit"
)

// RateLimit checks the tiered token bucket for class before letting the
// request through, mirroring the teacher's UserRateLimitMiddleware shape but
// keyed by (tier, class, userID) instead of a single global per-user limit.
func RateLimit(limiter *ratelimit.Limiter, class ratelimit.EndpointClass) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			userID := UserID(c)
			if userID == "" {
				return next(c)
			}

			res, err := limiter.Check(c.Request().Context(), userID, Tier(c), class)
			if err != nil {
				return next(c)
			}
			if !res.Allowed {
				return c.JSON(http.StatusTooManyRequests, map[string]interface{}{
					"error":             "rate_limit_exceeded",
					"retryAfterSeconds": res.RetryAfterSeconds,
				})
			}
			return next(c)
		}
	}
}
