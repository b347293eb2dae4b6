package httpapi

import (
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"golang.org/x/time/rate"
)

// rateLimiter builds a per-client-IP token bucket middleware, mirroring
// http.NewEchoServer's RateLimit option. It does not check
// ratePerSecond itself; New installs it only when RatePerSecond > 0.
func rateLimiter(ratePerSecond float64) echo.MiddlewareFunc {
	return middleware.RateLimiterWithConfig(middleware.RateLimiterConfig{
		Store: middleware.NewRateLimiterMemoryStore(rate.Limit(ratePerSecond)),
	})
}
