package middleware

import (
	"errors"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/telio-letalle/Pronote-sub002/internal/httpx"
	"github.com/telio-letalle/Pronote-sub002/internal/ratelimit"
)

// RateLimit throttles a route per principal. Runs after AuthRequired.
func RateLimit(limiter *ratelimit.Limiter, bucket string, limit int64, window time.Duration) fiber.Handler {
	return func(c *fiber.Ctx) error {
		p := httpx.LocalPrincipal(c)
		err := limiter.Allow(c.Context(), p, bucket, limit, window)
		if err != nil {
			if errors.Is(err, ratelimit.ErrRateLimited) {
				return httpx.TooManyRequests(c, "rate_limited", "Too many requests, slow down")
			}
			return err
		}
		return c.Next()
	}
}
