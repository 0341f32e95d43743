package http

import (
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/ulule/limiter/v3"
	"github.com/ulule/limiter/v3/drivers/store/memory"

	"github.com/spec-kit/marketplace-support/internal/auth"
	apperrors "github.com/spec-kit/marketplace-support/pkg/util/errorutil"
)

// RateLimitMiddleware bounds requests per caller over a sliding period.
// Authenticated callers are keyed by user id, everyone else by client IP.
func RateLimitMiddleware(limit int64, period time.Duration) fiber.Handler {
	if limit <= 0 {
		limit = 60
	}
	if period <= 0 {
		period = time.Minute
	}
	instance := limiter.New(memory.NewStore(), limiter.Rate{Period: period, Limit: limit})

	return func(c *fiber.Ctx) error {
		key := "ip:" + c.IP()
		if principal, ok := auth.PrincipalFromContext(c); ok {
			key = "user:" + principal.UserID
		}
		state, err := instance.Get(c.UserContext(), key)
		if err != nil {
			return apperrors.NewInternalError(err)
		}

		c.Set("X-RateLimit-Limit", strconv.FormatInt(state.Limit, 10))
		c.Set("X-RateLimit-Remaining", strconv.FormatInt(state.Remaining, 10))
		c.Set("X-RateLimit-Reset", strconv.FormatInt(state.Reset, 10))

		if state.Reached {
			return apperrors.NewRateLimited("too many requests, try again later")
		}
		return c.Next()
	}
}
