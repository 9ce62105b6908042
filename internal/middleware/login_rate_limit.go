package middleware

import (
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/redis/go-redis/v9"
)

const loginRateKeyPrefix = "rl:login:"

// LoginRateLimit caps login attempts per identifier, or per client IP when the body has none.
// It is a no-op without Redis and fails open on cache errors.
func LoginRateLimit(cache *redis.Client, maxPerMin int, logger *slog.Logger) fiber.Handler {
	if maxPerMin <= 0 {
		maxPerMin = 5
	}
	return func(c *fiber.Ctx) error {
		if cache == nil {
			return c.Next()
		}
		var req struct {
			Identifier string `json:"identifier"`
		}
		_ = c.BodyParser(&req)
		subject := strings.ToLower(strings.TrimSpace(req.Identifier))
		if subject == "" {
			subject = c.IP()
		}

		key := loginRateKeyPrefix + subject
		count, err := cache.Incr(c.UserContext(), key).Result()
		if err != nil {
			logger.Warn("login rate limit unavailable", slog.Any("error", err))
			return c.Next()
		}
		if count == 1 {
			cache.Expire(c.UserContext(), key, time.Minute)
		}
		if count > int64(maxPerMin) {
			return fiber.NewError(http.StatusTooManyRequests, "too many login attempts, try again later")
		}
		return c.Next()
	}
}
