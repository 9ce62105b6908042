package middleware

import (
	"net/http/httptest"
	"strings"
	"testing"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/gofiber/fiber/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/congo-pay/momo_wallet/internal/logging"
)

func TestLoginRateLimitPerIdentifier(t *testing.T) {
	mr := miniredis.RunT(t)
	cache := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { cache.Close() })

	app := fiber.New()
	app.Post("/login", LoginRateLimit(cache, 2, logging.Discard()), func(c *fiber.Ctx) error {
		return c.SendStatus(fiber.StatusOK)
	})
	attempt := func(identifier string) int {
		req := httptest.NewRequest(fiber.MethodPost, "/login", strings.NewReader(`{"identifier":"`+identifier+`"}`))
		req.Header.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)
		resp, err := app.Test(req)
		require.NoError(t, err)
		resp.Body.Close()
		return resp.StatusCode
	}

	for i := 0; i < 2; i++ {
		assert.Equal(t, fiber.StatusOK, attempt("ama@example.cg"), "attempt %d", i+1)
	}
	assert.Equal(t, fiber.StatusTooManyRequests, attempt("AMA@example.cg"))
	assert.Equal(t, fiber.StatusOK, attempt("other@example.cg"), "other identifiers are unaffected")
	assert.Positive(t, mr.TTL(loginRateKeyPrefix+"ama@example.cg"), "counter should expire")
}
