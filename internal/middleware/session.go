package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/gofiber/fiber/v2"

	"github.com/congo-pay/momo_wallet/internal/auth"
)

// SessionResolver reports the current state of a session.
type SessionResolver interface {
	Current(ctx context.Context, sessionID string) (auth.Session, error)
}

// Session validates the bearer token and loads the session it names. Authenticated and
// Verified sessions pass; the state is left in Locals for RequireVerified.
func Session(tokens *auth.Tokens, sessions SessionResolver) fiber.Handler {
	return func(c *fiber.Ctx) error {
		authz := c.Get(fiber.HeaderAuthorization)
		if len(authz) < 7 || !strings.EqualFold(authz[:7], "bearer ") {
			return fiber.NewError(http.StatusUnauthorized, "missing bearer token")
		}
		claims, err := tokens.Parse(strings.TrimSpace(authz[7:]))
		if err != nil {
			return fiber.NewError(http.StatusUnauthorized, "invalid token")
		}

		sess, err := sessions.Current(c.UserContext(), claims.SessionID)
		if err != nil {
			return fiber.NewError(http.StatusInternalServerError, "session lookup failed")
		}
		if sess.State == auth.StateLoggedOut {
			return fiber.NewError(http.StatusUnauthorized, "session expired")
		}

		c.Locals("session_id", sess.ID)
		c.Locals("user_id", sess.UserID)
		c.Locals("session_state", sess.State)
		return c.Next()
	}
}

// RequireVerified rejects sessions that have not completed the passcode step.
func RequireVerified() fiber.Handler {
	return func(c *fiber.Ctx) error {
		if state, _ := c.Locals("session_state").(auth.State); state != auth.StateVerified {
			return fiber.NewError(http.StatusForbidden, "verification code required")
		}
		return c.Next()
	}
}
