package routes

import (
	"github.com/gofiber/fiber/v2"

	"github.com/congo-pay/momo_wallet/internal/auth"
)

// RegisterAuthRoutes wires the login state machine. Login and password reset are public;
// the rest act on the caller's session, whatever its state.
func RegisterAuthRoutes(r fiber.Router, h *auth.Handler, session, rateLimiter fiber.Handler) {
	group := r.Group("/auth")
	group.Post("/login", rateLimiter, h.Login)
	group.Post("/password/reset", h.ResetPassword)

	group.Post("/otp/verify", session, h.VerifyOTP)
	group.Post("/otp/resend", session, h.ResendOTP)
	group.Post("/resume", session, h.Resume)
	group.Post("/logout", session, h.Logout)
}
