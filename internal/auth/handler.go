package auth

import (
	"errors"
	"net/http"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/congo-pay/momo_wallet/internal/otp"
	"github.com/congo-pay/momo_wallet/internal/validation"
)

// Handler exposes the login state machine over HTTP.
type Handler struct {
	svc    *Service
	tokens *Tokens
}

// NewHandler builds the auth HTTP handler.
func NewHandler(svc *Service, tokens *Tokens) *Handler {
	return &Handler{svc: svc, tokens: tokens}
}

type loginRequest struct {
	Identifier string `json:"identifier" validate:"required"`
	Password   string `json:"password" validate:"required"`
}

type loginResponse struct {
	UserID      string    `json:"user_id"`
	Token       string    `json:"token"`
	ExpiresAt   time.Time `json:"expires_at"`
	State       State     `json:"state"`
	RequiresOTP bool      `json:"requires_otp"`
	Warning     string    `json:"warning,omitempty"`
}

type verifyRequest struct {
	Code string `json:"code" validate:"required,len=6,numeric"`
}

type resetRequest struct {
	Email string `json:"email"`
}

// Login validates credentials and returns a session token still awaiting its passcode.
func (h *Handler) Login(c *fiber.Ctx) error {
	var req loginRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, "invalid request body")
	}
	if err := validation.Struct(req); err != nil {
		return ErrorStatus(err)
	}

	res, err := h.svc.Login(c.UserContext(), req.Identifier, req.Password)
	if err != nil {
		return ErrorStatus(err)
	}
	token, exp, err := h.tokens.Issue(res.SessionID, res.UserID)
	if err != nil {
		return fiber.NewError(http.StatusInternalServerError, "could not issue token")
	}

	out := loginResponse{UserID: res.UserID, Token: token, ExpiresAt: exp, State: StateAuthenticated, RequiresOTP: res.RequiresOTP}
	if res.DeliveryErr != nil {
		out.Warning = "verification code could not be delivered, request a new one"
	}
	return c.Status(http.StatusOK).JSON(out)
}

// VerifyOTP completes the step-up of the caller's session.
func (h *Handler) VerifyOTP(c *fiber.Ctx) error {
	var req verifyRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, "invalid request body")
	}
	if err := validation.Struct(req); err != nil {
		return ErrorStatus(err)
	}

	user, err := h.svc.VerifyOTP(c.UserContext(), sessionID(c), req.Code)
	if err != nil {
		var otpErr *otp.Error
		if errors.As(err, &otpErr) && otpErr.Reason == otp.ReasonMismatch {
			return c.Status(http.StatusUnauthorized).JSON(fiber.Map{
				"error":              "invalid code",
				"reason":             otpErr.Reason,
				"attempts_remaining": otpErr.Remaining,
			})
		}
		return ErrorStatus(err)
	}
	return c.Status(http.StatusOK).JSON(fiber.Map{
		"state":          StateVerified,
		"user_id":        user.ID,
		"full_name":      user.FullName,
		"phone_number":   user.Phone,
		"account_number": user.AccountNumber,
	})
}

// ResendOTP sends a fresh passcode for the caller's pending login.
func (h *Handler) ResendOTP(c *fiber.Ctx) error {
	msg, err := h.svc.ResendOTP(c.UserContext(), sessionID(c))
	if err != nil {
		return ErrorStatus(err)
	}
	return c.Status(http.StatusOK).JSON(fiber.Map{"message": msg})
}

// Logout ends the caller's session.
func (h *Handler) Logout(c *fiber.Ctx) error {
	if err := h.svc.Logout(c.UserContext(), sessionID(c)); err != nil {
		return ErrorStatus(err)
	}
	return c.Status(http.StatusOK).JSON(fiber.Map{"state": StateLoggedOut})
}

// Resume re-establishes the caller's session after an app restart.
func (h *Handler) Resume(c *fiber.Ctx) error {
	sess, err := h.svc.Resume(c.UserContext(), sessionID(c))
	if err != nil {
		return ErrorStatus(err)
	}
	if sess.State == StateLoggedOut {
		return fiber.NewError(http.StatusUnauthorized, "session expired")
	}
	out := fiber.Map{
		"state":        sess.State,
		"user_id":      sess.UserID,
		"requires_otp": sess.State == StateAuthenticated,
	}
	if !sess.VerifiedUntil.IsZero() {
		out["verified_until"] = sess.VerifiedUntil
	}
	if sess.DeliveryErr != nil {
		out["warning"] = "verification code could not be delivered, request a new one"
	}
	return c.Status(http.StatusOK).JSON(out)
}

// ResetPassword starts a password reset. It answers the same way for unknown emails.
func (h *Handler) ResetPassword(c *fiber.Ctx) error {
	var req resetRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, "invalid request body")
	}
	if err := h.svc.ResetPassword(c.UserContext(), req.Email); err != nil {
		return ErrorStatus(err)
	}
	return c.Status(http.StatusAccepted).JSON(fiber.Map{"message": "If the address is registered, a reset code has been sent."})
}

// ErrorStatus maps auth and passcode errors onto HTTP errors.
func ErrorStatus(err error) error {
	switch {
	case validation.IsValidation(err):
		return fiber.NewError(http.StatusBadRequest, err.Error())
	case errors.Is(err, ErrAuth):
		return fiber.NewError(http.StatusUnauthorized, "invalid credentials")
	case errors.Is(err, ErrSessionNotFound):
		return fiber.NewError(http.StatusUnauthorized, "session expired")
	case errors.Is(err, ErrNoPendingUser):
		return fiber.NewError(http.StatusConflict, "no verification pending")
	case errors.Is(err, otp.ErrExpired):
		return fiber.NewError(http.StatusGone, "code expired, request a new one")
	case errors.Is(err, otp.ErrTooManyAttempts):
		return fiber.NewError(http.StatusTooManyRequests, "too many attempts, request a new code")
	case errors.Is(err, otp.ErrNotFound):
		return fiber.NewError(http.StatusUnauthorized, "no active code, request a new one")
	case errors.Is(err, otp.ErrMismatch):
		return fiber.NewError(http.StatusUnauthorized, "invalid code")
	case errors.Is(err, otp.ErrDelivery):
		return fiber.NewError(http.StatusBadGateway, "verification code could not be delivered")
	default:
		return fiber.NewError(http.StatusInternalServerError, "internal error")
	}
}

func sessionID(c *fiber.Ctx) string {
	sid, _ := c.Locals("session_id").(string)
	return sid
}
