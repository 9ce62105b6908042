package routes

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/gofiber/fiber/v2"

	"github.com/congo-pay/momo_wallet/internal/identity"
	"github.com/congo-pay/momo_wallet/internal/validation"
	"github.com/congo-pay/momo_wallet/internal/wallet"
)

// RegisterIdentityRoutes wires registration, which also provisions the user's wallet, and
// the completion of a password reset.
func RegisterIdentityRoutes(r fiber.Router, ids *identity.Service, wallets *wallet.Service, logger *slog.Logger) {
	r.Post("/identity/register", func(c *fiber.Ctx) error {
		var req identity.Registration
		if err := c.BodyParser(&req); err != nil {
			return fiber.NewError(http.StatusBadRequest, "invalid request body")
		}
		user, err := ids.Register(c.UserContext(), req)
		if err != nil {
			return identityError(err)
		}
		w, err := wallets.Create(c.UserContext(), wallet.CreateInput{OwnerID: user.ID})
		if err != nil {
			logger.Error("wallet provisioning failed", slog.String("user_id", user.ID), slog.Any("error", err))
			return fiber.NewError(http.StatusInternalServerError, "wallet provisioning failed")
		}
		logger.Info("identity.register completed",
			slog.String("user_id", user.ID),
			slog.String("wallet_id", w.ID),
		)
		return c.Status(http.StatusCreated).JSON(fiber.Map{
			"user_id":        user.ID,
			"full_name":      user.FullName,
			"email":          user.Email,
			"phone_number":   user.Phone,
			"account_number": user.AccountNumber,
			"wallet_id":      w.ID,
			"currency":       w.Currency,
		})
	})

	r.Post("/auth/password/confirm", func(c *fiber.Ctx) error {
		var req struct {
			Token    string `json:"token"`
			Password string `json:"password"`
		}
		if err := c.BodyParser(&req); err != nil {
			return fiber.NewError(http.StatusBadRequest, "invalid request body")
		}
		if err := ids.ConfirmReset(c.UserContext(), req.Token, req.Password); err != nil {
			return identityError(err)
		}
		return c.SendStatus(http.StatusNoContent)
	})
}

func identityError(err error) error {
	switch {
	case validation.IsValidation(err):
		return fiber.NewError(http.StatusBadRequest, err.Error())
	case errors.Is(err, identity.ErrUserExists):
		return fiber.NewError(http.StatusConflict, "email or phone number already registered")
	case errors.Is(err, identity.ErrResetTokenInvalid):
		return fiber.NewError(http.StatusBadRequest, "reset token invalid or expired")
	default:
		return fiber.NewError(http.StatusInternalServerError, "internal error")
	}
}
