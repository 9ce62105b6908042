package routes

import (
	"net/http"

	"github.com/gofiber/fiber/v2"

	"github.com/congo-pay/momo_wallet/internal/identity"
	"github.com/congo-pay/momo_wallet/internal/wallet"
)

// RegisterProfileRoute exposes the caller's profile together with their wallet balance.
func RegisterProfileRoute(r fiber.Router, ids *identity.Service, wallets *wallet.Service) {
	r.Get("/me", func(c *fiber.Ctx) error {
		uid, _ := c.Locals("user_id").(string)
		if uid == "" {
			return fiber.NewError(http.StatusUnauthorized, "unauthorized")
		}
		profile, err := ids.Profile(c.UserContext(), uid)
		if err != nil {
			return fiber.NewError(http.StatusNotFound, "user not found")
		}
		bal, err := wallets.Balance(c.UserContext(), uid)
		if err != nil {
			return wallet.ErrorStatus(err)
		}
		return c.Status(http.StatusOK).JSON(fiber.Map{
			"user": fiber.Map{
				"id":             uid,
				"full_name":      profile.FullName,
				"phone_number":   profile.PhoneNumber,
				"account_number": profile.AccountNumber,
			},
			"wallet": fiber.Map{
				"id":       bal.WalletID,
				"currency": bal.Currency,
				"balance":  bal.Amount.StringFixed(2),
				"as_of":    bal.AsOf,
			},
		})
	})
}
