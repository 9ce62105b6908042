package routes

import (
	"github.com/gofiber/fiber/v2"

	"github.com/congo-pay/momo_wallet/internal/wallet"
)

// RegisterWalletRoutes wires wallet-related endpoints.
func RegisterWalletRoutes(r fiber.Router, h *wallet.Handler, idempotent fiber.Handler) {
	r.Get("/wallet/balance", h.Balance)
	r.Get("/wallet/transactions", h.Transactions)
	r.Get("/wallet/transactions/:id", h.Transaction)
	r.Post("/wallet/deduct", idempotent, h.Deduct)
}
