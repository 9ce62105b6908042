package routes

import (
	"github.com/gofiber/fiber/v2"

	"github.com/congo-pay/momo_wallet/internal/payments"
)

// RegisterPaymentRoutes wires airtime and data purchases.
func RegisterPaymentRoutes(r fiber.Router, h *payments.Handler, idempotent fiber.Handler) {
	r.Post("/purchases", idempotent, h.Purchase)
}
