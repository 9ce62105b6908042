package routes

import (
	"github.com/gofiber/fiber/v2"

	"github.com/congo-pay/momo_wallet/internal/funding"
)

// RegisterFundingRoutes wires mobile-money top-up endpoints.
func RegisterFundingRoutes(r fiber.Router, h *funding.Handler, idempotent fiber.Handler) {
	r.Post("/wallet/topup", idempotent, h.TopUp)
	r.Get("/wallet/topup/:reference", h.Status)
}
