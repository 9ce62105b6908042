package payments

import (
	"net/http"

	"github.com/gofiber/fiber/v2"
	"github.com/shopspring/decimal"

	"github.com/congo-pay/momo_wallet/internal/wallet"
)

// Handler exposes payment endpoints.
type Handler struct {
	service *Service
}

// NewHandler constructs a payment handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

type purchaseRequest struct {
	Amount      decimal.Decimal `json:"amount"`
	Product     string          `json:"product"`
	Description string          `json:"description"`
	Recipient   string          `json:"recipient"`
}

// Purchase buys airtime or data with the caller's wallet balance.
func (h *Handler) Purchase(c *fiber.Ctx) error {
	var req purchaseRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, "invalid request body")
	}
	uid, _ := c.Locals("user_id").(string)

	res, err := h.service.Purchase(c.UserContext(), uid, PurchaseInput{
		Amount:      req.Amount,
		Product:     Product(req.Product),
		Description: req.Description,
		Recipient:   req.Recipient,
	})
	if err != nil {
		return wallet.ErrorStatus(err)
	}

	return c.Status(http.StatusCreated).JSON(fiber.Map{
		"transaction":  wallet.NewTransactionResponse(res.Transaction),
		"balance":      res.Balance.StringFixed(2),
		"recipient":    res.Recipient,
		"completed_at": res.CompletedAt,
	})
}
