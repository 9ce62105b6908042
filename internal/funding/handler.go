package funding

import (
	"errors"
	"net/http"

	"github.com/gofiber/fiber/v2"

	"github.com/congo-pay/momo_wallet/internal/collection"
	"github.com/congo-pay/momo_wallet/internal/ledger"
	"github.com/congo-pay/momo_wallet/internal/wallet"
)

const statusProcessing = "processing"

// Handler exposes HTTP endpoints for mobile-money funding.
type Handler struct {
	service *Service
}

// NewHandler constructs a funding handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// TopUp starts a mobile-money top-up of the caller's wallet.
func (h *Handler) TopUp(c *fiber.Ctx) error {
	var req TopUpRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, "invalid request body")
	}

	result, err := h.service.TopUp(c.UserContext(), userID(c), TopUpInput{Amount: req.Amount, MSISDN: req.MSISDN})
	if err != nil {
		return errorStatus(err)
	}
	return c.Status(http.StatusAccepted).JSON(toResponse(result))
}

// Status reports the state of one of the caller's top-ups.
func (h *Handler) Status(c *fiber.Ctx) error {
	result, err := h.service.Status(c.UserContext(), userID(c), c.Params("reference"))
	if err != nil {
		return errorStatus(err)
	}
	code := http.StatusOK
	if result.Processing() {
		code = http.StatusAccepted
	}
	return c.Status(code).JSON(toResponse(result))
}

func toResponse(result TopUpResult) TopUpResponse {
	status := string(result.Transaction.Status)
	if result.Processing() {
		status = statusProcessing
	}
	return TopUpResponse{
		Reference:     result.Request.ReferenceID,
		Status:        status,
		GatewayStatus: string(result.Request.Status),
		Reason:        result.Request.Reason,
		TransactionID: result.Transaction.ID,
		Amount:        result.Transaction.Amount.StringFixed(2),
		UpdatedAt:     result.Transaction.UpdatedAt,
	}
}

func errorStatus(err error) error {
	switch {
	case collection.IsGatewayError(err):
		return fiber.NewError(http.StatusServiceUnavailable, "payment gateway unavailable, try again")
	case errors.Is(err, collection.ErrInvalidRequest):
		return fiber.NewError(http.StatusBadRequest, err.Error())
	case errors.Is(err, ledger.ErrTransactionNotFound):
		return fiber.NewError(http.StatusNotFound, "top-up not found")
	default:
		return wallet.ErrorStatus(err)
	}
}

func userID(c *fiber.Ctx) string {
	uid, _ := c.Locals("user_id").(string)
	return uid
}
