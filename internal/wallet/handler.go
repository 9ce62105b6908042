package wallet

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/shopspring/decimal"

	"github.com/congo-pay/momo_wallet/internal/ledger"
	"github.com/congo-pay/momo_wallet/internal/validation"
)

const maxHistoryLimit = 200

// Handler exposes wallet HTTP endpoints.
type Handler struct {
	service *Service
}

// NewHandler builds a wallet HTTP handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

type deductRequest struct {
	Amount      decimal.Decimal `json:"amount"`
	Description string          `json:"description" validate:"required,max=140"`
	Type        string          `json:"type" validate:"omitempty,oneof=purchase transfer"`
}

// TransactionResponse is the wire shape of a ledger transaction.
type TransactionResponse struct {
	ID          string    `json:"id"`
	Type        string    `json:"type"`
	Amount      string    `json:"amount"`
	Description string    `json:"description"`
	Status      string    `json:"status"`
	Reference   string    `json:"reference,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// NewTransactionResponse converts a ledger transaction for the presentation layer.
func NewTransactionResponse(tx ledger.Transaction) TransactionResponse {
	return TransactionResponse{
		ID:          tx.ID,
		Type:        string(tx.Type),
		Amount:      tx.Amount.StringFixed(2),
		Description: tx.Description,
		Status:      string(tx.Status),
		Reference:   tx.Reference,
		CreatedAt:   tx.CreatedAt,
	}
}

// Balance returns the caller's wallet balance.
func (h *Handler) Balance(c *fiber.Ctx) error {
	balance, err := h.service.Balance(c.UserContext(), userID(c))
	if err != nil {
		return ErrorStatus(err)
	}
	return c.Status(http.StatusOK).JSON(fiber.Map{
		"wallet_id": balance.WalletID,
		"currency":  balance.Currency,
		"balance":   balance.Amount.StringFixed(2),
		"timestamp": balance.AsOf,
	})
}

// Transactions lists the caller's history, newest first, optionally filtered by ?type=.
func (h *Handler) Transactions(c *fiber.Ctx) error {
	filter := ledger.Filter{Type: ledger.Type(c.Query("type")), Limit: maxHistoryLimit}
	if raw := c.Query("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit <= 0 {
			return fiber.NewError(http.StatusBadRequest, "invalid limit")
		}
		if limit < maxHistoryLimit {
			filter.Limit = limit
		}
	}
	txs, err := h.service.History(c.UserContext(), userID(c), filter)
	if err != nil {
		return ErrorStatus(err)
	}
	out := make([]TransactionResponse, 0, len(txs))
	for _, tx := range txs {
		out = append(out, NewTransactionResponse(tx))
	}
	return c.Status(http.StatusOK).JSON(fiber.Map{"transactions": out})
}

// Transaction returns one of the caller's transactions.
func (h *Handler) Transaction(c *fiber.Ctx) error {
	tx, err := h.service.TransactionByID(c.UserContext(), userID(c), c.Params("id"))
	if err != nil {
		return ErrorStatus(err)
	}
	return c.Status(http.StatusOK).JSON(NewTransactionResponse(tx))
}

// Deduct debits the caller's wallet.
func (h *Handler) Deduct(c *fiber.Ctx) error {
	var req deductRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, "invalid request body")
	}
	if err := validation.Struct(req); err != nil {
		return ErrorStatus(err)
	}
	txType := ledger.TypePurchase
	if req.Type != "" {
		txType = ledger.Type(req.Type)
	}
	tx, err := h.service.Debit(c.UserContext(), userID(c), req.Amount, req.Description, txType)
	if err != nil {
		return ErrorStatus(err)
	}
	balance, err := h.service.Balance(c.UserContext(), userID(c))
	if err != nil {
		return ErrorStatus(err)
	}
	return c.Status(http.StatusCreated).JSON(fiber.Map{
		"transaction": NewTransactionResponse(tx),
		"balance":     balance.Amount.StringFixed(2),
	})
}

// ErrorStatus maps wallet and ledger errors onto HTTP errors.
func ErrorStatus(err error) error {
	switch {
	case validation.IsValidation(err):
		return fiber.NewError(http.StatusBadRequest, err.Error())
	case errors.Is(err, ledger.ErrInsufficientFunds):
		return fiber.NewError(http.StatusPaymentRequired, "insufficient funds")
	case errors.Is(err, ledger.ErrDuplicateTransaction):
		return fiber.NewError(http.StatusConflict, "duplicate transaction")
	case errors.Is(err, ledger.ErrTransactionNotFound):
		return fiber.NewError(http.StatusNotFound, "transaction not found")
	case errors.Is(err, ErrWalletNotFound), errors.Is(err, ledger.ErrAccountNotFound):
		return fiber.NewError(http.StatusNotFound, "wallet not found")
	case errors.Is(err, ledger.ErrInvalidPosting):
		return fiber.NewError(http.StatusBadRequest, "invalid amount")
	default:
		return fiber.NewError(http.StatusInternalServerError, "internal error")
	}
}

func userID(c *fiber.Ctx) string {
	uid, _ := c.Locals("user_id").(string)
	return uid
}
