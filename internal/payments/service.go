package payments

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/congo-pay/momo_wallet/internal/identity"
	"github.com/congo-pay/momo_wallet/internal/ledger"
	"github.com/congo-pay/momo_wallet/internal/logging"
	"github.com/congo-pay/momo_wallet/internal/notification"
	"github.com/congo-pay/momo_wallet/internal/validation"
	"github.com/congo-pay/momo_wallet/internal/wallet"
)

// Profiles resolves the phone number receipts are sent to.
type Profiles interface {
	Profile(ctx context.Context, userID string) (identity.Profile, error)
}

// Service pays for airtime and data bundles out of the wallet.
type Service struct {
	walletService *wallet.Service
	profiles      Profiles
	notifier      notification.Notifier
	logger        *slog.Logger
}

// NewService constructs a payment service.
func NewService(walletService *wallet.Service, profiles Profiles, notifier notification.Notifier, logger *slog.Logger) *Service {
	return &Service{walletService: walletService, profiles: profiles, notifier: notifier, logger: logging.Component(logger, "payments")}
}

// Product is what a purchase buys.
type Product string

const (
	ProductAirtime Product = "airtime"
	ProductData    Product = "data"
)

// PurchaseInput captures a wallet-funded purchase.
type PurchaseInput struct {
	Amount      decimal.Decimal
	Product     Product `validate:"required,oneof=airtime data"`
	Description string  `validate:"max=140"`
	Recipient   string  `validate:"omitempty,msisdn"`
}

// PurchaseResult describes the ledger outcome of a purchase.
type PurchaseResult struct {
	Transaction ledger.Transaction
	Balance     decimal.Decimal
	Recipient   string
	CompletedAt time.Time
}

// Purchase debits the wallet and sends an SMS receipt. An insufficient balance fails with
// ledger.ErrInsufficientFunds and leaves the wallet untouched.
func (s *Service) Purchase(ctx context.Context, ownerID string, input PurchaseInput) (PurchaseResult, error) {
	input.Recipient = strings.TrimSpace(input.Recipient)
	if err := validation.Struct(input); err != nil {
		return PurchaseResult{}, err
	}

	var phone string
	if s.profiles != nil {
		profile, err := s.profiles.Profile(ctx, ownerID)
		if err != nil {
			return PurchaseResult{}, err
		}
		phone = profile.PhoneNumber
	}
	recipient := input.Recipient
	if recipient == "" {
		recipient = phone
	}

	description := input.Description
	if description == "" {
		description = fmt.Sprintf("%s purchase", input.Product)
	}
	if recipient != "" {
		description = fmt.Sprintf("%s for %s", description, recipient)
	}

	tx, err := s.walletService.Debit(ctx, ownerID, input.Amount, description, ledger.TypePurchase)
	if err != nil {
		return PurchaseResult{}, err
	}
	balance, err := s.walletService.Balance(ctx, ownerID)
	if err != nil {
		return PurchaseResult{}, err
	}

	if s.notifier != nil && phone != "" {
		body := fmt.Sprintf("%s of %s %s confirmed. New balance: %s %s. Ref: %s",
			strings.ToUpper(string(input.Product[:1]))+string(input.Product[1:]),
			tx.Amount.StringFixed(2), balance.Currency,
			balance.Amount.StringFixed(2), balance.Currency, tx.ID)
		if _, err := s.notifier.Send(ctx, notification.Message{Kind: notification.KindPurchase, Destination: phone, Body: body}); err != nil {
			s.logger.Warn("purchase receipt delivery failed", slog.String("transaction_id", tx.ID), slog.Any("error", err))
		}
	}

	return PurchaseResult{
		Transaction: tx,
		Balance:     balance.Amount,
		Recipient:   recipient,
		CompletedAt: tx.CreatedAt,
	}, nil
}
