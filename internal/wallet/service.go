package wallet

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/congo-pay/momo_wallet/internal/ledger"
	"github.com/congo-pay/momo_wallet/internal/logging"
	"github.com/congo-pay/momo_wallet/internal/validation"
)

const (
	statusActive    = "active"
	defaultCurrency = "XAF"
)

// Service exposes wallet operations backed by the ledger.
type Service struct {
	repo   Repository
	ledger ledger.Ledger
	logger *slog.Logger
	tracer trace.Tracer
}

// NewService builds a wallet service instance.
func NewService(repo Repository, ledger ledger.Ledger, logger *slog.Logger) *Service {
	return &Service{
		repo:   repo,
		ledger: ledger,
		logger: logging.Component(logger, "wallet"),
		tracer: otel.Tracer("github.com/congo-pay/momo_wallet/internal/wallet"),
	}
}

// CreateInput captures data required to create a wallet.
type CreateInput struct {
	OwnerID  string
	Currency string
}

// Create provisions a wallet and associated ledger account.
func (s *Service) Create(ctx context.Context, input CreateInput) (Wallet, error) {
	if _, err := uuid.Parse(input.OwnerID); err != nil {
		return Wallet{}, validation.Field("owner_id", "uuid")
	}

	walletID := uuid.New().String()
	accountCode := fmt.Sprintf("wallet:%s", walletID)

	if err := s.ledger.EnsureAccount(ctx, accountCode); err != nil {
		return Wallet{}, fmt.Errorf("ensure ledger account: %w", err)
	}

	currency := input.Currency
	if currency == "" {
		currency = defaultCurrency
	}

	wallet := Wallet{
		ID:          walletID,
		OwnerID:     input.OwnerID,
		AccountCode: accountCode,
		Currency:    currency,
		Status:      statusActive,
		CreatedAt:   time.Now().UTC(),
	}

	if err := s.repo.Create(ctx, wallet); err != nil {
		return Wallet{}, err
	}

	s.logger.Info("wallet created", slog.String("wallet_id", wallet.ID), slog.String("owner_id", wallet.OwnerID))
	return wallet, nil
}

// Get retrieves wallet metadata.
func (s *Service) Get(ctx context.Context, id string) (Wallet, error) {
	return s.repo.Get(ctx, id)
}

// GetByOwner retrieves the wallet of a user.
func (s *Service) GetByOwner(ctx context.Context, ownerID string) (Wallet, error) {
	return s.repo.GetByOwner(ctx, ownerID)
}

// Balance returns the ledger balance for the owner's wallet.
func (s *Service) Balance(ctx context.Context, ownerID string) (Balance, error) {
	wallet, err := s.repo.GetByOwner(ctx, ownerID)
	if err != nil {
		return Balance{}, err
	}
	amount, err := s.ledger.Balance(ctx, wallet.AccountCode)
	if err != nil {
		return Balance{}, err
	}
	return Balance{WalletID: wallet.ID, Currency: wallet.Currency, Amount: amount, AsOf: time.Now().UTC()}, nil
}

// Credit adds a completed top-up. A reused reference returns the original transaction
// with ledger.ErrDuplicateTransaction.
func (s *Service) Credit(ctx context.Context, ownerID string, amount decimal.Decimal, reference string) (ledger.Transaction, error) {
	return s.post(ctx, ownerID, ledger.Posting{
		Type:        ledger.TypeTopUp,
		Amount:      amount,
		Description: "Wallet top-up",
		Reference:   reference,
	})
}

// Debit removes funds for a purchase or transfer. Either the balance covers the amount and
// one completed transaction is recorded, or nothing changes.
func (s *Service) Debit(ctx context.Context, ownerID string, amount decimal.Decimal, description string, txType ledger.Type) (ledger.Transaction, error) {
	if txType != ledger.TypePurchase && txType != ledger.TypeTransfer {
		return ledger.Transaction{}, validation.Field("type", "oneof purchase transfer")
	}
	return s.post(ctx, ownerID, ledger.Posting{
		Type:        txType,
		Amount:      amount,
		Description: description,
	})
}

// Refund returns funds to the wallet.
func (s *Service) Refund(ctx context.Context, ownerID string, amount decimal.Decimal, reference, description string) (ledger.Transaction, error) {
	return s.post(ctx, ownerID, ledger.Posting{
		Type:        ledger.TypeRefund,
		Amount:      amount,
		Description: description,
		Reference:   reference,
	})
}

// OpenTopUp records a pending top-up bound to an external reference. The balance moves
// only when SettleTopUp completes it.
func (s *Service) OpenTopUp(ctx context.Context, ownerID string, amount decimal.Decimal, reference string) (ledger.Transaction, error) {
	if err := validation.PositiveAmount(amount); err != nil {
		return ledger.Transaction{}, err
	}
	wallet, err := s.repo.GetByOwner(ctx, ownerID)
	if err != nil {
		return ledger.Transaction{}, err
	}
	return s.ledger.OpenPending(ctx, ledger.Posting{
		AccountCode: wallet.AccountCode,
		Type:        ledger.TypeTopUp,
		Amount:      amount,
		Description: "Mobile money top-up",
		Reference:   reference,
	})
}

// SettleTopUp moves the pending top-up identified by reference to completed or failed.
// Settling an already settled top-up to the same status reports ledger.ErrDuplicateTransaction.
func (s *Service) SettleTopUp(ctx context.Context, reference string, status ledger.Status) (ledger.Transaction, error) {
	ctx, span := s.tracer.Start(ctx, "wallet.SettleTopUp", trace.WithAttributes(
		attribute.String("reference", reference),
		attribute.String("status", string(status)),
	))
	defer span.End()

	pending, err := s.ledger.ByReference(ctx, reference)
	if err != nil {
		span.RecordError(err)
		return ledger.Transaction{}, err
	}
	tx, balance, err := s.ledger.Settle(ctx, pending.ID, status)
	if err != nil {
		if !errors.Is(err, ledger.ErrDuplicateTransaction) {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		return tx, err
	}
	s.logger.Info("top-up settled",
		slog.String("reference", reference),
		slog.String("status", string(tx.Status)),
		slog.String("balance", balance.StringFixed(2)),
	)
	return tx, nil
}

// TopUpByReference returns the ledger entry of a top-up, scoped to the owner.
func (s *Service) TopUpByReference(ctx context.Context, ownerID, reference string) (ledger.Transaction, error) {
	wallet, err := s.repo.GetByOwner(ctx, ownerID)
	if err != nil {
		return ledger.Transaction{}, err
	}
	tx, err := s.ledger.ByReference(ctx, reference)
	if err != nil {
		return ledger.Transaction{}, err
	}
	if tx.AccountCode != wallet.AccountCode {
		return ledger.Transaction{}, ledger.ErrTransactionNotFound
	}
	return tx, nil
}

// PendingTopUps lists top-ups still waiting for their gateway outcome.
func (s *Service) PendingTopUps(ctx context.Context) ([]ledger.Transaction, error) {
	pending, err := s.ledger.Pending(ctx)
	if err != nil {
		return nil, err
	}
	out := pending[:0]
	for _, tx := range pending {
		if tx.Type == ledger.TypeTopUp && tx.Reference != "" {
			out = append(out, tx)
		}
	}
	return out, nil
}

// History lists the owner's transactions, newest first.
func (s *Service) History(ctx context.Context, ownerID string, filter ledger.Filter) ([]ledger.Transaction, error) {
	if filter.Type != "" && !filter.Type.Valid() {
		return nil, validation.Field("type", "oneof topup purchase transfer refund")
	}
	wallet, err := s.repo.GetByOwner(ctx, ownerID)
	if err != nil {
		return nil, err
	}
	return s.ledger.History(ctx, wallet.AccountCode, filter)
}

// TransactionByID fetches one of the owner's transactions.
func (s *Service) TransactionByID(ctx context.Context, ownerID, id string) (ledger.Transaction, error) {
	wallet, err := s.repo.GetByOwner(ctx, ownerID)
	if err != nil {
		return ledger.Transaction{}, err
	}
	return s.ledger.Transaction(ctx, wallet.AccountCode, id)
}

func (s *Service) post(ctx context.Context, ownerID string, p ledger.Posting) (ledger.Transaction, error) {
	ctx, span := s.tracer.Start(ctx, "wallet.Post", trace.WithAttributes(
		attribute.String("owner_id", ownerID),
		attribute.String("type", string(p.Type)),
	))
	defer span.End()

	if err := validation.PositiveAmount(p.Amount); err != nil {
		return ledger.Transaction{}, err
	}
	wallet, err := s.repo.GetByOwner(ctx, ownerID)
	if err != nil {
		return ledger.Transaction{}, err
	}
	p.AccountCode = wallet.AccountCode

	tx, balance, err := s.ledger.Post(ctx, p)
	if err != nil {
		span.RecordError(err)
		if errors.Is(err, ledger.ErrInsufficientFunds) {
			s.logger.Info("debit rejected",
				slog.String("wallet_id", wallet.ID),
				slog.String("amount", p.Amount.StringFixed(2)),
				slog.String("balance", balance.StringFixed(2)),
			)
		} else if !errors.Is(err, ledger.ErrDuplicateTransaction) {
			span.SetStatus(codes.Error, err.Error())
		}
		return tx, err
	}

	s.logger.Info("transaction posted",
		slog.String("wallet_id", wallet.ID),
		slog.String("transaction_id", tx.ID),
		slog.String("type", string(tx.Type)),
		slog.String("amount", tx.Amount.StringFixed(2)),
	)
	return tx, nil
}
