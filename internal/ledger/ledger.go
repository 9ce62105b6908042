// Package ledger stores wallet balances next to their append-only transaction log.
// A balance change and the transaction that explains it are always written together.
package ledger

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

var (
	// ErrInsufficientFunds occurs when the account lacks available balance
	// to cover a requested debit.
	ErrInsufficientFunds = errors.New("insufficient funds")

	// ErrDuplicateTransaction indicates the external reference was already recorded;
	// the existing transaction is returned alongside it.
	ErrDuplicateTransaction = errors.New("duplicate transaction")

	// ErrTransactionNotFound is returned for unknown transaction ids and references.
	ErrTransactionNotFound = errors.New("transaction not found")

	// ErrAccountNotFound is returned for unknown account codes.
	ErrAccountNotFound = errors.New("account not found")

	// ErrInvalidTransition rejects any status change other than pending to completed or failed.
	ErrInvalidTransition = errors.New("invalid status transition")

	// ErrInvalidPosting rejects non-positive amounts and unknown types.
	ErrInvalidPosting = errors.New("invalid posting")
)

// Type classifies a transaction.
type Type string

const (
	TypeTopUp    Type = "topup"
	TypePurchase Type = "purchase"
	TypeTransfer Type = "transfer"
	TypeRefund   Type = "refund"
)

// IsCredit reports whether the type adds to the balance.
func (t Type) IsCredit() bool {
	return t == TypeTopUp || t == TypeRefund
}

// Valid reports whether t is a known type.
func (t Type) Valid() bool {
	switch t {
	case TypeTopUp, TypePurchase, TypeTransfer, TypeRefund:
		return true
	}
	return false
}

// Status is the lifecycle state of a transaction.
type Status string

const (
	StatusPending   Status = "pending"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// Transaction is one entry of the log.
type Transaction struct {
	ID          string
	AccountCode string
	Type        Type
	Amount      decimal.Decimal
	Description string
	Status      Status
	Reference   string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Posting requests a new transaction.
type Posting struct {
	AccountCode string
	Type        Type
	Amount      decimal.Decimal
	Description string
	Reference   string
}

// Filter narrows History. Zero values match everything.
type Filter struct {
	Type   Type
	Status Status
	Limit  int
}

func (f Filter) match(tx Transaction) bool {
	if f.Type != "" && tx.Type != f.Type {
		return false
	}
	if f.Status != "" && tx.Status != f.Status {
		return false
	}
	return true
}

// Ledger defines the contract implemented by ledger backends (e.g. Postgres).
type Ledger interface {
	EnsureAccount(ctx context.Context, code string) error
	Balance(ctx context.Context, code string) (decimal.Decimal, error)
	// Post records a completed transaction and applies it to the balance.
	Post(ctx context.Context, p Posting) (Transaction, decimal.Decimal, error)
	// OpenPending records a pending credit; the balance moves only when it settles.
	OpenPending(ctx context.Context, p Posting) (Transaction, error)
	// Settle moves a pending transaction to completed or failed.
	Settle(ctx context.Context, id string, status Status) (Transaction, decimal.Decimal, error)
	Transaction(ctx context.Context, code, id string) (Transaction, error)
	ByReference(ctx context.Context, reference string) (Transaction, error)
	History(ctx context.Context, code string, f Filter) ([]Transaction, error)
	Pending(ctx context.Context) ([]Transaction, error)
}

func checkPosting(p Posting) error {
	if !p.Type.Valid() || !p.Amount.IsPositive() || p.AccountCode == "" {
		return ErrInvalidPosting
	}
	return nil
}
