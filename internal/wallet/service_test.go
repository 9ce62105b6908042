package wallet

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/congo-pay/momo_wallet/internal/ledger"
	"github.com/congo-pay/momo_wallet/internal/logging"
	"github.com/congo-pay/momo_wallet/internal/validation"
)

func newTestService(t *testing.T) (*Service, string) {
	t.Helper()
	svc := NewService(NewMemoryRepository(), ledger.NewInMemory(), logging.Discard())
	ownerID := uuid.NewString()
	_, err := svc.Create(context.Background(), CreateInput{OwnerID: ownerID})
	require.NoError(t, err)
	return svc, ownerID
}

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func TestServiceCreateAndBalance(t *testing.T) {
	svc, ownerID := newTestService(t)
	ctx := context.Background()

	wallet, err := svc.GetByOwner(ctx, ownerID)
	require.NoError(t, err)
	assert.Equal(t, "XAF", wallet.Currency)
	assert.Equal(t, statusActive, wallet.Status)
	_, err = svc.Create(ctx, CreateInput{OwnerID: ownerID})
	assert.ErrorIs(t, err, ErrWalletExists, "one wallet per owner")

	_, err = svc.Credit(ctx, ownerID, dec("2500"), "seed")
	require.NoError(t, err)
	balance, err := svc.Balance(ctx, ownerID)
	require.NoError(t, err)
	assert.True(t, balance.Amount.Equal(dec("2500")), "balance %s", balance.Amount)
	assert.Equal(t, wallet.ID, balance.WalletID)
}

func TestServiceDebitScenario(t *testing.T) {
	svc, ownerID := newTestService(t)
	ctx := context.Background()

	_, err := svc.Credit(ctx, ownerID, dec("100.00"), "")
	require.NoError(t, err)
	_, err = svc.Debit(ctx, ownerID, dec("150"), "bundle", ledger.TypePurchase)
	require.ErrorIs(t, err, ledger.ErrInsufficientFunds)
	bal, err := svc.Balance(ctx, ownerID)
	require.NoError(t, err)
	assert.Equal(t, "100.00", bal.Amount.StringFixed(2), "failed debit changed the balance")

	tx, err := svc.Debit(ctx, ownerID, dec("40"), "airtime", ledger.TypePurchase)
	require.NoError(t, err)
	bal, err = svc.Balance(ctx, ownerID)
	require.NoError(t, err)
	assert.Equal(t, "60.00", bal.Amount.StringFixed(2))

	history, err := svc.History(ctx, ownerID, ledger.Filter{})
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, tx.ID, history[0].ID, "newest first")
	assert.Equal(t, ledger.StatusCompleted, history[0].Status)
	assert.Equal(t, "40.00", history[0].Amount.StringFixed(2))

	found, err := svc.TransactionByID(ctx, ownerID, tx.ID)
	require.NoError(t, err)
	assert.Equal(t, tx.ID, found.ID)
}

func TestServiceRejectsBadInput(t *testing.T) {
	svc, ownerID := newTestService(t)
	ctx := context.Background()

	_, err := svc.Debit(ctx, ownerID, dec("0"), "x", ledger.TypePurchase)
	assert.True(t, validation.IsValidation(err), "zero amount: %v", err)
	_, err = svc.Debit(ctx, ownerID, dec("1.005"), "x", ledger.TypePurchase)
	assert.True(t, validation.IsValidation(err), "sub-cent amount: %v", err)
	_, err = svc.Debit(ctx, ownerID, dec("1"), "x", ledger.TypeRefund)
	assert.True(t, validation.IsValidation(err), "refund debit: %v", err)
	_, err = svc.History(ctx, ownerID, ledger.Filter{Type: "bonus"})
	assert.True(t, validation.IsValidation(err), "unknown filter: %v", err)
	_, err = svc.Balance(ctx, uuid.NewString())
	assert.ErrorIs(t, err, ErrWalletNotFound)
}

func TestServiceTopUpSettlesOnce(t *testing.T) {
	svc, ownerID := newTestService(t)
	ctx := context.Background()

	_, err := svc.OpenTopUp(ctx, ownerID, dec("75"), "ref-1")
	require.NoError(t, err)
	pending, err := svc.PendingTopUps(ctx)
	require.NoError(t, err)
	assert.Len(t, pending, 1)

	_, err = svc.SettleTopUp(ctx, "ref-1", ledger.StatusCompleted)
	require.NoError(t, err)
	_, err = svc.SettleTopUp(ctx, "ref-1", ledger.StatusCompleted)
	assert.ErrorIs(t, err, ledger.ErrDuplicateTransaction)
	bal, err := svc.Balance(ctx, ownerID)
	require.NoError(t, err)
	assert.True(t, bal.Amount.Equal(dec("75")), "expected a single credit, got %s", bal.Amount)

	other, _ := newTestService(t)
	_, err = other.TopUpByReference(ctx, ownerID, "ref-1")
	assert.Error(t, err, "top-up must not be visible through another ledger")
	tx, err := svc.TopUpByReference(ctx, ownerID, "ref-1")
	require.NoError(t, err)
	assert.Equal(t, ledger.StatusCompleted, tx.Status)
}
