package payments

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/congo-pay/momo_wallet/internal/identity"
	"github.com/congo-pay/momo_wallet/internal/ledger"
	"github.com/congo-pay/momo_wallet/internal/logging"
	"github.com/congo-pay/momo_wallet/internal/notification"
	"github.com/congo-pay/momo_wallet/internal/validation"
	"github.com/congo-pay/momo_wallet/internal/wallet"
)

type testNotifier struct {
	sent []notification.Message
	err  error
}

func (n *testNotifier) Send(_ context.Context, msg notification.Message) (notification.Receipt, error) {
	n.sent = append(n.sent, msg)
	return notification.Receipt{MessageID: "sm-1"}, n.err
}

type staticProfiles map[string]identity.Profile

func (p staticProfiles) Profile(_ context.Context, userID string) (identity.Profile, error) {
	profile, ok := p[userID]
	if !ok {
		return identity.Profile{}, identity.ErrUserNotFound
	}
	return profile, nil
}

func setup(t *testing.T, balance string) (*Service, *wallet.Service, *testNotifier, string) {
	t.Helper()
	ctx := context.Background()
	walletSvc := wallet.NewService(wallet.NewMemoryRepository(), ledger.NewInMemory(), logging.Discard())
	ownerID := uuid.NewString()
	_, err := walletSvc.Create(ctx, wallet.CreateInput{OwnerID: ownerID, Currency: "XAF"})
	require.NoError(t, err)
	if balance != "0" {
		_, err := walletSvc.Credit(ctx, ownerID, decimal.RequireFromString(balance), "")
		require.NoError(t, err)
	}
	notifier := &testNotifier{}
	profiles := staticProfiles{ownerID: {FullName: "Ada N.", PhoneNumber: "+242061234567", AccountNumber: "1234567890"}}
	return NewService(walletSvc, profiles, notifier, logging.Discard()), walletSvc, notifier, ownerID
}

func TestPurchaseSuccess(t *testing.T) {
	svc, _, notifier, ownerID := setup(t, "100.00")

	res, err := svc.Purchase(context.Background(), ownerID, PurchaseInput{Amount: decimal.NewFromInt(40), Product: ProductAirtime})
	require.NoError(t, err)
	assert.Equal(t, "60.00", res.Balance.StringFixed(2))
	assert.Equal(t, ledger.TypePurchase, res.Transaction.Type)
	assert.Equal(t, ledger.StatusCompleted, res.Transaction.Status)
	assert.Equal(t, "+242061234567", res.Recipient, "recipient defaults to the owner's phone")

	require.Len(t, notifier.sent, 1)
	assert.Equal(t, notification.KindPurchase, notifier.sent[0].Kind)
	assert.Equal(t, "+242061234567", notifier.sent[0].Destination)
}

func TestPurchaseInsufficientFunds(t *testing.T) {
	svc, walletSvc, notifier, ownerID := setup(t, "100.00")
	ctx := context.Background()

	_, err := svc.Purchase(ctx, ownerID, PurchaseInput{Amount: decimal.NewFromInt(150), Product: ProductData})
	require.ErrorIs(t, err, ledger.ErrInsufficientFunds)
	bal, err := walletSvc.Balance(ctx, ownerID)
	require.NoError(t, err)
	assert.Equal(t, "100.00", bal.Amount.StringFixed(2))
	assert.Empty(t, notifier.sent, "no receipt on failure")
}

func TestPurchaseReceiptFailureDoesNotFail(t *testing.T) {
	svc, _, notifier, ownerID := setup(t, "10")
	notifier.err = errors.New("sms down")

	_, err := svc.Purchase(context.Background(), ownerID, PurchaseInput{Amount: decimal.NewFromInt(5), Product: ProductData, Recipient: "242069999999"})
	assert.NoError(t, err, "purchase should succeed despite receipt failure")
}

func TestPurchaseValidation(t *testing.T) {
	svc, _, _, ownerID := setup(t, "10")
	ctx := context.Background()

	_, err := svc.Purchase(ctx, ownerID, PurchaseInput{Amount: decimal.NewFromInt(5), Product: "voucher"})
	assert.True(t, validation.IsValidation(err), "unknown product: %v", err)
	_, err = svc.Purchase(ctx, ownerID, PurchaseInput{Amount: decimal.NewFromInt(-5), Product: ProductAirtime})
	assert.True(t, validation.IsValidation(err), "negative amount: %v", err)
}
