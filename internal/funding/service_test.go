package funding

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/congo-pay/momo_wallet/internal/collection"
	"github.com/congo-pay/momo_wallet/internal/ledger"
	"github.com/congo-pay/momo_wallet/internal/logging"
	"github.com/congo-pay/momo_wallet/internal/notification"
	"github.com/congo-pay/momo_wallet/internal/validation"
	"github.com/congo-pay/momo_wallet/internal/wallet"
)

const payer = "242061234567"

type recordingNotifier struct {
	mu       sync.Mutex
	messages []notification.Message
}

func (n *recordingNotifier) Send(_ context.Context, msg notification.Message) (notification.Receipt, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.messages = append(n.messages, msg)
	return notification.Receipt{MessageID: "msg"}, nil
}

func (n *recordingNotifier) count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.messages)
}

// lostReplyGateway accepts the first order but reports a timeout, as if the reply was lost.
type lostReplyGateway struct {
	*collection.StaticGateway
	mu    sync.Mutex
	calls int
}

func (g *lostReplyGateway) RequestCollection(ctx context.Context, token string, order collection.Order) error {
	g.mu.Lock()
	g.calls++
	first := g.calls == 1
	g.mu.Unlock()
	if err := g.StaticGateway.RequestCollection(ctx, token, order); err != nil {
		return err
	}
	if first {
		return &collection.GatewayError{Op: "request", Err: errors.New("i/o timeout")}
	}
	return nil
}

// refusingGateway answers every order with the configured error and never records it.
type refusingGateway struct {
	*collection.StaticGateway
	err error
	mu  sync.Mutex
	ref string
}

func (g *refusingGateway) RequestCollection(_ context.Context, _ string, order collection.Order) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.ref = order.ReferenceID
	return g.err
}

func (g *refusingGateway) lastReference() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.ref
}

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type fixture struct {
	wallets  *wallet.Service
	notifier *recordingNotifier
	service  *Service
	ownerID  string
}

func newFixture(t *testing.T, gw collection.Gateway, attempts int, opts ...collection.Option) *fixture {
	t.Helper()
	ctx := context.Background()
	wallets := wallet.NewService(wallet.NewMemoryRepository(), ledger.NewInMemory(), logging.Discard())
	ownerID := uuid.NewString()
	_, err := wallets.Create(ctx, wallet.CreateInput{OwnerID: ownerID})
	require.NoError(t, err)

	opts = append([]collection.Option{
		collection.WithPollPolicy(collection.PollPolicy{MaxAttempts: attempts, Interval: time.Millisecond}),
		collection.WithRetryPolicy(collection.RetryPolicy{MaxTries: 1}),
	}, opts...)
	adapter := collection.NewAdapter(gw, collection.NewMemoryStore(), logging.Discard(), opts...)
	notifier := &recordingNotifier{}
	svc, err := NewService(wallets, adapter, notifier, logging.Discard())
	require.NoError(t, err)
	t.Cleanup(svc.Close)
	return &fixture{wallets: wallets, notifier: notifier, service: svc, ownerID: ownerID}
}

func (f *fixture) topUp(t *testing.T, amount int64) TopUpResult {
	t.Helper()
	res, err := f.service.TopUp(context.Background(), f.ownerID, TopUpInput{Amount: decimal.NewFromInt(amount), MSISDN: payer})
	require.NoError(t, err)
	return res
}

func (f *fixture) waitForStatus(t *testing.T, reference string, want ledger.Status) ledger.Transaction {
	t.Helper()
	var tx ledger.Transaction
	require.Eventually(t, func() bool {
		var err error
		tx, err = f.wallets.TopUpByReference(context.Background(), f.ownerID, reference)
		return err == nil && tx.Status == want
	}, 2*time.Second, 5*time.Millisecond, "top-up %s never reached %s", reference, want)
	return tx
}

func (f *fixture) waitIdle(t *testing.T, reference string) {
	t.Helper()
	require.Eventually(t, func() bool { return !f.service.tracked(reference) },
		2*time.Second, 5*time.Millisecond, "poll task did not finish")
}

func (f *fixture) balance(t *testing.T) decimal.Decimal {
	t.Helper()
	bal, err := f.wallets.Balance(context.Background(), f.ownerID)
	require.NoError(t, err)
	return bal.Amount
}

func TestServiceTopUpSettlesInBackground(t *testing.T) {
	f := newFixture(t, collection.NewStaticGateway(collection.StatusSuccessful, 1), 5)

	res := f.topUp(t, 1500)
	assert.True(t, res.Processing())
	assert.Equal(t, collection.StatusPending, res.Request.Status)
	assert.Equal(t, res.Request.ReferenceID, res.Transaction.Reference, "ledger entry must carry the collection reference")

	f.waitForStatus(t, res.Request.ReferenceID, ledger.StatusCompleted)
	assert.True(t, f.balance(t).Equal(decimal.NewFromInt(1500)))
	require.Eventually(t, func() bool { return f.notifier.count() == 1 }, 2*time.Second, 5*time.Millisecond)
}

func TestServiceTopUpFailedLeavesBalance(t *testing.T) {
	for _, outcome := range []collection.Status{collection.StatusFailed, collection.StatusRejected} {
		t.Run(string(outcome), func(t *testing.T) {
			f := newFixture(t, collection.NewStaticGateway(outcome, 0), 5)

			res := f.topUp(t, 700)
			f.waitForStatus(t, res.Request.ReferenceID, ledger.StatusFailed)
			assert.True(t, f.balance(t).IsZero(), "failed top-up must not credit")
			assert.Zero(t, f.notifier.count(), "failed top-up must not send a receipt")
		})
	}
}

func TestServiceTopUpStaysProcessingAfterBudget(t *testing.T) {
	gw := collection.NewStaticGateway(collection.StatusPending, 0)
	f := newFixture(t, gw, 3)
	ctx := context.Background()

	ref := f.topUp(t, 300).Request.ReferenceID
	f.waitIdle(t, ref)
	assert.Equal(t, 3, gw.Polls(ref))

	status, err := f.service.Status(ctx, f.ownerID, ref)
	require.NoError(t, err)
	assert.True(t, status.Processing())

	gw.Resolve(ref, collection.StatusSuccessful)
	status, err = f.service.Status(ctx, f.ownerID, ref)
	require.NoError(t, err)
	assert.Equal(t, ledger.StatusCompleted, status.Transaction.Status, "status query should settle a resolved top-up")
}

func TestServiceReconcileSettlesOnce(t *testing.T) {
	gw := collection.NewStaticGateway(collection.StatusPending, 0)
	f := newFixture(t, gw, 1)
	ctx := context.Background()

	ref := f.topUp(t, 250).Request.ReferenceID
	f.waitIdle(t, ref)

	gw.Resolve(ref, collection.StatusSuccessful)
	settled, err := f.service.Reconcile(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, settled)
	settled, err = f.service.Reconcile(ctx)
	require.NoError(t, err)
	assert.Zero(t, settled)

	_, err = f.service.settle(ctx, collection.Request{ReferenceID: ref, Status: collection.StatusSuccessful})
	require.NoError(t, err, "repeated settle")
	assert.True(t, f.balance(t).Equal(decimal.NewFromInt(250)), "expected a single credit")
	assert.Equal(t, 1, f.notifier.count())
}

func TestServiceTopUpSurvivesLostSubmitReply(t *testing.T) {
	cases := []struct {
		name  string
		tries uint
	}{
		{name: "retried submit answered 409", tries: 2},
		{name: "no retry left", tries: 1},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			gw := &lostReplyGateway{StaticGateway: collection.NewStaticGateway(collection.StatusPending, 0)}
			f := newFixture(t, gw, 1, collection.WithRetryPolicy(collection.RetryPolicy{
				MaxTries: tc.tries, InitialInterval: time.Millisecond, MaxInterval: time.Millisecond,
			}))
			ctx := context.Background()

			res := f.topUp(t, 1000)
			ref := res.Request.ReferenceID
			assert.True(t, res.Processing())
			_, accepted := gw.Order(ref)
			require.True(t, accepted)
			f.waitIdle(t, ref)

			gw.Resolve(ref, collection.StatusSuccessful)
			settled, err := f.service.Reconcile(ctx)
			require.NoError(t, err)
			assert.Equal(t, 1, settled)
			assert.True(t, f.balance(t).Equal(decimal.NewFromInt(1000)))

			tx, err := f.wallets.TopUpByReference(ctx, f.ownerID, ref)
			require.NoError(t, err)
			assert.Equal(t, ledger.StatusCompleted, tx.Status)
		})
	}
}

func TestServiceTopUpRejectedAtSubmit(t *testing.T) {
	gw := &refusingGateway{
		StaticGateway: collection.NewStaticGateway(collection.StatusSuccessful, 0),
		err:           &collection.GatewayError{Op: "request", StatusCode: 400, Err: errors.New("invalid payer")},
	}
	f := newFixture(t, gw, 1)
	ctx := context.Background()

	_, err := f.service.TopUp(ctx, f.ownerID, TopUpInput{Amount: decimal.NewFromInt(400), MSISDN: payer})
	require.Error(t, err)
	assert.True(t, collection.IsGatewayError(err))

	tx, err := f.wallets.TopUpByReference(ctx, f.ownerID, gw.lastReference())
	require.NoError(t, err)
	assert.Equal(t, ledger.StatusFailed, tx.Status)
	assert.True(t, f.balance(t).IsZero())
}

func TestServiceReconcileFailsUnsubmittedTopUp(t *testing.T) {
	gw := &refusingGateway{
		StaticGateway: collection.NewStaticGateway(collection.StatusSuccessful, 0),
		err:           &collection.GatewayError{Op: "request", Err: errors.New("connection reset")},
	}
	clk := &clock{now: time.Date(2026, 5, 4, 9, 0, 0, 0, time.UTC)}
	f := newFixture(t, gw, 1, collection.WithClock(clk.Now), collection.WithUnsubmittedAfter(10*time.Minute))
	ctx := context.Background()

	res := f.topUp(t, 900)
	ref := res.Request.ReferenceID
	assert.True(t, res.Processing(), "an unknown submit outcome stays pending")
	f.waitIdle(t, ref)

	settled, err := f.service.Reconcile(ctx)
	require.NoError(t, err)
	assert.Zero(t, settled, "a fresh reference unknown to the gateway is not failed yet")

	clk.Advance(11 * time.Minute)
	settled, err = f.service.Reconcile(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, settled)

	tx, err := f.wallets.TopUpByReference(ctx, f.ownerID, ref)
	require.NoError(t, err)
	assert.Equal(t, ledger.StatusFailed, tx.Status)
	assert.True(t, f.balance(t).IsZero())
}

func TestServiceCloseStopsPolling(t *testing.T) {
	gw := collection.NewStaticGateway(collection.StatusPending, 0)
	f := newFixture(t, gw, 100000)
	ctx := context.Background()

	ref := f.topUp(t, 10).Request.ReferenceID
	done := make(chan struct{})
	go func() {
		f.service.Close()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("close did not return")
	}

	polled := gw.Polls(ref)
	time.Sleep(10 * time.Millisecond)
	assert.Equal(t, polled, gw.Polls(ref), "polling continued after close")
	_, ok := gw.Order(ref)
	assert.True(t, ok, "submitted request should remain at the gateway")

	tx, err := f.wallets.TopUpByReference(ctx, f.ownerID, ref)
	require.NoError(t, err)
	assert.Equal(t, ledger.StatusPending, tx.Status)
}

func TestServiceTopUpValidation(t *testing.T) {
	f := newFixture(t, collection.NewStaticGateway(collection.StatusSuccessful, 0), 1)
	ctx := context.Background()

	_, err := f.service.TopUp(ctx, f.ownerID, TopUpInput{Amount: decimal.Zero, MSISDN: payer})
	assert.True(t, validation.IsValidation(err), "zero amount: %v", err)
	_, err = f.service.TopUp(ctx, f.ownerID, TopUpInput{Amount: decimal.NewFromInt(5), MSISDN: "abc"})
	assert.True(t, validation.IsValidation(err), "bad msisdn: %v", err)
	_, err = f.service.TopUp(ctx, uuid.NewString(), TopUpInput{Amount: decimal.NewFromInt(5), MSISDN: payer})
	assert.ErrorIs(t, err, wallet.ErrWalletNotFound)
	_, err = f.service.Status(ctx, f.ownerID, "nope")
	assert.ErrorIs(t, err, ledger.ErrTransactionNotFound)
}
