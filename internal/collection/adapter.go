package collection

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/congo-pay/momo_wallet/internal/logging"
)

// PollPolicy bounds AwaitTerminal. Each poll gets one try of at most CallTimeout, so a
// run takes no longer than MaxAttempts × (Interval + CallTimeout).
type PollPolicy struct {
	MaxAttempts int
	Interval    time.Duration
	CallTimeout time.Duration
}

// RetryPolicy bounds transport retries of a single gateway call.
type RetryPolicy struct {
	MaxTries        uint
	InitialInterval time.Duration
	MaxInterval     time.Duration
}

// DefaultPollPolicy polls five times, two seconds apart.
func DefaultPollPolicy() PollPolicy {
	return PollPolicy{MaxAttempts: 5, Interval: 2 * time.Second, CallTimeout: 10 * time.Second}
}

// DefaultRetryPolicy retries a failing call three times with exponential backoff.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{MaxTries: 3, InitialInterval: 200 * time.Millisecond, MaxInterval: 2 * time.Second}
}

// defaultUnsubmittedAfter is how old a request must be before a 404 from the gateway
// means it was never received.
const defaultUnsubmittedAfter = 10 * time.Minute

// Adapter runs the request/poll protocol against a Gateway.
type Adapter struct {
	gateway          Gateway
	store            Store
	logger           *slog.Logger
	tracer           trace.Tracer
	poll             PollPolicy
	retry            RetryPolicy
	currency         string
	unsubmittedAfter time.Duration
	now              func() time.Time
}

// Option customises an Adapter.
type Option func(*Adapter)

// WithPollPolicy overrides the poll budget.
func WithPollPolicy(p PollPolicy) Option {
	return func(a *Adapter) {
		if p.MaxAttempts > 0 {
			a.poll.MaxAttempts = p.MaxAttempts
		}
		if p.Interval >= 0 {
			a.poll.Interval = p.Interval
		}
		if p.CallTimeout > 0 {
			a.poll.CallTimeout = p.CallTimeout
		}
	}
}

// WithRetryPolicy overrides transport retries.
func WithRetryPolicy(r RetryPolicy) Option {
	return func(a *Adapter) { a.retry = r }
}

// WithCurrency sets the currency of submitted orders.
func WithCurrency(currency string) Option {
	return func(a *Adapter) { a.currency = currency }
}

// WithUnsubmittedAfter sets the age past which a reference unknown to the gateway is failed.
func WithUnsubmittedAfter(d time.Duration) Option {
	return func(a *Adapter) {
		if d > 0 {
			a.unsubmittedAfter = d
		}
	}
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(a *Adapter) { a.now = now }
}

// NewAdapter wires a collection adapter. A nil store keeps requests in memory.
func NewAdapter(gateway Gateway, store Store, logger *slog.Logger, opts ...Option) *Adapter {
	if store == nil {
		store = NewMemoryStore()
	}
	a := &Adapter{
		gateway:          gateway,
		store:            store,
		logger:           logging.Component(logger, "collection"),
		tracer:           otel.Tracer("github.com/congo-pay/momo_wallet/internal/collection"),
		poll:             DefaultPollPolicy(),
		retry:            DefaultRetryPolicy(),
		currency:         "XAF",
		unsubmittedAfter: defaultUnsubmittedAfter,
		now:              func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Initiate prepares and submits a collection request in one step.
func (a *Adapter) Initiate(ctx context.Context, amount decimal.Decimal, payerID string) (Request, error) {
	req, err := a.Prepare(ctx, amount, payerID)
	if err != nil {
		return Request{}, err
	}
	return a.Submit(ctx, req)
}

// Prepare assigns a fresh reference id and stores the request PENDING. Nothing is sent to
// the gateway yet.
func (a *Adapter) Prepare(ctx context.Context, amount decimal.Decimal, payerID string) (Request, error) {
	if !amount.IsPositive() || strings.TrimSpace(payerID) == "" {
		return Request{}, ErrInvalidRequest
	}

	now := a.now()
	req := Request{
		ReferenceID: uuid.NewString(),
		Amount:      amount,
		Currency:    a.currency,
		PayerID:     payerID,
		Status:      StatusPending,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := a.store.Save(ctx, req); err != nil {
		return Request{}, err
	}
	return req, nil
}

// Submit sends a prepared request to the gateway. When the gateway definitively refuses
// it, the request comes back REJECTED along with the error. Any other error leaves it
// PENDING, since the gateway may have received it.
func (a *Adapter) Submit(ctx context.Context, req Request) (Request, error) {
	ctx, span := a.tracer.Start(ctx, "collection.Submit", trace.WithAttributes(
		attribute.String("reference_id", req.ReferenceID),
	))
	defer span.End()

	token, err := retryGateway(ctx, a, "token", a.retry.MaxTries, func(ctx context.Context) (string, error) {
		return a.gateway.Token(ctx)
	})
	if err != nil {
		if ctx.Err() == nil {
			// no order left this process
			return a.reject(ctx, span, req, err)
		}
		return req, a.fail(span, err)
	}

	order := Order{
		ReferenceID:  req.ReferenceID,
		Amount:       req.Amount,
		Currency:     req.Currency,
		PayerID:      req.PayerID,
		PayerMessage: "Wallet top-up",
		PayeeNote:    req.ReferenceID,
	}
	sent := 0
	_, err = retryGateway(ctx, a, "request", a.retry.MaxTries, func(ctx context.Context) (struct{}, error) {
		sent++
		err := a.gateway.RequestCollection(ctx, token, order)
		if sent > 1 && isStatus(err, http.StatusConflict) {
			a.logger.Info("collection already accepted", slog.String("reference_id", req.ReferenceID))
			return struct{}{}, nil
		}
		return struct{}{}, err
	})
	if err != nil {
		var gwErr *GatewayError
		if errors.As(err, &gwErr) && !gwErr.Temporary() {
			return a.reject(ctx, span, req, err)
		}
		a.logger.Warn("collection submit outcome unknown",
			slog.String("reference_id", req.ReferenceID),
			slog.Any("error", err),
		)
		return req, a.fail(span, err)
	}

	a.logger.Info("collection initiated",
		slog.String("reference_id", req.ReferenceID),
		slog.String("amount", req.Amount.String()),
	)
	return req, nil
}

// Poll issues a single status query and records the answer. Transport failures are
// retried under the adapter's RetryPolicy.
func (a *Adapter) Poll(ctx context.Context, req Request) (Request, error) {
	return a.pollOnce(ctx, req, a.retry.MaxTries)
}

func (a *Adapter) pollOnce(ctx context.Context, req Request, tries uint) (Request, error) {
	if req.Status.IsTerminal() {
		return req, nil
	}

	ctx, span := a.tracer.Start(ctx, "collection.Poll", trace.WithAttributes(
		attribute.String("reference_id", req.ReferenceID),
		attribute.Int("attempt", req.Attempts+1),
	))
	defer span.End()

	token, err := retryGateway(ctx, a, "token", tries, func(ctx context.Context) (string, error) {
		return a.gateway.Token(ctx)
	})
	if err != nil {
		return req, a.fail(span, err)
	}
	report, err := retryGateway(ctx, a, "status", tries, func(ctx context.Context) (StatusReport, error) {
		return a.gateway.Status(ctx, token, req.ReferenceID)
	})
	if err != nil {
		if !isStatus(err, http.StatusNotFound) || a.now().Sub(req.CreatedAt) < a.unsubmittedAfter {
			return req, a.fail(span, err)
		}
		report = StatusReport{Status: StatusFailed, Reason: "not received by gateway"}
	}

	req.Attempts++
	req.Status = report.Status
	req.Reason = report.Reason
	req.UpdatedAt = a.now()
	span.SetAttributes(attribute.String("status", string(req.Status)))

	if err := a.store.Save(ctx, req); err != nil {
		return req, a.fail(span, err)
	}
	return req, nil
}

// AwaitTerminal polls until the request is terminal or the poll budget is spent. A request
// still PENDING afterwards is returned as is, without error. Failed polls count against
// the budget.
func (a *Adapter) AwaitTerminal(ctx context.Context, req Request) (Request, error) {
	for i := 0; i < a.poll.MaxAttempts && !req.Status.IsTerminal(); i++ {
		if err := sleep(ctx, a.poll.Interval); err != nil {
			return req, err
		}
		callCtx, cancel := context.WithTimeout(ctx, a.poll.CallTimeout)
		next, err := a.pollOnce(callCtx, req, 1)
		timedOut := errors.Is(callCtx.Err(), context.DeadlineExceeded)
		cancel()
		if err != nil {
			if ctx.Err() != nil {
				return req, ctx.Err()
			}
			if !IsGatewayError(err) && !timedOut {
				return req, err
			}
			a.logger.Warn("collection poll failed",
				slog.String("reference_id", req.ReferenceID),
				slog.Int("attempt", i+1),
				slog.Any("error", err),
			)
			continue
		}
		req = next
	}

	if !req.Status.IsTerminal() {
		a.logger.Info("collection still pending after poll budget",
			slog.String("reference_id", req.ReferenceID),
			slog.Int("attempts", req.Attempts),
		)
	}
	return req, nil
}

// Lookup returns the last stored state of a request.
func (a *Adapter) Lookup(ctx context.Context, referenceID string) (Request, error) {
	return a.store.Load(ctx, referenceID)
}

// Task is an AwaitTerminal running in the background.
type Task struct {
	cancel context.CancelFunc
	done   chan struct{}
	result Request
	err    error
}

// Start runs AwaitTerminal on its own goroutine. Cancelling the task stops polling; the
// submitted request is left as it is at the gateway.
func (a *Adapter) Start(ctx context.Context, req Request) *Task {
	ctx, cancel := context.WithCancel(ctx)
	t := &Task{cancel: cancel, done: make(chan struct{})}
	go func() {
		defer close(t.done)
		defer cancel()
		t.result, t.err = a.AwaitTerminal(ctx, req)
	}()
	return t
}

// Cancel stops further polling.
func (t *Task) Cancel() { t.cancel() }

// Done is closed once the task has finished.
func (t *Task) Done() <-chan struct{} { return t.done }

// Result blocks until the task finishes.
func (t *Task) Result() (Request, error) {
	<-t.done
	return t.result, t.err
}

func (a *Adapter) reject(ctx context.Context, span trace.Span, req Request, err error) (Request, error) {
	req.Status = StatusRejected
	req.Reason = err.Error()
	req.UpdatedAt = a.now()
	if saveErr := a.store.Save(ctx, req); saveErr != nil {
		a.logger.Warn("store rejected collection", slog.String("reference_id", req.ReferenceID), slog.Any("error", saveErr))
	}
	return req, a.fail(span, err)
}

func (a *Adapter) fail(span trace.Span, err error) error {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	return err
}

func isStatus(err error, code int) bool {
	var gwErr *GatewayError
	return errors.As(err, &gwErr) && gwErr.StatusCode == code
}

func retryGateway[T any](ctx context.Context, a *Adapter, op string, tries uint, call func(context.Context) (T, error)) (T, error) {
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = a.retry.InitialInterval
	policy.MaxInterval = a.retry.MaxInterval

	if tries == 0 {
		tries = 1
	}

	result, err := backoff.Retry(ctx, func() (T, error) {
		v, err := call(ctx)
		if err == nil {
			return v, nil
		}
		var gwErr *GatewayError
		if errors.As(err, &gwErr) && !gwErr.Temporary() {
			return v, backoff.Permanent(err)
		}
		if ctx.Err() != nil {
			return v, backoff.Permanent(err)
		}
		return v, err
	},
		backoff.WithBackOff(policy),
		backoff.WithMaxTries(tries),
		backoff.WithNotify(func(err error, next time.Duration) {
			a.logger.Warn("gateway call failed, retrying",
				slog.String("op", op),
				slog.Duration("backoff", next),
				slog.Any("error", err),
			)
		}),
	)
	if err != nil && !IsGatewayError(err) && ctx.Err() == nil {
		err = &GatewayError{Op: op, Err: err}
	}
	return result, err
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
