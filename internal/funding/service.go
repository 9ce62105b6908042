package funding

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/shopspring/decimal"

	"github.com/congo-pay/momo_wallet/internal/collection"
	"github.com/congo-pay/momo_wallet/internal/ledger"
	"github.com/congo-pay/momo_wallet/internal/logging"
	"github.com/congo-pay/momo_wallet/internal/notification"
	"github.com/congo-pay/momo_wallet/internal/validation"
	"github.com/congo-pay/momo_wallet/internal/wallet"
)

// Service coordinates mobile-money top-ups between the collection adapter and the wallet ledger.
type Service struct {
	wallets   *wallet.Service
	collector Collector
	notifier  notification.Notifier
	logger    *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu    sync.Mutex
	tasks map[string]*collection.Task
}

// NewService prepares a funding service. Background polling lives until Close.
func NewService(wallets *wallet.Service, collector Collector, notifier notification.Notifier, logger *slog.Logger) (*Service, error) {
	if wallets == nil {
		return nil, fmt.Errorf("wallet service is required")
	}
	if collector == nil {
		return nil, fmt.Errorf("collector is required")
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Service{
		wallets:   wallets,
		collector: collector,
		notifier:  notifier,
		logger:    logging.Component(logger, "funding"),
		ctx:       ctx,
		cancel:    cancel,
		tasks:     make(map[string]*collection.Task),
	}, nil
}

// TopUpInput captures the data required to fund a wallet from mobile money.
type TopUpInput struct {
	Amount decimal.Decimal
	MSISDN string `validate:"required,msisdn"`
}

// TopUpResult pairs the gateway request with its ledger entry.
type TopUpResult struct {
	Request     collection.Request
	Transaction ledger.Transaction
}

// Processing reports whether the outcome is still unknown.
func (r TopUpResult) Processing() bool {
	return r.Transaction.Status == ledger.StatusPending
}

// TopUp records a pending credit under a fresh collection reference, then submits the
// collection request. It returns as soon as the request is handed over; settlement happens
// in the background. A submit whose outcome is unknown stays pending for Reconcile.
func (s *Service) TopUp(ctx context.Context, ownerID string, input TopUpInput) (TopUpResult, error) {
	input.MSISDN = strings.TrimSpace(input.MSISDN)
	if err := validation.Struct(input); err != nil {
		return TopUpResult{}, err
	}
	if err := validation.PositiveAmount(input.Amount); err != nil {
		return TopUpResult{}, err
	}
	if _, err := s.wallets.GetByOwner(ctx, ownerID); err != nil {
		return TopUpResult{}, err
	}

	req, err := s.collector.Prepare(ctx, input.Amount, input.MSISDN)
	if err != nil {
		return TopUpResult{}, err
	}
	tx, err := s.wallets.OpenTopUp(ctx, ownerID, input.Amount, req.ReferenceID)
	if err != nil {
		return TopUpResult{}, fmt.Errorf("open pending top-up: %w", err)
	}

	req, err = s.collector.Submit(ctx, req)
	if err != nil {
		if !req.Status.IsTerminal() {
			s.logger.Warn("top-up submitted with unknown outcome",
				slog.String("reference", req.ReferenceID),
				slog.Any("error", err),
			)
			s.track(req)
			return TopUpResult{Request: req, Transaction: tx}, nil
		}
		if _, settleErr := s.settle(context.WithoutCancel(ctx), req); settleErr != nil {
			s.logger.Error("rejected top-up left pending",
				slog.String("reference", req.ReferenceID),
				slog.Any("error", settleErr),
			)
		}
		return TopUpResult{}, err
	}

	s.track(req)
	s.logger.Info("top-up started",
		slog.String("reference", req.ReferenceID),
		slog.String("transaction_id", tx.ID),
	)
	return TopUpResult{Request: req, Transaction: tx}, nil
}

// Status returns the owner's view of a top-up. A pending top-up nobody is polling gets one
// gateway query before answering.
func (s *Service) Status(ctx context.Context, ownerID, reference string) (TopUpResult, error) {
	tx, err := s.wallets.TopUpByReference(ctx, ownerID, reference)
	if err != nil {
		return TopUpResult{}, err
	}
	req, err := s.request(ctx, tx)
	if err != nil {
		return TopUpResult{}, err
	}
	if tx.Status != ledger.StatusPending || s.tracked(reference) {
		return TopUpResult{Request: req, Transaction: tx}, nil
	}

	req, err = s.collector.Poll(ctx, req)
	if err != nil {
		if collection.IsGatewayError(err) {
			s.logger.Warn("status poll failed", slog.String("reference", reference), slog.Any("error", err))
			return TopUpResult{Request: req, Transaction: tx}, nil
		}
		return TopUpResult{}, err
	}
	if settled, err := s.settle(ctx, req); err != nil {
		return TopUpResult{}, err
	} else if settled.ID != "" {
		tx = settled
	}
	return TopUpResult{Request: req, Transaction: tx}, nil
}

// Reconcile queries the gateway once for every pending top-up and settles the ones that have
// reached a terminal status. It returns how many were settled.
func (s *Service) Reconcile(ctx context.Context) (int, error) {
	pending, err := s.wallets.PendingTopUps(ctx)
	if err != nil {
		return 0, err
	}

	settled := 0
	for _, tx := range pending {
		if err := ctx.Err(); err != nil {
			return settled, err
		}
		if s.tracked(tx.Reference) {
			continue
		}
		req, err := s.request(ctx, tx)
		if err != nil {
			s.logger.Warn("reconcile lookup failed", slog.String("reference", tx.Reference), slog.Any("error", err))
			continue
		}
		req, err = s.collector.Poll(ctx, req)
		if err != nil {
			s.logger.Warn("reconcile poll failed", slog.String("reference", tx.Reference), slog.Any("error", err))
			continue
		}
		result, err := s.settle(ctx, req)
		if err != nil {
			s.logger.Warn("reconcile settle failed", slog.String("reference", tx.Reference), slog.Any("error", err))
			continue
		}
		if result.ID != "" {
			settled++
		}
	}

	s.logger.Info("pending top-ups reconciled", slog.Int("pending", len(pending)), slog.Int("settled", settled))
	return settled, nil
}

// Close stops background polling and waits for the pollers to return. Requests already
// submitted to the gateway stay as they are and are picked up by the next Reconcile.
func (s *Service) Close() {
	s.cancel()
	s.wg.Wait()
}

func (s *Service) track(req collection.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ctx.Err() != nil {
		return
	}
	task := s.collector.Start(s.ctx, req)
	s.tasks[req.ReferenceID] = task
	s.wg.Add(1)

	go func() {
		defer s.wg.Done()
		res, err := task.Result()

		s.mu.Lock()
		delete(s.tasks, req.ReferenceID)
		s.mu.Unlock()

		if err != nil {
			if !errors.Is(err, context.Canceled) {
				s.logger.Warn("top-up polling stopped", slog.String("reference", req.ReferenceID), slog.Any("error", err))
			}
			return
		}
		if _, err := s.settle(s.ctx, res); err != nil {
			s.logger.Error("top-up settlement failed", slog.String("reference", req.ReferenceID), slog.Any("error", err))
		}
	}()
}

func (s *Service) tracked(reference string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.tasks[reference]
	return ok
}

// settle applies a terminal gateway status to the ledger. Non-terminal requests and top-ups
// settled earlier return a zero transaction.
func (s *Service) settle(ctx context.Context, req collection.Request) (ledger.Transaction, error) {
	var status ledger.Status
	switch req.Status {
	case collection.StatusSuccessful:
		status = ledger.StatusCompleted
	case collection.StatusFailed, collection.StatusRejected:
		status = ledger.StatusFailed
	default:
		return ledger.Transaction{}, nil
	}

	tx, err := s.wallets.SettleTopUp(ctx, req.ReferenceID, status)
	if errors.Is(err, ledger.ErrDuplicateTransaction) || errors.Is(err, ledger.ErrInvalidTransition) {
		return ledger.Transaction{}, nil
	}
	if err != nil {
		return ledger.Transaction{}, err
	}

	if status == ledger.StatusCompleted {
		s.notify(ctx, req)
	}
	return tx, nil
}

func (s *Service) notify(ctx context.Context, req collection.Request) {
	if s.notifier == nil || req.PayerID == "" {
		return
	}
	body := fmt.Sprintf("Your wallet was credited with %s %s. Ref: %s", req.Amount.StringFixed(2), req.Currency, req.ReferenceID)
	if _, err := s.notifier.Send(ctx, notification.Message{Kind: notification.KindTopUp, Destination: req.PayerID, Body: body}); err != nil {
		s.logger.Warn("top-up receipt delivery failed", slog.String("reference", req.ReferenceID), slog.Any("error", err))
	}
}

// request loads the stored collection request, rebuilding a minimal one from the ledger
// entry when the store no longer has it.
func (s *Service) request(ctx context.Context, tx ledger.Transaction) (collection.Request, error) {
	req, err := s.collector.Lookup(ctx, tx.Reference)
	if errors.Is(err, collection.ErrRequestNotFound) {
		status := collection.StatusPending
		switch tx.Status {
		case ledger.StatusCompleted:
			status = collection.StatusSuccessful
		case ledger.StatusFailed:
			status = collection.StatusFailed
		}
		return collection.Request{
			ReferenceID: tx.Reference,
			Amount:      tx.Amount,
			Status:      status,
			CreatedAt:   tx.CreatedAt,
			UpdatedAt:   tx.UpdatedAt,
		}, nil
	}
	return req, err
}
