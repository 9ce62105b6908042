package otp

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"time"

	"github.com/congo-pay/momo_wallet/internal/keylock"
	"github.com/congo-pay/momo_wallet/internal/logging"
	"github.com/congo-pay/momo_wallet/internal/notification"
)

// recordGrace keeps expired records around long enough to report Expired instead of NotFound.
const recordGrace = time.Minute

// Manager generates, delivers and verifies passcodes.
type Manager struct {
	store    Store
	notifier notification.Notifier
	logger   *slog.Logger
	cfg      Config
	now      func() time.Time
	generate func(length int) (string, error)
	locks    *keylock.Map
}

// Option customises a Manager.
type Option func(*Manager)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// WithGenerator replaces the random code source.
func WithGenerator(gen func(length int) (string, error)) Option {
	return func(m *Manager) { m.generate = gen }
}

// NewManager wires an OTP manager. Zero config fields fall back to DefaultConfig.
func NewManager(store Store, notifier notification.Notifier, logger *slog.Logger, cfg Config, opts ...Option) *Manager {
	def := DefaultConfig()
	if cfg.Length <= 0 {
		cfg.Length = def.Length
	}
	if cfg.TTL <= 0 {
		cfg.TTL = def.TTL
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = def.MaxAttempts
	}
	m := &Manager{
		store:    store,
		notifier: notifier,
		logger:   logging.Component(logger, "otp"),
		cfg:      cfg,
		now:      time.Now,
		generate: randomDigits,
		locks:    keylock.New(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Generate replaces the user's record with a fresh code and sends it by SMS. A delivery
// failure is returned wrapped in ErrDelivery together with the stored code.
func (m *Manager) Generate(ctx context.Context, userID, phone string) (string, error) {
	unlock := m.locks.Lock(userID)
	defer unlock()

	code, err := m.generate(m.cfg.Length)
	if err != nil {
		return "", fmt.Errorf("generate otp: %w", err)
	}
	now := m.now()
	rec := Record{
		UserID:    userID,
		Code:      code,
		CreatedAt: now,
		ExpiresAt: now.Add(m.cfg.TTL),
	}
	if err := m.store.Save(ctx, rec, m.cfg.TTL+recordGrace); err != nil {
		return "", err
	}

	if m.notifier == nil {
		return code, nil
	}
	body := fmt.Sprintf("Your verification code is: %s. Valid for %d minutes.", code, int(m.cfg.TTL.Minutes()))
	receipt, err := m.notifier.Send(ctx, notification.Message{Kind: notification.KindOTP, Destination: phone, Body: body})
	if err != nil {
		m.logger.Warn("otp delivery failed", slog.String("user_id", userID), slog.Any("error", err))
		return code, fmt.Errorf("%w: %v", ErrDelivery, err)
	}
	m.logger.Info("otp sent", slog.String("user_id", userID), slog.String("message_id", receipt.MessageID))
	return code, nil
}

// Verify checks candidate against the user's active record. Every call spends one attempt
// from the shared budget before the code is compared.
func (m *Manager) Verify(ctx context.Context, userID, candidate string) (Result, error) {
	unlock := m.locks.Lock(userID)
	defer unlock()

	rec, err := m.store.Load(ctx, userID)
	if errors.Is(err, errRecordMissing) {
		return reject(ErrNotFound)
	}
	if err != nil {
		return Result{}, err
	}
	if rec.Verified {
		return reject(ErrNotFound)
	}

	now := m.now()
	if now.After(rec.ExpiresAt) {
		if err := m.store.Delete(ctx, userID); err != nil {
			return Result{}, err
		}
		return reject(ErrExpired)
	}
	if rec.Attempts >= m.cfg.MaxAttempts {
		if err := m.store.Delete(ctx, userID); err != nil {
			return Result{}, err
		}
		return reject(ErrTooManyAttempts)
	}

	attempts, err := m.store.Attempt(ctx, userID)
	if errors.Is(err, errRecordMissing) {
		return reject(ErrNotFound)
	}
	if err != nil {
		return Result{}, err
	}
	if attempts > m.cfg.MaxAttempts {
		if err := m.store.Delete(ctx, userID); err != nil {
			return Result{}, err
		}
		return reject(ErrTooManyAttempts)
	}

	if subtle.ConstantTimeCompare([]byte(rec.Code), []byte(candidate)) != 1 {
		return reject(&Error{Reason: ReasonMismatch, Remaining: m.cfg.MaxAttempts - attempts})
	}

	first, err := m.store.Consume(ctx, userID, rec.Code)
	if errors.Is(err, errRecordMissing) || (err == nil && !first) {
		return reject(ErrNotFound)
	}
	if err != nil {
		return Result{}, err
	}
	return Result{Valid: true}, nil
}

// Invalidate discards the user's current record, if any.
func (m *Manager) Invalidate(ctx context.Context, userID string) error {
	unlock := m.locks.Lock(userID)
	defer unlock()
	return m.store.Delete(ctx, userID)
}

func reject(e *Error) (Result, error) {
	return Result{Reason: e.Reason, Remaining: e.Remaining}, e
}

func randomDigits(length int) (string, error) {
	digits := make([]byte, length)
	ten := big.NewInt(10)
	for i := range digits {
		n, err := rand.Int(rand.Reader, ten)
		if err != nil {
			return "", err
		}
		digits[i] = byte('0' + n.Int64())
	}
	return string(digits), nil
}
