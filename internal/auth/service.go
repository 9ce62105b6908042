// Package auth implements the login state machine: a credential login leaves the session
// Authenticated with a pending user, and only a valid passcode promotes it to Verified.
// A Verified session falls back to Authenticated once its re-verification window passes.
package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/congo-pay/momo_wallet/internal/identity"
	"github.com/congo-pay/momo_wallet/internal/keylock"
	"github.com/congo-pay/momo_wallet/internal/logging"
	"github.com/congo-pay/momo_wallet/internal/otp"
)

var (
	// ErrAuth is the only error a failed login reports; it never says which part was wrong.
	ErrAuth = errors.New("authentication failed")
	// ErrNoPendingUser rejects passcode operations on sessions that are not waiting for one.
	ErrNoPendingUser = errors.New("no login awaiting verification")
)

// State is the position of a session in the login state machine.
type State string

const (
	StateLoggedOut     State = "logged_out"
	StateAuthenticated State = "authenticated"
	StateVerified      State = "verified"
)

// Session is the externally visible state of a session.
type Session struct {
	ID            string
	State         State
	UserID        string
	VerifiedUntil time.Time
	// DeliveryErr is set when a passcode had to be sent and the SMS failed.
	DeliveryErr error
}

// LoginResult is returned by a successful credential check.
type LoginResult struct {
	SessionID   string
	UserID      string
	RequiresOTP bool
	DeliveryErr error
}

// Identity is the identity provider the state machine signs users in with.
type Identity interface {
	SignIn(ctx context.Context, identifier, secret string) (identity.Principal, error)
	SignOut(ctx context.Context, userID string) error
	User(ctx context.Context, userID string) (identity.User, error)
	ResetPassword(ctx context.Context, email string) error
}

// Passcodes issues and checks step-up codes.
type Passcodes interface {
	Generate(ctx context.Context, userID, phone string) (string, error)
	Verify(ctx context.Context, userID, candidate string) (otp.Result, error)
	Invalidate(ctx context.Context, userID string) error
}

// Config holds session lifetimes.
type Config struct {
	SessionTTL     time.Duration
	ReverifyWindow time.Duration
}

// Service drives sessions through LoggedOut, Authenticated and Verified.
type Service struct {
	ids    Identity
	otps   Passcodes
	store  Store
	logger *slog.Logger
	cfg    Config
	now    func() time.Time
	locks  *keylock.Map
}

// Option customises a Service.
type Option func(*Service)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// NewService wires the auth state machine.
func NewService(ids Identity, otps Passcodes, store Store, logger *slog.Logger, cfg Config, opts ...Option) *Service {
	if cfg.SessionTTL <= 0 {
		cfg.SessionTTL = 30 * 24 * time.Hour
	}
	if cfg.ReverifyWindow <= 0 {
		cfg.ReverifyWindow = 24 * time.Hour
	}
	if store == nil {
		store = NewMemoryStore()
	}
	s := &Service{
		ids:    ids,
		otps:   otps,
		store:  store,
		logger: logging.Component(logger, "auth"),
		cfg:    cfg,
		now:    time.Now,
		locks:  keylock.New(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Login checks credentials, opens an Authenticated session and sends a passcode. It never
// returns a Verified session. A failed SMS is reported in DeliveryErr and does not fail the login.
func (s *Service) Login(ctx context.Context, identifier, secret string) (LoginResult, error) {
	principal, err := s.ids.SignIn(ctx, identifier, secret)
	if err != nil {
		if !errors.Is(err, identity.ErrInvalidCredentials) {
			s.logger.Warn("identity provider sign-in failed", slog.Any("error", err))
		}
		return LoginResult{}, ErrAuth
	}

	rec := Record{
		ID:        uuid.NewString(),
		UserID:    principal.UserID,
		Pending:   true,
		CreatedAt: s.now().UTC(),
	}
	if err := s.store.Save(ctx, rec, s.cfg.SessionTTL); err != nil {
		return LoginResult{}, fmt.Errorf("save session: %w", err)
	}

	var deliveryErr error
	if err := s.sendCode(ctx, rec.UserID); errors.Is(err, otp.ErrDelivery) {
		deliveryErr = err
	} else if err != nil {
		return LoginResult{}, err
	}

	s.logger.Info("login awaiting otp", slog.String("session_id", rec.ID), slog.String("user_id", rec.UserID))
	return LoginResult{SessionID: rec.ID, UserID: rec.UserID, RequiresOTP: true, DeliveryErr: deliveryErr}, nil
}

// VerifyOTP promotes an Authenticated session to Verified. A rejected code leaves the
// session Authenticated and returns the *otp.Error.
func (s *Service) VerifyOTP(ctx context.Context, sessionID, code string) (identity.User, error) {
	unlock := s.locks.Lock(sessionID)
	defer unlock()

	rec, err := s.store.Load(ctx, sessionID)
	if err != nil {
		return identity.User{}, err
	}
	if !rec.Pending {
		return identity.User{}, ErrNoPendingUser
	}

	// Verify spends the code, so the user is loaded first.
	user, err := s.ids.User(ctx, rec.UserID)
	if err != nil {
		return identity.User{}, fmt.Errorf("load verified user: %w", err)
	}
	if _, err := s.otps.Verify(ctx, rec.UserID, code); err != nil {
		return identity.User{}, err
	}

	until := s.now().Add(s.cfg.ReverifyWindow)
	if err := s.store.MarkVerified(ctx, rec.ID, until, s.cfg.ReverifyWindow); err != nil {
		return identity.User{}, err
	}
	rec.Pending = false
	if err := s.store.Save(ctx, rec, s.cfg.SessionTTL); err != nil {
		return identity.User{}, fmt.Errorf("save session: %w", err)
	}

	s.logger.Info("session verified", slog.String("session_id", rec.ID), slog.String("user_id", rec.UserID))
	return user, nil
}

// ResendOTP replaces the pending passcode with a fresh one.
func (s *Service) ResendOTP(ctx context.Context, sessionID string) (string, error) {
	unlock := s.locks.Lock(sessionID)
	defer unlock()

	rec, err := s.store.Load(ctx, sessionID)
	if err != nil {
		return "", err
	}
	if !rec.Pending {
		return "", ErrNoPendingUser
	}
	if err := s.otps.Invalidate(ctx, rec.UserID); err != nil {
		return "", err
	}
	if err := s.sendCode(ctx, rec.UserID); err != nil {
		return "", err
	}
	return "A new verification code has been sent.", nil
}

// Logout ends the session from any state.
func (s *Service) Logout(ctx context.Context, sessionID string) error {
	unlock := s.locks.Lock(sessionID)
	defer unlock()

	rec, err := s.store.Load(ctx, sessionID)
	if errors.Is(err, ErrSessionNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	if err := s.ids.SignOut(ctx, rec.UserID); err != nil {
		s.logger.Warn("identity provider sign-out failed", slog.String("user_id", rec.UserID), slog.Any("error", err))
	}
	if rec.Pending {
		if err := s.otps.Invalidate(ctx, rec.UserID); err != nil {
			s.logger.Warn("otp invalidate failed", slog.String("user_id", rec.UserID), slog.Any("error", err))
		}
	}
	if err := s.store.Delete(ctx, sessionID); err != nil {
		return err
	}
	s.logger.Info("session logged out", slog.String("session_id", sessionID))
	return nil
}

// Resume rebuilds a session after a restart. Inside the re-verification window it is
// Verified; otherwise it is Authenticated and a new passcode is sent.
func (s *Service) Resume(ctx context.Context, sessionID string) (Session, error) {
	return s.resolve(ctx, sessionID, true)
}

// Current reports the session state for request authorisation. It applies the same
// re-verification rule as Resume but only sends a passcode when the session degrades.
func (s *Service) Current(ctx context.Context, sessionID string) (Session, error) {
	return s.resolve(ctx, sessionID, false)
}

// ResetPassword asks the identity provider to send a reset token.
func (s *Service) ResetPassword(ctx context.Context, email string) error {
	return s.ids.ResetPassword(ctx, email)
}

func (s *Service) resolve(ctx context.Context, sessionID string, resend bool) (Session, error) {
	unlock := s.locks.Lock(sessionID)
	defer unlock()

	rec, err := s.store.Load(ctx, sessionID)
	if errors.Is(err, ErrSessionNotFound) {
		return Session{ID: sessionID, State: StateLoggedOut}, nil
	}
	if err != nil {
		return Session{}, err
	}

	sess := Session{ID: rec.ID, UserID: rec.UserID, State: StateAuthenticated}
	if !rec.Pending {
		until, err := s.store.VerifiedUntil(ctx, rec.ID)
		if err != nil {
			return Session{}, err
		}
		if s.now().Before(until) {
			sess.State = StateVerified
			sess.VerifiedUntil = until
			return sess, nil
		}

		rec.Pending = true
		if err := s.store.Save(ctx, rec, s.cfg.SessionTTL); err != nil {
			return Session{}, fmt.Errorf("save session: %w", err)
		}
		if err := s.store.ClearVerified(ctx, rec.ID); err != nil {
			return Session{}, err
		}
		s.logger.Info("session requires re-verification", slog.String("session_id", rec.ID))
		resend = true
	}

	if resend {
		if err := s.otps.Invalidate(ctx, rec.UserID); err != nil {
			return Session{}, err
		}
		if err := s.sendCode(ctx, rec.UserID); errors.Is(err, otp.ErrDelivery) {
			sess.DeliveryErr = err
		} else if err != nil {
			return Session{}, err
		}
	}
	return sess, nil
}

// sendCode generates and delivers a passcode. An SMS failure wraps otp.ErrDelivery; the
// code is stored either way.
func (s *Service) sendCode(ctx context.Context, userID string) error {
	user, err := s.ids.User(ctx, userID)
	if err != nil {
		return fmt.Errorf("load user: %w", err)
	}
	_, err = s.otps.Generate(ctx, userID, user.Phone)
	return err
}
