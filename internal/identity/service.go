package identity

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/congo-pay/momo_wallet/internal/logging"
	"github.com/congo-pay/momo_wallet/internal/notification"
	"github.com/congo-pay/momo_wallet/internal/validation"
)

const (
	accountNumberDigits = 10
	resetTokenTTL       = 30 * time.Minute
	createRetries       = 3
)

// ErrInvalidCredentials never says which half of the credential was wrong.
var ErrInvalidCredentials = errors.New("invalid credentials")

// dummyHash keeps SignIn timing flat for unknown identifiers.
var dummyHash, _ = bcrypt.GenerateFromPassword([]byte("not-a-real-secret"), bcrypt.DefaultCost)

// Service is the identity provider: credentials, profiles and password resets.
type Service struct {
	repo     Repository
	resets   ResetStore
	notifier notification.Notifier
	logger   *slog.Logger
	cost     int
}

// NewService creates a new identity service.
func NewService(repo Repository, resets ResetStore, notifier notification.Notifier, logger *slog.Logger) *Service {
	if resets == nil {
		resets = NewMemoryResetStore()
	}
	return &Service{repo: repo, resets: resets, notifier: notifier, logger: logging.Component(logger, "identity"), cost: bcrypt.DefaultCost}
}

// Register creates a user with a hashed secret and a fresh account number.
func (s *Service) Register(ctx context.Context, reg Registration) (User, error) {
	reg.Email = strings.TrimSpace(strings.ToLower(reg.Email))
	reg.Phone = strings.TrimSpace(reg.Phone)
	if err := validation.Struct(reg); err != nil {
		return User{}, err
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(reg.Secret), s.cost)
	if err != nil {
		return User{}, err
	}

	user := User{
		ID:         uuid.New().String(),
		FullName:   strings.TrimSpace(reg.FullName),
		Phone:      reg.Phone,
		Email:      reg.Email,
		SecretHash: hash,
		CreatedAt:  time.Now().UTC(),
	}

	// A taken account number is retried; a taken email or phone keeps failing and surfaces.
	for attempt := 0; attempt < createRetries; attempt++ {
		user.AccountNumber, err = newAccountNumber()
		if err != nil {
			return User{}, err
		}
		err = s.repo.Create(ctx, user)
		if !errors.Is(err, ErrUserExists) {
			break
		}
		if _, lookupErr := s.lookup(ctx, reg.Email); lookupErr == nil {
			break
		}
		if _, lookupErr := s.lookup(ctx, reg.Phone); lookupErr == nil {
			break
		}
	}
	if err != nil {
		return User{}, err
	}

	s.logger.Info("user registered", slog.String("user_id", user.ID))
	return user, nil
}

// SignIn checks an email or phone number against its secret.
func (s *Service) SignIn(ctx context.Context, identifier, secret string) (Principal, error) {
	user, err := s.lookup(ctx, strings.TrimSpace(identifier))
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			_ = bcrypt.CompareHashAndPassword(dummyHash, []byte(secret))
			return Principal{}, ErrInvalidCredentials
		}
		return Principal{}, err
	}
	if err := bcrypt.CompareHashAndPassword(user.SecretHash, []byte(secret)); err != nil {
		return Principal{}, ErrInvalidCredentials
	}
	return user.principal(), nil
}

// SignOut ends the provider side of a session. Credentials are stateless here, so it only records the event.
func (s *Service) SignOut(_ context.Context, userID string) error {
	s.logger.Info("user signed out", slog.String("user_id", userID))
	return nil
}

// Profile returns the display data of a user.
func (s *Service) Profile(ctx context.Context, userID string) (Profile, error) {
	user, err := s.repo.FindByID(ctx, userID)
	if err != nil {
		return Profile{}, err
	}
	return user.profile(), nil
}

// User returns the full record of a user.
func (s *Service) User(ctx context.Context, userID string) (User, error) {
	return s.repo.FindByID(ctx, userID)
}

// ResetPassword texts a single-use reset token to the phone on file. Unknown emails succeed silently.
func (s *Service) ResetPassword(ctx context.Context, email string) error {
	email = strings.TrimSpace(strings.ToLower(email))
	if err := validation.Struct(struct {
		Email string `validate:"required,email"`
	}{email}); err != nil {
		return err
	}

	user, err := s.repo.FindByEmail(ctx, email)
	if errors.Is(err, ErrUserNotFound) {
		return nil
	}
	if err != nil {
		return err
	}

	token := uuid.NewString()
	if err := s.resets.Put(ctx, token, user.ID, resetTokenTTL); err != nil {
		return err
	}
	if s.notifier != nil {
		body := fmt.Sprintf("Use this code to reset your password: %s. It expires in %d minutes.", token, int(resetTokenTTL.Minutes()))
		if _, err := s.notifier.Send(ctx, notification.Message{Kind: notification.KindPasswordReset, Destination: user.Phone, Body: body}); err != nil {
			s.logger.Warn("password reset delivery failed", slog.String("user_id", user.ID), slog.Any("error", err))
		}
	}
	return nil
}

// ConfirmReset consumes a reset token and stores the new secret.
func (s *Service) ConfirmReset(ctx context.Context, token, newSecret string) error {
	if err := validation.Struct(struct {
		Secret string `validate:"required,min=8,max=72"`
	}{newSecret}); err != nil {
		return err
	}
	userID, err := s.resets.Take(ctx, token)
	if err != nil {
		return err
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(newSecret), s.cost)
	if err != nil {
		return err
	}
	return s.repo.UpdateSecret(ctx, userID, hash)
}

func (s *Service) lookup(ctx context.Context, identifier string) (User, error) {
	if strings.Contains(identifier, "@") {
		return s.repo.FindByEmail(ctx, strings.ToLower(identifier))
	}
	return s.repo.FindByPhone(ctx, identifier)
}

func newAccountNumber() (string, error) {
	var b strings.Builder
	ten := big.NewInt(10)
	for i := 0; i < accountNumberDigits; i++ {
		n, err := rand.Int(rand.Reader, ten)
		if err != nil {
			return "", err
		}
		if i == 0 && n.Int64() == 0 {
			n.SetInt64(1)
		}
		b.WriteByte(byte('0' + n.Int64()))
	}
	return b.String(), nil
}
