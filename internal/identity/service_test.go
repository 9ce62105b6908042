package identity

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/congo-pay/momo_wallet/internal/logging"
	"github.com/congo-pay/momo_wallet/internal/notification"
	"github.com/congo-pay/momo_wallet/internal/validation"
)

type captureNotifier struct {
	mu   sync.Mutex
	last notification.Message
}

func (n *captureNotifier) Send(_ context.Context, msg notification.Message) (notification.Receipt, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.last = msg
	return notification.Receipt{MessageID: "x"}, nil
}

func newTestService(t *testing.T) (*Service, *captureNotifier) {
	t.Helper()
	notifier := &captureNotifier{}
	svc := NewService(NewMemoryRepository(), NewMemoryResetStore(), notifier, logging.Discard())
	svc.cost = bcrypt.MinCost
	return svc, notifier
}

func register(t *testing.T, svc *Service) User {
	t.Helper()
	user, err := svc.Register(context.Background(), Registration{
		FullName: "Ama Mavoungou",
		Email:    "Ama@Example.cg",
		Phone:    "+242061234567",
		Secret:   "s3cret-pass",
	})
	require.NoError(t, err)
	return user
}

func TestRegisterAndSignIn(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	user := register(t, svc)

	assert.Equal(t, "ama@example.cg", user.Email)
	assert.Len(t, user.AccountNumber, accountNumberDigits)
	assert.NotEqual(t, "0", user.AccountNumber[:1])

	byEmail, err := svc.SignIn(ctx, "AMA@example.cg", "s3cret-pass")
	require.NoError(t, err)
	assert.Equal(t, user.ID, byEmail.UserID)

	byPhone, err := svc.SignIn(ctx, "+242061234567", "s3cret-pass")
	require.NoError(t, err)
	assert.Equal(t, user.Email, byPhone.Email)

	profile, err := svc.Profile(ctx, user.ID)
	require.NoError(t, err)
	assert.Equal(t, Profile{FullName: "Ama Mavoungou", PhoneNumber: "+242061234567", AccountNumber: user.AccountNumber}, profile)
}

func TestSignInErrorsAreOpaque(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	register(t, svc)

	_, wrongSecret := svc.SignIn(ctx, "ama@example.cg", "nope-nope")
	_, unknownUser := svc.SignIn(ctx, "nobody@example.cg", "s3cret-pass")

	assert.ErrorIs(t, wrongSecret, ErrInvalidCredentials)
	assert.ErrorIs(t, unknownUser, ErrInvalidCredentials)
	assert.Equal(t, wrongSecret.Error(), unknownUser.Error())
}

func TestRegisterRejectsDuplicatesAndBadInput(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	register(t, svc)

	_, err := svc.Register(ctx, Registration{FullName: "Other", Email: "ama@example.cg", Phone: "+242069999999", Secret: "another-pass"})
	assert.ErrorIs(t, err, ErrUserExists)

	_, err = svc.Register(ctx, Registration{FullName: "X", Email: "bad", Phone: "abc", Secret: "short"})
	assert.True(t, validation.IsValidation(err))
}

func TestResetPasswordFlow(t *testing.T) {
	svc, notifier := newTestService(t)
	ctx := context.Background()
	user := register(t, svc)

	require.NoError(t, svc.ResetPassword(ctx, "unknown@example.cg"))
	assert.Empty(t, notifier.last.Body)

	require.NoError(t, svc.ResetPassword(ctx, user.Email))
	assert.Equal(t, notification.KindPasswordReset, notifier.last.Kind)
	assert.Equal(t, "+242061234567", notifier.last.Destination, "reset codes go out by SMS")
	assert.Equal(t, user.Phone, notifier.last.Destination)

	fields := strings.Fields(notifier.last.Body)
	var token string
	for _, f := range fields {
		if len(strings.TrimSuffix(f, ".")) == 36 {
			token = strings.TrimSuffix(f, ".")
		}
	}
	require.NotEmpty(t, token)

	require.NoError(t, svc.ConfirmReset(ctx, token, "brand-new-pass"))
	_, err := svc.SignIn(ctx, user.Email, "brand-new-pass")
	require.NoError(t, err)

	assert.ErrorIs(t, svc.ConfirmReset(ctx, token, "another-pass-1"), ErrResetTokenInvalid)
}

func TestRedisResetStoreIsSingleUse(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()
	store := NewRedisResetStore(client)
	ctx := context.Background()

	require.NoError(t, store.Put(ctx, "tok", "user-1", time.Minute))
	userID, err := store.Take(ctx, "tok")
	require.NoError(t, err)
	assert.Equal(t, "user-1", userID)

	_, err = store.Take(ctx, "tok")
	assert.ErrorIs(t, err, ErrResetTokenInvalid)

	require.NoError(t, store.Put(ctx, "tok2", "user-1", time.Minute))
	mr.FastForward(2 * time.Minute)
	_, err = store.Take(ctx, "tok2")
	assert.ErrorIs(t, err, ErrResetTokenInvalid)
}
