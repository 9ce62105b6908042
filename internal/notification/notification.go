package notification

import (
	"context"
	"errors"
	"log/slog"

	"github.com/google/uuid"
)

const (
	// KindOTP carries a one-time passcode.
	KindOTP = "otp"
	// KindPasswordReset carries a password reset token.
	KindPasswordReset = "password_reset"
	// KindPurchase is a receipt for a wallet-funded purchase.
	KindPurchase = "purchase"
	// KindTopUp confirms a mobile-money top-up.
	KindTopUp = "topup"
)

// ErrNoDestination is returned when a message has nowhere to go.
var ErrNoDestination = errors.New("notification destination is required")

// Message describes a notification payload. Destination is a phone number for SMS
// kinds and an email address for password resets.
type Message struct {
	Kind        string
	Destination string
	Body        string
}

// Receipt identifies a delivered message at the provider.
type Receipt struct {
	MessageID string
}

// Notifier delivers notifications to downstream systems.
type Notifier interface {
	Send(ctx context.Context, message Message) (Receipt, error)
}

// LoggerNotifier is a stub implementation that writes notifications to the logger.
type LoggerNotifier struct {
	logger *slog.Logger
}

// NewLoggerNotifier constructs a logging notifier stub.
func NewLoggerNotifier(logger *slog.Logger) *LoggerNotifier {
	return &LoggerNotifier{logger: logger}
}

// Send writes the message to the structured logger.
func (n *LoggerNotifier) Send(_ context.Context, message Message) (Receipt, error) {
	if message.Destination == "" {
		return Receipt{}, ErrNoDestination
	}
	receipt := Receipt{MessageID: "log-" + uuid.NewString()}
	if n == nil || n.logger == nil {
		return receipt, nil
	}
	n.logger.Info("notification",
		slog.String("kind", message.Kind),
		slog.String("destination", message.Destination),
		slog.String("body", message.Body),
		slog.String("message_id", receipt.MessageID),
	)
	return receipt, nil
}
