package notification

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/twilio/twilio-go"
	twilioApi "github.com/twilio/twilio-go/rest/api/v2010"
)

type messageCreator interface {
	CreateMessage(params *twilioApi.CreateMessageParams) (*twilioApi.ApiV2010Message, error)
}

// TwilioNotifier sends SMS through the Twilio REST API. Without a sender number it
// falls back to logging, which keeps local environments usable.
type TwilioNotifier struct {
	api        messageCreator
	fromNumber string
	fallback   *LoggerNotifier
}

// NewTwilioNotifier builds a Twilio-backed notifier.
func NewTwilioNotifier(accountSID, authToken, fromNumber string, logger *slog.Logger) *TwilioNotifier {
	client := twilio.NewRestClientWithParams(twilio.ClientParams{
		Username: accountSID,
		Password: authToken,
	})
	return &TwilioNotifier{
		api:        client.Api,
		fromNumber: fromNumber,
		fallback:   NewLoggerNotifier(logger),
	}
}

// Send delivers the message body as an SMS to message.Destination.
func (t *TwilioNotifier) Send(ctx context.Context, message Message) (Receipt, error) {
	if message.Destination == "" {
		return Receipt{}, ErrNoDestination
	}
	if t.fromNumber == "" {
		return t.fallback.Send(ctx, message)
	}

	params := &twilioApi.CreateMessageParams{}
	params.SetTo(message.Destination)
	params.SetFrom(t.fromNumber)
	params.SetBody(message.Body)

	resp, err := t.api.CreateMessage(params)
	if err != nil {
		return Receipt{}, fmt.Errorf("send sms: %w", err)
	}
	var receipt Receipt
	if resp != nil && resp.Sid != nil {
		receipt.MessageID = *resp.Sid
	}
	return receipt, nil
}
