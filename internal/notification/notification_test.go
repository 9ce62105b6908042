package notification

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	twilioApi "github.com/twilio/twilio-go/rest/api/v2010"

	"github.com/congo-pay/momo_wallet/internal/logging"
)

type fakeCreator struct {
	params *twilioApi.CreateMessageParams
	err    error
}

func (f *fakeCreator) CreateMessage(params *twilioApi.CreateMessageParams) (*twilioApi.ApiV2010Message, error) {
	f.params = params
	if f.err != nil {
		return nil, f.err
	}
	sid := "SM123"
	return &twilioApi.ApiV2010Message{Sid: &sid}, nil
}

func TestLoggerNotifierRequiresDestination(t *testing.T) {
	n := NewLoggerNotifier(logging.Discard())
	_, err := n.Send(context.Background(), Message{Kind: KindOTP, Body: "x"})
	assert.ErrorIs(t, err, ErrNoDestination)

	receipt, err := n.Send(context.Background(), Message{Kind: KindOTP, Destination: "+242061234567", Body: "x"})
	require.NoError(t, err)
	assert.NotEmpty(t, receipt.MessageID)
}

func TestTwilioNotifierSends(t *testing.T) {
	api := &fakeCreator{}
	n := &TwilioNotifier{api: api, fromNumber: "+15005550006", fallback: NewLoggerNotifier(logging.Discard())}

	receipt, err := n.Send(context.Background(), Message{Kind: KindOTP, Destination: "+242061234567", Body: "code 123456"})
	require.NoError(t, err)
	assert.Equal(t, "SM123", receipt.MessageID)
	require.NotNil(t, api.params)
	assert.Equal(t, "+242061234567", *api.params.To)
	assert.Equal(t, "code 123456", *api.params.Body)
}

func TestTwilioNotifierSurfacesFailure(t *testing.T) {
	api := &fakeCreator{err: errors.New("boom")}
	n := &TwilioNotifier{api: api, fromNumber: "+15005550006", fallback: NewLoggerNotifier(logging.Discard())}

	_, err := n.Send(context.Background(), Message{Kind: KindOTP, Destination: "+242061234567", Body: "x"})
	assert.Error(t, err)
}

func TestTwilioNotifierFallsBackWithoutSender(t *testing.T) {
	api := &fakeCreator{}
	n := &TwilioNotifier{api: api, fallback: NewLoggerNotifier(logging.Discard())}

	_, err := n.Send(context.Background(), Message{Kind: KindOTP, Destination: "+242061234567", Body: "x"})
	require.NoError(t, err)
	assert.Nil(t, api.params)
}
