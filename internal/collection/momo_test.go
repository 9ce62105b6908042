package collection

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/congo-pay/momo_wallet/internal/config"
)

func newMoMoServer(t *testing.T, statusBody string) (*httptest.Server, *int32) {
	t.Helper()
	var tokenCalls int32
	mux := http.NewServeMux()
	mux.HandleFunc("/collection/token/", func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&tokenCalls, 1)
		user, pass, ok := r.BasicAuth()
		if !ok || user != "api-user" || pass != "api-key" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		if r.Header.Get("Ocp-Apim-Subscription-Key") != "sub-key" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"access_token":"tok-1","token_type":"access_token","expires_in":3600}`)
	})
	mux.HandleFunc("/collection/v1_0/requesttopay", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.Header.Get("Authorization") != "Bearer tok-1" ||
			r.Header.Get("X-Target-Environment") != "sandbox" || r.Header.Get("X-Reference-Id") == "" {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		var body map[string]any
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body["amount"] != "1500" {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		payer, _ := body["payer"].(map[string]any)
		if payer["partyIdType"] != "MSISDN" || payer["partyId"] != "242061234567" {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		w.WriteHeader(http.StatusAccepted)
	})
	mux.HandleFunc("/collection/v1_0/requesttopay/", func(w http.ResponseWriter, r *http.Request) {
		if strings.HasSuffix(r.URL.Path, "/missing") {
			w.WriteHeader(http.StatusNotFound)
			_, _ = io.WriteString(w, `{"code":"RESOURCE_NOT_FOUND"}`)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, statusBody)
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv, &tokenCalls
}

func newTestGateway(srv *httptest.Server) *MoMoGateway {
	return NewMoMoGateway(config.MoMoConfig{
		BaseURL:         srv.URL + "/",
		APIUser:         "api-user",
		APIKey:          "api-key",
		SubscriptionKey: "sub-key",
		TargetEnv:       "sandbox",
		RequestTimeout:  5 * time.Second,
	}, srv.Client())
}

func TestMoMoGatewayFlow(t *testing.T) {
	srv, tokenCalls := newMoMoServer(t, `{"status":"SUCCESSFUL","financialTransactionId":"42"}`)
	gw := newTestGateway(srv)
	ctx := context.Background()

	token, err := gw.Token(ctx)
	require.NoError(t, err)
	assert.Equal(t, "tok-1", token)

	err = gw.RequestCollection(ctx, token, Order{
		ReferenceID: "6f1c1b52-9c9e-4b0a-9f43-3ad1b8a3a111",
		Amount:      decimal.NewFromInt(1500),
		Currency:    "XAF",
		PayerID:     "+242061234567",
	})
	require.NoError(t, err)

	report, err := gw.Status(ctx, token, "6f1c1b52-9c9e-4b0a-9f43-3ad1b8a3a111")
	require.NoError(t, err)
	assert.Equal(t, StatusSuccessful, report.Status)

	_, err = gw.Token(ctx)
	require.NoError(t, err)
	assert.Equal(t, int32(1), atomic.LoadInt32(tokenCalls), "token should be cached")
}

func TestMoMoGatewayReason(t *testing.T) {
	srv, _ := newMoMoServer(t, `{"status":"FAILED","reason":{"code":"PAYER_NOT_FOUND","message":"payer unknown"}}`)
	gw := newTestGateway(srv)

	report, err := gw.Status(context.Background(), "tok-1", "abc")
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, report.Status)
	assert.Equal(t, "PAYER_NOT_FOUND", report.Reason)
}

func TestMoMoGatewayErrors(t *testing.T) {
	srv, _ := newMoMoServer(t, `{"status":"PENDING"}`)
	gw := newTestGateway(srv)

	_, err := gw.Status(context.Background(), "tok-1", "missing")
	var gwErr *GatewayError
	require.ErrorAs(t, err, &gwErr)
	assert.Equal(t, http.StatusNotFound, gwErr.StatusCode)
	assert.False(t, gwErr.Temporary())

	err = gw.RequestCollection(context.Background(), "wrong", Order{ReferenceID: "r", Amount: decimal.NewFromInt(1500), PayerID: "242061234567"})
	require.ErrorAs(t, err, &gwErr)
	assert.Equal(t, http.StatusBadRequest, gwErr.StatusCode)

	bad := NewMoMoGateway(config.MoMoConfig{BaseURL: srv.URL, APIUser: "api-user", APIKey: "nope", SubscriptionKey: "sub-key"}, srv.Client())
	_, err = bad.Token(context.Background())
	require.ErrorAs(t, err, &gwErr)
	assert.Equal(t, http.StatusUnauthorized, gwErr.StatusCode)
}

func TestDecodeReason(t *testing.T) {
	assert.Equal(t, "", decodeReason(nil))
	assert.Equal(t, "APPROVAL_REJECTED", decodeReason(json.RawMessage(`"APPROVAL_REJECTED"`)))
	assert.Equal(t, "boom", decodeReason(json.RawMessage(`{"message":"boom"}`)))
}
