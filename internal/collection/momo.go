package collection

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"

	"github.com/congo-pay/momo_wallet/internal/config"
)

const (
	momoTokenPath   = "/collection/token/"
	momoRequestPath = "/collection/v1_0/requesttopay"
	maxErrorBody    = 4 << 10
)

// MoMoGateway talks to the MTN MoMo collection API.
type MoMoGateway struct {
	baseURL   string
	targetEnv string
	client    *http.Client
	tokens    oauth2.TokenSource
}

// NewMoMoGateway builds a gateway from configuration. A nil client gets one with the
// configured request timeout.
func NewMoMoGateway(cfg config.MoMoConfig, client *http.Client) *MoMoGateway {
	if client == nil {
		client = &http.Client{Timeout: cfg.RequestTimeout}
	}
	base := client.Transport
	if base == nil {
		base = http.DefaultTransport
	}
	client = &http.Client{
		Timeout:   client.Timeout,
		Transport: &subscriptionTransport{key: cfg.SubscriptionKey, base: base},
	}

	baseURL := strings.TrimRight(cfg.BaseURL, "/")
	creds := clientcredentials.Config{
		ClientID:     cfg.APIUser,
		ClientSecret: cfg.APIKey,
		TokenURL:     baseURL + momoTokenPath,
		AuthStyle:    oauth2.AuthStyleInHeader,
	}
	tokenCtx := context.WithValue(context.Background(), oauth2.HTTPClient, client)

	return &MoMoGateway{
		baseURL:   baseURL,
		targetEnv: cfg.TargetEnv,
		client:    client,
		tokens:    creds.TokenSource(tokenCtx),
	}
}

// Token returns a cached access token, fetching a new one when it expires.
func (g *MoMoGateway) Token(ctx context.Context) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	tok, err := g.tokens.Token()
	if err != nil {
		gwErr := &GatewayError{Op: "token", Err: err}
		var retrieveErr *oauth2.RetrieveError
		if errors.As(err, &retrieveErr) && retrieveErr.Response != nil {
			gwErr.StatusCode = retrieveErr.Response.StatusCode
		}
		return "", gwErr
	}
	return tok.AccessToken, nil
}

type momoParty struct {
	PartyIDType string `json:"partyIdType"`
	PartyID     string `json:"partyId"`
}

type momoRequestToPay struct {
	Amount       string    `json:"amount"`
	Currency     string    `json:"currency"`
	ExternalID   string    `json:"externalId"`
	Payer        momoParty `json:"payer"`
	PayerMessage string    `json:"payerMessage"`
	PayeeNote    string    `json:"payeeNote"`
}

type momoStatus struct {
	Status string          `json:"status"`
	Reason json.RawMessage `json:"reason"`
}

// RequestCollection submits a request-to-pay. The gateway answers 202 and processes it asynchronously.
func (g *MoMoGateway) RequestCollection(ctx context.Context, token string, order Order) error {
	body, err := json.Marshal(momoRequestToPay{
		Amount:       order.Amount.String(),
		Currency:     order.Currency,
		ExternalID:   order.ReferenceID,
		Payer:        momoParty{PartyIDType: "MSISDN", PartyID: strings.TrimPrefix(order.PayerID, "+")},
		PayerMessage: order.PayerMessage,
		PayeeNote:    order.PayeeNote,
	})
	if err != nil {
		return fmt.Errorf("encode request to pay: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.baseURL+momoRequestPath, bytes.NewReader(body))
	if err != nil {
		return &GatewayError{Op: "request", Err: err}
	}
	g.headers(req, token)
	req.Header.Set("X-Reference-Id", order.ReferenceID)
	req.Header.Set("Content-Type", "application/json")

	resp, err := g.client.Do(req)
	if err != nil {
		return &GatewayError{Op: "request", Err: err}
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusAccepted {
		return responseError("request", resp)
	}
	return nil
}

// Status queries the current state of a request-to-pay.
func (g *MoMoGateway) Status(ctx context.Context, token, referenceID string) (StatusReport, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, g.baseURL+momoRequestPath+"/"+referenceID, nil)
	if err != nil {
		return StatusReport{}, &GatewayError{Op: "status", Err: err}
	}
	g.headers(req, token)

	resp, err := g.client.Do(req)
	if err != nil {
		return StatusReport{}, &GatewayError{Op: "status", Err: err}
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return StatusReport{}, responseError("status", resp)
	}

	var payload momoStatus
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return StatusReport{}, &GatewayError{Op: "status", StatusCode: resp.StatusCode, Err: fmt.Errorf("decode status: %w", err)}
	}
	return StatusReport{Status: ParseStatus(payload.Status), Reason: decodeReason(payload.Reason)}, nil
}

func (g *MoMoGateway) headers(req *http.Request, token string) {
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("X-Target-Environment", g.targetEnv)
}

func responseError(op string, resp *http.Response) error {
	msg, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	text := strings.TrimSpace(string(msg))
	if text == "" {
		text = http.StatusText(resp.StatusCode)
	}
	return &GatewayError{Op: op, StatusCode: resp.StatusCode, Err: errors.New(text)}
}

// decodeReason accepts both the plain string and the {code, message} object forms.
func decodeReason(raw json.RawMessage) string {
	if len(raw) == 0 || string(raw) == "null" {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	var obj struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	}
	if err := json.Unmarshal(raw, &obj); err == nil {
		if obj.Code != "" {
			return obj.Code
		}
		return obj.Message
	}
	return string(raw)
}

type subscriptionTransport struct {
	key  string
	base http.RoundTripper
}

func (t *subscriptionTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	clone := req.Clone(req.Context())
	clone.Header.Set("Ocp-Apim-Subscription-Key", t.key)
	return t.base.RoundTrip(clone)
}

var _ Gateway = (*MoMoGateway)(nil)
