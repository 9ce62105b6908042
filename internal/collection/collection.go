// Package collection drives mobile-money payment requests: a request is submitted to the
// gateway once and then polled until it reaches a terminal status or the poll budget runs out.
package collection

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/shopspring/decimal"
)

// Status is the gateway-side state of a collection request.
type Status string

const (
	StatusPending    Status = "PENDING"
	StatusSuccessful Status = "SUCCESSFUL"
	StatusFailed     Status = "FAILED"
	StatusRejected   Status = "REJECTED"
)

// IsTerminal reports whether no further status change is expected.
func (s Status) IsTerminal() bool {
	return s == StatusSuccessful || s == StatusFailed || s == StatusRejected
}

// ParseStatus maps a gateway status string. Unknown values stay pending.
func ParseStatus(raw string) Status {
	switch Status(raw) {
	case StatusSuccessful, StatusFailed, StatusRejected:
		return Status(raw)
	case "TIMEOUT", "EXPIRED":
		return StatusFailed
	}
	return StatusPending
}

// Request is one collection attempt as seen by this service.
type Request struct {
	ReferenceID string          `json:"reference_id"`
	Amount      decimal.Decimal `json:"amount"`
	Currency    string          `json:"currency"`
	PayerID     string          `json:"payer_id"`
	Status      Status          `json:"status"`
	Reason      string          `json:"reason,omitempty"`
	Attempts    int             `json:"attempts"`
	CreatedAt   time.Time       `json:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at"`
}

// Order is what gets submitted to the gateway.
type Order struct {
	ReferenceID  string
	Amount       decimal.Decimal
	Currency     string
	PayerID      string
	PayerMessage string
	PayeeNote    string
}

// StatusReport is the gateway's answer to a status query.
type StatusReport struct {
	Status Status
	Reason string
}

var (
	// ErrRequestNotFound is returned by stores for unknown references.
	ErrRequestNotFound = errors.New("collection request not found")
	// ErrInvalidRequest rejects non-positive amounts and empty payers.
	ErrInvalidRequest = errors.New("invalid collection request")
)

// GatewayError wraps a failed gateway call after retries are exhausted.
type GatewayError struct {
	Op         string
	StatusCode int
	Err        error
}

func (e *GatewayError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("gateway %s: status %d: %v", e.Op, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("gateway %s: %v", e.Op, e.Err)
}

func (e *GatewayError) Unwrap() error { return e.Err }

// Temporary reports whether retrying the call may succeed.
func (e *GatewayError) Temporary() bool {
	return e.StatusCode == 0 || e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= http.StatusInternalServerError
}

// IsGatewayError reports whether err is (or wraps) a GatewayError.
func IsGatewayError(err error) bool {
	var gwErr *GatewayError
	return errors.As(err, &gwErr)
}
