package funding

import (
	"time"

	"github.com/shopspring/decimal"
)

// TopUpRequest captures a mobile-money top-up of the caller's wallet.
type TopUpRequest struct {
	Amount decimal.Decimal `json:"amount"`
	MSISDN string          `json:"msisdn" validate:"required,msisdn"`
}

// TopUpResponse reports where a top-up stands.
type TopUpResponse struct {
	Reference     string    `json:"reference"`
	Status        string    `json:"status"`
	GatewayStatus string    `json:"gateway_status"`
	Reason        string    `json:"reason,omitempty"`
	TransactionID string    `json:"transaction_id"`
	Amount        string    `json:"amount"`
	UpdatedAt     time.Time `json:"updated_at"`
}
