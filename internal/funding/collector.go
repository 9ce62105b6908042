package funding

import (
	"context"

	"github.com/shopspring/decimal"

	"github.com/congo-pay/momo_wallet/internal/collection"
)

// Collector is the part of the collection adapter funding drives.
type Collector interface {
	Prepare(ctx context.Context, amount decimal.Decimal, payerID string) (collection.Request, error)
	Submit(ctx context.Context, req collection.Request) (collection.Request, error)
	Poll(ctx context.Context, req collection.Request) (collection.Request, error)
	Start(ctx context.Context, req collection.Request) *collection.Task
	Lookup(ctx context.Context, referenceID string) (collection.Request, error)
}

var _ Collector = (*collection.Adapter)(nil)
