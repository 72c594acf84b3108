// Package exchange defines the broker capability surface the core submits
// orders and reads positions through, plus a paper-trading reference
// implementation and a WebSocket execution-report ingestor.
package exchange

import (
	"context"

	"github.com/shopspring/decimal"

	"github.com/atlas-desktop/structure-core/pkg/types"
)

// CreateOrderParams carries the optional fields of Exchange.CreateOrder.
type CreateOrderParams struct {
	StopPrice     decimal.Decimal
	PositionSide  types.PositionSide
	TimeInForce   types.TimeInForce
	ReduceOnly    bool
	PostOnly      bool
	ClientOrderID string
}

// Exchange is the inbound capability the core is injected with. Implementors
// must treat every method as a blocking RPC: the core wraps calls in
// RetryManager and expects *errs.NetworkError / *errs.ExchangeError /
// *errs.InsufficientFundsError / *errs.OrderNotFoundError for classification.
type Exchange interface {
	FetchBalance(ctx context.Context) ([]types.Balance, error)
	FetchOpenOrders(ctx context.Context, symbol string) ([]types.OrderResponse, error)
	FetchPositions(ctx context.Context) ([]types.ExchangePosition, error)
	CreateOrder(ctx context.Context, symbol string, orderType types.OrderType, side types.OrderSide, amount, price decimal.Decimal, params CreateOrderParams) (types.OrderResponse, error)
	CancelOrder(ctx context.Context, id, symbol string) error
	FetchOrder(ctx context.Context, id, symbol string) (types.OrderResponse, error)
	SyncTime(ctx context.Context) error
}
