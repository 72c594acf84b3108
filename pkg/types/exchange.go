package types

import "github.com/shopspring/decimal"

// OrderRequest is the validated input to OrderExecutor.Execute.
type OrderRequest struct {
	Symbol        string
	Type          OrderType
	Side          OrderSide
	Quantity      decimal.Decimal
	Price         decimal.Decimal
	StopPrice     decimal.Decimal
	PositionSide  PositionSide
	TimeInForce   TimeInForce
	ReduceOnly    bool
	PostOnly      bool
	ClientOrderID string
}

// ExchangeOrderStatus is the raw status vocabulary returned by Exchange.CreateOrder.
type ExchangeOrderStatus string

const (
	ExchangeOrderOpen     ExchangeOrderStatus = "open"
	ExchangeOrderClosed   ExchangeOrderStatus = "closed"
	ExchangeOrderCanceled ExchangeOrderStatus = "canceled"
	ExchangeOrderExpired  ExchangeOrderStatus = "expired"
	ExchangeOrderRejected ExchangeOrderStatus = "rejected"
)

// OrderResponse is the exchange's immediate acknowledgement of an order submission.
type OrderResponse struct {
	OrderID       string
	ClientOrderID string
	Status        ExchangeOrderStatus
	Symbol        string
	Type          OrderType
	Side          OrderSide
	Price         decimal.Decimal
	Amount        decimal.Decimal
	Filled        decimal.Decimal
	Remaining     decimal.Decimal
	Average       decimal.Decimal
	TimestampMs   int64
	Fee           decimal.Decimal
}

// IsFilled reports whether the response already reflects a complete fill.
func (r OrderResponse) IsFilled() bool {
	return r.Status == ExchangeOrderClosed && r.Remaining.IsZero()
}

// ExchangePositionSide mirrors the exchange's own long/short vocabulary,
// distinct from PositionSide to keep the wire representation explicit.
type ExchangePositionSide string

const (
	ExchangePositionLong  ExchangePositionSide = "long"
	ExchangePositionShort ExchangePositionSide = "short"
)

// ExchangePosition is a single row of Exchange.FetchPositions.
type ExchangePosition struct {
	Symbol     string
	Side       ExchangePositionSide
	Contracts  decimal.Decimal
	EntryPrice decimal.Decimal
	MarkPrice  decimal.Decimal
	Leverage   int
}

// Balance is one asset row of Exchange.FetchBalance.
type Balance struct {
	Asset  string
	Free   decimal.Decimal
	Locked decimal.Decimal
}

// ExecutionReport is a raw fill/status update from the exchange's streaming
// user-data channel, using the wire field names from the external feed
// ({e,i,c,X,z,Z}) so WSExecutionIngestor can decode it directly.
type ExecutionReport struct {
	EventType        string          `json:"e"`
	OrderID          string          `json:"i"`
	ClientOrderID    string          `json:"c"`
	Status           string          `json:"X"`
	FilledQty        decimal.Decimal `json:"z"`
	FilledQuoteQty   decimal.Decimal `json:"Z"`
	Symbol           string          `json:"s"`
	Side             string          `json:"S"`
	Price            decimal.Decimal `json:"p"`
	LastFilledQty    decimal.Decimal `json:"l"`
	LastFilledPrice  decimal.Decimal `json:"L"`
	TimestampMs      int64           `json:"T"`
}
