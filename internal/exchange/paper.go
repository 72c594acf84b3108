package exchange

import (
	"sync"

	"go.uber.org/zap"

	"context"

	"github.com/shopspring/decimal"

	"github.com/atlas-desktop/structure-core/pkg/errs"
	"github.com/atlas-desktop/structure-core/pkg/types"
	"github.com/atlas-desktop/structure-core/pkg/utils"
)

// PaperExchange is an in-memory reference Exchange used for paper trading
// and tests. MARKET orders fill immediately at the symbol's mark price;
// LIMIT and STOP_LOSS orders rest until a MatchPrice call crosses their
// trigger; other resting order types are never matched.
type PaperExchange struct {
	logger *zap.Logger

	mu           sync.Mutex
	balances     map[string]types.Balance
	marks        map[string]decimal.Decimal
	openOrders   map[string]types.OrderResponse
	closedOrders map[string]types.OrderResponse
	positions    map[string]types.ExchangePosition
}

// NewPaperExchange seeds a quote-asset balance and returns a ready PaperExchange.
func NewPaperExchange(logger *zap.Logger, quoteAsset string, startingBalance decimal.Decimal) *PaperExchange {
	return &PaperExchange{
		logger:       logger.Named("paper_exchange"),
		balances:     map[string]types.Balance{quoteAsset: {Asset: quoteAsset, Free: startingBalance}},
		marks:        make(map[string]decimal.Decimal),
		openOrders:   make(map[string]types.OrderResponse),
		closedOrders: make(map[string]types.OrderResponse),
		positions:    make(map[string]types.ExchangePosition),
	}
}

// SetMarkPrice updates the reference price used to fill MARKET orders for
// this symbol. It does not evaluate resting orders; MatchPrice does that.
func (p *PaperExchange) SetMarkPrice(symbol string, price decimal.Decimal) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.marks[symbol] = price
}

func (p *PaperExchange) FetchBalance(ctx context.Context) ([]types.Balance, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]types.Balance, 0, len(p.balances))
	for _, b := range p.balances {
		out = append(out, b)
	}
	return out, nil
}

func (p *PaperExchange) FetchOpenOrders(ctx context.Context, symbol string) ([]types.OrderResponse, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []types.OrderResponse
	for _, o := range p.openOrders {
		if symbol == "" || o.Symbol == symbol {
			out = append(out, o)
		}
	}
	return out, nil
}

func (p *PaperExchange) FetchPositions(ctx context.Context) ([]types.ExchangePosition, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]types.ExchangePosition, 0, len(p.positions))
	for _, pos := range p.positions {
		out = append(out, pos)
	}
	return out, nil
}

func (p *PaperExchange) CreateOrder(ctx context.Context, symbol string, orderType types.OrderType, side types.OrderSide, amount, price decimal.Decimal, params CreateOrderParams) (types.OrderResponse, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if amount.LessThanOrEqual(decimal.Zero) {
		return types.OrderResponse{}, errs.NewValidationError("amount", "must be positive")
	}

	resp := types.OrderResponse{
		OrderID:       utils.GenerateOrderID(),
		ClientOrderID: params.ClientOrderID,
		Symbol:        symbol,
		Type:          orderType,
		Side:          side,
		Price:         price,
		Amount:        amount,
		Remaining:     amount,
	}

	if orderType == types.OrderTypeMarket {
		fillPrice := p.marks[symbol]
		if price.IsPositive() {
			fillPrice = price
		}
		resp.Status = types.ExchangeOrderClosed
		resp.Filled = amount
		resp.Remaining = decimal.Zero
		resp.Average = fillPrice
		p.applyFill(symbol, side, params.PositionSide, amount, fillPrice)
		p.closedOrders[resp.OrderID] = resp
		return resp, nil
	}

	resp.Status = types.ExchangeOrderOpen
	p.openOrders[resp.OrderID] = resp
	return resp, nil
}

// applyFill mutates the paper position book for symbol given a fill.
// BUY increases a long / reduces a short; SELL is the mirror.
func (p *PaperExchange) applyFill(symbol string, side types.OrderSide, positionSide types.PositionSide, amount, price decimal.Decimal) {
	pos, exists := p.positions[symbol]
	if !exists {
		exSide := types.ExchangePositionLong
		if side == types.OrderSideSell {
			exSide = types.ExchangePositionShort
		}
		p.positions[symbol] = types.ExchangePosition{
			Symbol: symbol, Side: exSide, Contracts: amount, EntryPrice: price, MarkPrice: price, Leverage: 1,
		}
		return
	}

	closing := (pos.Side == types.ExchangePositionLong && side == types.OrderSideSell) ||
		(pos.Side == types.ExchangePositionShort && side == types.OrderSideBuy)

	if closing {
		remaining := pos.Contracts.Sub(amount)
		if remaining.LessThanOrEqual(decimal.Zero) {
			delete(p.positions, symbol)
			return
		}
		pos.Contracts = remaining
		pos.MarkPrice = price
		p.positions[symbol] = pos
		return
	}

	totalNotional := pos.EntryPrice.Mul(pos.Contracts).Add(price.Mul(amount))
	pos.Contracts = pos.Contracts.Add(amount)
	pos.EntryPrice = totalNotional.Div(pos.Contracts)
	pos.MarkPrice = price
	p.positions[symbol] = pos
}

// MatchPrice evaluates resting LIMIT/STOP orders against a new tick and
// fills any that cross their trigger.
func (p *PaperExchange) MatchPrice(symbol string, price decimal.Decimal) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.marks[symbol] = price

	for id, o := range p.openOrders {
		if o.Symbol != symbol {
			continue
		}
		triggered := false
		fillPrice := o.Price
		switch o.Type {
		case types.OrderTypeLimit:
			if o.Side == types.OrderSideBuy && price.LessThanOrEqual(o.Price) {
				triggered = true
			}
			if o.Side == types.OrderSideSell && price.GreaterThanOrEqual(o.Price) {
				triggered = true
			}
		case types.OrderTypeStopLoss:
			if o.Side == types.OrderSideSell && price.LessThanOrEqual(o.Price) {
				triggered, fillPrice = true, price
			}
			if o.Side == types.OrderSideBuy && price.GreaterThanOrEqual(o.Price) {
				triggered, fillPrice = true, price
			}
		}
		if !triggered {
			continue
		}
		o.Status = types.ExchangeOrderClosed
		o.Filled = o.Amount
		o.Remaining = decimal.Zero
		o.Average = fillPrice
		p.applyFill(symbol, o.Side, "", o.Amount, fillPrice)
		delete(p.openOrders, id)
		p.closedOrders[id] = o
	}
}

func (p *PaperExchange) CancelOrder(ctx context.Context, id, symbol string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	o, ok := p.openOrders[id]
	if !ok {
		return &errs.OrderNotFoundError{OrderID: id, Symbol: symbol}
	}
	o.Status = types.ExchangeOrderCanceled
	delete(p.openOrders, id)
	p.closedOrders[id] = o
	return nil
}

func (p *PaperExchange) FetchOrder(ctx context.Context, id, symbol string) (types.OrderResponse, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if o, ok := p.openOrders[id]; ok {
		return o, nil
	}
	if o, ok := p.closedOrders[id]; ok {
		return o, nil
	}
	return types.OrderResponse{}, &errs.OrderNotFoundError{OrderID: id, Symbol: symbol}
}

func (p *PaperExchange) SyncTime(ctx context.Context) error { return nil }
