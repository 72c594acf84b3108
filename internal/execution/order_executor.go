package execution

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/atlas-desktop/structure-core/internal/events"
	"github.com/atlas-desktop/structure-core/internal/exchange"
	"github.com/atlas-desktop/structure-core/internal/retry"
	"github.com/atlas-desktop/structure-core/pkg/errs"
	"github.com/atlas-desktop/structure-core/pkg/types"
)

func validateOrderRequest(req types.OrderRequest) error {
	if req.Symbol == "" {
		return errs.NewValidationError("symbol", "is required")
	}
	if req.Quantity.LessThanOrEqual(decimal.Zero) {
		return errs.NewValidationError("quantity", "must be positive")
	}

	switch req.Type {
	case types.OrderTypeLimit:
		if req.Price.LessThanOrEqual(decimal.Zero) {
			return errs.NewValidationError("price", "LIMIT order requires a positive price")
		}
		if req.PostOnly && req.TimeInForce != types.TimeInForceGTC {
			return errs.NewValidationError("time_in_force", "post-only orders must use GTC")
		}
	case types.OrderTypeStopLoss, types.OrderTypeTakeProfit:
		if req.StopPrice.LessThanOrEqual(decimal.Zero) {
			return errs.NewValidationError("stop_price", fmt.Sprintf("%s order requires a positive stop_price", req.Type))
		}
	}

	if req.PositionSide != "" && req.PositionSide != types.PositionSideLong && req.PositionSide != types.PositionSideShort {
		return errs.NewValidationError("position_side", fmt.Sprintf("invalid position_side: %s", req.PositionSide))
	}

	switch req.TimeInForce {
	case "", types.TimeInForceGTC, types.TimeInForceIOC, types.TimeInForceFOK:
	default:
		return errs.NewValidationError("time_in_force", fmt.Sprintf("invalid time_in_force: %s", req.TimeInForce))
	}
	return nil
}

// latencyKey groups recorded execution latencies by (symbol, type, side).
func latencyKey(symbol string, orderType types.OrderType, side types.OrderSide) string {
	return fmt.Sprintf("%s|%s|%s", symbol, orderType, side)
}

// OrderExecutor validates and submits orders to an Exchange, classifying
// failures through a retry.Manager and publishing lifecycle events.
type OrderExecutor struct {
	exch      exchange.Exchange
	retryMgr  *retry.Manager
	bus       *events.Bus
	logger    *zap.Logger
	cfg       types.OrderExecutorConfig

	mu        sync.Mutex
	history   []types.OrderResponse
	latencies map[string]time.Duration
}

// NewOrderExecutor builds an executor around exch with the custom-delay
// retry schedule [1s, 2s, 5s] and the time-sync special handler for
// timestamp/recvWindow exchange errors.
func NewOrderExecutor(exch exchange.Exchange, bus *events.Bus, cfg types.OrderExecutorConfig, logger *zap.Logger) *OrderExecutor {
	logger = logger.Named("order_executor")

	delays := make([]time.Duration, 0, len(cfg.CustomDelaysMs))
	for _, ms := range cfg.CustomDelaysMs {
		delays = append(delays, time.Duration(ms)*time.Millisecond)
	}

	retryCfg := retry.Config{
		MaxRetries:   cfg.MaxRetries,
		Strategy:     types.RetryCustom,
		BaseDelay:    time.Duration(cfg.RetryBaseDelayMs) * time.Millisecond,
		MaxDelay:     time.Duration(cfg.RetryMaxDelayMs) * time.Millisecond,
		CustomDelays: delays,
		LogAttempts:  true,
		NonRetryable: []func(error) bool{
			func(err error) bool { _, ok := err.(*errs.ValidationError); return ok },
			func(err error) bool { _, ok := err.(*errs.InsufficientFundsError); return ok },
		},
		Retryable: []func(error) bool{
			func(err error) bool { _, ok := err.(*errs.NetworkError); return ok },
		},
		SpecialHandlers: []retry.SpecialHandler{
			{
				Match: func(err error) bool {
					exErr, ok := err.(*errs.ExchangeError)
					if !ok {
						return false
					}
					msg := strings.ToLower(exErr.Message)
					return strings.Contains(msg, "timestamp") || strings.Contains(msg, "recvwindow")
				},
				Handle: func(ctx context.Context, err error) error {
					return exch.SyncTime(ctx)
				},
			},
		},
	}

	return &OrderExecutor{
		exch:      exch,
		retryMgr:  retry.New(retryCfg, logger),
		bus:       bus,
		logger:    logger,
		cfg:       cfg,
		latencies: make(map[string]time.Duration),
	}
}

func (e *OrderExecutor) dispatch(ctx context.Context, req types.OrderRequest) (types.OrderResponse, error) {
	params := exchange.CreateOrderParams{
		StopPrice:     req.StopPrice,
		PositionSide:  req.PositionSide,
		TimeInForce:   req.TimeInForce,
		ReduceOnly:    req.ReduceOnly,
		PostOnly:      req.PostOnly,
		ClientOrderID: req.ClientOrderID,
	}

	switch req.Type {
	case types.OrderTypeMarket:
		return e.exch.CreateOrder(ctx, req.Symbol, req.Type, req.Side, req.Quantity, decimal.Zero, params)
	case types.OrderTypeLimit:
		return e.exch.CreateOrder(ctx, req.Symbol, req.Type, req.Side, req.Quantity, req.Price, params)
	case types.OrderTypeStopLoss, types.OrderTypeTakeProfit:
		return e.exch.CreateOrder(ctx, req.Symbol, req.Type, req.Side, req.Quantity, req.StopPrice, params)
	default:
		return types.OrderResponse{}, errs.NewValidationError("type", fmt.Sprintf("unsupported order type: %s", req.Type))
	}
}

// Execute validates req, submits it through the retry policy, records
// latency, appends to history, and emits the appropriate lifecycle events.
func (e *OrderExecutor) Execute(ctx context.Context, req types.OrderRequest) (types.OrderResponse, error) {
	if err := validateOrderRequest(req); err != nil {
		return types.OrderResponse{}, err
	}

	start := time.Now()
	var resp types.OrderResponse
	err := e.retryMgr.Execute(ctx, func(ctx context.Context) error {
		r, rerr := e.dispatch(ctx, req)
		if rerr != nil {
			return rerr
		}
		resp = r
		return nil
	})

	e.recordLatency(req.Symbol, req.Type, req.Side, time.Since(start))

	if err != nil {
		switch err.(type) {
		case *errs.ValidationError, *errs.InsufficientFundsError:
			e.publish(5, events.TypeOrderCancelled, map[string]any{"request": req, "error": err.Error()})
		default:
			e.publish(9, events.TypeExchangeError, map[string]any{"request": req, "error": err.Error()})
		}
		return types.OrderResponse{}, err
	}

	e.appendHistory(resp)
	e.publish(6, events.TypeOrderPlaced, resp)
	if resp.IsFilled() {
		e.publish(8, events.TypeOrderFilled, resp)
	}
	return resp, nil
}

// ExecuteMarketOrder is the convenience path EmergencyManager uses to
// liquidate a position: always MARKET, always the caller's reduce_only
// intent.
func (e *OrderExecutor) ExecuteMarketOrder(ctx context.Context, symbol string, side types.OrderSide, quantity decimal.Decimal, positionSide types.PositionSide, reduceOnly bool) (types.OrderResponse, error) {
	return e.Execute(ctx, types.OrderRequest{
		Symbol: symbol, Type: types.OrderTypeMarket, Side: side, Quantity: quantity,
		PositionSide: positionSide, TimeInForce: types.TimeInForceGTC, ReduceOnly: reduceOnly,
	})
}

func (e *OrderExecutor) recordLatency(symbol string, orderType types.OrderType, side types.OrderSide, d time.Duration) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.latencies[latencyKey(symbol, orderType, side)] = d
}

// Latency returns the most recently recorded execution latency for
// (symbol, type, side).
func (e *OrderExecutor) Latency(symbol string, orderType types.OrderType, side types.OrderSide) (time.Duration, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	d, ok := e.latencies[latencyKey(symbol, orderType, side)]
	return d, ok
}

func (e *OrderExecutor) appendHistory(resp types.OrderResponse) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.history = append(e.history, resp)
}

// History returns a copy of every response this executor has recorded.
func (e *OrderExecutor) History() []types.OrderResponse {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]types.OrderResponse, len(e.history))
	copy(out, e.history)
	return out
}

func (e *OrderExecutor) publish(priority int, t events.Type, data any) {
	if e.bus == nil {
		return
	}
	e.bus.Publish(events.Event{Priority: priority, EventType: t, Data: data, Source: "order_executor"})
}
