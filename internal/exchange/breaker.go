package exchange

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"

	"github.com/atlas-desktop/structure-core/pkg/types"
)

// BreakerConfig configures the circuit breaker wrapping an Exchange.
type BreakerConfig struct {
	// MaxConsecutiveFailures opens the breaker after this many consecutive
	// failed calls.
	MaxConsecutiveFailures uint32
	// OpenTimeout is how long the breaker stays open before allowing a
	// single trial call through (half-open).
	OpenTimeout time.Duration
}

// DefaultBreakerConfig opens the breaker after 5 consecutive failures and
// keeps it open for 30s before letting a trial call through.
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{MaxConsecutiveFailures: 5, OpenTimeout: 30 * time.Second}
}

// CircuitBreakerExchange wraps an Exchange so a run of failures trips the
// breaker and fails fast instead of letting every caller retry into a
// downed exchange.
type CircuitBreakerExchange struct {
	next    Exchange
	breaker *gobreaker.CircuitBreaker
	logger  *zap.Logger
}

// NewCircuitBreakerExchange wraps next with a gobreaker.CircuitBreaker named
// for logging and metrics correlation.
func NewCircuitBreakerExchange(next Exchange, name string, cfg BreakerConfig, logger *zap.Logger) *CircuitBreakerExchange {
	log := logger.Named("circuit_breaker").With(zap.String("exchange", name))
	settings := gobreaker.Settings{
		Name:    name,
		Timeout: cfg.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.MaxConsecutiveFailures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn("circuit breaker state change", zap.String("from", from.String()), zap.String("to", to.String()))
		},
	}
	return &CircuitBreakerExchange{
		next:    next,
		breaker: gobreaker.NewCircuitBreaker(settings),
		logger:  log,
	}
}

func runThrough[T any](cb *CircuitBreakerExchange, op func() (T, error)) (T, error) {
	result, err := cb.breaker.Execute(func() (interface{}, error) {
		return op()
	})
	if err != nil {
		var zero T
		if err == gobreaker.ErrOpenState || err == gobreaker.ErrTooManyRequests {
			return zero, fmt.Errorf("circuit breaker %s: %w", cb.breaker.Name(), err)
		}
		return zero, err
	}
	return result.(T), nil
}

func (cb *CircuitBreakerExchange) FetchBalance(ctx context.Context) ([]types.Balance, error) {
	return runThrough(cb, func() ([]types.Balance, error) { return cb.next.FetchBalance(ctx) })
}

func (cb *CircuitBreakerExchange) FetchOpenOrders(ctx context.Context, symbol string) ([]types.OrderResponse, error) {
	return runThrough(cb, func() ([]types.OrderResponse, error) { return cb.next.FetchOpenOrders(ctx, symbol) })
}

func (cb *CircuitBreakerExchange) FetchPositions(ctx context.Context) ([]types.ExchangePosition, error) {
	return runThrough(cb, func() ([]types.ExchangePosition, error) { return cb.next.FetchPositions(ctx) })
}

func (cb *CircuitBreakerExchange) CreateOrder(ctx context.Context, symbol string, orderType types.OrderType, side types.OrderSide, amount, price decimal.Decimal, params CreateOrderParams) (types.OrderResponse, error) {
	return runThrough(cb, func() (types.OrderResponse, error) {
		return cb.next.CreateOrder(ctx, symbol, orderType, side, amount, price, params)
	})
}

func (cb *CircuitBreakerExchange) CancelOrder(ctx context.Context, id, symbol string) error {
	_, err := runThrough(cb, func() (struct{}, error) { return struct{}{}, cb.next.CancelOrder(ctx, id, symbol) })
	return err
}

func (cb *CircuitBreakerExchange) FetchOrder(ctx context.Context, id, symbol string) (types.OrderResponse, error) {
	return runThrough(cb, func() (types.OrderResponse, error) { return cb.next.FetchOrder(ctx, id, symbol) })
}

func (cb *CircuitBreakerExchange) SyncTime(ctx context.Context) error {
	_, err := runThrough(cb, func() (struct{}, error) { return struct{}{}, cb.next.SyncTime(ctx) })
	return err
}

// State returns the breaker's current state (closed, half-open, or open).
func (cb *CircuitBreakerExchange) State() gobreaker.State {
	return cb.breaker.State()
}
