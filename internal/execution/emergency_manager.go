package execution

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/atlas-desktop/structure-core/internal/events"
	"github.com/atlas-desktop/structure-core/pkg/types"
)

// EmergencyState is one of the three global states EmergencyManager cycles
// through.
type EmergencyState string

const (
	EmergencyNormal      EmergencyState = "normal"
	EmergencyLiquidating EmergencyState = "liquidating"
	EmergencyPaused      EmergencyState = "paused"
)

// LiquidationDetail records the outcome of closing a single position during
// an emergency liquidation pass.
type LiquidationDetail struct {
	Symbol  string
	Success bool
	OrderID string
	Price   decimal.Decimal
	Error   string
}

// LiquidationResult summarizes an emergency_liquidate_all call.
type LiquidationResult struct {
	Total      int
	Successful int
	Failed     int
	Details    []LiquidationDetail
}

// EmergencyStats tracks cumulative liquidation activity.
type EmergencyStats struct {
	TotalLiquidations      int
	SuccessfulLiquidations int
	FailedLiquidations     int
	LastLiquidationTime    time.Time
}

// EmergencyManager force-closes every open position on demand and pauses
// the system afterward; resume() is the only way back to NORMAL.
type EmergencyManager struct {
	positions *PositionManager
	executor  *OrderExecutor
	bus       *events.Bus
	logger    *zap.Logger

	mu            sync.Mutex
	state         EmergencyState
	ordersBlocked bool
	stats         EmergencyStats
}

// NewEmergencyManager builds a manager over positions/executor, starting in
// the NORMAL state with orders unblocked.
func NewEmergencyManager(positions *PositionManager, executor *OrderExecutor, bus *events.Bus, logger *zap.Logger) *EmergencyManager {
	return &EmergencyManager{
		positions: positions,
		executor:  executor,
		bus:       bus,
		logger:    logger.Named("emergency_manager"),
		state:     EmergencyNormal,
	}
}

// State returns the current global state.
func (m *EmergencyManager) State() EmergencyState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// IsPaused reports whether the system is currently PAUSED.
func (m *EmergencyManager) IsPaused() bool { return m.State() == EmergencyPaused }

// BlockNewOrders sets the orders_blocked gate independently of state.
func (m *EmergencyManager) BlockNewOrders() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ordersBlocked = true
	m.logger.Warn("new orders blocked")
}

// UnblockOrders clears the orders_blocked gate independently of state.
func (m *EmergencyManager) UnblockOrders() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ordersBlocked = false
	m.logger.Info("new orders unblocked")
}

// OrdersBlocked reports the current gate value.
func (m *EmergencyManager) OrdersBlocked() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.ordersBlocked
}

// Resume transitions PAUSED back to NORMAL and clears the orders_blocked
// gate. No-op (logged) from any other state.
func (m *EmergencyManager) Resume() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state != EmergencyPaused {
		m.logger.Warn("cannot resume from state", zap.String("state", string(m.state)))
		return
	}
	m.state = EmergencyNormal
	m.ordersBlocked = false
	m.logger.Info("system resumed to normal operation")
}

// Stats returns a snapshot of cumulative liquidation counters.
func (m *EmergencyManager) Stats() EmergencyStats {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stats
}

// LiquidateAll force-closes every open position at market, reduce_only, then
// pauses the system. Refuses if a liquidation is already in progress.
func (m *EmergencyManager) LiquidateAll(ctx context.Context, reason string) (*LiquidationResult, error) {
	m.mu.Lock()
	if m.state == EmergencyLiquidating {
		m.mu.Unlock()
		return nil, fmt.Errorf("emergency liquidation already in progress")
	}
	m.state = EmergencyLiquidating
	m.ordersBlocked = true
	m.mu.Unlock()

	m.logger.Error("emergency liquidation initiated", zap.String("reason", reason))
	m.publish(10, events.TypeSystemStop, map[string]any{"event": "emergency_liquidation_started", "reason": reason})

	open := m.positions.OpenPositions()
	result := &LiquidationResult{Total: len(open)}

	if len(open) == 0 {
		m.logger.Info("no open positions to liquidate")
		m.mu.Lock()
		m.state = EmergencyPaused
		m.mu.Unlock()
		return result, nil
	}

	for _, pos := range open {
		detail := m.liquidateOne(ctx, pos, reason)
		result.Details = append(result.Details, detail)
		if detail.Success {
			result.Successful++
		} else {
			result.Failed++
		}
	}

	m.mu.Lock()
	m.stats.TotalLiquidations += result.Total
	m.stats.SuccessfulLiquidations += result.Successful
	m.stats.FailedLiquidations += result.Failed
	m.stats.LastLiquidationTime = time.Now()
	m.state = EmergencyPaused
	m.mu.Unlock()

	m.logger.Error("emergency liquidation completed",
		zap.Int("total", result.Total), zap.Int("successful", result.Successful), zap.Int("failed", result.Failed))
	m.publish(10, events.TypeSystemStop, map[string]any{"event": "emergency_liquidation_completed", "reason": reason, "result": result})

	return result, nil
}

func (m *EmergencyManager) liquidateOne(ctx context.Context, pos *types.Position, reason string) LiquidationDetail {
	var closingSide types.OrderSide
	switch pos.Side {
	case types.PositionSideLong:
		closingSide = types.OrderSideSell
	case types.PositionSideShort:
		closingSide = types.OrderSideBuy
	default:
		return LiquidationDetail{Symbol: pos.Symbol, Success: false, Error: fmt.Sprintf("unknown position side: %s", pos.Side)}
	}

	m.logger.Info("liquidating position", zap.String("symbol", pos.Symbol), zap.String("side", string(pos.Side)), zap.String("size", pos.Size.String()))

	resp, err := m.executor.ExecuteMarketOrder(ctx, pos.Symbol, closingSide, pos.Size, pos.Side, true)
	if err != nil {
		m.logger.Error("failed to liquidate position", zap.String("symbol", pos.Symbol), zap.Error(err))
		return LiquidationDetail{Symbol: pos.Symbol, Success: false, Error: err.Error()}
	}
	if !resp.IsFilled() {
		m.logger.Error("liquidation order not filled", zap.String("symbol", pos.Symbol), zap.String("status", string(resp.Status)))
		return LiquidationDetail{Symbol: pos.Symbol, Success: false, Error: fmt.Sprintf("order not filled: %s", resp.Status)}
	}

	exitPrice := resp.Average
	if exitPrice.IsZero() {
		exitPrice = resp.Price
	}
	if exitPrice.IsZero() {
		exitPrice = pos.CurrentPrice
	}
	if exitPrice.IsZero() {
		exitPrice = pos.EntryPrice
	}

	if _, err := m.positions.ClosePosition(ctx, pos.Symbol, exitPrice, fmt.Sprintf("Emergency liquidation: %s", reason), decimal.Zero); err != nil {
		m.logger.Error("liquidation order filled but close_position failed", zap.String("symbol", pos.Symbol), zap.Error(err))
		return LiquidationDetail{Symbol: pos.Symbol, Success: false, OrderID: resp.OrderID, Error: err.Error()}
	}

	return LiquidationDetail{Symbol: pos.Symbol, Success: true, OrderID: resp.OrderID, Price: exitPrice}
}

func (m *EmergencyManager) publish(priority int, t events.Type, data any) {
	if m.bus == nil {
		return
	}
	m.bus.Publish(events.Event{Priority: priority, EventType: t, Data: data, Source: "emergency_manager"})
}
