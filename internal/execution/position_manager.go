package execution

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/atlas-desktop/structure-core/internal/events"
	"github.com/atlas-desktop/structure-core/internal/storage"
	"github.com/atlas-desktop/structure-core/pkg/errs"
	"github.com/atlas-desktop/structure-core/pkg/types"
	"github.com/atlas-desktop/structure-core/pkg/utils"
)

// priceChangeThreshold is the minimum |Δprice/prev_price| that alone
// qualifies an UpdatePosition call for a PositionUpdated event.
const priceChangeThreshold = 0.001

// PositionManager owns the single source of truth for open positions: at
// most one OPEN position per symbol, with every mutation committed to the
// PersistentStore before the corresponding event is published.
type PositionManager struct {
	store  storage.PersistentStore
	bus    *events.Bus
	logger *zap.Logger

	mu        sync.Mutex
	positions map[string]*types.Position
}

// NewPositionManager builds a manager backed by store, publishing on bus
// (nil for offline use).
func NewPositionManager(store storage.PersistentStore, bus *events.Bus, logger *zap.Logger) *PositionManager {
	return &PositionManager{
		store:     store,
		bus:       bus,
		logger:    logger.Named("position_manager"),
		positions: make(map[string]*types.Position),
	}
}

func calculatePnL(pos *types.Position, currentPrice decimal.Decimal) (decimal.Decimal, float64) {
	diff := currentPrice.Sub(pos.EntryPrice)
	var absPnL decimal.Decimal
	if pos.Side == types.PositionSideLong {
		absPnL = diff.Mul(pos.Size)
	} else {
		absPnL = diff.Neg().Mul(pos.Size)
	}

	leverage := decimal.NewFromInt(int64(pos.Leverage))
	if leverage.IsZero() {
		leverage = decimal.NewFromInt(1)
	}
	positionValue := pos.EntryPrice.Mul(pos.Size).Div(leverage)

	pnlPct := 0.0
	if positionValue.IsPositive() {
		pnlPct = absPnL.Div(positionValue).Mul(decimal.NewFromInt(100)).InexactFloat64()
	}
	return absPnL, pnlPct
}

// OpenPosition rejects a duplicate OPEN position for symbol, persists, and
// publishes PositionOpened.
func (m *PositionManager) OpenPosition(ctx context.Context, symbol, strategy string, side types.PositionSide, size, entryPrice decimal.Decimal, leverage int, stopLoss, takeProfit decimal.Decimal) (*types.Position, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if existing, ok := m.positions[symbol]; ok && existing.Status == types.PositionStatusOpen {
		return nil, errs.NewValidationError("symbol", fmt.Sprintf("position already open for %s", symbol))
	}
	if leverage <= 0 {
		leverage = 1
	}

	pos := &types.Position{
		ID:           utils.GeneratePositionID(),
		Symbol:       symbol,
		Strategy:     strategy,
		Side:         side,
		Size:         size,
		EntryPrice:   entryPrice,
		CurrentPrice: entryPrice,
		Leverage:     leverage,
		StopLoss:     stopLoss,
		TakeProfit:   takeProfit,
		Status:       types.PositionStatusOpen,
		OpenedAt:     time.Now(),
	}

	if err := m.store.SavePosition(ctx, pos); err != nil {
		return nil, fmt.Errorf("persist opened position: %w", err)
	}
	m.positions[symbol] = pos

	if m.bus != nil {
		m.bus.Publish(events.Event{Priority: 7, EventType: events.TypePositionOpened, Data: pos, Source: "position_manager"})
	}
	return pos, nil
}

// UpdatePosition recomputes unrealized PnL for symbol at currentPrice,
// optionally applying sizeChange, and publishes PositionUpdated iff size
// changed or the price moved by more than priceChangeThreshold.
func (m *PositionManager) UpdatePosition(ctx context.Context, symbol string, currentPrice decimal.Decimal, sizeChange *decimal.Decimal) (*types.Position, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	pos, ok := m.positions[symbol]
	if !ok || pos.Status != types.PositionStatusOpen {
		return nil, &errs.OrderNotFoundError{Symbol: symbol}
	}

	prevPrice := pos.CurrentPrice
	sizeChanged := false
	if sizeChange != nil && !sizeChange.IsZero() {
		pos.Size = pos.Size.Add(*sizeChange)
		sizeChanged = true
	}

	pos.CurrentPrice = currentPrice
	pos.UnrealizedPnL, pos.UnrealizedPnLPct = calculatePnL(pos, currentPrice)

	priceMoved := false
	if prevPrice.IsPositive() {
		deltaRatio := currentPrice.Sub(prevPrice).Abs().Div(prevPrice)
		priceMoved = deltaRatio.GreaterThan(decimal.NewFromFloat(priceChangeThreshold))
	}

	if err := m.store.UpdatePosition(ctx, pos); err != nil {
		return nil, fmt.Errorf("persist updated position: %w", err)
	}

	if (sizeChanged || priceMoved) && m.bus != nil {
		m.bus.Publish(events.Event{Priority: 5, EventType: events.TypePositionUpdated, Data: pos, Source: "position_manager"})
	}
	return pos, nil
}

// ClosePosition realizes PnL net of fees, marks the position CLOSED, and
// removes it from the open map.
func (m *PositionManager) ClosePosition(ctx context.Context, symbol string, exitPrice decimal.Decimal, reason string, fees decimal.Decimal) (*types.Position, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	pos, ok := m.positions[symbol]
	if !ok || pos.Status != types.PositionStatusOpen {
		return nil, &errs.OrderNotFoundError{Symbol: symbol}
	}

	absPnL, _ := calculatePnL(pos, exitPrice)
	pos.RealizedPnL = absPnL.Sub(fees)
	pos.UnrealizedPnL = decimal.Zero
	pos.UnrealizedPnLPct = 0
	pos.TotalFees = pos.TotalFees.Add(fees)
	pos.CurrentPrice = exitPrice
	pos.Status = types.PositionStatusClosed
	closedAt := time.Now()
	pos.ClosedAt = &closedAt

	if err := m.store.UpdatePosition(ctx, pos); err != nil {
		return nil, fmt.Errorf("persist closed position: %w", err)
	}
	delete(m.positions, symbol)

	if m.bus != nil {
		m.bus.Publish(events.Event{Priority: 8, EventType: events.TypePositionClosed, Data: pos, Source: "position_manager"})
	}
	_ = reason
	return pos, nil
}

// UpdateAllPositions marks-to-market every open position named in prices and
// returns how many were updated.
func (m *PositionManager) UpdateAllPositions(ctx context.Context, prices map[string]decimal.Decimal) (int, error) {
	updated := 0
	for symbol, price := range prices {
		if _, err := m.UpdatePosition(ctx, symbol, price, nil); err != nil {
			if _, isNotFound := err.(*errs.OrderNotFoundError); isNotFound {
				continue
			}
			return updated, err
		}
		updated++
	}
	return updated, nil
}

// OpenPositions returns a snapshot of all currently OPEN positions.
func (m *PositionManager) OpenPositions() []*types.Position {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*types.Position, 0, len(m.positions))
	for _, p := range m.positions {
		out = append(out, p)
	}
	return out
}

// Position returns the open position for symbol, if any.
func (m *PositionManager) Position(symbol string) (*types.Position, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.positions[symbol]
	return p, ok
}
