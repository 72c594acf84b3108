package execution

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/atlas-desktop/structure-core/internal/events"
	"github.com/atlas-desktop/structure-core/internal/storage"
	"github.com/atlas-desktop/structure-core/pkg/types"
)

func newTestPositionManager() *PositionManager {
	return NewPositionManager(storage.NewInMemoryStore(), events.New(zap.NewNop(), 100), zap.NewNop())
}

func TestPositionManager_LongLeveragedUnrealizedPnL(t *testing.T) {
	ctx := context.Background()
	pm := newTestPositionManager()

	pos, err := pm.OpenPosition(ctx, "BTC/USDT", "trend_follow", types.PositionSideLong,
		decimal.NewFromFloat(0.1), decimal.NewFromInt(50000), 10, decimal.Zero, decimal.Zero)
	require.NoError(t, err)
	require.Equal(t, types.PositionStatusOpen, pos.Status)

	updated, err := pm.UpdatePosition(ctx, "BTC/USDT", decimal.NewFromInt(51000), nil)
	require.NoError(t, err)

	require.True(t, updated.UnrealizedPnL.Equal(decimal.NewFromInt(100)), updated.UnrealizedPnL.String())
	require.InDelta(t, 20.0, updated.UnrealizedPnLPct, 0.0001)
}

func TestPositionManager_RejectsDuplicateOpenForSameSymbol(t *testing.T) {
	ctx := context.Background()
	pm := newTestPositionManager()

	_, err := pm.OpenPosition(ctx, "BTC/USDT", "s", types.PositionSideLong, decimal.NewFromInt(1), decimal.NewFromInt(100), 1, decimal.Zero, decimal.Zero)
	require.NoError(t, err)

	_, err = pm.OpenPosition(ctx, "BTC/USDT", "s", types.PositionSideLong, decimal.NewFromInt(1), decimal.NewFromInt(100), 1, decimal.Zero, decimal.Zero)
	require.Error(t, err)
}

func TestPositionManager_UpdateSkipsEventBelowPriceThreshold(t *testing.T) {
	ctx := context.Background()
	bus := events.New(zap.NewNop(), 100)
	pm := NewPositionManager(storage.NewInMemoryStore(), bus, zap.NewNop())

	_, err := pm.OpenPosition(ctx, "ETH/USDT", "s", types.PositionSideLong, decimal.NewFromInt(1), decimal.NewFromInt(1000), 1, decimal.Zero, decimal.Zero)
	require.NoError(t, err)

	// 0.05% move, below the 0.1% threshold and no size change: no event, no error.
	publishedBefore := bus.Stats().Published
	_, err = pm.UpdatePosition(ctx, "ETH/USDT", decimal.NewFromFloat(1000.5), nil)
	require.NoError(t, err)
	require.Equal(t, publishedBefore, bus.Stats().Published)
}

func TestPositionManager_ClosePositionRealizesPnLNetOfFees(t *testing.T) {
	ctx := context.Background()
	pm := newTestPositionManager()

	_, err := pm.OpenPosition(ctx, "BTC/USDT", "s", types.PositionSideShort, decimal.NewFromInt(1), decimal.NewFromInt(100), 1, decimal.Zero, decimal.Zero)
	require.NoError(t, err)

	closed, err := pm.ClosePosition(ctx, "BTC/USDT", decimal.NewFromInt(90), "take_profit", decimal.NewFromInt(2))
	require.NoError(t, err)

	require.Equal(t, types.PositionStatusClosed, closed.Status)
	require.True(t, closed.RealizedPnL.Equal(decimal.NewFromInt(8)), closed.RealizedPnL.String())
	require.True(t, closed.UnrealizedPnL.IsZero())

	_, ok := pm.Position("BTC/USDT")
	require.False(t, ok)
}

func TestPositionManager_UpdateAllPositionsCountsSuccesses(t *testing.T) {
	ctx := context.Background()
	pm := newTestPositionManager()

	_, err := pm.OpenPosition(ctx, "BTC/USDT", "s", types.PositionSideLong, decimal.NewFromInt(1), decimal.NewFromInt(100), 1, decimal.Zero, decimal.Zero)
	require.NoError(t, err)
	_, err = pm.OpenPosition(ctx, "ETH/USDT", "s", types.PositionSideLong, decimal.NewFromInt(1), decimal.NewFromInt(200), 1, decimal.Zero, decimal.Zero)
	require.NoError(t, err)

	count, err := pm.UpdateAllPositions(ctx, map[string]decimal.Decimal{
		"BTC/USDT": decimal.NewFromInt(110),
		"ETH/USDT": decimal.NewFromInt(210),
		"SOL/USDT": decimal.NewFromInt(50),
	})
	require.NoError(t, err)
	require.Equal(t, 2, count)
}
