package execution

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/atlas-desktop/structure-core/internal/events"
	"github.com/atlas-desktop/structure-core/internal/exchange"
	"github.com/atlas-desktop/structure-core/internal/storage"
	"github.com/atlas-desktop/structure-core/pkg/types"
)

func newMonitorFixture(t *testing.T) (*PositionMonitor, *PositionManager, *exchange.PaperExchange) {
	t.Helper()
	bus := events.New(zap.NewNop(), 100)
	pm := NewPositionManager(storage.NewInMemoryStore(), bus, zap.NewNop())
	paper := exchange.NewPaperExchange(zap.NewNop(), "USDT", decimal.NewFromInt(100000))
	monitor := NewPositionMonitor(pm, paper, bus, types.DefaultPositionMonitorConfig(), zap.NewNop())
	return monitor, pm, paper
}

func TestPositionMonitor_RecoversMissingPosition(t *testing.T) {
	ctx := context.Background()
	monitor, pm, paper := newMonitorFixture(t)

	paper.SetMarkPrice("BTC/USDT", decimal.NewFromInt(50000))
	_, err := paper.CreateOrder(ctx, "BTC/USDT", types.OrderTypeMarket, types.OrderSideBuy, decimal.NewFromFloat(0.1), decimal.Zero, exchange.CreateOrderParams{})
	require.NoError(t, err)

	result, err := monitor.RecoverPositions(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, result.Recovered)
	require.Equal(t, 0, result.Conflicts)

	pos, ok := pm.Position("BTC/USDT")
	require.True(t, ok)
	require.True(t, pos.Size.Equal(decimal.NewFromFloat(0.1)))
}

func TestPositionMonitor_FlagsOrphanedLocalPosition(t *testing.T) {
	ctx := context.Background()
	monitor, pm, _ := newMonitorFixture(t)

	_, err := pm.OpenPosition(ctx, "ETH/USDT", "s", types.PositionSideLong, decimal.NewFromInt(1), decimal.NewFromInt(2000), 1, decimal.Zero, decimal.Zero)
	require.NoError(t, err)

	result, err := monitor.RecoverPositions(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, result.Conflicts)
	require.Equal(t, RecoveryActionOrphaned, result.Details[0].Action)
}

func TestPositionMonitor_SyncUpdatesMatchingPositions(t *testing.T) {
	ctx := context.Background()
	monitor, pm, paper := newMonitorFixture(t)

	_, err := pm.OpenPosition(ctx, "BTC/USDT", "s", types.PositionSideLong, decimal.NewFromFloat(0.1), decimal.NewFromInt(49000), 10, decimal.Zero, decimal.Zero)
	require.NoError(t, err)
	paper.SetMarkPrice("BTC/USDT", decimal.NewFromInt(50000))
	_, err = paper.CreateOrder(ctx, "BTC/USDT", types.OrderTypeMarket, types.OrderSideBuy, decimal.NewFromFloat(0.1), decimal.Zero, exchange.CreateOrderParams{})
	require.NoError(t, err)

	result, err := monitor.SyncPositions(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, result.Updated)

	pos, _ := pm.Position("BTC/USDT")
	require.True(t, pos.CurrentPrice.Equal(decimal.NewFromInt(50000)), pos.CurrentPrice.String())
}
