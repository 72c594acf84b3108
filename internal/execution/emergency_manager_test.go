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

func newEmergencyFixture(t *testing.T) (*EmergencyManager, *PositionManager, *exchange.PaperExchange) {
	t.Helper()
	bus := events.New(zap.NewNop(), 100)
	pm := NewPositionManager(storage.NewInMemoryStore(), bus, zap.NewNop())
	paper := exchange.NewPaperExchange(zap.NewNop(), "USDT", decimal.NewFromInt(1000000))
	exec := NewOrderExecutor(paper, bus, types.DefaultOrderExecutorConfig(), zap.NewNop())
	mgr := NewEmergencyManager(pm, exec, bus, zap.NewNop())
	return mgr, pm, paper
}

func TestEmergencyManager_LiquidatesAllOpenPositions(t *testing.T) {
	ctx := context.Background()
	mgr, pm, paper := newEmergencyFixture(t)

	paper.SetMarkPrice("BTC/USDT", decimal.NewFromInt(50000))
	paper.SetMarkPrice("ETH/USDT", decimal.NewFromInt(2000))
	_, err := pm.OpenPosition(ctx, "BTC/USDT", "s", types.PositionSideLong, decimal.NewFromFloat(0.1), decimal.NewFromInt(49000), 5, decimal.Zero, decimal.Zero)
	require.NoError(t, err)
	_, err = pm.OpenPosition(ctx, "ETH/USDT", "s", types.PositionSideShort, decimal.NewFromInt(1), decimal.NewFromInt(2100), 5, decimal.Zero, decimal.Zero)
	require.NoError(t, err)

	result, err := mgr.LiquidateAll(ctx, "test trigger")
	require.NoError(t, err)
	require.Equal(t, 2, result.Total)
	require.Equal(t, 2, result.Successful)
	require.Equal(t, 0, result.Failed)
	require.Equal(t, EmergencyPaused, mgr.State())
	require.Empty(t, pm.OpenPositions())
}

func TestEmergencyManager_RefusesConcurrentLiquidation(t *testing.T) {
	mgr, _, _ := newEmergencyFixture(t)
	mgr.mu.Lock()
	mgr.state = EmergencyLiquidating
	mgr.mu.Unlock()

	_, err := mgr.LiquidateAll(context.Background(), "retry")
	require.Error(t, err)
}

func TestEmergencyManager_ResumeOnlyFromPaused(t *testing.T) {
	mgr, _, _ := newEmergencyFixture(t)
	mgr.Resume()
	require.Equal(t, EmergencyNormal, mgr.State())

	ctx := context.Background()
	_, err := mgr.LiquidateAll(ctx, "none open")
	require.NoError(t, err)
	require.Equal(t, EmergencyPaused, mgr.State())

	mgr.Resume()
	require.Equal(t, EmergencyNormal, mgr.State())
	require.False(t, mgr.OrdersBlocked())
}
