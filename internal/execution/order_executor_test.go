package execution

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/atlas-desktop/structure-core/internal/events"
	"github.com/atlas-desktop/structure-core/internal/exchange"
	"github.com/atlas-desktop/structure-core/pkg/types"
)

func TestOrderExecutor_RejectsInvalidRequestBeforeDispatch(t *testing.T) {
	ctx := context.Background()
	paper := exchange.NewPaperExchange(zap.NewNop(), "USDT", decimal.NewFromInt(10000))
	exec := NewOrderExecutor(paper, events.New(zap.NewNop(), 100), types.DefaultOrderExecutorConfig(), zap.NewNop())

	_, err := exec.Execute(ctx, types.OrderRequest{Symbol: "", Type: types.OrderTypeMarket, Side: types.OrderSideBuy, Quantity: decimal.NewFromInt(1)})
	require.Error(t, err)

	_, err = exec.Execute(ctx, types.OrderRequest{Symbol: "BTC/USDT", Type: types.OrderTypeLimit, Side: types.OrderSideBuy, Quantity: decimal.NewFromInt(1), Price: decimal.Zero})
	require.Error(t, err)
}

func TestOrderExecutor_MarketOrderFillsAndRecordsHistory(t *testing.T) {
	ctx := context.Background()
	paper := exchange.NewPaperExchange(zap.NewNop(), "USDT", decimal.NewFromInt(10000))
	paper.SetMarkPrice("BTC/USDT", decimal.NewFromInt(50000))
	exec := NewOrderExecutor(paper, events.New(zap.NewNop(), 100), types.DefaultOrderExecutorConfig(), zap.NewNop())

	resp, err := exec.ExecuteMarketOrder(ctx, "BTC/USDT", types.OrderSideBuy, decimal.NewFromFloat(0.1), types.PositionSideLong, false)
	require.NoError(t, err)
	require.True(t, resp.IsFilled())
	require.Len(t, exec.History(), 1)

	_, ok := exec.Latency("BTC/USDT", types.OrderTypeMarket, types.OrderSideBuy)
	require.True(t, ok)
}
