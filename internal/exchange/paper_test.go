package exchange

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/atlas-desktop/structure-core/pkg/types"
)

func TestPaperExchange_MarketOrderFillsImmediately(t *testing.T) {
	ex := NewPaperExchange(zap.NewNop(), "USDT", decimal.NewFromInt(10000))
	ex.SetMarkPrice("BTCUSDT", decimal.NewFromInt(50000))

	resp, err := ex.CreateOrder(context.Background(), "BTCUSDT", types.OrderTypeMarket, types.OrderSideBuy, decimal.NewFromFloat(0.1), decimal.Zero, CreateOrderParams{})
	require.NoError(t, err)
	require.Equal(t, types.ExchangeOrderClosed, resp.Status)
	require.True(t, resp.Filled.Equal(decimal.NewFromFloat(0.1)))
	require.True(t, resp.Average.Equal(decimal.NewFromInt(50000)))

	positions, err := ex.FetchPositions(context.Background())
	require.NoError(t, err)
	require.Len(t, positions, 1)
	require.Equal(t, types.ExchangePositionLong, positions[0].Side)
}

func TestPaperExchange_LimitOrderRestsUntilMatched(t *testing.T) {
	ex := NewPaperExchange(zap.NewNop(), "USDT", decimal.NewFromInt(10000))
	ex.SetMarkPrice("BTCUSDT", decimal.NewFromInt(50000))

	resp, err := ex.CreateOrder(context.Background(), "BTCUSDT", types.OrderTypeLimit, types.OrderSideBuy, decimal.NewFromFloat(0.1), decimal.NewFromInt(49000), CreateOrderParams{})
	require.NoError(t, err)
	require.Equal(t, types.ExchangeOrderOpen, resp.Status)

	open, err := ex.FetchOpenOrders(context.Background(), "BTCUSDT")
	require.NoError(t, err)
	require.Len(t, open, 1)

	ex.MatchPrice("BTCUSDT", decimal.NewFromInt(48500))

	filled, err := ex.FetchOrder(context.Background(), resp.OrderID, "BTCUSDT")
	require.NoError(t, err)
	require.Equal(t, types.ExchangeOrderClosed, filled.Status)
}

func TestPaperExchange_CancelUnknownOrderReturnsNotFound(t *testing.T) {
	ex := NewPaperExchange(zap.NewNop(), "USDT", decimal.NewFromInt(10000))
	err := ex.CancelOrder(context.Background(), "missing", "BTCUSDT")
	require.Error(t, err)
}

func TestPaperExchange_RejectsNonPositiveAmount(t *testing.T) {
	ex := NewPaperExchange(zap.NewNop(), "USDT", decimal.NewFromInt(10000))
	_, err := ex.CreateOrder(context.Background(), "BTCUSDT", types.OrderTypeMarket, types.OrderSideBuy, decimal.Zero, decimal.Zero, CreateOrderParams{})
	require.Error(t, err)
}
