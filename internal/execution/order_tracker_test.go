package execution

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/atlas-desktop/structure-core/internal/events"
	"github.com/atlas-desktop/structure-core/pkg/types"
)

func TestOrderTracker_FullLifecycleToFilled(t *testing.T) {
	tracker := NewOrderTracker(events.New(zap.NewNop(), 100), types.DefaultOrderTrackerConfig(), zap.NewNop())

	order := &types.Order{OrderID: "1", ClientOrderID: "c1", Symbol: "BTC/USDT", Type: types.OrderTypeLimit, Side: types.OrderSideBuy, Quantity: decimal.NewFromInt(1)}
	tracker.TrackOrder(order)

	_, ok := tracker.Order("1")
	require.True(t, ok)

	updated := tracker.UpdateStatus("1", types.OrderStatusPlaced, decimal.Zero, decimal.Zero, "")
	require.NotNil(t, updated)
	require.Equal(t, types.OrderStatusPlaced, updated.Status)

	updated = tracker.UpdateStatus("1", types.OrderStatusFilled, decimal.NewFromInt(1), decimal.NewFromInt(50000), "")
	require.Equal(t, types.OrderStatusFilled, updated.Status)
	require.Len(t, updated.StatusHistory, 2)

	_, stillActive := tracker.Order("1")
	require.False(t, stillActive)
	require.Len(t, tracker.History(), 1)
	require.Equal(t, 1, tracker.Stats().TotalFilled)
}

func TestOrderTracker_HandleExecutionReportMapsStatusAndAveragePrice(t *testing.T) {
	tracker := NewOrderTracker(events.New(zap.NewNop(), 100), types.DefaultOrderTrackerConfig(), zap.NewNop())
	tracker.TrackOrder(&types.Order{OrderID: "42", Symbol: "BTC/USDT", Type: types.OrderTypeMarket, Side: types.OrderSideBuy, Quantity: decimal.NewFromInt(2)})

	tracker.HandleExecutionReport(types.ExecutionReport{
		EventType: "executionReport", OrderID: "42", Status: "FILLED",
		FilledQty: decimal.NewFromInt(2), FilledQuoteQty: decimal.NewFromInt(100000),
	})

	require.Len(t, tracker.History(), 1)
	require.True(t, tracker.History()[0].AveragePrice.Equal(decimal.NewFromInt(50000)))
}

func TestOrderTracker_HistoryBoundedByMaxSize(t *testing.T) {
	cfg := types.OrderTrackerConfig{MaxHistorySize: 2}
	tracker := NewOrderTracker(events.New(zap.NewNop(), 100), cfg, zap.NewNop())

	for i := 0; i < 3; i++ {
		id := string(rune('a' + i))
		tracker.TrackOrder(&types.Order{OrderID: id, Symbol: "BTC/USDT", Type: types.OrderTypeMarket, Side: types.OrderSideBuy})
		tracker.UpdateStatus(id, types.OrderStatusCancelled, decimal.Zero, decimal.Zero, "")
	}

	require.Len(t, tracker.History(), 2)
}
