package structure

import (
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/atlas-desktop/structure-core/internal/events"
	"github.com/atlas-desktop/structure-core/pkg/types"
)

func TestMarketStateTracker_ClassifiesBullishOnConfirmedUptrendWithBullishBMS(t *testing.T) {
	cfg := types.DefaultMarketStateTrackerConfig()
	bus := events.New(zap.NewNop(), 10)
	tracker := NewMarketStateTracker(cfg, bus, zap.NewNop())

	trend := &types.TrendState{Direction: types.TrendUptrend, Strength: 60, IsConfirmed: true}
	bms := []types.BreakOfMarketStructure{{Type: types.BMSBullish, Confidence: 80}}

	data := tracker.Update("BTCUSDT", types.Timeframe1h, trend, bms, nil, 1000)
	require.Equal(t, types.MarketBullish, data.State)
	require.Greater(t, data.Confidence, 0.0)
	require.Equal(t, 0, data.StateDurationCandles)
}

func TestMarketStateTracker_RangingWhenBelowMinTrendStrength(t *testing.T) {
	cfg := types.DefaultMarketStateTrackerConfig()
	tracker := NewMarketStateTracker(cfg, nil, zap.NewNop())

	trend := &types.TrendState{Direction: types.TrendUptrend, Strength: 10, IsConfirmed: true}
	data := tracker.Update("BTCUSDT", types.Timeframe1h, trend, nil, nil, 1000)
	require.Equal(t, types.MarketRanging, data.State)
}

func TestMarketStateTracker_SameStateAdvancesDuration(t *testing.T) {
	cfg := types.DefaultMarketStateTrackerConfig()
	tracker := NewMarketStateTracker(cfg, nil, zap.NewNop())

	trend := &types.TrendState{Direction: types.TrendUptrend, Strength: 60, IsConfirmed: true}
	bms := []types.BreakOfMarketStructure{{Type: types.BMSBullish, Confidence: 80}}

	first := tracker.Update("BTCUSDT", types.Timeframe1h, trend, bms, nil, 1000)
	require.Equal(t, 0, first.StateDurationCandles)

	second := tracker.Update("BTCUSDT", types.Timeframe1h, trend, bms, nil, 2000)
	require.Equal(t, types.MarketBullish, second.State)
	require.Equal(t, 1, second.StateDurationCandles)
	require.Equal(t, int64(1000), second.StateStartTimestamp)
}

func TestMarketStateTracker_TransitioningOnTrendTransition(t *testing.T) {
	cfg := types.DefaultMarketStateTrackerConfig()
	tracker := NewMarketStateTracker(cfg, nil, zap.NewNop())

	trend := &types.TrendState{Direction: types.TrendTransition, Strength: 60, IsConfirmed: true}
	data := tracker.Update("BTCUSDT", types.Timeframe1h, trend, nil, nil, 1000)
	require.Equal(t, types.MarketTransitioning, data.State)
}
