package structure

import (
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/atlas-desktop/structure-core/pkg/types"
)

func TestMultiTimeframeAnalyzer_PerfectBullishAlignment(t *testing.T) {
	a := NewMultiTimeframeAnalyzer(nil, zap.NewNop())

	h1 := &types.MarketStateData{State: types.MarketBullish, Confidence: 90}
	m15 := &types.MarketStateData{State: types.MarketBullish, Confidence: 85}
	m1 := &types.MarketStateData{State: types.MarketBullish, Confidence: 80}

	result := a.Analyze("BTCUSDT", h1, m15, m1)
	require.Equal(t, "BTCUSDT", result.Symbol)
	require.Contains(t, []types.ConsistencyLevel{types.ConsistencyPerfect, types.ConsistencyHigh}, result.ConsistencyLevel)
	require.Contains(t, []types.OverallBias{types.BiasBullish, types.BiasStronglyBullish}, result.OverallBias)
	require.Equal(t, types.Timeframe1h, result.PrimaryTimeframe)
	require.NotEmpty(t, result.Recommendations)
	require.True(t, result.IsStrongTrend() || result.BiasStrength > 6)
}

func TestMultiTimeframeAnalyzer_H1DominatesOnConflict(t *testing.T) {
	a := NewMultiTimeframeAnalyzer(nil, zap.NewNop())

	h1 := &types.MarketStateData{State: types.MarketBearish, Confidence: 90}
	m15 := &types.MarketStateData{State: types.MarketBullish, Confidence: 85}
	m1 := &types.MarketStateData{State: types.MarketBullish, Confidence: 80}

	result := a.Analyze("BTCUSDT", h1, m15, m1)
	require.Contains(t, []types.OverallBias{types.BiasBearish, types.BiasStronglyBearish}, result.OverallBias)
	require.Equal(t, types.Timeframe1h, result.PrimaryTimeframe)
	require.NotEmpty(t, result.Conflicts)
}

func TestMultiTimeframeAnalyzer_NeutralWhenFlat(t *testing.T) {
	a := NewMultiTimeframeAnalyzer(nil, zap.NewNop())

	h1 := &types.MarketStateData{State: types.MarketRanging, Confidence: 40}
	m15 := &types.MarketStateData{State: types.MarketRanging, Confidence: 40}
	m1 := &types.MarketStateData{State: types.MarketRanging, Confidence: 40}

	result := a.Analyze("BTCUSDT", h1, m15, m1)
	require.Equal(t, types.BiasNeutral, result.OverallBias)
	require.True(t, result.IsRangingMarket())
}

func TestEntryTimeframe_StrongTrendRecommendsM15(t *testing.T) {
	m := &types.MultiTimeframeStructure{ConsistencyLevel: types.ConsistencyPerfect, OverallBias: types.BiasStronglyBullish, BiasStrength: 9.0}
	require.Equal(t, types.Timeframe15m, EntryTimeframe(m))
}

func TestEntryTimeframe_RangingRecommendsNone(t *testing.T) {
	m := &types.MultiTimeframeStructure{ConsistencyLevel: types.ConsistencyConflict, OverallBias: types.BiasNeutral, BiasStrength: 2.0}
	require.Equal(t, types.Timeframe(""), EntryTimeframe(m))
}
