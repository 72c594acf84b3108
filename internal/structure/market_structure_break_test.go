package structure

import (
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/atlas-desktop/structure-core/internal/events"
	"github.com/atlas-desktop/structure-core/pkg/types"
)

func bmsTestCandles() []types.Candle {
	return []types.Candle{
		candle(0, 1.0940, 1.0945, 1.0930, 1.0935, 100),
		candle(60000, 1.0935, 1.0950, 1.0920, 1.0940, 100),
		candle(120000, 1.0940, 1.1000, 1.0935, 1.0960, 100), // swing high candle, index 2
		candle(180000, 1.0960, 1.0980, 1.0950, 1.0970, 100),
		candle(240000, 1.0970, 1.0990, 1.0960, 1.0975, 100),
		candle(300000, 1.0998, 1.1010, 1.0995, 1.1008, 200), // break candle, index 5
		candle(360000, 1.1008, 1.1012, 1.0999, 1.1005, 100),
		candle(420000, 1.1005, 1.1011, 1.1000, 1.1006, 100),
		candle(480000, 1.1006, 1.1010, 1.1001, 1.1007, 100), // confirmation candle, index 8
	}
}

func TestBreakDetector_ConfirmsCleanBullishBreak(t *testing.T) {
	level := types.SwingPoint{Price: dec(1.1000), TimestampMs: 120000, CandleIndex: 2, IsHigh: true, Strength: 3, Volume: dec(100)}
	cfg := types.DefaultMarketStructureBreakConfig()

	bus := events.New(zap.NewNop(), 10)
	det := NewBreakDetector(cfg, bus, zap.NewNop(), nil)

	candles := bmsTestCandles()
	confirmed := det.DetectBMS(candles, []types.SwingPoint{level}, nil, 0)

	require.Len(t, confirmed, 1)
	bms := confirmed[0]
	require.Equal(t, types.BMSBullish, bms.Type)
	require.True(t, bms.BrokenLevel.Equal(dec(1.1000)))
	require.InDelta(t, 10.0, bms.BreakDistance, 0.01)
	require.GreaterOrEqual(t, bms.Confidence, cfg.MinConfidenceForConfirmed)
	require.Equal(t, types.BMSConfidenceHigh, bms.ConfidenceLevel)
	require.True(t, bms.VolumeConfirmation)
}

func TestBreakDetector_RejectsBreakBelowMinDistance(t *testing.T) {
	level := types.SwingPoint{Price: dec(1.1000), CandleIndex: 2, IsHigh: true, Strength: 3, Volume: dec(100)}
	cfg := types.DefaultMarketStructureBreakConfig()
	det := NewBreakDetector(cfg, nil, zap.NewNop(), nil)

	candles := []types.Candle{
		candle(0, 1.0990, 1.0995, 1.0980, 1.0985, 100),
		candle(60000, 1.0985, 1.0995, 1.0980, 1.0990, 100),
		candle(120000, 1.0990, 1.1000, 1.0985, 1.0995, 100),
		candle(180000, 1.0995, 1.10001, 1.0990, 1.0998, 100), // breach of 0.1 pips, below min
	}
	confirmed := det.DetectBMS(candles, []types.SwingPoint{level}, nil, 0)
	require.Empty(t, confirmed)
}
