package candles

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/atlas-desktop/structure-core/internal/events"
	"github.com/atlas-desktop/structure-core/pkg/types"
)

func d(f float64) decimal.Decimal { return decimal.NewFromFloat(f) }

// scenario 2: feeding tick B after tick A emits exactly one CandleClosed for
// A, and the store ends up holding exactly A with IsClosed=true.
func TestProcessor_CandleCompletion(t *testing.T) {
	bus := events.New(zap.NewNop(), 100)
	store := NewStore(10)
	proc := NewProcessor(types.DefaultRealtimeProcessorConfig(), store, bus, zap.NewNop())

	tickA := Tick{Symbol: "BTCUSDT", Timeframe: types.Timeframe1m, TimestampMs: 1640000000000,
		Open: d(50000), High: d(50100), Low: d(49900), Close: d(50050), Volume: d(10.5)}
	tickB := Tick{Symbol: "BTCUSDT", Timeframe: types.Timeframe1m, TimestampMs: 1640000060000,
		Open: d(50050), High: d(50150), Low: d(50000), Close: d(50100), Volume: d(12.0)}

	closedA, err := proc.Process(tickA)
	require.NoError(t, err)
	require.False(t, closedA)

	closedB, err := proc.Process(tickB)
	require.NoError(t, err)
	require.True(t, closedB)

	candles := store.GetCandles("BTCUSDT", types.Timeframe1m, 0)
	require.Len(t, candles, 1)
	require.True(t, candles[0].IsClosed)
	require.True(t, candles[0].Close.Equal(d(50050)))

	stats := proc.Stats()
	require.Equal(t, 1, stats.CandlesClosed)
}

func TestProcessor_DuplicateFiltered(t *testing.T) {
	bus := events.New(zap.NewNop(), 100)
	store := NewStore(10)
	proc := NewProcessor(types.DefaultRealtimeProcessorConfig(), store, bus, zap.NewNop())

	tick := Tick{Symbol: "ETHUSDT", Timeframe: types.Timeframe1m, TimestampMs: 1000 * 60000,
		Open: d(100), High: d(101), Low: d(99), Close: d(100.5), Volume: d(1)}
	_, err := proc.Process(tick)
	require.NoError(t, err)
	_, err = proc.Process(tick)
	require.NoError(t, err)
	require.Equal(t, 1, proc.Stats().DuplicatesFiltered)
}

func TestStore_RejectsOutOfOrderAndDuplicate(t *testing.T) {
	store := NewStore(10)
	c1 := types.Candle{Symbol: "BTCUSDT", Timeframe: types.Timeframe1m, TimestampMs: 2000,
		Open: d(1), High: d(2), Low: d(1), Close: d(1.5), Volume: d(1), IsClosed: true}
	ok, err := store.AddCandle(c1)
	require.NoError(t, err)
	require.True(t, ok)

	earlier := c1
	earlier.TimestampMs = 1000
	ok, err = store.AddCandle(earlier)
	require.Error(t, err)
	require.False(t, ok)

	dup := c1
	ok, err = store.AddCandle(dup)
	require.NoError(t, err)
	require.False(t, ok)
}
