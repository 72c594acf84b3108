package structure

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/atlas-desktop/structure-core/internal/candles"
	"github.com/atlas-desktop/structure-core/internal/events"
	"github.com/atlas-desktop/structure-core/pkg/types"
)

type captureHandler struct {
	ch chan events.Event
}

func (c captureHandler) CanHandle(t events.Type) bool { return true }
func (c captureHandler) Handle(e events.Event) error  { c.ch <- e; return nil }
func (c captureHandler) OnError(e events.Event, err error) {}

func uptrendSeries(symbol string, tf types.Timeframe, n int, startMs, stepMs int64) []types.Candle {
	out := make([]types.Candle, n)
	base := 100.0
	for i := 0; i < n; i++ {
		mid := base + float64(i)*2
		out[i] = types.Candle{
			Symbol: symbol, Timeframe: tf, TimestampMs: startMs + int64(i)*stepMs,
			Open: dec(mid), High: dec(mid + 1), Low: dec(mid - 1), Close: dec(mid + 0.5),
			Volume: dec(100), IsClosed: true,
		}
	}
	return out
}

func feed(t *testing.T, p *Pipeline, store *candles.Store, series []types.Candle) {
	t.Helper()
	for _, c := range series {
		_, err := store.AddCandle(c)
		require.NoError(t, err)
		p.OnCandleClosed(c)
	}
}

func TestPipeline_DrivesStructureStackWithoutPanicking(t *testing.T) {
	store := candles.NewStore(1000)
	bus := events.New(zap.NewNop(), 100)
	cfg := DefaultPipelineConfig()
	cfg.Swing.Lookback = 1
	cfg.Trend.ATRPeriod = 3
	cfg.Trend.Lookback = 1

	pipeline := NewPipeline(cfg, store, bus, zap.NewNop())

	require.NotPanics(t, func() {
		feed(t, pipeline, store, uptrendSeries("BTCUSDT", types.Timeframe1h, 20, 0, 3_600_000))
	})
}

func TestPipeline_PublishesMultiTimeframeOnceAllThreeTimeframesReport(t *testing.T) {
	store := candles.NewStore(1000)
	bus := events.New(zap.NewNop(), 100)
	bus.Start()
	defer bus.Stop()

	cfg := DefaultPipelineConfig()
	cfg.Swing.Lookback = 1
	cfg.Trend.ATRPeriod = 3
	cfg.Trend.Lookback = 1

	pipeline := NewPipeline(cfg, store, bus, zap.NewNop())

	received := make(chan events.Event, 64)
	bus.SubscribeAll(captureHandler{ch: received})

	feed(t, pipeline, store, uptrendSeries("BTCUSDT", types.Timeframe1h, 20, 0, 3_600_000))
	feed(t, pipeline, store, uptrendSeries("BTCUSDT", types.Timeframe15m, 20, 0, 900_000))
	feed(t, pipeline, store, uptrendSeries("BTCUSDT", types.Timeframe1m, 20, 0, 60_000))

	deadline := time.After(2 * time.Second)
	for {
		select {
		case e := <-received:
			if e.EventType == events.TypeMarketStructureChange {
				return
			}
		case <-deadline:
			t.Fatal("timed out waiting for a MarketStructureChange event")
		}
	}
}
