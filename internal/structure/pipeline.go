package structure

import (
	"sync"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/atlas-desktop/structure-core/internal/candles"
	"github.com/atlas-desktop/structure-core/internal/events"
	"github.com/atlas-desktop/structure-core/pkg/types"
)

// PipelineConfig bundles the per-component configuration a Pipeline drives.
type PipelineConfig struct {
	Swing     types.SwingDetectorConfig
	Zone      types.LiquidityZoneConfig
	Sweep     types.LiquiditySweepConfig
	Trend     types.TrendRecognitionConfig
	Break     types.MarketStructureBreakConfig
	State     types.MarketStateTrackerConfig
	// HistoryWindow bounds how many stored candles are pulled per update.
	HistoryWindow int
}

// DefaultPipelineConfig wires every component's documented defaults.
func DefaultPipelineConfig() PipelineConfig {
	return PipelineConfig{
		Swing:         types.DefaultSwingDetectorConfig(),
		Zone:          types.DefaultLiquidityZoneConfig(),
		Sweep:         types.DefaultLiquiditySweepConfig(),
		Trend:         types.DefaultTrendRecognitionConfig(),
		Break:         types.DefaultMarketStructureBreakConfig(),
		State:         types.DefaultMarketStateTrackerConfig(),
		HistoryWindow: 500,
	}
}

// seriesState is the per (symbol, timeframe) working set a Pipeline
// maintains between candle closes.
type seriesState struct {
	sweep       *SweepDetector
	trend       *TrendEngine
	breaks      *BreakDetector
	seenSwings  map[int]bool // swing CandleIndex already turned into a level
	levels      []*types.LiquidityLevel
	lastIndex   int
}

// Pipeline subscribes to candle-close events and drives the swing, zone,
// sweep, trend, break, and composite-state stack over the stored candle
// window for the closing (symbol, timeframe), then feeds the three-timeframe
// consensus analyzer once all of a symbol's tracked timeframes have an
// opinion. Every component it drives already publishes its own domain
// events on bus; the pipeline itself only sequences the calls.
type Pipeline struct {
	cfg    PipelineConfig
	store  *candles.Store
	bus    *events.Bus
	logger *zap.Logger

	zones *ZoneEngine
	state *MarketStateTracker
	mtf   *MultiTimeframeAnalyzer

	mu     sync.Mutex
	series map[string]*seriesState // key: symbol|timeframe
	latest map[string]*types.MarketStateData // key: symbol|timeframe, for MTF assembly
}

// NewPipeline builds a Pipeline reading closed candles from store and
// publishing every derived signal on bus.
func NewPipeline(cfg PipelineConfig, store *candles.Store, bus *events.Bus, logger *zap.Logger) *Pipeline {
	log := logger.Named("structure_pipeline")
	return &Pipeline{
		cfg:    cfg,
		store:  store,
		bus:    bus,
		logger: log,
		zones:  NewZoneEngine(cfg.Zone),
		state:  NewMarketStateTracker(cfg.State, bus, log),
		mtf:    NewMultiTimeframeAnalyzer(bus, log),
		series: make(map[string]*seriesState),
		latest: make(map[string]*types.MarketStateData),
	}
}

func seriesKey(symbol string, tf types.Timeframe) string {
	return symbol + "|" + string(tf)
}

// CanHandle implements events.Handler for CandleClosed events only.
func (p *Pipeline) CanHandle(t events.Type) bool { return t == events.TypeCandleClosed }

// Handle implements events.Handler, driving OnCandleClosed for the closed
// candle carried in e.Data.
func (p *Pipeline) Handle(e events.Event) error {
	candle, ok := e.Data.(types.Candle)
	if !ok {
		return nil
	}
	p.OnCandleClosed(candle)
	return nil
}

// OnError logs; a single symbol/timeframe failing never stops the pipeline.
func (p *Pipeline) OnError(e events.Event, err error) {
	p.logger.Error("pipeline handler error", zap.String("event_type", string(e.EventType)), zap.Error(err))
}

// OnCandleClosed recomputes structure for candle.Symbol/candle.Timeframe
// against the stored window, then refreshes the multi-timeframe consensus
// for that symbol if H1/M15/M1 all have an opinion.
func (p *Pipeline) OnCandleClosed(candle types.Candle) {
	window := p.cfg.HistoryWindow
	if window <= 0 {
		window = 500
	}
	history := p.store.GetCandles(candle.Symbol, candle.Timeframe, window)
	if len(history) == 0 {
		return
	}

	key := seriesKey(candle.Symbol, candle.Timeframe)
	p.mu.Lock()
	s, ok := p.series[key]
	if !ok {
		s = &seriesState{
			sweep:      NewSweepDetector(p.cfg.Sweep, p.bus, p.logger),
			trend:      NewTrendEngine(p.cfg.Trend, p.bus, p.logger),
			seenSwings: make(map[int]bool),
		}
		s.breaks = NewBreakDetector(p.cfg.Break, p.bus, p.logger, s.trend.CurrentTrend)
		p.series[key] = s
	}
	p.mu.Unlock()

	swings := DetectSwings(history, p.cfg.Swing.Lookback)

	var fresh []types.SwingPoint
	for _, sw := range swings {
		if !s.seenSwings[sw.CandleIndex] {
			s.seenSwings[sw.CandleIndex] = true
			fresh = append(fresh, sw)
		}
	}
	if len(fresh) > 0 {
		newLevels := p.zones.CreateLevels(fresh, candle.Symbol, candle.Timeframe, averageVolume(history))
		s.levels = p.zones.ClusterLevels(append(s.levels, newLevels...))
	}
	p.zones.UpdateLevels(s.levels, history, s.lastIndex)

	currentIndex := len(history) - 1
	s.sweep.ProcessCandle(s.levels, history, currentIndex, averageVolume(history))

	trendState, err := s.trend.DetectTrendChange(history)
	if err != nil {
		p.logger.Warn("trend detection failed", zap.String("symbol", candle.Symbol), zap.Error(err))
	}

	var highs, lows []types.SwingPoint
	for _, sw := range swings {
		if sw.IsHigh {
			highs = append(highs, sw)
		} else {
			lows = append(lows, sw)
		}
	}
	bms := s.breaks.DetectBMS(history, highs, lows, s.lastIndex)
	s.lastIndex = currentIndex

	data := p.state.Update(candle.Symbol, candle.Timeframe, trendState, bms, nil, candle.TimestampMs)

	p.mu.Lock()
	if data != nil {
		p.latest[key] = data
	}
	h1 := p.latest[seriesKey(candle.Symbol, types.Timeframe1h)]
	m15 := p.latest[seriesKey(candle.Symbol, types.Timeframe15m)]
	m1 := p.latest[seriesKey(candle.Symbol, types.Timeframe1m)]
	p.mu.Unlock()

	if h1 != nil && m15 != nil && m1 != nil {
		p.mtf.Analyze(candle.Symbol, h1, m15, m1)
	}
}

func averageVolume(history []types.Candle) decimal.Decimal {
	if len(history) == 0 {
		return decimal.Zero
	}
	sum := decimal.Zero
	for _, c := range history {
		sum = sum.Add(c.Volume)
	}
	return sum.Div(decimal.NewFromInt(int64(len(history))))
}
