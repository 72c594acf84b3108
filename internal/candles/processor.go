package candles

import (
	"fmt"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/atlas-desktop/structure-core/internal/events"
	"github.com/atlas-desktop/structure-core/pkg/types"
)

// Tick is a raw incoming candle reading, not yet known to be closed.
type Tick struct {
	Symbol      string
	Timeframe   types.Timeframe
	TimestampMs int64
	Open        decimal.Decimal
	High        decimal.Decimal
	Low         decimal.Decimal
	Close       decimal.Decimal
	Volume      decimal.Decimal
}

type streamState struct {
	lastTimestamp int64
	current       types.Candle
	hasCurrent    bool
}

// ProcessorStats mirrors the statistics the design names for the pipeline.
type ProcessorStats struct {
	CandlesProcessed  int
	CandlesClosed     int
	DuplicatesFiltered int
	OutliersFiltered  int
	ActiveStreams     int
}

// Processor turns a raw Tick stream into closed candles: it detects
// completion by timestamp transition, filters duplicates and outliers, and
// mutates a Store plus publishes CandleClosed events for every completed
// candle.
type Processor struct {
	cfg    types.RealtimeProcessorConfig
	store  *Store
	bus    *events.Bus
	logger *zap.Logger

	streams map[string]*streamState

	processed  int
	closed     int
	duplicates int
	outliers   int
}

// NewProcessor builds a Processor writing completed candles into store and
// publishing CandleClosed events on bus.
func NewProcessor(cfg types.RealtimeProcessorConfig, store *Store, bus *events.Bus, logger *zap.Logger) *Processor {
	return &Processor{
		cfg:     cfg,
		store:   store,
		bus:     bus,
		logger:  logger.Named("candle_processor"),
		streams: make(map[string]*streamState),
	}
}

// Process validates and folds in a tick. It returns true when a previously
// in-progress candle closed as a result (and a CandleClosed event was
// published).
func (p *Processor) Process(tick Tick) (bool, error) {
	if tick.Symbol == "" || tick.Timeframe == "" || tick.TimestampMs == 0 {
		return false, fmt.Errorf("candle processor: tick missing symbol/timeframe/timestamp")
	}
	if !tick.Timeframe.Valid() {
		return false, fmt.Errorf("candle processor: unknown timeframe %q", tick.Timeframe)
	}

	normalized := tick.Timeframe.NormalizeTimestampMs(tick.TimestampMs)
	k := key(tick.Symbol, tick.Timeframe)
	st, ok := p.streams[k]
	if !ok {
		st = &streamState{}
		p.streams[k] = st
	}

	if st.hasCurrent && normalized == st.current.TimestampMs && tick.Close.Equal(st.current.Close) {
		p.duplicates++
		return false, nil
	}

	if st.hasCurrent && !st.current.Close.IsZero() {
		threshold := p.cfg.OutlierThresholdPct
		if threshold <= 0 {
			threshold = 10.0
		}
		prevClose := st.current.Close
		if !prevClose.IsZero() {
			pctMove := tick.Close.Sub(prevClose).Abs().Div(prevClose).Mul(decimal.NewFromInt(100))
			if pctMove.GreaterThan(decimal.NewFromFloat(threshold)) {
				p.outliers++
				return false, nil
			}
		}
	}

	candle := types.Candle{
		Symbol:      tick.Symbol,
		Timeframe:   tick.Timeframe,
		TimestampMs: normalized,
		Open:        tick.Open,
		High:        tick.High,
		Low:         tick.Low,
		Close:       tick.Close,
		Volume:      tick.Volume,
	}
	if err := candle.Validate(); err != nil {
		return false, err
	}
	p.processed++

	closedOne := false
	if st.hasCurrent && normalized != st.current.TimestampMs {
		finished := st.current
		finished.IsClosed = true
		if _, err := p.store.AddCandle(finished); err != nil {
			p.logger.Warn("failed to store closed candle", zap.Error(err))
		}
		p.closed++
		closedOne = true
		if p.bus != nil {
			p.bus.Publish(events.Event{
				Priority:  7,
				EventType: events.TypeCandleClosed,
				Data:      finished,
				Source:    "candle_processor",
			})
		}
	}

	st.current = candle
	st.hasCurrent = true
	st.lastTimestamp = normalized
	return closedOne, nil
}

// Stats returns the current pipeline counters.
func (p *Processor) Stats() ProcessorStats {
	return ProcessorStats{
		CandlesProcessed:   p.processed,
		CandlesClosed:      p.closed,
		DuplicatesFiltered: p.duplicates,
		OutliersFiltered:   p.outliers,
		ActiveStreams:      len(p.streams),
	}
}
