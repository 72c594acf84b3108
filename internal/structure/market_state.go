package structure

import (
	"sync"

	"go.uber.org/zap"

	"github.com/atlas-desktop/structure-core/internal/events"
	"github.com/atlas-desktop/structure-core/pkg/types"
)

// MarketStateTracker composes a TrendState, a window of confirmed
// BreakOfMarketStructure records, and recent LiquiditySweeps into a single
// MarketStateData classification per (symbol, timeframe), publishing
// MarketStructureChange only on qualifying transitions.
type MarketStateTracker struct {
	cfg    types.MarketStateTrackerConfig
	bus    *events.Bus
	logger *zap.Logger

	mu     sync.Mutex
	states map[string]*types.MarketStateData
}

// NewMarketStateTracker builds a tracker publishing on bus (nil for offline use).
func NewMarketStateTracker(cfg types.MarketStateTrackerConfig, bus *events.Bus, logger *zap.Logger) *MarketStateTracker {
	return &MarketStateTracker{
		cfg:    cfg,
		bus:    bus,
		logger: logger.Named("market_state_tracker"),
		states: make(map[string]*types.MarketStateData),
	}
}

func stateKey(symbol string, tf types.Timeframe) string {
	return symbol + "|" + string(tf)
}

func windowBMS(history []types.BreakOfMarketStructure, window int) []types.BreakOfMarketStructure {
	if window <= 0 || window > len(history) {
		return history
	}
	return history[len(history)-window:]
}

func avgBMSConfidence(bms []types.BreakOfMarketStructure) float64 {
	if len(bms) == 0 {
		return 0
	}
	sum := 0.0
	for _, b := range bms {
		sum += b.Confidence
	}
	return sum / float64(len(bms))
}

func hasBMSType(bms []types.BreakOfMarketStructure, t types.BMSType) bool {
	for _, b := range bms {
		if b.Type == t {
			return true
		}
	}
	return false
}

func liquidityAlignment(sweeps []types.LiquiditySweep) float64 {
	if len(sweeps) == 0 {
		return 15
	}
	var bullish, bearish int
	for _, s := range sweeps {
		if s.Direction == types.SweepBullish {
			bullish++
		} else {
			bearish++
		}
	}
	total := bullish + bearish
	imbalance := absFloat(float64(bullish-bearish)) / float64(total)
	score := imbalance * 25
	if score > 25 {
		score = 25
	}
	return score
}

func liquidityProfile(sweeps []types.LiquiditySweep) map[types.LiquidityType]int {
	profile := make(map[types.LiquidityType]int)
	for _, s := range sweeps {
		if s.Level == nil {
			continue
		}
		profile[s.Level.Type]++
	}
	return profile
}

func classifyState(trend *types.TrendState, bmsWindow []types.BreakOfMarketStructure, cfg types.MarketStateTrackerConfig) types.MarketState {
	switch {
	case trend.Direction == types.TrendTransition:
		return types.MarketTransitioning
	case trend.Direction == types.TrendRanging,
		trend.Strength < cfg.MinTrendStrength,
		len(bmsWindow) < cfg.MinBMSForConfirmation:
		return types.MarketRanging
	case trend.Direction == types.TrendUptrend && hasBMSType(bmsWindow, types.BMSBullish):
		return types.MarketBullish
	case trend.Direction == types.TrendDowntrend && hasBMSType(bmsWindow, types.BMSBearish):
		return types.MarketBearish
	default:
		return types.MarketRanging
	}
}

// Update classifies the current state for (symbol, timeframe) from the
// supplied trend/BMS/sweep inputs, merges it against the prior snapshot, and
// returns the refreshed MarketStateData. It publishes MarketStructureChange
// when the transition qualifies per the configured thresholds.
func (t *MarketStateTracker) Update(symbol string, tf types.Timeframe, trend *types.TrendState, bmsHistory []types.BreakOfMarketStructure, sweeps []types.LiquiditySweep, nowTimestampMs int64) *types.MarketStateData {
	if trend == nil {
		return nil
	}

	bmsWindow := windowBMS(bmsHistory, t.cfg.BMSWindow)
	state := classifyState(trend, bmsWindow, t.cfg)

	trendConf := 0.0
	if trend.IsConfirmed {
		trendConf = trend.Strength / 100 * 40
	}
	bmsConf := 0.0
	if len(bmsWindow) > 0 {
		bmsConf = avgBMSConfidence(bmsWindow) / 100 * 35
	}
	confidence := trendConf + bmsConf + liquidityAlignment(sweeps)
	if confidence > 100 {
		confidence = 100
	}
	if confidence < 0 {
		confidence = 0
	}

	var lastBMS *types.BreakOfMarketStructure
	if len(bmsWindow) > 0 {
		last := bmsWindow[len(bmsWindow)-1]
		lastBMS = &last
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	key := stateKey(symbol, tf)
	previous := t.states[key]

	durationCandles := 0
	startTs := nowTimestampMs
	if previous != nil && previous.State == state {
		durationCandles = previous.StateDurationCandles + 1
		startTs = previous.StateStartTimestamp
	}

	data := &types.MarketStateData{
		Symbol:               symbol,
		Timeframe:            tf,
		State:                state,
		TrendDirection:       trend.Direction,
		TrendStrength:        trend.Strength,
		BMSCount:             len(bmsWindow),
		LastBMS:              lastBMS,
		LiquidityProfile:     liquidityProfile(sweeps),
		StateDurationCandles: durationCandles,
		StateStartTimestamp:  startTs,
		Confidence:           confidence,
	}
	t.states[key] = data

	isFirst := previous == nil
	isChange := isFirst || previous.State != state || (confidence-previous.Confidence) >= t.cfg.StateChangeThreshold
	if isChange && confidence >= t.cfg.MinConfidenceForState && t.bus != nil {
		t.bus.Publish(events.Event{
			Priority:  10,
			EventType: events.TypeMarketStructureChange,
			Data:      map[string]any{"old": previous, "new": data},
			Source:    "market_state_tracker",
		})
	}

	return data
}

// Current returns the last computed state for (symbol, timeframe), if any.
func (t *MarketStateTracker) Current(symbol string, tf types.Timeframe) *types.MarketStateData {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.states[stateKey(symbol, tf)]
}
