package structure

import (
	"fmt"
	"sort"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/atlas-desktop/structure-core/internal/events"
	"github.com/atlas-desktop/structure-core/pkg/types"
)

// TrendEngine classifies swing-to-swing HH/HL/LH/LL patterns into a
// directional trend with a strength score, filtering moves below an
// ATR-derived noise floor.
type TrendEngine struct {
	cfg    types.TrendRecognitionConfig
	bus    *events.Bus
	logger *zap.Logger

	current    *types.TrendState
	structures []types.TrendStructure
}

// NewTrendEngine builds a TrendEngine publishing MarketStructureChange events
// on bus (may be nil for an offline/batch engine).
func NewTrendEngine(cfg types.TrendRecognitionConfig, bus *events.Bus, logger *zap.Logger) *TrendEngine {
	return &TrendEngine{cfg: cfg, bus: bus, logger: logger.Named("trend_recognition")}
}

// CalculateATR computes the average true range over the last `period`
// candles (14 when period <= 0).
func CalculateATR(candles []types.Candle, period int) decimal.Decimal {
	if period <= 0 {
		period = 14
	}
	if len(candles) < period+1 {
		return decimal.Zero
	}
	trs := make([]decimal.Decimal, 0, len(candles)-1)
	for i := 1; i < len(candles); i++ {
		high, low, prevClose := candles[i].High, candles[i].Low, candles[i-1].Close
		tr := decimal.Max(high.Sub(low), high.Sub(prevClose).Abs(), low.Sub(prevClose).Abs())
		trs = append(trs, tr)
	}
	if len(trs) > period {
		trs = trs[len(trs)-period:]
	}
	sum := decimal.Zero
	for _, tr := range trs {
		sum = sum.Add(tr)
	}
	return sum.Div(decimal.NewFromInt(int64(len(trs))))
}

func (e *TrendEngine) isSignificantMove(priceChange, atr decimal.Decimal) bool {
	if atr.IsZero() {
		return true
	}
	minChange := atr.Mul(decimal.NewFromFloat(e.cfg.MinPriceChangeATRMult))
	return priceChange.Abs().GreaterThanOrEqual(minChange)
}

func identifyPattern(current, previous types.SwingPoint) (types.TrendPattern, bool) {
	switch {
	case current.IsHigh && previous.IsHigh:
		if current.Price.GreaterThan(previous.Price) {
			return types.PatternHH, true
		}
		return types.PatternLH, true
	case !current.IsHigh && !previous.IsHigh:
		if current.Price.GreaterThan(previous.Price) {
			return types.PatternHL, true
		}
		return types.PatternLL, true
	default:
		return "", false
	}
}

// AnalyzeTrendPatterns detects HH/HL/LH/LL structures across candles and
// returns them sorted by candle index along with the overall direction.
func (e *TrendEngine) AnalyzeTrendPatterns(candles []types.Candle) ([]types.TrendStructure, types.TrendDirection, error) {
	lookback := e.cfg.Lookback
	if lookback <= 0 {
		lookback = 3
	}
	minCandles := lookback*2 + 1
	if len(candles) < minCandles {
		return nil, "", fmt.Errorf("insufficient candles for trend analysis: need %d, got %d", minCandles, len(candles))
	}

	allSwings := DetectSwings(candles, lookback)
	var highs, lows []types.SwingPoint
	for _, sw := range allSwings {
		if sw.IsHigh {
			highs = append(highs, sw)
		} else {
			lows = append(lows, sw)
		}
	}

	atr := CalculateATR(candles, e.cfg.ATRPeriod)
	var structures []types.TrendStructure
	structures = append(structures, e.patternsFromSwings(highs, atr)...)
	structures = append(structures, e.patternsFromSwings(lows, atr)...)

	sort.Slice(structures, func(i, j int) bool {
		return structures[i].TimestampMs < structures[j].TimestampMs
	})

	e.structures = structures
	direction := e.determineDirection(structures)
	return structures, direction, nil
}

func (e *TrendEngine) patternsFromSwings(swings []types.SwingPoint, atr decimal.Decimal) []types.TrendStructure {
	var out []types.TrendStructure
	for i := 1; i < len(swings); i++ {
		current, previous := swings[i], swings[i-1]
		priceChange := current.Price.Sub(previous.Price)
		if !e.isSignificantMove(priceChange, atr) {
			continue
		}
		pattern, ok := identifyPattern(current, previous)
		if !ok {
			continue
		}
		pctChange := 0.0
		if !previous.Price.IsZero() {
			pctChange = priceChange.Div(previous.Price).Mul(decimal.NewFromInt(100)).InexactFloat64()
		}
		out = append(out, types.TrendStructure{
			Pattern:            pattern,
			Price:              current.Price,
			PreviousSwingPrice: previous.Price,
			SwingLength:        current.CandleIndex - previous.CandleIndex,
			PriceChange:        priceChange,
			PriceChangePct:     pctChange,
			TimestampMs:        current.TimestampMs,
		})
	}
	return out
}

func (e *TrendEngine) determineDirection(structures []types.TrendStructure) types.TrendDirection {
	if len(structures) == 0 {
		return types.TrendRanging
	}
	var hh, hl, lh, ll int
	for _, s := range structures {
		switch s.Pattern {
		case types.PatternHH:
			hh++
		case types.PatternHL:
			hl++
		case types.PatternLH:
			lh++
		case types.PatternLL:
			ll++
		}
	}
	bullish := hh + hl
	total := len(structures)
	bullishRatio := float64(bullish) / float64(total)

	window := e.cfg.RecentWindow
	if window <= 0 {
		window = 5
	}
	if window > len(structures) {
		window = len(structures)
	}
	recent := structures[len(structures)-window:]
	var recentBullish, recentBearish int
	for _, s := range recent {
		if s.Pattern == types.PatternHH || s.Pattern == types.PatternHL {
			recentBullish++
		} else {
			recentBearish++
		}
	}

	switch {
	case bullishRatio >= 0.65 && recentBullish >= recentBearish:
		return types.TrendUptrend
	case bullishRatio <= 0.35 && recentBearish >= recentBullish:
		return types.TrendDowntrend
	case abs(recentBullish-recentBearish) <= 1:
		return types.TrendRanging
	default:
		return types.TrendTransition
	}
}

func abs(n int) int {
	if n < 0 {
		return -n
	}
	return n
}

func absFloat(f float64) float64 {
	if f < 0 {
		return -f
	}
	return f
}

func countMaxConsecutive(structures []types.TrendStructure, direction types.TrendDirection) int {
	maxCount, current := 0, 0
	for _, s := range structures {
		aligned := false
		switch direction {
		case types.TrendUptrend:
			aligned = s.Pattern == types.PatternHH || s.Pattern == types.PatternHL
		case types.TrendDowntrend:
			aligned = s.Pattern == types.PatternLH || s.Pattern == types.PatternLL
		}
		if aligned {
			current++
			if current > maxCount {
				maxCount = current
			}
		} else {
			current = 0
		}
	}
	return maxCount
}

// CalculateTrendStrength scores 0-100 from pattern consistency, consecutive
// run length, average magnitude, and recent momentum.
func CalculateTrendStrength(structures []types.TrendStructure, direction types.TrendDirection) (float64, types.TrendStrengthLevel) {
	if len(structures) == 0 || direction == types.TrendRanging {
		return 0, types.StrengthVeryWeak
	}

	var aligned []types.TrendStructure
	for _, s := range structures {
		switch direction {
		case types.TrendUptrend:
			if s.Pattern == types.PatternHH || s.Pattern == types.PatternHL {
				aligned = append(aligned, s)
			}
		case types.TrendDowntrend:
			if s.Pattern == types.PatternLH || s.Pattern == types.PatternLL {
				aligned = append(aligned, s)
			}
		}
	}

	consistencyRatio := float64(len(aligned)) / float64(len(structures))
	consistencyScore := consistencyRatio * 35

	maxConsecutive := countMaxConsecutive(structures, direction)
	consecutiveScore := float64(maxConsecutive) * 6
	if consecutiveScore > 30 {
		consecutiveScore = 30
	}

	avgPriceChange := 0.0
	if len(aligned) > 0 {
		sum := 0.0
		for _, s := range aligned {
			sum += absFloat(s.PriceChangePct)
		}
		avgPriceChange = sum / float64(len(aligned))
	}
	priceChangeScore := avgPriceChange * 5
	if priceChangeScore > 25 {
		priceChangeScore = 25
	}

	recentCount := 3
	if recentCount > len(structures) {
		recentCount = len(structures)
	}
	recent := structures[len(structures)-recentCount:]
	recentAligned := 0
	for _, s := range recent {
		if direction == types.TrendUptrend && (s.Pattern == types.PatternHH || s.Pattern == types.PatternHL) {
			recentAligned++
		} else if direction == types.TrendDowntrend && (s.Pattern == types.PatternLH || s.Pattern == types.PatternLL) {
			recentAligned++
		}
	}
	momentumScore := 0.0
	if recentCount > 0 {
		momentumScore = float64(recentAligned) / float64(recentCount) * 10
	}

	total := consistencyScore + consecutiveScore + priceChangeScore + momentumScore
	if total > 100 {
		total = 100
	}
	if total < 0 {
		total = 0
	}
	return total, types.ClassifyStrength(total)
}

// DetectTrendChange re-analyzes candles and returns the new TrendState when
// direction changed, strength moved beyond TransitionThreshold, or this is
// the first detection; returns nil, nil when nothing changed.
func (e *TrendEngine) DetectTrendChange(candles []types.Candle) (*types.TrendState, error) {
	structures, direction, err := e.AnalyzeTrendPatterns(candles)
	if err != nil {
		return nil, err
	}
	if len(structures) == 0 {
		return nil, nil
	}

	strength, level := CalculateTrendStrength(structures, direction)

	isChange := e.current == nil ||
		e.current.Direction != direction ||
		absFloat(e.current.Strength-strength) > e.cfg.TransitionThreshold
	if !isChange {
		return nil, nil
	}

	minPatterns := e.cfg.MinPatternsForConfirmation
	if minPatterns <= 0 {
		minPatterns = 2
	}

	newTrend := &types.TrendState{
		Direction:           direction,
		Strength:            strength,
		StrengthLevel:       level,
		PatternCount:        len(structures),
		ConsecutivePatterns: countMaxConsecutive(structures, direction),
		IsConfirmed:         len(structures) >= minPatterns,
	}
	e.current = newTrend

	if e.bus != nil {
		e.bus.Publish(events.Event{Priority: 8, EventType: events.TypeMarketStructureChange, Data: newTrend, Source: "trend_recognition_engine"})
	}
	return newTrend, nil
}

// CurrentTrend returns the last detected trend state, if any.
func (e *TrendEngine) CurrentTrend() *types.TrendState { return e.current }

// TrendStructures returns a copy of the most recently analyzed structures.
func (e *TrendEngine) TrendStructures() []types.TrendStructure {
	out := make([]types.TrendStructure, len(e.structures))
	copy(out, e.structures)
	return out
}

// ClearHistory resets all accumulated trend state.
func (e *TrendEngine) ClearHistory() {
	e.current = nil
	e.structures = nil
}
