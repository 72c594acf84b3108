package structure

import (
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/atlas-desktop/structure-core/internal/events"
	"github.com/atlas-desktop/structure-core/pkg/types"
	"github.com/atlas-desktop/structure-core/pkg/utils"
)

type sweepCandidate struct {
	level              *types.LiquidityLevel
	direction          types.SweepDirection
	state              types.SweepState
	breachIndex        int
	breachTimestampMs  int64
	breachDistancePips float64
	closeIndex         int
	closeTimestampMs   int64
}

// SweepDetector runs the BREACHED -> CLOSE_CONFIRMED -> SWEEP_COMPLETED
// state machine per tracked (candle, level) candidate.
type SweepDetector struct {
	cfg        types.LiquiditySweepConfig
	bus        *events.Bus
	logger     *zap.Logger
	candidates map[string]*sweepCandidate // keyed by level ID
}

// NewSweepDetector builds a SweepDetector publishing completions on bus.
func NewSweepDetector(cfg types.LiquiditySweepConfig, bus *events.Bus, logger *zap.Logger) *SweepDetector {
	return &SweepDetector{cfg: cfg, bus: bus, logger: logger.Named("liquidity_sweep"), candidates: make(map[string]*sweepCandidate)}
}

// ProcessCandle advances the state machine for one new candle (at
// currentIndex within candles) against the given eligible levels, returning
// any sweeps completed on this candle.
func (d *SweepDetector) ProcessCandle(levels []*types.LiquidityLevel, candles []types.Candle, currentIndex int, avgVolume decimal.Decimal) []types.LiquiditySweep {
	if currentIndex < 0 || currentIndex >= len(candles) {
		return nil
	}
	candle := candles[currentIndex]
	var completed []types.LiquiditySweep

	d.detectBreaches(levels, candle, currentIndex)
	d.checkCloseConfirmations(candle, currentIndex)
	completed = append(completed, d.checkReversals(candle, currentIndex, avgVolume)...)
	d.cleanup(currentIndex)

	return completed
}

func (d *SweepDetector) detectBreaches(levels []*types.LiquidityLevel, candle types.Candle, currentIndex int) {
	for _, level := range levels {
		if level.State != types.LiquidityActive && level.State != types.LiquidityPartial {
			continue
		}
		if level.OriginCandleIndex >= currentIndex {
			continue
		}
		if _, tracked := d.candidates[level.ID]; tracked {
			continue
		}

		switch level.Type {
		case types.LiquidityBuySide:
			if candle.High.GreaterThan(level.Price) {
				pips := utils.PipsBetween(candle.High, level.Price, d.cfg.PipSize)
				if pips >= d.cfg.MinBreachPips && pips <= d.cfg.MaxBreachPips {
					d.candidates[level.ID] = &sweepCandidate{
						level: level, direction: types.SweepBearish, state: types.SweepBreached,
						breachIndex: currentIndex, breachTimestampMs: candle.TimestampMs, breachDistancePips: pips,
					}
				}
			}
		case types.LiquiditySellSide:
			if candle.Low.LessThan(level.Price) {
				pips := utils.PipsBetween(level.Price, candle.Low, d.cfg.PipSize)
				if pips >= d.cfg.MinBreachPips && pips <= d.cfg.MaxBreachPips {
					d.candidates[level.ID] = &sweepCandidate{
						level: level, direction: types.SweepBullish, state: types.SweepBreached,
						breachIndex: currentIndex, breachTimestampMs: candle.TimestampMs, breachDistancePips: pips,
					}
				}
			}
		}
	}
}

func (d *SweepDetector) checkCloseConfirmations(candle types.Candle, currentIndex int) {
	for _, cand := range d.candidates {
		if cand.state != types.SweepBreached {
			continue
		}
		beyond := false
		if cand.direction == types.SweepBearish {
			beyond = candle.Close.GreaterThan(cand.level.Price)
		} else {
			beyond = candle.Close.LessThan(cand.level.Price)
		}
		if beyond {
			cand.state = types.SweepCloseConfirmed
			cand.closeIndex = currentIndex
			cand.closeTimestampMs = candle.TimestampMs
		}
	}
}

func (d *SweepDetector) checkReversals(candle types.Candle, currentIndex int, avgVolume decimal.Decimal) []types.LiquiditySweep {
	var completed []types.LiquiditySweep
	for levelID, cand := range d.candidates {
		if cand.state != types.SweepCloseConfirmed || cand.closeIndex == currentIndex {
			continue
		}
		candlesSinceClose := currentIndex - cand.closeIndex
		if candlesSinceClose > d.cfg.MaxCandlesForReversal {
			continue // cleanup() discards it
		}

		reversed := false
		if cand.direction == types.SweepBearish {
			reversed = cand.level.Price.Sub(candle.Close).Div(d.cfg.PipSize).InexactFloat64() >= d.cfg.ReversalConfirmationPips
		} else {
			reversed = candle.Close.Sub(cand.level.Price).Div(d.cfg.PipSize).InexactFloat64() >= d.cfg.ReversalConfirmationPips
		}
		if !reversed {
			continue
		}

		reversalPips := utils.PipsBetween(candle.Close, cand.level.Price, d.cfg.PipSize)
		volRatio := 1.0
		if !avgVolume.IsZero() {
			volRatio = candle.Volume.Div(avgVolume).InexactFloat64()
		}
		strength := reversalStrength(reversalPips, candlesSinceClose, volRatio, cand.breachDistancePips, d.cfg.MaxBreachPips)
		if strength < d.cfg.MinReversalStrength {
			continue
		}

		cand.state = types.SweepCompleted
		closeTs := cand.closeTimestampMs
		closeIdx := cand.closeIndex
		reversalTs := candle.TimestampMs
		reversalIdx := currentIndex

		cand.level.MarkSwept(candle.TimestampMs)

		sweep := types.LiquiditySweep{
			Level:               cand.level,
			Direction:           cand.direction,
			BreachTimestampMs:   cand.breachTimestampMs,
			BreachIndex:         cand.breachIndex,
			CloseTimestampMs:    &closeTs,
			CloseIndex:          &closeIdx,
			ReversalTimestampMs: &reversalTs,
			ReversalIndex:       &reversalIdx,
			BreachDistancePips:  cand.breachDistancePips,
			ReversalStrength:    strength,
			IsValid:             true,
		}
		completed = append(completed, sweep)
		delete(d.candidates, levelID)

		if d.bus != nil {
			d.bus.Publish(events.Event{Priority: 7, EventType: events.TypeLiquiditySweepDetected, Data: sweep, Source: "liquidity_sweep_detector"})
		}
	}
	return completed
}

// reversalStrength scores 0-100 from distance, reversal speed, volume, and
// breach cleanliness relative to the allowed breach band.
func reversalStrength(reversalPips float64, candlesToReverse int, volRatio, breachPips, maxBreachPips float64) float64 {
	distance := 2 * reversalPips
	if distance > 30 {
		distance = 30
	}
	speed := 30 - 5*float64(candlesToReverse)
	if speed < 0 {
		speed = 0
	}
	volume := 12.5 * volRatio
	if volume > 25 {
		volume = 25
	}
	cleanliness := 0.0
	if maxBreachPips > 0 {
		cleanliness = 15 * (1 - breachPips/maxBreachPips)
		if cleanliness < 0 {
			cleanliness = 0
		}
	}
	total := distance + speed + volume + cleanliness
	if total > 100 {
		total = 100
	}
	return total
}

func (d *SweepDetector) cleanup(currentIndex int) {
	for id, cand := range d.candidates {
		switch cand.state {
		case types.SweepBreached:
			if currentIndex-cand.breachIndex > 2 {
				delete(d.candidates, id)
			}
		case types.SweepCloseConfirmed:
			if currentIndex-cand.closeIndex > d.cfg.MaxCandlesForReversal {
				delete(d.candidates, id)
			}
		}
	}
}

// ActiveCandidates returns a snapshot of in-flight candidates, for tests and
// diagnostics.
func (d *SweepDetector) ActiveCandidates() int { return len(d.candidates) }
