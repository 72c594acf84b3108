package structure

import (
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/atlas-desktop/structure-core/internal/events"
	"github.com/atlas-desktop/structure-core/pkg/types"
	"github.com/atlas-desktop/structure-core/pkg/utils"
)

type bmsCandidate struct {
	level              types.SwingPoint
	bmsType            types.BMSType
	breakIndex         int
	breakTimestampMs   int64
	breakPrice         decimal.Decimal
	state              types.BMSState
	confirmIndex       *int
	confirmTimestampMs *int64
}

func sameLevel(a, b types.SwingPoint) bool {
	return a.CandleIndex == b.CandleIndex && a.IsHigh == b.IsHigh && a.Price.Equal(b.Price)
}

// BreakDetector identifies decisive breaks of prior swing extremes and
// confirms them against close-through, follow-through, and structural
// significance criteria before scoring a confidence value.
type BreakDetector struct {
	cfg        types.MarketStructureBreakConfig
	bus        *events.Bus
	logger     *zap.Logger
	trendState func() *types.TrendState

	candidates []*bmsCandidate
	confirmed  []types.BreakOfMarketStructure
}

// NewBreakDetector builds a BreakDetector. trendState, when non-nil, supplies
// the current trend direction used for the confidence score's alignment
// bonus; pass nil to score without trend context.
func NewBreakDetector(cfg types.MarketStructureBreakConfig, bus *events.Bus, logger *zap.Logger, trendState func() *types.TrendState) *BreakDetector {
	return &BreakDetector{cfg: cfg, bus: bus, logger: logger.Named("market_structure_break"), trendState: trendState}
}

// DetectBMS scans candles from startIndex for breaks of the given swing
// levels, confirming or invalidating in-flight candidates as later candles
// arrive, and returns every BMS confirmed during this call.
func (d *BreakDetector) DetectBMS(candles []types.Candle, swingHighs, swingLows []types.SwingPoint, startIndex int) []types.BreakOfMarketStructure {
	if len(candles) == 0 || (len(swingHighs) == 0 && len(swingLows) == 0) {
		return nil
	}

	var detected []types.BreakOfMarketStructure
	for i := startIndex; i < len(candles); i++ {
		candle := candles[i]

		for _, sh := range swingHighs {
			if sh.CandleIndex >= i || d.hasCandidateOrConfirmed(sh) {
				continue
			}
			if cand := d.checkHighBreak(candle, sh, i); cand != nil {
				d.candidates = append(d.candidates, cand)
			}
		}
		for _, sl := range swingLows {
			if sl.CandleIndex >= i || d.hasCandidateOrConfirmed(sl) {
				continue
			}
			if cand := d.checkLowBreak(candle, sl, i); cand != nil {
				d.candidates = append(d.candidates, cand)
			}
		}

		d.updateCandidates(candle, i, candles)
		detected = append(detected, d.checkConfirmations(candles, swingHighs, swingLows)...)
	}

	d.cleanupCandidates(len(candles) - 1)
	return detected
}

func (d *BreakDetector) hasCandidateOrConfirmed(level types.SwingPoint) bool {
	for _, c := range d.candidates {
		if sameLevel(c.level, level) {
			return true
		}
	}
	for _, c := range d.confirmed {
		// BreakOfMarketStructure only retains the broken level's price, not
		// its originating swing's candle index, so price equality is the
		// best available de-dup signal once a BMS has been confirmed.
		if c.BrokenLevel.Equal(level.Price) {
			return true
		}
	}
	return false
}

func (d *BreakDetector) checkHighBreak(candle types.Candle, swingHigh types.SwingPoint, index int) *bmsCandidate {
	if !candle.High.GreaterThan(swingHigh.Price) {
		return nil
	}
	pips := utils.PipsBetween(candle.High, swingHigh.Price, d.cfg.PipSize)
	if pips < d.cfg.MinBreakDistancePips || pips > d.cfg.MaxBreakDistancePips {
		return nil
	}
	return &bmsCandidate{
		level: swingHigh, bmsType: types.BMSBullish, breakIndex: index,
		breakTimestampMs: candle.TimestampMs, breakPrice: candle.High, state: types.BMSPotential,
	}
}

func (d *BreakDetector) checkLowBreak(candle types.Candle, swingLow types.SwingPoint, index int) *bmsCandidate {
	if !candle.Low.LessThan(swingLow.Price) {
		return nil
	}
	pips := utils.PipsBetween(swingLow.Price, candle.Low, d.cfg.PipSize)
	if pips < d.cfg.MinBreakDistancePips || pips > d.cfg.MaxBreakDistancePips {
		return nil
	}
	return &bmsCandidate{
		level: swingLow, bmsType: types.BMSBearish, breakIndex: index,
		breakTimestampMs: candle.TimestampMs, breakPrice: candle.Low, state: types.BMSPotential,
	}
}

func (d *BreakDetector) updateCandidates(candle types.Candle, index int, candles []types.Candle) {
	for _, cand := range d.candidates {
		if cand.state != types.BMSPotential {
			continue
		}
		if index-cand.breakIndex < d.cfg.ConfirmationCandles {
			continue
		}
		if d.evaluateConfirmation(cand, candles, index) {
			cand.state = types.BMSConfirmed
			idx := index
			ts := candle.TimestampMs
			cand.confirmIndex = &idx
			cand.confirmTimestampMs = &ts
		} else {
			cand.state = types.BMSInvalidated
		}
	}
}

func (d *BreakDetector) evaluateConfirmation(cand *bmsCandidate, candles []types.Candle, currentIndex int) bool {
	window := candles[cand.breakIndex : currentIndex+1]
	if len(window) == 0 {
		return false
	}
	level := cand.level.Price
	last := window[len(window)-1]

	var closeBeyond bool
	if cand.bmsType == types.BMSBullish {
		closeBeyond = last.Close.GreaterThan(level)
	} else {
		closeBeyond = last.Close.LessThan(level)
	}
	if !closeBeyond {
		return false
	}

	var followThrough decimal.Decimal
	if cand.bmsType == types.BMSBullish {
		followThrough = maxHigh(window).Sub(level)
	} else {
		followThrough = level.Sub(minLow(window))
	}
	followPips := pipsOf(followThrough, d.cfg.PipSize)
	if followPips < d.cfg.MinFollowThroughPips {
		return false
	}

	for _, c := range window[1:] {
		if cand.bmsType == types.BMSBullish && c.Close.LessThan(level) {
			return false
		}
		if cand.bmsType == types.BMSBearish && c.Close.GreaterThan(level) {
			return false
		}
	}
	return true
}

func maxHigh(candles []types.Candle) decimal.Decimal {
	m := candles[0].High
	for _, c := range candles[1:] {
		if c.High.GreaterThan(m) {
			m = c.High
		}
	}
	return m
}

func minLow(candles []types.Candle) decimal.Decimal {
	m := candles[0].Low
	for _, c := range candles[1:] {
		if c.Low.LessThan(m) {
			m = c.Low
		}
	}
	return m
}

func pipsOf(distance, pipSize decimal.Decimal) float64 {
	if pipSize.IsZero() {
		return 0
	}
	return distance.Div(pipSize).Abs().InexactFloat64()
}

func (d *BreakDetector) checkConfirmations(candles []types.Candle, swingHighs, swingLows []types.SwingPoint) []types.BreakOfMarketStructure {
	var confirmedNow []types.BreakOfMarketStructure
	var remaining []*bmsCandidate

	for _, cand := range d.candidates {
		switch cand.state {
		case types.BMSConfirmed:
			breakDistancePips := utils.PipsBetween(cand.breakPrice, cand.level.Price, d.cfg.PipSize)

			endIdx := len(candles) - 1
			if cand.confirmIndex != nil {
				endIdx = *cand.confirmIndex
			}
			window := candles[cand.breakIndex : endIdx+1]

			var followThrough decimal.Decimal
			if cand.bmsType == types.BMSBullish {
				followThrough = maxHigh(window).Sub(cand.level.Price)
			} else {
				followThrough = cand.level.Price.Sub(minLow(window))
			}
			followPips := pipsOf(followThrough, d.cfg.PipSize)

			sameTypeSwings := swingLows
			if cand.level.IsHigh {
				sameTypeSwings = swingHighs
			}
			significance := d.calculateStructureSignificance(cand.level, sameTypeSwings, candles)
			confidence, confidenceLevel, volumeConfirmed := d.calculateConfidence(cand, breakDistancePips, followPips, significance, candles)

			if confidence >= d.cfg.MinConfidenceForConfirmed {
				bms := types.BreakOfMarketStructure{
					ID:                    utils.GenerateBMSID(),
					Type:                  cand.bmsType,
					BrokenLevel:           cand.level.Price,
					BreakTimestampMs:      cand.breakTimestampMs,
					BreakIndex:            cand.breakIndex,
					ConfirmationTimestamp: cand.confirmTimestampMs,
					BreakDistance:         breakDistancePips,
					FollowThroughDistance: followPips,
					Confidence:            confidence,
					ConfidenceLevel:       confidenceLevel,
					State:                 types.BMSConfirmed,
					VolumeConfirmation:    volumeConfirmed,
					StructureSignificance: significance,
				}
				confirmedNow = append(confirmedNow, bms)
				d.confirmed = append(d.confirmed, bms)
				if d.bus != nil {
					d.bus.Publish(events.Event{Priority: 9, EventType: events.TypeMarketStructureBreak, Data: bms, Source: "market_structure_break_detector"})
				}
			}
			// Confirmed candidates (confidence met or not) never re-enter the
			// pending pool.
		case types.BMSPotential:
			remaining = append(remaining, cand)
		}
	}

	d.candidates = remaining
	return confirmedNow
}

func (d *BreakDetector) calculateStructureSignificance(level types.SwingPoint, sameTypeSwings []types.SwingPoint, candles []types.Candle) float64 {
	const maxSwingStrength = 10.0
	swingScore := float64(level.Strength) / maxSwingStrength * 30
	if swingScore > 30 {
		swingScore = 30
	}

	tolerance := decimal.NewFromFloat(2.0).Mul(d.cfg.PipSize)
	touchCount := 0
	upper := level.CandleIndex
	if upper > len(candles) {
		upper = len(candles)
	}
	for i := 0; i < upper; i++ {
		c := candles[i]
		var near bool
		if level.IsHigh {
			near = c.High.Sub(level.Price).Abs().LessThanOrEqual(tolerance)
		} else {
			near = c.Low.Sub(level.Price).Abs().LessThanOrEqual(tolerance)
		}
		if near {
			touchCount++
		}
	}
	touchScore := float64(touchCount) * 5
	if touchScore > 25 {
		touchScore = 25
	}

	candlesSinceFormation := len(candles) - level.CandleIndex
	const maxAge = 100.0
	recencyRatio := 1 - float64(candlesSinceFormation)/maxAge
	if recencyRatio < 0 {
		recencyRatio = 0
	}
	recencyScore := recencyRatio * 25

	var recentSwings []types.SwingPoint
	for _, s := range sameTypeSwings {
		if s.CandleIndex < level.CandleIndex {
			recentSwings = append(recentSwings, s)
		}
	}
	if len(recentSwings) > 5 {
		recentSwings = recentSwings[len(recentSwings)-5:]
	}
	relativeScore := 10.0
	if len(recentSwings) > 0 {
		extreme := recentSwings[0].Price
		for _, s := range recentSwings[1:] {
			if level.IsHigh && s.Price.GreaterThan(extreme) {
				extreme = s.Price
			}
			if !level.IsHigh && s.Price.LessThan(extreme) {
				extreme = s.Price
			}
		}
		if level.Price.Equal(extreme) {
			relativeScore = 20
		}
	}

	total := swingScore + touchScore + recencyScore + relativeScore
	if total > 100 {
		total = 100
	}
	if total < 0 {
		total = 0
	}
	return total
}

func (d *BreakDetector) calculateConfidence(cand *bmsCandidate, breakDistancePips, followThroughPips, structureSignificance float64, candles []types.Candle) (float64, types.BMSConfidenceLevel, bool) {
	const idealBreak = 5.0
	breakRatio := breakDistancePips / idealBreak
	if breakRatio > 1 {
		breakRatio = 1
	}
	breakScore := breakRatio * 25

	const idealFollowThrough = 10.0
	followRatio := followThroughPips / idealFollowThrough
	if followRatio > 1 {
		followRatio = 1
	}
	followScore := followRatio * 30

	significanceScore := structureSignificance * 0.25

	avgVolume := decimal.Zero
	if len(candles) > 0 {
		sum := decimal.Zero
		for _, c := range candles {
			sum = sum.Add(c.Volume)
		}
		avgVolume = sum.Div(decimal.NewFromInt(int64(len(candles))))
	}
	breakCandle := candles[cand.breakIndex]
	volumeRatio := 1.0
	if avgVolume.IsPositive() {
		volumeRatio = breakCandle.Volume.Div(avgVolume).InexactFloat64()
	}
	volumeConfirmed := volumeRatio >= d.cfg.VolumeThresholdMultiple
	volumeScore := 5.0
	if volumeConfirmed {
		volumeScore = volumeRatio * 10
		if volumeScore > 15 {
			volumeScore = 15
		}
	}

	trendScore := 0.0
	if d.trendState != nil {
		if trend := d.trendState(); trend != nil {
			if (cand.bmsType == types.BMSBullish && trend.Direction == types.TrendUptrend) ||
				(cand.bmsType == types.BMSBearish && trend.Direction == types.TrendDowntrend) {
				trendScore = 5
			}
		}
	}

	total := breakScore + followScore + significanceScore + volumeScore + trendScore
	if total > 100 {
		total = 100
	}
	if total < 0 {
		total = 0
	}

	level := types.BMSConfidenceLow
	switch {
	case total >= 71:
		level = types.BMSConfidenceHigh
	case total >= 41:
		level = types.BMSConfidenceMedium
	}
	return total, level, volumeConfirmed
}

func (d *BreakDetector) cleanupCandidates(currentIndex int) {
	maxCandlesForDecision := d.cfg.ConfirmationCandles + 5
	var active []*bmsCandidate
	for _, cand := range d.candidates {
		if cand.state != types.BMSPotential {
			continue
		}
		if currentIndex-cand.breakIndex <= maxCandlesForDecision {
			active = append(active, cand)
		}
	}
	d.candidates = active
}

// ConfirmedBMS returns a copy of every BMS confirmed so far.
func (d *BreakDetector) ConfirmedBMS() []types.BreakOfMarketStructure {
	out := make([]types.BreakOfMarketStructure, len(d.confirmed))
	copy(out, d.confirmed)
	return out
}
