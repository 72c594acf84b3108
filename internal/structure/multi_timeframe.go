package structure

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/atlas-desktop/structure-core/internal/events"
	"github.com/atlas-desktop/structure-core/pkg/types"
)

// h1Weight dominates the blended directional score; m15/m1 contribute the remainder.
const (
	h1Weight  = 0.6
	m15Weight = 0.25
	m1Weight  = 0.15
)

// MultiTimeframeAnalyzer integrates independently classified H1/M15/M1
// MarketStateData into a single MultiTimeframeStructure, resolving conflicts
// with H1 priority and emitting a consistency verdict and bias.
type MultiTimeframeAnalyzer struct {
	bus    *events.Bus
	logger *zap.Logger
}

// NewMultiTimeframeAnalyzer builds an analyzer publishing on bus (nil for offline use).
func NewMultiTimeframeAnalyzer(bus *events.Bus, logger *zap.Logger) *MultiTimeframeAnalyzer {
	return &MultiTimeframeAnalyzer{bus: bus, logger: logger.Named("multi_timeframe_analyzer")}
}

func directionalScore(s *types.MarketStateData) float64 {
	if s == nil {
		return 0
	}
	switch s.State {
	case types.MarketBullish:
		return s.Confidence / 100
	case types.MarketBearish:
		return -s.Confidence / 100
	default:
		return 0
	}
}

func stateSide(s *types.MarketStateData) int {
	if s == nil {
		return 0
	}
	switch s.State {
	case types.MarketBullish:
		return 1
	case types.MarketBearish:
		return -1
	default:
		return 0
	}
}

// Analyze integrates the three independently computed per-timeframe states
// into a MultiTimeframeStructure.
func (a *MultiTimeframeAnalyzer) Analyze(symbol string, h1, m15, m1 *types.MarketStateData) *types.MultiTimeframeStructure {
	consistency, conflicts := a.verifyConsistency(h1, m15, m1)
	bias, biasStrength := a.resolveBias(h1, m15, m1)

	out := &types.MultiTimeframeStructure{
		Symbol:           symbol,
		H1Structure:      h1,
		M15Structure:     m15,
		M1Structure:      m1,
		ConsistencyLevel: consistency,
		OverallBias:      bias,
		BiasStrength:     biasStrength,
		PrimaryTimeframe: types.Timeframe1h,
		Conflicts:        conflicts,
		Recommendations:  a.generateRecommendations(bias, consistency),
	}

	if a.bus != nil {
		a.bus.Publish(events.Event{
			Priority:  10,
			EventType: events.TypeMarketStructureChange,
			Data:      out,
			Source:    "multi_timeframe_analyzer",
		})
	}
	return out
}

// verifyConsistency buckets cross-timeframe agreement from pairwise side
// agreement (bullish/bearish/ranging) plus confidence alignment.
func (a *MultiTimeframeAnalyzer) verifyConsistency(h1, m15, m1 *types.MarketStateData) (types.ConsistencyLevel, []string) {
	sides := []int{stateSide(h1), stateSide(m15), stateSide(m1)}
	agreeing := 0
	for i := 0; i < len(sides); i++ {
		for j := i + 1; j < len(sides); j++ {
			if sides[i] == sides[j] {
				agreeing++
			}
		}
	}

	var conflicts []string
	if h1 != nil && m15 != nil && stateSide(h1) != 0 && stateSide(m15) != 0 && stateSide(h1) != stateSide(m15) {
		conflicts = append(conflicts, fmt.Sprintf("M15 state %s conflicts with H1 state %s", m15.State, h1.State))
	}
	if h1 != nil && m1 != nil && stateSide(h1) != 0 && stateSide(m1) != 0 && stateSide(h1) != stateSide(m1) {
		conflicts = append(conflicts, fmt.Sprintf("M1 state %s conflicts with H1 state %s", m1.State, h1.State))
	}

	switch {
	case agreeing == 3 && allConfident(h1, m15, m1, 50):
		return types.ConsistencyPerfect, conflicts
	case agreeing >= 2:
		return types.ConsistencyHigh, conflicts
	case agreeing == 1:
		return types.ConsistencyModerate, conflicts
	case len(conflicts) >= 2:
		return types.ConsistencyConflict, conflicts
	default:
		return types.ConsistencyLow, conflicts
	}
}

func allConfident(h1, m15, m1 *types.MarketStateData, minConf float64) bool {
	for _, s := range []*types.MarketStateData{h1, m15, m1} {
		if s == nil || s.Confidence < minConf {
			return false
		}
	}
	return true
}

// resolveBias blends the three timeframes with H1 dominant, mapping the
// result into an OverallBias bucket and a [0,10] strength.
func (a *MultiTimeframeAnalyzer) resolveBias(h1, m15, m1 *types.MarketStateData) (types.OverallBias, float64) {
	blended := h1Weight*directionalScore(h1) + m15Weight*directionalScore(m15) + m1Weight*directionalScore(m1)

	// H1 dominance: when H1 disagrees with the blended sign, defer to H1's
	// own side rather than letting lower timeframes flip the bias.
	if h1Side := stateSide(h1); h1Side != 0 {
		blendedSide := 0
		switch {
		case blended > 0:
			blendedSide = 1
		case blended < 0:
			blendedSide = -1
		}
		if blendedSide != 0 && blendedSide != h1Side {
			blended = h1Weight * directionalScore(h1)
		}
	}

	strength := absFloat(blended) * 10
	if strength > 10 {
		strength = 10
	}

	var bias types.OverallBias
	switch {
	case blended >= 0.6:
		bias = types.BiasStronglyBullish
	case blended >= 0.2:
		bias = types.BiasBullish
	case blended <= -0.6:
		bias = types.BiasStronglyBearish
	case blended <= -0.2:
		bias = types.BiasBearish
	default:
		bias = types.BiasNeutral
	}
	return bias, strength
}

func (a *MultiTimeframeAnalyzer) generateRecommendations(bias types.OverallBias, consistency types.ConsistencyLevel) []string {
	var recs []string
	switch consistency {
	case types.ConsistencyConflict, types.ConsistencyLow:
		recs = append(recs, "Timeframes in conflict: avoid new entries until alignment improves")
	}
	switch bias {
	case types.BiasStronglyBullish, types.BiasBullish:
		if consistency == types.ConsistencyPerfect || consistency == types.ConsistencyHigh {
			recs = append(recs, "Strong bullish alignment across timeframes: favor long entries on M15 pullbacks")
		}
	case types.BiasStronglyBearish, types.BiasBearish:
		if consistency == types.ConsistencyPerfect || consistency == types.ConsistencyHigh {
			recs = append(recs, "Strong bearish alignment across timeframes: favor short entries on M15 pullbacks")
		}
	case types.BiasNeutral:
		recs = append(recs, "No clear directional bias: range strategies preferred")
	}
	if len(recs) == 0 {
		recs = append(recs, "Insufficient alignment for a directional recommendation")
	}
	return recs
}

// EntryTimeframe returns the recommended timeframe for entries, or empty
// when none is warranted.
func EntryTimeframe(m *types.MultiTimeframeStructure) types.Timeframe {
	if m.IsStrongTrend() {
		return types.Timeframe15m
	}
	if m.IsRangingMarket() {
		return ""
	}
	return ""
}
