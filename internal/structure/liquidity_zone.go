package structure

import (
	"sort"

	"github.com/shopspring/decimal"

	"github.com/atlas-desktop/structure-core/pkg/types"
	"github.com/atlas-desktop/structure-core/pkg/utils"
)

// LiquidityStrength scores a level 0-100 from its originating swing
// lookback N, accumulated touches, and a volume ratio versus the series
// average.
func LiquidityStrength(n, touchCount int, volumeRatio float64) float64 {
	if n > 10 {
		n = 10
	}
	swingComponent := 0.3 * float64(n) * 10
	touchComponent := 10.0 * float64(touchCount)
	if touchComponent > 40 {
		touchComponent = 40
	}
	volumeComponent := 15.0 * volumeRatio
	if volumeComponent > 30 {
		volumeComponent = 30
	}
	total := swingComponent + touchComponent + volumeComponent
	if total > 100 {
		total = 100
	}
	return total
}

// ZoneEngine maps swing points to liquidity levels, clusters nearby levels,
// and advances their ACTIVE/PARTIAL/SWEPT lifecycle as candles print.
type ZoneEngine struct {
	cfg types.LiquidityZoneConfig
}

// NewZoneEngine builds a ZoneEngine.
func NewZoneEngine(cfg types.LiquidityZoneConfig) *ZoneEngine {
	return &ZoneEngine{cfg: cfg}
}

// CreateLevels maps swing highs to BUY_SIDE levels and swing lows to
// SELL_SIDE levels. avgVolume is the series average used for the strength
// formula's volume ratio; the level's own origin-candle volume stands in
// for both the level volume and nearby profile terms the formula averages.
func (e *ZoneEngine) CreateLevels(swings []types.SwingPoint, symbol string, tf types.Timeframe, avgVolume decimal.Decimal) []*types.LiquidityLevel {
	levels := make([]*types.LiquidityLevel, 0, len(swings))
	for _, sw := range swings {
		ltype := types.LiquiditySellSide
		if sw.IsHigh {
			ltype = types.LiquidityBuySide
		}
		volumeRatio := 1.0
		if !avgVolume.IsZero() {
			volumeRatio = sw.Volume.Div(avgVolume).InexactFloat64()
		}
		levels = append(levels, &types.LiquidityLevel{
			ID:                utils.GenerateLevelID(),
			Type:              ltype,
			Price:             sw.Price,
			OriginTimestampMs: sw.TimestampMs,
			OriginCandleIndex: sw.CandleIndex,
			Symbol:            symbol,
			Timeframe:         tf,
			Strength:          LiquidityStrength(sw.Strength, 0, volumeRatio),
			VolumeProfile:     sw.Volume,
			State:             types.LiquidityActive,
		})
	}
	return levels
}

// ClusterLevels sorts levels by price and merges consecutive levels whose
// price falls within ProximityTolerancePips of the growing cluster's mean.
func (e *ZoneEngine) ClusterLevels(levels []*types.LiquidityLevel) []*types.LiquidityLevel {
	if len(levels) == 0 {
		return nil
	}
	sorted := make([]*types.LiquidityLevel, len(levels))
	copy(sorted, levels)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Price.LessThan(sorted[j].Price) })

	tolerance := decimal.NewFromFloat(e.cfg.ProximityTolerancePips).Mul(e.cfg.PipSize)

	var clusters []*types.LiquidityLevel
	cluster := sorted[0]
	for i := 1; i < len(sorted); i++ {
		next := sorted[i]
		if next.Type == cluster.Type && next.Price.Sub(cluster.Price).Abs().LessThanOrEqual(tolerance) {
			cluster = mergeLevels(cluster, next)
			continue
		}
		clusters = append(clusters, cluster)
		cluster = next
	}
	clusters = append(clusters, cluster)
	return clusters
}

func mergeLevels(a, b *types.LiquidityLevel) *types.LiquidityLevel {
	totalStrength := decimal.NewFromFloat(a.Strength).Add(decimal.NewFromFloat(b.Strength))
	var weightedPrice decimal.Decimal
	if totalStrength.IsZero() {
		weightedPrice = a.Price.Add(b.Price).Div(decimal.NewFromInt(2))
	} else {
		weightedPrice = a.Price.Mul(decimal.NewFromFloat(a.Strength)).
			Add(b.Price.Mul(decimal.NewFromFloat(b.Strength))).
			Div(totalStrength)
	}

	combinedStrength := a.Strength + 0.3*b.Strength
	if combinedStrength > 100 {
		combinedStrength = 100
	}

	originTs := a.OriginTimestampMs
	originIdx := a.OriginCandleIndex
	if b.OriginTimestampMs < originTs {
		originTs = b.OriginTimestampMs
		originIdx = b.OriginCandleIndex
	}

	return &types.LiquidityLevel{
		ID:                a.ID,
		Type:              a.Type,
		Price:             weightedPrice,
		OriginTimestampMs: originTs,
		OriginCandleIndex: originIdx,
		Symbol:            a.Symbol,
		Timeframe:         a.Timeframe,
		TouchCount:        a.TouchCount + b.TouchCount,
		Strength:          combinedStrength,
		VolumeProfile:     utils.MaxDecimal(a.VolumeProfile, b.VolumeProfile),
		State:             a.State,
	}
}

// UpdateLevels advances active/partial levels against candles starting at
// startIndex: a close-through marks the level SWEPT (terminal); a touch
// without close-through marks it PARTIAL and bumps its touch count.
func (e *ZoneEngine) UpdateLevels(levels []*types.LiquidityLevel, candles []types.Candle, startIndex int) {
	if startIndex < 0 {
		startIndex = 0
	}
	for _, level := range levels {
		if level.State != types.LiquidityActive && level.State != types.LiquidityPartial {
			continue
		}
		for i := startIndex; i < len(candles); i++ {
			c := candles[i]
			switch level.Type {
			case types.LiquidityBuySide:
				if c.High.GreaterThanOrEqual(level.Price) && c.Close.GreaterThan(level.Price) {
					level.MarkSwept(c.TimestampMs)
				} else if c.High.GreaterThanOrEqual(level.Price) && c.Close.LessThanOrEqual(level.Price) {
					level.MarkTouched(c.TimestampMs)
				}
			case types.LiquiditySellSide:
				if c.Low.LessThanOrEqual(level.Price) && c.Close.LessThan(level.Price) {
					level.MarkSwept(c.TimestampMs)
				} else if c.Low.LessThanOrEqual(level.Price) && c.Close.GreaterThanOrEqual(level.Price) {
					level.MarkTouched(c.TimestampMs)
				}
			}
			if level.State == types.LiquiditySwept {
				break
			}
		}
	}
}
