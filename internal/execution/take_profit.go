package execution

import (
	"sort"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/atlas-desktop/structure-core/pkg/errs"
	"github.com/atlas-desktop/structure-core/pkg/types"
)

// PartialTakeProfit is one rung of a TakeProfitPlan's ladder.
type PartialTakeProfit struct {
	Price          decimal.Decimal
	SharePct       decimal.Decimal
	RRMultiple     decimal.Decimal
	LiquidityLevel *types.LiquidityLevel
}

// TakeProfitPlan is the full output of TakeProfitCalculator.Calculate.
type TakeProfitPlan struct {
	Partials                []PartialTakeProfit
	FinalTarget             decimal.Decimal
	RiskDistance            decimal.Decimal
	RewardDistance          decimal.Decimal
	ActualRR                decimal.Decimal
	Valid                   bool
	TrailingActivationPrice decimal.Decimal
	Strategy                types.TakeProfitStrategy
}

// TakeProfitCalculator derives partial take-profit ladders and trailing
// stops from entry/stop-loss and, optionally, nearby liquidity levels.
type TakeProfitCalculator struct {
	cfg    types.TakeProfitConfig
	logger *zap.Logger
}

// NewTakeProfitCalculator validates cfg (partial percentages must sum to
// 100, min RR >= 1.0) before returning a ready calculator.
func NewTakeProfitCalculator(cfg types.TakeProfitConfig, logger *zap.Logger) (*TakeProfitCalculator, error) {
	if cfg.MinRiskRewardRatio.LessThan(decimal.NewFromInt(1)) {
		return nil, errs.NewValidationError("min_risk_reward_ratio", "must be >= 1.0")
	}
	total := decimal.Zero
	for _, p := range cfg.PartialTPPercentages {
		total = total.Add(p.SharePct)
	}
	if total.Sub(decimal.NewFromInt(100)).Abs().GreaterThan(decimal.NewFromFloat(0.01)) {
		return nil, errs.NewValidationError("partial_tp_percentages", "must sum to 100")
	}
	return &TakeProfitCalculator{cfg: cfg, logger: logger.Named("take_profit_calculator")}, nil
}

func riskDistance(entry, stopLoss decimal.Decimal) decimal.Decimal {
	return entry.Sub(stopLoss).Abs()
}

func tpPriceFromRR(entry, stopLoss, rr decimal.Decimal, side types.PositionSide) decimal.Decimal {
	reward := riskDistance(entry, stopLoss).Mul(rr)
	if side == types.PositionSideLong {
		return entry.Add(reward)
	}
	return entry.Sub(reward)
}

// findTargetLevels ranks active/partial liquidity on the correct side of
// entry by strength first, then proximity, matching the reference ordering.
func (c *TakeProfitCalculator) findTargetLevels(levels []*types.LiquidityLevel, entry decimal.Decimal, side types.PositionSide, count int) []*types.LiquidityLevel {
	var relevant []*types.LiquidityLevel
	for _, l := range levels {
		if l.State != types.LiquidityActive && l.State != types.LiquidityPartial {
			continue
		}
		switch side {
		case types.PositionSideLong:
			if l.Type == types.LiquidityBuySide && l.Price.GreaterThan(entry) {
				relevant = append(relevant, l)
			}
		case types.PositionSideShort:
			if l.Type == types.LiquiditySellSide && l.Price.LessThan(entry) {
				relevant = append(relevant, l)
			}
		}
	}

	sort.Slice(relevant, func(i, j int) bool {
		if relevant[i].Strength != relevant[j].Strength {
			return relevant[i].Strength > relevant[j].Strength
		}
		di := relevant[i].Price.Sub(entry).Abs()
		dj := relevant[j].Price.Sub(entry).Abs()
		return di.LessThan(dj)
	})

	if len(relevant) > count {
		relevant = relevant[:count]
	}
	return relevant
}

func (c *TakeProfitCalculator) validateDistance(entry, tp decimal.Decimal) bool {
	if entry.IsZero() {
		return false
	}
	distPct := tp.Sub(entry).Abs().Div(entry).Mul(decimal.NewFromInt(100))
	return distPct.GreaterThanOrEqual(c.cfg.MinDistancePct) && distPct.LessThanOrEqual(c.cfg.MaxDistancePct)
}

func roundDown(price decimal.Decimal, precision int32) decimal.Decimal {
	return price.Truncate(precision)
}

// CalculatePartials builds the RR-based ladder, snapping each rung to a
// nearby liquidity level when the level lies within LiquiditySnapPct
// (measured as a percentage of entry) of the rung's RR target.
func (c *TakeProfitCalculator) CalculatePartials(entry, stopLoss decimal.Decimal, side types.PositionSide, liquidityLevels []*types.LiquidityLevel) []PartialTakeProfit {
	targets := c.findTargetLevels(liquidityLevels, entry, side, len(c.cfg.PartialTPPercentages))

	partials := make([]PartialTakeProfit, 0, len(c.cfg.PartialTPPercentages))
	for i, pt := range c.cfg.PartialTPPercentages {
		tp := tpPriceFromRR(entry, stopLoss, pt.RRMultiple, side)

		var aligned *types.LiquidityLevel
		if i < len(targets) && !entry.IsZero() {
			lvl := targets[i]
			diffPct := tp.Sub(lvl.Price).Abs().Div(entry).Mul(decimal.NewFromInt(100))
			if diffPct.LessThanOrEqual(c.cfg.LiquiditySnapPct) {
				tp = lvl.Price
				aligned = lvl
			}
		}

		if !c.validateDistance(entry, tp) {
			c.logger.Debug("partial take-profit outside configured distance range, including anyway")
		}

		tp = roundDown(tp, c.cfg.PricePrecision)
		partials = append(partials, PartialTakeProfit{
			Price:          tp,
			SharePct:       pt.SharePct,
			RRMultiple:     pt.RRMultiple,
			LiquidityLevel: aligned,
		})
	}
	return partials
}

// Calculate builds the full plan: partial ladder, final target, realized
// risk/reward, and trailing-stop activation price (the first partial's price).
func (c *TakeProfitCalculator) Calculate(entry, stopLoss decimal.Decimal, side types.PositionSide, liquidityLevels []*types.LiquidityLevel, strategy types.TakeProfitStrategy) (*TakeProfitPlan, error) {
	partials := c.CalculatePartials(entry, stopLoss, side, liquidityLevels)
	if len(partials) == 0 {
		return nil, errs.NewValidationError("partial_tp_percentages", "produced no partial take-profit levels")
	}

	final := partials[len(partials)-1].Price
	risk := riskDistance(entry, stopLoss)
	reward := final.Sub(entry).Abs()

	actualRR := decimal.Zero
	if !risk.IsZero() {
		actualRR = reward.Div(risk)
	}

	return &TakeProfitPlan{
		Partials:                partials,
		FinalTarget:             final,
		RiskDistance:            risk,
		RewardDistance:          reward,
		ActualRR:                actualRR,
		Valid:                   actualRR.GreaterThanOrEqual(c.cfg.MinRiskRewardRatio),
		TrailingActivationPrice: partials[0].Price,
		Strategy:                strategy,
	}, nil
}

// TrailingStop trails from the extreme price reached since entry, never
// moving worse than entry for the holder.
func (c *TakeProfitCalculator) TrailingStop(entry, highestReached, lowestReached decimal.Decimal, side types.PositionSide) decimal.Decimal {
	trailPct := c.cfg.TrailingPct.Div(decimal.NewFromInt(100))

	if side == types.PositionSideLong {
		stop := highestReached.Sub(highestReached.Mul(trailPct))
		if stop.LessThan(entry) {
			stop = entry
		}
		return roundDown(stop, c.cfg.PricePrecision)
	}

	stop := lowestReached.Add(lowestReached.Mul(trailPct))
	if stop.GreaterThan(entry) {
		stop = entry
	}
	return roundDown(stop, c.cfg.PricePrecision)
}
