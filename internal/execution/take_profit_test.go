package execution

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/atlas-desktop/structure-core/pkg/types"
)

func TestTakeProfitCalculator_LongScenario(t *testing.T) {
	cfg := types.DefaultTakeProfitConfig()
	calc, err := NewTakeProfitCalculator(cfg, zap.NewNop())
	require.NoError(t, err)

	plan, err := calc.Calculate(decimal.NewFromInt(50000), decimal.NewFromInt(49500), types.PositionSideLong, nil, types.TPStrategyFixedRR)
	require.NoError(t, err)

	require.Len(t, plan.Partials, 2)
	require.True(t, plan.Partials[0].Price.Equal(decimal.NewFromInt(50750)), plan.Partials[0].Price.String())
	require.True(t, plan.Partials[1].Price.Equal(decimal.NewFromInt(51250)), plan.Partials[1].Price.String())
	require.True(t, plan.FinalTarget.Equal(decimal.NewFromInt(51250)))
	require.True(t, plan.ActualRR.Equal(decimal.NewFromFloat(2.5)), plan.ActualRR.String())
	require.True(t, plan.Valid)
	require.True(t, plan.TrailingActivationPrice.Equal(decimal.NewFromInt(50750)))
}

func TestTakeProfitCalculator_RejectsSubOneMinRR(t *testing.T) {
	cfg := types.DefaultTakeProfitConfig()
	cfg.MinRiskRewardRatio = decimal.NewFromFloat(0.5)
	_, err := NewTakeProfitCalculator(cfg, zap.NewNop())
	require.Error(t, err)
}

func TestTakeProfitCalculator_RejectsPercentagesNotSummingTo100(t *testing.T) {
	cfg := types.DefaultTakeProfitConfig()
	cfg.PartialTPPercentages = []types.PartialTarget{{RRMultiple: decimal.NewFromInt(1), SharePct: decimal.NewFromInt(60)}}
	_, err := NewTakeProfitCalculator(cfg, zap.NewNop())
	require.Error(t, err)
}

func TestTakeProfitCalculator_SnapsToNearbyLiquidityLevel(t *testing.T) {
	cfg := types.DefaultTakeProfitConfig()
	calc, err := NewTakeProfitCalculator(cfg, zap.NewNop())
	require.NoError(t, err)

	level := &types.LiquidityLevel{
		Type: types.LiquidityBuySide, Price: decimal.NewFromInt(50760), State: types.LiquidityActive, Strength: 80,
	}
	partials := calc.CalculatePartials(decimal.NewFromInt(50000), decimal.NewFromInt(49500), types.PositionSideLong, []*types.LiquidityLevel{level})
	require.True(t, partials[0].Price.Equal(decimal.NewFromInt(50760)))
	require.NotNil(t, partials[0].LiquidityLevel)
}

func TestTakeProfitCalculator_TrailingStopFloorsAtEntryForLong(t *testing.T) {
	cfg := types.DefaultTakeProfitConfig()
	calc, err := NewTakeProfitCalculator(cfg, zap.NewNop())
	require.NoError(t, err)

	stop := calc.TrailingStop(decimal.NewFromInt(50000), decimal.NewFromInt(50200), decimal.Zero, types.PositionSideLong)
	require.True(t, stop.GreaterThanOrEqual(decimal.NewFromInt(50000)))
}
