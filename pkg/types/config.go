package types

import "github.com/shopspring/decimal"

// EventBusConfig bounds the admission queue and worker fan-out of the bus.
type EventBusConfig struct {
	MaxQueueSize   int `mapstructure:"max_queue_size"`
	DispatchWorkers int `mapstructure:"dispatch_workers"`
}

// DefaultEventBusConfig mirrors the design's admission/backpressure defaults.
func DefaultEventBusConfig() EventBusConfig {
	return EventBusConfig{MaxQueueSize: 10000, DispatchWorkers: 8}
}

// CandleStoreConfig bounds the per-(symbol,timeframe) ring buffer.
type CandleStoreConfig struct {
	MaxCandles int `mapstructure:"max_candles"`
}

// DefaultCandleStoreConfig returns a conservative ring size.
func DefaultCandleStoreConfig() CandleStoreConfig {
	return CandleStoreConfig{MaxCandles: 1000}
}

// RealtimeProcessorConfig tunes candle-tick validation.
type RealtimeProcessorConfig struct {
	OutlierThresholdPct float64 `mapstructure:"outlier_threshold_pct"`
}

// DefaultRealtimeProcessorConfig matches the spec's documented default.
func DefaultRealtimeProcessorConfig() RealtimeProcessorConfig {
	return RealtimeProcessorConfig{OutlierThresholdPct: 10.0}
}

// CandleDataManagerConfig tunes the multi-symbol monitor loop.
type CandleDataManagerConfig struct {
	MonitoringIntervalSeconds int     `mapstructure:"monitoring_interval_seconds"`
	CPUWarnPct                float64 `mapstructure:"cpu_warn_pct"`
	MemoryWarnPct             float64 `mapstructure:"memory_warn_pct"`
}

// DefaultCandleDataManagerConfig matches the spec's documented 80% thresholds.
func DefaultCandleDataManagerConfig() CandleDataManagerConfig {
	return CandleDataManagerConfig{MonitoringIntervalSeconds: 30, CPUWarnPct: 80, MemoryWarnPct: 80}
}

// SwingDetectorConfig tunes fractal swing detection.
type SwingDetectorConfig struct {
	Lookback int `mapstructure:"lookback"`
}

// DefaultSwingDetectorConfig matches the spec's documented default N=3.
func DefaultSwingDetectorConfig() SwingDetectorConfig {
	return SwingDetectorConfig{Lookback: 3}
}

// LiquidityZoneConfig tunes clustering and strength scoring.
type LiquidityZoneConfig struct {
	ProximityTolerancePips float64         `mapstructure:"proximity_tolerance_pips"`
	PipSize                decimal.Decimal `mapstructure:"-"`
}

// DefaultLiquidityZoneConfig returns a 2-pip clustering tolerance.
func DefaultLiquidityZoneConfig() LiquidityZoneConfig {
	return LiquidityZoneConfig{ProximityTolerancePips: 2.0, PipSize: decimal.NewFromFloat(0.0001)}
}

// LiquiditySweepConfig tunes the breach/close/reversal state machine.
type LiquiditySweepConfig struct {
	MinBreachPips            float64
	MaxBreachPips            float64
	ReversalConfirmationPips float64
	MaxCandlesForReversal    int
	MinReversalStrength      float64
	PipSize                  decimal.Decimal
}

// DefaultLiquiditySweepConfig mirrors the original_source reference defaults.
func DefaultLiquiditySweepConfig() LiquiditySweepConfig {
	return LiquiditySweepConfig{
		MinBreachPips:            1.0,
		MaxBreachPips:            20.0,
		ReversalConfirmationPips: 3.0,
		MaxCandlesForReversal:    5,
		MinReversalStrength:      40.0,
		PipSize:                  decimal.NewFromFloat(0.0001),
	}
}

// TrendRecognitionConfig tunes ATR filtering and classification thresholds.
type TrendRecognitionConfig struct {
	Lookback                    int
	ATRPeriod                   int
	MinPriceChangeATRMult       float64
	TransitionThreshold         float64
	RecentWindow                int
	MinPatternsForConfirmation  int
}

// DefaultTrendRecognitionConfig mirrors the spec's documented recent-window of 5.
func DefaultTrendRecognitionConfig() TrendRecognitionConfig {
	return TrendRecognitionConfig{
		Lookback:                   3,
		ATRPeriod:                  14,
		MinPriceChangeATRMult:      0.5,
		TransitionThreshold:        15.0,
		RecentWindow:               5,
		MinPatternsForConfirmation: 2,
	}
}

// MarketStructureBreakConfig tunes BMS confirmation and confidence scoring.
type MarketStructureBreakConfig struct {
	MinBreakDistancePips    float64
	MaxBreakDistancePips    float64
	ConfirmationCandles     int
	MinFollowThroughPips    float64
	VolumeThresholdMultiple float64
	MinStructureSignificance float64
	MinConfidenceForConfirmed float64
	PipSize                 decimal.Decimal
}

// DefaultMarketStructureBreakConfig adopts the thresholds confirmed against
// the original reference implementation.
func DefaultMarketStructureBreakConfig() MarketStructureBreakConfig {
	return MarketStructureBreakConfig{
		MinBreakDistancePips:      1.0,
		MaxBreakDistancePips:      30.0,
		ConfirmationCandles:       3,
		MinFollowThroughPips:      10.0,
		VolumeThresholdMultiple:   1.2,
		MinStructureSignificance:  30.0,
		MinConfidenceForConfirmed: 60.0,
		PipSize:                   decimal.NewFromFloat(0.0001),
	}
}

// MarketStateTrackerConfig tunes composite state classification.
type MarketStateTrackerConfig struct {
	MinTrendStrength        float64
	MinBMSForConfirmation   int
	StateChangeThreshold    float64
	MinConfidenceForState   float64
	BMSWindow               int
}

// DefaultMarketStateTrackerConfig returns the spec's documented defaults.
func DefaultMarketStateTrackerConfig() MarketStateTrackerConfig {
	return MarketStateTrackerConfig{
		MinTrendStrength:      40.0,
		MinBMSForConfirmation: 1,
		StateChangeThreshold:  10.0,
		MinConfidenceForState: 30.0,
		BMSWindow:             10,
	}
}

// RetryStrategy is the delay-schedule family used by RetryManager.
type RetryStrategy string

const (
	RetryFixed       RetryStrategy = "FIXED"
	RetryLinear      RetryStrategy = "LINEAR"
	RetryExponential RetryStrategy = "EXPONENTIAL"
	RetryCustom      RetryStrategy = "CUSTOM"
)

// OrderExecutorConfig tunes validated submission and retry classification.
type OrderExecutorConfig struct {
	MaxRetries         int
	RetryBaseDelayMs   int64
	RetryMaxDelayMs    int64
	CustomDelaysMs     []int64
	PaperTrading       bool
}

// DefaultOrderExecutorConfig defaults to paper trading and the spec's custom
// delay schedule of [1s, 2s, 5s].
func DefaultOrderExecutorConfig() OrderExecutorConfig {
	return OrderExecutorConfig{
		MaxRetries:       3,
		RetryBaseDelayMs: 1000,
		RetryMaxDelayMs:  5000,
		CustomDelaysMs:   []int64{1000, 2000, 5000},
		PaperTrading:     true,
	}
}

// OrderTrackerConfig bounds the closed-order history.
type OrderTrackerConfig struct {
	MaxHistorySize int
}

// DefaultOrderTrackerConfig returns a 10k-entry bounded history.
func DefaultOrderTrackerConfig() OrderTrackerConfig {
	return OrderTrackerConfig{MaxHistorySize: 10000}
}

// PositionMonitorConfig tunes periodic exchange reconciliation.
type PositionMonitorConfig struct {
	SyncIntervalSeconds   int
	SizeTolerancePct      float64
	EntryPriceTolerancePct float64
}

// DefaultPositionMonitorConfig matches the spec's documented 1% tolerances.
func DefaultPositionMonitorConfig() PositionMonitorConfig {
	return PositionMonitorConfig{SyncIntervalSeconds: 60, SizeTolerancePct: 1.0, EntryPriceTolerancePct: 1.0}
}

// TakeProfitStrategy selects how TakeProfitCalculator derives target prices.
type TakeProfitStrategy string

const (
	TPStrategyAuto           TakeProfitStrategy = "AUTO"
	TPStrategyLiquiditySweep TakeProfitStrategy = "LIQUIDITY_SWEEP"
	TPStrategyFixedRR        TakeProfitStrategy = "FIXED_RR"
	TPStrategyScaled         TakeProfitStrategy = "SCALED"
)

// PartialTarget is one (rr_multiple, share_pct) pair of a partial-TP ladder.
type PartialTarget struct {
	RRMultiple decimal.Decimal
	SharePct   decimal.Decimal
}

// TakeProfitConfig tunes partial-TP and trailing-stop math.
type TakeProfitConfig struct {
	MinRiskRewardRatio    decimal.Decimal
	PartialTPPercentages  []PartialTarget
	LiquiditySnapPct      decimal.Decimal
	MinDistancePct        decimal.Decimal
	MaxDistancePct        decimal.Decimal
	TrailingPct           decimal.Decimal
	PricePrecision        int32
}

// DefaultTakeProfitConfig returns the scenario-5 default: two equal-share
// partials at RR 1.5 and 2.5.
func DefaultTakeProfitConfig() TakeProfitConfig {
	return TakeProfitConfig{
		MinRiskRewardRatio: decimal.NewFromFloat(1.0),
		PartialTPPercentages: []PartialTarget{
			{RRMultiple: decimal.NewFromFloat(1.5), SharePct: decimal.NewFromInt(50)},
			{RRMultiple: decimal.NewFromFloat(2.5), SharePct: decimal.NewFromInt(50)},
		},
		LiquiditySnapPct: decimal.NewFromFloat(1.0),
		MinDistancePct:   decimal.NewFromFloat(0.1),
		MaxDistancePct:   decimal.NewFromFloat(10.0),
		TrailingPct:      decimal.NewFromFloat(1.0),
		PricePrecision:   2,
	}
}

// PermissionVerifierConfig tunes the cached capability-check cadence.
type PermissionVerifierConfig struct {
	CacheTTLSeconds         int64
	RevalidationIntervalSeconds int64
	MaxConsecutiveErrors    int
}

// DefaultPermissionVerifierConfig returns the spec's documented 1h/3-error
// defaults.
func DefaultPermissionVerifierConfig() PermissionVerifierConfig {
	return PermissionVerifierConfig{CacheTTLSeconds: 3600, RevalidationIntervalSeconds: 3600, MaxConsecutiveErrors: 3}
}
