// Package structure implements the market-structure indicator stack: swing
// detection, liquidity zones and sweeps, trend recognition, structure-break
// confirmation, and composite/multi-timeframe state tracking.
package structure

import "github.com/atlas-desktop/structure-core/pkg/types"

// DetectSwings finds fractal swing highs/lows over candles using a lookback
// of N candles on each side. A swing high at i requires candles[i].High to
// be strictly greater than every high in [i-N,i-1] and [i+1,i+N]; swing low
// is the symmetric condition on lows. At least 2N+1 candles are required.
func DetectSwings(candles []types.Candle, lookback int) []types.SwingPoint {
	n := lookback
	if n <= 0 {
		n = 3
	}
	if len(candles) < 2*n+1 {
		return nil
	}

	var swings []types.SwingPoint
	for i := n; i < len(candles)-n; i++ {
		if isSwingHigh(candles, i, n) {
			swings = append(swings, types.SwingPoint{
				Price:       candles[i].High,
				TimestampMs: candles[i].TimestampMs,
				CandleIndex: i,
				IsHigh:      true,
				Strength:    n,
				Volume:      candles[i].Volume,
			})
		}
		if isSwingLow(candles, i, n) {
			swings = append(swings, types.SwingPoint{
				Price:       candles[i].Low,
				TimestampMs: candles[i].TimestampMs,
				CandleIndex: i,
				IsHigh:      false,
				Strength:    n,
				Volume:      candles[i].Volume,
			})
		}
	}
	return swings
}

func isSwingHigh(candles []types.Candle, i, n int) bool {
	high := candles[i].High
	for j := i - n; j <= i+n; j++ {
		if j == i {
			continue
		}
		if candles[j].High.GreaterThanOrEqual(high) {
			return false
		}
	}
	return true
}

func isSwingLow(candles []types.Candle, i, n int) bool {
	low := candles[i].Low
	for j := i - n; j <= i+n; j++ {
		if j == i {
			continue
		}
		if candles[j].Low.LessThanOrEqual(low) {
			return false
		}
	}
	return true
}
