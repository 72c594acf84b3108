// Package utils provides small helpers shared across the structure core:
// ID generation, symbol normalization, and decimal rounding/clamping used by
// the indicator and execution packages.
package utils

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// GenerateID generates a unique ID with an optional prefix.
func GenerateID(prefix string) string {
	bytes := make([]byte, 16)
	rand.Read(bytes)
	id := hex.EncodeToString(bytes)
	if prefix != "" {
		return fmt.Sprintf("%s_%s", prefix, id)
	}
	return id
}

// GenerateOrderID generates a unique order ID.
func GenerateOrderID() string { return GenerateID("ord") }

// GeneratePositionID generates a unique position ID.
func GeneratePositionID() string { return GenerateID("pos") }

// GenerateEventID generates a unique event ID.
func GenerateEventID() string { return GenerateID("evt") }

// GenerateLevelID generates a unique liquidity level ID.
func GenerateLevelID() string { return GenerateID("liq") }

// GenerateBMSID generates a unique break-of-structure ID.
func GenerateBMSID() string { return GenerateID("bms") }

// FormatSymbol normalizes a trading symbol: trims, upper-cases and
// normalizes separators to BASE/QUOTE form.
func FormatSymbol(symbol string) string {
	symbol = strings.TrimSpace(symbol)
	symbol = strings.ToUpper(symbol)
	symbol = strings.ReplaceAll(symbol, "-", "/")
	symbol = strings.ReplaceAll(symbol, "_", "/")

	if !strings.Contains(symbol, "/") {
		quotes := []string{"USDT", "USDC", "USD", "BTC", "ETH", "BNB"}
		for _, quote := range quotes {
			if strings.HasSuffix(symbol, quote) && len(symbol) > len(quote) {
				base := strings.TrimSuffix(symbol, quote)
				return base + "/" + quote
			}
		}
	}
	return symbol
}

// ParseSymbol extracts base and quote from a normalized symbol.
func ParseSymbol(symbol string) (base, quote string) {
	parts := strings.Split(symbol, "/")
	if len(parts) == 2 {
		return parts[0], parts[1]
	}
	return symbol, ""
}

// RoundToDecimalPlaces rounds a decimal to the given number of places.
func RoundToDecimalPlaces(d decimal.Decimal, places int32) decimal.Decimal {
	return d.Round(places)
}

// RoundToTickSize floors a price to the nearest tick size.
func RoundToTickSize(price, tickSize decimal.Decimal) decimal.Decimal {
	if tickSize.IsZero() {
		return price
	}
	return price.Div(tickSize).Floor().Mul(tickSize)
}

// MinDecimal returns the minimum of two decimals.
func MinDecimal(a, b decimal.Decimal) decimal.Decimal {
	if a.LessThan(b) {
		return a
	}
	return b
}

// MaxDecimal returns the maximum of two decimals.
func MaxDecimal(a, b decimal.Decimal) decimal.Decimal {
	if a.GreaterThan(b) {
		return a
	}
	return b
}

// ClampDecimal clamps value to [min, max].
func ClampDecimal(value, min, max decimal.Decimal) decimal.Decimal {
	if value.LessThan(min) {
		return min
	}
	if value.GreaterThan(max) {
		return max
	}
	return value
}

// PipsBetween returns the distance between two prices expressed in pips.
func PipsBetween(a, b, pipSize decimal.Decimal) float64 {
	if pipSize.IsZero() {
		return 0
	}
	return a.Sub(b).Abs().Div(pipSize).InexactFloat64()
}

// EMA computes an exponential moving average incrementally.
type EMA struct {
	multiplier decimal.Decimal
	current    decimal.Decimal
	count      int
}

// NewEMA creates an EMA calculator over the given period.
func NewEMA(period int) *EMA {
	mult := decimal.NewFromFloat(2.0 / float64(period+1))
	return &EMA{multiplier: mult}
}

// Add folds in a new value and returns the updated average.
func (e *EMA) Add(value decimal.Decimal) decimal.Decimal {
	e.count++
	if e.count == 1 {
		e.current = value
		return e.current
	}
	e.current = value.Sub(e.current).Mul(e.multiplier).Add(e.current)
	return e.current
}

// Current returns the last computed average.
func (e *EMA) Current() decimal.Decimal { return e.current }
