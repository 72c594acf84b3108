package telemetry

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestMetrics_RecordOrderSubmittedUpdatesCounterAndHistogram(t *testing.T) {
	m := New(zap.NewNop())

	m.RecordOrderSubmitted("BTC/USDT", "MARKET", "BUY", "filled", 50*time.Millisecond)

	require.Equal(t, float64(1), testutil.ToFloat64(m.OrdersSubmitted.WithLabelValues("BTC/USDT", "MARKET", "BUY", "filled")))
}

func TestMetrics_SetPositionOpenAndPnL(t *testing.T) {
	m := New(zap.NewNop())

	m.SetPositionOpen("BTC/USDT", true)
	m.SetPositionPnL("BTC/USDT", 125.50)

	require.Equal(t, float64(1), testutil.ToFloat64(m.PositionsOpen.WithLabelValues("BTC/USDT")))
	require.Equal(t, 125.50, testutil.ToFloat64(m.PositionPnL.WithLabelValues("BTC/USDT")))

	m.SetPositionOpen("BTC/USDT", false)
	require.Equal(t, float64(0), testutil.ToFloat64(m.PositionsOpen.WithLabelValues("BTC/USDT")))
}

func TestMetrics_RecordPositionClosedLabelsOutcome(t *testing.T) {
	m := New(zap.NewNop())

	m.RecordPositionClosed("ETH/USDT", true)
	m.RecordPositionClosed("ETH/USDT", false)

	require.Equal(t, float64(1), testutil.ToFloat64(m.PositionsClosed.WithLabelValues("ETH/USDT", "win")))
	require.Equal(t, float64(1), testutil.ToFloat64(m.PositionsClosed.WithLabelValues("ETH/USDT", "loss")))
}

func TestMetrics_NewRegistersIndependentRegistryPerInstance(t *testing.T) {
	require.NotPanics(t, func() {
		New(zap.NewNop())
		New(zap.NewNop())
	})
}
