// Package telemetry exposes Prometheus counters, histograms, and gauges for
// the order, position, and market-structure pipelines, plus the HTTP
// /metrics and /health endpoints that serve them.
package telemetry

import (
	"context"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// Metrics holds every Prometheus collector the core publishes.
type Metrics struct {
	OrdersSubmitted  *prometheus.CounterVec
	OrderLatency     *prometheus.HistogramVec
	OrderRetries     *prometheus.CounterVec

	PositionsOpen    *prometheus.GaugeVec
	PositionPnL      *prometheus.GaugeVec
	PositionsClosed  *prometheus.CounterVec

	StructureBreaks  *prometheus.CounterVec
	LiquiditySweeps  *prometheus.CounterVec
	CandlesProcessed *prometheus.CounterVec

	EventsPublished *prometheus.CounterVec
	EventQueueDepth prometheus.Gauge

	ExchangeConnected *prometheus.GaugeVec
	PermissionStatus  *prometheus.GaugeVec

	registry *prometheus.Registry
	server   *http.Server
	logger   *zap.Logger
}

// New builds and registers every collector against a dedicated registry,
// so repeated construction in tests never panics on duplicate registration.
func New(logger *zap.Logger) *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		OrdersSubmitted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "core_orders_submitted_total",
			Help: "Total number of orders submitted to the exchange.",
		}, []string{"symbol", "order_type", "side", "outcome"}),

		OrderLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "core_order_latency_seconds",
			Help:    "Exchange round-trip latency for order submission.",
			Buckets: []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
		}, []string{"symbol", "order_type", "side"}),

		OrderRetries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "core_order_retries_total",
			Help: "Total number of retry attempts made while submitting orders.",
		}, []string{"symbol", "reason"}),

		PositionsOpen: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "core_positions_open",
			Help: "Number of currently open positions per symbol (0 or 1).",
		}, []string{"symbol"}),

		PositionPnL: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "core_position_unrealized_pnl",
			Help: "Unrealized PnL of the open position for a symbol.",
		}, []string{"symbol"}),

		PositionsClosed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "core_positions_closed_total",
			Help: "Total number of positions closed, labeled by realized outcome.",
		}, []string{"symbol", "outcome"}),

		StructureBreaks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "core_structure_breaks_total",
			Help: "Total number of market structure breaks detected.",
		}, []string{"symbol", "timeframe", "direction"}),

		LiquiditySweeps: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "core_liquidity_sweeps_total",
			Help: "Total number of liquidity sweeps detected.",
		}, []string{"symbol", "timeframe", "direction"}),

		CandlesProcessed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "core_candles_processed_total",
			Help: "Total number of candles processed per symbol and timeframe.",
		}, []string{"symbol", "timeframe"}),

		EventsPublished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "core_events_published_total",
			Help: "Total number of events published on the internal event bus.",
		}, []string{"event_type"}),

		EventQueueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "core_event_queue_depth",
			Help: "Current depth of the internal event bus priority queue.",
		}),

		ExchangeConnected: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "core_exchange_connected",
			Help: "Exchange connectivity status (1=connected, 0=disconnected).",
		}, []string{"exchange"}),

		PermissionStatus: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "core_permission_granted",
			Help: "API key permission status (1=granted, 0=denied).",
		}, []string{"permission"}),

		registry: registry,
		logger:   logger.Named("telemetry"),
	}

	registry.MustRegister(
		m.OrdersSubmitted, m.OrderLatency, m.OrderRetries,
		m.PositionsOpen, m.PositionPnL, m.PositionsClosed,
		m.StructureBreaks, m.LiquiditySweeps, m.CandlesProcessed,
		m.EventsPublished, m.EventQueueDepth,
		m.ExchangeConnected, m.PermissionStatus,
	)

	return m
}

// Serve starts the /metrics and /health HTTP server on addr (e.g. ":9090").
func (m *Metrics) Serve(addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{}))
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	m.server = &http.Server{Addr: addr, Handler: mux}
	m.logger.Info("telemetry server starting", zap.String("addr", addr))

	go func() {
		if err := m.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			m.logger.Error("telemetry server error", zap.Error(err))
		}
	}()
	return nil
}

// Shutdown gracefully stops the HTTP server, if running.
func (m *Metrics) Shutdown(ctx context.Context) error {
	if m.server == nil {
		return nil
	}
	shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return m.server.Shutdown(shutdownCtx)
}

// RecordOrderSubmitted increments the order-submission counter and observes
// latency.
func (m *Metrics) RecordOrderSubmitted(symbol, orderType, side, outcome string, latency time.Duration) {
	m.OrdersSubmitted.WithLabelValues(symbol, orderType, side, outcome).Inc()
	m.OrderLatency.WithLabelValues(symbol, orderType, side).Observe(latency.Seconds())
}

// RecordRetry increments the retry counter for a given failure reason.
func (m *Metrics) RecordRetry(symbol, reason string) {
	m.OrderRetries.WithLabelValues(symbol, reason).Inc()
}

// SetPositionOpen marks whether symbol currently has an open position.
func (m *Metrics) SetPositionOpen(symbol string, open bool) {
	v := 0.0
	if open {
		v = 1.0
	}
	m.PositionsOpen.WithLabelValues(symbol).Set(v)
}

// SetPositionPnL records the unrealized PnL for symbol's open position.
func (m *Metrics) SetPositionPnL(symbol string, pnl float64) {
	m.PositionPnL.WithLabelValues(symbol).Set(pnl)
}

// RecordPositionClosed increments the closed-position counter, labeled win
// or loss.
func (m *Metrics) RecordPositionClosed(symbol string, profitable bool) {
	outcome := "loss"
	if profitable {
		outcome = "win"
	}
	m.PositionsClosed.WithLabelValues(symbol, outcome).Inc()
}

// RecordStructureBreak increments the structure-break counter.
func (m *Metrics) RecordStructureBreak(symbol, timeframe, direction string) {
	m.StructureBreaks.WithLabelValues(symbol, timeframe, direction).Inc()
}

// RecordLiquiditySweep increments the liquidity-sweep counter.
func (m *Metrics) RecordLiquiditySweep(symbol, timeframe, direction string) {
	m.LiquiditySweeps.WithLabelValues(symbol, timeframe, direction).Inc()
}

// RecordCandleProcessed increments the candle-processed counter.
func (m *Metrics) RecordCandleProcessed(symbol, timeframe string) {
	m.CandlesProcessed.WithLabelValues(symbol, timeframe).Inc()
}

// RecordEventPublished increments the per-type event counter and updates
// queue depth.
func (m *Metrics) RecordEventPublished(eventType string, queueDepth int) {
	m.EventsPublished.WithLabelValues(eventType).Inc()
	m.EventQueueDepth.Set(float64(queueDepth))
}

// SetExchangeConnected records exchange connectivity.
func (m *Metrics) SetExchangeConnected(exchange string, connected bool) {
	v := 0.0
	if connected {
		v = 1.0
	}
	m.ExchangeConnected.WithLabelValues(exchange).Set(v)
}

// SetPermissionStatus records whether a given capability (read/trade) is
// currently granted.
func (m *Metrics) SetPermissionStatus(permission string, granted bool) {
	v := 0.0
	if granted {
		v = 1.0
	}
	m.PermissionStatus.WithLabelValues(permission).Set(v)
}
