// Package main is the entry point for the market-structure and
// order-lifecycle core: it loads configuration, wires the candle, structure,
// execution, and telemetry stacks together, and runs until signalled to
// shut down.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/atlas-desktop/structure-core/internal/cache"
	"github.com/atlas-desktop/structure-core/internal/candles"
	"github.com/atlas-desktop/structure-core/internal/config"
	"github.com/atlas-desktop/structure-core/internal/events"
	"github.com/atlas-desktop/structure-core/internal/exchange"
	"github.com/atlas-desktop/structure-core/internal/execution"
	"github.com/atlas-desktop/structure-core/internal/storage"
	"github.com/atlas-desktop/structure-core/internal/structure"
	"github.com/atlas-desktop/structure-core/internal/telemetry"
	"github.com/atlas-desktop/structure-core/pkg/types"
	"github.com/redis/go-redis/v9"
)

var configPath string

func main() {
	root := &cobra.Command{
		Use:   "core",
		Short: "Market-structure and order-lifecycle core",
		RunE:  run,
	}
	root.PersistentFlags().StringVar(&configPath, "config", "", "path to a YAML/TOML config file (optional; defaults + env vars otherwise)")

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	logger := setupLogger(cfg.Log)
	defer logger.Sync()

	logger.Info("starting core",
		zap.Strings("symbols", cfg.Symbols),
		zap.String("exchange", cfg.Exchange.Name),
		zap.String("storage_driver", cfg.Storage.Driver),
		zap.String("cache_driver", cfg.Cache.Driver),
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	store, err := buildStore(ctx, cfg.Storage)
	if err != nil {
		return fmt.Errorf("building store: %w", err)
	}

	ttlCache, err := buildCache(cfg.Cache)
	if err != nil {
		return fmt.Errorf("building cache: %w", err)
	}

	bus := events.New(logger, 10_000)
	bus.Start()

	metrics := telemetry.New(logger)
	if cfg.Telemetry.Enabled {
		if err := metrics.Serve(cfg.Telemetry.Addr); err != nil {
			return fmt.Errorf("starting telemetry server: %w", err)
		}
	}

	paper := exchange.NewPaperExchange(logger, cfg.Exchange.QuoteAsset, decimal.NewFromInt(10_000))
	for _, symbol := range cfg.Symbols {
		paper.SetMarkPrice(symbol, decimal.NewFromInt(100))
	}
	exch := exchange.NewCircuitBreakerExchange(paper, cfg.Exchange.Name, exchange.DefaultBreakerConfig(), logger)

	candleStore := candles.NewStore(cfg.CandleStore.MaxCandles)
	processor := candles.NewProcessor(cfg.RealtimeProcessor, candleStore, bus, logger)
	manager := candles.NewManager(cfg.CandleManager, candleStore, processor, logger)
	for _, symbol := range cfg.Symbols {
		manager.AddSymbol(symbol, []types.Timeframe{types.Timeframe1m, types.Timeframe15m, types.Timeframe1h}, false)
	}
	manager.StartMonitoring(ctx)

	pipeline := structure.NewPipeline(structure.PipelineConfig{
		Swing: cfg.SwingDetector,
		Zone:  cfg.LiquidityZone,
		Sweep: cfg.LiquiditySweep,
		Trend: cfg.TrendRecognition,
		Break: cfg.StructureBreak,
		State: cfg.MarketState,
	}, candleStore, bus, logger)
	bus.Subscribe(events.TypeCandleClosed, pipeline)

	positions := execution.NewPositionManager(store, bus, logger)
	orderExecutor := execution.NewOrderExecutor(exch, bus, cfg.OrderExecutor, logger)
	orderTracker := execution.NewOrderTracker(bus, cfg.OrderTracker, logger)
	positionMonitor := execution.NewPositionMonitor(positions, exch, bus, cfg.PositionMonitor, logger)
	emergency := execution.NewEmergencyManager(positions, orderExecutor, bus, logger)
	takeProfit, err := execution.NewTakeProfitCalculator(cfg.TakeProfit, logger)
	if err != nil {
		return fmt.Errorf("building take-profit calculator: %w", err)
	}
	permissionVerifier := execution.NewPermissionVerifier(exch, bus, cfg.PermissionVerifier, ttlCache, logger)

	bus.Subscribe(events.TypePositionOpened, &takeProfitLogger{calc: takeProfit, logger: logger})

	logger.Info("execution stack wired",
		zap.Int("open_positions", len(positions.OpenPositions())),
		zap.Int("tracked_orders", orderTracker.Stats().TotalTracked),
		zap.Bool("emergency_paused", emergency.IsPaused()),
	)

	go func() {
		if err := permissionVerifier.Run(ctx); err != nil && ctx.Err() == nil {
			logger.Error("permission verifier stopped", zap.Error(err))
		}
	}()
	go positionMonitor.Run(ctx)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	logger.Info("core running", zap.Bool("telemetry_enabled", cfg.Telemetry.Enabled), zap.String("telemetry_addr", cfg.Telemetry.Addr))

	<-sigCh
	logger.Info("shutdown signal received")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	manager.StopMonitoring()
	bus.Stop()
	if cfg.Telemetry.Enabled {
		if err := metrics.Shutdown(shutdownCtx); err != nil {
			logger.Warn("telemetry shutdown", zap.Error(err))
		}
	}
	if err := store.Close(); err != nil {
		logger.Warn("store close", zap.Error(err))
	}

	logger.Info("core stopped")
	return nil
}

// takeProfitLogger derives and logs a take-profit ladder for every newly
// opened position, using FIXED_RR since no liquidity levels travel on the
// PositionOpened event itself.
type takeProfitLogger struct {
	calc   *execution.TakeProfitCalculator
	logger *zap.Logger
}

func (h *takeProfitLogger) CanHandle(t events.Type) bool { return t == events.TypePositionOpened }

func (h *takeProfitLogger) Handle(e events.Event) error {
	pos, ok := e.Data.(*types.Position)
	if !ok || pos.StopLoss.IsZero() {
		return nil
	}
	plan, err := h.calc.Calculate(pos.EntryPrice, pos.StopLoss, pos.Side, nil, types.TPStrategyFixedRR)
	if err != nil {
		return err
	}
	h.logger.Info("take-profit plan computed",
		zap.String("symbol", pos.Symbol),
		zap.Stringer("final_target", plan.FinalTarget),
		zap.Stringer("actual_rr", plan.ActualRR),
	)
	return nil
}

func (h *takeProfitLogger) OnError(e events.Event, err error) {
	h.logger.Error("take-profit handler error", zap.Error(err))
}

func buildStore(ctx context.Context, cfg config.StorageConfig) (storage.PersistentStore, error) {
	switch cfg.Driver {
	case "postgres":
		return storage.NewPostgresStore(ctx, cfg.DSN)
	default:
		return storage.NewInMemoryStore(), nil
	}
}

func buildCache(cfg config.CacheConfig) (cache.TTLCache, error) {
	switch cfg.Driver {
	case "redis":
		client := redis.NewClient(&redis.Options{Addr: cfg.Address, Password: cfg.Password, DB: cfg.DB})
		return cache.NewRedisCache(client, "structure-core"), nil
	default:
		return cache.NewInMemoryCache(), nil
	}
}

func setupLogger(cfg config.LogConfig) *zap.Logger {
	var level zapcore.Level
	switch cfg.Level {
	case "debug":
		level = zapcore.DebugLevel
	case "warn":
		level = zapcore.WarnLevel
	case "error":
		level = zapcore.ErrorLevel
	default:
		level = zapcore.InfoLevel
	}

	zcfg := zap.Config{
		Level:       zap.NewAtomicLevelAt(level),
		Development: cfg.Development,
		Encoding:    "console",
		EncoderConfig: zapcore.EncoderConfig{
			TimeKey:        "time",
			LevelKey:       "level",
			NameKey:        "logger",
			CallerKey:      "caller",
			MessageKey:     "msg",
			StacktraceKey:  "stacktrace",
			LineEnding:     zapcore.DefaultLineEnding,
			EncodeLevel:    zapcore.CapitalColorLevelEncoder,
			EncodeTime:     zapcore.ISO8601TimeEncoder,
			EncodeDuration: zapcore.SecondsDurationEncoder,
			EncodeCaller:   zapcore.ShortCallerEncoder,
		},
		OutputPaths:      []string{"stdout"},
		ErrorOutputPaths: []string{"stderr"},
	}

	logger, err := zcfg.Build()
	if err != nil {
		panic(err)
	}
	return logger
}
