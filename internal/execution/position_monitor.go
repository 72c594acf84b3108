package execution

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/atlas-desktop/structure-core/internal/events"
	"github.com/atlas-desktop/structure-core/internal/exchange"
	"github.com/atlas-desktop/structure-core/pkg/types"
)

// RecoveryAction describes what PositionMonitor did for one exchange symbol
// during a recovery pass.
type RecoveryAction string

const (
	RecoveryActionRecovered RecoveryAction = "recovered"
	RecoveryActionConflict  RecoveryAction = "conflict"
	RecoveryActionOrphaned  RecoveryAction = "orphaned"
)

// RecoveryDetail records one symbol's outcome in a RecoveryResult.
type RecoveryDetail struct {
	Action        RecoveryAction
	Symbol        string
	LocalSize     decimal.Decimal
	ExchangeSize  decimal.Decimal
	LocalEntry    decimal.Decimal
	ExchangeEntry decimal.Decimal
}

// RecoveryResult summarizes a recover_positions pass.
type RecoveryResult struct {
	Recovered int
	Conflicts int
	Details   []RecoveryDetail
}

// SyncResult summarizes a sync_positions pass.
type SyncResult struct {
	Updated   int
	Conflicts int
}

// MonitorStats tracks cumulative reconciliation activity for observability.
type MonitorStats struct {
	TotalRecoveries  int
	TotalSyncs       int
	TotalConflicts   int
	LastRecoveryTime time.Time
	LastSyncTime     time.Time
}

// PositionMonitor reconciles local position state against the exchange: on
// startup it recovers positions the local store has forgotten, and
// periodically it re-marks local positions to the exchange's view of price.
type PositionMonitor struct {
	positions *PositionManager
	exch      exchange.Exchange
	bus       *events.Bus
	logger    *zap.Logger
	cfg       types.PositionMonitorConfig

	running bool
	stats   MonitorStats
}

// NewPositionMonitor builds a monitor over positions, sourcing exchange
// truth from exch.
func NewPositionMonitor(positions *PositionManager, exch exchange.Exchange, bus *events.Bus, cfg types.PositionMonitorConfig, logger *zap.Logger) *PositionMonitor {
	return &PositionMonitor{positions: positions, exch: exch, bus: bus, cfg: cfg, logger: logger.Named("position_monitor")}
}

func pctDiff(local, remote decimal.Decimal) decimal.Decimal {
	if remote.IsZero() {
		return decimal.Zero
	}
	return local.Sub(remote).Abs().Div(remote).Mul(decimal.NewFromInt(100))
}

// RecoverPositions rebuilds missing local positions from the exchange's open
// positions and flags size/entry-price conflicts beyond the configured
// tolerances, plus any position the local store holds that the exchange no
// longer reports (orphaned).
func (m *PositionMonitor) RecoverPositions(ctx context.Context) (*RecoveryResult, error) {
	exPositions, err := m.exch.FetchPositions(ctx)
	if err != nil {
		return nil, err
	}

	local := make(map[string]*types.Position)
	for _, p := range m.positions.OpenPositions() {
		local[p.Symbol] = p
	}

	result := &RecoveryResult{}
	exchangeSymbols := make(map[string]bool, len(exPositions))

	for _, ex := range exPositions {
		exchangeSymbols[ex.Symbol] = true
		side := types.PositionSideLong
		if ex.Side == types.ExchangePositionShort {
			side = types.PositionSideShort
		}

		localPos, exists := local[ex.Symbol]
		if !exists {
			m.logger.Info("recovering missing position", zap.String("symbol", ex.Symbol))
			if _, err := m.positions.OpenPosition(ctx, ex.Symbol, "recovered", side, ex.Contracts, ex.EntryPrice, ex.Leverage, decimal.Zero, decimal.Zero); err != nil {
				m.logger.Error("failed to recover position", zap.String("symbol", ex.Symbol), zap.Error(err))
				continue
			}
			if _, err := m.positions.UpdatePosition(ctx, ex.Symbol, ex.MarkPrice, nil); err != nil {
				m.logger.Error("failed to mark recovered position", zap.String("symbol", ex.Symbol), zap.Error(err))
			}
			result.Recovered++
			result.Details = append(result.Details, RecoveryDetail{Action: RecoveryActionRecovered, Symbol: ex.Symbol, ExchangeSize: ex.Contracts, ExchangeEntry: ex.EntryPrice})
			continue
		}

		sizeConflict := pctDiff(localPos.Size, ex.Contracts).GreaterThan(decimal.NewFromFloat(m.cfg.SizeTolerancePct))
		entryConflict := pctDiff(localPos.EntryPrice, ex.EntryPrice).GreaterThan(decimal.NewFromFloat(m.cfg.EntryPriceTolerancePct))
		if sizeConflict || entryConflict {
			result.Conflicts++
			detail := RecoveryDetail{
				Action: RecoveryActionConflict, Symbol: ex.Symbol,
				LocalSize: localPos.Size, ExchangeSize: ex.Contracts,
				LocalEntry: localPos.EntryPrice, ExchangeEntry: ex.EntryPrice,
			}
			result.Details = append(result.Details, detail)
			m.publishConflict(detail)
		}
	}

	for symbol, localPos := range local {
		if exchangeSymbols[symbol] {
			continue
		}
		m.logger.Warn("position exists locally but not on exchange", zap.String("symbol", symbol))
		result.Conflicts++
		result.Details = append(result.Details, RecoveryDetail{
			Action: RecoveryActionOrphaned, Symbol: symbol,
			LocalSize: localPos.Size, LocalEntry: localPos.EntryPrice,
		})
	}

	m.stats.TotalRecoveries += result.Recovered
	m.stats.TotalConflicts += result.Conflicts
	m.stats.LastRecoveryTime = time.Now()
	m.publishRecovery(result)

	m.logger.Info("position recovery completed", zap.Int("recovered", result.Recovered), zap.Int("conflicts", result.Conflicts))
	return result, nil
}

// SyncPositions re-marks every locally open position to the exchange's
// current mark price.
func (m *PositionMonitor) SyncPositions(ctx context.Context) (*SyncResult, error) {
	exPositions, err := m.exch.FetchPositions(ctx)
	if err != nil {
		return nil, err
	}

	local := make(map[string]bool)
	for _, p := range m.positions.OpenPositions() {
		local[p.Symbol] = true
	}

	result := &SyncResult{}
	for _, ex := range exPositions {
		if !local[ex.Symbol] {
			continue
		}
		if _, err := m.positions.UpdatePosition(ctx, ex.Symbol, ex.MarkPrice, nil); err != nil {
			m.logger.Error("failed to sync position", zap.String("symbol", ex.Symbol), zap.Error(err))
			continue
		}
		result.Updated++
	}

	m.stats.TotalSyncs++
	m.stats.LastSyncTime = time.Now()
	return result, nil
}

// Run loops SyncPositions on the configured interval until ctx is cancelled.
func (m *PositionMonitor) Run(ctx context.Context) {
	m.running = true
	defer func() { m.running = false }()

	interval := time.Duration(m.cfg.SyncIntervalSeconds) * time.Second
	if interval <= 0 {
		interval = time.Minute
	}
	m.logger.Info("position monitoring started", zap.Duration("interval", interval))

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			m.logger.Info("position monitoring stopped")
			return
		case <-ticker.C:
			if _, err := m.SyncPositions(ctx); err != nil {
				m.logger.Error("position sync failed", zap.Error(err))
			}
		}
	}
}

// IsMonitoring reports whether Run is currently looping.
func (m *PositionMonitor) IsMonitoring() bool { return m.running }

// Stats returns a snapshot of cumulative reconciliation counters.
func (m *PositionMonitor) Stats() MonitorStats { return m.stats }

func (m *PositionMonitor) publishRecovery(result *RecoveryResult) {
	if m.bus == nil {
		return
	}
	m.bus.Publish(events.Event{Priority: 9, EventType: events.TypeSystemStart, Data: result, Source: "position_monitor"})
}

func (m *PositionMonitor) publishConflict(detail RecoveryDetail) {
	if m.bus == nil {
		return
	}
	m.bus.Publish(events.Event{Priority: 8, EventType: events.TypeErrorOccurred, Data: detail, Source: "position_monitor"})
}
