package candles

import (
	"context"
	"runtime"
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/atlas-desktop/structure-core/pkg/types"
)

// SymbolConfig tracks which timeframes are active for a symbol and when it
// was first registered.
type SymbolConfig struct {
	Symbol     string
	Timeframes map[types.Timeframe]bool
	AddedAt    time.Time
}

// MonitorSample is one periodic resource snapshot.
type MonitorSample struct {
	CPUPct            float64
	MemoryPct         float64
	MemoryMB          float64
	ProcessMemoryMB   float64
	CandleStorageMB   float64
	TotalCandles      int
	ActiveSymbols     int
	ActiveTimeframes  int
	Timestamp         time.Time
}

// DashboardState is the aggregate snapshot get_dashboard_state returns.
type DashboardState struct {
	Symbols        map[string]SymbolConfig
	StorageStats   Stats
	ProcessorStats ProcessorStats
	LatestSample   *MonitorSample
	UptimeSeconds  float64
}

var timeframeOrder = map[types.Timeframe]int{
	types.Timeframe1m:  1,
	types.Timeframe5m:  2,
	types.Timeframe15m: 3,
	types.Timeframe30m: 4,
	types.Timeframe1h:  5,
	types.Timeframe4h:  6,
	types.Timeframe1d:  7,
}

// Manager orchestrates a dynamic (symbol, timeframe) universe over a shared
// Store and Processor, with an optional periodic resource monitor.
type Manager struct {
	cfg    types.CandleDataManagerConfig
	store  *Store
	proc   *Processor
	logger *zap.Logger

	mu      sync.RWMutex
	symbols map[string]*SymbolConfig

	startedAt time.Time
	sampleMu  sync.Mutex
	lastSample *MonitorSample

	stop chan struct{}
	done chan struct{}
}

// NewManager builds a Manager over store/proc.
func NewManager(cfg types.CandleDataManagerConfig, store *Store, proc *Processor, logger *zap.Logger) *Manager {
	return &Manager{
		cfg:       cfg,
		store:     store,
		proc:      proc,
		logger:    logger.Named("candle_data_manager"),
		symbols:   make(map[string]*SymbolConfig),
		startedAt: time.Now(),
	}
}

// AddSymbol registers timeframes for symbol, case-insensitively upper-cased.
// replace=true replaces the existing timeframe set instead of merging.
func (m *Manager) AddSymbol(symbol string, tfs []types.Timeframe, replace bool) {
	symbol = strings.ToUpper(symbol)
	m.mu.Lock()
	defer m.mu.Unlock()
	cfg, exists := m.symbols[symbol]
	if !exists {
		cfg = &SymbolConfig{Symbol: symbol, Timeframes: make(map[types.Timeframe]bool), AddedAt: time.Now()}
		m.symbols[symbol] = cfg
	}
	if replace {
		cfg.Timeframes = make(map[types.Timeframe]bool)
	}
	for _, tf := range tfs {
		cfg.Timeframes[tf] = true
	}
}

// RemoveSymbol removes the given timeframes (or the whole symbol when tfs is
// empty). clearData also purges stored candles. Returns whether anything was
// removed.
func (m *Manager) RemoveSymbol(symbol string, tfs []types.Timeframe, clearData bool) bool {
	symbol = strings.ToUpper(symbol)
	m.mu.Lock()
	defer m.mu.Unlock()
	cfg, exists := m.symbols[symbol]
	if !exists {
		return false
	}
	removed := false
	if len(tfs) == 0 {
		delete(m.symbols, symbol)
		removed = true
		if clearData {
			m.store.Clear(symbol, "")
		}
		return removed
	}
	for _, tf := range tfs {
		if cfg.Timeframes[tf] {
			delete(cfg.Timeframes, tf)
			removed = true
			if clearData {
				m.store.Clear(symbol, tf)
			}
		}
	}
	if len(cfg.Timeframes) == 0 {
		delete(m.symbols, symbol)
	}
	return removed
}

// GetSymbols returns the sorted set of registered symbols.
func (m *Manager) GetSymbols() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]string, 0, len(m.symbols))
	for s := range m.symbols {
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}

// GetTimeframes returns symbol's active timeframes sorted by duration.
func (m *Manager) GetTimeframes(symbol string) []types.Timeframe {
	symbol = strings.ToUpper(symbol)
	m.mu.RLock()
	defer m.mu.RUnlock()
	cfg, ok := m.symbols[symbol]
	if !ok {
		return nil
	}
	out := make([]types.Timeframe, 0, len(cfg.Timeframes))
	for tf := range cfg.Timeframes {
		out = append(out, tf)
	}
	sort.Slice(out, func(i, j int) bool { return timeframeOrder[out[i]] < timeframeOrder[out[j]] })
	return out
}

// GetSymbolConfig returns a copy of symbol's configuration.
func (m *Manager) GetSymbolConfig(symbol string) (SymbolConfig, bool) {
	symbol = strings.ToUpper(symbol)
	m.mu.RLock()
	defer m.mu.RUnlock()
	cfg, ok := m.symbols[symbol]
	if !ok {
		return SymbolConfig{}, false
	}
	tfs := make(map[types.Timeframe]bool, len(cfg.Timeframes))
	for k, v := range cfg.Timeframes {
		tfs[k] = v
	}
	return SymbolConfig{Symbol: cfg.Symbol, Timeframes: tfs, AddedAt: cfg.AddedAt}, true
}

// GetCandles passes through to the underlying Store.
func (m *Manager) GetCandles(symbol string, tf types.Timeframe, limit int) []types.Candle {
	return m.store.GetCandles(symbol, tf, limit)
}

// GetLatestCandle passes through to the underlying Store.
func (m *Manager) GetLatestCandle(symbol string, tf types.Timeframe) (types.Candle, bool) {
	return m.store.GetLatest(symbol, tf)
}

// GetDashboardState aggregates symbol config, storage/processor stats, and
// the latest monitor sample.
func (m *Manager) GetDashboardState() DashboardState {
	m.mu.RLock()
	symbols := make(map[string]SymbolConfig, len(m.symbols))
	for k, v := range m.symbols {
		tfs := make(map[types.Timeframe]bool, len(v.Timeframes))
		for tf := range v.Timeframes {
			tfs[tf] = true
		}
		symbols[k] = SymbolConfig{Symbol: v.Symbol, Timeframes: tfs, AddedAt: v.AddedAt}
	}
	m.mu.RUnlock()

	m.sampleMu.Lock()
	sample := m.lastSample
	m.sampleMu.Unlock()

	return DashboardState{
		Symbols:        symbols,
		StorageStats:   m.store.GetStats(),
		ProcessorStats: m.proc.Stats(),
		LatestSample:   sample,
		UptimeSeconds:  time.Since(m.startedAt).Seconds(),
	}
}

// MemoryUsageSummary reports an estimated MB footprint per stored
// symbol|timeframe key.
func (m *Manager) MemoryUsageSummary() map[string]float64 {
	out := make(map[string]float64)
	for _, k := range m.store.Keys() {
		parts := strings.SplitN(k, "|", 2)
		if len(parts) != 2 {
			continue
		}
		count := m.store.GetCandleCount(parts[0], types.Timeframe(parts[1]))
		out[k] = float64(count*estimatedBytesPerCandle) / (1024 * 1024)
	}
	return out
}

// OptimizeMemory drops symbols with no active timeframes from tracking.
// With aggressive set it also sums an estimate of the bytes held by each
// remaining symbol's stored candles and returns that sum (0 otherwise). No
// candle data is cleared, so the returned figure is not memory freed.
func (m *Manager) OptimizeMemory(aggressive bool) int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	var freed int64
	for sym, cfg := range m.symbols {
		if len(cfg.Timeframes) == 0 {
			delete(m.symbols, sym)
			continue
		}
		if aggressive {
			for tf := range cfg.Timeframes {
				count := m.store.GetCandleCount(sym, tf)
				if count == 0 {
					continue
				}
				freed += int64(count * estimatedBytesPerCandle)
			}
		}
	}
	return freed
}

// StartMonitoring spawns the periodic resource-sampling loop. No-op if
// MonitoringIntervalSeconds <= 0.
func (m *Manager) StartMonitoring(ctx context.Context) {
	if m.cfg.MonitoringIntervalSeconds <= 0 || m.stop != nil {
		return
	}
	m.stop = make(chan struct{})
	m.done = make(chan struct{})
	go m.monitorLoop(ctx)
}

// StopMonitoring signals the monitor loop to exit. Idempotent.
func (m *Manager) StopMonitoring() {
	if m.stop == nil {
		return
	}
	close(m.stop)
	<-m.done
	m.stop = nil
}

func (m *Manager) monitorLoop(ctx context.Context) {
	defer close(m.done)
	interval := time.Duration(m.cfg.MonitoringIntervalSeconds) * time.Second
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-m.stop:
			return
		case <-ticker.C:
			m.sample()
		}
	}
}

func (m *Manager) sample() {
	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)
	processMB := float64(memStats.Alloc) / (1024 * 1024)

	stats := m.store.GetStats()
	m.mu.RLock()
	activeSymbols := len(m.symbols)
	activeTFs := 0
	for _, cfg := range m.symbols {
		activeTFs += len(cfg.Timeframes)
	}
	m.mu.RUnlock()

	s := &MonitorSample{
		MemoryMB:         processMB,
		ProcessMemoryMB:  processMB,
		CandleStorageMB:  stats.MemoryMB,
		TotalCandles:     stats.TotalCandles,
		ActiveSymbols:    activeSymbols,
		ActiveTimeframes: activeTFs,
		Timestamp:        time.Now(),
	}

	warnMem := m.cfg.MemoryWarnPct
	if warnMem <= 0 {
		warnMem = 80
	}
	if s.MemoryMB > 0 && processMB > warnMem*10 { // heuristic absolute ceiling, no OS quota available
		m.logger.Warn("process memory usage elevated", zap.Float64("memory_mb", processMB))
	}

	m.sampleMu.Lock()
	m.lastSample = s
	m.sampleMu.Unlock()
}
