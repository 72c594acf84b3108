// Package candles implements the market-data pipeline: a bounded
// per-(symbol,timeframe) candle store, realtime completion detection with
// duplicate/outlier filtering, and multi-symbol orchestration with periodic
// resource monitoring.
package candles

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/atlas-desktop/structure-core/pkg/types"
)

const estimatedBytesPerCandle = 200

func key(symbol string, tf types.Timeframe) string {
	return strings.ToUpper(symbol) + "|" + string(tf)
}

// Stats is the aggregate accounting the store exposes.
type Stats struct {
	TotalCandles int
	StorageCount int // number of distinct (symbol, timeframe) keys
	MemoryMB     float64
}

// Store is a bounded, per-(symbol,timeframe) ordered ring of candles with
// O(1) latest access. Candles are strictly increasing in timestamp; the
// oldest is evicted once a key's ring reaches MaxCandles.
type Store struct {
	mu         sync.RWMutex
	maxCandles int
	data       map[string][]types.Candle
}

// NewStore creates a Store bounded by maxCandles per key.
func NewStore(maxCandles int) *Store {
	if maxCandles <= 0 {
		maxCandles = 1000
	}
	return &Store{maxCandles: maxCandles, data: make(map[string][]types.Candle)}
}

// AddCandle appends c iff its timestamp is strictly greater than the
// latest stored candle's timestamp for its key, and it isn't a duplicate of
// the latest candle (same normalized timestamp and close). Returns false
// when the candle was rejected.
func (s *Store) AddCandle(c types.Candle) (bool, error) {
	if err := c.Validate(); err != nil {
		return false, err
	}
	k := key(c.Symbol, c.Timeframe)

	s.mu.Lock()
	defer s.mu.Unlock()

	series := s.data[k]
	if len(series) > 0 {
		last := series[len(series)-1]
		if c.TimestampMs == last.TimestampMs && c.Close.Equal(last.Close) {
			return false, nil // duplicate
		}
		if c.TimestampMs <= last.TimestampMs {
			return false, fmt.Errorf("candle store: out-of-order candle for %s: incoming %d <= last %d", k, c.TimestampMs, last.TimestampMs)
		}
	}

	series = append(series, c)
	if len(series) > s.maxCandles {
		series = series[len(series)-s.maxCandles:]
	}
	s.data[k] = series
	return true, nil
}

// GetCandles returns a chronological slice of up to limit most-recent
// candles (0 or negative means all available) for (symbol, tf).
func (s *Store) GetCandles(symbol string, tf types.Timeframe, limit int) []types.Candle {
	s.mu.RLock()
	defer s.mu.RUnlock()
	series := s.data[key(symbol, tf)]
	if limit <= 0 || limit >= len(series) {
		out := make([]types.Candle, len(series))
		copy(out, series)
		return out
	}
	out := make([]types.Candle, limit)
	copy(out, series[len(series)-limit:])
	return out
}

// GetLatest returns the most recent candle for (symbol, tf), if any.
func (s *Store) GetLatest(symbol string, tf types.Timeframe) (types.Candle, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	series := s.data[key(symbol, tf)]
	if len(series) == 0 {
		return types.Candle{}, false
	}
	return series[len(series)-1], true
}

// GetCandleCount returns the number of stored candles for (symbol, tf).
func (s *Store) GetCandleCount(symbol string, tf types.Timeframe) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.data[key(symbol, tf)])
}

// Clear removes candles. An empty symbol clears all symbols; an empty tf
// clears all timeframes for the given symbol(s).
func (s *Store) Clear(symbol string, tf types.Timeframe) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if symbol == "" {
		s.data = make(map[string][]types.Candle)
		return
	}
	prefix := strings.ToUpper(symbol) + "|"
	if tf != "" {
		delete(s.data, prefix+string(tf))
		return
	}
	for k := range s.data {
		if strings.HasPrefix(k, prefix) {
			delete(s.data, k)
		}
	}
}

// GetStats returns aggregate counters with an estimated memory footprint.
func (s *Store) GetStats() Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()
	total := 0
	for _, series := range s.data {
		total += len(series)
	}
	return Stats{
		TotalCandles: total,
		StorageCount: len(s.data),
		MemoryMB:     float64(total*estimatedBytesPerCandle) / (1024 * 1024),
	}
}

// Keys returns the sorted set of "SYMBOL|timeframe" keys currently stored,
// used by CandleDataManager's monitoring snapshot.
func (s *Store) Keys() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, len(s.data))
	for k := range s.data {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
