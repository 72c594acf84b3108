package execution

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/atlas-desktop/structure-core/internal/cache"
	"github.com/atlas-desktop/structure-core/internal/events"
	"github.com/atlas-desktop/structure-core/internal/exchange"
	"github.com/atlas-desktop/structure-core/pkg/types"
)

const permissionCacheKey = "permission_verifier:status"

// PermissionStatus is the cached verification result for the {read, trade}
// capability pair.
type PermissionStatus struct {
	Read        bool      `json:"read"`
	Trade       bool      `json:"trade"`
	LastChecked time.Time `json:"last_checked"`
	LastChanged time.Time `json:"last_changed"`
	CheckCount  int       `json:"check_count"`
	ErrorCount  int       `json:"error_count"`
}

func (s *PermissionStatus) hasChanged(read, trade bool) bool {
	return s.Read != read || s.Trade != trade
}

// PermissionVerifier caches {read, trade} capability against a TTL and
// tracks consecutive verification failures, publishing events when
// permissions change or become insufficient.
type PermissionVerifier struct {
	exch   exchange.Exchange
	bus    *events.Bus
	logger *zap.Logger
	cfg    types.PermissionVerifierConfig
	cache  cache.TTLCache

	mu                sync.Mutex
	status            PermissionStatus
	consecutiveErrors int
}

// NewPermissionVerifier builds a verifier over exch with cfg's TTL and
// error thresholds. cacheStore may be nil, in which case the status only
// lives in-process; a Redis-backed cache.TTLCache lets the cached verdict
// survive restarts and be shared across replicas of the same account.
func NewPermissionVerifier(exch exchange.Exchange, bus *events.Bus, cfg types.PermissionVerifierConfig, cacheStore cache.TTLCache, logger *zap.Logger) *PermissionVerifier {
	v := &PermissionVerifier{
		exch:   exch,
		bus:    bus,
		logger: logger.Named("permission_verifier"),
		cfg:    cfg,
		cache:  cacheStore,
	}
	v.hydrateFromCache()
	return v
}

func (v *PermissionVerifier) hydrateFromCache() {
	if v.cache == nil {
		return
	}
	raw, ok, err := v.cache.Get(context.Background(), permissionCacheKey)
	if err != nil || !ok {
		return
	}
	var s PermissionStatus
	if err := json.Unmarshal([]byte(raw), &s); err != nil {
		v.logger.Warn("discarding malformed cached permission status", zap.Error(err))
		return
	}
	v.status = s
	v.logger.Info("hydrated permission status from cache", zap.Bool("read", s.Read), zap.Bool("trade", s.Trade))
}

func (v *PermissionVerifier) persistToCache() {
	if v.cache == nil {
		return
	}
	raw, err := json.Marshal(v.status)
	if err != nil {
		return
	}
	ttl := time.Duration(v.cfg.CacheTTLSeconds) * time.Second
	if err := v.cache.Set(context.Background(), permissionCacheKey, string(raw), ttl); err != nil {
		v.logger.Warn("failed to persist permission status to cache", zap.Error(err))
	}
}

func (v *PermissionVerifier) cacheAge() time.Duration {
	if v.status.LastChecked.IsZero() {
		return time.Duration(1<<63 - 1)
	}
	return time.Since(v.status.LastChecked)
}

func (v *PermissionVerifier) cacheValid() bool {
	if v.status.LastChecked.IsZero() {
		return false
	}
	return v.cacheAge() < time.Duration(v.cfg.CacheTTLSeconds)*time.Second
}

// VerifyPermissions returns the cached {read, trade} pair if fresh and
// forceRefresh is false; otherwise probes the exchange and updates the
// cache. A probe whose exchange call fails reports that permission as
// denied, and the fresh result replaces the cached pair; err is always nil.
func (v *PermissionVerifier) VerifyPermissions(ctx context.Context, forceRefresh bool) (read, trade bool, err error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	if !forceRefresh && v.cacheValid() {
		v.logger.Debug("using cached permissions", zap.Duration("age", v.cacheAge()))
		return v.status.Read, v.status.Trade, nil
	}

	v.logger.Info("performing fresh permission verification")

	read = v.probeRead(ctx)
	trade = v.probeTrade(ctx)

	previousRead, previousTrade := v.status.Read, v.status.Trade
	changed := v.status.hasChanged(read, trade)

	now := time.Now()
	if changed {
		v.status.LastChanged = now
	}
	v.status.Read = read
	v.status.Trade = trade
	v.status.LastChecked = now
	v.status.CheckCount++
	v.persistToCache()

	if !read || !trade {
		v.consecutiveErrors++
	} else {
		v.consecutiveErrors = 0
	}

	v.logger.Info("permissions verified", zap.Bool("read", read), zap.Bool("trade", trade))

	if v.consecutiveErrors >= v.cfg.MaxConsecutiveErrors {
		v.logger.Error("consecutive permission verification failures", zap.Int("count", v.consecutiveErrors))
		if v.consecutiveErrors == v.cfg.MaxConsecutiveErrors {
			v.publish(8, map[string]any{
				"event":              "permission_verification_failures",
				"consecutive_errors": v.consecutiveErrors,
				"error":              "permission denied",
			})
		}
	}

	if changed {
		v.publish(8, map[string]any{
			"event":    "permissions_changed",
			"previous": map[string]bool{"read": previousRead, "trade": previousTrade},
			"current":  map[string]bool{"read": read, "trade": trade},
		})
	}

	if !read && !trade {
		v.publish(7, map[string]any{
			"event":       "insufficient_permissions",
			"permissions": map[string]bool{"read": read, "trade": trade},
		})
	}

	return read, trade, nil
}

func (v *PermissionVerifier) probeRead(ctx context.Context) bool {
	if _, err := v.exch.FetchBalance(ctx); err != nil {
		v.logger.Warn("read permission denied", zap.Error(err))
		return false
	}
	return true
}

func (v *PermissionVerifier) probeTrade(ctx context.Context) bool {
	if _, err := v.exch.FetchOpenOrders(ctx, ""); err != nil {
		v.logger.Warn("trade permission denied", zap.Error(err))
		return false
	}
	return true
}

func (v *PermissionVerifier) publish(priority int, data map[string]any) {
	if v.bus == nil {
		return
	}
	v.bus.Publish(events.Event{Priority: priority, EventType: events.TypeExchangeError, Data: data, Source: "permission_verifier"})
}

// Status returns a snapshot of the cached permission state.
func (v *PermissionVerifier) Status() PermissionStatus {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.status
}

// Run periodically force-refreshes permissions at the configured interval
// until ctx is cancelled.
func (v *PermissionVerifier) Run(ctx context.Context) error {
	interval := time.Duration(v.cfg.RevalidationIntervalSeconds) * time.Second
	if interval <= 0 {
		interval = time.Hour
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	v.logger.Info("periodic permission validation started", zap.Duration("interval", interval))
	for {
		select {
		case <-ctx.Done():
			v.logger.Info("periodic permission validation stopped")
			return ctx.Err()
		case <-ticker.C:
			if _, _, err := v.VerifyPermissions(ctx, true); err != nil {
				v.logger.Error("periodic permission validation failed", zap.Error(err))
			}
		}
	}
}
