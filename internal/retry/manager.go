// Package retry implements the classified-retry wrapper used around
// exchange operations: errors are classified non-retryable, special, or
// retryable (in that precedence), delays follow a configurable schedule,
// and only the delays actually taken are recorded in history.
package retry

import (
	"context"
	"fmt"
	"reflect"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/atlas-desktop/structure-core/pkg/types"
)

// Classification is the outcome of matching a caught error against a
// Config's rule sets.
type Classification int

const (
	ClassRetryable Classification = iota
	ClassNonRetryable
	ClassSpecial
)

// SpecialHandler performs a side effect (e.g. time resync) for errors
// matching Match, then the error is treated as retryable.
type SpecialHandler struct {
	Match  func(error) bool
	Handle func(ctx context.Context, err error) error
}

// Config configures a Manager. Validate enforces the same constraints as
// the reference implementation: MaxRetries >= 0, BaseDelay > 0, MaxDelay >=
// BaseDelay, and CUSTOM requires a non-empty delay list.
type Config struct {
	MaxRetries      int
	Strategy        types.RetryStrategy
	BaseDelay       time.Duration
	MaxDelay        time.Duration
	CustomDelays    []time.Duration
	NonRetryable    []func(error) bool
	Retryable       []func(error) bool
	SpecialHandlers []SpecialHandler
	LogAttempts     bool
}

// Validate checks the configuration invariants before a Manager is built.
func (c Config) Validate() error {
	if c.MaxRetries < 0 {
		return fmt.Errorf("retry: max_retries must be >= 0, got %d", c.MaxRetries)
	}
	if c.BaseDelay <= 0 {
		return fmt.Errorf("retry: base_delay must be > 0, got %s", c.BaseDelay)
	}
	if c.MaxDelay < c.BaseDelay {
		return fmt.Errorf("retry: max_delay must be >= base_delay")
	}
	if c.Strategy == types.RetryCustom && len(c.CustomDelays) == 0 {
		return fmt.Errorf("retry: CUSTOM strategy requires non-empty custom_delays")
	}
	return nil
}

// Attempt is one recorded failed attempt. The terminal, exhausting failure
// of an operation is never appended — only the delays actually taken are.
type Attempt struct {
	AttemptNumber int
	Err           error
	Delay         time.Duration
	Timestamp     time.Time
}

// Statistics aggregates a Manager's retry history.
type Statistics struct {
	TotalAttempts int
	TotalDelay    time.Duration
	AvgDelay      time.Duration
	ErrorCounts   map[string]int
}

// Manager wraps an operation with policy-based, classified retries.
type Manager struct {
	cfg    Config
	logger *zap.Logger

	mu      sync.Mutex
	history []Attempt
}

// New builds a Manager. It does not validate cfg; call cfg.Validate() first
// (NewValidated does this for you).
func New(cfg Config, logger *zap.Logger) *Manager {
	return &Manager{cfg: cfg, logger: logger.Named("retry_manager")}
}

// NewValidated validates cfg before constructing the Manager.
func NewValidated(cfg Config, logger *zap.Logger) (*Manager, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return New(cfg, logger), nil
}

// Execute runs op, retrying according to the configured policy. A
// non-retryable classification (explicit match, or the default when nothing
// matches) returns immediately. A special-handler match runs its side
// effect then the attempt is retried. The final, exhausting failure is
// returned to the caller without being appended to history.
func (m *Manager) Execute(ctx context.Context, op func(ctx context.Context) error) error {
	var lastErr error
	maxAttempts := m.cfg.MaxRetries
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		err := op(ctx)
		if err == nil {
			return nil
		}
		lastErr = err

		switch m.classify(err) {
		case ClassNonRetryable:
			if m.cfg.LogAttempts {
				m.logger.Error("non-retryable error, surfacing immediately",
					zap.Int("attempt", attempt), zap.Error(err))
			}
			return err
		case ClassSpecial:
			if h := m.matchSpecial(err); h != nil {
				if serr := h.Handle(ctx, err); serr != nil {
					m.logger.Warn("special handler failed", zap.Error(serr))
				}
			}
			// falls through to retryable handling below
		case ClassRetryable:
			// handled below
		}

		if attempt >= maxAttempts {
			return err
		}

		delay := m.calculateDelay(attempt)
		m.mu.Lock()
		m.history = append(m.history, Attempt{AttemptNumber: attempt, Err: err, Delay: delay, Timestamp: time.Now()})
		m.mu.Unlock()

		if m.cfg.LogAttempts {
			m.logger.Warn("retrying after error",
				zap.Int("attempt", attempt), zap.Duration("delay", delay), zap.Error(err))
		}

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
	return lastErr
}

// classify determines an error's classification. Non-retryable matches are
// checked first, then special handlers, then retryable matches; anything
// matching nothing defaults to non-retryable.
func (m *Manager) classify(err error) Classification {
	for _, match := range m.cfg.NonRetryable {
		if match(err) {
			return ClassNonRetryable
		}
	}
	for _, h := range m.cfg.SpecialHandlers {
		if h.Match(err) {
			return ClassSpecial
		}
	}
	for _, match := range m.cfg.Retryable {
		if match(err) {
			return ClassRetryable
		}
	}
	return ClassNonRetryable
}

func (m *Manager) matchSpecial(err error) *SpecialHandler {
	for i := range m.cfg.SpecialHandlers {
		if m.cfg.SpecialHandlers[i].Match(err) {
			return &m.cfg.SpecialHandlers[i]
		}
	}
	return nil
}

// calculateDelay computes the pre-sleep delay before attempt+1, capped by
// MaxDelay.
func (m *Manager) calculateDelay(attempt int) time.Duration {
	var delay time.Duration
	switch m.cfg.Strategy {
	case types.RetryFixed:
		delay = m.cfg.BaseDelay
	case types.RetryLinear:
		delay = m.cfg.BaseDelay * time.Duration(attempt)
	case types.RetryExponential:
		delay = m.cfg.BaseDelay * time.Duration(1<<uint(attempt-1))
	case types.RetryCustom:
		idx := attempt - 1
		if idx >= len(m.cfg.CustomDelays) {
			idx = len(m.cfg.CustomDelays) - 1
		}
		delay = m.cfg.CustomDelays[idx]
	default:
		delay = m.cfg.BaseDelay
	}
	if delay > m.cfg.MaxDelay {
		delay = m.cfg.MaxDelay
	}
	return delay
}

// History returns a copy of recorded (non-terminal) failed attempts.
func (m *Manager) History() []Attempt {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Attempt, len(m.history))
	copy(out, m.history)
	return out
}

// ClearHistory discards recorded attempts.
func (m *Manager) ClearHistory() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.history = nil
}

// Statistics aggregates the current history.
func (m *Manager) Statistics() Statistics {
	m.mu.Lock()
	defer m.mu.Unlock()
	stats := Statistics{TotalAttempts: len(m.history), ErrorCounts: make(map[string]int)}
	for _, a := range m.history {
		stats.TotalDelay += a.Delay
		stats.ErrorCounts[errorKindName(a.Err)]++
	}
	if len(m.history) > 0 {
		stats.AvgDelay = stats.TotalDelay / time.Duration(len(m.history))
	}
	return stats
}

func errorKindName(err error) string {
	if err == nil {
		return "nil"
	}
	t := reflect.TypeOf(err)
	for t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	return t.Name()
}
