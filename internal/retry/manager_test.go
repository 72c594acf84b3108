package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/atlas-desktop/structure-core/pkg/errs"
	"github.com/atlas-desktop/structure-core/pkg/types"
)

func alwaysRetryable(error) bool { return true }

// scenario 6: max_retries=3, CUSTOM [0.01,0.02,0.03]s, operation always
// fails with a NetworkError. Expect 3 total attempts, history length 2 with
// delays [0.01s, 0.02s], and the terminal NetworkError re-raised.
func TestManager_RetryExhaustion(t *testing.T) {
	cfg := Config{
		MaxRetries:   3,
		Strategy:     types.RetryCustom,
		BaseDelay:    10 * time.Millisecond,
		MaxDelay:     time.Second,
		CustomDelays: []time.Duration{10 * time.Millisecond, 20 * time.Millisecond, 30 * time.Millisecond},
		Retryable:    []func(error) bool{alwaysRetryable},
	}
	mgr, err := NewValidated(cfg, zap.NewNop())
	require.NoError(t, err)

	calls := 0
	opErr := &errs.NetworkError{Op: "test", Err: errors.New("boom")}
	err = mgr.Execute(context.Background(), func(context.Context) error {
		calls++
		return opErr
	})

	require.Error(t, err)
	require.Equal(t, 3, calls)
	history := mgr.History()
	require.Len(t, history, 2)
	require.Equal(t, 10*time.Millisecond, history[0].Delay)
	require.Equal(t, 20*time.Millisecond, history[1].Delay)
	require.Equal(t, 2, mgr.Statistics().TotalAttempts)
}

func TestManager_MaxRetriesZero(t *testing.T) {
	cfg := Config{MaxRetries: 0, Strategy: types.RetryFixed, BaseDelay: time.Millisecond, MaxDelay: time.Second}
	mgr, err := NewValidated(cfg, zap.NewNop())
	require.NoError(t, err)

	calls := 0
	err = mgr.Execute(context.Background(), func(context.Context) error {
		calls++
		return errors.New("fail")
	})
	require.Error(t, err)
	require.Equal(t, 1, calls)
	require.Empty(t, mgr.History())
}

func TestManager_NonRetryableSurfacesImmediately(t *testing.T) {
	cfg := Config{
		MaxRetries:   5,
		Strategy:     types.RetryFixed,
		BaseDelay:    time.Millisecond,
		MaxDelay:     time.Second,
		NonRetryable: []func(error) bool{func(error) bool { return true }},
		Retryable:    []func(error) bool{alwaysRetryable},
	}
	mgr, err := NewValidated(cfg, zap.NewNop())
	require.NoError(t, err)

	calls := 0
	err = mgr.Execute(context.Background(), func(context.Context) error {
		calls++
		return &errs.ValidationError{Message: "bad"}
	})
	require.Error(t, err)
	require.Equal(t, 1, calls)
	require.Empty(t, mgr.History())
}

func TestManager_SuccessRecordsNoTerminalHistory(t *testing.T) {
	cfg := Config{
		MaxRetries: 5,
		Strategy:   types.RetryFixed,
		BaseDelay:  time.Millisecond,
		MaxDelay:   time.Second,
		Retryable:  []func(error) bool{alwaysRetryable},
	}
	mgr, err := NewValidated(cfg, zap.NewNop())
	require.NoError(t, err)

	calls := 0
	err = mgr.Execute(context.Background(), func(context.Context) error {
		calls++
		if calls < 3 {
			return errors.New("transient")
		}
		return nil
	})
	require.NoError(t, err)
	require.Equal(t, 3, calls)
	require.Len(t, mgr.History(), 2) // attempts 1,2 failed-and-delayed; attempt 3 succeeded
}

func TestConfig_ValidateCustomRequiresDelays(t *testing.T) {
	cfg := Config{MaxRetries: 1, Strategy: types.RetryCustom, BaseDelay: time.Millisecond, MaxDelay: time.Second}
	require.Error(t, cfg.Validate())
}
