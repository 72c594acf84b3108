package execution

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/atlas-desktop/structure-core/internal/cache"
	"github.com/atlas-desktop/structure-core/internal/events"
	"github.com/atlas-desktop/structure-core/internal/exchange"
	"github.com/atlas-desktop/structure-core/pkg/types"
)

func recvWithin(t *testing.T, ch <-chan events.Event, d time.Duration) events.Event {
	t.Helper()
	select {
	case ev := <-ch:
		return ev
	case <-time.After(d):
		t.Fatal("timed out waiting for event")
		return events.Event{}
	}
}

// stubExchange implements exchange.Exchange with selectively failing
// FetchBalance/FetchOpenOrders, for exercising permission denial paths.
type stubExchange struct {
	failBalance    bool
	failOpenOrders bool
}

func (s *stubExchange) FetchBalance(ctx context.Context) ([]types.Balance, error) {
	if s.failBalance {
		return nil, errors.New("api-key has no read permission")
	}
	return nil, nil
}

func (s *stubExchange) FetchOpenOrders(ctx context.Context, symbol string) ([]types.OrderResponse, error) {
	if s.failOpenOrders {
		return nil, errors.New("api-key has no trading permission")
	}
	return nil, nil
}

func (s *stubExchange) FetchPositions(ctx context.Context) ([]types.ExchangePosition, error) {
	return nil, nil
}

func (s *stubExchange) CreateOrder(ctx context.Context, symbol string, orderType types.OrderType, side types.OrderSide, amount, price decimal.Decimal, params exchange.CreateOrderParams) (types.OrderResponse, error) {
	return types.OrderResponse{}, nil
}

func (s *stubExchange) CancelOrder(ctx context.Context, id, symbol string) error { return nil }

func (s *stubExchange) FetchOrder(ctx context.Context, id, symbol string) (types.OrderResponse, error) {
	return types.OrderResponse{}, nil
}

func (s *stubExchange) SyncTime(ctx context.Context) error { return nil }

func TestPermissionVerifier_FreshVerificationGrantsBoth(t *testing.T) {
	v := NewPermissionVerifier(&stubExchange{}, events.New(zap.NewNop(), 100), types.DefaultPermissionVerifierConfig(), nil, zap.NewNop())

	read, trade, err := v.VerifyPermissions(context.Background(), false)
	require.NoError(t, err)
	require.True(t, read)
	require.True(t, trade)
	require.Equal(t, 1, v.Status().CheckCount)
}

func TestPermissionVerifier_UsesCacheWithoutReprobing(t *testing.T) {
	stub := &stubExchange{}
	v := NewPermissionVerifier(stub, events.New(zap.NewNop(), 100), types.DefaultPermissionVerifierConfig(), nil, zap.NewNop())

	_, _, err := v.VerifyPermissions(context.Background(), false)
	require.NoError(t, err)

	stub.failBalance = true
	read, trade, err := v.VerifyPermissions(context.Background(), false)
	require.NoError(t, err)
	require.True(t, read)
	require.True(t, trade)
	require.Equal(t, 1, v.Status().CheckCount)
}

type funcHandler struct {
	fn func(events.Event)
}

func (h funcHandler) CanHandle(t events.Type) bool { return t == events.TypeExchangeError }
func (h funcHandler) Handle(e events.Event) error  { h.fn(e); return nil }
func (h funcHandler) OnError(events.Event, error)  {}

func TestPermissionVerifier_BothDeniedPublishesInsufficientPermissions(t *testing.T) {
	bus := events.New(zap.NewNop(), 100)
	bus.Start()
	defer bus.Stop()
	received := make(chan events.Event, 4)
	bus.Subscribe(events.TypeExchangeError, funcHandler{func(e events.Event) { received <- e }})

	stub := &stubExchange{failBalance: true, failOpenOrders: true}
	v := NewPermissionVerifier(stub, bus, types.DefaultPermissionVerifierConfig(), nil, zap.NewNop())

	read, trade, err := v.VerifyPermissions(context.Background(), true)
	require.NoError(t, err)
	require.False(t, read)
	require.False(t, trade)

	ev := recvWithin(t, received, time.Second)
	require.Equal(t, 7, ev.Priority)
	data := ev.Data.(map[string]any)
	require.Equal(t, "insufficient_permissions", data["event"])
}

func TestPermissionVerifier_ConsecutiveFailuresEmitOnThreshold(t *testing.T) {
	bus := events.New(zap.NewNop(), 100)
	bus.Start()
	defer bus.Stop()
	received := make(chan events.Event, 8)
	bus.Subscribe(events.TypeExchangeError, funcHandler{func(e events.Event) { received <- e }})

	stub := &stubExchange{failOpenOrders: true}
	cfg := types.DefaultPermissionVerifierConfig()
	cfg.MaxConsecutiveErrors = 2
	v := NewPermissionVerifier(stub, bus, cfg, nil, zap.NewNop())

	_, _, _ = v.VerifyPermissions(context.Background(), true)
	_, _, _ = v.VerifyPermissions(context.Background(), true)

	var sawThreshold bool
	deadline := time.After(2 * time.Second)
	for !sawThreshold {
		select {
		case ev := <-received:
			data := ev.Data.(map[string]any)
			if data["event"] == "permission_verification_failures" {
				sawThreshold = true
				require.Equal(t, 2, data["consecutive_errors"])
			}
		case <-deadline:
			t.Fatal("timed out waiting for threshold event")
		}
	}
}

func TestPermissionVerifier_ChangeDetectionPublishesOnTransition(t *testing.T) {
	bus := events.New(zap.NewNop(), 100)
	bus.Start()
	defer bus.Stop()
	received := make(chan events.Event, 8)
	bus.Subscribe(events.TypeExchangeError, funcHandler{func(e events.Event) { received <- e }})

	stub := &stubExchange{}
	v := NewPermissionVerifier(stub, bus, types.DefaultPermissionVerifierConfig(), nil, zap.NewNop())
	_, _, _ = v.VerifyPermissions(context.Background(), true)

	stub.failBalance = true
	_, _, _ = v.VerifyPermissions(context.Background(), true)

	var sawChange bool
	deadline := time.After(2 * time.Second)
	for !sawChange {
		select {
		case ev := <-received:
			data := ev.Data.(map[string]any)
			if data["event"] == "permissions_changed" {
				sawChange = true
			}
		case <-deadline:
			t.Fatal("timed out waiting for change event")
		}
	}
	require.False(t, v.Status().LastChanged.IsZero())
}

func TestPermissionVerifier_HydratesStatusFromSharedCache(t *testing.T) {
	shared := cache.NewInMemoryCache()

	first := NewPermissionVerifier(&stubExchange{}, events.New(zap.NewNop(), 100), types.DefaultPermissionVerifierConfig(), shared, zap.NewNop())
	_, _, err := first.VerifyPermissions(context.Background(), false)
	require.NoError(t, err)

	second := NewPermissionVerifier(&stubExchange{failBalance: true}, events.New(zap.NewNop(), 100), types.DefaultPermissionVerifierConfig(), shared, zap.NewNop())
	read, trade, err := second.VerifyPermissions(context.Background(), false)
	require.NoError(t, err)
	require.True(t, read)
	require.True(t, trade)
	require.Equal(t, 1, second.Status().CheckCount)
}
