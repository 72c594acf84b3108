package events

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type recordingHandler struct {
	mu       sync.Mutex
	received []Event
}

func (h *recordingHandler) CanHandle(Type) bool { return true }

func (h *recordingHandler) Handle(e Event) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.received = append(h.received, e)
	return nil
}

func (h *recordingHandler) OnError(Event, error) {}

func (h *recordingHandler) snapshot() []Event {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]Event, len(h.received))
	copy(out, h.received)
	return out
}

// scenario 1: publish priorities 3, 8, 5 into an empty bus, then start.
// Global handler must receive them in order 8, 5, 3.
func TestBus_PriorityOrdering(t *testing.T) {
	bus := New(zap.NewNop(), 100)
	h := &recordingHandler{}
	bus.SubscribeAll(h)

	bus.Publish(Event{Priority: 3, EventType: TypeCandleReceived})
	bus.Publish(Event{Priority: 8, EventType: TypeCandleReceived})
	bus.Publish(Event{Priority: 5, EventType: TypeCandleReceived})

	bus.Start()
	defer bus.Stop()

	require.Eventually(t, func() bool { return len(h.snapshot()) == 3 }, time.Second, time.Millisecond)

	got := h.snapshot()
	require.Equal(t, []int{8, 5, 3}, []int{got[0].Priority, got[1].Priority, got[2].Priority})
}

func TestBus_FIFOWithinPriorityBand(t *testing.T) {
	queue := NewPriorityQueue()
	queue.Put(Event{Priority: 5, EventType: TypeCandleReceived, Source: "a"})
	queue.Put(Event{Priority: 5, EventType: TypeCandleReceived, Source: "b"})
	queue.Put(Event{Priority: 5, EventType: TypeCandleReceived, Source: "c"})

	first, ok := queue.Pop()
	require.True(t, ok)
	require.Equal(t, "a", first.Source)
	second, _ := queue.Pop()
	require.Equal(t, "b", second.Source)
	third, _ := queue.Pop()
	require.Equal(t, "c", third.Source)
}

func TestBus_PublishDropsOnFullQueue(t *testing.T) {
	bus := New(zap.NewNop(), 1)
	admitted := bus.Publish(Event{Priority: 1, EventType: TypeCandleReceived})
	require.True(t, admitted)
	admitted = bus.Publish(Event{Priority: 1, EventType: TypeCandleReceived})
	require.False(t, admitted)
	require.Equal(t, uint64(1), bus.Stats().Dropped)
}

func TestBus_StartStopIdempotent(t *testing.T) {
	bus := New(zap.NewNop(), 10)
	bus.Start()
	bus.Start()
	bus.Stop()
	bus.Stop()
}

type erroringHandler struct{ onErrCalled chan error }

func (h *erroringHandler) CanHandle(Type) bool { return true }
func (h *erroringHandler) Handle(Event) error  { return errBoom }
func (h *erroringHandler) OnError(_ Event, err error) {
	h.onErrCalled <- err
}

var errBoom = &testError{"boom"}

type testError struct{ msg string }

func (e *testError) Error() string { return e.msg }

func TestBus_HandlerErrorIsolated(t *testing.T) {
	bus := New(zap.NewNop(), 10)
	bad := &erroringHandler{onErrCalled: make(chan error, 1)}
	good := &recordingHandler{}
	bus.SubscribeAll(bad)
	bus.SubscribeAll(good)
	bus.Start()
	defer bus.Stop()

	bus.Publish(Event{Priority: 5, EventType: TypeCandleReceived})

	select {
	case err := <-bad.onErrCalled:
		require.EqualError(t, err, "boom")
	case <-time.After(time.Second):
		t.Fatal("OnError never called")
	}
	require.Eventually(t, func() bool { return len(good.snapshot()) == 1 }, time.Second, time.Millisecond)
}
