package events

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Stats is a point-in-time snapshot of bus counters. Published counts
// admitted events only; an event refused because the queue is full is
// counted in Dropped instead. At quiescence Published = Processed +
// QueueSize. Errors is counted per failing handler call, not per event.
type Stats struct {
	Published  uint64
	Processed  uint64
	Dropped    uint64
	Errors     uint64
	QueueSize  int
}

// Bus is the single, in-process priority event bus. One dispatcher goroutine
// pops the highest-priority, earliest-inserted event and fans it out
// concurrently to interested handlers, isolating each handler's failure.
type Bus struct {
	logger *zap.Logger

	mu          sync.RWMutex
	subscribers map[Type]map[Handler]struct{}
	global      map[Handler]struct{}

	queue        *PriorityQueue
	maxQueueSize int

	published atomic.Uint64
	processed atomic.Uint64
	dropped   atomic.Uint64
	errors    atomic.Uint64

	running atomic.Bool
	wake    chan struct{}
	stop    chan struct{}
	done    chan struct{}
}

// New creates a Bus bounded by maxQueueSize. A non-positive size disables
// the admission bound.
func New(logger *zap.Logger, maxQueueSize int) *Bus {
	return &Bus{
		logger:       logger.Named("event_bus"),
		subscribers:  make(map[Type]map[Handler]struct{}),
		global:       make(map[Handler]struct{}),
		queue:        NewPriorityQueue(),
		maxQueueSize: maxQueueSize,
		wake:         make(chan struct{}, 1),
	}
}

// Subscribe registers h for events of type t.
func (b *Bus) Subscribe(t Type, h Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	set, ok := b.subscribers[t]
	if !ok {
		set = make(map[Handler]struct{})
		b.subscribers[t] = set
	}
	set[h] = struct{}{}
}

// SubscribeAll registers h for every event type published on the bus.
func (b *Bus) SubscribeAll(h Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.global[h] = struct{}{}
}

// Unsubscribe removes h from type t's subscriber set.
func (b *Bus) Unsubscribe(t Type, h Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if set, ok := b.subscribers[t]; ok {
		delete(set, h)
	}
}

// UnsubscribeAll removes h from the global subscriber set.
func (b *Bus) UnsubscribeAll(h Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.global, h)
}

// Publish enqueues e, returning false (and counting a drop) if the queue is
// at capacity. Producers must treat a false return as recoverable.
func (b *Bus) Publish(e Event) bool {
	if b.maxQueueSize > 0 && b.queue.Size() >= b.maxQueueSize {
		b.dropped.Add(1)
		b.logger.Warn("event dropped, queue full",
			zap.String("event_type", string(e.EventType)), zap.Int("max_queue_size", b.maxQueueSize))
		return false
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now()
	}
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	b.queue.Put(e)
	b.published.Add(1)
	select {
	case b.wake <- struct{}{}:
	default:
	}
	return true
}

// PublishSync dispatches e immediately on the calling goroutine, bypassing
// the queue. Callers must guarantee no concurrent dispatch is touching the
// same handlers, e.g. single-threaded test harnesses or startup sequencing.
func (b *Bus) PublishSync(e Event) {
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now()
	}
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	b.published.Add(1)
	b.dispatch(e)
}

// Start spawns the dispatcher goroutine. Idempotent.
func (b *Bus) Start() {
	if !b.running.CompareAndSwap(false, true) {
		return
	}
	b.stop = make(chan struct{})
	b.done = make(chan struct{})
	go b.dispatchLoop()
}

// Stop signals the dispatcher to exit after its current iteration and waits
// up to 5s for it to drain. Idempotent.
func (b *Bus) Stop() {
	if !b.running.CompareAndSwap(true, false) {
		return
	}
	close(b.stop)
	select {
	case <-b.done:
	case <-time.After(5 * time.Second):
		b.logger.Warn("event bus stop timed out waiting for dispatcher drain")
	}
}

func (b *Bus) dispatchLoop() {
	defer close(b.done)
	idle := time.NewTicker(10 * time.Millisecond)
	defer idle.Stop()
	for {
		select {
		case <-b.stop:
			return
		case <-b.wake:
		case <-idle.C:
		}
		for {
			e, ok := b.queue.Pop()
			if !ok {
				break
			}
			b.dispatch(e)
			select {
			case <-b.stop:
				return
			default:
			}
		}
	}
}

func (b *Bus) dispatch(e Event) {
	handlers := b.collectHandlers(e.EventType)
	if len(handlers) == 0 {
		b.processed.Add(1)
		return
	}
	var wg sync.WaitGroup
	wg.Add(len(handlers))
	for _, h := range handlers {
		h := h
		go func() {
			defer wg.Done()
			defer func() {
				if r := recover(); r != nil {
					b.errors.Add(1)
					b.logger.Error("handler panicked",
						zap.String("event_type", string(e.EventType)), zap.Any("recover", r))
				}
			}()
			if err := h.Handle(e); err != nil {
				b.errors.Add(1)
				h.OnError(e, err)
			}
		}()
	}
	wg.Wait()
	b.processed.Add(1)
}

func (b *Bus) collectHandlers(t Type) []Handler {
	b.mu.RLock()
	defer b.mu.RUnlock()
	seen := make(map[Handler]struct{})
	var out []Handler
	if set, ok := b.subscribers[t]; ok {
		for h := range set {
			if _, dup := seen[h]; dup {
				continue
			}
			if h.CanHandle(t) {
				out = append(out, h)
				seen[h] = struct{}{}
			}
		}
	}
	for h := range b.global {
		if _, dup := seen[h]; dup {
			continue
		}
		if h.CanHandle(t) {
			out = append(out, h)
			seen[h] = struct{}{}
		}
	}
	return out
}

// Stats returns a snapshot of bus counters.
func (b *Bus) Stats() Stats {
	return Stats{
		Published: b.published.Load(),
		Processed: b.processed.Load(),
		Dropped:   b.dropped.Load(),
		Errors:    b.errors.Load(),
		QueueSize: b.queue.Size(),
	}
}
