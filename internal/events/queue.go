package events

import (
	"container/heap"
	"sync"
)

// heapItem orders by (priority desc, seq asc) — a max-priority-first heap
// with insertion order as the tiebreak, matching original_source's
// heapq.heappush(queue, (-priority, counter, timestamp, event)) approach.
type heapItem struct {
	event Event
}

type innerHeap []heapItem

func (h innerHeap) Len() int { return len(h) }

func (h innerHeap) Less(i, j int) bool {
	if h[i].event.Priority != h[j].event.Priority {
		return h[i].event.Priority > h[j].event.Priority
	}
	return h[i].event.seq < h[j].event.seq
}

func (h innerHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *innerHeap) Push(x any) { *h = append(*h, x.(heapItem)) }

func (h *innerHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}

// PriorityQueue is the unbounded, mutex-guarded ordering structure backing
// EventBus; the size limit is enforced by Bus.Publish before Put. It is safe for concurrent Put/Pop, and also usable standalone
// (e.g. in tests verifying pure ordering semantics).
type PriorityQueue struct {
	mu      sync.Mutex
	heap    innerHeap
	counter uint64
}

// NewPriorityQueue returns an empty queue.
func NewPriorityQueue() *PriorityQueue {
	return &PriorityQueue{}
}

// Put enqueues an event, stamping it with the next insertion sequence.
func (q *PriorityQueue) Put(e Event) {
	q.mu.Lock()
	defer q.mu.Unlock()
	e.seq = q.counter
	q.counter++
	heap.Push(&q.heap, heapItem{event: e})
}

// Pop removes and returns the highest-priority, earliest-inserted event.
// ok is false when the queue is empty.
func (q *PriorityQueue) Pop() (Event, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.heap.Len() == 0 {
		return Event{}, false
	}
	item := heap.Pop(&q.heap).(heapItem)
	return item.event, true
}

// Peek returns the next event without removing it.
func (q *PriorityQueue) Peek() (Event, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.heap.Len() == 0 {
		return Event{}, false
	}
	return q.heap[0].event, true
}

// Size returns the number of queued events.
func (q *PriorityQueue) Size() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.heap.Len()
}

// Empty reports whether the queue has no events.
func (q *PriorityQueue) Empty() bool { return q.Size() == 0 }

// Clear drops all queued events and resets the insertion counter.
func (q *PriorityQueue) Clear() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.heap = nil
	q.counter = 0
}
