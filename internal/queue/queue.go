package queue

import (
	"container/heap"
	"context"
	"errors"
	"sync"
)

var (
	// ErrQueueFull is returned when a push would exceed the queue size.
	ErrQueueFull = errors.New("queue is full")

	// ErrQueueClosed is returned when operations are attempted on a closed queue.
	ErrQueueClosed = errors.New("queue is closed")
)

// Priority orders items; lower values are popped first.
type Priority int

const (
	// PriorityNow is for the line the player is waiting on.
	PriorityNow Priority = iota
	// PriorityNext is for the line right after it.
	PriorityNext
	// PriorityAhead is for deeper lookahead.
	PriorityAhead
)

// String returns the string representation of the priority.
func (p Priority) String() string {
	switch p {
	case PriorityNow:
		return "now"
	case PriorityNext:
		return "next"
	case PriorityAhead:
		return "ahead"
	default:
		return "unknown"
	}
}

// Stats tracks queue activity.
type Stats struct {
	Pushed   int64
	Popped   int64
	Merged   int64 // pushes for a key already queued
	Dropped  int64 // removed by Clear
	Rejected int64 // refused because the queue was full
	PeakSize int
}

// Queue is a bounded priority queue with de-duplication by key. Items of
// equal priority pop in push order.
type Queue[T any] struct {
	mu      sync.Mutex
	items   itemHeap[T]
	byKey   map[string]*item[T]
	maxSize int
	seq     uint64
	closed  bool
	stats   Stats

	ready  chan struct{} // signalled when an item is pushed
	closeC chan struct{}
}

type item[T any] struct {
	key      string
	value    T
	priority Priority
	seq      uint64
	index    int
}

// New creates a queue holding at most maxSize items; 0 means unbounded.
func New[T any](maxSize int) *Queue[T] {
	return &Queue[T]{
		byKey:   make(map[string]*item[T]),
		maxSize: maxSize,
		ready:   make(chan struct{}, 1),
		closeC:  make(chan struct{}),
	}
}

// Push adds value under key. If key is already queued, the item keeps its
// place unless the new priority is more urgent, in which case it moves up
// and takes the new value.
func (q *Queue[T]) Push(key string, priority Priority, value T) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return ErrQueueClosed
	}

	if it, ok := q.byKey[key]; ok {
		q.stats.Merged++
		if priority < it.priority {
			it.priority = priority
			it.value = value
			heap.Fix(&q.items, it.index)
		}
		return nil
	}

	if q.maxSize > 0 && len(q.items) >= q.maxSize {
		q.stats.Rejected++
		return ErrQueueFull
	}

	q.seq++
	it := &item[T]{key: key, value: value, priority: priority, seq: q.seq}
	heap.Push(&q.items, it)
	q.byKey[key] = it
	q.stats.Pushed++
	if len(q.items) > q.stats.PeakSize {
		q.stats.PeakSize = len(q.items)
	}

	select {
	case q.ready <- struct{}{}:
	default:
	}
	return nil
}

// Pop blocks until an item is available, ctx is done or the queue closes.
func (q *Queue[T]) Pop(ctx context.Context) (T, error) {
	var zero T
	for {
		q.mu.Lock()
		if q.closed {
			q.mu.Unlock()
			return zero, ErrQueueClosed
		}
		if len(q.items) > 0 {
			it := heap.Pop(&q.items).(*item[T])
			delete(q.byKey, it.key)
			q.stats.Popped++
			more := len(q.items) > 0
			q.mu.Unlock()
			if more {
				// Wake another waiting worker.
				select {
				case q.ready <- struct{}{}:
				default:
				}
			}
			return it.value, nil
		}
		q.mu.Unlock()

		select {
		case <-q.ready:
		case <-q.closeC:
		case <-ctx.Done():
			return zero, ctx.Err()
		}
	}
}

// Contains reports whether key is queued.
func (q *Queue[T]) Contains(key string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	_, ok := q.byKey[key]
	return ok
}

// Len returns the number of queued items.
func (q *Queue[T]) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Clear drops queued items less urgent than keep and returns how many were
// dropped. Clear(PriorityNow) keeps only PriorityNow items.
func (q *Queue[T]) Clear(keep Priority) int {
	q.mu.Lock()
	defer q.mu.Unlock()

	kept := q.items[:0]
	dropped := 0
	for _, it := range q.items {
		if it.priority <= keep {
			kept = append(kept, it)
			continue
		}
		delete(q.byKey, it.key)
		dropped++
	}
	for i := len(kept); i < len(q.items); i++ {
		q.items[i] = nil
	}
	q.items = kept
	for i, it := range q.items {
		it.index = i
	}
	heap.Init(&q.items)
	q.stats.Dropped += int64(dropped)
	return dropped
}

// Stats returns queue statistics.
func (q *Queue[T]) Stats() Stats {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.stats
}

// Close wakes all waiters; further pushes and pops fail.
func (q *Queue[T]) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	q.closed = true
	close(q.closeC)
}

// itemHeap implements heap.Interface.
type itemHeap[T any] []*item[T]

func (h itemHeap[T]) Len() int { return len(h) }

func (h itemHeap[T]) Less(i, j int) bool {
	if h[i].priority != h[j].priority {
		return h[i].priority < h[j].priority
	}
	return h[i].seq < h[j].seq
}

func (h itemHeap[T]) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *itemHeap[T]) Push(x any) {
	it := x.(*item[T])
	it.index = len(*h)
	*h = append(*h, it)
}

func (h *itemHeap[T]) Pop() any {
	old := *h
	n := len(old)
	it := old[n-1]
	old[n-1] = nil
	it.index = -1
	*h = old[:n-1]
	return it
}
