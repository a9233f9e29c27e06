package events

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/technosupport/ts-sentinel/internal/metrics"
)

// DefaultQueueCapacity bounds pipeline memory between ingestion bursts and
// worker throughput.
const DefaultQueueCapacity = 50

// Queue is a bounded multi-producer multi-consumer FIFO. Overflow drops the
// oldest queued event so fresh activity always wins.
type Queue struct {
	mu       sync.Mutex
	items    []*ProcessingEvent
	capacity int
	dropped  int
	notify   chan struct{}
}

func NewQueue(capacity int) *Queue {
	if capacity <= 0 {
		capacity = DefaultQueueCapacity
	}
	return &Queue{
		capacity: capacity,
		notify:   make(chan struct{}, 1),
	}
}

// Enqueue appends one event, evicting the oldest on overflow.
func (q *Queue) Enqueue(ev *ProcessingEvent) {
	ev.EnqueuedAt = time.Now()

	q.mu.Lock()
	if len(q.items) >= q.capacity {
		oldest := q.items[0]
		q.items = q.items[1:]
		q.dropped++
		metrics.EventsDroppedTotal.WithLabelValues("queue_overflow").Inc()
		log.Printf("[WARN] Event Queue: full (%d), dropped oldest event from camera %s to admit camera %s",
			q.capacity, oldest.Camera.Name, ev.Camera.Name)
	}
	q.items = append(q.items, ev)
	depth := len(q.items)
	q.mu.Unlock()

	metrics.EventsEnqueuedTotal.Inc()
	metrics.QueueDepth.Set(float64(depth))

	select {
	case q.notify <- struct{}{}:
	default:
	}
}

// Pull removes the oldest event, waiting at most maxWait. Returns nil on
// timeout or context cancellation so callers can re-check shutdown.
func (q *Queue) Pull(ctx context.Context, maxWait time.Duration) *ProcessingEvent {
	deadline := time.NewTimer(maxWait)
	defer deadline.Stop()

	for {
		q.mu.Lock()
		if len(q.items) > 0 {
			ev := q.items[0]
			q.items = q.items[1:]
			depth := len(q.items)
			q.mu.Unlock()
			metrics.QueueDepth.Set(float64(depth))
			return ev
		}
		q.mu.Unlock()

		select {
		case <-ctx.Done():
			return nil
		case <-deadline.C:
			return nil
		case <-q.notify:
		}
	}
}

// Len returns the current depth.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Dropped returns how many events overflow has evicted.
func (q *Queue) Dropped() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.dropped
}
