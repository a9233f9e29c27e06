package events

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestClampWorkers(t *testing.T) {
	assert.Equal(t, MinWorkers, ClampWorkers(0))
	assert.Equal(t, MinWorkers, ClampWorkers(-3))
	assert.Equal(t, 3, ClampWorkers(3))
	assert.Equal(t, MaxWorkers, ClampWorkers(50))
}

func TestProcessorDrainsQueueOnStop(t *testing.T) {
	q := NewQueue(50)
	var mu sync.Mutex
	processed := 0
	p := NewProcessor(q, 3, func(ctx context.Context, ev *ProcessingEvent) error {
		mu.Lock()
		processed++
		mu.Unlock()
		return nil
	})

	for i := 0; i < 20; i++ {
		p.Enqueue(testEvent(fmt.Sprintf("cam-%d", i)))
	}
	p.Start()
	p.Stop(5 * time.Second)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 20, processed)
	assert.Equal(t, 0, q.Len())
	assert.Equal(t, 20, p.Stats().Snapshot().Processed)
}

func TestProcessorSurvivesPanic(t *testing.T) {
	q := NewQueue(50)
	var mu sync.Mutex
	good := 0
	p := NewProcessor(q, 2, func(ctx context.Context, ev *ProcessingEvent) error {
		if ev.Camera.Name == "bad" {
			panic("provider returned garbage")
		}
		mu.Lock()
		good++
		mu.Unlock()
		return nil
	})

	p.Enqueue(testEvent("bad"))
	p.Enqueue(testEvent("ok-1"))
	p.Enqueue(testEvent("ok-2"))
	p.Start()
	p.Stop(10 * time.Second)

	mu.Lock()
	assert.Equal(t, 2, good)
	mu.Unlock()

	snap := p.Stats().Snapshot()
	assert.Equal(t, 2, snap.Processed)
	assert.Equal(t, 1, snap.Failed)
	assert.Equal(t, 1, snap.ErrorKinds["worker_panic"])
}

func TestProcessorRefusesAfterStop(t *testing.T) {
	q := NewQueue(50)
	p := NewProcessor(q, 2, func(ctx context.Context, ev *ProcessingEvent) error { return nil })
	p.Start()
	p.Stop(time.Second)

	p.Enqueue(testEvent("late"))
	assert.Equal(t, 0, q.Len())
}

func TestStatsSnapshot(t *testing.T) {
	s := NewStats()
	for i := 1; i <= 10; i++ {
		s.RecordSuccess(time.Duration(i) * time.Second)
	}
	s.RecordFailure("timeout", 30*time.Second)

	snap := s.Snapshot()
	assert.Equal(t, 10, snap.Processed)
	assert.Equal(t, 1, snap.Failed)
	assert.Equal(t, 1, snap.ErrorKinds["timeout"])
	assert.Equal(t, 6*time.Second, snap.P50)
	assert.Equal(t, 30*time.Second, snap.P99)
}
