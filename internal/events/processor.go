package events

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/technosupport/ts-sentinel/internal/metrics"
)

// Worker pool bounds.
const (
	MinWorkers     = 2
	MaxWorkers     = 5
	DefaultWorkers = 2

	pullWait = time.Second
)

// ClampWorkers forces the worker count into the supported range, warning on
// out-of-range configuration.
func ClampWorkers(n int) int {
	if n < MinWorkers {
		log.Printf("[WARN] Event Processor: worker count %d below minimum, using %d", n, MinWorkers)
		return MinWorkers
	}
	if n > MaxWorkers {
		log.Printf("[WARN] Event Processor: worker count %d above maximum, using %d", n, MaxWorkers)
		return MaxWorkers
	}
	return n
}

// ProcessFunc runs the full pipeline for one event.
type ProcessFunc func(ctx context.Context, ev *ProcessingEvent) error

// Processor owns the queue and the long-lived worker pool.
type Processor struct {
	queue   *Queue
	workers int
	process ProcessFunc
	stats   *Stats

	procCtx context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	mu      sync.Mutex
	started bool
	stopped bool
}

func NewProcessor(queue *Queue, workers int, process ProcessFunc) *Processor {
	return &Processor{
		queue:   queue,
		workers: ClampWorkers(workers),
		process: process,
		stats:   NewStats(),
	}
}

func (p *Processor) Stats() *Stats { return p.stats }

// Enqueue admits one event unless the processor is shutting down.
func (p *Processor) Enqueue(ev *ProcessingEvent) {
	p.mu.Lock()
	stopped := p.stopped
	p.mu.Unlock()
	if stopped {
		metrics.EventsDroppedTotal.WithLabelValues("shutdown").Inc()
		return
	}
	p.queue.Enqueue(ev)
}

// Start spawns the workers.
func (p *Processor) Start() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.started {
		return
	}
	p.started = true

	p.procCtx, p.cancel = context.WithCancel(context.Background())

	for i := 0; i < p.workers; i++ {
		p.wg.Add(1)
		go p.worker(i)
	}
	log.Printf("[INFO] Event Processor: started %d workers", p.workers)
}

func (p *Processor) worker(id int) {
	defer p.wg.Done()
	for {
		if p.procCtx.Err() != nil {
			return
		}
		ev := p.queue.Pull(p.procCtx, pullWait)
		if ev == nil {
			// Drain phase: exit once shutdown has started and the
			// queue is empty; otherwise re-check and keep pulling.
			if p.isStopped() && p.queue.Len() == 0 {
				return
			}
			continue
		}
		p.runOne(p.procCtx, id, ev)
	}
}

func (p *Processor) isStopped() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.stopped
}

// runOne wraps the pipeline so a panic kills the event, never the worker.
func (p *Processor) runOne(ctx context.Context, id int, ev *ProcessingEvent) {
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			log.Printf("[ERROR] Event Processor: worker %d panic on camera %s: %v", id, ev.Camera.Name, r)
			metrics.WorkerExceptionsTotal.Inc()
			p.stats.RecordFailure("worker_panic", time.Since(start))
			time.Sleep(time.Second)
		}
	}()

	err := p.process(ctx, ev)
	elapsed := time.Since(start)
	metrics.ProcessingDuration.Observe(float64(elapsed.Milliseconds()))

	if err != nil {
		log.Printf("[ERROR] Event Processor: event from camera %s failed: %v", ev.Camera.Name, err)
		metrics.EventsProcessedTotal.WithLabelValues("failure").Inc()
		p.stats.RecordFailure(errorKind(err), elapsed)
		return
	}
	metrics.EventsProcessedTotal.WithLabelValues("success").Inc()
	p.stats.RecordSuccess(elapsed)
}

// Stop drains in two phases: refuse new events immediately, then let workers
// finish queued work until the timeout, then cancel.
func (p *Processor) Stop(timeout time.Duration) {
	p.mu.Lock()
	if !p.started || p.stopped {
		p.mu.Unlock()
		return
	}
	p.stopped = true
	p.mu.Unlock()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(timeout):
		log.Printf("[WARN] Event Processor: shutdown timeout with %d events still queued, cancelling workers", p.queue.Len())
		p.cancel()
		<-done
	}
	p.cancel()
	log.Printf("[INFO] Event Processor: stopped")
}
