package events

import (
	"sort"
	"sync"
	"time"
)

const durationWindow = 1000

// Stats tracks pipeline outcomes and a rolling window of per-event
// processing durations.
type Stats struct {
	mu         sync.Mutex
	processed  int
	failed     int
	errorKinds map[string]int
	durations  []time.Duration
	next       int
	full       bool
}

func NewStats() *Stats {
	return &Stats{
		errorKinds: make(map[string]int),
		durations:  make([]time.Duration, durationWindow),
	}
}

func (s *Stats) RecordSuccess(d time.Duration) {
	s.mu.Lock()
	s.processed++
	s.push(d)
	s.mu.Unlock()
}

func (s *Stats) RecordFailure(kind string, d time.Duration) {
	s.mu.Lock()
	s.failed++
	s.errorKinds[kind]++
	s.push(d)
	s.mu.Unlock()
}

func (s *Stats) push(d time.Duration) {
	s.durations[s.next] = d
	s.next++
	if s.next == durationWindow {
		s.next = 0
		s.full = true
	}
}

// Snapshot is a point-in-time view for the health endpoint.
type Snapshot struct {
	Processed  int            `json:"processed"`
	Failed     int            `json:"failed"`
	ErrorKinds map[string]int `json:"error_kinds"`
	P50        time.Duration  `json:"p50"`
	P95        time.Duration  `json:"p95"`
	P99        time.Duration  `json:"p99"`
}

func (s *Stats) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := s.next
	if s.full {
		n = durationWindow
	}
	window := make([]time.Duration, n)
	copy(window, s.durations[:n])
	sort.Slice(window, func(i, j int) bool { return window[i] < window[j] })

	kinds := make(map[string]int, len(s.errorKinds))
	for k, v := range s.errorKinds {
		kinds[k] = v
	}

	return Snapshot{
		Processed:  s.processed,
		Failed:     s.failed,
		ErrorKinds: kinds,
		P50:        percentile(window, 50),
		P95:        percentile(window, 95),
		P99:        percentile(window, 99),
	}
}

func percentile(sorted []time.Duration, p int) time.Duration {
	if len(sorted) == 0 {
		return 0
	}
	idx := p * len(sorted) / 100
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	return sorted[idx]
}
