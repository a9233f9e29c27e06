package anomaly

import (
	"context"
	"log"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/technosupport/ts-sentinel/internal/data"
)

// BaselineWeeks is the trailing window the hourly baseline is computed over.
const BaselineWeeks = 4

const refreshInterval = time.Hour

// Scorer keeps a per-camera hour-of-week activity baseline and scores how
// unusual an event is for its time slot. Buckets are dow*24+hour.
type Scorer struct {
	events data.EventModel

	mu        sync.Mutex
	baselines map[uuid.UUID]*baseline
}

type baseline struct {
	counts    map[int]int
	refreshed time.Time
}

func NewScorer(events data.EventModel) *Scorer {
	return &Scorer{events: events, baselines: make(map[uuid.UUID]*baseline)}
}

func bucketFor(ts time.Time) int {
	t := ts.UTC()
	return int(t.Weekday())*24 + t.Hour()
}

// Score returns an anomaly score in [0, 100] for one event. Quiet hours score
// high; hours with steady activity score near zero. A camera with no history
// at all scores 50 (unknown, not anomalous).
func (s *Scorer) Score(ctx context.Context, cameraID uuid.UUID, ts time.Time) float64 {
	b, err := s.baselineFor(ctx, cameraID, ts)
	if err != nil {
		log.Printf("[WARN] Anomaly: baseline load for camera %s failed: %v", cameraID, err)
		return 0
	}

	total := 0
	for _, n := range b.counts {
		total += n
	}
	if total == 0 {
		return 50
	}

	// Expected events for this slot per week vs the observed mean slot rate.
	observed := float64(b.counts[bucketFor(ts)]) / BaselineWeeks
	meanRate := float64(total) / (BaselineWeeks * 168)

	if meanRate == 0 {
		return 50
	}
	// Activity at or above the camera's mean hour is ordinary; an event in a
	// slot that historically sees nothing approaches 100.
	ratio := observed / meanRate
	score := 100 * math.Exp(-ratio)
	return math.Round(score*10) / 10
}

// Record folds a fresh event into the in-memory baseline so repeated events
// in the same hour decay their own anomaly.
func (s *Scorer) Record(cameraID uuid.UUID, ts time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.baselines[cameraID]
	if !ok {
		return
	}
	b.counts[bucketFor(ts)]++
}

func (s *Scorer) baselineFor(ctx context.Context, cameraID uuid.UUID, now time.Time) (*baseline, error) {
	s.mu.Lock()
	b, ok := s.baselines[cameraID]
	if ok && now.Sub(b.refreshed) < refreshInterval {
		s.mu.Unlock()
		return b, nil
	}
	s.mu.Unlock()

	counts, err := s.events.CountForHourOfWeek(ctx, cameraID, now.Add(-BaselineWeeks*7*24*time.Hour))
	if err != nil {
		return nil, err
	}

	b = &baseline{counts: counts, refreshed: now}
	s.mu.Lock()
	s.baselines[cameraID] = b
	s.mu.Unlock()
	return b, nil
}
