package events

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/technosupport/ts-sentinel/internal/bus"
	"github.com/technosupport/ts-sentinel/internal/data"
	"github.com/technosupport/ts-sentinel/internal/entities"
	"github.com/technosupport/ts-sentinel/internal/metrics"
)

const fanoutTimeout = 10 * time.Second

// Alert thresholds for the cost fan-out stage.
const costAlertThreshold = 0.8

// SensorSink is the bridge adapter surface the fan-out drives.
type SensorSink interface {
	TriggerMotion(cameraID uuid.UUID)
	TriggerOccupancy(cameraID uuid.UUID)
	TriggerVehicle(cameraID uuid.UUID)
	TriggerAnimal(cameraID uuid.UUID)
	TriggerPackage(cameraID uuid.UUID, description string)
	TriggerDoorbell(cameraID uuid.UUID)
}

// BusSink is the message-bus surface.
type BusSink interface {
	Connected() bool
	PublishEvent(ev *bus.EventPayload) error
	PublishLastEvent(cameraID uuid.UUID, ev *bus.LastEventPayload) error
	PublishActivityOn(cameraID uuid.UUID, lastEventAt time.Time) error
	PublishCounts(cameraID uuid.UUID, counts *bus.CountsPayload) error
}

// PushSink is the push-gateway surface.
type PushSink interface {
	SendEvent(ctx context.Context, cameraID, eventID uuid.UUID, cameraName, description, thumbnailURL string, vip bool)
	SendDoorbellRing(ctx context.Context, cameraID uuid.UUID, cameraName, thumbnailURL string, ts time.Time)
	SendCostAlert(ctx context.Context, window string, frac float64)
}

// EntityMatcher is the entity service surface used post-persist.
type EntityMatcher interface {
	MatchOrCreate(ctx context.Context, q []float32, entityType string, eventID uuid.UUID, eventTS time.Time, description string) (*entities.MatchResult, error)
}

// CostAlerts exposes how close spend is to each budget.
type CostAlerts interface {
	Thresholds(ctx context.Context) (dailyFrac, monthlyFrac float64, err error)
}

// AnomalyScorer scores and updates the activity baseline.
type AnomalyScorer interface {
	Score(ctx context.Context, cameraID uuid.UUID, ts time.Time) float64
	Record(cameraID uuid.UUID, ts time.Time)
}

// ThumbnailSigner builds signed public thumbnail URLs.
type ThumbnailSigner interface {
	ThumbnailURL(eventID uuid.UUID) (string, error)
}

// FanoutSettings is the slice of the settings service the fan-out consults.
type FanoutSettings interface {
	StoreAnalysisFrames(ctx context.Context) bool
	FaceRecognitionEnabled(ctx context.Context) bool
	VehicleRecognitionEnabled(ctx context.Context) bool
}

// Fanout dispatches the detached post-event tasks. Every task runs on its own
// goroutine with its own deadline; failures are counted and absorbed.
type Fanout struct {
	Repos    *data.Repositories
	Sensors  SensorSink
	Bus      BusSink
	Push     PushSink
	Entities EntityMatcher
	Costs    CostAlerts
	Anomaly  AnomalyScorer
	Signer   ThumbnailSigner
	Settings FanoutSettings
	Counts   *Counter
}

// StoreFrames reports whether analysis frames should be persisted.
func (f *Fanout) StoreFrames(ctx context.Context) bool {
	return f.Settings != nil && f.Settings.StoreAnalysisFrames(ctx)
}

// DoorbellRing fires the low-latency ring path before AI dispatch: push
// notification and the stateless doorbell sensor.
func (f *Fanout) DoorbellRing(ev *ProcessingEvent) {
	f.spawn("doorbell_ring", func(ctx context.Context) error {
		if f.Push != nil {
			f.Push.SendDoorbellRing(ctx, ev.Camera.ID, ev.Camera.Name, "", ev.Timestamp)
		}
		if f.Sensors != nil {
			f.Sensors.TriggerDoorbell(ev.Camera.ID)
		}
		return nil
	})
}

// Dispatch spawns the post-persist tasks. The worker returns immediately.
func (f *Fanout) Dispatch(ev *ProcessingEvent, stored *data.Event, embedding []float32) {
	f.spawn("sensors", func(ctx context.Context) error {
		f.triggerSensors(ev, stored)
		return nil
	})
	f.spawn("bus_event", func(ctx context.Context) error {
		return f.publishEvent(ev, stored)
	})
	f.spawn("bus_status", func(ctx context.Context) error {
		return f.publishStatus(ctx, ev, stored)
	})
	f.spawn("push", func(ctx context.Context) error {
		f.pushEvent(ctx, ev, stored)
		return nil
	})
	if len(embedding) > 0 {
		f.spawn("event_embedding", func(ctx context.Context) error {
			return f.Repos.Events.SetEmbedding(ctx, stored.ID, embedding)
		})
		f.spawn("entity_match", func(ctx context.Context) error {
			return f.matchEntity(ctx, ev, stored, embedding)
		})
	}
	f.spawn("cost_alerts", func(ctx context.Context) error {
		return f.checkCostThresholds(ctx)
	})
	f.spawn("anomaly", func(ctx context.Context) error {
		if f.Anomaly == nil {
			return nil
		}
		score := f.Anomaly.Score(ctx, ev.Camera.ID, ev.Timestamp)
		f.Anomaly.Record(ev.Camera.ID, ev.Timestamp)
		if score > 80 {
			log.Printf("[INFO] Fanout: anomalous activity on camera %s (score %.1f)", ev.Camera.Name, score)
		}
		return nil
	})
}

// spawn runs one detached task with recovery, its own deadline, and a
// per-category failure counter.
func (f *Fanout) spawn(category string, fn func(ctx context.Context) error) {
	go func() {
		defer func() {
			if r := recover(); r != nil {
				metrics.FanoutFailuresTotal.WithLabelValues(category).Inc()
				log.Printf("[ERROR] Fanout: %s task panic: %v", category, r)
			}
		}()
		ctx, cancel := context.WithTimeout(context.Background(), fanoutTimeout)
		defer cancel()
		if err := fn(ctx); err != nil {
			metrics.FanoutFailuresTotal.WithLabelValues(category).Inc()
			log.Printf("[WARN] Fanout: %s task failed: %v", category, err)
		}
	}()
}

func (f *Fanout) triggerSensors(ev *ProcessingEvent, stored *data.Event) {
	if f.Sensors == nil {
		return
	}
	f.Sensors.TriggerMotion(ev.Camera.ID)
	switch stored.SmartDetectionType {
	case "person":
		f.Sensors.TriggerOccupancy(ev.Camera.ID)
	case "vehicle":
		f.Sensors.TriggerVehicle(ev.Camera.ID)
	case "animal":
		f.Sensors.TriggerAnimal(ev.Camera.ID)
	case "package":
		f.Sensors.TriggerPackage(ev.Camera.ID, stored.Description)
	}
}

func (f *Fanout) publishEvent(ev *ProcessingEvent, stored *data.Event) error {
	if f.Bus == nil || !f.Bus.Connected() {
		return nil
	}
	payload := &bus.EventPayload{
		ID:                 stored.ID,
		CameraID:           stored.CameraID,
		CameraName:         ev.Camera.Name,
		Timestamp:          stored.Timestamp,
		Description:        stored.Description,
		Confidence:         stored.Confidence,
		SmartDetectionType: stored.SmartDetectionType,
		ObjectsDetected:    stored.ObjectsDetected,
		IsDoorbellRing:     stored.IsDoorbellRing,
	}
	payload.ThumbnailURL = f.signedThumbnail(stored)
	return f.Bus.PublishEvent(payload)
}

func (f *Fanout) publishStatus(ctx context.Context, ev *ProcessingEvent, stored *data.Event) error {
	if f.Bus == nil || !f.Bus.Connected() {
		return nil
	}
	if err := f.Bus.PublishLastEvent(stored.CameraID, &bus.LastEventPayload{
		ID:                 stored.ID,
		Timestamp:          stored.Timestamp,
		Description:        stored.Description,
		SmartDetectionType: stored.SmartDetectionType,
	}); err != nil {
		return err
	}
	if err := f.Bus.PublishActivityOn(stored.CameraID, stored.Timestamp); err != nil {
		return err
	}

	today, week, err := f.countsFor(ctx, stored)
	if err != nil {
		return err
	}
	return f.Bus.PublishCounts(stored.CameraID, &bus.CountsPayload{
		EventsToday:    today,
		EventsThisWeek: week,
	})
}

func (f *Fanout) countsFor(ctx context.Context, stored *data.Event) (int, int, error) {
	now := stored.Timestamp
	if f.Counts != nil {
		if err := f.Counts.Bump(ctx, stored.CameraID, now); err != nil {
			log.Printf("[WARN] Fanout: count bump failed: %v", err)
		}
		today, err := f.Counts.Today(ctx, stored.CameraID, now)
		if err != nil {
			return 0, 0, fmt.Errorf("events_today count: %w", err)
		}
		week, err := f.Counts.ThisWeek(ctx, stored.CameraID, now)
		if err != nil {
			return 0, 0, fmt.Errorf("events_this_week count: %w", err)
		}
		return today, week, nil
	}

	dayStart := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	weekStart := dayStart.AddDate(0, 0, -weekdayOffset(dayStart.Weekday()))
	today, err := f.Repos.Events.CountSince(ctx, stored.CameraID, dayStart)
	if err != nil {
		return 0, 0, fmt.Errorf("events_today count: %w", err)
	}
	week, err := f.Repos.Events.CountSince(ctx, stored.CameraID, weekStart)
	if err != nil {
		return 0, 0, fmt.Errorf("events_this_week count: %w", err)
	}
	return today, week, nil
}

func (f *Fanout) pushEvent(ctx context.Context, ev *ProcessingEvent, stored *data.Event) {
	if f.Push == nil || stored.IsDoorbellRing {
		return
	}
	f.Push.SendEvent(ctx, stored.CameraID, stored.ID, ev.Camera.Name, stored.Description, f.signedThumbnail(stored), false)
}

func (f *Fanout) signedThumbnail(stored *data.Event) string {
	if f.Signer == nil || stored.ThumbnailPath == nil {
		return ""
	}
	url, err := f.Signer.ThumbnailURL(stored.ID)
	if err != nil {
		log.Printf("[WARN] Fanout: thumbnail URL signing failed: %v", err)
		return ""
	}
	return url
}

// matchEntity links the event to a recognized entity and runs the
// entity-alert enrichment on a match.
func (f *Fanout) matchEntity(ctx context.Context, ev *ProcessingEvent, stored *data.Event, embedding []float32) error {
	if f.Entities == nil || f.Settings == nil {
		return nil
	}

	entityType := ""
	switch {
	case ev.HasType("person") && f.Settings.FaceRecognitionEnabled(ctx):
		entityType = data.EntityPerson
	case ev.HasType("vehicle") && f.Settings.VehicleRecognitionEnabled(ctx):
		entityType = data.EntityVehicle
	}
	if entityType == "" {
		return nil
	}

	res, err := f.Entities.MatchOrCreate(ctx, embedding, entityType, stored.ID, stored.Timestamp, stored.Description)
	if err != nil {
		return fmt.Errorf("entity match: %w", err)
	}
	if res == nil {
		// No match and auto-creation disabled for this type.
		return nil
	}
	return f.enrich(ctx, ev, stored, res)
}

// enrich rewrites the description with the matched entity's name, sets
// recognition_status, suppresses blocked entities, and promotes VIPs.
func (f *Fanout) enrich(ctx context.Context, ev *ProcessingEvent, stored *data.Event, res *entities.MatchResult) error {
	entity := res.Entity

	status := "stranger"
	description := stored.Description
	switch {
	case entity.IsBlocked:
		status = "known"
	case entity.Name != nil && *entity.Name != "":
		status = "known"
		description = *entity.Name + ": " + stored.Description
	case res.Created:
		status = "stranger"
	default:
		status = "unknown"
	}

	if err := f.Repos.Events.UpdateDescription(ctx, stored.ID, description, status); err != nil {
		return fmt.Errorf("enrichment update: %w", err)
	}

	if entity.IsBlocked {
		return nil
	}
	if entity.IsVIP && f.Push != nil {
		name := "Known visitor"
		if entity.Name != nil && *entity.Name != "" {
			name = *entity.Name
		}
		f.Push.SendEvent(ctx, stored.CameraID, stored.ID, ev.Camera.Name, name+" spotted: "+stored.Description, f.signedThumbnail(stored), true)
	}
	return nil
}

func (f *Fanout) checkCostThresholds(ctx context.Context) error {
	if f.Costs == nil || f.Push == nil {
		return nil
	}
	daily, monthly, err := f.Costs.Thresholds(ctx)
	if err != nil {
		return fmt.Errorf("cost thresholds: %w", err)
	}
	if daily >= costAlertThreshold {
		f.Push.SendCostAlert(ctx, "daily", daily)
	}
	if monthly >= costAlertThreshold {
		f.Push.SendCostAlert(ctx, "monthly", monthly)
	}
	return nil
}
