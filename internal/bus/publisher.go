package bus

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
)

// Publisher pushes per-camera signals to the message bus. All publishes are
// best-effort; a disconnected bus is skipped, not retried forever.
type Publisher struct {
	conn       *nats.Conn
	root       string
	maxRetries int
}

func NewPublisher(conn *nats.Conn, root string, maxRetries int) *Publisher {
	if root == "" {
		root = "sentinel"
	}
	return &Publisher{conn: conn, root: root, maxRetries: maxRetries}
}

// Connected reports whether the bus is reachable right now.
func (p *Publisher) Connected() bool {
	return p.conn != nil && p.conn.IsConnected()
}

func (p *Publisher) subject(cameraID uuid.UUID, leaf string) string {
	return fmt.Sprintf("%s.camera.%s.%s", p.root, cameraID, leaf)
}

func (p *Publisher) publish(subject string, payload any) error {
	if !p.Connected() {
		return fmt.Errorf("bus not connected")
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal error: %w", err)
	}

	for i := 0; i <= p.maxRetries; i++ {
		err = p.conn.Publish(subject, data)
		if err == nil {
			return nil
		}
		time.Sleep(time.Duration(i*100) * time.Millisecond)
	}
	return fmt.Errorf("publish to %s failed after %d retries: %w", subject, p.maxRetries, err)
}

// EventPayload is the full per-event bus message.
type EventPayload struct {
	ID                 uuid.UUID `json:"id"`
	CameraID           uuid.UUID `json:"camera_id"`
	CameraName         string    `json:"camera_name"`
	Timestamp          time.Time `json:"timestamp"`
	Description        string    `json:"description"`
	Confidence         int       `json:"confidence"`
	SmartDetectionType string    `json:"smart_detection_type"`
	ObjectsDetected    []string  `json:"objects_detected"`
	ThumbnailURL       string    `json:"thumbnail_url,omitempty"`
	IsDoorbellRing     bool      `json:"is_doorbell_ring"`
}

// LastEventPayload is the compact summary kept on the last_event topic.
type LastEventPayload struct {
	ID                 uuid.UUID `json:"id"`
	Timestamp          time.Time `json:"timestamp"`
	Description        string    `json:"description"`
	SmartDetectionType string    `json:"smart_detection_type"`
}

// CountsPayload carries refreshed activity counters per camera.
type CountsPayload struct {
	EventsToday    int `json:"events_today"`
	EventsThisWeek int `json:"events_this_week"`
}

type activityPayload struct {
	State       string     `json:"state"`
	LastEventAt *time.Time `json:"last_event_at,omitempty"`
}

func (p *Publisher) PublishEvent(ev *EventPayload) error {
	return p.publish(p.subject(ev.CameraID, "event"), ev)
}

func (p *Publisher) PublishLastEvent(cameraID uuid.UUID, ev *LastEventPayload) error {
	return p.publish(p.subject(cameraID, "last_event"), ev)
}

func (p *Publisher) PublishActivityOn(cameraID uuid.UUID, lastEventAt time.Time) error {
	return p.publish(p.subject(cameraID, "activity"), activityPayload{State: "ON", LastEventAt: &lastEventAt})
}

func (p *Publisher) PublishActivityOff(cameraID uuid.UUID) error {
	return p.publish(p.subject(cameraID, "activity"), activityPayload{State: "OFF"})
}

func (p *Publisher) PublishCounts(cameraID uuid.UUID, counts *CountsPayload) error {
	return p.publish(p.subject(cameraID, "counts"), counts)
}

type sensorPayload struct {
	State string `json:"state"`
}

// PublishSensor mirrors a bridge sensor transition onto the bus so smart-home
// consumers can subscribe without speaking the bridge protocol.
func (p *Publisher) PublishSensor(cameraID uuid.UUID, kind string, on bool) error {
	state := "OFF"
	if on {
		state = "ON"
	}
	return p.publish(p.subject(cameraID, "sensor."+kind), sensorPayload{State: state})
}
