package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"time"

	"github.com/google/uuid"
)

// Priorities on the push gateway.
const (
	PriorityNormal = "normal"
	PriorityHigh   = "high"
)

// Kinds carried in the payload so clients can route sounds and channels.
const (
	KindEvent        = "EVENT"
	KindDoorbellRing = "DOORBELL_RING"
	KindCostAlert    = "COST_ALERT"
	KindVIP          = "VIP_SIGHTING"
)

// Push is one notification. CollapseKey replaces older notifications from the
// same camera instead of stacking them.
type Push struct {
	Kind         string    `json:"kind"`
	Title        string    `json:"title"`
	Body         string    `json:"body"`
	CollapseKey  string    `json:"collapse_key,omitempty"`
	Priority     string    `json:"priority"`
	CameraID     uuid.UUID `json:"camera_id,omitempty"`
	EventID      uuid.UUID `json:"event_id,omitempty"`
	ThumbnailURL string    `json:"thumbnail_url,omitempty"`
	Timestamp    time.Time `json:"timestamp"`
}

// Pusher posts notifications to the push gateway. Failures are logged and
// dropped; notifications are best-effort by contract.
type Pusher struct {
	base  string
	token string
	http  *http.Client
}

func NewPusher(base, token string) *Pusher {
	return &Pusher{
		base:  base,
		token: token,
		http:  &http.Client{Timeout: 5 * time.Second},
	}
}

// Enabled reports whether a gateway is configured at all.
func (p *Pusher) Enabled() bool { return p != nil && p.base != "" }

// Send posts one notification. The returned error is for callers that want
// to count failures; it never carries retry semantics.
func (p *Pusher) Send(ctx context.Context, push *Push) error {
	if !p.Enabled() {
		return nil
	}
	if push.Priority == "" {
		push.Priority = PriorityNormal
	}
	if push.Timestamp.IsZero() {
		push.Timestamp = time.Now().UTC()
	}

	payload, err := json.Marshal(push)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.base+"/push", bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if p.token != "" {
		req.Header.Set("Authorization", "Bearer "+p.token)
	}

	resp, err := p.http.Do(req)
	if err != nil {
		return fmt.Errorf("push send: %w", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))

	if resp.StatusCode >= 300 {
		return fmt.Errorf("push http %d", resp.StatusCode)
	}
	return nil
}

// SendEvent pushes a stored event's description, collapsing per camera.
func (p *Pusher) SendEvent(ctx context.Context, cameraID, eventID uuid.UUID, cameraName, description, thumbnailURL string, vip bool) {
	push := &Push{
		Kind:         KindEvent,
		Title:        cameraName,
		Body:         description,
		CollapseKey:  cameraID.String(),
		CameraID:     cameraID,
		EventID:      eventID,
		ThumbnailURL: thumbnailURL,
	}
	if vip {
		push.Kind = KindVIP
		push.Priority = PriorityHigh
	}
	if err := p.Send(ctx, push); err != nil {
		log.Printf("[WARN] Notify: event push for camera %s failed: %v", cameraName, err)
	}
}

// SendDoorbellRing is the low-latency ring push fired before AI dispatch.
func (p *Pusher) SendDoorbellRing(ctx context.Context, cameraID uuid.UUID, cameraName, thumbnailURL string, ts time.Time) {
	err := p.Send(ctx, &Push{
		Kind:         KindDoorbellRing,
		Title:        cameraName,
		Body:         "Someone is at the door",
		Priority:     PriorityHigh,
		CameraID:     cameraID,
		ThumbnailURL: thumbnailURL,
		Timestamp:    ts,
	})
	if err != nil {
		log.Printf("[WARN] Notify: doorbell push for camera %s failed: %v", cameraName, err)
	}
}

// SendCostAlert notifies when spend crosses a budget fraction.
func (p *Pusher) SendCostAlert(ctx context.Context, window string, frac float64) {
	err := p.Send(ctx, &Push{
		Kind:        KindCostAlert,
		Title:       "AI spend alert",
		Body:        fmt.Sprintf("%s AI budget at %.0f%%", window, frac*100),
		CollapseKey: "cost_alert_" + window,
		Priority:    PriorityHigh,
	})
	if err != nil {
		log.Printf("[WARN] Notify: cost alert push failed: %v", err)
	}
}
