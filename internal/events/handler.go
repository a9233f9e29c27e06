package events

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/technosupport/ts-sentinel/internal/data"
	"github.com/technosupport/ts-sentinel/internal/metrics"
	"github.com/technosupport/ts-sentinel/internal/protect"
)

// cooldownCacheSize bounds the per-camera last-event cache. Evicting a cold
// camera just means its next event skips the cooldown check.
const cooldownCacheSize = 1024

// ClipFetcher downloads the clip covering an event window for protect
// cameras. Implementations must write to destPath.
type ClipFetcher interface {
	Download(ctx context.Context, protectCameraID string, start, end time.Time, destPath string) error
}

// ClipPathFunc names the transient clip file for one event window.
type ClipPathFunc func(eventID uuid.UUID) string

// Handler turns raw camera transitions into queued ProcessingEvents:
// camera lookup, detection filter, shared per-camera cooldown, optional clip
// download, then enqueue.
type Handler struct {
	cameras   data.CameraModel
	processor *Processor
	clips     ClipFetcher
	clipPath  ClipPathFunc

	mu        sync.Mutex
	lastEvent *lru.Cache[uuid.UUID, time.Time]
}

func NewHandler(cameras data.CameraModel, processor *Processor, clips ClipFetcher, clipPath ClipPathFunc) *Handler {
	lastEvent, _ := lru.New[uuid.UUID, time.Time](cooldownCacheSize)
	return &Handler{
		cameras:   cameras,
		processor: processor,
		clips:     clips,
		clipPath:  clipPath,
		lastEvent: lastEvent,
	}
}

// HandleProtect processes one parsed controller transition.
func (h *Handler) HandleProtect(ctx context.Context, raw *protect.RawEvent) {
	camera, err := h.cameras.GetByProtectID(ctx, raw.ProtectID)
	if err != nil {
		if !errors.Is(err, data.ErrRecordNotFound) {
			log.Printf("[ERROR] Event Handler: camera lookup for protect id %s failed: %v", raw.ProtectID, err)
		}
		metrics.EventsDroppedTotal.WithLabelValues("unknown_camera").Inc()
		return
	}
	if camera.SourceKind != data.SourceProtect {
		metrics.EventsDroppedTotal.WithLabelValues("wrong_source").Inc()
		return
	}
	h.admit(ctx, camera, raw.Timestamp, raw.Types, nil)
}

// HandleDirect processes an rtsp/usb detection that already carries a frame.
func (h *Handler) HandleDirect(ctx context.Context, cameraID uuid.UUID, ts time.Time, types []string, frameJPEG []byte) {
	camera, err := h.cameras.GetByID(ctx, cameraID)
	if err != nil {
		metrics.EventsDroppedTotal.WithLabelValues("unknown_camera").Inc()
		return
	}
	h.admit(ctx, camera, ts, types, frameJPEG)
}

func (h *Handler) admit(ctx context.Context, camera *data.Camera, ts time.Time, types []string, frameJPEG []byte) {
	if !camera.IsEnabled {
		metrics.EventsDroppedTotal.WithLabelValues("camera_disabled").Inc()
		return
	}

	passed := filterTypes(camera.DetectionFilter, types)
	if len(passed) == 0 {
		metrics.EventsDroppedTotal.WithLabelValues("filtered").Inc()
		return
	}

	// One shared cooldown timestamp per camera across all types, so a
	// person+vehicle+motion burst cannot fan into three events.
	if !h.passCooldown(camera, ts) {
		metrics.EventsDroppedTotal.WithLabelValues("cooldown").Inc()
		return
	}

	ev := &ProcessingEvent{
		Camera:    camera,
		Timestamp: ts,
		Types:     passed,
		FrameJPEG: frameJPEG,
	}

	if camera.SourceKind == data.SourceProtect && h.clips != nil {
		h.downloadClip(ctx, ev)
	}

	h.processor.Enqueue(ev)
}

// passCooldown consults and updates the last-enqueued map atomically.
func (h *Handler) passCooldown(camera *data.Camera, ts time.Time) bool {
	cooldown := time.Duration(camera.CooldownSeconds()) * time.Second

	h.mu.Lock()
	defer h.mu.Unlock()
	if last, ok := h.lastEvent.Get(camera.ID); ok && ts.Sub(last) < cooldown {
		return false
	}
	h.lastEvent.Add(camera.ID, ts)
	return true
}

// downloadClip fetches a clip centered on the event. A failed download is a
// fallback reason, never a discard.
func (h *Handler) downloadClip(ctx context.Context, ev *ProcessingEvent) {
	if ev.Camera.AnalysisMode == data.ModeSingleFrame {
		return
	}
	dest := h.clipPath(uuid.New())
	start := ev.Timestamp.Add(-15 * time.Second)
	end := ev.Timestamp.Add(15 * time.Second)

	if err := h.clips.Download(ctx, ev.Camera.ProtectID, start, end, dest); err != nil {
		log.Printf("[WARN] Event Handler: clip download for camera %s failed: %v", ev.Camera.Name, err)
		return
	}
	ev.ClipPath = dest
}

// filterTypes applies the per-camera detection filter. An empty set or a set
// containing only "motion" passes everything.
func filterTypes(filter, types []string) []string {
	if passAll(filter) {
		return types
	}
	allowed := make(map[string]bool, len(filter))
	for _, f := range filter {
		allowed[f] = true
	}
	var out []string
	for _, t := range types {
		if allowed[t] {
			out = append(out, t)
		}
	}
	return out
}

func passAll(filter []string) bool {
	if len(filter) == 0 {
		return true
	}
	return len(filter) == 1 && filter[0] == "motion"
}
