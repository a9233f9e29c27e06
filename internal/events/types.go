package events

import (
	"time"

	"github.com/technosupport/ts-sentinel/internal/data"
)

// ProcessingEvent is one queued unit of work: a qualifying camera detection
// plus whatever evidence ingestion already has in hand.
type ProcessingEvent struct {
	Camera    *data.Camera
	Timestamp time.Time
	Types     []string // canonical detection labels for this transition

	// Evidence. FrameJPEG is an in-memory snapshot from rtsp/usb sources;
	// ClipPath points at a downloaded clip for protect sources. Either or
	// both may be empty.
	FrameJPEG []byte
	ClipPath  string

	// Fallback reasons carried forward from evidence acquisition, before
	// the chain itself runs.
	FallbackReasons []string

	EnqueuedAt time.Time
}

// typePriority orders labels for choosing the stored smart_detection_type.
var typePriority = []string{"ring", "person", "vehicle", "package", "animal", "motion"}

// SmartDetectionType picks the most specific label for persistence.
func (e *ProcessingEvent) SmartDetectionType() string {
	for _, p := range typePriority {
		for _, t := range e.Types {
			if t == p {
				return p
			}
		}
	}
	return "motion"
}

// HasType reports whether one canonical label is present.
func (e *ProcessingEvent) HasType(label string) bool {
	for _, t := range e.Types {
		if t == label {
			return true
		}
	}
	return false
}

// IsRing reports a doorbell press event.
func (e *ProcessingEvent) IsRing() bool { return e.HasType("ring") }
