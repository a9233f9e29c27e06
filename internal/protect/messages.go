package protect

import (
	"encoding/json"
	"time"
)

// Canonical smart-detection labels used across the pipeline.
const (
	LabelMotion  = "motion"
	LabelPerson  = "person"
	LabelVehicle = "vehicle"
	LabelPackage = "package"
	LabelAnimal  = "animal"
	LabelRing    = "ring"
)

// stateMessage is one frame off the controller subscription. Only new_obj
// snapshots of camera state are of interest; everything else is dropped.
type stateMessage struct {
	Action string          `json:"action"`
	Model  string          `json:"modelKey"`
	NewObj json.RawMessage `json:"new_obj"`
}

type cameraState struct {
	ID                       string            `json:"id"`
	MAC                      string            `json:"mac"`
	IsMotionDetected         bool              `json:"is_motion_currently_detected"`
	IsPersonDetected         bool              `json:"is_person_currently_detected"`
	IsVehicleDetected        bool              `json:"is_vehicle_currently_detected"`
	IsPackageDetected        bool              `json:"is_package_currently_detected"`
	IsAnimalDetected         bool              `json:"is_animal_currently_detected"`
	IsRinging                bool              `json:"is_ringing"`
	LastSmartDetectEventIDs  map[string]string `json:"last_smart_detect_event_ids"`
	LastMotionTimestampMilli int64             `json:"last_motion"`
}

// RawEvent is a parsed camera state transition handed to the pipeline.
type RawEvent struct {
	ProtectID string
	MAC       string
	Timestamp time.Time
	Types     []string
}

// smartDetectKeyLabels maps subscription map keys to canonical labels. Both
// the bare label and the prefixed controller form are accepted.
var smartDetectKeyLabels = map[string]string{
	"motion":               LabelMotion,
	"person":               LabelPerson,
	"vehicle":              LabelVehicle,
	"package":              LabelPackage,
	"animal":               LabelAnimal,
	"smart_detect_motion":  LabelMotion,
	"smart_detect_person":  LabelPerson,
	"smart_detect_vehicle": LabelVehicle,
	"smart_detect_package": LabelPackage,
	"smart_detect_animal":  LabelAnimal,
}

// parseStateMessage extracts a RawEvent from one subscription frame. Returns
// nil for frames that are not camera updates or carry no detection at all.
func parseStateMessage(raw []byte, now time.Time) *RawEvent {
	var msg stateMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		return nil
	}
	if msg.Model != "" && msg.Model != "camera" {
		return nil
	}
	if len(msg.NewObj) == 0 {
		return nil
	}

	var state cameraState
	if err := json.Unmarshal(msg.NewObj, &state); err != nil {
		return nil
	}
	if state.ID == "" && state.MAC == "" {
		return nil
	}

	types := make(map[string]bool)
	if state.IsMotionDetected {
		types[LabelMotion] = true
	}
	if state.IsPersonDetected {
		types[LabelPerson] = true
	}
	if state.IsVehicleDetected {
		types[LabelVehicle] = true
	}
	if state.IsPackageDetected {
		types[LabelPackage] = true
	}
	if state.IsAnimalDetected {
		types[LabelAnimal] = true
	}
	for key := range state.LastSmartDetectEventIDs {
		if label, ok := smartDetectKeyLabels[key]; ok {
			types[label] = true
		}
	}
	if state.IsRinging {
		types[LabelRing] = true
	}
	if len(types) == 0 {
		return nil
	}

	ts := now
	if state.LastMotionTimestampMilli > 0 {
		ts = time.UnixMilli(state.LastMotionTimestampMilli).UTC()
	}

	out := make([]string, 0, len(types))
	for _, label := range []string{LabelMotion, LabelPerson, LabelVehicle, LabelPackage, LabelAnimal, LabelRing} {
		if types[label] {
			out = append(out, label)
		}
	}
	return &RawEvent{
		ProtectID: state.ID,
		MAC:       state.MAC,
		Timestamp: ts,
		Types:     out,
	}
}
