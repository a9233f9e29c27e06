package bridge

import (
	"log"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/technosupport/ts-sentinel/internal/metrics"
)

// Sensor kinds exposed on the bridge.
const (
	KindMotion    = "motion"
	KindOccupancy = "occupancy"
	KindVehicle   = "vehicle"
	KindAnimal    = "animal"
	KindPackage   = "package"
	KindDoorbell  = "doorbell"
)

// Config carries the auto-reset and force-clear durations.
type Config struct {
	MotionReset    time.Duration
	MotionMax      time.Duration
	OccupancyReset time.Duration
	OccupancyMax   time.Duration
	VehicleReset   time.Duration
	AnimalReset    time.Duration
	PackageReset   time.Duration
	CarrierSensors bool
}

func DefaultConfig() Config {
	return Config{
		MotionReset:    30 * time.Second,
		MotionMax:      10 * time.Minute,
		OccupancyReset: 5 * time.Minute,
		OccupancyMax:   30 * time.Minute,
		VehicleReset:   60 * time.Second,
		AnimalReset:    60 * time.Second,
		PackageReset:   60 * time.Second,
	}
}

// StateListener observes sensor transitions; the HAP accessory layer and the
// bus adapter both hang off this.
type StateListener func(cameraID uuid.UUID, kind string, on bool)

type sensorKey struct {
	cameraID uuid.UUID
	kind     string
}

// Bridge exposes cameras as typed auto-resetting sensors. One reset timer and
// at most one max-duration timer exist per (camera, kind); trigger cancels the
// pending reset before scheduling a new one.
type Bridge struct {
	cfg      Config
	listener StateListener

	mu       sync.Mutex
	states   map[sensorKey]bool
	resets   map[sensorKey]*time.Timer
	maxClear map[sensorKey]*time.Timer
	macToID  map[string]uuid.UUID
	stopped  bool
}

func New(cfg Config, listener StateListener) *Bridge {
	if listener == nil {
		listener = func(uuid.UUID, string, bool) {}
	}
	return &Bridge{
		cfg:      cfg,
		listener: listener,
		states:   make(map[sensorKey]bool),
		resets:   make(map[sensorKey]*time.Timer),
		maxClear: make(map[sensorKey]*time.Timer),
		macToID:  make(map[string]uuid.UUID),
	}
}

// RegisterMAC maps a controller-side MAC to the internal camera id.
func (b *Bridge) RegisterMAC(mac string, cameraID uuid.UUID) {
	b.mu.Lock()
	b.macToID[normalizeMAC(mac)] = cameraID
	b.mu.Unlock()
}

// ResolveMAC returns the internal id for a MAC-addressed input.
func (b *Bridge) ResolveMAC(mac string) (uuid.UUID, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	id, ok := b.macToID[normalizeMAC(mac)]
	return id, ok
}

func normalizeMAC(mac string) string {
	return strings.ToLower(strings.ReplaceAll(mac, "-", ":"))
}

// State reports the current flag of one sensor.
func (b *Bridge) State(cameraID uuid.UUID, kind string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.states[sensorKey{cameraID, kind}]
}

// TriggerMotion sets the motion flag and re-arms its auto-reset.
func (b *Bridge) TriggerMotion(cameraID uuid.UUID) {
	b.trigger(cameraID, KindMotion, b.cfg.MotionReset, b.cfg.MotionMax)
}

// TriggerOccupancy is fired only for person detections.
func (b *Bridge) TriggerOccupancy(cameraID uuid.UUID) {
	b.trigger(cameraID, KindOccupancy, b.cfg.OccupancyReset, b.cfg.OccupancyMax)
}

func (b *Bridge) TriggerVehicle(cameraID uuid.UUID) {
	b.trigger(cameraID, KindVehicle, b.cfg.VehicleReset, 0)
}

func (b *Bridge) TriggerAnimal(cameraID uuid.UUID) {
	b.trigger(cameraID, KindAnimal, b.cfg.AnimalReset, 0)
}

// TriggerPackage fires the generic package sensor and, when carrier sensors
// are enabled, the per-carrier one extracted from the description.
func (b *Bridge) TriggerPackage(cameraID uuid.UUID, description string) {
	b.trigger(cameraID, KindPackage, b.cfg.PackageReset, 0)
	if !b.cfg.CarrierSensors {
		return
	}
	if carrier := ExtractCarrier(description); carrier != "" {
		b.trigger(cameraID, KindPackage+"_"+carrier, b.cfg.PackageReset, 0)
	}
}

// TriggerDoorbell emits a stateless press; no reset is scheduled.
func (b *Bridge) TriggerDoorbell(cameraID uuid.UUID) {
	b.mu.Lock()
	stopped := b.stopped
	b.mu.Unlock()
	if stopped {
		return
	}
	metrics.SensorTriggersTotal.WithLabelValues(KindDoorbell).Inc()
	b.listener(cameraID, KindDoorbell, true)
}

func (b *Bridge) trigger(cameraID uuid.UUID, kind string, reset, maxDur time.Duration) {
	key := sensorKey{cameraID, kind}

	b.mu.Lock()
	if b.stopped {
		b.mu.Unlock()
		return
	}

	wasOn := b.states[key]
	b.states[key] = true

	if t, ok := b.resets[key]; ok {
		t.Stop()
	}
	b.resets[key] = time.AfterFunc(reset, func() { b.clear(key, false) })

	// The max-duration clear is armed once per ON period and survives
	// re-triggers, so a continuously re-triggered sensor still turns off.
	if maxDur > 0 && !wasOn {
		if t, ok := b.maxClear[key]; ok {
			t.Stop()
		}
		b.maxClear[key] = time.AfterFunc(maxDur, func() { b.clear(key, true) })
	}
	b.mu.Unlock()

	metrics.SensorTriggersTotal.WithLabelValues(kind).Inc()
	if !wasOn {
		b.listener(cameraID, kind, true)
	}
}

func (b *Bridge) clear(key sensorKey, forced bool) {
	b.mu.Lock()
	if !b.states[key] {
		b.mu.Unlock()
		return
	}
	b.states[key] = false
	if t, ok := b.resets[key]; ok {
		t.Stop()
		delete(b.resets, key)
	}
	if t, ok := b.maxClear[key]; ok {
		t.Stop()
		delete(b.maxClear, key)
	}
	b.mu.Unlock()

	if forced {
		log.Printf("[WARN] Bridge: force-clearing %s sensor on camera %s after max duration", key.kind, key.cameraID)
	}
	b.listener(key.cameraID, key.kind, false)
}

// Shutdown cancels every timer and clears all sensor states.
func (b *Bridge) Shutdown() {
	b.mu.Lock()
	b.stopped = true
	for _, t := range b.resets {
		t.Stop()
	}
	for _, t := range b.maxClear {
		t.Stop()
	}
	b.resets = make(map[sensorKey]*time.Timer)
	b.maxClear = make(map[sensorKey]*time.Timer)

	active := make([]sensorKey, 0, len(b.states))
	for key, on := range b.states {
		if on {
			active = append(active, key)
		}
	}
	b.states = make(map[sensorKey]bool)
	b.mu.Unlock()

	for _, key := range active {
		b.listener(key.cameraID, key.kind, false)
	}
}
