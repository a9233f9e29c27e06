package data

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
)

// Camera source kinds.
const (
	SourceRTSP    = "rtsp"
	SourceUSB     = "usb"
	SourceProtect = "protect"
)

// Analysis modes.
const (
	ModeSingleFrame = "single_frame"
	ModeMultiFrame  = "multi_frame"
	ModeVideoNative = "video_native"
)

// Camera represents a configured video source. The pipeline treats cameras as
// immutable; only the configuration surface mutates them.
type Camera struct {
	ID              uuid.UUID `json:"id"`
	Name            string    `json:"name"`
	SourceKind      string    `json:"source_kind"` // rtsp | usb | protect
	IsEnabled       bool      `json:"is_enabled"`
	DetectionFilter []string  `json:"detection_filter"` // empty = all
	AnalysisMode    string    `json:"analysis_mode"`
	CustomPrompt    string    `json:"custom_prompt,omitempty"`
	IsDoorbell      bool      `json:"is_doorbell"`
	AudioEnabled    bool      `json:"audio_enabled"`
	MotionCooldown  int       `json:"motion_cooldown_seconds"` // seconds, default 60
	ProtectID       string    `json:"protect_id,omitempty"`    // controller-side id
	MacAddress      string    `json:"mac_address,omitempty"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// CooldownSeconds returns the per-camera cooldown with the 60s default applied.
func (c *Camera) CooldownSeconds() int {
	if c.MotionCooldown <= 0 {
		return 60
	}
	return c.MotionCooldown
}

type CameraModel struct {
	DB DBTX
}

const cameraColumns = `
	id, name, source_kind, is_enabled, detection_filter, analysis_mode,
	custom_prompt, is_doorbell, audio_enabled, motion_cooldown_seconds,
	protect_id, mac_address, created_at, updated_at`

func scanCamera(row interface{ Scan(...any) error }) (*Camera, error) {
	var c Camera
	var prompt, protectID, mac sql.NullString
	err := row.Scan(
		&c.ID, &c.Name, &c.SourceKind, &c.IsEnabled, pq.Array(&c.DetectionFilter),
		&c.AnalysisMode, &prompt, &c.IsDoorbell, &c.AudioEnabled, &c.MotionCooldown,
		&protectID, &mac, &c.CreatedAt, &c.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, ErrRecordNotFound
	}
	if err != nil {
		return nil, err
	}
	c.CustomPrompt = prompt.String
	c.ProtectID = protectID.String
	c.MacAddress = mac.String
	return &c, nil
}

func (m CameraModel) GetByID(ctx context.Context, id uuid.UUID) (*Camera, error) {
	query := `SELECT ` + cameraColumns + ` FROM cameras WHERE id = $1`
	return scanCamera(m.DB.QueryRowContext(ctx, query, id))
}

// GetByProtectID resolves a camera by the controller-side id carried in
// protect state messages.
func (m CameraModel) GetByProtectID(ctx context.Context, protectID string) (*Camera, error) {
	query := `SELECT ` + cameraColumns + ` FROM cameras WHERE protect_id = $1`
	return scanCamera(m.DB.QueryRowContext(ctx, query, protectID))
}

func (m CameraModel) ListEnabled(ctx context.Context) ([]*Camera, error) {
	query := `SELECT ` + cameraColumns + ` FROM cameras WHERE is_enabled = true ORDER BY name`
	rows, err := m.DB.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*Camera
	for rows.Next() {
		c, err := scanCamera(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (m CameraModel) Create(ctx context.Context, c *Camera) error {
	query := `
		INSERT INTO cameras (
			name, source_kind, is_enabled, detection_filter, analysis_mode,
			custom_prompt, is_doorbell, audio_enabled, motion_cooldown_seconds,
			protect_id, mac_address
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		RETURNING id, created_at, updated_at`

	return m.DB.QueryRowContext(ctx, query,
		c.Name, c.SourceKind, c.IsEnabled, pq.Array(c.DetectionFilter), c.AnalysisMode,
		nullStr(c.CustomPrompt), c.IsDoorbell, c.AudioEnabled, c.MotionCooldown,
		nullStr(c.ProtectID), nullStr(c.MacAddress),
	).Scan(&c.ID, &c.CreatedAt, &c.UpdatedAt)
}

func nullStr(s string) any {
	if s == "" {
		return nil
	}
	return s
}
