package data

import (
	"context"
	"database/sql"
	"time"
)

// Well-known setting keys.
const (
	SettingProviderOrder     = "ai_provider_order"
	SettingDescriptionPrompt = "settings_description_prompt"
	SettingABTestEnabled     = "settings_ab_test_enabled"
	SettingABTestPrompt      = "settings_ab_test_prompt"
	SettingFaceRecognition   = "face_recognition_enabled"
	SettingVehicleRecog      = "vehicle_recognition_enabled"
	SettingStoreFrames       = "store_analysis_frames"
	SettingPersonThreshold   = "person_match_threshold"
	SettingVehicleThreshold  = "vehicle_match_threshold"
	SettingAutoCreatePersons = "auto_create_persons"
	SettingAutoCreateVehicle = "auto_create_vehicles"
)

// SettingAPIKeyPrefix + provider tag is the key of an encrypted API key row.
const SettingAPIKeyPrefix = "ai_api_key_"

// Setting is one row of the system settings table. Encrypted values carry the
// AES-GCM envelope fields; plain values use only Value.
type Setting struct {
	Key        string    `json:"key"`
	Value      string    `json:"value"`
	KID        *string   `json:"kid,omitempty"`
	Nonce      []byte    `json:"-"`
	Ciphertext []byte    `json:"-"`
	Tag        []byte    `json:"-"`
	UpdatedAt  time.Time `json:"updated_at"`
}

type SettingModel struct {
	DB DBTX
}

func (m SettingModel) Get(ctx context.Context, key string) (*Setting, error) {
	query := `SELECT key, value, kid, nonce, ciphertext, tag, updated_at FROM system_settings WHERE key = $1`
	var s Setting
	var value sql.NullString
	err := m.DB.QueryRowContext(ctx, query, key).Scan(
		&s.Key, &value, &s.KID, &s.Nonce, &s.Ciphertext, &s.Tag, &s.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, ErrRecordNotFound
	}
	if err != nil {
		return nil, err
	}
	s.Value = value.String
	return &s, nil
}

func (m SettingModel) Upsert(ctx context.Context, s *Setting) error {
	query := `
		INSERT INTO system_settings (key, value, kid, nonce, ciphertext, tag, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, NOW())
		ON CONFLICT (key) DO UPDATE
		SET value = EXCLUDED.value, kid = EXCLUDED.kid, nonce = EXCLUDED.nonce,
			ciphertext = EXCLUDED.ciphertext, tag = EXCLUDED.tag, updated_at = NOW()`
	_, err := m.DB.ExecContext(ctx, query, s.Key, nullStr(s.Value), s.KID, s.Nonce, s.Ciphertext, s.Tag)
	return err
}
