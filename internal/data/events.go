package data

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
)

// Sentinel descriptions. These are stored literally so downstream consumers
// can classify degraded events without schema guesses.
const (
	DescriptionUnavailable  = "AI analysis unavailable"
	DescriptionPausedPrefix = "AI analysis paused - "
)

// Event is the persisted result of one pipeline pass.
type Event struct {
	ID                    uuid.UUID `json:"id"`
	CameraID              uuid.UUID `json:"camera_id"`
	Timestamp             time.Time `json:"timestamp"`
	Description           string    `json:"description"`
	Confidence            int       `json:"confidence"`    // 0-100
	AIConfidence          *int      `json:"ai_confidence"` // self-reported, nullable
	LowConfidence         bool      `json:"low_confidence"`
	VagueReason           *string   `json:"vague_reason,omitempty"`
	ObjectsDetected       []string  `json:"objects_detected"`
	ThumbnailPath         *string   `json:"thumbnail_path,omitempty"`
	SourceKind            string    `json:"source_kind"`
	SmartDetectionType    string    `json:"smart_detection_type"`
	IsDoorbellRing        bool      `json:"is_doorbell_ring"`
	AnalysisMode          *string   `json:"analysis_mode,omitempty"`
	FrameCountUsed        *int      `json:"frame_count_used,omitempty"`
	FallbackReason        *string   `json:"fallback_reason,omitempty"` // comma-joined stage:reason chain
	ProviderUsed          *string   `json:"provider_used,omitempty"`
	AICost                *float64  `json:"ai_cost,omitempty"`
	DeliveryCarrier       *string   `json:"delivery_carrier,omitempty"`
	AudioTranscription    *string   `json:"audio_transcription,omitempty"`
	DescriptionRetryCount int       `json:"description_retry_count"`
	DescriptionRetryNeed  bool      `json:"description_retry_needed"`
	AnalysisSkippedReason *string   `json:"analysis_skipped_reason,omitempty"`
	CorrelationGroupID    *uuid.UUID `json:"correlation_group_id,omitempty"`
	RecognitionStatus     *string   `json:"recognition_status,omitempty"` // known | stranger | unknown
	CreatedAt             time.Time  `json:"created_at"`
}

// KeyFrame is one of the small JPEGs optionally stored alongside an event.
type KeyFrame struct {
	EventID   uuid.UUID `json:"event_id"`
	Index     int       `json:"index"`
	Timestamp time.Time `json:"timestamp"`
	JPEG      []byte    `json:"-"`
}

type EventModel struct {
	DB DBTX
}

// Create inserts one event. The id is assigned by the caller so thumbnail
// paths can be laid out before the row exists.
func (m EventModel) Create(ctx context.Context, e *Event) error {
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	query := `
		INSERT INTO events (
			id, camera_id, occurred_at, description, confidence, ai_confidence,
			low_confidence, vague_reason, objects_detected, thumbnail_path,
			source_kind, smart_detection_type, is_doorbell_ring,
			analysis_mode, frame_count_used, fallback_reason, provider_used,
			ai_cost, delivery_carrier, audio_transcription,
			description_retry_needed, analysis_skipped_reason, correlation_group_id
		)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20,$21,$22,$23)
		RETURNING created_at`

	return m.DB.QueryRowContext(ctx, query,
		e.ID, e.CameraID, e.Timestamp, e.Description, e.Confidence, e.AIConfidence,
		e.LowConfidence, e.VagueReason, pq.Array(e.ObjectsDetected), e.ThumbnailPath,
		e.SourceKind, e.SmartDetectionType, e.IsDoorbellRing,
		e.AnalysisMode, e.FrameCountUsed, e.FallbackReason, e.ProviderUsed,
		e.AICost, e.DeliveryCarrier, e.AudioTranscription,
		e.DescriptionRetryNeed, e.AnalysisSkippedReason, e.CorrelationGroupID,
	).Scan(&e.CreatedAt)
}

func (m EventModel) GetByID(ctx context.Context, id uuid.UUID) (*Event, error) {
	query := `
		SELECT id, camera_id, occurred_at, description, confidence, ai_confidence,
			low_confidence, vague_reason, objects_detected, thumbnail_path,
			source_kind, smart_detection_type, is_doorbell_ring,
			analysis_mode, frame_count_used, fallback_reason, provider_used,
			ai_cost, delivery_carrier, audio_transcription,
			description_retry_needed, analysis_skipped_reason, correlation_group_id,
			recognition_status, created_at
		FROM events WHERE id = $1`

	var e Event
	err := m.DB.QueryRowContext(ctx, query, id).Scan(
		&e.ID, &e.CameraID, &e.Timestamp, &e.Description, &e.Confidence, &e.AIConfidence,
		&e.LowConfidence, &e.VagueReason, pq.Array(&e.ObjectsDetected), &e.ThumbnailPath,
		&e.SourceKind, &e.SmartDetectionType, &e.IsDoorbellRing,
		&e.AnalysisMode, &e.FrameCountUsed, &e.FallbackReason, &e.ProviderUsed,
		&e.AICost, &e.DeliveryCarrier, &e.AudioTranscription,
		&e.DescriptionRetryNeed, &e.AnalysisSkippedReason, &e.CorrelationGroupID,
		&e.RecognitionStatus, &e.CreatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, ErrRecordNotFound
	}
	if err != nil {
		return nil, err
	}
	return &e, nil
}

// UpdateDescription rewrites the description after entity-alert enrichment.
func (m EventModel) UpdateDescription(ctx context.Context, id uuid.UUID, description, recognitionStatus string) error {
	query := `UPDATE events SET description = $1, recognition_status = $2 WHERE id = $3`
	_, err := m.DB.ExecContext(ctx, query, description, recognitionStatus, id)
	return err
}

// SetEmbedding stores the event embedding produced for context lookup.
func (m EventModel) SetEmbedding(ctx context.Context, id uuid.UUID, embedding []float32) error {
	query := `UPDATE events SET embedding = $1 WHERE id = $2`
	_, err := m.DB.ExecContext(ctx, query, pq.Array(float32sTo64(embedding)), id)
	return err
}

// InsertKeyFrames stores the analysis frames for one event when the
// store_analysis_frames setting is on.
func (m EventModel) InsertKeyFrames(ctx context.Context, frames []KeyFrame) error {
	for _, f := range frames {
		query := `INSERT INTO event_key_frames (event_id, frame_index, occurred_at, jpeg) VALUES ($1,$2,$3,$4)`
		if _, err := m.DB.ExecContext(ctx, query, f.EventID, f.Index, f.Timestamp, f.JPEG); err != nil {
			return err
		}
	}
	return nil
}

// CountSince returns the number of events for one camera since the cutoff.
// Used for the events_today / events_this_week bus signals.
func (m EventModel) CountSince(ctx context.Context, cameraID uuid.UUID, since time.Time) (int, error) {
	query := `SELECT COUNT(*) FROM events WHERE camera_id = $1 AND occurred_at >= $2`
	var n int
	err := m.DB.QueryRowContext(ctx, query, cameraID, since).Scan(&n)
	return n, err
}

// CountForHourOfWeek returns event counts bucketed on (dow, hour) for one
// camera over the trailing window. Feeds the activity baseline.
func (m EventModel) CountForHourOfWeek(ctx context.Context, cameraID uuid.UUID, since time.Time) (map[int]int, error) {
	query := `
		SELECT EXTRACT(DOW FROM occurred_at)::int * 24 + EXTRACT(HOUR FROM occurred_at)::int AS bucket,
			COUNT(*)
		FROM events WHERE camera_id = $1 AND occurred_at >= $2
		GROUP BY bucket`
	rows, err := m.DB.QueryContext(ctx, query, cameraID, since)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[int]int)
	for rows.Next() {
		var bucket, n int
		if err := rows.Scan(&bucket, &n); err != nil {
			return nil, err
		}
		out[bucket] = n
	}
	return out, rows.Err()
}

func float32sTo64(in []float32) []float64 {
	out := make([]float64, len(in))
	for i, v := range in {
		out[i] = float64(v)
	}
	return out
}
