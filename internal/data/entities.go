package data

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
)

// Entity types.
const (
	EntityPerson  = "person"
	EntityVehicle = "vehicle"
	EntityUnknown = "unknown"
)

// Adjustment actions. Rows are immutable; they exist for offline training.
const (
	AdjustAssign   = "assign"
	AdjustUnlink   = "unlink"
	AdjustMoveFrom = "move_from"
	AdjustMoveTo   = "move_to"
	AdjustMerge    = "merge"
)

// Entity is a recognized recurring subject (person or vehicle).
type Entity struct {
	ID               uuid.UUID `json:"id"`
	EntityType       string    `json:"entity_type"`
	Name             *string   `json:"name,omitempty"`
	Embedding        []float32 `json:"-"` // reference embedding, never rewritten by matching
	FirstSeen        time.Time `json:"first_seen"`
	LastSeen         time.Time `json:"last_seen"`
	OccurrenceCount  int       `json:"occurrence_count"`
	IsVIP            bool      `json:"is_vip"`
	IsBlocked        bool      `json:"is_blocked"`
	VehicleColor     *string   `json:"vehicle_color,omitempty"`
	VehicleMake      *string   `json:"vehicle_make,omitempty"`
	VehicleModel     *string   `json:"vehicle_model,omitempty"`
	VehicleSignature *string   `json:"vehicle_signature,omitempty"` // lowercase color-make-model
}

// EntityEvent links an entity to an event with the similarity at link time.
type EntityEvent struct {
	EntityID        uuid.UUID `json:"entity_id"`
	EventID         uuid.UUID `json:"event_id"`
	SimilarityScore float64   `json:"similarity_score"`
	CreatedAt       time.Time `json:"created_at"`
}

// EntityAdjustment is an immutable audit row for admin graph mutations.
type EntityAdjustment struct {
	ID           uuid.UUID  `json:"id"`
	Action       string     `json:"action"`
	EventID      uuid.UUID  `json:"event_id"`
	OldEntityID  *uuid.UUID `json:"old_entity_id,omitempty"`
	NewEntityID  *uuid.UUID `json:"new_entity_id,omitempty"`
	DescSnapshot string     `json:"description_snapshot"`
	CreatedAt    time.Time  `json:"created_at"`
}

type EntityModel struct {
	DB DBTX
}

const entityColumns = `
	id, entity_type, name, embedding, first_seen, last_seen, occurrence_count,
	is_vip, is_blocked, vehicle_color, vehicle_make, vehicle_model, vehicle_signature`

func scanEntity(row interface{ Scan(...any) error }) (*Entity, error) {
	var e Entity
	var emb []float64
	err := row.Scan(
		&e.ID, &e.EntityType, &e.Name, pq.Array(&emb), &e.FirstSeen, &e.LastSeen,
		&e.OccurrenceCount, &e.IsVIP, &e.IsBlocked,
		&e.VehicleColor, &e.VehicleMake, &e.VehicleModel, &e.VehicleSignature,
	)
	if err == sql.ErrNoRows {
		return nil, ErrRecordNotFound
	}
	if err != nil {
		return nil, err
	}
	e.Embedding = make([]float32, len(emb))
	for i, v := range emb {
		e.Embedding[i] = float32(v)
	}
	return &e, nil
}

func (m EntityModel) GetByID(ctx context.Context, id uuid.UUID) (*Entity, error) {
	query := `SELECT ` + entityColumns + ` FROM entities WHERE id = $1`
	return scanEntity(m.DB.QueryRowContext(ctx, query, id))
}

// ListAll streams every entity; the embedding cache loads from this once per
// process and skips malformed rows itself.
func (m EntityModel) ListAll(ctx context.Context) ([]*Entity, error) {
	query := `SELECT ` + entityColumns + ` FROM entities ORDER BY first_seen`
	rows, err := m.DB.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*Entity
	for rows.Next() {
		e, err := scanEntity(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// GetVehicleBySignature is the exact-signature fast path for vehicles.
func (m EntityModel) GetVehicleBySignature(ctx context.Context, signature string) (*Entity, error) {
	query := `SELECT ` + entityColumns + ` FROM entities WHERE entity_type = 'vehicle' AND vehicle_signature = $1`
	return scanEntity(m.DB.QueryRowContext(ctx, query, signature))
}

func (m EntityModel) Create(ctx context.Context, e *Entity) error {
	query := `
		INSERT INTO entities (
			entity_type, name, embedding, first_seen, last_seen, occurrence_count,
			is_vip, is_blocked, vehicle_color, vehicle_make, vehicle_model, vehicle_signature
		)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)
		RETURNING id`

	return m.DB.QueryRowContext(ctx, query,
		e.EntityType, e.Name, pq.Array(float32sTo64(e.Embedding)), e.FirstSeen, e.LastSeen,
		e.OccurrenceCount, e.IsVIP, e.IsBlocked,
		e.VehicleColor, e.VehicleMake, e.VehicleModel, e.VehicleSignature,
	).Scan(&e.ID)
}

// RecordSighting bumps occurrence_count and last_seen for a matched entity.
// The reference embedding is deliberately left untouched.
func (m EntityModel) RecordSighting(ctx context.Context, id uuid.UUID, seenAt time.Time) error {
	query := `
		UPDATE entities
		SET occurrence_count = occurrence_count + 1,
			last_seen = GREATEST(last_seen, $1)
		WHERE id = $2`
	res, err := m.DB.ExecContext(ctx, query, seenAt, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrRecordNotFound
	}
	return nil
}

// AdjustCount applies a delta from unlink/move/merge, clamped at zero.
func (m EntityModel) AdjustCount(ctx context.Context, id uuid.UUID, delta int) error {
	query := `UPDATE entities SET occurrence_count = GREATEST(0, occurrence_count + $1) WHERE id = $2`
	_, err := m.DB.ExecContext(ctx, query, delta, id)
	return err
}

func (m EntityModel) Delete(ctx context.Context, id uuid.UUID) error {
	_, err := m.DB.ExecContext(ctx, `DELETE FROM entities WHERE id = $1`, id)
	return err
}

func (m EntityModel) LinkEvent(ctx context.Context, link *EntityEvent) error {
	query := `
		INSERT INTO entity_events (entity_id, event_id, similarity_score)
		VALUES ($1, $2, $3)
		RETURNING created_at`
	return m.DB.QueryRowContext(ctx, query, link.EntityID, link.EventID, link.SimilarityScore).
		Scan(&link.CreatedAt)
}

// ReassignLinks moves every event link from one entity to another. Used by
// merge; returns how many links moved.
func (m EntityModel) ReassignLinks(ctx context.Context, from, to uuid.UUID) (int64, error) {
	query := `UPDATE entity_events SET entity_id = $1 WHERE entity_id = $2`
	res, err := m.DB.ExecContext(ctx, query, to, from)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (m EntityModel) UnlinkEvent(ctx context.Context, entityID, eventID uuid.UUID) error {
	query := `DELETE FROM entity_events WHERE entity_id = $1 AND event_id = $2`
	res, err := m.DB.ExecContext(ctx, query, entityID, eventID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("entity link %s/%s: %w", entityID, eventID, ErrRecordNotFound)
	}
	return nil
}

type EntityAdjustmentModel struct {
	DB DBTX
}

func (m EntityAdjustmentModel) Insert(ctx context.Context, a *EntityAdjustment) error {
	query := `
		INSERT INTO entity_adjustments (action, event_id, old_entity_id, new_entity_id, description_snapshot)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, created_at`
	return m.DB.QueryRowContext(ctx, query,
		a.Action, a.EventID, a.OldEntityID, a.NewEntityID, a.DescSnapshot,
	).Scan(&a.ID, &a.CreatedAt)
}
