package entities

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/technosupport/ts-sentinel/internal/data"
)

// DefaultThreshold is the cosine-similarity floor for a positive match.
const DefaultThreshold = 0.75

// signatureScore is the link score recorded when a vehicle matched on its
// exact signature rather than on embedding similarity.
const signatureScore = 0.95

// MatchResult reports one match-or-create outcome.
type MatchResult struct {
	Entity  *data.Entity
	Score   float64
	Created bool
}

// Service matches event subjects against the known-entity set and applies
// admin adjustments. All matching writes run inside one transaction.
type Service struct {
	db          *sql.DB
	entities    data.EntityModel
	events      data.EventModel
	adjustments data.EntityAdjustmentModel
	cache       *Cache
	Threshold   float64

	// ThresholdFor overrides Threshold per entity type when set, so person
	// and vehicle matching can run at different strictness.
	ThresholdFor func(ctx context.Context, entityType string) float64

	// AutoCreate reports whether an unmatched subject of the type may mint a
	// new entity. Nil means always create.
	AutoCreate func(ctx context.Context, entityType string) bool
}

func NewService(db *sql.DB, repos *data.Repositories) *Service {
	return &Service{
		db:          db,
		entities:    repos.Entities,
		events:      repos.Events,
		adjustments: repos.Adjustments,
		cache:       NewCache(repos.Entities),
		Threshold:   DefaultThreshold,
	}
}

// Cache exposes the embedding cache for manual resets.
func (s *Service) Cache() *Cache { return s.cache }

// MatchOrCreate links the event to the best-matching entity of the type,
// creating a new one when nothing scores at or above the threshold. For
// vehicles the exact signature extracted from the description is tried first;
// a signature hit links without consulting the embedding cache at all. When
// auto-creation is disabled for the type, an unmatched subject returns a nil
// result instead of minting an entity.
func (s *Service) MatchOrCreate(ctx context.Context, q []float32, entityType string, eventID uuid.UUID, eventTS time.Time, description string) (*MatchResult, error) {
	var attrs VehicleAttributes
	if entityType == data.EntityVehicle {
		attrs = ExtractVehicleAttributes(description)
		if attrs.Signature != "" {
			existing, err := s.entities.GetVehicleBySignature(ctx, attrs.Signature)
			if err == nil {
				return s.linkExisting(ctx, existing, eventID, eventTS, signatureScore)
			}
			if !errors.Is(err, data.ErrRecordNotFound) {
				return nil, fmt.Errorf("signature lookup: %w", err)
			}
		}
	}

	matchID, score, err := s.cache.match(ctx, q, entityType, s.threshold(ctx, entityType))
	if err != nil {
		return nil, fmt.Errorf("entity match: %w", err)
	}

	if matchID != uuid.Nil {
		matched, err := s.entities.GetByID(ctx, matchID)
		if err != nil {
			return nil, err
		}
		return s.linkExisting(ctx, matched, eventID, eventTS, score)
	}

	if s.AutoCreate != nil && !s.AutoCreate(ctx, entityType) {
		return nil, nil
	}
	return s.createAndLink(ctx, q, entityType, eventID, eventTS, attrs)
}

// MatchOnly performs the same similarity lookup without writing anything.
// Used pre-inference to pull historical context into the prompt.
func (s *Service) MatchOnly(ctx context.Context, q []float32) (*data.Entity, float64, error) {
	matchID, score, err := s.cache.match(ctx, q, "", s.Threshold)
	if err != nil {
		return nil, 0, err
	}
	if matchID == uuid.Nil {
		return nil, 0, nil
	}
	e, err := s.entities.GetByID(ctx, matchID)
	if err != nil {
		return nil, 0, err
	}
	return e, score, nil
}

func (s *Service) linkExisting(ctx context.Context, e *data.Entity, eventID uuid.UUID, eventTS time.Time, score float64) (*MatchResult, error) {
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		model := data.EntityModel{DB: tx}
		if err := model.RecordSighting(ctx, e.ID, eventTS); err != nil {
			return err
		}
		return model.LinkEvent(ctx, &data.EntityEvent{
			EntityID:        e.ID,
			EventID:         eventID,
			SimilarityScore: score,
		})
	})
	if err != nil {
		return nil, err
	}
	e.OccurrenceCount++
	if eventTS.After(e.LastSeen) {
		e.LastSeen = eventTS
	}
	return &MatchResult{Entity: e, Score: score}, nil
}

func (s *Service) createAndLink(ctx context.Context, q []float32, entityType string, eventID uuid.UUID, eventTS time.Time, attrs VehicleAttributes) (*MatchResult, error) {
	e := &data.Entity{
		EntityType:      entityType,
		Embedding:       q,
		FirstSeen:       eventTS,
		LastSeen:        eventTS,
		OccurrenceCount: 1,
	}
	if entityType == data.EntityVehicle {
		e.VehicleColor = optional(attrs.Color)
		e.VehicleMake = optional(attrs.Make)
		e.VehicleModel = optional(attrs.Model)
		e.VehicleSignature = optional(attrs.Signature)
	}

	err := s.withTx(ctx, func(tx *sql.Tx) error {
		model := data.EntityModel{DB: tx}
		if err := model.Create(ctx, e); err != nil {
			return err
		}
		return model.LinkEvent(ctx, &data.EntityEvent{
			EntityID:        e.ID,
			EventID:         eventID,
			SimilarityScore: 1.0,
		})
	})
	if err != nil {
		return nil, err
	}

	s.cache.Invalidate()
	log.Printf("[INFO] Entity Match: created %s entity %s for event %s", entityType, e.ID, eventID)
	return &MatchResult{Entity: e, Score: 1.0, Created: true}, nil
}

// Unlink removes an event from an entity and records the adjustment.
func (s *Service) Unlink(ctx context.Context, entityID, eventID uuid.UUID) error {
	event, err := s.events.GetByID(ctx, eventID)
	if err != nil {
		return err
	}
	return s.withTx(ctx, func(tx *sql.Tx) error {
		model := data.EntityModel{DB: tx}
		if err := model.UnlinkEvent(ctx, entityID, eventID); err != nil {
			return err
		}
		if err := model.AdjustCount(ctx, entityID, -1); err != nil {
			return err
		}
		return data.EntityAdjustmentModel{DB: tx}.Insert(ctx, &data.EntityAdjustment{
			Action:       data.AdjustUnlink,
			EventID:      eventID,
			OldEntityID:  &entityID,
			DescSnapshot: event.Description,
		})
	})
}

// Assign attaches an event to an entity by admin decision.
func (s *Service) Assign(ctx context.Context, entityID, eventID uuid.UUID) error {
	event, err := s.events.GetByID(ctx, eventID)
	if err != nil {
		return err
	}
	return s.withTx(ctx, func(tx *sql.Tx) error {
		model := data.EntityModel{DB: tx}
		if err := model.LinkEvent(ctx, &data.EntityEvent{
			EntityID:        entityID,
			EventID:         eventID,
			SimilarityScore: 1.0,
		}); err != nil {
			return err
		}
		if err := model.AdjustCount(ctx, entityID, 1); err != nil {
			return err
		}
		return data.EntityAdjustmentModel{DB: tx}.Insert(ctx, &data.EntityAdjustment{
			Action:       data.AdjustAssign,
			EventID:      eventID,
			NewEntityID:  &entityID,
			DescSnapshot: event.Description,
		})
	})
}

// Move relinks an event from one entity to another, recording both sides.
func (s *Service) Move(ctx context.Context, fromID, toID, eventID uuid.UUID) error {
	event, err := s.events.GetByID(ctx, eventID)
	if err != nil {
		return err
	}
	return s.withTx(ctx, func(tx *sql.Tx) error {
		model := data.EntityModel{DB: tx}
		adj := data.EntityAdjustmentModel{DB: tx}

		if err := model.UnlinkEvent(ctx, fromID, eventID); err != nil {
			return err
		}
		if err := model.AdjustCount(ctx, fromID, -1); err != nil {
			return err
		}
		if err := model.LinkEvent(ctx, &data.EntityEvent{
			EntityID:        toID,
			EventID:         eventID,
			SimilarityScore: 1.0,
		}); err != nil {
			return err
		}
		if err := model.AdjustCount(ctx, toID, 1); err != nil {
			return err
		}

		if err := adj.Insert(ctx, &data.EntityAdjustment{
			Action:       data.AdjustMoveFrom,
			EventID:      eventID,
			OldEntityID:  &fromID,
			NewEntityID:  &toID,
			DescSnapshot: event.Description,
		}); err != nil {
			return err
		}
		return adj.Insert(ctx, &data.EntityAdjustment{
			Action:       data.AdjustMoveTo,
			EventID:      eventID,
			OldEntityID:  &fromID,
			NewEntityID:  &toID,
			DescSnapshot: event.Description,
		})
	})
}

// Merge folds one entity into another: links move over, counts accumulate,
// and the source entity is deleted.
func (s *Service) Merge(ctx context.Context, fromID, toID uuid.UUID) error {
	if fromID == toID {
		return fmt.Errorf("merge: source and target are the same entity")
	}
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		model := data.EntityModel{DB: tx}

		moved, err := model.ReassignLinks(ctx, fromID, toID)
		if err != nil {
			return err
		}
		if err := model.AdjustCount(ctx, toID, int(moved)); err != nil {
			return err
		}
		if err := model.Delete(ctx, fromID); err != nil {
			return err
		}
		return data.EntityAdjustmentModel{DB: tx}.Insert(ctx, &data.EntityAdjustment{
			Action:      data.AdjustMerge,
			EventID:     uuid.Nil,
			OldEntityID: &fromID,
			NewEntityID: &toID,
		})
	})
	if err != nil {
		return err
	}
	s.cache.Invalidate()
	return nil
}

func (s *Service) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			log.Printf("[ERROR] Entity Match: rollback failed: %v", rbErr)
		}
		return err
	}
	return tx.Commit()
}

func (s *Service) threshold(ctx context.Context, entityType string) float64 {
	if s.ThresholdFor != nil {
		if t := s.ThresholdFor(ctx, entityType); t > 0 {
			return t
		}
	}
	return s.Threshold
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
