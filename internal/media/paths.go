package media

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
)

// Store lays out on-disk media under one data root:
//
//	data/thumbnails/YYYY-MM-DD/<event-id>.jpg
//	data/entity-images/<entity-id>.jpg
//	data/clips/<event-id>.mp4 (short-lived)
type Store struct {
	Root string
}

func NewStore(root string) *Store {
	return &Store{Root: root}
}

func (s *Store) ThumbnailPath(eventID uuid.UUID, ts time.Time) string {
	return filepath.Join(s.Root, "thumbnails", ts.UTC().Format("2006-01-02"), eventID.String()+".jpg")
}

func (s *Store) EntityImagePath(entityID uuid.UUID) string {
	return filepath.Join(s.Root, "entity-images", entityID.String()+".jpg")
}

func (s *Store) ClipPath(eventID uuid.UUID) string {
	return filepath.Join(s.Root, "clips", eventID.String()+".mp4")
}

// ClipWorkDir is where the frame extractor drops its temporary JPEGs.
func (s *Store) ClipWorkDir() string {
	return filepath.Join(s.Root, "clips")
}

// WriteThumbnail persists an encoded JPEG, creating the dated directory.
func (s *Store) WriteThumbnail(eventID uuid.UUID, ts time.Time, jpeg []byte) (string, error) {
	path := s.ThumbnailPath(eventID, ts)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", fmt.Errorf("thumbnail dir: %w", err)
	}
	if err := os.WriteFile(path, jpeg, 0o644); err != nil {
		return "", fmt.Errorf("thumbnail write: %w", err)
	}
	return path, nil
}

func (s *Store) WriteEntityImage(entityID uuid.UUID, jpeg []byte) (string, error) {
	path := s.EntityImagePath(entityID)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", err
	}
	if err := os.WriteFile(path, jpeg, 0o644); err != nil {
		return "", err
	}
	return path, nil
}

// RemoveClip deletes the transient clip after inference. Raw video never
// outlives the event that used it.
func (s *Store) RemoveClip(eventID uuid.UUID) {
	_ = os.Remove(s.ClipPath(eventID))
}

// RemoveClipPath removes a clip by its full path.
func (s *Store) RemoveClipPath(path string) {
	_ = os.Remove(path)
}
