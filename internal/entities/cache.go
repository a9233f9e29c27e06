package entities

import (
	"context"
	"log"
	"math"
	"sync"

	"github.com/google/uuid"

	"github.com/technosupport/ts-sentinel/internal/data"
	"github.com/technosupport/ts-sentinel/internal/embed"
)

// cacheEntry keeps a reference embedding together with its precomputed norm
// so batch similarity normalizes the query exactly once.
type cacheEntry struct {
	id         uuid.UUID
	entityType string
	vector     []float32
	norm       float64
}

// Cache is the process-wide embedding cache. It loads lazily on first use and
// is invalidated whenever the entity set changes.
type Cache struct {
	entities data.EntityModel

	mu      sync.Mutex
	loaded  bool
	entries []cacheEntry
}

func NewCache(entities data.EntityModel) *Cache {
	return &Cache{entities: entities}
}

// ensure loads all reference embeddings, skipping rows with a missing,
// malformed, or wrong-dimension vector.
func (c *Cache) ensure(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.loaded {
		return nil
	}

	all, err := c.entities.ListAll(ctx)
	if err != nil {
		return err
	}

	entries := make([]cacheEntry, 0, len(all))
	for _, e := range all {
		if len(e.Embedding) != embed.Dim {
			log.Printf("[WARN] Entity Cache: skipping entity %s: embedding has %d dims, want %d", e.ID, len(e.Embedding), embed.Dim)
			continue
		}
		n := vectorNorm(e.Embedding)
		if n == 0 || math.IsNaN(n) {
			log.Printf("[WARN] Entity Cache: skipping entity %s: degenerate embedding", e.ID)
			continue
		}
		entries = append(entries, cacheEntry{id: e.ID, entityType: e.EntityType, vector: e.Embedding, norm: n})
	}

	c.entries = entries
	c.loaded = true
	log.Printf("[INFO] Entity Cache: loaded %d of %d entities", len(entries), len(all))
	return nil
}

// Invalidate drops the cache; the next match reloads from the store.
func (c *Cache) Invalidate() {
	c.mu.Lock()
	c.loaded = false
	c.entries = nil
	c.mu.Unlock()
}

// Reset is the exported manual invalidation, for admin edits made outside the
// matching path.
func (c *Cache) Reset() { c.Invalidate() }

// match returns the best-scoring entity of the given type at or above the
// threshold, or uuid.Nil when nothing qualifies. An empty entityType matches
// across types. The query is normalized once.
func (c *Cache) match(ctx context.Context, q []float32, entityType string, threshold float64) (uuid.UUID, float64, error) {
	if err := c.ensure(ctx); err != nil {
		return uuid.Nil, 0, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	qNorm := vectorNorm(q)
	if qNorm == 0 {
		return uuid.Nil, 0, nil
	}

	bestID := uuid.Nil
	bestScore := 0.0
	for _, e := range c.entries {
		if entityType != "" && e.entityType != entityType {
			continue
		}
		score := dot(q, e.vector) / (qNorm * e.norm)
		if score >= threshold && score > bestScore {
			bestID = e.id
			bestScore = score
		}
	}
	return bestID, bestScore, nil
}

func dot(a, b []float32) float64 {
	var s float64
	for i := range a {
		s += float64(a[i]) * float64(b[i])
	}
	return s
}

func vectorNorm(v []float32) float64 {
	var s float64
	for _, x := range v {
		s += float64(x) * float64(x)
	}
	return math.Sqrt(s)
}
