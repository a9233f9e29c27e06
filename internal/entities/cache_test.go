package entities

import (
	"context"
	"math"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/technosupport/ts-sentinel/internal/data"
)

func seededCache(entries ...cacheEntry) *Cache {
	c := &Cache{loaded: true}
	c.entries = entries
	return c
}

func unitVec(dim, hot int) []float32 {
	v := make([]float32, dim)
	v[hot] = 1
	return v
}

func entry(id uuid.UUID, v []float32) cacheEntry {
	return typedEntry(id, data.EntityPerson, v)
}

func typedEntry(id uuid.UUID, entityType string, v []float32) cacheEntry {
	return cacheEntry{id: id, entityType: entityType, vector: v, norm: vectorNorm(v)}
}

func TestCacheMatch_ExactVector(t *testing.T) {
	id := uuid.New()
	v := unitVec(8, 2)
	c := seededCache(entry(id, v))

	got, score, err := c.match(context.Background(), v, data.EntityPerson, DefaultThreshold)
	require.NoError(t, err)
	assert.Equal(t, id, got)
	assert.InDelta(t, 1.0, score, 1e-9)
}

func TestCacheMatch_BelowThreshold(t *testing.T) {
	c := seededCache(entry(uuid.New(), unitVec(8, 0)))

	got, _, err := c.match(context.Background(), unitVec(8, 1), data.EntityPerson, DefaultThreshold)
	require.NoError(t, err)
	assert.Equal(t, uuid.Nil, got, "orthogonal vectors must not match")
}

func TestCacheMatch_PicksArgmax(t *testing.T) {
	near := uuid.New()
	far := uuid.New()

	q := []float32{1, 0.1, 0, 0}
	c := seededCache(
		entry(far, []float32{0.7, 0.7, 0, 0}),
		entry(near, []float32{1, 0, 0, 0}),
	)

	got, score, err := c.match(context.Background(), q, data.EntityPerson, DefaultThreshold)
	require.NoError(t, err)
	assert.Equal(t, near, got)
	assert.Greater(t, score, 0.9)
}

func TestCacheMatch_ScaleInvariant(t *testing.T) {
	id := uuid.New()
	stored := []float32{3, 4, 0, 0}
	q := []float32{0.3, 0.4, 0, 0}
	c := seededCache(entry(id, stored))

	got, score, err := c.match(context.Background(), q, data.EntityPerson, DefaultThreshold)
	require.NoError(t, err)
	assert.Equal(t, id, got)
	assert.InDelta(t, 1.0, score, 1e-9)
}

func TestCacheMatch_TypeFilter(t *testing.T) {
	vehicle := uuid.New()
	v := unitVec(8, 3)
	c := seededCache(typedEntry(vehicle, data.EntityVehicle, v))

	// A person query must not land on a vehicle vector, even at score 1.0.
	got, _, err := c.match(context.Background(), v, data.EntityPerson, DefaultThreshold)
	require.NoError(t, err)
	assert.Equal(t, uuid.Nil, got)

	got, score, err := c.match(context.Background(), v, data.EntityVehicle, DefaultThreshold)
	require.NoError(t, err)
	assert.Equal(t, vehicle, got)
	assert.InDelta(t, 1.0, score, 1e-9)

	// Untyped queries span both populations.
	got, _, err = c.match(context.Background(), v, "", DefaultThreshold)
	require.NoError(t, err)
	assert.Equal(t, vehicle, got)
}

func TestCacheMatch_ZeroQuery(t *testing.T) {
	c := seededCache(entry(uuid.New(), unitVec(4, 0)))

	got, score, err := c.match(context.Background(), make([]float32, 4), "", DefaultThreshold)
	require.NoError(t, err)
	assert.Equal(t, uuid.Nil, got)
	assert.Zero(t, score)
}

func TestVectorNorm(t *testing.T) {
	assert.InDelta(t, 5.0, vectorNorm([]float32{3, 4}), 1e-9)
	assert.Zero(t, vectorNorm(nil))
	assert.False(t, math.IsNaN(vectorNorm([]float32{0, 0})))
}

func TestCacheInvalidate(t *testing.T) {
	c := seededCache(entry(uuid.New(), unitVec(4, 0)))
	assert.True(t, c.loaded)
	c.Invalidate()
	assert.False(t, c.loaded)
	assert.Nil(t, c.entries)
}
