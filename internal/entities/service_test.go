package entities

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/technosupport/ts-sentinel/internal/data"
)

var entityCols = []string{
	"id", "entity_type", "name", "embedding", "first_seen", "last_seen",
	"occurrence_count", "is_vip", "is_blocked",
	"vehicle_color", "vehicle_make", "vehicle_model", "vehicle_signature",
}

func newMockService(t *testing.T) (*Service, sqlmock.Sqlmock) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return NewService(db, data.NewRepositories(db)), mock
}

func TestMatchOrCreate_VehicleSignatureFastPath(t *testing.T) {
	svc, mock := newMockService(t)
	entityID := uuid.New()
	eventID := uuid.New()
	firstSeen := time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)
	eventTS := firstSeen.Add(4 * time.Hour)

	mock.ExpectQuery("FROM entities WHERE entity_type = 'vehicle' AND vehicle_signature").
		WithArgs("white-toyota-camry").
		WillReturnRows(sqlmock.NewRows(entityCols).AddRow(
			entityID.String(), "vehicle", nil, "{}", firstSeen, firstSeen,
			1, false, false, "white", "toyota", "camry", "white-toyota-camry",
		))

	mock.ExpectBegin()
	mock.ExpectExec("UPDATE entities").
		WithArgs(eventTS, entityID).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery("INSERT INTO entity_events").
		WithArgs(entityID, eventID, 0.95).
		WillReturnRows(sqlmock.NewRows([]string{"created_at"}).AddRow(eventTS))
	mock.ExpectCommit()

	q := make([]float32, 512)
	res, err := svc.MatchOrCreate(context.Background(), q, data.EntityVehicle,
		eventID, eventTS, "The white Toyota Camry leaves.")
	require.NoError(t, err)
	assert.Equal(t, entityID, res.Entity.ID)
	assert.False(t, res.Created)
	assert.InDelta(t, 0.95, res.Score, 1e-9)
	assert.Equal(t, 2, res.Entity.OccurrenceCount)
	assert.Equal(t, eventTS, res.Entity.LastSeen)
	// No SELECT over all entities was expected: the embedding cache stays cold.
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestMatchOrCreate_NewPersonEntity(t *testing.T) {
	svc, mock := newMockService(t)
	eventID := uuid.New()
	newID := uuid.New()
	ts := time.Date(2026, 3, 2, 9, 30, 0, 0, time.UTC)

	// Cold cache loads, finds nothing above threshold.
	mock.ExpectQuery("(?s)SELECT.+FROM entities ORDER BY first_seen").
		WillReturnRows(sqlmock.NewRows(entityCols))

	mock.ExpectBegin()
	mock.ExpectQuery("INSERT INTO entities").
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(newID.String()))
	mock.ExpectQuery("INSERT INTO entity_events").
		WithArgs(newID, eventID, 1.0).
		WillReturnRows(sqlmock.NewRows([]string{"created_at"}).AddRow(ts))
	mock.ExpectCommit()

	q := make([]float32, 512)
	q[0] = 1
	res, err := svc.MatchOrCreate(context.Background(), q, data.EntityPerson,
		eventID, ts, "A man waits by the gate")
	require.NoError(t, err)
	assert.True(t, res.Created)
	assert.Equal(t, newID, res.Entity.ID)
	assert.Equal(t, 1, res.Entity.OccurrenceCount)
	assert.Equal(t, ts, res.Entity.FirstSeen)
	assert.Equal(t, ts, res.Entity.LastSeen)
	assert.InDelta(t, 1.0, res.Score, 1e-9)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestMatchOrCreate_AutoCreateDisabled(t *testing.T) {
	svc, mock := newMockService(t)
	svc.AutoCreate = func(ctx context.Context, entityType string) bool { return false }

	// Cold cache loads, finds nothing, and no entity row is minted.
	mock.ExpectQuery("(?s)SELECT.+FROM entities ORDER BY first_seen").
		WillReturnRows(sqlmock.NewRows(entityCols))

	q := make([]float32, 512)
	q[0] = 1
	res, err := svc.MatchOrCreate(context.Background(), q, data.EntityPerson,
		uuid.New(), time.Now(), "A man waits by the gate")
	require.NoError(t, err)
	assert.Nil(t, res)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestMatchOrCreate_AutoCreateStillLinksMatches(t *testing.T) {
	svc, mock := newMockService(t)
	svc.AutoCreate = func(ctx context.Context, entityType string) bool { return false }
	entityID := uuid.New()
	eventID := uuid.New()
	ts := time.Date(2026, 3, 4, 7, 0, 0, 0, time.UTC)

	q := make([]float32, 512)
	q[0] = 1
	stored := "{1" + strings.Repeat(",0", 511) + "}"
	mock.ExpectQuery("(?s)SELECT.+FROM entities ORDER BY first_seen").
		WillReturnRows(sqlmock.NewRows(entityCols).AddRow(
			entityID.String(), "person", nil, stored, ts.Add(-time.Hour), ts.Add(-time.Hour),
			1, false, false, nil, nil, nil, nil,
		))

	mock.ExpectQuery("(?s)SELECT.+FROM entities WHERE id").
		WithArgs(entityID).
		WillReturnRows(sqlmock.NewRows(entityCols).AddRow(
			entityID.String(), "person", nil, stored, ts.Add(-time.Hour), ts.Add(-time.Hour),
			1, false, false, nil, nil, nil, nil,
		))
	mock.ExpectBegin()
	mock.ExpectExec("UPDATE entities").
		WithArgs(ts, entityID).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery("INSERT INTO entity_events").
		WillReturnRows(sqlmock.NewRows([]string{"created_at"}).AddRow(ts))
	mock.ExpectCommit()

	res, err := svc.MatchOrCreate(context.Background(), q, data.EntityPerson,
		eventID, ts, "The same man returns")
	require.NoError(t, err)
	require.NotNil(t, res)
	assert.Equal(t, entityID, res.Entity.ID)
	assert.False(t, res.Created)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestMerge(t *testing.T) {
	svc, mock := newMockService(t)
	fromID := uuid.New()
	toID := uuid.New()

	mock.ExpectBegin()
	mock.ExpectExec("UPDATE entity_events SET entity_id").
		WithArgs(toID, fromID).
		WillReturnResult(sqlmock.NewResult(0, 3))
	mock.ExpectExec("UPDATE entities SET occurrence_count").
		WithArgs(3, toID).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("DELETE FROM entities").
		WithArgs(fromID).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery("INSERT INTO entity_adjustments").
		WillReturnRows(sqlmock.NewRows([]string{"id", "created_at"}).
			AddRow(uuid.New().String(), time.Now()))
	mock.ExpectCommit()

	require.NoError(t, svc.Merge(context.Background(), fromID, toID))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestMerge_SameEntityRejected(t *testing.T) {
	svc, _ := newMockService(t)
	id := uuid.New()
	assert.Error(t, svc.Merge(context.Background(), id, id))
}
