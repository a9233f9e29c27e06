package events

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/technosupport/ts-sentinel/internal/data"
)

// Counter maintains the events_today / events_this_week counters in Redis so
// the status topic never needs a COUNT(*) on the hot path. Redis misses fall
// back to the events table.
type Counter struct {
	client *redis.Client
	events data.EventModel
}

func NewCounter(client *redis.Client, events data.EventModel) *Counter {
	return &Counter{client: client, events: events}
}

func dayKey(cameraID uuid.UUID, t time.Time) string {
	return "event_count:" + cameraID.String() + ":day:" + t.UTC().Format("2006-01-02")
}

func weekKey(cameraID uuid.UUID, t time.Time) string {
	year, week := t.UTC().ISOWeek()
	return fmt.Sprintf("event_count:%s:week:%d-%02d", cameraID, year, week)
}

// Bump increments both counters for one stored event.
func (c *Counter) Bump(ctx context.Context, cameraID uuid.UUID, ts time.Time) error {
	pipe := c.client.Pipeline()
	pipe.Incr(ctx, dayKey(cameraID, ts))
	pipe.Expire(ctx, dayKey(cameraID, ts), 48*time.Hour)
	pipe.Incr(ctx, weekKey(cameraID, ts))
	pipe.Expire(ctx, weekKey(cameraID, ts), 8*24*time.Hour)
	_, err := pipe.Exec(ctx)
	return err
}

// Today returns the camera's event count since midnight UTC.
func (c *Counter) Today(ctx context.Context, cameraID uuid.UUID, now time.Time) (int, error) {
	n, err := c.client.Get(ctx, dayKey(cameraID, now)).Int()
	if err == nil {
		return n, nil
	}
	if err != redis.Nil {
		log.Printf("[WARN] Event Counter: daily read failed, counting from DB: %v", err)
	}
	day := now.UTC()
	midnight := time.Date(day.Year(), day.Month(), day.Day(), 0, 0, 0, 0, time.UTC)
	return c.events.CountSince(ctx, cameraID, midnight)
}

// ThisWeek returns the camera's event count since the start of the ISO week.
func (c *Counter) ThisWeek(ctx context.Context, cameraID uuid.UUID, now time.Time) (int, error) {
	n, err := c.client.Get(ctx, weekKey(cameraID, now)).Int()
	if err == nil {
		return n, nil
	}
	if err != redis.Nil {
		log.Printf("[WARN] Event Counter: weekly read failed, counting from DB: %v", err)
	}
	day := now.UTC()
	midnight := time.Date(day.Year(), day.Month(), day.Day(), 0, 0, 0, 0, time.UTC)
	weekStart := midnight.AddDate(0, 0, -weekdayOffset(midnight.Weekday()))
	return c.events.CountSince(ctx, cameraID, weekStart)
}

// weekdayOffset counts days back to Monday, matching ISO weeks.
func weekdayOffset(d time.Weekday) int {
	if d == time.Sunday {
		return 6
	}
	return int(d) - 1
}
