package ai

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/redis/go-redis/v9"
)

// Cost-cap reasons. Opaque to downstream; only presence matters.
const (
	ReasonDailyLimit   = "daily_limit"
	ReasonMonthlyLimit = "monthly_limit"
)

// CostCap gates AI dispatch on accumulated spend. Counters live in Redis so
// restarts and multiple processes share one budget.
type CostCap struct {
	client       *redis.Client
	DailyLimit   float64 // USD, 0 = unlimited
	MonthlyLimit float64 // USD, 0 = unlimited
}

func NewCostCap(client *redis.Client, daily, monthly float64) *CostCap {
	return &CostCap{client: client, DailyLimit: daily, MonthlyLimit: monthly}
}

func dailyKey(t time.Time) string   { return "ai_spend:day:" + t.UTC().Format("2006-01-02") }
func monthlyKey(t time.Time) string { return "ai_spend:month:" + t.UTC().Format("2006-01") }

// Active returns the cap reason when spend has crossed a limit. Redis errors
// fail open: an unreachable counter must not stall the pipeline.
func (c *CostCap) Active(ctx context.Context) (string, bool) {
	now := time.Now()

	if c.DailyLimit > 0 {
		spent, err := c.client.Get(ctx, dailyKey(now)).Float64()
		if err != nil && err != redis.Nil {
			log.Printf("[WARN] CostCap: daily counter read failed: %v", err)
		} else if spent >= c.DailyLimit {
			return ReasonDailyLimit, true
		}
	}

	if c.MonthlyLimit > 0 {
		spent, err := c.client.Get(ctx, monthlyKey(now)).Float64()
		if err != nil && err != redis.Nil {
			log.Printf("[WARN] CostCap: monthly counter read failed: %v", err)
		} else if spent >= c.MonthlyLimit {
			return ReasonMonthlyLimit, true
		}
	}

	return "", false
}

// AddSpend accumulates one call's cost into the rolling counters.
func (c *CostCap) AddSpend(ctx context.Context, usd float64) error {
	if usd <= 0 {
		return nil
	}
	now := time.Now()

	pipe := c.client.Pipeline()
	pipe.IncrByFloat(ctx, dailyKey(now), usd)
	pipe.Expire(ctx, dailyKey(now), 48*time.Hour)
	pipe.IncrByFloat(ctx, monthlyKey(now), usd)
	pipe.Expire(ctx, monthlyKey(now), 62*24*time.Hour)
	_, err := pipe.Exec(ctx)
	return err
}

// Thresholds returns how close current spend is to each limit, for the
// cost-alert fan-out stage. Fractions are 0 when the limit is unset.
func (c *CostCap) Thresholds(ctx context.Context) (dailyFrac, monthlyFrac float64, err error) {
	now := time.Now()

	if c.DailyLimit > 0 {
		spent, gerr := c.client.Get(ctx, dailyKey(now)).Float64()
		if gerr != nil && gerr != redis.Nil {
			return 0, 0, fmt.Errorf("daily counter: %w", gerr)
		}
		dailyFrac = spent / c.DailyLimit
	}
	if c.MonthlyLimit > 0 {
		spent, gerr := c.client.Get(ctx, monthlyKey(now)).Float64()
		if gerr != nil && gerr != redis.Nil {
			return 0, 0, fmt.Errorf("monthly counter: %w", gerr)
		}
		monthlyFrac = spent / c.MonthlyLimit
	}
	return dailyFrac, monthlyFrac, nil
}
