package data

import (
	"context"
	"time"
)

// AIUsage is one appended row per provider call, successful or failed.
type AIUsage struct {
	ID             int64     `json:"id"`
	Timestamp      time.Time `json:"timestamp"`
	Provider       string    `json:"provider"`
	Success        bool      `json:"success"`
	TokensIn       int       `json:"tokens_in"`
	TokensOut      int       `json:"tokens_out"`
	ResponseTimeMS int64     `json:"response_time_ms"`
	CostUSD        float64   `json:"cost_usd"`
	Error          *string   `json:"error,omitempty"`
	AnalysisMode   string    `json:"analysis_mode"`
	IsEstimated    bool      `json:"is_estimated"`
	ImageCount     int       `json:"image_count"`
}

type AIUsageModel struct {
	DB DBTX
}

func (m AIUsageModel) Insert(ctx context.Context, u *AIUsage) error {
	query := `
		INSERT INTO ai_usage (
			occurred_at, provider, success, tokens_in, tokens_out,
			response_time_ms, cost_usd, error, analysis_mode, is_estimated, image_count
		)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
		RETURNING id`
	return m.DB.QueryRowContext(ctx, query,
		u.Timestamp, u.Provider, u.Success, u.TokensIn, u.TokensOut,
		u.ResponseTimeMS, u.CostUSD, u.Error, u.AnalysisMode, u.IsEstimated, u.ImageCount,
	).Scan(&u.ID)
}

// TotalCostSince sums spend over a window; the cost-cap service calls this to
// rebuild Redis counters after a restart.
func (m AIUsageModel) TotalCostSince(ctx context.Context, since time.Time) (float64, error) {
	query := `SELECT COALESCE(SUM(cost_usd), 0) FROM ai_usage WHERE occurred_at >= $1`
	var total float64
	err := m.DB.QueryRowContext(ctx, query, since).Scan(&total)
	return total, err
}
