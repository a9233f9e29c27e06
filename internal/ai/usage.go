package ai

import (
	"context"
	"log"
	"time"

	"github.com/technosupport/ts-sentinel/internal/data"
)

// DBUsageRecorder appends usage rows to the ai_usage table and feeds the
// cost-cap counters. Both writes are best-effort.
type DBUsageRecorder struct {
	Usage data.AIUsageModel
	Caps  *CostCap
}

func (r *DBUsageRecorder) Record(ctx context.Context, u *data.AIUsage) {
	dbCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	if err := r.Usage.Insert(dbCtx, u); err != nil {
		log.Printf("[ERROR] AI Usage: failed to append usage row for %s: %v", u.Provider, err)
	}
	if r.Caps != nil && u.CostUSD > 0 {
		if err := r.Caps.AddSpend(dbCtx, u.CostUSD); err != nil {
			log.Printf("[WARN] AI Usage: failed to accumulate spend: %v", err)
		}
	}
}
