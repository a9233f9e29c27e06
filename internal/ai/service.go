package ai

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/technosupport/ts-sentinel/internal/data"
	"github.com/technosupport/ts-sentinel/internal/metrics"
)

// SLA budgets across a whole chain dispatch, separate from per-provider
// retries.
const (
	SLASingle = 5 * time.Second
	SLAMulti  = 10 * time.Second
	SLAVideo  = 30 * time.Second
)

// TimeoutProviderTag marks a synthetic result returned when the SLA budget is
// exhausted before a provider answered.
const TimeoutProviderTag = "timeout"

// UsageRecorder appends one row per provider call. Persistence failures must
// never fail the pipeline; implementations log and swallow.
type UsageRecorder interface {
	Record(ctx context.Context, usage *data.AIUsage)
}

// Service dispatches inference over the ordered provider chain.
type Service struct {
	providers []Provider
	usage     UsageRecorder
}

func NewService(providers []Provider, usage UsageRecorder) *Service {
	return &Service{providers: providers, usage: usage}
}

// Providers returns the configured chain in dispatch order.
func (s *Service) Providers() []Provider {
	return s.providers
}

// FirstVideoCapable returns the first provider in the chain that can take
// video, or nil.
func (s *Service) FirstVideoCapable() Provider {
	for _, p := range s.providers {
		if p.VideoMethod() != VideoNone {
			return p
		}
	}
	return nil
}

// DescribeImage runs single-image inference across the chain under the 5s SLA.
func (s *Service) DescribeImage(ctx context.Context, jpegB64 string, pc PromptContext) *Result {
	return s.dispatchChain(ctx, SLASingle, data.ModeSingleFrame, 1, func(ctx context.Context, p Provider) (*Result, error) {
		return p.DescribeImage(ctx, jpegB64, pc)
	})
}

// DescribeImages runs multi-image inference across the chain under the 10s SLA.
func (s *Service) DescribeImages(ctx context.Context, jpegB64 []string, pc PromptContext) *Result {
	return s.dispatchChain(ctx, SLAMulti, data.ModeMultiFrame, len(jpegB64), func(ctx context.Context, p Provider) (*Result, error) {
		return p.DescribeImages(ctx, jpegB64, pc)
	})
}

// DescribeVideoNative dispatches a native video upload to one specific
// provider under the 30s hard timeout, with that provider's retry policy.
func (s *Service) DescribeVideoNative(ctx context.Context, p Provider, clipPath string, pc PromptContext) (*Result, error) {
	ctx, cancel := context.WithTimeout(ctx, SLAVideo)
	defer cancel()
	return s.attempt(ctx, p, data.ModeVideoNative, 1, func(ctx context.Context, p Provider) (*Result, error) {
		return p.DescribeVideo(ctx, clipPath, pc)
	})
}

// DescribeVideoFrames dispatches extracted clip frames to one specific
// frame-extraction provider under the 30s video budget.
func (s *Service) DescribeVideoFrames(ctx context.Context, p Provider, jpegB64 []string, pc PromptContext) (*Result, error) {
	ctx, cancel := context.WithTimeout(ctx, SLAVideo)
	defer cancel()
	return s.attempt(ctx, p, data.ModeVideoNative, len(jpegB64), func(ctx context.Context, p Provider) (*Result, error) {
		return p.DescribeImages(ctx, jpegB64, pc)
	})
}

type op func(ctx context.Context, p Provider) (*Result, error)

// dispatchChain walks the provider chain in order. Before each provider it
// checks the elapsed SLA budget; a provider is attempted with its own retry
// policy and the chain moves on after non-retryable failure or exhaustion.
func (s *Service) dispatchChain(ctx context.Context, sla time.Duration, mode string, imageCount int, fn op) *Result {
	start := time.Now()
	ctx, cancel := context.WithTimeout(ctx, sla)
	defer cancel()

	var lastErr error
	for _, p := range s.providers {
		if time.Since(start) >= sla {
			return timeoutResult(start, lastErr)
		}

		res, err := s.attempt(ctx, p, mode, imageCount, fn)
		if err == nil && res != nil && res.Success {
			return res
		}
		if err != nil {
			lastErr = err
			log.Printf("[WARN] AI Dispatch: provider %s failed, moving on: %v", p.Name(), err)
		}

		if ctx.Err() != nil {
			return timeoutResult(start, lastErr)
		}
	}

	errStr := "all providers failed"
	if lastErr != nil {
		errStr = lastErr.Error()
	}
	return &Result{
		Success:        false,
		Error:          errStr,
		ResponseTimeMS: time.Since(start).Milliseconds(),
	}
}

// attempt runs one provider with its retry policy. Retries fire only on
// transient markers (429/500/503) in the error text.
func (s *Service) attempt(ctx context.Context, p Provider, mode string, imageCount int, fn op) (*Result, error) {
	policy := p.RetryPolicy()

	var lastErr error
	for try := 0; try <= policy.MaxRetries; try++ {
		if try > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(policy.Delay(try - 1)):
			}
		}

		callStart := time.Now()
		res, err := fn(ctx, p)
		latency := time.Since(callStart)

		if err == nil && res != nil {
			s.recordUsage(ctx, p.Name(), mode, imageCount, res, "")
			metrics.RecordAIRequest(p.Name(), res.Success, float64(latency.Milliseconds()))
			metrics.AICostUSDTotal.WithLabelValues(p.Name()).Add(res.CostUSD)
			return res, nil
		}

		lastErr = err
		s.recordUsage(ctx, p.Name(), mode, imageCount, nil, err.Error())
		metrics.RecordAIRequest(p.Name(), false, float64(latency.Milliseconds()))

		if !IsRetryable(err) {
			return nil, err
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
	}
	return nil, fmt.Errorf("retries exhausted for %s: %w", p.Name(), lastErr)
}

func (s *Service) recordUsage(ctx context.Context, provider, mode string, imageCount int, res *Result, errStr string) {
	if s.usage == nil {
		return
	}
	u := &data.AIUsage{
		Timestamp:    time.Now().UTC(),
		Provider:     provider,
		AnalysisMode: mode,
		ImageCount:   imageCount,
	}
	if res != nil {
		u.Success = res.Success
		u.TokensIn = res.TokensIn
		u.TokensOut = res.TokensOut
		u.ResponseTimeMS = res.ResponseTimeMS
		u.CostUSD = res.CostUSD
		u.IsEstimated = res.TokensEstimated
		if res.Error != "" {
			u.Error = &res.Error
		}
	} else {
		u.Error = &errStr
	}
	s.usage.Record(ctx, u)
}

func timeoutResult(start time.Time, lastErr error) *Result {
	errStr := "SLA budget exhausted"
	if lastErr != nil {
		errStr = fmt.Sprintf("SLA budget exhausted, last error: %v", lastErr)
	}
	return &Result{
		Provider:       TimeoutProviderTag,
		Success:        false,
		Error:          errStr,
		ResponseTimeMS: time.Since(start).Milliseconds(),
	}
}
