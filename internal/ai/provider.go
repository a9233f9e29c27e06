package ai

import (
	"context"
	"errors"
	"strings"
	"time"
)

// Video capability of a provider.
const (
	VideoNone            = "none"
	VideoFrameExtraction = "frame_extraction"
	VideoNativeUpload    = "native_upload"
)

// Provider tags; also the default chain order.
const (
	ProviderOpenAI = "openai"
	ProviderGrok   = "grok"
	ProviderClaude = "claude"
	ProviderGemini = "gemini"
)

var DefaultProviderOrder = []string{ProviderOpenAI, ProviderGrok, ProviderClaude, ProviderGemini}

// ErrVideoUnsupported is returned by DescribeVideo on non-video providers.
var ErrVideoUnsupported = errors.New("provider does not support video input")

// PromptContext carries the per-event context appended to every prompt.
type PromptContext struct {
	CameraName         string
	Timestamp          time.Time
	DetectedObjects    []string
	CustomPrompt       string
	AudioTranscription string
	KnownEntityContext string // prior-sighting summary of a pre-matched entity
	FrameCount         int    // multi-frame only
}

// Result is the shared outcome contract of every provider operation.
type Result struct {
	Description            string
	SelfReportedConfidence *int // 0-100, nil when the model did not report one
	TokensIn               int
	TokensOut              int
	TokensEstimated        bool
	ResponseTimeMS         int64
	Provider               string
	CostUSD                float64
	Success                bool
	Error                  string
}

// RetryPolicy is the per-provider retry schedule for transient failures.
type RetryPolicy struct {
	MaxRetries int
	Backoff    []time.Duration
}

// Delay returns the backoff before retry attempt i (0-based).
func (p RetryPolicy) Delay(i int) time.Duration {
	if len(p.Backoff) == 0 {
		return 0
	}
	if i >= len(p.Backoff) {
		return p.Backoff[len(p.Backoff)-1]
	}
	return p.Backoff[i]
}

var (
	defaultRetryPolicy = RetryPolicy{MaxRetries: 3, Backoff: []time.Duration{2 * time.Second, 4 * time.Second, 8 * time.Second}}
	grokRetryPolicy    = RetryPolicy{MaxRetries: 2, Backoff: []time.Duration{500 * time.Millisecond, 500 * time.Millisecond}}
)

// Provider is the capability surface over one vision-language vendor.
type Provider interface {
	Name() string
	VideoMethod() string
	RetryPolicy() RetryPolicy
	DescribeImage(ctx context.Context, jpegB64 string, pc PromptContext) (*Result, error)
	DescribeImages(ctx context.Context, jpegB64 []string, pc PromptContext) (*Result, error)
	DescribeVideo(ctx context.Context, clipPath string, pc PromptContext) (*Result, error)
}

// IsRetryable reports whether an error string carries a transient marker
// (rate limit or upstream 5xx). Everything else falls through the chain.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	s := err.Error()
	return strings.Contains(s, "429") || strings.Contains(s, "500") || strings.Contains(s, "503")
}
