package ai

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/technosupport/ts-sentinel/internal/data"
)

// fakeProvider scripts per-call outcomes.
type fakeProvider struct {
	name    string
	video   string
	retry   RetryPolicy
	mu      sync.Mutex
	calls   int
	results []fakeOutcome
}

type fakeOutcome struct {
	res *Result
	err error
}

func (f *fakeProvider) Name() string             { return f.name }
func (f *fakeProvider) VideoMethod() string      { return f.video }
func (f *fakeProvider) RetryPolicy() RetryPolicy { return f.retry }

func (f *fakeProvider) next() (*Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	i := f.calls
	f.calls++
	if i >= len(f.results) {
		i = len(f.results) - 1
	}
	o := f.results[i]
	return o.res, o.err
}

func (f *fakeProvider) DescribeImage(ctx context.Context, _ string, _ PromptContext) (*Result, error) {
	return f.next()
}
func (f *fakeProvider) DescribeImages(ctx context.Context, _ []string, _ PromptContext) (*Result, error) {
	return f.next()
}
func (f *fakeProvider) DescribeVideo(ctx context.Context, _ string, _ PromptContext) (*Result, error) {
	if f.video == VideoNone {
		return nil, ErrVideoUnsupported
	}
	return f.next()
}

func okResult(provider, desc string) *Result {
	return &Result{Description: desc, Provider: provider, Success: true, TokensIn: 100, TokensOut: 20}
}

type memUsage struct {
	mu   sync.Mutex
	rows []*data.AIUsage
}

func (m *memUsage) Record(_ context.Context, u *data.AIUsage) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rows = append(m.rows, u)
}

func fastRetry(max int) RetryPolicy {
	return RetryPolicy{MaxRetries: max, Backoff: []time.Duration{time.Millisecond}}
}

func TestDispatch_FirstProviderWins(t *testing.T) {
	a := &fakeProvider{name: "openai", retry: fastRetry(3), results: []fakeOutcome{{res: okResult("openai", "a person")}}}
	b := &fakeProvider{name: "grok", retry: fastRetry(2), results: []fakeOutcome{{res: okResult("grok", "never")}}}
	usage := &memUsage{}
	svc := NewService([]Provider{a, b}, usage)

	res := svc.DescribeImage(context.Background(), "img", PromptContext{})
	require.True(t, res.Success)
	assert.Equal(t, "openai", res.Provider)
	assert.Equal(t, 0, b.calls, "second provider must not be attempted")
	assert.Len(t, usage.rows, 1)
	assert.True(t, usage.rows[0].Success)
}

func TestDispatch_RetryOnTransient(t *testing.T) {
	a := &fakeProvider{name: "openai", retry: fastRetry(3), results: []fakeOutcome{
		{err: errors.New("http 429: rate limited")},
		{res: okResult("openai", "second try")},
	}}
	svc := NewService([]Provider{a}, &memUsage{})

	res := svc.DescribeImage(context.Background(), "img", PromptContext{})
	require.True(t, res.Success)
	assert.Equal(t, 2, a.calls)
}

func TestDispatch_NoRetryOnPermanent(t *testing.T) {
	a := &fakeProvider{name: "openai", retry: fastRetry(3), results: []fakeOutcome{
		{err: errors.New("http 401: bad key")},
	}}
	b := &fakeProvider{name: "claude", retry: fastRetry(3), results: []fakeOutcome{{res: okResult("claude", "fallback")}}}
	svc := NewService([]Provider{a, b}, &memUsage{})

	res := svc.DescribeImage(context.Background(), "img", PromptContext{})
	require.True(t, res.Success)
	assert.Equal(t, "claude", res.Provider)
	assert.Equal(t, 1, a.calls, "permanent errors must not retry")
}

func TestDispatch_AllFail(t *testing.T) {
	a := &fakeProvider{name: "openai", retry: fastRetry(0), results: []fakeOutcome{{err: errors.New("http 503")}}}
	b := &fakeProvider{name: "grok", retry: fastRetry(0), results: []fakeOutcome{{err: errors.New("http 503")}}}
	usage := &memUsage{}
	svc := NewService([]Provider{a, b}, usage)

	res := svc.DescribeImage(context.Background(), "img", PromptContext{})
	assert.False(t, res.Success)
	assert.NotEmpty(t, res.Error)
	// Every call, failed included, is appended to the usage log.
	assert.GreaterOrEqual(t, len(usage.rows), 2)
}

func TestDispatch_UsageLoggedOnFailure(t *testing.T) {
	usage := &memUsage{}
	a := &fakeProvider{name: "openai", retry: fastRetry(1), results: []fakeOutcome{
		{err: errors.New("http 500")},
		{err: errors.New("http 500")},
	}}
	svc := NewService([]Provider{a}, usage)

	svc.DescribeImage(context.Background(), "img", PromptContext{})
	require.Len(t, usage.rows, 2)
	for _, row := range usage.rows {
		assert.False(t, row.Success)
		require.NotNil(t, row.Error)
		assert.Contains(t, *row.Error, "500")
		assert.Equal(t, data.ModeSingleFrame, row.AnalysisMode)
	}
}

func TestFirstVideoCapable(t *testing.T) {
	a := &fakeProvider{name: "claude", video: VideoNone}
	b := &fakeProvider{name: "gemini", video: VideoNativeUpload}
	svc := NewService([]Provider{a, b}, nil)

	p := svc.FirstVideoCapable()
	require.NotNil(t, p)
	assert.Equal(t, "gemini", p.Name())

	none := NewService([]Provider{a}, nil)
	assert.Nil(t, none.FirstVideoCapable())
}

func TestIsRetryable(t *testing.T) {
	assert.True(t, IsRetryable(errors.New("upstream 429")))
	assert.True(t, IsRetryable(errors.New("status 500 internal")))
	assert.True(t, IsRetryable(errors.New("503 service unavailable")))
	assert.False(t, IsRetryable(errors.New("401 unauthorized")))
	assert.False(t, IsRetryable(nil))
}

func TestCostCap(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	caps := NewCostCap(client, 1.0, 10.0)
	ctx := context.Background()

	reason, active := caps.Active(ctx)
	assert.False(t, active, "fresh counters must not trip the cap, got %s", reason)

	require.NoError(t, caps.AddSpend(ctx, 0.6))
	_, active = caps.Active(ctx)
	assert.False(t, active)

	require.NoError(t, caps.AddSpend(ctx, 0.5))
	reason, active = caps.Active(ctx)
	assert.True(t, active)
	assert.Equal(t, ReasonDailyLimit, reason)

	dailyFrac, monthlyFrac, err := caps.Thresholds(ctx)
	require.NoError(t, err)
	assert.InDelta(t, 1.1, dailyFrac, 0.001)
	assert.InDelta(t, 0.11, monthlyFrac, 0.001)
}

func TestCostCap_Unlimited(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	caps := NewCostCap(client, 0, 0)

	require.NoError(t, caps.AddSpend(context.Background(), 1000))
	_, active := caps.Active(context.Background())
	assert.False(t, active)
}
