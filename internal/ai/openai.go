package ai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// OpenAIClient speaks the OpenAI-compatible chat completions API. Grok uses
// the identical wire shape with a different base URL and retry policy.
type OpenAIClient struct {
	tag    string
	apiKey string
	model  string
	base   string
	retry  RetryPolicy
	http   *http.Client
}

func NewOpenAIClient(apiKey string) *OpenAIClient {
	return &OpenAIClient{
		tag:    ProviderOpenAI,
		apiKey: apiKey,
		model:  "gpt-4o-mini",
		base:   "https://api.openai.com/v1",
		retry:  defaultRetryPolicy,
		http:   &http.Client{Timeout: 60 * time.Second},
	}
}

func NewGrokClient(apiKey string) *OpenAIClient {
	return &OpenAIClient{
		tag:    ProviderGrok,
		apiKey: apiKey,
		model:  "grok-2-vision",
		base:   "https://api.x.ai/v1",
		retry:  grokRetryPolicy,
		http:   &http.Client{Timeout: 60 * time.Second},
	}
}

func (c *OpenAIClient) Name() string             { return c.tag }
func (c *OpenAIClient) VideoMethod() string      { return VideoFrameExtraction }
func (c *OpenAIClient) RetryPolicy() RetryPolicy { return c.retry }

type oaiMessage struct {
	Role    string           `json:"role"`
	Content []oaiContentPart `json:"content"`
}

type oaiContentPart struct {
	Type     string       `json:"type"`
	Text     string       `json:"text,omitempty"`
	ImageURL *oaiImageURL `json:"image_url,omitempty"`
}

type oaiImageURL struct {
	URL string `json:"url"`
}

type oaiResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
	} `json:"usage"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error"`
}

func (c *OpenAIClient) DescribeImage(ctx context.Context, jpegB64 string, pc PromptContext) (*Result, error) {
	return c.describe(ctx, []string{jpegB64}, pc, false)
}

func (c *OpenAIClient) DescribeImages(ctx context.Context, jpegB64 []string, pc PromptContext) (*Result, error) {
	return c.describe(ctx, jpegB64, pc, true)
}

// DescribeVideo is not native here; the dispatcher extracts frames and calls
// DescribeImages for frame_extraction providers.
func (c *OpenAIClient) DescribeVideo(ctx context.Context, clipPath string, pc PromptContext) (*Result, error) {
	return nil, ErrVideoUnsupported
}

func (c *OpenAIClient) describe(ctx context.Context, images []string, pc PromptContext, multi bool) (*Result, error) {
	start := time.Now()

	parts := []oaiContentPart{{Type: "text", Text: BuildSystemPrompt(pc, multi)}}
	for _, img := range images {
		parts = append(parts, oaiContentPart{
			Type:     "image_url",
			ImageURL: &oaiImageURL{URL: "data:image/jpeg;base64," + img},
		})
	}

	body, err := json.Marshal(map[string]any{
		"model":      c.model,
		"messages":   []oaiMessage{{Role: "user", Content: parts}},
		"max_tokens": 300,
	})
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.base+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s request: %w", c.tag, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%s http %d: %s", c.tag, resp.StatusCode, truncate(string(raw), 200))
	}

	var parsed oaiResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return nil, fmt.Errorf("%s response decode: %w", c.tag, err)
	}
	if parsed.Error != nil {
		return nil, fmt.Errorf("%s api error: %s", c.tag, parsed.Error.Message)
	}
	if len(parsed.Choices) == 0 {
		return nil, fmt.Errorf("%s: empty choices", c.tag)
	}

	return buildResult(c.tag, parsed.Choices[0].Message.Content,
		parsed.Usage.PromptTokens, parsed.Usage.CompletionTokens, len(images), start), nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
