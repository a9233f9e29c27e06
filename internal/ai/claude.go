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

// ClaudeClient speaks the Anthropic messages API with typed content blocks.
type ClaudeClient struct {
	apiKey string
	model  string
	base   string
	http   *http.Client
}

func NewClaudeClient(apiKey string) *ClaudeClient {
	return &ClaudeClient{
		apiKey: apiKey,
		model:  "claude-3-5-haiku-latest",
		base:   "https://api.anthropic.com",
		http:   &http.Client{Timeout: 60 * time.Second},
	}
}

func (c *ClaudeClient) Name() string             { return ProviderClaude }
func (c *ClaudeClient) VideoMethod() string      { return VideoNone }
func (c *ClaudeClient) RetryPolicy() RetryPolicy { return defaultRetryPolicy }

type claudeBlock struct {
	Type   string        `json:"type"`
	Text   string        `json:"text,omitempty"`
	Source *claudeSource `json:"source,omitempty"`
}

type claudeSource struct {
	Type      string `json:"type"`
	MediaType string `json:"media_type"`
	Data      string `json:"data"`
}

type claudeResponse struct {
	Content []struct {
		Text string `json:"text"`
	} `json:"content"`
	Usage struct {
		InputTokens  int `json:"input_tokens"`
		OutputTokens int `json:"output_tokens"`
	} `json:"usage"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error"`
}

func (c *ClaudeClient) DescribeImage(ctx context.Context, jpegB64 string, pc PromptContext) (*Result, error) {
	return c.describe(ctx, []string{jpegB64}, pc, false)
}

func (c *ClaudeClient) DescribeImages(ctx context.Context, jpegB64 []string, pc PromptContext) (*Result, error) {
	return c.describe(ctx, jpegB64, pc, true)
}

func (c *ClaudeClient) DescribeVideo(ctx context.Context, clipPath string, pc PromptContext) (*Result, error) {
	return nil, ErrVideoUnsupported
}

func (c *ClaudeClient) describe(ctx context.Context, images []string, pc PromptContext, multi bool) (*Result, error) {
	start := time.Now()

	blocks := make([]claudeBlock, 0, len(images)+1)
	for _, img := range images {
		blocks = append(blocks, claudeBlock{
			Type: "image",
			Source: &claudeSource{
				Type:      "base64",
				MediaType: "image/jpeg",
				Data:      img,
			},
		})
	}
	blocks = append(blocks, claudeBlock{Type: "text", Text: BuildSystemPrompt(pc, multi)})

	body, err := json.Marshal(map[string]any{
		"model":      c.model,
		"max_tokens": 300,
		"messages": []map[string]any{
			{"role": "user", "content": blocks},
		},
	})
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.base+"/v1/messages", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-api-key", c.apiKey)
	req.Header.Set("anthropic-version", "2023-06-01")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("claude request: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("claude http %d: %s", resp.StatusCode, truncate(string(raw), 200))
	}

	var parsed claudeResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return nil, fmt.Errorf("claude response decode: %w", err)
	}
	if parsed.Error != nil {
		return nil, fmt.Errorf("claude api error: %s", parsed.Error.Message)
	}
	if len(parsed.Content) == 0 {
		return nil, fmt.Errorf("claude: empty content")
	}

	return buildResult(ProviderClaude, parsed.Content[0].Text,
		parsed.Usage.InputTokens, parsed.Usage.OutputTokens, len(images), start), nil
}
