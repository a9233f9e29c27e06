package ai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"
)

// GeminiClient speaks the Gemini generateContent API with inline parts, and
// supports native video upload with a processing-state probe.
type GeminiClient struct {
	apiKey string
	model  string
	base   string
	http   *http.Client
}

const geminiUploadDeadline = 120 * time.Second

func NewGeminiClient(apiKey string) *GeminiClient {
	return &GeminiClient{
		apiKey: apiKey,
		model:  "gemini-2.0-flash",
		base:   "https://generativelanguage.googleapis.com",
		http:   &http.Client{Timeout: 120 * time.Second},
	}
}

func (c *GeminiClient) Name() string             { return ProviderGemini }
func (c *GeminiClient) VideoMethod() string      { return VideoNativeUpload }
func (c *GeminiClient) RetryPolicy() RetryPolicy { return defaultRetryPolicy }

type geminiPart struct {
	Text       string          `json:"text,omitempty"`
	InlineData *geminiInline   `json:"inline_data,omitempty"`
	FileData   *geminiFileData `json:"file_data,omitempty"`
}

type geminiInline struct {
	MimeType string `json:"mime_type"`
	Data     string `json:"data"` // base64
}

type geminiFileData struct {
	MimeType string `json:"mime_type"`
	FileURI  string `json:"file_uri"`
}

type geminiResponse struct {
	Candidates []struct {
		Content struct {
			Parts []struct {
				Text string `json:"text"`
			} `json:"parts"`
		} `json:"content"`
	} `json:"candidates"`
	UsageMetadata *struct {
		PromptTokenCount     int `json:"promptTokenCount"`
		CandidatesTokenCount int `json:"candidatesTokenCount"`
	} `json:"usageMetadata"`
	Error *struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

func (c *GeminiClient) DescribeImage(ctx context.Context, jpegB64 string, pc PromptContext) (*Result, error) {
	return c.describeImages(ctx, []string{jpegB64}, pc, false)
}

func (c *GeminiClient) DescribeImages(ctx context.Context, jpegB64 []string, pc PromptContext) (*Result, error) {
	return c.describeImages(ctx, jpegB64, pc, true)
}

func (c *GeminiClient) describeImages(ctx context.Context, images []string, pc PromptContext, multi bool) (*Result, error) {
	parts := []geminiPart{{Text: BuildSystemPrompt(pc, multi)}}
	for _, img := range images {
		parts = append(parts, geminiPart{InlineData: &geminiInline{MimeType: "image/jpeg", Data: img}})
	}
	return c.generate(ctx, parts, len(images))
}

// DescribeVideo uploads the clip to the files API, polls the file state until
// it leaves PROCESSING (or the 120s deadline expires), then runs inference
// against the uploaded handle.
func (c *GeminiClient) DescribeVideo(ctx context.Context, clipPath string, pc PromptContext) (*Result, error) {
	fileURI, err := c.uploadFile(ctx, clipPath)
	if err != nil {
		return nil, err
	}

	parts := []geminiPart{
		{Text: BuildSystemPrompt(pc, true)},
		{FileData: &geminiFileData{MimeType: "video/mp4", FileURI: fileURI}},
	}
	return c.generate(ctx, parts, 1)
}

func (c *GeminiClient) generate(ctx context.Context, parts []geminiPart, imageCount int) (*Result, error) {
	start := time.Now()

	body, err := json.Marshal(map[string]any{
		"contents": []map[string]any{{"parts": parts}},
	})
	if err != nil {
		return nil, err
	}

	url := fmt.Sprintf("%s/v1beta/models/%s:generateContent?key=%s", c.base, c.model, c.apiKey)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("gemini request: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("gemini http %d: %s", resp.StatusCode, truncate(string(raw), 200))
	}

	var parsed geminiResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return nil, fmt.Errorf("gemini response decode: %w", err)
	}
	if parsed.Error != nil {
		return nil, fmt.Errorf("gemini api error %d: %s", parsed.Error.Code, parsed.Error.Message)
	}
	if len(parsed.Candidates) == 0 || len(parsed.Candidates[0].Content.Parts) == 0 {
		return nil, fmt.Errorf("gemini: empty candidates")
	}

	// Gemini often omits usage metadata; the estimation path covers that.
	tokensIn, tokensOut := 0, 0
	if parsed.UsageMetadata != nil {
		tokensIn = parsed.UsageMetadata.PromptTokenCount
		tokensOut = parsed.UsageMetadata.CandidatesTokenCount
	}

	return buildResult(ProviderGemini, parsed.Candidates[0].Content.Parts[0].Text,
		tokensIn, tokensOut, imageCount, start), nil
}

type geminiFile struct {
	File struct {
		Name  string `json:"name"`
		URI   string `json:"uri"`
		State string `json:"state"`
	} `json:"file"`
}

func (c *GeminiClient) uploadFile(ctx context.Context, clipPath string) (string, error) {
	f, err := os.Open(clipPath)
	if err != nil {
		return "", err
	}
	defer f.Close()

	url := fmt.Sprintf("%s/upload/v1beta/files?key=%s", c.base, c.apiKey)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, f)
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "video/mp4")

	resp, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("gemini upload: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", err
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("gemini upload http %d: %s", resp.StatusCode, truncate(string(raw), 200))
	}

	var uploaded geminiFile
	if err := json.Unmarshal(raw, &uploaded); err != nil {
		return "", fmt.Errorf("gemini upload decode: %w", err)
	}

	return c.awaitFileReady(ctx, uploaded.File.Name, uploaded.File.URI, uploaded.File.State)
}

// awaitFileReady polls file.state until it leaves PROCESSING or the deadline
// hits.
func (c *GeminiClient) awaitFileReady(ctx context.Context, name, uri, state string) (string, error) {
	deadline := time.Now().Add(geminiUploadDeadline)
	for state == "PROCESSING" {
		if time.Now().After(deadline) {
			return "", fmt.Errorf("gemini file %s still processing after %s", name, geminiUploadDeadline)
		}
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(2 * time.Second):
		}

		url := fmt.Sprintf("%s/v1beta/%s?key=%s", c.base, name, c.apiKey)
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return "", err
		}
		resp, err := c.http.Do(req)
		if err != nil {
			return "", err
		}
		raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
		resp.Body.Close()
		if err != nil {
			return "", err
		}

		var probe struct {
			URI   string `json:"uri"`
			State string `json:"state"`
		}
		if err := json.Unmarshal(raw, &probe); err != nil {
			return "", fmt.Errorf("gemini file probe decode: %w", err)
		}
		state = probe.State
		if probe.URI != "" {
			uri = probe.URI
		}
	}

	if state != "ACTIVE" {
		return "", fmt.Errorf("gemini file %s in state %s", name, state)
	}
	return uri, nil
}
