package embed

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// Dim is the embedding width produced by the sidecar model.
const Dim = 512

// Client talks to the embedding sidecar over HTTP. The sidecar hosts the
// vision model and returns one L2-normalizable vector per crop.
type Client struct {
	base string
	http *http.Client
}

func NewClient(baseURL string) *Client {
	return &Client{
		base: baseURL,
		http: &http.Client{Timeout: 10 * time.Second},
	}
}

type embedRequest struct {
	ImageB64 string `json:"image_b64"`
	Kind     string `json:"kind"` // "face" or "vehicle"
}

type embedResponse struct {
	Embedding []float32 `json:"embedding"`
	Error     string    `json:"error,omitempty"`
}

// Embed returns the vector for one JPEG crop. kind selects the face or
// vehicle head on the sidecar.
func (c *Client) Embed(ctx context.Context, jpegB64, kind string) ([]float32, error) {
	payload, err := json.Marshal(embedRequest{ImageB64: jpegB64, Kind: kind})
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.base+"/v1/embed", bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("embed request: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("embed http %d: %s", resp.StatusCode, string(raw))
	}

	var parsed embedResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return nil, fmt.Errorf("embed decode: %w", err)
	}
	if parsed.Error != "" {
		return nil, fmt.Errorf("embed sidecar: %s", parsed.Error)
	}
	if len(parsed.Embedding) != Dim {
		return nil, fmt.Errorf("embed returned %d dims, want %d", len(parsed.Embedding), Dim)
	}
	return parsed.Embedding, nil
}

// Healthy probes the sidecar health endpoint.
func (c *Client) Healthy(ctx context.Context) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.base+"/healthz", nil)
	if err != nil {
		return false
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	return resp.StatusCode == http.StatusOK
}
