package media

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"
)

const snapshotTimeout = 5 * time.Second

// SnapshotClient fetches a current JPEG still from a camera HTTP endpoint.
type SnapshotClient struct {
	http *http.Client
}

func NewSnapshotClient() *SnapshotClient {
	return &SnapshotClient{http: &http.Client{Timeout: snapshotTimeout}}
}

// Fetch performs one snapshot round-trip and returns the raw JPEG bytes.
func (c *SnapshotClient) Fetch(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("snapshot fetch: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("snapshot http %d", resp.StatusCode)
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, 16<<20))
	if err != nil {
		return nil, fmt.Errorf("snapshot read: %w", err)
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("snapshot empty body")
	}
	return data, nil
}
