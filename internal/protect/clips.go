package protect

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"time"
)

const clipTimeout = 20 * time.Second

// ClipClient downloads short event clips from the controller export API.
type ClipClient struct {
	base   string
	apiKey string
	http   *http.Client
}

func NewClipClient(base, apiKey string) *ClipClient {
	return &ClipClient{
		base:   base,
		apiKey: apiKey,
		http:   &http.Client{Timeout: clipTimeout},
	}
}

// Download fetches the clip covering [start, end] for one camera and writes
// it to destPath. The file is removed on any failure.
func (c *ClipClient) Download(ctx context.Context, protectCameraID string, start, end time.Time, destPath string) error {
	q := url.Values{}
	q.Set("camera", protectCameraID)
	q.Set("start", strconv.FormatInt(start.UnixMilli(), 10))
	q.Set("end", strconv.FormatInt(end.UnixMilli(), 10))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.base+"/proxy/protect/api/video/export?"+q.Encode(), nil)
	if err != nil {
		return err
	}
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("clip download: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("clip download http %d", resp.StatusCode)
	}

	if err := os.MkdirAll(filepath.Dir(destPath), 0o755); err != nil {
		return err
	}
	f, err := os.Create(destPath)
	if err != nil {
		return err
	}

	n, err := io.Copy(f, resp.Body)
	closeErr := f.Close()
	if err == nil {
		err = closeErr
	}
	if err == nil && n == 0 {
		err = fmt.Errorf("clip download empty body")
	}
	if err != nil {
		os.Remove(destPath)
		return err
	}
	return nil
}
