package vision

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"
)

// Camera is a frame source with scoped acquisition: Acquire before the
// first Frame, Release on every exit path.
type Camera interface {
	Acquire(ctx context.Context) error
	Frame(ctx context.Context) ([]byte, error)
	Release()
}

// SnapshotCamera reads JPEG frames from an HTTP snapshot endpoint, the
// interface most IP cameras expose.
type SnapshotCamera struct {
	URL  string
	HTTP *http.Client
}

// NewSnapshotCamera creates a camera with per-frame timeouts.
func NewSnapshotCamera(url string) *SnapshotCamera {
	return &SnapshotCamera{
		URL:  url,
		HTTP: &http.Client{Timeout: 10 * time.Second},
	}
}

// Acquire verifies the endpoint answers before a session starts.
func (c *SnapshotCamera) Acquire(ctx context.Context) error {
	frame, err := c.Frame(ctx)
	if err != nil {
		return err
	}
	if len(frame) == 0 {
		return fmt.Errorf("camera: empty snapshot from %s", c.URL)
	}
	return nil
}

// Frame fetches one snapshot.
func (c *SnapshotCamera) Frame(ctx context.Context) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.URL, nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.HTTP.Do(req)
	if err != nil {
		return nil, fmt.Errorf("camera request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return nil, fmt.Errorf("camera error: %s", resp.Status)
	}
	return io.ReadAll(resp.Body)
}

// Release drops idle connections to the camera.
func (c *SnapshotCamera) Release() {
	c.HTTP.CloseIdleConnections()
}
