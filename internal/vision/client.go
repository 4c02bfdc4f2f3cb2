package vision

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// Detection is one face found in a frame, with its feature vector.
type Detection struct {
	Descriptor []float32 `json:"descriptor"`
	Score      float64   `json:"score"`
}

// Client calls the vision collaborator: a service that extracts face
// detections and descriptors from a video frame. With Skip set it returns
// canned results so the rest of the pipeline can run without the service.
type Client struct {
	BaseURL string
	HTTP    *http.Client
	Skip    bool
}

// New creates a client. Detection can take a while on large frames.
func New(baseURL string, skip bool) *Client {
	return &Client{
		BaseURL: baseURL,
		Skip:    skip,
		HTTP: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// Detect sends a JPEG frame and returns all face detections with
// descriptors. Zero detections is a normal result, not an error.
func (c *Client) Detect(ctx context.Context, frame []byte) ([]Detection, error) {
	if c.Skip {
		return []Detection{{
			Descriptor: []float32{0.1, 0.2, 0.3},
			Score:      0.95,
		}}, nil
	}
	if len(frame) == 0 {
		return nil, fmt.Errorf("vision: empty frame")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+"/detect", bytes.NewReader(frame))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "image/jpeg")

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return nil, fmt.Errorf("vision service request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		bodyBytes, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("vision service error %s: %s", resp.Status, string(bodyBytes))
	}

	var out struct {
		Detections []Detection `json:"detections"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}
	return out.Detections, nil
}

// Health checks that the service is up with its models loaded. This is the
// models-loaded preflight gate for starting a session.
func (c *Client) Health(ctx context.Context) error {
	if c.Skip {
		return nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.BaseURL+"/health", nil)
	if err != nil {
		return err
	}

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return fmt.Errorf("vision service unavailable: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return fmt.Errorf("vision service unhealthy: %s", resp.Status)
	}

	return nil
}
