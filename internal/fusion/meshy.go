package fusion

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const imageTo3DPath = "/openapi/v1/image-to-3d"

// ErrMeshyNotConfigured is returned when no Meshy API key is set
var ErrMeshyNotConfigured = errors.New("MESHY_API_KEY is not set")

// MeshyError is a non-2xx or malformed response from the image-to-3D API
type MeshyError struct {
	StatusCode int
	Message    string
}

func (e *MeshyError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("meshy request failed: %d %s", e.StatusCode, e.Message)
	}
	return "meshy request failed: " + e.Message
}

// Task is the polled state of an image-to-3D task
type Task struct {
	Status   string
	Progress *float64
	GLBURL   string
	// Raw is the unmodified task payload
	Raw json.RawMessage
}

// Terminal reports whether the task will not change anymore
func (t *Task) Terminal() bool {
	switch strings.ToUpper(t.Status) {
	case "SUCCEEDED", "FAILED", "CANCELED", "EXPIRED":
		return true
	default:
		return false
	}
}

type createTaskRequest struct {
	ImageURL      string `json:"image_url"`
	ShouldRemesh  bool   `json:"should_remesh"`
	ShouldTexture bool   `json:"should_texture"`
	EnablePBR     bool   `json:"enable_pbr"`
}

type taskPayload struct {
	Status    string   `json:"status"`
	Progress  *float64 `json:"progress"`
	ModelURLs *struct {
		GLB string `json:"glb"`
	} `json:"model_urls"`
}

// MeshyClient creates and polls image-to-3D tasks
type MeshyClient struct {
	BaseURL    string
	APIKey     string
	HTTPClient *http.Client
}

// NewMeshyClient creates a client bounded by timeout per call
func NewMeshyClient(baseURL, apiKey string, timeout time.Duration) *MeshyClient {
	return &MeshyClient{
		BaseURL:    baseURL,
		APIKey:     apiKey,
		HTTPClient: &http.Client{Timeout: timeout},
	}
}

// Configured reports whether an API key is set
func (c *MeshyClient) Configured() bool {
	return strings.TrimSpace(c.APIKey) != ""
}

// CreateImageTo3D starts a task for imageURL, which may be an http(s) or data: URI
func (c *MeshyClient) CreateImageTo3D(ctx context.Context, imageURL string) (string, error) {
	if !c.Configured() {
		return "", ErrMeshyNotConfigured
	}

	b, err := json.Marshal(createTaskRequest{
		ImageURL:      imageURL,
		ShouldRemesh:  true,
		ShouldTexture: true,
		EnablePBR:     true,
	})
	if err != nil {
		return "", err
	}

	endpoint := strings.TrimRight(c.BaseURL, "/") + imageTo3DPath
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(b))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.APIKey)

	body, err := c.do(req)
	if err != nil {
		return "", err
	}

	var decoded struct {
		Result string `json:"result"`
	}
	if err := json.Unmarshal(body, &decoded); err != nil {
		return "", &MeshyError{Message: fmt.Sprintf("invalid task response: %v", err)}
	}
	if decoded.Result == "" {
		return "", &MeshyError{Message: fmt.Sprintf("task response has no result: %s", truncate(string(body), 300))}
	}
	return decoded.Result, nil
}

// GetTask fetches the current state of a task once
func (c *MeshyClient) GetTask(ctx context.Context, taskID string) (*Task, error) {
	if !c.Configured() {
		return nil, ErrMeshyNotConfigured
	}

	endpoint := strings.TrimRight(c.BaseURL, "/") + imageTo3DPath + "/" + url.PathEscape(taskID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+c.APIKey)

	body, err := c.do(req)
	if err != nil {
		return nil, err
	}
	return parseTask(body)
}

func (c *MeshyClient) do(req *http.Request) ([]byte, error) {
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, &MeshyError{Message: err.Error()}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &MeshyError{Message: fmt.Sprintf("failed to read response: %v", err)}
	}
	if resp.StatusCode >= 400 {
		return nil, &MeshyError{StatusCode: resp.StatusCode, Message: truncate(strings.TrimSpace(string(body)), 300)}
	}
	return body, nil
}

func parseTask(body []byte) (*Task, error) {
	var p taskPayload
	if err := json.Unmarshal(body, &p); err != nil {
		return nil, &MeshyError{Message: fmt.Sprintf("invalid task payload: %v", err)}
	}

	task := &Task{
		Status:   p.Status,
		Progress: p.Progress,
		Raw:      json.RawMessage(body),
	}
	if p.ModelURLs != nil {
		task.GLBURL = p.ModelURLs.GLB
	}
	return task, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
