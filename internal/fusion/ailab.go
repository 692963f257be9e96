// Package fusion chains hairstyle synthesis and image-to-3D generation
// through two remote APIs, synchronously and without a job store.
package fusion

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"strconv"
	"strings"
	"time"
)

const hairstyleEditorPath = "/api/portrait/effects/hairstyle-editor"

// AILabError is returned when a required hairstyle synthesis did not produce an image
type AILabError struct {
	Message string
	Err     error
}

func (e *AILabError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *AILabError) Unwrap() error { return e.Err }

// OutputStore persists generated files
type OutputStore interface {
	SaveOutput(prefix string, data []byte, ext string) (string, error)
}

// FusedImage is a synthesis result: either a file saved locally or a remote URL
type FusedImage struct {
	LocalPath string
	URL       string
}

// DebugResult is the unprocessed exchange with the hairstyle API
type DebugResult struct {
	RequestURL string `json:"request_url"`
	StatusCode int    `json:"status_code"`
	Response   any    `json:"response"`
}

type ailabResponse struct {
	ErrorCode *int   `json:"error_code"`
	ErrorMsg  string `json:"error_msg"`
	Data      *struct {
		Image string `json:"image"`
		URL   string `json:"url"`
	} `json:"data"`
}

// AILabClient calls the hairstyle editor endpoint
type AILabClient struct {
	BaseURL    string
	APIKey     string
	HTTPClient *http.Client

	outputs OutputStore
	logger  *slog.Logger
}

// NewAILabClient creates a client; inline base64 results are written to outputs
func NewAILabClient(baseURL, apiKey string, timeout time.Duration, outputs OutputStore, logger *slog.Logger) *AILabClient {
	return &AILabClient{
		BaseURL:    baseURL,
		APIKey:     apiKey,
		HTTPClient: &http.Client{Timeout: timeout},
		outputs:    outputs,
		logger:     logger,
	}
}

// Configured reports whether an API key is set
func (c *AILabClient) Configured() bool {
	return strings.TrimSpace(c.APIKey) != ""
}

func (c *AILabClient) endpoint() string {
	return strings.TrimRight(c.BaseURL, "/") + hairstyleEditorPath
}

// TryHairstyle returns nil on any failure, including a missing key
func (c *AILabClient) TryHairstyle(ctx context.Context, image []byte, hairType *int) *FusedImage {
	fused, err := c.synthesize(ctx, image, hairType)
	if err != nil {
		c.logger.Warn("Hairstyle synthesis failed", slog.Any("error", err))
		return nil
	}
	return fused
}

// RequireHairstyle is TryHairstyle with the failure reported as *AILabError
func (c *AILabClient) RequireHairstyle(ctx context.Context, image []byte, hairType *int) (*FusedImage, error) {
	fused, err := c.synthesize(ctx, image, hairType)
	if err != nil {
		return nil, &AILabError{Message: "hairstyle synthesis failed", Err: err}
	}
	return fused, nil
}

// Debug performs the call and returns the raw response, JSON-decoded when possible
func (c *AILabClient) Debug(ctx context.Context, image []byte, hairType *int) (*DebugResult, error) {
	if !c.Configured() {
		return nil, &AILabError{Message: "AILAB_API_KEY is not set"}
	}

	resp, err := c.post(ctx, image, hairType)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read hairstyle response: %w", err)
	}

	var body any
	if err := json.Unmarshal(raw, &body); err != nil {
		body = string(raw)
	}

	return &DebugResult{
		RequestURL: c.endpoint(),
		StatusCode: resp.StatusCode,
		Response:   body,
	}, nil
}

func (c *AILabClient) synthesize(ctx context.Context, image []byte, hairType *int) (*FusedImage, error) {
	if !c.Configured() {
		return nil, errors.New("AILAB_API_KEY is not set")
	}

	resp, err := c.post(ctx, image, hairType)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		text, _ := io.ReadAll(io.LimitReader(resp.Body, 4*1024))
		return nil, fmt.Errorf("hairstyle API returned %d: %s", resp.StatusCode, strings.TrimSpace(string(text)))
	}

	var decoded ailabResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, fmt.Errorf("failed to decode hairstyle response: %w", err)
	}
	if decoded.ErrorCode == nil || *decoded.ErrorCode != 0 {
		code := -1
		if decoded.ErrorCode != nil {
			code = *decoded.ErrorCode
		}
		return nil, fmt.Errorf("hairstyle API error_code %d: %s", code, decoded.ErrorMsg)
	}
	if decoded.Data == nil {
		return nil, errors.New("hairstyle response has no data")
	}

	if decoded.Data.Image != "" {
		img, err := base64.StdEncoding.DecodeString(decoded.Data.Image)
		if err != nil {
			return nil, fmt.Errorf("failed to decode inline image: %w", err)
		}
		path, err := c.outputs.SaveOutput("ailab_hair", img, ".png")
		if err != nil {
			return nil, err
		}
		return &FusedImage{LocalPath: path}, nil
	}
	if decoded.Data.URL != "" {
		return &FusedImage{URL: decoded.Data.URL}, nil
	}

	return nil, errors.New("hairstyle response has neither image nor url")
}

func (c *AILabClient) post(ctx context.Context, image []byte, hairType *int) (*http.Response, error) {
	body := &bytes.Buffer{}
	mw := multipart.NewWriter(body)

	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", `form-data; name="image_target"; filename="input.jpg"`)
	h.Set("Content-Type", "image/jpeg")
	part, err := mw.CreatePart(h)
	if err != nil {
		return nil, err
	}
	if _, err := part.Write(image); err != nil {
		return nil, err
	}
	if hairType != nil {
		if err := mw.WriteField("hair_type", strconv.Itoa(*hairType)); err != nil {
			return nil, err
		}
	}
	if err := mw.Close(); err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint(), body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set("ailabapi-api-key", c.APIKey)

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("hairstyle request failed: %w", err)
	}
	return resp, nil
}
