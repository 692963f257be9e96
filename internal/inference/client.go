// Package inference calls the remote hairstyle inference server.
package inference

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net"
	"net/http"
	"net/textproto"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// ErrorKind classifies a failed remote call
type ErrorKind string

const (
	KindInputMissing ErrorKind = "input_missing"
	KindTimeout      ErrorKind = "timeout"
	KindStatus       ErrorKind = "status"
	KindTransport    ErrorKind = "transport"
)

const errorTextLimit = 300

// Error is returned for every failure of the remote call
type Error struct {
	Kind       ErrorKind
	StatusCode int
	Message    string
	Err        error
}

func (e *Error) Error() string { return e.Message }

func (e *Error) Unwrap() error { return e.Err }

// Request describes one inference call
type Request struct {
	SrcPath string
	DstPath string
	Style   string
}

// Client streams a source image to {BaseURL}/infer and writes the response body to the destination
type Client struct {
	BaseURL    string
	APIKey     string
	HTTPClient *http.Client
}

// NewClient creates a client whose requests are bounded by timeout
func NewClient(baseURL, apiKey string, timeout time.Duration) *Client {
	return &Client{
		BaseURL:    baseURL,
		APIKey:     apiKey,
		HTTPClient: &http.Client{Timeout: timeout},
	}
}

// Infer performs a single call. It never retries.
func (c *Client) Infer(ctx context.Context, req Request) error {
	src, err := os.Open(req.SrcPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return &Error{Kind: KindInputMissing, Message: fmt.Sprintf("input not found: %s", req.SrcPath), Err: err}
		}
		return &Error{Kind: KindTransport, Message: fmt.Sprintf("AI server request failed: %v", err), Err: err}
	}
	defer src.Close()

	url := strings.TrimRight(c.BaseURL, "/") + "/infer"

	pr, pw := io.Pipe()
	mw := multipart.NewWriter(pw)
	go func() {
		pw.CloseWithError(writeForm(mw, src, req))
	}()

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, pr)
	if err != nil {
		pr.Close()
		return &Error{Kind: KindTransport, Message: fmt.Sprintf("AI server request failed: %v", err), Err: err}
	}
	httpReq.Header.Set("Content-Type", mw.FormDataContentType())
	if c.APIKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.APIKey)
	}

	resp, err := c.httpClient().Do(httpReq)
	if err != nil {
		pr.Close()
		if isTimeout(err) {
			return &Error{Kind: KindTimeout, Message: fmt.Sprintf("AI server timeout: %s", url), Err: err}
		}
		return &Error{Kind: KindTransport, Message: fmt.Sprintf("AI server request failed: %v", err), Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		text, _ := io.ReadAll(io.LimitReader(resp.Body, errorTextLimit))
		return &Error{
			Kind:       KindStatus,
			StatusCode: resp.StatusCode,
			Message:    fmt.Sprintf("AI server error %d: %s", resp.StatusCode, string(text)),
		}
	}

	if err := streamToFile(resp.Body, req.DstPath); err != nil {
		if isTimeout(err) {
			return &Error{Kind: KindTimeout, Message: fmt.Sprintf("AI server timeout: %s", url), Err: err}
		}
		return &Error{Kind: KindTransport, Message: fmt.Sprintf("AI server request failed: %v", err), Err: err}
	}
	return nil
}

func (c *Client) httpClient() *http.Client {
	if c.HTTPClient == nil {
		return http.DefaultClient
	}
	return c.HTTPClient
}

func writeForm(mw *multipart.Writer, src io.Reader, req Request) error {
	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="file"; filename="%s"`, filepath.Base(req.SrcPath)))
	h.Set("Content-Type", mimeFor(req.SrcPath))

	part, err := mw.CreatePart(h)
	if err != nil {
		return err
	}
	if _, err := io.Copy(part, src); err != nil {
		return err
	}
	if req.Style != "" {
		if err := mw.WriteField("style", req.Style); err != nil {
			return err
		}
	}
	return mw.Close()
}

func mimeFor(path string) string {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".png":
		return "image/png"
	case ".webp":
		return "image/webp"
	default:
		return "image/jpeg"
	}
}

// streamToFile writes next to dst and renames, so a partial body never appears at dst
func streamToFile(body io.Reader, dst string) error {
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return fmt.Errorf("failed to create result directory: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(dst), ".infer-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := io.Copy(tmp, body); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), dst)
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
