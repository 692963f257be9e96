package fusion

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"slices"
	"strings"
	"time"
)

const defaultModelContentType = "model/gltf-binary"

// ModelProxy fetches remote model files so browsers can load them from this origin
type ModelProxy struct {
	client       *http.Client
	allowedHosts []string
}

// ProxiedModel is an open upstream response body
type ProxiedModel struct {
	Body          io.ReadCloser
	ContentType   string
	ContentLength int64
}

// NewModelProxy creates a proxy. An empty allowedHosts permits any host.
func NewModelProxy(timeout time.Duration, allowedHosts []string) *ModelProxy {
	hosts := make([]string, 0, len(allowedHosts))
	for _, h := range allowedHosts {
		if h = strings.ToLower(strings.TrimSpace(h)); h != "" {
			hosts = append(hosts, h)
		}
	}
	return &ModelProxy{
		client:       &http.Client{Timeout: timeout},
		allowedHosts: hosts,
	}
}

// Resolve validates a glb_url value. Values that arrive still percent-encoded are decoded once.
func (p *ModelProxy) Resolve(raw string) (*url.URL, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, errors.New("glb_url is required")
	}
	lower := strings.ToLower(raw)
	if !strings.HasPrefix(lower, "http://") && !strings.HasPrefix(lower, "https://") {
		if decoded, err := url.QueryUnescape(raw); err == nil {
			raw = decoded
		}
	}

	u, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("invalid glb_url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, errors.New("glb_url must be an http or https URL")
	}
	if u.Host == "" {
		return nil, errors.New("glb_url has no host")
	}
	if len(p.allowedHosts) > 0 && !slices.Contains(p.allowedHosts, strings.ToLower(u.Hostname())) {
		return nil, fmt.Errorf("host %s is not allowed", u.Hostname())
	}
	return u, nil
}

// Fetch opens the remote file. Anything but 200 is an error.
func (p *ModelProxy) Fetch(ctx context.Context, u *url.URL) (*ProxiedModel, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, err
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("remote model request failed: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, fmt.Errorf("remote model request failed (status=%d)", resp.StatusCode)
	}

	contentType := resp.Header.Get("Content-Type")
	if contentType == "" {
		contentType = defaultModelContentType
	}

	return &ProxiedModel{
		Body:          resp.Body,
		ContentType:   contentType,
		ContentLength: resp.ContentLength,
	}, nil
}
