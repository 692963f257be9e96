package fusion

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestModelProxy_Resolve(t *testing.T) {
	tests := []struct {
		name    string
		allowed []string
		raw     string
		want    string
		wantErr string
	}{
		{name: "plain", raw: "https://assets.example.com/m.glb?sig=a%2Bb", want: "https://assets.example.com/m.glb?sig=a%2Bb"},
		{name: "trimmed", raw: "  http://assets.example.com/m.glb ", want: "http://assets.example.com/m.glb"},
		{name: "percent encoded once", raw: url.QueryEscape("https://assets.example.com/m.glb?x=1"), want: "https://assets.example.com/m.glb?x=1"},
		{name: "empty", raw: "   ", wantErr: "glb_url is required"},
		{name: "bad scheme", raw: "file:///etc/passwd", wantErr: "http or https"},
		{name: "no host", raw: "https:///m.glb", wantErr: "no host"},
		{name: "allowed host", allowed: []string{" Assets.Example.com "}, raw: "https://assets.example.com/m.glb", want: "https://assets.example.com/m.glb"},
		{name: "host not allowed", allowed: []string{"assets.example.com"}, raw: "https://evil.example.org/m.glb", wantErr: "not allowed"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			u, err := NewModelProxy(time.Second, tt.allowed).Resolve(tt.raw)
			if tt.wantErr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, u.String())
		})
	}
}

func TestModelProxy_Fetch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/typed.glb":
			w.Header().Set("Content-Type", "application/octet-stream")
			_, _ = io.WriteString(w, "glTF-typed")
		case "/untyped.glb":
			w.Header()["Content-Type"] = nil
			_, _ = io.WriteString(w, "glTF-untyped")
		default:
			w.WriteHeader(http.StatusForbidden)
		}
	}))
	defer srv.Close()

	p := NewModelProxy(5*time.Second, nil)
	fetch := func(path string) (*ProxiedModel, error) {
		u, err := p.Resolve(srv.URL + path)
		require.NoError(t, err)
		return p.Fetch(context.Background(), u)
	}

	m, err := fetch("/typed.glb")
	require.NoError(t, err)
	body, _ := io.ReadAll(m.Body)
	m.Body.Close()
	assert.Equal(t, "glTF-typed", string(body))
	assert.Equal(t, "application/octet-stream", m.ContentType)
	assert.Equal(t, int64(len("glTF-typed")), m.ContentLength)

	m, err = fetch("/untyped.glb")
	require.NoError(t, err)
	m.Body.Close()
	assert.Equal(t, defaultModelContentType, m.ContentType)

	_, err = fetch("/missing.glb")
	require.Error(t, err)
	assert.Equal(t, "remote model request failed (status=403)", err.Error())
}
