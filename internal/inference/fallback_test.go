package inference

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type inferFunc func(ctx context.Context, req Request) error

func (f inferFunc) Infer(ctx context.Context, req Request) error { return f(ctx, req) }

func nopLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestFallbackProcessor_Success(t *testing.T) {
	p := NewFallbackProcessor(inferFunc(func(context.Context, Request) error { return nil }), nopLogger())

	out, err := p.Process(context.Background(), Request{SrcPath: "a", DstPath: "b"})
	require.NoError(t, err)
	assert.False(t, out.Degraded)
	assert.Nil(t, out.Cause)
}

// A remote failure still yields a result: the destination is a verbatim copy of the source.
func TestFallbackProcessor_CopiesSourceOnRemoteError(t *testing.T) {
	content := []byte("\x89PNG\r\n\x1a\n-original-pixels")
	src := writeSource(t, "face.png", content)
	dst := filepath.Join(t.TempDir(), "results", "id_result.png")

	remoteErr := &Error{Kind: KindStatus, StatusCode: 503, Message: "AI server error 503: busy"}
	p := NewFallbackProcessor(inferFunc(func(context.Context, Request) error { return remoteErr }), nopLogger())

	out, err := p.Process(context.Background(), Request{SrcPath: src, DstPath: dst})
	require.NoError(t, err)
	assert.True(t, out.Degraded)
	assert.ErrorIs(t, out.Cause, remoteErr)

	got, err := os.ReadFile(dst)
	require.NoError(t, err)
	assert.Equal(t, content, got)
}

func TestFallbackProcessor_CopyFailure(t *testing.T) {
	missing := filepath.Join(t.TempDir(), "gone.png")
	remoteErr := &Error{Kind: KindInputMissing, Message: "input not found: " + missing}
	p := NewFallbackProcessor(inferFunc(func(context.Context, Request) error { return remoteErr }), nopLogger())

	_, err := p.Process(context.Background(), Request{SrcPath: missing, DstPath: filepath.Join(t.TempDir(), "x.png")})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "input not found")
}

func TestFallbackProcessor_PassesThroughOtherErrors(t *testing.T) {
	boom := errors.New("boom")
	p := NewFallbackProcessor(inferFunc(func(context.Context, Request) error { return boom }), nopLogger())

	_, err := p.Process(context.Background(), Request{SrcPath: "a", DstPath: "b"})
	assert.ErrorIs(t, err, boom)
}
