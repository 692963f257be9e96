package inference

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
)

// Inferer is satisfied by *Client
type Inferer interface {
	Infer(ctx context.Context, req Request) error
}

// Outcome reports how a result was produced
type Outcome struct {
	// Degraded is set when the result is a copy of the source
	Degraded bool
	// Cause is the remote error that triggered the fallback
	Cause error
}

// FallbackProcessor runs the remote call and, when it fails, copies the
// source to the destination byte for byte so the job still has a result.
type FallbackProcessor struct {
	inferer Inferer
	logger  *slog.Logger
}

// NewFallbackProcessor wraps inferer with the copy fallback
func NewFallbackProcessor(inferer Inferer, logger *slog.Logger) *FallbackProcessor {
	return &FallbackProcessor{inferer: inferer, logger: logger}
}

// Process returns an error only when neither the remote call nor the copy produced a result
func (p *FallbackProcessor) Process(ctx context.Context, req Request) (Outcome, error) {
	err := p.inferer.Infer(ctx, req)
	if err == nil {
		return Outcome{}, nil
	}

	var inferErr *Error
	if !errors.As(err, &inferErr) {
		return Outcome{}, err
	}

	p.logger.Warn("Inference failed, copying source as result",
		slog.String("src_path", req.SrcPath),
		slog.String("kind", string(inferErr.Kind)),
		slog.Any("error", err),
	)

	if copyErr := copyFile(req.SrcPath, req.DstPath); copyErr != nil {
		return Outcome{}, fmt.Errorf("%s; fallback copy failed: %w", inferErr.Message, copyErr)
	}
	return Outcome{Degraded: true, Cause: err}, nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return err
	}
	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}
