package fusion

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"slices"
	"time"
)

// ErrInvalidHairType is returned for a hair_type the hairstyle API does not accept
var ErrInvalidHairType = errors.New("invalid hair_type")

// hair_type values accepted by the hairstyle editor
var allowedHairTypes = []int{101, 201, 301, 401, 402, 403, 502, 503, 603, 801, 901, 1001, 1101, 1201, 1301}

// ValidHairType reports whether the hairstyle API accepts hairType
func ValidHairType(hairType int) bool {
	return slices.Contains(allowedHairTypes, hairType)
}

// AllowedHairTypes returns the accepted hair_type values
func AllowedHairTypes() []int {
	return slices.Clone(allowedHairTypes)
}

// Config holds Service dependencies
type Config struct {
	AILab   *AILabClient
	Meshy   *MeshyClient
	Outputs OutputStore
	// Cache is optional
	Cache    TaskCache
	CacheTTL time.Duration
	Logger   *slog.Logger
}

// Service runs the fusion pipeline steps
type Service struct {
	ailab    *AILabClient
	meshy    *MeshyClient
	outputs  OutputStore
	cache    TaskCache
	cacheTTL time.Duration
	logger   *slog.Logger
}

// NewService creates a new Service instance
func NewService(cfg *Config) *Service {
	return &Service{
		ailab:    cfg.AILab,
		meshy:    cfg.Meshy,
		outputs:  cfg.Outputs,
		cache:    cfg.Cache,
		cacheTTL: cfg.CacheTTL,
		logger:   cfg.Logger,
	}
}

// HairResult is the outcome of a standalone synthesis attempt
type HairResult struct {
	SourcePath string
	// Fused is nil when synthesis failed
	Fused *FusedImage
}

// PipelineResult is the outcome of FullPipeline
type PipelineResult struct {
	SourcePath string
	Fused      *FusedImage
	TaskID     string
}

// AILabConfigured reports whether the hairstyle API key is set
func (s *Service) AILabConfigured() bool { return s.ailab.Configured() }

// MeshyConfigured reports whether the image-to-3D API key is set
func (s *Service) MeshyConfigured() bool { return s.meshy.Configured() }

// Debug forwards to the hairstyle API and returns its raw answer
func (s *Service) Debug(ctx context.Context, image []byte, hairType *int) (*DebugResult, error) {
	return s.ailab.Debug(ctx, image, hairType)
}

// Hair saves the source and attempts synthesis; failure is not an error
func (s *Service) Hair(ctx context.Context, image []byte, hairType *int) (*HairResult, error) {
	src, err := s.outputs.SaveOutput("source", image, ".jpg")
	if err != nil {
		return nil, fmt.Errorf("failed to save source image: %w", err)
	}
	return &HairResult{
		SourcePath: src,
		Fused:      s.ailab.TryHairstyle(ctx, image, hairType),
	}, nil
}

// Meshify creates an image-to-3D task
func (s *Service) Meshify(ctx context.Context, imageURL string) (string, error) {
	taskID, err := s.meshy.CreateImageTo3D(ctx, imageURL)
	if err != nil {
		return "", err
	}
	s.logger.Info("Image-to-3D task created", slog.String("task_id", taskID))
	return taskID, nil
}

// Task polls a task. Finished tasks are served from the cache when one is configured.
func (s *Service) Task(ctx context.Context, taskID string) (*Task, error) {
	key := taskCacheKey(taskID)

	if s.cache != nil {
		raw, found, err := s.cache.Get(ctx, key)
		if err != nil {
			s.logger.Warn("Task cache read failed", slog.String("task_id", taskID), slog.Any("error", err))
		} else if found {
			if task, err := parseTask(raw); err == nil {
				return task, nil
			}
		}
	}

	task, err := s.meshy.GetTask(ctx, taskID)
	if err != nil {
		return nil, err
	}

	if s.cache != nil && task.Terminal() {
		if err := s.cache.Set(ctx, key, task.Raw, s.cacheTTL); err != nil {
			s.logger.Warn("Task cache write failed", slog.String("task_id", taskID), slog.Any("error", err))
		}
	}
	return task, nil
}

// FullPipeline saves the source, requires a synthesized image and starts a
// 3D task from it. Without a synthesized image no task is created.
func (s *Service) FullPipeline(ctx context.Context, image []byte, hairType int) (*PipelineResult, error) {
	if !ValidHairType(hairType) {
		return nil, fmt.Errorf("%w: %d", ErrInvalidHairType, hairType)
	}

	src, err := s.outputs.SaveOutput("source", image, ".jpg")
	if err != nil {
		return nil, fmt.Errorf("failed to save source image: %w", err)
	}

	fused, err := s.ailab.RequireHairstyle(ctx, image, &hairType)
	if err != nil {
		return nil, err
	}

	input := fused.URL
	if input == "" {
		input, err = fileToDataURI(fused.LocalPath, "image/png")
		if err != nil {
			return nil, err
		}
	}

	taskID, err := s.meshy.CreateImageTo3D(ctx, input)
	if err != nil {
		return nil, err
	}

	s.logger.Info("Fusion pipeline started 3D task",
		slog.String("task_id", taskID),
		slog.Int("hair_type", hairType),
	)

	return &PipelineResult{SourcePath: src, Fused: fused, TaskID: taskID}, nil
}

func fileToDataURI(path, mime string) (string, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("failed to read %s: %w", path, err)
	}
	return "data:" + mime + ";base64," + base64.StdEncoding.EncodeToString(b), nil
}
