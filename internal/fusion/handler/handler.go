package handler

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/cuongbtq/hair3d/internal/fusion"
	"github.com/cuongbtq/hair3d/internal/fusion/dto"
	"github.com/gin-gonic/gin"
)

// OutputsURLPrefix is where saved source and synthesized images are served from
const OutputsURLPrefix = "/files/outputs"

// Dependencies holds all dependencies needed by the fusion handlers
type Dependencies struct {
	Logger   *slog.Logger
	Service  *fusion.Service
	Proxy    *fusion.ModelProxy
	MaxBytes int64
	// OutputsDir is served under OutputsURLPrefix
	OutputsDir string
}

// FusionHandler handles the /fusion routes
type FusionHandler struct {
	logger   *slog.Logger
	service  *fusion.Service
	proxy    *fusion.ModelProxy
	maxBytes int64
}

// NewFusionHandler creates a new FusionHandler instance
func NewFusionHandler(deps *Dependencies) *FusionHandler {
	return &FusionHandler{
		logger:   deps.Logger,
		service:  deps.Service,
		proxy:    deps.Proxy,
		maxBytes: deps.MaxBytes,
	}
}

// AILabTest handles POST /fusion/ailab-test
func (h *FusionHandler) AILabTest(c *gin.Context) {
	image, ok := h.readImage(c)
	if !ok {
		return
	}
	hairType, ok := optionalHairType(c)
	if !ok {
		return
	}

	result, err := h.service.Debug(c.Request.Context(), image, hairType)
	if err != nil {
		var ailabErr *fusion.AILabError
		if errors.As(err, &ailabErr) {
			c.JSON(http.StatusBadRequest, dto.ErrorResponse{Error: err.Error()})
			return
		}
		c.JSON(http.StatusBadGateway, dto.ErrorResponse{Error: "hairstyle request failed: " + err.Error()})
		return
	}

	c.JSON(http.StatusOK, result)
}

// Hair handles POST /fusion/hair
func (h *FusionHandler) Hair(c *gin.Context) {
	image, ok := h.readImage(c)
	if !ok {
		return
	}
	hairType, ok := optionalHairType(c)
	if !ok {
		return
	}

	result, err := h.service.Hair(c.Request.Context(), image, hairType)
	if err != nil {
		h.logger.Error("Failed to run hairstyle synthesis", slog.Any("error", err))
		c.JSON(http.StatusInternalServerError, dto.ErrorResponse{Error: "failed to save source image"})
		return
	}

	c.JSON(http.StatusOK, dto.HairResponse{
		Status:         "ok",
		SourceImageURL: outputURL(result.SourcePath),
		FusedImageURL:  fusedURL(result.Fused),
	})
}

// Meshify handles POST /fusion/meshify
func (h *FusionHandler) Meshify(c *gin.Context) {
	imageURL := strings.TrimSpace(c.PostForm("image_url"))
	if imageURL == "" {
		c.JSON(http.StatusBadRequest, dto.ErrorResponse{Error: "image_url is required"})
		return
	}

	taskID, err := h.service.Meshify(c.Request.Context(), imageURL)
	if err != nil {
		h.logger.Error("Failed to create image-to-3D task", slog.Any("error", err))
		c.JSON(http.StatusBadGateway, dto.ErrorResponse{Error: "failed to create 3D task: " + err.Error()})
		return
	}

	c.JSON(http.StatusOK, dto.TaskCreatedResponse{
		Status: "task_created",
		TaskID: taskID,
	})
}

// MeshifyResult handles GET /fusion/meshify/:task_id
func (h *FusionHandler) MeshifyResult(c *gin.Context) {
	taskID := c.Param("task_id")

	task, err := h.service.Task(c.Request.Context(), taskID)
	if err != nil {
		h.logger.Error("Failed to fetch image-to-3D task",
			slog.String("task_id", taskID),
			slog.Any("error", err),
		)
		c.JSON(http.StatusBadGateway, dto.ErrorResponse{Error: "failed to fetch 3D task: " + err.Error()})
		return
	}

	var glbURL *string
	if task.GLBURL != "" {
		glbURL = &task.GLBURL
	}

	c.JSON(http.StatusOK, dto.TaskStatusResponse{
		Status:   strings.ToLower(task.Status),
		TaskID:   taskID,
		Progress: task.Progress,
		GLBURL:   glbURL,
		Task:     task.Raw,
	})
}

// MeshView handles GET /fusion/mesh-view
// Re-serves a remote model file from this origin
func (h *FusionHandler) MeshView(c *gin.Context) {
	target, err := h.proxy.Resolve(c.Query("glb_url"))
	if err != nil {
		c.JSON(http.StatusBadRequest, dto.ErrorResponse{Error: err.Error()})
		return
	}

	upstream, err := h.proxy.Fetch(c.Request.Context(), target)
	if err != nil {
		h.logger.Warn("Model proxy failed",
			slog.String("url", target.Redacted()),
			slog.Any("error", err),
		)
		c.JSON(http.StatusBadGateway, dto.ErrorResponse{Error: err.Error()})
		return
	}
	defer upstream.Body.Close()

	c.DataFromReader(http.StatusOK, upstream.ContentLength, upstream.ContentType, upstream.Body, nil)
}

// Full handles POST /fusion/full
func (h *FusionHandler) Full(c *gin.Context) {
	image, ok := h.readImage(c)
	if !ok {
		return
	}

	hairType, err := strconv.Atoi(strings.TrimSpace(c.PostForm("hair_type")))
	if err != nil || !fusion.ValidHairType(hairType) {
		c.JSON(http.StatusBadRequest, dto.HairTypeErrorResponse{
			Error:   "hair_type must be one of the accepted values",
			Allowed: fusion.AllowedHairTypes(),
		})
		return
	}

	result, err := h.service.FullPipeline(c.Request.Context(), image, hairType)
	if err != nil {
		var ailabErr *fusion.AILabError
		switch {
		case errors.Is(err, fusion.ErrInvalidHairType):
			c.JSON(http.StatusBadRequest, dto.ErrorResponse{Error: err.Error()})
		case errors.As(err, &ailabErr):
			c.JSON(http.StatusBadGateway, dto.ErrorResponse{Error: "2D hairstyle synthesis failed: " + err.Error()})
		default:
			h.logger.Error("Fusion pipeline failed", slog.Any("error", err))
			c.JSON(http.StatusBadGateway, dto.ErrorResponse{Error: "failed to create 3D task: " + err.Error()})
		}
		return
	}

	c.JSON(http.StatusOK, dto.FullResponse{
		Status:          "task_created",
		SourceImageURL:  outputURL(result.SourcePath),
		FusedImageURL:   fusedURL(result.Fused),
		UsedImageSource: "fused",
		TaskID:          result.TaskID,
	})
}

// Health handles GET /health
func (h *FusionHandler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, dto.HealthResponse{
		Status:          "ok",
		MeshyConfigured: h.service.MeshyConfigured(),
		AILabConfigured: h.service.AILabConfigured(),
	})
}

// readImage reads the "file" part; it writes the error response itself
func (h *FusionHandler) readImage(c *gin.Context) ([]byte, bool) {
	if h.maxBytes > 0 {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, h.maxBytes)
	}

	fh, err := c.FormFile("file")
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) || strings.Contains(err.Error(), "request body too large") {
			c.JSON(http.StatusRequestEntityTooLarge, dto.ErrorResponse{Error: "file is too large"})
			return nil, false
		}
		c.JSON(http.StatusBadRequest, dto.ErrorResponse{Error: "file field is required"})
		return nil, false
	}

	f, err := fh.Open()
	if err != nil {
		c.JSON(http.StatusBadRequest, dto.ErrorResponse{Error: fmt.Sprintf("failed to read file: %v", err)})
		return nil, false
	}
	defer f.Close()

	image, err := io.ReadAll(f)
	if err != nil {
		c.JSON(http.StatusBadRequest, dto.ErrorResponse{Error: fmt.Sprintf("failed to read file: %v", err)})
		return nil, false
	}
	if len(image) == 0 {
		c.JSON(http.StatusBadRequest, dto.ErrorResponse{Error: "image file is empty"})
		return nil, false
	}
	return image, true
}

func optionalHairType(c *gin.Context) (*int, bool) {
	raw := strings.TrimSpace(c.PostForm("hair_type"))
	if raw == "" {
		return nil, true
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		c.JSON(http.StatusBadRequest, dto.ErrorResponse{Error: "hair_type must be an integer"})
		return nil, false
	}
	return &v, true
}

func outputURL(path string) string {
	return OutputsURLPrefix + "/" + filepath.Base(path)
}

func fusedURL(f *fusion.FusedImage) *string {
	if f == nil {
		return nil
	}
	if f.URL != "" {
		return &f.URL
	}
	u := outputURL(f.LocalPath)
	return &u
}
