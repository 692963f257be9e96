package handler

import (
	"log/slog"
	"net/http"

	"github.com/cuongbtq/hair3d/internal/api/dto"
	"github.com/gin-gonic/gin"
)

const serviceName = "face-hair-api"

// Healthz handles GET /healthz
func (h *HealthHandler) Healthz(c *gin.Context) {
	resp := dto.HealthResponse{
		OK:         true,
		Service:    serviceName,
		Database:   "up",
		QueueDepth: h.queue.Len(),
	}

	if h.dbCheck != nil {
		if err := h.dbCheck(c.Request.Context()); err != nil {
			h.logger.Error("Health check failed", slog.Any("error", err))
			resp.OK = false
			resp.Database = "down"
			c.JSON(http.StatusServiceUnavailable, resp)
			return
		}
	}

	counts, err := h.jobs.CountByStatus(c.Request.Context())
	if err != nil {
		h.logger.Warn("Failed to count jobs", slog.Any("error", err))
	} else {
		resp.Jobs = counts
	}

	c.JSON(http.StatusOK, resp)
}
