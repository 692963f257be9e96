package router

import (
	"github.com/cuongbtq/hair3d/internal/api/handler"
	"github.com/cuongbtq/hair3d/shared/middleware"
	"github.com/gin-gonic/gin"
)

// SetupRouter configures and returns the Gin router with all routes
func SetupRouter(deps *handler.Dependencies) *gin.Engine {
	r := gin.New()

	// Middleware
	r.Use(gin.Recovery())
	r.Use(middleware.LoggerMiddleware(deps.Logger))

	if deps.Upload.MaxBytes > 0 {
		r.MaxMultipartMemory = deps.Upload.MaxBytes
	}

	healthHandler := handler.NewHealthHandler(deps)
	r.GET("/healthz", healthHandler.Healthz)

	// Result files, no directory listing
	r.Static(handler.ResultsURLPrefix, deps.Media.ResultsDir())

	jobHandler := handler.NewJobHandler(deps)

	api := r.Group("/api")
	{
		// POST /api/upload - Submit an image for processing
		api.POST("/upload", jobHandler.Upload)

		// GET /api/hairstyles - Built-in style catalogue
		api.GET("/hairstyles", handler.ListHairstyles)

		jobs := api.Group("/jobs")
		{
			// GET /api/jobs - List jobs with filtering and pagination
			jobs.GET("", jobHandler.ListJobs)

			// GET /api/jobs/:job_id - Get job status and result location
			jobs.GET("/:job_id", jobHandler.GetJob)
		}
	}

	return r
}
