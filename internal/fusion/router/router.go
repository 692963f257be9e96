package router

import (
	"github.com/cuongbtq/hair3d/internal/fusion/handler"
	"github.com/cuongbtq/hair3d/shared/middleware"
	"github.com/gin-gonic/gin"
)

// SetupRouter configures and returns the Gin router for the fusion service
func SetupRouter(deps *handler.Dependencies) *gin.Engine {
	r := gin.New()

	// Middleware
	r.Use(gin.Recovery())
	r.Use(middleware.LoggerMiddleware(deps.Logger))

	if deps.MaxBytes > 0 {
		r.MaxMultipartMemory = deps.MaxBytes
	}

	fusionHandler := handler.NewFusionHandler(deps)

	r.GET("/health", fusionHandler.Health)

	if deps.OutputsDir != "" {
		r.Static(handler.OutputsURLPrefix, deps.OutputsDir)
	}

	f := r.Group("/fusion")
	{
		// POST /fusion/ailab-test - Raw hairstyle API exchange
		f.POST("/ailab-test", fusionHandler.AILabTest)

		// POST /fusion/hair - Hairstyle synthesis only
		f.POST("/hair", fusionHandler.Hair)

		// POST /fusion/meshify - Create an image-to-3D task from image_url
		f.POST("/meshify", fusionHandler.Meshify)

		// GET /fusion/meshify/:task_id - Poll an image-to-3D task
		f.GET("/meshify/:task_id", fusionHandler.MeshifyResult)

		// GET /fusion/mesh-view?glb_url= - Same-origin model proxy
		f.GET("/mesh-view", fusionHandler.MeshView)

		// POST /fusion/full - Synthesis then image-to-3D
		f.POST("/full", fusionHandler.Full)
	}

	return r
}
