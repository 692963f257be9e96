package handler

import (
	"net/http"

	"github.com/cuongbtq/hair3d/internal/api/dto"
	"github.com/gin-gonic/gin"
)

var hairstyles = []dto.Hairstyle{
	{ID: "bob", Name: "Bob", Description: "Basic bob cut"},
	{ID: "perm", Name: "Perm", Description: "Basic perm"},
}

// ListHairstyles handles GET /api/hairstyles
func ListHairstyles(c *gin.Context) {
	c.JSON(http.StatusOK, hairstyles)
}
