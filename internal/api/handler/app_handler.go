package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/cuongbtq/genqueue/internal/api/dto"
)

// AppHandler serves the app catalog
type AppHandler struct {
	deps *Dependencies
}

// NewAppHandler creates a new AppHandler instance
func NewAppHandler(deps *Dependencies) *AppHandler {
	return &AppHandler{deps: deps}
}

// ListApps handles GET /api/v1/apps
func (h *AppHandler) ListApps(c *gin.Context) {
	apps := h.deps.Apps.List()
	out := make([]dto.AppDTO, len(apps))
	for i, app := range apps {
		out[i] = dto.AppDTO{Key: app.Key, Name: app.Name, Media: app.Media}
	}
	c.JSON(http.StatusOK, dto.ListAppsResponse{Apps: out})
}
