package handler

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/cuongbtq/genqueue/internal/api/dto"
	"github.com/cuongbtq/genqueue/internal/auth"
	"github.com/cuongbtq/genqueue/internal/projects"
)

// ProjectHandler serves the user's saved results
type ProjectHandler struct {
	deps *Dependencies
}

// NewProjectHandler creates a new ProjectHandler instance
func NewProjectHandler(deps *Dependencies) *ProjectHandler {
	return &ProjectHandler{deps: deps}
}

// ListProjects handles GET /api/v1/projects
// Lists the user's projects newest first with cursor pagination.
func (h *ProjectHandler) ListProjects(c *gin.Context) {
	// 1. Parse query parameters
	var req dto.ListProjectsRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid query parameters"})
		return
	}
	pageSize := projects.NormalizePageSize(req.PageSize)

	// 2. Decode cursor for pagination
	cursor, err := projects.DecodeCursor(req.Cursor)
	if err != nil {
		h.deps.Logger.Debug("Invalid cursor", slog.String("error", err.Error()))
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid cursor"})
		return
	}

	// 3. Query one page plus one row
	records, err := h.deps.Projects.ListByUser(c.Request.Context(), projects.Filter{
		UserID:   auth.UserID(c),
		PageSize: pageSize,
		Cursor:   cursor,
	})
	if err != nil {
		writeError(c, h.deps.Logger, err)
		return
	}

	// 4. Prepare response with next cursor if more results exist
	hasMore := len(records) > pageSize
	if hasMore {
		records = records[:pageSize]
	}

	out := make([]dto.ProjectDTO, len(records))
	for i, rec := range records {
		out[i] = dto.ProjectDTO{
			ProjectID: rec.ID,
			AppKey:    rec.AppKey,
			MediaURL:  rec.MediaURL,
			CreatedAt: rec.CreatedAt.Format(time.RFC3339),
		}
	}

	var nextCursor string
	if hasMore {
		nextCursor = projects.EncodeCursor(records[len(records)-1])
	}

	c.JSON(http.StatusOK, dto.ListProjectsResponse{
		Projects:   out,
		NextCursor: nextCursor,
	})
}

// DeleteProject handles DELETE /api/v1/projects/:project_id
func (h *ProjectHandler) DeleteProject(c *gin.Context) {
	projectID := c.Param("project_id")

	if err := h.deps.Projects.Delete(c.Request.Context(), projectID, auth.UserID(c)); err != nil {
		writeError(c, h.deps.Logger, err)
		return
	}
	c.Status(http.StatusNoContent)
}
