package handler

import (
	"errors"
	"io"
	"log/slog"
	"net/http"
	"path/filepath"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/cuongbtq/genqueue/internal/api/dto"
	"github.com/cuongbtq/genqueue/internal/auth"
	"github.com/cuongbtq/genqueue/internal/domain"
	"github.com/cuongbtq/genqueue/internal/notify"
	"github.com/cuongbtq/genqueue/internal/queue"
)

// multipartMemory is how much of a form is held in memory before spilling to disk.
const multipartMemory = 8 << 20

// JobHandler handles job-related HTTP requests
type JobHandler struct {
	deps *Dependencies
}

// NewJobHandler creates a new JobHandler instance
func NewJobHandler(deps *Dependencies) *JobHandler {
	return &JobHandler{deps: deps}
}

// CreateJob handles POST /api/v1/jobs
// Accepts a multipart form with app_key and file and queues the job.
func (h *JobHandler) CreateJob(c *gin.Context) {
	userID := auth.UserID(c)

	// 1. Parse the form within the upload limit
	if limit := h.deps.MaxUploadBytes; limit > 0 {
		if c.Request.ContentLength > limit {
			c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "file is too large"})
			return
		}
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, limit)
	}
	if err := c.Request.ParseMultipartForm(multipartMemory); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "file is too large"})
			return
		}
		c.JSON(http.StatusBadRequest, gin.H{"error": "a multipart form is required"})
		return
	}
	defer c.Request.MultipartForm.RemoveAll()

	// 2. Validate the app
	appKey := strings.TrimSpace(c.PostForm("app_key"))
	if appKey == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "app_key is required"})
		return
	}
	if _, err := h.deps.Apps.Lookup(appKey); err != nil {
		writeError(c, h.deps.Logger, err)
		return
	}

	// 3. Read the file
	header, err := c.FormFile("file")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "file is required"})
		return
	}
	f, err := header.Open()
	if err != nil {
		writeError(c, h.deps.Logger, err)
		return
	}
	defer f.Close()

	data, err := io.ReadAll(f)
	if err != nil {
		writeError(c, h.deps.Logger, err)
		return
	}
	if len(data) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "file is empty"})
		return
	}

	contentType := header.Header.Get("Content-Type")
	if contentType == "" || contentType == "application/octet-stream" {
		contentType = http.DetectContentType(data)
	}

	// 4. Pick the notification language
	locale := auth.Locale(c)
	if accept := c.GetHeader("Accept-Language"); accept != "" || locale == "" {
		locale = notify.MatchLocale(accept)
	}

	// 5. Queue it
	job, err := h.deps.Queue.Enqueue(c.Request.Context(), queue.EnqueueRequest{
		UserID: userID,
		AppKey: appKey,
		Locale: locale,
		File: domain.InputFile{
			Input: domain.Input{
				Name:        filepath.Base(header.Filename),
				ContentType: contentType,
			},
			Data: data,
		},
	})
	if err != nil {
		writeError(c, h.deps.Logger, err)
		return
	}

	c.JSON(http.StatusAccepted, dto.NewJobDTO(job, h.deps.now()))
}

// ListJobs handles GET /api/v1/jobs
func (h *JobHandler) ListJobs(c *gin.Context) {
	var req dto.ListJobsRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "order must be asc or desc"})
		return
	}

	now := h.deps.now()
	jobs := h.deps.Queue.ListByUser(auth.UserID(c), queue.ParseOrder(req.Order))
	out := make([]dto.JobDTO, len(jobs))
	for i, job := range jobs {
		out[i] = dto.NewJobDTO(job, now)
	}

	c.JSON(http.StatusOK, dto.ListJobsResponse{Jobs: out})
}

// GetJob handles GET /api/v1/jobs/:job_id
func (h *JobHandler) GetJob(c *gin.Context) {
	job, ok := h.ownedJob(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, dto.NewJobDTO(job, h.deps.now()))
}

// RetryJob handles POST /api/v1/jobs/:job_id/retry
// Requeues a completed or failed job.
func (h *JobHandler) RetryJob(c *gin.Context) {
	job, ok := h.ownedJob(c)
	if !ok {
		return
	}

	retried, err := h.deps.Runner.Retry(c.Request.Context(), job.ID)
	if err != nil {
		writeError(c, h.deps.Logger, err)
		return
	}
	c.JSON(http.StatusAccepted, dto.NewJobDTO(retried, h.deps.now()))
}

// CancelJob handles POST /api/v1/jobs/:job_id/cancel
// Only queued jobs can be cancelled.
func (h *JobHandler) CancelJob(c *gin.Context) {
	job, ok := h.ownedJob(c)
	if !ok {
		return
	}

	if err := h.deps.Runner.Cancel(c.Request.Context(), job.ID); err != nil {
		writeError(c, h.deps.Logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"job_id": job.ID, "status": "cancelled"})
}

// DeleteJob handles DELETE /api/v1/jobs/:job_id
// A running job is abandoned locally; the remote task is left alone.
func (h *JobHandler) DeleteJob(c *gin.Context) {
	job, ok := h.ownedJob(c)
	if !ok {
		return
	}

	if err := h.deps.Runner.Delete(c.Request.Context(), job.ID); err != nil {
		writeError(c, h.deps.Logger, err)
		return
	}
	h.deps.Logger.Info("Job deleted by user",
		slog.String("job_id", job.ID),
		slog.String("status", string(job.Status)),
	)
	c.Status(http.StatusNoContent)
}

// ownedJob loads the job in the path. Jobs of other users look missing.
func (h *JobHandler) ownedJob(c *gin.Context) (domain.Job, bool) {
	jobID := c.Param("job_id")
	job, err := h.deps.Queue.Get(jobID)
	if err == nil && job.UserID != auth.UserID(c) {
		err = domain.ErrJobNotFound
	}
	if err != nil {
		writeError(c, h.deps.Logger, err)
		return domain.Job{}, false
	}
	return job, true
}
