package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/cuongbtq/genqueue/internal/catalog"
	"github.com/cuongbtq/genqueue/internal/domain"
	"github.com/cuongbtq/genqueue/internal/notify"
	"github.com/cuongbtq/genqueue/internal/projects"
	"github.com/cuongbtq/genqueue/internal/queue"
)

// JobQueue is the part of the queue store the API reads and writes.
type JobQueue interface {
	Enqueue(ctx context.Context, req queue.EnqueueRequest) (domain.Job, error)
	Get(jobID string) (domain.Job, error)
	ListByUser(userID string, order queue.Order) []domain.Job
}

// JobControl changes jobs the runner may be working on.
type JobControl interface {
	Retry(ctx context.Context, jobID string) (domain.Job, error)
	Cancel(ctx context.Context, jobID string) error
	Delete(ctx context.Context, jobID string) error
}

// AppCatalog lists the generation apps.
type AppCatalog interface {
	Lookup(key string) (catalog.App, error)
	List() []catalog.App
}

// ProjectStore reads and deletes saved results.
type ProjectStore interface {
	ListByUser(ctx context.Context, filter projects.Filter) ([]projects.Record, error)
	Delete(ctx context.Context, id, userID string) error
}

// NotificationInbox hands out pending notifications.
type NotificationInbox interface {
	Drain(userID string) []notify.Notification
}

// HealthChecker reports whether a backing service is reachable.
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// Dependencies holds all dependencies needed by handlers
type Dependencies struct {
	Logger         *slog.Logger
	Queue          JobQueue
	Runner         JobControl
	Apps           AppCatalog
	Projects       ProjectStore
	Inbox          NotificationInbox
	Health         map[string]HealthChecker
	MaxUploadBytes int64
	Now            func() time.Time
}

func (d *Dependencies) now() time.Time {
	if d.Now != nil {
		return d.Now()
	}
	return time.Now()
}

// writeError maps domain errors to HTTP statuses. Anything unknown is a 500
// and is logged.
func writeError(c *gin.Context, logger *slog.Logger, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, domain.ErrJobNotFound), errors.Is(err, domain.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, domain.ErrUnknownApp):
		status = http.StatusBadRequest
	case errors.Is(err, domain.ErrNotRetryable),
		errors.Is(err, domain.ErrJobRunning),
		errors.Is(err, domain.ErrNotCancellable):
		status = http.StatusConflict
	case errors.Is(err, domain.ErrInputUnavailable):
		status = http.StatusGone
	case errors.Is(err, domain.ErrForbidden):
		status = http.StatusForbidden
	case errors.Is(err, domain.ErrUnauthorized):
		status = http.StatusUnauthorized
	}

	if status == http.StatusInternalServerError {
		logger.Error("Request failed",
			slog.String("path", c.Request.URL.Path),
			slog.String("error", err.Error()),
		)
		c.JSON(status, gin.H{"error": "internal server error"})
		return
	}
	c.JSON(status, gin.H{"error": err.Error()})
}
