package notify

import (
	"context"
	"errors"
	"log/slog"
	"time"
)

// Kind identifies what happened to a job.
type Kind string

const (
	KindJobCompleted      Kind = "job_completed"
	KindJobFailed         Kind = "job_failed"
	KindJobTimedOut       Kind = "job_timed_out"
	KindUploadFailed      Kind = "upload_failed"
	KindSubmitFailed      Kind = "submit_failed"
	KindNetworkUnstable   Kind = "network_unstable"
	KindProjectSaveFailed Kind = "project_save_failed"
)

// Level is the severity shown to the user.
type Level string

const (
	LevelInfo    Level = "info"
	LevelWarning Level = "warning"
	LevelError   Level = "error"
)

// Notification is a rendered, user facing message about a job.
type Notification struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	JobID     string    `json:"job_id"`
	Kind      Kind      `json:"kind"`
	Level     Level     `json:"level"`
	Message   string    `json:"message"`
	Category  string    `json:"category,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// Notifier delivers notifications.
type Notifier interface {
	Notify(ctx context.Context, n Notification) error
}

// Multi fans a notification out to every notifier and joins their errors.
type Multi []Notifier

// Notify implements Notifier.
func (m Multi) Notify(ctx context.Context, n Notification) error {
	var errs []error
	for _, notifier := range m {
		if err := notifier.Notify(ctx, n); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Log writes notifications to a structured logger.
type Log struct {
	logger *slog.Logger
}

// NewLog creates a Log notifier.
func NewLog(logger *slog.Logger) *Log {
	return &Log{logger: logger}
}

// Notify implements Notifier.
func (l *Log) Notify(ctx context.Context, n Notification) error {
	level := slog.LevelInfo
	switch n.Level {
	case LevelWarning:
		level = slog.LevelWarn
	case LevelError:
		level = slog.LevelError
	}
	l.logger.LogAttrs(ctx, level, "Notification",
		slog.String("job_id", n.JobID),
		slog.String("user_id", n.UserID),
		slog.String("kind", string(n.Kind)),
		slog.String("message", n.Message),
	)
	return nil
}
