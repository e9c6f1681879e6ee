package dto

import (
	"time"

	"github.com/cuongbtq/genqueue/internal/domain"
)

type ListJobsRequest struct {
	Order string `form:"order" binding:"omitempty,oneof=asc desc ASC DESC"`
}

type ListJobsResponse struct {
	Jobs []JobDTO `json:"jobs"`
}

type InputDTO struct {
	Name        string `json:"name"`
	ContentType string `json:"content_type"`
	Size        int64  `json:"size"`
}

type JobDTO struct {
	JobID          string   `json:"job_id"`
	AppKey         string   `json:"app_key"`
	Status         string   `json:"status"`
	Input          InputDTO `json:"input"`
	ResultMediaURL string   `json:"result_media_url,omitempty"`
	CostSeconds    *float64 `json:"cost_seconds,omitempty"`
	Error          string   `json:"error,omitempty"`
	FailureKind    string   `json:"failure_kind,omitempty"`
	CreatedAt      string   `json:"created_at"`
	StartedAt      string   `json:"started_at,omitempty"`
	ExpiresAt      string   `json:"expires_at"`
	// seconds since the job started; only set while running
	ElapsedSeconds int64 `json:"elapsed_seconds,omitempty"`
}

// NewJobDTO renders a job as seen at now.
func NewJobDTO(job domain.Job, now time.Time) JobDTO {
	out := JobDTO{
		JobID:  job.ID,
		AppKey: job.AppKey,
		Status: string(job.Status),
		Input: InputDTO{
			Name:        job.Input.Name,
			ContentType: job.Input.ContentType,
			Size:        job.Input.Size,
		},
		ResultMediaURL: job.ResultMediaURL,
		CostSeconds:    job.CostSeconds,
		Error:          job.Error,
		FailureKind:    string(job.FailureKind),
		CreatedAt:      job.CreatedAt.Format(time.RFC3339),
		ExpiresAt:      job.ExpiresAt().Format(time.RFC3339),
	}
	if job.StartedAt != nil {
		out.StartedAt = job.StartedAt.Format(time.RFC3339)
	}
	if job.Status == domain.JobStatusRunning {
		out.ElapsedSeconds = int64(job.Elapsed(now) / time.Second)
	}
	return out
}
