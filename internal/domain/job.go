package domain

import "time"

// JobStatus is the lifecycle state of a job.
type JobStatus string

// FailureKind tells clients which step failed.
type FailureKind string

// IsTerminal reports whether the status ends a run.
func (s JobStatus) IsTerminal() bool {
	return s == JobStatusCompleted || s == JobStatusFailed
}

// Valid reports whether s is a known status.
func (s JobStatus) Valid() bool {
	switch s {
	case JobStatusQueued, JobStatusRunning, JobStatusCompleted, JobStatusFailed:
		return true
	default:
		return false
	}
}

// Input describes the user supplied file. The bytes never travel with the job.
type Input struct {
	Key         string `json:"key"`
	Name        string `json:"name"`
	ContentType string `json:"content_type"`
	Size        int64  `json:"size"`
}

// InputFile is an input together with its bytes, held only while a process needs it.
type InputFile struct {
	Input
	Data []byte
}

// Job represents one generation request tracked through the queue
type Job struct {
	ID             string      `json:"id"`
	UserID         string      `json:"user_id"`
	AppKey         string      `json:"app_key"`
	Locale         string      `json:"locale,omitempty"`
	Input          Input       `json:"input"`
	Status         JobStatus   `json:"status"`
	ResultMediaURL string      `json:"result_media_url,omitempty"`
	CostSeconds    *float64    `json:"cost_seconds,omitempty"`
	Error          string      `json:"error,omitempty"`
	FailureKind    FailureKind `json:"failure_kind,omitempty"`
	QueuedSeq      uint64      `json:"queued_seq"`
	CreatedAt      time.Time   `json:"created_at"`
	StartedAt      *time.Time  `json:"started_at,omitempty"`
}

// ExpiresAt is when the remote service drops the result media.
func (j Job) ExpiresAt() time.Time {
	return j.CreatedAt.Add(ResultRetention)
}

// Elapsed returns how long the job has been running, measured at now.
func (j Job) Elapsed(now time.Time) time.Duration {
	if j.StartedAt == nil {
		return 0
	}
	return now.Sub(*j.StartedAt)
}

// Clone returns a copy that shares no pointers with j.
func (j Job) Clone() Job {
	out := j
	if j.CostSeconds != nil {
		cost := *j.CostSeconds
		out.CostSeconds = &cost
	}
	if j.StartedAt != nil {
		started := *j.StartedAt
		out.StartedAt = &started
	}
	return out
}

// JobPatch is a partial update merged into a job. Nil fields are left untouched.
type JobPatch struct {
	ID             *string
	Status         *JobStatus
	ResultMediaURL *string
	CostSeconds    *float64
	Error          *string
	FailureKind    *FailureKind
	StartedAt      *time.Time
}

// Running builds the patch that promotes a job to running.
func Running(at time.Time) JobPatch {
	status := JobStatusRunning
	return JobPatch{Status: &status, StartedAt: &at}
}

// Completed builds the patch for a successful run.
func Completed(mediaURL string, cost *float64) JobPatch {
	status := JobStatusCompleted
	return JobPatch{Status: &status, ResultMediaURL: &mediaURL, CostSeconds: cost}
}

// Failed builds the patch for a failed run.
func Failed(kind FailureKind, message string) JobPatch {
	status := JobStatusFailed
	return JobPatch{Status: &status, Error: &message, FailureKind: &kind}
}

// Promote builds the patch that replaces the local id with the remote one.
func Promote(remoteID string) JobPatch {
	return JobPatch{ID: &remoteID}
}

// Apply merges p into j and restores the status invariants: only completed jobs carry a
// result url and only failed jobs carry an error.
func (p JobPatch) Apply(j *Job) {
	if p.ID != nil && *p.ID != "" {
		j.ID = *p.ID
	}
	if p.Status != nil {
		j.Status = *p.Status
	}
	if p.ResultMediaURL != nil {
		j.ResultMediaURL = *p.ResultMediaURL
	}
	if p.CostSeconds != nil {
		cost := *p.CostSeconds
		j.CostSeconds = &cost
	}
	if p.Error != nil {
		j.Error = *p.Error
	}
	if p.FailureKind != nil {
		j.FailureKind = *p.FailureKind
	}
	if p.StartedAt != nil {
		started := *p.StartedAt
		j.StartedAt = &started
	}
	if j.Status != JobStatusCompleted {
		j.ResultMediaURL = ""
		j.CostSeconds = nil
	}
	if j.Status != JobStatusFailed {
		j.Error = ""
		j.FailureKind = ""
	}
}
