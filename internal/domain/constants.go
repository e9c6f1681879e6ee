package domain

import "time"

// Job status constants
const (
	JobStatusQueued    JobStatus = "queued"
	JobStatusRunning   JobStatus = "running"
	JobStatusCompleted JobStatus = "completed"
	JobStatusFailed    JobStatus = "failed"
)

// Failure kinds recorded on failed jobs
const (
	FailureUpload      FailureKind = "upload"
	FailureSubmit      FailureKind = "submit"
	FailureBusiness    FailureKind = "business"
	FailureTimeout     FailureKind = "timeout"
	FailureInterrupted FailureKind = "interrupted"
	FailureInternal    FailureKind = "internal"
)

// ResultRetention is how long the remote service keeps generated media.
const ResultRetention = 14 * 24 * time.Hour
