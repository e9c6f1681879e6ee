package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJobPatch_Apply(t *testing.T) {
	started := time.Date(2025, 4, 11, 8, 0, 0, 0, time.UTC)
	cost := 12.5

	tests := []struct {
		name  string
		job   Job
		patch JobPatch
		check func(t *testing.T, j Job)
	}{
		{
			name:  "running sets started_at",
			job:   Job{ID: "task_1", Status: JobStatusQueued},
			patch: Running(started),
			check: func(t *testing.T, j Job) {
				assert.Equal(t, JobStatusRunning, j.Status)
				require.NotNil(t, j.StartedAt)
				assert.True(t, j.StartedAt.Equal(started))
			},
		},
		{
			name:  "completed carries the result",
			job:   Job{ID: "r1", Status: JobStatusRunning},
			patch: Completed("https://cdn.example.com/out.png", &cost),
			check: func(t *testing.T, j Job) {
				assert.Equal(t, "https://cdn.example.com/out.png", j.ResultMediaURL)
				require.NotNil(t, j.CostSeconds)
				assert.Equal(t, 12.5, *j.CostSeconds)
				assert.Empty(t, j.Error)
			},
		},
		{
			name:  "failed clears a stale result",
			job:   Job{ID: "r1", Status: JobStatusCompleted, ResultMediaURL: "https://x", CostSeconds: &cost},
			patch: Failed(FailureBusiness, "node crashed"),
			check: func(t *testing.T, j Job) {
				assert.Equal(t, JobStatusFailed, j.Status)
				assert.Empty(t, j.ResultMediaURL)
				assert.Nil(t, j.CostSeconds)
				assert.Equal(t, "node crashed", j.Error)
				assert.Equal(t, FailureBusiness, j.FailureKind)
			},
		},
		{
			name:  "completed clears a stale error",
			job:   Job{ID: "r1", Status: JobStatusFailed, Error: "boom", FailureKind: FailureUpload},
			patch: Completed("https://x", nil),
			check: func(t *testing.T, j Job) {
				assert.Empty(t, j.Error)
				assert.Empty(t, j.FailureKind)
			},
		},
		{
			name:  "promote replaces the id only",
			job:   Job{ID: "task_1", Status: JobStatusRunning},
			patch: Promote("1910246754753896450"),
			check: func(t *testing.T, j Job) {
				assert.Equal(t, "1910246754753896450", j.ID)
				assert.Equal(t, JobStatusRunning, j.Status)
			},
		},
		{
			name:  "empty promote is ignored",
			job:   Job{ID: "task_1", Status: JobStatusRunning},
			patch: Promote(""),
			check: func(t *testing.T, j Job) {
				assert.Equal(t, "task_1", j.ID)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			job := tt.job
			tt.patch.Apply(&job)
			tt.check(t, job)
		})
	}
}

func TestJob_CloneIsDeep(t *testing.T) {
	started := time.Now()
	cost := 3.0
	j := Job{ID: "a", StartedAt: &started, CostSeconds: &cost}

	c := j.Clone()
	*c.CostSeconds = 99
	*c.StartedAt = started.Add(time.Hour)

	assert.Equal(t, 3.0, *j.CostSeconds)
	assert.True(t, j.StartedAt.Equal(started))
}

func TestJob_Timing(t *testing.T) {
	created := time.Date(2025, 4, 1, 0, 0, 0, 0, time.UTC)
	started := created.Add(time.Minute)
	j := Job{CreatedAt: created}

	assert.Equal(t, created.Add(14*24*time.Hour), j.ExpiresAt())
	assert.Zero(t, j.Elapsed(created.Add(time.Hour)))

	j.StartedAt = &started
	assert.Equal(t, 90*time.Second, j.Elapsed(started.Add(90*time.Second)))
}

func TestJobStatus(t *testing.T) {
	tests := []struct {
		status   JobStatus
		terminal bool
		valid    bool
	}{
		{JobStatusQueued, false, true},
		{JobStatusRunning, false, true},
		{JobStatusCompleted, true, true},
		{JobStatusFailed, true, true},
		{"cancelled", false, false},
	}

	for _, tt := range tests {
		t.Run(string(tt.status), func(t *testing.T) {
			assert.Equal(t, tt.terminal, tt.status.IsTerminal())
			assert.Equal(t, tt.valid, tt.status.Valid())
		})
	}
}
