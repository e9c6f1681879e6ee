package runner

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"

	"github.com/cuongbtq/genqueue/internal/catalog"
	"github.com/cuongbtq/genqueue/internal/domain"
	"github.com/cuongbtq/genqueue/internal/notify"
	"github.com/cuongbtq/genqueue/internal/poller"
	"github.com/cuongbtq/genqueue/internal/projects"
	"github.com/cuongbtq/genqueue/internal/runninghub"
)

// Store is the queue the runner drives.
type Store interface {
	NextQueued() (domain.Job, bool)
	Get(jobID string) (domain.Job, error)
	UpdateStatus(ctx context.Context, jobID string, patch domain.JobPatch) (domain.Job, error)
	Requeue(ctx context.Context, jobID string) (domain.Job, error)
	Remove(ctx context.Context, jobID string) (domain.Job, error)
	Input(ctx context.Context, jobID string) (domain.InputFile, error)
	Changes() <-chan struct{}
}

// Generator uploads inputs and starts remote runs.
type Generator interface {
	Upload(ctx context.Context, file runninghub.File) (string, error)
	Run(ctx context.Context, webappID string, nodes []runninghub.NodeInfo) (runninghub.RunResult, error)
}

// StatusPoller waits for a remote task to finish.
type StatusPoller interface {
	Poll(ctx context.Context, taskID string, onUnstable func(poller.Notice)) (poller.Outcome, error)
}

// Apps resolves app keys.
type Apps interface {
	Lookup(key string) (catalog.App, error)
}

// ProjectSaver keeps finished results.
type ProjectSaver interface {
	Create(ctx context.Context, userID, appKey, mediaURL string) (projects.Record, error)
}

// Events receives user facing events.
type Events interface {
	Emit(ctx context.Context, e notify.Event)
	Forget(jobID string)
}

// Config holds runner dependencies
type Config struct {
	Logger    *slog.Logger
	Store     Store
	Generator Generator
	Poller    StatusPoller
	Apps      Apps
	Projects  ProjectSaver
	Events    Events
	Now       func() time.Time
}

// activeJob is the job currently holding the slot.
type activeJob struct {
	id     string
	cancel context.CancelFunc
	lease  *Lease
}

// Runner admits queued jobs one at a time and drives them to a terminal state.
type Runner struct {
	logger    *slog.Logger
	store     Store
	generator Generator
	poller    StatusPoller
	apps      Apps
	projects  ProjectSaver
	events    Events
	now       func() time.Time

	slot   Slot
	mu     sync.Mutex
	active *activeJob
	wake   chan struct{}
	wg     sync.WaitGroup
}

// New creates a runner.
func New(cfg *Config) *Runner {
	r := &Runner{
		logger:    cfg.Logger,
		store:     cfg.Store,
		generator: cfg.Generator,
		poller:    cfg.Poller,
		apps:      cfg.Apps,
		projects:  cfg.Projects,
		events:    cfg.Events,
		now:       cfg.Now,
		wake:      make(chan struct{}, 1),
	}
	if r.logger == nil {
		r.logger = slog.New(slog.DiscardHandler)
	}
	if r.now == nil {
		r.now = time.Now
	}
	if r.events == nil {
		r.events = discardEvents{}
	}
	return r
}

type discardEvents struct{}

func (discardEvents) Emit(context.Context, notify.Event) {}
func (discardEvents) Forget(string)                      {}

// Run admits jobs until ctx is cancelled, then waits for the active job to stop.
func (r *Runner) Run(ctx context.Context) error {
	r.logger.Info("Starting job runner")
	for {
		r.admit(ctx)

		select {
		case <-ctx.Done():
			r.logger.Info("Job runner context canceled, stopping...")
			r.mu.Lock()
			if r.active != nil {
				r.active.cancel()
			}
			r.mu.Unlock()
			r.wg.Wait()
			return nil
		case <-r.store.Changes():
		case <-r.wake:
		}
	}
}

// admit claims the oldest queued job when the slot is free.
func (r *Runner) admit(ctx context.Context) {
	r.mu.Lock()
	defer r.mu.Unlock()

	lease, ok := r.slot.TryAcquire()
	if !ok {
		return
	}
	job, ok := r.store.NextQueued()
	if !ok {
		lease.Release()
		return
	}

	started, err := r.store.UpdateStatus(ctx, job.ID, domain.Running(r.now()))
	if err != nil {
		lease.Release()
		r.logger.Error("Failed to claim job",
			slog.String("job_id", job.ID),
			slog.String("error", err.Error()),
		)
		return
	}

	jobCtx, cancel := context.WithCancel(ctx)
	a := &activeJob{id: started.ID, cancel: cancel, lease: lease}
	r.active = a

	r.logger.Info("Job admitted",
		slog.String("job_id", started.ID),
		slog.String("app_key", started.AppKey),
		slog.Uint64("queued_seq", started.QueuedSeq),
	)

	r.wg.Add(1)
	go r.process(jobCtx, a, started)
}

// process runs one job through upload, submit and polling.
func (r *Runner) process(ctx context.Context, a *activeJob, job domain.Job) {
	defer r.wg.Done()
	defer r.release(a)
	defer func() {
		if p := recover(); p != nil {
			r.logger.Error("Job panicked",
				slog.String("job_id", r.currentID(a)),
				slog.Any("panic", p),
				slog.String("stack", string(debug.Stack())),
			)
			job.ID = r.currentID(a)
			r.fail(ctx, a, job, domain.FailureInternal, fmt.Sprintf("internal error: %v", p), notify.KindJobFailed, "")
		}
	}()

	logger := r.logger.With(slog.String("job_id", job.ID), slog.String("app_key", job.AppKey))

	// Step 1: Resolve app and input
	app, err := r.apps.Lookup(job.AppKey)
	if err != nil {
		r.fail(ctx, a, job, domain.FailureSubmit, err.Error(), notify.KindSubmitFailed, "")
		return
	}
	input, err := r.store.Input(ctx, job.ID)
	if err != nil {
		r.fail(ctx, a, job, domain.FailureUpload, err.Error(), notify.KindUploadFailed, "")
		return
	}

	// Step 2: Upload input file
	fileID, err := r.generator.Upload(ctx, runninghub.File{
		Name:        input.Name,
		ContentType: input.ContentType,
		Data:        input.Data,
	})
	if ctx.Err() != nil {
		logger.Info("Job abandoned during upload")
		return
	}
	if err != nil {
		logger.Warn("Upload failed", slog.String("error", err.Error()))
		r.fail(ctx, a, job, domain.FailureUpload, err.Error(), notify.KindUploadFailed, "")
		return
	}

	// Step 3: Resolve field template
	assignments := app.Resolve(fileID)
	nodes := make([]runninghub.NodeInfo, len(assignments))
	for i, n := range assignments {
		nodes[i] = runninghub.NodeInfo{NodeID: n.NodeID, FieldName: n.FieldName, FieldValue: n.FieldValue}
	}

	// Step 4: Submit run
	result, err := r.generator.Run(ctx, app.WebappID, nodes)
	if ctx.Err() != nil {
		logger.Info("Job abandoned during submit")
		return
	}
	if err != nil {
		logger.Warn("Submit failed", slog.String("error", err.Error()))
		r.fail(ctx, a, job, domain.FailureSubmit, err.Error(), notify.KindSubmitFailed, "")
		return
	}

	// Step 5: Promote id to the remote task id
	if !r.promote(ctx, a, result.TaskID) {
		return
	}
	localID := job.ID
	job.ID = result.TaskID
	logger = logger.With(slog.String("task_id", result.TaskID))
	logger.Info("Job submitted", slog.String("local_id", localID))

	// Step 6: Poll until terminal
	outcome, err := r.poller.Poll(ctx, result.TaskID, func(n poller.Notice) {
		r.events.Emit(context.Background(), r.event(job, app, notify.KindNetworkUnstable, "", ""))
	})
	if err != nil {
		logger.Info("Polling stopped", slog.String("error", err.Error()))
		return
	}

	// Step 7: Record outcome
	switch outcome.State {
	case poller.StateSuccess:
		r.complete(ctx, a, job, app, outcome.Output)
	case poller.StateTimedOut:
		r.fail(ctx, a, job, domain.FailureTimeout, outcome.Message, notify.KindJobTimedOut, "")
	default:
		r.fail(ctx, a, job, domain.FailureBusiness, outcome.Message, notify.KindJobFailed, string(outcome.Category))
	}
}

// promote swaps the local id for the remote one. It reports false when the job is gone.
func (r *Runner) promote(ctx context.Context, a *activeJob, remoteID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if ctx.Err() != nil {
		return false
	}
	if _, err := r.store.UpdateStatus(ctx, a.id, domain.Promote(remoteID)); err != nil {
		r.logger.Warn("Failed to promote job id",
			slog.String("job_id", a.id),
			slog.String("task_id", remoteID),
			slog.String("error", err.Error()),
		)
		return false
	}
	a.id = remoteID
	return true
}

func (r *Runner) complete(ctx context.Context, a *activeJob, job domain.Job, app catalog.App, out runninghub.Output) {
	if ctx.Err() != nil {
		return
	}
	done, err := r.store.UpdateStatus(ctx, job.ID, domain.Completed(out.MediaURL, out.CostSeconds))
	if err != nil {
		r.logger.Error("Failed to mark job completed",
			slog.String("job_id", job.ID),
			slog.String("error", err.Error()),
		)
		return
	}
	r.release(a)
	r.events.Forget(job.ID)
	r.events.Emit(ctx, r.event(job, app, notify.KindJobCompleted, "", ""))
	r.logger.Info("Job completed",
		slog.String("job_id", job.ID),
		slog.String("media_url", done.ResultMediaURL),
	)

	if r.projects == nil {
		return
	}
	// best effort; the job stays completed either way
	saveCtx := context.WithoutCancel(ctx)
	if _, err := r.projects.Create(saveCtx, job.UserID, job.AppKey, out.MediaURL); err != nil {
		r.logger.Warn("Failed to save project",
			slog.String("job_id", job.ID),
			slog.String("user_id", job.UserID),
			slog.String("error", err.Error()),
		)
		r.events.Emit(saveCtx, r.event(job, app, notify.KindProjectSaveFailed, err.Error(), ""))
	}
}

func (r *Runner) fail(ctx context.Context, a *activeJob, job domain.Job, kind domain.FailureKind, msg string, event notify.Kind, category string) {
	if ctx.Err() != nil {
		return
	}
	if _, err := r.store.UpdateStatus(ctx, job.ID, domain.Failed(kind, msg)); err != nil {
		r.logger.Error("Failed to mark job failed",
			slog.String("job_id", job.ID),
			slog.String("error", err.Error()),
		)
		return
	}
	r.release(a)
	r.events.Forget(job.ID)

	app, lookupErr := r.apps.Lookup(job.AppKey)
	if lookupErr != nil {
		app = catalog.App{Key: job.AppKey}
	}
	r.events.Emit(ctx, r.event(job, app, event, msg, category))
	r.logger.Warn("Job failed",
		slog.String("job_id", job.ID),
		slog.String("failure_kind", string(kind)),
		slog.String("error", msg),
	)
}

func (r *Runner) event(job domain.Job, app catalog.App, kind notify.Kind, detail, category string) notify.Event {
	name := app.Name
	if name == "" {
		name = job.AppKey
	}
	return notify.Event{
		UserID:   job.UserID,
		JobID:    job.ID,
		Kind:     kind,
		Locale:   job.Locale,
		AppName:  name,
		Detail:   detail,
		Category: category,
	}
}

// release frees the slot held by a and wakes the admission loop.
func (r *Runner) release(a *activeJob) {
	r.mu.Lock()
	r.releaseLocked(a)
	r.mu.Unlock()
}

func (r *Runner) releaseLocked(a *activeJob) {
	a.lease.Release()
	if r.active == a {
		r.active = nil
	}
	select {
	case r.wake <- struct{}{}:
	default:
	}
}

func (r *Runner) currentID(a *activeJob) string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return a.id
}

// Retry puts a finished job back in the queue.
func (r *Runner) Retry(ctx context.Context, jobID string) (domain.Job, error) {
	job, err := r.store.Requeue(ctx, jobID)
	if err != nil {
		return domain.Job{}, err
	}
	r.logger.Info("Job retried", slog.String("job_id", jobID))
	return job, nil
}

// Cancel removes a job that has not started yet.
func (r *Runner) Cancel(ctx context.Context, jobID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	job, err := r.store.Get(jobID)
	if err != nil {
		return err
	}
	switch job.Status {
	case domain.JobStatusQueued:
	case domain.JobStatusRunning:
		return domain.ErrJobRunning
	default:
		return domain.ErrNotCancellable
	}
	if _, err := r.store.Remove(ctx, jobID); err != nil {
		return err
	}
	r.logger.Info("Job cancelled", slog.String("job_id", jobID))
	return nil
}

// Delete removes a job in any state. A running job is abandoned locally: its
// polling stops and the slot is freed, but the remote task is not cancelled.
func (r *Runner) Delete(ctx context.Context, jobID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if a := r.active; a != nil && a.id == jobID {
		a.cancel()
		r.releaseLocked(a)
		r.logger.Warn("Running job abandoned; the remote task keeps running",
			slog.String("job_id", jobID),
		)
	}
	if _, err := r.store.Remove(ctx, jobID); err != nil {
		return err
	}
	r.events.Forget(jobID)
	r.logger.Info("Job deleted", slog.String("job_id", jobID))
	return nil
}

// Busy reports whether a job currently holds the slot.
func (r *Runner) Busy() bool {
	return r.slot.Held()
}
