package runner

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuongbtq/genqueue/internal/catalog"
	"github.com/cuongbtq/genqueue/internal/domain"
	"github.com/cuongbtq/genqueue/internal/notify"
	"github.com/cuongbtq/genqueue/internal/poller"
	"github.com/cuongbtq/genqueue/internal/projects"
	"github.com/cuongbtq/genqueue/internal/queue"
	"github.com/cuongbtq/genqueue/internal/runninghub"
)

const (
	waitFor = 2 * time.Second
	tick    = 5 * time.Millisecond
)

type runCall struct {
	webappID string
	nodes    []runninghub.NodeInfo
}

type fakeGenerator struct {
	mu          sync.Mutex
	uploads     []string
	runs        []runCall
	failUpload  map[string]bool
	failRun     map[string]bool
	panicUpload bool
	tasks       int
}

func (g *fakeGenerator) Upload(_ context.Context, file runninghub.File) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.uploads = append(g.uploads, file.Name)
	if g.panicUpload {
		panic("upload exploded")
	}
	if g.failUpload[file.Name] {
		return "", &runninghub.APIError{Op: "upload", Code: runninghub.CodeServer, HTTPStatus: 502, Message: "bad gateway"}
	}
	return "F123", nil
}

func (g *fakeGenerator) Run(_ context.Context, webappID string, nodes []runninghub.NodeInfo) (runninghub.RunResult, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.runs = append(g.runs, runCall{webappID: webappID, nodes: nodes})
	if g.failRun[webappID] {
		return runninghub.RunResult{}, &runninghub.APIError{Op: "run", Code: runninghub.CodeInvalidRequest, Message: "APIKEY_INVALID_NODE_INFO"}
	}
	g.tasks++
	return runninghub.RunResult{TaskID: fmt.Sprintf("remote-%d", g.tasks), TaskStatus: "RUNNING"}, nil
}

func (g *fakeGenerator) uploadNames() []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]string(nil), g.uploads...)
}

type fakePoller struct {
	mu       sync.Mutex
	calls    []string
	outcomes []poller.Outcome
	block    bool
	release  chan struct{}
	onPoll   func(taskID string)
	unstable int
}

func newFakePoller() *fakePoller {
	return &fakePoller{release: make(chan struct{}, 16)}
}

func (p *fakePoller) Poll(ctx context.Context, taskID string, onUnstable func(poller.Notice)) (poller.Outcome, error) {
	p.mu.Lock()
	p.calls = append(p.calls, taskID)
	var outcome poller.Outcome
	if len(p.outcomes) > 0 {
		outcome = p.outcomes[0]
		p.outcomes = p.outcomes[1:]
	} else {
		cost := 4.5
		outcome = poller.Outcome{
			State:  poller.StateSuccess,
			Output: runninghub.Output{MediaURL: "https://cdn.example.com/" + taskID + ".png", CostSeconds: &cost},
		}
	}
	block := p.block
	onPoll := p.onPoll
	unstable := p.unstable
	p.mu.Unlock()

	if onPoll != nil {
		onPoll(taskID)
	}
	for i := 1; i <= unstable; i++ {
		onUnstable(poller.Notice{TaskID: taskID, ConsecutiveFails: 3, Cycle: i})
	}
	if block {
		select {
		case <-ctx.Done():
			return poller.Outcome{}, ctx.Err()
		case <-p.release:
		}
	}
	return outcome, nil
}

func (p *fakePoller) callCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.calls)
}

type fakeProjects struct {
	mu    sync.Mutex
	saved []string
	err   error
}

func (f *fakeProjects) Create(_ context.Context, userID, appKey, mediaURL string) (projects.Record, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return projects.Record{}, f.err
	}
	f.saved = append(f.saved, mediaURL)
	return projects.Record{ID: "p1", UserID: userID, AppKey: appKey, MediaURL: mediaURL}, nil
}

type recordedEvents struct {
	mu     sync.Mutex
	events []notify.Event
}

func (r *recordedEvents) Emit(_ context.Context, e notify.Event) {
	r.mu.Lock()
	r.events = append(r.events, e)
	r.mu.Unlock()
}

func (r *recordedEvents) Forget(string) {}

func (r *recordedEvents) find(kind notify.Kind) (notify.Event, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, e := range r.events {
		if e.Kind == kind {
			return e, true
		}
	}
	return notify.Event{}, false
}

func (r *recordedEvents) kinds() []notify.Kind {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]notify.Kind, 0, len(r.events))
	for _, e := range r.events {
		out = append(out, e.Kind)
	}
	return out
}

type harness struct {
	store     *queue.Store
	generator *fakeGenerator
	poller    *fakePoller
	projects  *fakeProjects
	events    *recordedEvents
	runner    *Runner
}

func testCatalog(t *testing.T) *catalog.Catalog {
	t.Helper()
	apps, err := catalog.New([]catalog.App{
		{
			Key:      "anime-portrait",
			Name:     "Anime Portrait",
			Media:    catalog.MediaImage,
			WebappID: "1937084629516193794",
			Fields: []catalog.Field{
				{NodeID: "1", FieldName: "image", Value: catalog.UploadRef()},
				{NodeID: "2", FieldName: "value", Value: catalog.LiteralValue("6")},
			},
		},
		{
			Key:      "broken-app",
			Name:     "Broken",
			Media:    catalog.MediaImage,
			WebappID: "reject-me",
			Fields:   []catalog.Field{{NodeID: "9", FieldName: "image", Value: catalog.UploadRef()}},
		},
	})
	require.NoError(t, err)
	return apps
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		store:     queue.NewStore(queue.Options{}),
		generator: &fakeGenerator{failUpload: map[string]bool{}, failRun: map[string]bool{}},
		poller:    newFakePoller(),
		projects:  &fakeProjects{},
		events:    &recordedEvents{},
	}
	h.runner = New(&Config{
		Store:     h.store,
		Generator: h.generator,
		Poller:    h.poller,
		Apps:      testCatalog(t),
		Projects:  h.projects,
		Events:    h.events,
	})
	return h
}

func (h *harness) start(t *testing.T) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = h.runner.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
}

func (h *harness) enqueue(t *testing.T, appKey, name string) domain.Job {
	t.Helper()
	job, err := h.store.Enqueue(context.Background(), queue.EnqueueRequest{
		UserID: "u1",
		AppKey: appKey,
		Locale: "en",
		File: domain.InputFile{
			Input: domain.Input{Name: name, ContentType: "image/png"},
			Data:  []byte("data-" + name),
		},
	})
	require.NoError(t, err)
	return job
}

func (h *harness) jobByInput(name string) (domain.Job, bool) {
	for _, j := range h.store.List(queue.OrderAsc) {
		if j.Input.Name == name {
			return j, true
		}
	}
	return domain.Job{}, false
}

func (h *harness) waitStatus(t *testing.T, name string, status domain.JobStatus) domain.Job {
	t.Helper()
	var job domain.Job
	require.Eventually(t, func() bool {
		j, ok := h.jobByInput(name)
		job = j
		return ok && j.Status == status
	}, waitFor, tick, "job %s never reached %s", name, status)
	return job
}

func countRunning(store *queue.Store) int {
	n := 0
	for _, j := range store.List(queue.OrderAsc) {
		if j.Status == domain.JobStatusRunning {
			n++
		}
	}
	return n
}

func TestRunnerCompletesJob(t *testing.T) {
	h := newHarness(t)
	h.start(t)
	h.enqueue(t, "anime-portrait", "selfie.png")

	job := h.waitStatus(t, "selfie.png", domain.JobStatusCompleted)
	assert.Equal(t, "remote-1", job.ID)
	assert.Equal(t, "https://cdn.example.com/remote-1.png", job.ResultMediaURL)
	require.NotNil(t, job.CostSeconds)
	assert.InDelta(t, 4.5, *job.CostSeconds, 0.001)
	assert.NotNil(t, job.StartedAt)
	assert.Empty(t, job.Error)

	h.generator.mu.Lock()
	require.Len(t, h.generator.runs, 1)
	assert.Equal(t, "1937084629516193794", h.generator.runs[0].webappID)
	assert.Equal(t, []runninghub.NodeInfo{
		{NodeID: "1", FieldName: "image", FieldValue: "F123"},
		{NodeID: "2", FieldName: "value", FieldValue: "6"},
	}, h.generator.runs[0].nodes)
	h.generator.mu.Unlock()

	require.Eventually(t, func() bool {
		h.projects.mu.Lock()
		defer h.projects.mu.Unlock()
		return len(h.projects.saved) == 1
	}, waitFor, tick)
	assert.Contains(t, h.events.kinds(), notify.KindJobCompleted)
	assert.Eventually(t, func() bool { return !h.runner.Busy() }, waitFor, tick)
}

func TestRunnerSingleFlightFIFO(t *testing.T) {
	h := newHarness(t)
	h.poller.block = true

	var (
		mu         sync.Mutex
		maxRunning int
	)
	h.poller.onPoll = func(string) {
		mu.Lock()
		defer mu.Unlock()
		if n := countRunning(h.store); n > maxRunning {
			maxRunning = n
		}
	}

	for _, name := range []string{"a.png", "b.png", "c.png"} {
		h.enqueue(t, "anime-portrait", name)
	}
	h.start(t)

	for i, name := range []string{"a.png", "b.png", "c.png"} {
		require.Eventually(t, func() bool { return h.poller.callCount() == i+1 }, waitFor, tick)
		assert.LessOrEqual(t, countRunning(h.store), 1)
		running := h.waitStatus(t, name, domain.JobStatusRunning)
		assert.Equal(t, fmt.Sprintf("remote-%d", i+1), running.ID)
		h.poller.release <- struct{}{}
		h.waitStatus(t, name, domain.JobStatusCompleted)
	}

	assert.Equal(t, []string{"a.png", "b.png", "c.png"}, h.generator.uploadNames())
	mu.Lock()
	assert.Equal(t, 1, maxRunning)
	mu.Unlock()
}

func TestRunnerUploadFailure(t *testing.T) {
	h := newHarness(t)
	h.generator.failUpload["bad.png"] = true
	h.enqueue(t, "anime-portrait", "bad.png")
	h.enqueue(t, "anime-portrait", "good.png")
	h.start(t)

	failed := h.waitStatus(t, "bad.png", domain.JobStatusFailed)
	assert.Equal(t, domain.FailureUpload, failed.FailureKind)
	assert.Contains(t, failed.Error, "bad gateway")
	assert.Empty(t, failed.ResultMediaURL)

	h.waitStatus(t, "good.png", domain.JobStatusCompleted)
	assert.Equal(t, []string{"bad.png", "good.png"}, h.generator.uploadNames(), "no automatic retry")
	assert.Contains(t, h.events.kinds(), notify.KindUploadFailed)
}

func TestRunnerSubmitFailure(t *testing.T) {
	h := newHarness(t)
	h.generator.failRun["reject-me"] = true
	h.enqueue(t, "broken-app", "x.png")
	h.start(t)

	failed := h.waitStatus(t, "x.png", domain.JobStatusFailed)
	assert.Equal(t, domain.FailureSubmit, failed.FailureKind)
	assert.Contains(t, failed.Error, "APIKEY_INVALID_NODE_INFO")
	assert.Equal(t, 0, h.poller.callCount())
	assert.Contains(t, h.events.kinds(), notify.KindSubmitFailed)
}

func TestRunnerUnknownApp(t *testing.T) {
	h := newHarness(t)
	h.enqueue(t, "removed-app", "x.png")
	h.start(t)

	failed := h.waitStatus(t, "x.png", domain.JobStatusFailed)
	assert.Equal(t, domain.FailureSubmit, failed.FailureKind)
	assert.Empty(t, h.generator.uploadNames())
}

func TestRunnerPollOutcomes(t *testing.T) {
	tests := []struct {
		name         string
		outcome      poller.Outcome
		wantKind     domain.FailureKind
		wantEvent    notify.Kind
		wantCategory string
	}{
		{
			name:         "business failure",
			outcome:      poller.Outcome{State: poller.StateFailure, Message: "CUDA out of memory", Category: poller.CategoryOutOfMemory},
			wantKind:     domain.FailureBusiness,
			wantEvent:    notify.KindJobFailed,
			wantCategory: string(poller.CategoryOutOfMemory),
		},
		{
			name:      "timed out carries no retry category",
			outcome:   poller.Outcome{State: poller.StateTimedOut, Message: "may still finish", Category: poller.CategoryTimeout},
			wantKind:  domain.FailureTimeout,
			wantEvent: notify.KindJobTimedOut,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t)
			h.poller.outcomes = []poller.Outcome{tt.outcome}
			h.enqueue(t, "anime-portrait", "a.png")
			h.start(t)

			failed := h.waitStatus(t, "a.png", domain.JobStatusFailed)
			assert.Equal(t, tt.wantKind, failed.FailureKind)
			assert.Equal(t, tt.outcome.Message, failed.Error)
			assert.Equal(t, "remote-1", failed.ID)
			var event notify.Event
			require.Eventually(t, func() bool {
				var ok bool
				event, ok = h.events.find(tt.wantEvent)
				return ok
			}, waitFor, tick)
			assert.Equal(t, tt.wantCategory, event.Category)
		})
	}
}

func TestRunnerNetworkNoticeUsesRemoteID(t *testing.T) {
	h := newHarness(t)
	h.poller.unstable = 2
	h.enqueue(t, "anime-portrait", "a.png")
	h.start(t)

	h.waitStatus(t, "a.png", domain.JobStatusCompleted)
	var notice notify.Event
	require.Eventually(t, func() bool {
		var ok bool
		notice, ok = h.events.find(notify.KindNetworkUnstable)
		return ok
	}, waitFor, tick)
	assert.Equal(t, "remote-1", notice.JobID)
	assert.Equal(t, "u1", notice.UserID)
	assert.Equal(t, "Anime Portrait", notice.AppName)
	assert.Equal(t, "en", notice.Locale)
}

func TestRunnerProjectSaveFailureKeepsCompleted(t *testing.T) {
	h := newHarness(t)
	h.projects.err = errors.New("projects service unavailable")
	h.enqueue(t, "anime-portrait", "a.png")
	h.start(t)

	h.waitStatus(t, "a.png", domain.JobStatusCompleted)
	require.Eventually(t, func() bool {
		for _, k := range h.events.kinds() {
			if k == notify.KindProjectSaveFailed {
				return true
			}
		}
		return false
	}, waitFor, tick)

	job, ok := h.jobByInput("a.png")
	require.True(t, ok)
	assert.Equal(t, domain.JobStatusCompleted, job.Status)
	assert.NotEmpty(t, job.ResultMediaURL)
}

func TestRunnerRetryProducesCleanRecord(t *testing.T) {
	h := newHarness(t)
	h.poller.outcomes = []poller.Outcome{{State: poller.StateFailure, Message: "APIKEY_TASK_STATUS_ERROR"}}
	original := h.enqueue(t, "anime-portrait", "a.png")
	h.start(t)

	failed := h.waitStatus(t, "a.png", domain.JobStatusFailed)
	requeued, err := h.runner.Retry(context.Background(), failed.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.JobStatusQueued, requeued.Status)
	assert.Empty(t, requeued.Error)

	done := h.waitStatus(t, "a.png", domain.JobStatusCompleted)
	assert.Equal(t, original.AppKey, done.AppKey)
	assert.Equal(t, original.Input, done.Input)
	assert.Empty(t, done.Error)
	assert.Empty(t, done.FailureKind)
	assert.Equal(t, "https://cdn.example.com/remote-2.png", done.ResultMediaURL)

	_, err = h.runner.Retry(context.Background(), "missing")
	assert.ErrorIs(t, err, domain.ErrJobNotFound)
}

func TestRunnerDeleteRunningReleasesSlot(t *testing.T) {
	h := newHarness(t)
	h.poller.block = true
	h.enqueue(t, "anime-portrait", "a.png")
	h.enqueue(t, "anime-portrait", "b.png")
	h.start(t)

	h.waitStatus(t, "a.png", domain.JobStatusRunning)
	require.Eventually(t, func() bool { return h.poller.callCount() == 1 }, waitFor, tick)
	running, ok := h.jobByInput("a.png")
	require.True(t, ok)
	assert.Equal(t, "remote-1", running.ID)
	require.NoError(t, h.runner.Delete(context.Background(), running.ID))

	_, ok = h.jobByInput("a.png")
	assert.False(t, ok)
	h.waitStatus(t, "b.png", domain.JobStatusRunning)
	h.poller.release <- struct{}{}
	h.waitStatus(t, "b.png", domain.JobStatusCompleted)
}

func TestRunnerCancel(t *testing.T) {
	h := newHarness(t)
	h.poller.block = true
	h.enqueue(t, "anime-portrait", "a.png")
	queued := h.enqueue(t, "anime-portrait", "b.png")
	h.start(t)

	h.waitStatus(t, "a.png", domain.JobStatusRunning)
	require.Eventually(t, func() bool { return h.poller.callCount() == 1 }, waitFor, tick)
	running, ok := h.jobByInput("a.png")
	require.True(t, ok)

	assert.ErrorIs(t, h.runner.Cancel(context.Background(), running.ID), domain.ErrJobRunning)
	require.NoError(t, h.runner.Cancel(context.Background(), queued.ID))
	_, ok = h.jobByInput("b.png")
	assert.False(t, ok)

	h.poller.release <- struct{}{}
	done := h.waitStatus(t, "a.png", domain.JobStatusCompleted)
	assert.ErrorIs(t, h.runner.Cancel(context.Background(), done.ID), domain.ErrNotCancellable)
	assert.ErrorIs(t, h.runner.Cancel(context.Background(), "missing"), domain.ErrJobNotFound)
}

func TestRunnerRecoversPanic(t *testing.T) {
	h := newHarness(t)
	h.generator.panicUpload = true
	h.enqueue(t, "anime-portrait", "a.png")
	h.start(t)

	failed := h.waitStatus(t, "a.png", domain.JobStatusFailed)
	assert.Equal(t, domain.FailureInternal, failed.FailureKind)
	assert.Contains(t, failed.Error, "upload exploded")
	assert.Eventually(t, func() bool { return !h.runner.Busy() }, waitFor, tick)
}

type scriptedStatus struct {
	mu    sync.Mutex
	calls int
}

func (s *scriptedStatus) Status(context.Context, string) (runninghub.StatusResponse, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if s.calls <= 5 {
		return runninghub.StatusResponse{HTTPStatus: 500}, &runninghub.APIError{Op: "status", Code: runninghub.CodeServer, HTTPStatus: 500}
	}
	return runninghub.StatusResponse{HTTPStatus: 200, Text: "FAILED"}, nil
}

func (s *scriptedStatus) Outputs(context.Context, string) (runninghub.Output, error) {
	return runninghub.Output{}, &runninghub.APIError{Op: "outputs", Code: runninghub.CodeTaskFailed, Message: "node 12 crashed"}
}

func TestRunnerWithRealPollerFailsOnlyOnTerminalStatus(t *testing.T) {
	status := &scriptedStatus{}
	h := newHarness(t)
	h.runner.poller = poller.New(status, poller.Options{
		Sleep: func(ctx context.Context, _ time.Duration) error { return ctx.Err() },
	})
	h.enqueue(t, "anime-portrait", "a.png")
	h.start(t)

	failed := h.waitStatus(t, "a.png", domain.JobStatusFailed)
	assert.Equal(t, domain.FailureBusiness, failed.FailureKind)
	assert.Equal(t, "node 12 crashed", failed.Error)
	status.mu.Lock()
	assert.Equal(t, 6, status.calls)
	status.mu.Unlock()
}

func TestSlot(t *testing.T) {
	var s Slot
	first, ok := s.TryAcquire()
	require.True(t, ok)
	_, ok = s.TryAcquire()
	assert.False(t, ok)
	assert.True(t, s.Held())

	first.Release()
	first.Release()
	assert.False(t, s.Held())

	second, ok := s.TryAcquire()
	require.True(t, ok)
	first.Release()
	assert.True(t, s.Held(), "a stale lease must not free a newer one")
	second.Release()
	assert.False(t, s.Held())
}
