package queue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/cuongbtq/genqueue/internal/blob"
	"github.com/cuongbtq/genqueue/internal/domain"
)

// Order selects the created_at sort direction of List.
type Order string

const (
	OrderDesc Order = "desc"
	OrderAsc  Order = "asc"
)

// ParseOrder maps a query value to an Order, defaulting to newest first.
func ParseOrder(s string) Order {
	if strings.EqualFold(strings.TrimSpace(s), string(OrderAsc)) {
		return OrderAsc
	}
	return OrderDesc
}

// EnqueueRequest carries what a new job needs.
type EnqueueRequest struct {
	UserID string
	AppKey string
	Locale string
	File   domain.InputFile
}

// Options configures a Store.
type Options struct {
	Snapshotter Snapshotter
	Blobs       blob.Store
	Logger      *slog.Logger
	Now         func() time.Time
}

// Store owns the ordered job collection. Newest jobs are kept first.
type Store struct {
	mu      sync.Mutex
	jobs    []*domain.Job
	inputs  map[string][]byte
	seq     uint64
	version uint64

	saveMu       sync.Mutex
	savedVersion uint64

	snapshotter Snapshotter
	blobs       blob.Store
	logger      *slog.Logger
	now         func() time.Time
	changes     chan struct{}
}

// NewStore creates an empty store. Call Rehydrate to load a snapshot.
func NewStore(opts Options) *Store {
	s := &Store{
		inputs:      make(map[string][]byte),
		snapshotter: opts.Snapshotter,
		blobs:       opts.Blobs,
		logger:      opts.Logger,
		now:         opts.Now,
		changes:     make(chan struct{}, 1),
	}
	if s.logger == nil {
		s.logger = slog.New(slog.DiscardHandler)
	}
	if s.now == nil {
		s.now = time.Now
	}
	return s
}

// Changes delivers a coalesced signal after every mutation.
func (s *Store) Changes() <-chan struct{} {
	return s.changes
}

// Enqueue adds a queued job at the front of the collection.
func (s *Store) Enqueue(ctx context.Context, req EnqueueRequest) (domain.Job, error) {
	if len(req.File.Data) == 0 {
		return domain.Job{}, errors.New("input file is empty")
	}

	input := req.File.Input
	input.Size = int64(len(req.File.Data))
	input.Key = inputKey(input.Name)

	s.mu.Lock()
	now := s.now()
	s.seq++
	job := &domain.Job{
		ID:        s.nextIDLocked(now),
		UserID:    req.UserID,
		AppKey:    req.AppKey,
		Locale:    req.Locale,
		Input:     input,
		Status:    domain.JobStatusQueued,
		QueuedSeq: s.seq,
		CreatedAt: now,
	}
	s.jobs = append([]*domain.Job{job}, s.jobs...)
	s.inputs[input.Key] = req.File.Data
	s.version++
	out := job.Clone()
	s.mu.Unlock()

	if s.blobs != nil {
		if err := s.blobs.Put(ctx, input.Key, req.File.Data, input.ContentType); err != nil {
			s.logger.Warn("Failed to persist input file",
				slog.String("job_id", out.ID),
				slog.String("input_key", input.Key),
				slog.String("error", err.Error()),
			)
		}
	}

	s.logger.Info("Job enqueued",
		slog.String("job_id", out.ID),
		slog.String("user_id", out.UserID),
		slog.String("app_key", out.AppKey),
		slog.Int64("size", input.Size),
	)
	s.persist(ctx)
	s.signal()
	return out, nil
}

// nextIDLocked returns task_<millis>, bumped until unused.
func (s *Store) nextIDLocked(now time.Time) string {
	millis := now.UnixMilli()
	for {
		id := fmt.Sprintf("task_%d", millis)
		if s.indexLocked(id) < 0 {
			return id
		}
		millis++
	}
}

// UpdateStatus merges patch into the job with the given id.
func (s *Store) UpdateStatus(ctx context.Context, jobID string, patch domain.JobPatch) (domain.Job, error) {
	s.mu.Lock()
	idx := s.indexLocked(jobID)
	if idx < 0 {
		s.mu.Unlock()
		return domain.Job{}, fmt.Errorf("%w: %s", domain.ErrJobNotFound, jobID)
	}
	if patch.ID != nil && *patch.ID != jobID && s.indexLocked(*patch.ID) >= 0 {
		s.mu.Unlock()
		return domain.Job{}, fmt.Errorf("job id %s already exists", *patch.ID)
	}
	job := s.jobs[idx]
	patch.Apply(job)
	// Finished jobs read their input back from the blob store on retry.
	if job.Status.IsTerminal() && s.blobs != nil {
		delete(s.inputs, job.Input.Key)
	}
	s.version++
	out := job.Clone()
	s.mu.Unlock()

	s.persist(ctx)
	s.signal()
	return out, nil
}

// Requeue resets a finished job to queued with the same app and input.
func (s *Store) Requeue(ctx context.Context, jobID string) (domain.Job, error) {
	s.mu.Lock()
	idx := s.indexLocked(jobID)
	if idx < 0 {
		s.mu.Unlock()
		return domain.Job{}, fmt.Errorf("%w: %s", domain.ErrJobNotFound, jobID)
	}
	job := s.jobs[idx]
	if !job.Status.IsTerminal() {
		s.mu.Unlock()
		return domain.Job{}, fmt.Errorf("%w: status is %s", domain.ErrNotRetryable, job.Status)
	}
	key := job.Input.Key
	_, inMemory := s.inputs[key]
	s.mu.Unlock()

	if !inMemory {
		data, err := s.loadBlob(ctx, key)
		if err != nil {
			return domain.Job{}, err
		}
		s.mu.Lock()
		s.inputs[key] = data
		s.mu.Unlock()
	}

	s.mu.Lock()
	idx = s.indexLocked(jobID)
	if idx < 0 {
		s.mu.Unlock()
		return domain.Job{}, fmt.Errorf("%w: %s", domain.ErrJobNotFound, jobID)
	}
	job = s.jobs[idx]
	if !job.Status.IsTerminal() {
		s.mu.Unlock()
		return domain.Job{}, fmt.Errorf("%w: status is %s", domain.ErrNotRetryable, job.Status)
	}
	s.seq++
	job.Status = domain.JobStatusQueued
	job.QueuedSeq = s.seq
	job.ResultMediaURL = ""
	job.CostSeconds = nil
	job.Error = ""
	job.FailureKind = ""
	job.StartedAt = nil
	s.version++
	out := job.Clone()
	s.mu.Unlock()

	s.logger.Info("Job requeued", slog.String("job_id", jobID))
	s.persist(ctx)
	s.signal()
	return out, nil
}

// Remove deletes a job and its input file.
func (s *Store) Remove(ctx context.Context, jobID string) (domain.Job, error) {
	s.mu.Lock()
	idx := s.indexLocked(jobID)
	if idx < 0 {
		s.mu.Unlock()
		return domain.Job{}, fmt.Errorf("%w: %s", domain.ErrJobNotFound, jobID)
	}
	job := s.jobs[idx]
	s.jobs = append(s.jobs[:idx], s.jobs[idx+1:]...)
	delete(s.inputs, job.Input.Key)
	s.version++
	out := job.Clone()
	s.mu.Unlock()

	if s.blobs != nil && out.Input.Key != "" {
		if err := s.blobs.Delete(ctx, out.Input.Key); err != nil {
			s.logger.Warn("Failed to delete input file",
				slog.String("job_id", jobID),
				slog.String("input_key", out.Input.Key),
				slog.String("error", err.Error()),
			)
		}
	}

	s.logger.Info("Job removed", slog.String("job_id", jobID), slog.String("status", string(out.Status)))
	s.persist(ctx)
	s.signal()
	return out, nil
}

// Get returns a copy of the job.
func (s *Store) Get(jobID string) (domain.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	idx := s.indexLocked(jobID)
	if idx < 0 {
		return domain.Job{}, fmt.Errorf("%w: %s", domain.ErrJobNotFound, jobID)
	}
	return s.jobs[idx].Clone(), nil
}

// List returns every job sorted by created_at.
func (s *Store) List(order Order) []domain.Job {
	return s.list(order, func(*domain.Job) bool { return true })
}

// ListByUser returns the jobs owned by userID sorted by created_at.
func (s *Store) ListByUser(userID string, order Order) []domain.Job {
	return s.list(order, func(j *domain.Job) bool { return j.UserID == userID })
}

func (s *Store) list(order Order, keep func(*domain.Job) bool) []domain.Job {
	s.mu.Lock()
	out := make([]domain.Job, 0, len(s.jobs))
	for _, j := range s.jobs {
		if keep(j) {
			out = append(out, j.Clone())
		}
	}
	s.mu.Unlock()

	sort.SliceStable(out, func(a, b int) bool {
		if out[a].CreatedAt.Equal(out[b].CreatedAt) {
			if order == OrderAsc {
				return out[a].QueuedSeq < out[b].QueuedSeq
			}
			return out[a].QueuedSeq > out[b].QueuedSeq
		}
		if order == OrderAsc {
			return out[a].CreatedAt.Before(out[b].CreatedAt)
		}
		return out[a].CreatedAt.After(out[b].CreatedAt)
	})
	return out
}

// NextQueued returns the queued job with the lowest queued_seq.
func (s *Store) NextQueued() (domain.Job, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var next *domain.Job
	for _, j := range s.jobs {
		if j.Status != domain.JobStatusQueued {
			continue
		}
		if next == nil || j.QueuedSeq < next.QueuedSeq {
			next = j
		}
	}
	if next == nil {
		return domain.Job{}, false
	}
	return next.Clone(), true
}

// HasRunning reports whether any job is in the running state.
func (s *Store) HasRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, j := range s.jobs {
		if j.Status == domain.JobStatusRunning {
			return true
		}
	}
	return false
}

// Input returns the job's input bytes from memory or the blob store.
func (s *Store) Input(ctx context.Context, jobID string) (domain.InputFile, error) {
	s.mu.Lock()
	idx := s.indexLocked(jobID)
	if idx < 0 {
		s.mu.Unlock()
		return domain.InputFile{}, fmt.Errorf("%w: %s", domain.ErrJobNotFound, jobID)
	}
	input := s.jobs[idx].Input
	terminal := s.jobs[idx].Status.IsTerminal()
	data, ok := s.inputs[input.Key]
	s.mu.Unlock()

	if ok {
		return domain.InputFile{Input: input, Data: data}, nil
	}
	data, err := s.loadBlob(ctx, input.Key)
	if err != nil {
		return domain.InputFile{}, err
	}
	if !terminal {
		s.mu.Lock()
		s.inputs[input.Key] = data
		s.mu.Unlock()
	}
	return domain.InputFile{Input: input, Data: data}, nil
}

func (s *Store) loadBlob(ctx context.Context, key string) ([]byte, error) {
	if s.blobs == nil || key == "" {
		return nil, domain.ErrInputUnavailable
	}
	data, err := s.blobs.Get(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrInputUnavailable, err)
	}
	return data, nil
}

// Rehydrate loads the persisted snapshot. Running jobs cannot be resumed and
// become failed; queued jobs stay queued only while their input is retrievable.
func (s *Store) Rehydrate(ctx context.Context) error {
	if s.snapshotter == nil {
		return nil
	}
	loaded, err := s.snapshotter.Load(ctx)
	if err != nil {
		return fmt.Errorf("failed to rehydrate queue: %w", err)
	}

	jobs := make([]*domain.Job, 0, len(loaded))
	inputs := make(map[string][]byte)
	var maxSeq uint64
	interrupted := 0
	for i := range loaded {
		job := loaded[i].Clone()
		if !job.Status.Valid() {
			s.logger.Warn("Dropping job with unknown status",
				slog.String("job_id", job.ID),
				slog.String("status", string(job.Status)),
			)
			continue
		}
		switch job.Status {
		case domain.JobStatusRunning:
			domain.Failed(domain.FailureInterrupted, "interrupted by restart; the remote job may still finish").Apply(&job)
			interrupted++
		case domain.JobStatusQueued:
			data, err := s.loadBlob(ctx, job.Input.Key)
			if err != nil {
				domain.Failed(domain.FailureInterrupted, "input file was lost on restart").Apply(&job)
				interrupted++
				break
			}
			inputs[job.Input.Key] = data
		}
		if job.QueuedSeq > maxSeq {
			maxSeq = job.QueuedSeq
		}
		jobs = append(jobs, &job)
	}

	s.mu.Lock()
	s.jobs = jobs
	s.inputs = inputs
	if maxSeq > s.seq {
		s.seq = maxSeq
	}
	s.version++
	s.mu.Unlock()

	s.logger.Info("Queue rehydrated",
		slog.Int("jobs", len(jobs)),
		slog.Int("interrupted", interrupted),
	)
	if interrupted > 0 {
		s.persist(ctx)
	}
	s.signal()
	return nil
}

// persist saves the current collection. Failures are logged only.
func (s *Store) persist(ctx context.Context) {
	if s.snapshotter == nil {
		return
	}
	s.mu.Lock()
	version := s.version
	snapshot := make([]domain.Job, len(s.jobs))
	for i, j := range s.jobs {
		snapshot[i] = j.Clone()
	}
	s.mu.Unlock()

	s.saveMu.Lock()
	defer s.saveMu.Unlock()
	if version <= s.savedVersion {
		return
	}
	if err := s.snapshotter.Save(context.WithoutCancel(ctx), snapshot); err != nil {
		s.logger.Error("Failed to save queue snapshot",
			slog.Int("jobs", len(snapshot)),
			slog.String("error", err.Error()),
		)
		return
	}
	s.savedVersion = version
}

func (s *Store) signal() {
	select {
	case s.changes <- struct{}{}:
	default:
	}
}

func (s *Store) indexLocked(jobID string) int {
	for i, j := range s.jobs {
		if j.ID == jobID {
			return i
		}
	}
	return -1
}

func inputKey(name string) string {
	base := path.Base(strings.ReplaceAll(strings.TrimSpace(name), "\\", "/"))
	if base == "" || base == "." || base == "/" {
		base = "input"
	}
	return "inputs/" + uuid.NewString() + "/" + base
}
