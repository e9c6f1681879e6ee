package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/cuongbtq/genqueue/internal/domain"
	"github.com/cuongbtq/genqueue/shared/redis"
)

const (
	// SnapshotKey is the Redis key holding the serialized queue
	SnapshotKey = "ai-task-queue"
	// SnapshotFileName is the file holding the serialized queue
	SnapshotFileName = "ai-task-queue.json"
)

// Snapshotter persists the whole job collection.
type Snapshotter interface {
	Load(ctx context.Context) ([]domain.Job, error)
	Save(ctx context.Context, jobs []domain.Job) error
}

// FileSnapshotter stores the queue as a JSON array in a directory.
type FileSnapshotter struct {
	path string
}

// NewFileSnapshotter creates the directory if needed.
func NewFileSnapshotter(dir string) (*FileSnapshotter, error) {
	if dir == "" {
		return nil, errors.New("snapshot directory is required")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create snapshot directory: %w", err)
	}
	return &FileSnapshotter{path: filepath.Join(dir, SnapshotFileName)}, nil
}

// Load reads the snapshot. A missing file is an empty queue.
func (f *FileSnapshotter) Load(_ context.Context) ([]domain.Job, error) {
	data, err := os.ReadFile(f.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read snapshot: %w", err)
	}
	return decodeJobs(data)
}

// Save replaces the snapshot atomically.
func (f *FileSnapshotter) Save(_ context.Context, jobs []domain.Job) error {
	data, err := encodeJobs(jobs)
	if err != nil {
		return err
	}
	tmp := f.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("failed to write snapshot: %w", err)
	}
	if err := os.Rename(tmp, f.path); err != nil {
		return fmt.Errorf("failed to replace snapshot: %w", err)
	}
	return nil
}

// KV is the key-value subset of the Redis client.
type KV interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte) error
}

// RedisSnapshotter stores the queue under SnapshotKey.
type RedisSnapshotter struct {
	kv KV
}

// NewRedisSnapshotter wraps a Redis client.
func NewRedisSnapshotter(kv KV) *RedisSnapshotter {
	return &RedisSnapshotter{kv: kv}
}

// Load reads the snapshot. A missing key is an empty queue.
func (r *RedisSnapshotter) Load(ctx context.Context) ([]domain.Job, error) {
	data, err := r.kv.Get(ctx, SnapshotKey)
	if err != nil {
		if errors.Is(err, redis.ErrNil) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to load snapshot: %w", err)
	}
	return decodeJobs(data)
}

// Save overwrites the snapshot key.
func (r *RedisSnapshotter) Save(ctx context.Context, jobs []domain.Job) error {
	data, err := encodeJobs(jobs)
	if err != nil {
		return err
	}
	return r.kv.Set(ctx, SnapshotKey, data)
}

func encodeJobs(jobs []domain.Job) ([]byte, error) {
	if jobs == nil {
		jobs = []domain.Job{}
	}
	data, err := json.Marshal(jobs)
	if err != nil {
		return nil, fmt.Errorf("failed to encode snapshot: %w", err)
	}
	return data, nil
}

func decodeJobs(data []byte) ([]domain.Job, error) {
	if len(data) == 0 {
		return nil, nil
	}
	var jobs []domain.Job
	if err := json.Unmarshal(data, &jobs); err != nil {
		return nil, fmt.Errorf("failed to decode snapshot: %w", err)
	}
	return jobs, nil
}
