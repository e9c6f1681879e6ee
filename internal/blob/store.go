package blob

import (
	"context"
	"errors"
)

// ErrNotFound is returned when no blob exists under a key
var ErrNotFound = errors.New("blob not found")

// Store keeps job input files so queued jobs survive a restart.
type Store interface {
	Put(ctx context.Context, key string, data []byte, contentType string) error
	Get(ctx context.Context, key string) ([]byte, error)
	Delete(ctx context.Context, key string) error
}
