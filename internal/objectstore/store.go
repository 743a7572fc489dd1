// Package objectstore abstracts the durable object storage holding
// pre-submission batches. Keys are slash-separated paths; listing supports
// prefix enumeration and immediate "sub-folder" enumeration, which the batch
// store uses to derive batch membership.
package objectstore

import (
	"context"
	"errors"
	"fmt"

	"taxwire/internal/config"
)

// ErrNotFound is returned when a requested object does not exist.
var ErrNotFound = errors.New("object not found")

// Store is the storage capability the batching pipeline depends on. Writes of
// a single object are atomic; PutIfAbsent additionally skips objects that
// already exist, which keeps error-batch copies idempotent.
type Store interface {
	Put(ctx context.Context, key string, data []byte) error
	PutIfAbsent(ctx context.Context, key string, data []byte) error
	Get(ctx context.Context, key string) ([]byte, error)
	Delete(ctx context.Context, key string) error
	// DeletePrefix removes every object whose key starts with prefix.
	DeletePrefix(ctx context.Context, prefix string) error
	// List returns all object keys under prefix.
	List(ctx context.Context, prefix string) ([]string, error)
	// ListDirs returns the immediate sub-folder names under prefix,
	// without trailing separators, in lexical order.
	ListDirs(ctx context.Context, prefix string) ([]string, error)
}

// Open builds the store selected by the configuration.
func Open(ctx context.Context, cfg *config.Config) (Store, error) {
	switch cfg.Storage.Backend {
	case config.BackendFS:
		return NewFS(cfg.Storage.Root)
	case config.BackendGCS:
		return NewGCS(ctx, cfg.Storage.GCSBucket)
	default:
		return nil, fmt.Errorf("storage backend %q is not supported", cfg.Storage.Backend)
	}
}
