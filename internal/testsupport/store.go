package testsupport

import (
	"context"
	"testing"

	"taxwire/internal/acks"
	"taxwire/internal/batchstore"
	"taxwire/internal/config"
	"taxwire/internal/logging"
	"taxwire/internal/objectstore"
)

// MustOpenObjectStore opens the configured object store and registers
// cleanup with the test.
func MustOpenObjectStore(t testing.TB, cfg *config.Config) objectstore.Store {
	t.Helper()
	store, err := objectstore.Open(context.Background(), cfg)
	if err != nil {
		t.Fatalf("open object store: %v", err)
	}
	return store
}

// MustOpenBatchStore opens a batch store over a fresh object store.
func MustOpenBatchStore(t testing.TB, cfg *config.Config) *batchstore.Store {
	t.Helper()
	objects := MustOpenObjectStore(t, cfg)
	return batchstore.New(objects, cfg.Batching.ApplicationID, logging.NewNop())
}

// MustOpenAckStore opens the acknowledgement database in the test's temp
// data dir and registers cleanup with the test.
func MustOpenAckStore(t testing.TB, cfg *config.Config) *acks.Store {
	t.Helper()
	store, err := acks.Open(cfg)
	if err != nil {
		t.Fatalf("open ack store: %v", err)
	}
	t.Cleanup(func() {
		_ = store.Close()
	})
	return store
}
