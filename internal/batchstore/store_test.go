package batchstore_test

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"taxwire/internal/batchstore"
	"taxwire/internal/submission"
	"taxwire/internal/testsupport"
)

func TestAllocateIsMonotonicWithoutGapFilling(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenBatchStore(t, cfg)
	ctx := context.Background()

	first, err := store.Allocate(ctx, 2025)
	if err != nil {
		t.Fatalf("allocate: %v", err)
	}
	if first.ID != 1 {
		t.Fatalf("expected first batch id 1, got %d", first.ID)
	}
	if err := store.Append(ctx, first, testsupport.NewSubmission(t, "sub-1")); err != nil {
		t.Fatalf("append: %v", err)
	}

	second, err := store.Allocate(ctx, 2025)
	if err != nil {
		t.Fatalf("allocate: %v", err)
	}
	if second.ID != 2 {
		t.Fatalf("expected batch id 2, got %d", second.ID)
	}
	if err := store.Append(ctx, second, testsupport.NewSubmission(t, "sub-2")); err != nil {
		t.Fatalf("append: %v", err)
	}

	// Deleting batch 1 leaves a gap that is never reused.
	if err := store.Delete(ctx, first); err != nil {
		t.Fatalf("delete: %v", err)
	}
	third, err := store.Allocate(ctx, 2025)
	if err != nil {
		t.Fatalf("allocate: %v", err)
	}
	if third.ID != 3 {
		t.Fatalf("expected batch id 3 after gap, got %d", third.ID)
	}
}

func TestAllocateNeverReusesIDOfCleanedUpNewestBatch(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenBatchStore(t, cfg)
	ctx := context.Background()

	// Normal lifecycle: the batch fills, dispatches, and cleanup
	// deletes it before the next allocation happens.
	batch, err := store.Allocate(ctx, 2025)
	if err != nil {
		t.Fatalf("allocate: %v", err)
	}
	if batch.ID != 1 {
		t.Fatalf("expected batch id 1, got %d", batch.ID)
	}
	if err := store.Append(ctx, batch, testsupport.NewSubmission(t, "sub-1")); err != nil {
		t.Fatalf("append: %v", err)
	}
	if err := store.Delete(ctx, batch); err != nil {
		t.Fatalf("delete: %v", err)
	}

	next, err := store.Allocate(ctx, 2025)
	if err != nil {
		t.Fatalf("allocate: %v", err)
	}
	if next.ID != 2 {
		t.Fatalf("expected batch id 2 after cleanup of batch 1, got %d", next.ID)
	}

	max, err := store.MaxBatchID(ctx, 2025)
	if err != nil {
		t.Fatalf("max batch id: %v", err)
	}
	if max != 2 {
		t.Fatalf("high-water mark must survive deletion, got %d", max)
	}
}

func TestAllocateHighWaterMarkSurvivesStoreReopen(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenBatchStore(t, cfg)
	ctx := context.Background()

	batch, err := store.Allocate(ctx, 2025)
	if err != nil {
		t.Fatalf("allocate: %v", err)
	}
	if err := store.Append(ctx, batch, testsupport.NewSubmission(t, "sub-1")); err != nil {
		t.Fatalf("append: %v", err)
	}
	if err := store.Delete(ctx, batch); err != nil {
		t.Fatalf("delete: %v", err)
	}

	reopened := testsupport.MustOpenBatchStore(t, cfg)
	next, err := reopened.Allocate(ctx, 2025)
	if err != nil {
		t.Fatalf("allocate after reopen: %v", err)
	}
	if next.ID != 2 {
		t.Fatalf("expected batch id 2 after restart, got %d", next.ID)
	}
}

func TestAllocateIsScopedToControlYear(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenBatchStore(t, cfg)
	ctx := context.Background()

	batch2025, err := store.Allocate(ctx, 2025)
	if err != nil {
		t.Fatalf("allocate: %v", err)
	}
	if err := store.Append(ctx, batch2025, testsupport.NewSubmission(t, "sub-1")); err != nil {
		t.Fatalf("append: %v", err)
	}

	batch2026, err := store.Allocate(ctx, 2026)
	if err != nil {
		t.Fatalf("allocate: %v", err)
	}
	if batch2026.ID != 1 {
		t.Fatalf("control years must count independently, got %d", batch2026.ID)
	}
}

func TestAppendReadRoundTrip(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenBatchStore(t, cfg)
	ctx := context.Background()

	batch, err := store.Allocate(ctx, 2025)
	if err != nil {
		t.Fatalf("allocate: %v", err)
	}
	sub := testsupport.NewSubmission(t, "sub-rt")
	if err := store.Append(ctx, batch, sub); err != nil {
		t.Fatalf("append: %v", err)
	}

	got, err := store.Read(ctx, batch, "sub-rt")
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if !bytes.Equal(got.Manifest, sub.Manifest) || !bytes.Equal(got.Body, sub.Body) || !bytes.Equal(got.Context, sub.Context) {
		t.Fatal("payload blobs must round-trip unchanged")
	}
}

func TestReadReportsIncompleteSubmission(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	objects := testsupport.MustOpenObjectStore(t, cfg)
	store := testsupport.MustOpenBatchStore(t, cfg)
	ctx := context.Background()

	batch, err := store.Allocate(ctx, 2025)
	if err != nil {
		t.Fatalf("allocate: %v", err)
	}
	sub := testsupport.NewSubmission(t, "sub-torn")
	// Only two of the three blobs exist, as after a torn write.
	if err := objects.Put(ctx, batch.Prefix()+"/sub-torn/"+submission.ManifestObject, sub.Manifest); err != nil {
		t.Fatalf("put: %v", err)
	}
	if err := objects.Put(ctx, batch.Prefix()+"/sub-torn/"+submission.BodyObject, sub.Body); err != nil {
		t.Fatalf("put: %v", err)
	}

	_, err = store.Read(ctx, batch, "sub-torn")
	if !errors.Is(err, batchstore.ErrIncomplete) {
		t.Fatalf("expected ErrIncomplete, got %v", err)
	}
}

func TestUnprocessedBatchesExcludesCurrentAndSorts(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenBatchStore(t, cfg)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		batch, err := store.Allocate(ctx, 2025)
		if err != nil {
			t.Fatalf("allocate: %v", err)
		}
		if err := store.Append(ctx, batch, testsupport.NewSubmission(t, "")); err != nil {
			t.Fatalf("append: %v", err)
		}
	}

	unprocessed, err := store.UnprocessedBatches(ctx, 2025, 3)
	if err != nil {
		t.Fatalf("unprocessed: %v", err)
	}
	if len(unprocessed) != 2 {
		t.Fatalf("expected 2 unprocessed batches, got %d", len(unprocessed))
	}
	if unprocessed[0].ID != 1 || unprocessed[1].ID != 2 {
		t.Fatalf("expected batches sorted by id, got %v", unprocessed)
	}
}

func TestCopyToErrorBatchIsIdempotent(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenBatchStore(t, cfg)
	ctx := context.Background()

	source := batchstore.NewBatch(store.ApplicationID(), 2025, 7)
	original := testsupport.NewSubmission(t, "sub-a")
	target, err := store.CopyToErrorBatch(ctx, source, 0, original)
	if err != nil {
		t.Fatalf("copy: %v", err)
	}

	// A second copy with different payload must not clobber the first.
	altered := testsupport.NewSubmission(t, "sub-a")
	altered.Manifest = []byte("<manifest altered/>")
	if _, err := store.CopyToErrorBatch(ctx, source, 0, altered); err != nil {
		t.Fatalf("re-copy: %v", err)
	}

	got, err := store.Read(ctx, target, "sub-a")
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if !bytes.Equal(got.Manifest, original.Manifest) {
		t.Fatal("first copy must win on repeated demotion")
	}
}

func TestErrorBatchesAreOrderedByBatchThenIndex(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenBatchStore(t, cfg)
	ctx := context.Background()

	source9 := batchstore.NewBatch(store.ApplicationID(), 2025, 9)
	source4 := batchstore.NewBatch(store.ApplicationID(), 2025, 4)
	if _, err := store.CopyToErrorBatch(ctx, source9, 0, testsupport.NewSubmission(t, "sub-c")); err != nil {
		t.Fatalf("copy: %v", err)
	}
	if _, err := store.CopyToErrorBatch(ctx, source4, 1, testsupport.NewSubmission(t, "sub-b")); err != nil {
		t.Fatalf("copy: %v", err)
	}
	if _, err := store.CopyToErrorBatch(ctx, source4, 0, testsupport.NewSubmission(t, "sub-a")); err != nil {
		t.Fatalf("copy: %v", err)
	}

	batches, err := store.ErrorBatches(ctx, 2025)
	if err != nil {
		t.Fatalf("error batches: %v", err)
	}
	if len(batches) != 3 {
		t.Fatalf("expected 3 error batches, got %d", len(batches))
	}
	want := []struct{ id, index int64 }{{4, 0}, {4, 1}, {9, 0}}
	for i, w := range want {
		if batches[i].ID != w.id || batches[i].ErrorIndex != w.index {
			t.Fatalf("position %d: expected %d/%d, got %d/%d", i, w.id, w.index, batches[i].ID, batches[i].ErrorIndex)
		}
	}
}

func TestDeleteRemovesEveryObjectOfBatch(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenBatchStore(t, cfg)
	ctx := context.Background()

	batch, err := store.Allocate(ctx, 2025)
	if err != nil {
		t.Fatalf("allocate: %v", err)
	}
	for _, id := range []string{"sub-1", "sub-2"} {
		if err := store.Append(ctx, batch, testsupport.NewSubmission(t, id)); err != nil {
			t.Fatalf("append: %v", err)
		}
	}

	if err := store.Delete(ctx, batch); err != nil {
		t.Fatalf("delete: %v", err)
	}
	ids, err := store.SubmissionIDs(ctx, batch)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(ids) != 0 {
		t.Fatalf("expected empty batch after delete, got %v", ids)
	}
}
