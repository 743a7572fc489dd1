package batcher

import (
	"context"
	"testing"
	"time"

	"taxwire/internal/actions"
	"taxwire/internal/batchstore"
	"taxwire/internal/filing"
	"taxwire/internal/inflight"
	"taxwire/internal/logging"
	"taxwire/internal/metrics"
	"taxwire/internal/testsupport"
)

type assemblerHarness struct {
	assembler *Assembler
	processor *Processor
	queue     *actions.Queue
	store     *batchstore.Store
	gate      *filing.OfflineGate
	inflight  *inflight.Set
	clock     *fakeClock
}

type fakeClock struct {
	current time.Time
}

func (c *fakeClock) now() time.Time {
	return c.current
}

func (c *fakeClock) advance(d time.Duration) {
	c.current = c.current.Add(d)
}

func newAssemblerHarness(t *testing.T, maxSize, timeoutSeconds int) *assemblerHarness {
	t.Helper()
	cfg := testsupport.NewConfig(t,
		testsupport.WithMaxBatchSize(maxSize),
		testsupport.WithBatchTimeout(timeoutSeconds),
	)
	store := testsupport.MustOpenBatchStore(t, cfg)
	queue := actions.NewQueue()
	gate := filing.NewOfflineGate()
	inProgress := inflight.NewSet()
	processor := NewProcessor(store, queue, gate, inProgress, logging.NewNop())
	assembler := NewAssembler(cfg, store, processor, metrics.New(), logging.NewNop())

	clock := &fakeClock{current: time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)}
	assembler.now = clock.now

	return &assemblerHarness{
		assembler: assembler,
		processor: processor,
		queue:     queue,
		store:     store,
		gate:      gate,
		inflight:  inProgress,
		clock:     clock,
	}
}

func TestWritingBatchIDStableBelowThresholds(t *testing.T) {
	h := newAssemblerHarness(t, 5, 300)
	ctx := context.Background()

	first, err := h.assembler.AddSubmission(ctx, testsupport.NewSubmission(t, ""))
	if err != nil {
		t.Fatalf("add: %v", err)
	}
	for i := 0; i < 3; i++ {
		batch, err := h.assembler.AddSubmission(ctx, testsupport.NewSubmission(t, ""))
		if err != nil {
			t.Fatalf("add: %v", err)
		}
		if batch.ID != first.ID {
			t.Fatalf("writing batch id changed below thresholds: %d != %d", batch.ID, first.ID)
		}
	}
	if stats := h.queue.Stats(); stats.Pending != 0 {
		t.Fatalf("no dispatch expected below thresholds, queue has %d", stats.Pending)
	}
}

func TestSizeThresholdDispatchesOnceWithAllSubmissions(t *testing.T) {
	h := newAssemblerHarness(t, 3, 300)
	ctx := context.Background()

	batch, err := h.assembler.AddSubmission(ctx, testsupport.NewSubmission(t, "sub-1"))
	if err != nil {
		t.Fatalf("add: %v", err)
	}
	if stats := h.queue.Stats(); stats.Pending != 0 {
		t.Fatal("one submission must not trigger dispatch")
	}

	for _, id := range []string{"sub-2", "sub-3"} {
		if _, err := h.assembler.AddSubmission(ctx, testsupport.NewSubmission(t, id)); err != nil {
			t.Fatalf("add: %v", err)
		}
	}

	if stats := h.queue.Stats(); stats.Pending != 1 {
		t.Fatalf("expected exactly one dispatch, queue has %d", stats.Pending)
	}
	action, token, err := h.queue.Take(ctx)
	if err != nil {
		t.Fatalf("take: %v", err)
	}
	h.queue.Done(token)
	if action.Kind != actions.KindCreateArchive {
		t.Fatalf("expected create archive, got %s", action.Kind)
	}
	ids, err := h.store.SubmissionIDs(ctx, action.Batch)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(ids) != 3 {
		t.Fatalf("dispatched batch should hold all 3 submissions, got %v", ids)
	}
	if action.Batch.ID != batch.ID {
		t.Fatalf("dispatched wrong batch: %d != %d", action.Batch.ID, batch.ID)
	}
}

func TestNextBatchIDIsStrictlyGreaterAfterDispatch(t *testing.T) {
	h := newAssemblerHarness(t, 2, 300)
	ctx := context.Background()

	first, err := h.assembler.AddSubmission(ctx, testsupport.NewSubmission(t, ""))
	if err != nil {
		t.Fatalf("add: %v", err)
	}
	if _, err := h.assembler.AddSubmission(ctx, testsupport.NewSubmission(t, "")); err != nil {
		t.Fatalf("add: %v", err)
	}

	next, err := h.assembler.AddSubmission(ctx, testsupport.NewSubmission(t, ""))
	if err != nil {
		t.Fatalf("add: %v", err)
	}
	if next.ID <= first.ID {
		t.Fatalf("expected strictly greater batch id, got %d after %d", next.ID, first.ID)
	}
}

func TestTimeoutForcesDispatchOfPartialBatch(t *testing.T) {
	h := newAssemblerHarness(t, 10, 300)
	ctx := context.Background()

	if _, err := h.assembler.AddSubmission(ctx, testsupport.NewSubmission(t, "")); err != nil {
		t.Fatalf("add: %v", err)
	}

	h.assembler.CheckTimeout(ctx)
	if stats := h.queue.Stats(); stats.Pending != 0 {
		t.Fatal("batch younger than the timeout must not be dispatched")
	}

	h.clock.advance(301 * time.Second)
	h.assembler.CheckTimeout(ctx)
	if stats := h.queue.Stats(); stats.Pending != 1 {
		t.Fatalf("expected forced dispatch after timeout, queue has %d", h.queue.Stats().Pending)
	}

	// Nothing is accumulating anymore, so further ticks are no-ops.
	h.assembler.CheckTimeout(ctx)
	if stats := h.queue.Stats(); stats.Pending != 1 {
		t.Fatalf("idle tick must not dispatch again, queue has %d", stats.Pending)
	}
}

func TestOverdueAppendRotatesBatchWithoutTick(t *testing.T) {
	h := newAssemblerHarness(t, 10, 300)
	ctx := context.Background()

	first, err := h.assembler.AddSubmission(ctx, testsupport.NewSubmission(t, "sub-1"))
	if err != nil {
		t.Fatalf("add: %v", err)
	}

	// The age budget elapses with no timeout tick in between; the next
	// append must not land in the overdue batch.
	h.clock.advance(301 * time.Second)
	next, err := h.assembler.AddSubmission(ctx, testsupport.NewSubmission(t, "sub-2"))
	if err != nil {
		t.Fatalf("add: %v", err)
	}
	if next.ID <= first.ID {
		t.Fatalf("expected a fresh batch for the late append, got %d after %d", next.ID, first.ID)
	}

	if stats := h.queue.Stats(); stats.Pending != 1 {
		t.Fatalf("expected the overdue batch dispatched, queue has %d", stats.Pending)
	}
	action, token, err := h.queue.Take(ctx)
	if err != nil {
		t.Fatalf("take: %v", err)
	}
	h.queue.Done(token)
	if action.Batch.ID != first.ID {
		t.Fatalf("dispatched wrong batch: %d != %d", action.Batch.ID, first.ID)
	}
	ids, err := h.store.SubmissionIDs(ctx, action.Batch)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(ids) != 1 || ids[0] != "sub-1" {
		t.Fatalf("overdue batch should hold only the earlier submission, got %v", ids)
	}
}

func TestOfflineModeSuspendsDispatchButKeepsStorage(t *testing.T) {
	h := newAssemblerHarness(t, 2, 300)
	ctx := context.Background()
	h.gate.Enable()

	batch, err := h.assembler.AddSubmission(ctx, testsupport.NewSubmission(t, "sub-1"))
	if err != nil {
		t.Fatalf("add: %v", err)
	}
	if _, err := h.assembler.AddSubmission(ctx, testsupport.NewSubmission(t, "sub-2")); err != nil {
		t.Fatalf("add: %v", err)
	}

	if stats := h.queue.Stats(); stats.Pending != 0 {
		t.Fatal("offline pipeline must not dispatch")
	}
	ids, err := h.store.SubmissionIDs(ctx, batch)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(ids) != 2 {
		t.Fatalf("submissions must stay durably stored while offline, got %v", ids)
	}
	if h.inflight.Contains(batch.Key()) {
		t.Fatal("offline batch must not enter the in-progress set")
	}

	// Once the gate clears, the old batch scan picks the batch up.
	h.gate.Clear()
	if err := h.processor.ProcessOldBatches(ctx, batch.ControlYear, h.assembler.CurrentBatchID()); err != nil {
		t.Fatalf("process old batches: %v", err)
	}
	if stats := h.queue.Stats(); stats.Pending != 1 {
		t.Fatalf("expected offline backlog dispatched, queue has %d", stats.Pending)
	}
}

func TestProcessOldBatchesExcludesWritingBatch(t *testing.T) {
	h := newAssemblerHarness(t, 10, 300)
	ctx := context.Background()

	// Two full historical batches plus an open writing batch.
	for i := 0; i < 2; i++ {
		old, err := h.store.Allocate(ctx, batchstore.ControlYear(h.clock.now()))
		if err != nil {
			t.Fatalf("allocate: %v", err)
		}
		if err := h.store.Append(ctx, old, testsupport.NewSubmission(t, "")); err != nil {
			t.Fatalf("append: %v", err)
		}
	}
	writing, err := h.assembler.AddSubmission(ctx, testsupport.NewSubmission(t, ""))
	if err != nil {
		t.Fatalf("add: %v", err)
	}

	if err := h.processor.ProcessOldBatches(ctx, writing.ControlYear, h.assembler.CurrentBatchID()); err != nil {
		t.Fatalf("process old batches: %v", err)
	}

	if stats := h.queue.Stats(); stats.Pending != 2 {
		t.Fatalf("expected 2 recovered batches, queue has %d", stats.Pending)
	}
	if h.inflight.Contains(writing.Key()) {
		t.Fatal("writing batch must never be recovered while still accepting")
	}
}
