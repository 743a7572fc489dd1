package actions_test

import (
	"context"
	"errors"
	"testing"

	"taxwire/internal/acks"
	"taxwire/internal/actions"
	"taxwire/internal/batchstore"
	"taxwire/internal/config"
	"taxwire/internal/filing"
	"taxwire/internal/inflight"
	"taxwire/internal/logging"
	"taxwire/internal/metrics"
	"taxwire/internal/notifications"
	"taxwire/internal/objectstore"
	"taxwire/internal/testsupport"
)

type scriptedClient struct {
	loginErr  error
	logoutErr error
	submitErr error
	logins    int
	logouts   int
	bundles   []*filing.Bundle
}

func (c *scriptedClient) Login(context.Context) error {
	c.logins++
	return c.loginErr
}

func (c *scriptedClient) Logout(context.Context) error {
	c.logouts++
	return c.logoutErr
}

func (c *scriptedClient) Submit(_ context.Context, bundle *filing.Bundle) (*filing.SubmitResult, error) {
	if c.submitErr != nil {
		return nil, c.submitErr
	}
	c.bundles = append(c.bundles, bundle)
	receipts := make(map[string]string, len(bundle.SubmissionIDs))
	for _, id := range bundle.SubmissionIDs {
		receipts[id] = "RCPT-" + id
	}
	return &filing.SubmitResult{Receipts: receipts}, nil
}

func (c *scriptedClient) Acknowledgements(context.Context, []string) ([]filing.Acknowledgement, error) {
	return nil, nil
}

type handlerHarness struct {
	queue    *actions.Queue
	store    *batchstore.Store
	ackStore *acks.Store
	client   *scriptedClient
	gate     *filing.OfflineGate
	inflight *inflight.Set
	handler  *actions.Handler
}

func newHandlerHarness(t *testing.T) *handlerHarness {
	t.Helper()
	cfg := testsupport.NewConfig(t)
	return newHandlerHarnessOver(t, cfg, testsupport.MustOpenObjectStore(t, cfg))
}

func newHandlerHarnessOver(t *testing.T, cfg *config.Config, objects objectstore.Store) *handlerHarness {
	t.Helper()
	store := batchstore.New(objects, cfg.Batching.ApplicationID, logging.NewNop())
	ackStore := testsupport.MustOpenAckStore(t, cfg)
	queue := actions.NewQueue()
	client := &scriptedClient{}
	gate := filing.NewOfflineGate()
	inProgress := inflight.NewSet()

	handler := actions.NewHandler(actions.HandlerDeps{
		Queue:    queue,
		Store:    store,
		AckStore: ackStore,
		Client:   client,
		Gate:     gate,
		Inflight: inProgress,
		Notifier: notifications.NewService(cfg),
		Metrics:  metrics.New(),
		Logger:   logging.NewNop(),
		PodID:    cfg.Acknowledgements.PodID,
	})

	return &handlerHarness{
		queue:    queue,
		store:    store,
		ackStore: ackStore,
		client:   client,
		gate:     gate,
		inflight: inProgress,
		handler:  handler,
	}
}

func (h *handlerHarness) seedBatch(t *testing.T, submissionIDs ...string) batchstore.Batch {
	t.Helper()
	ctx := context.Background()
	batch, err := h.store.Allocate(ctx, 2025)
	if err != nil {
		t.Fatalf("allocate batch: %v", err)
	}
	for _, id := range submissionIDs {
		if err := h.store.Append(ctx, batch, testsupport.NewSubmission(t, id)); err != nil {
			t.Fatalf("append submission: %v", err)
		}
	}
	h.inflight.Add(batch.Key())
	return batch
}

// drain handles queued actions until the queue is empty.
func (h *handlerHarness) drain(t *testing.T) {
	t.Helper()
	for {
		stats := h.queue.Stats()
		if stats.Pending == 0 {
			return
		}
		ctx, cancel := context.WithCancel(context.Background())
		action, token, err := h.queue.Take(ctx)
		cancel()
		if err != nil {
			t.Fatalf("take: %v", err)
		}
		h.handler.Handle(context.Background(), action)
		h.queue.Done(token)
	}
}

func TestPipelineTransmitsAndCleansUpBatch(t *testing.T) {
	h := newHandlerHarness(t)
	ctx := context.Background()
	batch := h.seedBatch(t, "sub-1", "sub-2")

	h.queue.Enqueue(actions.NewCreateArchive(batch))
	h.drain(t)

	if len(h.client.bundles) != 1 {
		t.Fatalf("expected one transmitted bundle, got %d", len(h.client.bundles))
	}
	if got := len(h.client.bundles[0].SubmissionIDs); got != 2 {
		t.Fatalf("expected 2 submissions in bundle, got %d", got)
	}
	if h.client.logins != 1 || h.client.logouts != 1 {
		t.Fatalf("expected login/logout pair, got %d/%d", h.client.logins, h.client.logouts)
	}

	ids, err := h.store.SubmissionIDs(ctx, batch)
	if err != nil {
		t.Fatalf("list batch: %v", err)
	}
	if len(ids) != 0 {
		t.Fatalf("expected batch storage deleted, found %v", ids)
	}
	if h.inflight.Contains(batch.Key()) {
		t.Fatal("batch must leave the in-progress set after cleanup")
	}

	pending, err := h.ackStore.Pending(ctx, "test-pod")
	if err != nil {
		t.Fatalf("load pending acks: %v", err)
	}
	if len(pending) != 2 {
		t.Fatalf("expected 2 pending acknowledgements, got %d", len(pending))
	}
}

func TestSubmitFailureDemotesMultiSubmissionBatch(t *testing.T) {
	h := newHandlerHarness(t)
	h.client.submitErr = filing.Wrap(filing.ErrTransient, "filing", "submit", "gateway timeout", nil)
	ctx := context.Background()
	batch := h.seedBatch(t, "sub-a", "sub-b")

	h.queue.Enqueue(actions.NewCreateArchive(batch))

	// Walk the pipeline one action at a time so the intermediate
	// SubmissionFailure action is observable.
	for _, want := range []actions.Kind{
		actions.KindCreateArchive,
		actions.KindBundleArchives,
		actions.KindSubmitBundle,
	} {
		action, token, err := h.queue.Take(ctx)
		if err != nil {
			t.Fatalf("take: %v", err)
		}
		if action.Kind != want {
			t.Fatalf("expected %s, got %s", want, action.Kind)
		}
		h.handler.Handle(ctx, action)
		h.queue.Done(token)
	}

	action, token, err := h.queue.Take(ctx)
	if err != nil {
		t.Fatalf("take: %v", err)
	}
	if action.Kind != actions.KindSubmissionFailure {
		t.Fatalf("expected submission failure after failed submit, got %s", action.Kind)
	}
	h.handler.Handle(ctx, action)
	h.queue.Done(token)

	errorBatches, err := h.store.ErrorBatches(ctx, 2025)
	if err != nil {
		t.Fatalf("list error batches: %v", err)
	}
	if len(errorBatches) != 2 {
		t.Fatalf("expected 2 single-submission error batches, got %d", len(errorBatches))
	}
	for _, eb := range errorBatches {
		ids, err := h.store.SubmissionIDs(ctx, eb)
		if err != nil {
			t.Fatalf("list error batch: %v", err)
		}
		if len(ids) != 1 {
			t.Fatalf("error batch %s has %d submissions", eb, len(ids))
		}
	}

	ids, err := h.store.SubmissionIDs(ctx, batch)
	if err != nil {
		t.Fatalf("list original batch: %v", err)
	}
	if len(ids) != 0 {
		t.Fatalf("original batch must be deleted after demotion, found %v", ids)
	}
	if h.inflight.Contains(batch.Key()) {
		t.Fatal("demoted batch must leave the in-progress set")
	}
}

func TestSubmitFailureOnSingletonBatchIsTerminal(t *testing.T) {
	h := newHandlerHarness(t)
	h.client.submitErr = filing.Wrap(filing.ErrTransient, "filing", "submit", "gateway timeout", nil)
	ctx := context.Background()
	batch := h.seedBatch(t, "sub-solo")

	h.queue.Enqueue(actions.NewCreateArchive(batch))
	h.drain(t)

	errorBatches, err := h.store.ErrorBatches(ctx, 2025)
	if err != nil {
		t.Fatalf("list error batches: %v", err)
	}
	if len(errorBatches) != 0 {
		t.Fatalf("singleton batch must not be demoted, got %v", errorBatches)
	}

	ids, err := h.store.SubmissionIDs(ctx, batch)
	if err != nil {
		t.Fatalf("list batch: %v", err)
	}
	if len(ids) != 0 {
		t.Fatalf("terminally failed batch must be deleted, found %v", ids)
	}
	if h.inflight.Contains(batch.Key()) {
		t.Fatal("terminally failed batch must leave the in-progress set")
	}
}

func TestLoginFailureEnablesOfflineModeAndFailsBatch(t *testing.T) {
	h := newHandlerHarness(t)
	h.client.loginErr = filing.Wrap(filing.ErrTransient, "filing", "login", "connection refused", nil)
	ctx := context.Background()
	batch := h.seedBatch(t, "sub-x", "sub-y")

	h.queue.Enqueue(actions.NewCreateArchive(batch))
	h.drain(t)

	if !h.gate.Enabled() {
		t.Fatal("expected offline mode after login failure")
	}
	// The failed batch is still demoted so its submissions stay durable.
	errorBatches, err := h.store.ErrorBatches(ctx, 2025)
	if err != nil {
		t.Fatalf("list error batches: %v", err)
	}
	if len(errorBatches) != 2 {
		t.Fatalf("expected 2 error batches after login failure, got %d", len(errorBatches))
	}
}

func TestSuccessfulLoginClearsOfflineMode(t *testing.T) {
	h := newHandlerHarness(t)
	h.gate.Enable()
	batch := h.seedBatch(t, "sub-1")

	h.queue.Enqueue(actions.NewCreateArchive(batch))
	h.drain(t)

	if h.gate.Enabled() {
		t.Fatal("expected offline mode cleared by successful login")
	}
}

func TestCreateArchiveDiscardsEmptyBatch(t *testing.T) {
	h := newHandlerHarness(t)
	ctx := context.Background()
	batch, err := h.store.Allocate(ctx, 2025)
	if err != nil {
		t.Fatalf("allocate: %v", err)
	}
	h.inflight.Add(batch.Key())

	h.handler.Handle(ctx, actions.NewCreateArchive(batch))

	if stats := h.queue.Stats(); stats.Pending != 0 {
		t.Fatalf("empty batch must not advance, queue has %d pending", stats.Pending)
	}
	if h.inflight.Contains(batch.Key()) {
		t.Fatal("empty batch must leave the in-progress set")
	}
}

func TestLogoutFailureEnablesOfflineModeButKeepsResult(t *testing.T) {
	h := newHandlerHarness(t)
	h.client.logoutErr = filing.Wrap(filing.ErrTransient, "filing", "logout", "connection reset", nil)
	ctx := context.Background()
	batch := h.seedBatch(t, "sub-1")

	h.queue.Enqueue(actions.NewCreateArchive(batch))
	h.drain(t)

	if !h.gate.Enabled() {
		t.Fatal("expected offline mode after logout failure")
	}
	// The bundle went out before logout, so cleanup still runs.
	ids, err := h.store.SubmissionIDs(ctx, batch)
	if err != nil {
		t.Fatalf("list batch: %v", err)
	}
	if len(ids) != 0 {
		t.Fatalf("transmitted batch must be cleaned up, found %v", ids)
	}
}

func TestFailureActionCarriesCause(t *testing.T) {
	h := newHandlerHarness(t)
	cause := filing.Wrap(filing.ErrTransient, "filing", "submit", "gateway timeout", nil)
	h.client.submitErr = cause
	ctx := context.Background()
	batch := h.seedBatch(t, "sub-a", "sub-b")

	h.handler.Handle(ctx, actions.NewCreateArchive(batch))
	for i := 0; i < 2; i++ {
		action, token, err := h.queue.Take(ctx)
		if err != nil {
			t.Fatalf("take: %v", err)
		}
		h.handler.Handle(ctx, action)
		h.queue.Done(token)
	}

	action, _, err := h.queue.Take(ctx)
	if err != nil {
		t.Fatalf("take: %v", err)
	}
	if action.Kind != actions.KindSubmissionFailure {
		t.Fatalf("expected submission failure, got %s", action.Kind)
	}
	if !errors.Is(action.Cause, filing.ErrTransient) {
		t.Fatalf("expected transient cause, got %v", action.Cause)
	}
}

// brokenDeleteStore fails every prefix delete while leaving reads and
// writes intact, standing in for storage that degrades mid-pipeline.
type brokenDeleteStore struct {
	objectstore.Store
	deletes int
}

func (s *brokenDeleteStore) DeletePrefix(context.Context, string) error {
	s.deletes++
	return errors.New("storage unavailable")
}

func TestCleanupDeleteFailureReleasesInFlight(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	objects := &brokenDeleteStore{Store: testsupport.MustOpenObjectStore(t, cfg)}
	h := newHandlerHarnessOver(t, cfg, objects)
	ctx := context.Background()
	batch := h.seedBatch(t, "sub-1")

	h.handler.Handle(ctx, actions.NewCleanup(batch, map[string]string{"sub-1": "RCPT-sub-1"}))

	if objects.deletes == 0 {
		t.Fatal("cleanup never attempted the delete")
	}
	if h.inflight.Contains(batch.Key()) {
		t.Fatal("failed cleanup must release the in-flight entry so the old-batch scan can retry")
	}
	ids, err := h.store.SubmissionIDs(ctx, batch)
	if err != nil {
		t.Fatalf("list batch: %v", err)
	}
	if len(ids) != 1 {
		t.Fatalf("batch must survive the failed delete, got %v", ids)
	}
}

func TestEmptyBatchDiscardFailureReleasesInFlight(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	objects := &brokenDeleteStore{Store: testsupport.MustOpenObjectStore(t, cfg)}
	h := newHandlerHarnessOver(t, cfg, objects)
	ctx := context.Background()
	batch := h.seedBatch(t)

	h.handler.Handle(ctx, actions.NewCreateArchive(batch))

	if h.inflight.Contains(batch.Key()) {
		t.Fatal("failed discard must release the in-flight entry")
	}
	if stats := h.queue.Stats(); stats.Pending != 0 {
		t.Fatalf("empty batch must not advance through the pipeline, queue has %d", stats.Pending)
	}
}
