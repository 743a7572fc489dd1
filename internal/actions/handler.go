package actions

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"taxwire/internal/acks"
	"taxwire/internal/batchstore"
	"taxwire/internal/filing"
	"taxwire/internal/inflight"
	"taxwire/internal/logging"
	"taxwire/internal/metrics"
	"taxwire/internal/notifications"
)

// Handler executes one action per invocation and enqueues the next
// action(s) or a failure action. Concurrency comes from running several
// handlers against the shared queue, never from fan-out inside one
// action.
type Handler struct {
	queue    *Queue
	store    *batchstore.Store
	ackStore *acks.Store
	client   filing.Client
	gate     *filing.OfflineGate
	inflight *inflight.Set
	demoter  *Demoter
	notifier notifications.Service
	metrics  *metrics.Metrics
	logger   *slog.Logger
	podID    string
}

// HandlerDeps bundles the collaborators a handler needs.
type HandlerDeps struct {
	Queue    *Queue
	Store    *batchstore.Store
	AckStore *acks.Store
	Client   filing.Client
	Gate     *filing.OfflineGate
	Inflight *inflight.Set
	Notifier notifications.Service
	Metrics  *metrics.Metrics
	Logger   *slog.Logger
	PodID    string
}

func NewHandler(deps HandlerDeps) *Handler {
	return &Handler{
		queue:    deps.Queue,
		store:    deps.Store,
		ackStore: deps.AckStore,
		client:   deps.Client,
		gate:     deps.Gate,
		inflight: deps.Inflight,
		demoter:  NewDemoter(deps.Store, deps.Logger),
		notifier: deps.Notifier,
		metrics:  deps.Metrics,
		logger:   logging.NewComponentLogger(deps.Logger, "action-handler"),
		podID:    deps.PodID,
	}
}

// Run drains the queue until the context ends. Intended to be launched
// once per configured worker.
func (h *Handler) Run(ctx context.Context) error {
	for {
		action, token, err := h.queue.Take(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return nil
			}
			return err
		}
		h.Handle(ctx, action)
		h.queue.Done(token)
	}
}

// Handle executes a single action's effect. Failures of pipeline stages
// are routed into SubmissionFailure actions rather than returned, so
// the worker loop never stalls on a bad batch.
func (h *Handler) Handle(ctx context.Context, action Action) {
	correlationID := uuid.NewString()
	actionLogger := h.logger.With(
		logging.String(logging.FieldCorrelationID, correlationID),
		logging.String(logging.FieldAction, string(action.Kind)),
		logging.String(logging.FieldBatch, action.Batch.String()),
	)

	start := time.Now()
	actionLogger.Info("action started",
		logging.String(logging.FieldEventType, "action_start"))

	var err error
	switch action.Kind {
	case KindCreateArchive:
		err = h.createArchive(ctx, actionLogger, action)
	case KindBundleArchives:
		err = h.bundleArchives(ctx, actionLogger, action)
	case KindSubmitBundle:
		err = h.submitBundle(ctx, actionLogger, action)
	case KindSubmissionFailure:
		err = h.submissionFailure(ctx, actionLogger, action)
	case KindCleanup:
		err = h.cleanup(ctx, actionLogger, action)
	default:
		err = fmt.Errorf("unknown action kind %q", action.Kind)
	}

	if err != nil {
		actionLogger.Error("action failed",
			logging.String(logging.FieldEventType, "action_failure"),
			logging.Duration("duration", time.Since(start)),
			logging.Error(err))
		return
	}
	actionLogger.Info("action completed",
		logging.String(logging.FieldEventType, "action_complete"),
		logging.Duration("duration", time.Since(start)))
}

// createArchive reads every submission under the batch and frames it
// for transmission. Submissions with missing payload blobs are skipped
// with a warning; they do not fail the batch.
func (h *Handler) createArchive(ctx context.Context, logger *slog.Logger, action Action) error {
	ids, err := h.store.SubmissionIDs(ctx, action.Batch)
	if err != nil {
		h.fail(logger, action.Batch, nil, fmt.Errorf("list batch submissions: %w", err))
		return nil
	}

	archives := make([]filing.Archive, 0, len(ids))
	for _, id := range ids {
		sub, err := h.store.Read(ctx, action.Batch, id)
		if errors.Is(err, batchstore.ErrIncomplete) {
			logger.Warn("skipping submission with missing payload blobs",
				logging.String(logging.FieldSubmissionID, id))
			continue
		}
		if err != nil {
			h.fail(logger, action.Batch, nil, fmt.Errorf("read submission %s: %w", id, err))
			return nil
		}
		archive, err := filing.BuildArchive(sub)
		if err != nil {
			h.fail(logger, action.Batch, nil, fmt.Errorf("build archive for %s: %w", id, err))
			return nil
		}
		archives = append(archives, archive)
	}

	if len(archives) == 0 {
		logger.Warn("batch has no transmittable submissions, discarding")
		// Release the in-flight entry even when the delete fails, so
		// the next old-batch scan can retry the discard.
		h.inflight.Remove(action.Batch.Key())
		if err := h.store.Delete(ctx, action.Batch); err != nil {
			return fmt.Errorf("delete empty batch: %w", err)
		}
		return nil
	}

	h.queue.Enqueue(NewBundleArchives(action.Batch, archives))
	return nil
}

func (h *Handler) bundleArchives(_ context.Context, logger *slog.Logger, action Action) error {
	bundle, err := filing.MergeArchives(action.Archives)
	if err != nil {
		h.fail(logger, action.Batch, nil, fmt.Errorf("merge archives: %w", err))
		return nil
	}
	h.queue.Enqueue(NewSubmitBundle(action.Batch, bundle))
	return nil
}

// submitBundle transmits the bundle inside a login/logout scope. Login
// and logout failures flip the offline gate; a successful login clears
// it.
func (h *Handler) submitBundle(ctx context.Context, logger *slog.Logger, action Action) error {
	if err := h.client.Login(ctx); err != nil {
		h.goOffline(ctx, logger, "login failed before bundle transmission")
		h.fail(logger, action.Batch, action.Bundle, fmt.Errorf("login: %w", err))
		return nil
	}
	if h.gate.Enabled() {
		h.gate.Clear()
		h.metrics.OfflineMode.Set(0)
		logger.Info("offline mode cleared after successful login")
		if err := h.notifier.NotifyOnline(ctx); err != nil {
			logger.Debug("notification failed", logging.Error(err))
		}
	}
	defer func() {
		if err := h.client.Logout(ctx); err != nil {
			h.goOffline(ctx, logger, "logout failed after bundle transmission")
			logger.Error("logout failed", logging.Error(err))
		}
	}()

	result, err := h.client.Submit(ctx, action.Bundle)
	if err != nil {
		h.fail(logger, action.Batch, action.Bundle, fmt.Errorf("submit bundle: %w", err))
		return nil
	}

	if err := h.ackStore.AddPending(ctx, h.podID, action.Bundle.SubmissionIDs); err != nil {
		// The bundle is transmitted; losing the pending records only
		// costs acknowledgement tracking, so cleanup still proceeds.
		logger.Error("record pending acknowledgements failed", logging.Error(err))
	}

	h.metrics.BatchesDispatched.Inc()
	h.queue.Enqueue(NewCleanup(action.Batch, result.Receipts))
	return nil
}

// cleanup deletes the transmitted batch and publishes one confirmation
// per submission with its receipt identifier. The in-flight entry is
// released on every path; holding it across a failed delete would make
// the old-batch scan skip the leftover batch forever.
func (h *Handler) cleanup(ctx context.Context, logger *slog.Logger, action Action) error {
	defer h.inflight.Remove(action.Batch.Key())

	for id, receipt := range action.Receipts {
		if err := h.notifier.NotifySubmitted(ctx, id, receipt); err != nil {
			logger.Debug("notification failed", logging.Error(err))
		}
	}
	if err := h.store.Delete(ctx, action.Batch); err != nil {
		return fmt.Errorf("delete transmitted batch: %w", err)
	}
	return nil
}

// submissionFailure handles a failed transmission. A single-submission
// batch is not retried further at this layer: it is cleaned up with a
// failure confirmation so nothing loops forever. A multi-submission
// batch is demoted, because the failure cannot be attributed to one
// submission; isolation happens one submission at a time on the next
// retry pass.
func (h *Handler) submissionFailure(ctx context.Context, logger *slog.Logger, action Action) error {
	defer h.inflight.Remove(action.Batch.Key())

	ids, err := h.store.SubmissionIDs(ctx, action.Batch)
	if err != nil {
		return fmt.Errorf("list failed batch submissions: %w", err)
	}

	if len(ids) <= 1 {
		detail := "bundle transmission failed"
		if action.Cause != nil {
			detail = action.Cause.Error()
		}
		for _, id := range ids {
			if err := h.notifier.NotifySubmissionFailed(ctx, id, notifications.CategoryTransmission, detail); err != nil {
				logger.Debug("notification failed", logging.Error(err))
			}
			logger.Error("submission terminally failed",
				logging.String(logging.FieldSubmissionID, id),
				logging.Error(action.Cause))
		}
		if err := h.store.Delete(ctx, action.Batch); err != nil {
			return fmt.Errorf("delete terminally failed batch: %w", err)
		}
		return nil
	}

	errorBatches, err := h.demoter.ProcessFailedBatch(ctx, action.Batch)
	if err != nil {
		return fmt.Errorf("demote failed batch: %w", err)
	}
	h.metrics.BatchesDemoted.Inc()
	h.metrics.SubmissionsDemoted.Add(float64(len(errorBatches)))
	logger.Warn("batch demoted to error batches",
		logging.Int("error_batches", len(errorBatches)),
		logging.Error(action.Cause))
	return nil
}

func (h *Handler) goOffline(ctx context.Context, logger *slog.Logger, reason string) {
	h.gate.Enable()
	h.metrics.OfflineMode.Set(1)
	logger.Warn("offline mode enabled", logging.String("reason", reason))
	if err := h.notifier.NotifyOfflineMode(ctx, reason); err != nil {
		logger.Debug("notification failed", logging.Error(err))
	}
}

func (h *Handler) fail(logger *slog.Logger, batch batchstore.Batch, bundle *filing.Bundle, cause error) {
	logger.Warn("routing batch to failure handling", logging.Error(cause))
	h.queue.Enqueue(NewSubmissionFailure(batch, bundle, cause))
}
