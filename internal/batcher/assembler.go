package batcher

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"taxwire/internal/batchstore"
	"taxwire/internal/config"
	"taxwire/internal/logging"
	"taxwire/internal/metrics"
	"taxwire/internal/submission"
)

// Assembler appends submissions to the current writing batch and
// rotates it when the size or age threshold fires. Appends are durable
// before AddSubmission returns, so a crash never loses an accepted
// submission; only the dispatch decision lives in memory.
type Assembler struct {
	mu         sync.Mutex
	store      *batchstore.Store
	processor  *Processor
	metrics    *metrics.Metrics
	logger     *slog.Logger
	maxSize    int
	timeout    time.Duration
	current    *batchstore.Batch
	count      int
	firstWrite time.Time
	now        func() time.Time
}

func NewAssembler(cfg *config.Config, store *batchstore.Store, processor *Processor, m *metrics.Metrics, logger *slog.Logger) *Assembler {
	return &Assembler{
		store:     store,
		processor: processor,
		metrics:   m,
		logger:    logging.NewComponentLogger(logger, "assembler"),
		maxSize:   cfg.Batching.MaxBatchSize,
		timeout:   time.Duration(cfg.Batching.BatchTimeout) * time.Second,
		now:       time.Now,
	}
}

// AddSubmission durably appends the submission to the current writing
// batch. When the append fills the batch to the size threshold, the
// batch is dispatched immediately and the next submission starts a
// fresh batch.
func (a *Assembler) AddSubmission(ctx context.Context, sub *submission.Submission) (batchstore.Batch, error) {
	if err := sub.Validate(); err != nil {
		return batchstore.Batch{}, err
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	batch, err := a.currentWritingBatch(ctx)
	if err != nil {
		return batchstore.Batch{}, err
	}
	if err := a.store.Append(ctx, batch, sub); err != nil {
		return batchstore.Batch{}, fmt.Errorf("append submission: %w", err)
	}
	if a.count == 0 {
		a.firstWrite = a.now()
	}
	a.count++
	a.metrics.SubmissionsAccepted.Inc()
	a.logger.Info("submission accepted",
		logging.String(logging.FieldSubmissionID, sub.ID),
		logging.String(logging.FieldBatch, batch.String()),
		logging.Int("batch_count", a.count))

	if a.count >= a.maxSize {
		a.dispatchLocked(ctx, "size threshold reached")
	}
	return batch, nil
}

// CheckTimeout dispatches the writing batch when its first write is
// older than the configured timeout. Driven by the assembly ticker so
// a trickle of submissions still gets bounded latency.
func (a *Assembler) CheckTimeout(ctx context.Context) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.current == nil || a.count == 0 {
		return
	}
	if a.now().Sub(a.firstWrite) < a.timeout {
		return
	}
	a.dispatchLocked(ctx, "age threshold reached")
}

// CurrentBatchID reports the writing batch id, or -1 when no batch is
// open. Used to exclude the writing batch from startup recovery.
func (a *Assembler) CurrentBatchID() int64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.current == nil {
		return -1
	}
	return a.current.ID
}

// currentWritingBatch returns the open batch, allocating a new id when
// none is open, the batch outlived its age budget, or the filing season
// rolled over. Ids increase strictly; gaps left by crashes are never
// refilled.
func (a *Assembler) currentWritingBatch(ctx context.Context) (batchstore.Batch, error) {
	controlYear := batchstore.ControlYear(a.now())
	if a.current != nil && a.current.ControlYear == controlYear {
		if a.count == 0 || a.now().Sub(a.firstWrite) < a.timeout {
			return *a.current, nil
		}
		// The batch went overdue between ticks; dispatch it now so the
		// pending append lands in a fresh batch.
		a.dispatchLocked(ctx, "age threshold reached")
	}
	batch, err := a.store.Allocate(ctx, controlYear)
	if err != nil {
		return batchstore.Batch{}, fmt.Errorf("allocate writing batch: %w", err)
	}
	a.current = &batch
	a.count = 0
	a.logger.Info("opened new writing batch",
		logging.String(logging.FieldBatch, batch.String()))
	return batch, nil
}

func (a *Assembler) dispatchLocked(ctx context.Context, reason string) {
	batch := *a.current
	a.current = nil
	a.count = 0
	a.logger.Info("dispatching writing batch",
		logging.String(logging.FieldBatch, batch.String()),
		logging.String("reason", reason))
	a.processor.ProcessBatch(ctx, batch)
}
