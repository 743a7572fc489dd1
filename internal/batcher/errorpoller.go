package batcher

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"taxwire/internal/actions"
	"taxwire/internal/batchstore"
	"taxwire/internal/filing"
	"taxwire/internal/inflight"
	"taxwire/internal/logging"
)

// ErrorPoller resurrects demoted submissions. Each error batch is
// re-enqueued as a fresh single-submission CreateArchive action, so a
// retried submission travels the same state machine as a new one. This
// is the sole retry mechanism of the pipeline.
type ErrorPoller struct {
	store    *batchstore.Store
	queue    *actions.Queue
	gate     *filing.OfflineGate
	inflight *inflight.Set
	logger   *slog.Logger
	now      func() time.Time
}

func NewErrorPoller(store *batchstore.Store, queue *actions.Queue, gate *filing.OfflineGate, inProgress *inflight.Set, logger *slog.Logger) *ErrorPoller {
	return &ErrorPoller{
		store:    store,
		queue:    queue,
		gate:     gate,
		inflight: inProgress,
		logger:   logging.NewComponentLogger(logger, "error-poller"),
		now:      time.Now,
	}
}

// Poll enqueues every error batch that is not already mid-flight.
// Repeated polls over the same error directory are idempotent because
// of the in-progress membership check; while the pipeline is offline
// the cycle is skipped entirely.
func (p *ErrorPoller) Poll(ctx context.Context) error {
	if p.gate.Enabled() {
		p.logger.Debug("offline, skipping error batch scan")
		return nil
	}

	batches, err := p.store.ErrorBatches(ctx, batchstore.ControlYear(p.now()))
	if err != nil {
		return fmt.Errorf("list error batches: %w", err)
	}

	enqueued := 0
	for _, batch := range batches {
		if !p.inflight.Add(batch.Key()) {
			continue
		}
		p.queue.Enqueue(actions.NewCreateArchive(batch))
		enqueued++
		p.logger.Info("error batch re-enqueued",
			logging.String(logging.FieldBatch, batch.String()))
	}
	if enqueued > 0 {
		p.logger.Info("error batch scan complete",
			logging.Int("found", len(batches)),
			logging.Int("enqueued", enqueued))
	}
	return nil
}
