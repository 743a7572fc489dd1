package batcher

import (
	"context"
	"log/slog"

	"taxwire/internal/actions"
	"taxwire/internal/batchstore"
	"taxwire/internal/filing"
	"taxwire/internal/inflight"
	"taxwire/internal/logging"
)

// Processor turns closed batches into pipeline work. It is the single
// place that respects the offline gate: while the gate is set, nothing
// new is dispatched and closed batches simply wait in durable storage.
type Processor struct {
	store    *batchstore.Store
	queue    *actions.Queue
	gate     *filing.OfflineGate
	inflight *inflight.Set
	logger   *slog.Logger
}

func NewProcessor(store *batchstore.Store, queue *actions.Queue, gate *filing.OfflineGate, inProgress *inflight.Set, logger *slog.Logger) *Processor {
	return &Processor{
		store:    store,
		queue:    queue,
		gate:     gate,
		inflight: inProgress,
		logger:   logging.NewComponentLogger(logger, "processor"),
	}
}

// ProcessBatch enqueues the batch's CreateArchive action unless the
// pipeline is offline or the batch is already mid-flight. The
// membership check and insert are one atomic step, so two drivers
// observing the same batch enqueue it once.
func (p *Processor) ProcessBatch(ctx context.Context, batch batchstore.Batch) {
	if p.gate.Enabled() {
		p.logger.Debug("offline, leaving batch in storage",
			logging.String(logging.FieldBatch, batch.String()))
		return
	}
	if !p.inflight.Add(batch.Key()) {
		p.logger.Debug("batch already in progress",
			logging.String(logging.FieldBatch, batch.String()))
		return
	}
	p.logger.Info("batch enqueued for dispatch",
		logging.String(logging.FieldBatch, batch.String()))
	p.queue.Enqueue(actions.NewCreateArchive(batch))
}

// ProcessOldBatches dispatches every stored batch except the current
// writing batch. Run at startup it recovers batches that were durably
// appended but never dispatched before a crash; run on the assembly
// tick it drains batches that accumulated while the pipeline was
// offline.
func (p *Processor) ProcessOldBatches(ctx context.Context, controlYear int, currentBatchID int64) error {
	if p.gate.Enabled() {
		p.logger.Debug("offline, skipping old batch scan")
		return nil
	}
	batches, err := p.store.UnprocessedBatches(ctx, controlYear, currentBatchID)
	if err != nil {
		return err
	}
	for _, batch := range batches {
		p.ProcessBatch(ctx, batch)
	}
	return nil
}
