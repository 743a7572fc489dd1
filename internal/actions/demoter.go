package actions

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"taxwire/internal/batchstore"
	"taxwire/internal/logging"
)

// Demoter rewrites each submission of a failed batch into its own
// single-submission error batch so the error batch poller can retry
// them independently.
type Demoter struct {
	store  *batchstore.Store
	logger *slog.Logger
}

func NewDemoter(store *batchstore.Store, logger *slog.Logger) *Demoter {
	return &Demoter{
		store:  store,
		logger: logging.NewComponentLogger(logger, "demoter"),
	}
}

// ProcessFailedBatch copies every submission of the batch to an error
// batch keyed by the submission's ordinal position, then deletes the
// original. Copying is idempotent per index and submission id, so
// re-running after a crash mid-demotion is safe: already copied
// submissions are left as they are and the original is deleted once
// every copy exists. The original batch is deleted only after all
// copies succeed.
func (d *Demoter) ProcessFailedBatch(ctx context.Context, batch batchstore.Batch) ([]batchstore.Batch, error) {
	ids, err := d.store.SubmissionIDs(ctx, batch)
	if err != nil {
		return nil, fmt.Errorf("list failed batch submissions: %w", err)
	}

	errorBatches := make([]batchstore.Batch, 0, len(ids))
	for i, id := range ids {
		sub, err := d.store.Read(ctx, batch, id)
		if errors.Is(err, batchstore.ErrIncomplete) {
			// A torn write left this submission without all payload
			// blobs. Skip it; the index keeps its ordinal position.
			d.logger.Warn("skipping incomplete submission during demotion",
				logging.String(logging.FieldSubmissionID, id),
				logging.String(logging.FieldBatch, batch.String()))
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("read submission %s for demotion: %w", id, err)
		}
		target, err := d.store.CopyToErrorBatch(ctx, batch, int64(i), sub)
		if err != nil {
			return nil, fmt.Errorf("copy submission %s to error batch: %w", id, err)
		}
		d.logger.Info("submission demoted to error batch",
			logging.String(logging.FieldSubmissionID, id),
			logging.String(logging.FieldBatch, target.String()))
		errorBatches = append(errorBatches, target)
	}

	if err := d.store.Delete(ctx, batch); err != nil {
		return nil, fmt.Errorf("delete demoted batch: %w", err)
	}
	return errorBatches, nil
}
