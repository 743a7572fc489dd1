// Package batchstore persists submission batches in durable object storage.
//
// In-flight batches live under
// pre-submission-batching/{app}/{year}/{batchID}/{submissionID}/ and demoted
// retry units under
// pre-submission-batching/errors/{app}/{year}/{batchID}/{index}/{submissionID}/.
// Batch ids increase monotonically per application and control year with no
// gap filling.
package batchstore

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path"
	"sort"
	"strconv"
	"strings"

	"taxwire/internal/logging"
	"taxwire/internal/objectstore"
	"taxwire/internal/submission"
)

// ErrIncomplete marks a listed submission whose payload objects are missing.
// Callers treat it as a local skip-this-item condition, not a batch failure.
var ErrIncomplete = errors.New("submission payload incomplete")

// Store reads and writes batches for one application identity.
type Store struct {
	objects       objectstore.Store
	applicationID string
	logger        *slog.Logger
}

// New constructs a batch store over the given object storage.
func New(objects objectstore.Store, applicationID string, logger *slog.Logger) *Store {
	return &Store{
		objects:       objects,
		applicationID: applicationID,
		logger:        logging.NewComponentLogger(logger, "batch-store"),
	}
}

// ApplicationID returns the identity namespacing this store's paths.
func (s *Store) ApplicationID() string {
	return s.applicationID
}

// allocObject records the highest id ever allocated for a control year.
// Listing alone cannot drive allocation: cleaning up the newest batch
// would erase its id from storage and the next allocation would hand
// the same id out again.
const allocObject = ".max-batch-id"

func (s *Store) allocKey(controlYear int) string {
	return path.Join(batchRoot, s.applicationID, strconv.Itoa(controlYear), allocObject)
}

// MaxBatchID returns the highest batch id ever allocated for a control year,
// or 0 when none exist. Deleted batches still count: the persisted
// high-water mark outlives their storage.
func (s *Store) MaxBatchID(ctx context.Context, controlYear int) (int64, error) {
	prefix := path.Join(batchRoot, s.applicationID, strconv.Itoa(controlYear))
	dirs, err := s.objects.ListDirs(ctx, prefix)
	if err != nil {
		return 0, fmt.Errorf("list batches: %w", err)
	}
	var max int64
	for _, dir := range dirs {
		id, err := strconv.ParseInt(dir, 10, 64)
		if err != nil {
			s.logger.Warn("ignoring non-numeric batch directory",
				logging.String("directory", dir),
				logging.String(logging.FieldEventType, "storage_inconsistency"),
			)
			continue
		}
		if id > max {
			max = id
		}
	}

	data, err := s.objects.Get(ctx, s.allocKey(controlYear))
	if err != nil {
		if errors.Is(err, objectstore.ErrNotFound) {
			return max, nil
		}
		return 0, fmt.Errorf("read batch id high-water mark: %w", err)
	}
	mark, err := strconv.ParseInt(strings.TrimSpace(string(data)), 10, 64)
	if err != nil {
		s.logger.Warn("ignoring corrupt batch id high-water mark",
			logging.String("value", string(data)),
			logging.String(logging.FieldEventType, "storage_inconsistency"),
		)
		return max, nil
	}
	if mark > max {
		max = mark
	}
	return max, nil
}

// Allocate reserves the next batch id for a control year. Ids are strictly
// increasing; deleted batches leave gaps that are never reused, and the
// high-water mark keeps allocation from going backwards after the newest
// batch is cleaned up.
func (s *Store) Allocate(ctx context.Context, controlYear int) (Batch, error) {
	max, err := s.MaxBatchID(ctx, controlYear)
	if err != nil {
		return Batch{}, err
	}
	id := max + 1
	if err := s.objects.Put(ctx, s.allocKey(controlYear), []byte(strconv.FormatInt(id, 10))); err != nil {
		return Batch{}, fmt.Errorf("record batch id high-water mark: %w", err)
	}
	return NewBatch(s.applicationID, controlYear, id), nil
}

// Append durably writes a submission's three payload blobs under the batch.
// Each blob is a single atomic object write.
func (s *Store) Append(ctx context.Context, batch Batch, sub *submission.Submission) error {
	if err := sub.Validate(); err != nil {
		return err
	}
	blobs := map[string][]byte{
		submission.ManifestObject: sub.Manifest,
		submission.BodyObject:     sub.Body,
		submission.ContextObject:  sub.Context,
	}
	for _, object := range []string{submission.ManifestObject, submission.BodyObject, submission.ContextObject} {
		if err := s.objects.Put(ctx, batch.objectKey(sub.ID, object), blobs[object]); err != nil {
			return fmt.Errorf("append submission %s to %s: %w", sub.ID, batch, err)
		}
	}
	return nil
}

// SubmissionIDs lists the batch's members in stable lexical order.
func (s *Store) SubmissionIDs(ctx context.Context, batch Batch) ([]string, error) {
	ids, err := s.objects.ListDirs(ctx, batch.Prefix())
	if err != nil {
		return nil, fmt.Errorf("list submissions of %s: %w", batch, err)
	}
	return ids, nil
}

// Count returns the number of submissions currently stored under the batch.
func (s *Store) Count(ctx context.Context, batch Batch) (int, error) {
	ids, err := s.SubmissionIDs(ctx, batch)
	if err != nil {
		return 0, err
	}
	return len(ids), nil
}

// Read loads one submission's payload blobs. Returns ErrIncomplete when any
// of the three objects is missing.
func (s *Store) Read(ctx context.Context, batch Batch, submissionID string) (*submission.Submission, error) {
	sub := &submission.Submission{ID: submissionID}
	for _, object := range []string{submission.ManifestObject, submission.BodyObject, submission.ContextObject} {
		data, err := s.objects.Get(ctx, batch.objectKey(submissionID, object))
		if err != nil {
			if errors.Is(err, objectstore.ErrNotFound) {
				return nil, fmt.Errorf("%w: %s in %s is missing %s", ErrIncomplete, submissionID, batch, object)
			}
			return nil, fmt.Errorf("read submission %s of %s: %w", submissionID, batch, err)
		}
		switch object {
		case submission.ManifestObject:
			sub.Manifest = data
		case submission.BodyObject:
			sub.Body = data
		case submission.ContextObject:
			sub.Context = data
		}
	}
	return sub, nil
}

// UnprocessedBatches lists every batch of a control year except the one with
// currentID, so a batch still accepting submissions is never dispatched.
// Pass currentID 0 to list all.
func (s *Store) UnprocessedBatches(ctx context.Context, controlYear int, currentID int64) ([]Batch, error) {
	prefix := path.Join(batchRoot, s.applicationID, strconv.Itoa(controlYear))
	dirs, err := s.objects.ListDirs(ctx, prefix)
	if err != nil {
		return nil, fmt.Errorf("list batches: %w", err)
	}
	var batches []Batch
	for _, dir := range dirs {
		id, err := strconv.ParseInt(dir, 10, 64)
		if err != nil || id == currentID {
			continue
		}
		batches = append(batches, NewBatch(s.applicationID, controlYear, id))
	}
	sort.Slice(batches, func(i, j int) bool { return batches[i].ID < batches[j].ID })
	return batches, nil
}

// Delete removes every object stored under the batch.
func (s *Store) Delete(ctx context.Context, batch Batch) error {
	if err := s.objects.DeletePrefix(ctx, batch.Prefix()); err != nil {
		return fmt.Errorf("delete %s: %w", batch, err)
	}
	return nil
}

// CopyToErrorBatch copies one submission of a failed batch into its own
// single-submission error batch at the given ordinal index. The copy is
// idempotent per (index, submission id), so a crashed demotion can re-run.
func (s *Store) CopyToErrorBatch(ctx context.Context, source Batch, index int64, sub *submission.Submission) (Batch, error) {
	if err := sub.Validate(); err != nil {
		return Batch{}, err
	}
	target := NewErrorBatch(source.ApplicationID, source.ControlYear, source.ID, index)
	blobs := map[string][]byte{
		submission.ManifestObject: sub.Manifest,
		submission.BodyObject:     sub.Body,
		submission.ContextObject:  sub.Context,
	}
	for _, object := range []string{submission.ManifestObject, submission.BodyObject, submission.ContextObject} {
		if err := s.objects.PutIfAbsent(ctx, target.objectKey(sub.ID, object), blobs[object]); err != nil {
			return Batch{}, fmt.Errorf("copy submission %s to %s: %w", sub.ID, target, err)
		}
	}
	return target, nil
}

// ErrorBatches lists every demoted {batchID}/{index} pair of a control year
// as single-submission batch handles.
func (s *Store) ErrorBatches(ctx context.Context, controlYear int) ([]Batch, error) {
	root := path.Join(errorRoot, s.applicationID, strconv.Itoa(controlYear))
	batchDirs, err := s.objects.ListDirs(ctx, root)
	if err != nil {
		return nil, fmt.Errorf("list error batches: %w", err)
	}
	var batches []Batch
	for _, batchDir := range batchDirs {
		id, err := strconv.ParseInt(batchDir, 10, 64)
		if err != nil {
			s.logger.Warn("ignoring non-numeric error batch directory",
				logging.String("directory", batchDir),
				logging.String(logging.FieldEventType, "storage_inconsistency"),
			)
			continue
		}
		indexDirs, err := s.objects.ListDirs(ctx, path.Join(root, batchDir))
		if err != nil {
			return nil, fmt.Errorf("list error batch %d: %w", id, err)
		}
		for _, indexDir := range indexDirs {
			index, err := strconv.ParseInt(indexDir, 10, 64)
			if err != nil {
				continue
			}
			batches = append(batches, NewErrorBatch(s.applicationID, controlYear, id, index))
		}
	}
	sort.Slice(batches, func(i, j int) bool {
		if batches[i].ID != batches[j].ID {
			return batches[i].ID < batches[j].ID
		}
		return batches[i].ErrorIndex < batches[j].ErrorIndex
	})
	return batches, nil
}
