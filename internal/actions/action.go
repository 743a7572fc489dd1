package actions

import (
	"taxwire/internal/batchstore"
	"taxwire/internal/filing"
)

// Kind discriminates the action union. The handler switches over every
// kind; adding a kind means teaching the handler about it.
type Kind string

const (
	KindCreateArchive     Kind = "create_archive"
	KindBundleArchives    Kind = "bundle_archives"
	KindSubmitBundle      Kind = "submit_bundle"
	KindSubmissionFailure Kind = "submission_failure"
	KindCleanup           Kind = "cleanup"
)

// Action is one unit of pipeline work. Each kind carries the minimal
// prior-stage result needed to proceed. Actions are single-owner: once
// taken from the queue they belong to the handler processing them until
// they terminate into the next action(s).
type Action struct {
	Kind  Kind
	Batch batchstore.Batch

	// Archives is set on BundleArchives.
	Archives []filing.Archive
	// Bundle is set on SubmitBundle and SubmissionFailure.
	Bundle *filing.Bundle
	// Receipts maps submission id to receipt identifier on Cleanup.
	Receipts map[string]string
	// Cause is the transmission failure that produced a
	// SubmissionFailure.
	Cause error
}

// NewCreateArchive starts the pipeline for a batch.
func NewCreateArchive(batch batchstore.Batch) Action {
	return Action{Kind: KindCreateArchive, Batch: batch}
}

// NewBundleArchives carries per-submission archives to the bundler.
func NewBundleArchives(batch batchstore.Batch, archives []filing.Archive) Action {
	return Action{Kind: KindBundleArchives, Batch: batch, Archives: archives}
}

// NewSubmitBundle carries the merged bundle to transmission.
func NewSubmitBundle(batch batchstore.Batch, bundle *filing.Bundle) Action {
	return Action{Kind: KindSubmitBundle, Batch: batch, Bundle: bundle}
}

// NewCleanup finishes a successfully transmitted batch.
func NewCleanup(batch batchstore.Batch, receipts map[string]string) Action {
	return Action{Kind: KindCleanup, Batch: batch, Receipts: receipts}
}

// NewSubmissionFailure routes a failed batch to demotion or terminal
// failure handling.
func NewSubmissionFailure(batch batchstore.Batch, bundle *filing.Bundle, cause error) Action {
	return Action{Kind: KindSubmissionFailure, Batch: batch, Bundle: bundle, Cause: cause}
}
