// Package batcher accumulates submissions into durable batches and
// decides when a batch is handed to the dispatch pipeline: on size, on
// age, at startup recovery, and when the error batch poller resurrects
// demoted submissions.
package batcher
