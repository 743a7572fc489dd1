// Package actions contains the dispatch state machine: a typed action
// queue and the handler that drives batches from archive creation
// through bundling, transmission, and cleanup, demoting failed batches
// into per-submission error batches.
package actions
