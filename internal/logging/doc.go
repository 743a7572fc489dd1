// Package logging assembles structured slog loggers and formatting helpers
// used across taxwire components.
//
// It owns the configurable console/JSON handlers, centralizes level and output
// plumbing, and exposes attribute helpers plus the shared field vocabulary so
// every component tags batches, submissions, and actions the same way. The
// package also provides a no-op logger for tests and wiring code that cannot
// fail.
package logging
