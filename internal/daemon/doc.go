// Package daemon wires the pipeline together and supervises its
// background workers: action handler workers, the assembly ticker, the
// error batch poller, the acknowledgement poller, and the status HTTP
// API. It enforces single-instance execution with a lock file.
package daemon
