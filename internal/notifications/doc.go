// Package notifications publishes per-submission confirmation messages and
// operator alerts over ntfy. When no topic is configured every call is a
// no-op, so pipeline code notifies unconditionally.
package notifications
