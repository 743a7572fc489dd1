// Package filing talks to the external filing service.
//
// The service is session oriented: a login must precede Submit and a logout
// must follow it on every path. Login or logout failure is a connectivity
// signal, not merely an error, and drives the offline mode gate. Failures of
// the service's toolkit split into a transient class (retry later) and a
// toolkit class (attributable to the data itself, never retried).
package filing
