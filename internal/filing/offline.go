package filing

import "sync/atomic"

// OfflineGate is the shared circuit breaker suspending new dispatch after a
// connectivity failure. It is injected into every component that reads or
// writes it so tests can run independent instances. The flag is not
// persisted: a restarted process starts online and re-learns offline status
// on the next failed login.
type OfflineGate struct {
	offline atomic.Bool
}

// NewOfflineGate returns a gate in the online state.
func NewOfflineGate() *OfflineGate {
	return &OfflineGate{}
}

// Enable flips the gate to offline. Called when login or logout fails.
func (g *OfflineGate) Enable() {
	g.offline.Store(true)
}

// Clear returns the gate to online. Called after a successful login.
func (g *OfflineGate) Clear() {
	g.offline.Store(false)
}

// Enabled reports whether dispatch is currently suspended.
func (g *OfflineGate) Enabled() bool {
	return g.offline.Load()
}
