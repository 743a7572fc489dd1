// Package inflight tracks which batches are currently being processed so the
// processor, the error batch poller, and the action handler never dispatch
// the same batch twice.
package inflight

import "sync"

// Set is a concurrency-safe membership set over batch keys. Membership check
// and insert are one atomic operation.
type Set struct {
	mu      sync.Mutex
	members map[string]struct{}
}

// NewSet returns an empty set.
func NewSet() *Set {
	return &Set{members: make(map[string]struct{})}
}

// Add inserts key and reports true, or reports false when the key is already
// a member. Callers must only enqueue work when Add returns true.
func (s *Set) Add(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.members[key]; ok {
		return false
	}
	s.members[key] = struct{}{}
	return true
}

// Remove deletes key. Called on terminal success or terminal failure only.
func (s *Set) Remove(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.members, key)
}

// Contains reports current membership.
func (s *Set) Contains(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.members[key]
	return ok
}

// Len returns the number of batches currently in flight.
func (s *Set) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.members)
}
