// Package registry provides the per-cache tracked-account snapshot map.
//
// Every cache keys its state by account id and follows the same discipline:
// snapshots are replaced wholesale, never mutated field by field, and a
// replace racing with Untrack is discarded rather than re-inserting state for
// an account that is no longer tracked.
package registry

import (
	"sync"
)

// Map holds one snapshot of type T per tracked account.
type Map[T any] struct {
	mu        sync.RWMutex
	snapshots map[string]T
}

// New creates an empty Map.
func New[T any]() *Map[T] {
	return &Map[T]{snapshots: make(map[string]T)}
}

// Track inserts the initial snapshot for accountID. It returns false when the
// account is already tracked, leaving the existing snapshot untouched.
func (m *Map[T]) Track(accountID string, initial T) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.snapshots[accountID]; ok {
		return false
	}
	m.snapshots[accountID] = initial
	return true
}

// Untrack removes all state for accountID. Removing an unknown account is a
// no-op returning false.
func (m *Map[T]) Untrack(accountID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.snapshots[accountID]; !ok {
		return false
	}
	delete(m.snapshots, accountID)
	return true
}

// Tracked reports whether accountID has a snapshot.
func (m *Map[T]) Tracked(accountID string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.snapshots[accountID]
	return ok
}

// Get returns the current snapshot for accountID.
func (m *Map[T]) Get(accountID string) (T, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	snap, ok := m.snapshots[accountID]
	return snap, ok
}

// Replace swaps in a new snapshot for accountID. When the account is not
// tracked (e.g. a refresh finishing after Untrack) the snapshot is discarded
// and Replace returns false.
func (m *Map[T]) Replace(accountID string, snap T) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.snapshots[accountID]; !ok {
		return false
	}
	m.snapshots[accountID] = snap
	return true
}

// IDs returns the tracked account ids.
func (m *Map[T]) IDs() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ids := make([]string, 0, len(m.snapshots))
	for id := range m.snapshots {
		ids = append(ids, id)
	}
	return ids
}

// Len returns the number of tracked accounts.
func (m *Map[T]) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.snapshots)
}
