// Package syncx provides small synchronization helpers.
package syncx

import "sync"

// Snapshot holds a value written by one owner and read by many.
// Readers always get a complete copy.
type Snapshot[T any] struct {
	mu    sync.RWMutex
	value T
}

// NewSnapshot creates a snapshot holding initial.
func NewSnapshot[T any](initial T) *Snapshot[T] {
	return &Snapshot[T]{value: initial}
}

// Load returns a copy of the current value.
// T should be a value type or treated as immutable.
func (s *Snapshot[T]) Load() T {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.value
}

// Store replaces the value.
func (s *Snapshot[T]) Store(v T) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.value = v
}

// Update mutates the value under the write lock.
func (s *Snapshot[T]) Update(fn func(*T)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fn(&s.value)
}
