// Package cell provides a lock-protected single-slot value shared between
// one writer and any number of readers.
package cell

import "sync"

// Value holds the latest T. Last write wins; readers never see a torn value.
//
// T should be a value type (or be treated as immutable after Set): Get hands
// out a copy of the stored value, not a reference to it.
type Value[T any] struct {
	mu  sync.RWMutex
	v   T
	set bool
}

func New[T any](initial T) *Value[T] {
	return &Value[T]{v: initial, set: true}
}

func (c *Value[T]) Set(v T) {
	c.mu.Lock()
	c.v = v
	c.set = true
	c.mu.Unlock()
}

func (c *Value[T]) Get() T {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.v
}

// Load is Get plus whether anything was ever stored.
func (c *Value[T]) Load() (T, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.v, c.set
}

// Update applies fn to the stored value under the write lock.
func (c *Value[T]) Update(fn func(T) T) {
	c.mu.Lock()
	c.v = fn(c.v)
	c.set = true
	c.mu.Unlock()
}
