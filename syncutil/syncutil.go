// Package syncutil provides the interior-mutability primitives every core
// component is built on: SyncCell for small Copy-able state, Lockable for
// mutex-guarded structures, written so test doubles can substitute a
// simpler implementation without the caller knowing the difference.
package syncutil

import "sync"

// SyncCell holds a single value of a comparable-by-copy type behind a
// mutex. A host build has no single-core/critical-section distinction to
// make, so one mutex-backed implementation serves both the thread-mode and
// critical-section variants the embedded target would otherwise pick
// between at compile time.
type SyncCell[T any] struct {
	mu sync.Mutex
	v  T
}

// NewSyncCell constructs a cell holding the given initial value.
func NewSyncCell[T any](initial T) *SyncCell[T] {
	return &SyncCell[T]{v: initial}
}

// Get returns a copy of the current value.
func (c *SyncCell[T]) Get() T {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.v
}

// Set replaces the value.
func (c *SyncCell[T]) Set(v T) {
	c.mu.Lock()
	c.v = v
	c.mu.Unlock()
}

// Swap replaces the value and returns the previous one.
func (c *SyncCell[T]) Swap(v T) T {
	c.mu.Lock()
	defer c.mu.Unlock()
	old := c.v
	c.v = v
	return old
}

// Update applies fn to the current value and stores the result, returning
// it. fn must not call back into the cell.
func (c *SyncCell[T]) Update(fn func(T) T) T {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.v = fn(c.v)
	return c.v
}

// Lockable abstracts a mutex-guarded value so components can be written
// generically over it and tests can substitute a non-blocking double.
type Lockable[T any] interface {
	// TryLock attempts to acquire the lock without blocking. On success it
	// returns a pointer to the guarded value and an unlock func; on
	// failure it returns (nil, nil, false).
	TryLock() (*T, func(), bool)
	// Lock blocks until the lock is acquired.
	Lock() (*T, func())
}

// MutexLockable is the standard Lockable backed by sync.Mutex.
type MutexLockable[T any] struct {
	mu sync.Mutex
	v  T
}

// NewMutexLockable constructs a MutexLockable holding the given value.
func NewMutexLockable[T any](initial T) *MutexLockable[T] {
	return &MutexLockable[T]{v: initial}
}

func (m *MutexLockable[T]) TryLock() (*T, func(), bool) {
	if !m.mu.TryLock() {
		return nil, nil, false
	}
	return &m.v, m.mu.Unlock, true
}

func (m *MutexLockable[T]) Lock() (*T, func()) {
	m.mu.Lock()
	return &m.v, m.mu.Unlock
}

// WithLock runs fn with the guarded value locked for the duration of the
// call, matching the teacher's defer-unlock idiom at call sites.
func (m *MutexLockable[T]) WithLock(fn func(*T)) {
	v, unlock := m.Lock()
	defer unlock()
	fn(v)
}
