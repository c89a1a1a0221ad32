// Package registry implements the append-only, lock-free registries that
// back every domain (comms endpoints, power devices, type-c controllers,
// CFU components). Appends are CAS loops over a singly-linked list; reads
// never take a lock because the list only ever grows.
package registry

import (
	"sync/atomic"

	"ecfabric/errcode"
)

type node[T any] struct {
	id      string
	payload T
	next    atomic.Pointer[node[T]]
}

// Registry is a singly-linked, append-only list of T keyed by a unique
// string id. The zero value is ready to use.
type Registry[T any] struct {
	head atomic.Pointer[node[T]]
}

// Push appends payload under id. It fails with errcode.NodeAlreadyInList if
// id is already present. Append is lock-free: concurrent Push calls race on
// a single CAS of the head pointer and retry on conflict.
func (r *Registry[T]) Push(id string, payload T) error {
	if _, ok := r.Find(id); ok {
		return errcode.New("registry.Push", errcode.NodeAlreadyInList)
	}
	n := &node[T]{id: id, payload: payload}
	for {
		head := r.head.Load()
		// Re-check under the observed head: another goroutine may have
		// appended the same id while we were building n.
		for cur := head; cur != nil; cur = cur.next.Load() {
			if cur.id == id {
				return errcode.New("registry.Push", errcode.NodeAlreadyInList)
			}
		}
		n.next.Store(head)
		if r.head.CompareAndSwap(head, n) {
			return nil
		}
	}
}

// Find returns the payload registered under id, if any.
func (r *Registry[T]) Find(id string) (T, bool) {
	for cur := r.head.Load(); cur != nil; cur = cur.next.Load() {
		if cur.id == id {
			return cur.payload, true
		}
	}
	var zero T
	return zero, false
}

// All returns every registered payload in registration order (oldest
// first), satisfying "registry iteration order equals registration order".
// The underlying list prepends on Push, so this reverses the traversal.
func (r *Registry[T]) All() []T {
	var rev []T
	for cur := r.head.Load(); cur != nil; cur = cur.next.Load() {
		rev = append(rev, cur.payload)
	}
	out := make([]T, len(rev))
	for i, v := range rev {
		out[len(rev)-1-i] = v
	}
	return out
}

// Len reports the number of registered payloads. O(n).
func (r *Registry[T]) Len() int {
	n := 0
	for cur := r.head.Load(); cur != nil; cur = cur.next.Load() {
		n++
	}
	return n
}
