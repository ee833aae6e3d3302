package slab

import (
	"runtime"
	"sync/atomic"
)

// Registry issues dense, recyclable lease ids, the Go analogue of
// spec.md §4.5's ThreadIdRegistry/ThreadMeta pair. Its free-id stack is
// itself a RingBufferStack, the fourth lock-free stack alongside the
// Allocator's free-object/free-region/all-region pools mentioned in
// SPEC_FULL.md §3.
type Registry struct {
	freeIDs *RingBufferStack[uint64]
	counter atomic.Uint64
}

// NewRegistry constructs an empty id registry.
func NewRegistry() *Registry {
	return &Registry{freeIDs: NewRingBufferStack[uint64](64)}
}

// Lease is the Go stand-in for Rust's implicit thread_local!-scoped
// ThreadMeta: since goroutines have no stable OS-thread identity and no
// exit hook, a caller obtains a Lease once (per logical worker) via
// Registry.Join and explicitly Close()s it — the idiomatic Go equivalent
// of "thread exit" (see SPEC_FULL.md §0). A finalizer is attached as a
// best-effort safety net matching spec.md's "id recycling is best-effort".
type Lease struct {
	id       uint64
	registry *Registry
	closed   atomic.Bool
}

// Join pops a recycled id off the free-id stack, or mints a fresh one from
// the monotonic counter on a miss.
func (r *Registry) Join() *Lease {
	id, ok := r.freeIDs.Pop()
	if !ok {
		id = r.counter.Add(1) - 1
	}
	l := &Lease{id: id, registry: r}
	runtime.SetFinalizer(l, func(l *Lease) { l.Close() })
	return l
}

// ID returns the lease's id, or (0, false) once the lease has been closed —
// the Go analogue of get_hash() -> Option<u64> returning None during
// thread-local teardown.
func (l *Lease) ID() (uint64, bool) {
	if l.closed.Load() {
		return 0, false
	}
	return l.id, true
}

// Close releases the lease's id back to the registry for reuse. Safe to
// call more than once (including via the finalizer after an explicit
// Close) — only the first call has any effect.
func (l *Lease) Close() {
	if l.closed.CompareAndSwap(false, true) {
		runtime.SetFinalizer(l, nil)
		l.registry.freeIDs.Push(l.id)
	}
}
