package slab

import (
	"sync/atomic"

	"github.com/puzpuzpuz/xsync/v3"
)

// FastLeases is the size of ThreadLocal's fast array path; lease ids at or
// above this value fall back to the concurrent map.
const FastLeases = 512

// ThreadLocal maps a Lease to its owned *T, with a fast fixed-size array
// for the common case of few concurrently live leases and a lock-free
// fallback map (github.com/puzpuzpuz/xsync/v3, already present as an
// indirect dependency of grafana/tempo and flightctl/flightctl in the
// retrieval pack) for ids beyond the fast range — see SPEC_FULL.md §6.
type ThreadLocal[T any] struct {
	fast     [FastLeases]atomic.Pointer[T]
	fallback *xsync.MapOf[uint64, *T]
}

// NewThreadLocal constructs an empty registry-keyed store.
func NewThreadLocal[T any]() *ThreadLocal[T] {
	return &ThreadLocal[T]{fallback: xsync.NewMapOf[uint64, *T]()}
}

// GetOr returns l's owned value, constructing it with newFn on first
// access. newFn runs at most once per lease id: the fast path uses
// compare-and-swap against a single-writer cell, and the fallback path
// relies on xsync.MapOf.LoadOrCompute's at-most-once guarantee. Returns
// (nil, false) if l has already been closed.
func (tl *ThreadLocal[T]) GetOr(l *Lease, newFn func() T) (*T, bool) {
	id, ok := l.ID()
	if !ok {
		return nil, false
	}

	if id < FastLeases {
		cell := &tl.fast[id]
		if p := cell.Load(); p != nil {
			return p, true
		}
		v := newFn()
		p := &v
		if cell.CompareAndSwap(nil, p) {
			return p, true
		}
		return cell.Load(), true
	}

	p, _ := tl.fallback.LoadOrCompute(id, func() *T {
		v := newFn()
		return &v
	})
	return p, true
}

// Close drops every stored reference, fast-array and fallback alike, and
// returns how many entries it cleared — used by tests to verify
// spec.md §8 scenario S5's "exactly FAST_THREADS + 50 frees" property. Go's
// GC reclaims the underlying memory once these references are gone; there
// is no explicit system free to call (see SPEC_FULL.md §0/§7).
func (tl *ThreadLocal[T]) Close() int {
	n := 0
	for i := range tl.fast {
		if tl.fast[i].Swap(nil) != nil {
			n++
		}
	}
	tl.fallback.Range(func(key uint64, value *T) bool {
		tl.fallback.Delete(key)
		n++
		return true
	})
	return n
}
