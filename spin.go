package slab

import (
	"runtime"
	"sync/atomic"
)

// SpinLock is a mutex built on a single compare-exchange loop with
// exponential backoff, grounded on original_source/src/spin.rs's
// crossbeam_utils::Backoff-based SpinLock. No CPU-pause library exists in
// the retrieval pack (cenkalti/backoff and jpillora/backoff both retry a
// fallible *operation* after a sleep, a different semantic from busy-waiting
// on a CAS), so the backoff loop is implemented directly over
// sync/atomic and runtime.Gosched.
//
// As documented in SPEC_FULL.md §5 / §9, SpinLock is intended for coarse,
// short critical sections in consumer code (e.g. the example consumer's
// map-wide lock) — never inside the Allocator or RingBufferStack hot path.
type SpinLock[T any] struct {
	mark atomic.Uint32
	obj  T
}

// SpinLockGuard is the scoped handle returned by SpinLock.Lock. Go has no
// Deref operator, so Value/Set stand in for the original's Deref/DerefMut.
type SpinLockGuard[T any] struct {
	lock *SpinLock[T]
}

// NewSpinLock wraps obj behind a spin lock.
func NewSpinLock[T any](obj T) *SpinLock[T] {
	return &SpinLock[T]{obj: obj}
}

const spinBackoffLimit = 6 // per cycle: spins 1,2,4,8, then yields the P for two rounds

// Lock spins with exponential backoff until the lock is acquired.
func (s *SpinLock[T]) Lock() *SpinLockGuard[T] {
	for spins := 0; ; spins++ {
		if s.mark.CompareAndSwap(0, 1) {
			return &SpinLockGuard[T]{lock: s}
		}
		backoffSpin(spins)
	}
}

// TryLock attempts to acquire the lock without blocking.
func (s *SpinLock[T]) TryLock() (*SpinLockGuard[T], bool) {
	if s.mark.CompareAndSwap(0, 1) {
		return &SpinLockGuard[T]{lock: s}, true
	}
	return nil, false
}

func backoffSpin(round int) {
	n := round % spinBackoffLimit
	if n < 4 {
		for i := 0; i < 1<<n; i++ {
			// busy-wait: a handful of PAUSE-equivalent no-ops
		}
		return
	}
	runtime.Gosched()
}

// Value reads the protected object.
func (g *SpinLockGuard[T]) Value() T { return g.lock.obj }

// Set overwrites the protected object.
func (g *SpinLockGuard[T]) Set(v T) { g.lock.obj = v }

// Unlock releases the lock. Call via defer immediately after Lock.
func (g *SpinLockGuard[T]) Unlock() {
	g.lock.mark.Store(0)
}
