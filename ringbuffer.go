package slab

import "sync/atomic"

// RingBuffer is a fixed-capacity slot array with per-slot publication
// flags, used both as a bounded MPMC buffer in its own right and as the
// payload-carrying part of a RingBufferNode stack element.
//
// head and tail are monotonically increasing counters (never wrapped); the
// active cell for a given counter value is counter % capacity. At any time
// the number of Acquired cells equals tail-head (mod capacity) and is at
// most capacity.
//
// Pop order is fixed to LIFO via PopBack throughout this module (PopFront
// is provided for completeness and uses the symmetric head-side protocol,
// but nothing here calls it) — see SPEC_FULL.md §3 for why a single fixed
// order was chosen over spec.md's either-order allowance.
type RingBuffer[T any] struct {
	elements []T
	flags    []atomic.Uint32
	head     atomic.Uint64
	tail     atomic.Uint64
	capacity uint64
}

// NewRingBuffer allocates a RingBuffer with room for exactly capacity
// elements. capacity must be a positive power of two is not required; plain
// modulo indexing is used since capacity is fixed for the buffer's life.
func NewRingBuffer[T any](capacity int) *RingBuffer[T] {
	if capacity <= 0 {
		panic("slab: ring buffer capacity must be positive")
	}
	return &RingBuffer[T]{
		elements: make([]T, capacity),
		flags:    make([]atomic.Uint32, capacity),
		capacity: uint64(capacity),
	}
}

// Len reports the capacity B the buffer was constructed with.
func (rb *RingBuffer[T]) Len() int { return int(rb.capacity) }

// IsEmpty reports whether tail == head and no cell is ReservedForWrite. The
// flag scan is needed because a pusher claims its cell before it advances
// tail, so equal counters alone do not rule out a push in progress.
func (rb *RingBuffer[T]) IsEmpty() bool {
	if rb.tail.Load() != rb.head.Load() {
		return false
	}
	for i := range rb.flags {
		if rb.flags[i].Load() == flagReservedForWrite {
			return false
		}
	}
	return true
}

// PushBack reserves the next slot, writes v into it, and publishes it.
// Returns (zero, true) on success or (v, false) if the buffer is full.
func (rb *RingBuffer[T]) PushBack(v T) (T, bool) {
	for {
		tail := rb.tail.Load()
		idx := tail % rb.capacity
		f := &rb.flags[idx]

		if !casFlag(f, flagEmpty, flagReservedForWrite) {
			return v, false // slot still occupied: buffer is full
		}

		if !rb.tail.CompareAndSwap(tail, tail+1) {
			// lost the race to advance tail; unwind and retry
			release(f)
			continue
		}

		rb.elements[idx] = v
		publish(f)
		var zero T
		return zero, true
	}
}

// PopBack removes and returns the most-recently-published value, or
// (zero, false) if the buffer currently looks empty.
func (rb *RingBuffer[T]) PopBack(g *EpochGuard) (T, bool) {
	var zero T
	for {
		tail := rb.tail.Load()
		head := rb.head.Load()
		if tail == head {
			return zero, false
		}
		newTail := tail - 1
		idx := newTail % rb.capacity
		f := &rb.flags[idx]

		if !casFlag(f, flagAcquired, flagReservedForRead) {
			// not yet published, or raced with another popper; reload
			// the counters and retry
			continue
		}

		if !rb.tail.CompareAndSwap(tail, newTail) {
			f.Store(flagAcquired)
			continue
		}

		v := rb.elements[idx]
		rb.elements[idx] = zero
		release(f)
		return v, true
	}
}

// PopFront removes and returns the least-recently-published value, the
// symmetric FIFO counterpart of PopBack. Unused by the rest of this module
// (see the LIFO note on the type), kept to satisfy the documented either-
// order contract.
func (rb *RingBuffer[T]) PopFront(g *EpochGuard) (T, bool) {
	var zero T
	for {
		head := rb.head.Load()
		tail := rb.tail.Load()
		if head == tail {
			return zero, false
		}
		idx := head % rb.capacity
		f := &rb.flags[idx]

		if !casFlag(f, flagAcquired, flagReservedForRead) {
			return zero, false
		}

		if !rb.head.CompareAndSwap(head, head+1) {
			f.Store(flagAcquired)
			continue
		}

		v := rb.elements[idx]
		rb.elements[idx] = zero
		release(f)
		return v, true
	}
}

// PopBackUnsafe is a single-threaded variant for a buffer no other
// goroutine is pushing to or popping from; Allocator uses it to drain a
// node it has just detached with PopBuffer. It skips the CAS dance
// entirely.
func (rb *RingBuffer[T]) PopBackUnsafe() (T, bool) {
	var zero T
	tail := rb.tail.Load()
	head := rb.head.Load()
	if tail == head {
		return zero, false
	}
	idx := (tail - 1) % rb.capacity
	f := &rb.flags[idx]
	if f.Load() != flagAcquired {
		return zero, false
	}
	rb.tail.Store(tail - 1)
	v := rb.elements[idx]
	rb.elements[idx] = zero
	f.Store(flagEmpty)
	return v, true
}
