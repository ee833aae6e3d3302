package slab

import "sync/atomic"

// RingBufferStack is an unbounded lock-free stack of RingBufferNodes,
// amortizing allocation by filling each node's ring buffer before linking
// a fresh one. It backs every shared pool the Allocator uses (free
// objects, free regions, all regions) as well as the Registry's free-id
// pool — one general-purpose structure reused for several different
// payload types, the same way tef-crow's Roundabout backs LockedMap,
// BoxedMap and ReadWriteMap.
type RingBufferStack[T any] struct {
	head    atomic.Pointer[RingBufferNode[T]]
	nodeCap int
}

// NewRingBufferStack constructs an empty stack whose nodes (once it
// allocates its own, in Push) each hold nodeCap elements.
func NewRingBufferStack[T any](nodeCap int) *RingBufferStack[T] {
	return &RingBufferStack[T]{nodeCap: nodeCap}
}

// Push appends v, amortized O(1): it tries the current head node's ring
// buffer first, and only allocates (and CAS-links) a new node when that
// one reports full.
func (s *RingBufferStack[T]) Push(v T) {
	for {
		h := s.head.Load()
		if h != nil {
			if _, ok := h.buffer.PushBack(v); ok {
				return
			}
		}

		n := NewRingBufferNode[T](s.nodeCap)
		if _, ok := n.buffer.PushBack(v); !ok {
			panic("slab: fresh ring buffer node reported full")
		}
		n.next.Store(h)
		if s.head.CompareAndSwap(h, n) {
			return
		}
		// lost the race; n is discarded and reclaimed by the GC, retry
	}
}

// Pop removes and returns the most recently pushed value. When the current
// head node empties it is unlinked and its destruction deferred under an
// epoch pin before the search continues on the next node.
func (s *RingBufferStack[T]) Pop() (T, bool) {
	var zero T
	g := Pin()
	defer g.Unpin()

	for {
		h := s.head.Load()
		if h == nil {
			return zero, false
		}
		if v, ok := h.buffer.PopBack(g); ok {
			return v, true
		}

		next := h.next.Load()
		if s.head.CompareAndSwap(h, next) {
			g.DeferDestroy(func() {})
			continue
		}
		// lost the race to whoever changed head; retry from the top
	}
}

// AttachBuffer atomically prepends a fully-formed node — ownership of node
// transfers to the stack. Used to donate a thread-local node that has
// filled up.
func (s *RingBufferStack[T]) AttachBuffer(node *RingBufferNode[T], g *EpochGuard) {
	for {
		h := s.head.Load()
		node.next.Store(h)
		if s.head.CompareAndSwap(h, node) {
			return
		}
	}
}

// PopBuffer atomically detaches the head node, handing it to the caller
// with its contents intact. The caller must extract whatever it needs and
// then call g.DeferDestroy itself — PopBuffer must not retire the node
// eagerly, since the caller still needs to dereference it.
func (s *RingBufferStack[T]) PopBuffer(g *EpochGuard) (*RingBufferNode[T], bool) {
	for {
		h := s.head.Load()
		if h == nil {
			return nil, false
		}
		next := h.next.Load()
		if s.head.CompareAndSwap(h, next) {
			return h, true
		}
	}
}
