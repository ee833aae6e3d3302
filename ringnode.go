package slab

import "sync/atomic"

// RingBufferNode is a RingBuffer plus an atomic next-pointer, the unit of
// linkage for RingBufferStack. Ownership is transferred from the producer
// goroutine to the stack on Push/AttachBuffer, and reclaimed only through
// an epoch-deferred callback (see epoch.go) once a popper has unlinked it.
type RingBufferNode[T any] struct {
	buffer RingBuffer[T]
	next   atomic.Pointer[RingBufferNode[T]]
}

// NewRingBufferNode allocates a RingBufferNode whose buffer has room for
// capacity elements.
func NewRingBufferNode[T any](capacity int) *RingBufferNode[T] {
	return &RingBufferNode[T]{buffer: *NewRingBuffer[T](capacity)}
}

// Buffer exposes the node's payload ring buffer.
func (n *RingBufferNode[T]) Buffer() *RingBuffer[T] { return &n.buffer }
