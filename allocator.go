package slab

import "go.uber.org/zap"

// RegionCapacity is the number of objects a single bump region holds — the
// Go analogue of BUMP_SIZE = 4096 * sizeof(T) (see SPEC_FULL.md §0: a typed
// slice replaces a raw byte arena so the GC can still trace pointers T may
// contain).
const RegionCapacity = 4096

// region is a bump-allocation arena: a fixed slice plus a cursor that only
// moves forward. Once cursor reaches len(slice) the region is exhausted and
// never donated back to the shared pool (see the edge case in
// SPEC_FULL.md §4.4).
type region[T any] struct {
	slice  []T
	cursor int
}

func newRegion[T any]() *region[T] {
	return &region[T]{slice: make([]T, RegionCapacity)}
}

func (r *region[T]) bump() (*T, bool) {
	if r.cursor >= len(r.slice) {
		return nil, false
	}
	p := &r.slice[r.cursor]
	r.cursor++
	return p, true
}

func (r *region[T]) exhausted() bool {
	return r.cursor >= len(r.slice)
}

// tlAlloc is one lease's private allocator state: the region it is
// currently bumping through, a thread-local free cache, a pin-depth
// counter, and the deferred-free list a Guard drains on Close. The Go
// analogue of original_source/src/obj_alloc.rs's TLAllocInner.
type tlAlloc[T any] struct {
	region   *region[T]
	free     *TLBufferedStack[*T]
	pinDepth int
	deferred []*T
}

func newTLAlloc[T any]() *tlAlloc[T] {
	return &tlAlloc[T]{free: NewTLBufferedStack[*T](RegionCapacity)}
}

// sharedAlloc holds the three pools every lease's tlAlloc donates to and
// steals from: free objects, free (partially-used) regions, and every
// region ever created (kept only for Close's teardown accounting).
type sharedAlloc[T any] struct {
	freeObjects *RingBufferStack[*T]
	freeRegions *RingBufferStack[*region[T]]
	allRegions  *RingBufferStack[*region[T]]
}

func newSharedAlloc[T any]() *sharedAlloc[T] {
	return &sharedAlloc[T]{
		freeObjects: NewRingBufferStack[*T](RegionCapacity),
		freeRegions: NewRingBufferStack[*region[T]](64),
		allRegions:  NewRingBufferStack[*region[T]](64),
	}
}

// Allocator amortizes per-object allocation cost across many goroutines by
// handing each Lease its own bump region and free-object cache, backed by
// shared lock-free donation pools for the miss path. T is typically a small
// fixed-size struct; Allocator places no bound on T beyond what make([]T, n)
// requires.
type Allocator[T any] struct {
	shared   *sharedAlloc[T]
	perLease *ThreadLocal[tlAlloc[T]]
	logger   *zap.Logger
}

// NewAllocator constructs an Allocator with no regions yet created; the
// first Alloc on any lease triggers the first region allocation.
func NewAllocator[T any](opts ...Option) *Allocator[T] {
	cfg := defaultConfig()
	for _, opt := range opts {
		opt(cfg)
	}
	return &Allocator[T]{
		shared:   newSharedAlloc[T](),
		perLease: NewThreadLocal[tlAlloc[T]](),
		logger:   cfg.logger,
	}
}

func (a *Allocator[T]) state(l *Lease) (*tlAlloc[T], bool) {
	return a.perLease.GetOr(l, func() tlAlloc[T] { return *newTLAlloc[T]() })
}

// Alloc returns a pointer to an unused T, or nil if l has already been
// closed. A T newly bumped from a region is zero-valued; a recycled T keeps
// whatever its previous holder last wrote to it. The miss path is the four steps spec.md §4.4
// describes: local free cache, bump the current region, steal a donated
// node from the shared free-object stack, then pop or allocate a fresh
// region.
func (a *Allocator[T]) Alloc(l *Lease) *T {
	st, ok := a.state(l)
	if !ok {
		return nil
	}

	if p, ok := st.free.Pop(); ok {
		return p
	}

	if st.region != nil {
		if p, ok := st.region.bump(); ok {
			return p
		}
	}

	if p, ok := a.stealFreeObject(st); ok {
		return p
	}

	a.refillRegion(st)
	p, ok := st.region.bump()
	if !ok {
		panic("slab: freshly acquired region reported full")
	}
	return p
}

// stealFreeObject detaches the head node of the shared free-object stack
// (if any), keeps one element for the caller, and spills the rest into the
// lease's own free cache before retiring the emptied node.
func (a *Allocator[T]) stealFreeObject(st *tlAlloc[T]) (*T, bool) {
	g := Pin()
	defer g.Unpin()

	node, ok := a.shared.freeObjects.PopBuffer(g)
	if !ok {
		return nil, false
	}

	buf := node.Buffer()
	first, gotFirst := buf.PopBackUnsafe()
	for {
		v, ok := buf.PopBackUnsafe()
		if !ok {
			break
		}
		st.free.Push(v)
	}
	g.DeferDestroy(func() {})
	return first, gotFirst
}

// refillRegion sets st.region to a region with remaining capacity, either
// reclaiming a partially-used donated region or, failing that, allocating
// a brand new one and recording it in allRegions for teardown accounting.
func (a *Allocator[T]) refillRegion(st *tlAlloc[T]) {
	if r, ok := a.shared.freeRegions.Pop(); ok {
		st.region = r
		return
	}
	a.logger.Debug("allocating fresh bump region", zap.Int("capacity", RegionCapacity))
	r := newRegion[T]()
	a.shared.allRegions.Push(r)
	st.region = r
}

// Free returns p to l's lease-local free cache. When that cache overflows
// (more than MaxBuffers nodes accumulate), the evicted node is converted in
// place and donated to the shared free-object stack under a pin — no-op if
// l has already been closed.
func (a *Allocator[T]) Free(l *Lease, p *T) {
	st, ok := a.state(l)
	if !ok {
		return
	}
	overflow, donated := st.free.Push(p)
	if !donated {
		return
	}
	rn := overflow.IntoRingBufferNode()
	g := Pin()
	a.shared.freeObjects.AttachBuffer(rn, g)
	g.Unpin()
}

// Release returns l's residual state to the shared pools on lease exit,
// the Go analogue of original_source/src/obj_alloc.rs's
// TLAllocInner::return_resources: l's current region is donated if it
// still has unused capacity (cursor != len(slice); an exhausted region is
// never donated, per spec.md §4.4's edge case), and every object still
// sitting in l's local free cache — not just whatever would otherwise wait
// for a MaxBuffers overflow — is pushed onto the shared free-object stack,
// one at a time, so it becomes immediately visible to Alloc on any other
// lease. Callers must call Release before discarding a Lease (e.g. right
// before Lease.Close()); skipping it stands up Testable Property 2 ("every
// freed address is eventually returnable by some subsequent alloc") only
// by accident, if the same numeric id is later recycled onto a fresh Lease.
func (a *Allocator[T]) Release(l *Lease) {
	st, ok := a.state(l)
	if !ok {
		return
	}

	if st.region != nil {
		if !st.region.exhausted() {
			a.shared.freeRegions.Push(st.region)
		}
		st.region = nil
	}

	for {
		p, ok := st.free.Pop()
		if !ok {
			break
		}
		a.shared.freeObjects.Push(p)
	}
}

// Pin returns a Guard scoping a batch of Alloc/Free calls plus any
// DeferFree'd pointers, which are only actually freed when the Guard is
// Closed. Returns nil if l has already been closed.
func (a *Allocator[T]) Pin(l *Lease) *Guard[T] {
	st, ok := a.state(l)
	if !ok {
		return nil
	}
	st.pinDepth++
	return &Guard[T]{alloc: a, lease: l, state: st, epoch: Pin()}
}

// Close drains every region ever created (shared.allRegions) for teardown
// accounting and returns the total number of objects that were ever bumped
// across all of them. There is no explicit system free to run per object
// (see SPEC_FULL.md §0/§7) — Go's GC reclaims the backing slices once every
// reference (lease-local and shared-pool) is gone.
func (a *Allocator[T]) Close() int {
	total := 0
	for {
		r, ok := a.shared.allRegions.Pop()
		if !ok {
			break
		}
		total += r.cursor
	}
	return total
}

// Guard is the Go stand-in for original_source's AllocGuard: a scope
// object, meant to be used with defer g.Close(), that batches Alloc/Free
// calls under a single epoch pin and drains any deferred frees on Close.
type Guard[T any] struct {
	alloc *Allocator[T]
	lease *Lease
	state *tlAlloc[T]
	epoch *EpochGuard
}

// Alloc is shorthand for g's Allocator.Alloc(g's Lease).
func (g *Guard[T]) Alloc() *T { return g.alloc.Alloc(g.lease) }

// Free is shorthand for g's Allocator.Free(g's Lease, p).
func (g *Guard[T]) Free(p *T) { g.alloc.Free(g.lease, p) }

// DeferFree queues p to be freed when g is Closed rather than immediately —
// useful when p must stay valid for the remainder of the pinned section.
func (g *Guard[T]) DeferFree(p *T) {
	g.state.deferred = append(g.state.deferred, p)
}

// Close decrements the lease's pin-depth counter and, only once it reaches
// zero, drains every deferred free through Allocator.Free. The counter (not
// a bool) is what lets nested Pin calls on the same lease share one
// deferred-free list without an inner Close prematurely freeing pointers
// an outer, still-active Guard defer-freed — exactly the ordering spec.md
// §4.4 specifies ("decrement counter; if it reaches zero, drain..."). The
// Go analogue of AllocGuard's Drop impl; callers are expected to `defer
// g.Close()` immediately after Pin.
func (g *Guard[T]) Close() {
	g.state.pinDepth--
	if g.state.pinDepth == 0 {
		for _, p := range g.state.deferred {
			g.alloc.Free(g.lease, p)
		}
		g.state.deferred = nil
	}
	g.epoch.Unpin()
}
