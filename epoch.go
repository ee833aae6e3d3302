package slab

import "sync/atomic"

// Epoch-based deferred reclamation, grounded on original_source's use of
// crossbeam_epoch throughout obj_alloc.rs (Pin, defer_destroy, Shared/Owned
// handoff). No epoch-GC library appears anywhere in the retrieval pack, so
// this is a from-scratch, deliberately small reimplementation over
// sync/atomic — see SPEC_FULL.md §0 for why Go's GC already makes the
// underlying memory safe to keep, and what this layer buys on top of that:
// a node unlinked from a RingBufferStack is not handed to a cleanup
// callback (e.g. draining its contents for conversion) until every pin that
// could have been in flight at unlink time has ended.
//
// The scheme is a 3-epoch bucketed version of the classic epoch-based
// reclamation algorithm: a global epoch counter, a live-pin count, and
// three garbage buckets indexed by epoch%3. A bucket is only flushed once
// the global epoch has advanced two generations past it, which — given
// pins are held only across single, non-blocking RingBufferStack
// operations — is enough generations for any pin active at the time a node
// was unlinked to have ended.
var (
	globalEpoch atomic.Uint64
	activePins  atomic.Int64
	garbageLock SpinLock[[3][]func()]
)

// EpochGuard is returned by Pin and must be released via Unpin once the
// caller is done dereferencing anything it read from a shared stack.
type EpochGuard struct {
	epoch uint64
}

// Pin marks the calling goroutine as actively observing shared lock-free
// structures. Every mutator of a RingBufferStack must hold a pin for the
// duration of its operation.
func Pin() *EpochGuard {
	activePins.Add(1)
	return &EpochGuard{epoch: globalEpoch.Load()}
}

// Unpin ends the pin. Call via defer immediately after Pin.
func (g *EpochGuard) Unpin() {
	if activePins.Add(-1) == 0 {
		tryAdvance()
	}
}

// DeferDestroy schedules cleanup to run once no pin that was active at the
// time of this call (or earlier) can still be running — i.e. once the node
// being retired is unreachable from any in-flight operation.
func (g *EpochGuard) DeferDestroy(cleanup func()) {
	guard := garbageLock.Lock()
	bucket := guard.Value()
	bucket[g.epoch%3] = append(bucket[g.epoch%3], cleanup)
	guard.Set(bucket)
	guard.Unlock()
}

// tryAdvance attempts to move the global epoch forward and flush the
// bucket that is now safe, best-effort (a failed advance just means
// another goroutine is doing the same work, or new pins raced in).
func tryAdvance() {
	if activePins.Load() != 0 {
		return
	}
	next := globalEpoch.Add(1)
	safe := (next + 1) % 3 // two generations behind `next`

	guard := garbageLock.Lock()
	bucket := guard.Value()
	toRun := bucket[safe]
	bucket[safe] = nil
	guard.Set(bucket)
	guard.Unlock()

	for _, fn := range toRun {
		fn()
	}
}
