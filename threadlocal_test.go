package slab

import (
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"
)

// TestThreadLocalOverflow covers S5: FAST_THREADS + 50 concurrent leases,
// each calling GetOr exactly once. Expect exactly one construction per
// lease, and Close reports exactly FAST_THREADS + 50 released entries.
func TestThreadLocalOverflow(t *testing.T) {
	const extra = 50
	registry := NewRegistry()
	tl := NewThreadLocal[int]()

	// Join every lease up front and close them only after the check, so
	// all FastLeases+extra leases are live at once and no id is recycled.
	leases := make([]*Lease, FastLeases+extra)
	for i := range leases {
		leases[i] = registry.Join()
	}
	defer func() {
		for _, l := range leases {
			l.Close()
		}
	}()

	var constructions atomic.Int64
	var eg errgroup.Group
	for _, l := range leases {
		eg.Go(func() error {
			_, ok := tl.GetOr(l, func() int {
				constructions.Add(1)
				return 1
			})
			if !ok {
				t.Error("GetOr reported a closed lease unexpectedly")
			}
			return nil
		})
	}
	require.NoError(t, eg.Wait())

	assert.Equal(t, int64(FastLeases+extra), constructions.Load())
	assert.Equal(t, FastLeases+extra, tl.Close())
}

// TestThreadLocalOneConstructionPerLease covers quantified invariant 4:
// GetOr invokes new_fn at most once per lease; subsequent calls return the
// same reference.
func TestThreadLocalOneConstructionPerLease(t *testing.T) {
	registry := NewRegistry()
	tl := NewThreadLocal[int]()
	l := registry.Join()
	defer l.Close()

	calls := 0
	p1, _ := tl.GetOr(l, func() int { calls++; return 5 })
	p2, _ := tl.GetOr(l, func() int { calls++; return 9 })

	assert.Same(t, p1, p2)
	assert.Equal(t, 1, calls)
}

func TestThreadLocalClosedLease(t *testing.T) {
	registry := NewRegistry()
	tl := NewThreadLocal[int]()
	l := registry.Join()
	l.Close()

	_, ok := tl.GetOr(l, func() int { return 1 })
	assert.False(t, ok)
}

func TestThreadLocalCloseReleasesBothPaths(t *testing.T) {
	registry := NewRegistry()
	tl := NewThreadLocal[int]()

	fastLease := registry.Join()
	defer fastLease.Close()
	tl.GetOr(fastLease, func() int { return 1 })

	var overflowLease *Lease
	for i := 0; i < FastLeases+1; i++ {
		l := registry.Join()
		if id, _ := l.ID(); id >= FastLeases {
			overflowLease = l
			break
		}
		tl.GetOr(l, func() int { return 0 })
	}
	require.NotNil(t, overflowLease)
	defer overflowLease.Close()
	tl.GetOr(overflowLease, func() int { return 2 })

	n := tl.Close()
	assert.GreaterOrEqual(t, n, 2)
}
