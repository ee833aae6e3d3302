package slab_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"slab"
)

// exampleMap is a minimal thread-safe int-keyed map, grounded on
// tef-crow/map.go's LockedMap: a single coarse lock wrapping a plain Go
// map. SpinLock stands in for tef-crow's Roundabout, and values are backed
// by slab.Allocator instead of the runtime allocator — demonstrating the
// "higher-level concurrent map" collaborator driving Alloc/Free (and,
// through Allocator, ThreadLocal.GetOr) through nothing but its public
// surface.
type exampleMap struct {
	alloc    *slab.Allocator[int]
	registry *slab.Registry
	guard    *slab.SpinLock[map[int]*int]
}

func newExampleMap() *exampleMap {
	return &exampleMap{
		alloc:    slab.NewAllocator[int](),
		registry: slab.NewRegistry(),
		guard:    slab.NewSpinLock(make(map[int]*int, 8)),
	}
}

func (m *exampleMap) Store(lease *slab.Lease, key, value int) {
	p := m.alloc.Alloc(lease)
	*p = value

	g := m.guard.Lock()
	tbl := g.Value()
	old, had := tbl[key]
	tbl[key] = p
	g.Set(tbl)
	g.Unlock()

	if had {
		m.alloc.Free(lease, old)
	}
}

func (m *exampleMap) Load(key int) (int, bool) {
	g := m.guard.Lock()
	defer g.Unlock()
	p, ok := g.Value()[key]
	if !ok {
		return 0, false
	}
	return *p, true
}

func (m *exampleMap) Delete(lease *slab.Lease, key int) {
	g := m.guard.Lock()
	tbl := g.Value()
	p, had := tbl[key]
	delete(tbl, key)
	g.Set(tbl)
	g.Unlock()

	if had {
		m.alloc.Free(lease, p)
	}
}

func TestExampleMapConcurrentStoreLoad(t *testing.T) {
	m := newExampleMap()

	var eg errgroup.Group
	for w := 0; w < 8; w++ {
		w := w
		eg.Go(func() error {
			lease := m.registry.Join()
			defer lease.Close()
			for i := 0; i < 100; i++ {
				m.Store(lease, w*100+i, i)
			}
			return nil
		})
	}
	require.NoError(t, eg.Wait())

	v, ok := m.Load(742)
	assert.True(t, ok)
	assert.Equal(t, 42, v)
}

func TestExampleMapStoreOverwriteFreesOldValue(t *testing.T) {
	m := newExampleMap()
	lease := m.registry.Join()
	defer lease.Close()

	m.Store(lease, 1, 10)
	g := m.guard.Lock()
	old := g.Value()[1]
	g.Unlock()
	m.Store(lease, 1, 20)

	v, ok := m.Load(1)
	require.True(t, ok)
	assert.Equal(t, 20, v)
	assert.Same(t, old, m.alloc.Alloc(lease), "the overwritten value's slot must be back in the lease's free cache")
}

func TestExampleMapDelete(t *testing.T) {
	m := newExampleMap()
	lease := m.registry.Join()
	defer lease.Close()

	m.Store(lease, 5, 50)
	m.Delete(lease, 5)

	_, ok := m.Load(5)
	assert.False(t, ok)
}
