package entity_test

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/DangerosoDavo/archecs/ecs/entity"
)

func TestEntitiesAllocAndFree(t *testing.T) {
	es := entity.NewEntities()
	a := es.Alloc()
	b := es.Alloc()

	require.NotEqual(t, a, b)
	require.Equal(t, 2, es.Len())
	require.True(t, es.IsAlive(a))
	require.True(t, es.IsAlive(b))
	require.False(t, a.IsZero())

	_, ok := es.Free(a)
	require.True(t, ok)
	require.False(t, es.IsAlive(a))
	require.Equal(t, 1, es.Len())

	// Recycled entity should have new generation.
	c := es.Alloc()
	assert.Equal(t, a.Index(), c.Index())
	assert.NotEqual(t, a.Generation(), c.Generation())
	assert.False(t, es.IsAlive(a))
}

func TestEntitiesRejectsStaleID(t *testing.T) {
	es := entity.NewEntities()
	e := es.Alloc()
	es.SetLocation(e, entity.Location{Archetype: 3, Row: 7})

	loc, ok := es.Free(e)
	require.True(t, ok)
	assert.Equal(t, entity.Location{Archetype: 3, Row: 7}, loc)

	_, ok = es.Free(e)
	assert.False(t, ok, "stale free must fail")
	_, ok = es.Get(e)
	assert.False(t, ok)
	assert.Panics(t, func() { es.SetLocation(e, entity.Location{}) })
}

func TestEntitiesZeroNeverResolves(t *testing.T) {
	es := entity.NewEntities()
	es.Alloc()
	var zero entity.Entity
	assert.False(t, es.IsAlive(zero))
	_, ok := es.Get(zero)
	assert.False(t, ok)
	assert.Equal(t, "Entity(0:0)", zero.String())
}

func TestEntitiesReserveFlush(t *testing.T) {
	es := entity.NewEntities()

	var wg sync.WaitGroup
	reserved := make([]entity.Entity, 16)
	for i := range reserved {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			reserved[i] = es.Reserve()
		}(i)
	}
	wg.Wait()
	require.True(t, es.NeedsFlush())

	placed := 0
	es.Flush(func(e entity.Entity) entity.Location {
		placed++
		return entity.Location{Archetype: 0, Row: placed - 1}
	})
	assert.Equal(t, 16, placed)
	assert.False(t, es.NeedsFlush())

	seen := make(map[entity.Entity]bool)
	for _, e := range reserved {
		assert.False(t, seen[e], "duplicate reservation %v", e)
		seen[e] = true
		loc, ok := es.Get(e)
		require.True(t, ok)
		assert.Equal(t, uint32(0), loc.Archetype)
	}
}

func TestEntityBitsRoundTrip(t *testing.T) {
	e := entity.FromParts(12, 5)
	assert.Equal(t, e, entity.FromBits(e.Bits()))
	assert.True(t, entity.FromParts(1, 9).Less(entity.FromParts(2, 0)))
	assert.True(t, entity.FromParts(2, 1).Less(entity.FromParts(2, 2)))
}
