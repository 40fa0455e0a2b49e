package ecs_test

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	ecs "github.com/DangerosoDavo/archecs"
	"github.com/DangerosoDavo/archecs/ecs/component"
	"github.com/DangerosoDavo/archecs/ecs/storage"
)

func TestWorldRegisterComponent(t *testing.T) {
	w := ecs.NewWorld()

	kind, err := ecs.RegisterComponentStorage[Position](w, component.StorageSparseSet)
	require.NoError(t, err)
	assert.Equal(t, component.StorageSparseSet, w.Components().Info(kind).Storage())

	again, err := ecs.RegisterComponentStorage[Position](w, component.StorageTable)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ecs.ErrComponentAlreadyRegistered))
	assert.Equal(t, kind, again)
	assert.Equal(t, component.StorageSparseSet, w.Components().Info(kind).Storage(), "first registration wins")
}

func TestWorldResources(t *testing.T) {
	w := ecs.NewWorld()
	assert.False(t, ecs.ContainsResource[counter](w))
	assert.Panics(t, func() { ecs.Resource[counter](w) })

	ecs.InsertResource(w, counter{n: 123})
	got, ok := ecs.GetResource[counter](w)
	require.True(t, ok)
	assert.Equal(t, 123, got.n)

	mut, ok := ecs.GetResourceMut[counter](w)
	require.True(t, ok)
	mut.n++
	assert.Equal(t, 124, ecs.Resource[counter](w).n)

	ecs.InitResource[counter](w)
	assert.Equal(t, 124, ecs.Resource[counter](w).n, "InitResource keeps an existing value")

	removed, ok := ecs.RemoveResource[counter](w)
	require.True(t, ok)
	assert.Equal(t, 124, removed.n)
	assert.False(t, ecs.ContainsResource[counter](w))
	_, ok = ecs.RemoveResource[counter](w)
	assert.False(t, ok)
}

func TestWorldResourceReplaceDrops(t *testing.T) {
	w := ecs.NewWorld()
	log := &dropLog{}
	ecs.InsertResource(w, Tracked{Name: "first", Log: log})
	ecs.InsertResource(w, Tracked{Name: "second", Log: log})

	assert.Equal(t, []string{"first"}, log.names)
	assert.Equal(t, "second", ecs.Resource[Tracked](w).Name)
}

func TestWorldSpawnAndGet(t *testing.T) {
	w := ecs.NewWorld()
	e := w.Spawn(Position{X: 1, Y: 2}, Velocity{X: 3}).ID()

	require.True(t, w.Contains(e))
	pos, ok := ecs.Get[Position](w, e)
	require.True(t, ok)
	assert.Equal(t, Position{X: 1, Y: 2}, *pos)
	assert.False(t, ecs.Has[Health](w, e))
	assert.Equal(t, 1, w.Len())
}

func TestWorldSwapRemoveKeepsOthersAddressable(t *testing.T) {
	w := ecs.NewWorld()
	var ids []ecs.Entity
	for i := 0; i < 5; i++ {
		ids = append(ids, w.Spawn(Position{X: float64(i)}, SparseTag{N: i}).ID())
	}

	require.True(t, w.Despawn(ids[1]))
	assert.False(t, w.Despawn(ids[1]), "second despawn of the same id fails")
	_, ok := ecs.Remove[Position](w, ids[0])
	require.True(t, ok)

	for i, e := range ids[2:] {
		n := i + 2
		pos, ok := ecs.Get[Position](w, e)
		require.True(t, ok, "entity %v", e)
		assert.Equal(t, float64(n), pos.X)
		tag, ok := ecs.Get[SparseTag](w, e)
		require.True(t, ok)
		assert.Equal(t, n, tag.N)
	}
	tag, ok := ecs.Get[SparseTag](w, ids[0])
	require.True(t, ok)
	assert.Zero(t, tag.N)
	assert.False(t, ecs.Has[Position](w, ids[0]))
}

func TestWorldStaleEntity(t *testing.T) {
	w := ecs.NewWorld()
	e := w.Spawn(Position{}).ID()
	require.True(t, w.Despawn(e))

	recycled := w.Spawn(Position{X: 7}).ID()
	assert.Equal(t, e.Index(), recycled.Index())
	assert.NotEqual(t, e.Generation(), recycled.Generation())
	assert.False(t, w.Contains(e))
	assert.False(t, ecs.Has[Position](w, e))
	_, ok := w.GetEntity(e)
	assert.False(t, ok)
	assert.Panics(t, func() { w.Entity(e) })
}

func TestWorldInsertReplacesAndDrops(t *testing.T) {
	w := ecs.NewWorld()
	log := &dropLog{}
	m := w.Spawn(Tracked{Name: "a", Log: log})
	m.Insert(Tracked{Name: "b", Log: log})
	assert.Equal(t, []string{"a"}, log.names)

	taken, ok := ecs.Remove[Tracked](w, m.ID())
	require.True(t, ok)
	assert.Equal(t, "b", taken.Name)
	assert.Equal(t, []string{"a"}, log.names, "removed values are returned, not dropped")

	w.Spawn(Tracked{Name: "c", Log: log}).Despawn()
	assert.Equal(t, []string{"a", "c"}, log.names)
}

func TestWorldBundles(t *testing.T) {
	w := ecs.NewWorld()
	e := w.SpawnBundle(pair{Pos: Position{X: 1}, Vel: Velocity{Y: 2}}).ID()

	pos, ok := ecs.Get[Position](w, e)
	require.True(t, ok)
	assert.Equal(t, 1.0, pos.X)
	vel, ok := ecs.Get[Velocity](w, e)
	require.True(t, ok)
	assert.Equal(t, 2.0, vel.Y)

	assert.Panics(t, func() { w.Spawn(Position{}, Position{}) })
}

func TestWorldDynamicBundle(t *testing.T) {
	w := ecs.NewWorld()
	kind, err := w.RegisterComponent(component.NewDynamicDescriptor("bytes4", component.Layout{Size: 4, Align: 1}, component.StorageTable, nil))
	require.NoError(t, err)

	e := w.SpawnBundle(ecs.NewDynamicBundle().With(kind, []byte{1, 2, 3, 4})).ID()
	value, ok := w.Entity(e).Get(storage.KeyOf(kind))
	require.True(t, ok)
	assert.Equal(t, []byte{1, 2, 3, 4}, value)
}

func TestWorldChangeTicks(t *testing.T) {
	w := ecs.NewWorld()
	e := w.Spawn(Position{}).ID()
	q := ecs.NewQuery1[ecs.Track[Position], ecs.NoFilter](w)

	item, err := q.Get(e)
	require.NoError(t, err)
	assert.True(t, item.IsAdded())
	assert.True(t, item.IsChanged())

	w.ClearTrackers()
	item, err = q.Get(e)
	require.NoError(t, err)
	assert.False(t, item.IsAdded())
	assert.False(t, item.IsChanged())

	_, ok := ecs.GetMut[Position](w, e)
	require.True(t, ok)
	item, err = q.Get(e)
	require.NoError(t, err)
	assert.False(t, item.IsAdded())
	assert.True(t, item.IsChanged())
}

func TestWorldCheckChangeTicksClampsOldTicks(t *testing.T) {
	w := ecs.NewWorld()
	e := w.Spawn(Position{}).ID()
	q := ecs.NewQuery1[ecs.Track[Position], ecs.NoFilter](w)

	w.AdvanceChangeTick(component.MaxChangeAge + 1000)
	w.CheckChangeTicks()
	item, err := q.Get(e)
	require.NoError(t, err)
	assert.Equal(t, w.ChangeTick()-component.MaxChangeAge, item.Ticks().Added)

	// Across a full wrap an unclamped tick would look brand new again.
	for i := 0; i < 9; i++ {
		w.AdvanceChangeTick(component.CheckTickThreshold)
		w.CheckChangeTicks()
	}
	w.ClearTrackers()
	item, err = q.Get(e)
	require.NoError(t, err)
	assert.False(t, item.IsAdded())
	assert.False(t, item.IsChanged())
}

func TestWorldBundleWritesInDeclaredOrder(t *testing.T) {
	w := ecs.NewWorld()
	log := &dropLog{}
	m := w.Spawn(Tracked{Name: "old tracked", Log: log}, Other{Name: "old other", Log: log})

	m.InsertBundle(orderedPair{First: Other{Name: "new other", Log: log}, Second: Tracked{Name: "new tracked", Log: log}})
	assert.Equal(t, []string{"old other", "old tracked"}, log.names)
}

func TestWorldBundleTypeKeepsItsLayout(t *testing.T) {
	w := ecs.NewWorld()
	w.SpawnBundle(swapped{})
	assert.NotPanics(t, func() { w.SpawnBundle(swapped{}) })
	assert.Panics(t, func() { w.SpawnBundle(swapped{Flip: true}) })
}

func TestWorldRemovedListSurvivesClearTrackers(t *testing.T) {
	w := ecs.NewWorld()
	kind := component.ComponentKind[Health](w.Components())
	first := w.Spawn(Health{}).ID()
	second := w.Spawn(Health{}).ID()

	ecs.Remove[Health](w, first)
	kept := w.Removed(kind)
	w.ClearTrackers()
	ecs.Remove[Health](w, second)

	assert.Equal(t, []ecs.Entity{first}, kept)
	assert.Equal(t, []ecs.Entity{second}, w.Removed(kind))
}
