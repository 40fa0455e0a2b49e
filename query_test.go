package ecs_test

import (
	"errors"
	"sort"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	ecs "github.com/DangerosoDavo/archecs"
	"github.com/DangerosoDavo/archecs/ecs/component"
)

func TestQueryRejectsConflictingTerms(t *testing.T) {
	w := ecs.NewWorld()
	assertConflict := func(name string, build func()) {
		t.Helper()
		defer func() {
			r := recover()
			require.NotNil(t, r, name)
			err, ok := r.(error)
			require.True(t, ok, name)
			assert.True(t, errors.Is(err, ecs.ErrQueryAccessConflict), name)
		}()
		build()
	}

	assertConflict("read then write", func() { ecs.NewQuery2[ecs.Ref[Position], ecs.Mut[Position], ecs.NoFilter](w) })
	assertConflict("write twice", func() { ecs.NewQuery2[ecs.Mut[Position], ecs.Mut[Position], ecs.NoFilter](w) })
	assertConflict("optional read then write", func() {
		ecs.NewQuery2[ecs.Opt[ecs.Ref[Position]], ecs.Mut[Position], ecs.NoFilter](w)
	})
	assertConflict("nested optional write then read", func() {
		ecs.NewQuery2[ecs.Opt[ecs.Opt[ecs.Mut[Position]]], ecs.Track[Position], ecs.NoFilter](w)
	})

	assert.NotPanics(t, func() { ecs.NewQuery2[ecs.Ref[Position], ecs.Ref[Position], ecs.NoFilter](w) })
	assert.NotPanics(t, func() { ecs.NewQuery1[ecs.Mut[Position], ecs.Changed[Position]](w) })
}

func TestQueryOptionalAndFilters(t *testing.T) {
	w := ecs.NewWorld()
	moving := w.Spawn(Position{X: 1}, Velocity{X: 1}).ID()
	still := w.Spawn(Position{X: 2}).ID()
	w.Spawn(Velocity{X: 3})

	q := ecs.NewQuery2[ecs.Ref[Position], ecs.Opt[ecs.Ref[Velocity]], ecs.NoFilter](w)
	got := map[ecs.Entity]bool{}
	q.Iter(func(e ecs.Entity, _ ecs.Ref[Position], vel ecs.Opt[ecs.Ref[Velocity]]) bool {
		_, ok := vel.Get()
		got[e] = ok
		return true
	})
	assert.Equal(t, map[ecs.Entity]bool{moving: true, still: false}, got)

	without := ecs.NewQuery1[ecs.Ref[Position], ecs.Without[Velocity]](w)
	assert.Equal(t, 1, without.Count())
	e, pos, err := without.Single()
	require.NoError(t, err)
	assert.Equal(t, still, e)
	assert.Equal(t, 2.0, pos.Get().X)

	either := ecs.NewQuery1[ecs.Ref[Position], ecs.Or[ecs.With[Velocity], ecs.Without[Velocity]]](w)
	assert.Equal(t, 2, either.Count())

	both := ecs.NewQuery1[ecs.Ref[Position], ecs.And[ecs.With[Velocity], ecs.Without[Health]]](w)
	assert.Equal(t, 1, both.Count())
}

func TestQueryDenseAndSparseIterationAgree(t *testing.T) {
	w := ecs.NewWorld()
	var want []float64
	for i := 0; i < 6; i++ {
		m := w.Spawn(Position{X: float64(i)})
		switch i % 3 {
		case 1:
			m.Insert(Velocity{})
		case 2:
			m.Insert(SparseTag{N: i})
		}
		want = append(want, float64(i))
	}

	dense := ecs.NewQuery1[ecs.Ref[Position], ecs.NoFilter](w)
	sparse := ecs.NewQuery2[ecs.Ref[Position], ecs.Opt[ecs.Ref[SparseTag]], ecs.NoFilter](w)
	require.True(t, dense.State().IsDense())
	require.False(t, sparse.State().IsDense())

	var viaDense, viaSparse []float64
	dense.ForEach(func(_ ecs.Entity, pos ecs.Ref[Position]) { viaDense = append(viaDense, pos.Get().X) })
	sparse.ForEach(func(_ ecs.Entity, pos ecs.Ref[Position], _ ecs.Opt[ecs.Ref[SparseTag]]) {
		viaSparse = append(viaSparse, pos.Get().X)
	})
	sort.Float64s(viaDense)
	sort.Float64s(viaSparse)
	assert.Equal(t, want, viaDense)
	assert.Equal(t, want, viaSparse)
}

func TestQueryGetErrors(t *testing.T) {
	w := ecs.NewWorld()
	q := ecs.NewQuery1[ecs.Ref[Position], ecs.NoFilter](w)
	noPos := w.Spawn(Velocity{}).ID()
	dead := w.Spawn(Position{}).ID()
	w.Despawn(dead)

	_, err := q.Get(noPos)
	var qerr *ecs.QueryEntityError
	require.True(t, errors.As(err, &qerr))
	assert.Equal(t, noPos, qerr.Entity)
	assert.True(t, errors.Is(err, ecs.ErrQueryDoesNotMatch))

	_, err = q.Get(dead)
	assert.True(t, errors.Is(err, ecs.ErrNoSuchEntity))

	_, _, err = q.Single()
	assert.True(t, errors.Is(err, ecs.ErrNoEntities))
	w.Spawn(Position{})
	w.Spawn(Position{})
	_, _, err = q.Single()
	assert.True(t, errors.Is(err, ecs.ErrMultipleEntities))
}

func TestQueryIterRequiresReadOnly(t *testing.T) {
	w := ecs.NewWorld()
	w.Spawn(Position{})
	q := ecs.NewQuery1[ecs.Mut[Position], ecs.NoFilter](w)

	assert.Panics(t, func() { q.Iter(func(ecs.Entity, ecs.Mut[Position]) bool { return true }) })
	q.IterMut(func(_ ecs.Entity, pos ecs.Mut[Position]) bool {
		pos.Mut().X = 5
		return true
	})
	_, pos, err := q.Single()
	require.NoError(t, err)
	assert.Equal(t, 5.0, pos.Get().X)
}

func TestQueryParForEach(t *testing.T) {
	w := ecs.NewWorld()
	for i := 0; i < 100; i++ {
		m := w.Spawn(Position{X: 1}, Velocity{X: float64(i)})
		if i%2 == 0 {
			m.Insert(SparseTag{})
		}
	}
	q := ecs.NewQuery2[ecs.Mut[Position], ecs.Ref[Velocity], ecs.NoFilter](w)

	var visited atomic.Int64
	err := q.ParForEach(7, func(_ ecs.Entity, pos ecs.Mut[Position], vel ecs.Ref[Velocity]) error {
		pos.Mut().X += vel.Get().X
		visited.Add(1)
		return nil
	})
	require.NoError(t, err)
	assert.EqualValues(t, 100, visited.Load())

	sum := 0.0
	q.ForEach(func(_ ecs.Entity, pos ecs.Mut[Position], _ ecs.Ref[Velocity]) { sum += pos.Get().X })
	assert.Equal(t, 100.0+4950.0, sum)

	boom := errors.New("boom")
	err = q.ParForEach(10, func(ecs.Entity, ecs.Mut[Position], ecs.Ref[Velocity]) error { return boom })
	assert.ErrorIs(t, err, boom)
}

func TestQueryAddedAndChangedFilters(t *testing.T) {
	w := ecs.NewWorld()
	old := w.Spawn(Position{}).ID()
	w.ClearTrackers()
	fresh := w.Spawn(Position{}).ID()

	added := ecs.NewQuery1[ecs.Ref[Position], ecs.Added[Position]](w)
	changed := ecs.NewQuery1[ecs.Ref[Position], ecs.Changed[Position]](w)
	collect := func(q *ecs.Query1[ecs.Ref[Position], ecs.Added[Position]]) []ecs.Entity {
		var out []ecs.Entity
		q.Iter(func(e ecs.Entity, _ ecs.Ref[Position]) bool {
			out = append(out, e)
			return true
		})
		return out
	}
	assert.Equal(t, []ecs.Entity{fresh}, collect(added))

	w.ClearTrackers()
	_, ok := ecs.GetMut[Position](w, old)
	require.True(t, ok)
	assert.Empty(t, collect(added))
	_, pos, err := changed.Single()
	require.NoError(t, err)
	assert.NotNil(t, pos.Get())
	_, err = changed.Get(fresh)
	assert.True(t, errors.Is(err, ecs.ErrQueryDoesNotMatch))
}

func TestQueryMatchesArchetypesCreatedLater(t *testing.T) {
	w := ecs.NewWorld()
	q := ecs.NewQuery1[ecs.Ref[Health], ecs.NoFilter](w)
	assert.True(t, q.IsEmpty())

	w.Spawn(Health{HP: 1})
	w.Spawn(Health{HP: 2}, Marker{})
	assert.Equal(t, 2, q.Count())
}

func TestQueryStateUsedWithAnotherWorldPanics(t *testing.T) {
	w := ecs.NewWorld()
	other := ecs.NewWorld()
	state := ecs.NewQueryState(w, []ecs.Term{ecs.ReadTerm(component.ComponentKind[Position](w.Components()))})

	assert.Panics(t, func() { state.UpdateArchetypes(other) })
	assert.NotPanics(t, func() { state.UpdateArchetypes(w) })
}

func TestQuerySingleAtEveryArity(t *testing.T) {
	w := ecs.NewWorld()
	q3 := ecs.NewQuery3[ecs.Ref[Position], ecs.Ref[Velocity], ecs.Ref[Health], ecs.NoFilter](w)
	q4 := ecs.NewQuery4[ecs.Ref[Position], ecs.Ref[Velocity], ecs.Ref[Health], ecs.Opt[ecs.Ref[Marker]], ecs.NoFilter](w)

	_, _, _, _, err := q3.Single()
	assert.True(t, errors.Is(err, ecs.ErrNoEntities))

	e := w.Spawn(Position{X: 1}, Velocity{X: 2}, Health{HP: 3}).ID()
	got, pos, vel, hp, err := q3.Single()
	require.NoError(t, err)
	assert.Equal(t, e, got)
	assert.Equal(t, 1.0, pos.Get().X)
	assert.Equal(t, 2.0, vel.Get().X)
	assert.Equal(t, 3, hp.Get().HP)

	got, _, _, hp, marker, err := q4.Single()
	require.NoError(t, err)
	assert.Equal(t, e, got)
	assert.Equal(t, 3, hp.Get().HP)
	_, ok := marker.Get()
	assert.False(t, ok)

	w.Spawn(Position{}, Velocity{}, Health{})
	_, _, _, _, _, err = q4.Single()
	assert.True(t, errors.Is(err, ecs.ErrMultipleEntities))
}
