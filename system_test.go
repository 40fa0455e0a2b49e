package ecs_test

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	ecs "github.com/DangerosoDavo/archecs"
	"github.com/DangerosoDavo/archecs/ecs/component"
)

func recoveredError(t *testing.T, fn func()) (err error) {
	t.Helper()
	defer func() {
		r := recover()
		require.NotNil(t, r, "expected a panic")
		e, ok := r.(error)
		require.True(t, ok, "panic value %v is not an error", r)
		err = e
	}()
	fn()
	return nil
}

func TestSystemParamConflictPanics(t *testing.T) {
	w := ecs.NewWorld()
	ecs.InsertResource(w, counter{})

	err := recoveredError(t, func() {
		ecs.NewFunctionSystem("", func(ecs.ResMut[counter], ecs.Res[counter]) {}).Initialize(w)
	})
	assert.True(t, errors.Is(err, ecs.ErrSystemAccessConflict))

	err = recoveredError(t, func() {
		ecs.NewFunctionSystem("", func(*ecs.Query1[ecs.Mut[Position], ecs.NoFilter], *ecs.Query1[ecs.Ref[Position], ecs.NoFilter]) {}).Initialize(w)
	})
	assert.True(t, errors.Is(err, ecs.ErrSystemAccessConflict))

	assert.NotPanics(t, func() {
		ecs.NewFunctionSystem("", func(
			*ecs.Query1[ecs.Mut[Position], ecs.With[Velocity]],
			*ecs.Query1[ecs.Mut[Position], ecs.Without[Velocity]],
		) {
		}).Initialize(w)
	}, "disjoint filters make two writers compatible")
}

func TestSystemMissingResourcePanics(t *testing.T) {
	w := ecs.NewWorld()
	sys := ecs.NewFunctionSystem("needs_counter", func(ecs.Res[counter]) {})
	sys.Initialize(w)

	err := recoveredError(t, func() { sys.Run(nil, w) })
	assert.True(t, errors.Is(err, ecs.ErrResourceNotFound))
	assert.Contains(t, err.Error(), "needs_counter")

	opt := ecs.NewFunctionSystem("", func(r ecs.OptRes[counter]) bool {
		_, ok := r.Get()
		return ok
	})
	assert.Equal(t, false, runSystem(w, opt))
}

func TestSystemRejectsInvalidFunctions(t *testing.T) {
	err := recoveredError(t, func() { ecs.NewFunctionSystem("", 42) })
	assert.True(t, errors.Is(err, ecs.ErrInvalidSystem))

	err = recoveredError(t, func() { ecs.NewFunctionSystem("", func(int) {}) })
	assert.True(t, errors.Is(err, ecs.ErrInvalidSystem))

	err = recoveredError(t, func() { ecs.NewFunctionSystem("", func(ecs.Res[counter], ecs.In[int]) {}) })
	assert.True(t, errors.Is(err, ecs.ErrInvalidSystem))
}

func integrate(q *ecs.Query2[ecs.Mut[Position], ecs.Ref[Velocity], ecs.NoFilter]) {
	q.ForEach(func(_ ecs.Entity, pos ecs.Mut[Position], vel ecs.Ref[Velocity]) {
		p := pos.Mut()
		p.X += vel.Get().X
		p.Y += vel.Get().Y
	})
}

func TestSystemMovesEntities(t *testing.T) {
	w := ecs.NewWorld()
	moving := w.Spawn(Position{}, Velocity{X: 1, Y: 2}).ID()
	still := w.Spawn(Position{X: 5}).ID()
	sys := ecs.NewFunctionSystem("", integrate)

	for i := 0; i < 3; i++ {
		runSystem(w, sys)
	}
	pos, ok := ecs.Get[Position](w, moving)
	require.True(t, ok)
	assert.Equal(t, Position{X: 3, Y: 6}, *pos)
	pos, ok = ecs.Get[Position](w, still)
	require.True(t, ok)
	assert.Equal(t, Position{X: 5}, *pos)
	assert.Contains(t, sys.Name(), "integrate")
}

func TestSystemSeesChangesSinceLastRun(t *testing.T) {
	w := ecs.NewWorld()
	e := w.Spawn(Position{}).ID()
	var seen []int
	sys := ecs.NewFunctionSystem("", func(q *ecs.Query1[ecs.Ref[Position], ecs.Changed[Position]]) {
		seen = append(seen, q.Count())
	})

	runSystem(w, sys)
	runSystem(w, sys)
	_, ok := ecs.GetMut[Position](w, e)
	require.True(t, ok)
	runSystem(w, sys)
	assert.Equal(t, []int{1, 0, 1}, seen)
}

func TestSystemCommandsApplyWithBuffers(t *testing.T) {
	w := ecs.NewWorld()
	sys := ecs.NewFunctionSystem("", func(cmds *ecs.Commands, q *ecs.Query1[ecs.Ref[Health], ecs.NoFilter]) {
		if q.IsEmpty() {
			cmds.Spawn().Insert(Health{HP: 10})
		}
	})
	sys.Initialize(w)
	sys.UpdateArchetypeComponentAccess(w)
	sys.Run(nil, w)
	assert.Zero(t, ecs.NewQuery1[ecs.Ref[Health], ecs.NoFilter](w).Count(), "commands wait for ApplyBuffers")

	sys.ApplyBuffers(w)
	runSystem(w, sys)
	assert.Equal(t, 1, ecs.NewQuery1[ecs.Ref[Health], ecs.NoFilter](w).Count())
}

func TestSystemEvents(t *testing.T) {
	type ping struct{ N int }
	w := ecs.NewWorld()
	ecs.AddEvent[ping](w)

	send := ecs.NewFunctionSystem("", func(out ecs.EventWriter[ping], frame ecs.Local[int]) {
		*frame.Get()++
		out.Send(ping{N: *frame.Get()})
	})
	var got []int
	read := ecs.NewFunctionSystem("", func(in ecs.EventReader[ping]) {
		for _, ev := range in.Read() {
			got = append(got, ev.N)
		}
	})
	update := ecs.NewFunctionSystem("", ecs.UpdateEvents[ping])

	for i := 0; i < 3; i++ {
		runSystem(w, send)
		runSystem(w, read)
		runSystem(w, update)
	}
	assert.Equal(t, []int{1, 2, 3}, got)

	runSystem(w, update)
	runSystem(w, update)
	assert.Zero(t, ecs.Resource[ecs.Events[ping]](w).Len(), "events live for two updates")
}

func TestSystemRemovedComponents(t *testing.T) {
	w := ecs.NewWorld()
	a := w.Spawn(Health{}).ID()
	b := w.Spawn(Health{}).ID()
	var removed []ecs.Entity
	sys := ecs.NewFunctionSystem("", func(r ecs.RemovedComponents[Health]) {
		removed = append(removed, r.Entities()...)
	})

	ecs.Remove[Health](w, a)
	w.Despawn(b)
	runSystem(w, sys)
	assert.Equal(t, []ecs.Entity{a, b}, removed)

	w.ClearTrackers()
	removed = nil
	runSystem(w, sys)
	assert.Empty(t, removed)
}

func TestSystemPipe(t *testing.T) {
	w := ecs.NewWorld()
	ecs.InsertResource(w, counter{n: 20})

	produce := ecs.NewFunctionSystem("produce", func(c ecs.Res[counter]) int { return c.Get().n + 1 })
	consume := ecs.NewFunctionSystem("consume", func(in ecs.In[int], c ecs.ResMut[counter]) error {
		c.Mut().n = in.Value * 2
		return nil
	})
	pipe := ecs.Pipe(produce, consume)

	assert.Nil(t, runSystem(w, pipe))
	assert.Equal(t, 42, ecs.Resource[counter](w).n)
	assert.Equal(t, "Pipe(produce, consume)", pipe.Name())
	assert.True(t, pipe.Meta().ComponentAccess().Combined().HasWrite(component.ResourceKind[counter](w.Components())))
}

func TestSystemExclusive(t *testing.T) {
	w := ecs.NewWorld()
	e := w.Spawn(Position{}).ID()
	var counts []int
	sys := ecs.NewExclusiveSystem("exclusive", func(w *ecs.World) {
		counts = append(counts, ecs.NewQuery1[ecs.Ref[Position], ecs.Changed[Position]](w).Count())
		w.Spawn(Health{})
	})

	sys.Initialize(w)
	sys.Run(nil, w)
	sys.Run(nil, w)
	_, ok := ecs.GetMut[Position](w, e)
	require.True(t, ok)
	sys.Run(nil, w)
	assert.Equal(t, []int{1, 0, 1}, counts)
	assert.Equal(t, 4, w.Len())
	assert.True(t, sys.IsExclusive())
}

func TestSystemBoundToOneWorld(t *testing.T) {
	sys := ecs.NewFunctionSystem("", integrate)
	sys.Initialize(ecs.NewWorld())

	err := recoveredError(t, func() { sys.Initialize(ecs.NewWorld()) })
	assert.True(t, errors.Is(err, ecs.ErrWorldMismatch))
}

func TestSystemRollbackBuffers(t *testing.T) {
	w := ecs.NewWorld()
	queue := func(c *ecs.Commands) int {
		c.InsertResource(counter{n: 1})
		return 0
	}
	also := func(in ecs.In[int], c *ecs.Commands) {
		c.Spawn().Insert(Health{HP: in.Value})
	}
	pipe := ecs.Pipe(ecs.NewFunctionSystem("queue", queue), ecs.NewFunctionSystem("also", also))
	pipe.Initialize(w)

	marks := pipe.MarkBuffers()
	require.Len(t, marks, 2)
	pipe.Run(nil, w)
	assert.Equal(t, 2, pipe.RollbackBuffers(marks))

	require.NoError(t, pipe.ApplyBuffers(w))
	_, ok := ecs.GetResource[counter](w)
	assert.False(t, ok, "rolled back commands are never applied")
	assert.Zero(t, ecs.NewQuery1[ecs.Ref[Health], ecs.NoFilter](w).Count())
}
