package schedule

import (
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	ecs "github.com/DangerosoDavo/archecs"
)

var errBoom = errors.New("boom")

func TestParallelExecutorRunsCompatibleSystemsConcurrently(t *testing.T) {
	w := ecs.NewWorld()
	ecs.InsertResource(w, R{})

	first, second := make(chan struct{}), make(chan struct{})
	var overlapped atomic.Int32
	rendezvous := func(mine, theirs chan struct{}) func(ecs.Res[R]) {
		return func(ecs.Res[R]) {
			close(mine)
			select {
			case <-theirs:
				overlapped.Add(1)
			case <-time.After(2 * time.Second):
			}
		}
	}

	s := New(NewParallelExecutor(2)).
		AddSystem(NamedFn("first", rendezvous(first, second))).
		AddSystem(NamedFn("second", rendezvous(second, first)))
	defer s.Close()
	s.Run(w)
	assert.EqualValues(t, 2, overlapped.Load())
}

func TestParallelExecutorRunsNonSendOnDrivingGoroutine(t *testing.T) {
	w := ecs.NewWorld()
	ecs.InsertNonSend(w, R{})
	var ran atomic.Int32
	s := New(NewParallelExecutor(4)).
		AddSystem(NamedFn("reader", func(ecs.NonSend[R]) { ran.Add(1) })).
		AddSystem(NamedFn("writer", func(ecs.NonSendMut[R]) { ran.Add(1) }))
	defer s.Close()

	require.NotPanics(t, func() { s.Run(w) })
	assert.EqualValues(t, 2, ran.Load())
	for _, c := range s.ParallelSystems() {
		assert.False(t, c.System().Meta().IsSend(), c.Name())
	}
}

func TestParallelExecutorReraisesSystemPanics(t *testing.T) {
	w := newTagWorld()
	s := New(NewParallelExecutor(2)).
		AddSystem(NamedFn("explodes", func() { panic(errBoom) }).Label("boom")).
		AddSystem(makeParallel(1).After("boom"))
	defer s.Close()

	require.ErrorIs(t, capturePanic(func() { s.Run(w) }), errBoom)
	assert.Empty(t, tags(w))
}

func TestParallelExecutorFallsBackInlineWhenClosed(t *testing.T) {
	w := newTagWorld()
	executor := NewParallelExecutor(2)
	s := New(executor).
		AddSystem(makeParallel(0).Label("0")).
		AddSystem(makeParallel(1).After("0"))
	s.Run(w)
	executor.Close()
	s.Run(w)
	require.Equal(t, []int{0, 1, 0, 1}, tags(w))
}

func TestParallelExecutorSkipsSystemsThatShouldNotRun(t *testing.T) {
	w := newTagWorld()
	s := New(NewParallelExecutor(0)).
		AddSystem(makeParallel(0).Label("0").WithRunCriteria(NewRunCriteria(func() bool { return false }))).
		AddSystem(makeParallel(1).After("0"))
	defer s.Close()
	runTimes(s, w, 2)
	require.Equal(t, []int{1, 1}, tags(w))
	assert.Positive(t, s.Executor().(*ParallelExecutor).Workers())
}
