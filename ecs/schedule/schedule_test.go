package schedule

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	ecs "github.com/DangerosoDavo/archecs"
)

func TestScheduleStageOrder(t *testing.T) {
	s := NewSchedule().
		AddStage("b", NewSingleThreadedStage()).
		AddStageBefore("b", "a", NewSingleThreadedStage()).
		AddStageAfter("b", "d", NewSingleThreadedStage()).
		AddStageAfter("b", "c", NewSingleThreadedStage())
	assert.Equal(t, []StageLabel{"a", "b", "c", "d"}, s.StageLabels())

	s.AddSystemToStage("d", makeParallel(3)).
		AddSystemToStage("a", makeParallel(0)).
		AddSystemSetToStage("c", NewSystemSet().WithSystem(makeParallel(2))).
		AddSystemToStage("b", makeParallel(1))

	w := newTagWorld()
	s.Run(w)
	require.Equal(t, []int{0, 1, 2, 3}, tags(w))

	_, ok := s.Stage("c")
	assert.True(t, ok)
	_, ok = s.Stage("z")
	assert.False(t, ok)
}

func TestScheduleLabelErrors(t *testing.T) {
	s := NewSchedule().AddStage(Update, NewSingleThreadedStage())
	require.ErrorIs(t, capturePanic(func() { s.AddStage(Update, NewSingleThreadedStage()) }), ErrDuplicateStageLabel)
	require.ErrorIs(t, capturePanic(func() { s.AddStageAfter("missing", "x", NewSingleThreadedStage()) }), ErrUnknownStage)
	require.ErrorIs(t, capturePanic(func() { s.AddSystemToStage("missing", makeParallel(0)) }), ErrUnknownStage)

	s.AddStage("nested", NewSchedule())
	require.ErrorIs(t, capturePanic(func() { s.AddSystemToStage("nested", makeParallel(0)) }), ErrUnknownStage)
}

func TestDefaultScheduleRunsStartupOnce(t *testing.T) {
	s := NewDefaultSchedule()
	defer s.Close()
	assert.Equal(t, []StageLabel{StartupSchedule, First, PreUpdate, Update, PostUpdate, Last}, s.StageLabels())

	startup, ok := s.Stage(StartupSchedule)
	require.True(t, ok)
	startup.(*Schedule).AddSystemToStage(Startup, makeParallel(0))
	s.AddSystemToStage(Update, makeParallel(1)).
		AddSystemToStage(Last, makeParallel(2))

	w := newTagWorld()
	r := Runner{World: w, Schedule: s}
	r.Update()
	r.Update()
	require.Equal(t, []int{0, 1, 2, 1, 2}, tags(w))
}

func TestScheduleRunCriteria(t *testing.T) {
	w := newTagWorld()
	s := NewSchedule().
		AddStage(Update, NewSingleStage(makeParallel(5))).
		WithRunCriteria(everyOtherTime)
	for i := 0; i < 4; i++ {
		s.Run(w)
	}
	require.Equal(t, []int{5, 5}, tags(w))

	looping := NewSchedule().
		AddStage(Update, NewSingleStage(makeParallel(6))).
		WithRunCriteria(NewFixedTimestep(1).System())
	ecs.InsertResource(w, Time{})
	ecs.Resource[Time](w).Advance(3)
	clearTags(w)
	looping.Run(w)
	require.Equal(t, []int{6, 6, 6}, tags(w))
}

type gameState int

const (
	menu gameState = iota
	playing
	paused
)

func TestStateTransitions(t *testing.T) {
	w := newTagWorld()
	AddState(w, menu)

	transitions := NewStateTransitions[gameState]()
	transitions.OnEnter(menu).AddSystem(makeExclusive(10))
	transitions.OnExit(menu).AddSystem(makeExclusive(11))
	transitions.OnEnter(playing).AddSystem(makeExclusive(20))
	transitions.OnEnter(paused).AddSystem(Describe(ecs.NewExclusiveSystem("unpause", func(w *ecs.World) {
		ecs.Resource[NextState[gameState]](w).Set(playing)
	})))
	transitions.OnExit(paused).AddSystem(makeExclusive(31))

	update := NewSingleThreadedStage().
		AddSystem(makeParallel(1).WithRunCriteria(NewRunCriteria(InState(playing))))

	s := NewSchedule().
		AddStage("transitions", transitions).
		AddStage(Update, update)

	s.Run(w)
	require.Equal(t, []int{10}, tags(w))

	ecs.Resource[NextState[gameState]](w).Set(playing)
	s.Run(w)
	require.Equal(t, []int{10, 11, 20, 1}, tags(w))

	ecs.Resource[NextState[gameState]](w).Set(paused)
	s.Run(w)
	require.Equal(t, []int{10, 11, 20, 1, 31, 20, 1}, tags(w))
	assert.Equal(t, playing, ecs.Resource[State[gameState]](w).Get())
}

func TestApplyStateTransitionSystem(t *testing.T) {
	w := newTagWorld()
	AddState(w, menu)
	s := NewSingleThreadedStage().AddSystem(ApplyStateTransitionSystem[gameState]())

	s.Run(w)
	assert.Equal(t, menu, ecs.Resource[State[gameState]](w).Get())

	ecs.Resource[NextState[gameState]](w).Set(paused)
	s.Run(w)
	assert.Equal(t, paused, ecs.Resource[State[gameState]](w).Get())
	_, pending := ecs.Resource[NextState[gameState]](w).Pending()
	assert.False(t, pending)
}

func TestRunOnce(t *testing.T) {
	w := newTagWorld()
	s := NewSingleThreadedStage().AddSystem(makeParallel(4).WithRunCriteria(NewRunCriteria(RunOnce())))
	runTimes(s, w, 3)
	require.Equal(t, []int{4}, tags(w))
}
