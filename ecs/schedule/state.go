package schedule

import (
	"fmt"

	ecs "github.com/DangerosoDavo/archecs"
)

// State is the resource holding the current value of a state machine.
type State[S comparable] struct {
	current S
}

func (s State[S]) Get() S { return s.current }

// NextState queues a transition, applied by ApplyStateTransition or a StateTransitions stage.
type NextState[S comparable] struct {
	next    S
	pending bool
}

func (n *NextState[S]) Set(s S) { n.next, n.pending = s, true }

func (n *NextState[S]) Pending() (S, bool) { return n.next, n.pending }

// AddState inserts State and NextState resources starting at initial.
func AddState[S comparable](w *ecs.World, initial S) {
	ecs.InsertResource(w, State[S]{current: initial})
	ecs.InsertResource(w, NextState[S]{})
}

// InState returns a run criteria that runs the guarded systems while the state equals s.
func InState[S comparable](s S) ecs.System {
	return ecs.NewFunctionSystem(fmt.Sprintf("InState(%v)", s), func(state ecs.Res[State[S]]) ShouldRun {
		if state.Get().current == s {
			return Yes
		}
		return No
	})
}

// ApplyStateTransition moves a pending NextState into State. It reports the states it moved
// between, or ok == false when nothing was pending.
func ApplyStateTransition[S comparable](w *ecs.World) (from, to S, ok bool) {
	next, hasNext := ecs.GetResourceMut[NextState[S]](w)
	state, hasState := ecs.GetResourceMut[State[S]](w)
	if !hasNext || !hasState || !next.pending {
		return from, to, false
	}
	from, to = state.current, next.next
	state.current = to
	next.pending = false
	return from, to, true
}

// ApplyStateTransitionSystem wraps ApplyStateTransition as an exclusive system for stages that do
// not need OnEnter or OnExit stages.
func ApplyStateTransitionSystem[S comparable]() *SystemDescriptor {
	var zero S
	return Describe(ecs.NewExclusiveSystem(fmt.Sprintf("ApplyStateTransition[%T]", zero), func(w *ecs.World) {
		ApplyStateTransition[S](w)
	}))
}

// StateTransitions is a stage that applies pending transitions of S, running the OnExit stage of
// the old state and the OnEnter stage of the new one. The OnEnter stage of the initial state runs
// on the first run.
type StateTransitions[S comparable] struct {
	onEnter map[S]*SystemStage
	onExit  map[S]*SystemStage
	opts    []StageOption
	entered bool
}

// NewStateTransitions returns a transition stage whose OnEnter and OnExit stages use opts.
func NewStateTransitions[S comparable](opts ...StageOption) *StateTransitions[S] {
	return &StateTransitions[S]{
		onEnter: make(map[S]*SystemStage),
		onExit:  make(map[S]*SystemStage),
		opts:    opts,
	}
}

func (t *StateTransitions[S]) stage(stages map[S]*SystemStage, s S, kind string) *SystemStage {
	stage, ok := stages[s]
	if !ok {
		opts := append([]StageOption{WithStageName(fmt.Sprintf("%s(%v)", kind, s))}, t.opts...)
		stage = NewSingleThreadedStage(opts...)
		stages[s] = stage
	}
	return stage
}

// OnEnter is the stage run when the state becomes s.
func (t *StateTransitions[S]) OnEnter(s S) *SystemStage { return t.stage(t.onEnter, s, "OnEnter") }

// OnExit is the stage run when the state leaves s.
func (t *StateTransitions[S]) OnExit(s S) *SystemStage { return t.stage(t.onExit, s, "OnExit") }

// Run applies transitions until none is pending, so OnEnter systems may queue another one.
func (t *StateTransitions[S]) Run(w *ecs.World) {
	if !t.entered {
		t.entered = true
		if state, ok := ecs.GetResource[State[S]](w); ok {
			if stage, ok := t.onEnter[state.current]; ok {
				stage.Run(w)
			}
		}
	}
	for {
		from, to, ok := ApplyStateTransition[S](w)
		if !ok {
			return
		}
		w.Logger().Debug("state transition", "from", from, "to", to)
		if stage, ok := t.onExit[from]; ok {
			stage.Run(w)
		}
		if stage, ok := t.onEnter[to]; ok {
			stage.Run(w)
		}
	}
}
