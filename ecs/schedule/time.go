package schedule

import (
	"time"

	ecs "github.com/DangerosoDavo/archecs"
)

// Time is the frame clock resource read by FixedTimestep.
type Time struct {
	startup time.Time
	last    time.Time
	delta   time.Duration
	elapsed time.Duration
}

func NewTime(now time.Time) Time {
	return Time{startup: now, last: now}
}

// Update advances the clock to now.
func (t *Time) Update(now time.Time) {
	if t.last.IsZero() {
		t.startup, t.last = now, now
		return
	}
	t.Advance(now.Sub(t.last))
}

// Advance moves the clock by d without consulting the wall clock.
func (t *Time) Advance(d time.Duration) {
	t.delta = d
	t.elapsed += d
	t.last = t.last.Add(d)
}

func (t *Time) Delta() time.Duration   { return t.delta }
func (t *Time) Elapsed() time.Duration { return t.elapsed }
func (t *Time) Startup() time.Time     { return t.startup }

// UpdateTime is a system that advances the Time resource to the wall clock.
func UpdateTime(t ecs.ResMut[Time]) {
	t.Mut().Update(time.Now())
}

// FixedTimestepState is the accumulator of one fixed timestep criteria.
type FixedTimestepState struct {
	Step        time.Duration
	Accumulator time.Duration
	looping     bool
}

// Overstep is how far the accumulator is into the next step, as a fraction of the step.
func (s FixedTimestepState) Overstep() float64 {
	if s.Step <= 0 {
		return 0
	}
	return float64(s.Accumulator) / float64(s.Step)
}

func (s *FixedTimestepState) update(delta time.Duration) ShouldRun {
	if !s.looping {
		s.Accumulator += delta
	}
	if s.Accumulator >= s.Step {
		s.Accumulator -= s.Step
		s.looping = true
		return YesAndCheckAgain
	}
	s.looping = false
	return No
}

// FixedTimesteps exposes the state of every labelled FixedTimestep.
type FixedTimesteps struct {
	states map[string]FixedTimestepState
}

func (f *FixedTimesteps) Get(label string) (FixedTimestepState, bool) {
	s, ok := f.states[label]
	return s, ok
}

// FixedTimestep is a looping run criteria: every frame it runs the guarded systems once per full
// step of Time's delta that accumulated since the last frame.
type FixedTimestep struct {
	step  time.Duration
	label string
}

func NewFixedTimestep(step time.Duration) *FixedTimestep {
	return &FixedTimestep{step: step}
}

func FixedTimestepsPerSecond(rate float64) *FixedTimestep {
	return NewFixedTimestep(time.Duration(float64(time.Second) / rate))
}

// WithLabel publishes the state under label in the FixedTimesteps resource, if the world has one.
func (f *FixedTimestep) WithLabel(label string) *FixedTimestep {
	f.label = label
	return f
}

// System builds the criteria system. It requires a Time resource.
func (f *FixedTimestep) System() ecs.System {
	step, label := f.step, f.label
	return ecs.NewFunctionSystem("FixedTimestep", func(
		state ecs.Local[FixedTimestepState],
		clock ecs.Res[Time],
		published ecs.OptResMut[FixedTimesteps],
	) ShouldRun {
		s := state.Get()
		s.Step = step
		result := s.update(clock.Get().Delta())
		if steps, ok := published.Get(); ok && label != "" {
			if steps.states == nil {
				steps.states = make(map[string]FixedTimestepState)
			}
			steps.states[label] = *s
		}
		return result
	})
}
