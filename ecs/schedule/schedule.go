package schedule

import (
	ecs "github.com/DangerosoDavo/archecs"
)

// Schedule runs labelled stages in order. A Schedule is itself a Stage, so schedules nest.
type Schedule struct {
	stages   map[StageLabel]Stage
	order    []StageLabel
	criteria stageCriteria
}

func NewSchedule() *Schedule {
	return &Schedule{stages: make(map[StageLabel]Stage)}
}

// NewDefaultSchedule returns a schedule with a startup schedule that runs once, followed by the
// First, PreUpdate, Update, PostUpdate and Last stages. Every SystemStage uses opts.
func NewDefaultSchedule(opts ...StageOption) *Schedule {
	stage := func(label StageLabel) *SystemStage {
		return NewParallelStage(append([]StageOption{WithStageName(string(label))}, opts...)...)
	}
	startup := NewSchedule().WithRunCriteria(RunOnce())
	for _, label := range []StageLabel{PreStartup, Startup, PostStartup} {
		startup.AddStage(label, stage(label))
	}
	s := NewSchedule().AddStage(StartupSchedule, startup)
	for _, label := range []StageLabel{First, PreUpdate, Update, PostUpdate, Last} {
		s.AddStage(label, stage(label))
	}
	return s
}

func (s *Schedule) insert(label StageLabel, stage Stage) {
	if _, ok := s.stages[label]; ok {
		panic(wrapf(ErrDuplicateStageLabel, "stage %q already exists", label))
	}
	s.stages[label] = stage
}

func (s *Schedule) position(label StageLabel) int {
	for i, l := range s.order {
		if l == label {
			return i
		}
	}
	panic(wrapf(ErrUnknownStage, "target stage %q does not exist", label))
}

// AddStage appends stage under label. Adding a label twice panics.
func (s *Schedule) AddStage(label StageLabel, stage Stage) *Schedule {
	s.insert(label, stage)
	s.order = append(s.order, label)
	return s
}

// AddStageAfter inserts stage right after the stage labelled target.
func (s *Schedule) AddStageAfter(target, label StageLabel, stage Stage) *Schedule {
	at := s.position(target) + 1
	s.insert(label, stage)
	s.order = append(s.order[:at], append([]StageLabel{label}, s.order[at:]...)...)
	return s
}

// AddStageBefore inserts stage right before the stage labelled target.
func (s *Schedule) AddStageBefore(target, label StageLabel, stage Stage) *Schedule {
	at := s.position(target)
	s.insert(label, stage)
	s.order = append(s.order[:at], append([]StageLabel{label}, s.order[at:]...)...)
	return s
}

// WithRunCriteria guards the whole schedule. NoAndCheckAgain is not allowed here.
func (s *Schedule) WithRunCriteria(criteria any) *Schedule {
	s.criteria = stageCriteria{system: toSystem(criteria)}
	return s
}

// Stage returns the stage labelled label.
func (s *Schedule) Stage(label StageLabel) (Stage, bool) {
	stage, ok := s.stages[label]
	return stage, ok
}

// SystemStage returns the stage labelled label, panicking if it is missing or not a *SystemStage.
func (s *Schedule) SystemStage(label StageLabel) *SystemStage {
	stage, ok := s.stages[label].(*SystemStage)
	if !ok {
		panic(wrapf(ErrUnknownStage, "stage %q does not exist or is not a SystemStage", label))
	}
	return stage
}

// StageLabels lists the stages in run order.
func (s *Schedule) StageLabels() []StageLabel {
	return append([]StageLabel(nil), s.order...)
}

func (s *Schedule) AddSystemToStage(label StageLabel, d *SystemDescriptor) *Schedule {
	s.SystemStage(label).AddSystem(d)
	return s
}

func (s *Schedule) AddSystemSetToStage(label StageLabel, set *SystemSet) *Schedule {
	s.SystemStage(label).AddSystemSet(set)
	return s
}

// RunOnce runs every stage once, ignoring the schedule's run criteria.
func (s *Schedule) RunOnce(w *ecs.World) {
	for _, label := range s.order {
		s.stages[label].Run(w)
	}
}

func (s *Schedule) Run(w *ecs.World) {
	for {
		switch s.criteria.shouldRun(w) {
		case No:
			return
		case Yes:
			s.RunOnce(w)
			return
		case YesAndCheckAgain:
			s.RunOnce(w)
		case NoAndCheckAgain:
			panic(wrapf(ErrInvalidRunCriteria, "NoAndCheckAgain would loop forever on a schedule"))
		}
	}
}

// Close releases the workers of every stage that has any.
func (s *Schedule) Close() {
	for _, stage := range s.stages {
		if c, ok := stage.(interface{ Close() }); ok {
			c.Close()
		}
	}
}

// RunOnce returns a run criteria that says Yes the first time and No afterwards.
func RunOnce() ecs.System {
	return ecs.NewFunctionSystem("RunOnce", func(ran ecs.Local[bool]) ShouldRun {
		if *ran.Get() {
			return No
		}
		*ran.Get() = true
		return Yes
	})
}

// Runner drives a schedule frame by frame.
type Runner struct {
	World    *ecs.World
	Schedule *Schedule
}

// Update runs the schedule once and starts a new change detection window.
func (r *Runner) Update() {
	r.Schedule.Run(r.World)
	r.World.ClearTrackers()
}
