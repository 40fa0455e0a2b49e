package schedule

import (
	ecs "github.com/DangerosoDavo/archecs"
)

// SystemDescriptor carries a system together with its ordering, labels, run criteria and ambiguity
// policy until it is added to a stage.
type SystemDescriptor struct {
	system        ecs.System
	exclusive     bool
	insertion     InsertionPoint
	labels        []SystemLabel
	before        []SystemLabel
	after         []SystemLabel
	ignoreAll     bool
	ambiguousWith []SystemLabel
	criteria      RunCriteria
}

// Describe wraps sys. Exclusive systems are placed AtStart unless told otherwise.
func Describe(sys ecs.System) *SystemDescriptor {
	return &SystemDescriptor{system: sys, exclusive: sys.IsExclusive()}
}

// Fn wraps fn as a function system.
func Fn(fn any) *SystemDescriptor {
	return Describe(ecs.NewFunctionSystem("", fn))
}

// NamedFn wraps fn as a function system called name.
func NamedFn(name string, fn any) *SystemDescriptor {
	return Describe(ecs.NewFunctionSystem(name, fn))
}

// ExclusiveFn wraps fn as an exclusive system.
func ExclusiveFn(fn func(w *ecs.World)) *SystemDescriptor {
	return Describe(ecs.NewExclusiveSystem("", fn))
}

func (d *SystemDescriptor) System() ecs.System { return d.system }

// Exclusive runs the system alone, outside the parallel batch, applying its buffers right after it.
func (d *SystemDescriptor) Exclusive() *SystemDescriptor {
	d.exclusive = true
	return d
}

// AtStart runs the system exclusively before the parallel systems.
func (d *SystemDescriptor) AtStart() *SystemDescriptor {
	d.exclusive, d.insertion = true, AtStart
	return d
}

// BeforeCommands runs the system exclusively between the parallel systems and their buffers.
func (d *SystemDescriptor) BeforeCommands() *SystemDescriptor {
	d.exclusive, d.insertion = true, BeforeCommands
	return d
}

// AtEnd runs the system exclusively after the stage applied buffers.
func (d *SystemDescriptor) AtEnd() *SystemDescriptor {
	d.exclusive, d.insertion = true, AtEnd
	return d
}

func (d *SystemDescriptor) Label(l SystemLabel) *SystemDescriptor {
	d.labels = append(d.labels, l)
	return d
}

// Before orders the system before every system labelled l.
func (d *SystemDescriptor) Before(l SystemLabel) *SystemDescriptor {
	d.before = append(d.before, l)
	return d
}

// After orders the system after every system labelled l.
func (d *SystemDescriptor) After(l SystemLabel) *SystemDescriptor {
	d.after = append(d.after, l)
	return d
}

// IgnoreAllAmbiguities excludes the system from ambiguity reports.
func (d *SystemDescriptor) IgnoreAllAmbiguities() *SystemDescriptor {
	d.ignoreAll = true
	return d
}

// AmbiguousWith suppresses ambiguity reports between the system and systems labelled l.
func (d *SystemDescriptor) AmbiguousWith(l SystemLabel) *SystemDescriptor {
	d.ambiguousWith = append(d.ambiguousWith, l)
	return d
}

// WithRunCriteria guards the system with c: a RunCriteriaLabel or a *RunCriteriaDescriptor.
func (d *SystemDescriptor) WithRunCriteria(c RunCriteria) *SystemDescriptor {
	d.criteria = c
	return d
}

// RunCriteria is implemented by RunCriteriaLabel and *RunCriteriaDescriptor.
type RunCriteria interface {
	runCriteria()
}

func (RunCriteriaLabel) runCriteria()       {}
func (*RunCriteriaDescriptor) runCriteria() {}

type duplicateLabelStrategy uint8

const (
	duplicatePanic duplicateLabelStrategy = iota
	duplicateDiscard
)

// RunCriteriaDescriptor is a run criteria system, optionally labelled or piped from another criteria.
type RunCriteriaDescriptor struct {
	system   ecs.System
	label    RunCriteriaLabel
	pipeFrom RunCriteriaLabel
	piped    bool
	strategy duplicateLabelStrategy
}

// NewRunCriteria builds a run criteria from an ecs.System or a function returning ShouldRun.
func NewRunCriteria(criteria any) *RunCriteriaDescriptor {
	return &RunCriteriaDescriptor{system: toSystem(criteria)}
}

// PipeRunCriteria builds a run criteria whose In[ShouldRun] is the result of the criteria labelled from.
func PipeRunCriteria(from RunCriteriaLabel, criteria any) *RunCriteriaDescriptor {
	return &RunCriteriaDescriptor{system: toSystem(criteria), pipeFrom: from, piped: true}
}

// Label names the criteria. A second criteria with the same label panics at initialization.
func (d *RunCriteriaDescriptor) Label(l RunCriteriaLabel) *RunCriteriaDescriptor {
	d.label, d.strategy = l, duplicatePanic
	return d
}

// LabelDiscardIfDuplicate names the criteria; if the label is taken, the existing criteria is used instead.
func (d *RunCriteriaDescriptor) LabelDiscardIfDuplicate(l RunCriteriaLabel) *RunCriteriaDescriptor {
	d.label, d.strategy = l, duplicateDiscard
	return d
}

func toSystem(v any) ecs.System {
	if sys, ok := v.(ecs.System); ok {
		return sys
	}
	return ecs.NewFunctionSystem("", v)
}

// SystemSet groups systems that share run criteria, labels and ordering.
type SystemSet struct {
	systems       []*SystemDescriptor
	criteria      RunCriteria
	labels        []SystemLabel
	before        []SystemLabel
	after         []SystemLabel
	ambiguousWith []SystemLabel
	ignoreAll     bool
}

func NewSystemSet() *SystemSet { return &SystemSet{} }

func (s *SystemSet) WithSystem(d *SystemDescriptor) *SystemSet {
	s.systems = append(s.systems, d)
	return s
}

func (s *SystemSet) WithRunCriteria(c RunCriteria) *SystemSet {
	s.criteria = c
	return s
}

func (s *SystemSet) Label(l SystemLabel) *SystemSet {
	s.labels = append(s.labels, l)
	return s
}

func (s *SystemSet) Before(l SystemLabel) *SystemSet {
	s.before = append(s.before, l)
	return s
}

func (s *SystemSet) After(l SystemLabel) *SystemSet {
	s.after = append(s.after, l)
	return s
}

func (s *SystemSet) AmbiguousWith(l SystemLabel) *SystemSet {
	s.ambiguousWith = append(s.ambiguousWith, l)
	return s
}

func (s *SystemSet) IgnoreAllAmbiguities() *SystemSet {
	s.ignoreAll = true
	return s
}

// bake pushes the set's labels and ordering down into its systems.
func (s *SystemSet) bake() (RunCriteria, []*SystemDescriptor) {
	for _, d := range s.systems {
		d.labels = append(d.labels, s.labels...)
		d.before = append(d.before, s.before...)
		d.after = append(d.after, s.after...)
		d.ambiguousWith = append(d.ambiguousWith, s.ambiguousWith...)
		d.ignoreAll = d.ignoreAll || s.ignoreAll
	}
	return s.criteria, s.systems
}
