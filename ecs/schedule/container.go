package schedule

import (
	"context"

	ecs "github.com/DangerosoDavo/archecs"
)

// SystemContainer is a system as placed in a stage, with its ordering resolved to indices of the
// same segment once the stage has been initialized.
type SystemContainer struct {
	system           ecs.System
	labels           []SystemLabel
	before           []SystemLabel
	after            []SystemLabel
	ignoreAll        bool
	ambiguousWith    []SystemLabel
	criteriaIndex    int
	criteriaLabel    RunCriteriaLabel
	hasCriteriaLabel bool
	dependencies     []int
	shouldRun        bool
	initialized      bool
}

func newSystemContainer(d *SystemDescriptor, criteriaIndex int) *SystemContainer {
	labels := append([]SystemLabel(nil), d.labels...)
	labels = append(labels, SystemLabel(d.system.Name()))
	return &SystemContainer{
		system:        d.system,
		labels:        labels,
		before:        d.before,
		after:         d.after,
		ignoreAll:     d.ignoreAll,
		ambiguousWith: d.ambiguousWith,
		criteriaIndex: criteriaIndex,
	}
}

func (c *SystemContainer) Name() string          { return c.system.Name() }
func (c *SystemContainer) System() ecs.System    { return c.system }
func (c *SystemContainer) Labels() []SystemLabel { return c.labels }

// Dependencies are the indices, within the same segment, of the systems this one runs after.
func (c *SystemContainer) Dependencies() []int { return c.dependencies }

// ShouldRun reports whether the system runs in the current pass of the stage.
func (c *SystemContainer) ShouldRun() bool { return c.shouldRun }

func (c *SystemContainer) hasLabel(l SystemLabel) bool {
	for _, own := range c.labels {
		if own == l {
			return true
		}
	}
	return false
}

// runExclusive runs the system alone and applies its buffers.
func (c *SystemContainer) runExclusive(w *ecs.World) error {
	c.system.UpdateArchetypeComponentAccess(w)
	runSystem(context.Background(), c.system, w)
	return c.system.ApplyBuffers(w)
}

func (c *SystemContainer) nodeName() string { return c.system.Name() }

func (c *SystemContainer) nodeLabels() []string { return labelStrings(c.labels) }
func (c *SystemContainer) nodeBefore() []string { return labelStrings(c.before) }
func (c *SystemContainer) nodeAfter() []string  { return labelStrings(c.after) }

func labelStrings[L ~string](labels []L) []string {
	out := make([]string, len(labels))
	for i, l := range labels {
		out[i] = string(l)
	}
	return out
}

// runCriteriaContainer is a run criteria placed in a stage.
type runCriteriaContainer struct {
	system      ecs.System
	label       RunCriteriaLabel
	piped       bool
	pipeFrom    RunCriteriaLabel
	parent      int
	strategy    duplicateLabelStrategy
	shouldRun   ShouldRun
	initialized bool
}

func newRunCriteriaContainer(d *RunCriteriaDescriptor) *runCriteriaContainer {
	return &runCriteriaContainer{
		system:   d.system,
		label:    d.label,
		piped:    d.piped,
		pipeFrom: d.pipeFrom,
		strategy: d.strategy,
	}
}

func (c *runCriteriaContainer) evaluate(w *ecs.World, criteria []*runCriteriaContainer) {
	var input any
	if c.piped {
		input = criteria[c.parent].shouldRun
	}
	c.shouldRun = runCriteriaSystem(c.system, input, w)
}

func (c *runCriteriaContainer) nodeName() string { return c.system.Name() }

func (c *runCriteriaContainer) nodeLabels() []string {
	if c.label == "" {
		return nil
	}
	return []string{string(c.label)}
}

func (c *runCriteriaContainer) nodeBefore() []string { return nil }

func (c *runCriteriaContainer) nodeAfter() []string {
	if !c.piped {
		return nil
	}
	return []string{string(c.pipeFrom)}
}

// runCriteriaSystem runs a criteria system and converts its output. A bool output maps to Yes or No.
func runCriteriaSystem(sys ecs.System, input any, w *ecs.World) ShouldRun {
	sys.UpdateArchetypeComponentAccess(w)
	switch out := sys.Run(input, w).(type) {
	case ShouldRun:
		return out
	case bool:
		if out {
			return Yes
		}
		return No
	default:
		panic(wrapf(ErrInvalidRunCriteria, "%s returned %T", sys.Name(), out))
	}
}
