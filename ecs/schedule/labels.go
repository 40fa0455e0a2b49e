package schedule

import (
	ecs "github.com/DangerosoDavo/archecs"
)

// ShouldRun is the decision a run criteria makes for the systems it guards.
type ShouldRun uint8

const (
	// No skips the guarded systems.
	No ShouldRun = iota
	// Yes runs the guarded systems once.
	Yes
	// YesAndCheckAgain runs the guarded systems and asks the criteria again afterwards.
	YesAndCheckAgain
	// NoAndCheckAgain skips the guarded systems and asks the criteria again.
	NoAndCheckAgain
)

func (s ShouldRun) String() string {
	switch s {
	case No:
		return "No"
	case Yes:
		return "Yes"
	case YesAndCheckAgain:
		return "YesAndCheckAgain"
	case NoAndCheckAgain:
		return "NoAndCheckAgain"
	}
	return "ShouldRun(?)"
}

// Runs reports whether the guarded systems run.
func (s ShouldRun) Runs() bool { return s == Yes || s == YesAndCheckAgain }

// ChecksAgain reports whether the criteria must be evaluated again in the same stage run.
func (s ShouldRun) ChecksAgain() bool { return s == YesAndCheckAgain || s == NoAndCheckAgain }

// SystemLabel names one or more systems for ordering and ambiguity suppression.
type SystemLabel string

// RunCriteriaLabel names a run criteria so several systems can share it.
type RunCriteriaLabel string

// StageLabel names a stage of a Schedule.
type StageLabel string

// LabelOf returns the implicit label of the function system built from fn.
func LabelOf(fn any) SystemLabel { return SystemLabel(ecs.SystemName(fn)) }

// Core stages of the default schedule, in run order.
const (
	First      StageLabel = "First"
	PreUpdate  StageLabel = "PreUpdate"
	Update     StageLabel = "Update"
	PostUpdate StageLabel = "PostUpdate"
	Last       StageLabel = "Last"
)

// Startup stages, run once before the core stages.
const (
	StartupSchedule StageLabel = "StartupSchedule"
	PreStartup      StageLabel = "PreStartup"
	Startup         StageLabel = "Startup"
	PostStartup     StageLabel = "PostStartup"
)

// InsertionPoint places an exclusive system within its stage.
type InsertionPoint uint8

const (
	// AtStart runs before the parallel systems.
	AtStart InsertionPoint = iota
	// BeforeCommands runs after the parallel systems but before their buffers are applied.
	BeforeCommands
	// AtEnd runs after buffers are applied.
	AtEnd
)

func (p InsertionPoint) String() string {
	switch p {
	case AtStart:
		return "AtStart"
	case BeforeCommands:
		return "BeforeCommands"
	case AtEnd:
		return "AtEnd"
	}
	return "InsertionPoint(?)"
}

// Stage is one step of a Schedule. A stage is bound to the first world it runs on.
type Stage interface {
	Run(w *ecs.World)
}
