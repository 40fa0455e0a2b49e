package schedule

import "github.com/rotisserie/eris"

var (
	// ErrDuplicateRunCriteriaLabel indicates two run criteria sharing a label with the panic strategy.
	ErrDuplicateRunCriteriaLabel = eris.New("schedule: duplicate run criteria label")
	// ErrDependencyCycle indicates before/after constraints that cannot be satisfied.
	ErrDependencyCycle = eris.New("schedule: dependency cycle")
	// ErrUnknownRunCriteria indicates a system or pipe naming a run criteria label nobody declared.
	ErrUnknownRunCriteria = eris.New("schedule: unknown run criteria label")
	// ErrNestedRunCriteria indicates a system with run criteria inside a set that has its own.
	ErrNestedRunCriteria = eris.New("schedule: system and its set both have run criteria")
	// ErrAmbiguousExecutionOrder is raised when the ambiguity level forbids unordered conflicts.
	ErrAmbiguousExecutionOrder = eris.New("schedule: ambiguous execution order")
	// ErrWorkerPoolClosed indicates a job submitted after the pool shut down.
	ErrWorkerPoolClosed = eris.New("schedule: worker pool closed")
	// ErrDuplicateStageLabel indicates a second stage added under an existing label.
	ErrDuplicateStageLabel = eris.New("schedule: stage already exists")
	// ErrUnknownStage indicates a stage label that is not part of the schedule.
	ErrUnknownStage = eris.New("schedule: stage does not exist")
	// ErrInvalidRunCriteria indicates a run criteria system whose output is not a ShouldRun.
	ErrInvalidRunCriteria = eris.New("schedule: run criteria must return ShouldRun")
)
