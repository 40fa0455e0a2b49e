package schedule

import (
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/multierr"

	ecs "github.com/DangerosoDavo/archecs"
	"github.com/DangerosoDavo/archecs/ecs/component"
)

const noCriteria = -1

type uninitializedCriteria struct {
	index    int
	strategy duplicateLabelStrategy
}

// stageCriteria is the optional run criteria of a whole stage.
type stageCriteria struct {
	system      ecs.System
	initialized bool
}

func (c *stageCriteria) shouldRun(w *ecs.World) ShouldRun {
	if c.system == nil {
		return Yes
	}
	if !c.initialized {
		c.system.Initialize(w)
		c.initialized = true
	}
	return runCriteriaSystem(c.system, nil, w)
}

// SystemStage runs its systems in four segments: exclusive systems at start, the parallel systems
// through the executor, exclusive systems before commands and, after the parallel systems' buffers
// were applied, exclusive systems at end.
type SystemStage struct {
	name     string
	logger   ecs.Logger
	worldID  uuid.UUID
	hasWorld bool

	executor      ParallelSystemExecutor
	stageCriteria stageCriteria

	runCriteria              []*runCriteriaContainer
	uninitializedRunCriteria []uninitializedCriteria

	exclusiveAtStart        []*SystemContainer
	exclusiveBeforeCommands []*SystemContainer
	exclusiveAtEnd          []*SystemContainer
	parallel                []*SystemContainer

	systemsModified  bool
	executorModified bool

	uninitializedAtStart        []int
	uninitializedBeforeCommands []int
	uninitializedAtEnd          []int
	uninitializedParallel       []int

	lastTickCheck uint32
	applyBuffers  bool

	ambiguityLevel  AmbiguityLevel
	ambiguityIgnore []string
	ambiguities     int
	observer        StageObserver
}

// StageOption configures a SystemStage.
type StageOption func(*SystemStage)

// WithStageName names the stage in logs and summaries. A Schedule names its stages after their labels.
func WithStageName(name string) StageOption {
	return func(s *SystemStage) { s.name = name }
}

// WithStageLogger overrides the world's logger for the stage.
func WithStageLogger(logger ecs.Logger) StageOption {
	return func(s *SystemStage) { s.logger = logger }
}

// WithAmbiguityLevel reports execution order ambiguities at level whenever the stage rebuilds.
func WithAmbiguityLevel(level AmbiguityLevel) StageOption {
	return func(s *SystemStage) { s.ambiguityLevel = level }
}

// WithAmbiguityIgnorePrefixes hides ambiguities between two systems whose names both start with
// one of prefixes. WarnInternal shows them anyway.
func WithAmbiguityIgnorePrefixes(prefixes ...string) StageOption {
	return func(s *SystemStage) { s.ambiguityIgnore = append(s.ambiguityIgnore, prefixes...) }
}

func WithObserver(o StageObserver) StageOption {
	return func(s *SystemStage) { s.observer = o }
}

func WithExecutor(e ParallelSystemExecutor) StageOption {
	return func(s *SystemStage) { s.executor = e }
}

// New returns a stage running its parallel systems with executor.
func New(executor ParallelSystemExecutor, opts ...StageOption) *SystemStage {
	s := &SystemStage{
		executor:         executor,
		executorModified: true,
		applyBuffers:     true,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	if s.executor == nil {
		s.executor = NewSingleThreadedExecutor()
	}
	return s
}

func NewParallelStage(opts ...StageOption) *SystemStage {
	return New(NewParallelExecutor(0), opts...)
}

func NewSingleThreadedStage(opts ...StageOption) *SystemStage {
	return New(NewSingleThreadedExecutor(), opts...)
}

// NewSingleStage returns a single threaded stage holding only d.
func NewSingleStage(d *SystemDescriptor, opts ...StageOption) *SystemStage {
	return NewSingleThreadedStage(opts...).AddSystem(d)
}

func (s *SystemStage) Name() string { return s.name }

func (s *SystemStage) Executor() ParallelSystemExecutor { return s.executor }

func (s *SystemStage) SetExecutor(e ParallelSystemExecutor) {
	s.executorModified = true
	s.executor = e
}

// Close releases the executor's workers, if it has any.
func (s *SystemStage) Close() {
	if c, ok := s.executor.(interface{ Close() }); ok {
		c.Close()
	}
}

// WithRunCriteria guards the whole stage with criteria, a system or function returning ShouldRun.
func (s *SystemStage) WithRunCriteria(criteria any) *SystemStage {
	s.stageCriteria = stageCriteria{system: toSystem(criteria)}
	return s
}

// AddSystemRunCriteria adds a criteria systems can refer to by its label.
func (s *SystemStage) AddSystemRunCriteria(d *RunCriteriaDescriptor) *SystemStage {
	s.addRunCriteria(d)
	return s
}

func (s *SystemStage) AddSystem(d *SystemDescriptor) *SystemStage {
	s.addSystem(d, noCriteria)
	return s
}

// AddSystemSet adds every system of set. A set with run criteria must not contain systems with
// their own.
func (s *SystemStage) AddSystemSet(set *SystemSet) *SystemStage {
	criteria, systems := set.bake()
	setIndex := noCriteria
	if criteria != nil {
		for _, d := range systems {
			if d.criteria != nil {
				panic(wrapf(ErrNestedRunCriteria,
					"system %s has a run criteria, but its set also has one; move the system to another set or add it on its own",
					d.system.Name()))
			}
		}
		switch c := criteria.(type) {
		case *RunCriteriaDescriptor:
			setIndex = s.addRunCriteria(c)
		case RunCriteriaLabel:
			for _, d := range systems {
				d.criteria = c
			}
		}
	}
	for _, d := range systems {
		s.addSystem(d, setIndex)
	}
	return s
}

func (s *SystemStage) addRunCriteria(d *RunCriteriaDescriptor) int {
	index := len(s.runCriteria)
	s.uninitializedRunCriteria = append(s.uninitializedRunCriteria, uninitializedCriteria{index: index, strategy: d.strategy})
	s.runCriteria = append(s.runCriteria, newRunCriteriaContainer(d))
	return index
}

func (s *SystemStage) addSystem(d *SystemDescriptor, defaultCriteria int) {
	s.systemsModified = true
	criteriaIndex := defaultCriteria
	var criteriaLabel RunCriteriaLabel
	hasLabel := false
	switch c := d.criteria.(type) {
	case RunCriteriaLabel:
		criteriaIndex, criteriaLabel, hasLabel = noCriteria, c, true
	case *RunCriteriaDescriptor:
		criteriaIndex = s.addRunCriteria(c)
	}
	container := newSystemContainer(d, criteriaIndex)
	container.criteriaLabel, container.hasCriteriaLabel = criteriaLabel, hasLabel

	if !d.exclusive {
		s.uninitializedParallel = append(s.uninitializedParallel, len(s.parallel))
		s.parallel = append(s.parallel, container)
		return
	}
	switch d.insertion {
	case AtStart:
		s.uninitializedAtStart = append(s.uninitializedAtStart, len(s.exclusiveAtStart))
		s.exclusiveAtStart = append(s.exclusiveAtStart, container)
	case BeforeCommands:
		s.uninitializedBeforeCommands = append(s.uninitializedBeforeCommands, len(s.exclusiveBeforeCommands))
		s.exclusiveBeforeCommands = append(s.exclusiveBeforeCommands, container)
	case AtEnd:
		s.uninitializedAtEnd = append(s.uninitializedAtEnd, len(s.exclusiveAtEnd))
		s.exclusiveAtEnd = append(s.exclusiveAtEnd, container)
	}
}

func (s *SystemStage) ParallelSystems() []*SystemContainer { return s.parallel }

func (s *SystemStage) ExclusiveAtStartSystems() []*SystemContainer { return s.exclusiveAtStart }

func (s *SystemStage) ExclusiveBeforeCommandsSystems() []*SystemContainer {
	return s.exclusiveBeforeCommands
}

func (s *SystemStage) ExclusiveAtEndSystems() []*SystemContainer { return s.exclusiveAtEnd }

// ApplyBuffers applies the buffers of every parallel system and returns the combined failures.
func (s *SystemStage) ApplyBuffers(w *ecs.World) error {
	var err error
	for _, c := range s.parallel {
		err = multierr.Append(err, c.system.ApplyBuffers(w))
	}
	return err
}

// SetApplyBuffers controls whether Run applies the parallel systems' buffers after they ran.
func (s *SystemStage) SetApplyBuffers(apply bool) { s.applyBuffers = apply }

func (s *SystemStage) log(w *ecs.World) ecs.Logger {
	if s.logger != nil {
		return s.logger
	}
	l := w.Logger()
	if s.name != "" {
		l = l.With("stage", s.name)
	}
	return l
}

func (s *SystemStage) validateWorld(w *ecs.World) {
	if !s.hasWorld {
		s.worldID, s.hasWorld = w.ID(), true
		return
	}
	if s.worldID != w.ID() {
		panic(eris.Wrapf(ecs.ErrWorldMismatch, "cannot run SystemStage on two different worlds (%v and %v)", s.worldID, w.ID()))
	}
}

// prepare initializes new systems and rebuilds the execution order if anything changed. It returns
// whether the order was rebuilt.
func (s *SystemStage) prepare(w *ecs.World) bool {
	s.validateWorld(w)
	if s.systemsModified {
		s.initializeSystems(w)
		s.rebuildOrdersAndDependencies(w)
		s.systemsModified = false
		s.executor.RebuildCachedData(s.parallel)
		s.executorModified = false
		return true
	}
	if s.executorModified {
		s.executor.RebuildCachedData(s.parallel)
		s.executorModified = false
	}
	return false
}

func (s *SystemStage) initializeSystems(w *ecs.World) {
	uninitialized := make(map[int]duplicateLabelStrategy, len(s.uninitializedRunCriteria))
	for _, u := range s.uninitializedRunCriteria {
		uninitialized[u.index] = u.strategy
	}
	s.uninitializedRunCriteria = nil

	labels := make(map[RunCriteriaLabel]int)
	newIndices := make([]int, 0, len(s.runCriteria))
	kept := s.runCriteria[:0]
	filtered := 0
	for index, c := range s.runCriteria {
		newIndex := index - filtered
		if strategy, ok := uninitialized[index]; ok {
			if c.label != "" {
				if duplicate, taken := labels[c.label]; taken {
					if strategy == duplicatePanic {
						panic(wrapf(ErrDuplicateRunCriteriaLabel,
							"run criteria %s is labelled %q, which is already in use; consider LabelDiscardIfDuplicate",
							c.system.Name(), c.label))
					}
					newIndices = append(newIndices, duplicate)
					filtered++
					continue
				}
			}
			c.system.Initialize(w)
			c.initialized = true
		}
		if c.label != "" {
			labels[c.label] = newIndex
		}
		newIndices = append(newIndices, newIndex)
		kept = append(kept, c)
	}
	for i := len(kept); i < len(s.runCriteria); i++ {
		s.runCriteria[i] = nil
	}
	s.runCriteria = kept

	initialize := func(systems []*SystemContainer, pending []int) {
		for _, index := range pending {
			c := systems[index]
			if c.criteriaIndex != noCriteria {
				c.criteriaIndex = newIndices[c.criteriaIndex]
			}
			c.system.Initialize(w)
			c.initialized = true
		}
	}
	initialize(s.exclusiveAtStart, s.uninitializedAtStart)
	initialize(s.exclusiveBeforeCommands, s.uninitializedBeforeCommands)
	initialize(s.exclusiveAtEnd, s.uninitializedAtEnd)
	initialize(s.parallel, s.uninitializedParallel)
	s.uninitializedAtStart = nil
	s.uninitializedBeforeCommands = nil
	s.uninitializedAtEnd = nil
	s.uninitializedParallel = nil
}

func (s *SystemStage) rebuildOrdersAndDependencies(w *ecs.World) {
	logger := s.log(w)
	labels := s.processRunCriteria(logger)
	s.processSystems(s.parallel, "parallel systems", labels, logger)
	s.processSystems(s.exclusiveAtStart, "exclusive systems at start of stage", labels, logger)
	s.processSystems(s.exclusiveBeforeCommands, "exclusive systems before commands of stage", labels, logger)
	s.processSystems(s.exclusiveAtEnd, "exclusive systems at end of stage", labels, logger)
}

// processRunCriteria sorts the criteria so every piped criteria follows its parent and returns the
// position of every labelled criteria.
func (s *SystemStage) processRunCriteria(logger ecs.Logger) map[RunCriteriaLabel]int {
	graph := buildDependencyGraph(s.runCriteria, logger)
	order, cycle := topologicalOrder(graph)
	if cycle != nil {
		panic(cycleError("run criteria", s.runCriteria, cycle))
	}
	inverted := invert(order)

	labels := make(map[RunCriteriaLabel]int)
	for i, c := range s.runCriteria {
		if c.label != "" {
			labels[c.label] = inverted[i]
		}
	}
	for _, c := range s.runCriteria {
		if !c.piped {
			continue
		}
		parent, ok := labels[c.pipeFrom]
		if !ok {
			panic(wrapf(ErrUnknownRunCriteria, "couldn't find run criteria labelled %q to pipe from", c.pipeFrom))
		}
		c.parent = parent
	}
	for _, systems := range [][]*SystemContainer{s.parallel, s.exclusiveAtStart, s.exclusiveBeforeCommands, s.exclusiveAtEnd} {
		for _, c := range systems {
			if c.criteriaIndex != noCriteria {
				c.criteriaIndex = inverted[c.criteriaIndex]
			}
		}
	}
	sorted := make([]*runCriteriaContainer, len(order))
	for pos, old := range order {
		sorted[pos] = s.runCriteria[old]
	}
	s.runCriteria = sorted
	return labels
}

// processSystems sorts one segment topologically, resolves criteria labels and stores each
// system's dependencies as positions in the sorted segment.
func (s *SystemStage) processSystems(systems []*SystemContainer, description string, criteria map[RunCriteriaLabel]int, logger ecs.Logger) {
	graph := buildDependencyGraph(systems, logger)
	order, cycle := topologicalOrder(graph)
	if cycle != nil {
		panic(cycleError(description, systems, cycle))
	}
	inverted := invert(order)
	for i, c := range systems {
		if c.hasCriteriaLabel {
			index, ok := criteria[c.criteriaLabel]
			if !ok {
				panic(wrapf(ErrUnknownRunCriteria, "no run criteria with label %q found", c.criteriaLabel))
			}
			c.criteriaIndex = index
		}
		deps := graph.sortedDependencies(i)
		c.dependencies = make([]int, len(deps))
		for j, dep := range deps {
			c.dependencies[j] = inverted[dep]
		}
		sort.Ints(c.dependencies)
	}
	sorted := make([]*SystemContainer, len(order))
	for pos, old := range order {
		sorted[pos] = systems[old]
	}
	copy(systems, sorted)
}

func (s *SystemStage) evaluateRunCriteria(w *ecs.World) {
	for _, c := range s.runCriteria {
		c.evaluate(w, s.runCriteria)
	}
}

func (s *SystemStage) shouldRun(c *SystemContainer, fallback ShouldRun) bool {
	if c.criteriaIndex == noCriteria {
		return fallback.Runs()
	}
	return s.runCriteria[c.criteriaIndex].shouldRun.Runs()
}

// Run runs the stage on w. The first world a stage runs on is the only one it accepts.
func (s *SystemStage) Run(w *ecs.World) {
	start := time.Now()
	if s.prepare(w) && s.ambiguityLevel != AmbiguityAllow {
		s.ambiguities = s.reportAmbiguities(w, s.ambiguityLevel)
	}
	summary := StageSummary{Stage: s.name, Systems: s.systemCount(), Ambiguities: s.ambiguities}
	defer func() {
		summary.Tick = w.ChangeTick()
		summary.Duration = time.Since(start)
		if s.observer != nil {
			s.observer.StageCompleted(summary)
		}
	}()

	for runStage := true; runStage; {
		switch s.stageCriteria.shouldRun(w) {
		case No:
			summary.Skipped = summary.Iterations == 0
			return
		case NoAndCheckAgain:
			continue
		case Yes:
			runStage = false
		}
		summary.Iterations++
		s.evaluateRunCriteria(w)

		fallback := Yes
		for runSystems := true; runSystems; {
			runSystems = false

			summary.SystemsRun += s.runExclusive(s.exclusiveAtStart, fallback, w, &summary)

			for _, c := range s.parallel {
				c.shouldRun = s.shouldRun(c, fallback)
				if c.shouldRun {
					summary.SystemsRun++
				}
			}
			s.executor.RunSystems(s.parallel, w)

			summary.SystemsRun += s.runExclusive(s.exclusiveBeforeCommands, fallback, w, &summary)

			if s.applyBuffers {
				for _, c := range s.parallel {
					if c.shouldRun {
						summary.recordBufferError(c.system.ApplyBuffers(w))
					}
				}
			}

			summary.SystemsRun += s.runExclusive(s.exclusiveAtEnd, fallback, w, &summary)

			s.checkChangeTicks(w)

			for _, c := range s.runCriteria {
				switch c.shouldRun {
				case No:
				case Yes:
					c.shouldRun = No
				case YesAndCheckAgain, NoAndCheckAgain:
					c.evaluate(w, s.runCriteria)
					if c.shouldRun != No {
						runSystems = true
					}
				}
			}
			fallback = No
		}
	}
}

func (s *SystemStage) runExclusive(systems []*SystemContainer, fallback ShouldRun, w *ecs.World, summary *StageSummary) int {
	ran := 0
	for _, c := range systems {
		if s.shouldRun(c, fallback) {
			summary.recordBufferError(c.runExclusive(w))
			ran++
		}
	}
	return ran
}

func (s *SystemStage) systemCount() int {
	return len(s.parallel) + len(s.exclusiveAtStart) + len(s.exclusiveBeforeCommands) + len(s.exclusiveAtEnd)
}

// checkChangeTicks clamps stored ticks once enough ticks passed that they could otherwise wrap
// around the current tick.
func (s *SystemStage) checkChangeTicks(w *ecs.World) {
	changeTick := w.ChangeTick()
	if changeTick-s.lastTickCheck <= component.CheckTickThreshold {
		return
	}
	for _, systems := range [][]*SystemContainer{s.exclusiveAtStart, s.exclusiveBeforeCommands, s.exclusiveAtEnd, s.parallel} {
		for _, c := range systems {
			c.system.CheckChangeTick(changeTick)
		}
	}
	for _, c := range s.runCriteria {
		c.system.CheckChangeTick(changeTick)
	}
	w.CheckChangeTicks()
	s.lastTickCheck = changeTick
}
