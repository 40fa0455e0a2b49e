package schedule

import (
	"context"
	"runtime"
	"sort"

	ecs "github.com/DangerosoDavo/archecs"
)

type parallelSystemData struct {
	dependants        []int
	dependenciesTotal int
	dependenciesNow   int
}

// ParallelExecutor runs systems on a worker pool as soon as their dependencies finished and their
// archetype-component access is compatible with every running system. Non-send systems run on the
// goroutine driving the stage.
type ParallelExecutor struct {
	workers    int
	pool       *workerPool
	systemData []parallelSystemData
}

// NewParallelExecutor returns an executor with the given number of workers. Zero or less uses
// GOMAXPROCS.
func NewParallelExecutor(workers int) *ParallelExecutor {
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}
	return &ParallelExecutor{workers: workers}
}

func (e *ParallelExecutor) Workers() int { return e.workers }

// Close stops the worker pool. A closed executor keeps working by running every system inline.
func (e *ParallelExecutor) Close() {
	if e.pool == nil {
		e.pool = &workerPool{closed: make(chan struct{})}
		e.pool.once.Do(func() { close(e.pool.closed) })
		return
	}
	e.pool.Close()
}

func (e *ParallelExecutor) RebuildCachedData(systems []*SystemContainer) {
	e.systemData = make([]parallelSystemData, len(systems))
	for i, c := range systems {
		e.systemData[i].dependenciesTotal = len(c.dependencies)
		for _, dep := range c.dependencies {
			e.systemData[dep].dependants = append(e.systemData[dep].dependants, i)
		}
	}
}

func (e *ParallelExecutor) RunSystems(systems []*SystemContainer, w *ecs.World) {
	if len(systems) != len(e.systemData) {
		e.RebuildCachedData(systems)
	}
	if e.pool == nil {
		e.pool = newWorkerPool(e.workers)
	}
	ctx := context.Background()

	var queued []int
	for i, c := range systems {
		c.system.UpdateArchetypeComponentAccess(w)
		if !c.shouldRun {
			continue
		}
		data := &e.systemData[i]
		data.dependenciesNow = 0
		for _, dep := range c.dependencies {
			if systems[dep].shouldRun {
				data.dependenciesNow++
			}
		}
		if data.dependenciesNow == 0 {
			queued = append(queued, i)
		}
	}

	completed := make(chan jobResult, len(systems))
	running := make(map[int]struct{})
	var active ecs.Access[ecs.ArchetypeComponentID]
	var failure *jobResult

	finish := func(res jobResult) {
		delete(running, res.system)
		if res.panicked && failure == nil {
			failure = &res
			w.Logger().Error("system panicked", "system", systems[res.system].Name(), "panic", res.panic)
		}
		for _, d := range e.systemData[res.system].dependants {
			if !systems[d].shouldRun {
				continue
			}
			e.systemData[d].dependenciesNow--
			if e.systemData[d].dependenciesNow == 0 {
				queued = append(queued, d)
			}
		}
		sort.Ints(queued)
		active.Clear()
		for r := range running {
			active.Extend(systems[r].system.Meta().ArchetypeComponentAccess())
		}
	}

	for len(queued) > 0 || len(running) > 0 {
		if failure == nil {
			e.startCompatible(ctx, systems, w, &queued, running, &active, completed, finish)
		}
		if len(running) == 0 {
			if failure != nil || len(queued) == 0 {
				break
			}
			continue
		}
		finish(<-completed)
	}
	if failure != nil {
		panic(failure.panic)
	}
}

// startCompatible starts queued systems in index order until none of the remaining ones is
// compatible with the running set.
func (e *ParallelExecutor) startCompatible(
	ctx context.Context,
	systems []*SystemContainer,
	w *ecs.World,
	queued *[]int,
	running map[int]struct{},
	active *ecs.Access[ecs.ArchetypeComponentID],
	completed chan jobResult,
	finish func(jobResult),
) {
	for i := 0; i < len(*queued); {
		index := (*queued)[i]
		sys := systems[index].system
		meta := sys.Meta()
		access := meta.ArchetypeComponentAccess()
		if !active.IsCompatible(access) {
			i++
			continue
		}
		*queued = append((*queued)[:i], (*queued)[i+1:]...)

		if !meta.IsSend() {
			finish(runGuarded(ctx, index, sys, w, false))
			i = 0
			continue
		}

		running[index] = struct{}{}
		active.Extend(access)
		handle := e.pool.Submit(ctx, func(ctx context.Context) jobResult {
			res := runGuarded(ctx, index, sys, w, true)
			completed <- res
			return res
		})
		if handle.Rejected() != nil {
			completed <- runGuarded(ctx, index, sys, w, false)
		}
	}
}

func runGuarded(ctx context.Context, index int, sys ecs.System, w *ecs.World, onWorker bool) (res jobResult) {
	res.system = index
	meta := sys.Meta()
	meta.SetRunningOnWorker(onWorker)
	defer func() {
		meta.SetRunningOnWorker(false)
		if r := recover(); r != nil {
			res.panicked, res.panic = true, r
		}
	}()
	runSystem(ctx, sys, w)
	return res
}
