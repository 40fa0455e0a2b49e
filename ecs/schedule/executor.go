package schedule

import (
	"context"
	"runtime/trace"

	ecs "github.com/DangerosoDavo/archecs"
)

// ParallelSystemExecutor runs the parallel segment of a stage.
type ParallelSystemExecutor interface {
	// RebuildCachedData is called whenever the stage reorders its parallel systems.
	RebuildCachedData(systems []*SystemContainer)
	// RunSystems runs every system whose ShouldRun is set, honouring its dependencies.
	RunSystems(systems []*SystemContainer, w *ecs.World)
}

// SingleThreadedExecutor runs the parallel segment one system at a time in dependency order.
type SingleThreadedExecutor struct{}

func NewSingleThreadedExecutor() *SingleThreadedExecutor { return &SingleThreadedExecutor{} }

func (*SingleThreadedExecutor) RebuildCachedData([]*SystemContainer) {}

func (*SingleThreadedExecutor) RunSystems(systems []*SystemContainer, w *ecs.World) {
	ctx := context.Background()
	for _, c := range systems {
		if !c.shouldRun {
			continue
		}
		c.system.UpdateArchetypeComponentAccess(w)
		runSystem(ctx, c.system, w)
	}
}

// runSystem runs sys once. When the run panics, whatever it queued is rolled back before the
// panic continues, so a failed run never applies its commands.
func runSystem(ctx context.Context, sys ecs.System, w *ecs.World) {
	defer trace.StartRegion(ctx, sys.Name()).End()
	if buffered, ok := sys.(ecs.BufferedSystem); ok {
		marks := buffered.MarkBuffers()
		defer func() {
			if r := recover(); r != nil {
				buffered.RollbackBuffers(marks)
				panic(r)
			}
		}()
	}
	sys.Run(nil, w)
}
