package main

import (
	"time"

	ecs "github.com/DangerosoDavo/archecs"
	"github.com/DangerosoDavo/archecs/ecs/schedule"
)

type Position struct{ X, Y float64 }

type Velocity struct{ X, Y float64 }

// Lifetime counts the frames an entity has left.
type Lifetime struct{ Frames int }

type expired struct{ entity ecs.Entity }

type simSettings struct {
	entities int
	lifetime int
	step     time.Duration
	bounds   float64
	// unordered drops the ordering between move and bounce, which the ambiguity checker reports.
	unordered bool
}

type simStats struct {
	frames  int
	spawned int
	expired int
}

func spawnBodies(cmds *ecs.Commands, settings ecs.Res[simSettings], stats ecs.ResMut[simStats]) {
	s := settings.Get()
	for i := 0; i < s.entities; i++ {
		f := float64(i)
		cmds.Spawn().Insert(
			Position{X: f, Y: -f},
			Velocity{X: 1 + f/10, Y: 2},
			Lifetime{Frames: s.lifetime + i%s.lifetime},
		)
	}
	stats.Mut().spawned += s.entities
}

func advanceClock(clock ecs.ResMut[schedule.Time], settings ecs.Res[simSettings], stats ecs.ResMut[simStats]) {
	clock.Mut().Advance(settings.Get().step)
	stats.Mut().frames++
}

func move(q *ecs.Query2[ecs.Mut[Position], ecs.Ref[Velocity], ecs.NoFilter], clock ecs.Res[schedule.Time]) {
	dt := clock.Get().Delta().Seconds()
	q.ForEach(func(_ ecs.Entity, p ecs.Mut[Position], v ecs.Ref[Velocity]) {
		pos := p.Mut()
		pos.X += v.Get().X * dt
		pos.Y += v.Get().Y * dt
	})
}

func bounce(q *ecs.Query2[ecs.Ref[Position], ecs.Mut[Velocity], ecs.NoFilter], settings ecs.Res[simSettings]) {
	limit := settings.Get().bounds
	q.ForEach(func(_ ecs.Entity, p ecs.Ref[Position], v ecs.Mut[Velocity]) {
		pos := p.Get()
		if (pos.X > limit && v.Get().X > 0) || (pos.X < -limit && v.Get().X < 0) {
			v.Mut().X = -v.Get().X
		}
		if (pos.Y > limit && v.Get().Y > 0) || (pos.Y < -limit && v.Get().Y < 0) {
			v.Mut().Y = -v.Get().Y
		}
	})
}

func age(cmds *ecs.Commands, q *ecs.Query1[ecs.Mut[Lifetime], ecs.NoFilter], out ecs.EventWriter[expired]) {
	q.ForEach(func(e ecs.Entity, l ecs.Mut[Lifetime]) {
		l.Mut().Frames--
		if l.Get().Frames <= 0 {
			cmds.Entity(e).Despawn()
			out.Send(expired{entity: e})
		}
	})
}

func tally(in ecs.EventReader[expired], stats ecs.ResMut[simStats]) {
	if n := in.Len(); n > 0 {
		in.Clear()
		stats.Mut().expired += n
	}
}

// newSimulation builds the world and the default schedule of the demo.
func newSimulation(settings simSettings, opts ...schedule.StageOption) (*ecs.World, *schedule.Schedule) {
	w := ecs.NewWorld()
	ecs.InsertResource(w, settings)
	ecs.InsertResource(w, simStats{})
	ecs.InsertResource(w, schedule.NewTime(time.Time{}))
	ecs.AddEvent[expired](w)

	moveSystem := schedule.NamedFn("move", move).Label("move")
	bounceSystem := schedule.NamedFn("bounce", bounce)
	if !settings.unordered {
		bounceSystem.After("move")
	}

	s := schedule.NewDefaultSchedule(opts...)
	startup, _ := s.Stage(schedule.StartupSchedule)
	startup.(*schedule.Schedule).AddSystemToStage(schedule.Startup, schedule.NamedFn("spawn_bodies", spawnBodies))
	s.AddSystemToStage(schedule.First, schedule.NamedFn("advance_clock", advanceClock)).
		AddSystemToStage(schedule.First, schedule.NamedFn("update_events", ecs.UpdateEvents[expired])).
		AddSystemToStage(schedule.Update, moveSystem).
		AddSystemToStage(schedule.Update, bounceSystem).
		AddSystemToStage(schedule.Update, schedule.NamedFn("age", age)).
		AddSystemToStage(schedule.PostUpdate, schedule.NamedFn("tally", tally))
	return w, s
}
