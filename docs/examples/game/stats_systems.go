package game

import (
	ecs "github.com/DangerosoDavo/archecs"
	"github.com/DangerosoDavo/archecs/ecs/schedule"
)

// attackRangeSq is the squared distance within which units pick a target.
const attackRangeSq = 100.0

// GameLog carries the logger systems report to.
type GameLog struct {
	Logger ecs.Logger
}

// Frame counts updates.
type Frame struct {
	N int
}

type (
	units     = ecs.Query3[ecs.Ref[Position], ecs.Ref[CurrentStats], ecs.Ref[BaseStats], ecs.NoFilter]
	idle      = ecs.Query2[ecs.Ref[Position], ecs.Ref[CurrentStats], ecs.Without[Targeting]]
	attackers = ecs.Query3[ecs.Ref[BaseStats], ecs.Opt[ecs.Ref[StatModifiers]], ecs.Relations[Targeting], ecs.NoFilter]
	defenders = ecs.Query3[ecs.Ref[BaseStats], ecs.Mut[CurrentStats], ecs.Opt[ecs.Ref[StatModifiers]], ecs.NoFilter]
	vitals    = ecs.Query3[ecs.Mut[CurrentStats], ecs.Ref[BaseStats], ecs.Opt[ecs.Ref[StatModifiers]], ecs.Changed[CurrentStats]]
)

func countFrame(frame ecs.ResMut[Frame]) {
	frame.Mut().N++
}

// AcquireTargets makes every idle, living unit target the nearest other living unit in range.
func AcquireTargets(cmds *ecs.Commands, seekers *idle, all *units, frame ecs.Res[Frame]) {
	seekers.ForEach(func(e ecs.Entity, pos ecs.Ref[Position], cur ecs.Ref[CurrentStats]) {
		if cur.Get().IsDead {
			return
		}
		var best ecs.Entity
		bestSq := attackRangeSq
		all.ForEach(func(other ecs.Entity, opos ecs.Ref[Position], ocur ecs.Ref[CurrentStats], _ ecs.Ref[BaseStats]) {
			if other == e || ocur.Get().IsDead {
				return
			}
			dx, dy := pos.Get().X-opos.Get().X, pos.Get().Y-opos.Get().Y
			if d := dx*dx + dy*dy; d <= bestSq {
				best, bestSq = other, d
			}
		})
		if !best.IsZero() {
			cmds.Entity(e).InsertRelation(Targeting{Since: frame.Get().N}, best)
		}
	})
}

// Combat deals damage from every attacker to each unit it targets.
func Combat(atk *attackers, def *defenders, log ecs.Res[GameLog]) {
	atk.ForEach(func(e ecs.Entity, base ecs.Ref[BaseStats], mods ecs.Opt[ecs.Ref[StatModifiers]], targets ecs.Relations[Targeting]) {
		_, self, _, err := def.Get(e)
		if err != nil || self.Get().IsDead {
			return
		}
		attack := EffectiveAttack(*base.Get(), modifiersOf(mods))
		targets.Each(func(target ecs.Entity, _ *Targeting) {
			tbase, tcur, tmods, err := def.Get(target)
			if err != nil || tcur.Get().IsDead {
				return
			}
			damage := max(attack-EffectiveDefense(*tbase.Get(), modifiersOf(tmods)), 1)
			tcur.Mut().CurrentHealth -= damage
			log.Get().Logger.Debug("combat", "attacker", e, "target", target, "damage", damage,
				"remaining_health", tcur.Get().CurrentHealth)
		})
	})
}

// Health applies regeneration and detects deaths among units whose stats changed.
func Health(q *vitals, died ecs.EventWriter[Died], log ecs.Res[GameLog]) {
	q.ForEach(func(e ecs.Entity, cur ecs.Mut[CurrentStats], base ecs.Ref[BaseStats], mods ecs.Opt[ecs.Ref[StatModifiers]]) {
		stats := cur.Get()
		if stats.IsDead {
			return
		}
		if m := modifiersOf(mods); m != nil && stats.CurrentHealth > 0 {
			for _, mod := range m.Modifiers {
				if mod.Type == ModifierTypeHealthRegen {
					cur.Mut().CurrentHealth = min(stats.CurrentHealth+int(mod.Value), base.Get().MaxHealth)
				}
			}
		}
		if stats.CurrentHealth <= 0 {
			cur.Set(CurrentStats{IsDead: true})
			died.Send(Died{Unit: e})
			log.Get().Logger.Info("entity died", "entity", e)
		}
	})
}

// Bury despawns dead units and drops every relation targeting them.
func Bury(cmds *ecs.Commands, died ecs.EventReader[Died], atk *attackers) {
	dead := make(map[ecs.Entity]struct{})
	for _, ev := range died.Read() {
		dead[ev.Unit] = struct{}{}
		cmds.Entity(ev.Unit).Despawn()
	}
	if len(dead) == 0 {
		return
	}
	atk.ForEach(func(e ecs.Entity, _ ecs.Ref[BaseStats], _ ecs.Opt[ecs.Ref[StatModifiers]], targets ecs.Relations[Targeting]) {
		if _, gone := dead[e]; gone {
			return
		}
		targets.Each(func(target ecs.Entity, _ *Targeting) {
			if _, gone := dead[target]; gone {
				ecs.RemoveRelationComponent[Targeting](cmds.Entity(e), target)
			}
		})
	})
}

// ExpireModifiers ages modifiers and removes the component once none are left.
func ExpireModifiers(cmds *ecs.Commands, q *ecs.Query1[ecs.Mut[StatModifiers], ecs.NoFilter]) {
	q.ForEach(func(e ecs.Entity, mods ecs.Mut[StatModifiers]) {
		if mods.Mut().Tick() && len(mods.Get().Modifiers) == 0 {
			ecs.RemoveComponent[StatModifiers](cmds.Entity(e))
		}
	})
}

func modifiersOf(opt ecs.Opt[ecs.Ref[StatModifiers]]) *StatModifiers {
	if ref, ok := opt.Get(); ok {
		return ref.Get()
	}
	return nil
}

// NewGame builds a world holding the game resources and the schedule that drives it.
func NewGame(logger ecs.Logger, opts ...schedule.StageOption) (*ecs.World, *schedule.Schedule) {
	w := ecs.NewWorld(ecs.WithLogger(logger))
	ecs.InsertResource(w, GameLog{Logger: w.Logger()})
	ecs.InsertResource(w, Frame{})
	ecs.AddEvent[Died](w)

	s := schedule.NewSchedule().
		AddStage(schedule.First, schedule.NewSingleThreadedStage(opts...)).
		AddStage(schedule.Update, schedule.NewParallelStage(opts...)).
		AddStage(schedule.PostUpdate, schedule.NewParallelStage(opts...))

	s.AddSystemToStage(schedule.First, schedule.NamedFn("count_frame", countFrame)).
		AddSystemToStage(schedule.First, schedule.NamedFn("update_died", ecs.UpdateEvents[Died]))
	s.AddSystemSetToStage(schedule.Update, schedule.NewSystemSet().
		WithSystem(schedule.NamedFn("acquire_targets", AcquireTargets)).
		WithSystem(schedule.NamedFn("combat", Combat).After("acquire_targets")).
		WithSystem(schedule.NamedFn("health", Health).After("combat")))
	s.AddSystemToStage(schedule.PostUpdate, schedule.NamedFn("bury", Bury).Label("bury")).
		AddSystemToStage(schedule.PostUpdate, schedule.NamedFn("expire_modifiers", ExpireModifiers).After("bury"))
	return w, s
}
