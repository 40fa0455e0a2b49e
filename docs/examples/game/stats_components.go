// Package game is a worked example of the ECS: unit stats split between a shared base record,
// per-entity current values and sparse, short-lived modifiers.
package game

import (
	ecs "github.com/DangerosoDavo/archecs"
	"github.com/DangerosoDavo/archecs/ecs/component"
)

// BaseStats are the template values of a unit type.
type BaseStats struct {
	MaxHealth        int
	BaseAttackDamage int
	BaseDefense      int
	BaseMoveSpeed    float64
	MiningEfficiency int
}

// CurrentStats are the runtime values of one unit.
type CurrentStats struct {
	CurrentHealth int
	IsDead        bool
}

type Position struct {
	X, Y float64
}

// StatModifier is a buff or debuff that lasts a number of frames.
type StatModifier struct {
	Type   ModifierType
	Value  float64 // multiplier or flat value
	Frames int
	Source string // e.g. "strength_potion", "poison"
}

type ModifierType int

const (
	ModifierTypeAttackMultiplier ModifierType = iota
	ModifierTypeDefenseMultiplier
	ModifierTypeSpeedMultiplier
	ModifierTypeFlatAttack
	ModifierTypeFlatDefense
	ModifierTypeHealthRegen
)

// StatModifiers holds the active modifiers of a unit. Modifiers come and go every few frames, so
// they live in a sparse set instead of splitting unit tables.
type StatModifiers struct {
	Modifiers []StatModifier
}

func (StatModifiers) StorageType() component.StorageType { return component.StorageSparseSet }

// AddModifier adds a modifier.
func (sm *StatModifiers) AddModifier(mod StatModifier) {
	sm.Modifiers = append(sm.Modifiers, mod)
}

// Tick ages every modifier by one frame and drops expired ones. It reports whether any expired.
func (sm *StatModifiers) Tick() bool {
	initialLen := len(sm.Modifiers)
	active := sm.Modifiers[:0]
	for _, mod := range sm.Modifiers {
		mod.Frames--
		if mod.Frames > 0 {
			active = append(active, mod)
		}
	}
	sm.Modifiers = active
	return len(sm.Modifiers) < initialLen
}

// Targeting is a relation from an attacker to the unit it attacks.
type Targeting struct {
	Since int
}

// Died is sent when a unit's health reaches zero.
type Died struct {
	Unit ecs.Entity
}

// UnitBundle is everything a freshly spawned unit carries.
type UnitBundle struct {
	Base     BaseStats
	Position Position
}

func (u UnitBundle) Components(b *ecs.BundleBuilder) {
	ecs.Add(b, u.Base)
	ecs.Add(b, CurrentStats{CurrentHealth: u.Base.MaxHealth})
	ecs.Add(b, u.Position)
}

// EffectiveAttack applies flat modifiers, then multipliers.
func EffectiveAttack(base BaseStats, mods *StatModifiers) int {
	if mods == nil {
		return base.BaseAttackDamage
	}
	attack := float64(base.BaseAttackDamage)
	for _, mod := range mods.Modifiers {
		if mod.Type == ModifierTypeFlatAttack {
			attack += mod.Value
		}
	}
	for _, mod := range mods.Modifiers {
		if mod.Type == ModifierTypeAttackMultiplier {
			attack *= mod.Value
		}
	}
	return int(attack)
}

// EffectiveDefense applies flat modifiers, then multipliers.
func EffectiveDefense(base BaseStats, mods *StatModifiers) int {
	if mods == nil {
		return base.BaseDefense
	}
	defense := float64(base.BaseDefense)
	for _, mod := range mods.Modifiers {
		if mod.Type == ModifierTypeFlatDefense {
			defense += mod.Value
		}
	}
	for _, mod := range mods.Modifiers {
		if mod.Type == ModifierTypeDefenseMultiplier {
			defense *= mod.Value
		}
	}
	return int(defense)
}

var (
	ZombieBaseStats = BaseStats{
		MaxHealth:        50,
		BaseAttackDamage: 10,
		BaseDefense:      5,
		BaseMoveSpeed:    2.0,
	}

	MinerBaseStats = BaseStats{
		MaxHealth:        75,
		BaseAttackDamage: 5,
		BaseDefense:      8,
		BaseMoveSpeed:    3.0,
		MiningEfficiency: 15,
	}

	PlayerBaseStats = BaseStats{
		MaxHealth:        100,
		BaseAttackDamage: 20,
		BaseDefense:      10,
		BaseMoveSpeed:    5.0,
		MiningEfficiency: 5,
	}
)
