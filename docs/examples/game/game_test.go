package game

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	ecs "github.com/DangerosoDavo/archecs"
	"github.com/DangerosoDavo/archecs/ecs/logging"
	"github.com/DangerosoDavo/archecs/ecs/schedule"
)

func newRunner(t *testing.T) *schedule.Runner {
	t.Helper()
	w, s := NewGame(logging.NewZap(zap.NewNop()))
	t.Cleanup(s.Close)
	return &schedule.Runner{World: w, Schedule: s}
}

func TestDuelEndsWithBurial(t *testing.T) {
	r := newRunner(t)
	player := r.World.SpawnBundle(UnitBundle{Base: PlayerBaseStats, Position: Position{}}).ID()
	zombie := r.World.SpawnBundle(UnitBundle{Base: ZombieBaseStats, Position: Position{X: 5}}).ID()

	r.Update()
	assert.True(t, ecs.HasRelation[Targeting](r.World, player, zombie))
	assert.True(t, ecs.HasRelation[Targeting](r.World, zombie, player))

	for i := 0; i < 4; i++ {
		r.Update()
	}

	assert.False(t, r.World.Contains(zombie))
	assert.Empty(t, ecs.RelationTargets[Targeting](r.World, player))
	stats, ok := ecs.Get[CurrentStats](r.World, player)
	require.True(t, ok)
	assert.Equal(t, CurrentStats{CurrentHealth: 96}, *stats)
	assert.Equal(t, 5, ecs.Resource[Frame](r.World).N)
}

func TestModifiersExpire(t *testing.T) {
	r := newRunner(t)
	miner := r.World.SpawnBundle(UnitBundle{Base: MinerBaseStats}).
		Insert(StatModifiers{Modifiers: []StatModifier{{Type: ModifierTypeFlatAttack, Value: 3, Frames: 2, Source: "strength_potion"}}}).
		ID()

	r.Update()
	mods, ok := ecs.Get[StatModifiers](r.World, miner)
	require.True(t, ok)
	assert.Len(t, mods.Modifiers, 1)
	assert.Equal(t, 8, EffectiveAttack(MinerBaseStats, mods))

	r.Update()
	assert.False(t, ecs.Has[StatModifiers](r.World, miner))
	assert.True(t, ecs.Has[CurrentStats](r.World, miner))
}

func TestScheduleHasNoAmbiguities(t *testing.T) {
	r := newRunner(t)
	r.Update()
	for _, label := range []schedule.StageLabel{schedule.First, schedule.Update, schedule.PostUpdate} {
		assert.Zero(t, r.Schedule.SystemStage(label).AmbiguityCount(r.World, schedule.AmbiguityWarnVerbose), label)
	}
}
