package ecs

import (
	"reflect"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"

	"github.com/DangerosoDavo/archecs/ecs/component"
	"github.com/DangerosoDavo/archecs/ecs/entity"
	"github.com/DangerosoDavo/archecs/ecs/storage"
)

// World owns entities, their components and the resources systems share.
type World struct {
	id         uuid.UUID
	entities   *entity.Entities
	components *component.Registry
	tables     *storage.Tables
	sparseSets *storage.SparseSets
	archetypes *Archetypes
	bundles    *Bundles
	resources  *resourceMap
	removed    *removedComponents
	logger     Logger

	commandPool *CommandBufferPool

	changeTick     atomic.Uint32
	lastChangeTick uint32
}

type WorldOption func(*World)

// NewWorld constructs an empty world.
func NewWorld(opts ...WorldOption) *World {
	w := &World{
		id:         uuid.New(),
		entities:   entity.NewEntities(),
		components: component.NewRegistry(),
		tables:     storage.NewTables(),
		sparseSets: storage.NewSparseSets(),
		archetypes: newArchetypes(),
		bundles:    newBundles(),
		resources:  newResourceContainer(),
		removed:    newRemovedComponents(),
		logger:     noopLogger{},

		commandPool: NewCommandBufferPool(),
	}
	w.changeTick.Store(1)
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// WithLogger sets the logger used for command failures and diagnostics.
func WithLogger(logger Logger) WorldOption {
	return func(w *World) {
		if logger != nil {
			w.logger = logger
		}
	}
}

// WithComponentRegistry shares a kind registry between worlds.
func WithComponentRegistry(registry *component.Registry) WorldOption {
	return func(w *World) {
		if registry != nil {
			w.components = registry
		}
	}
}

func (w *World) ID() uuid.UUID                   { return w.id }
func (w *World) Logger() Logger                  { return w.logger }
func (w *World) Components() *component.Registry { return w.components }
func (w *World) Entities() *entity.Entities      { return w.entities }
func (w *World) Archetypes() *Archetypes         { return w.archetypes }
func (w *World) Tables() *storage.Tables         { return w.tables }
func (w *World) SparseSets() *storage.SparseSets { return w.sparseSets }
func (w *World) Bundles() *Bundles               { return w.bundles }

// Len reports how many entities are alive, including reserved ones.
func (w *World) Len() int { return w.entities.Len() }

// ChangeTick is the current change tick.
func (w *World) ChangeTick() uint32 { return w.changeTick.Load() }

// IncrementChangeTick advances the change tick and returns its previous value.
func (w *World) IncrementChangeTick() uint32 { return w.changeTick.Add(1) - 1 }

// AdvanceChangeTick moves the change tick n ticks forward, wrapping around, as if that many systems
// had run.
func (w *World) AdvanceChangeTick(n uint32) { w.changeTick.Add(n) }

// LastChangeTick is the tick queries outside systems compare against.
func (w *World) LastChangeTick() uint32 { return w.lastChangeTick }

// CheckChangeTicks clamps every stored tick so it stays comparable with the current tick.
func (w *World) CheckChangeTicks() {
	current := w.ChangeTick()
	w.tables.CheckChangeTicks(current)
	w.sparseSets.CheckChangeTicks(current)
	w.resources.checkChangeTicks(current)
}

// ClearTrackers forgets removed components and starts a new change detection window. Call it once
// per frame after the schedule ran.
func (w *World) ClearTrackers() {
	w.removed.clear()
	w.lastChangeTick = w.IncrementChangeTick()
}

// Flush places entities reserved by commands into the empty archetype.
func (w *World) Flush() {
	if !w.entities.NeedsFlush() {
		return
	}
	w.entities.Flush(w.placeEmpty)
}

func (w *World) placeEmpty(e Entity) entity.Location {
	tableRow := w.tables.Get(storage.EmptyTable).Allocate(e)
	row := w.archetypes.Get(EmptyArchetype).push(e, tableRow)
	return entity.Location{Archetype: uint32(EmptyArchetype), Row: row}
}

// Spawn creates an entity holding values, each a component of its dynamic type.
func (w *World) Spawn(values ...any) *EntityMut {
	m := w.spawnEmpty()
	if len(values) > 0 {
		m.Insert(values...)
	}
	return m
}

// SpawnBundle creates an entity holding the members of b.
func (w *World) SpawnBundle(b Bundle) *EntityMut {
	return w.spawnEmpty().InsertBundle(b)
}

func (w *World) spawnEmpty() *EntityMut {
	w.Flush()
	e := w.entities.Alloc()
	loc := w.placeEmpty(e)
	w.entities.SetLocation(e, loc)
	return &EntityMut{world: w, entity: e, location: loc}
}

// Contains reports whether e is alive.
func (w *World) Contains(e Entity) bool {
	return w.entities.IsAlive(e)
}

// Entity returns a read handle for e, panicking when e is not alive.
func (w *World) Entity(e Entity) EntityRef {
	ref, ok := w.GetEntity(e)
	if !ok {
		panic(eris.Wrapf(ErrNoSuchEntity, "entity %v", e))
	}
	return ref
}

// GetEntity returns a read handle for e.
func (w *World) GetEntity(e Entity) (EntityRef, bool) {
	loc, ok := w.locate(e)
	if !ok {
		return EntityRef{}, false
	}
	return EntityRef{world: w, entity: e, location: loc}, true
}

// EntityMut returns a write handle for e, panicking when e is not alive.
func (w *World) EntityMut(e Entity) *EntityMut {
	m, ok := w.GetEntityMut(e)
	if !ok {
		panic(eris.Wrapf(ErrNoSuchEntity, "entity %v", e))
	}
	return m
}

// GetEntityMut returns a write handle for e.
func (w *World) GetEntityMut(e Entity) (*EntityMut, bool) {
	w.Flush()
	loc, ok := w.locate(e)
	if !ok {
		return nil, false
	}
	return &EntityMut{world: w, entity: e, location: loc}, true
}

func (w *World) locate(e Entity) (entity.Location, bool) {
	loc, ok := w.entities.Get(e)
	if !ok || loc.Archetype == entity.Unplaced {
		return entity.Location{}, false
	}
	return loc, true
}

// Despawn removes e and drops its components. It reports whether e was alive.
func (w *World) Despawn(e Entity) bool {
	w.Flush()
	loc, ok := w.locate(e)
	if !ok {
		return false
	}
	arch := w.archetypes.Get(ArchetypeID(loc.Archetype))
	for _, key := range arch.sparseKeys {
		if set, ok := w.sparseSets.Get(key); ok {
			set.RemoveAndDrop(e)
		}
	}
	var last component.KindID
	for i, key := range arch.keys {
		if i == 0 || key.Kind != last {
			w.removed.record(key.Kind, e)
		}
		last = key.Kind
	}

	tableRow, swapped, moved := arch.swapRemove(loc.Row)
	if moved {
		w.entities.SetLocation(swapped, loc)
	}
	if relocated, ok := w.tables.Get(arch.tableID).SwapRemove(tableRow); ok {
		w.fixTableRow(relocated, tableRow)
	}
	w.entities.Free(e)
	return true
}

// fetchKey resolves the value view and ticks of key on e.
func (w *World) fetchKey(e Entity, key storage.Key) (any, *component.Ticks, bool) {
	loc, ok := w.locate(e)
	if !ok {
		return nil, nil, false
	}
	arch := w.archetypes.Get(ArchetypeID(loc.Archetype))
	st, ok := arch.StorageOf(key)
	if !ok {
		return nil, nil, false
	}
	if st == component.StorageTable {
		col, _ := w.tables.Get(arch.tableID).Column(key)
		row := arch.tableRows[loc.Row]
		return col.Ptr(row), col.Ticks(row), true
	}
	set, ok := w.sparseSets.Get(key)
	if !ok {
		return nil, nil, false
	}
	return set.GetWithTicks(e)
}

// Get returns e's component of type T.
func Get[T any](w *World, e Entity) (*T, bool) {
	kind, ok := w.components.LookupComponent(reflect.TypeFor[T]())
	if !ok {
		return nil, false
	}
	value, _, ok := w.fetchKey(e, storage.KeyOf(kind))
	if !ok {
		return nil, false
	}
	return value.(*T), true
}

// GetMut returns e's component of type T and marks it changed.
func GetMut[T any](w *World, e Entity) (*T, bool) {
	kind, ok := w.components.LookupComponent(reflect.TypeFor[T]())
	if !ok {
		return nil, false
	}
	value, ticks, ok := w.fetchKey(e, storage.KeyOf(kind))
	if !ok {
		return nil, false
	}
	ticks.SetChanged(w.ChangeTick())
	return value.(*T), true
}

// GetRelation returns e's relation of type T toward target.
func GetRelation[T any](w *World, e, target Entity) (*T, bool) {
	kind, ok := w.components.LookupComponent(reflect.TypeFor[T]())
	if !ok {
		return nil, false
	}
	value, _, ok := w.fetchKey(e, storage.RelationKey(kind, target))
	if !ok {
		return nil, false
	}
	return value.(*T), true
}

// Has reports whether e has a component of type T.
func Has[T any](w *World, e Entity) bool {
	_, ok := Get[T](w, e)
	return ok
}

// HasRelation reports whether e has a relation of type T toward target.
func HasRelation[T any](w *World, e, target Entity) bool {
	_, ok := GetRelation[T](w, e, target)
	return ok
}

// RelationTargets lists the targets of e's relations of type T in ascending order.
func RelationTargets[T any](w *World, e Entity) []Entity {
	kind, ok := w.components.LookupComponent(reflect.TypeFor[T]())
	if !ok {
		return nil
	}
	loc, ok := w.locate(e)
	if !ok {
		return nil
	}
	targets := w.archetypes.Get(ArchetypeID(loc.Archetype)).RelationTargets(kind)
	return append([]Entity(nil), targets...)
}

// Remove takes e's component of type T.
func Remove[T any](w *World, e Entity) (T, bool) {
	return removeTyped[T](w, e, Entity{})
}

// RemoveRelation takes e's relation of type T toward target.
func RemoveRelation[T any](w *World, e, target Entity) (T, bool) {
	return removeTyped[T](w, e, target)
}

func removeTyped[T any](w *World, e, target Entity) (T, bool) {
	var zero T
	kind, ok := w.components.LookupComponent(reflect.TypeFor[T]())
	if !ok {
		return zero, false
	}
	m, ok := w.GetEntityMut(e)
	if !ok {
		return zero, false
	}
	values, ok := m.Remove(storage.RelationKey(kind, target))
	if !ok {
		return zero, false
	}
	return values[0].(T), true
}
