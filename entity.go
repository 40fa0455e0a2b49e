package ecs

import (
	"reflect"

	"github.com/DangerosoDavo/archecs/ecs/entity"
	"github.com/DangerosoDavo/archecs/ecs/storage"
)

// Entity identifies an entity and encodes a generation for stale-handle detection.
type Entity = entity.Entity

// EntityRef is a read handle to a live entity.
type EntityRef struct {
	world    *World
	entity   Entity
	location entity.Location
}

func (r EntityRef) ID() Entity                { return r.entity }
func (r EntityRef) Location() entity.Location { return r.location }

// Archetype returns the archetype the entity lives in.
func (r EntityRef) Archetype() *Archetype {
	return r.world.archetypes.Get(ArchetypeID(r.location.Archetype))
}

// Contains reports whether the entity stores key.
func (r EntityRef) Contains(key storage.Key) bool {
	return r.Archetype().Contains(key)
}

// Get returns a view of the value stored under key: *T for typed kinds, []byte for dynamic ones.
func (r EntityRef) Get(key storage.Key) (any, bool) {
	value, _, ok := r.world.fetchKey(r.entity, key)
	return value, ok
}

// EntityMut is a write handle to a live entity. Structural changes through it keep the handle valid.
type EntityMut struct {
	world    *World
	entity   Entity
	location entity.Location
}

func (m *EntityMut) ID() Entity                { return m.entity }
func (m *EntityMut) Location() entity.Location { return m.location }
func (m *EntityMut) World() *World             { return m.world }

// Archetype returns the archetype the entity lives in.
func (m *EntityMut) Archetype() *Archetype {
	return m.world.archetypes.Get(ArchetypeID(m.location.Archetype))
}

// Contains reports whether the entity stores key.
func (m *EntityMut) Contains(key storage.Key) bool {
	return m.Archetype().Contains(key)
}

// Get returns a view of the value stored under key.
func (m *EntityMut) Get(key storage.Key) (any, bool) {
	value, _, ok := m.world.fetchKey(m.entity, key)
	return value, ok
}

// Insert adds values as components of their dynamic types, written in argument order.
// Existing components of the same type are replaced.
func (m *EntityMut) Insert(values ...any) *EntityMut {
	return m.InsertBundle(valuesBundle(values))
}

// InsertBundle adds every member of b.
func (m *EntityMut) InsertBundle(b Bundle) *EntityMut {
	m.world.Flush()
	info, values := m.world.collectBundle(b)
	m.insert(info, values)
	return m
}

// InsertRelation adds value as a relation toward target, keyed by the dynamic type of value.
func (m *EntityMut) InsertRelation(value any, target Entity) *EntityMut {
	if target.IsZero() {
		panic("ecs: relation target must not be the zero entity")
	}
	m.world.Flush()
	kind := m.world.components.ComponentKindOf(reflect.TypeOf(value))
	info := m.world.bundleOfKeys(storage.RelationKey(kind, target))
	m.insert(info, []any{value})
	return m
}

func (m *EntityMut) insert(info *BundleInfo, values []any) {
	w := m.world
	edge := w.archetypeAfterInsert(ArchetypeID(m.location.Archetype), info)
	m.location = w.moveEntity(m.entity, m.location, edge.to, nil)
	arch := w.archetypes.Get(edge.to)
	table := w.tables.Get(arch.tableID)
	w.writeComponents(table, arch.tableRows[m.location.Row], m.entity, info, edge.statuses, values, w.ChangeTick())
}

// Remove takes the values of keys out of the entity, in key order. Nothing is removed and false is
// returned when the entity lacks any of them.
func (m *EntityMut) Remove(keys ...storage.Key) ([]any, bool) {
	w := m.world
	w.Flush()
	info := w.bundleOfKeys(keys...)
	edge := w.archetypeAfterRemove(ArchetypeID(m.location.Archetype), info, false)
	if !edge.ok {
		return nil, false
	}
	taken := make(map[storage.Key]any, len(keys))
	m.recordRemoved(info.keys)
	m.location = w.moveEntity(m.entity, m.location, edge.to, func(key storage.Key, value any) {
		taken[key] = value
	})
	values := make([]any, len(info.keys))
	for i, key := range info.keys {
		values[i] = taken[key]
	}
	return values, true
}

// RemoveIntersection drops whichever of keys the entity has.
func (m *EntityMut) RemoveIntersection(keys ...storage.Key) *EntityMut {
	w := m.world
	w.Flush()
	info := w.bundleOfKeys(keys...)
	edge := w.archetypeAfterRemove(ArchetypeID(m.location.Archetype), info, true)
	m.recordRemoved(info.keys)
	m.location = w.moveEntity(m.entity, m.location, edge.to, nil)
	return m
}

func (m *EntityMut) recordRemoved(keys []storage.Key) {
	arch := m.Archetype()
	for _, key := range keys {
		if arch.Contains(key) {
			m.world.removed.record(key.Kind, m.entity)
		}
	}
}

// Despawn removes the entity. The handle must not be used afterwards.
func (m *EntityMut) Despawn() {
	m.world.Despawn(m.entity)
}
