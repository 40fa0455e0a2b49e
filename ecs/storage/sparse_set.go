package storage

import (
	"github.com/kamstrup/intmap"

	"github.com/DangerosoDavo/archecs/ecs/component"
	"github.com/DangerosoDavo/archecs/ecs/entity"
)

// SparseSet stores one key's values densely, indexed by entity.
type SparseSet struct {
	key      Key
	dense    component.Vec
	ticks    []component.Ticks
	entities []entity.Entity
	sparse   *intmap.Map[uint32, int]
}

// NewSparseSet allocates an empty set for key.
func NewSparseSet(key Key, info *component.Info) *SparseSet {
	return &SparseSet{
		key:    key,
		dense:  info.NewVec(),
		sparse: intmap.New[uint32, int](64),
	}
}

func (s *SparseSet) Key() Key                  { return s.key }
func (s *SparseSet) Len() int                  { return len(s.entities) }
func (s *SparseSet) Entities() []entity.Entity { return s.entities }
func (s *SparseSet) Data() component.Vec       { return s.dense }

// Insert writes value for e. An existing value is dropped and marked changed; a new one gets fresh ticks.
func (s *SparseSet) Insert(e entity.Entity, value any, tick uint32) {
	if i, ok := s.denseIndex(e); ok {
		s.dense.Set(i, value)
		s.ticks[i].SetChanged(tick)
		return
	}
	s.sparse.Put(e.Index(), len(s.entities))
	s.dense.Push(value)
	s.ticks = append(s.ticks, component.NewTicks(tick))
	s.entities = append(s.entities, e)
}

// Contains reports whether e has a value.
func (s *SparseSet) Contains(e entity.Entity) bool {
	_, ok := s.denseIndex(e)
	return ok
}

// Get returns a mutable view of e's value.
func (s *SparseSet) Get(e entity.Entity) (any, bool) {
	i, ok := s.denseIndex(e)
	if !ok {
		return nil, false
	}
	return s.dense.Ptr(i), true
}

// GetWithTicks returns e's value view and its ticks.
func (s *SparseSet) GetWithTicks(e entity.Entity) (any, *component.Ticks, bool) {
	i, ok := s.denseIndex(e)
	if !ok {
		return nil, nil, false
	}
	return s.dense.Ptr(i), &s.ticks[i], true
}

// Remove takes e's value out of the set without dropping it.
func (s *SparseSet) Remove(e entity.Entity) (any, bool) {
	i, ok := s.denseIndex(e)
	if !ok {
		return nil, false
	}
	value := s.dense.SwapRemove(i)
	s.removeAt(e, i)
	return value, true
}

// RemoveAndDrop removes and drops e's value.
func (s *SparseSet) RemoveAndDrop(e entity.Entity) bool {
	i, ok := s.denseIndex(e)
	if !ok {
		return false
	}
	s.dense.SwapRemoveDrop(i)
	s.removeAt(e, i)
	return true
}

func (s *SparseSet) removeAt(e entity.Entity, i int) {
	last := len(s.entities) - 1
	s.sparse.Del(e.Index())
	s.ticks[i] = s.ticks[last]
	s.ticks = s.ticks[:last]
	if i != last {
		moved := s.entities[last]
		s.entities[i] = moved
		s.sparse.Put(moved.Index(), i)
	}
	s.entities = s.entities[:last]
}

func (s *SparseSet) denseIndex(e entity.Entity) (int, bool) {
	i, ok := s.sparse.Get(e.Index())
	if !ok || s.entities[i] != e {
		return 0, false
	}
	return i, true
}

// CheckChangeTicks clamps every value's ticks.
func (s *SparseSet) CheckChangeTicks(current uint32) {
	for i := range s.ticks {
		s.ticks[i].Check(current)
	}
}

// SparseSets owns one sparse set per sparse-stored key.
type SparseSets struct {
	sets map[Key]*SparseSet
	keys []Key
}

// NewSparseSets constructs an empty collection.
func NewSparseSets() *SparseSets {
	return &SparseSets{sets: make(map[Key]*SparseSet)}
}

// Get returns the set for key.
func (ss *SparseSets) Get(key Key) (*SparseSet, bool) {
	set, ok := ss.sets[key]
	return set, ok
}

// GetOrInsert returns the set for key, creating it on first use.
func (ss *SparseSets) GetOrInsert(key Key, info *component.Info) *SparseSet {
	if set, ok := ss.sets[key]; ok {
		return set
	}
	set := NewSparseSet(key, info)
	ss.sets[key] = set
	ss.keys = append(ss.keys, key)
	return set
}

// Len reports how many sets exist.
func (ss *SparseSets) Len() int { return len(ss.keys) }

// CheckChangeTicks clamps the ticks of every set.
func (ss *SparseSets) CheckChangeTicks(current uint32) {
	for _, key := range ss.keys {
		ss.sets[key].CheckChangeTicks(current)
	}
}
