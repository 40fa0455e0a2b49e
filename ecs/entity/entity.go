package entity

import (
	"fmt"
	"sync"
)

// Entity identifies an entity and encodes a generation for stale-handle detection.
type Entity struct {
	index      uint32
	generation uint32
}

// Index returns the backing index of the entity.
func (e Entity) Index() uint32 {
	return e.index
}

// Generation returns the generation counter associated with the entity.
func (e Entity) Generation() uint32 {
	return e.generation
}

// IsZero reports whether the identifier is the zero value.
func (e Entity) IsZero() bool {
	return e.index == 0 && e.generation == 0
}

// Bits packs the entity into a single integer, generation in the high half.
func (e Entity) Bits() uint64 {
	return uint64(e.generation)<<32 | uint64(e.index)
}

// Less orders entities by index, then generation.
func (e Entity) Less(other Entity) bool {
	if e.index == other.index {
		return e.generation < other.generation
	}
	return e.index < other.index
}

// String renders the entity identifier for debugging purposes.
func (e Entity) String() string {
	if e.IsZero() {
		return "Entity(0:0)"
	}
	return fmt.Sprintf("Entity(%d:%d)", e.index, e.generation)
}

// FromParts constructs an identifier from raw components.
func FromParts(index, generation uint32) Entity {
	return Entity{index: index, generation: generation}
}

// FromBits reverses Bits.
func FromBits(bits uint64) Entity {
	return Entity{index: uint32(bits), generation: uint32(bits >> 32)}
}

// Location addresses an entity inside the archetype graph.
type Location struct {
	Archetype uint32
	Row       int
}

// Unplaced marks an entity that was reserved but not yet flushed into an archetype.
const Unplaced = ^uint32(0)

type slot struct {
	generation uint32
	alive      bool
	location   Location
}

// Entities coordinates entity allocation, recycling and location lookup.
type Entities struct {
	mu      sync.Mutex
	slots   []slot
	free    []uint32
	pending []Entity
	alive   uint32
}

// NewEntities constructs an empty allocator.
func NewEntities() *Entities {
	return &Entities{}
}

// Alloc issues a new entity identifier, recycling slots when possible.
// The caller is responsible for placing the entity with SetLocation.
func (es *Entities) Alloc() Entity {
	es.mu.Lock()
	defer es.mu.Unlock()
	return es.allocLocked()
}

// Reserve issues an identifier that is placed later by Flush. It is safe to
// call from concurrently running systems.
func (es *Entities) Reserve() Entity {
	es.mu.Lock()
	defer es.mu.Unlock()
	e := es.allocLocked()
	es.pending = append(es.pending, e)
	return e
}

func (es *Entities) allocLocked() Entity {
	var index uint32
	if n := len(es.free); n > 0 {
		index = es.free[n-1]
		es.free = es.free[:n-1]
	} else {
		index = uint32(len(es.slots))
		es.slots = append(es.slots, slot{})
	}

	s := &es.slots[index]
	s.generation++
	s.alive = true
	s.location = Location{Archetype: Unplaced}
	es.alive++
	return Entity{index: index, generation: s.generation}
}

// Flush hands every reserved entity to place, which returns its location.
func (es *Entities) Flush(place func(Entity) Location) {
	es.mu.Lock()
	pending := es.pending
	es.pending = nil
	es.mu.Unlock()

	for _, e := range pending {
		loc := place(e)
		es.SetLocation(e, loc)
	}
}

// NeedsFlush reports whether reserved entities are waiting for placement.
func (es *Entities) NeedsFlush() bool {
	es.mu.Lock()
	defer es.mu.Unlock()
	return len(es.pending) > 0
}

// Free releases the entity identifier and returns its last location.
func (es *Entities) Free(e Entity) (Location, bool) {
	if e.IsZero() {
		return Location{}, false
	}

	es.mu.Lock()
	defer es.mu.Unlock()

	if !es.isAliveLocked(e) {
		return Location{}, false
	}

	s := &es.slots[e.index]
	loc := s.location
	s.alive = false
	s.generation++
	s.location = Location{Archetype: Unplaced}
	es.alive--
	es.free = append(es.free, e.index)
	return loc, true
}

// Get resolves the entity to its location.
func (es *Entities) Get(e Entity) (Location, bool) {
	if e.IsZero() {
		return Location{}, false
	}

	es.mu.Lock()
	defer es.mu.Unlock()
	if !es.isAliveLocked(e) {
		return Location{}, false
	}
	return es.slots[e.index].location, true
}

// SetLocation records where a live entity is stored.
func (es *Entities) SetLocation(e Entity, loc Location) {
	es.mu.Lock()
	defer es.mu.Unlock()
	if !es.isAliveLocked(e) {
		panic(fmt.Sprintf("entity: set location of dead entity %v", e))
	}
	es.slots[e.index].location = loc
}

// IsAlive reports whether the identifier refers to a currently allocated entity.
func (es *Entities) IsAlive(e Entity) bool {
	if e.IsZero() {
		return false
	}

	es.mu.Lock()
	defer es.mu.Unlock()
	return es.isAliveLocked(e)
}

// Len returns the number of live entities.
func (es *Entities) Len() int {
	es.mu.Lock()
	defer es.mu.Unlock()
	return int(es.alive)
}

func (es *Entities) isAliveLocked(e Entity) bool {
	idx := e.index
	if idx >= uint32(len(es.slots)) {
		return false
	}
	s := es.slots[idx]
	return s.alive && s.generation == e.generation
}
