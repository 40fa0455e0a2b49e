package ecs

import (
	"sync"

	"github.com/DangerosoDavo/archecs/ecs/component"
)

// removedComponents remembers which entities lost a component kind since the last ClearTrackers.
type removedComponents struct {
	mu     sync.Mutex
	byKind map[component.KindID][]Entity
}

func newRemovedComponents() *removedComponents {
	return &removedComponents{byKind: make(map[component.KindID][]Entity)}
}

func (r *removedComponents) record(kind component.KindID, e Entity) {
	r.mu.Lock()
	r.byKind[kind] = append(r.byKind[kind], e)
	r.mu.Unlock()
}

// get copies the list so callers may keep it past the next clear.
func (r *removedComponents) get(kind component.KindID) []Entity {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Entity(nil), r.byKind[kind]...)
}

func (r *removedComponents) clear() {
	r.mu.Lock()
	for kind, list := range r.byKind {
		r.byKind[kind] = list[:0]
	}
	r.mu.Unlock()
}

// Removed lists entities that lost a component of kind since the last ClearTrackers.
func (w *World) Removed(kind component.KindID) []Entity {
	return w.removed.get(kind)
}
