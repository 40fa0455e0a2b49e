package ecs

import (
	"encoding/binary"
	"sort"

	"github.com/DangerosoDavo/archecs/ecs/component"
)

// RelationFilter selects relation targets per relation kind. A kind without targets is a
// wildcard: every target of the kind is yielded in ascending order. Listed targets must all be
// present and are yielded in the order they were added.
type RelationFilter struct {
	targets map[component.KindID][]Entity
}

// NewRelationFilter returns a filter that selects every target.
func NewRelationFilter() *RelationFilter {
	return &RelationFilter{targets: make(map[component.KindID][]Entity)}
}

// Add requires target for kind.
func (f *RelationFilter) Add(kind component.KindID, target Entity) *RelationFilter {
	if f.targets == nil {
		f.targets = make(map[component.KindID][]Entity)
	}
	for _, existing := range f.targets[kind] {
		if existing == target {
			return f
		}
	}
	f.targets[kind] = append(f.targets[kind], target)
	return f
}

// AddTarget requires target for the relation kind of T.
func AddTarget[T any](w *World, f *RelationFilter, target Entity) *RelationFilter {
	return f.Add(component.ComponentKind[T](w.components), target)
}

func (f *RelationFilter) targetsOf(kind component.KindID) []Entity {
	if f == nil {
		return nil
	}
	return f.targets[kind]
}

// signature identifies the filter as seen by a query relating the given kinds.
func (f *RelationFilter) signature(kinds []component.KindID) string {
	var buf []byte
	for _, kind := range kinds {
		targets := f.targetsOf(kind)
		if len(targets) == 0 {
			continue
		}
		buf = binary.LittleEndian.AppendUint32(buf, uint32(kind))
		buf = binary.LittleEndian.AppendUint32(buf, uint32(len(targets)))
		for _, target := range targets {
			buf = binary.LittleEndian.AppendUint64(buf, target.Bits())
		}
	}
	return string(buf)
}

// clone copies the filter restricted to kinds.
func (f *RelationFilter) clone(kinds []component.KindID) *RelationFilter {
	out := NewRelationFilter()
	for _, kind := range kinds {
		if targets := f.targetsOf(kind); len(targets) > 0 {
			out.targets[kind] = append([]Entity(nil), targets...)
		}
	}
	return out
}

func sortedKinds(kinds map[component.KindID]struct{}) []component.KindID {
	out := make([]component.KindID, 0, len(kinds))
	for kind := range kinds {
		out = append(out, kind)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// RelationsOf lists e's relations of type T with their targets in ascending target order.
func RelationsOf[T any](w *World, e Entity) ([]Entity, []*T) {
	targets := RelationTargets[T](w, e)
	values := make([]*T, 0, len(targets))
	for _, target := range targets {
		value, _ := GetRelation[T](w, e, target)
		values = append(values, value)
	}
	return targets, values
}
