package ecs

import (
	"github.com/TheBitDrifter/mask"
	"github.com/rotisserie/eris"

	"github.com/DangerosoDavo/archecs/ecs/component"
	"github.com/DangerosoDavo/archecs/ecs/storage"
)

type termOp uint8

const (
	termRead termOp = iota
	termWrite
	termOptional
	termTrack
	termRelation
)

// Term is one fetched element of a query row.
type Term struct {
	op    termOp
	kind  component.KindID
	write bool
	inner *Term
}

// ReadTerm fetches kind read-only.
func ReadTerm(kind component.KindID) Term { return Term{op: termRead, kind: kind} }

// WriteTerm fetches kind for writing.
func WriteTerm(kind component.KindID) Term { return Term{op: termWrite, kind: kind, write: true} }

// OptionalTerm fetches inner where it matches and reports absence elsewhere.
func OptionalTerm(inner Term) Term { return Term{op: termOptional, inner: &inner} }

// TrackTerm fetches kind read-only together with its change ticks.
func TrackTerm(kind component.KindID) Term { return Term{op: termTrack, kind: kind} }

// RelationTerm fetches every relation of kind selected by the query's relation filter.
func RelationTerm(kind component.KindID, write bool) Term {
	return Term{op: termRelation, kind: kind, write: write}
}

type filterOp uint8

const (
	filterAnd filterOp = iota
	filterOr
	filterWith
	filterWithout
	filterAdded
	filterChanged
)

// Filter restricts which entities a query yields without fetching anything.
type Filter struct {
	op   filterOp
	kind component.KindID
	subs []Filter
}

func WithFilter(kind component.KindID) Filter    { return Filter{op: filterWith, kind: kind} }
func WithoutFilter(kind component.KindID) Filter { return Filter{op: filterWithout, kind: kind} }
func AddedFilter(kind component.KindID) Filter   { return Filter{op: filterAdded, kind: kind} }
func ChangedFilter(kind component.KindID) Filter { return Filter{op: filterChanged, kind: kind} }

// OrFilter matches entities that pass any of subs.
func OrFilter(subs ...Filter) Filter { return Filter{op: filterOr, subs: subs} }

// AndFilter matches entities that pass all of subs. With no subs it matches everything.
func AndFilter(subs ...Filter) Filter { return Filter{op: filterAnd, subs: subs} }

func (t *Term) updateAccess(access *FilteredAccess[component.KindID], reg *component.Registry) {
	switch t.op {
	case termRead, termTrack:
		if access.access.HasWrite(t.kind) {
			panic(eris.Wrapf(ErrQueryAccessConflict, "%s is read and written in the same query", reg.Info(t.kind).Name()))
		}
		access.AddRead(t.kind)
	case termWrite:
		if access.access.HasRead(t.kind) {
			panic(eris.Wrapf(ErrQueryAccessConflict, "%s is written while accessed elsewhere in the same query", reg.Info(t.kind).Name()))
		}
		access.AddWrite(t.kind)
	case termRelation:
		if t.write {
			if access.access.HasRead(t.kind) {
				panic(eris.Wrapf(ErrQueryAccessConflict, "relation %s is written while accessed elsewhere in the same query", reg.Info(t.kind).Name()))
			}
			access.AddWrite(t.kind)
			return
		}
		if access.access.HasWrite(t.kind) {
			panic(eris.Wrapf(ErrQueryAccessConflict, "relation %s is read and written in the same query", reg.Info(t.kind).Name()))
		}
		access.AddRead(t.kind)
	case termOptional:
		scratch := access.clone()
		t.inner.updateAccess(&scratch, reg)
		access.ExtendAccess(&scratch)
	}
}

func (f *Filter) updateAccess(access *FilteredAccess[component.KindID], reg *component.Registry) {
	switch f.op {
	case filterWith:
		access.AddWith(f.kind)
	case filterWithout:
		access.AddWithout(f.kind)
	case filterAdded, filterChanged:
		if access.access.HasWrite(f.kind) {
			panic(eris.Wrapf(ErrQueryAccessConflict, "%s is written while a change filter reads it", reg.Info(f.kind).Name()))
		}
		access.AddRead(f.kind)
	case filterAnd:
		for i := range f.subs {
			f.subs[i].updateAccess(access, reg)
		}
	case filterOr:
		for i := range f.subs {
			scratch := access.clone()
			f.subs[i].updateAccess(&scratch, reg)
			access.ExtendAccess(&scratch)
		}
	}
}

func (t *Term) usesRelations() bool {
	if t.op == termOptional {
		return t.inner.usesRelations()
	}
	return t.op == termRelation
}

func (t *Term) eachKind(fn func(component.KindID)) {
	if t.op == termOptional {
		t.inner.eachKind(fn)
		return
	}
	fn(t.kind)
}

func (f *Filter) eachKind(fn func(component.KindID)) {
	if f.op == filterAnd || f.op == filterOr {
		for i := range f.subs {
			f.subs[i].eachKind(fn)
		}
		return
	}
	fn(f.kind)
}

func hasKind(a *Archetype, kind component.KindID) bool {
	if kind < maskBits {
		var m mask.Mask
		m.Mark(uint32(kind))
		if !a.mask.ContainsAll(m) {
			return false
		}
	}
	return a.ContainsKind(kind)
}

func (t *Term) matches(a *Archetype, rel *RelationFilter) bool {
	switch t.op {
	case termOptional:
		return true
	case termRelation:
		if len(a.RelationTargets(t.kind)) == 0 {
			return false
		}
		for _, target := range rel.targetsOf(t.kind) {
			if !a.Contains(storage.RelationKey(t.kind, target)) {
				return false
			}
		}
		return true
	default:
		return hasKind(a, t.kind) && a.Contains(storage.KeyOf(t.kind))
	}
}

func (f *Filter) matches(a *Archetype) bool {
	switch f.op {
	case filterWith:
		return hasKind(a, f.kind)
	case filterWithout:
		return !hasKind(a, f.kind)
	case filterAdded, filterChanged:
		return a.Contains(storage.KeyOf(f.kind))
	case filterOr:
		for i := range f.subs {
			if f.subs[i].matches(a) {
				return true
			}
		}
		return false
	default:
		for i := range f.subs {
			if !f.subs[i].matches(a) {
				return false
			}
		}
		return true
	}
}

// addArchetypeAccess records the archetype component ids the term touches in a.
func (t *Term) addArchetypeAccess(a *Archetype, access *Access[ArchetypeComponentID]) {
	add := func(key storage.Key, write bool) {
		id, ok := a.ArchetypeComponentID(key)
		if !ok {
			return
		}
		if write {
			access.AddWrite(id)
		} else {
			access.AddRead(id)
		}
	}
	switch t.op {
	case termOptional:
		t.inner.addArchetypeAccess(a, access)
	case termRelation:
		for _, target := range a.RelationTargets(t.kind) {
			add(storage.RelationKey(t.kind, target), t.write)
		}
	default:
		add(storage.KeyOf(t.kind), t.op == termWrite)
	}
}

func (f *Filter) addArchetypeAccess(a *Archetype, access *Access[ArchetypeComponentID]) {
	switch f.op {
	case filterAdded, filterChanged:
		if id, ok := a.ArchetypeComponentID(storage.KeyOf(f.kind)); ok {
			access.AddRead(id)
		}
	case filterAnd, filterOr:
		for i := range f.subs {
			f.subs[i].addArchetypeAccess(a, access)
		}
	}
}

// slotSource resolves one key for every entity of an archetype: a table column or a sparse set.
type slotSource struct {
	column *storage.Column
	set    *storage.SparseSet
}

func (s slotSource) ptr(e Entity, tableRow int) any {
	if s.column != nil {
		return s.column.Ptr(tableRow)
	}
	value, _ := s.set.Get(e)
	return value
}

func (s slotSource) ticks(e Entity, tableRow int) *component.Ticks {
	if s.column != nil {
		return s.column.Ticks(tableRow)
	}
	_, ticks, _ := s.set.GetWithTicks(e)
	return ticks
}

func sourceOf(w *World, a *Archetype, table *storage.Table, key storage.Key) (slotSource, bool) {
	st, ok := a.StorageOf(key)
	if !ok {
		return slotSource{}, false
	}
	if st == component.StorageTable {
		col, ok := table.Column(key)
		return slotSource{column: col}, ok
	}
	set, ok := w.sparseSets.Get(key)
	return slotSource{set: set}, ok
}

// relationSource is one selected relation target of an archetype.
type relationSource struct {
	target Entity
	slotSource
}

// termBinding is a term resolved against one archetype.
type termBinding struct {
	present   bool
	source    slotSource
	relations []relationSource
}

func (t *Term) bind(w *World, a *Archetype, table *storage.Table, rel *RelationFilter) termBinding {
	switch t.op {
	case termOptional:
		if !t.inner.matches(a, rel) {
			return termBinding{}
		}
		return t.inner.bind(w, a, table, rel)
	case termRelation:
		targets := rel.targetsOf(t.kind)
		if len(targets) == 0 {
			targets = a.RelationTargets(t.kind)
		}
		b := termBinding{present: true, relations: make([]relationSource, 0, len(targets))}
		for _, target := range targets {
			src, ok := sourceOf(w, a, table, storage.RelationKey(t.kind, target))
			if !ok {
				return termBinding{}
			}
			b.relations = append(b.relations, relationSource{target: target, slotSource: src})
		}
		return b
	default:
		src, ok := sourceOf(w, a, table, storage.KeyOf(t.kind))
		return termBinding{present: ok, source: src}
	}
}

// filterBinding is a filter resolved against one archetype.
type filterBinding struct {
	matched bool
	source  slotSource
	subs    []filterBinding
}

func (f *Filter) bind(w *World, a *Archetype, table *storage.Table) filterBinding {
	b := filterBinding{matched: f.matches(a)}
	switch f.op {
	case filterAdded, filterChanged:
		if b.matched {
			b.source, _ = sourceOf(w, a, table, storage.KeyOf(f.kind))
		}
	case filterAnd, filterOr:
		b.subs = make([]filterBinding, len(f.subs))
		for i := range f.subs {
			b.subs[i] = f.subs[i].bind(w, a, table)
		}
	}
	return b
}

func (f *Filter) test(b *filterBinding, e Entity, tableRow int, lastRun, thisRun uint32) bool {
	switch f.op {
	case filterAdded:
		return b.matched && b.source.ticks(e, tableRow).IsAdded(lastRun, thisRun)
	case filterChanged:
		return b.matched && b.source.ticks(e, tableRow).IsChanged(lastRun, thisRun)
	case filterOr:
		for i := range f.subs {
			if b.subs[i].matched && f.subs[i].test(&b.subs[i], e, tableRow, lastRun, thisRun) {
				return true
			}
		}
		return false
	case filterAnd:
		for i := range f.subs {
			if !f.subs[i].test(&b.subs[i], e, tableRow, lastRun, thisRun) {
				return false
			}
		}
		return true
	default:
		return b.matched
	}
}

// needsTicks reports whether test depends on per-entity ticks.
func (f *Filter) needsTicks() bool {
	switch f.op {
	case filterAdded, filterChanged:
		return true
	case filterAnd, filterOr:
		for i := range f.subs {
			if f.subs[i].needsTicks() {
				return true
			}
		}
	}
	return false
}
