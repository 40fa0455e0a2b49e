package ecs

import (
	"runtime"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"golang.org/x/sync/errgroup"

	"github.com/DangerosoDavo/archecs/ecs/component"
	"github.com/DangerosoDavo/archecs/ecs/storage"
)

// queryCache holds the archetypes and tables a query matches under one relation filter.
type queryCache struct {
	filter     *RelationFilter
	generation ArchetypeGeneration
	archetypes []ArchetypeID
	matched    bitSet
	tables     []storage.TableID
	tableArch  map[storage.TableID]ArchetypeID
}

// QueryState is the cached, world-bound form of a query: its terms, merged access and the
// archetypes it matches. Matches are extended as archetypes appear and never invalidated.
type QueryState struct {
	worldID       uuid.UUID
	terms         []Term
	filter        Filter
	access        FilteredAccess[component.KindID]
	relationKinds []component.KindID
	dense         bool

	caches map[string]*queryCache
	active *queryCache
}

// NewQueryState builds the state of a query fetching terms from entities that pass every filter.
// It panics with ErrQueryAccessConflict when the query reads and writes, or writes twice, the same
// kind.
func NewQueryState(w *World, terms []Term, filters ...Filter) *QueryState {
	s := &QueryState{
		worldID: w.id,
		terms:   terms,
		filter:  AndFilter(filters...),
		caches:  make(map[string]*queryCache),
		dense:   true,
	}
	for i := range s.terms {
		s.terms[i].updateAccess(&s.access, w.components)
	}
	// Filters only read ticks, so they are checked among themselves, not against the fetch.
	var filterAccess FilteredAccess[component.KindID]
	s.filter.updateAccess(&filterAccess, w.components)
	s.access.Extend(&filterAccess)

	relations := make(map[component.KindID]struct{})
	for i := range s.terms {
		if s.terms[i].usesRelations() {
			s.dense = false
			s.terms[i].eachKind(func(kind component.KindID) { relations[kind] = struct{}{} })
		}
	}
	s.relationKinds = sortedKinds(relations)
	checkStorage := func(kind component.KindID) {
		if w.components.Info(kind).Storage() != component.StorageTable {
			s.dense = false
		}
	}
	for i := range s.terms {
		s.terms[i].eachKind(checkStorage)
	}
	s.filter.eachKind(checkStorage)

	s.active = s.cacheFor(nil)
	s.UpdateArchetypes(w)
	return s
}

// Access is the kind-level access of the query.
func (s *QueryState) Access() *FilteredAccess[component.KindID] { return &s.access }

// IsDense reports whether iteration walks tables rather than archetypes.
func (s *QueryState) IsDense() bool { return s.dense }

// ReadOnly reports whether the query writes nothing.
func (s *QueryState) ReadOnly() bool { return s.access.access.writes.empty() }

func (s *QueryState) validateWorld(w *World) {
	if w.id != s.worldID {
		panic(eris.Wrapf(ErrWorldMismatch, "query state of world %v used with world %v", s.worldID, w.id))
	}
}

func (s *QueryState) cacheFor(filter *RelationFilter) *queryCache {
	sig := filter.signature(s.relationKinds)
	if cache, ok := s.caches[sig]; ok {
		return cache
	}
	cache := &queryCache{
		filter:    filter.clone(s.relationKinds),
		tableArch: make(map[storage.TableID]ArchetypeID),
	}
	s.caches[sig] = cache
	return cache
}

// SetRelationFilter selects which relation targets the query yields. Matches computed for a filter
// are kept and reused when the same filter is selected again.
func (s *QueryState) SetRelationFilter(w *World, filter *RelationFilter) {
	s.validateWorld(w)
	s.active = s.cacheFor(filter)
	s.UpdateArchetypes(w)
}

// UpdateArchetypes matches archetypes created since the last update.
func (s *QueryState) UpdateArchetypes(w *World) {
	s.validateWorld(w)
	cache := s.active
	for _, a := range w.archetypes.Since(cache.generation) {
		if !s.matchesArchetype(a, cache.filter) {
			continue
		}
		cache.archetypes = append(cache.archetypes, a.id)
		cache.matched.insert(uint32(a.id))
		if _, ok := cache.tableArch[a.tableID]; !ok {
			cache.tableArch[a.tableID] = a.id
			cache.tables = append(cache.tables, a.tableID)
		}
	}
	cache.generation = w.archetypes.Generation()
}

func (s *QueryState) matchesArchetype(a *Archetype, filter *RelationFilter) bool {
	for i := range s.terms {
		if !s.terms[i].matches(a, filter) {
			return false
		}
	}
	return s.filter.matches(a)
}

// MatchesArchetype reports whether entities of a are candidates under the active relation filter.
func (s *QueryState) MatchesArchetype(a *Archetype) bool {
	return s.matchesArchetype(a, s.active.filter)
}

// MatchesTable reports whether rows of table are candidates. Only meaningful for dense queries.
func (s *QueryState) MatchesTable(id storage.TableID) bool {
	_, ok := s.active.tableArch[id]
	return ok
}

// NewArchetype records the archetype component ids the query touches in a, for any relation
// filter it may later select.
func (s *QueryState) NewArchetype(a *Archetype, access *Access[ArchetypeComponentID]) {
	if !s.matchesArchetype(a, nil) {
		return
	}
	for i := range s.terms {
		s.terms[i].addArchetypeAccess(a, access)
	}
	s.filter.addArchetypeAccess(a, access)
}

// QueryRow is the current entity of a query iteration. It is reused between entities, so values
// fetched from it must not be retained past the callback.
type QueryRow struct {
	entity   Entity
	tableRow int
	terms    []termBinding
	lastRun  uint32
	thisRun  uint32
}

func (r *QueryRow) Entity() Entity  { return r.entity }
func (r *QueryRow) LastRun() uint32 { return r.lastRun }
func (r *QueryRow) ThisRun() uint32 { return r.thisRun }

// Has reports whether term slot is present for the entity. Only optional terms can be absent.
func (r *QueryRow) Has(slot int) bool { return r.terms[slot].present }

// Ptr returns a pointer to the value of term slot.
func (r *QueryRow) Ptr(slot int) any {
	return r.terms[slot].source.ptr(r.entity, r.tableRow)
}

// Ticks returns the change ticks of term slot.
func (r *QueryRow) Ticks(slot int) *component.Ticks {
	return r.terms[slot].source.ticks(r.entity, r.tableRow)
}

// RelationLen reports how many relation targets term slot yields.
func (r *QueryRow) RelationLen(slot int) int { return len(r.terms[slot].relations) }

// RelationTarget returns the i-th target of term slot.
func (r *QueryRow) RelationTarget(slot, i int) Entity { return r.terms[slot].relations[i].target }

// RelationPtr returns a pointer to the i-th relation value of term slot.
func (r *QueryRow) RelationPtr(slot, i int) any {
	return r.terms[slot].relations[i].ptr(r.entity, r.tableRow)
}

// RelationTicks returns the ticks of the i-th relation of term slot.
func (r *QueryRow) RelationTicks(slot, i int) *component.Ticks {
	return r.terms[slot].relations[i].ticks(r.entity, r.tableRow)
}

func (s *QueryState) bindRow(w *World, a *Archetype, table *storage.Table, row *QueryRow) filterBinding {
	row.terms = make([]termBinding, len(s.terms))
	for i := range s.terms {
		row.terms[i] = s.terms[i].bind(w, a, table, s.active.filter)
	}
	return s.filter.bind(w, a, table)
}

// iterate calls fn for every entity matching the query until fn returns false.
func (s *QueryState) iterate(w *World, lastRun, thisRun uint32, fn func(*QueryRow) bool) {
	s.UpdateArchetypes(w)
	ticked := s.filter.needsTicks()
	row := &QueryRow{lastRun: lastRun, thisRun: thisRun}
	if s.dense {
		for _, id := range s.active.tables {
			table := w.tables.Get(id)
			if table.Len() == 0 {
				continue
			}
			fb := s.bindRow(w, w.archetypes.Get(s.active.tableArch[id]), table, row)
			for i, e := range table.Entities() {
				row.entity, row.tableRow = e, i
				if ticked && !s.filter.test(&fb, e, i, lastRun, thisRun) {
					continue
				}
				if !fn(row) {
					return
				}
			}
		}
		return
	}
	for _, id := range s.active.archetypes {
		a := w.archetypes.Get(id)
		if a.Len() == 0 {
			continue
		}
		fb := s.bindRow(w, a, w.tables.Get(a.tableID), row)
		for i, e := range a.entities {
			row.entity, row.tableRow = e, a.tableRows[i]
			if ticked && !s.filter.test(&fb, e, row.tableRow, lastRun, thisRun) {
				continue
			}
			if !fn(row) {
				return
			}
		}
	}
}

// Iter calls fn for every matching entity of a read-only query until fn returns false.
func (s *QueryState) Iter(w *World, fn func(*QueryRow) bool) {
	if !s.ReadOnly() {
		panic("ecs: Iter on a query that writes; use IterMut")
	}
	s.iterate(w, w.LastChangeTick(), w.ChangeTick(), fn)
}

// IterMut calls fn for every matching entity until fn returns false.
func (s *QueryState) IterMut(w *World, fn func(*QueryRow) bool) {
	s.iterate(w, w.LastChangeTick(), w.ChangeTick(), fn)
}

// ForEach calls fn for every matching entity.
func (s *QueryState) ForEach(w *World, fn func(*QueryRow)) {
	s.iterate(w, w.LastChangeTick(), w.ChangeTick(), func(row *QueryRow) bool {
		fn(row)
		return true
	})
}

// Count reports how many entities match, including per-entity change filters.
func (s *QueryState) Count(w *World) int {
	return s.count(w, w.LastChangeTick(), w.ChangeTick())
}

func (s *QueryState) count(w *World, lastRun, thisRun uint32) int {
	n := 0
	s.iterate(w, lastRun, thisRun, func(*QueryRow) bool {
		n++
		return true
	})
	return n
}

// Get fetches the row of e. It fails with a QueryEntityError wrapping ErrNoSuchEntity or
// ErrQueryDoesNotMatch.
func (s *QueryState) Get(w *World, e Entity) (*QueryRow, error) {
	return s.get(w, e, w.LastChangeTick(), w.ChangeTick())
}

func (s *QueryState) get(w *World, e Entity, lastRun, thisRun uint32) (*QueryRow, error) {
	s.UpdateArchetypes(w)
	loc, ok := w.locate(e)
	if !ok {
		return nil, queryEntityError(e, ErrNoSuchEntity)
	}
	if !s.active.matched.contains(loc.Archetype) {
		return nil, queryEntityError(e, ErrQueryDoesNotMatch)
	}
	a := w.archetypes.Get(ArchetypeID(loc.Archetype))
	row := &QueryRow{entity: e, tableRow: a.tableRows[loc.Row], lastRun: lastRun, thisRun: thisRun}
	fb := s.bindRow(w, a, w.tables.Get(a.tableID), row)
	if !s.filter.test(&fb, e, row.tableRow, lastRun, thisRun) {
		return nil, queryEntityError(e, ErrQueryDoesNotMatch)
	}
	return row, nil
}

// Single fetches the only matching entity, failing with ErrNoEntities or ErrMultipleEntities.
func (s *QueryState) Single(w *World) (*QueryRow, error) {
	return s.single(w, w.LastChangeTick(), w.ChangeTick())
}

func (s *QueryState) single(w *World, lastRun, thisRun uint32) (*QueryRow, error) {
	var found *QueryRow
	var err error
	s.iterate(w, lastRun, thisRun, func(row *QueryRow) bool {
		if found != nil {
			err = ErrMultipleEntities
			return false
		}
		found = &QueryRow{entity: row.entity, tableRow: row.tableRow, terms: row.terms, lastRun: lastRun, thisRun: thisRun}
		return true
	})
	if err != nil {
		return nil, eris.Wrapf(err, "query matched more than one entity")
	}
	if found == nil {
		return nil, eris.Wrap(ErrNoEntities, "query matched nothing")
	}
	return found, nil
}

// ParForEach calls fn for every matching entity from concurrent goroutines, batchSize entities
// per goroutine. It returns the first error fn reports. fn must only write the row it is given.
func (s *QueryState) ParForEach(w *World, batchSize int, fn func(*QueryRow) error) error {
	return s.parForEach(w, w.LastChangeTick(), w.ChangeTick(), batchSize, fn)
}

type rowBatch struct {
	archetype *Archetype
	table     *storage.Table
	start     int
	end       int
}

func (s *QueryState) parForEach(w *World, lastRun, thisRun uint32, batchSize int, fn func(*QueryRow) error) error {
	s.UpdateArchetypes(w)
	if batchSize <= 0 {
		batchSize = 1
	}
	var batches []rowBatch
	split := func(a *Archetype, table *storage.Table, n int) {
		for start := 0; start < n; start += batchSize {
			batches = append(batches, rowBatch{archetype: a, table: table, start: start, end: min(start+batchSize, n)})
		}
	}
	if s.dense {
		for _, id := range s.active.tables {
			table := w.tables.Get(id)
			split(w.archetypes.Get(s.active.tableArch[id]), table, table.Len())
		}
	} else {
		for _, id := range s.active.archetypes {
			a := w.archetypes.Get(id)
			split(a, w.tables.Get(a.tableID), a.Len())
		}
	}

	ticked := s.filter.needsTicks()
	var g errgroup.Group
	g.SetLimit(runtime.GOMAXPROCS(0))
	for _, batch := range batches {
		g.Go(func() error {
			row := &QueryRow{lastRun: lastRun, thisRun: thisRun}
			fb := s.bindRow(w, batch.archetype, batch.table, row)
			for i := batch.start; i < batch.end; i++ {
				if s.dense {
					row.entity, row.tableRow = batch.table.Entities()[i], i
				} else {
					row.entity, row.tableRow = batch.archetype.entities[i], batch.archetype.tableRows[i]
				}
				if ticked && !s.filter.test(&fb, row.entity, row.tableRow, lastRun, thisRun) {
					continue
				}
				if err := fn(row); err != nil {
					return err
				}
			}
			return nil
		})
	}
	return g.Wait()
}
