package ecs

import (
	"fmt"

	"github.com/DangerosoDavo/archecs/ecs/component"
)

// Item is a typed fetch element of a query. I is the item type itself.
type Item[I any] interface {
	queryTerm(w *World) Term
	fetchItem(row *QueryRow, slot int) I
}

// QueryFilter is a typed query filter.
type QueryFilter interface {
	queryFilter(w *World) Filter
}

// Ref fetches a T read-only.
type Ref[T any] struct {
	value *T
}

func (Ref[T]) queryTerm(w *World) Term {
	return ReadTerm(component.ComponentKind[T](w.components))
}

func (Ref[T]) fetchItem(row *QueryRow, slot int) Ref[T] {
	return Ref[T]{value: row.Ptr(slot).(*T)}
}

func (r Ref[T]) Get() *T { return r.value }

// Mut fetches a T for writing. Writes through Mut or Set mark the component changed.
type Mut[T any] struct {
	value *T
	ticks *component.Ticks
	tick  uint32
}

func (Mut[T]) queryTerm(w *World) Term {
	return WriteTerm(component.ComponentKind[T](w.components))
}

func (Mut[T]) fetchItem(row *QueryRow, slot int) Mut[T] {
	return Mut[T]{value: row.Ptr(slot).(*T), ticks: row.Ticks(slot), tick: row.thisRun}
}

// Get returns the value without marking it changed.
func (m Mut[T]) Get() *T { return m.value }

// Mut returns the value and marks it changed.
func (m Mut[T]) Mut() *T {
	m.ticks.SetChanged(m.tick)
	return m.value
}

// Set overwrites the value and marks it changed.
func (m Mut[T]) Set(value T) {
	*m.value = value
	m.ticks.SetChanged(m.tick)
}

// Opt fetches I where the entity matches it and reports absence elsewhere.
type Opt[I Item[I]] struct {
	value I
	ok    bool
}

func (Opt[I]) queryTerm(w *World) Term {
	var inner I
	return OptionalTerm(inner.queryTerm(w))
}

func (Opt[I]) fetchItem(row *QueryRow, slot int) Opt[I] {
	if !row.Has(slot) {
		return Opt[I]{}
	}
	var inner I
	return Opt[I]{value: inner.fetchItem(row, slot), ok: true}
}

func (o Opt[I]) Get() (I, bool) { return o.value, o.ok }

// Track fetches a T read-only together with its change ticks.
type Track[T any] struct {
	value   *T
	ticks   component.Ticks
	lastRun uint32
	thisRun uint32
}

func (Track[T]) queryTerm(w *World) Term {
	return TrackTerm(component.ComponentKind[T](w.components))
}

func (Track[T]) fetchItem(row *QueryRow, slot int) Track[T] {
	return Track[T]{value: row.Ptr(slot).(*T), ticks: *row.Ticks(slot), lastRun: row.lastRun, thisRun: row.thisRun}
}

func (t Track[T]) Get() *T                { return t.value }
func (t Track[T]) Ticks() component.Ticks { return t.ticks }
func (t Track[T]) IsAdded() bool          { return t.ticks.IsAdded(t.lastRun, t.thisRun) }
func (t Track[T]) IsChanged() bool        { return t.ticks.IsChanged(t.lastRun, t.thisRun) }

// Relations fetches the relations of type T selected by the query's relation filter.
type Relations[T any] struct {
	row  QueryRow
	slot int
}

func (Relations[T]) queryTerm(w *World) Term {
	return RelationTerm(component.ComponentKind[T](w.components), false)
}

func (Relations[T]) fetchItem(row *QueryRow, slot int) Relations[T] {
	return Relations[T]{row: *row, slot: slot}
}

func (r Relations[T]) Len() int            { return r.row.RelationLen(r.slot) }
func (r Relations[T]) Target(i int) Entity { return r.row.RelationTarget(r.slot, i) }
func (r Relations[T]) Get(i int) *T        { return r.row.RelationPtr(r.slot, i).(*T) }

// Single returns the only selected relation and panics when there is not exactly one.
func (r Relations[T]) Single() (Entity, *T) {
	if n := r.Len(); n != 1 {
		panic(fmt.Sprintf("ecs: Single on %d relations", n))
	}
	return r.Target(0), r.Get(0)
}

// Each calls fn for every selected relation in yield order.
func (r Relations[T]) Each(fn func(target Entity, value *T)) {
	for i := 0; i < r.Len(); i++ {
		fn(r.Target(i), r.Get(i))
	}
}

// RelationsMut fetches the selected relations of type T for writing.
type RelationsMut[T any] struct {
	Relations[T]
}

func (RelationsMut[T]) queryTerm(w *World) Term {
	return RelationTerm(component.ComponentKind[T](w.components), true)
}

func (RelationsMut[T]) fetchItem(row *QueryRow, slot int) RelationsMut[T] {
	return RelationsMut[T]{Relations[T]{row: *row, slot: slot}}
}

// Mut returns the i-th relation and marks it changed.
func (r RelationsMut[T]) Mut(i int) *T {
	r.row.RelationTicks(r.slot, i).SetChanged(r.row.thisRun)
	return r.Get(i)
}

// Single returns the only selected relation, marked changed.
func (r RelationsMut[T]) Single() (Entity, *T) {
	target, _ := r.Relations.Single()
	return target, r.Mut(0)
}

// Each calls fn for every selected relation, marking each changed.
func (r RelationsMut[T]) Each(fn func(target Entity, value *T)) {
	for i := 0; i < r.Len(); i++ {
		fn(r.Target(i), r.Mut(i))
	}
}

// NoFilter matches every entity.
type NoFilter struct{}

func (NoFilter) queryFilter(*World) Filter { return AndFilter() }

// With requires a T, as a component or a relation, without fetching it.
type With[T any] struct{}

func (With[T]) queryFilter(w *World) Filter {
	return WithFilter(component.ComponentKind[T](w.components))
}

// Without excludes entities having a T.
type Without[T any] struct{}

func (Without[T]) queryFilter(w *World) Filter {
	return WithoutFilter(component.ComponentKind[T](w.components))
}

// Added passes entities whose T was added since the system last ran.
type Added[T any] struct{}

func (Added[T]) queryFilter(w *World) Filter {
	return AddedFilter(component.ComponentKind[T](w.components))
}

// Changed passes entities whose T was added or changed since the system last ran.
type Changed[T any] struct{}

func (Changed[T]) queryFilter(w *World) Filter {
	return ChangedFilter(component.ComponentKind[T](w.components))
}

// And passes entities that pass both A and B.
type And[A, B QueryFilter] struct{}

func (And[A, B]) queryFilter(w *World) Filter {
	var a A
	var b B
	return AndFilter(a.queryFilter(w), b.queryFilter(w))
}

// Or passes entities that pass A or B.
type Or[A, B QueryFilter] struct{}

func (Or[A, B]) queryFilter(w *World) Filter {
	var a A
	var b B
	return OrFilter(a.queryFilter(w), b.queryFilter(w))
}

// queryCore binds a QueryState to a world. Queries owned by a system take their ticks from the
// system run; standalone queries read them from the world.
type queryCore struct {
	state    *QueryState
	world    *World
	inSystem bool
	lastRun  uint32
	thisRun  uint32
}

func newQueryCore(w *World, terms []Term, filter Filter) queryCore {
	return queryCore{state: NewQueryState(w, terms, filter), world: w}
}

func (q *queryCore) ticks() (uint32, uint32) {
	if q.inSystem {
		return q.lastRun, q.thisRun
	}
	return q.world.LastChangeTick(), q.world.ChangeTick()
}

func (q *queryCore) iter(readOnly bool, fn func(*QueryRow) bool) {
	if readOnly && !q.state.ReadOnly() {
		panic("ecs: Iter on a query that writes; use IterMut")
	}
	lastRun, thisRun := q.ticks()
	q.state.iterate(q.world, lastRun, thisRun, fn)
}

func (q *queryCore) get(e Entity) (*QueryRow, error) {
	lastRun, thisRun := q.ticks()
	return q.state.get(q.world, e, lastRun, thisRun)
}

func (q *queryCore) single() (*QueryRow, error) {
	lastRun, thisRun := q.ticks()
	return q.state.single(q.world, lastRun, thisRun)
}

func (q *queryCore) par(batchSize int, fn func(*QueryRow) error) error {
	lastRun, thisRun := q.ticks()
	return q.state.parForEach(q.world, lastRun, thisRun, batchSize, fn)
}

// State exposes the underlying query state.
func (q *queryCore) State() *QueryState { return q.state }

// Count reports how many entities match.
func (q *queryCore) Count() int {
	lastRun, thisRun := q.ticks()
	return q.state.count(q.world, lastRun, thisRun)
}

// IsEmpty reports whether no entity matches.
func (q *queryCore) IsEmpty() bool {
	empty := true
	q.iter(false, func(*QueryRow) bool {
		empty = false
		return false
	})
	return empty
}

// SetRelationFilter selects which relation targets the query yields.
func (q *queryCore) SetRelationFilter(filter *RelationFilter) {
	q.state.SetRelationFilter(q.world, filter)
}

func fetchAt[I Item[I]](row *QueryRow, slot int) I {
	var item I
	return item.fetchItem(row, slot)
}

func termOf[I Item[I]](w *World) Term {
	var item I
	return item.queryTerm(w)
}

func filterOf[F QueryFilter](w *World) Filter {
	var f F
	return f.queryFilter(w)
}

// Query1 fetches one item per entity passing F.
type Query1[A Item[A], F QueryFilter] struct {
	queryCore
}

func NewQuery1[A Item[A], F QueryFilter](w *World) *Query1[A, F] {
	return &Query1[A, F]{newQueryCore(w, query1Terms[A](w), filterOf[F](w))}
}

func query1Terms[A Item[A]](w *World) []Term {
	return []Term{termOf[A](w)}
}

// Iter calls fn for every match of a read-only query until fn returns false.
func (q *Query1[A, F]) Iter(fn func(Entity, A) bool) {
	q.iter(true, func(row *QueryRow) bool { return fn(row.entity, fetchAt[A](row, 0)) })
}

// IterMut calls fn for every match until fn returns false.
func (q *Query1[A, F]) IterMut(fn func(Entity, A) bool) {
	q.iter(false, func(row *QueryRow) bool { return fn(row.entity, fetchAt[A](row, 0)) })
}

// ForEach calls fn for every match.
func (q *Query1[A, F]) ForEach(fn func(Entity, A)) {
	q.iter(false, func(row *QueryRow) bool {
		fn(row.entity, fetchAt[A](row, 0))
		return true
	})
}

// ParForEach calls fn for every match from concurrent batches of batchSize entities.
func (q *Query1[A, F]) ParForEach(batchSize int, fn func(Entity, A) error) error {
	return q.par(batchSize, func(row *QueryRow) error { return fn(row.entity, fetchAt[A](row, 0)) })
}

// Get fetches the item of e.
func (q *Query1[A, F]) Get(e Entity) (A, error) {
	row, err := q.get(e)
	if err != nil {
		var zero A
		return zero, err
	}
	return fetchAt[A](row, 0), nil
}

// Single fetches the only match.
func (q *Query1[A, F]) Single() (Entity, A, error) {
	row, err := q.single()
	if err != nil {
		var zero A
		return Entity{}, zero, err
	}
	return row.entity, fetchAt[A](row, 0), nil
}

// Query2 fetches two items per entity passing F.
type Query2[A Item[A], B Item[B], F QueryFilter] struct {
	queryCore
}

func NewQuery2[A Item[A], B Item[B], F QueryFilter](w *World) *Query2[A, B, F] {
	return &Query2[A, B, F]{newQueryCore(w, query2Terms[A, B](w), filterOf[F](w))}
}

func query2Terms[A Item[A], B Item[B]](w *World) []Term {
	return []Term{termOf[A](w), termOf[B](w)}
}

func (q *Query2[A, B, F]) Iter(fn func(Entity, A, B) bool) {
	q.iter(true, func(row *QueryRow) bool {
		return fn(row.entity, fetchAt[A](row, 0), fetchAt[B](row, 1))
	})
}

func (q *Query2[A, B, F]) IterMut(fn func(Entity, A, B) bool) {
	q.iter(false, func(row *QueryRow) bool {
		return fn(row.entity, fetchAt[A](row, 0), fetchAt[B](row, 1))
	})
}

func (q *Query2[A, B, F]) ForEach(fn func(Entity, A, B)) {
	q.iter(false, func(row *QueryRow) bool {
		fn(row.entity, fetchAt[A](row, 0), fetchAt[B](row, 1))
		return true
	})
}

func (q *Query2[A, B, F]) ParForEach(batchSize int, fn func(Entity, A, B) error) error {
	return q.par(batchSize, func(row *QueryRow) error {
		return fn(row.entity, fetchAt[A](row, 0), fetchAt[B](row, 1))
	})
}

func (q *Query2[A, B, F]) Get(e Entity) (A, B, error) {
	row, err := q.get(e)
	if err != nil {
		var a A
		var b B
		return a, b, err
	}
	return fetchAt[A](row, 0), fetchAt[B](row, 1), nil
}

func (q *Query2[A, B, F]) Single() (Entity, A, B, error) {
	row, err := q.single()
	if err != nil {
		var a A
		var b B
		return Entity{}, a, b, err
	}
	return row.entity, fetchAt[A](row, 0), fetchAt[B](row, 1), nil
}

// Query3 fetches three items per entity passing F.
type Query3[A Item[A], B Item[B], C Item[C], F QueryFilter] struct {
	queryCore
}

func NewQuery3[A Item[A], B Item[B], C Item[C], F QueryFilter](w *World) *Query3[A, B, C, F] {
	return &Query3[A, B, C, F]{newQueryCore(w, query3Terms[A, B, C](w), filterOf[F](w))}
}

func query3Terms[A Item[A], B Item[B], C Item[C]](w *World) []Term {
	return []Term{termOf[A](w), termOf[B](w), termOf[C](w)}
}

func (q *Query3[A, B, C, F]) Iter(fn func(Entity, A, B, C) bool) {
	q.iter(true, func(row *QueryRow) bool {
		return fn(row.entity, fetchAt[A](row, 0), fetchAt[B](row, 1), fetchAt[C](row, 2))
	})
}

func (q *Query3[A, B, C, F]) IterMut(fn func(Entity, A, B, C) bool) {
	q.iter(false, func(row *QueryRow) bool {
		return fn(row.entity, fetchAt[A](row, 0), fetchAt[B](row, 1), fetchAt[C](row, 2))
	})
}

func (q *Query3[A, B, C, F]) ForEach(fn func(Entity, A, B, C)) {
	q.iter(false, func(row *QueryRow) bool {
		fn(row.entity, fetchAt[A](row, 0), fetchAt[B](row, 1), fetchAt[C](row, 2))
		return true
	})
}

func (q *Query3[A, B, C, F]) ParForEach(batchSize int, fn func(Entity, A, B, C) error) error {
	return q.par(batchSize, func(row *QueryRow) error {
		return fn(row.entity, fetchAt[A](row, 0), fetchAt[B](row, 1), fetchAt[C](row, 2))
	})
}

func (q *Query3[A, B, C, F]) Get(e Entity) (A, B, C, error) {
	row, err := q.get(e)
	if err != nil {
		var a A
		var b B
		var c C
		return a, b, c, err
	}
	return fetchAt[A](row, 0), fetchAt[B](row, 1), fetchAt[C](row, 2), nil
}

func (q *Query3[A, B, C, F]) Single() (Entity, A, B, C, error) {
	row, err := q.single()
	if err != nil {
		var a A
		var b B
		var c C
		return Entity{}, a, b, c, err
	}
	return row.entity, fetchAt[A](row, 0), fetchAt[B](row, 1), fetchAt[C](row, 2), nil
}

// Query4 fetches four items per entity passing F.
type Query4[A Item[A], B Item[B], C Item[C], D Item[D], F QueryFilter] struct {
	queryCore
}

func NewQuery4[A Item[A], B Item[B], C Item[C], D Item[D], F QueryFilter](w *World) *Query4[A, B, C, D, F] {
	return &Query4[A, B, C, D, F]{newQueryCore(w, query4Terms[A, B, C, D](w), filterOf[F](w))}
}

func query4Terms[A Item[A], B Item[B], C Item[C], D Item[D]](w *World) []Term {
	return []Term{termOf[A](w), termOf[B](w), termOf[C](w), termOf[D](w)}
}

func (q *Query4[A, B, C, D, F]) Iter(fn func(Entity, A, B, C, D) bool) {
	q.iter(true, func(row *QueryRow) bool {
		return fn(row.entity, fetchAt[A](row, 0), fetchAt[B](row, 1), fetchAt[C](row, 2), fetchAt[D](row, 3))
	})
}

func (q *Query4[A, B, C, D, F]) IterMut(fn func(Entity, A, B, C, D) bool) {
	q.iter(false, func(row *QueryRow) bool {
		return fn(row.entity, fetchAt[A](row, 0), fetchAt[B](row, 1), fetchAt[C](row, 2), fetchAt[D](row, 3))
	})
}

func (q *Query4[A, B, C, D, F]) ForEach(fn func(Entity, A, B, C, D)) {
	q.iter(false, func(row *QueryRow) bool {
		fn(row.entity, fetchAt[A](row, 0), fetchAt[B](row, 1), fetchAt[C](row, 2), fetchAt[D](row, 3))
		return true
	})
}

func (q *Query4[A, B, C, D, F]) ParForEach(batchSize int, fn func(Entity, A, B, C, D) error) error {
	return q.par(batchSize, func(row *QueryRow) error {
		return fn(row.entity, fetchAt[A](row, 0), fetchAt[B](row, 1), fetchAt[C](row, 2), fetchAt[D](row, 3))
	})
}

func (q *Query4[A, B, C, D, F]) Get(e Entity) (A, B, C, D, error) {
	row, err := q.get(e)
	if err != nil {
		var a A
		var b B
		var c C
		var d D
		return a, b, c, d, err
	}
	return fetchAt[A](row, 0), fetchAt[B](row, 1), fetchAt[C](row, 2), fetchAt[D](row, 3), nil
}

func (q *Query4[A, B, C, D, F]) Single() (Entity, A, B, C, D, error) {
	row, err := q.single()
	if err != nil {
		var a A
		var b B
		var c C
		var d D
		return Entity{}, a, b, c, d, err
	}
	return row.entity, fetchAt[A](row, 0), fetchAt[B](row, 1), fetchAt[C](row, 2), fetchAt[D](row, 3), nil
}
