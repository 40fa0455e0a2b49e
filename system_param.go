package ecs

import (
	"fmt"
	"reflect"

	"github.com/rotisserie/eris"

	"github.com/DangerosoDavo/archecs/ecs/component"
)

// paramBase supplies the no-op parts of the parameter contract.
type paramBase struct{}

func (paramBase) applyParam(*World) error { return nil }
func (paramBase) newArchetype(*Archetype, *SystemMeta) {}

type worldParam struct{ paramBase }

func (p *worldParam) initParam(w *World, meta *SystemMeta) {
	if !meta.componentAccessSet.combined.IsEmpty() {
		panic(eris.Wrapf(ErrSystemAccessConflict, "*World in system %s conflicts with a previous system parameter", meta.name))
	}
	meta.componentAccessSet.WriteAll()
	meta.archetypeComponentAccess.WriteAll()
}

func (p *worldParam) fetchParam(*World, *SystemMeta, uint32) {}

// WorldRef gives a system read access to the whole world. It conflicts with every write.
type WorldRef struct {
	paramBase
	world *World
}

func (r *WorldRef) World() *World { return r.world }

func (r *WorldRef) initParam(w *World, meta *SystemMeta) {
	if !meta.componentAccessSet.combined.writes.empty() || meta.componentAccessSet.combined.writesAll {
		panic(eris.Wrapf(ErrSystemAccessConflict, "WorldRef in system %s conflicts with a previous mutable system parameter", meta.name))
	}
	meta.componentAccessSet.ReadAll()
	meta.archetypeComponentAccess.ReadAll()
}

func (r *WorldRef) fetchParam(w *World, _ *SystemMeta, _ uint32) { r.world = w }

// In receives the input of a piped system. It must be the first parameter.
type In[T any] struct {
	paramBase
	Value T
}

func (in *In[T]) setInput(value any) {
	if value == nil {
		var zero T
		in.Value = zero
		return
	}
	in.Value = value.(T)
}

func (in *In[T]) initParam(*World, *SystemMeta)          {}
func (in *In[T]) fetchParam(*World, *SystemMeta, uint32) {}

// resourceParam declares access to one resource kind.
type resourceParam struct {
	kind component.KindID
	data *resourceData
}

func (p *resourceParam) declare(w *World, meta *SystemMeta, kind component.KindID, write bool, param string) {
	p.kind = kind
	var access FilteredAccess[component.KindID]
	if write {
		access.AddWrite(kind)
	} else {
		access.AddRead(kind)
	}
	meta.addFiltered(w, access, fmt.Sprintf("%s<%s>", param, w.components.Info(kind).Name()))
	p.data = w.initializeResource(kind)
	if write {
		meta.archetypeComponentAccess.AddWrite(p.data.id)
	} else {
		meta.archetypeComponentAccess.AddRead(p.data.id)
	}
}

func (p *resourceParam) fetch(w *World, meta *SystemMeta) (*resourceData, bool) {
	data, ok := w.resources.get(p.kind)
	return data, ok
}

func (p *resourceParam) require(w *World, meta *SystemMeta) *resourceData {
	data, ok := p.fetch(w, meta)
	if !ok {
		panic(eris.Wrapf(ErrResourceNotFound, "resource requested by %s does not exist: %s", meta.name, w.components.Info(p.kind).Name()))
	}
	return data
}

// Res reads the resource T. A missing resource panics when the system runs.
type Res[T any] struct {
	paramBase
	resourceParam
	value   *T
	ticks   component.Ticks
	lastRun uint32
	thisRun uint32
}

func (r *Res[T]) initParam(w *World, meta *SystemMeta) {
	r.declare(w, meta, component.ResourceKind[T](w.components), false, "Res")
}

func (r *Res[T]) fetchParam(w *World, meta *SystemMeta, thisRun uint32) {
	data := r.require(w, meta)
	r.value, r.ticks = data.value.Interface().(*T), data.ticks
	r.lastRun, r.thisRun = meta.lastChangeTick, thisRun
}

func (r Res[T]) Get() *T         { return r.value }
func (r Res[T]) IsAdded() bool   { return r.ticks.IsAdded(r.lastRun, r.thisRun) }
func (r Res[T]) IsChanged() bool { return r.ticks.IsChanged(r.lastRun, r.thisRun) }

// ResMut reads and writes the resource T.
type ResMut[T any] struct {
	paramBase
	resourceParam
	value   *T
	ticks   *component.Ticks
	lastRun uint32
	thisRun uint32
}

func (r *ResMut[T]) initParam(w *World, meta *SystemMeta) {
	r.declare(w, meta, component.ResourceKind[T](w.components), true, "ResMut")
}

func (r *ResMut[T]) fetchParam(w *World, meta *SystemMeta, thisRun uint32) {
	data := r.require(w, meta)
	r.value, r.ticks = data.value.Interface().(*T), &data.ticks
	r.lastRun, r.thisRun = meta.lastChangeTick, thisRun
}

// Get returns the resource without marking it changed.
func (r ResMut[T]) Get() *T { return r.value }

// Mut returns the resource and marks it changed.
func (r ResMut[T]) Mut() *T {
	r.ticks.SetChanged(r.thisRun)
	return r.value
}

// Set replaces the resource and marks it changed.
func (r ResMut[T]) Set(value T) {
	*r.value = value
	r.ticks.SetChanged(r.thisRun)
}

func (r ResMut[T]) IsAdded() bool   { return r.ticks.IsAdded(r.lastRun, r.thisRun) }
func (r ResMut[T]) IsChanged() bool { return r.ticks.IsChanged(r.lastRun, r.thisRun) }

// OptRes reads the resource T when it exists.
type OptRes[T any] struct {
	paramBase
	resourceParam
	value *T
}

func (r *OptRes[T]) initParam(w *World, meta *SystemMeta) {
	r.declare(w, meta, component.ResourceKind[T](w.components), false, "OptRes")
}

func (r *OptRes[T]) fetchParam(w *World, meta *SystemMeta, _ uint32) {
	r.value = nil
	if data, ok := r.fetch(w, meta); ok {
		r.value = data.value.Interface().(*T)
	}
}

func (r OptRes[T]) Get() (*T, bool) { return r.value, r.value != nil }

// OptResMut reads and writes the resource T when it exists.
type OptResMut[T any] struct {
	paramBase
	resourceParam
	value   *T
	ticks   *component.Ticks
	thisRun uint32
}

func (r *OptResMut[T]) initParam(w *World, meta *SystemMeta) {
	r.declare(w, meta, component.ResourceKind[T](w.components), true, "OptResMut")
}

func (r *OptResMut[T]) fetchParam(w *World, meta *SystemMeta, thisRun uint32) {
	r.value, r.ticks, r.thisRun = nil, nil, thisRun
	if data, ok := r.fetch(w, meta); ok {
		r.value, r.ticks = data.value.Interface().(*T), &data.ticks
	}
}

// Get returns the resource, marking it changed.
func (r OptResMut[T]) Get() (*T, bool) {
	if r.value == nil {
		return nil, false
	}
	r.ticks.SetChanged(r.thisRun)
	return r.value, true
}

// NonSend reads the non-send resource T. Systems taking it run on the goroutine driving the stage.
type NonSend[T any] struct {
	paramBase
	resourceParam
	value *T
}

func (r *NonSend[T]) initParam(w *World, meta *SystemMeta) {
	meta.isSend = false
	r.declare(w, meta, component.NonSendKind[T](w.components), false, "NonSend")
}

func (r *NonSend[T]) fetchParam(w *World, meta *SystemMeta, _ uint32) {
	w.assertNonSend(meta)
	r.value = r.require(w, meta).value.Interface().(*T)
}

func (r NonSend[T]) Get() *T { return r.value }

// NonSendMut reads and writes the non-send resource T.
type NonSendMut[T any] struct {
	paramBase
	resourceParam
	value   *T
	ticks   *component.Ticks
	thisRun uint32
}

func (r *NonSendMut[T]) initParam(w *World, meta *SystemMeta) {
	meta.isSend = false
	r.declare(w, meta, component.NonSendKind[T](w.components), true, "NonSendMut")
}

func (r *NonSendMut[T]) fetchParam(w *World, meta *SystemMeta, thisRun uint32) {
	w.assertNonSend(meta)
	data := r.require(w, meta)
	r.value, r.ticks, r.thisRun = data.value.Interface().(*T), &data.ticks, thisRun
}

// Get returns the resource and marks it changed.
func (r NonSendMut[T]) Get() *T {
	r.ticks.SetChanged(r.thisRun)
	return r.value
}

// Local is state private to one system, kept between runs. It starts as the zero T, or as built
// by FromWorld when *T implements it.
type Local[T any] struct {
	paramBase
	value *T
}

func (l *Local[T]) initParam(w *World, _ *SystemMeta) {
	value := fromWorld[T](w)
	l.value = &value
}

func (l *Local[T]) fetchParam(*World, *SystemMeta, uint32) {}

func (l Local[T]) Get() *T { return l.value }

// RemovedComponents lists entities that lost their T since the last ClearTrackers.
type RemovedComponents[T any] struct {
	paramBase
	kind  component.KindID
	world *World
}

func (r *RemovedComponents[T]) initParam(w *World, _ *SystemMeta) {
	r.kind = component.ComponentKind[T](w.components)
}

func (r *RemovedComponents[T]) fetchParam(w *World, _ *SystemMeta, _ uint32) { r.world = w }

func (r RemovedComponents[T]) Entities() []Entity { return r.world.removed.get(r.kind) }

func (q *queryCore) initQuery(w *World, meta *SystemMeta, terms []Term, filter Filter, param string) {
	q.state = NewQueryState(w, terms, filter)
	q.world = w
	q.inSystem = true
	meta.addFiltered(w, q.state.access.clone(), param)
}

func (q *queryCore) fetchParam(w *World, meta *SystemMeta, thisRun uint32) {
	q.world = w
	q.lastRun, q.thisRun = meta.lastChangeTick, thisRun
}

func (q *queryCore) applyParam(*World) error { return nil }

func (q *queryCore) newArchetype(a *Archetype, meta *SystemMeta) {
	q.state.NewArchetype(a, &meta.archetypeComponentAccess)
}

func queryParamName(v any) string {
	return reflect.TypeOf(v).Elem().String()
}

func (q *Query1[A, F]) initParam(w *World, meta *SystemMeta) {
	q.initQuery(w, meta, query1Terms[A](w), filterOf[F](w), queryParamName(q))
}

func (q *Query2[A, B, F]) initParam(w *World, meta *SystemMeta) {
	q.initQuery(w, meta, query2Terms[A, B](w), filterOf[F](w), queryParamName(q))
}

func (q *Query3[A, B, C, F]) initParam(w *World, meta *SystemMeta) {
	q.initQuery(w, meta, query3Terms[A, B, C](w), filterOf[F](w), queryParamName(q))
}

func (q *Query4[A, B, C, D, F]) initParam(w *World, meta *SystemMeta) {
	q.initQuery(w, meta, query4Terms[A, B, C, D](w), filterOf[F](w), queryParamName(q))
}

var (
	_ systemParam = (*worldParam)(nil)
	_ systemParam = (*WorldRef)(nil)
	_ systemParam = (*In[int])(nil)
	_ systemParam = (*Res[int])(nil)
	_ systemParam = (*ResMut[int])(nil)
	_ systemParam = (*OptRes[int])(nil)
	_ systemParam = (*OptResMut[int])(nil)
	_ systemParam = (*NonSend[int])(nil)
	_ systemParam = (*NonSendMut[int])(nil)
	_ systemParam = (*Local[int])(nil)
	_ systemParam = (*RemovedComponents[int])(nil)
	_ systemParam = (*Query1[Ref[int], NoFilter])(nil)
	_ systemParam = (*Query2[Ref[int], Mut[uint], NoFilter])(nil)
	_ systemParam = (*Query3[Ref[int], Ref[uint], Ref[int8], NoFilter])(nil)
	_ systemParam = (*Query4[Ref[int], Ref[uint], Ref[int8], Ref[int16], NoFilter])(nil)
)
