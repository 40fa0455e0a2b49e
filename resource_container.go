package ecs

import (
	"reflect"
	"sync"

	"github.com/rotisserie/eris"

	"github.com/DangerosoDavo/archecs/ecs/component"
)

type resourceData struct {
	value   reflect.Value
	ticks   component.Ticks
	present bool
	id      ArchetypeComponentID
}

// resourceMap holds singleton values keyed by resource kind. Every resource kind receives an
// archetype component id on first use so systems can declare access before the value exists.
type resourceMap struct {
	mu     sync.RWMutex
	values map[component.KindID]*resourceData
}

func newResourceContainer() *resourceMap {
	return &resourceMap{values: make(map[component.KindID]*resourceData)}
}

func (r *resourceMap) get(kind component.KindID) (*resourceData, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	data, ok := r.values[kind]
	if !ok || !data.present {
		return nil, false
	}
	return data, true
}

func (r *resourceMap) initialize(kind component.KindID, newID func() ArchetypeComponentID) *resourceData {
	r.mu.Lock()
	defer r.mu.Unlock()
	data, ok := r.values[kind]
	if !ok {
		data = &resourceData{id: newID()}
		r.values[kind] = data
	}
	return data
}

func (r *resourceMap) Range(fn func(component.KindID, any) bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for kind, data := range r.values {
		if !data.present {
			continue
		}
		if !fn(kind, data.value.Interface()) {
			return
		}
	}
}

func (r *resourceMap) checkChangeTicks(current uint32) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, data := range r.values {
		if data.present {
			data.ticks.Check(current)
		}
	}
}

// initializeResource returns the storage slot of a resource kind, creating it empty.
func (w *World) initializeResource(kind component.KindID) *resourceData {
	return w.resources.initialize(kind, w.archetypes.newComponentID)
}

// insertResourceKind stores value, which must be of the kind's Go type, replacing and dropping any
// previous value.
func (w *World) insertResourceKind(kind component.KindID, value reflect.Value) {
	data := w.initializeResource(kind)
	tick := w.ChangeTick()
	if data.present {
		dropValue(data.value)
		data.value.Elem().Set(value)
		data.ticks.SetChanged(tick)
		return
	}
	ptr := reflect.New(value.Type())
	ptr.Elem().Set(value)
	data.value = ptr
	data.ticks = component.NewTicks(tick)
	data.present = true
}

func (w *World) removeResourceKind(kind component.KindID) (reflect.Value, bool) {
	data, ok := w.resources.get(kind)
	if !ok {
		return reflect.Value{}, false
	}
	w.resources.mu.Lock()
	data.present = false
	value := data.value.Elem()
	data.value = reflect.Value{}
	w.resources.mu.Unlock()
	return value, true
}

func dropValue(ptr reflect.Value) {
	if dropper, ok := ptr.Interface().(component.Dropper); ok {
		dropper.Drop()
	}
}

// InsertResourceValue inserts a resource whose kind is the dynamic type of value.
func (w *World) InsertResourceValue(value any) {
	rv := reflect.ValueOf(value)
	if !rv.IsValid() {
		panic("ecs: nil resource value")
	}
	kind, ok := w.components.LookupResource(rv.Type())
	if !ok {
		kind = w.components.RegisterResource(component.DescriptorOfType(rv.Type()))
	}
	w.insertResourceKind(kind, rv)
}

// InsertResource inserts or replaces the resource of type T.
func InsertResource[T any](w *World, value T) {
	w.insertResourceKind(component.ResourceKind[T](w.components), reflect.ValueOf(&value).Elem())
}

// InitResource inserts the zero T, built with FromWorld when *T implements it, unless T is present.
func InitResource[T any](w *World) {
	if ContainsResource[T](w) {
		return
	}
	InsertResource(w, fromWorld[T](w))
}

// GetResource returns the resource of type T.
func GetResource[T any](w *World) (*T, bool) {
	kind, ok := w.components.LookupResource(reflect.TypeFor[T]())
	if !ok {
		return nil, false
	}
	data, ok := w.resources.get(kind)
	if !ok {
		return nil, false
	}
	return data.value.Interface().(*T), true
}

// GetResourceMut returns the resource of type T and marks it changed.
func GetResourceMut[T any](w *World) (*T, bool) {
	kind, ok := w.components.LookupResource(reflect.TypeFor[T]())
	if !ok {
		return nil, false
	}
	data, ok := w.resources.get(kind)
	if !ok {
		return nil, false
	}
	data.ticks.SetChanged(w.ChangeTick())
	return data.value.Interface().(*T), true
}

// Resource returns the resource of type T and panics when it is missing.
func Resource[T any](w *World) *T {
	value, ok := GetResource[T](w)
	if !ok {
		panic(eris.Wrapf(ErrResourceNotFound, "resource %v", reflect.TypeFor[T]()))
	}
	return value
}

// ContainsResource reports whether a resource of type T is present.
func ContainsResource[T any](w *World) bool {
	_, ok := GetResource[T](w)
	return ok
}

// RemoveResource takes the resource of type T out of the world.
func RemoveResource[T any](w *World) (T, bool) {
	var zero T
	kind, ok := w.components.LookupResource(reflect.TypeFor[T]())
	if !ok {
		return zero, false
	}
	value, ok := w.removeResourceKind(kind)
	if !ok {
		return zero, false
	}
	return value.Interface().(T), true
}

// InsertNonSend inserts a resource that only systems on the driving goroutine may access.
func InsertNonSend[T any](w *World, value T) {
	w.insertResourceKind(component.NonSendKind[T](w.components), reflect.ValueOf(&value).Elem())
}

// GetNonSend returns the non-send resource of type T.
func GetNonSend[T any](w *World) (*T, bool) {
	kind, ok := w.components.LookupNonSend(reflect.TypeFor[T]())
	if !ok {
		return nil, false
	}
	data, ok := w.resources.get(kind)
	if !ok {
		return nil, false
	}
	return data.value.Interface().(*T), true
}

// RemoveNonSend takes the non-send resource of type T out of the world.
func RemoveNonSend[T any](w *World) (T, bool) {
	var zero T
	kind, ok := w.components.LookupNonSend(reflect.TypeFor[T]())
	if !ok {
		return zero, false
	}
	value, ok := w.removeResourceKind(kind)
	if !ok {
		return zero, false
	}
	return value.Interface().(T), true
}

func fromWorld[T any](w *World) T {
	var value T
	if init, ok := any(&value).(FromWorld); ok {
		init.FromWorld(w)
	}
	return value
}
