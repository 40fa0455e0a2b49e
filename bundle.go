package ecs

import (
	"encoding/binary"
	"fmt"
	"reflect"

	"github.com/rotisserie/eris"

	"github.com/DangerosoDavo/archecs/ecs/component"
	"github.com/DangerosoDavo/archecs/ecs/storage"
)

// Bundle is a group of components inserted together. Components adds each member to the builder
// in declaration order; every enumeration of one Go bundle type must list the same kinds in the
// same order.
type Bundle interface {
	Components(b *BundleBuilder)
}

// variableBundle marks bundle types whose contents differ between values, exempting them from the
// per-type order check.
type variableBundle interface {
	variableLayout()
}

// BundleID identifies a registered key sequence.
type BundleID uint32

// BundleInfo is a registered bundle: its keys in write order and where each is stored.
type BundleInfo struct {
	id       BundleID
	keys     []storage.Key
	storages []component.StorageType
}

func (b *BundleInfo) ID() BundleID        { return b.id }
func (b *BundleInfo) Keys() []storage.Key { return b.keys }

// Bundles registers key sequences and remembers the kind order of every Go bundle type.
type Bundles struct {
	infos  []*BundleInfo
	index  map[string]BundleID
	layout map[reflect.Type][]component.KindID
}

func newBundles() *Bundles {
	return &Bundles{
		index:  make(map[string]BundleID),
		layout: make(map[reflect.Type][]component.KindID),
	}
}

// Len reports how many bundles are registered.
func (bs *Bundles) Len() int { return len(bs.infos) }

// Get returns a registered bundle.
func (bs *Bundles) Get(id BundleID) *BundleInfo { return bs.infos[id] }

func (bs *Bundles) register(keys []storage.Key, registry *component.Registry) *BundleInfo {
	buf := make([]byte, 0, len(keys)*12)
	for _, key := range keys {
		buf = binary.LittleEndian.AppendUint32(buf, uint32(key.Kind))
		buf = binary.LittleEndian.AppendUint64(buf, key.Target.Bits())
	}
	sig := string(buf)
	if id, ok := bs.index[sig]; ok {
		return bs.infos[id]
	}

	seen := make(map[storage.Key]struct{}, len(keys))
	info := &BundleInfo{
		id:       BundleID(len(bs.infos)),
		keys:     append([]storage.Key(nil), keys...),
		storages: make([]component.StorageType, len(keys)),
	}
	for i, key := range keys {
		if _, dup := seen[key]; dup {
			panic(eris.Wrapf(ErrDuplicateBundleComponent, "component %s", registry.Info(key.Kind).Name()))
		}
		seen[key] = struct{}{}
		info.storages[i] = registry.Info(key.Kind).Storage()
	}
	bs.infos = append(bs.infos, info)
	bs.index[sig] = info.id
	return info
}

func (bs *Bundles) checkLayout(t reflect.Type, keys []storage.Key) {
	kinds := make([]component.KindID, len(keys))
	for i, key := range keys {
		kinds[i] = key.Kind
	}
	cached, ok := bs.layout[t]
	if !ok {
		bs.layout[t] = kinds
		return
	}
	if len(cached) != len(kinds) {
		panic(fmt.Sprintf("ecs: bundle %v enumerated %d components, previously %d", t, len(kinds), len(cached)))
	}
	for i := range kinds {
		if cached[i] != kinds[i] {
			panic(fmt.Sprintf("ecs: bundle %v enumerated its components in a different order", t))
		}
	}
}

// BundleBuilder collects the members of a bundle in order.
type BundleBuilder struct {
	world  *World
	keys   []storage.Key
	values []any
}

// World exposes the world the bundle is being built for.
func (b *BundleBuilder) World() *World { return b.world }

func (b *BundleBuilder) push(key storage.Key, value any) {
	for _, existing := range b.keys {
		if existing == key {
			panic(eris.Wrapf(ErrDuplicateBundleComponent, "component %s", b.world.components.Info(key.Kind).Name()))
		}
	}
	b.keys = append(b.keys, key)
	b.values = append(b.values, value)
}

// Add appends a component of type T.
func Add[T any](b *BundleBuilder, value T) {
	b.push(storage.KeyOf(component.ComponentKind[T](b.world.components)), value)
}

// AddRelation appends a relation of type T toward target.
func AddRelation[T any](b *BundleBuilder, value T, target Entity) {
	if target.IsZero() {
		panic("ecs: relation target must not be the zero entity")
	}
	b.push(storage.RelationKey(component.ComponentKind[T](b.world.components), target), value)
}

// AddValue appends a component whose kind is the dynamic type of value.
func (b *BundleBuilder) AddValue(value any) {
	if value == nil {
		panic("ecs: nil component value")
	}
	if inner, ok := value.(Bundle); ok {
		b.AddBundle(inner)
		return
	}
	b.push(storage.KeyOf(b.world.components.ComponentKindOf(reflect.TypeOf(value))), value)
}

// AddDynamic appends a value of a registered kind. Dynamic kinds take a []byte of the kind's size.
func (b *BundleBuilder) AddDynamic(kind component.KindID, value any) {
	b.world.components.Info(kind)
	b.push(storage.KeyOf(kind), value)
}

// AddDynamicRelation appends a relation of a registered kind toward target.
func (b *BundleBuilder) AddDynamicRelation(kind component.KindID, target Entity, value any) {
	b.world.components.Info(kind)
	b.push(storage.RelationKey(kind, target), value)
}

// AddBundle appends every member of inner.
func (b *BundleBuilder) AddBundle(inner Bundle) {
	inner.Components(b)
}

// valuesBundle is the ad-hoc bundle formed by Insert(values...).
type valuesBundle []any

func (v valuesBundle) Components(b *BundleBuilder) {
	for _, value := range v {
		b.AddValue(value)
	}
}

func (valuesBundle) variableLayout() {}

// DynamicBundle is a bundle assembled at run time from kind ids.
type DynamicBundle struct {
	entries []dynamicEntry
}

type dynamicEntry struct {
	kind   component.KindID
	target Entity
	value  any
}

// NewDynamicBundle returns an empty bundle.
func NewDynamicBundle() *DynamicBundle { return &DynamicBundle{} }

// With appends a component value of kind.
func (d *DynamicBundle) With(kind component.KindID, value any) *DynamicBundle {
	d.entries = append(d.entries, dynamicEntry{kind: kind, value: value})
	return d
}

// WithRelation appends a relation value of kind toward target.
func (d *DynamicBundle) WithRelation(kind component.KindID, target Entity, value any) *DynamicBundle {
	d.entries = append(d.entries, dynamicEntry{kind: kind, target: target, value: value})
	return d
}

// Len reports how many values the bundle carries.
func (d *DynamicBundle) Len() int { return len(d.entries) }

func (d *DynamicBundle) Components(b *BundleBuilder) {
	for _, e := range d.entries {
		if e.target.IsZero() {
			b.AddDynamic(e.kind, e.value)
		} else {
			b.AddDynamicRelation(e.kind, e.target, e.value)
		}
	}
}

func (*DynamicBundle) variableLayout() {}

// collectBundle enumerates b and registers its key sequence.
func (w *World) collectBundle(b Bundle) (*BundleInfo, []any) {
	builder := &BundleBuilder{world: w}
	b.Components(builder)
	if _, variable := b.(variableBundle); !variable {
		w.bundles.checkLayout(reflect.TypeOf(b), builder.keys)
	}
	return w.bundles.register(builder.keys, w.components), builder.values
}

// bundleOfKeys registers a bare key sequence, as used by removals.
func (w *World) bundleOfKeys(keys ...storage.Key) *BundleInfo {
	return w.bundles.register(keys, w.components)
}

// writeComponents writes values in bundle order. Added table values get fresh ticks; mutated ones
// drop the previous value and are marked changed. Sparse values go to their sets.
func (w *World) writeComponents(table *storage.Table, tableRow int, e Entity, bundle *BundleInfo, statuses []componentStatus, values []any, tick uint32) {
	for i, key := range bundle.keys {
		if bundle.storages[i] == component.StorageTable {
			col, _ := table.Column(key)
			if statuses[i] == statusAdded {
				col.Initialize(tableRow, values[i], component.NewTicks(tick))
			} else {
				col.Replace(tableRow, values[i], tick)
			}
			continue
		}
		w.sparseSets.GetOrInsert(key, w.components.Info(key.Kind)).Insert(e, values[i], tick)
	}
}

var (
	_ Bundle = valuesBundle(nil)
	_ Bundle = (*DynamicBundle)(nil)
)
