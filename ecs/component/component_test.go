package component_test

import (
	"errors"
	"math"
	"reflect"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/DangerosoDavo/archecs/ecs/component"
)

type position struct{ X, Y float64 }

type marker struct{}

func (marker) StorageType() component.StorageType { return component.StorageSparseSet }

type tracked struct {
	id  int
	log *[]int
}

func (t *tracked) Drop() {
	if t.log != nil {
		*t.log = append(*t.log, t.id)
	}
}

func TestRegistryRegisterIsIdempotent(t *testing.T) {
	reg := component.NewRegistry()
	a := reg.Register(component.DescriptorOf[position]())
	b := reg.Register(component.DescriptorOf[position]())
	assert.Equal(t, a, b)
	assert.Equal(t, 1, reg.Len())

	id, ok := reg.LookupComponent(reflect.TypeFor[position]())
	require.True(t, ok)
	assert.Equal(t, a, id)

	info := reg.Info(a)
	assert.Equal(t, component.StorageTable, info.Storage())
	assert.True(t, info.ThreadSafe())
	assert.Equal(t, uintptr(16), info.Layout().Size)
}

func TestRegistryConflictingDescriptorPanics(t *testing.T) {
	reg := component.NewRegistry()
	reg.Register(component.DescriptorOf[position]())

	_, err := reg.TryRegister(component.DescriptorOf[position]().WithStorage(component.StorageSparseSet))
	require.Error(t, err)
	assert.True(t, errors.Is(err, component.ErrKindConflict))

	assert.Panics(t, func() {
		reg.Register(component.DescriptorOf[position]().WithStorage(component.StorageSparseSet))
	})
}

func TestRegistryRolesShareOneNamespace(t *testing.T) {
	reg := component.NewRegistry()
	c := component.ComponentKind[position](reg)
	r := component.ResourceKind[position](reg)
	n := component.NonSendKind[position](reg)

	assert.NotEqual(t, c, r)
	assert.NotEqual(t, r, n)
	assert.Equal(t, 3, reg.Len())
	assert.Equal(t, component.RoleResource, reg.Info(r).Role())
	assert.Equal(t, component.RoleNonSend, reg.Info(n).Role())
	assert.False(t, reg.Info(n).ThreadSafe())

	_, ok := reg.LookupResource(reflect.TypeFor[marker]())
	assert.False(t, ok)
}

func TestStorageHintSelectsSparseSet(t *testing.T) {
	reg := component.NewRegistry()
	id := component.ComponentKind[marker](reg)
	assert.Equal(t, component.StorageSparseSet, reg.Info(id).Storage())
}

func TestDynamicKinds(t *testing.T) {
	reg := component.NewRegistry()
	desc := component.NewDynamicDescriptor("blob", component.Layout{Size: 4, Align: 4}, component.StorageTable, nil)
	id := reg.Register(desc)
	again, ok := reg.LookupDynamic("blob")
	require.True(t, ok)
	assert.Equal(t, id, again)

	vec := reg.Info(id).NewVec()
	vec.Push([]byte{1, 2, 3, 4})
	vec.Push([]byte{5, 6, 7, 8})
	removed := vec.SwapRemove(0)
	assert.Equal(t, []byte{1, 2, 3, 4}, removed)
	assert.Equal(t, []byte{5, 6, 7, 8}, vec.Get(0))
	assert.Panics(t, func() { vec.Push([]byte{1}) })
}

func TestUnknownKindPanics(t *testing.T) {
	reg := component.NewRegistry()
	_, ok := reg.TryInfo(7)
	assert.False(t, ok)
	assert.Panics(t, func() { reg.Info(7) })
}

func TestTypedVecSwapRemove(t *testing.T) {
	vec := component.NewTypedVec(reflect.TypeFor[position]())
	for i := 0; i < 4; i++ {
		vec.Push(position{X: float64(i)})
	}
	removed := vec.SwapRemove(1)
	assert.Equal(t, position{X: 1}, removed)
	items := component.Items[position](vec)
	require.Len(t, items, 3)
	assert.Equal(t, []float64{0, 3, 2}, []float64{items[0].X, items[1].X, items[2].X})

	component.At[position](vec, 2).Y = 9
	assert.Equal(t, position{X: 2, Y: 9}, vec.Get(2))
}

func TestTypedVecDropsDiscardedValues(t *testing.T) {
	var log []int
	vec := component.NewTypedVec(reflect.TypeFor[tracked]())
	for i := 0; i < 3; i++ {
		vec.Push(tracked{id: i, log: &log})
	}

	vec.Set(0, tracked{id: 10, log: &log})
	vec.SwapRemoveDrop(1)
	_ = vec.SwapRemove(0)
	vec.Clear()

	assert.Equal(t, []int{0, 1, 2}, log)
	assert.Equal(t, 0, vec.Len())
}

func TestTicksWraparound(t *testing.T) {
	cases := []struct {
		name    string
		changed uint32
		last    uint32
		current uint32
		want    bool
	}{
		{"plain newer", 5, 3, 10, true},
		{"plain older", 2, 3, 10, false},
		{"equal to last", 3, 3, 10, false},
		{"current wrapped", math.MaxUint32 - 1, math.MaxUint32 - 5, 3, true},
		{"changed after wrap", 1, math.MaxUint32 - 5, 3, true},
		{"stale before wrap", math.MaxUint32 - 10, math.MaxUint32 - 5, 3, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			ticks := component.Ticks{Added: tc.changed, Changed: tc.changed}
			assert.Equal(t, tc.want, ticks.IsChanged(tc.last, tc.current))
			assert.Equal(t, tc.want, ticks.IsAdded(tc.last, tc.current))
		})
	}
}

func TestTicksCheckClamps(t *testing.T) {
	ticks := component.NewTicks(0)
	current := component.MaxChangeAge + 100
	ticks.Check(current)
	assert.Equal(t, uint32(100), ticks.Added)
	assert.Equal(t, uint32(100), ticks.Changed)
	assert.LessOrEqual(t, current-ticks.Changed, component.MaxChangeAge)

	fresh := component.NewTicks(current - 1)
	fresh.Check(current)
	assert.Equal(t, current-1, fresh.Changed)
}
