package component

import (
	"fmt"
	"reflect"
)

// Vec is type-erased storage for the values of one kind.
type Vec interface {
	Len() int
	// Push appends value, which must be of the vec's element type.
	Push(value any)
	PushZero()
	// Set overwrites row, dropping the previous value.
	Set(row int, value any)
	// Init writes row without dropping, for slots reserved with PushZero.
	Init(row int, value any)
	// Get returns a copy of the value at row.
	Get(row int) any
	// Ptr returns a pointer to row: *T for typed vecs, a []byte view for blob vecs.
	Ptr(row int) any
	// MoveFrom appends src's value at row. src keeps its slot; the caller removes it without dropping.
	MoveFrom(src Vec, row int)
	// SwapRemove removes row and returns its value without dropping it.
	SwapRemove(row int) any
	// SwapRemoveDrop removes row and drops its value.
	SwapRemoveDrop(row int)
	// Clear drops every value.
	Clear()
}

var dropperType = reflect.TypeFor[Dropper]()

// TypedVec stores values of a Go type in a reflect-backed slice.
type TypedVec struct {
	elem  reflect.Type
	slice reflect.Value
	drop  bool
}

// NewTypedVec allocates an empty vec of elem values.
func NewTypedVec(elem reflect.Type) *TypedVec {
	return &TypedVec{
		elem:  elem,
		slice: reflect.MakeSlice(reflect.SliceOf(elem), 0, 4),
		drop:  reflect.PointerTo(elem).Implements(dropperType),
	}
}

func (v *TypedVec) Len() int { return v.slice.Len() }

// Elem reports the element type.
func (v *TypedVec) Elem() reflect.Type { return v.elem }

func (v *TypedVec) Push(value any) {
	v.slice = reflect.Append(v.slice, v.valueOf(value))
}

func (v *TypedVec) PushZero() {
	v.slice = reflect.Append(v.slice, reflect.Zero(v.elem))
}

func (v *TypedVec) Set(row int, value any) {
	v.dropAt(row)
	v.slice.Index(row).Set(v.valueOf(value))
}

func (v *TypedVec) Init(row int, value any) {
	v.slice.Index(row).Set(v.valueOf(value))
}

func (v *TypedVec) Get(row int) any {
	return v.slice.Index(row).Interface()
}

func (v *TypedVec) Ptr(row int) any {
	return v.slice.Index(row).Addr().Interface()
}

func (v *TypedVec) MoveFrom(src Vec, row int) {
	other, ok := src.(*TypedVec)
	if !ok || other.elem != v.elem {
		panic(fmt.Sprintf("component: move between vecs of different kinds (%v)", v.elem))
	}
	v.slice = reflect.Append(v.slice, other.slice.Index(row))
}

func (v *TypedVec) SwapRemove(row int) any {
	value := v.slice.Index(row).Interface()
	v.swapRemove(row)
	return value
}

func (v *TypedVec) SwapRemoveDrop(row int) {
	v.dropAt(row)
	v.swapRemove(row)
}

func (v *TypedVec) Clear() {
	for row := 0; row < v.slice.Len(); row++ {
		v.dropAt(row)
	}
	v.slice = reflect.MakeSlice(reflect.SliceOf(v.elem), 0, 4)
}

func (v *TypedVec) swapRemove(row int) {
	last := v.slice.Len() - 1
	if row != last {
		v.slice.Index(row).Set(v.slice.Index(last))
	}
	v.slice.Index(last).SetZero()
	v.slice = v.slice.Slice(0, last)
}

func (v *TypedVec) dropAt(row int) {
	if !v.drop {
		return
	}
	v.slice.Index(row).Addr().Interface().(Dropper).Drop()
}

func (v *TypedVec) valueOf(value any) reflect.Value {
	rv := reflect.ValueOf(value)
	if !rv.IsValid() {
		return reflect.Zero(v.elem)
	}
	if rv.Type() != v.elem {
		panic(fmt.Sprintf("component: value of type %v pushed into vec of %v", rv.Type(), v.elem))
	}
	return rv
}

// Items views a typed vec as its element slice. The view is invalidated by any push or removal.
func Items[T any](v Vec) []T {
	tv, ok := v.(*TypedVec)
	if !ok {
		panic(fmt.Sprintf("component: %T is not a typed vec", v))
	}
	return tv.slice.Interface().([]T)
}

// At returns a pointer to row of a typed vec.
func At[T any](v Vec, row int) *T {
	return v.Ptr(row).(*T)
}

// BlobVec stores values of a dynamic kind as fixed-size byte records.
type BlobVec struct {
	size int
	n    int
	data []byte
	drop func([]byte)
}

// NewBlobVec allocates an empty vec of size-byte records.
func NewBlobVec(size int, drop func([]byte)) *BlobVec {
	return &BlobVec{size: size, drop: drop}
}

func (b *BlobVec) Len() int { return b.n }

func (b *BlobVec) Push(value any) {
	b.data = append(b.data, b.bytesOf(value)...)
	b.n++
}

func (b *BlobVec) PushZero() {
	b.data = append(b.data, make([]byte, b.size)...)
	b.n++
}

func (b *BlobVec) Set(row int, value any) {
	b.dropAt(row)
	copy(b.record(row), b.bytesOf(value))
}

func (b *BlobVec) Init(row int, value any) {
	copy(b.record(row), b.bytesOf(value))
}

func (b *BlobVec) Get(row int) any {
	out := make([]byte, b.size)
	copy(out, b.record(row))
	return out
}

func (b *BlobVec) Ptr(row int) any {
	return b.record(row)
}

func (b *BlobVec) MoveFrom(src Vec, row int) {
	other, ok := src.(*BlobVec)
	if !ok || other.size != b.size {
		panic("component: move between blob vecs of different layouts")
	}
	b.data = append(b.data, other.record(row)...)
	b.n++
}

func (b *BlobVec) SwapRemove(row int) any {
	value := b.Get(row)
	b.swapRemove(row)
	return value
}

func (b *BlobVec) SwapRemoveDrop(row int) {
	b.dropAt(row)
	b.swapRemove(row)
}

func (b *BlobVec) Clear() {
	for row := 0; row < b.n; row++ {
		b.dropAt(row)
	}
	b.data = b.data[:0]
	b.n = 0
}

func (b *BlobVec) record(row int) []byte {
	if row < 0 || row >= b.n {
		panic(fmt.Sprintf("component: blob row %d out of range [0,%d)", row, b.n))
	}
	return b.data[row*b.size : (row+1)*b.size : (row+1)*b.size]
}

func (b *BlobVec) swapRemove(row int) {
	last := b.n - 1
	if row != last {
		copy(b.record(row), b.record(last))
	}
	b.data = b.data[:last*b.size]
	b.n--
}

func (b *BlobVec) dropAt(row int) {
	if b.drop != nil {
		b.drop(b.record(row))
	}
}

func (b *BlobVec) bytesOf(value any) []byte {
	raw, ok := value.([]byte)
	if !ok || len(raw) != b.size {
		panic(fmt.Sprintf("component: blob vec expects %d bytes, got %T", b.size, value))
	}
	return raw
}

var (
	_ Vec = (*TypedVec)(nil)
	_ Vec = (*BlobVec)(nil)
)
