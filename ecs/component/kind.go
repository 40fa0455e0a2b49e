package component

import (
	"fmt"
	"reflect"
	"unsafe"
)

// KindID is the registry's dense identifier for a component, resource or relation kind.
type KindID uint32

// StorageType selects where values of a kind live.
type StorageType uint8

const (
	// StorageTable stores values in archetype table columns.
	StorageTable StorageType = iota
	// StorageSparseSet stores values in a per-kind sparse set.
	StorageSparseSet
)

func (s StorageType) String() string {
	switch s {
	case StorageTable:
		return "table"
	case StorageSparseSet:
		return "sparse_set"
	default:
		return fmt.Sprintf("StorageType(%d)", uint8(s))
	}
}

// StorageHint lets a component type choose its storage. The method is called on the zero value.
type StorageHint interface {
	StorageType() StorageType
}

// Dropper is implemented by component pointers that must release something when a value is discarded.
type Dropper interface {
	Drop()
}

// Role separates the lookup tables of the single kind namespace.
type Role uint8

const (
	RoleComponent Role = iota
	RoleResource
	RoleNonSend
)

func (r Role) String() string {
	switch r {
	case RoleComponent:
		return "component"
	case RoleResource:
		return "resource"
	case RoleNonSend:
		return "non_send"
	default:
		return fmt.Sprintf("Role(%d)", uint8(r))
	}
}

// Layout is the memory contract of a kind.
type Layout struct {
	Size  uintptr
	Align uintptr
}

// LayoutOf reports the layout of T.
func LayoutOf[T any]() Layout {
	var zero T
	return Layout{Size: unsafe.Sizeof(zero), Align: unsafe.Alignof(zero)}
}

// Descriptor describes a kind prior to registration.
type Descriptor struct {
	Name       string
	Type       reflect.Type
	Layout     Layout
	Storage    StorageType
	ThreadSafe bool
	// Drop releases the bytes of a dynamic value. Typed kinds use Dropper instead.
	Drop func([]byte)
}

// DescriptorOf describes the Go type T. Storage defaults to tables unless T implements StorageHint.
func DescriptorOf[T any]() Descriptor {
	return DescriptorOfType(reflect.TypeFor[T]())
}

// DescriptorOfType is DescriptorOf for a type only known at run time.
func DescriptorOfType(t reflect.Type) Descriptor {
	storage := StorageTable
	if hint, ok := reflect.Zero(t).Interface().(StorageHint); ok {
		storage = hint.StorageType()
	}
	return Descriptor{
		Name:       typeName(t),
		Type:       t,
		Layout:     Layout{Size: t.Size(), Align: uintptr(t.Align())},
		Storage:    storage,
		ThreadSafe: true,
	}
}

// NonSendDescriptorOf describes T as a kind that must stay on the goroutine driving the schedule.
func NonSendDescriptorOf[T any]() Descriptor {
	desc := DescriptorOf[T]()
	desc.ThreadSafe = false
	return desc
}

// NewDynamicDescriptor describes a kind that has no Go type. Values are raw byte slices of layout.Size.
func NewDynamicDescriptor(name string, layout Layout, storage StorageType, drop func([]byte)) Descriptor {
	return Descriptor{
		Name:       name,
		Layout:     layout,
		Storage:    storage,
		ThreadSafe: true,
		Drop:       drop,
	}
}

// WithStorage returns a copy of the descriptor using storage.
func (d Descriptor) WithStorage(storage StorageType) Descriptor {
	d.Storage = storage
	return d
}

// IsDynamic reports whether the descriptor has no Go type.
func (d Descriptor) IsDynamic() bool {
	return d.Type == nil
}

func (d Descriptor) equivalent(other Descriptor) bool {
	return d.Name == other.Name &&
		d.Type == other.Type &&
		d.Layout == other.Layout &&
		d.Storage == other.Storage &&
		d.ThreadSafe == other.ThreadSafe
}

// Info is a registered kind.
type Info struct {
	id   KindID
	role Role
	desc Descriptor
}

func (i *Info) ID() KindID             { return i.id }
func (i *Info) Role() Role             { return i.role }
func (i *Info) Name() string           { return i.desc.Name }
func (i *Info) Type() reflect.Type     { return i.desc.Type }
func (i *Info) Layout() Layout         { return i.desc.Layout }
func (i *Info) Storage() StorageType   { return i.desc.Storage }
func (i *Info) ThreadSafe() bool       { return i.desc.ThreadSafe }
func (i *Info) Descriptor() Descriptor { return i.desc }

// NewVec allocates empty value storage for the kind.
func (i *Info) NewVec() Vec {
	if i.desc.Type != nil {
		return NewTypedVec(i.desc.Type)
	}
	return NewBlobVec(int(i.desc.Layout.Size), i.desc.Drop)
}

func typeName(t reflect.Type) string {
	if t.Name() == "" {
		return t.String()
	}
	if pkg := t.PkgPath(); pkg != "" {
		return pkg + "." + t.Name()
	}
	return t.Name()
}
