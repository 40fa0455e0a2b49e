package component

import (
	"reflect"
	"sync"

	"github.com/rotisserie/eris"
)

var (
	// ErrKindConflict indicates a second, different descriptor for a type that is already registered.
	ErrKindConflict = eris.New("component: conflicting descriptor for registered kind")
	// ErrUnknownKind signals lookup of an id the registry never issued.
	ErrUnknownKind = eris.New("component: unknown kind")
)

type typeKey struct {
	typ  reflect.Type
	role Role
}

// Registry assigns kind ids. Components, resources and non-send resources share one id space
// with separate lookup tables per role.
type Registry struct {
	mu      sync.RWMutex
	infos   []*Info
	indices map[typeKey]KindID
	dynamic map[string]KindID
}

// NewRegistry constructs an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		indices: make(map[typeKey]KindID),
		dynamic: make(map[string]KindID),
	}
}

// Register registers a component kind, panicking on a conflicting descriptor.
func (r *Registry) Register(desc Descriptor) KindID {
	id, err := r.TryRegister(desc)
	if err != nil {
		panic(err)
	}
	return id
}

// TryRegister registers a component kind. Registering an identical descriptor again returns the existing id.
func (r *Registry) TryRegister(desc Descriptor) (KindID, error) {
	return r.register(RoleComponent, desc)
}

// RegisterResource registers a resource kind, panicking on a conflicting descriptor.
func (r *Registry) RegisterResource(desc Descriptor) KindID {
	role := RoleResource
	if !desc.ThreadSafe {
		role = RoleNonSend
	}
	id, err := r.register(role, desc)
	if err != nil {
		panic(err)
	}
	return id
}

func (r *Registry) register(role Role, desc Descriptor) (KindID, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if desc.IsDynamic() {
		if id, ok := r.dynamic[desc.Name]; ok {
			return r.checkExistingLocked(id, desc)
		}
		id := r.pushLocked(role, desc)
		r.dynamic[desc.Name] = id
		return id, nil
	}

	key := typeKey{typ: desc.Type, role: role}
	if id, ok := r.indices[key]; ok {
		return r.checkExistingLocked(id, desc)
	}
	id := r.pushLocked(role, desc)
	r.indices[key] = id
	return id, nil
}

func (r *Registry) checkExistingLocked(id KindID, desc Descriptor) (KindID, error) {
	existing := r.infos[id]
	if !existing.desc.equivalent(desc) {
		return id, eris.Wrapf(ErrKindConflict, "%s registered as %s/%s, got %s/%s",
			existing.desc.Name, existing.desc.Storage, threadLabel(existing.desc.ThreadSafe),
			desc.Storage, threadLabel(desc.ThreadSafe))
	}
	return id, nil
}

func (r *Registry) pushLocked(role Role, desc Descriptor) KindID {
	id := KindID(len(r.infos))
	r.infos = append(r.infos, &Info{id: id, role: role, desc: desc})
	return id
}

// LookupComponent returns the component kind registered for t.
func (r *Registry) LookupComponent(t reflect.Type) (KindID, bool) {
	return r.lookup(typeKey{typ: t, role: RoleComponent})
}

// LookupResource returns the resource kind registered for t.
func (r *Registry) LookupResource(t reflect.Type) (KindID, bool) {
	return r.lookup(typeKey{typ: t, role: RoleResource})
}

// LookupNonSend returns the non-send resource kind registered for t.
func (r *Registry) LookupNonSend(t reflect.Type) (KindID, bool) {
	return r.lookup(typeKey{typ: t, role: RoleNonSend})
}

// LookupDynamic returns the dynamic kind registered under name.
func (r *Registry) LookupDynamic(name string) (KindID, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	id, ok := r.dynamic[name]
	return id, ok
}

func (r *Registry) lookup(key typeKey) (KindID, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	id, ok := r.indices[key]
	return id, ok
}

// Info describes a registered kind. It panics on ids this registry never issued.
func (r *Registry) Info(id KindID) *Info {
	info, ok := r.TryInfo(id)
	if !ok {
		panic(eris.Wrapf(ErrUnknownKind, "kind %d", id))
	}
	return info
}

// TryInfo describes a registered kind.
func (r *Registry) TryInfo(id KindID) (*Info, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if int(id) >= len(r.infos) {
		return nil, false
	}
	return r.infos[id], true
}

// Len reports how many kinds are registered.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.infos)
}

// ComponentKind returns the component kind of T, registering it with its default descriptor on first use.
func ComponentKind[T any](r *Registry) KindID {
	if id, ok := r.LookupComponent(reflect.TypeFor[T]()); ok {
		return id
	}
	return r.Register(DescriptorOf[T]())
}

// ResourceKind returns the resource kind of T, registering it on first use.
func ResourceKind[T any](r *Registry) KindID {
	if id, ok := r.LookupResource(reflect.TypeFor[T]()); ok {
		return id
	}
	return r.RegisterResource(DescriptorOf[T]())
}

// NonSendKind returns the non-send resource kind of T, registering it on first use.
func NonSendKind[T any](r *Registry) KindID {
	if id, ok := r.LookupNonSend(reflect.TypeFor[T]()); ok {
		return id
	}
	return r.RegisterResource(NonSendDescriptorOf[T]())
}

func threadLabel(threadSafe bool) string {
	if threadSafe {
		return "send"
	}
	return "non-send"
}

// ComponentKindOf is ComponentKind for a type only known at run time.
func (r *Registry) ComponentKindOf(t reflect.Type) KindID {
	if id, ok := r.LookupComponent(t); ok {
		return id
	}
	return r.Register(DescriptorOfType(t))
}
