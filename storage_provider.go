package ecs

import (
	"github.com/rotisserie/eris"
	"go.uber.org/multierr"

	"github.com/DangerosoDavo/archecs/ecs/component"
)

// RegisterComponent registers desc as a component kind before first use, typically to pick its
// storage. Registering a Go type that already has a component kind fails.
func (w *World) RegisterComponent(desc component.Descriptor) (component.KindID, error) {
	if desc.Type != nil {
		if id, ok := w.components.LookupComponent(desc.Type); ok {
			return id, eris.Wrapf(ErrComponentAlreadyRegistered, "component %s", desc.Name)
		}
	} else if id, ok := w.components.LookupDynamic(desc.Name); ok {
		return id, eris.Wrapf(ErrComponentAlreadyRegistered, "component %s", desc.Name)
	}
	return w.components.TryRegister(desc)
}

// RegisterComponentStorage registers T with an explicit storage type.
func RegisterComponentStorage[T any](w *World, st component.StorageType) (component.KindID, error) {
	return w.RegisterComponent(component.DescriptorOf[T]().WithStorage(st))
}

// ApplyCommands applies commands in order. Every command runs even when an earlier one failed or
// panicked; the failures are combined into the returned error.
func (w *World) ApplyCommands(commands []Command) error {
	var err error
	for _, cmd := range commands {
		if cmd == nil {
			continue
		}
		err = multierr.Append(err, applyCommand(w, cmd))
	}
	return err
}

func applyCommand(w *World, cmd Command) (err error) {
	defer func() {
		if r := recover(); r != nil {
			if cause, ok := r.(error); ok {
				err = eris.Wrap(cause, "command panicked")
			} else {
				err = eris.Errorf("command panicked: %v", r)
			}
		}
	}()
	return cmd.Apply(w)
}
