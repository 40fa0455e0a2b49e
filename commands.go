package ecs

import (
	"reflect"

	"github.com/rotisserie/eris"

	"github.com/DangerosoDavo/archecs/ecs/storage"
)

// Commands queues structural changes for later application. Inside a system they are applied at
// the stage's next buffer application; standalone commands are applied with Apply.
type Commands struct {
	world  *World
	buffer *CommandBuffer
}

// NewCommands returns a standalone command queue for w.
func NewCommands(w *World) *Commands {
	return &Commands{world: w, buffer: w.commandPool.Get()}
}

// Apply applies every queued command in order and empties the queue. Failures do not stop later
// commands; they are logged and returned combined.
func (c *Commands) Apply(w *World) error {
	w.Flush()
	err := w.ApplyCommands(c.buffer.Drain())
	if err != nil {
		w.logger.Error("commands failed", "error", err)
	}
	return err
}

// Release hands the queue's buffer back for reuse. The queue must not be used afterwards.
func (c *Commands) Release() {
	c.world.commandPool.Put(c.buffer)
	c.buffer = nil
}

// Len reports how many commands are queued.
func (c *Commands) Len() int { return c.buffer.Len() }

// Add queues cmd.
func (c *Commands) Add(cmd Command) { c.buffer.Push(cmd) }

// Spawn reserves an entity id now; the entity is placed when the commands are applied.
func (c *Commands) Spawn() *EntityCommands {
	e := c.world.entities.Reserve()
	return &EntityCommands{entity: e, commands: c}
}

// SpawnBundle reserves an entity and queues inserting b.
func (c *Commands) SpawnBundle(b Bundle) *EntityCommands {
	return c.Spawn().InsertBundle(b)
}

// Entity returns a queue for commands on e.
func (c *Commands) Entity(e Entity) *EntityCommands {
	return &EntityCommands{entity: e, commands: c}
}

// InsertResource queues inserting value as the resource of its dynamic type.
func (c *Commands) InsertResource(value any) {
	c.Add(CommandFunc(func(w *World) error {
		w.InsertResourceValue(value)
		return nil
	}))
}

// DropResource queues removing the resource T.
func DropResource[T any](c *Commands) {
	c.Add(CommandFunc(func(w *World) error {
		RemoveResource[T](w)
		return nil
	}))
}

// EntityCommands queues commands on one entity.
type EntityCommands struct {
	entity   Entity
	commands *Commands
}

func (ec *EntityCommands) ID() Entity          { return ec.entity }
func (ec *EntityCommands) Commands() *Commands { return ec.commands }

func (ec *EntityCommands) push(what string, fn func(m *EntityMut) error) *EntityCommands {
	e := ec.entity
	ec.commands.Add(CommandFunc(func(w *World) error {
		m, ok := w.GetEntityMut(e)
		if !ok {
			return eris.Wrapf(ErrNoSuchEntity, "%s %v", what, e)
		}
		return fn(m)
	}))
	return ec
}

// Insert queues inserting values as components of their dynamic types.
func (ec *EntityCommands) Insert(values ...any) *EntityCommands {
	return ec.push("insert into", func(m *EntityMut) error {
		m.Insert(values...)
		return nil
	})
}

// InsertBundle queues inserting b.
func (ec *EntityCommands) InsertBundle(b Bundle) *EntityCommands {
	return ec.push("insert bundle into", func(m *EntityMut) error {
		m.InsertBundle(b)
		return nil
	})
}

// InsertRelation queues inserting value as a relation toward target.
func (ec *EntityCommands) InsertRelation(value any, target Entity) *EntityCommands {
	return ec.push("insert relation into", func(m *EntityMut) error {
		m.InsertRelation(value, target)
		return nil
	})
}

// RemoveKeys queues removing whichever of keys the entity has.
func (ec *EntityCommands) RemoveKeys(keys ...storage.Key) *EntityCommands {
	return ec.push("remove from", func(m *EntityMut) error {
		m.RemoveIntersection(keys...)
		return nil
	})
}

// Despawn queues despawning the entity.
func (ec *EntityCommands) Despawn() {
	ec.push("despawn", func(m *EntityMut) error {
		m.Despawn()
		return nil
	})
}

// RemoveComponent queues removing the entity's T.
func RemoveComponent[T any](ec *EntityCommands) *EntityCommands {
	return removeKey[T](ec, Entity{})
}

// RemoveRelationComponent queues removing the entity's T relation toward target.
func RemoveRelationComponent[T any](ec *EntityCommands, target Entity) *EntityCommands {
	return removeKey[T](ec, target)
}

func removeKey[T any](ec *EntityCommands, target Entity) *EntityCommands {
	return ec.push("remove from", func(m *EntityMut) error {
		kind, ok := m.world.components.LookupComponent(reflect.TypeFor[T]())
		if !ok {
			return eris.Wrapf(ErrMissingComponent, "%v", reflect.TypeFor[T]())
		}
		if _, ok := m.Remove(storage.RelationKey(kind, target)); !ok {
			return eris.Wrapf(ErrMissingComponent, "%v on %v", reflect.TypeFor[T](), m.entity)
		}
		return nil
	})
}

func (c *Commands) initParam(w *World, _ *SystemMeta) {
	c.world = w
	c.buffer = w.commandPool.Get()
}

func (c *Commands) fetchParam(w *World, _ *SystemMeta, _ uint32) { c.world = w }

func (c *Commands) applyParam(w *World) error {
	return c.Apply(w)
}

func (c *Commands) markParam() CommandMark { return c.buffer.Mark() }

func (c *Commands) rollbackParam(m CommandMark) int { return c.buffer.Rollback(m) }

func (c *Commands) newArchetype(*Archetype, *SystemMeta) {}

var (
	_ systemParam   = (*Commands)(nil)
	_ bufferedParam = (*Commands)(nil)
)
