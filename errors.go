package ecs

import (
	"fmt"

	"github.com/rotisserie/eris"
)

var (
	// ErrComponentAlreadyRegistered indicates an attempt to register the same component twice.
	ErrComponentAlreadyRegistered = eris.New("ecs: component already registered")
	// ErrNoSuchEntity signals a dead, stale or never issued entity.
	ErrNoSuchEntity = eris.New("ecs: no such entity")
	// ErrQueryDoesNotMatch signals an entity outside a query's matched set.
	ErrQueryDoesNotMatch = eris.New("ecs: entity does not match query")
	// ErrNoEntities is returned by Single when nothing matches.
	ErrNoEntities = eris.New("ecs: query matched no entities")
	// ErrMultipleEntities is returned by Single when more than one entity matches.
	ErrMultipleEntities = eris.New("ecs: query matched multiple entities")
	// ErrDuplicateBundleComponent indicates a bundle that lists a component twice.
	ErrDuplicateBundleComponent = eris.New("ecs: bundle contains duplicate component")
	// ErrQueryAccessConflict indicates a query that reads and writes, or writes twice, the same component.
	ErrQueryAccessConflict = eris.New("ecs: conflicting access within query")
	// ErrSystemAccessConflict indicates system parameters whose accesses conflict.
	ErrSystemAccessConflict = eris.New("ecs: conflicting access within system")
	// ErrResourceNotFound indicates a required resource that is not present in the world.
	ErrResourceNotFound = eris.New("ecs: resource not found")
	// ErrWorldMismatch indicates state bound to one world used with another.
	ErrWorldMismatch = eris.New("ecs: state used with a different world")
	// ErrNonSendAccess indicates a non-send resource touched off the driving goroutine.
	ErrNonSendAccess = eris.New("ecs: non-send resource accessed from a worker goroutine")
	// ErrInvalidSystem indicates a value that cannot be turned into a system.
	ErrInvalidSystem = eris.New("ecs: invalid system function")
	// ErrMissingComponent indicates removal of a component the entity does not have.
	ErrMissingComponent = eris.New("ecs: entity lacks component")
)

// QueryEntityError reports why Get could not fetch an entity.
type QueryEntityError struct {
	Entity Entity
	Reason error
}

func (e *QueryEntityError) Error() string {
	return fmt.Sprintf("%v: %v", e.Reason, e.Entity)
}

func (e *QueryEntityError) Unwrap() error { return e.Reason }

func queryEntityError(e Entity, reason error) error {
	return &QueryEntityError{Entity: e, Reason: reason}
}
