package ecs_test

import (
	ecs "github.com/DangerosoDavo/archecs"
	"github.com/DangerosoDavo/archecs/ecs/component"
)

type Position struct{ X, Y float64 }

type Velocity struct{ X, Y float64 }

type Health struct{ HP int }

type Marker struct{}

// SparseTag lives in a sparse set.
type SparseTag struct{ N int }

func (SparseTag) StorageType() component.StorageType { return component.StorageSparseSet }

type ChildOf struct{ Order int }

type Likes struct{ Weight int }

type counter struct{ n int }

// dropLog records the names of dropped Tracked values in order.
type dropLog struct{ names []string }

type Tracked struct {
	Name string
	Log  *dropLog
}

func (t *Tracked) Drop() {
	if t.Log != nil {
		t.Log.names = append(t.Log.names, t.Name)
	}
}

type pair struct {
	Pos Position
	Vel Velocity
}

func (p pair) Components(b *ecs.BundleBuilder) {
	ecs.Add(b, p.Pos)
	ecs.Add(b, p.Vel)
}

// runSystem initializes and runs sys once, then applies its buffers.
func runSystem(w *ecs.World, sys ecs.System) any {
	sys.Initialize(w)
	sys.UpdateArchetypeComponentAccess(w)
	out := sys.Run(nil, w)
	sys.ApplyBuffers(w)
	return out
}

// Other is a second dropping kind sharing a log with Tracked.
type Other struct {
	Name string
	Log  *dropLog
}

func (o *Other) Drop() {
	if o.Log != nil {
		o.Log.names = append(o.Log.names, o.Name)
	}
}

// swapped enumerates its members in an order picked per value, which a bundle type must not do.
type swapped struct {
	Flip bool
}

func (s swapped) Components(b *ecs.BundleBuilder) {
	if s.Flip {
		ecs.Add(b, Velocity{})
		ecs.Add(b, Position{})
		return
	}
	ecs.Add(b, Position{})
	ecs.Add(b, Velocity{})
}

type orderedPair struct {
	First  Other
	Second Tracked
}

func (p orderedPair) Components(b *ecs.BundleBuilder) {
	ecs.Add(b, p.First)
	ecs.Add(b, p.Second)
}
