package ecs

import (
	"github.com/DangerosoDavo/archecs/ecs/component"
)

type eventInstance[T any] struct {
	id    uint64
	event T
}

// Events is a double-buffered event queue. Events live for two updates, so every reader that runs
// once per update sees each event exactly once.
type Events[T any] struct {
	previous []eventInstance[T]
	current  []eventInstance[T]
	count    uint64
}

// Send queues event.
func (e *Events[T]) Send(event T) {
	e.current = append(e.current, eventInstance[T]{id: e.count, event: event})
	e.count++
}

// Update drops the events of the update before last and starts a new buffer. Call it once per frame.
func (e *Events[T]) Update() {
	e.previous, e.current = e.current, e.previous[:0]
}

// Len reports how many events are buffered.
func (e *Events[T]) Len() int { return len(e.previous) + len(e.current) }

// Clear drops every buffered event.
func (e *Events[T]) Clear() {
	e.previous = e.previous[:0]
	e.current = e.current[:0]
}

// Drain returns every buffered event, oldest first, and clears the queue.
func (e *Events[T]) Drain() []T {
	out := make([]T, 0, e.Len())
	for _, inst := range e.previous {
		out = append(out, inst.event)
	}
	for _, inst := range e.current {
		out = append(out, inst.event)
	}
	e.Clear()
	return out
}

// readSince returns the events with an id of at least next, oldest first, and the id after the newest.
func (e *Events[T]) readSince(next uint64) ([]T, uint64) {
	var out []T
	for _, buf := range [][]eventInstance[T]{e.previous, e.current} {
		for _, inst := range buf {
			if inst.id >= next {
				out = append(out, inst.event)
			}
		}
	}
	return out, e.count
}

// AddEvent inserts an empty Events[T] resource unless one exists.
func AddEvent[T any](w *World) {
	InitResource[Events[T]](w)
}

// UpdateEvents is the system that advances Events[T] once per frame.
func UpdateEvents[T any](events ResMut[Events[T]]) {
	events.Mut().Update()
}

// EventReader reads Events[T] sent since the reader's previous read.
type EventReader[T any] struct {
	paramBase
	resourceParam
	events *Events[T]
	next   *uint64
}

func (r *EventReader[T]) initParam(w *World, meta *SystemMeta) {
	r.declare(w, meta, component.ResourceKind[Events[T]](w.components), false, "EventReader")
	r.next = new(uint64)
}

func (r *EventReader[T]) fetchParam(w *World, meta *SystemMeta, _ uint32) {
	r.events = r.require(w, meta).value.Interface().(*Events[T])
}

// Read returns the unread events, oldest first, and marks them read.
func (r EventReader[T]) Read() []T {
	events, next := r.events.readSince(*r.next)
	*r.next = next
	return events
}

// Len reports how many events are unread.
func (r EventReader[T]) Len() int {
	events, _ := r.events.readSince(*r.next)
	return len(events)
}

func (r EventReader[T]) IsEmpty() bool { return r.Len() == 0 }

// Clear marks every buffered event read.
func (r EventReader[T]) Clear() { *r.next = r.events.count }

// EventWriter sends Events[T].
type EventWriter[T any] struct {
	paramBase
	resourceParam
	events *Events[T]
}

func (wr *EventWriter[T]) initParam(w *World, meta *SystemMeta) {
	wr.declare(w, meta, component.ResourceKind[Events[T]](w.components), true, "EventWriter")
}

func (wr *EventWriter[T]) fetchParam(w *World, meta *SystemMeta, _ uint32) {
	wr.events = wr.require(w, meta).value.Interface().(*Events[T])
}

func (wr EventWriter[T]) Send(event T) { wr.events.Send(event) }

// SendBatch sends events in order.
func (wr EventWriter[T]) SendBatch(events ...T) {
	for _, event := range events {
		wr.events.Send(event)
	}
}

var (
	_ systemParam = (*EventReader[int])(nil)
	_ systemParam = (*EventWriter[int])(nil)
)
