package ecs

import "math/bits"

// bitSet is a growable set of small integers.
type bitSet []uint64

func (b *bitSet) insert(i uint32) {
	word := int(i / 64)
	if word >= len(*b) {
		grown := make(bitSet, word+1)
		copy(grown, *b)
		*b = grown
	}
	(*b)[word] |= 1 << (i % 64)
}

func (b bitSet) contains(i uint32) bool {
	word := int(i / 64)
	return word < len(b) && b[word]&(1<<(i%64)) != 0
}

func (b *bitSet) union(other bitSet) {
	if len(other) > len(*b) {
		grown := make(bitSet, len(other))
		copy(grown, *b)
		*b = grown
	}
	for i, w := range other {
		(*b)[i] |= w
	}
}

func (b bitSet) disjoint(other bitSet) bool {
	n := min(len(b), len(other))
	for i := 0; i < n; i++ {
		if b[i]&other[i] != 0 {
			return false
		}
	}
	return true
}

func (b bitSet) empty() bool {
	for _, w := range b {
		if w != 0 {
			return false
		}
	}
	return true
}

func (b bitSet) clone() bitSet {
	return append(bitSet(nil), b...)
}

// each calls fn for every member in ascending order.
func (b bitSet) each(fn func(uint32)) {
	for i, w := range b {
		for w != 0 {
			tz := bits.TrailingZeros64(w)
			fn(uint32(i*64 + tz))
			w &^= 1 << tz
		}
	}
}

func (b bitSet) intersection(other bitSet) bitSet {
	out := make(bitSet, min(len(b), len(other)))
	for i := range out {
		out[i] = b[i] & other[i]
	}
	return out
}

// Access records which ids something reads and writes. T is a kind id for system declarations and
// an archetype component id for the executor.
type Access[T ~uint32] struct {
	readsAndWrites bitSet
	writes         bitSet
	readsAll       bool
	writesAll      bool
}

// AddRead records a read of id.
func (a *Access[T]) AddRead(id T) { a.readsAndWrites.insert(uint32(id)) }

// AddWrite records a write of id.
func (a *Access[T]) AddWrite(id T) {
	a.readsAndWrites.insert(uint32(id))
	a.writes.insert(uint32(id))
}

// ReadAll marks every id as read.
func (a *Access[T]) ReadAll() { a.readsAll = true }

// WriteAll marks every id as written. Such an access is only compatible with an empty one.
func (a *Access[T]) WriteAll() {
	a.readsAll = true
	a.writesAll = true
}

func (a *Access[T]) HasRead(id T) bool {
	return a.readsAll || a.readsAndWrites.contains(uint32(id))
}

func (a *Access[T]) HasWrite(id T) bool {
	return a.writesAll || a.writes.contains(uint32(id))
}

func (a *Access[T]) IsReadAll() bool  { return a.readsAll }
func (a *Access[T]) IsWriteAll() bool { return a.writesAll }

// IsEmpty reports whether nothing is accessed.
func (a *Access[T]) IsEmpty() bool {
	return !a.readsAll && a.readsAndWrites.empty()
}

// Clear forgets every recorded access.
func (a *Access[T]) Clear() {
	*a = Access[T]{}
}

// Extend adds everything other accesses.
func (a *Access[T]) Extend(other *Access[T]) {
	a.readsAll = a.readsAll || other.readsAll
	a.writesAll = a.writesAll || other.writesAll
	a.readsAndWrites.union(other.readsAndWrites)
	a.writes.union(other.writes)
}

// Reads lists the ids read without being written.
func (a *Access[T]) Reads() []T {
	var out []T
	a.readsAndWrites.each(func(i uint32) {
		if !a.writes.contains(i) {
			out = append(out, T(i))
		}
	})
	return out
}

// Writes lists the written ids.
func (a *Access[T]) Writes() []T {
	var out []T
	a.writes.each(func(i uint32) { out = append(out, T(i)) })
	return out
}

// IsCompatible reports whether a and other can run at the same time.
func (a *Access[T]) IsCompatible(other *Access[T]) bool {
	if a.writesAll {
		return other.IsEmpty()
	}
	if other.writesAll {
		return a.IsEmpty()
	}
	if a.readsAll {
		return other.writes.empty()
	}
	if other.readsAll {
		return a.writes.empty()
	}
	return a.writes.disjoint(other.readsAndWrites) && other.writes.disjoint(a.readsAndWrites)
}

// GetConflicts lists the ids a and other conflict on, sorted. An empty result for incompatible
// accesses means they conflict on the whole world.
func (a *Access[T]) GetConflicts(other *Access[T]) []T {
	if a.writesAll || other.writesAll {
		return nil
	}
	var seen bitSet
	if a.readsAll {
		seen.union(other.writes)
	}
	if other.readsAll {
		seen.union(a.writes)
	}
	if !a.readsAll && !other.readsAll {
		seen.union(a.writes.intersection(other.readsAndWrites))
		seen.union(a.readsAndWrites.intersection(other.writes))
	}
	var out []T
	seen.each(func(i uint32) { out = append(out, T(i)) })
	return out
}

// FilteredAccess is an access plus the With/Without constraints of the query it came from. Two
// filtered accesses whose constraints exclude each other never touch the same entity.
type FilteredAccess[T ~uint32] struct {
	access  Access[T]
	with    bitSet
	without bitSet
}

func (f *FilteredAccess[T]) Access() *Access[T] { return &f.access }

func (f *FilteredAccess[T]) AddRead(id T) {
	f.access.AddRead(id)
	f.AddWith(id)
}

func (f *FilteredAccess[T]) AddWrite(id T) {
	f.access.AddWrite(id)
	f.AddWith(id)
}

func (f *FilteredAccess[T]) AddWith(id T)    { f.with.insert(uint32(id)) }
func (f *FilteredAccess[T]) AddWithout(id T) { f.without.insert(uint32(id)) }

// Extend merges other into f.
func (f *FilteredAccess[T]) Extend(other *FilteredAccess[T]) {
	f.access.Extend(&other.access)
	f.with.union(other.with)
	f.without.union(other.without)
}

// ExtendAccess merges only the reads and writes of other.
func (f *FilteredAccess[T]) ExtendAccess(other *FilteredAccess[T]) {
	f.access.Extend(&other.access)
}

func (f *FilteredAccess[T]) clone() FilteredAccess[T] {
	return FilteredAccess[T]{
		access: Access[T]{
			readsAndWrites: f.access.readsAndWrites.clone(),
			writes:         f.access.writes.clone(),
			readsAll:       f.access.readsAll,
			writesAll:      f.access.writesAll,
		},
		with:    f.with.clone(),
		without: f.without.clone(),
	}
}

// IsCompatible reports whether f and other never conflict on a shared entity.
func (f *FilteredAccess[T]) IsCompatible(other *FilteredAccess[T]) bool {
	if f.access.IsCompatible(&other.access) {
		return true
	}
	return !f.with.disjoint(other.without) || !f.without.disjoint(other.with)
}

// FilteredAccessSet collects the filtered accesses of all parameters of one system.
type FilteredAccessSet[T ~uint32] struct {
	combined Access[T]
	filtered []FilteredAccess[T]
}

// Combined is the union of every access in the set, ignoring filters.
func (s *FilteredAccessSet[T]) Combined() *Access[T] { return &s.combined }

// IsCompatible reports whether two sets can run at the same time.
func (s *FilteredAccessSet[T]) IsCompatible(other *FilteredAccessSet[T]) bool {
	if s.combined.IsCompatible(&other.combined) {
		return true
	}
	for i := range s.filtered {
		for j := range other.filtered {
			if !s.filtered[i].IsCompatible(&other.filtered[j]) {
				return false
			}
		}
	}
	return true
}

// GetConflicts lists the ids filtered conflicts on with the set, sorted.
func (s *FilteredAccessSet[T]) GetConflicts(filtered *FilteredAccess[T]) []T {
	if filtered.access.IsCompatible(&s.combined) {
		return nil
	}
	var seen bitSet
	for i := range s.filtered {
		if s.filtered[i].IsCompatible(filtered) {
			continue
		}
		for _, id := range s.filtered[i].access.GetConflicts(&filtered.access) {
			seen.insert(uint32(id))
		}
	}
	var out []T
	seen.each(func(i uint32) { out = append(out, T(i)) })
	return out
}

// Add appends filtered to the set.
func (s *FilteredAccessSet[T]) Add(filtered FilteredAccess[T]) {
	s.combined.Extend(&filtered.access)
	s.filtered = append(s.filtered, filtered)
}

// AddUnfilteredRead records a read that no filter can exclude, such as a resource.
func (s *FilteredAccessSet[T]) AddUnfilteredRead(id T) {
	var f FilteredAccess[T]
	f.AddRead(id)
	s.Add(f)
}

// AddUnfilteredWrite records a write that no filter can exclude.
func (s *FilteredAccessSet[T]) AddUnfilteredWrite(id T) {
	var f FilteredAccess[T]
	f.AddWrite(id)
	s.Add(f)
}

// Extend merges every access of other into s.
func (s *FilteredAccessSet[T]) Extend(other *FilteredAccessSet[T]) {
	s.combined.Extend(&other.combined)
	s.filtered = append(s.filtered, other.filtered...)
}

// ReadAll marks the set as reading everything.
func (s *FilteredAccessSet[T]) ReadAll() {
	var f FilteredAccess[T]
	f.access.ReadAll()
	s.Add(f)
}

// WriteAll marks the set as writing everything.
func (s *FilteredAccessSet[T]) WriteAll() {
	var f FilteredAccess[T]
	f.access.WriteAll()
	s.Add(f)
}
