package component

import "math"

const (
	// MaxChangeAge is the widest distance a stored tick may lag behind the current tick.
	MaxChangeAge uint32 = (math.MaxUint32 / 4) * 3
	// CheckTickThreshold is how many ticks may pass between two clamping passes.
	CheckTickThreshold uint32 = math.MaxUint32 / 8
)

// Ticks records when a slot was added and last changed.
type Ticks struct {
	Added   uint32
	Changed uint32
}

// NewTicks returns ticks for a slot written at tick.
func NewTicks(tick uint32) Ticks {
	return Ticks{Added: tick, Changed: tick}
}

// IsAdded reports whether the slot was added after lastRun, as seen at current.
func (t Ticks) IsAdded(lastRun, current uint32) bool {
	return IsNewer(t.Added, lastRun, current)
}

// IsChanged reports whether the slot changed after lastRun, as seen at current.
func (t Ticks) IsChanged(lastRun, current uint32) bool {
	return IsNewer(t.Changed, lastRun, current)
}

// SetChanged marks the slot changed at tick.
func (t *Ticks) SetChanged(tick uint32) {
	t.Changed = tick
}

// Check clamps both ticks so they stay inside the comparison window.
func (t *Ticks) Check(current uint32) {
	CheckTick(&t.Added, current)
	CheckTick(&t.Changed, current)
}

// IsNewer compares with wrapping subtraction: tick is newer than last when it is closer to current.
func IsNewer(tick, last, current uint32) bool {
	return current-tick < current-last
}

// CheckTick clamps last so it is at most MaxChangeAge behind current.
func CheckTick(last *uint32, current uint32) {
	if current-*last > MaxChangeAge {
		*last = current - MaxChangeAge
	}
}
