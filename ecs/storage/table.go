package storage

import (
	"encoding/binary"
	"fmt"
	"sort"

	"github.com/rotisserie/eris"

	"github.com/DangerosoDavo/archecs/ecs/component"
	"github.com/DangerosoDavo/archecs/ecs/entity"
)

var (
	// ErrColumnNotFound signals access to a key the table does not store.
	ErrColumnNotFound = eris.New("storage: column not found")
	// ErrRowOutOfRange signals access past the end of a table or column.
	ErrRowOutOfRange = eris.New("storage: row out of range")
)

// Key addresses stored values: a kind, optionally qualified by a relation target.
type Key struct {
	Kind   component.KindID
	Target entity.Entity
}

// KeyOf is the key of a plain component.
func KeyOf(kind component.KindID) Key {
	return Key{Kind: kind}
}

// RelationKey is the key of a relation of kind toward target.
func RelationKey(kind component.KindID, target entity.Entity) Key {
	return Key{Kind: kind, Target: target}
}

// IsRelation reports whether the key carries a target.
func (k Key) IsRelation() bool {
	return !k.Target.IsZero()
}

// Less orders keys by kind, then target.
func (k Key) Less(other Key) bool {
	if k.Kind != other.Kind {
		return k.Kind < other.Kind
	}
	return k.Target.Less(other.Target)
}

func (k Key) String() string {
	if k.IsRelation() {
		return fmt.Sprintf("%d->%v", k.Kind, k.Target)
	}
	return fmt.Sprintf("%d", k.Kind)
}

// SortKeys sorts keys in place.
func SortKeys(keys []Key) {
	sort.Slice(keys, func(i, j int) bool { return keys[i].Less(keys[j]) })
}

// Column holds the values and change ticks of one key in a table.
type Column struct {
	key   Key
	data  component.Vec
	ticks []component.Ticks
}

// NewColumn allocates an empty column for key.
func NewColumn(key Key, info *component.Info) *Column {
	return &Column{key: key, data: info.NewVec()}
}

func (c *Column) Key() Key            { return c.key }
func (c *Column) Len() int            { return len(c.ticks) }
func (c *Column) Data() component.Vec { return c.data }
func (c *Column) Ticks(row int) *component.Ticks {
	return &c.ticks[row]
}

// TicksSlice exposes every row's ticks.
func (c *Column) TicksSlice() []component.Ticks { return c.ticks }

// Get returns a copy of the value at row.
func (c *Column) Get(row int) any { return c.data.Get(row) }

// Ptr returns a mutable view of the value at row.
func (c *Column) Ptr(row int) any { return c.data.Ptr(row) }

// CheckedGet is Get with bounds checking.
func (c *Column) CheckedGet(row int) (any, error) {
	if row < 0 || row >= c.Len() {
		return nil, eris.Wrapf(ErrRowOutOfRange, "column %v row %d of %d", c.key, row, c.Len())
	}
	return c.data.Get(row), nil
}

// Initialize writes a freshly allocated row.
func (c *Column) Initialize(row int, value any, ticks component.Ticks) {
	c.data.Init(row, value)
	c.ticks[row] = ticks
}

// Replace overwrites row, dropping the old value and marking it changed.
func (c *Column) Replace(row int, value any, tick uint32) {
	c.data.Set(row, value)
	c.ticks[row].SetChanged(tick)
}

func (c *Column) pushZero() {
	c.data.PushZero()
	c.ticks = append(c.ticks, component.Ticks{})
}

func (c *Column) moveFrom(src *Column, row int) {
	c.data.MoveFrom(src.data, row)
	c.ticks = append(c.ticks, src.ticks[row])
}

func (c *Column) swapRemoveTicks(row int) {
	last := len(c.ticks) - 1
	c.ticks[row] = c.ticks[last]
	c.ticks = c.ticks[:last]
}

// CheckChangeTicks clamps every row's ticks.
func (c *Column) CheckChangeTicks(current uint32) {
	for i := range c.ticks {
		c.ticks[i].Check(current)
	}
}

// TableID indexes Tables. Table 0 stores no columns.
type TableID uint32

// EmptyTable is the id of the column-less table.
const EmptyTable TableID = 0

// Table stores rows of table-stored keys shared by every archetype with the same key set.
type Table struct {
	id       TableID
	keys     []Key
	columns  map[Key]*Column
	entities []entity.Entity
}

func newTable(id TableID) *Table {
	return &Table{id: id, columns: make(map[Key]*Column)}
}

func (t *Table) ID() TableID               { return t.id }
func (t *Table) Keys() []Key               { return t.keys }
func (t *Table) Len() int                  { return len(t.entities) }
func (t *Table) Entities() []entity.Entity { return t.entities }
func (t *Table) HasColumn(key Key) bool    { _, ok := t.columns[key]; return ok }
func (t *Table) Column(key Key) (*Column, bool) {
	col, ok := t.columns[key]
	return col, ok
}

// CheckedColumn is Column returning an error for missing keys.
func (t *Table) CheckedColumn(key Key) (*Column, error) {
	col, ok := t.columns[key]
	if !ok {
		return nil, eris.Wrapf(ErrColumnNotFound, "table %d key %v", t.id, key)
	}
	return col, nil
}

// AddColumn adds a column to an empty table.
func (t *Table) AddColumn(key Key, info *component.Info) {
	if len(t.entities) > 0 {
		panic(fmt.Sprintf("storage: add column %v to non-empty table %d", key, t.id))
	}
	if _, ok := t.columns[key]; ok {
		return
	}
	t.columns[key] = NewColumn(key, info)
	t.keys = append(t.keys, key)
	SortKeys(t.keys)
}

// Allocate appends a row for e. Every column gets a zero value that the caller must Initialize.
func (t *Table) Allocate(e entity.Entity) int {
	row := len(t.entities)
	t.entities = append(t.entities, e)
	for _, key := range t.keys {
		t.columns[key].pushZero()
	}
	return row
}

// SwapRemove drops the values at row and moves the last row into it.
// It returns the entity that now lives at row, if any.
func (t *Table) SwapRemove(row int) (entity.Entity, bool) {
	t.checkRow(row)
	for _, key := range t.keys {
		col := t.columns[key]
		col.data.SwapRemoveDrop(row)
		col.swapRemoveTicks(row)
	}
	return t.swapRemoveEntity(row)
}

// MoveRow moves row into dst. Values dst has no column for are passed to discard when it is
// non-nil and dropped otherwise. Columns only dst has are zero-filled for the caller to initialize.
func (t *Table) MoveRow(row int, dst *Table, discard func(Key, any)) (int, entity.Entity, bool) {
	t.checkRow(row)
	newRow := len(dst.entities)
	dst.entities = append(dst.entities, t.entities[row])

	for _, key := range t.keys {
		src := t.columns[key]
		if out, ok := dst.columns[key]; ok {
			out.moveFrom(src, row)
			src.data.SwapRemove(row)
		} else if discard != nil {
			discard(key, src.data.SwapRemove(row))
		} else {
			src.data.SwapRemoveDrop(row)
		}
		src.swapRemoveTicks(row)
	}
	for _, key := range dst.keys {
		if _, ok := t.columns[key]; !ok {
			dst.columns[key].pushZero()
		}
	}

	moved, ok := t.swapRemoveEntity(row)
	return newRow, moved, ok
}

func (t *Table) swapRemoveEntity(row int) (entity.Entity, bool) {
	last := len(t.entities) - 1
	isLast := row == last
	t.entities[row] = t.entities[last]
	t.entities = t.entities[:last]
	if isLast {
		return entity.Entity{}, false
	}
	return t.entities[row], true
}

func (t *Table) checkRow(row int) {
	if row < 0 || row >= len(t.entities) {
		panic(eris.Wrapf(ErrRowOutOfRange, "table %d row %d of %d", t.id, row, len(t.entities)))
	}
}

// CheckChangeTicks clamps every column's ticks.
func (t *Table) CheckChangeTicks(current uint32) {
	for _, col := range t.columns {
		col.CheckChangeTicks(current)
	}
}

// Clear drops every row.
func (t *Table) Clear() {
	for _, col := range t.columns {
		col.data.Clear()
		col.ticks = col.ticks[:0]
	}
	t.entities = t.entities[:0]
}

// Tables owns every table. Tables are never removed.
type Tables struct {
	tables []*Table
	index  map[string]TableID
}

// NewTables constructs the table set holding only the empty table.
func NewTables() *Tables {
	ts := &Tables{index: make(map[string]TableID)}
	ts.tables = append(ts.tables, newTable(EmptyTable))
	ts.index[tableSignature(nil)] = EmptyTable
	return ts
}

func (ts *Tables) Len() int              { return len(ts.tables) }
func (ts *Tables) Get(id TableID) *Table { return ts.tables[id] }
func (ts *Tables) All() []*Table         { return ts.tables }

// GetOrInsert returns the table storing exactly keys, creating it on first use.
func (ts *Tables) GetOrInsert(keys []Key, registry *component.Registry) TableID {
	sorted := append([]Key(nil), keys...)
	SortKeys(sorted)
	sig := tableSignature(sorted)
	if id, ok := ts.index[sig]; ok {
		return id
	}
	id := TableID(len(ts.tables))
	table := newTable(id)
	for _, key := range sorted {
		table.AddColumn(key, registry.Info(key.Kind))
	}
	ts.tables = append(ts.tables, table)
	ts.index[sig] = id
	return id
}

// CheckChangeTicks clamps the ticks of every table.
func (ts *Tables) CheckChangeTicks(current uint32) {
	for _, t := range ts.tables {
		t.CheckChangeTicks(current)
	}
}

func tableSignature(keys []Key) string {
	buf := make([]byte, 0, len(keys)*12)
	for _, key := range keys {
		buf = binary.LittleEndian.AppendUint32(buf, uint32(key.Kind))
		buf = binary.LittleEndian.AppendUint64(buf, key.Target.Bits())
	}
	return string(buf)
}
