package ecs

import (
	"encoding/binary"
	"sort"

	"github.com/TheBitDrifter/mask"

	"github.com/DangerosoDavo/archecs/ecs/component"
	"github.com/DangerosoDavo/archecs/ecs/entity"
	"github.com/DangerosoDavo/archecs/ecs/storage"
)

// ArchetypeID indexes Archetypes. Archetype 0 holds entities without components.
type ArchetypeID uint32

// EmptyArchetype is the id of the component-less archetype.
const EmptyArchetype ArchetypeID = 0

// ArchetypeComponentID identifies one key within one archetype, or one resource. It is the unit of
// access the parallel executor schedules against.
type ArchetypeComponentID uint32

// ArchetypeGeneration is a watermark over the archetype list: archetypes are never removed, so every
// archetype with an id at or above the watermark is new to the holder.
type ArchetypeGeneration uint32

// maskBits is the number of kinds tracked by the archetype bitmask prefilter.
const maskBits = 256

type archetypeKey struct {
	storage component.StorageType
	id      ArchetypeComponentID
}

type componentStatus uint8

const (
	statusAdded componentStatus = iota
	statusMutated
)

type insertEdge struct {
	to       ArchetypeID
	statuses []componentStatus
}

type removeEdge struct {
	to ArchetypeID
	ok bool
}

// Archetype groups entities with the same set of keys.
type Archetype struct {
	id         ArchetypeID
	tableID    storage.TableID
	keys       []storage.Key
	tableKeys  []storage.Key
	sparseKeys []storage.Key
	info       map[storage.Key]archetypeKey
	kinds      map[component.KindID]int
	relations  map[component.KindID][]Entity
	mask       mask.Mask

	entities  []Entity
	tableRows []int

	insertEdges       map[BundleID]insertEdge
	removeEdges       map[BundleID]removeEdge
	intersectionEdges map[BundleID]removeEdge
}

func (a *Archetype) ID() ArchetypeID           { return a.id }
func (a *Archetype) TableID() storage.TableID  { return a.tableID }
func (a *Archetype) Keys() []storage.Key       { return a.keys }
func (a *Archetype) TableKeys() []storage.Key  { return a.tableKeys }
func (a *Archetype) SparseKeys() []storage.Key { return a.sparseKeys }
func (a *Archetype) Entities() []Entity        { return a.entities }
func (a *Archetype) Len() int                  { return len(a.entities) }
func (a *Archetype) TableRow(row int) int      { return a.tableRows[row] }

// Contains reports whether the archetype stores key.
func (a *Archetype) Contains(key storage.Key) bool {
	_, ok := a.info[key]
	return ok
}

// ContainsKind reports whether any key of the archetype has kind, as a plain component or a relation.
func (a *Archetype) ContainsKind(kind component.KindID) bool {
	return a.kinds[kind] > 0
}

// RelationTargets lists the targets of kind in ascending order.
func (a *Archetype) RelationTargets(kind component.KindID) []Entity {
	return a.relations[kind]
}

// StorageOf reports where key is stored for entities of the archetype.
func (a *Archetype) StorageOf(key storage.Key) (component.StorageType, bool) {
	info, ok := a.info[key]
	return info.storage, ok
}

// ArchetypeComponentID reports the access id of key within the archetype.
func (a *Archetype) ArchetypeComponentID(key storage.Key) (ArchetypeComponentID, bool) {
	info, ok := a.info[key]
	return info.id, ok
}

func (a *Archetype) push(e Entity, tableRow int) int {
	a.entities = append(a.entities, e)
	a.tableRows = append(a.tableRows, tableRow)
	return len(a.entities) - 1
}

// swapRemove drops row and moves the last entity into it. It returns the table row the removed
// entity occupied and the entity that now lives at row, if any.
func (a *Archetype) swapRemove(row int) (int, Entity, bool) {
	last := len(a.entities) - 1
	tableRow := a.tableRows[row]
	moved := row != last
	a.entities[row] = a.entities[last]
	a.tableRows[row] = a.tableRows[last]
	a.entities = a.entities[:last]
	a.tableRows = a.tableRows[:last]
	if !moved {
		return tableRow, Entity{}, false
	}
	return tableRow, a.entities[row], true
}

func (a *Archetype) setTableRow(row, tableRow int) {
	a.tableRows[row] = tableRow
}

// Archetypes owns the archetype graph. Archetypes are created lazily and never destroyed.
type Archetypes struct {
	archetypes     []*Archetype
	index          map[string]ArchetypeID
	componentCount uint32
}

func newArchetypes() *Archetypes {
	as := &Archetypes{index: make(map[string]ArchetypeID)}
	as.getOrInsert(storage.EmptyTable, nil, nil)
	return as
}

func (as *Archetypes) Len() int                        { return len(as.archetypes) }
func (as *Archetypes) Get(id ArchetypeID) *Archetype   { return as.archetypes[id] }
func (as *Archetypes) All() []*Archetype               { return as.archetypes }
func (as *Archetypes) Generation() ArchetypeGeneration { return ArchetypeGeneration(len(as.archetypes)) }

// Since returns every archetype created at or after gen.
func (as *Archetypes) Since(gen ArchetypeGeneration) []*Archetype {
	return as.archetypes[gen:]
}

// ComponentCount reports how many archetype component ids were issued.
func (as *Archetypes) ComponentCount() uint32 { return as.componentCount }

func (as *Archetypes) newComponentID() ArchetypeComponentID {
	id := ArchetypeComponentID(as.componentCount)
	as.componentCount++
	return id
}

// getOrInsert returns the archetype with exactly the given keys, creating it on first use.
// Both key lists must be sorted.
func (as *Archetypes) getOrInsert(tableID storage.TableID, tableKeys, sparseKeys []storage.Key) ArchetypeID {
	sig := archetypeSignature(tableKeys, sparseKeys)
	if id, ok := as.index[sig]; ok {
		return id
	}

	id := ArchetypeID(len(as.archetypes))
	a := &Archetype{
		id:                id,
		tableID:           tableID,
		tableKeys:         append([]storage.Key(nil), tableKeys...),
		sparseKeys:        append([]storage.Key(nil), sparseKeys...),
		info:              make(map[storage.Key]archetypeKey, len(tableKeys)+len(sparseKeys)),
		kinds:             make(map[component.KindID]int),
		relations:         make(map[component.KindID][]Entity),
		insertEdges:       make(map[BundleID]insertEdge),
		removeEdges:       make(map[BundleID]removeEdge),
		intersectionEdges: make(map[BundleID]removeEdge),
	}
	add := func(key storage.Key, st component.StorageType) {
		a.info[key] = archetypeKey{storage: st, id: as.newComponentID()}
		a.kinds[key.Kind]++
		if key.Kind < maskBits {
			a.mask.Mark(uint32(key.Kind))
		}
		if key.IsRelation() {
			a.relations[key.Kind] = append(a.relations[key.Kind], key.Target)
		}
	}
	for _, key := range tableKeys {
		add(key, component.StorageTable)
	}
	for _, key := range sparseKeys {
		add(key, component.StorageSparseSet)
	}
	for kind := range a.relations {
		targets := a.relations[kind]
		sort.Slice(targets, func(i, j int) bool { return targets[i].Less(targets[j]) })
	}
	a.keys = append(append([]storage.Key(nil), tableKeys...), sparseKeys...)
	storage.SortKeys(a.keys)

	as.archetypes = append(as.archetypes, a)
	as.index[sig] = id
	return id
}

func archetypeSignature(tableKeys, sparseKeys []storage.Key) string {
	buf := make([]byte, 0, (len(tableKeys)+len(sparseKeys))*12+1)
	for _, key := range tableKeys {
		buf = appendKey(buf, key)
	}
	buf = append(buf, '|')
	for _, key := range sparseKeys {
		buf = appendKey(buf, key)
	}
	return string(buf)
}

func appendKey(buf []byte, key storage.Key) []byte {
	buf = binary.LittleEndian.AppendUint32(buf, uint32(key.Kind))
	return binary.LittleEndian.AppendUint64(buf, key.Target.Bits())
}

// archetypeAfterInsert resolves the archetype an entity of from lands in after inserting bundle,
// together with the added/mutated status of every bundle key.
func (w *World) archetypeAfterInsert(from ArchetypeID, bundle *BundleInfo) insertEdge {
	src := w.archetypes.Get(from)
	if edge, ok := src.insertEdges[bundle.id]; ok {
		return edge
	}

	statuses := make([]componentStatus, len(bundle.keys))
	var newTable, newSparse []storage.Key
	for i, key := range bundle.keys {
		if src.Contains(key) {
			statuses[i] = statusMutated
			continue
		}
		statuses[i] = statusAdded
		if bundle.storages[i] == component.StorageTable {
			newTable = append(newTable, key)
		} else {
			newSparse = append(newSparse, key)
		}
	}

	edge := insertEdge{to: from, statuses: statuses}
	if len(newTable) > 0 || len(newSparse) > 0 {
		tableID := src.tableID
		tableKeys := src.tableKeys
		if len(newTable) > 0 {
			tableKeys = append(append([]storage.Key(nil), src.tableKeys...), newTable...)
			storage.SortKeys(tableKeys)
			tableID = w.tables.GetOrInsert(tableKeys, w.components)
		}
		sparseKeys := src.sparseKeys
		if len(newSparse) > 0 {
			sparseKeys = append(append([]storage.Key(nil), src.sparseKeys...), newSparse...)
			storage.SortKeys(sparseKeys)
		}
		edge.to = w.archetypes.getOrInsert(tableID, tableKeys, sparseKeys)
	}
	src.insertEdges[bundle.id] = edge
	return edge
}

// archetypeAfterRemove resolves the archetype after removing bundle. Without intersection the
// removal fails when the archetype lacks any bundle key; with it, only present keys are removed.
func (w *World) archetypeAfterRemove(from ArchetypeID, bundle *BundleInfo, intersection bool) removeEdge {
	src := w.archetypes.Get(from)
	edges := src.removeEdges
	if intersection {
		edges = src.intersectionEdges
	}
	if edge, ok := edges[bundle.id]; ok {
		return edge
	}

	removed := make(map[storage.Key]struct{}, len(bundle.keys))
	for _, key := range bundle.keys {
		if !src.Contains(key) {
			if !intersection {
				edge := removeEdge{}
				edges[bundle.id] = edge
				return edge
			}
			continue
		}
		removed[key] = struct{}{}
	}

	keep := func(keys []storage.Key) ([]storage.Key, bool) {
		out := make([]storage.Key, 0, len(keys))
		changed := false
		for _, key := range keys {
			if _, ok := removed[key]; ok {
				changed = true
				continue
			}
			out = append(out, key)
		}
		return out, changed
	}
	tableKeys, tableChanged := keep(src.tableKeys)
	sparseKeys, _ := keep(src.sparseKeys)
	tableID := src.tableID
	if tableChanged {
		tableID = w.tables.GetOrInsert(tableKeys, w.components)
	}
	edge := removeEdge{to: w.archetypes.getOrInsert(tableID, tableKeys, sparseKeys), ok: true}
	edges[bundle.id] = edge
	return edge
}

// moveEntity relocates e from its archetype to dst. Values of keys dst lacks are handed to discard
// when it is non-nil and dropped otherwise. Table columns new to dst are zero-filled and must be
// written by the caller. The returned location is already recorded.
func (w *World) moveEntity(e Entity, loc entity.Location, dst ArchetypeID, discard func(storage.Key, any)) entity.Location {
	srcArch := w.archetypes.Get(ArchetypeID(loc.Archetype))
	dstArch := w.archetypes.Get(dst)
	if srcArch.id == dstArch.id {
		return loc
	}

	for _, key := range srcArch.sparseKeys {
		if dstArch.Contains(key) {
			continue
		}
		set, _ := w.sparseSets.Get(key)
		if discard != nil {
			value, _ := set.Remove(e)
			discard(key, value)
		} else {
			set.RemoveAndDrop(e)
		}
	}

	tableRow, swapped, ok := srcArch.swapRemove(loc.Row)
	if ok {
		w.entities.SetLocation(swapped, entity.Location{Archetype: loc.Archetype, Row: loc.Row})
	}

	newTableRow := tableRow
	if srcArch.tableID != dstArch.tableID {
		srcTable := w.tables.Get(srcArch.tableID)
		dstTable := w.tables.Get(dstArch.tableID)
		var moved Entity
		var relocated bool
		newTableRow, moved, relocated = srcTable.MoveRow(tableRow, dstTable, discard)
		if relocated {
			w.fixTableRow(moved, tableRow)
		}
	}

	newLoc := entity.Location{Archetype: uint32(dst), Row: dstArch.push(e, newTableRow)}
	w.entities.SetLocation(e, newLoc)
	return newLoc
}

// fixTableRow records that e now lives at tableRow after a swap-remove in its table.
func (w *World) fixTableRow(e Entity, tableRow int) {
	loc, ok := w.entities.Get(e)
	if !ok {
		return
	}
	w.archetypes.Get(ArchetypeID(loc.Archetype)).setTableRow(loc.Row, tableRow)
}
