// Package table maintains the ordered multi-keyed set of records of a
// single type. Record storage lives in the arena; the id and secondary
// orderings are kept in process memory and rebuilt when a database
// registers the index.
package table

import (
	"encoding/binary"
	"errors"
	"fmt"

	sorted "github.com/tobshub/go-sortedmap"

	"github.com/arhag/chainbase/internal/arena"
	"github.com/arhag/chainbase/internal/journal"
	"github.com/arhag/chainbase/internal/record"
	"github.com/arhag/chainbase/pkg"
)

var (
	ERR_NOT_FOUND            = errors.New("record not found")
	ERR_UNIQUE_KEY_VIOLATION = errors.New("unique key violation")
	ERR_INVALID_STATE        = errors.New("invalid state")
	ERR_UNKNOWN_KEY          = errors.New("unknown secondary key")
)

// Arena-resident table root: nextID, count, slotsOff, slotsCap.
const (
	rootNextID   = 0
	rootCount    = 8
	rootSlotsOff = 16
	rootSlotsCap = 24
	rootSize     = 32

	initialSlotCap = 64
	cellLenSize    = 4
)

// Table is the typed index for one record type.
type Table struct {
	schema  *record.Schema
	ar      *arena.Arena
	rootOff uint64

	rows    *sorted.SortedMap[uint64, record.Record]
	indexes *pkg.InsertSortMap[string, *keyIndex]
	jl      *journal.Journal

	revision      int64
	everSessioned *bool
}

// New attaches a table for schema to the arena. In a writable arena the
// root is created on first use; a read-only arena must already hold it.
func New(s *record.Schema, ar *arena.Arena, everSessioned *bool) (*Table, error) {
	t := &Table{
		schema:        s,
		ar:            ar,
		rows:          sorted.New[uint64, record.Record](0, rowOrder),
		indexes:       pkg.NewInsertSortMap[string, *keyIndex](),
		jl:            journal.New(),
		everSessioned: everSessioned,
	}
	for i := range s.Keys {
		t.indexes.Push(s.Keys[i].Name, newKeyIndex(&s.Keys[i]))
	}

	root, ok := ar.IndexRoot(uint32(s.Tag))
	if !ok {
		if ar.IsReadOnly() {
			return nil, fmt.Errorf("table %s: root not present in region", s.Name)
		}
		var err error
		root, err = ar.Alloc(rootSize)
		if err != nil {
			return nil, fmt.Errorf("table %s root: %w", s.Name, err)
		}
		t.rootOff = root
		for _, field := range []uint64{rootNextID, rootCount, rootSlotsOff, rootSlotsCap} {
			t.putRoot(field, 0)
		}
		if err := ar.SetIndexRoot(uint32(s.Tag), root); err != nil {
			ar.Free(root)
			return nil, fmt.Errorf("table %s root: %w", s.Name, err)
		}
		return t, nil
	}

	t.rootOff = root
	if err := t.rebuild(); err != nil {
		return nil, err
	}
	return t, nil
}

func rowOrder(a, b record.Record) bool { return a.GetID() < b.GetID() }

func (t *Table) Schema() *record.Schema { return t.schema }

func (t *Table) Journal() *journal.Journal { return t.jl }

func (t *Table) NextID() uint64 { return t.getRoot(rootNextID) }

func (t *Table) Count() uint64 { return t.getRoot(rootCount) }

// Revision reports the revision this index is at; the database keeps it
// in step with the global session stack.
func (t *Table) Revision() int64 { return t.revision }

// SetRevision adjusts the index revision directly. Refused once the
// journal holds frames or any session has ever been opened.
func (t *Table) SetRevision(r int64) error {
	if t.jl.Depth() > 0 || (t.everSessioned != nil && *t.everSessioned) {
		return fmt.Errorf("%w: cannot set revision with undo history", ERR_INVALID_STATE)
	}
	t.revision = r
	return nil
}

func (t *Table) SyncRevision(r int64) { t.revision = r }

func (t *Table) getRoot(field uint64) uint64 {
	return binary.LittleEndian.Uint64(t.ar.Slice(t.rootOff+field, 8))
}

func (t *Table) putRoot(field, v uint64) {
	binary.LittleEndian.PutUint64(t.ar.Slice(t.rootOff+field, 8), v)
}

// slot returns the cell offset for id, reading the slot table fresh so
// a read-only mapping observes the writer's updates.
func (t *Table) slot(id uint64) uint64 {
	if id >= t.getRoot(rootSlotsCap) {
		return 0
	}
	slots := t.getRoot(rootSlotsOff)
	return binary.LittleEndian.Uint64(t.ar.Slice(slots+id*8, 8))
}

func (t *Table) setSlot(id, off uint64) {
	slots := t.getRoot(rootSlotsOff)
	binary.LittleEndian.PutUint64(t.ar.Slice(slots+id*8, 8), off)
}

func (t *Table) ensureSlots(id uint64) error {
	cap := t.getRoot(rootSlotsCap)
	if id < cap {
		return nil
	}
	newCap := cap * 2
	if newCap == 0 {
		newCap = initialSlotCap
	}
	for newCap <= id {
		newCap *= 2
	}
	newOff, err := t.ar.Alloc(newCap * 8)
	if err != nil {
		return err
	}
	dst := t.ar.Slice(newOff, newCap*8)
	for i := range dst {
		dst[i] = 0
	}
	if cap > 0 {
		old := t.getRoot(rootSlotsOff)
		copy(dst, t.ar.Slice(old, cap*8))
		t.ar.Free(old)
	}
	t.putRoot(rootSlotsOff, newOff)
	t.putRoot(rootSlotsCap, newCap)
	return nil
}

func (t *Table) readCell(off uint64) []byte {
	n := binary.LittleEndian.Uint32(t.ar.Slice(off, cellLenSize))
	return t.ar.Slice(off+cellLenSize, uint64(n))
}

// writeCell stores data in id's cell, reallocating when the current
// cell is too small.
func (t *Table) writeCell(id uint64, data []byte) error {
	need := uint64(len(data)) + cellLenSize
	off := t.slot(id)
	if off != 0 && t.ar.Cap(off) >= need {
		binary.LittleEndian.PutUint32(t.ar.Slice(off, cellLenSize), uint32(len(data)))
		copy(t.ar.Slice(off+cellLenSize, uint64(len(data))), data)
		return nil
	}
	newOff, err := t.ar.Alloc(need)
	if err != nil {
		return err
	}
	binary.LittleEndian.PutUint32(t.ar.Slice(newOff, cellLenSize), uint32(len(data)))
	copy(t.ar.Slice(newOff+cellLenSize, uint64(len(data))), data)
	if err := t.ensureSlots(id); err != nil {
		t.ar.Free(newOff)
		return err
	}
	if off != 0 {
		t.ar.Free(off)
	}
	t.setSlot(id, newOff)
	return nil
}

// rebuild decodes every stored record and reconstructs the in-memory
// orderings.
func (t *Table) rebuild() error {
	cap := t.getRoot(rootSlotsCap)
	for id := uint64(0); id < cap; id++ {
		off := t.slot(id)
		if off == 0 {
			continue
		}
		rec := t.schema.New()
		if err := record.Unmarshal(t.readCell(off), rec); err != nil {
			return fmt.Errorf("table %s id %d: %w", t.schema.Name, id, err)
		}
		t.insertMem(rec)
	}
	return nil
}

func (t *Table) insertMem(rec record.Record) {
	if !t.rows.Insert(rec.GetID(), rec) {
		t.rows.Replace(rec.GetID(), rec)
	}
	for _, ki := range t.indexes.Values() {
		ki.insert(rec)
	}
}

func (t *Table) replaceMem(rec record.Record) {
	t.rows.Replace(rec.GetID(), rec)
	for _, ki := range t.indexes.Values() {
		ki.replace(rec)
	}
}

func (t *Table) deleteMem(id uint64) {
	t.rows.Delete(id)
	for _, ki := range t.indexes.Values() {
		ki.delete(id)
	}
}

// Get returns the record with the given id. A read-only table decodes
// straight from the mapped region so it observes the writer's state.
func (t *Table) Get(id uint64) (record.Record, error) {
	if t.ar.IsReadOnly() {
		off := t.slot(id)
		if off == 0 {
			return nil, fmt.Errorf("%s id %d: %w", t.schema.Name, id, ERR_NOT_FOUND)
		}
		rec := t.schema.New()
		if err := record.Unmarshal(t.readCell(off), rec); err != nil {
			return nil, err
		}
		return rec, nil
	}
	rec, ok := t.rows.Get(id)
	if !ok {
		return nil, fmt.Errorf("%s id %d: %w", t.schema.Name, id, ERR_NOT_FOUND)
	}
	return rec, nil
}

// Emplace allocates the next id, constructs a record with ctor and
// inserts it under every key. The id is not consumed on failure.
func (t *Table) Emplace(ctor func(record.Record)) (record.Record, error) {
	id := t.getRoot(rootNextID)
	rec := t.schema.New()
	rec.SetID(id)
	ctor(rec)
	if rec.GetID() != id {
		return nil, fmt.Errorf("%w: constructor may not change the id", ERR_INVALID_STATE)
	}

	if err := t.checkUnique(rec, id); err != nil {
		return nil, err
	}

	data, err := record.Marshal(rec)
	if err != nil {
		return nil, err
	}
	if err := t.writeCell(id, data); err != nil {
		return nil, err
	}

	t.putRoot(rootNextID, id+1)
	t.putRoot(rootCount, t.Count()+1)
	t.insertMem(rec)
	t.jl.OnCreate(id)
	return rec, nil
}

// Modify captures the record's prior value in the top revision frame,
// applies mutator, and re-sorts it under every key. A unique-key
// collision restores the prior value and fails.
func (t *Table) Modify(rec record.Record, mutator func(record.Record)) error {
	id := rec.GetID()
	stored, ok := t.rows.Get(id)
	if !ok {
		return fmt.Errorf("%s id %d: %w", t.schema.Name, id, ERR_NOT_FOUND)
	}

	before, err := record.Marshal(stored)
	if err != nil {
		return err
	}
	t.jl.OnModify(id, before)

	mutator(stored)
	if stored.GetID() != id {
		record.Unmarshal(before, stored)
		return fmt.Errorf("%w: mutator may not change the id", ERR_INVALID_STATE)
	}

	if err := t.checkUnique(stored, id); err != nil {
		record.Unmarshal(before, stored)
		return err
	}

	data, err := record.Marshal(stored)
	if err != nil {
		record.Unmarshal(before, stored)
		return err
	}
	if err := t.writeCell(id, data); err != nil {
		record.Unmarshal(before, stored)
		return err
	}
	t.replaceMem(stored)
	return nil
}

// Erase removes the record from every key and frees its storage.
func (t *Table) Erase(rec record.Record) error {
	id := rec.GetID()
	stored, ok := t.rows.Get(id)
	if !ok {
		return fmt.Errorf("%s id %d: %w", t.schema.Name, id, ERR_NOT_FOUND)
	}
	current, err := record.Marshal(stored)
	if err != nil {
		return err
	}
	t.jl.OnRemove(id, current)
	t.deleteMem(id)
	t.eraseStorage(id)
	return nil
}

func (t *Table) eraseStorage(id uint64) {
	off := t.slot(id)
	if off == 0 {
		return
	}
	t.ar.Free(off)
	t.setSlot(id, 0)
	t.putRoot(rootCount, t.Count()-1)
}

// Undo target implementation. Reversal restores state known to have
// been valid; a failure here is a fatal invariant violation.

func (t *Table) UndoCreate(id uint64) {
	t.deleteMem(id)
	t.eraseStorage(id)
}

// UndoModify restores into the live record instance so references held
// by callers stay current across the reversal.
func (t *Table) UndoModify(id uint64, old []byte) {
	rec, ok := t.rows.Get(id)
	if !ok {
		pkg.FatalLog("undo modify", t.schema.Name, id, "record missing")
	}
	if err := record.Unmarshal(old, rec); err != nil {
		pkg.FatalLog("undo modify", t.schema.Name, id, err)
	}
	if err := t.writeCell(id, old); err != nil {
		pkg.FatalLog("undo modify", t.schema.Name, id, err)
	}
	t.replaceMem(rec)
}

func (t *Table) UndoRemove(id uint64, old []byte) {
	rec := t.schema.New()
	if err := record.Unmarshal(old, rec); err != nil {
		pkg.FatalLog("undo remove", t.schema.Name, id, err)
	}
	if err := t.writeCell(id, old); err != nil {
		pkg.FatalLog("undo remove", t.schema.Name, id, err)
	}
	t.putRoot(rootCount, t.Count()+1)
	t.insertMem(rec)
}

func (t *Table) RestoreNextID(next uint64) {
	t.putRoot(rootNextID, next)
}
