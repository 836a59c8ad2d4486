// Package db composes the arena, the typed indices and the session
// stack into the database façade.
package db

import (
	"errors"
	"fmt"
	"sync"

	"github.com/arhag/chainbase/internal/arena"
	"github.com/arhag/chainbase/internal/record"
	"github.com/arhag/chainbase/internal/table"
	"github.com/arhag/chainbase/pkg"
)

var (
	ERR_READ_ONLY          = errors.New("database is read-only")
	ERR_ALREADY_REGISTERED = errors.New("index already registered")
	ERR_INDEX_MISSING      = errors.New("index not registered")
	ERR_INVALID_STATE      = errors.New("invalid state")
)

// Database owns the arena, the registry of typed indices and the global
// session stack. Methods are not safe for concurrent use; callers that
// share a Database take Locker.
type Database struct {
	Locker sync.RWMutex

	ar      *arena.Arena
	indices *pkg.InsertSortMap[record.Tag, *table.Table]

	revision      int64
	depth         int
	everSessioned bool
}

// Open maps the region under dir. ReadWrite creates the directory and
// file as needed; ReadOnly requires both to exist.
func Open(dir string, mode arena.Mode, size uint64) (*Database, error) {
	ar, err := arena.Open(dir, mode, size)
	if err != nil {
		return nil, err
	}
	return &Database{
		ar:       ar,
		indices:  pkg.NewInsertSortMap[record.Tag, *table.Table](),
		revision: -1,
	}, nil
}

func (d *Database) Close() error {
	d.undoAllOpen()
	return d.ar.Close()
}

func (d *Database) GetLocker() *sync.RWMutex { return &d.Locker }

func (d *Database) IsReadOnly() bool { return d.ar.IsReadOnly() }

func (d *Database) Revision() int64 { return d.revision }

func (d *Database) Arena() *arena.Arena { return d.ar }

// undoAllOpen reverts any sessions still pending when the database shuts
// down; their frames would otherwise dangle over freed storage.
func (d *Database) undoAllOpen() {
	for d.depth > 0 {
		d.Undo()
	}
}

// AddIndex registers a record type's typed index. The first-ever
// registration raises the revision from -1. Registering mid-session
// back-fills empty frames so every journal has the same depth.
func (d *Database) AddIndex(s *record.Schema) (*table.Table, error) {
	if d.indices.Has(s.Tag) {
		return nil, fmt.Errorf("%s (tag %d): %w", s.Name, s.Tag, ERR_ALREADY_REGISTERED)
	}
	if d.IsReadOnly() {
		if _, ok := d.ar.IndexRoot(uint32(s.Tag)); !ok {
			return nil, fmt.Errorf("%s (tag %d): %w", s.Name, s.Tag, ERR_INDEX_MISSING)
		}
	}

	t, err := table.New(s, d.ar, &d.everSessioned)
	if err != nil {
		return nil, err
	}

	first := d.indices.Len() == 0
	d.indices.Push(s.Tag, t)

	if first {
		d.revision = d.ar.Revision()
	}
	for i := 0; i < d.depth; i++ {
		t.Journal().PushFrame(d.revision-int64(d.depth)+1+int64(i), t.NextID())
	}
	t.SyncRevision(d.revision)
	pkg.DebugLog("registered index", s.Name, "tag", s.Tag, "revision", d.revision)
	return t, nil
}

// GetIndex returns the typed index registered for tag.
func (d *Database) GetIndex(tag record.Tag) (*table.Table, error) {
	t := d.indices.Get(tag)
	if t == nil {
		return nil, fmt.Errorf("tag %d: %w", tag, ERR_INDEX_MISSING)
	}
	return t, nil
}

// Tables returns the registered indices in registration order.
func (d *Database) Tables() []*table.Table {
	return d.indices.Values()
}

func (d *Database) Get(tag record.Tag, id uint64) (record.Record, error) {
	t, err := d.GetIndex(tag)
	if err != nil {
		return nil, err
	}
	return t.Get(id)
}

func (d *Database) Create(tag record.Tag, ctor func(record.Record)) (record.Record, error) {
	t, err := d.mutableIndex(tag)
	if err != nil {
		return nil, err
	}
	return t.Emplace(ctor)
}

func (d *Database) Modify(tag record.Tag, rec record.Record, mutator func(record.Record)) error {
	t, err := d.mutableIndex(tag)
	if err != nil {
		return err
	}
	return t.Modify(rec, mutator)
}

func (d *Database) Remove(tag record.Tag, rec record.Record) error {
	t, err := d.mutableIndex(tag)
	if err != nil {
		return err
	}
	return t.Erase(rec)
}

func (d *Database) mutableIndex(tag record.Tag) (*table.Table, error) {
	if d.IsReadOnly() {
		return nil, ERR_READ_ONLY
	}
	return d.GetIndex(tag)
}

// SetRevision sets the revision counter. Allowed only while the session
// stack is empty.
func (d *Database) SetRevision(r int64) error {
	if d.depth > 0 {
		return fmt.Errorf("%w: cannot set revision with open sessions", ERR_INVALID_STATE)
	}
	d.revision = r
	d.syncRevision()
	return nil
}

// StartUndoSession opens a new revision across every registered index.
// A disabled session is an inert sentinel.
func (d *Database) StartUndoSession(enabled bool) *Session {
	if !enabled || d.IsReadOnly() {
		return &Session{db: d, revision: d.revision}
	}
	d.revision++
	d.depth++
	d.everSessioned = true
	for _, t := range d.indices.Values() {
		t.Journal().PushFrame(d.revision, t.NextID())
	}
	d.syncRevision()
	return &Session{db: d, revision: d.revision, enabled: true, apply: true}
}

// Undo reverts the top revision frame on every registered index.
func (d *Database) Undo() {
	if d.depth == 0 {
		return
	}
	for _, t := range d.indices.Values() {
		t.Journal().UndoTop(t)
	}
	d.revision--
	d.depth--
	d.syncRevision()
}

// UndoAll reverts every open session.
func (d *Database) UndoAll() {
	d.undoAllOpen()
}

// Commit finalizes all frames with revision <= through. Live records
// are untouched; the reverse information is discarded.
func (d *Database) Commit(through int64) {
	popped := 0
	for _, t := range d.indices.Values() {
		popped = t.Journal().Commit(through)
	}
	d.depth -= popped
}

// squash merges the top session's frame into the one below on every
// index. With a single open frame it degrades to push semantics.
func (d *Database) squash() {
	if d.depth <= 1 {
		return
	}
	for _, t := range d.indices.Values() {
		t.Journal().Squash()
	}
	d.revision--
	d.depth--
	d.syncRevision()
}

func (d *Database) syncRevision() {
	for _, t := range d.indices.Values() {
		t.SyncRevision(d.revision)
	}
	if !d.IsReadOnly() {
		d.ar.SetRevision(d.revision)
	}
}

// SessionDepth reports the number of open revision frames.
func (d *Database) SessionDepth() int { return d.depth }
