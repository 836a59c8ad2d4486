package table_test

import (
	"errors"
	"path"
	"testing"

	"gotest.tools/assert"

	"github.com/arhag/chainbase/internal/arena"
	"github.com/arhag/chainbase/internal/record"
	"github.com/arhag/chainbase/internal/table"
)

type Author struct {
	Id       uint64 `cbor:"1,keyasint"`
	Name     string `cbor:"2,keyasint"`
	NumBooks int    `cbor:"3,keyasint"`
}

func (a *Author) GetID() uint64   { return a.Id }
func (a *Author) SetID(id uint64) { a.Id = id }

func authorSchema() *record.Schema {
	return &record.Schema{
		Tag:  1,
		Name: "authors",
		New:  func() record.Record { return &Author{} },
		Keys: []record.KeyDef{
			{
				Name:   "by_name",
				Unique: true,
				Less: func(a, b record.Record) bool {
					return a.(*Author).Name < b.(*Author).Name
				},
			},
			{
				// most books first; name breaks ties
				Name: "by_num_books",
				Less: func(a, b record.Record) bool {
					x, y := a.(*Author), b.(*Author)
					if x.NumBooks != y.NumBooks {
						return x.NumBooks > y.NumBooks
					}
					return x.Name < y.Name
				},
			},
		},
	}
}

func newAuthorTable(t *testing.T) *table.Table {
	t.Helper()
	ar, err := arena.Open(path.Join(t.TempDir(), "db"), arena.ReadWrite, 1024*1024*8)
	assert.NilError(t, err)
	t.Cleanup(func() { ar.Close() })

	var everSessioned bool
	tbl, err := table.New(authorSchema(), ar, &everSessioned)
	assert.NilError(t, err)
	return tbl
}

func emplaceAuthor(t *testing.T, tbl *table.Table, name string, books int) *Author {
	t.Helper()
	rec, err := tbl.Emplace(func(r record.Record) {
		a := r.(*Author)
		a.Name = name
		a.NumBooks = books
	})
	assert.NilError(t, err)
	return rec.(*Author)
}

func TestEmplace(t *testing.T) {
	t.Run("ids are contiguous from zero", func(t *testing.T) {
		tbl := newAuthorTable(t)

		a := emplaceAuthor(t, tbl, "Mark Twain", 13)
		b := emplaceAuthor(t, tbl, "F. Scott Fitzgerald", 13)

		assert.Equal(t, a.Id, uint64(0))
		assert.Equal(t, b.Id, uint64(1))
		assert.Equal(t, tbl.Count(), uint64(2))
	})

	t.Run("unique violation does not consume the id", func(t *testing.T) {
		tbl := newAuthorTable(t)
		emplaceAuthor(t, tbl, "Mark Twain", 13)

		_, err := tbl.Emplace(func(r record.Record) {
			r.(*Author).Name = "Mark Twain"
		})
		assert.Assert(t, errors.Is(err, table.ERR_UNIQUE_KEY_VIOLATION))
		assert.Equal(t, tbl.NextID(), uint64(1))

		b := emplaceAuthor(t, tbl, "F. Scott Fitzgerald", 13)
		assert.Equal(t, b.Id, uint64(1))
	})
}

func TestGet(t *testing.T) {
	tbl := newAuthorTable(t)
	emplaceAuthor(t, tbl, "Mark Twain", 13)

	rec, err := tbl.Get(0)
	assert.NilError(t, err)
	assert.Equal(t, rec.(*Author).Name, "Mark Twain")

	_, err = tbl.Get(1)
	assert.Assert(t, errors.Is(err, table.ERR_NOT_FOUND))
}

func TestOrderedScan(t *testing.T) {
	tbl := newAuthorTable(t)
	emplaceAuthor(t, tbl, "Mark Twain", 13)
	emplaceAuthor(t, tbl, "F. Scott Fitzgerald", 13)

	recs, err := tbl.ScanBy("by_num_books")
	assert.NilError(t, err)
	assert.Equal(t, len(recs), 2)
	// equal book counts fall back to name order
	assert.Equal(t, recs[0].(*Author).Name, "F. Scott Fitzgerald")
	assert.Equal(t, recs[1].(*Author).Name, "Mark Twain")

	_, err = tbl.ScanBy("by_publisher")
	assert.Assert(t, errors.Is(err, table.ERR_UNKNOWN_KEY))
}

func TestModify(t *testing.T) {
	t.Run("reorders secondary indices", func(t *testing.T) {
		tbl := newAuthorTable(t)
		twain := emplaceAuthor(t, tbl, "Mark Twain", 13)
		emplaceAuthor(t, tbl, "F. Scott Fitzgerald", 13)

		err := tbl.Modify(twain, func(r record.Record) {
			r.(*Author).NumBooks += 11
		})
		assert.NilError(t, err)

		recs, err := tbl.ScanBy("by_num_books")
		assert.NilError(t, err)
		assert.Equal(t, recs[0].(*Author).Name, "Mark Twain")
	})

	t.Run("unique violation restores the record", func(t *testing.T) {
		tbl := newAuthorTable(t)
		twain := emplaceAuthor(t, tbl, "Mark Twain", 13)
		emplaceAuthor(t, tbl, "F. Scott Fitzgerald", 13)

		err := tbl.Modify(twain, func(r record.Record) {
			r.(*Author).Name = "F. Scott Fitzgerald"
		})
		assert.Assert(t, errors.Is(err, table.ERR_UNIQUE_KEY_VIOLATION))
		assert.Equal(t, twain.Name, "Mark Twain")

		rec, err := tbl.Get(0)
		assert.NilError(t, err)
		assert.Equal(t, rec.(*Author).Name, "Mark Twain")
	})
}

func TestErase(t *testing.T) {
	tbl := newAuthorTable(t)
	twain := emplaceAuthor(t, tbl, "Mark Twain", 13)
	emplaceAuthor(t, tbl, "F. Scott Fitzgerald", 13)

	assert.NilError(t, tbl.Erase(twain))
	assert.Equal(t, tbl.Count(), uint64(1))

	_, err := tbl.Get(0)
	assert.Assert(t, errors.Is(err, table.ERR_NOT_FOUND))

	recs, err := tbl.ScanBy("by_name")
	assert.NilError(t, err)
	assert.Equal(t, len(recs), 1)
}

func TestFindBy(t *testing.T) {
	tbl := newAuthorTable(t)
	emplaceAuthor(t, tbl, "Mark Twain", 13)
	emplaceAuthor(t, tbl, "F. Scott Fitzgerald", 24)

	rec, err := tbl.FindBy("by_num_books", func(r record.Record) bool {
		return r.(*Author).NumBooks == 13
	})
	assert.NilError(t, err)
	assert.Equal(t, rec.(*Author).Name, "Mark Twain")

	_, err = tbl.FindBy("by_num_books", func(r record.Record) bool {
		return r.(*Author).NumBooks == 99
	})
	assert.Assert(t, errors.Is(err, table.ERR_NOT_FOUND))
}

func TestRebuildFromRegion(t *testing.T) {
	dir := path.Join(t.TempDir(), "db")

	ar, err := arena.Open(dir, arena.ReadWrite, 1024*1024*8)
	assert.NilError(t, err)
	var everSessioned bool
	tbl, err := table.New(authorSchema(), ar, &everSessioned)
	assert.NilError(t, err)
	emplaceAuthor(t, tbl, "Mark Twain", 13)
	emplaceAuthor(t, tbl, "F. Scott Fitzgerald", 13)
	assert.NilError(t, ar.Close())

	ar, err = arena.Open(dir, arena.ReadWrite, 1024*1024*8)
	assert.NilError(t, err)
	defer ar.Close()
	tbl, err = table.New(authorSchema(), ar, &everSessioned)
	assert.NilError(t, err)

	assert.Equal(t, tbl.Count(), uint64(2))
	assert.Equal(t, tbl.NextID(), uint64(2))

	recs, err := tbl.ScanBy("by_num_books")
	assert.NilError(t, err)
	assert.Equal(t, recs[0].(*Author).Name, "F. Scott Fitzgerald")
	assert.Equal(t, recs[1].(*Author).Name, "Mark Twain")
}
