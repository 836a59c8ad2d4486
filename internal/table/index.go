package table

import (
	"fmt"

	sorted "github.com/tobshub/go-sortedmap"

	"github.com/arhag/chainbase/internal/record"
)

// keyIndex orders the table's records under one declared secondary key.
// Ties on the key fields are broken by id so the ordering is total.
type keyIndex struct {
	def *record.KeyDef
	m   *sorted.SortedMap[uint64, record.Record]
}

func newKeyIndex(def *record.KeyDef) *keyIndex {
	cmp := func(a, b record.Record) bool {
		if def.Less(a, b) {
			return true
		}
		if def.Less(b, a) {
			return false
		}
		return a.GetID() < b.GetID()
	}
	return &keyIndex{def: def, m: sorted.New[uint64, record.Record](0, cmp)}
}

func (k *keyIndex) insert(rec record.Record) {
	if !k.m.Insert(rec.GetID(), rec) {
		k.m.Replace(rec.GetID(), rec)
	}
}

func (k *keyIndex) replace(rec record.Record) { k.m.Replace(rec.GetID(), rec) }

func (k *keyIndex) delete(id uint64) { k.m.Delete(id) }

// findColliding returns a record other than excludeID whose key fields
// compare equal to rec's, or nil.
func (k *keyIndex) findColliding(rec record.Record, excludeID uint64) record.Record {
	iterCh, err := k.m.IterCh()
	if err != nil {
		return nil
	}
	defer iterCh.Close()
	for r := range iterCh.Records() {
		if r.Key == excludeID {
			continue
		}
		if record.SameKey(k.def, rec, r.Val) {
			return r.Val
		}
	}
	return nil
}

func (t *Table) checkUnique(rec record.Record, selfID uint64) error {
	for _, ki := range t.indexes.Values() {
		if !ki.def.Unique {
			continue
		}
		if hit := ki.findColliding(rec, selfID); hit != nil {
			return fmt.Errorf("%s key %s collides with id %d: %w",
				t.schema.Name, ki.def.Name, hit.GetID(), ERR_UNIQUE_KEY_VIOLATION)
		}
	}
	return nil
}

// ScanBy returns every record in key order for the named secondary key.
// The snapshot is stable under concurrent non-mutating calls.
func (t *Table) ScanBy(key string) ([]record.Record, error) {
	ki := t.indexes.Get(key)
	if ki == nil {
		return nil, fmt.Errorf("%s: %s: %w", t.schema.Name, key, ERR_UNKNOWN_KEY)
	}
	out := make([]record.Record, 0, ki.m.Len())
	iterCh, err := ki.m.IterCh()
	if err != nil {
		return out, nil
	}
	defer iterCh.Close()
	for r := range iterCh.Records() {
		out = append(out, r.Val)
	}
	return out, nil
}

// FindBy returns the first record in key order matching pred.
func (t *Table) FindBy(key string, pred func(record.Record) bool) (record.Record, error) {
	recs, err := t.ScanBy(key)
	if err != nil {
		return nil, err
	}
	for _, rec := range recs {
		if pred(rec) {
			return rec, nil
		}
	}
	return nil, fmt.Errorf("%s by %s: %w", t.schema.Name, key, ERR_NOT_FOUND)
}
