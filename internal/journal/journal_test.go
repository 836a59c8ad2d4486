package journal_test

import (
	"testing"

	. "github.com/arhag/chainbase/internal/journal"
	"gotest.tools/assert"
)

type op struct {
	kind string
	id   uint64
	old  string
}

// fakeTarget records the reversal calls the journal makes.
type fakeTarget struct {
	ops    []op
	nextID uint64
}

func (f *fakeTarget) UndoCreate(id uint64) { f.ops = append(f.ops, op{"create", id, ""}) }
func (f *fakeTarget) UndoModify(id uint64, old []byte) {
	f.ops = append(f.ops, op{"modify", id, string(old)})
}
func (f *fakeTarget) UndoRemove(id uint64, old []byte) {
	f.ops = append(f.ops, op{"remove", id, string(old)})
}
func (f *fakeTarget) RestoreNextID(next uint64) { f.nextID = next }

func TestFrameTagging(t *testing.T) {
	t.Run("modify captures only the first value", func(t *testing.T) {
		j := New()
		j.PushFrame(1, 0)
		j.OnModify(3, []byte("v1"))
		j.OnModify(3, []byte("v2"))

		target := &fakeTarget{}
		j.UndoTop(target)

		assert.Equal(t, len(target.ops), 1)
		assert.Equal(t, target.ops[0], op{"modify", 3, "v1"})
		assert.Equal(t, j.Depth(), 0)
	})

	t.Run("modifying a created id records nothing", func(t *testing.T) {
		j := New()
		j.PushFrame(1, 5)
		j.OnCreate(5)
		j.OnModify(5, []byte("v1"))

		target := &fakeTarget{}
		j.UndoTop(target)

		assert.Equal(t, len(target.ops), 1)
		assert.Equal(t, target.ops[0], op{"create", 5, ""})
		assert.Equal(t, target.nextID, uint64(5))
	})

	t.Run("erasing a created id cancels out", func(t *testing.T) {
		j := New()
		j.PushFrame(1, 5)
		j.OnCreate(5)
		j.OnRemove(5, []byte("gone"))

		target := &fakeTarget{}
		j.UndoTop(target)

		assert.Equal(t, len(target.ops), 0)
	})

	t.Run("erasing a modified id keeps the older snapshot", func(t *testing.T) {
		j := New()
		j.PushFrame(1, 0)
		j.OnModify(2, []byte("old"))
		j.OnRemove(2, []byte("new"))

		target := &fakeTarget{}
		j.UndoTop(target)

		assert.Equal(t, len(target.ops), 1)
		assert.Equal(t, target.ops[0], op{"remove", 2, "old"})
	})
}

func TestUndoOrder(t *testing.T) {
	j := New()
	j.PushFrame(1, 10)
	j.OnCreate(10)
	j.OnModify(2, []byte("m"))
	j.OnRemove(3, []byte("r"))

	target := &fakeTarget{}
	j.UndoTop(target)

	assert.Equal(t, len(target.ops), 3)
	assert.Equal(t, target.ops[0].kind, "remove")
	assert.Equal(t, target.ops[1].kind, "modify")
	assert.Equal(t, target.ops[2].kind, "create")
	assert.Equal(t, target.nextID, uint64(10))
}

func TestCommit(t *testing.T) {
	j := New()
	j.PushFrame(1, 0)
	j.PushFrame(2, 0)
	j.PushFrame(3, 0)

	assert.Equal(t, j.Commit(2), 2)
	assert.Equal(t, j.Depth(), 1)

	// committing again below the remaining revision discards nothing
	assert.Equal(t, j.Commit(2), 0)
	assert.Equal(t, j.Depth(), 1)
}

func TestSquash(t *testing.T) {
	t.Run("single frame is a no-op", func(t *testing.T) {
		j := New()
		j.PushFrame(1, 0)
		j.OnModify(1, []byte("v"))
		j.Squash()
		assert.Equal(t, j.Depth(), 1)
	})

	t.Run("created in top joins lower", func(t *testing.T) {
		j := New()
		j.PushFrame(1, 5)
		j.PushFrame(2, 5)
		j.OnCreate(5)
		j.Squash()

		target := &fakeTarget{}
		j.UndoTop(target)
		assert.Equal(t, len(target.ops), 1)
		assert.Equal(t, target.ops[0], op{"create", 5, ""})
	})

	t.Run("modified in top of lower-created id is discarded", func(t *testing.T) {
		j := New()
		j.PushFrame(1, 5)
		j.OnCreate(5)
		j.PushFrame(2, 6)
		j.OnModify(5, []byte("mid"))
		j.Squash()

		target := &fakeTarget{}
		j.UndoTop(target)
		assert.Equal(t, len(target.ops), 1)
		assert.Equal(t, target.ops[0], op{"create", 5, ""})
	})

	t.Run("lower snapshot wins over top snapshot", func(t *testing.T) {
		j := New()
		j.PushFrame(1, 0)
		j.OnModify(2, []byte("oldest"))
		j.PushFrame(2, 0)
		j.OnModify(2, []byte("newer"))
		j.Squash()

		target := &fakeTarget{}
		j.UndoTop(target)
		assert.Equal(t, len(target.ops), 1)
		assert.Equal(t, target.ops[0], op{"modify", 2, "oldest"})
	})

	t.Run("removed in top of lower-created id cancels", func(t *testing.T) {
		j := New()
		j.PushFrame(1, 5)
		j.OnCreate(5)
		j.PushFrame(2, 6)
		j.OnRemove(5, []byte("v"))
		j.Squash()

		target := &fakeTarget{}
		j.UndoTop(target)
		assert.Equal(t, len(target.ops), 0)
		assert.Equal(t, target.nextID, uint64(5))
	})

	t.Run("removed in top of lower-modified id keeps lower value", func(t *testing.T) {
		j := New()
		j.PushFrame(1, 0)
		j.OnModify(2, []byte("oldest"))
		j.PushFrame(2, 0)
		j.OnRemove(2, []byte("newer"))
		j.Squash()

		target := &fakeTarget{}
		j.UndoTop(target)
		assert.Equal(t, len(target.ops), 1)
		assert.Equal(t, target.ops[0], op{"remove", 2, "oldest"})
	})
}
