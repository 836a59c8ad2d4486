package db

// Session is a scoped handle bracketing one revision across all
// indices. Dropping it via Close reverts everything it observed unless
// Push or Squash ran first. Sessions may be handed to another owner;
// the revert-on-close contract travels with the pointer.
type Session struct {
	db       *Database
	revision int64
	enabled  bool
	apply    bool
}

// Revision is the revision assigned at construction. It is an opaque
// tag: a later Squash decrements the database revision but not this
// value.
func (s *Session) Revision() int64 { return s.revision }

// Push makes the session's frame permanent: Close becomes a no-op. The
// frame stays on every journal, so Database.Undo can still revert it.
// Idempotent.
func (s *Session) Push() {
	s.apply = false
}

// Squash merges this session's frame into the frame below on every
// index and decrements the database revision. With no frame below it
// behaves like Push.
func (s *Session) Squash() {
	if !s.enabled || !s.apply {
		return
	}
	s.db.squash()
	s.apply = false
}

// Undo reverts the session immediately.
func (s *Session) Undo() {
	if !s.enabled || !s.apply {
		return
	}
	s.apply = false
	s.db.Undo()
}

// Close reverts the session unless it was pushed or squashed. Always
// call it, typically via defer, so reversal runs on every exit path.
func (s *Session) Close() error {
	if s.enabled && s.apply {
		s.apply = false
		s.db.Undo()
	}
	return nil
}
