package maildrop

import "github.com/dunlinmail/dunlin/consts"

// Entry is one message as seen by the client: its session-scoped sequence
// number plus the listing data behind it.
type Entry struct {
	Seq       int    // 1-based, assigned in backend listing order
	MessageID int64  // Stable backend key
	Checksum  string // Content hash, used as the UIDL unique-id
	Size      int64  // Size in bytes
}

// Snapshot is the per-session ordered view of an inbox. It is built exactly
// once, from a single backend listing, and stays immutable for the rest of
// the session: sequence numbers are never renumbered, even after messages
// are marked for deletion or removed behind our back.
//
// The snapshot maps sequence numbers to message ids but owns nothing in the
// backend; deletion authority stays with the session commit.
type Snapshot struct {
	entries   []Entry
	totalSize int64
	built     bool
}

// build populates the snapshot from a backend listing, assigning sequence
// numbers 1..N in listing order.
func (s *Snapshot) build(listing []ListEntry) {
	s.entries = make([]Entry, len(listing))
	s.totalSize = 0
	for i, row := range listing {
		s.entries[i] = Entry{
			Seq:       i + 1,
			MessageID: row.MessageID,
			Checksum:  row.Checksum,
			Size:      row.Size,
		}
		s.totalSize += row.Size
	}
	s.built = true
}

// Built reports whether the snapshot has been populated.
func (s *Snapshot) Built() bool {
	return s.built
}

// Resolve maps a sequence number to its stable message id. It fails with
// consts.ErrNotListed before the snapshot is built and with
// consts.ErrSequenceNotFound when seq is out of range. Calling it before the
// listing is a contract violation by the caller and never silently succeeds.
func (s *Snapshot) Resolve(seq int) (int64, error) {
	e, err := s.Entry(seq)
	if err != nil {
		return 0, err
	}
	return e.MessageID, nil
}

// Entry returns the snapshot entry for a sequence number.
func (s *Snapshot) Entry(seq int) (Entry, error) {
	if !s.built {
		return Entry{}, consts.ErrNotListed
	}
	if seq < 1 || seq > len(s.entries) {
		return Entry{}, consts.ErrSequenceNotFound
	}
	return s.entries[seq-1], nil
}

// Entries returns all snapshot entries in sequence order. The returned slice
// is shared; callers must not modify it.
func (s *Snapshot) Entries() []Entry {
	return s.entries
}

// Count returns the number of messages in the snapshot.
func (s *Snapshot) Count() int {
	return len(s.entries)
}

// TotalSize returns the aggregate octet size of all snapshot entries, as
// reported by STAT.
func (s *Snapshot) TotalSize() int64 {
	return s.totalSize
}
