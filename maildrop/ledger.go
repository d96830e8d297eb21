package maildrop

// Ledger accumulates the stable message ids marked for deletion during one
// session. Marks have no effect on the backend until the session commit
// drains them; RSET throws them away.
type Ledger struct {
	marked map[int64]struct{}
}

// Mark records a message id for deletion at commit. Marking the same id
// twice has the same effect as marking it once.
func (l *Ledger) Mark(messageID int64) {
	if l.marked == nil {
		l.marked = make(map[int64]struct{})
	}
	l.marked[messageID] = struct{}{}
}

// Reset abandons all pending marks. A reset of an empty ledger is a no-op.
func (l *Ledger) Reset() {
	l.marked = nil
}

// Drain returns the pending marks and clears the ledger. Only the session
// commit calls this.
func (l *Ledger) Drain() []int64 {
	ids := make([]int64, 0, len(l.marked))
	for id := range l.marked {
		ids = append(ids, id)
	}
	l.marked = nil
	return ids
}

// Len reports how many distinct messages are currently marked.
func (l *Ledger) Len() int {
	return len(l.marked)
}
