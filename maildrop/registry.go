package maildrop

import (
	"sync"

	"github.com/dunlinmail/dunlin/consts"
	"github.com/dunlinmail/dunlin/pkg/metrics"
)

// Registry tracks which mailbox identities currently hold an active session
// and enforces the protocol's single-session-per-mailbox rule. One Registry
// is shared by all sessions in the process.
//
// Entries never expire: a session that is abandoned without Logout keeps its
// mailbox locked until the process restarts. There is deliberately no lease
// timeout here; a multi-process deployment would swap this for a distributed
// lock with its own expiry policy.
type Registry struct {
	mu     sync.Mutex
	active map[string]struct{}
}

// NewRegistry returns an empty session registry.
func NewRegistry() *Registry {
	return &Registry{active: make(map[string]struct{})}
}

// Acquire claims the identity for a new session. It returns
// consts.ErrMailboxInUse when another session already holds it. The
// check-then-insert is atomic: of any number of concurrent callers for the
// same identity, exactly one succeeds.
func (r *Registry) Acquire(identity string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.active[identity]; ok {
		return consts.ErrMailboxInUse
	}
	r.active[identity] = struct{}{}
	metrics.SessionsCurrent.Set(float64(len(r.active)))
	return nil
}

// Release removes the identity's entry. Releasing an identity that is not
// held is a no-op.
func (r *Registry) Release(identity string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.active, identity)
	metrics.SessionsCurrent.Set(float64(len(r.active)))
}

// Len reports how many identities currently hold a session.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.active)
}
