package maildrop

import (
	"context"
	"errors"
	"fmt"

	"github.com/dunlinmail/dunlin/consts"
	"github.com/dunlinmail/dunlin/logger"
	"github.com/dunlinmail/dunlin/pkg/metrics"
)

// Config holds the deployment-wide switches injected into every session at
// construction. They are explicit values, not ambient globals, so both
// settings are testable in isolation.
type Config struct {
	// AllowDelete gates the commit: when false, CommitDelete reports
	// success but never touches the backend.
	AllowDelete bool

	// RequirePassword, when false, accepts any credential for an existing
	// inbox. Trusted test environments only.
	RequirePassword bool
}

// Session is one maildrop session: the per-connection orchestrator over the
// credential verifier, the shared registry, the snapshot and the deletion
// ledger. It moves through unauthenticated → authenticated → listed and is
// used by a single connection at a time, so it needs no internal locking;
// only the shared Registry is safe for concurrent use.
type Session struct {
	driver   Driver
	registry *Registry
	cfg      Config

	identity      string
	addressID     int64
	authenticated bool

	snapshot Snapshot
	ledger   Ledger
}

// NewSession returns an unauthenticated session bound to a storage driver
// and the process-wide registry.
func NewSession(driver Driver, registry *Registry, cfg Config) *Session {
	return &Session{driver: driver, registry: registry, cfg: cfg}
}

// Login authenticates the session for a mailbox identity. password is either
// the cleartext credential or, when timestamp is non-empty, an APOP digest
// computed over timestamp and the stored password.
//
// An unknown mailbox and a wrong password both fail with
// consts.ErrInvalidCredentials so that the response leaks nothing about
// which accounts exist. The one distinguishable failure is
// consts.ErrMailboxInUse, raised when another session holds the mailbox.
// The registry entry is claimed after the inbox lookup and handed back if
// verification then fails.
func (s *Session) Login(ctx context.Context, username, password, remoteIP, timestamp string) error {
	if s.authenticated {
		return fmt.Errorf("session already authenticated for %s", s.identity)
	}

	mechanism := "user-pass"
	if timestamp != "" {
		mechanism = "apop"
	}

	inbox, err := s.driver.GetInbox(ctx, username, remoteIP)
	if err != nil {
		if errors.Is(err, consts.ErrNoSuchInbox) {
			metrics.AuthenticationAttempts.WithLabelValues(mechanism, "failure").Inc()
			return consts.ErrInvalidCredentials
		}
		return fmt.Errorf("inbox lookup failed: %w", err)
	}

	if err := s.registry.Acquire(username); err != nil {
		metrics.AuthenticationAttempts.WithLabelValues(mechanism, "in_use").Inc()
		return err
	}

	valid := true
	if s.cfg.RequirePassword {
		valid = VerifyPassword(password, inbox.Password, timestamp)
	}
	if !valid {
		s.registry.Release(username)
		metrics.AuthenticationAttempts.WithLabelValues(mechanism, "failure").Inc()
		logger.Info("authentication failed", "user", username, "mechanism", mechanism, "remote_ip", remoteIP)
		return consts.ErrInvalidCredentials
	}

	s.identity = username
	s.addressID = inbox.AddressID
	s.authenticated = true
	metrics.AuthenticationAttempts.WithLabelValues(mechanism, "success").Inc()
	logger.Info("authenticated", "user", username, "mechanism", mechanism, "remote_ip", remoteIP)
	return nil
}

// Logout releases the registry entry and discards the snapshot and any
// pending deletion marks, so a reused Session starts from a clean slate. It
// always succeeds and may be called more than once.
func (s *Session) Logout(ctx context.Context) {
	if s.identity != "" {
		s.registry.Release(s.identity)
		logger.Debug("session closed", "user", s.identity)
	}
	s.identity = ""
	s.authenticated = false
	s.snapshot = Snapshot{}
	s.ledger.Reset()
}

// Authenticated reports whether Login has succeeded.
func (s *Session) Authenticated() bool {
	return s.authenticated
}

// Identity returns the mailbox identity of an authenticated session.
func (s *Session) Identity() string {
	return s.identity
}

func (s *Session) requireAuth() error {
	if !s.authenticated {
		return consts.ErrNotAuthenticated
	}
	return nil
}

// Stat returns the message count and aggregate octet size of the maildrop.
// The listing must have been built first; a STAT before any LIST fails with
// consts.ErrNotListed.
func (s *Session) Stat(ctx context.Context) (int, int64, error) {
	if err := s.requireAuth(); err != nil {
		return 0, 0, err
	}
	if !s.snapshot.Built() {
		return 0, 0, consts.ErrNotListed
	}
	return s.snapshot.Count(), s.snapshot.TotalSize(), nil
}

// ListAll returns the scan listing of the whole maildrop. The first call
// builds the snapshot from a single backend listing; later calls return the
// same entries with the same sequence numbers, whatever happened in between.
func (s *Session) ListAll(ctx context.Context) ([]Entry, error) {
	if err := s.requireAuth(); err != nil {
		return nil, err
	}
	if !s.snapshot.Built() {
		listing, err := s.driver.GetInboxList(ctx, s.addressID)
		if err != nil {
			return nil, fmt.Errorf("inbox listing failed: %w", err)
		}
		s.snapshot.build(listing)
		logger.Debug("maildrop listed", "user", s.identity, "messages", s.snapshot.Count(), "octets", s.snapshot.TotalSize())
	}
	return s.snapshot.Entries(), nil
}

// List returns the scan listing for a single sequence number, confirming
// against the backend that the message is still present. It fails with
// consts.ErrNotListed before the first ListAll, and with
// consts.ErrSequenceNotFound when the number is out of range or the message
// has disappeared from the inbox.
func (s *Session) List(ctx context.Context, seq int) (Entry, error) {
	if err := s.requireAuth(); err != nil {
		return Entry{}, err
	}
	entry, err := s.snapshot.Entry(seq)
	if err != nil {
		return Entry{}, err
	}
	row, err := s.driver.GetListEntry(ctx, s.addressID, entry.MessageID)
	if err != nil {
		if errors.Is(err, consts.ErrDBNotFound) {
			return Entry{}, consts.ErrSequenceNotFound
		}
		return Entry{}, fmt.Errorf("single-message listing failed: %w", err)
	}
	entry.Size = row.Size
	entry.Checksum = row.Checksum
	return entry, nil
}

// MarkDeleted marks the message at seq for deletion at commit. The message's
// existence is confirmed against the backend at mark time, so only ids known
// to be present enter the ledger; a concurrently removed message fails with
// consts.ErrMessageGone. The returned count is the backend's existence count
// (1 in practice). The message itself is untouched until CommitDelete.
func (s *Session) MarkDeleted(ctx context.Context, seq int) (int, error) {
	if err := s.requireAuth(); err != nil {
		return 0, err
	}
	messageID, err := s.snapshot.Resolve(seq)
	if err != nil {
		return 0, err
	}
	count, err := s.driver.MessageExists(ctx, s.addressID, messageID)
	if err != nil {
		return 0, fmt.Errorf("existence check failed: %w", err)
	}
	if count == 0 {
		return 0, consts.ErrMessageGone
	}
	s.ledger.Mark(messageID)
	logger.Debug("marked for deletion", "user", s.identity, "seq", seq, "message_id", messageID)
	return count, nil
}

// ResetDeleted abandons all pending deletion marks. It always succeeds.
func (s *Session) ResetDeleted(ctx context.Context) error {
	if err := s.requireAuth(); err != nil {
		return err
	}
	s.ledger.Reset()
	return nil
}

// Retrieve returns the raw bytes of the message at seq. Marked messages are
// still retrievable: marks only take effect at commit.
func (s *Session) Retrieve(ctx context.Context, seq int) ([]byte, error) {
	if err := s.requireAuth(); err != nil {
		return nil, err
	}
	messageID, err := s.snapshot.Resolve(seq)
	if err != nil {
		return nil, err
	}
	data, err := s.driver.FetchRawMessage(ctx, s.addressID, messageID)
	if err != nil {
		return nil, err
	}
	metrics.MessagesRetrievedTotal.Inc()
	return data, nil
}

// CommitDelete deletes every message in the ledger from the backend and
// returns the affected count. With the deployment-wide delete switch off it
// reports success without contacting the backend; with an empty ledger it
// succeeds trivially. The inbox is re-resolved first and
// consts.ErrNoSuchInbox propagates if it is gone. Backend delete failures
// propagate as-is; nothing is retried.
func (s *Session) CommitDelete(ctx context.Context) (int64, error) {
	if err := s.requireAuth(); err != nil {
		return 0, err
	}
	if !s.cfg.AllowDelete {
		logger.Debug("delete disabled, commit is a no-op", "user", s.identity, "marked", s.ledger.Len())
		return 0, nil
	}
	if s.ledger.Len() == 0 {
		return 0, nil
	}

	inbox, err := s.driver.GetInbox(ctx, s.identity, "")
	if err != nil {
		metrics.DeleteCommitsTotal.WithLabelValues("error").Inc()
		return 0, err
	}

	ids := s.ledger.Drain()
	affected, err := s.driver.DeleteMarked(ctx, inbox.AddressID, ids)
	if err != nil {
		metrics.DeleteCommitsTotal.WithLabelValues("error").Inc()
		return 0, fmt.Errorf("delete failed: %w", err)
	}
	metrics.DeleteCommitsTotal.WithLabelValues("success").Inc()
	metrics.MessagesDeletedTotal.Add(float64(affected))
	logger.Info("committed deletions", "user", s.identity, "marked", len(ids), "affected", affected)
	return affected, nil
}
