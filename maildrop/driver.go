// Package maildrop implements the server side of a POP3 maildrop session:
// the transient, sequence-numbered view of a persistent inbox that one
// authenticated client sees between login and commit.
//
// All persistent reads and writes go through the Driver contract. The package
// itself holds no wire-level or storage-level knowledge; the POP3 listener
// translates commands into Session calls and maps the returned errors onto
// protocol responses.
package maildrop

import "context"

// Inbox is the backend's record for one mailbox identity. It is read-only
// for this package.
type Inbox struct {
	AddressID int64  // Opaque key used for all subsequent backend calls
	Password  string // Stored credential, plaintext or bcrypt hash
	ItemCount int    // Number of messages
	Size      int64  // Aggregate size in bytes
}

// ListEntry is one row of an inbox listing.
type ListEntry struct {
	MessageID int64  // Stable backend key, never shown to clients
	Checksum  string // Content hash, doubles as the UIDL unique-id
	Size      int64  // Message size in bytes
}

// Driver is the storage contract consumed by maildrop sessions. Calls are
// synchronous; the caller owns timeout policy through ctx. Implementations
// report a missing inbox with consts.ErrNoSuchInbox and a missing message
// body with consts.ErrMessageGone.
type Driver interface {
	// GetInbox looks up the inbox record for an identity. remoteIP is
	// advisory (access logging, per-IP policy) and may be empty.
	GetInbox(ctx context.Context, identity, remoteIP string) (*Inbox, error)

	// GetInboxList returns the full listing for an address in backend
	// order. The order is authoritative: sequence numbers are assigned
	// from it without re-sorting.
	GetInboxList(ctx context.Context, addressID int64) ([]ListEntry, error)

	// GetListEntry returns the listing row for a single message, or
	// consts.ErrDBNotFound if the message is no longer in the inbox.
	GetListEntry(ctx context.Context, addressID, messageID int64) (*ListEntry, error)

	// MessageExists reports how many inbox rows currently reference the
	// message (0 or 1 in practice).
	MessageExists(ctx context.Context, addressID, messageID int64) (int, error)

	// FetchRawMessage returns the raw RFC 822 bytes of a message.
	FetchRawMessage(ctx context.Context, addressID, messageID int64) ([]byte, error)

	// DeleteMarked removes the given messages from the inbox and returns
	// the number of affected rows.
	DeleteMarked(ctx context.Context, addressID int64, messageIDs []int64) (int64, error)

	// TestSettings probes backend connectivity.
	TestSettings(ctx context.Context) error
}
