package db

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/dunlinmail/dunlin/consts"
	"github.com/dunlinmail/dunlin/maildrop"
)

// GetInbox returns the inbox record for a mailbox identity, including the
// stored credential and the current message count and aggregate size.
// remoteIP is accepted for parity with the driver contract; it is not used
// in any query.
func (d *Database) GetInbox(ctx context.Context, identity, remoteIP string) (inbox *maildrop.Inbox, err error) {
	defer trackQuery("GetInbox", time.Now(), &err)

	row := d.Pool.QueryRow(ctx, `
		SELECT a.id, a.password,
		       COUNT(m.id), COALESCE(SUM(m.size), 0)
		FROM addresses a
		LEFT JOIN messages m ON m.address_id = a.id
		WHERE a.username = $1
		GROUP BY a.id, a.password`, identity)

	inbox = &maildrop.Inbox{}
	if err = row.Scan(&inbox.AddressID, &inbox.Password, &inbox.ItemCount, &inbox.Size); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, consts.ErrNoSuchInbox
		}
		return nil, fmt.Errorf("inbox query failed: %w", err)
	}
	return inbox, nil
}

// GetInboxList returns the full listing for an address ordered by message
// id. That order is what sequence numbers are assigned from.
func (d *Database) GetInboxList(ctx context.Context, addressID int64) (entries []maildrop.ListEntry, err error) {
	defer trackQuery("GetInboxList", time.Now(), &err)

	rows, err := d.Pool.Query(ctx, `
		SELECT id, content_hash, size
		FROM messages
		WHERE address_id = $1
		ORDER BY id`, addressID)
	if err != nil {
		return nil, fmt.Errorf("listing query failed: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var e maildrop.ListEntry
		if err = rows.Scan(&e.MessageID, &e.Checksum, &e.Size); err != nil {
			return nil, fmt.Errorf("listing scan failed: %w", err)
		}
		entries = append(entries, e)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("listing iteration failed: %w", err)
	}
	return entries, nil
}

// GetListEntry returns the listing row for a single message, or
// consts.ErrDBNotFound when the message is no longer in the inbox.
func (d *Database) GetListEntry(ctx context.Context, addressID, messageID int64) (entry *maildrop.ListEntry, err error) {
	defer trackQuery("GetListEntry", time.Now(), &err)

	entry = &maildrop.ListEntry{}
	err = d.Pool.QueryRow(ctx, `
		SELECT id, content_hash, size
		FROM messages
		WHERE address_id = $1 AND id = $2`, addressID, messageID).
		Scan(&entry.MessageID, &entry.Checksum, &entry.Size)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, consts.ErrDBNotFound
		}
		return nil, fmt.Errorf("single-message query failed: %w", err)
	}
	return entry, nil
}

// MessageExists reports how many inbox rows reference the message.
func (d *Database) MessageExists(ctx context.Context, addressID, messageID int64) (count int, err error) {
	defer trackQuery("MessageExists", time.Now(), &err)

	err = d.Pool.QueryRow(ctx, `
		SELECT COUNT(*) FROM messages
		WHERE address_id = $1 AND id = $2`, addressID, messageID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("existence query failed: %w", err)
	}
	return count, nil
}

// GetMessageContentHash returns the content hash a message body is stored
// under, or consts.ErrDBNotFound.
func (d *Database) GetMessageContentHash(ctx context.Context, addressID, messageID int64) (hash string, err error) {
	defer trackQuery("GetMessageContentHash", time.Now(), &err)

	err = d.Pool.QueryRow(ctx, `
		SELECT content_hash FROM messages
		WHERE address_id = $1 AND id = $2`, addressID, messageID).Scan(&hash)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", consts.ErrDBNotFound
		}
		return "", fmt.Errorf("content hash query failed: %w", err)
	}
	return hash, nil
}

// GetContentHashes returns the content hashes for a set of messages. Used
// before a delete commit so cached bodies can be dropped afterwards.
func (d *Database) GetContentHashes(ctx context.Context, addressID int64, messageIDs []int64) (hashes []string, err error) {
	defer trackQuery("GetContentHashes", time.Now(), &err)

	rows, err := d.Pool.Query(ctx, `
		SELECT content_hash FROM messages
		WHERE address_id = $1 AND id = ANY($2)`, addressID, messageIDs)
	if err != nil {
		return nil, fmt.Errorf("content hashes query failed: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var h string
		if err = rows.Scan(&h); err != nil {
			return nil, fmt.Errorf("content hashes scan failed: %w", err)
		}
		hashes = append(hashes, h)
	}
	return hashes, rows.Err()
}

// DeleteMarked removes the given messages from the inbox and returns the
// number of rows deleted. Object storage is left alone: content hashes may
// be shared across inboxes, orphaned objects are reaped separately.
func (d *Database) DeleteMarked(ctx context.Context, addressID int64, messageIDs []int64) (affected int64, err error) {
	defer trackQuery("DeleteMarked", time.Now(), &err)

	tag, err := d.Pool.Exec(ctx, `
		DELETE FROM messages
		WHERE address_id = $1 AND id = ANY($2)`, addressID, messageIDs)
	if err != nil {
		return 0, fmt.Errorf("delete failed: %w", err)
	}
	return tag.RowsAffected(), nil
}

// CreateAccount inserts a mailbox account. The password should already be
// hashed unless APOP support is wanted for it.
func (d *Database) CreateAccount(ctx context.Context, username, password string) (id int64, err error) {
	defer trackQuery("CreateAccount", time.Now(), &err)

	err = d.Pool.QueryRow(ctx, `
		INSERT INTO addresses (username, password)
		VALUES ($1, $2)
		RETURNING id`, username, password).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("account insert failed: %w", err)
	}
	return id, nil
}

// InsertMessage records a message in an inbox. The body must already be in
// object storage under contentHash.
func (d *Database) InsertMessage(ctx context.Context, addressID int64, contentHash string, size int64) (id int64, err error) {
	defer trackQuery("InsertMessage", time.Now(), &err)

	err = d.Pool.QueryRow(ctx, `
		INSERT INTO messages (address_id, content_hash, size)
		VALUES ($1, $2, $3)
		RETURNING id`, addressID, contentHash, size).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("message insert failed: %w", err)
	}
	return id, nil
}
