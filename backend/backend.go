// Package backend wires the PostgreSQL metadata store, the S3 body store and
// the local cache into the storage driver consumed by maildrop sessions.
package backend

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/dunlinmail/dunlin/consts"
	"github.com/dunlinmail/dunlin/logger"
	"github.com/dunlinmail/dunlin/maildrop"
	"github.com/dunlinmail/dunlin/storage"
)

// MetadataStore is the database surface the backend needs. *db.Database
// satisfies it.
type MetadataStore interface {
	GetInbox(ctx context.Context, identity, remoteIP string) (*maildrop.Inbox, error)
	GetInboxList(ctx context.Context, addressID int64) ([]maildrop.ListEntry, error)
	GetListEntry(ctx context.Context, addressID, messageID int64) (*maildrop.ListEntry, error)
	MessageExists(ctx context.Context, addressID, messageID int64) (int, error)
	GetMessageContentHash(ctx context.Context, addressID, messageID int64) (string, error)
	GetContentHashes(ctx context.Context, addressID int64, messageIDs []int64) ([]string, error)
	DeleteMarked(ctx context.Context, addressID int64, messageIDs []int64) (int64, error)
	InsertMessage(ctx context.Context, addressID int64, contentHash string, size int64) (int64, error)
	TestSettings(ctx context.Context) error
}

// ObjectStore is the body storage surface. *storage.S3Storage satisfies it.
type ObjectStore interface {
	GetObject(ctx context.Context, contentHash string) ([]byte, error)
	PutObject(ctx context.Context, contentHash string, data []byte) error
	Exists(ctx context.Context, contentHash string) (bool, error)
}

// BodyCache is the local cache surface. *cache.Cache satisfies it. Get
// reports a miss with os.ErrNotExist.
type BodyCache interface {
	Get(contentHash string) ([]byte, error)
	Put(contentHash string, data []byte) error
	Delete(contentHash string) error
}

// Backend implements maildrop.Driver.
type Backend struct {
	db    MetadataStore
	s3    ObjectStore
	cache BodyCache
}

var _ maildrop.Driver = (*Backend)(nil)

func New(db MetadataStore, s3 ObjectStore, cache BodyCache) *Backend {
	return &Backend{db: db, s3: s3, cache: cache}
}

func (b *Backend) GetInbox(ctx context.Context, identity, remoteIP string) (*maildrop.Inbox, error) {
	return b.db.GetInbox(ctx, identity, remoteIP)
}

func (b *Backend) GetInboxList(ctx context.Context, addressID int64) ([]maildrop.ListEntry, error) {
	return b.db.GetInboxList(ctx, addressID)
}

func (b *Backend) GetListEntry(ctx context.Context, addressID, messageID int64) (*maildrop.ListEntry, error) {
	return b.db.GetListEntry(ctx, addressID, messageID)
}

func (b *Backend) MessageExists(ctx context.Context, addressID, messageID int64) (int, error) {
	return b.db.MessageExists(ctx, addressID, messageID)
}

// FetchRawMessage returns the raw bytes of a message: content hash from the
// database, body from the local cache, falling back to S3 and re-warming the
// cache on the way back.
func (b *Backend) FetchRawMessage(ctx context.Context, addressID, messageID int64) ([]byte, error) {
	hash, err := b.db.GetMessageContentHash(ctx, addressID, messageID)
	if err != nil {
		if errors.Is(err, consts.ErrDBNotFound) {
			return nil, consts.ErrMessageGone
		}
		return nil, err
	}

	if data, err := b.cache.Get(hash); err == nil {
		return data, nil
	} else if !errors.Is(err, os.ErrNotExist) {
		logger.Warn("cache read failed, falling back to S3", "hash", hash, "error", err)
	}

	data, err := b.s3.GetObject(ctx, hash)
	if err != nil {
		if errors.Is(err, consts.ErrS3ObjectNotFound) {
			// Listed in the database but the body is gone
			logger.Error("message body missing from object storage", "hash", hash, "message_id", messageID)
			return nil, consts.ErrMessageGone
		}
		return nil, err
	}

	if err := b.cache.Put(hash, data); err != nil {
		logger.Warn("failed to cache message body", "hash", hash, "error", err)
	}
	return data, nil
}

// DeleteMarked removes the messages from the database and drops their bodies
// from the local cache. S3 objects stay: content hashes are deduplicated
// across inboxes, so orphaned objects are reaped by offline maintenance, not
// here.
func (b *Backend) DeleteMarked(ctx context.Context, addressID int64, messageIDs []int64) (int64, error) {
	hashes, err := b.db.GetContentHashes(ctx, addressID, messageIDs)
	if err != nil {
		return 0, err
	}

	affected, err := b.db.DeleteMarked(ctx, addressID, messageIDs)
	if err != nil {
		return 0, err
	}

	for _, h := range hashes {
		if err := b.cache.Delete(h); err != nil {
			logger.Warn("failed to drop deleted body from cache", "hash", h, "error", err)
		}
	}
	return affected, nil
}

func (b *Backend) TestSettings(ctx context.Context) error {
	return b.db.TestSettings(ctx)
}

// ImportMessage stores a raw message for an inbox: BLAKE3 hash, S3 upload
// (skipped when an identical body already exists), database row. Used by the
// admin CLI and delivery tooling.
func (b *Backend) ImportMessage(ctx context.Context, identity string, raw []byte) (int64, error) {
	inbox, err := b.db.GetInbox(ctx, identity, "")
	if err != nil {
		return 0, err
	}

	hash := storage.ContentHash(raw)
	exists, err := b.s3.Exists(ctx, hash)
	if err != nil {
		return 0, err
	}
	if !exists {
		if err := b.s3.PutObject(ctx, hash, raw); err != nil {
			return 0, err
		}
	}

	id, err := b.db.InsertMessage(ctx, inbox.AddressID, hash, int64(len(raw)))
	if err != nil {
		return 0, fmt.Errorf("failed to record imported message: %w", err)
	}
	logger.Info("imported message", "user", identity, "message_id", id, "octets", len(raw), "deduplicated", exists)
	return id, nil
}
