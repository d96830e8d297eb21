// Package storage provides S3-compatible object storage for raw message
// bodies. Objects are content-addressed: the key is the BLAKE3 hash of the
// message, so identical messages delivered to multiple inboxes share one
// object. Deleting an inbox row therefore never deletes the object here;
// orphan reaping is a separate maintenance task.
package storage

import (
	"bytes"
	"context"
	"encoding/hex"
	"fmt"
	"io"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"lukechampine.com/blake3"

	"github.com/dunlinmail/dunlin/config"
	"github.com/dunlinmail/dunlin/consts"
	"github.com/dunlinmail/dunlin/pkg/metrics"
)

type S3Storage struct {
	client *minio.Client
	bucket string
}

// New creates an S3 client from configuration and verifies the bucket is
// reachable.
func New(ctx context.Context, cfg config.S3Config) (*S3Storage, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseTLS,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create S3 client: %w", err)
	}
	if cfg.Trace {
		client.TraceOn(nil)
	}

	exists, err := client.BucketExists(ctx, cfg.Bucket)
	if err != nil {
		return nil, fmt.Errorf("failed to check S3 bucket %s: %w", cfg.Bucket, err)
	}
	if !exists {
		return nil, fmt.Errorf("S3 bucket %s does not exist", cfg.Bucket)
	}

	return &S3Storage{client: client, bucket: cfg.Bucket}, nil
}

// ContentHash returns the hex BLAKE3 hash of data, the key the body is
// stored under and the POP3 unique-id clients see.
func ContentHash(data []byte) string {
	sum := blake3.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// GetObject fetches a message body by content hash. A missing object is
// reported as consts.ErrS3ObjectNotFound.
func (s *S3Storage) GetObject(ctx context.Context, contentHash string) ([]byte, error) {
	obj, err := s.client.GetObject(ctx, s.bucket, contentHash, minio.GetObjectOptions{})
	if err != nil {
		metrics.S3OperationsTotal.WithLabelValues("get", "error").Inc()
		return nil, fmt.Errorf("S3 get failed for %s: %w", contentHash, err)
	}
	defer obj.Close()

	data, err := io.ReadAll(obj)
	if err != nil {
		if minio.ToErrorResponse(err).Code == "NoSuchKey" {
			metrics.S3OperationsTotal.WithLabelValues("get", "not_found").Inc()
			return nil, consts.ErrS3ObjectNotFound
		}
		metrics.S3OperationsTotal.WithLabelValues("get", "error").Inc()
		return nil, fmt.Errorf("S3 read failed for %s: %w", contentHash, err)
	}
	metrics.S3OperationsTotal.WithLabelValues("get", "success").Inc()
	return data, nil
}

// PutObject stores a message body under its content hash.
func (s *S3Storage) PutObject(ctx context.Context, contentHash string, data []byte) error {
	_, err := s.client.PutObject(ctx, s.bucket, contentHash,
		bytes.NewReader(data), int64(len(data)),
		minio.PutObjectOptions{ContentType: "message/rfc822"})
	if err != nil {
		metrics.S3OperationsTotal.WithLabelValues("put", "error").Inc()
		return fmt.Errorf("S3 put failed for %s: %w", contentHash, err)
	}
	metrics.S3OperationsTotal.WithLabelValues("put", "success").Inc()
	return nil
}

// Exists reports whether an object is present for the content hash.
func (s *S3Storage) Exists(ctx context.Context, contentHash string) (bool, error) {
	_, err := s.client.StatObject(ctx, s.bucket, contentHash, minio.StatObjectOptions{})
	if err != nil {
		if minio.ToErrorResponse(err).Code == "NoSuchKey" {
			return false, nil
		}
		return false, fmt.Errorf("S3 stat failed for %s: %w", contentHash, err)
	}
	return true, nil
}
