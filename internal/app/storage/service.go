/*
Package storage archives relayed file transfers to S3-compatible object storage.

Archival is optional: when no bucket is configured the server relays files without
keeping a copy.
*/
package storage

import (
	"context"
	"io"
)

// ServiceConfig holds the configuration required to connect to the storage service.
type ServiceConfig struct {
	S3BucketName      string
	S3Endpoint        string
	S3Region          string
	S3AccessKeyID     string
	S3SecretAccessKey string
}

// Archiver stores a copy of a transferred file.
type Archiver interface {
	// Archive streams body to the object key. size is the announced length of body and
	// may be used as a hint only. Archive returns once body is exhausted or the upload failed.
	Archive(ctx context.Context, key string, size int64, body io.Reader) error
}

// NewArchiver is the factory function for Archiver.
// Currently, only S3 compatible implementations are supported.
func NewArchiver(cfg ServiceConfig) (Archiver, error) {
	c, err := newS3Client(cfg)
	if err != nil {
		return nil, err
	}
	return c, nil
}
