package storage

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewArchiverRequiresBucket(t *testing.T) {
	_, err := NewArchiver(ServiceConfig{S3Endpoint: "http://localhost:9000"})
	assert.Error(t, err)
}

func TestNewArchiverDefaultsRegion(t *testing.T) {
	a, err := NewArchiver(ServiceConfig{
		S3BucketName:      "transfers",
		S3Endpoint:        "http://localhost:9000",
		S3AccessKeyID:     "key",
		S3SecretAccessKey: "secret",
	})
	require.NoError(t, err)

	c, ok := a.(*s3Client)
	require.True(t, ok)
	assert.Equal(t, "transfers", c.cfg.S3BucketName)
	assert.Equal(t, int64(uploadPartSize), c.uploader.PartSize)
}
