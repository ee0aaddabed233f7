package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/rs/zerolog"

	"relayd/internal/pkg/logx"
)

const (
	// uploadPartSize is the multipart chunk the uploader buffers before sending a part.
	uploadPartSize = 5 * 1024 * 1024

	defaultRegion = "auto"
)

// s3Client implements the Archiver interface on S3-compatible storage.
type s3Client struct {
	cfg      ServiceConfig
	uploader *manager.Uploader
	logger   zerolog.Logger
}

// newS3Client initializes the S3 client with a custom endpoint and static credentials.
func newS3Client(cfg ServiceConfig) (*s3Client, error) {
	if cfg.S3BucketName == "" {
		return nil, errors.New("storage: bucket name is required")
	}

	region := cfg.S3Region
	if region == "" {
		region = defaultRegion
	}

	sdkCfg, err := config.LoadDefaultConfig(context.TODO(),
		config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
			cfg.S3AccessKeyID,
			cfg.S3SecretAccessKey,
			"",
		)),
		config.WithRegion(region),
	)
	if err != nil {
		return nil, fmt.Errorf("storage: failed to load AWS SDK config: %w", err)
	}

	client := s3.NewFromConfig(sdkCfg, func(o *s3.Options) {
		if cfg.S3Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.S3Endpoint)
		}
		o.UsePathStyle = true
	})

	uploader := manager.NewUploader(client, func(u *manager.Uploader) {
		u.PartSize = uploadPartSize
		u.Concurrency = 1
	})

	return &s3Client{
		cfg:      cfg,
		uploader: uploader,
		logger:   logx.Component("Archiver"),
	}, nil
}

// Archive uploads body to key in the configured bucket.
func (c *s3Client) Archive(ctx context.Context, key string, size int64, body io.Reader) error {
	out, err := c.uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(c.cfg.S3BucketName),
		Key:         aws.String(key),
		Body:        body,
		ContentType: aws.String("application/octet-stream"),
		Metadata: map[string]string{
			"announced-size": strconv.FormatInt(size, 10),
		},
	})
	if err != nil {
		return fmt.Errorf("storage: upload %s: %w", key, err)
	}

	c.logger.Info().
		Str("key", key).
		Str("location", out.Location).
		Int64("size", size).
		Msg("Transfer archived.")

	return nil
}
