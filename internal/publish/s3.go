// Package publish uploads exported run reports to object storage.
package publish

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"mime"
	"path"
	"path/filepath"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/yairfalse/arbiter/telemetry"
)

// ErrNoBucket is returned when a publisher is built without a bucket
var ErrNoBucket = errors.New("publish bucket not configured")

// S3API defines the S3 operations used by the publisher.
type S3API interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// S3Publisher uploads reports under s3://bucket/prefix/<run id>/<name>
type S3Publisher struct {
	client S3API
	bucket string
	prefix string
	logger *telemetry.Logger
}

// NewS3Publisher creates a publisher over an S3 client
func NewS3Publisher(client S3API, bucket, prefix string) (*S3Publisher, error) {
	if bucket == "" {
		return nil, ErrNoBucket
	}
	return &S3Publisher{
		client: client,
		bucket: bucket,
		prefix: strings.Trim(prefix, "/"),
		logger: telemetry.NewLogger("publish"),
	}, nil
}

// NewFromDefaultConfig builds the S3 client from the default AWS credential chain
func NewFromDefaultConfig(ctx context.Context, bucket, prefix, region string) (*S3Publisher, error) {
	var opts []func(*config.LoadOptions) error
	if region != "" {
		opts = append(opts, config.WithRegion(region))
	}

	cfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	return NewS3Publisher(s3.NewFromConfig(cfg), bucket, prefix)
}

// Key returns the object key for a report of a run
func (p *S3Publisher) Key(runID, name string) string {
	parts := make([]string, 0, 3)
	if p.prefix != "" {
		parts = append(parts, p.prefix)
	}
	parts = append(parts, runID, path.Base(filepath.ToSlash(name)))
	return strings.Join(parts, "/")
}

// Publish uploads one report body and returns its s3:// URI
func (p *S3Publisher) Publish(ctx context.Context, runID, name string, body []byte) (string, error) {
	if runID == "" {
		return "", errors.New("publish: run id is required")
	}

	key := p.Key(runID, name)
	input := &s3.PutObjectInput{
		Bucket:        aws.String(p.bucket),
		Key:           aws.String(key),
		Body:          bytes.NewReader(body),
		ContentLength: aws.Int64(int64(len(body))),
		Metadata:      map[string]string{"run-id": runID},
	}
	if ct := contentType(name); ct != "" {
		input.ContentType = aws.String(ct)
	}

	if _, err := p.client.PutObject(ctx, input); err != nil {
		return "", fmt.Errorf("put s3://%s/%s: %w", p.bucket, key, err)
	}

	uri := fmt.Sprintf("s3://%s/%s", p.bucket, key)
	p.logger.Info().
		Str("run_id", runID).
		Str("uri", uri).
		Int("bytes", len(body)).
		Msg("report published")

	return uri, nil
}

func contentType(name string) string {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".csv":
		return "text/csv"
	case ".txt":
		return "text/plain; charset=utf-8"
	case ".yaml", ".yml":
		return "application/yaml"
	}
	return mime.TypeByExtension(filepath.Ext(name))
}
