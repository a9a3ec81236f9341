// Package aws implements the AWS service client abstractions the
// fragment processor depends on. This file contains the concrete
// implementations of the service interfaces.
package aws

import (
	"bytes"
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/aws/aws-sdk-go-v2/service/s3"
	json "github.com/goccy/go-json"
	"github.com/gurre/ddb-pitr/metrics"
)

// S3ClientImpl implements S3Client using the AWS SDK.
type S3ClientImpl struct {
	client *s3.Client
}

// NewS3Client creates a new S3ClientImpl instance
func NewS3Client(client *s3.Client) *S3ClientImpl {
	return &S3ClientImpl{client: client}
}

// GetObject implements the S3Client interface for reading objects
func (c *S3ClientImpl) GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	return c.client.GetObject(ctx, params, optFns...)
}

// PutObject implements the S3Client interface for writing objects
func (c *S3ClientImpl) PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	return c.client.PutObject(ctx, params, optFns...)
}

// S3ReportUploader archives a job's terminal throughput report to S3,
// satisfying runner.ReportUploader.
type S3ReportUploader struct {
	client S3Client
}

// NewS3ReportUploader creates a new S3ReportUploader instance.
func NewS3ReportUploader(client S3Client) *S3ReportUploader {
	return &S3ReportUploader{client: client}
}

// UploadReport uploads a metrics report to the specified S3 URI.
// The URI must be in the format s3://bucket/key.
func (u *S3ReportUploader) UploadReport(ctx context.Context, uri string, report metrics.Report) error {
	parsed, err := url.Parse(uri)
	if err != nil {
		return fmt.Errorf("invalid S3 URI: %w", err)
	}
	if parsed.Scheme != "s3" {
		return fmt.Errorf("invalid S3 URI scheme: %s", parsed.Scheme)
	}

	bucket := parsed.Host
	key := strings.TrimPrefix(parsed.Path, "/")

	data, err := json.Marshal(report)
	if err != nil {
		return fmt.Errorf("failed to marshal report: %w", err)
	}

	contentType := "application/json"
	_, err = u.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      &bucket,
		Key:         &key,
		Body:        bytes.NewReader(data),
		ContentType: &contentType,
	})
	if err != nil {
		return fmt.Errorf("failed to upload report: %w", err)
	}

	return nil
}
