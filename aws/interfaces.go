// Package aws implements the AWS service client abstractions the
// fragment processor depends on: S3 for reference-data snapshots,
// report archival, and job source resolution. DynamoDB access goes
// through registry/dynamostore's own narrower Client interface against
// the SDK client directly, and IAM plays no role in this system, so
// neither gets a wrapper here.
package aws

import (
	"context"

	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// S3Client defines the interface for S3 operations: reading
// reference-data snapshots and job source objects, and writing
// archived job reports.
type S3Client interface {
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// Compile-time interface checks to ensure implementations satisfy interfaces
var (
	_ S3Client = (*S3ClientImpl)(nil)

	// AWS SDK interface check to ensure the SDK client satisfies the interface
	_ S3Client = (*s3.Client)(nil)
)
