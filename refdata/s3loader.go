package refdata

import (
	"context"
	"fmt"
	"regexp"

	"github.com/aws/aws-sdk-go-v2/service/s3"
	json "github.com/goccy/go-json"

	"github.com/gurre/ddb-pitr/aws"
)

// s3URIPattern mirrors the manifest package's bucket/key extraction for an
// s3://bucket/key reference-data URI.
var s3URIPattern = regexp.MustCompile(`^s3://([^/]+)/(.+)$`)

// S3Loader satisfies runner.RefDataLoader by fetching a single JSON object
// mapping category name to member list (e.g. {"currencies": ["USD", "CAD"]})
// from S3. Loaded once per job at PROCESSING entry, never cached across
// jobs, since reference data may change between runs.
type S3Loader struct {
	client aws.S3Client
	uri    string
}

// NewS3Loader builds a loader for the reference-data object at uri
// (s3://bucket/key).
func NewS3Loader(client aws.S3Client, uri string) *S3Loader {
	return &S3Loader{client: client, uri: uri}
}

// Load fetches and decodes the reference-data object.
func (l *S3Loader) Load(ctx context.Context) (map[string][]string, error) {
	matches := s3URIPattern.FindStringSubmatch(l.uri)
	if len(matches) != 3 {
		return nil, fmt.Errorf("invalid reference data S3 URI: %s (must be s3://bucket/key)", l.uri)
	}
	bucket, key := matches[1], matches[2]

	resp, err := l.client.GetObject(ctx, &s3.GetObjectInput{Bucket: &bucket, Key: &key})
	if err != nil {
		return nil, fmt.Errorf("fetching reference data: %w", err)
	}
	if resp.Body == nil {
		return nil, fmt.Errorf("reference data response body is nil")
	}
	defer func() { _ = resp.Body.Close() }()

	var members map[string][]string
	if err := json.NewDecoder(resp.Body).Decode(&members); err != nil {
		return nil, fmt.Errorf("decoding reference data: %w", err)
	}
	return members, nil
}
