// Package jobsource implements the two outbound collaborators named in
// section 6 of the design specification: the HTTP byte stream the
// fragmenter reads from, and getDownloadUrl(itemId), used only by the
// scheduler's autoDequeue.
//
// Grounded on the teacher's manifest.go (S3 URI parsing) and aws/
// interfaces.go (S3Client as a narrow, mockable interface over the
// generated SDK client), generalized from "load and decode a JSON
// manifest" to "presign a time-bounded GET URL for an arbitrary item".
package jobsource

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"time"

	v4 "github.com/aws/aws-sdk-go-v2/aws/signer/v4"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// StreamSource opens the file identified by a pre-signed download URL
// as a streaming byte source, per section 6 ("Outbound to the file
// source"). Implementations must honor ctx cancellation as the HTTP
// abort signal described in section 5.
type StreamSource interface {
	Open(ctx context.Context, downloadURL string) (io.ReadCloser, error)
}

// HTTPStreamSource is the default StreamSource: a plain HTTP GET with
// no idle read timeout (large files may stall briefly, per section
// 5's Timeouts), following redirects via the client's default policy.
type HTTPStreamSource struct {
	client *http.Client
}

// NewHTTPStreamSource builds an HTTPStreamSource. The client's Timeout
// must be left at zero: an overall deadline would violate the no-idle-
// timeout requirement. Per-request cancellation is ctx, not a client
// timeout.
func NewHTTPStreamSource() *HTTPStreamSource {
	return &HTTPStreamSource{client: &http.Client{}}
}

// Open performs the GET and returns the response body, still open, as
// the fragmenter's byte source. The caller owns closing it.
func (s *HTTPStreamSource) Open(ctx context.Context, downloadURL string) (io.ReadCloser, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, downloadURL, nil)
	if err != nil {
		return nil, fmt.Errorf("building download request: %w", err)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("opening download stream: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		_ = resp.Body.Close()
		return nil, fmt.Errorf("download stream returned status %d", resp.StatusCode)
	}
	return resp.Body, nil
}

// DownloadURL is the result of getDownloadUrl(itemId), per section 6.
type DownloadURL struct {
	URL       string
	ExpiresAt time.Time
}

// DownloadURLProvider resolves a source item identity to a fresh,
// time-bounded download URL. Used only by the scheduler's autoDequeue,
// per section 6.
type DownloadURLProvider interface {
	GetDownloadURL(ctx context.Context, itemID string) (DownloadURL, error)
}

// s3ItemIDPattern matches the "bucket/key" shape this provider expects
// a sourceItemId to carry, reusing the teacher's bucket/key-splitting
// idiom from manifest.go's S3 URI regex.
var s3ItemIDPattern = regexp.MustCompile(`^([^/]+)/(.+)$`)

// presignClient is the narrow surface this package needs from the S3
// presign client, declared locally so tests can supply a fake instead
// of constructing a real *s3.PresignClient.
type presignClient interface {
	PresignGetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.PresignOptions)) (*v4.PresignedHTTPRequest, error)
}

// S3PresignProvider implements DownloadURLProvider by presigning a GET
// request against an S3-compatible store, bounded by ttl. itemID is
// parsed as "bucket/key", the same two-part identity the teacher's
// extractBucketFromS3URI/extractKeyFromS3URI helpers pull out of a
// full s3:// URI.
type S3PresignProvider struct {
	presigner presignClient
	ttl       time.Duration
}

// NewS3PresignProvider builds a provider bounded by ttl (the ~10s token
// fetch budget named in section 5 is the caller's responsibility via
// ctx, not this field).
func NewS3PresignProvider(presigner presignClient, ttl time.Duration) *S3PresignProvider {
	return &S3PresignProvider{presigner: presigner, ttl: ttl}
}

// GetDownloadURL implements DownloadURLProvider.
func (p *S3PresignProvider) GetDownloadURL(ctx context.Context, itemID string) (DownloadURL, error) {
	matches := s3ItemIDPattern.FindStringSubmatch(itemID)
	if len(matches) != 3 {
		return DownloadURL{}, fmt.Errorf("invalid source item id %q: want bucket/key", itemID)
	}
	bucket, key := matches[1], matches[2]

	req, err := p.presigner.PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket: &bucket,
		Key:    &key,
	}, func(o *s3.PresignOptions) {
		o.Expires = p.ttl
	})
	if err != nil {
		return DownloadURL{}, fmt.Errorf("presigning download url for %q: %w", itemID, err)
	}

	return DownloadURL{
		URL:       req.URL,
		ExpiresAt: time.Now().Add(p.ttl),
	}, nil
}
