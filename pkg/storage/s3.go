package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/smithy-go"
)

// S3Client is the subset of the S3 API used by [S3]. The [s3.Client] type
// satisfies it.
type S3Client interface {
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	HeadObject(ctx context.Context, params *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
}

// S3 is a read-only Source over an S3 or S3-compatible bucket (MinIO, R2).
// The caller configures the client's credentials, region, and endpoint.
type S3 struct {
	client S3Client
	bucket string
	prefix string
}

// NewS3 creates a source over the given bucket. Prefix is prepended to all
// object keys; pass "" for none.
func NewS3(client S3Client, bucket, prefix string) *S3 {
	return &S3{client: client, bucket: bucket, prefix: prefix}
}

func (s *S3) key(ref string) string {
	if s.prefix == "" {
		return ref
	}
	return s.prefix + "/" + ref
}

// Open implements Source.
func (s *S3) Open(ctx context.Context, ref string) (io.ReadCloser, error) {
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key(ref)),
	})
	if err != nil {
		if isS3NotFound(err) {
			return nil, fmt.Errorf("storage: open %s: %w", ref, os.ErrNotExist)
		}
		return nil, err
	}
	return out.Body, nil
}

// Exists implements Source.
func (s *S3) Exists(ctx context.Context, ref string) (bool, error) {
	_, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key(ref)),
	})
	if err != nil {
		if isS3NotFound(err) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// isS3NotFound reports whether err indicates a missing object.
func isS3NotFound(err error) bool {
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "NotFound", "NoSuchKey":
			return true
		}
	}
	return false
}

var _ Source = (*S3)(nil)
