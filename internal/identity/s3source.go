package identity

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

const s3Scheme = "s3://"

// maxKeyObjectSize bounds how much of an S3 object is read as key material.
const maxKeyObjectSize = 1 << 20

// s3GetObjectAPI is the subset of *s3.Client used by S3Source.
type s3GetObjectAPI interface {
	GetObject(ctx context.Context, in *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

// S3Source reads keys stored as S3 objects addressed by s3://bucket/key.
type S3Source struct {
	client s3GetObjectAPI
}

// NewS3Source builds an S3Source from the default AWS credential chain.
func NewS3Source(ctx context.Context) (*S3Source, error) {
	cfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("load AWS config: %w", err)
	}
	return &S3Source{client: s3.NewFromConfig(cfg)}, nil
}

// NewS3SourceWithClient wraps an existing client.
func NewS3SourceWithClient(client s3GetObjectAPI) *S3Source {
	return &S3Source{client: client}
}

// ReadKey implements KeySource.
func (s *S3Source) ReadKey(ctx context.Context, path string) ([]byte, error) {
	bucket, key, err := parseS3Path(path)
	if err != nil {
		return nil, err
	}
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, fmt.Errorf("get s3 object %s: %w", path, err)
	}
	defer out.Body.Close() //nolint:errcheck

	data, err := io.ReadAll(io.LimitReader(out.Body, maxKeyObjectSize))
	if err != nil {
		return nil, fmt.Errorf("read s3 object %s: %w", path, err)
	}
	return data, nil
}

// IsS3Path reports whether path is an s3:// URL.
func IsS3Path(path string) bool {
	return strings.HasPrefix(path, s3Scheme)
}

func parseS3Path(path string) (bucket, key string, err error) {
	u, err := url.Parse(path)
	if err != nil || u.Scheme != "s3" {
		return "", "", fmt.Errorf("invalid s3 path %q", path)
	}
	key = strings.TrimPrefix(u.Path, "/")
	if u.Host == "" || key == "" {
		return "", "", fmt.Errorf("s3 path %q must be s3://bucket/key", path)
	}
	return u.Host, key, nil
}
