package upload

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	smithy "github.com/aws/smithy-go"

	"github.com/coldforge/streamwal/pkg/types"
)

// NewS3ClientFromConfig builds an *s3.Client from region/endpoint
// parameters, relying on the default AWS credential provider chain
// (environment, shared config, or instance role) the way the teacher's
// content store does for its non-static-credential path.
func NewS3ClientFromConfig(ctx context.Context, endpoint, region string, usePathStyle bool) (*s3.Client, error) {
	cfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("upload: load aws config: %w", err)
	}
	client := s3.NewFromConfig(cfg, func(o *s3.Options) {
		if endpoint != "" {
			o.BaseEndpoint = aws.String(endpoint)
		}
		o.UsePathStyle = usePathStyle
	})
	return client, nil
}

// S3Config configures an S3ObjectStore.
type S3Config struct {
	Client       *s3.Client
	Bucket       string
	KeyPrefix    string
	UsePathStyle bool
}

// S3ObjectStore implements ObjectStore over Amazon S3 or an
// S3-compatible backend (e.g. MinIO/LocalStack for tests), the way the
// durability core's teacher wraps *s3.Client for block storage: a thin
// bucket+prefix adapter with sentinel-error translation, no independent
// retry/backoff layer since aws-sdk-go-v2 already retries transient
// errors internally.
type S3ObjectStore struct {
	client    *s3.Client
	bucket    string
	keyPrefix string
}

// NewS3ObjectStore constructs an S3ObjectStore. The caller is responsible
// for building *s3.Client (region, credentials, optional custom endpoint
// for S3-compatible backends, and UsePathStyle) before calling this.
func NewS3ObjectStore(cfg S3Config) (*S3ObjectStore, error) {
	if cfg.Client == nil {
		return nil, fmt.Errorf("upload: s3 client is required")
	}
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("upload: bucket is required")
	}
	return &S3ObjectStore{client: cfg.Client, bucket: cfg.Bucket, keyPrefix: cfg.KeyPrefix}, nil
}

func (s *S3ObjectStore) fullKey(key string) string {
	if s.keyPrefix == "" {
		return key
	}
	return s.keyPrefix + key
}

func (s *S3ObjectStore) CreateMultipartUpload(ctx context.Context, key string) (string, error) {
	out, err := s.client.CreateMultipartUpload(ctx, &s3.CreateMultipartUploadInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.fullKey(key)),
	})
	if err != nil {
		return "", fmt.Errorf("upload: create multipart upload: %w", err)
	}
	return aws.ToString(out.UploadId), nil
}

func (s *S3ObjectStore) PutPart(ctx context.Context, uploadID, key string, partNumber int, data []byte) (string, error) {
	out, err := s.client.UploadPart(ctx, &s3.UploadPartInput{
		Bucket:     aws.String(s.bucket),
		Key:        aws.String(s.fullKey(key)),
		UploadId:   aws.String(uploadID),
		PartNumber: aws.Int32(int32(partNumber)),
		Body:       bytes.NewReader(data),
	})
	if err != nil {
		return "", fmt.Errorf("upload: put part %d: %w", partNumber, err)
	}
	return aws.ToString(out.ETag), nil
}

func (s *S3ObjectStore) CompleteMultipart(ctx context.Context, uploadID, key string, parts []types.CompletedPart) error {
	completed := make([]s3types.CompletedPart, len(parts))
	for i, p := range parts {
		completed[i] = s3types.CompletedPart{
			PartNumber: aws.Int32(int32(p.PartNumber)),
			ETag:       aws.String(p.ETag),
		}
	}
	_, err := s.client.CompleteMultipartUpload(ctx, &s3.CompleteMultipartUploadInput{
		Bucket:   aws.String(s.bucket),
		Key:      aws.String(s.fullKey(key)),
		UploadId: aws.String(uploadID),
		MultipartUpload: &s3types.CompletedMultipartUpload{
			Parts: completed,
		},
	})
	if err != nil {
		return fmt.Errorf("upload: complete multipart upload: %w", err)
	}
	return nil
}

func (s *S3ObjectStore) GetRange(ctx context.Context, key string, offset, length int64) ([]byte, error) {
	rangeHeader := fmt.Sprintf("bytes=%d-%d", offset, offset+length-1)
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.fullKey(key)),
		Range:  aws.String(rangeHeader),
	})
	if err != nil {
		var nsk *s3types.NoSuchKey
		var apiErr smithy.APIError
		if errors.As(err, &nsk) || (errors.As(err, &apiErr) && apiErr.ErrorCode() == "NoSuchKey") {
			return nil, ErrObjectNotFound
		}
		return nil, fmt.Errorf("upload: get range: %w", err)
	}
	defer out.Body.Close()
	return io.ReadAll(out.Body)
}

func (s *S3ObjectStore) DeleteObjects(ctx context.Context, keys []string) error {
	if len(keys) == 0 {
		return nil
	}
	ids := make([]s3types.ObjectIdentifier, len(keys))
	for i, k := range keys {
		ids[i] = s3types.ObjectIdentifier{Key: aws.String(s.fullKey(k))}
	}
	_, err := s.client.DeleteObjects(ctx, &s3.DeleteObjectsInput{
		Bucket: aws.String(s.bucket),
		Delete: &s3types.Delete{Objects: ids},
	})
	if err != nil {
		return fmt.Errorf("upload: delete objects: %w", err)
	}
	return nil
}
