package s3

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"

	"github.com/dreschagin/desertyard/internal/application/port"
)

type Config struct {
	Bucket          string
	Region          string
	Endpoint        string
	AccessKeyID     string
	SecretAccessKey string
	UsePathStyle    bool
	PageSize        int
}

// API is the subset of the S3 client used by SnapshotStorage.
type API interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	ListObjectsV2(ctx context.Context, params *s3.ListObjectsV2Input, optFns ...func(*s3.Options)) (*s3.ListObjectsV2Output, error)
}

// SnapshotStorage implements port.SnapshotStorage on any S3-compatible bucket (AWS, R2, MinIO).
type SnapshotStorage struct {
	client   API
	bucket   string
	pageSize int32
}

func NewSnapshotStorage(ctx context.Context, cfg Config) (*SnapshotStorage, error) {
	if strings.TrimSpace(cfg.Bucket) == "" {
		return nil, fmt.Errorf("s3 bucket is required")
	}
	if strings.TrimSpace(cfg.Region) == "" {
		cfg.Region = "auto"
	}

	opts := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(cfg.Region)}
	if strings.TrimSpace(cfg.AccessKeyID) != "" && strings.TrimSpace(cfg.SecretAccessKey) != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
			cfg.AccessKeyID,
			cfg.SecretAccessKey,
			"",
		)))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create aws config: %w", err)
	}

	endpoint := strings.TrimSpace(cfg.Endpoint)
	client := s3.NewFromConfig(awsCfg, func(options *s3.Options) {
		if endpoint != "" {
			options.BaseEndpoint = aws.String(endpoint)
		}
		options.UsePathStyle = cfg.UsePathStyle
	})

	return NewSnapshotStorageWithClient(client, cfg.Bucket, cfg.PageSize), nil
}

// NewSnapshotStorageWithClient wraps an existing client; used by tests and custom setups.
func NewSnapshotStorageWithClient(client API, bucket string, pageSize int) *SnapshotStorage {
	if pageSize <= 0 || pageSize > 1000 {
		pageSize = 1000
	}
	return &SnapshotStorage{
		client:   client,
		bucket:   strings.TrimSpace(bucket),
		pageSize: int32(pageSize),
	}
}

func (s *SnapshotStorage) PutObject(ctx context.Context, key string, body []byte, opts port.PutOptions) error {
	if strings.TrimSpace(key) == "" {
		return fmt.Errorf("object key is required")
	}

	input := &s3.PutObjectInput{
		Bucket:        aws.String(s.bucket),
		Key:           aws.String(key),
		Body:          bytes.NewReader(body),
		ContentLength: aws.Int64(int64(len(body))),
	}
	if opts.ContentType != "" {
		input.ContentType = aws.String(opts.ContentType)
	}
	if opts.CacheControl != "" {
		input.CacheControl = aws.String(opts.CacheControl)
	}

	if _, err := s.client.PutObject(ctx, input); err != nil {
		return &port.StorageError{Op: port.StorageOpPut, Key: key, Err: err}
	}
	return nil
}

func (s *SnapshotStorage) GetObject(ctx context.Context, key string) ([]byte, error) {
	output, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		if isNotFound(err) {
			return nil, port.ErrObjectNotFound
		}
		return nil, &port.StorageError{Op: port.StorageOpGet, Key: key, Err: err}
	}
	defer output.Body.Close()

	body, err := io.ReadAll(output.Body)
	if err != nil {
		return nil, &port.StorageError{Op: port.StorageOpGet, Key: key, Err: err}
	}
	return body, nil
}

func (s *SnapshotStorage) ListPage(ctx context.Context, prefix, cursor string) (port.ObjectPage, error) {
	input := &s3.ListObjectsV2Input{
		Bucket:  aws.String(s.bucket),
		Prefix:  aws.String(prefix),
		MaxKeys: aws.Int32(s.pageSize),
	}
	if cursor != "" {
		input.ContinuationToken = aws.String(cursor)
	}

	output, err := s.client.ListObjectsV2(ctx, input)
	if err != nil {
		return port.ObjectPage{}, &port.StorageError{Op: port.StorageOpList, Key: prefix, Err: err}
	}

	page := port.ObjectPage{Objects: make([]port.ObjectInfo, 0, len(output.Contents))}
	for _, object := range output.Contents {
		if object.Key == nil || strings.TrimSpace(*object.Key) == "" {
			continue
		}
		page.Objects = append(page.Objects, port.ObjectInfo{
			Key:        *object.Key,
			UploadedAt: valueTime(object.LastModified),
			Size:       aws.ToInt64(object.Size),
		})
	}

	// Some S3-compatible backends set NextContinuationToken without IsTruncated.
	if aws.ToBool(output.IsTruncated) || output.NextContinuationToken != nil {
		page.NextCursor = aws.ToString(output.NextContinuationToken)
	}

	return page, nil
}

func isNotFound(err error) bool {
	var noSuchKey *types.NoSuchKey
	if errors.As(err, &noSuchKey) {
		return true
	}
	var notFound *types.NotFound
	if errors.As(err, &notFound) {
		return true
	}
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "NoSuchKey", "NotFound":
			return true
		}
	}
	return false
}

func valueTime(v *time.Time) time.Time {
	if v == nil {
		return time.Time{}
	}
	return v.UTC()
}
