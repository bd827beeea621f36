package blob

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
	"github.com/openmined/syncbox/internal/utils"
)

const sniffLen = 512

type S3Config struct {
	FilenameBucket string `mapstructure:"filename_bucket" yaml:"filename_bucket"`
	ContentBucket  string `mapstructure:"content_bucket" yaml:"content_bucket"`
	Region         string `mapstructure:"region" yaml:"region"`
	AccessKey      string `mapstructure:"access_key" yaml:"access_key"`
	SecretKey      string `mapstructure:"secret_key" yaml:"secret_key"`
	Endpoint       string `mapstructure:"endpoint" yaml:"endpoint,omitempty"`
	UseAccelerate  bool   `mapstructure:"use_accelerate" yaml:"use_accelerate,omitempty"`
}

// S3Store keeps filename objects and blobs in two buckets.
type S3Store struct {
	s3Client *s3.Client
	config   *S3Config
}

func NewS3Store(s3Client *s3.Client, config *S3Config) *S3Store {
	return &S3Store{
		s3Client: s3Client,
		config:   config,
	}
}

func NewS3StoreWithConfig(cfg *S3Config) (*S3Store, error) {
	if cfg.FilenameBucket == "" || cfg.ContentBucket == "" {
		return nil, fmt.Errorf("s3 buckets must be set")
	}

	httpClient := &http.Client{
		Transport: &http.Transport{
			Proxy:                 http.ProxyFromEnvironment,
			MaxIdleConns:          20,
			MaxIdleConnsPerHost:   10,
			IdleConnTimeout:       90 * time.Second,
			TLSHandshakeTimeout:   10 * time.Second,
			ExpectContinueTimeout: 1 * time.Second,
			ForceAttemptHTTP2:     true,
		},
		Timeout: 5 * time.Minute,
	}

	loadOpts := []func(*config.LoadOptions) error{
		config.WithRegion(cfg.Region),
		config.WithHTTPClient(httpClient),
	}
	// fall back to the default credential chain when no static keys are configured
	if cfg.AccessKey != "" {
		loadOpts = append(loadOpts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, ""),
		))
	}

	awsCfg, err := config.LoadDefaultConfig(context.Background(), loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	awsClient := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		}
		if cfg.UseAccelerate {
			o.UseAccelerate = true
		}
	})

	return NewS3Store(awsClient, cfg), nil
}

// ===================================================================================================

func (s *S3Store) Init(ctx context.Context) error {
	for _, bucket := range []string{s.config.FilenameBucket, s.config.ContentBucket} {
		if err := s.ensureBucket(ctx, bucket); err != nil {
			return err
		}
	}

	_, err := s.s3Client.PutBucketVersioning(ctx, &s3.PutBucketVersioningInput{
		Bucket: &s.config.FilenameBucket,
		VersioningConfiguration: &types.VersioningConfiguration{
			Status: types.BucketVersioningStatusEnabled,
		},
	})
	if err != nil {
		return fmt.Errorf("failed to enable versioning on %s: %w", s.config.FilenameBucket, err)
	}

	slog.Debug("content store initialized", "backend", "s3", "filenames", s.config.FilenameBucket, "contents", s.config.ContentBucket)
	return nil
}

func (s *S3Store) ensureBucket(ctx context.Context, bucket string) error {
	_, err := s.s3Client.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: &bucket})
	if err == nil {
		return nil
	} else if !isNotFound(err) {
		return fmt.Errorf("failed to check bucket %s: %w", bucket, err)
	}

	input := &s3.CreateBucketInput{Bucket: &bucket}
	// us-east-1 rejects an explicit location constraint
	if s.config.Region != "" && s.config.Region != "us-east-1" {
		input.CreateBucketConfiguration = &types.CreateBucketConfiguration{
			LocationConstraint: types.BucketLocationConstraint(s.config.Region),
		}
	}
	if _, err := s.s3Client.CreateBucket(ctx, input); err != nil {
		return fmt.Errorf("failed to create bucket %s: %w", bucket, err)
	}
	slog.Info("created bucket", "bucket", bucket)
	return nil
}

// ===================================================================================================

func (s *S3Store) HeadFile(ctx context.Context, name string) (*FileMeta, error) {
	resp, err := s.s3Client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: &s.config.FilenameBucket,
		Key:    &name,
	})
	if err != nil {
		if isNotFound(err) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return fileMetaFromMap(resp.Metadata), nil
}

func (s *S3Store) PutFile(ctx context.Context, name string, meta *FileMeta) error {
	_, err := s.s3Client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        &s.config.FilenameBucket,
		Key:           &name,
		Body:          http.NoBody,
		ContentLength: aws.Int64(0),
		Metadata:      meta.toMap(),
	})
	return err
}

func (s *S3Store) RenameFile(ctx context.Context, from, to string) error {
	_, err := s.s3Client.CopyObject(ctx, &s3.CopyObjectInput{
		Bucket:            &s.config.FilenameBucket,
		CopySource:        aws.String(s.config.FilenameBucket + "/" + url.PathEscape(from)),
		Key:               &to,
		MetadataDirective: types.MetadataDirectiveCopy,
	})
	if err != nil {
		if isNotFound(err) {
			return ErrNotFound
		}
		return err
	}
	return s.DeleteFile(ctx, from)
}

func (s *S3Store) DeleteFile(ctx context.Context, name string) error {
	_, err := s.s3Client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: &s.config.FilenameBucket,
		Key:    &name,
	})
	if err != nil && !isNotFound(err) {
		return err
	}
	return nil
}

// ===================================================================================================

func (s *S3Store) BlobExists(ctx context.Context, hash string) (bool, error) {
	_, err := s.s3Client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: &s.config.ContentBucket,
		Key:    &hash,
	})
	if err != nil {
		if isNotFound(err) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

func (s *S3Store) GetBlob(ctx context.Context, hash string) (io.ReadCloser, error) {
	resp, err := s.s3Client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: &s.config.ContentBucket,
		Key:    &hash,
	})
	if err != nil {
		if isNotFound(err) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return resp.Body, nil
}

func (s *S3Store) PutBlob(ctx context.Context, hash string, body io.Reader, size int64) error {
	br := bufio.NewReaderSize(body, sniffLen)
	head, _ := br.Peek(sniffLen)

	_, err := s.s3Client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        &s.config.ContentBucket,
		Key:           &hash,
		Body:          br,
		ContentLength: aws.Int64(size),
		ContentType:   aws.String(utils.DetectContentType(hash, head)),
	})
	return err
}

// ===================================================================================================

func isNotFound(err error) bool {
	var nsk *types.NoSuchKey
	var nf *types.NotFound
	if errors.As(err, &nsk) || errors.As(err, &nf) {
		return true
	}

	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "NotFound", "NoSuchKey", "NoSuchBucket":
			return true
		}
	}
	return false
}

var _ Store = (*S3Store)(nil)
