// Package s3store provides an objstore.Store backed by any S3-compatible
// bucket (AWS S3, Cloudflare R2, MinIO).
package s3store

import (
	"bytes"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"

	"github.com/linnemanlabs/go-core/log"

	"github.com/linnemanlabs/prealert/internal/faults"
	"github.com/linnemanlabs/prealert/internal/objstore"
)

// audio objects are immutable once written
const cacheControl = "public, max-age=31536000"

// Config holds bucket connection settings.
type Config struct {
	Bucket       string
	Endpoint     string
	Region       string
	AccessKey    string
	SecretKey    string
	UsePathStyle bool
}

// RegisterFlags binds Config fields to the given FlagSet with defaults inline
func (c *Config) RegisterFlags(fs *flag.FlagSet) {
	fs.StringVar(&c.Bucket, "s3-bucket", "", "bucket for narration audio (empty = in-memory object store)")
	fs.StringVar(&c.Endpoint, "s3-endpoint", "", "S3-compatible endpoint URL, e.g. https://<account>.r2.cloudflarestorage.com (empty = AWS)")
	fs.StringVar(&c.Region, "s3-region", "auto", "bucket region (R2 uses auto)")
	fs.StringVar(&c.AccessKey, "s3-access-key", "", "static access key (empty = default AWS credential chain)")
	fs.StringVar(&c.SecretKey, "s3-secret-key", "", "static secret key")
	fs.BoolVar(&c.UsePathStyle, "s3-path-style", false, "use path-style addressing (MinIO)")
}

// Validate checks all configuration fields for correctness.
func (c *Config) Validate() error {
	if c.Bucket == "" {
		return nil
	}
	var errs []error
	if c.Endpoint != "" && !strings.HasPrefix(c.Endpoint, "http://") && !strings.HasPrefix(c.Endpoint, "https://") {
		errs = append(errs, fmt.Errorf("invalid S3_ENDPOINT %q (must start with http:// or https://)", c.Endpoint))
	}
	if (c.AccessKey == "") != (c.SecretKey == "") {
		errs = append(errs, errors.New("S3_ACCESS_KEY and S3_SECRET_KEY must be set together"))
	}
	return errors.Join(errs...)
}

// api is the subset of *s3.Client used by Store.
type api interface {
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	GetObject(ctx context.Context, in *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	HeadBucket(ctx context.Context, in *s3.HeadBucketInput, optFns ...func(*s3.Options)) (*s3.HeadBucketOutput, error)
}

// Store implements objstore.Store on S3.
type Store struct {
	client api
	bucket string
	logger log.Logger
}

// Option configures a Store.
type Option func(*Store)

// WithLogger sets the logger.
func WithLogger(l log.Logger) Option {
	return func(s *Store) { s.logger = l }
}

// New builds an S3 client from cfg.
func New(ctx context.Context, cfg Config, opts ...Option) (*Store, error) {
	if cfg.Bucket == "" {
		return nil, errors.New("s3 bucket is required")
	}

	loadOpts := []func(*config.LoadOptions) error{
		config.WithRegion(cfg.Region),
	}
	if cfg.AccessKey != "" {
		loadOpts = append(loadOpts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, ""),
		))
	}
	awsCfg, err := config.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.UsePathStyle = cfg.UsePathStyle
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
	})
	return newWithClient(client, cfg.Bucket, opts...), nil
}

func newWithClient(client api, bucket string, opts ...Option) *Store {
	s := &Store{
		client: client,
		bucket: bucket,
		logger: log.Nop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Ping checks that the bucket is reachable.
func (s *Store) Ping(ctx context.Context) error {
	_, err := s.client.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(s.bucket)})
	if err != nil {
		return fmt.Errorf("head bucket %s: %w", s.bucket, err)
	}
	return nil
}

// Put uploads data under key.
func (s *Store) Put(ctx context.Context, key string, data []byte, contentType string) (string, error) {
	if key == "" {
		return "", faults.Validation("key", "storage key is required")
	}

	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(s.bucket),
		Key:           aws.String(key),
		Body:          bytes.NewReader(data),
		ContentLength: aws.Int64(int64(len(data))),
		ContentType:   aws.String(contentType),
		CacheControl:  aws.String(cacheControl),
	})
	if err != nil {
		return "", faults.Storage("put object "+key, err)
	}

	s.logger.Info(ctx, "object stored", "bucket", s.bucket, "key", key, "bytes", len(data))
	return key, nil
}

// Get downloads the object stored under key.
func (s *Store) Get(ctx context.Context, key string) (*objstore.Object, bool, error) {
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		if isNotFound(err) {
			return nil, false, nil
		}
		return nil, false, faults.Storage("get object "+key, err)
	}
	defer func() { _ = out.Body.Close() }()

	data, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, false, faults.Storage("read object "+key, err)
	}
	return &objstore.Object{
		Key:         key,
		ContentType: aws.ToString(out.ContentType),
		Data:        data,
	}, true, nil
}

func isNotFound(err error) bool {
	var noSuchKey *types.NoSuchKey
	var notFound *types.NotFound
	if errors.As(err, &noSuchKey) || errors.As(err, &notFound) {
		return true
	}
	// some S3-compatible services only set the error code
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "NoSuchKey", "NotFound":
			return true
		}
	}
	return false
}
