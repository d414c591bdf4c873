package archive

import (
	"bytes"
	"compress/gzip"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"path"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
	"github.com/google/uuid"

	"github.com/dmitrymomot/hookrelay/pkg/webhook"
)

// S3Client is the subset of the S3 API the archiver needs.
type S3Client interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// S3Archiver writes each batch of deliveries as one JSON lines object.
// It is safe for concurrent use.
type S3Archiver struct {
	client        S3Client
	bucket        string
	prefix        string
	compress      bool
	uploadTimeout time.Duration
	now           func() time.Time
}

var _ webhook.Archiver = (*S3Archiver)(nil)

type Option func(*options)

type options struct {
	client          S3Client
	httpClient      *http.Client
	configOptions   []func(*config.LoadOptions) error
	s3ClientOptions []func(*s3.Options)
	now             func() time.Time
}

// WithS3Client uses a pre-configured client instead of loading AWS config.
func WithS3Client(c S3Client) Option {
	return func(o *options) { o.client = c }
}

func WithHTTPClient(c *http.Client) Option {
	return func(o *options) { o.httpClient = c }
}

func WithConfigOption(fn func(*config.LoadOptions) error) Option {
	return func(o *options) { o.configOptions = append(o.configOptions, fn) }
}

func WithS3ClientOption(fn func(*s3.Options)) Option {
	return func(o *options) { o.s3ClientOptions = append(o.s3ClientOptions, fn) }
}

func WithClock(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

// NewS3Archiver builds an archiver for cfg.Bucket.
func NewS3Archiver(ctx context.Context, cfg Config, opts ...Option) (*S3Archiver, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("%w: bucket is required", ErrInvalidConfig)
	}
	o := &options{now: time.Now}
	for _, opt := range opts {
		opt(o)
	}

	client := o.client
	if client == nil {
		if cfg.Region == "" {
			return nil, fmt.Errorf("%w: region is required", ErrInvalidConfig)
		}
		awsOpts := []func(*config.LoadOptions) error{config.WithRegion(cfg.Region)}
		if cfg.AccessKeyID != "" && cfg.SecretKey != "" {
			awsOpts = append(awsOpts, config.WithCredentialsProvider(
				credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretKey, ""),
			))
		}
		if o.httpClient != nil {
			awsOpts = append(awsOpts, config.WithHTTPClient(o.httpClient))
		}
		awsOpts = append(awsOpts, o.configOptions...)

		awsCfg, err := config.LoadDefaultConfig(ctx, awsOpts...)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrFailedToLoadConfig, err)
		}
		client = s3.NewFromConfig(awsCfg, func(so *s3.Options) {
			if cfg.Endpoint != "" {
				so.BaseEndpoint = aws.String(cfg.Endpoint)
			}
			so.UsePathStyle = cfg.ForcePathStyle
			for _, fn := range o.s3ClientOptions {
				fn(so)
			}
		})
	}

	return &S3Archiver{
		client:        client,
		bucket:        cfg.Bucket,
		prefix:        strings.Trim(cfg.Prefix, "/"),
		compress:      cfg.Compress,
		uploadTimeout: cfg.UploadTimeout,
		now:           o.now,
	}, nil
}

// Archive uploads deliveries as one object. An empty batch is a no-op.
func (a *S3Archiver) Archive(ctx context.Context, deliveries []*webhook.Delivery) error {
	if len(deliveries) == 0 {
		return nil
	}
	body, err := Encode(deliveries, a.compress)
	if err != nil {
		return err
	}

	if a.uploadTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, a.uploadTimeout)
		defer cancel()
	}

	in := &s3.PutObjectInput{
		Bucket:      aws.String(a.bucket),
		Key:         aws.String(a.Key(a.now())),
		Body:        bytes.NewReader(body),
		ContentType: aws.String("application/x-ndjson"),
	}
	if a.compress {
		in.ContentEncoding = aws.String("gzip")
	}
	if _, err := a.client.PutObject(ctx, in); err != nil {
		return classifyError(err)
	}
	return nil
}

// Key returns a unique object key partitioned by UTC date,
// e.g. deliveries/2026/03/01/20260301T120000Z-<uuid>.jsonl.gz.
func (a *S3Archiver) Key(at time.Time) string {
	at = at.UTC()
	name := at.Format("20060102T150405Z") + "-" + uuid.NewString() + ".jsonl"
	if a.compress {
		name += ".gz"
	}
	return path.Join(a.prefix, at.Format("2006/01/02"), name)
}

// Encode writes deliveries as newline-delimited JSON, optionally gzipped.
func Encode(deliveries []*webhook.Delivery, compress bool) ([]byte, error) {
	var buf bytes.Buffer
	var gz *gzip.Writer
	enc := json.NewEncoder(&buf)
	if compress {
		gz = gzip.NewWriter(&buf)
		enc = json.NewEncoder(gz)
	}
	for _, d := range deliveries {
		if err := enc.Encode(d); err != nil {
			return nil, errors.Join(ErrEncode, err)
		}
	}
	if gz != nil {
		if err := gz.Close(); err != nil {
			return nil, errors.Join(ErrEncode, err)
		}
	}
	return buf.Bytes(), nil
}

func classifyError(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: put object", ErrOperationTimeout)
	}
	if errors.Is(err, context.Canceled) {
		return fmt.Errorf("%w: put object", ErrOperationCanceled)
	}
	var nsb *types.NoSuchBucket
	if errors.As(err, &nsb) {
		return ErrBucketNotFound
	}
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "NoSuchBucket":
			return ErrBucketNotFound
		case "AccessDenied":
			return fmt.Errorf("%w: put object", ErrAccessDenied)
		case "SlowDown", "ServiceUnavailable", "RequestTimeout":
			return fmt.Errorf("%w: put object", ErrServiceUnavailable)
		default:
			return fmt.Errorf("put object failed (code: %s): %w", apiErr.ErrorCode(), err)
		}
	}
	return fmt.Errorf("put object failed: %w", err)
}
