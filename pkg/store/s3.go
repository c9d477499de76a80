package store

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/logflow/waitlens/pkg/export"
)

// S3Config configures the S3 run archive.
type S3Config struct {
	Bucket string `yaml:"bucket"`

	// Prefix is prepended to all object keys (e.g., "runs/")
	Prefix string `yaml:"prefix"`
	Region string `yaml:"region"`

	// Endpoint overrides the default S3 endpoint (for S3-compatible services)
	Endpoint string `yaml:"endpoint"`

	// Credentials (optional - uses default chain if not provided)
	AccessKeyID     string `yaml:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key"`
	SessionToken    string `yaml:"session_token"`

	// UsePathStyle forces path-style addressing (for MinIO, LocalStack)
	UsePathStyle bool `yaml:"use_path_style"`

	Timeout time.Duration `yaml:"timeout"`
}

// DefaultS3Config returns sensible defaults.
func DefaultS3Config(bucket string) S3Config {
	return S3Config{
		Bucket:  bucket,
		Prefix:  "runs/",
		Timeout: 30 * time.Second,
	}
}

// S3Client is the subset of *s3.Client the backend uses.
type S3Client interface {
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	GetObject(ctx context.Context, in *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	DeleteObject(ctx context.Context, in *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
	ListObjectsV2(ctx context.Context, in *s3.ListObjectsV2Input, optFns ...func(*s3.Options)) (*s3.ListObjectsV2Output, error)
}

// S3Backend stores reports as JSON objects.
type S3Backend struct {
	cfg    S3Config
	client S3Client
}

// NewS3Backend loads the AWS configuration and creates a client.
func NewS3Backend(ctx context.Context, cfg S3Config) (*S3Backend, error) {
	var opts []func(*config.LoadOptions) error
	if cfg.Region != "" {
		opts = append(opts, config.WithRegion(cfg.Region))
	}
	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		opts = append(opts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, cfg.SessionToken),
		))
	}

	awsCfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, storeError(err, "s3", "load aws config", "")
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		o.UsePathStyle = cfg.UsePathStyle
	})
	return NewS3BackendWithClient(cfg, client), nil
}

// NewS3BackendWithClient wraps an existing client.
func NewS3BackendWithClient(cfg S3Config, client S3Client) *S3Backend {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	return &S3Backend{cfg: cfg, client: client}
}

func (b *S3Backend) key(id string) string {
	return b.cfg.Prefix + id + ".json"
}

// Save uploads the report.
func (b *S3Backend) Save(ctx context.Context, rep *export.RunReport) error {
	ctx, cancel := context.WithTimeout(ctx, b.cfg.Timeout)
	defer cancel()

	var buf bytes.Buffer
	if err := export.WriteJSON(&buf, rep); err != nil {
		return storeError(err, "s3", "encode", rep.RunID)
	}
	_, err := b.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(b.cfg.Bucket),
		Key:         aws.String(b.key(rep.RunID)),
		Body:        bytes.NewReader(buf.Bytes()),
		ContentType: aws.String("application/json"),
		Metadata:    map[string]string{"source": rep.Source},
	})
	return storeError(err, "s3", "save", rep.RunID)
}

// Load downloads a report.
func (b *S3Backend) Load(ctx context.Context, id string) (*export.RunReport, error) {
	ctx, cancel := context.WithTimeout(ctx, b.cfg.Timeout)
	defer cancel()

	out, err := b.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(b.cfg.Bucket),
		Key:    aws.String(b.key(id)),
	})
	var noSuchKey *types.NoSuchKey
	if errors.As(err, &noSuchKey) {
		return nil, storeError(ErrNotFound, "s3", "load", id)
	}
	if err != nil {
		return nil, storeError(err, "s3", "load", id)
	}
	defer out.Body.Close()

	rep, err := export.ReadJSON(out.Body)
	if err != nil {
		return nil, storeError(err, "s3", "decode", id)
	}
	return rep, nil
}

// List pages through the objects under the prefix. Entries carry the
// object's modification time and size only.
func (b *S3Backend) List(ctx context.Context) ([]Entry, error) {
	ctx, cancel := context.WithTimeout(ctx, b.cfg.Timeout)
	defer cancel()

	var (
		entries []Entry
		token   *string
	)
	for {
		out, err := b.client.ListObjectsV2(ctx, &s3.ListObjectsV2Input{
			Bucket:            aws.String(b.cfg.Bucket),
			Prefix:            aws.String(b.cfg.Prefix),
			ContinuationToken: token,
		})
		if err != nil {
			return nil, storeError(err, "s3", "list", "")
		}
		for _, obj := range out.Contents {
			key := aws.ToString(obj.Key)
			if !strings.HasSuffix(key, ".json") {
				continue
			}
			entries = append(entries, Entry{
				ID:        strings.TrimSuffix(strings.TrimPrefix(key, b.cfg.Prefix), ".json"),
				CreatedAt: aws.ToTime(obj.LastModified),
				Size:      aws.ToInt64(obj.Size),
			})
		}
		if !aws.ToBool(out.IsTruncated) {
			break
		}
		token = out.NextContinuationToken
	}
	sortEntries(entries)
	return entries, nil
}

// Delete removes a report. S3 does not report missing keys on delete.
func (b *S3Backend) Delete(ctx context.Context, id string) error {
	ctx, cancel := context.WithTimeout(ctx, b.cfg.Timeout)
	defer cancel()

	_, err := b.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(b.cfg.Bucket),
		Key:    aws.String(b.key(id)),
	})
	return storeError(err, "s3", "delete", id)
}

// Name returns "s3".
func (b *S3Backend) Name() string {
	return "s3"
}
