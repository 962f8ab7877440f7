// Package storage reads source PDFs from and writes outline results to S3
// compatible object storage.
package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awscfg "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/rs/zerolog/log"
)

var ErrInvalidRef = errors.New("invalid s3 reference")

// Options configures the client. Static keys and Endpoint are optional;
// without them the default AWS credential chain is used.
type Options struct {
	Bucket          string
	Region          string
	Endpoint        string
	AccessKeyID     string
	SecretAccessKey string
}

// FileMetadata describes a downloaded object.
type FileMetadata struct {
	Key         string
	Size        int64
	ContentType string
	Format      string
	Metadata    map[string]string
}

type S3Client struct {
	client   *s3.Client
	uploader *manager.Uploader
	bucket   string
}

func NewS3Client(ctx context.Context, opts Options) (*S3Client, error) {
	if opts.Bucket == "" {
		return nil, errors.New("s3 bucket is not configured")
	}

	loadOpts := []func(*awscfg.LoadOptions) error{}
	if opts.Region != "" {
		loadOpts = append(loadOpts, awscfg.WithRegion(opts.Region))
	}
	if opts.AccessKeyID != "" && opts.SecretAccessKey != "" {
		loadOpts = append(loadOpts, awscfg.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(opts.AccessKeyID, opts.SecretAccessKey, ""),
		))
	}
	cfg, err := awscfg.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	client := s3.NewFromConfig(cfg, func(o *s3.Options) {
		if opts.Endpoint != "" {
			o.BaseEndpoint = aws.String(opts.Endpoint)
			o.UsePathStyle = true
		}
	})

	log.Info().Str("bucket", opts.Bucket).Str("endpoint", opts.Endpoint).Msg("S3 client initialized")
	return &S3Client{client: client, uploader: manager.NewUploader(client), bucket: opts.Bucket}, nil
}

func (c *S3Client) Bucket() string { return c.bucket }

// WithBucket returns a client bound to another bucket sharing the same
// connection.
func (c *S3Client) WithBucket(bucket string) *S3Client {
	if bucket == "" || bucket == c.bucket {
		return c
	}
	cp := *c
	cp.bucket = bucket
	return &cp
}

// Ping checks that the bucket is reachable.
func (c *S3Client) Ping(ctx context.Context) error {
	_, err := c.client.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(c.bucket)})
	return err
}

// Download fetches an object and opens its envelope when password is set.
func (c *S3Client) Download(ctx context.Context, key, password string) ([]byte, *FileMetadata, error) {
	out, err := c.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(c.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, nil, fmt.Errorf("failed to get object s3://%s/%s: %w", c.bucket, key, err)
	}
	defer out.Body.Close()

	raw, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read object body: %w", err)
	}

	data, format, err := Open(raw, password)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to decrypt s3://%s/%s: %w", c.bucket, key, err)
	}

	meta := &FileMetadata{
		Key:         key,
		Size:        int64(len(data)),
		ContentType: aws.ToString(out.ContentType),
		Format:      format,
		Metadata:    out.Metadata,
	}
	log.Debug().Str("key", key).Str("format", format).Int("size", len(data)).Msg("downloaded object")
	return data, meta, nil
}

// Upload stores data, sealed with the GCM envelope when password is set.
func (c *S3Client) Upload(ctx context.Context, key string, data []byte, password string, meta map[string]string) error {
	body, err := Seal(data, password)
	if err != nil {
		return fmt.Errorf("failed to encrypt %s: %w", key, err)
	}

	contentType := "application/json"
	if password != "" {
		contentType = "application/octet-stream"
	}
	_, err = c.uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(c.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(body),
		ContentType: aws.String(contentType),
		Metadata:    meta,
	})
	if err != nil {
		return fmt.Errorf("failed to upload s3://%s/%s: %w", c.bucket, key, err)
	}
	log.Info().Str("key", key).Int("size", len(body)).Bool("encrypted", password != "").Msg("uploaded object")
	return nil
}

// ParseRef splits "s3://bucket/key". A bare key, or "s3:///key", leaves
// bucket empty for the default bucket.
func ParseRef(ref string) (bucket, key string, err error) {
	rest := strings.TrimPrefix(ref, "s3://")
	if rest == ref {
		return "", strings.TrimPrefix(ref, "/"), nilIfKey(ref)
	}
	bucket, key, ok := strings.Cut(rest, "/")
	if !ok || key == "" {
		return "", "", fmt.Errorf("%w: %q", ErrInvalidRef, ref)
	}
	return bucket, key, nil
}

func nilIfKey(ref string) error {
	if strings.Trim(ref, "/") == "" {
		return fmt.Errorf("%w: empty key", ErrInvalidRef)
	}
	return nil
}

// OutlineKey is the result key stored next to a source key:
// "docs/report.pdf" becomes "docs/report_outline.json".
func OutlineKey(srcKey string) string {
	dir, file := path.Split(srcKey)
	stem := strings.TrimSuffix(file, path.Ext(file))
	return dir + stem + "_outline.json"
}
