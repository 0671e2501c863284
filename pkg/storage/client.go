// Package storage talks to S3: it fetches renderer archives published to a
// bucket and mirrors the rendered display image.
package storage

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"os"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/mattryanharris/where-is-matt/pkg/errors"
)

// Options configures the S3 client.
type Options struct {
	Region string
	// Endpoint overrides the S3 endpoint (minio, localstack). Path-style
	// addressing is used when set.
	Endpoint string
	// Anonymous skips the default credential chain, for public buckets.
	Anonymous bool
}

// Client provides S3 storage operations
type Client struct {
	s3Client *s3.Client
}

// NewClient creates a new S3 client
func NewClient(ctx context.Context, opts Options) (*Client, error) {
	slog.Info("s3_client_init", "region", opts.Region, "endpoint", opts.Endpoint, "anonymous", opts.Anonymous)

	loadOpts := []func(*config.LoadOptions) error{config.WithRegion(opts.Region)}
	if opts.Anonymous {
		loadOpts = append(loadOpts, config.WithCredentialsProvider(aws.AnonymousCredentials{}))
	}

	cfg, err := config.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		slog.Error("aws_config_load_failed", "error", err)
		return nil, errors.Wrap(err, "failed to load AWS config")
	}

	s3Client := s3.NewFromConfig(cfg, func(o *s3.Options) {
		if opts.Endpoint != "" {
			o.BaseEndpoint = aws.String(opts.Endpoint)
			o.UsePathStyle = true
			// S3-compatible stores reject the default flexible checksums.
			o.RequestChecksumCalculation = aws.RequestChecksumCalculationWhenRequired
			o.ResponseChecksumValidation = aws.ResponseChecksumValidationWhenRequired
		}
	})

	return &Client{s3Client: s3Client}, nil
}

// Location is a bucket/key pair parsed from an s3:// URL.
type Location struct {
	Bucket string
	Key    string
}

func (l Location) String() string {
	return "s3://" + l.Bucket + "/" + l.Key
}

// ParseURL parses "s3://bucket/key".
func ParseURL(raw string) (Location, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return Location{}, errors.Wrap(err, "invalid s3 url")
	}
	if u.Scheme != "s3" {
		return Location{}, fmt.Errorf("not an s3 url: %s", raw)
	}
	key := strings.TrimPrefix(u.Path, "/")
	if u.Host == "" || key == "" {
		return Location{}, fmt.Errorf("s3 url needs a bucket and a key: %s", raw)
	}
	return Location{Bucket: u.Host, Key: key}, nil
}

// DownloadResult contains download metadata
type DownloadResult struct {
	LocalPath string
	SHA256    string
	Size      int64
}

// Download downloads an object from S3 and computes SHA256
func (c *Client) Download(ctx context.Context, loc Location, localPath string) (*DownloadResult, error) {
	slog.Info("s3_download_start", "bucket", loc.Bucket, "s3_key", loc.Key)

	result, err := c.s3Client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(loc.Bucket),
		Key:    aws.String(loc.Key),
	})
	if err != nil {
		slog.Error("s3_get_object_failed", "s3_key", loc.Key, "error", err)
		return nil, errors.WithKind(errors.KindDownload, err, "failed to get object from S3")
	}
	defer result.Body.Close()

	f, err := os.Create(localPath)
	if err != nil {
		slog.Error("local_file_creation_failed", "path", localPath, "error", err)
		return nil, errors.Wrap(err, "failed to create local file")
	}
	defer f.Close()

	hash := sha256.New()
	size, err := io.Copy(io.MultiWriter(f, hash), result.Body)
	if err != nil {
		slog.Error("s3_download_failed", "s3_key", loc.Key, "error", err)
		return nil, errors.WithKind(errors.KindDownload, err, "failed to download object")
	}

	checksum := hex.EncodeToString(hash.Sum(nil))

	slog.Info("s3_download_complete",
		"s3_key", loc.Key,
		"size_bytes", size,
		"local_path", localPath,
		"sha256", checksum[:16]+"...",
	)

	return &DownloadResult{
		LocalPath: localPath,
		SHA256:    checksum,
		Size:      size,
	}, nil
}

// Upload copies a local file to S3 with the given content type.
func (c *Client) Upload(ctx context.Context, localPath string, loc Location, contentType string) error {
	slog.Info("s3_upload_start", "bucket", loc.Bucket, "s3_key", loc.Key, "local_path", localPath)

	f, err := os.Open(localPath)
	if err != nil {
		return errors.Wrap(err, "failed to open upload source")
	}
	defer f.Close()

	fi, err := f.Stat()
	if err != nil {
		return errors.Wrap(err, "failed to stat upload source")
	}

	_, err = c.s3Client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(loc.Bucket),
		Key:           aws.String(loc.Key),
		Body:          f,
		ContentLength: aws.Int64(fi.Size()),
		ContentType:   aws.String(contentType),
	})
	if err != nil {
		slog.Error("s3_put_object_failed", "s3_key", loc.Key, "error", err)
		return errors.Wrap(err, "failed to upload object")
	}

	slog.Info("s3_upload_complete", "s3_key", loc.Key, "size_bytes", fi.Size())
	return nil
}
