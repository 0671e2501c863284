package renderer

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/mattryanharris/where-is-matt/pkg/errors"
	"github.com/mattryanharris/where-is-matt/pkg/storage"
)

const (
	// DefaultDownloadTimeout bounds a single archive download.
	DefaultDownloadTimeout = 2 * time.Minute
	// DefaultUserAgent is sent with HTTP downloads.
	DefaultUserAgent = "where-is-matt/1.0"
)

// Fetcher copies the object at url to dest.
type Fetcher interface {
	Fetch(ctx context.Context, url, dest string) error
}

// HTTPFetcher downloads over plain HTTP(S). Any non-2xx status is a
// KindDownload error.
type HTTPFetcher struct {
	client    *http.Client
	userAgent string
}

// NewHTTPFetcher creates an HTTP fetcher with the given timeout.
func NewHTTPFetcher(timeout time.Duration) *HTTPFetcher {
	if timeout <= 0 {
		timeout = DefaultDownloadTimeout
	}
	return &HTTPFetcher{
		client: &http.Client{
			Timeout: timeout,
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				// GitHub release assets redirect to object storage.
				if len(via) >= 10 {
					return fmt.Errorf("too many redirects")
				}
				return nil
			},
		},
		userAgent: DefaultUserAgent,
	}
}

// Fetch downloads url to dest.
func (f *HTTPFetcher) Fetch(ctx context.Context, url, dest string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return errors.WithKind(errors.KindDownload, err, "create request")
	}
	req.Header.Set("User-Agent", f.userAgent)

	resp, err := f.client.Do(req)
	if err != nil {
		return errors.WithKind(errors.KindDownload, err, "execute request")
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return errors.Newf(errors.KindDownload, "unexpected status %d %s", resp.StatusCode, http.StatusText(resp.StatusCode))
	}

	out, err := os.Create(dest)
	if err != nil {
		return errors.Wrap(err, "create download file")
	}
	defer out.Close()

	n, err := io.Copy(out, resp.Body)
	if err != nil {
		return errors.WithKind(errors.KindDownload, err, "read response body")
	}
	if err := out.Close(); err != nil {
		return errors.Wrap(err, "close download file")
	}

	slog.Debug("http_download_complete", "url", url, "size_bytes", n)
	return nil
}

// ObjectDownloader is the part of the S3 client the fetcher needs.
type ObjectDownloader interface {
	Download(ctx context.Context, loc storage.Location, localPath string) (*storage.DownloadResult, error)
}

// S3Fetcher downloads s3://bucket/key sources.
type S3Fetcher struct {
	client ObjectDownloader
}

// NewS3Fetcher wraps an S3 client.
func NewS3Fetcher(client ObjectDownloader) *S3Fetcher {
	return &S3Fetcher{client: client}
}

// Fetch downloads the object named by an s3:// url to dest.
func (f *S3Fetcher) Fetch(ctx context.Context, url, dest string) error {
	loc, err := storage.ParseURL(url)
	if err != nil {
		return errors.WithKind(errors.KindDownload, err, "invalid source")
	}
	if _, err := f.client.Download(ctx, loc, dest); err != nil {
		return errors.WithKind(errors.KindDownload, err, "s3 download")
	}
	return nil
}

// SchemeFetcher routes s3:// URLs to S3 and everything else to HTTP.
type SchemeFetcher struct {
	HTTP Fetcher
	S3   Fetcher
}

// Fetch dispatches on the URL scheme.
func (f *SchemeFetcher) Fetch(ctx context.Context, url, dest string) error {
	if strings.HasPrefix(url, "s3://") {
		if f.S3 == nil {
			return errors.Newf(errors.KindDownload, "no S3 client configured for %s", url)
		}
		return f.S3.Fetch(ctx, url, dest)
	}
	if f.HTTP == nil {
		return errors.Newf(errors.KindDownload, "no HTTP client configured for %s", url)
	}
	return f.HTTP.Fetch(ctx, url, dest)
}
