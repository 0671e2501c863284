package renderer

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/mattryanharris/where-is-matt/pkg/errors"
	"github.com/mattryanharris/where-is-matt/pkg/pixlet"
)

// DefaultCachePath is where the verified renderer binary lives between runs.
const DefaultCachePath = "/tmp/pixlet_binary"

// Cache owns the lifecycle of the cached renderer binary: check, verify,
// replace and remove. The file at the cache path is either absent or a
// complete executable; replacements are staged next to it and renamed in.
type Cache struct {
	path          string
	verifyTimeout time.Duration
}

// NewCache creates a cache at path.
func NewCache(path string, verifyTimeout time.Duration) *Cache {
	if path == "" {
		path = DefaultCachePath
	}
	return &Cache{path: path, verifyTimeout: verifyTimeout}
}

// Path returns the cache path.
func (c *Cache) Path() string {
	return c.path
}

// Exists reports whether a regular file is present at the cache path.
func (c *Cache) Exists() bool {
	fi, err := os.Stat(c.path)
	return err == nil && fi.Mode().IsRegular()
}

// Verify checks the cached binary exists, is executable and answers
// "version" within the verify timeout.
func (c *Cache) Verify(ctx context.Context) error {
	return c.verifyFile(ctx, c.path)
}

// Tool returns a pixlet tool bound to the cached binary.
func (c *Cache) Tool(timeouts pixlet.Timeouts) *pixlet.Tool {
	return pixlet.New(c.path, timeouts)
}

func (c *Cache) verifyFile(ctx context.Context, path string) error {
	fi, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return errors.Newf(errors.KindNotFound, "renderer binary not found at %s", path)
		}
		return errors.WithKind(errors.KindVerification, err, "stat renderer binary")
	}
	if !fi.Mode().IsRegular() {
		return errors.Newf(errors.KindVerification, "%s is not a regular file", path)
	}
	if fi.Mode().Perm()&0111 == 0 {
		return errors.Newf(errors.KindVerification, "%s is not executable", path)
	}

	version, err := pixlet.New(path, pixlet.Timeouts{Verify: c.verifyTimeout}).Version(ctx)
	if err != nil {
		return err
	}
	slog.Debug("renderer_verified", "path", path, "version", version)
	return nil
}

// Remove deletes the cached binary. A missing file is not an error.
func (c *Cache) Remove() error {
	if err := os.Remove(c.path); err != nil && !os.IsNotExist(err) {
		return errors.Wrap(err, "remove cached renderer")
	}
	return nil
}

// Install copies src into a temporary file beside the cache path, marks it
// executable, verifies it and renames it into place. On any failure the
// temporary file is removed and the cache path is left untouched.
func (c *Cache) Install(ctx context.Context, src string) error {
	dir := filepath.Dir(c.path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return errors.Wrap(err, "create cache dir")
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(c.path)+".tmp-*")
	if err != nil {
		return errors.Wrap(err, "create temp binary")
	}
	tmpPath := tmp.Name()
	installed := false
	defer func() {
		tmp.Close()
		if !installed {
			os.Remove(tmpPath)
		}
	}()

	in, err := os.Open(src)
	if err != nil {
		return errors.Wrap(err, "open extracted binary")
	}
	defer in.Close()

	if _, err := io.Copy(tmp, in); err != nil {
		return errors.Wrap(err, "copy extracted binary")
	}
	if err := tmp.Close(); err != nil {
		return errors.Wrap(err, "close temp binary")
	}
	if err := os.Chmod(tmpPath, 0755); err != nil {
		return errors.Wrap(err, "chmod temp binary")
	}

	if err := c.verifyFile(ctx, tmpPath); err != nil {
		return errors.WithKind(errors.KindVerification, err, "downloaded renderer does not run")
	}

	if err := os.Rename(tmpPath, c.path); err != nil {
		return errors.Wrap(err, "install renderer")
	}
	installed = true
	return nil
}
