package pipeline

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/mattryanharris/where-is-matt/pkg/errors"
	"github.com/mattryanharris/where-is-matt/pkg/pixlet"
)

// CleanupResult lists what Cleanup removed.
type CleanupResult struct {
	Removed         []string `json:"removed"`
	ImageRemoved    bool     `json:"imageRemoved"`
	KilledProcesses int      `json:"killedProcesses"`
}

// Cleanup removes leftover scratch directories and staged images, kills
// renderer processes still running from the cache path and, with
// includeImage, deletes the rendered image. The cached binary is kept.
// It waits for any running pipeline to finish first.
func (p *Pipeline) Cleanup(ctx context.Context, includeImage bool) (*CleanupResult, error) {
	if err := p.acquire(ctx); err != nil {
		return nil, err
	}
	defer p.releaseSem()

	lock, err := acquireFileLock(ctx, p.opts.WorkDir, "cleanup", p.opts.StaleLockAge)
	if err != nil {
		return nil, err
	}
	defer lock.release()

	res := &CleanupResult{}
	for _, pattern := range []string{
		filepath.Join(p.opts.WorkDir, "run-*"),
		filepath.Join(p.opts.WorkDir, "acquire-*"),
		filepath.Join(filepath.Dir(p.opts.ImagePath), "."+filepath.Base(p.opts.ImagePath)+".*.tmp"),
	} {
		matches, err := filepath.Glob(pattern)
		if err != nil {
			return res, errors.Wrap(err, "bad cleanup pattern")
		}
		for _, m := range matches {
			if err := os.RemoveAll(m); err != nil {
				slog.Warn("cleanup_remove_failed", "path", m, "error", err)
				continue
			}
			res.Removed = append(res.Removed, m)
		}
	}

	if includeImage {
		err := os.Remove(p.opts.ImagePath)
		switch {
		case err == nil:
			res.ImageRemoved = true
			res.Removed = append(res.Removed, p.opts.ImagePath)
		case !os.IsNotExist(err):
			return res, errors.Wrap(err, "failed to remove image")
		}
	}

	if p.opts.Binary != nil {
		killed, err := pixlet.Sweep(ctx, p.opts.Binary.Path())
		if err != nil {
			slog.Warn("cleanup_sweep_failed", "error", err)
		}
		res.KilledProcesses = killed
	}

	slog.Info("cleanup_complete", "removed", len(res.Removed), "image_removed", res.ImageRemoved, "killed_processes", res.KilledProcesses)
	return res, nil
}

// Report describes the pipeline's artifacts.
type Report struct {
	BinaryPath     string     `json:"binaryPath"`
	BinaryReady    bool       `json:"binaryReady"`
	BinaryError    string     `json:"binaryError,omitempty"`
	ImagePath      string     `json:"imagePath"`
	ImageExists    bool       `json:"imageExists"`
	ImageSize      int64      `json:"imageSize,omitempty"`
	ImageUpdatedAt *time.Time `json:"imageUpdatedAt,omitempty"`
	HasCredentials bool       `json:"hasCredentials"`
	MirrorURL      string     `json:"mirrorUrl,omitempty"`
}

// Inspect reports the renderer and image state without changing anything.
func (p *Pipeline) Inspect(ctx context.Context) *Report {
	r := &Report{
		ImagePath:      p.opts.ImagePath,
		HasCredentials: p.opts.Credentials.APIToken != "" && p.opts.Credentials.DeviceID != "",
	}
	if p.opts.MirrorLocation != nil {
		r.MirrorURL = p.opts.MirrorLocation.String()
	}

	if p.opts.Binary != nil {
		r.BinaryPath = p.opts.Binary.Path()
		if err := p.opts.Binary.Verify(ctx); err != nil {
			r.BinaryError = strings.TrimSpace(err.Error())
		} else {
			r.BinaryReady = true
		}
	}

	if fi, err := os.Stat(p.opts.ImagePath); err == nil && fi.Mode().IsRegular() {
		mod := fi.ModTime().UTC()
		r.ImageExists = true
		r.ImageSize = fi.Size()
		r.ImageUpdatedAt = &mod
	}
	return r
}
