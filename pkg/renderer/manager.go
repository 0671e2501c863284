// Package renderer keeps a verified copy of the pixlet renderer binary at a
// fixed cache path. A cached binary that still answers "version" is reused;
// otherwise each configured source is tried in order until one yields an
// archive whose extracted binary runs.
package renderer

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/ProtonMail/go-crypto/openpgp" //nolint:staticcheck // Using ProtonMail's maintained fork
	"github.com/mattryanharris/where-is-matt/pkg/archive"
	"github.com/mattryanharris/where-is-matt/pkg/errors"
	"github.com/mattryanharris/where-is-matt/pkg/security"
)

// DefaultEntry is the archive member holding the renderer binary.
const DefaultEntry = "pixlet"

// Options configures a Manager.
type Options struct {
	Cache   *Cache
	Sources []Source
	Fetcher Fetcher
	// WorkDir holds the per-attempt scratch directories.
	WorkDir string
	// Entry is the name fragment of the binary inside the archive.
	Entry  string
	Limits *security.Validator
	// Keyring, when set, requires every source to carry a valid detached
	// signature.
	Keyring openpgp.EntityList
}

// Manager ensures a working renderer binary is cached.
type Manager struct {
	cache   *Cache
	sources []Source
	fetcher Fetcher
	workDir string
	entry   string
	limits  *security.Validator
	keyring openpgp.EntityList

	mu sync.Mutex
}

// NewManager creates a manager.
func NewManager(opts Options) *Manager {
	if opts.Cache == nil {
		opts.Cache = NewCache(DefaultCachePath, 0)
	}
	if opts.Fetcher == nil {
		opts.Fetcher = &SchemeFetcher{HTTP: NewHTTPFetcher(0)}
	}
	if opts.WorkDir == "" {
		opts.WorkDir = os.TempDir()
	}
	if opts.Entry == "" {
		opts.Entry = DefaultEntry
	}
	return &Manager{
		cache:   opts.Cache,
		sources: opts.Sources,
		fetcher: opts.Fetcher,
		workDir: opts.WorkDir,
		entry:   opts.Entry,
		limits:  opts.Limits,
		keyring: opts.Keyring,
	}
}

// Attempt records the outcome of trying one source.
type Attempt struct {
	Source Source
	Err    error
}

// Path returns the cache path, whether or not a binary is there yet.
func (m *Manager) Path() string {
	return m.cache.Path()
}

// Cache returns the cache the manager maintains.
func (m *Manager) Cache() *Cache {
	return m.cache
}

// Verify checks the cached binary without downloading anything.
func (m *Manager) Verify(ctx context.Context) error {
	return m.cache.Verify(ctx)
}

// Ensure returns the path of a verified renderer binary, downloading one if
// the cache is empty or broken. When every source fails the error is
// KindAcquisition and names each source with its failure.
func (m *Manager) Ensure(ctx context.Context) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.cache.Verify(ctx); err == nil {
		slog.Info("renderer_cached", "path", m.cache.Path())
		return m.cache.Path(), nil
	} else if m.cache.Exists() {
		slog.Warn("renderer_cache_invalid", "path", m.cache.Path(), "error", err)
	}

	if err := m.cache.Remove(); err != nil {
		return "", errors.WithKind(errors.KindAcquisition, err, "failed to clear broken renderer")
	}

	if len(m.sources) == 0 {
		return "", errors.New(errors.KindConfiguration, "no renderer sources configured")
	}
	if err := os.MkdirAll(m.workDir, 0755); err != nil {
		return "", errors.Wrap(err, "failed to create work dir")
	}

	attempts := make([]Attempt, 0, len(m.sources))
	for i, src := range m.sources {
		if ctx.Err() != nil {
			attempts = append(attempts, Attempt{Source: src, Err: ctx.Err()})
			break
		}

		slog.Info("renderer_download_attempt", "url", src.URL, "attempt", i+1, "total_sources", len(m.sources))
		start := time.Now()
		a := m.attempt(ctx, src)
		attempts = append(attempts, a)

		if a.Err == nil {
			slog.Info("renderer_installed", "url", src.URL, "path", m.cache.Path(),
				"duration_ms", time.Since(start).Milliseconds())
			return m.cache.Path(), nil
		}
		slog.Warn("renderer_source_failed", "url", src.URL, "kind", errors.KindOf(a.Err), "error", a.Err)
	}

	// Never leave a half-installed binary behind.
	m.cache.Remove()

	slog.Error("renderer_acquisition_failed", "sources_tried", len(attempts))
	return "", &errors.Error{
		Kind:    errors.KindAcquisition,
		Message: fmt.Sprintf("all %d renderer sources failed", len(attempts)),
		Detail:  summarize(attempts),
	}
}

// attempt fetches, checks, extracts and installs from one source inside a
// private scratch directory that is always removed afterwards.
func (m *Manager) attempt(ctx context.Context, src Source) Attempt {
	scratch, err := os.MkdirTemp(m.workDir, "acquire-*")
	if err != nil {
		return Attempt{Source: src, Err: errors.Wrap(err, "create scratch dir")}
	}
	defer os.RemoveAll(scratch)

	archivePath := filepath.Join(scratch, "renderer.tar.gz")
	if err := m.fetcher.Fetch(ctx, src.URL, archivePath); err != nil {
		return Attempt{Source: src, Err: err}
	}

	if m.keyring != nil {
		if src.SignatureURL == "" {
			return Attempt{Source: src, Err: errors.New(errors.KindVerification, "source has no signature but a keyring is configured")}
		}
		sigPath := filepath.Join(scratch, "renderer.tar.gz.sig")
		if err := m.fetcher.Fetch(ctx, src.SignatureURL, sigPath); err != nil {
			return Attempt{Source: src, Err: err}
		}
		if err := verifySignature(m.keyring, archivePath, sigPath); err != nil {
			return Attempt{Source: src, Err: err}
		}
	}

	extracted := filepath.Join(scratch, m.entry)
	if _, err := archive.Extract(archivePath, extracted, archive.TargetMatcher(m.entry), m.limits); err != nil {
		return Attempt{Source: src, Err: err}
	}

	if err := m.cache.Install(ctx, extracted); err != nil {
		return Attempt{Source: src, Err: err}
	}
	return Attempt{Source: src}
}

func summarize(attempts []Attempt) string {
	parts := make([]string, 0, len(attempts))
	for _, a := range attempts {
		parts = append(parts, fmt.Sprintf("%s: [%s] %v", a.Source.URL, errors.KindOf(a.Err), a.Err))
	}
	return strings.Join(parts, "; ")
}
