package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/mattryanharris/where-is-matt/internal/config"
	"github.com/mattryanharris/where-is-matt/pkg/content"
	"github.com/mattryanharris/where-is-matt/pkg/db"
	"github.com/mattryanharris/where-is-matt/pkg/errors"
	"github.com/mattryanharris/where-is-matt/pkg/pipeline"
	"github.com/mattryanharris/where-is-matt/pkg/pixlet"
	"github.com/mattryanharris/where-is-matt/pkg/renderer"
	"github.com/mattryanharris/where-is-matt/pkg/security"
	"github.com/mattryanharris/where-is-matt/pkg/storage"
)

// ensureDirectories creates all necessary directories for the application
func ensureDirectories(sqlitePath, fsmDBPath, workDir string) error {
	if err := os.MkdirAll(filepath.Dir(sqlitePath), 0755); err != nil {
		return errors.Wrap(err, "failed to create database directory")
	}

	// FSM state is only needed for durable runs
	if fsmDBPath != "" {
		if err := os.MkdirAll(fsmDBPath, 0755); err != nil {
			return errors.Wrap(err, "failed to create FSM directory")
		}
	}

	if workDir != "" {
		if err := os.MkdirAll(workDir, 0755); err != nil {
			return errors.Wrap(err, "failed to create work directory")
		}
	}

	return nil
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, errors.Wrap(err, "config load failed")
	}
	if err := cfg.Validate(); err != nil {
		return nil, errors.WithKind(errors.KindConfiguration, err, "config invalid")
	}
	return cfg, nil
}

func openRepository(cfg *config.Config) (*db.Repository, error) {
	if err := ensureDirectories(cfg.SQLitePath, "", ""); err != nil {
		return nil, err
	}
	repo, err := db.NewRepository(cfg.SQLitePath)
	if err != nil {
		return nil, errors.Wrap(err, "db init failed")
	}
	return repo, nil
}

// app is everything a pipeline command needs.
type app struct {
	repo     *db.Repository
	pipeline *pipeline.Pipeline
}

func (a *app) Close() {
	a.repo.Close()
}

// newApp wires config into the store, the renderer manager and the pipeline.
func newApp(ctx context.Context, cfg *config.Config) (*app, error) {
	if err := ensureDirectories(cfg.SQLitePath, "", cfg.WorkDir); err != nil {
		return nil, err
	}

	sources, err := rendererSources(cfg)
	if err != nil {
		return nil, err
	}

	// S3 is only configured when something points at a bucket.
	var s3Client *storage.Client
	if cfg.MirrorURL != "" || hasS3Source(sources) {
		s3Client, err = storage.NewClient(ctx, storage.Options{
			Region:   cfg.S3Region,
			Endpoint: cfg.S3Endpoint,
		})
		if err != nil {
			return nil, errors.Wrap(err, "S3 client failed")
		}
	}

	fetcher := &renderer.SchemeFetcher{HTTP: renderer.NewHTTPFetcher(cfg.DownloadTimeout)}
	if s3Client != nil {
		fetcher.S3 = renderer.NewS3Fetcher(s3Client)
	}

	opts := renderer.Options{
		Cache:   renderer.NewCache(cfg.CachePath, cfg.VerifyTimeout),
		Sources: sources,
		Fetcher: fetcher,
		WorkDir: cfg.WorkDir,
		Entry:   cfg.RendererEntry,
		Limits:  security.NewValidator(cfg.MaxEntrySize, cfg.MaxArchiveSize, cfg.MaxCompressionRatio),
	}
	if cfg.KeyringPath != "" {
		keyring, err := renderer.LoadKeyring(cfg.KeyringPath)
		if err != nil {
			return nil, errors.WithKind(errors.KindConfiguration, err, "keyring load failed")
		}
		opts.Keyring = keyring
	}
	manager := renderer.NewManager(opts)

	repo, err := db.NewRepository(cfg.SQLitePath)
	if err != nil {
		return nil, errors.Wrap(err, "db init failed")
	}

	// icon-dir overrides the bundled icons name by name.
	generator := content.NewGenerator(content.IconChain{content.DirIcons(cfg.IconDir), content.DefaultIcons()})
	generator.Title = cfg.Title
	generator.MessageLimit = cfg.MessageLimit
	generator.DetailLimit = cfg.DetailLimit

	popts := pipeline.Options{
		Binary:    manager,
		Status:    repo,
		Generator: generator,
		Recorder:  repo,
		Credentials: pipeline.Credentials{
			APIToken:       cfg.APIToken,
			DeviceID:       cfg.DeviceID,
			InstallationID: cfg.InstallationID,
		},
		Timeouts: pixlet.Timeouts{
			Verify: cfg.VerifyTimeout,
			Render: cfg.RenderTimeout,
			Push:   cfg.PushTimeout,
		},
		WorkDir:   cfg.WorkDir,
		ImagePath: cfg.ImagePath,
	}
	if cfg.MirrorURL != "" {
		loc, err := storage.ParseURL(cfg.MirrorURL)
		if err != nil {
			repo.Close()
			return nil, errors.WithKind(errors.KindConfiguration, err, "mirror-url invalid")
		}
		popts.Mirror = s3Client
		popts.MirrorLocation = &loc
	}

	return &app{
		repo:     repo,
		pipeline: pipeline.New(popts),
	}, nil
}

// rendererSources prefers explicit sources over the release list.
func rendererSources(cfg *config.Config) ([]renderer.Source, error) {
	if len(cfg.RendererSources) > 0 {
		return renderer.ParseSources(cfg.RendererSources), nil
	}
	sources, err := renderer.ReleaseSources(cfg.RendererVersions, runtime.GOOS, runtime.GOARCH)
	if err != nil {
		return nil, errors.WithKind(errors.KindConfiguration, err, "no renderer release for this platform")
	}
	return sources, nil
}

func hasS3Source(sources []renderer.Source) bool {
	for _, s := range sources {
		if strings.HasPrefix(s.URL, "s3://") || strings.HasPrefix(s.SignatureURL, "s3://") {
			return true
		}
	}
	return false
}

func printJSON(v any) error {
	return printJSONTo(os.Stdout, v)
}

func printJSONTo(w io.Writer, v any) error {
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return errors.Wrap(err, "encode output")
	}
	fmt.Fprintln(w, string(out))
	return nil
}

// reportRun prints the run and turns a failed run into a command error.
func reportRun(run *pipeline.Run) error {
	if err := printJSON(run); err != nil {
		return err
	}
	if run.Success {
		return nil
	}
	if run.FailedStep != "" {
		return fmt.Errorf("%s failed (%s): %s", run.FailedStep, run.ErrorKind, run.Detail)
	}
	return fmt.Errorf("run failed (%s): %s", run.ErrorKind, run.Detail)
}
