// Package pipeline runs the prepare, generate and push stages that turn the
// latest status into an image on the device. Stages run strictly in order
// and a run stops at its first failure; overlapping runs are serialized by a
// process-local semaphore plus a lock file in the work directory.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/mattryanharris/where-is-matt/pkg/content"
	"github.com/mattryanharris/where-is-matt/pkg/db"
	"github.com/mattryanharris/where-is-matt/pkg/errors"
	"github.com/mattryanharris/where-is-matt/pkg/pixlet"
	"github.com/mattryanharris/where-is-matt/pkg/storage"
)

// DefaultImagePath is where the rendered image is kept for pushing and serving.
const DefaultImagePath = "/tmp/tidbyt_output.webp"

// ImageContentType is the MIME type of rendered images.
const ImageContentType = "image/webp"

// Binary provides a verified renderer binary.
type Binary interface {
	Ensure(ctx context.Context) (string, error)
	Verify(ctx context.Context) error
	Path() string
}

// StatusSource returns the status to display.
type StatusSource interface {
	Latest(ctx context.Context) (*db.Status, error)
}

// RunRecorder persists run summaries.
type RunRecorder interface {
	RecordRun(ctx context.Context, rec *db.RunRecord) error
}

// Uploader copies the rendered image to object storage.
type Uploader interface {
	Upload(ctx context.Context, localPath string, loc storage.Location, contentType string) error
}

// Credentials identify the device to push to.
type Credentials struct {
	APIToken       string
	DeviceID       string
	InstallationID string
}

// Options configures a Pipeline.
type Options struct {
	Binary    Binary
	Status    StatusSource
	Generator *content.Generator
	Recorder  RunRecorder

	Credentials Credentials
	Timeouts    pixlet.Timeouts

	WorkDir   string
	ImagePath string

	// Mirror, when set with MirrorLocation, receives a copy of every
	// rendered image.
	Mirror         Uploader
	MirrorLocation *storage.Location

	StaleLockAge time.Duration
}

// Pipeline orchestrates the stages.
type Pipeline struct {
	opts Options
	sem  chan struct{}
	now  func() time.Time
}

// New creates a pipeline.
func New(opts Options) *Pipeline {
	if opts.Generator == nil {
		opts.Generator = content.NewGenerator(nil)
	}
	if opts.WorkDir == "" {
		opts.WorkDir = filepath.Join(os.TempDir(), "where-is-matt")
	}
	if opts.ImagePath == "" {
		opts.ImagePath = DefaultImagePath
	}
	if opts.StaleLockAge == 0 {
		opts.StaleLockAge = DefaultStaleLockAge
	}
	return &Pipeline{opts: opts, sem: make(chan struct{}, 1), now: time.Now}
}

// ImagePath returns the path of the rendered image.
func (p *Pipeline) ImagePath() string {
	return p.opts.ImagePath
}

// RunFull runs prepare, generate and push.
func (p *Pipeline) RunFull(ctx context.Context) *Run {
	return p.RunStages(ctx, FullRun...)
}

// Prepare makes sure a verified renderer binary is cached.
func (p *Pipeline) Prepare(ctx context.Context) *Run {
	return p.RunStages(ctx, StagePrepare)
}

// Generate renders the latest status to the image path.
func (p *Pipeline) Generate(ctx context.Context) *Run {
	return p.RunStages(ctx, StageGenerate)
}

// Push sends the current image to the device.
func (p *Pipeline) Push(ctx context.Context) *Run {
	return p.RunStages(ctx, StagePush)
}

// RunStages runs stages in order under the run lock and returns the run,
// which is never nil. The first failing stage ends the run.
func (p *Pipeline) RunStages(ctx context.Context, stages ...Stage) *Run {
	run, release, err := p.Begin(ctx)
	if err != nil {
		return run
	}
	defer release()

	for _, stage := range stages {
		if err := p.Step(ctx, run, stage); err != nil {
			break
		}
	}
	p.Finish(ctx, run)
	return run
}

// Begin acquires the run lock and creates a run with its own scratch
// directory. The returned release function removes the scratch directory and
// drops the lock. On error the run is already finished as failed.
func (p *Pipeline) Begin(ctx context.Context) (*Run, func(), error) {
	run := &Run{ID: uuid.NewString(), Timestamp: p.now().UTC(), State: StateNotStarted}
	slog.Info("pipeline_run_requested", "run_id", run.ID)

	if err := p.acquire(ctx); err != nil {
		run.Fail("", err)
		p.Finish(ctx, run)
		return run, nil, err
	}
	lock, err := acquireFileLock(ctx, p.opts.WorkDir, run.ID, p.opts.StaleLockAge)
	if err != nil {
		p.releaseSem()
		run.Fail("", err)
		p.Finish(ctx, run)
		return run, nil, err
	}

	scratch, err := os.MkdirTemp(p.opts.WorkDir, "run-*")
	if err != nil {
		lock.release()
		p.releaseSem()
		err = errors.WithKind(errors.KindInternal, err, "failed to create run directory")
		run.Fail("", err)
		p.Finish(ctx, run)
		return run, nil, err
	}
	run.scratch = scratch

	release := func() {
		if err := os.RemoveAll(scratch); err != nil {
			slog.Warn("pipeline_scratch_cleanup_failed", "run_id", run.ID, "path", scratch, "error", err)
		}
		if err := lock.release(); err != nil {
			slog.Warn("pipeline_lock_release_failed", "run_id", run.ID, "error", err)
		}
		p.releaseSem()
	}

	slog.Info("pipeline_run_started", "run_id", run.ID, "scratch", scratch)
	return run, release, nil
}

// Step runs one stage and appends its outcome to run. A failed stage marks
// the run failed and its error is returned.
func (p *Pipeline) Step(ctx context.Context, run *Run, stage Stage) error {
	state, ok := activeState[stage]
	if !ok {
		err := errors.Newf(errors.KindConfiguration, "unknown stage %q", stage)
		run.Fail(stage, err)
		return err
	}
	run.State = state
	run.logf(fmt.Sprintf("%s: started", stage))
	slog.Info("pipeline_stage_started", "run_id", run.ID, "stage", stage)

	start := time.Now()
	var message, output string
	var err error
	switch stage {
	case StagePrepare:
		message, err = p.prepare(ctx)
	case StageGenerate:
		message, output, err = p.generate(ctx, run)
	case StagePush:
		message, output, err = p.push(ctx)
	}

	outcome := StepOutcome{Stage: stage, Success: err == nil, Message: message, Output: output, Duration: time.Since(start)}
	if err != nil {
		outcome.Message = err.Error()
		outcome.ErrorKind = errors.KindOf(err)
		if outcome.Output == "" {
			outcome.Output = errors.DetailOf(err)
		}
		run.Steps = append(run.Steps, outcome)
		run.Fail(stage, err)
		slog.Error("pipeline_stage_failed", "run_id", run.ID, "stage", stage, "kind", outcome.ErrorKind,
			"error", err, "duration_ms", outcome.Duration.Milliseconds())
		return err
	}

	run.Steps = append(run.Steps, outcome)
	run.logf(fmt.Sprintf("%s: %s", stage, message))
	slog.Info("pipeline_stage_complete", "run_id", run.ID, "stage", stage, "duration_ms", outcome.Duration.Milliseconds())
	return nil
}

// Finish settles the final state of run and records it.
func (p *Pipeline) Finish(ctx context.Context, run *Run) {
	if run.State != StateFailed {
		run.State = StateSucceeded
		run.Success = true
	}
	finished := p.now().UTC()

	if p.opts.Recorder != nil {
		if err := p.opts.Recorder.RecordRun(context.WithoutCancel(ctx), run.Record(finished)); err != nil {
			slog.Warn("pipeline_run_record_failed", "run_id", run.ID, "error", err)
		}
	}

	if run.Success {
		slog.Info("pipeline_run_succeeded", "run_id", run.ID, "steps", len(run.Steps))
		return
	}
	slog.Error("pipeline_run_failed", "run_id", run.ID, "failed_step", run.FailedStep, "kind", run.ErrorKind, "steps", len(run.Steps))
}

func (p *Pipeline) acquire(ctx context.Context) error {
	select {
	case p.sem <- struct{}{}:
		return nil
	case <-ctx.Done():
		return errors.WithKind(errors.KindLock, ctx.Err(), "timed out waiting for a running pipeline")
	}
}

func (p *Pipeline) releaseSem() {
	<-p.sem
}

func (p *Pipeline) prepare(ctx context.Context) (string, error) {
	path, err := p.opts.Binary.Ensure(ctx)
	if err != nil {
		return "", err
	}
	return "renderer ready at " + path, nil
}

func (p *Pipeline) generate(ctx context.Context, run *Run) (string, string, error) {
	if err := p.opts.Binary.Verify(ctx); err != nil {
		return "", "", errors.WithKind(errors.KindNotFound, err, "renderer not ready, run prepare first")
	}

	status, err := p.opts.Status.Latest(ctx)
	if err != nil {
		return "", "", errors.WithKind(errors.KindInternal, err, "failed to read latest status")
	}

	script := p.opts.Generator.Script(displayStatus(status))
	scriptPath := filepath.Join(run.scratch, "status.star")
	if err := os.WriteFile(scriptPath, []byte(script), 0644); err != nil {
		return "", "", errors.WithKind(errors.KindInternal, err, "failed to write render script")
	}

	if err := os.MkdirAll(filepath.Dir(p.opts.ImagePath), 0755); err != nil {
		return "", "", errors.WithKind(errors.KindInternal, err, "failed to create image directory")
	}
	// Rendered beside the final path so the rename is atomic.
	staged := filepath.Join(filepath.Dir(p.opts.ImagePath), fmt.Sprintf(".%s.%s.tmp", filepath.Base(p.opts.ImagePath), run.ID))
	defer os.Remove(staged)

	tool := pixlet.New(p.opts.Binary.Path(), p.opts.Timeouts)
	res, err := tool.Render(ctx, scriptPath, staged)
	if err != nil {
		return "", res.Output(), err
	}
	fi, err := os.Stat(staged)
	if err != nil {
		return "", res.Output(), errors.WithDetail(errors.KindRender, err, "renderer produced no image", res.Output())
	}
	if fi.Size() == 0 {
		return "", res.Output(), &errors.Error{Kind: errors.KindRender, Message: "renderer produced an empty image", Detail: res.Output()}
	}
	if err := os.Rename(staged, p.opts.ImagePath); err != nil {
		return "", res.Output(), errors.WithKind(errors.KindInternal, err, "failed to publish image")
	}

	message := fmt.Sprintf("rendered %d bytes to %s", fi.Size(), p.opts.ImagePath)
	if p.opts.Mirror != nil && p.opts.MirrorLocation != nil {
		if err := p.opts.Mirror.Upload(ctx, p.opts.ImagePath, *p.opts.MirrorLocation, ImageContentType); err != nil {
			slog.Warn("image_mirror_failed", "run_id", run.ID, "location", p.opts.MirrorLocation.String(), "error", err)
			message += "; mirror upload failed"
		} else {
			message += "; mirrored to " + p.opts.MirrorLocation.String()
		}
	}
	return message, res.Output(), nil
}

func (p *Pipeline) push(ctx context.Context) (string, string, error) {
	creds := p.opts.Credentials
	if creds.APIToken == "" || creds.DeviceID == "" {
		return "", "", errors.New(errors.KindConfiguration, "TIDBYT_API_TOKEN and TIDBYT_DEVICE_ID must be set")
	}
	if err := p.opts.Binary.Verify(ctx); err != nil {
		return "", "", errors.WithKind(errors.KindNotFound, err, "renderer not ready, run prepare first")
	}
	if fi, err := os.Stat(p.opts.ImagePath); err != nil || fi.Size() == 0 {
		return "", "", errors.Newf(errors.KindNotFound, "no rendered image at %s, run generate first", p.opts.ImagePath)
	}

	tool := pixlet.New(p.opts.Binary.Path(), p.opts.Timeouts)
	res, err := tool.Push(ctx, pixlet.PushOptions{
		APIToken:       creds.APIToken,
		DeviceID:       creds.DeviceID,
		ImagePath:      p.opts.ImagePath,
		InstallationID: creds.InstallationID,
	})
	if err != nil {
		return "", res.Output(), err
	}
	return "pushed to device " + creds.DeviceID, res.Output(), nil
}

func displayStatus(s *db.Status) *content.Status {
	if s == nil {
		return nil
	}
	return &content.Status{Message: s.Message, Detail: s.Detail, Color: s.Color, TargetTime: s.TargetTime}
}
