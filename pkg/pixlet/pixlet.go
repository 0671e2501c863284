// Package pixlet invokes the pixlet renderer binary: version checks, rendering
// a Starlark script to an image, and pushing an image to a Tidbyt device.
package pixlet

import (
	"bytes"
	"context"
	stderrors "errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/mattryanharris/where-is-matt/pkg/errors"
)

// Default per-call timeouts.
const (
	DefaultVerifyTimeout = 10 * time.Second
	DefaultRenderTimeout = 30 * time.Second
	DefaultPushTimeout   = 30 * time.Second
)

// Timeouts bounds each kind of invocation. Zero values fall back to the defaults.
type Timeouts struct {
	Verify time.Duration
	Render time.Duration
	Push   time.Duration
}

// Tool runs one renderer binary.
type Tool struct {
	bin      string
	timeouts Timeouts
}

// New creates a Tool for the binary at bin.
func New(bin string, timeouts Timeouts) *Tool {
	if timeouts.Verify <= 0 {
		timeouts.Verify = DefaultVerifyTimeout
	}
	if timeouts.Render <= 0 {
		timeouts.Render = DefaultRenderTimeout
	}
	if timeouts.Push <= 0 {
		timeouts.Push = DefaultPushTimeout
	}
	return &Tool{bin: bin, timeouts: timeouts}
}

// Path returns the binary the tool invokes.
func (t *Tool) Path() string {
	return t.bin
}

// Result is the captured output of one invocation.
type Result struct {
	Stdout   string
	Stderr   string
	Duration time.Duration
}

// Output returns stdout and stderr joined, trimmed.
func (r *Result) Output() string {
	if r == nil {
		return ""
	}
	return strings.TrimSpace(strings.TrimSpace(r.Stdout) + "\n" + strings.TrimSpace(r.Stderr))
}

// Version runs "<bin> version". Any failure, including a timeout, is a
// KindVerification error.
func (t *Tool) Version(ctx context.Context) (string, error) {
	res, err := t.run(ctx, t.timeouts.Verify, "version")
	if err != nil {
		return "", errors.WithDetail(errors.KindVerification, err, "renderer version check failed", res.Output())
	}
	return strings.TrimSpace(res.Stdout), nil
}

// Render runs "<bin> render <script> -o <output>".
func (t *Tool) Render(ctx context.Context, scriptPath, outputPath string) (*Result, error) {
	slog.Info("render_started", "script", scriptPath, "output", outputPath)

	res, err := t.run(ctx, t.timeouts.Render, "render", scriptPath, "-o", outputPath)
	if err != nil {
		slog.Error("render_failed", "script", scriptPath, "error", err, "stderr", res.Stderr)
		return res, errors.WithDetail(errors.KindRender, err, "render failed", res.Output())
	}

	slog.Info("render_complete", "output", outputPath, "duration_ms", res.Duration.Milliseconds())
	return res, nil
}

// PushOptions identifies the device and installation to push to.
type PushOptions struct {
	APIToken       string
	DeviceID       string
	ImagePath      string
	InstallationID string
}

// Push runs "<bin> push --api-token T <device> <image> --installation-id I".
// The API token never appears in logs, results or errors.
func (t *Tool) Push(ctx context.Context, opts PushOptions) (*Result, error) {
	slog.Info("push_started", "device_id", opts.DeviceID, "image", opts.ImagePath, "installation_id", opts.InstallationID)

	args := []string{"push", "--api-token", opts.APIToken, opts.DeviceID, opts.ImagePath}
	if opts.InstallationID != "" {
		args = append(args, "--installation-id", opts.InstallationID)
	}

	res, err := t.run(ctx, t.timeouts.Push, args...)
	res.Stdout = redact(res.Stdout, opts.APIToken)
	res.Stderr = redact(res.Stderr, opts.APIToken)
	if err != nil {
		err = fmt.Errorf("%s", redact(err.Error(), opts.APIToken))
		slog.Error("push_failed", "device_id", opts.DeviceID, "error", err, "stderr", res.Stderr)
		return res, errors.WithDetail(errors.KindPush, err, "push failed", res.Output())
	}

	slog.Info("push_complete", "device_id", opts.DeviceID, "duration_ms", res.Duration.Milliseconds())
	return res, nil
}

// run executes the binary with a bounded timeout and a scrubbed environment.
// It always returns a non-nil Result.
func (t *Tool) run(ctx context.Context, timeout time.Duration, args ...string) (*Result, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, t.bin, args...)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	cmd.WaitDelay = time.Second
	cmd.Env = []string{
		"HOME=" + os.Getenv("HOME"),
		"PATH=" + os.Getenv("PATH"),
		"LANG=" + os.Getenv("LANG"),
	}

	start := time.Now()
	err := cmd.Run()
	res := &Result{Stdout: stdout.String(), Stderr: stderr.String(), Duration: time.Since(start)}

	if err != nil {
		return res, translateError(ctx, err, timeout)
	}
	return res, nil
}

func translateError(ctx context.Context, err error, timeout time.Duration) error {
	if stderrors.Is(ctx.Err(), context.DeadlineExceeded) {
		return fmt.Errorf("timed out after %s: %w", timeout, context.DeadlineExceeded)
	}
	if stderrors.Is(ctx.Err(), context.Canceled) {
		return fmt.Errorf("cancelled: %w", context.Canceled)
	}
	return err
}

func redact(s, secret string) string {
	if secret == "" {
		return s
	}
	return strings.ReplaceAll(s, secret, "[REDACTED]")
}
