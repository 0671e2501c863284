package fsm

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/mattryanharris/where-is-matt/pkg/db"
	"github.com/mattryanharris/where-is-matt/pkg/errors"
	"github.com/mattryanharris/where-is-matt/pkg/pipeline"
	"github.com/superfly/fsm"
)

const fakeRenderer = `#!/bin/sh
case "$1" in
version) echo "pixlet version v0.34.0" ;;
render)
	if grep -q BROKEN "$2"; then echo "render exploded" >&2; exit 1; fi
	cp "$2" "$4"
	;;
push) echo "ok" ;;
esac
`

type cachedBinary string

func (b cachedBinary) Ensure(ctx context.Context) (string, error) { return string(b), nil }
func (b cachedBinary) Path() string                               { return string(b) }
func (b cachedBinary) Verify(ctx context.Context) error {
	if _, err := os.Stat(string(b)); err != nil {
		return errors.New(errors.KindNotFound, "missing")
	}
	return nil
}

type fixedStatus string

func (s fixedStatus) Latest(ctx context.Context) (*db.Status, error) {
	return &db.Status{Message: string(s)}, nil
}

func newMachine(t *testing.T, message string) (*Machine, *fsm.Manager, fsm.Start[RunRequest, RunResponse]) {
	t.Helper()
	dir := t.TempDir()
	bin := filepath.Join(dir, "pixlet_binary")
	if err := os.WriteFile(bin, []byte(fakeRenderer), 0755); err != nil {
		t.Fatal(err)
	}

	p := pipeline.New(pipeline.Options{
		Binary:      cachedBinary(bin),
		Status:      fixedStatus(message),
		Credentials: pipeline.Credentials{APIToken: "token", DeviceID: "device"},
		WorkDir:     filepath.Join(dir, "work"),
		ImagePath:   filepath.Join(dir, "image.webp"),
	})

	fsmDir := filepath.Join(dir, "fsm")
	os.MkdirAll(fsmDir, 0755)
	manager, err := fsm.New(fsm.Config{DBPath: fsmDir})
	if err != nil {
		t.Fatalf("FSM manager failed: %v", err)
	}
	t.Cleanup(func() { manager.Shutdown(5 * time.Second) })

	m := NewMachine(p)
	start, _, err := m.Register(context.Background(), manager)
	if err != nil {
		t.Fatalf("Register failed: %v", err)
	}
	return m, manager, start
}

func TestExecute_Succeeds(t *testing.T) {
	m, manager, start := newMachine(t, "Home")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	run := m.Execute(ctx, manager, start)
	if !run.Success {
		t.Fatalf("run failed: %+v", run)
	}
	if len(run.Steps) != 3 {
		t.Errorf("got %d steps, want 3", len(run.Steps))
	}
	if m.lookup(run.ID) != nil {
		t.Error("finished run still tracked")
	}
}

func TestExecute_AbortsOnFailure(t *testing.T) {
	m, manager, start := newMachine(t, "BROKEN")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	run := m.Execute(ctx, manager, start)
	if run.Success {
		t.Fatal("expected failure")
	}
	if run.FailedStep != pipeline.StageGenerate || run.ErrorKind != errors.KindRender {
		t.Errorf("failed step = %s, kind = %s", run.FailedStep, run.ErrorKind)
	}
	if len(run.Steps) != 2 {
		t.Errorf("got %d steps, want 2", len(run.Steps))
	}
}

func TestMachine_Tracking(t *testing.T) {
	m := NewMachine(nil)
	run := &pipeline.Run{ID: "abc"}

	m.track(run)
	if m.lookup("abc") != run {
		t.Error("tracked run not found")
	}
	m.untrack("abc")
	if m.lookup("abc") != nil {
		t.Error("untracked run still found")
	}
}
