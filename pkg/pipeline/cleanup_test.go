package pipeline

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/mattryanharris/where-is-matt/pkg/db"
)

func TestCleanup(t *testing.T) {
	f := newFixture(t, &db.Status{Message: "Home"})
	ctx := context.Background()
	f.bin.Ensure(ctx)

	os.MkdirAll(filepath.Join(f.workDir, "run-stale"), 0755)
	os.MkdirAll(filepath.Join(f.workDir, "acquire-stale"), 0755)
	os.MkdirAll(filepath.Dir(f.image), 0755)
	staged := filepath.Join(filepath.Dir(f.image), ".tidbyt.webp.old-run.tmp")
	os.WriteFile(staged, []byte("partial"), 0644)
	os.WriteFile(f.image, []byte("image"), 0644)

	res, err := f.p.Cleanup(ctx, false)
	if err != nil {
		t.Fatalf("Cleanup failed: %v", err)
	}
	if len(res.Removed) != 3 {
		t.Errorf("removed = %v", res.Removed)
	}
	if _, err := os.Stat(f.image); err != nil {
		t.Error("image removed without includeImage")
	}
	if _, err := os.Stat(f.bin.path); err != nil {
		t.Error("cleanup must never remove the cached binary")
	}

	res, err = f.p.Cleanup(ctx, true)
	if err != nil {
		t.Fatalf("Cleanup failed: %v", err)
	}
	if !res.ImageRemoved {
		t.Error("image not reported removed")
	}
	if _, err := os.Stat(f.image); !os.IsNotExist(err) {
		t.Error("image still present")
	}
	if _, err := os.Stat(f.bin.path); err != nil {
		t.Error("cleanup must never remove the cached binary")
	}
}

func TestInspect(t *testing.T) {
	f := newFixture(t, &db.Status{Message: "Home"})
	ctx := context.Background()

	r := f.p.Inspect(ctx)
	if r.BinaryReady || r.BinaryError == "" || r.ImageExists || !r.HasCredentials {
		t.Errorf("report before run = %+v", r)
	}

	f.p.RunFull(ctx)
	r = f.p.Inspect(ctx)
	if !r.BinaryReady || !r.ImageExists || r.ImageSize == 0 || r.ImageUpdatedAt == nil {
		t.Errorf("report after run = %+v", r)
	}
}
