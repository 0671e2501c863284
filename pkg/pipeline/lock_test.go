package pipeline

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/mattryanharris/where-is-matt/pkg/errors"
)

func TestFileLock_Exclusive(t *testing.T) {
	dir := t.TempDir()

	lock, err := acquireFileLock(context.Background(), dir, "first", time.Hour)
	if err != nil {
		t.Fatalf("acquire failed: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 150*time.Millisecond)
	defer cancel()
	if _, err := acquireFileLock(ctx, dir, "second", time.Hour); errors.KindOf(err) != errors.KindLock {
		t.Errorf("second acquire: kind = %s, err = %v", errors.KindOf(err), err)
	}

	if err := lock.release(); err != nil {
		t.Fatalf("release failed: %v", err)
	}
	again, err := acquireFileLock(context.Background(), dir, "third", time.Hour)
	if err != nil {
		t.Fatalf("acquire after release failed: %v", err)
	}
	again.release()
}

func TestFileLock_ExpiredLockIsTaken(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, lockFileName)
	os.WriteFile(path, []byte(fmt.Sprintf("pid=%d\n", os.Getpid())), 0600)
	old := time.Now().Add(-time.Hour)
	os.Chtimes(path, old, old)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	lock, err := acquireFileLock(ctx, dir, "run", 10*time.Minute)
	if err != nil {
		t.Fatalf("expired lock was not taken over: %v", err)
	}
	lock.release()
}

func TestFileLock_DeadOwnerIsTaken(t *testing.T) {
	dir := t.TempDir()
	// Above any pid_max, so no such process.
	os.WriteFile(filepath.Join(dir, lockFileName), []byte("pid=2147483646\nrun=ghost\n"), 0600)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	lock, err := acquireFileLock(ctx, dir, "run", time.Hour)
	if err != nil {
		t.Fatalf("lock of dead owner was not taken over: %v", err)
	}
	lock.release()
}

func TestTakeOverStale_KeepsReplacedLock(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, lockFileName)
	stale := []byte("pid=2147483646\nrun=ghost\n")
	fresh := []byte(fmt.Sprintf("pid=%d\nrun=winner\n", os.Getpid()))

	// Another waiter already replaced the stale lock.
	os.WriteFile(path, fresh, 0600)
	if takeOverStale(path, stale) {
		t.Fatal("took over a lock that changed since it was judged stale")
	}
	if got, _ := os.ReadFile(path); string(got) != string(fresh) {
		t.Errorf("lock contents = %q, want the fresh lock", got)
	}

	os.WriteFile(path, stale, 0600)
	if !takeOverStale(path, stale) {
		t.Fatal("unchanged stale lock was not taken over")
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Errorf("stale lock still present: %v", err)
	}
	if _, err := os.Stat(path + ".takeover"); !os.IsNotExist(err) {
		t.Errorf("takeover guard left behind: %v", err)
	}
}

func TestTakeOverStale_GuardHeld(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, lockFileName)
	stale := []byte("pid=2147483646\n")
	os.WriteFile(path, stale, 0600)
	os.WriteFile(path+".takeover", nil, 0600)

	if takeOverStale(path, stale) {
		t.Error("took over while another waiter holds the guard")
	}
	if _, err := os.Stat(path); err != nil {
		t.Errorf("lock removed while guard held: %v", err)
	}
}

func TestFileLock_ConcurrentStaleTakeover(t *testing.T) {
	dir := t.TempDir()
	os.WriteFile(filepath.Join(dir, lockFileName), []byte("pid=2147483646\nrun=ghost\n"), 0600)

	const waiters = 8
	results := make(chan *fileLock, waiters)
	for i := 0; i < waiters; i++ {
		go func(i int) {
			ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
			defer cancel()
			lock, err := acquireFileLock(ctx, dir, fmt.Sprintf("run-%d", i), time.Hour)
			if err != nil {
				lock = nil
			}
			results <- lock
		}(i)
	}

	var held []*fileLock
	for i := 0; i < waiters; i++ {
		if lock := <-results; lock != nil {
			held = append(held, lock)
		}
	}
	for _, l := range held {
		l.release()
	}
	if len(held) != 1 {
		t.Errorf("%d waiters hold the lock, want exactly 1", len(held))
	}
}

func TestLockOwner(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "lock")

	os.WriteFile(path, []byte("pid=4242\nrun=abc\n"), 0600)
	if pid, ok := lockOwner(path); !ok || pid != 4242 {
		t.Errorf("lockOwner = %d, %v", pid, ok)
	}

	os.WriteFile(path, []byte("garbage"), 0600)
	if _, ok := lockOwner(path); ok {
		t.Error("garbage lock should have no owner")
	}
}
