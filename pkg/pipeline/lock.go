package pipeline

import (
	"bufio"
	"bytes"
	"context"
	stderrors "errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/mattryanharris/where-is-matt/pkg/errors"
	"github.com/shirou/gopsutil/v4/process"
)

const (
	// DefaultStaleLockAge is how old a lock file may get before another run
	// takes it over.
	DefaultStaleLockAge = 10 * time.Minute

	lockFileName     = "pipeline.lock"
	lockPollInterval = 100 * time.Millisecond
	takeoverGuardAge = 30 * time.Second
)

var errLockHeld = stderrors.New("pipeline lock held by another run")

// fileLock is an O_EXCL lock file shared by every process using the same
// work directory.
type fileLock struct {
	path string
	file *os.File
}

// acquireFileLock waits for the lock in dir until ctx is done. A lock left by
// a dead process, or older than staleAge, is removed and retaken.
func acquireFileLock(ctx context.Context, dir, runID string, staleAge time.Duration) (*fileLock, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, errors.Wrap(err, "create lock directory")
	}
	path := filepath.Join(dir, lockFileName)

	for {
		lock, err := tryLock(path, runID)
		if err == nil {
			return lock, nil
		}
		if !stderrors.Is(err, errLockHeld) {
			return nil, errors.WithKind(errors.KindLock, err, "failed to create lock file")
		}

		if stale, reason, seen := lockIsStale(ctx, path, staleAge); stale {
			slog.Warn("pipeline_lock_stale", "path", path, "reason", reason)
			if takeOverStale(path, seen) {
				continue
			}
		}

		select {
		case <-ctx.Done():
			return nil, errors.WithKind(errors.KindLock, errLockHeld, "timed out waiting for pipeline lock")
		case <-time.After(lockPollInterval):
		}
	}
}

func tryLock(path, runID string) (*fileLock, error) {
	file, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_RDWR, 0600)
	if err != nil {
		if os.IsExist(err) {
			return nil, errLockHeld
		}
		return nil, err
	}

	data := fmt.Sprintf("pid=%d\nrun=%s\ntimestamp=%s\n", os.Getpid(), runID, time.Now().UTC().Format(time.RFC3339))
	if _, err := file.WriteString(data); err != nil {
		file.Close()
		os.Remove(path)
		return nil, errors.Wrap(err, "write lock data")
	}
	if err := file.Sync(); err != nil {
		file.Close()
		os.Remove(path)
		return nil, errors.Wrap(err, "sync lock file")
	}
	return &fileLock{path: path, file: file}, nil
}

// release removes the lock file.
func (l *fileLock) release() error {
	if l == nil {
		return nil
	}
	if l.file != nil {
		l.file.Close()
		l.file = nil
	}
	if err := os.Remove(l.path); err != nil && !os.IsNotExist(err) {
		return errors.Wrap(err, "remove lock file")
	}
	return nil
}

// takeOverStale removes the stale lock at path only if it still holds seen.
// Waiters serialize the check and the removal through a guard file, so a
// lock another waiter has just created is never deleted.
func takeOverStale(path string, seen []byte) bool {
	guard := path + ".takeover"
	g, err := os.OpenFile(guard, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0600)
	if err != nil {
		// A guard left by a crashed waiter.
		if info, serr := os.Stat(guard); serr == nil && time.Since(info.ModTime()) > takeoverGuardAge {
			os.Remove(guard)
		}
		return false
	}
	g.Close()
	defer os.Remove(guard)

	current, err := os.ReadFile(path)
	if err != nil || !bytes.Equal(current, seen) {
		return false
	}
	return os.Remove(path) == nil
}

// lockIsStale also returns the lock contents the decision was based on.
func lockIsStale(ctx context.Context, path string, staleAge time.Duration) (bool, string, []byte) {
	f, err := os.Open(path)
	if err != nil {
		return false, "", nil
	}
	defer f.Close()

	// Age and contents come from the same open file.
	info, err := f.Stat()
	if err != nil {
		return false, "", nil
	}
	seen, err := io.ReadAll(f)
	if err != nil {
		return false, "", nil
	}
	if staleAge > 0 && time.Since(info.ModTime()) > staleAge {
		return true, "expired", seen
	}

	pid, ok := parseOwner(seen)
	if !ok || pid == int32(os.Getpid()) {
		return false, "", nil
	}
	alive, err := process.PidExistsWithContext(ctx, pid)
	if err == nil && !alive {
		return true, "owner_exited", seen
	}
	return false, "", nil
}

func lockOwner(path string) (int32, bool) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, false
	}
	return parseOwner(data)
}

func parseOwner(data []byte) (int32, bool) {
	sc := bufio.NewScanner(bytes.NewReader(data))
	for sc.Scan() {
		if v, ok := strings.CutPrefix(sc.Text(), "pid="); ok {
			pid, err := strconv.ParseInt(v, 10, 32)
			return int32(pid), err == nil && pid > 0
		}
	}
	return 0, false
}
