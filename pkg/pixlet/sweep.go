package pixlet

import (
	"context"
	"log/slog"
	"os"
	"strings"

	"github.com/shirou/gopsutil/v4/process"
)

// Sweep kills every process whose command line contains match, other than
// the current process. It returns the number of processes killed. Processes
// that exit or deny access mid-sweep are skipped.
func Sweep(ctx context.Context, match string) (int, error) {
	if match == "" {
		return 0, nil
	}

	procs, err := process.ProcessesWithContext(ctx)
	if err != nil {
		return 0, err
	}

	self := int32(os.Getpid())
	killed := 0
	for _, p := range procs {
		if p.Pid == self {
			continue
		}
		cmdline, err := p.CmdlineWithContext(ctx)
		if err != nil || !matches(cmdline, match) {
			continue
		}
		if err := p.KillWithContext(ctx); err != nil {
			slog.Warn("renderer_process_kill_failed", "pid", p.Pid, "error", err)
			continue
		}
		slog.Info("renderer_process_killed", "pid", p.Pid, "cmdline", cmdline)
		killed++
	}
	return killed, nil
}

func matches(cmdline, match string) bool {
	return cmdline != "" && strings.Contains(cmdline, match)
}
