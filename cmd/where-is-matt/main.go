package main

import (
	"log/slog"
	"os"

	"github.com/mattryanharris/where-is-matt/cmd/where-is-matt/commands"
)

func main() {
	// Logs go to stderr so command output on stdout stays machine-readable.
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	commands.Execute()
}
