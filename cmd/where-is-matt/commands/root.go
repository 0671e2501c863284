package commands

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/mattryanharris/where-is-matt/internal/config"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var rootCmd = &cobra.Command{
	Use:   "where-is-matt",
	Short: "Where's Matt? - status display for a Tidbyt device",
	Long: `Keeps a short status message, renders it with pixlet and pushes the
image to a Tidbyt. The renderer binary is downloaded and verified on demand.`,
	SilenceUsage:      true,
	PersistentPreRunE: setupLogging,
}

func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		stop()
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().String("sqlite-path", ".artifacts/status.db", "SQLite database path")
	rootCmd.PersistentFlags().String("fsm-db-path", ".artifacts/fsm", "FSM state directory")
	rootCmd.PersistentFlags().String("work-dir", "/tmp/where-is-matt", "Scratch directory for runs and downloads")
	rootCmd.PersistentFlags().String("cache-path", "/tmp/pixlet_binary", "Cached renderer binary")
	rootCmd.PersistentFlags().String("image-path", "/tmp/tidbyt_output.webp", "Rendered image path")
	rootCmd.PersistentFlags().String("icon-dir", "public/icons", "Directory of <name>.png icons")
	rootCmd.PersistentFlags().String("mirror-url", "", "s3:// URL that receives a copy of every rendered image")
	rootCmd.PersistentFlags().String("s3-region", "us-east-1", "S3 region")
	rootCmd.PersistentFlags().String("log-level", "info", "Log level (debug, info, warn, error)")

	for _, name := range []string{
		"sqlite-path", "fsm-db-path", "work-dir", "cache-path", "image-path",
		"icon-dir", "mirror-url", "s3-region", "log-level",
	} {
		viper.BindPFlag(name, rootCmd.PersistentFlags().Lookup(name))
	}
}

func setupLogging(cmd *cobra.Command, args []string) error {
	level, err := config.ParseLevel(viper.GetString("log-level"))
	if err != nil {
		return err
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))
	return nil
}
