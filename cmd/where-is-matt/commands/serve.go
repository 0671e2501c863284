package commands

import (
	"log/slog"

	"github.com/mattryanharris/where-is-matt/pkg/server"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var serveAutoUpdate bool

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the HTTP API",
	Long: `Serves the status and pipeline endpoints until interrupted.
GET /api/cron runs the full pipeline and is meant for a scheduler.`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().String("listen", ":8080", "Listen address")
	serveCmd.Flags().BoolVar(&serveAutoUpdate, "auto-update", true, "Run the pipeline after every posted status")
	viper.BindPFlag("listen", serveCmd.Flags().Lookup("listen"))

	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	a, err := newApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	logger := slog.Default()
	srv := server.New(a.repo, a.pipeline, server.Options{
		Logger:     logger,
		AutoUpdate: serveAutoUpdate,
	})

	return server.Run(ctx, logger, server.Config{Addr: cfg.Listen}, srv.Handler(), nil)
}
