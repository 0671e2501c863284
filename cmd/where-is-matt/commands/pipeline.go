package commands

import (
	"context"
	"log/slog"
	"time"

	"github.com/mattryanharris/where-is-matt/internal/config"
	"github.com/mattryanharris/where-is-matt/pkg/errors"
	appfsm "github.com/mattryanharris/where-is-matt/pkg/fsm"
	"github.com/mattryanharris/where-is-matt/pkg/pipeline"
	"github.com/spf13/cobra"
	"github.com/superfly/fsm"
)

var (
	runDurable   bool
	cleanupImage bool
)

var prepareCmd = &cobra.Command{
	Use:   "prepare",
	Short: "Download and verify the renderer binary",
	RunE:  stageRunner(pipeline.StagePrepare),
}

var generateCmd = &cobra.Command{
	Use:   "generate",
	Short: "Render the latest status to an image",
	RunE:  stageRunner(pipeline.StageGenerate),
}

var pushCmd = &cobra.Command{
	Use:   "push",
	Short: "Push the rendered image to the device",
	RunE:  stageRunner(pipeline.StagePush),
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Prepare, generate and push in one run",
	Long: `Runs every stage in order and stops at the first failure.
With --durable the run is driven by the FSM so its transitions are persisted.`,
	RunE: runFull,
}

var cleanupCmd = &cobra.Command{
	Use:   "cleanup",
	Short: "Remove run leftovers and stray renderer processes",
	Long: `Removes scratch directories, staged images and renderer processes left
by interrupted runs. The cached renderer binary is kept.
  --image   also remove the rendered image`,
	RunE: runCleanup,
}

func init() {
	runCmd.Flags().BoolVar(&runDurable, "durable", false, "Drive the run through the FSM")
	cleanupCmd.Flags().BoolVar(&cleanupImage, "image", false, "Also remove the rendered image")

	rootCmd.AddCommand(prepareCmd, generateCmd, pushCmd, runCmd, cleanupCmd)
}

func stageRunner(stage pipeline.Stage) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
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

		return reportRun(a.pipeline.RunStages(ctx, stage))
	}
}

func runFull(cmd *cobra.Command, args []string) error {
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

	if !runDurable {
		return reportRun(a.pipeline.RunFull(ctx))
	}

	run, err := runDurably(ctx, cfg, a)
	if err != nil {
		return err
	}
	return reportRun(run)
}

func runDurably(ctx context.Context, cfg *config.Config, a *app) (*pipeline.Run, error) {
	if err := ensureDirectories(cfg.SQLitePath, cfg.FSMDBPath, ""); err != nil {
		return nil, err
	}

	manager, err := fsm.New(fsm.Config{DBPath: cfg.FSMDBPath})
	if err != nil {
		return nil, errors.Wrap(err, "FSM manager failed")
	}
	defer manager.Shutdown(10 * time.Second)

	machine := appfsm.NewMachine(a.pipeline)
	start, _, err := machine.Register(ctx, manager)
	if err != nil {
		return nil, errors.Wrap(err, "FSM register failed")
	}

	run := machine.Execute(ctx, manager, start)
	slog.Info("durable_run_finished", "run_id", run.ID, "state", run.State)
	return run, nil
}

func runCleanup(cmd *cobra.Command, args []string) error {
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

	res, err := a.pipeline.Cleanup(ctx, cleanupImage)
	if err != nil {
		return errors.Wrap(err, "cleanup failed")
	}
	return printJSON(res)
}
