package commands

import (
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/mattryanharris/where-is-matt/pkg/db"
	"github.com/mattryanharris/where-is-matt/pkg/duration"
	"github.com/mattryanharris/where-is-matt/pkg/errors"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

var (
	statusDetail string
	statusColor  string
	outputFormat string
	listLimit    int
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Read and write the displayed status",
}

var statusSetCmd = &cobra.Command{
	Use:   "set <message>",
	Short: "Set a plain status message",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runStatusSet,
}

var statusCountdownCmd = &cobra.Command{
	Use:   "countdown <message>",
	Short: "Set a countdown status, e.g. \"Train (1 hour, 39 minutes)\"",
	Long: `Parses a duration out of the message and counts down to now plus that
duration. A message without a duration is stored as a plain status.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runStatusCountdown,
}

var statusLatestCmd = &cobra.Command{
	Use:   "latest",
	Short: "Show the current status",
	RunE:  runStatusLatest,
}

var statusHistoryCmd = &cobra.Command{
	Use:   "history",
	Short: "List recent statuses, newest first",
	RunE:  runStatusHistory,
}

var runsCmd = &cobra.Command{
	Use:   "runs",
	Short: "List recent pipeline runs",
	RunE:  runRuns,
}

var parseDurationCmd = &cobra.Command{
	Use:   "parse-duration <text>",
	Short: "Show the duration found in free text",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runParseDuration,
}

func init() {
	statusSetCmd.Flags().StringVar(&statusDetail, "detail", "", "Second line shown under the message")
	for _, c := range []*cobra.Command{statusSetCmd, statusCountdownCmd} {
		c.Flags().StringVar(&statusColor, "color", "", "Accent color code")
	}
	for _, c := range []*cobra.Command{statusLatestCmd, statusHistoryCmd, runsCmd} {
		c.Flags().StringVar(&outputFormat, "format", "table", "Output format (table, json, yaml)")
	}
	for _, c := range []*cobra.Command{statusHistoryCmd, runsCmd} {
		c.Flags().IntVar(&listLimit, "limit", 10, "Number of entries to show")
	}

	statusCmd.AddCommand(statusSetCmd, statusCountdownCmd, statusLatestCmd, statusHistoryCmd)
	rootCmd.AddCommand(statusCmd, runsCmd, parseDurationCmd)
}

func runStatusSet(cmd *cobra.Command, args []string) error {
	repo, err := repositoryFromConfig()
	if err != nil {
		return err
	}
	defer repo.Close()

	st, err := repo.SetMessage(cmd.Context(), strings.Join(args, " "), statusDetail, statusColor)
	if err != nil {
		return errors.Wrap(err, "set status failed")
	}
	return writeStatuses(os.Stdout, "table", []*db.Status{st})
}

func runStatusCountdown(cmd *cobra.Command, args []string) error {
	repo, err := repositoryFromConfig()
	if err != nil {
		return err
	}
	defer repo.Close()

	st, err := repo.SetCountdown(cmd.Context(), strings.Join(args, " "), statusColor)
	if err != nil {
		return errors.Wrap(err, "set countdown failed")
	}
	return writeStatuses(os.Stdout, "table", []*db.Status{st})
}

func runStatusLatest(cmd *cobra.Command, args []string) error {
	repo, err := repositoryFromConfig()
	if err != nil {
		return err
	}
	defer repo.Close()

	st, err := repo.Latest(cmd.Context())
	if err != nil {
		return errors.Wrap(err, "latest failed")
	}
	if st == nil {
		fmt.Println("No status set")
		return nil
	}
	return writeStatuses(os.Stdout, outputFormat, []*db.Status{st})
}

func runStatusHistory(cmd *cobra.Command, args []string) error {
	repo, err := repositoryFromConfig()
	if err != nil {
		return err
	}
	defer repo.Close()

	history, err := repo.History(cmd.Context(), listLimit)
	if err != nil {
		return errors.Wrap(err, "history failed")
	}
	if len(history) == 0 && outputFormat == "table" {
		fmt.Println("No statuses found")
		return nil
	}
	return writeStatuses(os.Stdout, outputFormat, history)
}

func runRuns(cmd *cobra.Command, args []string) error {
	repo, err := repositoryFromConfig()
	if err != nil {
		return err
	}
	defer repo.Close()

	runs, err := repo.Runs(cmd.Context(), listLimit)
	if err != nil {
		return errors.Wrap(err, "runs failed")
	}
	if len(runs) == 0 && outputFormat == "table" {
		fmt.Println("No runs recorded")
		return nil
	}
	return writeRuns(os.Stdout, outputFormat, runs)
}

func runParseDuration(cmd *cobra.Command, args []string) error {
	text := strings.Join(args, " ")
	d, ok := duration.Parse(text)
	if !ok {
		return errors.Newf(errors.KindNotFound, "no duration found in %q", text)
	}
	return printJSON(map[string]any{
		"duration": d,
		"compact":  d.String(),
		"stripped": duration.Strip(text),
		"target":   duration.TargetTime(time.Now(), d).Format(time.RFC3339),
	})
}

func repositoryFromConfig() (*db.Repository, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	return openRepository(cfg)
}

func writeStatuses(w io.Writer, format string, statuses []*db.Status) error {
	switch format {
	case "json", "yaml":
		return writeEncoded(w, format, statuses)
	case "table":
		now := time.Now()
		t := newTable("ID", "MESSAGE", "DETAIL", "COLOR", "REMAINING", "CREATED")
		for _, st := range statuses {
			remaining := "-"
			if st.TargetTime != nil {
				remaining = duration.FormatRemaining(*st.TargetTime, now)
			}
			t.Row(strconv.FormatInt(st.ID, 10), st.Message, dash(st.Detail), dash(st.Color),
				remaining, st.CreatedAt.Local().Format(time.DateTime))
		}
		fmt.Fprintln(w, t)
		return nil
	}
	return errors.Newf(errors.KindConfiguration, "unknown format %q", format)
}

func writeRuns(w io.Writer, format string, runs []*db.RunRecord) error {
	switch format {
	case "json", "yaml":
		return writeEncoded(w, format, runs)
	case "table":
		t := newTable("ID", "STATE", "STEPS", "FAILED STEP", "ERROR", "DURATION", "STARTED")
		for _, r := range runs {
			t.Row(r.ID, r.State, strconv.Itoa(r.Steps), dash(r.FailedStep), dash(r.ErrorKind),
				(time.Duration(r.DurationMS) * time.Millisecond).String(),
				r.StartedAt.Local().Format(time.DateTime))
		}
		fmt.Fprintln(w, t)
		return nil
	}
	return errors.Newf(errors.KindConfiguration, "unknown format %q", format)
}

func writeEncoded(w io.Writer, format string, v any) error {
	if format == "yaml" {
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		defer enc.Close()
		return enc.Encode(v)
	}
	return printJSONTo(w, v)
}

var headerStyle = lipgloss.NewStyle().Bold(true).Padding(0, 1)
var cellStyle = lipgloss.NewStyle().Padding(0, 1)

func newTable(headers ...string) *table.Table {
	return table.New().
		Border(lipgloss.NormalBorder()).
		Headers(headers...).
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == table.HeaderRow {
				return headerStyle
			}
			return cellStyle
		})
}

func dash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
