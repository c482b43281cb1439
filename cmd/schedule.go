package cmd

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	apperrors "panel-backup/internal/errors"
)

var scheduleLabel string

var scheduleCmd = &cobra.Command{
	Use:   "schedule",
	Short: "Show or change the backup interval",
	Long: `The interval is persisted with the host registry and used by the daemon.
A running daemon picks up a change on SIGHUP; the first backup after a change
happens one full interval later.`,
}

var scheduleShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show the persisted interval",
	Args:  cobra.NoArgs,
	RunE:  runScheduleShow,
}

var scheduleSetCmd = &cobra.Command{
	Use:   "set <interval>",
	Short: "Change the backup interval",
	Example: `  panel-backup schedule set 12h
  panel-backup schedule set 2d --label "Every other day"
  panel-backup schedule set 3600`,
	Args: cobra.ExactArgs(1),
	RunE: runScheduleSet,
}

func init() {
	rootCmd.AddCommand(scheduleCmd)
	scheduleCmd.AddCommand(scheduleShowCmd, scheduleSetCmd)
	scheduleSetCmd.Flags().StringVar(&scheduleLabel, "label", "", "label shown instead of the generated one")
}

// parseInterval accepts plain seconds, Go durations and whole days like "2d"
func parseInterval(arg string) (int64, error) {
	arg = strings.TrimSpace(arg)
	if seconds, err := strconv.ParseInt(arg, 10, 64); err == nil {
		return seconds, nil
	}
	if days, ok := strings.CutSuffix(arg, "d"); ok {
		if n, err := strconv.ParseInt(days, 10, 64); err == nil {
			return n * 24 * 60 * 60, nil
		}
	}
	d, err := time.ParseDuration(arg)
	if err != nil {
		return 0, apperrors.NewValidationError(fmt.Sprintf("invalid interval %q; use seconds, a duration like 12h, or days like 2d", arg))
	}
	if d%time.Second != 0 {
		return 0, apperrors.NewValidationError("interval must be a whole number of seconds")
	}
	return int64(d / time.Second), nil
}

func runScheduleShow(cmd *cobra.Command, args []string) error {
	app, out, err := openApp(cmd)
	if err != nil {
		return err
	}
	defer app.Close()

	f, err := format(out)
	if err != nil {
		return err
	}
	return out.PrintSchedule(f, app.Schedules.Load(cmd.Context()), nil)
}

func runScheduleSet(cmd *cobra.Command, args []string) error {
	seconds, err := parseInterval(args[0])
	if err != nil {
		return err
	}

	app, out, err := openApp(cmd)
	if err != nil {
		return err
	}
	defer app.Close()

	setting, err := app.Scheduler.SetInterval(cmd.Context(), seconds, scheduleLabel)
	if err != nil {
		return err
	}
	out.Success(fmt.Sprintf("Schedule set: %s", setting.Label))
	out.Info("Send SIGHUP to a running daemon to apply it now")
	return nil
}
