package cmd

import (
	"github.com/spf13/cobra"

	"panel-backup/internal/display"
)

var statusNotify bool

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show which panels are online",
	Long: `Log in to every registered panel at the same time and report whether it is
online, with CPU, memory and uptime when the panel exposes them. One slow or
failing panel never delays the report of another beyond its own timeout.`,
	Args: cobra.NoArgs,
	RunE: runStatus,
}

func init() {
	rootCmd.AddCommand(statusCmd)
	statusCmd.Flags().BoolVar(&statusNotify, "notify", false, "also send the report to the notification channels")
}

func runStatus(cmd *cobra.Command, args []string) error {
	app, out, err := openApp(cmd)
	if err != nil {
		return err
	}
	defer app.Close()

	f, err := format(out)
	if err != nil {
		return err
	}

	reports, err := app.Status(cmd.Context(), statusNotify)
	if err != nil {
		return err
	}
	if len(reports) == 0 && f == display.FormatTable {
		out.Info("No hosts registered yet; add one with panel-backup host add")
		return nil
	}
	return out.PrintStatus(f, reports)
}
