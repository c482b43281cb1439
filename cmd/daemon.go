package cmd

import (
	"github.com/spf13/cobra"

	"panel-backup/internal/application"
)

var daemonCmd = &cobra.Command{
	Use:   "daemon",
	Short: "Run scheduled backups in the foreground",
	Long: `Load the persisted interval and back up every host each time it elapses.
Nothing runs at start; the first backup happens one interval later.

Signals:
  SIGHUP           re-read the persisted schedule
  SIGINT, SIGTERM  stop after the backup in progress finishes`,
	Args: cobra.NoArgs,
	RunE: runDaemon,
}

func init() {
	rootCmd.AddCommand(daemonCmd)
}

func runDaemon(cmd *cobra.Command, args []string) error {
	app, out, err := openApp(cmd)
	if err != nil {
		return err
	}
	defer app.Close()

	ctx, signals := application.WatchSignals(cmd.Context(), app.Logger)
	defer signals.Stop()

	out.Info("Daemon running; press Ctrl+C to stop")
	return app.RunDaemon(ctx, signals.Reload)
}
