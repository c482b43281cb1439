package cmd

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"panel-backup/internal/archive"
	"panel-backup/internal/backup"
	"panel-backup/internal/display"
)

var (
	backupHosts   []string
	backupKeepDir string
	listHost      string
	pruneDryRun   bool
)

// backupCmd represents the backup command
var backupCmd = &cobra.Command{
	Use:   "backup",
	Short: "Back up panels and manage the archive",
	Long: `Download verified copies of every panel database and manage archived copies.

Hosts are backed up one after another. A failing host never stops the others;
each outcome is printed and, when configured, announced through notifications.

Examples:
  # Back up every host
  panel-backup backup run

  # Back up hosts 1 and 3 and keep the files
  panel-backup backup run --host 1 --host 3 --keep ./backups

  # Show archived backups of one host
  panel-backup backup list --host Frankfurt

  # Restore an archived backup
  panel-backup backup restore Frankfurt/Frankfurt_20261003T040506.000Z.db.zst.enc ./x-ui.db`,
}

var backupRunCmd = &cobra.Command{
	Use:   "run",
	Short: "Back up every host now",
	Args:  cobra.NoArgs,
	RunE:  runBackupRun,
}

var backupListCmd = &cobra.Command{
	Use:     "list",
	Aliases: []string{"ls"},
	Short:   "List archived backups",
	Args:    cobra.NoArgs,
	RunE:    runBackupList,
}

var backupPruneCmd = &cobra.Command{
	Use:   "prune",
	Short: "Delete archived backups outside the retention policy",
	Args:  cobra.NoArgs,
	RunE:  runBackupPrune,
}

var backupRestoreCmd = &cobra.Command{
	Use:   "restore <key> <destination>",
	Short: "Decrypt and decompress an archived backup",
	Args:  cobra.ExactArgs(2),
	RunE:  runBackupRestore,
}

func init() {
	rootCmd.AddCommand(backupCmd)
	backupCmd.AddCommand(backupRunCmd, backupListCmd, backupPruneCmd, backupRestoreCmd)

	backupRunCmd.Flags().StringSliceVar(&backupHosts, "host", nil, "back up only these host indexes (repeatable)")
	backupRunCmd.Flags().StringVar(&backupKeepDir, "keep", "", "copy each downloaded database into this directory")

	backupListCmd.Flags().StringVar(&listHost, "host", "", "only list backups of this host name")

	backupPruneCmd.Flags().BoolVar(&pruneDryRun, "dry-run", false, "show what would be deleted")
}

func runBackupRun(cmd *cobra.Command, args []string) error {
	app, out, err := openApp(cmd)
	if err != nil {
		return err
	}
	defer app.Close()

	f, err := format(out)
	if err != nil {
		return err
	}

	opts := backup.RunOptions{Trigger: backup.TriggerManual, KeepDir: backupKeepDir}
	for _, arg := range backupHosts {
		index, err := parseIndex(arg)
		if err != nil {
			return err
		}
		opts.Only = append(opts.Only, index)
	}

	out.Info("Backing up...")
	report, err := app.Fleet.Run(cmd.Context(), opts)
	if err != nil {
		return err
	}
	if err := out.PrintRunReport(f, report); err != nil {
		return err
	}
	if report.Failed() > 0 {
		return fmt.Errorf("%d of %d hosts failed", report.Failed(), len(report.Outcomes))
	}
	return nil
}

func runBackupList(cmd *cobra.Command, args []string) error {
	app, out, err := openApp(cmd)
	if err != nil {
		return err
	}
	defer app.Close()

	archiver, err := app.RequireArchive()
	if err != nil {
		return err
	}
	f, err := format(out)
	if err != nil {
		return err
	}

	entries, err := archiver.List(cmd.Context(), listHost)
	if err != nil {
		return err
	}
	return out.PrintArchive(f, entries)
}

func runBackupPrune(cmd *cobra.Command, args []string) error {
	app, out, err := openApp(cmd)
	if err != nil {
		return err
	}
	defer app.Close()

	archiver, err := app.RequireArchive()
	if err != nil {
		return err
	}
	policy := app.Config.Archive.Retention
	if !policy.Enabled() {
		out.Warning("No retention rule is configured; set archive.retention.keep_last or max_age")
		return nil
	}

	if pruneDryRun {
		entries, err := archiver.List(cmd.Context(), "")
		if err != nil {
			return err
		}
		return printPruned(out, policy.Expired(entries, time.Now()), "Would delete")
	}

	removed, err := archiver.Prune(cmd.Context())
	if err != nil {
		return err
	}
	return printPruned(out, removed, "Deleted")
}

func printPruned(out *display.Service, entries []archive.Entry, verb string) error {
	if len(entries) == 0 {
		out.Success("Nothing to prune")
		return nil
	}
	keys := make([]string, len(entries))
	for i, e := range entries {
		keys[i] = e.Key
	}
	out.Info(strings.Join(keys, "\n"))
	out.Success(fmt.Sprintf("%s %d archived backups", verb, len(entries)))
	return nil
}

func runBackupRestore(cmd *cobra.Command, args []string) error {
	app, out, err := openApp(cmd)
	if err != nil {
		return err
	}
	defer app.Close()

	archiver, err := app.RequireArchive()
	if err != nil {
		return err
	}

	entry, err := archiver.Restore(cmd.Context(), args[0], args[1])
	if err != nil {
		return err
	}
	out.Success(fmt.Sprintf("Restored %s backup from %s to %s", entry.Host, entry.CreatedAt.Local().Format("2006-01-02 15:04"), args[1]))
	return nil
}
